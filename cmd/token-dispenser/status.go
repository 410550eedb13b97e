package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/metis-devops/token-dispenser/internal/amount"
	"github.com/metis-devops/token-dispenser/internal/chain"
	"github.com/metis-devops/token-dispenser/internal/quota"
)

type contractStatus struct {
	Address  common.Address `json:"address"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
	Balance  string         `json:"native_balance"`
}

type quotaStatus struct {
	quota.Record
	Limit int `json:"limit"`
}

type statusResponse struct {
	*chain.Health
	Operator common.Address  `json:"operator"`
	Balance  string          `json:"operator_balance"`
	Contract *contractStatus `json:"contract,omitempty"`
	Quota    quotaStatus     `json:"quota"`
}

func (a *app) status(ctx context.Context, maxAge time.Duration) (*statusResponse, error) {
	health, err := a.session.Health(ctx, maxAge)
	if err != nil {
		return nil, err
	}
	balance, err := a.session.Wallet.Balance(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read operator balance: %w", err)
	}
	rec, err := a.tracker.Read()
	if err != nil {
		return nil, err
	}

	resp := &statusResponse{
		Health:   health,
		Operator: a.session.Wallet.Address(),
		Balance:  amount.Format(balance, amount.NativeDecimals),
		Quota:    quotaStatus{Record: rec, Limit: a.tracker.Limit()},
	}
	if info, ok := a.session.Contract(); ok {
		cs := &contractStatus{Address: info.Address, Symbol: info.Symbol, Decimals: info.Decimals}
		if held, err := a.session.ContractBalance(ctx); err == nil {
			cs.Balance = amount.Format(held, amount.NativeDecimals)
		} else {
			slog.Warn("Failed to read contract balance", "err", err)
		}
		resp.Contract = cs
	}
	return resp, nil
}

func (a *app) printStatus(ctx context.Context, out io.Writer, maxAge time.Duration) error {
	resp, err := a.status(ctx, maxAge)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

// serveStatus refreshes the status every interval and serves the latest one
// until ctx is done.
func (a *app) serveStatus(basectx context.Context, listen string, interval, maxAge time.Duration) error {
	basectx, cancel := context.WithCancel(basectx)
	defer cancel()

	var mutex sync.RWMutex
	var result *statusResponse

	refresh := func() {
		resp, err := a.status(basectx, maxAge)
		if err != nil {
			slog.Error("Failed to refresh status", "err", err)
			mutex.Lock()
			if result != nil && result.Health != nil {
				result.Healthy = false
			}
			mutex.Unlock()
			return
		}
		mutex.Lock()
		defer mutex.Unlock()
		slog.Debug("refreshing", "block", resp.Height.String(), "time", resp.Timestamp)
		result = resp
	}

	refresh()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-basectx.Done():
				return
			case <-ticker.C:
				refresh()
			}
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		mutex.RLock()
		defer mutex.RUnlock()
		if result == nil {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprintf(w, "The API is not available now")
			return
		}

		w.Header().Set("content-type", "application/json")
		w.Header().Set("access-control-allow-origin", "*")
		_ = json.NewEncoder(w).Encode(result)
	})
	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{Addr: listen, Handler: mux}
	errc := make(chan error, 1)
	go func() {
		defer cancel()
		slog.Info("Start and serving...", "addr", listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	<-basectx.Done()
	slog.Info("stopping")
	_ = server.Shutdown(context.Background())
	slog.Info("stopped")

	select {
	case err := <-errc:
		return fmt.Errorf("failed to start server: %w", err)
	default:
		return nil
	}
}
