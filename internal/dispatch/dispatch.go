package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/metis-devops/token-dispenser/internal/amount"
	"github.com/metis-devops/token-dispenser/internal/chain"
	"github.com/metis-devops/token-dispenser/internal/quota"
	"github.com/metis-devops/token-dispenser/internal/wallet"
)

var (
	ErrInvalidCount       = errors.New("transaction count must be a positive number")
	ErrNoContractDeployed = errors.New("no token contract deployed")
	ErrSymbolMismatch     = errors.New("token symbol does not match the deployed contract")
)

// Chain is what the loop needs from the network. *chain.Session implements it.
type Chain interface {
	Contract() (chain.TokenInfo, bool)
	ContractBalance(ctx context.Context) (*big.Int, error)
	SendFromOperator(ctx context.Context, to common.Address, value *big.Int) (*types.Transaction, error)
	SendFromContract(ctx context.Context, to common.Address, value *big.Int) (*types.Transaction, error)
	TransferToken(ctx context.Context, to common.Address, value *big.Int) (*types.Transaction, error)
	WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
	TxURL(hash common.Hash) string
}

var _ Chain = (*chain.Session)(nil)

// DelayRange is an inclusive range for the pause between two sends.
type DelayRange struct {
	Min, Max time.Duration
}

func (r DelayRange) draw(rng *rand.Rand) time.Duration {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + time.Duration(rng.Int63n(int64(r.Max-r.Min)+1))
}

var (
	NativeMin = decimal.RequireFromString("0.001")
	NativeMax = decimal.RequireFromString("0.0025")
)

const nativePlaces = 6

// Dispatcher sends one transfer per freshly generated recipient, strictly one
// at a time, pausing a random interval between sends.
type Dispatcher struct {
	chain   Chain
	wallets *wallet.Store
	quota   *quota.Tracker

	Rand        *rand.Rand
	Sleep       func(ctx context.Context, d time.Duration) error
	NativeDelay DelayRange
	TokenDelay  DelayRange
}

func New(c Chain, wallets *wallet.Store, tracker *quota.Tracker) *Dispatcher {
	return &Dispatcher{
		chain:       c,
		wallets:     wallets,
		quota:       tracker,
		Rand:        rand.New(rand.NewSource(time.Now().UnixNano())),
		Sleep:       sleep,
		NativeDelay: DelayRange{Min: 15 * time.Second, Max: 60 * time.Second},
		TokenDelay:  DelayRange{Min: 10 * time.Second, Max: 80 * time.Second},
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// recipients reserves quota for count sends and returns count new wallets in
// random order.
func (d *Dispatcher) recipients(count int) ([]wallet.Wallet, error) {
	if count <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCount, count)
	}

	rec, err := d.quota.Reserve(count)
	if err != nil {
		return nil, err
	}
	slog.Info("quota", "date", rec.Date, "sent", rec.Count, "requested", count, "limit", d.quota.Limit())

	if stored, err := d.wallets.ListAll(); err != nil {
		slog.Warn("Failed to read wallet ledger", "err", err)
	} else {
		slog.Debug("wallet ledger", "stored", len(stored))
	}

	wallets, err := d.wallets.Generate(count)
	if err != nil {
		return nil, fmt.Errorf("failed to generate wallets: %w", err)
	}
	d.Rand.Shuffle(len(wallets), func(i, j int) {
		wallets[i], wallets[j] = wallets[j], wallets[i]
	})
	return wallets, nil
}

// SendNative sends a random native amount to count new recipients, paid by
// the contract when it holds enough and by the operator otherwise.
func (d *Dispatcher) SendNative(ctx context.Context, count int) (*Summary, error) {
	recipients, err := d.recipients(count)
	if err != nil {
		return nil, err
	}

	_, hasContract := d.chain.Contract()
	summary := &Summary{Requested: count}
	for i, r := range recipients {
		value, err := amount.ToBaseUnits(amount.Random(d.Rand, NativeMin, NativeMax, nativePlaces), amount.NativeDecimals)
		if err != nil {
			return summary, err
		}

		attempt := Attempt{Recipient: r.Account(), Amount: value, Source: SourceOperator}
		if hasContract {
			attempt.Source = d.fundingSource(ctx, value)
		}

		d.run(ctx, summary, &attempt, func() (*types.Transaction, error) {
			if attempt.Source == SourceContract {
				return d.chain.SendFromContract(ctx, attempt.Recipient, value)
			}
			return d.chain.SendFromOperator(ctx, attempt.Recipient, value)
		})

		if i < len(recipients)-1 {
			if err := d.pause(ctx, d.NativeDelay); err != nil {
				return summary, err
			}
		}
	}
	d.report("native", summary)
	return summary, nil
}

func (d *Dispatcher) fundingSource(ctx context.Context, value *big.Int) Source {
	held, err := d.chain.ContractBalance(ctx)
	if err != nil {
		slog.Warn("Failed to read contract balance, using operator wallet", "err", err)
		return SourceOperator
	}
	if held.Cmp(value) >= 0 {
		return SourceContract
	}
	slog.Warn("Contract balance too low, using operator wallet",
		"held", amount.Format(held, amount.NativeDecimals),
		"needed", amount.Format(value, amount.NativeDecimals))
	return SourceOperator
}

// SendToken transfers amountPerTx tokens to count new recipients. symbol must
// equal the deployed contract's symbol exactly.
func (d *Dispatcher) SendToken(ctx context.Context, symbol string, count int, amountPerTx string) (*Summary, error) {
	info, ok := d.chain.Contract()
	if !ok {
		return nil, ErrNoContractDeployed
	}
	if symbol != info.Symbol {
		return nil, fmt.Errorf("%w: got %q, contract is %q", ErrSymbolMismatch, symbol, info.Symbol)
	}
	value, err := amount.ParseBaseUnits(amountPerTx, info.Decimals)
	if err != nil {
		return nil, err
	}

	recipients, err := d.recipients(count)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Requested: count}
	for i, r := range recipients {
		attempt := Attempt{Recipient: r.Account(), Amount: value, Source: SourceOperator}
		d.run(ctx, summary, &attempt, func() (*types.Transaction, error) {
			return d.chain.TransferToken(ctx, attempt.Recipient, value)
		})

		if i < len(recipients)-1 {
			if err := d.pause(ctx, d.TokenDelay); err != nil {
				return summary, err
			}
		}
	}
	d.report(info.Symbol, summary)
	return summary, nil
}

// run drives one attempt through submit and confirmation. Errors end the
// attempt only; the batch goes on.
func (d *Dispatcher) run(ctx context.Context, summary *Summary, attempt *Attempt, submit func() (*types.Transaction, error)) {
	defer func() { summary.Attempts = append(summary.Attempts, *attempt) }()

	tx, err := submit()
	if err != nil {
		attempt.fail(err)
		slog.Error("Failed to send tx", "to", attempt.Recipient, "source", attempt.Source, "err", err)
		return
	}
	attempt.submitted(tx.Hash())

	if _, err := d.chain.WaitMined(ctx, tx); err != nil {
		attempt.fail(err)
		slog.Error("Tx not confirmed", "to", attempt.Recipient, "tx", tx.Hash(), "err", err)
		return
	}
	attempt.State = Confirmed
	summary.Confirmed++

	rec, err := d.quota.Increment()
	if err != nil {
		slog.Error("Failed to record quota", "tx", tx.Hash(), "err", err)
	}
	slog.Info("Transfer confirmed",
		"to", attempt.Recipient,
		"source", attempt.Source,
		"amount", attempt.Amount,
		"tx", d.chain.TxURL(tx.Hash()),
		"today", rec.Count)
}

func (d *Dispatcher) pause(ctx context.Context, r DelayRange) error {
	wait := r.draw(d.Rand)
	slog.Info("Waiting before next send", "duration", wait.String())
	return d.Sleep(ctx, wait)
}

func (d *Dispatcher) report(kind string, s *Summary) {
	slog.Info("Batch finished", "kind", kind, "confirmed", s.Confirmed, "requested", s.Requested, "failed", s.Failed())
}
