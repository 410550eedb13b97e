package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// Session carries everything a run needs: the operator wallet, the configured
// token contract (nil for native-only operation) and the explorer base URL.
// It is built once per process and passed explicitly.
type Session struct {
	Wallet      *Wallet
	Token       *Token
	ExplorerURL string
}

func NewSession(w *Wallet, explorerURL string) *Session {
	return &Session{Wallet: w, ExplorerURL: explorerURL}
}

// UseContract binds the session to the token at addr.
func (s *Session) UseContract(ctx context.Context, addr common.Address) error {
	token, err := OpenToken(ctx, s.Wallet, addr)
	if err != nil {
		return fmt.Errorf("failed to open token %s: %w", addr, err)
	}
	s.Token = token
	info := token.Info()
	slog.Info("token", "address", info.Address, "symbol", info.Symbol, "decimals", info.Decimals)
	return nil
}

func (s *Session) Close() {
	s.Wallet.client.Close()
}

func (s *Session) Contract() (TokenInfo, bool) {
	if s.Token == nil {
		return TokenInfo{}, false
	}
	return s.Token.Info(), true
}

func (s *Session) ContractBalance(ctx context.Context) (*big.Int, error) {
	if s.Token == nil {
		return nil, fmt.Errorf("no contract configured")
	}
	return s.Token.NativeBalance(ctx)
}

func (s *Session) SendFromOperator(ctx context.Context, to common.Address, value *big.Int) (*types.Transaction, error) {
	return s.Wallet.Send(ctx, &to, value, nil)
}

func (s *Session) SendFromContract(ctx context.Context, to common.Address, value *big.Int) (*types.Transaction, error) {
	if s.Token == nil {
		return nil, fmt.Errorf("no contract configured")
	}
	return s.Token.SendNative(ctx, to, value)
}

func (s *Session) TransferToken(ctx context.Context, to common.Address, value *big.Int) (*types.Transaction, error) {
	if s.Token == nil {
		return nil, fmt.Errorf("no contract configured")
	}
	return s.Token.Transfer(ctx, to, value)
}

func (s *Session) Deploy(ctx context.Context, code []byte) (common.Address, *types.Transaction, error) {
	return s.Wallet.Deploy(ctx, code)
}

func (s *Session) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	return s.Wallet.WaitMined(ctx, tx)
}

func (s *Session) TxURL(hash common.Hash) string {
	if s.ExplorerURL == "" {
		return hash.Hex()
	}
	return s.ExplorerURL + "/tx/" + hash.Hex()
}

func (s *Session) AddressURL(addr common.Address) string {
	if s.ExplorerURL == "" {
		return addr.Hex()
	}
	return s.ExplorerURL + "/address/" + addr.Hex()
}

/*
	{
	  "healthy": true,
	  "latest_block_number": "0xe90cc9",
	  "latest_block_timestamp": "2024-03-16T02:12:05"
	}
*/

type Health struct {
	Healthy   bool        `json:"healthy"`
	Height    hexutil.Big `json:"latest_block_number"`
	Timestamp time.Time   `json:"latest_block_timestamp"`
}

// Health reports the chain head. The node counts as healthy when its head
// block is younger than maxAge.
func (s *Session) Health(basectx context.Context, maxAge time.Duration) (*Health, error) {
	newctx, cancel := context.WithTimeout(basectx, time.Second*3)
	defer cancel()

	header, err := s.Wallet.client.HeaderByNumber(newctx, nil)
	if err != nil {
		return nil, fmt.Errorf("HeaderByNumber: %w", err)
	}
	if header.Time == 0 {
		return nil, fmt.Errorf("block %s has a 0 timestamp", header.Number)
	}

	timestamp := time.Unix(int64(header.Time), 0).UTC()
	return &Health{
		Healthy:   time.Since(timestamp) < maxAge,
		Height:    hexutil.Big(*header.Number),
		Timestamp: timestamp,
	}, nil
}
