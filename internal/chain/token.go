package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var tokenABI = mustParseABI(TokenABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Errorf("failed to parse token ABI: %w", err))
	}
	return parsed
}

// ParsedTokenABI returns the parsed CustomToken interface.
func ParsedTokenABI() abi.ABI {
	return tokenABI
}

// TokenInfo is what the contract itself reports about the token.
type TokenInfo struct {
	Address  common.Address `json:"address"`
	Name     string         `json:"name"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
}

// Token talks to a deployed CustomToken as the operator.
type Token struct {
	wallet *Wallet
	info   TokenInfo
}

// OpenToken reads name, symbol and decimals from the contract at addr.
func OpenToken(ctx context.Context, w *Wallet, addr common.Address) (*Token, error) {
	t := &Token{wallet: w, info: TokenInfo{Address: addr}}

	name, err := t.callString(ctx, "name")
	if err != nil {
		return nil, err
	}
	symbol, err := t.callString(ctx, "symbol")
	if err != nil {
		return nil, err
	}
	out, err := t.call(ctx, "decimals")
	if err != nil {
		return nil, err
	}
	decimals, ok := out[0].(uint8)
	if !ok {
		return nil, fmt.Errorf("decimals: unexpected type %T", out[0])
	}

	t.info.Name, t.info.Symbol, t.info.Decimals = name, symbol, decimals
	return t, nil
}

func (t *Token) Info() TokenInfo { return t.info }

func (t *Token) Address() common.Address { return t.info.Address }

func (t *Token) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := tokenABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	raw, err := t.wallet.Call(ctx, t.info.Address, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	out, err := tokenABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: empty result", method)
	}
	return out, nil
}

func (t *Token) callString(ctx context.Context, method string) (string, error) {
	out, err := t.call(ctx, method)
	if err != nil {
		return "", err
	}
	s, ok := out[0].(string)
	if !ok {
		return "", fmt.Errorf("%s: unexpected type %T", method, out[0])
	}
	return s, nil
}

func (t *Token) callBig(ctx context.Context, method string, args ...interface{}) (*big.Int, error) {
	out, err := t.call(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected type %T", method, out[0])
	}
	return v, nil
}

func (t *Token) TotalSupply(ctx context.Context) (*big.Int, error) {
	return t.callBig(ctx, "totalSupply")
}

func (t *Token) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	return t.callBig(ctx, "balanceOf", owner)
}

// NativeBalance is the native coin held by the contract itself.
func (t *Token) NativeBalance(ctx context.Context) (*big.Int, error) {
	return t.wallet.client.BalanceAt(ctx, t.info.Address, nil)
}

// SendNative pays value of the contract's native balance to to.
func (t *Token) SendNative(ctx context.Context, to common.Address, value *big.Int) (*types.Transaction, error) {
	data, err := tokenABI.Pack("sendNative", to, value)
	if err != nil {
		return nil, err
	}
	return t.wallet.Send(ctx, &t.info.Address, nil, data)
}

// Transfer moves value base units of the token from the operator to to.
func (t *Token) Transfer(ctx context.Context, to common.Address, value *big.Int) (*types.Transaction, error) {
	data, err := tokenABI.Pack("transfer", to, value)
	if err != nil {
		return nil, err
	}
	return t.wallet.Send(ctx, &t.info.Address, nil, data)
}
