package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

var ErrReverted = errors.New("transaction reverted")

// Backend is the subset of *ethclient.Client the operator wallet needs.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	Close()
}

var _ Backend = (*ethclient.Client)(nil)

// Wallet is the operator identity. Its key is only held in memory.
type Wallet struct {
	client Backend

	chainID *big.Int
	eip155  types.Signer
	prvkey  *ecdsa.PrivateKey
	address common.Address

	// PollInterval is how often WaitMined asks for the receipt.
	PollInterval time.Duration
}

func Dial(basectx context.Context, rpc string) (*ethclient.Client, error) {
	newctx, cancel := context.WithTimeout(basectx, time.Second*5)
	defer cancel()

	slog.Info("connecting", "rpc", rpc)
	return ethclient.DialContext(newctx, rpc)
}

// NewWallet binds prvkey to client. A non-zero expectedChainID must match the
// chain the client is connected to.
func NewWallet(basectx context.Context, client Backend, prvkey string, expectedChainID uint64) (*Wallet, error) {
	newctx, cancel := context.WithTimeout(basectx, time.Second*5)
	defer cancel()

	chainId, err := client.ChainID(newctx)
	if err != nil {
		return nil, err
	}
	if expectedChainID != 0 && chainId.Uint64() != expectedChainID {
		return nil, fmt.Errorf("connected to chain %s, configured for %d", chainId, expectedChainID)
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(prvkey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid operator key: %w", err)
	}

	wallet := &Wallet{
		client:       client,
		chainID:      chainId,
		eip155:       types.NewEIP155Signer(chainId),
		address:      crypto.PubkeyToAddress(privateKey.PublicKey),
		prvkey:       privateKey,
		PollInterval: time.Second * 3,
	}

	slog.Info("chain info", "address", wallet.address, "chainId", chainId)
	return wallet, nil
}

func (w *Wallet) Address() common.Address { return w.address }

func (w *Wallet) ChainID() *big.Int { return new(big.Int).Set(w.chainID) }

func (w *Wallet) Client() Backend { return w.client }

func (w *Wallet) Balance(ctx context.Context) (*big.Int, error) {
	return w.client.BalanceAt(ctx, w.address, nil)
}

// Call runs a read-only call against a contract at the latest block.
func (w *Wallet) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return w.client.CallContract(ctx, ethereum.CallMsg{From: w.address, To: &to, Data: data}, nil)
}

// Send signs and submits a transaction from the operator. A nil to creates a
// contract.
func (w *Wallet) Send(ctx context.Context, to *common.Address, value *big.Int, data []byte) (*types.Transaction, error) {
	if value == nil {
		value = new(big.Int)
	}

	nonce, err := w.client.PendingNonceAt(ctx, w.address)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := w.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}
	if gasPrice.BitLen() == 0 {
		return nil, fmt.Errorf("gas price is 0")
	}

	gasLimit, err := w.client.EstimateGas(ctx, ethereum.CallMsg{
		From:     w.address,
		To:       to,
		GasPrice: gasPrice,
		Value:    value,
		Data:     data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to estimate gas: %w", err)
	}
	// headroom for state that changes between estimate and inclusion
	gasLimit += gasLimit / 5

	tx, err := types.SignNewTx(w.prvkey, w.eip155, &types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       to,
		Value:    value,
		Data:     data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sign tx: %w", err)
	}

	if err := w.client.SendTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("failed to send tx: %w", err)
	}
	slog.Info("Sending", "tx", tx.Hash(), "nonce", nonce, "value", value)
	return tx, nil
}

// Deploy submits a contract creation with code as init code. The returned
// address is where the contract will live once mined.
func (w *Wallet) Deploy(ctx context.Context, code []byte) (common.Address, *types.Transaction, error) {
	tx, err := w.Send(ctx, nil, nil, code)
	if err != nil {
		return common.Address{}, nil, err
	}
	return crypto.CreateAddress(w.address, tx.Nonce()), tx, nil
}

// WaitMined blocks until tx has a receipt. There is no deadline other than
// ctx; the transaction is never resubmitted.
func (w *Wallet) WaitMined(basectx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	waitFor := func() *types.Receipt {
		newctx, cancel := context.WithTimeout(basectx, time.Second*3)
		defer cancel()

		receipt, err := w.client.TransactionReceipt(newctx, tx.Hash())
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			slog.Error("Failed to check tx", "tx", tx.Hash(), "err", err)
			return nil
		}
		return receipt
	}

	recTicker := time.NewTicker(w.PollInterval)
	defer recTicker.Stop()

	var start = time.Now()
	for {
		select {
		case <-basectx.Done():
			return nil, basectx.Err()
		case <-recTicker.C:
			receipt := waitFor()
			if receipt == nil {
				continue
			}
			duration := time.Since(start)
			if receipt.Status != types.ReceiptStatusSuccessful {
				return receipt, fmt.Errorf("%w: %s in block %s", ErrReverted, tx.Hash(), receipt.BlockNumber)
			}
			slog.Info("Confirmed", "tx", tx.Hash(), "duration", duration.String(), "height", receipt.BlockNumber)
			return receipt, nil
		}
	}
}
