package wallet

import (
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Wallet is a throwaway recipient keypair. It only ever receives funds.
type Wallet struct {
	Address    string `json:"address"`
	PrivateKey string `json:"privateKey"`
}

// Account returns the wallet address as a go-ethereum address.
func (w Wallet) Account() common.Address {
	return common.HexToAddress(w.Address)
}

// Repository persists generated wallets. Implementations keep insertion order.
type Repository interface {
	// Load returns every stored wallet in the order it was appended.
	Load() ([]Wallet, error)
	// Append durably records one wallet.
	Append(w Wallet) error
}

// KeyGenerator produces a fresh keypair.
type KeyGenerator func() (*ecdsa.PrivateKey, error)

type Store struct {
	repo   Repository
	newKey KeyGenerator
}

func NewStore(repo Repository) *Store {
	return &Store{repo: repo, newKey: crypto.GenerateKey}
}

// WithKeyGenerator replaces the key source. Tests use it to force collisions.
func (s *Store) WithKeyGenerator(gen KeyGenerator) *Store {
	s.newKey = gen
	return s
}

// ListAll returns every wallet generated so far.
func (s *Store) ListAll() ([]Wallet, error) {
	return s.repo.Load()
}

// Generate creates n wallets whose addresses collide neither with the stored
// ledger nor with each other. Each one is appended to the repository as soon
// as it is created.
func (s *Store) Generate(n int) ([]Wallet, error) {
	if n < 0 {
		return nil, fmt.Errorf("wallet count must not be negative, got %d", n)
	}

	existing, err := s.repo.Load()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(existing)+n)
	for _, w := range existing {
		seen[strings.ToLower(w.Address)] = struct{}{}
	}

	wallets := make([]Wallet, 0, n)
	for len(wallets) < n {
		key, err := s.newKey()
		if err != nil {
			return wallets, fmt.Errorf("failed to generate key: %w", err)
		}

		w := fromKey(key)
		id := strings.ToLower(w.Address)
		if _, dup := seen[id]; dup {
			slog.Debug("Address collision, regenerating", "address", w.Address)
			continue
		}

		if err := s.repo.Append(w); err != nil {
			return wallets, fmt.Errorf("failed to store wallet %s: %w", w.Address, err)
		}
		seen[id] = struct{}{}
		wallets = append(wallets, w)
	}
	return wallets, nil
}

func fromKey(key *ecdsa.PrivateKey) Wallet {
	return Wallet{
		Address:    crypto.PubkeyToAddress(key.PublicKey).Hex(),
		PrivateKey: hexutil.Encode(crypto.FromECDSA(key)),
	}
}
