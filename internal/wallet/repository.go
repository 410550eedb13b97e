package wallet

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

var ErrCorruptLedger = errors.New("corrupt wallet ledger")

// FileRepository stores one JSON object per line. Appends to an address that
// is already on disk are skipped.
type FileRepository struct {
	path string
}

func NewFileRepository(path string) *FileRepository {
	return &FileRepository{path: path}
}

func (r *FileRepository) Load() ([]Wallet, error) {
	f, err := os.Open(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var wallets []Wallet
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var w Wallet
		if err := json.Unmarshal([]byte(text), &w); err != nil {
			return nil, fmt.Errorf("%w: %s line %d: %v", ErrCorruptLedger, r.path, line, err)
		}
		if w.Address == "" {
			return nil, fmt.Errorf("%w: %s line %d: missing address", ErrCorruptLedger, r.path, line)
		}
		wallets = append(wallets, w)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return wallets, nil
}

func (r *FileRepository) Append(w Wallet) error {
	stored, err := r.Load()
	if err != nil {
		return err
	}
	for _, s := range stored {
		if strings.EqualFold(s.Address, w.Address) {
			return nil
		}
	}

	data, err := json.Marshal(w)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// MemoryRepository keeps wallets in memory.
type MemoryRepository struct {
	mu      sync.Mutex
	wallets []Wallet
}

func NewMemoryRepository(initial ...Wallet) *MemoryRepository {
	return &MemoryRepository{wallets: append([]Wallet(nil), initial...)}
}

func (r *MemoryRepository) Load() ([]Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Wallet(nil), r.wallets...), nil
}

func (r *MemoryRepository) Append(w Wallet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.wallets {
		if strings.EqualFold(s.Address, w.Address) {
			return nil
		}
	}
	r.wallets = append(r.wallets, w)
	return nil
}
