package contract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/metis-devops/token-dispenser/internal/amount"
)

var ErrInvalidParams = errors.New("invalid token parameters")

type Toolchain interface {
	Compile(ctx context.Context) (*Artifact, error)
}

// Deployer submits contract creations and waits for them. *chain.Session
// implements it.
type Deployer interface {
	Deploy(ctx context.Context, code []byte) (common.Address, *types.Transaction, error)
	WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
}

// AddressStore persists the deployed contract for later runs.
type AddressStore interface {
	SaveContractAddress(addr common.Address) error
}

type TokenParams struct {
	Name     string
	Symbol   string
	Decimals uint8
	// TotalSupply is in whole tokens; it is scaled by 10^Decimals on deploy.
	TotalSupply string
}

func (p TokenParams) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidParams)
	}
	if strings.TrimSpace(p.Symbol) == "" {
		return fmt.Errorf("%w: symbol is empty", ErrInvalidParams)
	}
	if p.Decimals > amount.MaxDecimals {
		return fmt.Errorf("%w: decimals %d above %d", ErrInvalidParams, p.Decimals, amount.MaxDecimals)
	}
	return nil
}

type Deployment struct {
	Address         common.Address
	Tx              common.Hash
	TotalSupply     *big.Int
	ConstructorArgs []string
	Verified        bool
}

// Manager compiles, deploys and verifies the token contract.
type Manager struct {
	toolchain Toolchain
	deployer  Deployer
	verifier  Verifier
	store     AddressStore

	Policy RetryPolicy

	artifact *Artifact
}

func NewManager(toolchain Toolchain, deployer Deployer, verifier Verifier, store AddressStore) *Manager {
	return &Manager{
		toolchain: toolchain,
		deployer:  deployer,
		verifier:  verifier,
		store:     store,
		Policy:    DefaultVerifyPolicy(),
	}
}

// Compile runs the toolchain once per Manager and caches the artifact.
func (m *Manager) Compile(ctx context.Context) (*Artifact, error) {
	if m.artifact != nil {
		return m.artifact, nil
	}
	art, err := m.toolchain.Compile(ctx)
	if err != nil {
		return nil, err
	}
	m.artifact = art
	return art, nil
}

// Deploy creates the token and blocks until it is mined. Verification runs
// afterwards; its failure is logged and reported in Deployment.Verified only.
func (m *Manager) Deploy(ctx context.Context, p TokenParams) (*Deployment, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	supply, err := amount.ParseBaseUnits(p.TotalSupply, p.Decimals)
	if err != nil {
		return nil, fmt.Errorf("%w: total supply: %v", ErrInvalidParams, err)
	}

	art, err := m.Compile(ctx)
	if err != nil {
		return nil, err
	}

	packed, err := art.ABI.Pack("", p.Name, p.Symbol, p.Decimals, supply)
	if err != nil {
		return nil, fmt.Errorf("failed to pack constructor args: %w", err)
	}
	code := append(append([]byte(nil), art.Bytecode...), packed...)

	addr, tx, err := m.deployer.Deploy(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to deploy: %w", err)
	}
	slog.Info("Deploying", "contract", addr, "tx", tx.Hash())

	if _, err := m.deployer.WaitMined(ctx, tx); err != nil {
		return nil, fmt.Errorf("deploy tx %s: %w", tx.Hash(), err)
	}

	dep := &Deployment{
		Address:         addr,
		Tx:              tx.Hash(),
		TotalSupply:     supply,
		ConstructorArgs: []string{p.Name, p.Symbol, strconv.Itoa(int(p.Decimals)), supply.String()},
	}
	slog.Info("Deployed", "contract", addr, "symbol", p.Symbol, "supply", supply)

	saveErr := m.store.SaveContractAddress(addr)
	m.verify(ctx, dep)
	if saveErr != nil {
		return dep, fmt.Errorf("deployed at %s but failed to save address: %w", addr, saveErr)
	}
	return dep, nil
}

func (m *Manager) verify(ctx context.Context, dep *Deployment) {
	if m.verifier == nil {
		return
	}
	_, err := m.Policy.Do(ctx, func(ctx context.Context) (string, error) {
		return m.verifier.Verify(ctx, dep.Address, dep.ConstructorArgs)
	})
	if err != nil {
		slog.Warn("Verification did not succeed, verify manually",
			"contract", dep.Address, "err", fmt.Errorf("%w: %v", ErrVerification, err))
		return
	}
	dep.Verified = true
	slog.Info("Verified", "contract", dep.Address)
}
