package contract

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/metis-devops/token-dispenser/internal/chain"
)

const (
	artifactPath = "artifacts/contracts/CustomToken.sol/CustomToken.json"
	testBytecode = "0x6080604052"
)

func writeArtifact(t *testing.T, dir, bytecode string) {
	path := filepath.Join(dir, artifactPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	data, err := json.Marshal(map[string]interface{}{
		"contractName": "CustomToken",
		"abi":          json.RawMessage(chain.TokenABI),
		"bytecode":     bytecode,
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

type call struct {
	dir  string
	name string
	args []string
}

type fakeRunner struct {
	calls []call
	run   func(c call, n int) (string, error)
}

func (f *fakeRunner) Run(_ context.Context, dir string, name string, args ...string) (string, error) {
	c := call{dir: dir, name: name, args: args}
	f.calls = append(f.calls, c)
	if f.run == nil {
		return "", nil
	}
	return f.run(c, len(f.calls))
}

func newTestCompiler(t *testing.T, runner *fakeRunner) *Compiler {
	c := NewCompiler(t.TempDir(), "npx hardhat compile", artifactPath)
	c.Runner = runner
	return c
}

func TestCompile(t *testing.T) {
	runner := &fakeRunner{}
	c := newTestCompiler(t, runner)
	runner.run = func(call, int) (string, error) {
		writeArtifact(t, c.Dir, testBytecode)
		return "Compiled 1 Solidity file successfully", nil
	}

	art, err := c.Compile(context.Background())
	require.NoError(t, err)
	require.Equal(t, "CustomToken", art.ContractName)
	require.Equal(t, common.FromHex(testBytecode), art.Bytecode)
	require.Contains(t, art.ABI.Methods, "transfer")
	require.Contains(t, art.ABI.Methods, "sendNative")

	require.Len(t, runner.calls, 1)
	require.Equal(t, "npx", runner.calls[0].name)
	require.Equal(t, []string{"hardhat", "compile"}, runner.calls[0].args)
	require.Equal(t, c.Dir, runner.calls[0].dir)

	src, err := os.ReadFile(filepath.Join(c.Dir, SourcePath))
	require.NoError(t, err)
	require.Equal(t, TokenSource, src)

	cfg, err := os.ReadFile(filepath.Join(c.Dir, ConfigPath))
	require.NoError(t, err)
	require.Equal(t, HardhatConfig, cfg)
	require.Contains(t, string(cfg), `"somnia-testnet"`)
	require.Contains(t, string(cfg), `solidity: "0.8.28"`)
	require.Contains(t, string(cfg), "customChains")
}

func TestCompileKeepsExistingHardhatConfig(t *testing.T) {
	runner := &fakeRunner{}
	c := newTestCompiler(t, runner)
	runner.run = func(call, int) (string, error) {
		writeArtifact(t, c.Dir, testBytecode)
		return "", nil
	}
	own := []byte("module.exports = { solidity: \"0.8.20\" };\n")
	require.NoError(t, os.WriteFile(filepath.Join(c.Dir, ConfigPath), own, 0o644))

	_, err := c.Compile(context.Background())
	require.NoError(t, err)

	cfg, err := os.ReadFile(filepath.Join(c.Dir, ConfigPath))
	require.NoError(t, err)
	require.Equal(t, own, cfg)
}

func TestCompileFailure(t *testing.T) {
	runner := &fakeRunner{run: func(call, int) (string, error) {
		return "HH600: Compilation failed", errors.New("exit status 1")
	}}
	_, err := newTestCompiler(t, runner).Compile(context.Background())
	require.ErrorIs(t, err, ErrCompilation)
	require.Contains(t, err.Error(), "HH600")
}

func TestCompileArtifactMissing(t *testing.T) {
	_, err := newTestCompiler(t, &fakeRunner{}).Compile(context.Background())
	require.ErrorIs(t, err, ErrArtifactMissing)
}

func TestReadArtifactWithoutBytecode(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "0x")
	_, err := ReadArtifact(filepath.Join(dir, artifactPath))
	require.ErrorIs(t, err, ErrArtifactMissing)

	// solc style hex without prefix is accepted
	writeArtifact(t, dir, "6080604052\n")
	art, err := ReadArtifact(filepath.Join(dir, artifactPath))
	require.NoError(t, err)
	require.Equal(t, common.FromHex(testBytecode), art.Bytecode)
}

func TestIsVerified(t *testing.T) {
	for _, s := range []string{
		"Successfully submitted source code for contract ... Verification submitted",
		"The contract 0xabc has already been verified",
		"Successfully verified contract CustomToken on the block explorer.",
		"SUCCESSFULLY VERIFIED CONTRACT",
	} {
		require.True(t, IsVerified(s), s)
	}
	for _, s := range []string{"", "Error: rate limited", "verification failed"} {
		require.False(t, IsVerified(s), s)
	}
}

func TestRetryPolicy(t *testing.T) {
	var sleeps []time.Duration
	p := DefaultVerifyPolicy()
	p.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}

	n := 0
	out, err := p.Do(context.Background(), func(context.Context) (string, error) {
		n++
		switch n {
		case 1:
			return "", errors.New("connection refused")
		case 2:
			return "pending", nil
		}
		return "already been verified", nil
	})
	require.NoError(t, err)
	require.Equal(t, "already been verified", out)
	require.Equal(t, 3, n)
	require.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, sleeps)

	sleeps, n = nil, 0
	_, err = p.Do(context.Background(), func(context.Context) (string, error) {
		n++
		return "nope", nil
	})
	require.Error(t, err)
	require.Equal(t, 3, n)
	require.Len(t, sleeps, 2)
}

func TestRetryPolicyCancelled(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, Delay: time.Hour, Succeeded: IsVerified}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Do(ctx, func(context.Context) (string, error) { return "", nil })
	require.ErrorIs(t, err, context.Canceled)
}

func TestCommandVerifier(t *testing.T) {
	runner := &fakeRunner{run: func(call, int) (string, error) {
		return "Error: contract has already been verified", errors.New("exit status 1")
	}}
	v := NewCommandVerifier("/work", "npx hardhat verify --network somnia-testnet")
	v.Runner = runner

	addr := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	out, err := v.Verify(context.Background(), addr, []string{"Test", "TST", "18", "1000"})
	require.NoError(t, err)
	require.True(t, IsVerified(out))
	require.Equal(t, "npx", runner.calls[0].name)
	require.Equal(t,
		[]string{"hardhat", "verify", "--network", "somnia-testnet", addr.Hex(), "Test", "TST", "18", "1000"},
		runner.calls[0].args)

	runner.run = func(call, int) (string, error) { return "network down", errors.New("exit status 1") }
	_, err = v.Verify(context.Background(), addr, nil)
	require.Error(t, err)
}

type fakeDeployer struct {
	code    []byte
	deploys int
	waitErr error
}

func (f *fakeDeployer) Deploy(_ context.Context, code []byte) (common.Address, *types.Transaction, error) {
	f.deploys++
	f.code = code
	return common.HexToAddress("0x00000000000000000000000000000000000000cc"),
		types.NewTx(&types.LegacyTx{Nonce: uint64(f.deploys), Data: code}), nil
}

func (f *fakeDeployer) WaitMined(_ context.Context, tx *types.Transaction) (*types.Receipt, error) {
	if f.waitErr != nil {
		return nil, f.waitErr
	}
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: tx.Hash()}, nil
}

type fakeStore struct {
	saved []common.Address
	err   error
}

func (f *fakeStore) SaveContractAddress(addr common.Address) error {
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, addr)
	return nil
}

type fakeToolchain struct {
	compiles int
	err      error
}

func (f *fakeToolchain) Compile(context.Context) (*Artifact, error) {
	f.compiles++
	if f.err != nil {
		return nil, f.err
	}
	return &Artifact{
		ContractName: "CustomToken",
		ABI:          chain.ParsedTokenABI(),
		Bytecode:     common.FromHex(testBytecode),
	}, nil
}

type fakeVerifier struct {
	calls int
	out   string
	args  []string
}

func (f *fakeVerifier) Verify(_ context.Context, _ common.Address, args []string) (string, error) {
	f.calls++
	f.args = args
	return f.out, nil
}

func newTestManager(tc *fakeToolchain, d *fakeDeployer, v *fakeVerifier, s *fakeStore) *Manager {
	m := NewManager(tc, d, v, s)
	m.Policy.sleep = func(context.Context, time.Duration) error { return nil }
	return m
}

func TestDeployScalesTotalSupply(t *testing.T) {
	tc, d, v, s := &fakeToolchain{}, &fakeDeployer{}, &fakeVerifier{out: "Successfully verified contract"}, &fakeStore{}
	m := newTestManager(tc, d, v, s)

	dep, err := m.Deploy(context.Background(), TokenParams{Name: "Test", Symbol: "TST", Decimals: 18, TotalSupply: "1000"})
	require.NoError(t, err)

	want, _ := new(big.Int).SetString("1000000000000000000000", 10)
	require.Equal(t, 0, want.Cmp(dep.TotalSupply))
	require.True(t, dep.Verified)
	require.Equal(t, []common.Address{dep.Address}, s.saved)
	require.Equal(t, []string{"Test", "TST", "18", want.String()}, v.args)

	// the init code carries the constructor arguments after the bytecode
	bytecode := common.FromHex(testBytecode)
	require.Equal(t, bytecode, d.code[:len(bytecode)])
	args, err := chain.ParsedTokenABI().Constructor.Inputs.Unpack(d.code[len(bytecode):])
	require.NoError(t, err)
	require.Equal(t, "Test", args[0])
	require.Equal(t, "TST", args[1])
	require.Equal(t, uint8(18), args[2])
	require.Equal(t, 0, want.Cmp(args[3].(*big.Int)))
}

func TestDeployCompilesOnce(t *testing.T) {
	tc := &fakeToolchain{}
	m := newTestManager(tc, &fakeDeployer{}, &fakeVerifier{out: "already been verified"}, &fakeStore{})

	for i := 0; i < 2; i++ {
		_, err := m.Deploy(context.Background(), TokenParams{Name: "A", Symbol: "A", Decimals: 6, TotalSupply: "1"})
		require.NoError(t, err)
	}
	require.Equal(t, 1, tc.compiles)
}

func TestDeploySurvivesVerificationFailure(t *testing.T) {
	v := &fakeVerifier{out: "Error: explorer unavailable"}
	s := &fakeStore{}
	m := newTestManager(&fakeToolchain{}, &fakeDeployer{}, v, s)

	dep, err := m.Deploy(context.Background(), TokenParams{Name: "Test", Symbol: "TST", Decimals: 18, TotalSupply: "1"})
	require.NoError(t, err)
	require.False(t, dep.Verified)
	require.Equal(t, 3, v.calls)
	require.Len(t, s.saved, 1)
}

func TestDeployVerifiesWhenSaveFails(t *testing.T) {
	v := &fakeVerifier{out: "Successfully verified contract"}
	s := &fakeStore{err: errors.New("read-only file system")}
	m := newTestManager(&fakeToolchain{}, &fakeDeployer{}, v, s)

	dep, err := m.Deploy(context.Background(), TokenParams{Name: "Test", Symbol: "TST", Decimals: 18, TotalSupply: "1"})
	require.ErrorContains(t, err, "failed to save address")
	require.NotNil(t, dep)
	require.Equal(t, 1, v.calls)
	require.True(t, dep.Verified)
}

func TestDeployFailures(t *testing.T) {
	tc := &fakeToolchain{err: ErrCompilation}
	d := &fakeDeployer{}
	m := newTestManager(tc, d, &fakeVerifier{}, &fakeStore{})
	_, err := m.Deploy(context.Background(), TokenParams{Name: "Test", Symbol: "TST", Decimals: 18, TotalSupply: "1"})
	require.ErrorIs(t, err, ErrCompilation)
	require.Zero(t, d.deploys)

	s := &fakeStore{}
	d = &fakeDeployer{waitErr: chain.ErrReverted}
	m = newTestManager(&fakeToolchain{}, d, &fakeVerifier{}, s)
	_, err = m.Deploy(context.Background(), TokenParams{Name: "Test", Symbol: "TST", Decimals: 18, TotalSupply: "1"})
	require.ErrorIs(t, err, chain.ErrReverted)
	require.Empty(t, s.saved)
}

func TestTokenParamsValidate(t *testing.T) {
	m := newTestManager(&fakeToolchain{}, &fakeDeployer{}, &fakeVerifier{}, &fakeStore{})
	for _, p := range []TokenParams{
		{Name: "", Symbol: "TST", Decimals: 18, TotalSupply: "1"},
		{Name: "Test", Symbol: " ", Decimals: 18, TotalSupply: "1"},
		{Name: "Test", Symbol: "TST", Decimals: 40, TotalSupply: "1"},
		{Name: "Test", Symbol: "TST", Decimals: 18, TotalSupply: "0"},
		{Name: "Test", Symbol: "TST", Decimals: 0, TotalSupply: "1.5"},
	} {
		_, err := m.Deploy(context.Background(), p)
		require.ErrorIs(t, err, ErrInvalidParams, "%+v", p)
	}
}
