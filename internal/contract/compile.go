package contract

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

//go:embed CustomToken.sol
var TokenSource []byte

// HardhatConfig defines the somnia-testnet network and explorer that the
// default compile and verify commands name.
//
//go:embed hardhat.config.cjs
var HardhatConfig []byte

const (
	SourcePath = "contracts/CustomToken.sol"
	ConfigPath = "hardhat.config.cjs"
)

var (
	ErrCompilation     = errors.New("contract compilation failed")
	ErrArtifactMissing = errors.New("compiled artifact missing")
)

// Runner executes an external command in a working directory and returns its
// combined output.
type Runner interface {
	Run(ctx context.Context, dir string, name string, args ...string) (string, error)
}

type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, dir string, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// Artifact is the subset of a Hardhat build artifact the deployer needs.
type Artifact struct {
	ContractName string
	ABI          abi.ABI
	Bytecode     []byte
}

type hardhatArtifact struct {
	ContractName string          `json:"contractName"`
	ABI          json.RawMessage `json:"abi"`
	Bytecode     string          `json:"bytecode"`
}

// Compiler builds CustomToken.sol with an external toolchain and reads the
// artifact it leaves behind.
type Compiler struct {
	Runner  Runner
	Dir     string
	Command []string
	// Artifact is relative to Dir.
	Artifact string
}

func NewCompiler(dir, command, artifact string) *Compiler {
	return &Compiler{
		Runner:   ExecRunner{},
		Dir:      dir,
		Command:  strings.Fields(command),
		Artifact: artifact,
	}
}

// Compile writes the contract source under Dir, plus the Hardhat config when
// Dir has none, runs the toolchain and parses the resulting artifact.
func (c *Compiler) Compile(ctx context.Context) (*Artifact, error) {
	if len(c.Command) == 0 {
		return nil, fmt.Errorf("%w: no compile command configured", ErrCompilation)
	}

	src := filepath.Join(c.Dir, SourcePath)
	if err := os.MkdirAll(filepath.Dir(src), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(src, TokenSource, 0o644); err != nil {
		return nil, err
	}
	if err := writeIfMissing(filepath.Join(c.Dir, ConfigPath), HardhatConfig); err != nil {
		return nil, err
	}

	slog.Info("compiling", "command", strings.Join(c.Command, " "), "dir", c.Dir)
	out, err := c.Runner.Run(ctx, c.Dir, c.Command[0], c.Command[1:]...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v\n%s", ErrCompilation, err, strings.TrimSpace(out))
	}

	return ReadArtifact(filepath.Join(c.Dir, c.Artifact))
}

// writeIfMissing leaves an operator's own file in place.
func writeIfMissing(path string, data []byte) error {
	_, err := os.Stat(path)
	if err == nil {
		return nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	slog.Info("writing default hardhat config", "path", path)
	return os.WriteFile(path, data, 0o644)
}

// ReadArtifact parses a Hardhat artifact file.
func ReadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrArtifactMissing, path)
	}
	if err != nil {
		return nil, err
	}

	var raw hardhatArtifact
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrArtifactMissing, path, err)
	}
	parsed, err := abi.JSON(strings.NewReader(string(raw.ABI)))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: bad abi: %v", ErrArtifactMissing, path, err)
	}

	// solc emits hex without 0x and usually with a trailing newline
	hex := strings.TrimSpace(raw.Bytecode)
	if !strings.HasPrefix(hex, "0x") {
		hex = "0x" + hex
	}
	code, err := hexutil.Decode(hex)
	if err != nil || len(code) == 0 {
		return nil, fmt.Errorf("%w: %s: no bytecode", ErrArtifactMissing, path)
	}

	return &Artifact{ContractName: raw.ContractName, ABI: parsed, Bytecode: code}, nil
}
