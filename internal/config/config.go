package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"golang.org/x/term"
)

const ContractAddressKey = "CONTRACT_ADDRESS"

type Config struct {
	PrivateKey      string `envconfig:"MAIN_PRIVATE_KEY"`
	RPCURL          string `envconfig:"RPC_URL" default:"https://dream-rpc.somnia.network"`
	ChainID         uint64 `envconfig:"CHAIN_ID" default:"50312"`
	ContractAddress string `envconfig:"CONTRACT_ADDRESS"`
	ExplorerURL     string `envconfig:"EXPLORER_URL" default:"https://shannon-explorer.somnia.network"`

	WalletFile string `envconfig:"WALLET_FILE" default:"random_wallets.json"`
	QuotaFile  string `envconfig:"QUOTA_FILE" default:"daily_quota.json"`
	DailyLimit int    `envconfig:"DAILY_LIMIT" default:"10000"`

	CompileCommand string `envconfig:"COMPILE_COMMAND" default:"npx hardhat compile"`
	VerifyCommand  string `envconfig:"VERIFY_COMMAND" default:"npx hardhat verify --network somnia-testnet"`
	ArtifactPath   string `envconfig:"ARTIFACT_PATH" default:"artifacts/contracts/CustomToken.sol/CustomToken.json"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// EnvFile is the file the values were loaded from, rewritten after a deploy.
	EnvFile string `ignored:"true"`
}

// Load reads envFile (if it exists) into the process environment and then
// processes the environment into a Config. Variables already set in the
// environment win over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	cfg := &Config{EnvFile: envFile}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	if cfg.DailyLimit <= 0 {
		return nil, fmt.Errorf("DAILY_LIMIT must be positive, got %d", cfg.DailyLimit)
	}
	if cfg.ContractAddress != "" && !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("CONTRACT_ADDRESS is not a valid address: %q", cfg.ContractAddress)
	}
	cfg.ExplorerURL = strings.TrimRight(cfg.ExplorerURL, "/")
	return cfg, nil
}

// HasContract reports whether a token contract is configured.
func (c *Config) HasContract() bool {
	return c.ContractAddress != ""
}

// Contract returns the configured contract address. Callers check HasContract first.
func (c *Config) Contract() common.Address {
	return common.HexToAddress(c.ContractAddress)
}

// ResolvePrivateKey makes sure PrivateKey is set, asking for it on the
// terminal without echo when the environment left it empty.
func (c *Config) ResolvePrivateKey() error {
	if c.PrivateKey != "" {
		return nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return errors.New("MAIN_PRIVATE_KEY is empty and stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, "Enter operator private key: ")
	defer fmt.Fprintln(os.Stderr)

	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return fmt.Errorf("failed to read private key: %w", err)
	}
	key := strings.TrimSpace(string(raw))
	clear(raw)
	if key == "" {
		return errors.New("private key cannot be empty")
	}
	c.PrivateKey = key
	return nil
}

// SaveContractAddress records addr as the configured contract, both for this
// process and in the env file so that later runs resume with it. Only the
// CONTRACT_ADDRESS entry of the file is changed.
func (c *Config) SaveContractAddress(addr common.Address) error {
	c.ContractAddress = addr.Hex()
	if err := os.Setenv(ContractAddressKey, c.ContractAddress); err != nil {
		return err
	}
	if c.EnvFile == "" {
		return nil
	}
	return WriteEnvValue(c.EnvFile, ContractAddressKey, c.ContractAddress)
}

// WriteEnvValue sets key=value in the env file at path, creating the file if
// needed. Only lines assigning key are replaced (or one line is appended);
// every other line is kept byte for byte.
func WriteEnvValue(path, key, value string) error {
	perm := os.FileMode(0o600)
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return fmt.Errorf("failed to read %s: %w", path, err)
	default:
		if st, err := os.Stat(path); err == nil {
			perm = st.Mode().Perm()
		}
	}

	entry := key + "=" + value
	lines := strings.Split(string(data), "\n")
	found := false
	for i, line := range lines {
		if !assigns(line, key) {
			continue
		}
		found = true
		if strings.HasSuffix(line, "\r") {
			lines[i] = entry + "\r"
		} else {
			lines[i] = entry
		}
	}
	out := strings.Join(lines, "\n")
	if !found {
		if out != "" && !strings.HasSuffix(out, "\n") {
			out += "\n"
		}
		out += entry + "\n"
	}

	parsed, err := godotenv.Unmarshal(out)
	if err != nil {
		return fmt.Errorf("refusing to write %s: result does not parse: %w", path, err)
	}
	if parsed[key] != value {
		return fmt.Errorf("refusing to write %s: %s would read back as %q", path, key, parsed[key])
	}
	if err := os.WriteFile(path, []byte(out), perm); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// assigns reports whether an env file line sets key, with or without export.
func assigns(line, key string) bool {
	line = strings.TrimSpace(line)
	line = strings.TrimPrefix(line, "export ")
	rest, ok := strings.CutPrefix(strings.TrimLeft(line, " \t"), key)
	if !ok {
		return false
	}
	rest = strings.TrimLeft(rest, " \t")
	return strings.HasPrefix(rest, "=") || strings.HasPrefix(rest, ":")
}
