package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/metis-devops/token-dispenser/internal/contract"
)

func newRootCmd() *cobra.Command {
	var envFile string

	// open builds the app for a command; the caller closes it.
	open := func(cmd *cobra.Command) (*app, error) {
		return newApp(cmd.Context(), envFile)
	}

	root := &cobra.Command{
		Use:   "token-dispenser",
		Short: "Deploy a test token and distribute it to fresh wallets",
		Long: `token-dispenser deploys a fungible token contract on the configured EVM
test network and sends native coins or tokens to newly generated wallets,
one transaction at a time with random pauses, within a daily quota.

Run without a subcommand for the interactive menu.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.menu(cmd.Context())
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load and to record CONTRACT_ADDRESS in")

	root.AddCommand(
		newDeployCmd(open),
		newSendNativeCmd(open),
		newSendTokenCmd(open),
		newStatusCmd(open),
	)
	return root
}

type opener func(cmd *cobra.Command) (*app, error)

func newDeployCmd(open opener) *cobra.Command {
	var p contract.TokenParams
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Compile, deploy and verify the token contract",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := p.Validate(); err != nil {
				return err
			}
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.deploy(cmd.Context(), p)
		},
	}
	cmd.Flags().StringVar(&p.Name, "name", "", "token name")
	cmd.Flags().StringVar(&p.Symbol, "symbol", "", "token symbol")
	cmd.Flags().Uint8Var(&p.Decimals, "decimals", 18, "token decimals (0-36)")
	cmd.Flags().StringVar(&p.TotalSupply, "supply", "", "total supply in whole tokens")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("symbol")
	_ = cmd.MarkFlagRequired("supply")
	return cmd
}

func newSendNativeCmd(open opener) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "send-native",
		Short: "Send random native amounts to new wallets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.sendNative(cmd.Context(), count)
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 0, "number of transactions")
	_ = cmd.MarkFlagRequired("count")
	return cmd
}

func newSendTokenCmd(open opener) *cobra.Command {
	var (
		symbol      string
		count       int
		amountPerTx string
	)
	cmd := &cobra.Command{
		Use:   "send-token",
		Short: "Send a fixed token amount to new wallets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.sendToken(cmd.Context(), symbol, count, amountPerTx)
		},
	}
	cmd.Flags().StringVar(&symbol, "symbol", "", "symbol of the deployed token")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "number of transactions")
	cmd.Flags().StringVar(&amountPerTx, "amount", "", "tokens per transaction")
	_ = cmd.MarkFlagRequired("symbol")
	_ = cmd.MarkFlagRequired("count")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func newStatusCmd(open opener) *cobra.Command {
	var (
		listen   string
		maxAge   time.Duration
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print chain, operator, contract and quota status as JSON",
		Long: `Print chain, operator, contract and quota status as JSON.

With --listen the status is refreshed every --interval and served on /health,
with /ping answering 200 for liveness probes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if listen != "" {
				return a.serveStatus(cmd.Context(), listen, interval, maxAge)
			}
			return a.printStatus(cmd.Context(), cmd.OutOrStdout(), maxAge)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "serve status over HTTP on this address, e.g. :8080")
	cmd.Flags().DurationVar(&maxAge, "max-age", 5*time.Minute, "head block age above which the node is unhealthy")
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "refresh interval when serving")
	return cmd
}
