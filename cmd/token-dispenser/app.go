package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/metis-devops/token-dispenser/internal/chain"
	"github.com/metis-devops/token-dispenser/internal/config"
	"github.com/metis-devops/token-dispenser/internal/contract"
	"github.com/metis-devops/token-dispenser/internal/dispatch"
	"github.com/metis-devops/token-dispenser/internal/prompt"
	"github.com/metis-devops/token-dispenser/internal/quota"
	"github.com/metis-devops/token-dispenser/internal/wallet"
)

// app is built once per process and handed to every command.
type app struct {
	cfg        *config.Config
	session    *chain.Session
	wallets    *wallet.Store
	tracker    *quota.Tracker
	dispatcher *dispatch.Dispatcher
	manager    *contract.Manager
	ui         *prompt.Prompter
}

func parseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q: %w", s, err)
	}
	return lvl, nil
}

func setupLogger(level string) error {
	lvl, err := parseLevel(level)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
	return nil
}

func newApp(ctx context.Context, envFile string) (*app, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}
	if err := setupLogger(cfg.LogLevel); err != nil {
		return nil, err
	}
	if err := cfg.ResolvePrivateKey(); err != nil {
		return nil, err
	}

	client, err := chain.Dial(ctx, cfg.RPCURL)
	if err != nil {
		return nil, err
	}
	w, err := chain.NewWallet(ctx, client, cfg.PrivateKey, cfg.ChainID)
	if err != nil {
		client.Close()
		return nil, err
	}
	cfg.PrivateKey = ""

	session := chain.NewSession(w, cfg.ExplorerURL)
	if cfg.HasContract() {
		if err := session.UseContract(ctx, cfg.Contract()); err != nil {
			session.Close()
			return nil, err
		}
	} else {
		slog.Warn("No CONTRACT_ADDRESS configured, native sends come from the operator wallet")
	}

	wallets := wallet.NewStore(wallet.NewFileRepository(cfg.WalletFile))
	tracker := quota.NewTracker(quota.NewFileRepository(cfg.QuotaFile), cfg.DailyLimit)

	manager := contract.NewManager(
		contract.NewCompiler(".", cfg.CompileCommand, cfg.ArtifactPath),
		session,
		contract.NewCommandVerifier(".", cfg.VerifyCommand),
		cfg,
	)

	return &app{
		cfg:        cfg,
		session:    session,
		wallets:    wallets,
		tracker:    tracker,
		dispatcher: dispatch.New(session, wallets, tracker),
		manager:    manager,
		ui:         prompt.New(os.Stdin, os.Stdout),
	}, nil
}

func (a *app) Close() {
	a.session.Close()
}

// deploy creates the token and points the session at it.
func (a *app) deploy(ctx context.Context, p contract.TokenParams) error {
	dep, err := a.manager.Deploy(ctx, p)
	if dep == nil {
		return err
	}
	if err != nil {
		a.ui.Error("%v", err)
	}
	if err := a.session.UseContract(ctx, dep.Address); err != nil {
		return err
	}

	a.ui.Success("Deployed %s (%s) at %s", p.Name, p.Symbol, dep.Address.Hex())
	a.ui.Success("Explorer: %s", a.session.AddressURL(dep.Address))
	if !dep.Verified {
		a.ui.Warn("Verification did not succeed, verify %s manually", dep.Address.Hex())
	}
	return nil
}

func (a *app) sendNative(ctx context.Context, count int) error {
	summary, err := a.dispatcher.SendNative(ctx, count)
	a.printSummary("native", summary)
	return err
}

func (a *app) sendToken(ctx context.Context, symbol string, count int, amountPerTx string) error {
	summary, err := a.dispatcher.SendToken(ctx, symbol, count, amountPerTx)
	a.printSummary(symbol, summary)
	return err
}

func (a *app) printSummary(kind string, s *dispatch.Summary) {
	if s == nil {
		return
	}
	a.ui.Success("%d of %d %s transfers confirmed", s.Confirmed, s.Requested, kind)
	if failed := s.Failed(); failed > 0 {
		a.ui.Warn("%d transfers failed, see the log for details", failed)
	}
}
