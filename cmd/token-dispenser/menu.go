package main

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/metis-devops/token-dispenser/internal/contract"
	"github.com/metis-devops/token-dispenser/internal/dispatch"
)

var menuOptions = []string{
	"Deploy token contract",
	"Send native coins to new wallets",
	"Send tokens to new wallets",
	"Exit",
}

// menu runs until the operator exits, stdin closes or ctx is cancelled. A
// failed build ends the run; other failures are reported and the menu is
// shown again.
func (a *app) menu(ctx context.Context) error {
	for {
		if info, ok := a.session.Contract(); ok {
			a.ui.Success("Token %s at %s", info.Symbol, info.Address.Hex())
		}
		choice, err := a.ui.Choose(ctx, "What do you want to do?", menuOptions)
		if err != nil {
			return quitErr(ctx, err)
		}

		switch choice {
		case 0:
			err = a.deployFlow(ctx)
		case 1:
			err = a.sendNativeFlow(ctx)
		case 2:
			err = a.sendTokenFlow(ctx)
		default:
			slog.Info("bye")
			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, contract.ErrCompilation) || errors.Is(err, contract.ErrArtifactMissing) {
			return err
		}
		if err != nil {
			a.ui.Error("%v", err)
		}
	}
}

// quitErr maps a failed menu read to the run's result: closed stdin is a
// normal exit, a cancelled ctx returns its error.
func quitErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (a *app) deployFlow(ctx context.Context) error {
	name, err := a.ui.Text(ctx, "Token name")
	if err != nil || name.Cancelled {
		return err
	}
	symbol, err := a.ui.Text(ctx, "Token symbol")
	if err != nil || symbol.Cancelled {
		return err
	}
	decimals, err := a.ui.IntRange(ctx, "Decimals (0-36)", 0, 36)
	if err != nil || decimals.Cancelled {
		return err
	}
	supply, err := a.ui.PositiveAmount(ctx, "Total supply")
	if err != nil || supply.Cancelled {
		return err
	}

	return a.deploy(ctx, contract.TokenParams{
		Name:        name.Value,
		Symbol:      symbol.Value,
		Decimals:    uint8(decimals.Value),
		TotalSupply: supply.Value,
	})
}

func (a *app) sendNativeFlow(ctx context.Context) error {
	a.printRemaining()
	count, err := a.ui.PositiveInt(ctx, "Number of transactions")
	if err != nil || count.Cancelled {
		return err
	}
	return a.sendNative(ctx, count.Value)
}

func (a *app) sendTokenFlow(ctx context.Context) error {
	if _, ok := a.session.Contract(); !ok {
		return dispatch.ErrNoContractDeployed
	}
	a.printRemaining()
	symbol, err := a.ui.Text(ctx, "Token symbol")
	if err != nil || symbol.Cancelled {
		return err
	}
	count, err := a.ui.PositiveInt(ctx, "Number of transactions")
	if err != nil || count.Cancelled {
		return err
	}
	amountPerTx, err := a.ui.PositiveAmount(ctx, "Amount per transaction")
	if err != nil || amountPerTx.Cancelled {
		return err
	}
	return a.sendToken(ctx, symbol.Value, count.Value, amountPerTx.Value)
}

func (a *app) printRemaining() {
	left, err := a.tracker.Remaining()
	if err != nil {
		slog.Warn("Failed to read quota", "err", err)
		return
	}
	a.ui.Success("%d of %d transactions left today", left, a.tracker.Limit())
}
