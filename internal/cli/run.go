package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pomobot/internal/app"
	"pomobot/internal/config"

	"github.com/spf13/cobra"
)

func newRunCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the bot (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), *cfgPath)
		},
	}
}

func run(parent context.Context, cfgPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfgm := config.NewConfigManager(cfgPath)
	if _, err := cfgm.Load(); err != nil {
		return err
	}
	a, err := app.New(ctx, cfgm)
	if err != nil {
		return err
	}

	startErr := a.Start(ctx)
	if startErr == nil {
		select {
		case <-ctx.Done():
		case <-a.Done():
		}
	}

	reason := app.StopSignal
	fatal := a.Err()
	if startErr != nil || fatal != nil {
		reason = app.StopFatalError
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)

	return errors.Join(startErr, fatal)
}
