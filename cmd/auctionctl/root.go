package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"auctionhouse/internal/app"
	"auctionhouse/internal/config"
	"auctionhouse/internal/logger"
)

type rootOptions struct {
	ConfigPath string
	EnvOnly    bool
	JSON       bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "auctionctl",
		Short:         "Operator tools for the auction house",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "config/config.yaml", "config file")
	cmd.PersistentFlags().BoolVar(&opts.EnvOnly, "env-only", false, "read configuration from AH_* variables only")
	cmd.PersistentFlags().BoolVar(&opts.JSON, "json", false, "print results as JSON")

	cmd.AddCommand(newAddressCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newQueueCommand(opts))
	cmd.AddCommand(newSlotCommand(opts))
	cmd.AddCommand(newActivateNextCommand(opts))
	cmd.AddCommand(newEndCommand(opts))
	cmd.AddCommand(newReleaseFundsCommand(opts))
	cmd.AddCommand(newSweepCommand(opts))
	return cmd
}

func (o *rootOptions) config() (config.Config, error) {
	return config.Load(o.ConfigPath, o.EnvOnly)
}

// withApp boots the full application for one command. Background loops are
// not started.
func (o *rootOptions) withApp(ctx context.Context, fn func(a *app.App) error) error {
	cfg, err := o.config()
	if err != nil {
		return err
	}
	cfg.Log.Encoding = "console"
	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("bootstrap failed", zap.Error(err))
		return err
	}
	defer a.Close()
	return fn(a)
}

func (o *rootOptions) print(w io.Writer, v any, text func(io.Writer)) error {
	if o.JSON || text == nil {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
