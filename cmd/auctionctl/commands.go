package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"auctionhouse/internal/app"
	"auctionhouse/internal/chain"
	"auctionhouse/internal/db"
	"auctionhouse/internal/models"
	"auctionhouse/internal/service"
)

var mistPerSui = decimal.New(1, 9)

// sui renders an amount in the smallest unit as whole currency.
func sui(amount int64) string {
	return decimal.NewFromInt(amount).Div(mistPerSui).String()
}

func newAddressCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "address",
		Short: "Print the address of the configured admin key",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config()
			if err != nil {
				return err
			}
			if cfg.Chain.AdminKey == "" {
				return errors.New("chain.admin_key is not set")
			}
			kp, err := chain.ParseKeystoreEntry(cfg.Chain.AdminKey)
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "%s\n", kp.Address())
			return nil
		},
	}
}

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config()
			if err != nil {
				return err
			}
			cfg.DB.AutoMigrate = true
			conn, err := db.Setup(cmd.Context(), cfg.DB, nil)
			if err != nil {
				return err
			}
			defer db.Close(conn)
			printf(cmd.OutOrStdout(), "schema up to date\n")
			return nil
		},
	}
}

func printRecords(w io.Writer, items []models.AuctionRecord) {
	if len(items) == 0 {
		printf(w, "(empty)\n")
		return
	}
	for i, rec := range items {
		prio := ""
		if rec.IsPriority {
			prio = " [priority]"
		}
		printf(w, "%2d. %s  %-16s %s  start %s SUI  %dh%s\n",
			i+1, rec.ID, rec.Status, rec.Name, sui(rec.StartingBid), rec.AuctionDurationHours, prio)
	}
}

func printOutcome(opts *rootOptions, w io.Writer, out *service.Outcome) error {
	return opts.print(w, out, func(w io.Writer) {
		switch {
		case out == nil:
			printf(w, "nothing to do\n")
		case out.Skipped:
			printf(w, "skipped: ledger already in the requested state\n")
		default:
			if out.Record != nil {
				printf(w, "%s -> %s\n", out.Record.ID, out.Record.Status)
			}
			if out.Digest != "" {
				printf(w, "digest %s\n", out.Digest)
			}
		}
		if out != nil && out.Divergent {
			printf(w, "WARNING: record write unconfirmed, divergence recorded\n")
		}
	})
}

func newQueueCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "List queued auctions in activation order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), func(a *app.App) error {
				items, err := a.Machine.Queue(cmd.Context())
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), items, func(w io.Writer) { printRecords(w, items) })
			})
		},
	}
}

func newSlotCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "slot",
		Short: "Show the active auction and the cooldown",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), func(a *app.App) error {
				slot, err := a.Machine.SlotState(cmd.Context())
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), slot, nil)
			})
		},
	}
}

func newActivateNextCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "activate-next",
		Short: "Start the auction at the head of the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), func(a *app.App) error {
				out, err := a.Machine.ActivateNext(cmd.Context(), service.SystemCaller(a.Machine.Config.AdminAddress))
				if err != nil {
					return err
				}
				return printOutcome(opts, cmd.OutOrStdout(), out)
			})
		},
	}
}

func recordCommand(opts *rootOptions, use, short string, action func(a *app.App) func(*cobra.Command, uuid.UUID) (*service.Outcome, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <auction-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid auction id: %w", err)
			}
			return opts.withApp(cmd.Context(), func(a *app.App) error {
				out, err := action(a)(cmd, id)
				if err != nil {
					return err
				}
				return printOutcome(opts, cmd.OutOrStdout(), out)
			})
		},
	}
}

func newEndCommand(opts *rootOptions) *cobra.Command {
	return recordCommand(opts, "end", "End an active auction", func(a *app.App) func(*cobra.Command, uuid.UUID) (*service.Outcome, error) {
		return func(cmd *cobra.Command, id uuid.UUID) (*service.Outcome, error) {
			return a.Machine.EndAuction(cmd.Context(), service.SystemCaller(a.Machine.Config.AdminAddress), id)
		}
	})
}

func newReleaseFundsCommand(opts *rootOptions) *cobra.Command {
	return recordCommand(opts, "release-funds", "Pay out a completed auction", func(a *app.App) func(*cobra.Command, uuid.UUID) (*service.Outcome, error) {
		return func(cmd *cobra.Command, id uuid.UUID) (*service.Outcome, error) {
			return a.Machine.ReleaseFunds(cmd.Context(), service.SystemCaller(a.Machine.Config.AdminAddress), id)
		}
	})
}

func newSweepCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Reconcile records against the chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), func(a *app.App) error {
				start := time.Now()
				report, err := a.Machine.Sweep(cmd.Context())
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), report, func(w io.Writer) {
					printf(w, "checked %d, repaired %d, divergent %d in %s\n",
						report.Checked, report.Repaired, report.Divergent, time.Since(start).Round(time.Millisecond))
					for _, e := range report.Errors {
						printf(w, "  error: %s\n", e)
					}
				})
			})
		},
	}
}
