package main

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/mbd888/billflow/internal/invoice"
	"github.com/mbd888/billflow/internal/logging"
)

func sweepCmd() *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one overdue sweep pass and print the report",
		Long: `Re-derives the payment status of every pending invoice that is past due.

Examples:
  billctl sweep
  billctl sweep --at 2026-01-31T00:00:00Z`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now().UTC()
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return err
				}
				now = t.UTC()
			}

			ctx := cmd.Context()
			db, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			logger := logging.New("info", "text")
			store := invoice.NewPostgresStore(db)
			sweeper := invoice.NewSweeper(invoice.NewService(store), store, time.Minute, logger)

			report, sweepErr := sweeper.Sweep(ctx, now)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			return sweepErr
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "evaluate due dates as of this RFC 3339 time")
	return cmd
}
