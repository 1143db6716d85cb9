package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mbd888/billflow/internal/auth"
)

func keysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys",
	}
	cmd.AddCommand(keysCreateCmd())
	return cmd
}

func keysCreateCmd() *cobra.Command {
	var (
		account string
		name    string
		admin   bool
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Issue an API key for an account",
		Long: `Issues a new API key. The raw key is printed once and cannot be recovered.

Examples:
  billctl keys create --account acct_123 --name ci
  billctl keys create --account acct_ops --name finance --admin
  billctl keys create --account acct_123 --name contractor --ttl 720h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			raw, key, err := auth.NewManager(auth.NewPostgresStore(db)).IssueKey(ctx, auth.KeyRequest{
				AccountID: account,
				Name:      name,
				Admin:     admin,
				TTL:       ttl,
			})
			if err != nil {
				return fmt.Errorf("create key: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "key id:  %s\n", key.ID)
			fmt.Fprintf(out, "account: %s (admin=%t)\n", key.AccountID, key.Admin)
			if key.ExpiresAt != nil {
				fmt.Fprintf(out, "expires: %s\n", key.ExpiresAt.Format(time.RFC3339))
			}
			fmt.Fprintf(out, "api key: %s\n", raw)
			return nil
		},
	}

	cmd.Flags().StringVar(&account, "account", "", "account the key acts for")
	cmd.Flags().StringVar(&name, "name", "cli", "label shown in key listings")
	cmd.Flags().BoolVar(&admin, "admin", false, "grant the approval capability")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "expire the key after this long (0 never expires)")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}
