package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mbd888/billflow/internal/vault"
)

func vaultCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vault",
		Short: "Seal values with the credential vault (uses VAULT_SECRET)",
	}
	cmd.AddCommand(vaultEncryptCmd())
	cmd.AddCommand(vaultFingerprintCmd())
	return cmd
}

func vaultEncryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt one value per stdin line",
		Long: `Reads plaintext lines from stdin and prints one sealed value per line,
suitable for the payment_credentials key columns.

Examples:
  printf 'sk_live_...\n' | billctl vault encrypt`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := vault.New(os.Getenv("VAULT_SECRET"))
			if err != nil {
				return err
			}
			return sealLines(v, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func vaultFingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint",
		Short: "Print the fingerprint of the configured vault key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := vault.New(os.Getenv("VAULT_SECRET"))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), v.Fingerprint())
			return nil
		},
	}
}

func sealLines(v *vault.Vault, in io.Reader, out io.Writer) error {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		sealed, err := v.Encrypt(line)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, sealed)
	}
	return sc.Err()
}
