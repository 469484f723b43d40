package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/systmms/svcrotate/internal/config"
	svcerrors "github.com/systmms/svcrotate/internal/errors"
)

func NewAccountsCommand(cfg *config.Config) *cobra.Command {
	var filter string

	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "List managed accounts matching a filter",
		Long: `List the managed accounts the directory reports for a filter, without
changing anything. Useful as a preview before a rotate run.

Examples:
  svcrotate accounts
  svcrotate accounts --filter 'svc-*'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAccounts(cmd, cfg, filter)
		},
	}

	cmd.Flags().StringVar(&filter, "filter", "*", "Glob pattern matched against account identifiers")

	return cmd
}

func runAccounts(cmd *cobra.Command, cfg *config.Config, filter string) error {
	if err := cfg.Load(); err != nil {
		return &svcerrors.ExitError{Code: 2, Err: err}
	}
	logger := cfg.Logger

	creds, err := config.LoadCredentials(logger)
	if err != nil {
		return &svcerrors.ExitError{Code: 2, Err: err}
	}

	dir, err := dialDirectory(cfg.Definition.Directory, creds, logger)
	if err != nil {
		return &svcerrors.ExitError{Code: 2, Err: err}
	}
	defer dir.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	accounts, err := dir.List(ctx, filter)
	if err != nil {
		return &svcerrors.ExitError{Code: 2, Err: err}
	}

	if len(accounts) == 0 {
		logger.Warn("No accounts match filter %q", filter)
		return nil
	}

	out := cmd.OutOrStdout()
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ACCOUNT\tLAST ROTATED")
	for _, account := range accounts {
		last := "unknown"
		if account.LastRotated != nil {
			last = account.LastRotated.UTC().Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%s\t%s\n", account.Identifier, last)
	}
	w.Flush()

	logger.Info("%d accounts match filter %q", len(accounts), filter)
	return nil
}
