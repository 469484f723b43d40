package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/systmms/svcrotate/internal/config"
	"github.com/systmms/svcrotate/internal/directory"
	svcerrors "github.com/systmms/svcrotate/internal/errors"
	"github.com/systmms/svcrotate/internal/logging"
	"github.com/systmms/svcrotate/internal/platform"
	"github.com/systmms/svcrotate/internal/propagate"
	"github.com/systmms/svcrotate/internal/rotation"
	"github.com/systmms/svcrotate/internal/secretsource"
)

// directoryConn is the slice of the LDAP directory the commands need.
type directoryConn interface {
	directory.Directory
	Close()
}

// dialDirectory is a seam for tests; production dials LDAP.
var dialDirectory = func(cfg config.DirectoryConfig, creds *config.Credentials, logger *logging.Logger) (directoryConn, error) {
	return directory.NewLDAPDirectory(cfg, creds, logger)
}

func NewRotateCommand(cfg *config.Config) *cobra.Command {
	var (
		mode                string
		filter              string
		confirmEach         bool
		suppressPropagation bool
		maxConcurrency      int
		secretStdin         bool
		dryRun              bool
	)

	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "Rotate credentials for managed accounts matching a filter",
		Long: `Rotate service-account credentials between the directory and the farm
platform's credential cache.

Modes:
  adopt-existing   Synchronize the platform to a credential already changed
                   out-of-band in the directory.
  set-new          Write a new credential to both the directory and the
                   platform. The value is prompted per account, read once
                   from stdin with --secret-stdin, or generated when running
                   non-interactively.

One account's failure never aborts the batch; each account is reported
individually. After the batch, dependent services are restarted once if at
least one rotation succeeded.

Examples:
  # Adopt directory passwords for every managed account
  svcrotate rotate --mode adopt-existing --filter '*'

  # Set new generated credentials for the svc-* accounts, four at a time
  svcrotate rotate --mode set-new --filter 'svc-*' --non-interactive --max-concurrency 4

  # Ask before each account and skip the service restart
  svcrotate rotate --mode adopt-existing --filter 'svc-?' --confirm-each --suppress-propagation`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rotMode := platform.Mode(mode)
			if !rotMode.Valid() {
				return &svcerrors.ExitError{Code: 2, Err: svcerrors.UserError{
					Message:    fmt.Sprintf("Invalid --mode value: %s", mode),
					Suggestion: "Valid values are: adopt-existing, set-new",
				}}
			}
			if confirmEach && cfg.NonInteractive {
				return &svcerrors.ExitError{Code: 2, Err: svcerrors.UserError{
					Message:    "--confirm-each cannot be combined with --non-interactive",
					Suggestion: "Drop one of the two flags",
				}}
			}

			return runRotate(cmd, cfg, rotation.RunOptions{
				Filter:              filter,
				Mode:                rotMode,
				ConfirmEach:         confirmEach,
				SuppressPropagation: suppressPropagation,
				MaxConcurrency:      maxConcurrency,
				DryRun:              dryRun,
			}, secretStdin)
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "", "Rotation mode: adopt-existing or set-new (required)")
	cmd.Flags().StringVar(&filter, "filter", "*", "Glob pattern matched against account identifiers")
	cmd.Flags().BoolVar(&confirmEach, "confirm-each", false, "Ask before rotating each account")
	cmd.Flags().BoolVar(&suppressPropagation, "suppress-propagation", false, "Do not restart dependent services after the batch")
	cmd.Flags().IntVar(&maxConcurrency, "max-concurrency", 1, "Rotate up to N accounts in parallel")
	cmd.Flags().BoolVar(&secretStdin, "secret-stdin", false, "Read one new credential from stdin and use it for every account (set-new only)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be rotated without making changes")

	_ = cmd.MarkFlagRequired("mode")

	return cmd
}

func runRotate(cmd *cobra.Command, cfg *config.Config, opts rotation.RunOptions, secretStdin bool) error {
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

	// Confirmation and secret prompts share stdin, so one mutex guards
	// every read; concurrent workers never interleave the two.
	stdin := bufio.NewReader(cmd.InOrStdin())
	var promptMu sync.Mutex
	policy := secretsource.Policy{MinLength: cfg.Definition.Policy.MinSecretLength}

	provider, err := buildProvider(cmd, cfg, opts, policy, stdin, &promptMu, secretStdin)
	if err != nil {
		return &svcerrors.ExitError{Code: 2, Err: err}
	}

	var confirm rotation.ConfirmFunc
	if opts.ConfirmEach {
		confirm = rotation.SerializeConfirm(&promptMu, confirmPrompt(stdin, cmd.ErrOrStderr()))
	}

	rotation.InitMetrics()
	metrics := rotation.NewMetrics()

	store := platform.NewHTTPStore(cfg.Definition.Platform, creds.PlatformToken, dir, logger)
	trigger := propagate.FromConfig(cfg.Definition.Propagation, creds.PlatformToken, logger)
	machine := rotation.NewMachine(provider, store, confirm, logger, metrics)
	orch := rotation.NewOrchestrator(dir, machine, trigger, logger, metrics)

	// Ctrl-C stops launching new accounts, drains in-flight rotations
	// and skips propagation.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := orch.Run(ctx, opts)
	if err != nil {
		return &svcerrors.ExitError{Code: 2, Err: err}
	}

	renderSummary(cmd.OutOrStdout(), summary)

	if code := summary.ExitCode(); code != 0 {
		return &svcerrors.ExitError{Code: code, Err: summaryError(summary)}
	}
	return nil
}

func buildProvider(cmd *cobra.Command, cfg *config.Config, opts rotation.RunOptions, policy secretsource.Policy, stdin *bufio.Reader, promptMu *sync.Mutex, secretStdin bool) (secretsource.Provider, error) {
	if opts.Mode != platform.ModeSetNew {
		return nil, nil
	}

	switch {
	case secretStdin:
		line, err := stdin.ReadString('\n')
		if err != nil && line == "" {
			return nil, svcerrors.UserError{
				Message:    "No secret supplied on stdin",
				Suggestion: "Pipe the new credential value into svcrotate when using --secret-stdin",
			}
		}
		return &secretsource.Static{Policy: policy, Value: strings.TrimRight(line, "\r\n")}, nil

	case cfg.NonInteractive:
		return secretsource.NewGenerator(policy), nil

	default:
		return &secretsource.Prompt{Policy: policy, Reader: stdin, Out: cmd.ErrOrStderr(), Mu: promptMu}, nil
	}
}

func confirmPrompt(stdin *bufio.Reader, out io.Writer) rotation.ConfirmFunc {
	return func(ctx context.Context, account directory.ManagedAccount) (bool, error) {
		fmt.Fprintf(out, "Rotate %s? [y/N]: ", account.Identifier)
		line, err := stdin.ReadString('\n')
		if err != nil && line == "" {
			return false, err
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes", nil
	}
}

func renderSummary(out io.Writer, summary *rotation.Summary) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ACCOUNT\tRESULT\tDETAIL")
	for _, outcome := range summary.Outcomes {
		detail := outcome.Detail
		if outcome.ErrorKind != "" {
			detail = string(outcome.ErrorKind)
			if outcome.ManualRemediation {
				detail += " (manual follow-up required)"
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", outcome.Account, outcome.State, detail)
	}
	w.Flush()

	fmt.Fprintf(out, "\nsucceeded=%d skipped=%d failed=%d manualRemediationNeeded=%d\n",
		summary.Succeeded, summary.Skipped, summary.Failed, summary.ManualRemediation)
	if summary.PropagationError != "" {
		fmt.Fprintf(out, "propagation failed: %s\n", summary.PropagationError)
	}
}

func summaryError(summary *rotation.Summary) error {
	if summary.AnyFailed() {
		return fmt.Errorf("%d of %d accounts failed", summary.Failed, len(summary.Outcomes))
	}
	return fmt.Errorf("all rotations succeeded but propagation failed: %s", summary.PropagationError)
}
