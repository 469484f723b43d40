package main

import (
	"fmt"
	"io"
	"os"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"

	"github.com/systmms/svcrotate/cmd/svcrotate/commands"
	"github.com/systmms/svcrotate/internal/config"
	svcerrors "github.com/systmms/svcrotate/internal/errors"
	"github.com/systmms/svcrotate/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Wipe any remaining secret enclaves on exit.
	defer memguard.Purge()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(svcerrors.ExitCodeOf(err))
	}
}

func run() error {
	// Global flags
	var (
		configFile     string
		logPath        string
		noColor        bool
		debug          bool
		nonInteractive bool
	)

	cfg := &config.Config{}

	var logCloser io.Closer
	defer func() {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	}()

	rootCmd := &cobra.Command{
		Use:   "svcrotate",
		Short: "Rotate managed service-account credentials across a farm",
		Long: `svcrotate coordinates service-account credential changes between the
identity directory and the farm platform's credential cache, then triggers
propagation so dependent services pick up the new credential without manual
restarts.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.New(debug, noColor)
			if logPath != "" {
				fileLogger, closer, err := logging.NewFile(logPath, debug)
				if err != nil {
					return &svcerrors.ExitError{Code: 2, Err: svcerrors.UserError{
						Message:    fmt.Sprintf("Cannot open log file '%s'", logPath),
						Suggestion: "Check the path and its directory permissions",
						Err:        err,
					}}
				}
				logCloser = closer
				logger = fileLogger
			}

			cfg.Path = configFile
			cfg.Logger = logger
			cfg.NonInteractive = nonInteractive
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "svcrotate.yaml", "Config file path")
	rootCmd.PersistentFlags().StringVar(&logPath, "log-path", "", "Append log output to this file instead of stderr")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&nonInteractive, "non-interactive", false, "Non-interactive mode")

	rootCmd.AddCommand(
		commands.NewRotateCommand(cfg),
		commands.NewAccountsCommand(cfg),
	)

	return rootCmd.Execute()
}
