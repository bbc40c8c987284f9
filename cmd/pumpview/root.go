package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Suhridx/pump-dashboard/config"
)

// cliOptions are the persistent flags shared by every command.
type cliOptions struct {
	configPaths []string
	logLevel    string
	logFormat   string

	// filled in by load
	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:           appName,
		Short:         "Live reconciled view of a water pump controller",
		Long:          "pumpview keeps a live, reconciled view of one pump controller's telemetry and serves it to subscribers over HTTP and websockets.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringArrayVarP(&opts.configPaths, "config", "c", nil,
		"configuration file (.json, .yaml, .toml); repeat to layer files, later files win")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "log format: json, text (overrides config)")

	root.AddCommand(
		newServeCmd(opts),
		newValidateCmd(opts),
		newSendCmd(opts),
		newArchiveCmd(opts),
		newVersionCmd(),
	)
	return root
}

// load reads and validates configuration, then installs the root logger.
func (o *cliOptions) load(stderr io.Writer) error {
	loader := config.NewLoader()
	for _, p := range o.configPaths {
		loader.AddLayer(p)
	}
	loader.EnableValidation(true)

	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Log.Format = o.logFormat
	}

	o.cfg = cfg
	o.logger = setupLogger(stderr, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(o.logger)
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (built %s)\n", appName, Version, BuildTime)
		},
	}
}

func newValidateCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate configuration, then print it with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.load(cmd.ErrOrStderr()); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Configuration is valid")
			fmt.Fprintln(out, opts.cfg.String())
			return nil
		},
	}
}
