// Package cli is the field client's command line: the offline proxy daemon plus
// commands to inspect and drain the device queue.
package cli

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"relief/internal/platform/config"
	"relief/internal/platform/logger"
)

// RootOptions holds the global flags.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
	Format     string
}

var ValidFormats = []string{"text", "json"}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "relief-field",
		Short: "Relief field client",
		Long: `Runs on an enumerator's device. Serves the registry through a caching proxy
so key pages open without connectivity, and keeps submissions made offline in a
local queue until the registry can be reached again.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "relief-field.yaml", "client config file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewProxyCommand(opts))
	cmd.AddCommand(NewEnqueueCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewRetryCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewWarmCommand(opts))
	return cmd
}

func (o *RootOptions) load(cmd *cobra.Command) (config.Client, *slog.Logger, error) {
	cfg, err := config.LoadClient(o.ConfigPath)
	if err != nil {
		return config.Client{}, nil, WrapExitError(ExitCommandError, "load config", err)
	}
	level := cfg.LogLevel
	if o.Verbose {
		level = "debug"
	}
	return cfg, logger.NewWithWriter(cmd.ErrOrStderr(), level, cfg.LogFormat), nil
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{Format: o.Format, Writer: cmd.OutOrStdout()}
}
