package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Strob0t/ledgersync/internal/config"
	"github.com/Strob0t/ledgersync/internal/logger"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Format     string // "text" | "json"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the ledgersync root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "ledgersync",
		Short: "Mirror GitHub issues into a Notion database",
		Long: `ledgersync keeps one Notion database entry per GitHub issue.

It applies issue webhooks as they arrive (serve), runs in a GitHub Actions
workflow (action), or reconciles a whole repository on demand (reconcile).`,
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", config.DefaultConfigFile, "path to the YAML configuration file")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewReconcileCommand(opts))
	cmd.AddCommand(NewActionCommand(opts))

	return cmd
}

// load reads the configuration and builds the logger. Configuration errors
// surface here, before any network call.
func (o *RootOptions) load() (*config.Config, *slog.Logger, logger.Closer, error) {
	cfg, err := config.LoadFrom(o.ConfigPath)
	if err != nil {
		return nil, nil, nil, err
	}
	log, closer := logger.New(cfg.Logging)
	return cfg, log, closer, nil
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
