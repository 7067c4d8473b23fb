// Package cli implements the offsync command line interface.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/wingmanhq/offline-sync/internal/config"
)

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Config  string // path to a CUE configuration file
	Server  string // base URL shortcut when no config file is given
}

// ValidFormats lists the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the offsync root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "offsync",
		Short: "Offline-first sync daemon and toolbox",
		Long: `offsync keeps a device usable without a network connection: writes are
queued durably and replayed when connectivity returns, and resources are
cached with per-class strategies so reads keep resolving offline.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Config, "config", "", "path to CUE configuration file")
	cmd.PersistentFlags().StringVar(&opts.Server, "server", "", "server base URL (shortcut for a default config)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewEnqueueCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewDrainCommand(opts))
	cmd.AddCommand(NewReconcileCommand(opts))
	cmd.AddCommand(NewCacheCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// LoadConfig resolves the effective configuration: an explicit file
// wins, otherwise --server fills a default config.
func (o *RootOptions) LoadConfig() (config.Config, error) {
	if o.Config != "" {
		return config.Load(o.Config)
	}
	if o.Server != "" {
		return config.Default(o.Server)
	}
	return config.Config{}, fmt.Errorf("either --config or --server is required")
}

// Logger builds the CLI logger: text on stderr, debug when verbose.
func (o *RootOptions) Logger() *slog.Logger {
	level := slog.LevelInfo
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
