package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wingmanhq/offline-sync/internal/cache"
	"github.com/wingmanhq/offline-sync/internal/clock"
	"github.com/wingmanhq/offline-sync/internal/config"
)

// NewCacheCommand creates the cache command group.
func NewCacheCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the resource cache",
	}
	cmd.AddCommand(newCacheWarmCommand(rootOpts))
	cmd.AddCommand(newCacheActivateCommand(rootOpts))
	return cmd
}

func newCacheWarmCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "warm [url...]",
		Short:         "Precache URLs (defaults to the configured precache list)",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			m, cfg, err := openCache(rootOpts)
			if err != nil {
				_ = out.Error(ErrCodeConfig, err.Error())
				return err
			}
			defer m.Close()

			urls := args
			if len(urls) == 0 {
				urls = cfg.Cache.Precache
			}
			if err := m.Precache(cmd.Context(), urls); err != nil {
				_ = out.Error(ErrCodeNetwork, err.Error())
				return WrapExitError(ExitFailure, "precache", err)
			}
			return out.Success(map[string]any{"warmed": len(urls)},
				fmt.Sprintf("Warmed %d URLs.", len(urls)))
		},
	}
}

func newCacheActivateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "activate",
		Short: "Rotate cache generations",
		Long: `Ensure the configured static and runtime generations exist, warm the
precache list, then delete every other generation. Run after bumping
generation names to invalidate stale cached resources.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			m, cfg, err := openCache(rootOpts)
			if err != nil {
				_ = out.Error(ErrCodeConfig, err.Error())
				return err
			}
			defer m.Close()

			if err := m.Activate(cmd.Context()); err != nil {
				_ = out.Error(ErrCodeStore, err.Error())
				return WrapExitError(ExitFailure, "activate", err)
			}
			return out.Success(map[string]any{
				"static":  cfg.Cache.StaticGeneration,
				"runtime": cfg.Cache.RuntimeGeneration,
			}, fmt.Sprintf("Active generations: %s, %s.",
				cfg.Cache.StaticGeneration, cfg.Cache.RuntimeGeneration))
		},
	}
}

func openCache(opts *RootOptions) (*cache.Manager, config.Config, error) {
	cfg, err := opts.LoadConfig()
	if err != nil {
		return nil, config.Config{}, WrapExitError(ExitCommandError, "configuration", err)
	}
	m, err := cache.Open(cfg.Cache.Path, cache.NewHTTPFetcher(cfg.Server.BaseURL), clock.System{}, cacheConfig(cfg), opts.Logger())
	if err != nil {
		return nil, config.Config{}, WrapExitError(ExitCommandError, "open cache", err)
	}
	return m, cfg, nil
}

func cacheConfig(cfg config.Config) cache.Config {
	return cache.Config{
		StaticGeneration:    cfg.Cache.StaticGeneration,
		RuntimeGeneration:   cfg.Cache.RuntimeGeneration,
		Origin:              cfg.Server.BaseURL,
		OfflinePath:         cfg.Cache.OfflinePath,
		PlaceholderIconPath: cfg.Cache.PlaceholderIcon,
		PrecacheURLs:        cfg.Cache.Precache,
		IdentifyingParams:   cfg.Cache.IdentifyingParams,
	}
}
