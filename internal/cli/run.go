package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wingmanhq/offline-sync/internal/api"
	"github.com/wingmanhq/offline-sync/internal/cache"
	"github.com/wingmanhq/offline-sync/internal/coordinator"
	"github.com/wingmanhq/offline-sync/internal/processor"
	"github.com/wingmanhq/offline-sync/internal/reconcile"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the sync loop",
		Long: `Run the sync event loop: activate the cache, then drain and reconcile
the mutation queue on the configured cadence until interrupted.

Example:
  offsync run --config offsync.cue
  offsync run --server https://app.example.com --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoop(rootOpts, cmd)
		},
	}
	return cmd
}

func runLoop(opts *RootOptions, cmd *cobra.Command) error {
	s, err := openStack(opts)
	if err != nil {
		return err
	}
	defer s.Close()
	log := s.log

	m, err := cache.Open(s.cfg.Cache.Path, cache.NewHTTPFetcher(s.cfg.Server.BaseURL), s.clock, cacheConfig(s.cfg), log)
	if err != nil {
		return WrapExitError(ExitCommandError, "open cache", err)
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			log.Error("closing cache", "error", closeErr)
		}
	}()

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			log.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	log.Info("activating cache",
		"static", s.cfg.Cache.StaticGeneration,
		"runtime", s.cfg.Cache.RuntimeGeneration)
	if err := m.Activate(ctx); err != nil {
		return WrapExitError(ExitCommandError, "cache activation", err)
	}

	proc := processor.New(s.store, s.client, s.tracker, s.clock, log,
		processor.WithMaxRetries(s.cfg.Queue.MaxRetries),
		processor.WithStaleAfter(s.cfg.Queue.StaleAfter()),
	)
	rec := reconcile.New(s.store, s.client, s.tracker, log)

	coordOpts := []coordinator.Option{
		coordinator.WithTick(s.cfg.Sync.Tick()),
		coordinator.WithProbe(statusProbe{s.client}),
	}
	if s.cfg.Sync.BackgroundWake {
		coordOpts = append(coordOpts, coordinator.WithWake(coordinator.PlatformWake{}))
	}
	coord := coordinator.New(s.tracker, proc, rec, m, logBroadcaster{log}, log, coordOpts...)

	// Catch up before the first tick: reconcile, then drain.
	coord.Dispatch(ctx, coordinator.TabVisible{})

	log.Info("sync loop started", "tick", s.cfg.Sync.Tick())
	fmt.Fprintln(cmd.OutOrStdout(), "Sync loop started. Press Ctrl-C to stop.")

	if err := coord.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "sync loop", err)
	}
	log.Info("sync loop stopped")
	return nil
}

// statusProbe reuses the queue-status endpoint as a reachability check
// for recovering from the offline state.
type statusProbe struct{ client *api.Client }

func (p statusProbe) Probe(ctx context.Context) error {
	_, err := p.client.Status(ctx)
	return err
}

// logBroadcaster surfaces protocol announcements in the daemon log.
type logBroadcaster struct{ log *slog.Logger }

func (b logBroadcaster) Broadcast(m coordinator.Message) {
	b.log.Info("broadcast", "type", m.Type, "processed", m.Processed, "failed", m.Failed)
}
