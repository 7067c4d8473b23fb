package cli

import (
	"log/slog"

	"github.com/wingmanhq/offline-sync/internal/api"
	"github.com/wingmanhq/offline-sync/internal/clock"
	"github.com/wingmanhq/offline-sync/internal/config"
	"github.com/wingmanhq/offline-sync/internal/netstate"
	"github.com/wingmanhq/offline-sync/internal/queue"
)

// stack bundles the pieces every queue-facing command needs. One-shot
// commands assume connectivity; every network path degrades to the
// durable queue on failure anyway.
type stack struct {
	cfg     config.Config
	store   queue.Store
	client  *api.Client
	tracker *netstate.Tracker
	clock   clock.Clock
	log     *slog.Logger
}

func openStack(opts *RootOptions) (*stack, error) {
	cfg, err := opts.LoadConfig()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "configuration", err)
	}

	store, err := queue.OpenSQLite(cfg.Queue.Path, queue.WithMaxEntries(cfg.Queue.MaxEntries))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open queue store", err)
	}

	return &stack{
		cfg:     cfg,
		store:   store,
		client:  api.New(cfg.Server.BaseURL, nil, api.WithStatusTimeout(cfg.Server.StatusTimeout())),
		tracker: netstate.NewTracker(true),
		clock:   clock.System{},
		log:     opts.Logger(),
	}, nil
}

func (s *stack) Close() {
	if err := s.store.Close(); err != nil {
		s.log.Error("closing queue store", "error", err)
	}
}
