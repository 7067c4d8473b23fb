package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wingmanhq/offline-sync/internal/reconcile"
)

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Align the local queue with the server's view",
		Long: `Probe the server's queue status and clear the local queue when the
server reports no outstanding work. The probe is timeboxed; a probe
failure while reachable also clears, since the entries were most likely
handled by a path this device cannot observe.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(rootOpts, cmd)
		},
	}
	return cmd
}

func runReconcile(opts *RootOptions, cmd *cobra.Command) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	s, err := openStack(opts)
	if err != nil {
		_ = out.Error(ErrCodeConfig, err.Error())
		return err
	}
	defer s.Close()

	rec := reconcile.New(s.store, s.client, s.tracker, s.log)
	outcome, cleared, err := rec.Reconcile(cmd.Context())
	if err != nil {
		_ = out.Error(ErrCodeStore, err.Error())
		return WrapExitError(ExitFailure, "reconcile pass", err)
	}

	var line string
	switch outcome {
	case reconcile.OutcomeEmpty:
		line = "Nothing to reconcile: the local queue is empty."
	case reconcile.OutcomeKept:
		line = "Server still has outstanding work; local queue kept."
	case reconcile.OutcomeCleared:
		line = fmt.Sprintf("Cleared %d local entries already handled elsewhere.", cleared)
	case reconcile.OutcomeOffline:
		line = "Offline; local queue kept."
	}
	return out.Success(map[string]any{
		"outcome": outcome.String(),
		"cleared": cleared,
	}, line)
}
