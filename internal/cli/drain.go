package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wingmanhq/offline-sync/internal/processor"
)

// NewDrainCommand creates the drain command.
func NewDrainCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Run one queue drain pass",
		Long: `Run one drain pass: ask the server to process everything it has
registered, or replay each pending mutation locally when the batch
endpoint is unavailable. The pass ends with a staleness sweep.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDrain(rootOpts, cmd)
		},
	}
	return cmd
}

func runDrain(opts *RootOptions, cmd *cobra.Command) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	s, err := openStack(opts)
	if err != nil {
		_ = out.Error(ErrCodeConfig, err.Error())
		return err
	}
	defer s.Close()

	proc := processor.New(s.store, s.client, s.tracker, s.clock, s.log,
		processor.WithMaxRetries(s.cfg.Queue.MaxRetries),
		processor.WithStaleAfter(s.cfg.Queue.StaleAfter()),
	)
	sum, err := proc.Process(cmd.Context())
	if err != nil {
		_ = out.Error(ErrCodeStore, err.Error())
		return WrapExitError(ExitFailure, "drain pass", err)
	}

	mode := "local replay"
	if sum.Batch {
		mode = "server batch"
	}
	return out.Success(map[string]any{
		"batch":     sum.Batch,
		"processed": sum.Processed,
		"failed":    sum.Failed,
		"swept":     sum.Swept,
		"remaining": sum.Remaining,
	}, fmt.Sprintf("Drained via %s: %d processed, %d failed, %d swept, %d remaining.",
		mode, sum.Processed, sum.Failed, sum.Swept, sum.Remaining))
}
