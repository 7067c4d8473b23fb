package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	Remote bool
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "status",
		Short:         "Show queue counts, locally and optionally on the server",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Remote, "remote", false, "also probe the server's queue status")

	return cmd
}

func runStatus(opts *StatusOptions, cmd *cobra.Command) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	s, err := openStack(opts.RootOptions)
	if err != nil {
		_ = out.Error(ErrCodeConfig, err.Error())
		return err
	}
	defer s.Close()

	counts, err := s.store.Counts(cmd.Context())
	if err != nil {
		_ = out.Error(ErrCodeStore, err.Error())
		return WrapExitError(ExitFailure, "queue counts", err)
	}

	data := map[string]any{
		"local": map[string]int{
			"pending":    counts.Pending,
			"processing": counts.Processing,
		},
	}
	lines := []string{
		fmt.Sprintf("Local queue: %d pending, %d processing.", counts.Pending, counts.Processing),
	}

	if opts.Remote {
		status, err := s.client.Status(cmd.Context())
		if err != nil {
			// The probe is timeboxed; a failure is a result, not a crash.
			data["remote_error"] = err.Error()
			lines = append(lines, fmt.Sprintf("Server status unavailable: %v", err))
		} else {
			data["remote"] = map[string]int{
				"total":      status.Total,
				"pending":    status.Pending,
				"processing": status.Processing,
			}
			lines = append(lines, fmt.Sprintf("Server queue: %d pending, %d processing (%d total).",
				status.Pending, status.Processing, status.Total))
		}
	}

	return out.Success(data, lines...)
}
