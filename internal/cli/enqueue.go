package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wingmanhq/offline-sync/internal/action"
	"github.com/wingmanhq/offline-sync/internal/queue"
)

// EnqueueOptions holds flags for the enqueue command.
type EnqueueOptions struct {
	*RootOptions
	Action  string
	Method  string
	Payload string
	UserID  string
	Offline bool
}

// NewEnqueueCommand creates the enqueue command.
func NewEnqueueCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EnqueueOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "enqueue <endpoint>",
		Short: "Submit a mutation through the write interceptor",
		Long: `Submit a mutation. A direct delivery is attempted first; on failure the
mutation is queued durably and replayed by a later drain pass. With
--offline the direct attempt is skipped.

Example:
  offsync enqueue --server https://app.example.com \
    --method POST --payload '{"body":"hello"}' /api/posts`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnqueue(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Action, "action", "", "logical action tag (inferred from the endpoint when empty)")
	cmd.Flags().StringVarP(&opts.Method, "method", "X", "POST", "HTTP method")
	cmd.Flags().StringVarP(&opts.Payload, "payload", "d", "", "JSON payload")
	cmd.Flags().StringVar(&opts.UserID, "user", "", "user the mutation belongs to")
	cmd.Flags().BoolVar(&opts.Offline, "offline", false, "skip the direct attempt and queue immediately")

	return cmd
}

func runEnqueue(opts *EnqueueOptions, endpoint string, cmd *cobra.Command) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	var payload json.RawMessage
	if opts.Payload != "" {
		if !json.Valid([]byte(opts.Payload)) {
			_ = out.Error(ErrCodeInput, "payload is not valid JSON")
			return WrapExitError(ExitCommandError, "payload is not valid JSON", nil)
		}
		payload = json.RawMessage(opts.Payload)
	}

	s, err := openStack(opts.RootOptions)
	if err != nil {
		_ = out.Error(ErrCodeConfig, err.Error())
		return err
	}
	defer s.Close()

	if opts.Offline {
		s.tracker.Set(false)
	}

	enq := queue.NewEnqueuer(s.store, s.client, s.tracker, s.clock, action.UUIDv7Generator{}, s.log)
	res, err := enq.Enqueue(cmd.Context(), queue.Request{
		Action:   opts.Action,
		Endpoint: endpoint,
		Method:   opts.Method,
		Payload:  payload,
		UserID:   opts.UserID,
	})
	if err != nil {
		_ = out.Error(ErrCodeInput, err.Error())
		return WrapExitError(ExitCommandError, "enqueue", err)
	}

	data := map[string]any{
		"outcome":  res.Outcome,
		"action":   res.Action.Action,
		"endpoint": res.Action.Endpoint,
	}
	var line string
	switch res.Outcome {
	case queue.OutcomeSent:
		line = fmt.Sprintf("Delivered %s %s directly.", res.Action.Method, res.Action.Endpoint)
	case queue.OutcomeQueued:
		data["id"] = res.Action.ID
		line = fmt.Sprintf("Queued %s %s as %s.", res.Action.Method, res.Action.Endpoint, res.Action.ID)
	case queue.OutcomeDeduplicated:
		line = fmt.Sprintf("Dropped %s %s: an identical mutation is already pending.", res.Action.Method, res.Action.Endpoint)
	}
	return out.Success(data, line)
}
