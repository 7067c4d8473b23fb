package harness

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario is one conformance scenario: an initial connectivity state
// and a sequence of steps driven through a fully wired sync stack.
type Scenario struct {
	// Name uniquely identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario validates.
	Description string `yaml:"description"`

	// Online is the initial connectivity belief.
	Online bool `yaml:"online"`

	// Steps run in order. Each step sets exactly one field.
	Steps []Step `yaml:"steps"`
}

// Step is a single scenario action. Exactly one field must be set.
type Step struct {
	// Enqueue submits a mutation through the write interceptor.
	Enqueue *EnqueueStep `yaml:"enqueue,omitempty"`

	// Event delivers a lifecycle event to the coordinator:
	// online, offline, visible or tick.
	Event string `yaml:"event,omitempty"`

	// Message delivers a protocol message to the coordinator.
	Message *MessageStep `yaml:"message,omitempty"`

	// Server reconfigures the scripted server.
	Server *ServerStep `yaml:"server,omitempty"`

	// Advance moves the scenario clock forward, e.g. "48h".
	Advance string `yaml:"advance,omitempty"`
}

// EnqueueStep is a mutation submission.
type EnqueueStep struct {
	Action   string `yaml:"action,omitempty"`
	Endpoint string `yaml:"endpoint"`
	Method   string `yaml:"method"`
	Payload  string `yaml:"payload,omitempty"`
}

// MessageStep is a protocol message delivery.
type MessageStep struct {
	Type string   `yaml:"type"`
	URLs []string `yaml:"urls,omitempty"`
}

// ServerStep scripts the fake server's behavior from this step on.
type ServerStep struct {
	// Batch is "ok" or "down". While down, drain passes degrade to
	// local replay.
	Batch string `yaml:"batch,omitempty"`

	// Processed and Failed fill the batch result while Batch is ok.
	Processed int `yaml:"processed,omitempty"`
	Failed    int `yaml:"failed,omitempty"`

	// Replay maps endpoints to HTTP status codes. Endpoints absent
	// from the map fail as network errors.
	Replay map[string]int `yaml:"replay,omitempty"`

	// Status is "ok" or "down" for the queue status probe.
	Status string `yaml:"status,omitempty"`

	// Pending and Processing fill the status result while Status is ok.
	Pending    int `yaml:"pending,omitempty"`
	Processing int `yaml:"processing,omitempty"`
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scenario: read %s: %w", path, err)
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("scenario: parse %s: %w", path, err)
	}
	if err := sc.validate(); err != nil {
		return nil, fmt.Errorf("scenario: %s: %w", path, err)
	}
	return &sc, nil
}

func (s *Scenario) validate() error {
	if s.Name == "" {
		return fmt.Errorf("missing name")
	}
	for i, step := range s.Steps {
		set := 0
		if step.Enqueue != nil {
			set++
		}
		if step.Event != "" {
			set++
			switch step.Event {
			case "online", "offline", "visible", "tick":
			default:
				return fmt.Errorf("step %d: unknown event %q", i+1, step.Event)
			}
		}
		if step.Message != nil {
			set++
		}
		if step.Server != nil {
			set++
		}
		if step.Advance != "" {
			set++
			if _, err := time.ParseDuration(step.Advance); err != nil {
				return fmt.Errorf("step %d: bad advance: %w", i+1, err)
			}
		}
		if set != 1 {
			return fmt.Errorf("step %d: exactly one of enqueue/event/message/server/advance must be set", i+1)
		}
	}
	return nil
}
