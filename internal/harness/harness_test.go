package harness

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths, "no scenario files found")

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		t.Run(name, func(t *testing.T) {
			RunGolden(t, path)
		})
	}
}

func TestLoadScenario_Validation(t *testing.T) {
	write := func(t *testing.T, content string) string {
		t.Helper()
		path := filepath.Join(t.TempDir(), "scenario.yaml")
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		return path
	}

	tests := []struct {
		name    string
		content string
	}{
		{"missing name", "steps:\n  - event: tick\n"},
		{"unknown event", "name: x\nsteps:\n  - event: reboot\n"},
		{"empty step", "name: x\nsteps:\n  - {}\n"},
		{
			"two fields in one step",
			"name: x\nsteps:\n  - event: tick\n    advance: 1h\n",
		},
		{"bad advance", "name: x\nsteps:\n  - advance: soon\n"},
		{"not yaml", "{{{"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenario(write(t, tt.content))
			assert.Error(t, err)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestRun_SnapshotIncludesFinalQueue(t *testing.T) {
	// a queued entry the drain never touches must appear in the snapshot
	sc := &Scenario{
		Name:   "inline",
		Online: false,
		Steps: []Step{
			{Enqueue: &EnqueueStep{
				Action:   "create_post",
				Endpoint: "/api/posts",
				Method:   "POST",
				Payload:  `{"body":"held"}`,
			}},
		},
	}
	snap, err := Run(sc)
	require.NoError(t, err)
	require.Len(t, snap.Queue, 1)
	assert.Equal(t, "act-0001", snap.Queue[0].ID)
	assert.Equal(t, "pending", snap.Queue[0].Status)
	assert.Equal(t, 0, snap.Queue[0].Retries)
}
