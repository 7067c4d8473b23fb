package harness

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// RunGolden executes a scenario file and compares the snapshot against
// testdata/golden/{name}.golden. Regenerate with:
//
//	go test ./internal/harness -update
func RunGolden(t *testing.T, path string) {
	t.Helper()

	sc, err := LoadScenario(path)
	if err != nil {
		t.Fatalf("load scenario: %v", err)
	}
	snap, err := Run(sc)
	if err != nil {
		t.Fatalf("run scenario: %v", err)
	}

	out, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	out = append(out, '\n')

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, sc.Name, out)
}
