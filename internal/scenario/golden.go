package scenario

import (
	"testing"

	"github.com/sebdah/goldie/v2"
)

// AssertGolden compares the result's trace with testdata/golden/<name>.golden.
// Regenerate with: go test ./internal/scenario -update
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()

	data, err := result.TraceJSON(name)
	if err != nil {
		t.Fatalf("marshal trace: %v", err)
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
}
