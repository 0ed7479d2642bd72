package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestScenarios runs every scenario under testdata/scenarios against its
// golden snapshot.
//
// To regenerate golden files after an intended behavior change:
//
//	go test ./internal/harness -run TestScenarios -update
func TestScenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)
			require.Equal(t, name, scenario.Name, "file name and scenario name must match")
			require.NoError(t, RunWithGolden(t, scenario))
		})
	}
}

func TestSnapshotCanonicalMap(t *testing.T) {
	s := Snapshot{
		ScenarioName: "x",
		Trace: []TraceEvent{
			{Seq: 1, Do: StepUpsert, Replica: "a", OpID: "a-1", Changed: true},
			{Seq: 2, Do: StepDeliver, Replica: "b", From: "a", Applied: 1},
			{Seq: 3, Do: StepSync, Replica: "a", From: "b"},
		},
	}
	m := s.toCanonicalMap()
	trace := m["trace"].([]any)
	require.Len(t, trace, 3)

	local := trace[0].(map[string]any)
	require.Equal(t, "a-1", local["op_id"])
	require.NotContains(t, local, "applied")
	require.NotContains(t, local, "from")

	deliver := trace[1].(map[string]any)
	require.Equal(t, 1, deliver["applied"])
	require.Equal(t, 0, deliver["dropped"])

	sync := trace[2].(map[string]any)
	require.NotContains(t, sync, "applied")
	require.Equal(t, "b", sync["from"])
}
