package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/shoplist/internal/ir"
)

// Snapshot captures the trace and final documents of a scenario run.
// It serializes to canonical JSON for deterministic comparison.
type Snapshot struct {
	ScenarioName string
	Trace        []TraceEvent
	Docs         map[string]ir.Doc
}

// toCanonicalMap converts a Snapshot to the generic form accepted by
// ir.MarshalCanonical.
func (s *Snapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		eventMap := map[string]any{
			"seq":     event.Seq,
			"do":      event.Do,
			"replica": event.Replica,
			"changed": event.Changed,
		}
		if event.From != "" {
			eventMap["from"] = event.From
		}
		if event.OpID != "" {
			eventMap["op_id"] = event.OpID
		}
		if event.Do == StepDeliver || event.Do == StepRedeliver {
			eventMap["applied"] = event.Applied
			eventMap["dropped"] = event.Dropped
		}
		traceList[i] = eventMap
	}

	docs := make(map[string]any, len(s.Docs))
	for id, doc := range s.Docs {
		docs[id] = doc.CanonicalObject()
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
		"docs":          docs,
	}
}

// RunWithGolden executes a scenario, fails t on any assertion error, and
// compares the snapshot against testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	for _, msg := range result.Errors {
		t.Error(msg)
	}
	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against its golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot := Snapshot{
		ScenarioName: scenarioName,
		Trace:        result.Trace,
		Docs:         result.Docs,
	}
	data, err := ir.MarshalCanonical(snapshot.toCanonicalMap())
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
