package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/certsync/internal/model"
)

// TraceSnapshot captures the complete trace for a scenario execution.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Trace        []TraceEvent `json:"trace"`
}

// toCanonicalMap converts a TraceSnapshot to a map[string]any for canonical
// JSON serialization. Zero-valued optional fields are omitted.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		m := map[string]any{
			"type": ev.Type,
			"step": ev.Step,
		}
		switch ev.Type {
		case TraceEventType:
			m["seq"] = ev.Seq
			m["kind"] = ev.Kind
			m["cert"] = ev.Cert
			m["outcome"] = ev.Outcome
			m["count"] = ev.Count
			putString(m, "trainer_ref", ev.TrainerRef)
			putString(m, "trainer", ev.Trainer)
			putString(m, "reason", ev.Reason)
			putTrue(m, "replay", ev.Replay)
			putTrue(m, "synced", ev.Synced)
		case TraceSyncType:
			m["chain"] = ev.Chain
			m["trainer"] = ev.Trainer
			m["tier"] = ev.Tier
			m["success"] = ev.Success
			m["changed"] = ev.Changed
		case TraceRefreshType:
			m["success"] = ev.Success
		}
		traceList[i] = m
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
	}
}

func putString(m map[string]any, key, v string) {
	if v != "" {
		m[key] = v
	}
}

func putTrue(m map[string]any, key string, v bool) {
	if v {
		m[key] = true
	}
}

// GoldenBytes renders a result's trace as the canonical JSON stored in
// golden files.
func GoldenBytes(scenarioName string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{ScenarioName: scenarioName, Trace: result.Trace}
	return model.MarshalCanonical(snapshot.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares the trace against a golden
// file stored in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can check assertions too.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an already computed result's trace against a
// golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := GoldenBytes(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)
	return nil
}
