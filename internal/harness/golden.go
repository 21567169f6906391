package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/atsguard/internal/digest"
)

// TraceSnapshot captures the trace of one scenario execution.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Trace        []TraceEvent `json:"trace"`
}

// toCanonicalMap converts the snapshot for digest.MarshalCanonical, which
// takes only maps, slices and primitives. Empty fields are omitted.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	trace := make([]any, len(s.Trace))
	for i, e := range s.Trace {
		m := map[string]any{
			"step":    e.Step,
			"op":      e.Op,
			"outcome": e.Outcome,
		}
		put := func(key, val string) {
			if val != "" {
				m[key] = val
			}
		}
		put("actor", e.Actor)
		put("subject", e.Subject)
		put("target", e.Target)
		put("from", e.From)
		put("to", e.To)
		put("rule", e.Rule)
		put("decision", e.Decision)
		put("matched", e.Matched)
		if e.Reused {
			m["reused"] = true
		}
		if e.Seq != 0 {
			m["seq"] = e.Seq
		}
		if len(e.Contenders) > 0 {
			m["contenders"] = e.Contenders
		}
		if e.Committed != 0 {
			m["committed"] = e.Committed
		}
		if e.Conflicts != 0 {
			m["conflicts"] = e.Conflicts
		}
		trace[i] = m
	}
	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         trace,
	}
}

// MarshalTrace renders a trace as canonical JSON.
func MarshalTrace(scenarioName string, trace []TraceEvent) ([]byte, error) {
	snapshot := TraceSnapshot{ScenarioName: scenarioName, Trace: trace}
	return digest.MarshalCanonical(snapshot.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares its trace against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
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

// AssertGolden compares an existing result's trace against a golden file
// without re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := MarshalTrace(scenarioName, result.Trace)
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
