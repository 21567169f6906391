package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, yaml string) *Scenario {
	t.Helper()
	s, err := ParseScenario([]byte(yaml))
	require.NoError(t, err)
	return s
}

// TestScenarios runs every scenario under testdata/scenarios and compares
// its trace against the golden file of the same name.
func TestScenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		t.Run(name, func(t *testing.T) {
			s, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := RunWithGolden(t, s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.Len(t, result.Trace, len(s.Steps))
		})
	}
}

func TestRun_UnmetExpectationFails(t *testing.T) {
	s := mustParse(t, `
name: unmet
description: "expects the wrong outcome"
tenants: [acme]
actors: [{ name: p, tenant: acme, kind: system }]
steps:
  - op: intake
    actor: p
    as: jane
    args: { full_name: Jane Doe, job_title: Engineer }
    expect: { decision: flagged }
  - op: transition
    actor: p
    target: jane
    from: RECEIVED
    to: HIRED
`)
	result, err := Run(s)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Equal(t, "step 1 (intake): expected decision flagged, got clean", result.Errors[0])
	assert.Contains(t, result.Errors[1], "step 2 (transition): expected outcome ok, got rejected")

	require.Len(t, result.Trace, 2)
	assert.Equal(t, "edge_not_allowed", result.Trace[1].Rule)
}

func TestRun_ExactMatchReusesCandidate(t *testing.T) {
	s := mustParse(t, `
name: reuse
description: "an identical identity in good standing is reused"
tenants: [acme]
actors: [{ name: p, tenant: acme, kind: system }]
steps:
  - op: intake
    actor: p
    as: first
    args: { full_name: Jane Doe, email: jane@example.com, job_title: Engineer }
  - op: intake
    actor: p
    as: second
    args: { full_name: Jane Doe, email: jane@example.com, job_title: Designer }
    expect: { decision: clean, matched: first, reused: true }
`)
	result, err := Run(s)
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)
	assert.True(t, result.Trace[1].Reused)
}

func TestRun_UnknownTargetIsNotFound(t *testing.T) {
	s := mustParse(t, `
name: unknown_target
description: "an alias that was never created"
tenants: [acme]
actors: [{ name: p, tenant: acme, kind: system }]
steps:
  - op: transition
    actor: p
    target: ghost
    from: RECEIVED
    to: SCREENING
    expect: { outcome: not_found }
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_Race(t *testing.T) {
	s := mustParse(t, `
name: race
description: "three writers race out of RECEIVED"
tenants: [acme]
actors: [{ name: p, tenant: acme, kind: system }]
steps:
  - op: intake
    actor: p
    as: sam
    args: { full_name: Sam Park, job_title: Designer }
  - op: race
    actor: p
    target: sam
    from: RECEIVED
    contenders: [SCREENING, REJECTED, WITHDRAWN]
    expect: { committed: 1 }
assertions:
  - { type: final_status, target: sam, one_of: [SCREENING, REJECTED, WITHDRAWN] }
  - { type: history_count, target: sam, count: 1 }
`)
	result, err := Run(s)
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	race := result.Trace[1]
	assert.Equal(t, 1, race.Committed)
	assert.Equal(t, 2, race.Conflicts)
	assert.Equal(t, "ok", race.Outcome)
}

func TestRun_IsDeterministic(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/jane_doe.yaml")
	require.NoError(t, err)

	first, err := Run(s)
	require.NoError(t, err)
	second, err := Run(s)
	require.NoError(t, err)

	a, err := MarshalTrace(s.Name, first.Trace)
	require.NoError(t, err)
	b, err := MarshalTrace(s.Name, second.Trace)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}
