package harness

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return s
}

func TestScenarios(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, file := range files {
		name := strings.TrimSuffix(filepath.Base(file), ".yaml")
		t.Run(name, func(t *testing.T) {
			s := loadTestScenario(t, name)
			result, err := Run(s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "assertion failures:\n%s", strings.Join(result.Errors, "\n"))
		})
	}
}

func TestGoldenTraces(t *testing.T) {
	for _, name := range []string{"pending_lifecycle", "sync_falls_through", "refresh_failure", "reinstated_certification"} {
		t.Run(name, func(t *testing.T) {
			result, err := RunWithGolden(t, loadTestScenario(t, name))
			require.NoError(t, err)
			assert.True(t, result.Pass, strings.Join(result.Errors, "\n"))
		})
	}
}

func TestRunReportsFailedAssertions(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: wrong_expectations
description: "Every assertion here is false"
trainers:
  - { id: T1, specializations: [strength] }
steps:
  - { event: created, cert: C1, trainer: T1 }
assertions:
  - { type: pending_count, trainer: T1, count: 5 }
  - { type: specializations, trainer: T1, values: [yoga] }
  - { type: sync_tier, trainer: T1, tier: fetch }
  - { type: outcomes, outcomes: [duplicate] }
  - { type: dropped_count, count: 2 }
`))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 5)
	assert.Contains(t, result.Errors[0], "5 pending for T1")
	assert.Contains(t, result.Errors[1], "[yoga]")
	assert.Contains(t, result.Errors[2], "no sync chain for trainer")
	assert.Contains(t, result.Errors[3], "Actual: added")
	assert.Contains(t, result.Errors[4], "Assertion failed: dropped_count")
}

func TestRunTraceIsDeterministic(t *testing.T) {
	s := loadTestScenario(t, "pending_lifecycle")

	first, err := Run(s)
	require.NoError(t, err)
	second, err := Run(s)
	require.NoError(t, err)

	a, err := GoldenBytes(s.Name, first)
	require.NoError(t, err)
	b, err := GoldenBytes(s.Name, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestRunStepsAreNumbered(t *testing.T) {
	result, err := Run(loadTestScenario(t, "sync_falls_through"))
	require.NoError(t, err)

	for _, ev := range result.Trace {
		assert.Equal(t, 2, ev.Step, "the pending step emits nothing")
	}
	syncs := result.Syncs()
	require.Len(t, syncs, 1)
	assert.Equal(t, "chain-1", syncs[0].Chain)
}

func TestLoadScenarioMissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenarioFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: tiny
description: "one event"
trainers: [{ id: T1 }]
steps: [{ event: created, cert: C1, trainer: T1 }]
assertions: [{ type: pending_count, trainer: T1, count: 1 }]
`), 0o644))

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "tiny", s.Name)
	require.Len(t, s.Steps, 1)
	assert.Equal(t, "created", s.Steps[0].Event)
}
