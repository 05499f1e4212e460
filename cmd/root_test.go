package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simpm/simpm/sim/store"
)

func TestMain(m *testing.M) {
	if os.Getenv("DEBUG_TESTS") == "" {
		logrus.SetLevel(logrus.WarnLevel)
	}
	os.Exit(m.Run())
}

// pourScenario is fully deterministic: two pours share one pump for 3 units
// each, so the run finishes at 6.
const pourScenario = `
name: pour
seed: 5
resources:
  - name: pump
    capacity: 1
entities:
  - name: pour
    count: 2
    steps:
      - get: {resource: pump, amount: 1}
      - do:
          activity: pour
          duration: {type: constant, params: {value: 3}}
      - put: {resource: pump, amount: 1}
`

func writeScenario(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestRunScenario_PrintsSummary(t *testing.T) {
	// GIVEN a deterministic scenario
	path := writeScenario(t, pourScenario)

	// WHEN it is run once
	var buf bytes.Buffer
	require.NoError(t, runScenario(context.Background(), &buf, runOptions{scenario: path}))

	// THEN the summary reports the finish time and the pump row
	out := buf.String()
	assert.Contains(t, out, "=== Simulation Summary: pour ===")
	assert.Contains(t, out, "Finish time: 6.000")
	assert.Contains(t, out, "Makespan:    6.000")
	assert.Contains(t, out, "pump")
	assert.Contains(t, out, "fifo")
	assert.NotContains(t, out, "=== Metrics ===")
	assert.NotContains(t, out, "Failures")
}

func TestRunScenario_MetricsDump(t *testing.T) {
	path := writeScenario(t, pourScenario)

	var buf bytes.Buffer
	require.NoError(t, runScenario(context.Background(), &buf, runOptions{scenario: path, metrics: true}))

	out := buf.String()
	assert.Contains(t, out, "=== Metrics ===")
	assert.Contains(t, out, `simpm_resource_grants_total{resource="pump"} 2`)
	assert.Contains(t, out, `simpm_sim_time{environment="pour"} 6`)
}

func TestRunScenario_ExportsToSQLite(t *testing.T) {
	// GIVEN a seed override and a database path
	path := writeScenario(t, pourScenario)
	db := filepath.Join(t.TempDir(), "runs.db")
	override := int64(77)

	// WHEN the run is exported
	var buf bytes.Buffer
	require.NoError(t, runScenario(context.Background(), &buf, runOptions{scenario: path, dbPath: db, seed: &override}))
	assert.Contains(t, buf.String(), "Saved run")

	// THEN the stored run carries the scenario name and the overridden seed
	st, err := store.Open(db)
	require.NoError(t, err)
	defer st.Close()
	runs, err := st.Runs(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "pour", runs[0].Scenario)
	assert.Equal(t, int64(77), runs[0].Seed)
	assert.Equal(t, 6.0, runs[0].Finish)
}

func TestRunScenario_ReportsProcessFailures(t *testing.T) {
	// GIVEN an entity that puts back a unit it never got
	path := writeScenario(t, `
name: broken
resources:
  - name: crane
    capacity: 1
entities:
  - name: lifter
    steps:
      - put: {resource: crane, amount: 1}
`)

	var buf bytes.Buffer
	require.NoError(t, runScenario(context.Background(), &buf, runOptions{scenario: path}))
	assert.Contains(t, buf.String(), "Failures (1):")
}

func TestRunScenario_MissingFile(t *testing.T) {
	var buf bytes.Buffer
	err := runScenario(context.Background(), &buf, runOptions{scenario: filepath.Join(t.TempDir(), "nope.yaml")})
	assert.Error(t, err)
}

func TestRunScenario_ShippedScenarios(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("..", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)
	for _, p := range paths {
		t.Run(filepath.Base(p), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, runScenario(context.Background(), &buf, runOptions{scenario: p}))
			assert.Contains(t, buf.String(), "=== Simulation Summary")
		})
	}
}

func TestReplicateScenario_SummaryAndExport(t *testing.T) {
	// GIVEN a deterministic scenario replicated four times
	path := writeScenario(t, pourScenario)
	db := filepath.Join(t.TempDir(), "study.db")
	base := int64(10)

	// WHEN the study runs with an export
	var buf bytes.Buffer
	err := replicateScenario(context.Background(), &buf, replicateOptions{
		scenario: path, replications: 4, parallelism: 2, baseSeed: &base, dbPath: db,
	})
	require.NoError(t, err)

	// THEN every replication finishes at 6 and is stored with its seed
	out := buf.String()
	assert.Contains(t, out, "=== Replication Summary: pour (4 runs, 0 failed) ===")
	assert.Contains(t, out, "finish_time")
	assert.Contains(t, out, "utilization/pump")
	assert.Contains(t, out, "Saved 4 runs")

	st, err := store.Open(db)
	require.NoError(t, err)
	defer st.Close()
	runs, err := st.Runs(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 4)
	seeds := map[int64]bool{}
	for _, r := range runs {
		assert.Equal(t, 6.0, r.Finish)
		seeds[r.Seed] = true
	}
	assert.Equal(t, map[int64]bool{10: true, 11: true, 12: true, 13: true}, seeds)
}

func TestReplicateScenario_InvalidScenario(t *testing.T) {
	path := writeScenario(t, `
name: bad
resources:
  - name: pump
    capacity: 0
`)
	var buf bytes.Buffer
	err := replicateScenario(context.Background(), &buf, replicateOptions{scenario: path, replications: 2})
	assert.Error(t, err)
}

func TestReplicateScenario_ZeroHorizonIsHonoured(t *testing.T) {
	// GIVEN a scenario whose horizon equals its start
	path := writeScenario(t, pourScenario+"until: 0\n")
	db := filepath.Join(t.TempDir(), "study.db")

	// WHEN it is replicated
	var buf bytes.Buffer
	require.NoError(t, replicateScenario(context.Background(), &buf, replicateOptions{
		scenario: path, replications: 2, dbPath: db,
	}))

	// THEN every replication stops at 0, as a single run would
	st, err := store.Open(db)
	require.NoError(t, err)
	defer st.Close()
	runs, err := st.Runs(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for _, r := range runs {
		assert.Equal(t, 0.0, r.Finish)
	}
}
