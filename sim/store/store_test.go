package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simpm/simpm/sim"
)

// craneRun is a finished run where B waits for A's crane lift.
func craneRun(t *testing.T) *sim.Environment {
	t.Helper()
	env := sim.NewEnvironment(sim.WithName("site"))
	crane := env.NewResource("crane", 1, 1)
	for _, name := range []string{"A", "B"} {
		env.Process(env.NewEntity(name), sim.Seq(sim.Get(crane, 1), sim.Do("lift", sim.Fixed(5)), sim.Put(crane, 1)))
	}
	require.NoError(t, env.Run())
	return env
}

func TestSaveRun_RoundTripsLogs(t *testing.T) {
	ctx := context.Background()
	s, err := Open(MemoryPath)
	require.NoError(t, err)
	defer s.Close()

	env := craneRun(t)
	id, err := s.SaveRun(ctx, env, RunMeta{Scenario: "crane", Seed: 9})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)

	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, id, runs[0].ID)
	assert.Equal(t, "site", runs[0].Environment)
	assert.Equal(t, "crane", runs[0].Scenario)
	assert.Equal(t, int64(9), runs[0].Seed)
	assert.Equal(t, 10.0, runs[0].Finish)
	assert.Equal(t, 0, runs[0].Failures)
	assert.False(t, runs[0].CreatedAt.IsZero())

	crane := env.Resources()[0]
	status, err := s.ResourceStatus(ctx, id, "crane")
	require.NoError(t, err)
	assert.Equal(t, crane.StatusLog(), status)

	queue, err := s.ResourceQueue(ctx, id, "crane")
	require.NoError(t, err)
	assert.Equal(t, crane.QueueLog(), queue)

	b := env.Entities()[1]
	waits, err := s.Waiting(ctx, id, b.Name())
	require.NoError(t, err)
	assert.Equal(t, b.WaitingLog(), waits)

	sched, err := s.Schedule(ctx, id)
	require.NoError(t, err)
	require.Len(t, sched, 2)
	assert.Equal(t, "A", sched[0].Entity)
	assert.Equal(t, b.Schedule()[0], sched[1].ScheduleRow)
}

func TestSaveRun_InterruptedFlagPersists(t *testing.T) {
	ctx := context.Background()
	s, err := Open(MemoryPath)
	require.NoError(t, err)
	defer s.Close()

	env := sim.NewEnvironment()
	crane := env.NewPreemptiveResource("crane", 1, 1)
	env.Process(env.NewEntity("R"), sim.Seq(
		sim.Get(crane, 1).WithPriority(10),
		sim.InterruptiveDo("lift", sim.Fixed(10)),
	).OnInterrupt(func(*sim.Process, *sim.Interrupt) error { return sim.ErrAbandon }))
	env.Process(env.NewEntity("E"), sim.Seq(sim.Do("approach", sim.Fixed(5)), sim.Get(crane, 1).WithPriority(-1).Preemptive()))
	require.NoError(t, env.Run())

	id, err := s.SaveRun(ctx, env, RunMeta{})
	require.NoError(t, err)
	sched, err := s.Schedule(ctx, id)
	require.NoError(t, err)
	require.NotEmpty(t, sched)
	assert.Equal(t, "R", sched[0].Entity)
	assert.True(t, sched[0].Interrupted)
	assert.Equal(t, 5.0, sched[0].Finish)
}

func TestSaveRun_RunsAreIsolated(t *testing.T) {
	ctx := context.Background()
	s, err := Open(MemoryPath)
	require.NoError(t, err)
	defer s.Close()

	want := uuid.New()
	got, err := s.SaveRun(ctx, craneRun(t), RunMeta{ID: want, Replication: 0})
	require.NoError(t, err)
	assert.Equal(t, want, got)
	other, err := s.SaveRun(ctx, craneRun(t), RunMeta{Replication: 1})
	require.NoError(t, err)

	a, err := s.ResourceStatus(ctx, got, "crane")
	require.NoError(t, err)
	b, err := s.ResourceStatus(ctx, other, "crane")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestSaveRun_DuplicateIDRollsBack(t *testing.T) {
	ctx := context.Background()
	s, err := Open(MemoryPath)
	require.NoError(t, err)
	defer s.Close()

	id := uuid.New()
	_, err = s.SaveRun(ctx, craneRun(t), RunMeta{ID: id})
	require.NoError(t, err)
	_, err = s.SaveRun(ctx, craneRun(t), RunMeta{ID: id})
	require.Error(t, err)

	var n int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM resource_status WHERE run_id = ?`, id.String()).Scan(&n))
	assert.Equal(t, len(craneRun(t).Resources()[0].StatusLog()), n, "failed save must not leave rows behind")
}

func TestOpen_FilePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "runs.db")

	s, err := Open(path)
	require.NoError(t, err)
	id, err := s.SaveRun(ctx, craneRun(t), RunMeta{Scenario: "crane"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, path, s.Path())
	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, id, runs[0].ID)
}
