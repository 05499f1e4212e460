package replicate

import (
	"context"
	"errors"
	"math"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simpm/simpm/sim"
	"github.com/simpm/simpm/sim/dist"
)

func TestMain(m *testing.M) {
	if os.Getenv("DEBUG_TESTS") == "" {
		logrus.SetLevel(logrus.WarnLevel)
	}
	os.Exit(m.Run())
}

// excavation is two crews sharing one excavator with exponential dig times.
func excavation(seed int64) (*sim.Environment, error) {
	env := sim.NewEnvironment(sim.WithSeed(seed))
	ex := env.NewResource("excavator", 1, 1)
	dig, err := dist.Expon(4, env.RNG().ForSubsystem(sim.SubsystemDurations))
	if err != nil {
		return nil, err
	}
	env.ProcessEach(env.CreateEntities("crew", 2), func(*sim.Entity) sim.Body {
		return sim.Repeat(3, sim.Get(ex, 1), sim.Do("dig", dig), sim.Put(ex, 1))
	})
	return env, nil
}

func TestRun_DeterministicAcrossParallelism(t *testing.T) {
	serial, err := Run(context.Background(), excavation, Config{Replications: 8, BaseSeed: 100, Parallelism: 1})
	require.NoError(t, err)
	parallel, err := Run(context.Background(), excavation, Config{Replications: 8, BaseSeed: 100, Parallelism: 4})
	require.NoError(t, err)

	require.Len(t, serial.Replications, 8)
	for i := range serial.Replications {
		s, p := serial.Replications[i], parallel.Replications[i]
		assert.Equal(t, int64(100+i), s.Seed)
		assert.Equal(t, i, s.Index)
		assert.Equal(t, s.FinishTime, p.FinishTime, "replication %d", i)
		assert.NotEqual(t, uuid.Nil, s.ID)
		assert.NoError(t, s.Err)
	}
	assert.Equal(t, serial.FinishTimes, parallel.FinishTimes)
	assert.NotEqual(t, serial.Replications[0].ID, parallel.Replications[0].ID, "run IDs are unique per run")
}

func TestRun_SummarizesFinishTimesAndUtilization(t *testing.T) {
	study, err := Run(context.Background(), excavation, Config{Replications: 20, BaseSeed: 1})
	require.NoError(t, err)

	ft := study.FinishTimes
	assert.Equal(t, 20, ft.N)
	assert.True(t, ft.Min <= ft.P50 && ft.P50 <= ft.Max, "median within range: %+v", ft)
	assert.Greater(t, ft.StdDev, 0.0)

	u, ok := study.Utilization["excavator"]
	require.True(t, ok)
	// The excavator is never idle between back-to-back crews.
	assert.InDelta(t, 1.0, u.Mean, 1e-9)
}

func TestRun_HorizonCapsFinishTime(t *testing.T) {
	horizon := 1.0
	study, err := Run(context.Background(), excavation, Config{Replications: 3, Until: &horizon})
	require.NoError(t, err)
	for _, r := range study.Replications {
		assert.LessOrEqual(t, r.FinishTime, 1.0)
	}
}

func TestRun_ZeroHorizonStopsAtStart(t *testing.T) {
	// GIVEN a horizon of exactly 0
	horizon := 0.0

	// WHEN the study runs
	study, err := Run(context.Background(), excavation, Config{Replications: 2, Until: &horizon})
	require.NoError(t, err)

	// THEN no replication advances past the start and the crews stay busy
	for _, r := range study.Replications {
		assert.Equal(t, 0.0, r.FinishTime)
		for _, p := range r.Env.Processes() {
			assert.False(t, p.Done(), "replication %d: %v should still be running", r.Index, p.Entity())
		}
	}
}

func TestRun_ProcessFailuresRecordedNotFatal(t *testing.T) {
	factory := func(seed int64) (*sim.Environment, error) {
		env := sim.NewEnvironment(sim.WithSeed(seed))
		body := sim.Seq(sim.Do("broken", sim.Fixed(-1)))
		if seed%2 == 0 {
			body = sim.Seq(sim.Do("fine", sim.Fixed(1)))
		}
		env.Process(env.NewEntity("e"), body)
		return env, nil
	}
	study, err := Run(context.Background(), factory, Config{Replications: 4})
	require.NoError(t, err)

	failed := study.Failed()
	require.Len(t, failed, 2)
	assert.Equal(t, int64(1), failed[0].Seed)
	assert.ErrorIs(t, failed[0].Err, sim.ErrInvalidTime)
}

func TestRun_FactoryErrorStopsStudy(t *testing.T) {
	boom := errors.New("boom")
	factory := func(seed int64) (*sim.Environment, error) {
		if seed == 2 {
			return nil, boom
		}
		return excavation(seed)
	}
	_, err := Run(context.Background(), factory, Config{Replications: 5})
	assert.ErrorIs(t, err, boom)
}

func TestRun_InvalidConfig(t *testing.T) {
	_, err := Run(context.Background(), excavation, Config{Replications: 0})
	assert.Error(t, err)
	_, err = Run(context.Background(), excavation, Config{Replications: 1, Parallelism: -1})
	assert.Error(t, err)
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, excavation, Config{Replications: 2})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSummarize(t *testing.T) {
	s := Summarize([]float64{4, 1, 3, 2})
	assert.Equal(t, 4, s.N)
	assert.InDelta(t, 2.5, s.Mean, 1e-12)
	assert.InDelta(t, math.Sqrt(5.0/3), s.StdDev, 1e-12)
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 4.0, s.Max)
	assert.Equal(t, 1.0, s.P10)
	assert.Equal(t, 2.0, s.P50)
	assert.Equal(t, 4.0, s.P90)

	assert.Equal(t, Stats{}, Summarize(nil))
	one := Summarize([]float64{7})
	assert.Equal(t, 7.0, one.Mean)
	assert.Equal(t, 0.0, one.StdDev)
}
