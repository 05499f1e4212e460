package sim

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simpm/simpm/sim/record"
)

// useFor is the get/do/put cycle most tests model.
func useFor(r *Resource, amount int, activity string, d float64) *Sequence {
	return Seq(Get(r, amount), Do(activity, Fixed(d)), Put(r, amount))
}

func assertCapacityInvariant(t *testing.T, r *Resource) {
	t.Helper()
	for i, row := range r.StatusLog() {
		if row.InUse < 0 || row.Idle < 0 {
			t.Errorf("%s row %d: negative in_use/idle %+v", r.Name(), i, row)
		}
		if row.Level() > r.Capacity() {
			t.Errorf("%s row %d: level %d exceeds capacity %d", r.Name(), i, row.Level(), r.Capacity())
		}
	}
}

func TestResource_TwoProcessesShareUnitCapacity(t *testing.T) {
	env := NewEnvironment()
	crew := env.NewResource("crew", 1, 1)
	a, b := env.NewEntity("A"), env.NewEntity("B")

	pa := env.Process(a, useFor(crew, 1, "work", 5))
	pb := env.Process(b, useFor(crew, 1, "work", 5))
	require.NoError(t, env.Run())

	assert.Equal(t, 5.0, pa.FinishedAt())
	assert.Equal(t, 10.0, pb.FinishedAt())
	assert.Equal(t, []record.WaitingRow{{Resource: "crew", StartWaiting: 0, EndWaiting: 5, Amount: 1}}, b.WaitingLog())
	assert.Equal(t, []record.ScheduleRow{{Activity: "work", Start: 5, Finish: 10}}, b.Schedule())

	wantStatus := []record.StatusRow{
		{Time: 0, Status: record.StatusWaitFor, Subject: "crew"},
		{Time: 5, Status: record.StatusGet, Subject: "crew"},
		{Time: 5, Status: record.StatusStart, Subject: "work"},
		{Time: 10, Status: record.StatusFinish, Subject: "work"},
		{Time: 10, Status: record.StatusPut, Subject: "crew"},
	}
	assert.Equal(t, wantStatus, b.StatusLog())

	assert.InDelta(t, 1.0, record.Utilization(crew.StatusLog(), 0, env.Now()), 1e-9)
	assert.InDelta(t, 1.0, crew.Summary().Utilization, 1e-9)
	assertCapacityInvariant(t, crew)
}

func TestResource_PriorityGrantsLowerValueFirst(t *testing.T) {
	env := NewEnvironment()
	trucks := env.NewPriorityResource("trucks", 3, 0)
	x, y, s := env.NewEntity("X"), env.NewEntity("Y"), env.NewEntity("supplier")

	px := env.Process(x, Seq(Get(trucks, 2).WithPriority(1)))
	py := env.Process(y, Seq(Do("delay", Fixed(1)), Get(trucks, 2).WithPriority(-3)))
	env.Process(s, Seq(Do("delay", Fixed(3)), Add(trucks, 3)))
	require.NoError(t, env.Run())

	assert.Equal(t, 3.0, py.FinishedAt())
	assert.Equal(t, 2, y.Holding(trucks))
	assert.True(t, x.IsPending(trucks, 2), "X must still be pending")
	assert.Equal(t, StateSuspendedOnResource, px.State())
	assert.Equal(t, 1, trucks.Idle())
	assert.Equal(t, 1, trucks.QueueLength())
	assertCapacityInvariant(t, trucks)
}

func TestResource_PriorityTieBrokenByArrival(t *testing.T) {
	env := NewEnvironment()
	r := env.NewPriorityResource("r", 1, 0)
	first, second, supplier := env.NewEntity("first"), env.NewEntity("second"), env.NewEntity("supplier")

	p1 := env.Process(first, Seq(Get(r, 1).WithPriority(2)))
	p2 := env.Process(second, Seq(Get(r, 1).WithPriority(2)))
	env.Process(supplier, Seq(Do("wait", Fixed(1)), Add(r, 1)))
	require.NoError(t, env.Run())

	assert.True(t, p1.Done())
	assert.False(t, p2.Done())
}

func TestResource_PriorityOrderingUnderContention(t *testing.T) {
	// p1 < p2 needing equal amounts; one unit frees up: p1 wins.
	env := NewEnvironment()
	r := env.NewPriorityResource("r", 1, 0)
	low, high, supplier := env.NewEntity("low"), env.NewEntity("high"), env.NewEntity("supplier")

	pLow := env.Process(low, Seq(Get(r, 1).WithPriority(5)))
	pHigh := env.Process(high, Seq(Get(r, 1).WithPriority(1)))
	env.Process(supplier, Seq(Do("wait", Fixed(1)), Add(r, 1)))
	require.NoError(t, env.Run())

	assert.True(t, pHigh.Done(), "higher priority request must be granted")
	assert.False(t, pLow.Done())
}

func TestResource_FIFOHeadOfLineBlocking(t *testing.T) {
	env := NewEnvironment()
	r := env.NewResource("r", 3, 1)
	big, small := env.NewEntity("big"), env.NewEntity("small")

	pBig := env.Process(big, Seq(Get(r, 2)))
	pSmall := env.Process(small, Seq(Get(r, 1)))
	require.NoError(t, env.Run())

	// small fits in idle capacity but waits behind big.
	assert.Equal(t, StateSuspendedOnResource, pBig.State())
	assert.Equal(t, StateSuspendedOnResource, pSmall.State())
	assert.Equal(t, 1, r.Idle())
	assert.Equal(t, 2, r.QueueLength())
}

func TestResource_FIFOFairness(t *testing.T) {
	env := NewEnvironment()
	r := env.NewResource("r", 1, 1)
	holder := env.NewEntity("holder")
	early, late := env.NewEntity("early"), env.NewEntity("late")

	env.Process(holder, useFor(r, 1, "hold", 10))
	pEarly := env.Process(early, Seq(Do("arrive", Fixed(1)), Get(r, 1), Do("work", Fixed(1)), Put(r, 1)))
	pLate := env.Process(late, Seq(Do("arrive", Fixed(2)), Get(r, 1), Do("work", Fixed(1)), Put(r, 1)))
	require.NoError(t, env.Run())

	granted := map[string]float64{}
	for _, q := range r.QueueLog() {
		granted[q.Entity] = q.FinishTime
	}
	assert.LessOrEqual(t, granted["early"], granted["late"])
	assert.Equal(t, 11.0, pEarly.FinishedAt())
	assert.Equal(t, 12.0, pLate.FinishedAt())
}

func TestResource_AddGrantsEveryFittingRequestAtSameInstant(t *testing.T) {
	env := NewEnvironment()
	r := env.NewResource("material", 5, 0)
	workers := env.CreateEntities("worker", 3)
	for _, w := range workers {
		env.Process(w, Seq(Get(r, 1), Do("place", Fixed(1))))
	}
	env.Process(env.NewEntity("dumper"), Seq(Do("haul", Fixed(2)), Add(r, 3)))
	require.NoError(t, env.Run())

	for _, w := range workers {
		rows := w.WaitingLog()
		require.Len(t, rows, 1)
		assert.Equal(t, 2.0, rows[0].EndWaiting, "%s must be granted when supply arrives", w.Name())
	}
	assertCapacityInvariant(t, r)
}

func TestResource_GetAboveCapacity_FailsWithoutQueueEntry(t *testing.T) {
	env := NewEnvironment()
	r := env.NewResource("r", 2, 2)
	e := env.NewEntity("e")
	rowsBefore := len(r.StatusLog())

	p := env.Process(e, Seq(Get(r, 3)))
	err := env.Run()

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	assert.Equal(t, StateFailed, p.State())
	assert.Equal(t, 0, r.QueueLength())
	assert.Len(t, r.StatusLog(), rowsBefore)
	assert.Empty(t, e.StatusLog())
}

func TestResource_NonPositiveAmounts_Rejected(t *testing.T) {
	tests := []struct {
		name  string
		build func(r *Resource) Action
	}{
		{"get zero", func(r *Resource) Action { return Get(r, 0) }},
		{"put negative", func(r *Resource) Action { return Put(r, -1) }},
		{"add zero", func(r *Resource) Action { return Add(r, 0) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := NewEnvironment()
			r := env.NewResource("r", 2, 1)
			env.Process(env.NewEntity("e"), Seq(tt.build(r)))
			err := env.Run()
			assert.ErrorIs(t, err, ErrInvalidAmount)
		})
	}
}

func TestResource_AddAboveCapacity_ReturnsCapacityExceeded(t *testing.T) {
	env := NewEnvironment()
	r := env.NewResource("tank", 10, 8)
	env.Process(env.NewEntity("e"), Seq(Add(r, 3)))

	err := env.Run()
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	var ce *CapacityError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 8, ce.Level)
	assert.Equal(t, 8, r.Level(), "level must be unchanged")
}

func TestResource_PutMoreThanHeld_ReturnsInvalidAmount(t *testing.T) {
	env := NewEnvironment()
	r := env.NewResource("r", 3, 3)
	env.Process(env.NewEntity("e"), Seq(Get(r, 1), Put(r, 2)))

	err := env.Run()
	assert.ErrorIs(t, err, ErrInvalidAmount)
	assert.Equal(t, 1, r.InUse())
}

func TestResource_PartialPutAcrossGrants(t *testing.T) {
	env := NewEnvironment()
	r := env.NewResource("r", 5, 5)
	e := env.NewEntity("e")
	env.Process(e, Seq(Get(r, 2), Get(r, 2), Put(r, 3)))
	require.NoError(t, env.Run())

	assert.Equal(t, 1, e.Holding(r))
	assert.Equal(t, 1, r.InUse())
	holders := r.Holders()
	require.Len(t, holders, 1)
	assert.Equal(t, 1, holders[0].Held(), "oldest grant released first")
}

func TestResource_CancelWithNothingPending_IsNoOp(t *testing.T) {
	env := NewEnvironment()
	r := env.NewResource("r", 2, 1)
	e := env.NewEntity("e")
	before := len(r.StatusLog())

	p := env.Process(e, Seq(Cancel(r, 1)))
	require.NoError(t, env.Run())

	assert.Equal(t, StateFinished, p.State())
	assert.Len(t, r.StatusLog(), before)
	assert.Equal(t, 1, r.Idle())
	assert.Equal(t, 0, r.InUse())
	assert.Empty(t, e.StatusLog())
}

func TestResource_CancelHeld_ActsAsPut(t *testing.T) {
	env := NewEnvironment()
	r := env.NewResource("r", 2, 2)
	waiter := env.NewEntity("waiter")
	e := env.NewEntity("e")

	env.Process(e, Seq(Get(r, 2), Do("work", Fixed(1)), Cancel(r, 2)))
	pw := env.Process(waiter, Seq(Get(r, 1)))
	require.NoError(t, env.Run())

	assert.Equal(t, 0, e.Holding(r))
	assert.Equal(t, 1.0, pw.FinishedAt())
}

func TestResource_CancelPendingUnblocksQueue(t *testing.T) {
	env := NewEnvironment()
	r := env.NewResource("r", 3, 1)
	other := env.NewResource("other", 1, 0)
	big, small := env.NewEntity("big"), env.NewEntity("small")

	// big takes whichever arrives first and withdraws the other request.
	pBig := env.Process(big, Seq(GetAny(Get(r, 2), Get(other, 1)), Cancel(r, 2)))
	pSmall := env.Process(small, Seq(Get(r, 1)))
	env.Process(env.NewEntity("supplier"), Seq(Do("wait", Fixed(4)), Add(other, 1)))
	require.NoError(t, env.Run())

	assert.Equal(t, 4.0, pBig.FinishedAt())
	assert.Equal(t, 4.0, pSmall.FinishedAt(), "cancel must unblock the queue head")
	assert.False(t, big.IsPending(r, 2))
	assert.Equal(t, 1, big.Holding(other))
	assert.Contains(t, big.StatusLog(), record.StatusRow{Time: 4, Status: record.StatusCancel, Subject: "r"})
}

func TestResource_InvalidConstruction_Panics(t *testing.T) {
	tests := []struct {
		name           string
		capacity, init int
	}{
		{"zero capacity", 0, 0},
		{"negative init", 2, -1},
		{"init above capacity", 2, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := NewEnvironment()
			assert.Panics(t, func() { env.NewResource("r", tt.capacity, tt.init) })
		})
	}
}

func TestResource_LoggingDisabled_KeepsNoRows(t *testing.T) {
	env := NewEnvironment(WithLogging(false))
	r := env.NewResource("r", 1, 1)
	e := env.NewEntity("e")
	env.Process(e, useFor(r, 1, "work", 2))
	require.NoError(t, env.Run())

	assert.Empty(t, r.StatusLog())
	assert.Empty(t, r.QueueLog())
	assert.Empty(t, e.Schedule())
	assert.Empty(t, e.WaitingLog())
}

func TestDisciplineByName(t *testing.T) {
	for _, name := range DisciplineNames() {
		d, ok := DisciplineByName(name)
		if !ok || d.Name() != name {
			t.Errorf("DisciplineByName(%q) = %v, %v", name, d, ok)
		}
	}
	if _, ok := DisciplineByName("lifo"); ok {
		t.Error("DisciplineByName(\"lifo\") should not resolve")
	}
	assert.Equal(t, []string{"fifo", "preemptive", "priority"}, DisciplineNames())
}
