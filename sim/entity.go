package sim

import (
	"fmt"
	"slices"
	"sort"

	"github.com/simpm/simpm/sim/record"
)

// Entity is a named unit of work-bearing state (a truck, a crew, a task).
// It carries a free-form attribute store keyed by caller-defined strings and,
// when logging is enabled, append-only schedule, waiting and status logs.
type Entity struct {
	id      int
	name    string
	env     *Environment
	attrs   map[string]any
	logging bool

	schedule []record.ScheduleRow
	waiting  []record.WaitingRow
	status   []record.StatusRow
}

// ID returns the entity id, unique within its environment.
func (e *Entity) ID() int { return e.id }

// Name returns the entity name.
func (e *Entity) Name() string { return e.name }

// Env returns the owning environment.
func (e *Entity) Env() *Environment { return e.env }

func (e *Entity) String() string {
	return fmt.Sprintf("%s(%d)", e.name, e.id)
}

// SetLogging enables or disables the entity logs.
func (e *Entity) SetLogging(on bool) { e.logging = on }

// Logging reports whether the entity logs are enabled.
func (e *Entity) Logging() bool { return e.logging }

// Set stores value under key.
func (e *Entity) Set(key string, value any) {
	if e.attrs == nil {
		e.attrs = make(map[string]any)
	}
	e.attrs[key] = value
}

// Get returns the value stored under key.
func (e *Entity) Get(key string) (any, bool) {
	v, ok := e.attrs[key]
	return v, ok
}

// Has reports whether key is set.
func (e *Entity) Has(key string) bool {
	_, ok := e.attrs[key]
	return ok
}

// Delete removes key.
func (e *Entity) Delete(key string) {
	delete(e.attrs, key)
}

// Keys returns the attribute keys, sorted.
func (e *Entity) Keys() []string {
	keys := make([]string, 0, len(e.attrs))
	for k := range e.attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Attr returns the attribute under key as a T. The second result is false
// when the key is missing or holds another type.
func Attr[T any](e *Entity, key string) (T, bool) {
	v, ok := e.attrs[key]
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// IsPending reports whether e has a pending request for exactly amount on r.
func (e *Entity) IsPending(r *Resource, amount int) bool {
	for _, req := range r.pending {
		if req.entity == e && req.amount == amount {
			return true
		}
	}
	return false
}

// NotPending is the negation of IsPending.
func (e *Entity) NotPending(r *Resource, amount int) bool {
	return !e.IsPending(r, amount)
}

// Holding returns the amount of r currently held by e.
func (e *Entity) Holding(r *Resource) int {
	return r.HeldBy(e)
}

// Schedule returns a copy of the schedule log.
func (e *Entity) Schedule() []record.ScheduleRow { return slices.Clone(e.schedule) }

// WaitingLog returns a copy of the waiting log.
func (e *Entity) WaitingLog() []record.WaitingRow { return slices.Clone(e.waiting) }

// StatusLog returns a copy of the status log.
func (e *Entity) StatusLog() []record.StatusRow { return slices.Clone(e.status) }

// WaitingTime returns the duration of every completed wait.
func (e *Entity) WaitingTime() []float64 {
	return record.EntityWaitingTimes(e.waiting)
}

// appendSchedule opens a schedule row and returns its index, or -1 when
// logging is disabled.
func (e *Entity) appendSchedule(activity string, start, finish float64) int {
	if !e.logging {
		return -1
	}
	e.schedule = append(e.schedule, record.ScheduleRow{Activity: activity, Start: start, Finish: finish})
	return len(e.schedule) - 1
}

func (e *Entity) truncateSchedule(row int, at float64) {
	if row < 0 || row >= len(e.schedule) {
		return
	}
	e.schedule[row].Finish = at
	e.schedule[row].Interrupted = true
}

func (e *Entity) recordWait(resource string, start, end float64, amount int) {
	if !e.logging {
		return
	}
	e.waiting = append(e.waiting, record.WaitingRow{
		Resource:     resource,
		StartWaiting: start,
		EndWaiting:   end,
		Amount:       amount,
	})
}

func (e *Entity) logStatus(status, subject string) {
	if !e.logging {
		return
	}
	e.status = append(e.status, record.StatusRow{Time: e.env.Now(), Status: status, Subject: subject})
}
