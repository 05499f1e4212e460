package sim

import (
	"container/heap"
	"math"
)

// Event defines the interface for all simulation events.
// Each event has a Timestamp (in simulation time units) and an Execute method
// that advances environment state when invoked.
type Event interface {
	Timestamp() float64
	Execute(*Environment)
}

type queueEntry struct {
	event Event
	at    float64
	seq   uint64
}

// EventQueue implements heap.Interface and orders events by timestamp, then
// by insertion sequence so that events at equal time pop in FIFO order.
// See canonical Golang example here: https://pkg.go.dev/container/heap#example-package-IntHeap
type EventQueue []queueEntry

func (eq EventQueue) Len() int { return len(eq) }
func (eq EventQueue) Less(i, j int) bool {
	if eq[i].at != eq[j].at {
		return eq[i].at < eq[j].at
	}
	return eq[i].seq < eq[j].seq
}
func (eq EventQueue) Swap(i, j int) { eq[i], eq[j] = eq[j], eq[i] }

func (eq *EventQueue) Push(x any) {
	*eq = append(*eq, x.(queueEntry))
}

func (eq *EventQueue) Pop() any {
	old := *eq
	n := len(old)
	item := old[n-1]
	old[n-1] = queueEntry{}
	*eq = old[0 : n-1]
	return item
}

// Clock owns logical time and the pending event queue.
// Time never decreases: every popped event is at or after the current time.
type Clock struct {
	now   float64
	queue EventQueue
	seq   uint64
}

// NewClock returns a clock anchored at start with an empty queue.
func NewClock(start float64) *Clock {
	return &Clock{now: start, queue: make(EventQueue, 0)}
}

// Now returns the current simulation time.
func (c *Clock) Now() float64 { return c.now }

// Len returns the number of pending events.
func (c *Clock) Len() int { return len(c.queue) }

// Schedule enqueues ev at ev.Timestamp(). Scheduling in the past or at NaN
// returns a *TimeError wrapping ErrInvalidTime and leaves the queue unchanged.
func (c *Clock) Schedule(ev Event) error {
	at := ev.Timestamp()
	if math.IsNaN(at) || at < c.now {
		return &TimeError{At: at, Now: c.now}
	}
	heap.Push(&c.queue, queueEntry{event: ev, at: at, seq: c.seq})
	c.seq++
	return nil
}

// Peek reports the timestamp of the next event without popping it.
func (c *Clock) Peek() (float64, bool) {
	if len(c.queue) == 0 {
		return 0, false
	}
	return c.queue[0].at, true
}

// PopNext removes the earliest event and advances time to its timestamp.
// Returns nil when the queue is empty.
func (c *Clock) PopNext() Event {
	if len(c.queue) == 0 {
		return nil
	}
	entry := heap.Pop(&c.queue).(queueEntry)
	c.advanceTo(entry.at)
	return entry.event
}

func (c *Clock) advanceTo(t float64) {
	if t > c.now {
		c.now = t
	}
}
