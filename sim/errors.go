package sim

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTime is returned for scheduling in the past, a NaN time,
	// a negative literal duration, or a sampler that never yields a
	// non-negative duration.
	ErrInvalidTime = errors.New("invalid time")

	// ErrInvalidAmount is returned for non-positive amounts, requests above
	// capacity, and releasing more than is held.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrCapacityExceeded is returned when an add would push level above capacity.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrAbandon may be returned by an interrupt handler to finish the process
	// cleanly instead of continuing its body.
	ErrAbandon = errors.New("process abandoned")
)

// TimeError reports an invalid scheduling time.
type TimeError struct {
	At  float64
	Now float64
}

func (e *TimeError) Error() string {
	return fmt.Sprintf("invalid time %g (now %g)", e.At, e.Now)
}

func (e *TimeError) Unwrap() error { return ErrInvalidTime }

// AmountError reports an invalid resource amount.
type AmountError struct {
	Resource string
	Amount   int
	Reason   string
}

func (e *AmountError) Error() string {
	return fmt.Sprintf("resource %s: invalid amount %d: %s", e.Resource, e.Amount, e.Reason)
}

func (e *AmountError) Unwrap() error { return ErrInvalidAmount }

// CapacityError reports an add that would exceed capacity.
type CapacityError struct {
	Resource string
	Level    int
	Amount   int
	Capacity int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("resource %s: adding %d to level %d exceeds capacity %d",
		e.Resource, e.Amount, e.Level, e.Capacity)
}

func (e *CapacityError) Unwrap() error { return ErrCapacityExceeded }

// Interrupt is delivered to a process whose allocation was revoked by a
// preemptive request while it was doing interruptible work. It is also an
// error: a body that returns it unhandled fails.
type Interrupt struct {
	By         *Entity   // entity whose request caused the preemption
	Resource   *Resource // resource the allocation was revoked from
	Amount     int       // revoked amount
	UsageSince float64   // when the victim was granted the allocation
	At         float64   // preemption time
}

func (in *Interrupt) Error() string {
	by := "<nil>"
	if in.By != nil {
		by = in.By.Name()
	}
	res := "<nil>"
	if in.Resource != nil {
		res = in.Resource.Name()
	}
	return fmt.Sprintf("preempted by %s on %s at %g (held since %g)", by, res, in.At, in.UsageSince)
}

// ProcessFailure records a process that terminated with an error or panic.
type ProcessFailure struct {
	Process *Process
	Err     error
}

func (f *ProcessFailure) Error() string {
	name := "<nil>"
	if f.Process != nil && f.Process.entity != nil {
		name = f.Process.entity.Name()
	}
	id := -1
	if f.Process != nil {
		id = f.Process.id
	}
	return fmt.Sprintf("process %d (%s) failed: %v", id, name, f.Err)
}

func (f *ProcessFailure) Unwrap() error { return f.Err }
