package sim

import "errors"

// Body is a resumable process body. Next is called when the process starts
// and after every suspension; it returns the next action to perform, or a
// nil Action to finish. Returning an error fails the process.
//
// When r.Interrupted() is true the process was preempted during
// interruptible work. The engine does not check whether a Body looked at the
// interrupt: an implementation that cannot handle it must return r.Interrupt
// as its error so the process fails. Sequence does this unless OnInterrupt
// is set.
type Body interface {
	Next(p *Process, r Resumption) (Action, error)
}

// BodyFunc adapts a function to Body.
type BodyFunc func(p *Process, r Resumption) (Action, error)

// Next calls f.
func (f BodyFunc) Next(p *Process, r Resumption) (Action, error) { return f(p, r) }

// Sequence is a Body that walks a fixed list of actions, optionally repeating.
// A Sequence keeps its own cursor, so build one per process.
type Sequence struct {
	steps       []Action
	pos         int
	limit       int // passes to run, -1 for unbounded
	passes      int
	onInterrupt func(p *Process, in *Interrupt) error
}

// Seq runs actions once, in order.
func Seq(actions ...Action) *Sequence {
	return &Sequence{steps: actions, limit: 1}
}

// Loop runs actions until the run ends.
func Loop(actions ...Action) *Sequence {
	return &Sequence{steps: actions, limit: -1}
}

// Repeat runs actions n times. n <= 0 finishes immediately.
func Repeat(n int, actions ...Action) *Sequence {
	if n <= 0 {
		return &Sequence{limit: 0}
	}
	return &Sequence{steps: actions, limit: n}
}

// OnInterrupt installs a handler for preemption. Returning nil continues with
// the next action; returning ErrAbandon finishes the process; any other error
// fails it. Without a handler an interrupt fails the process.
func (s *Sequence) OnInterrupt(fn func(p *Process, in *Interrupt) error) *Sequence {
	s.onInterrupt = fn
	return s
}

// Next implements Body.
func (s *Sequence) Next(p *Process, r Resumption) (Action, error) {
	if r.Interrupt != nil {
		if s.onInterrupt == nil {
			return nil, r.Interrupt
		}
		if err := s.onInterrupt(p, r.Interrupt); err != nil {
			if errors.Is(err, ErrAbandon) {
				return nil, nil
			}
			return nil, err
		}
	}
	if s.limit == 0 || len(s.steps) == 0 {
		return nil, nil
	}
	if s.pos >= len(s.steps) {
		s.passes++
		if s.limit > 0 && s.passes >= s.limit {
			return nil, nil
		}
		s.pos = 0
	}
	a := s.steps[s.pos]
	s.pos++
	return a, nil
}
