package sim

import "slices"

// ProcessState is the lifecycle state of a process.
//
//	Scheduled -> Running -> {SuspendedOnEvent, SuspendedOnResource,
//	SuspendedOnConjunction} -> Running ... -> {Finished, Failed}
//
// A preempted process passes through Interrupted before its body resumes.
type ProcessState int

const (
	StateScheduled ProcessState = iota
	StateRunning
	StateSuspendedOnEvent
	StateSuspendedOnResource
	StateSuspendedOnConjunction
	StateInterrupted
	StateFinished
	StateFailed
)

var processStateNames = map[ProcessState]string{
	StateScheduled:              "scheduled",
	StateRunning:                "running",
	StateSuspendedOnEvent:       "suspended-on-event",
	StateSuspendedOnResource:    "suspended-on-resource",
	StateSuspendedOnConjunction: "suspended-on-conjunction",
	StateInterrupted:            "interrupted",
	StateFinished:               "finished",
	StateFailed:                 "failed",
}

func (s ProcessState) String() string {
	if name, ok := processStateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether the state is Finished or Failed.
func (s ProcessState) Terminal() bool {
	return s == StateFinished || s == StateFailed
}

// SuspendPoint identifies what a process is waiting for.
type SuspendPoint int

const (
	NotSuspended SuspendPoint = iota
	AwaitingTime
	AwaitingResource
	AwaitingConjunction
)

func (p SuspendPoint) String() string {
	switch p {
	case AwaitingTime:
		return "awaiting-time"
	case AwaitingResource:
		return "awaiting-resource"
	case AwaitingConjunction:
		return "awaiting-conjunction"
	default:
		return "not-suspended"
	}
}

// Resumption is passed to Body.Next each time a process resumes.
type Resumption struct {
	// Point is where the process was suspended; NotSuspended on first start.
	Point SuspendPoint
	// Interrupt is set when the process was preempted during interruptible work.
	Interrupt *Interrupt
	// Granted is the request that resumed an AwaitingResource suspension.
	Granted *Request
}

// Interrupted reports whether the resumption carries an interrupt.
func (r Resumption) Interrupted() bool { return r.Interrupt != nil }

// activityRun tracks the timed work a process is suspended on.
type activityRun struct {
	name          string
	start         float64
	finish        float64
	interruptible bool
	row           int // index into the entity schedule log, -1 when not logged
}

// Process is one execution of a Body on behalf of an Entity. It is also the
// handle other processes pass to WaitAll.
type Process struct {
	id     int
	env    *Environment
	entity *Entity
	body   Body

	state ProcessState
	point SuspendPoint
	err   error

	// token invalidates stale resume events: a scheduled resumption only
	// fires if the token still matches.
	token uint64

	waitingOn  []*Request
	activity   *activityRun
	barrier    *barrier
	onDone     []func(*Process)
	finishedAt float64
}

// ID returns the process id, unique within its environment.
func (p *Process) ID() int { return p.id }

// Entity returns the entity the process acts for.
func (p *Process) Entity() *Entity { return p.entity }

// Env returns the owning environment.
func (p *Process) Env() *Environment { return p.env }

// Now returns the environment's current time.
func (p *Process) Now() float64 { return p.env.Now() }

// State returns the current lifecycle state.
func (p *Process) State() ProcessState { return p.state }

// SuspendPoint returns what the process is waiting for.
func (p *Process) SuspendPoint() SuspendPoint { return p.point }

// Err returns the failure cause for a failed process, nil otherwise.
func (p *Process) Err() error { return p.err }

// Done reports whether the process has terminated.
func (p *Process) Done() bool { return p.state.Terminal() }

// FinishedAt returns the termination time. Only meaningful when Done.
func (p *Process) FinishedAt() float64 { return p.finishedAt }

// Activity returns the name of the timed work in progress, or "".
func (p *Process) Activity() string {
	if p.activity == nil {
		return ""
	}
	return p.activity.name
}

// whenDone registers fn to run on termination, or runs it now if already done.
func (p *Process) whenDone(fn func(*Process)) {
	if p.Done() {
		fn(p)
		return
	}
	p.onDone = append(p.onDone, fn)
}

// barrier counts not-yet-terminated dependencies of a WaitAll.
type barrier struct {
	remaining int
}

// dropWaiting removes req from the requests the process is suspended on.
func (p *Process) dropWaiting(req *Request) {
	p.waitingOn = slices.DeleteFunc(p.waitingOn, func(r *Request) bool { return r == req })
}
