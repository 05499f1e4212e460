package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/simpm/simpm/sim/record"
)

// maxSegmentActions bounds the actions one resumption may perform without
// suspending. A body that never suspends fails instead of hanging the run.
const maxSegmentActions = 1 << 20

// ctxCheckInterval is the number of events between context checks.
const ctxCheckInterval = 1024

// Environment owns the clock, the live processes, the entities and the
// resources of one simulation run. It is not safe for concurrent use; all
// state changes happen inside the single-threaded run loop.
type Environment struct {
	name      string
	start     float64
	clock     *Clock
	rng       *PartitionedRNG
	observers []Observer
	logging   bool

	entities  []*Entity
	resources []*Resource
	processes []*Process
	failures  []*ProcessFailure

	nameCounters map[string]int
	runNumber    int
}

// Option configures an Environment.
type Option func(*Environment)

// WithName sets the environment name used in logs.
func WithName(name string) Option {
	return func(env *Environment) { env.name = name }
}

// WithStart anchors the clock at t instead of 0.
func WithStart(t float64) Option {
	return func(env *Environment) { env.start = t }
}

// WithSeed seeds the environment's PartitionedRNG.
func WithSeed(seed int64) Option {
	return func(env *Environment) { env.rng = NewPartitionedRNG(NewSimulationKey(seed)) }
}

// WithObserver registers an observer. May be given more than once.
func WithObserver(o Observer) Option {
	return func(env *Environment) { env.observers = append(env.observers, o) }
}

// WithLogging sets the default logging flag for new entities and resources.
func WithLogging(on bool) Option {
	return func(env *Environment) { env.logging = on }
}

// NewEnvironment creates an empty environment. Defaults: name "Environment",
// start 0, seed 0, logging enabled.
// Panics if the start time is NaN or infinite.
func NewEnvironment(opts ...Option) *Environment {
	env := &Environment{
		name:         "Environment",
		logging:      true,
		nameCounters: make(map[string]int),
	}
	for _, opt := range opts {
		opt(env)
	}
	if math.IsNaN(env.start) || math.IsInf(env.start, 0) {
		panic(fmt.Sprintf("NewEnvironment: start must be finite, got %v", env.start))
	}
	if env.rng == nil {
		env.rng = NewPartitionedRNG(NewSimulationKey(0))
	}
	env.clock = NewClock(env.start)
	return env
}

// Name returns the environment name.
func (env *Environment) Name() string { return env.name }

// Now returns the current simulation time.
func (env *Environment) Now() float64 { return env.clock.Now() }

// Start returns the time the clock was anchored at.
func (env *Environment) Start() float64 { return env.start }

// RNG returns the environment's partitioned random source.
func (env *Environment) RNG() *PartitionedRNG { return env.rng }

// RunNumber returns how many times a Run method has been called.
func (env *Environment) RunNumber() int { return env.runNumber }

// Entities returns the registered entities in creation order.
func (env *Environment) Entities() []*Entity { return slices.Clone(env.entities) }

// Resources returns the registered resources in creation order.
func (env *Environment) Resources() []*Resource { return slices.Clone(env.resources) }

// Processes returns every process ever started, in creation order.
func (env *Environment) Processes() []*Process { return slices.Clone(env.processes) }

// Failures returns every process failure recorded so far.
func (env *Environment) Failures() []*ProcessFailure { return slices.Clone(env.failures) }

// AddObserver registers an observer after construction.
func (env *Environment) AddObserver(o Observer) {
	env.observers = append(env.observers, o)
}

func (env *Environment) notify(fn func(Observer)) {
	for _, o := range env.observers {
		fn(o)
	}
}

// LogEvent sends a structured record to every observer at the current time.
func (env *Environment) LogEvent(sourceType string, sourceID any, message string, metadata map[string]any) {
	rec := LogRecord{
		Time:       env.Now(),
		SourceType: sourceType,
		SourceID:   sourceID,
		Message:    message,
		Metadata:   metadata,
	}
	env.notify(func(o Observer) { o.LogEvent(rec) })
}

// NewEntity registers an entity named name.
func (env *Environment) NewEntity(name string) *Entity {
	e := &Entity{
		id:      len(env.entities),
		name:    name,
		env:     env,
		attrs:   make(map[string]any),
		logging: env.logging,
	}
	env.entities = append(env.entities, e)
	env.notify(func(o Observer) { o.EntityCreated(e) })
	return e
}

// CreateEntities registers count entities named name_0, name_1, ... A later
// call with the same name continues the numbering.
func (env *Environment) CreateEntities(name string, count int) []*Entity {
	out := make([]*Entity, 0, max(count, 0))
	for i := 0; i < count; i++ {
		idx := env.nameCounters[name]
		env.nameCounters[name] = idx + 1
		out = append(out, env.NewEntity(fmt.Sprintf("%s_%d", name, idx)))
	}
	return out
}

// NewResource creates a FIFO resource.
// Panics if capacity <= 0 or init is outside [0, capacity].
func (env *Environment) NewResource(name string, capacity, init int) *Resource {
	return env.NewResourceWith(name, capacity, init, FIFO)
}

// NewPriorityResource creates a resource served by priority.
func (env *Environment) NewPriorityResource(name string, capacity, init int) *Resource {
	return env.NewResourceWith(name, capacity, init, Priority)
}

// NewPreemptiveResource creates a priority resource whose preemptive
// requests may revoke lower-priority holders.
func (env *Environment) NewPreemptiveResource(name string, capacity, init int) *Resource {
	return env.NewResourceWith(name, capacity, init, Preemptive)
}

// NewResourceWith creates a resource with an explicit discipline.
func (env *Environment) NewResourceWith(name string, capacity, init int, d Discipline) *Resource {
	r := newResource(env, name, capacity, init, d)
	env.resources = append(env.resources, r)
	r.logStatus()
	env.notify(func(o Observer) { o.ResourceCreated(r) })
	return r
}

// Process starts body on behalf of e at the current time and returns its
// handle.
// Panics if e or body is nil, or e belongs to another environment.
func (env *Environment) Process(e *Entity, body Body) *Process {
	if e == nil || body == nil {
		panic("Process: entity and body must not be nil")
	}
	if e.env != env {
		panic(fmt.Sprintf("Process: entity %s belongs to another environment", e))
	}
	p := &Process{
		id:     len(env.processes),
		env:    env,
		entity: e,
		body:   body,
		state:  StateScheduled,
	}
	env.processes = append(env.processes, p)
	env.wake(p, env.Now(), Resumption{})
	return p
}

// ProcessEach starts one process per entity, building a fresh body for each.
func (env *Environment) ProcessEach(entities []*Entity, build func(*Entity) Body) []*Process {
	out := make([]*Process, 0, len(entities))
	for _, e := range entities {
		out = append(out, env.Process(e, build(e)))
	}
	return out
}

// Run drains the event queue.
func (env *Environment) Run() error {
	return env.RunContext(context.Background(), math.Inf(1))
}

// RunUntil runs until the queue empties or the next event is after until.
func (env *Environment) RunUntil(until float64) error {
	return env.RunContext(context.Background(), until)
}

// RunContext pops events in time order until the queue is empty or the next
// event lies after until. When stopped by the horizon the clock is set to
// until and remaining processes stay suspended. It may be called again to
// continue. Events scheduled exactly at until are still executed; only later
// ones are left queued. Process failures recorded during this call are
// returned joined; a cancelled ctx stops the loop and its error is included.
func (env *Environment) RunContext(ctx context.Context, until float64) error {
	if math.IsNaN(until) || until < env.Now() {
		return &TimeError{At: until, Now: env.Now()}
	}
	env.runNumber++
	failedBefore := len(env.failures)
	logrus.Infof("[t=%.3f] %s: run %d started", env.Now(), env.name, env.runNumber)
	env.notify(func(o Observer) { o.RunStarted(env) })

	var ctxErr error
	for n := 0; ; n++ {
		if n%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				ctxErr = fmt.Errorf("run interrupted at t=%g: %w", env.Now(), err)
				break
			}
		}
		at, ok := env.clock.Peek()
		if !ok {
			break
		}
		if at > until {
			env.clock.advanceTo(until)
			break
		}
		ev := env.clock.PopNext()
		logrus.Debugf("[t=%.3f] executing %T", env.Now(), ev)
		ev.Execute(env)
	}

	if n := env.suspended(); n > 0 {
		logrus.Infof("[t=%.3f] %s: %d processes still suspended", env.Now(), env.name, n)
	}
	env.notify(func(o Observer) { o.RunFinished(env) })
	logrus.Infof("[t=%.3f] %s: run %d finished", env.Now(), env.name, env.runNumber)

	errs := make([]error, 0, len(env.failures)-failedBefore+1)
	for _, f := range env.failures[failedBefore:] {
		errs = append(errs, f)
	}
	if ctxErr != nil {
		errs = append(errs, ctxErr)
	}
	return errors.Join(errs...)
}

func (env *Environment) suspended() int {
	n := 0
	for _, p := range env.processes {
		if !p.Done() {
			n++
		}
	}
	return n
}

// resumeEvent resumes a process. Events whose token no longer matches the
// process are stale and ignored.
type resumeEvent struct {
	time   float64
	proc   *Process
	token  uint64
	resume Resumption
}

func (e *resumeEvent) Timestamp() float64 { return e.time }

func (e *resumeEvent) Execute(env *Environment) {
	if e.proc.token != e.token || e.proc.Done() {
		return
	}
	env.step(e.proc, e.resume)
}

// wake schedules p to resume at time at, invalidating any earlier wake-up.
func (env *Environment) wake(p *Process, at float64, r Resumption) {
	p.token++
	if err := env.clock.Schedule(&resumeEvent{time: at, proc: p, token: p.token, resume: r}); err != nil {
		env.fail(p, err)
	}
}

// step runs one segment of p: body actions are dispatched until one
// suspends or the body terminates.
func (env *Environment) step(p *Process, r Resumption) {
	if p.activity != nil && r.Interrupt == nil {
		env.finishActivity(p, false)
	}
	p.state = StateRunning
	p.point = NotSuspended
	p.waitingOn = nil

	for n := 0; n < maxSegmentActions; n++ {
		a, suspended, carry, err := env.advance(p, r)
		r = carry
		switch {
		case err != nil:
			env.fail(p, err)
			return
		case a == nil:
			env.finish(p)
			return
		case suspended:
			return
		}
	}
	env.fail(p, fmt.Errorf("more than %d actions without suspending", maxSegmentActions))
}

// advance asks the body for its next action and dispatches it. Panics in the
// body are converted to errors. carry is the resumption for the next call
// when the action completed without suspending.
func (env *Environment) advance(p *Process, r Resumption) (a Action, suspended bool, carry Resumption, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("panic: %v", v)
		}
	}()
	a, err = p.body.Next(p, r)
	if err != nil || a == nil {
		return a, false, Resumption{}, err
	}
	suspended, carry, err = env.dispatch(p, a)
	return a, suspended, carry, err
}

func (env *Environment) dispatch(p *Process, a Action) (bool, Resumption, error) {
	switch act := a.(type) {
	case doAction:
		return true, Resumption{}, env.startActivity(p, act)
	case *GetAction:
		return env.request(p, []*GetAction{act})
	case getAnyAction:
		if len(act.gets) == 0 {
			return false, Resumption{}, errors.New("GetAny: no requests")
		}
		return env.request(p, act.gets)
	case putAction:
		if err := env.own(act.res); err != nil {
			return false, Resumption{}, err
		}
		return false, Resumption{}, act.res.release(p, act.amount)
	case addAction:
		if err := env.own(act.res); err != nil {
			return false, Resumption{}, err
		}
		amount, err := drawAmount(act.amount)
		if err != nil {
			return false, Resumption{}, fmt.Errorf("add to %s: %w", act.res.name, err)
		}
		return false, Resumption{}, act.res.supply(p.entity, amount)
	case cancelAction:
		if err := env.own(act.res); err != nil {
			return false, Resumption{}, err
		}
		return false, Resumption{}, act.res.cancel(p, act.amount)
	case waitAllAction:
		suspended, err := env.waitAll(p, act.handles)
		return suspended, Resumption{}, err
	case lazyAction:
		built := act.build(p)
		if built == nil {
			return false, Resumption{}, nil
		}
		return env.dispatch(p, built)
	default:
		return false, Resumption{}, fmt.Errorf("unknown action %T", a)
	}
}

func (env *Environment) own(r *Resource) error {
	if r == nil {
		return errors.New("nil resource")
	}
	if r.env != env {
		return fmt.Errorf("resource %s belongs to another environment", r)
	}
	return nil
}

func (env *Environment) startActivity(p *Process, act doAction) error {
	d, err := drawDuration(act.dur)
	if err != nil {
		return fmt.Errorf("activity %q: %w", act.name, err)
	}
	now := env.Now()
	run := &activityRun{
		name:          act.name,
		start:         now,
		finish:        now + d,
		interruptible: act.interruptible,
	}
	run.row = p.entity.appendSchedule(act.name, run.start, run.finish)
	p.activity = run
	p.entity.logStatus(record.StatusStart, act.name)
	env.notify(func(o Observer) { o.ActivityStarted(p.entity, run.name, run.start, run.finish) })

	p.state = StateSuspendedOnEvent
	p.point = AwaitingTime
	env.wake(p, run.finish, Resumption{Point: AwaitingTime})
	return nil
}

func (env *Environment) finishActivity(p *Process, interrupted bool) {
	run := p.activity
	p.activity = nil
	now := env.Now()
	if interrupted {
		p.entity.truncateSchedule(run.row, now)
	}
	p.entity.logStatus(record.StatusFinish, run.name)
	env.notify(func(o Observer) { o.ActivityFinished(p.entity, run.name, run.start, now, interrupted) })
}

// request validates and submits gets in order. The process continues
// immediately if any request was granted on submission; otherwise it
// suspends until the first grant.
func (env *Environment) request(p *Process, gets []*GetAction) (bool, Resumption, error) {
	reqs := make([]*Request, 0, len(gets))
	for _, g := range gets {
		if g == nil {
			return false, Resumption{}, errors.New("nil get")
		}
		if err := env.own(g.res); err != nil {
			return false, Resumption{}, err
		}
		amount, err := drawAmount(g.amount)
		if err != nil {
			return false, Resumption{}, fmt.Errorf("get from %s: %w", g.res.name, err)
		}
		if err := g.res.validate(amount); err != nil {
			return false, Resumption{}, err
		}
		reqs = append(reqs, &Request{
			res:         g.res,
			proc:        p,
			entity:      p.entity,
			amount:      amount,
			priority:    g.priority,
			preempt:     g.preempt,
			requestedAt: env.Now(),
		})
	}
	for _, req := range reqs {
		req.res.submit(req)
	}
	for _, req := range reqs {
		if req.granted {
			return false, Resumption{Point: AwaitingResource, Granted: req}, nil
		}
	}
	p.waitingOn = reqs
	p.state = StateSuspendedOnResource
	p.point = AwaitingResource
	return true, Resumption{}, nil
}

// grantResume wakes the process suspended on req. Grants to requests the
// process is no longer waiting on only change holdings.
func (env *Environment) grantResume(req *Request) {
	p := req.proc
	if p == nil || p.state != StateSuspendedOnResource || !slices.Contains(p.waitingOn, req) {
		return
	}
	p.waitingOn = nil
	env.wake(p, env.Now(), Resumption{Point: AwaitingResource, Granted: req})
}

// waitAll suspends p until every handle has terminated.
func (env *Environment) waitAll(p *Process, handles []*Process) (bool, error) {
	remaining := 0
	for _, h := range handles {
		switch {
		case h == nil:
			return false, errors.New("WaitAll: nil handle")
		case h == p:
			return false, errors.New("WaitAll: process cannot wait for itself")
		case h.env != env:
			return false, errors.New("WaitAll: handle belongs to another environment")
		}
		if !h.Done() {
			remaining++
		}
	}
	if remaining == 0 {
		return false, nil
	}
	b := &barrier{remaining: remaining}
	p.barrier = b
	for _, h := range handles {
		if h.Done() {
			continue
		}
		h.whenDone(func(*Process) {
			b.remaining--
			if b.remaining == 0 && p.barrier == b {
				p.barrier = nil
				env.wake(p, env.Now(), Resumption{Point: AwaitingConjunction})
			}
		})
	}
	p.state = StateSuspendedOnConjunction
	p.point = AwaitingConjunction
	return true, nil
}

// interrupt delivers in to the process holding victim if it is suspended in
// interruptible work. Otherwise the revocation stays silent.
func (env *Environment) interrupt(victim *Request, in *Interrupt) {
	p := victim.proc
	if !interruptible(p) {
		return
	}
	env.finishActivity(p, true)
	p.state = StateInterrupted
	env.wake(p, env.Now(), Resumption{Point: AwaitingTime, Interrupt: in})
}

func interruptible(p *Process) bool {
	return p != nil && p.state == StateSuspendedOnEvent && p.activity != nil && p.activity.interruptible
}

func (env *Environment) finish(p *Process) {
	p.state = StateFinished
	p.finishedAt = env.Now()
	logrus.Debugf("[t=%.3f] process %d (%s) finished", env.Now(), p.id, p.entity)
	env.notify(func(o Observer) { o.ProcessFinished(p) })
	env.done(p)
}

// fail marks p failed, withdraws its pending requests and records the
// failure. Resources it holds stay allocated to its entity.
func (env *Environment) fail(p *Process, err error) {
	if p.Done() {
		return
	}
	p.state = StateFailed
	p.err = err
	p.finishedAt = env.Now()
	p.activity = nil
	p.waitingOn = nil
	for _, r := range env.resources {
		r.withdraw(p)
	}
	f := &ProcessFailure{Process: p, Err: err}
	env.failures = append(env.failures, f)
	logrus.Warnf("[t=%.3f] %v", env.Now(), f)
	env.notify(func(o Observer) { o.ProcessFinished(p) })
	env.done(p)
}

func (env *Environment) done(p *Process) {
	callbacks := p.onDone
	p.onDone = nil
	for _, fn := range callbacks {
		fn(p)
	}
}
