package sim

// Action is one step of a process body. Actions are immutable values and may
// be reused across processes and passes of a Loop.
type Action interface {
	isAction()
}

type doAction struct {
	name          string
	dur           Sampler
	interruptible bool
}

func (doAction) isAction() {}

// Do performs timed work named name for a duration drawn from d.
func Do(name string, d Sampler) Action {
	return doAction{name: name, dur: d}
}

// InterruptiveDo is Do that can be cut short when the entity loses a
// preemptive allocation.
func InterruptiveDo(name string, d Sampler) Action {
	return doAction{name: name, dur: d, interruptible: true}
}

// GetAction requests an amount from a resource and suspends until granted.
type GetAction struct {
	res      *Resource
	amount   Sampler
	priority int
	preempt  bool
}

func (*GetAction) isAction() {}

// Get requests amount units of r at the default priority.
func Get(r *Resource, amount int) *GetAction {
	return &GetAction{res: r, amount: Fixed(amount), priority: DefaultPriority}
}

// GetFrom requests an amount drawn from s, redrawn until non-negative and
// truncated to an integer.
func GetFrom(r *Resource, s Sampler) *GetAction {
	return &GetAction{res: r, amount: s, priority: DefaultPriority}
}

// WithPriority returns a copy of g with priority p. Lower values are served first.
func (g *GetAction) WithPriority(p int) *GetAction {
	c := *g
	c.priority = p
	return &c
}

// Preemptive returns a copy of g that may revoke a lower-priority holder on a
// preemptive resource.
func (g *GetAction) Preemptive() *GetAction {
	c := *g
	c.preempt = true
	return &c
}

// Resource returns the target resource.
func (g *GetAction) Resource() *Resource { return g.res }

type getAnyAction struct {
	gets []*GetAction
}

func (getAnyAction) isAction() {}

// GetAny submits all gets and resumes on the first grant. The remaining
// requests stay pending until cancelled.
func GetAny(gets ...*GetAction) Action {
	return getAnyAction{gets: gets}
}

type putAction struct {
	res    *Resource
	amount int
}

func (putAction) isAction() {}

// Put releases amount units of r held by the entity.
func Put(r *Resource, amount int) Action {
	return putAction{res: r, amount: amount}
}

type addAction struct {
	res    *Resource
	amount Sampler
}

func (addAction) isAction() {}

// Add increases the level of r by amount.
func Add(r *Resource, amount int) Action {
	return addAction{res: r, amount: Fixed(amount)}
}

// AddFrom increases the level of r by an amount drawn from s.
func AddFrom(r *Resource, s Sampler) Action {
	return addAction{res: r, amount: s}
}

type cancelAction struct {
	res    *Resource
	amount int
}

func (cancelAction) isAction() {}

// Cancel withdraws the entity's pending request for amount units of r, or
// releases amount held units when no such request is pending.
func Cancel(r *Resource, amount int) Action {
	return cancelAction{res: r, amount: amount}
}

type waitAllAction struct {
	handles []*Process
}

func (waitAllAction) isAction() {}

// WaitAll suspends until every handle has terminated.
func WaitAll(handles ...*Process) Action {
	return waitAllAction{handles: handles}
}

type lazyAction struct {
	build func(*Process) Action
}

func (lazyAction) isAction() {}

// Lazy defers building an action until it is dispatched, so one body
// can read per-entity attributes. A nil result is skipped.
func Lazy(build func(*Process) Action) Action {
	return lazyAction{build: build}
}
