package sim

import (
	"fmt"
	"slices"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/simpm/simpm/sim/record"
)

// Request is a pending or granted claim on a Resource.
type Request struct {
	seq      uint64
	res      *Resource
	proc     *Process
	entity   *Entity
	amount   int
	held     int
	priority int
	preempt  bool

	requestedAt float64
	grantedAt   float64
	granted     bool
	cancelled   bool
	revoked     bool
}

// Resource returns the resource the request targets.
func (r *Request) Resource() *Resource { return r.res }

// Entity returns the requesting entity.
func (r *Request) Entity() *Entity { return r.entity }

// Process returns the requesting process.
func (r *Request) Process() *Process { return r.proc }

// Amount returns the requested amount.
func (r *Request) Amount() int { return r.amount }

// Held returns the amount still held from this grant.
func (r *Request) Held() int { return r.held }

// Priority returns the request priority.
func (r *Request) Priority() int { return r.priority }

// Granted reports whether the request has been granted.
func (r *Request) Granted() bool { return r.granted }

// Revoked reports whether the grant was revoked by preemption.
func (r *Request) Revoked() bool { return r.revoked }

// RequestedAt returns the submission time.
func (r *Request) RequestedAt() float64 { return r.requestedAt }

// GrantedAt returns the grant time. Only meaningful when Granted.
func (r *Request) GrantedAt() float64 { return r.grantedAt }

// Resource is a capacity pool with a pluggable queueing discipline.
// Invariant: 0 <= inUse <= level <= capacity, idle = level - inUse.
type Resource struct {
	id         int
	name       string
	env        *Environment
	discipline Discipline

	capacity int
	level    int
	inUse    int

	pending []*Request       // ordered by discipline.Before
	holders []*Request       // granted and not fully released, in grant order
	revoked map[*Process]int // units revoked from each process and not yet put back
	seq     uint64

	logging   bool
	statusLog []record.ResourceStatusRow
	queueLog  []record.QueueRow
}

func newResource(env *Environment, name string, capacity, init int, d Discipline) *Resource {
	if capacity <= 0 {
		panic(fmt.Sprintf("resource %s: capacity must be > 0, got %d", name, capacity))
	}
	if init < 0 || init > capacity {
		panic(fmt.Sprintf("resource %s: init must be in [0, %d], got %d", name, capacity, init))
	}
	if d == nil {
		panic(fmt.Sprintf("resource %s: discipline must not be nil", name))
	}
	return &Resource{
		id:         len(env.resources),
		name:       name,
		env:        env,
		discipline: d,
		capacity:   capacity,
		level:      init,
		revoked:    make(map[*Process]int),
		logging:    env.logging,
	}
}

// ID returns the resource id, unique within its environment.
func (r *Resource) ID() int { return r.id }

// Name returns the resource name.
func (r *Resource) Name() string { return r.name }

// Discipline returns the queueing discipline.
func (r *Resource) Discipline() Discipline { return r.discipline }

// Capacity returns the maximum level.
func (r *Resource) Capacity() int { return r.capacity }

// Level returns in-use plus idle units.
func (r *Resource) Level() int { return r.level }

// InUse returns the granted units.
func (r *Resource) InUse() int { return r.inUse }

// Idle returns level minus in-use.
func (r *Resource) Idle() int { return r.level - r.inUse }

// QueueLength returns the number of pending requests.
func (r *Resource) QueueLength() int { return len(r.pending) }

// Pending returns a snapshot of the pending queue in service order.
func (r *Resource) Pending() []*Request { return slices.Clone(r.pending) }

// Holders returns a snapshot of granted requests in grant order.
func (r *Resource) Holders() []*Request { return slices.Clone(r.holders) }

// SetLogging enables or disables the status and queue logs.
func (r *Resource) SetLogging(on bool) { r.logging = on }

// StatusLog returns a copy of the status log.
func (r *Resource) StatusLog() []record.ResourceStatusRow { return slices.Clone(r.statusLog) }

// QueueLog returns a copy of the queue log.
func (r *Resource) QueueLog() []record.QueueRow { return slices.Clone(r.queueLog) }

// Summary computes utilization and waiting statistics from the logs over
// the environment's start time through now.
func (r *Resource) Summary() *record.ResourceSummary {
	return record.SummarizeResource(r.statusLog, r.queueLog, r.env.start, r.env.Now())
}

// HeldBy returns the amount currently held by e.
func (r *Resource) HeldBy(e *Entity) int {
	total := 0
	for _, h := range r.holders {
		if h.entity == e {
			total += h.held
		}
	}
	return total
}

func (r *Resource) String() string {
	return fmt.Sprintf("%s(%d)", r.name, r.id)
}

// validate checks a requested amount before it is queued.
func (r *Resource) validate(amount int) error {
	if amount <= 0 {
		return &AmountError{Resource: r.name, Amount: amount, Reason: "must be positive"}
	}
	if amount > r.capacity {
		return &AmountError{Resource: r.name, Amount: amount,
			Reason: fmt.Sprintf("exceeds capacity %d", r.capacity)}
	}
	return nil
}

// submit queues req and runs admission. A preemptive request still pending
// afterwards with insufficient idle capacity may revoke one holder.
func (r *Resource) submit(req *Request) {
	req.seq = r.seq
	r.seq++
	i := sort.Search(len(r.pending), func(i int) bool {
		return r.discipline.Before(req, r.pending[i])
	})
	r.pending = slices.Insert(r.pending, i, req)

	req.entity.logStatus(record.StatusWaitFor, r.name)
	r.logStatus()
	r.env.notify(func(o Observer) { o.ResourceRequested(req) })

	r.admit()
	if !req.granted && !req.cancelled && req.preempt && r.Idle() < req.amount {
		if victim := r.discipline.Victim(r.holders, req, r.Idle()); victim != nil {
			r.revoke(victim, req)
			r.admit()
		}
	}
}

// admit grants pending requests head-first until the head cannot be
// satisfied. Runs to a fixed point before returning.
func (r *Resource) admit() {
	for len(r.pending) > 0 {
		head := r.pending[0]
		if head.amount > r.Idle() {
			return
		}
		r.pending = slices.Delete(r.pending, 0, 1)
		r.grant(head)
	}
}

func (r *Resource) grant(req *Request) {
	now := r.env.Now()
	req.granted = true
	req.grantedAt = now
	req.held = req.amount
	r.inUse += req.amount
	r.holders = append(r.holders, req)

	if r.logging {
		r.queueLog = append(r.queueLog, record.QueueRow{
			Entity:     req.entity.Name(),
			StartTime:  req.requestedAt,
			FinishTime: now,
			Amount:     req.amount,
		})
	}
	req.entity.recordWait(r.name, req.requestedAt, now, req.amount)
	req.entity.logStatus(record.StatusGet, r.name)
	r.logStatus()
	logrus.Debugf("[t=%.3f] %s granted %d of %s", now, req.entity, req.amount, r)
	r.env.notify(func(o Observer) { o.ResourceAcquired(req) })
	r.env.grantResume(req)
}

// revoke returns victim's allocation to idle and interrupts its holder.
func (r *Resource) revoke(victim, by *Request) {
	now := r.env.Now()
	amount := victim.held
	r.removeHolder(victim)
	victim.held = 0
	victim.revoked = true
	r.inUse -= amount
	r.revoked[victim.proc] += amount

	victim.entity.logStatus(record.StatusPreempted, r.name)
	r.logStatus()
	logrus.Debugf("[t=%.3f] %s preempted %s on %s", now, by.entity, victim.entity, r)
	r.env.notify(func(o Observer) { o.Preempted(victim, by) })
	r.env.interrupt(victim, &Interrupt{
		By:         by.entity,
		Resource:   r,
		Amount:     amount,
		UsageSince: victim.grantedAt,
		At:         now,
	})
}

// release returns amount units for p. The units come from p's own grants
// first, then from units revoked from p by preemption (absorbed silently),
// then from other grants of p's entity, oldest first.
func (r *Resource) release(p *Process, amount int) error {
	if amount <= 0 {
		return &AmountError{Resource: r.name, Amount: amount, Reason: "must be positive"}
	}
	e := p.entity
	own := r.heldByProcess(p)
	held := r.HeldBy(e)
	fromOwn := min(amount, own)
	fromRevoked := min(amount-fromOwn, r.revoked[p])
	fromOthers := amount - fromOwn - fromRevoked
	if fromOthers > held-own {
		return &AmountError{Resource: r.name, Amount: amount,
			Reason: fmt.Sprintf("%s holds only %d", e.Name(), held)}
	}
	if fromRevoked > 0 {
		r.revoked[p] -= fromRevoked
		if r.revoked[p] == 0 {
			delete(r.revoked, p)
		}
		logrus.Debugf("[t=%.3f] %s put %d revoked units of %s (no-op)", r.env.Now(), e, fromRevoked, r)
	}
	fromHeld := fromOwn + fromOthers
	if fromHeld == 0 {
		return nil
	}

	r.releaseFrom(func(h *Request) bool { return h.proc == p }, fromOwn)
	r.releaseFrom(func(h *Request) bool { return h.entity == e && h.proc != p }, fromOthers)
	r.inUse -= fromHeld

	e.logStatus(record.StatusPut, r.name)
	r.logStatus()
	r.env.notify(func(o Observer) { o.ResourceReleased(r, e, fromHeld) })
	r.admit()
	return nil
}

// releaseFrom takes amount units from the holders matching match, in grant
// order, dropping holders that reach zero.
func (r *Resource) releaseFrom(match func(*Request) bool, amount int) {
	for i := 0; i < len(r.holders) && amount > 0; {
		h := r.holders[i]
		if !match(h) {
			i++
			continue
		}
		take := min(h.held, amount)
		h.held -= take
		amount -= take
		if h.held == 0 {
			r.holders = slices.Delete(r.holders, i, i+1)
			continue
		}
		i++
	}
}

func (r *Resource) heldByProcess(p *Process) int {
	total := 0
	for _, h := range r.holders {
		if h.proc == p {
			total += h.held
		}
	}
	return total
}

// supply grows the level by amount and runs admission.
func (r *Resource) supply(e *Entity, amount int) error {
	if amount <= 0 {
		return &AmountError{Resource: r.name, Amount: amount, Reason: "must be positive"}
	}
	if r.level+amount > r.capacity {
		return &CapacityError{Resource: r.name, Level: r.level, Amount: amount, Capacity: r.capacity}
	}
	r.level += amount

	e.logStatus(record.StatusAdd, r.name)
	r.logStatus()
	r.env.notify(func(o Observer) { o.ResourceAdded(r, e, amount) })
	r.admit()
	return nil
}

// cancel withdraws a pending request of p's entity for exactly amount, or
// releases amount units as put would. Does nothing when neither applies.
func (r *Resource) cancel(p *Process, amount int) error {
	e := p.entity
	for i, req := range r.pending {
		if req.entity != e || req.amount != amount {
			continue
		}
		r.pending = slices.Delete(r.pending, i, i+1)
		req.cancelled = true
		if req.proc != nil {
			req.proc.dropWaiting(req)
		}
		e.logStatus(record.StatusCancel, r.name)
		r.logStatus()
		r.admit()
		return nil
	}
	if amount > 0 && r.HeldBy(e)+r.revoked[p] >= amount {
		return r.release(p, amount)
	}
	return nil
}

// withdraw removes every pending request of p without logging an entity
// transition. Used when p fails.
func (r *Resource) withdraw(p *Process) {
	before := len(r.pending)
	r.pending = slices.DeleteFunc(r.pending, func(req *Request) bool {
		if req.proc == p {
			req.cancelled = true
			return true
		}
		return false
	})
	if len(r.pending) != before {
		r.logStatus()
		r.admit()
	}
}

func (r *Resource) removeHolder(req *Request) {
	if i := slices.Index(r.holders, req); i >= 0 {
		r.holders = slices.Delete(r.holders, i, i+1)
	}
}

func (r *Resource) logStatus() {
	if !r.logging {
		return
	}
	r.statusLog = append(r.statusLog, record.ResourceStatusRow{
		Time:        r.env.Now(),
		InUse:       r.inUse,
		Idle:        r.Idle(),
		QueueLength: len(r.pending),
	})
}
