package sim

import "sort"

// DefaultPriority is the priority of a Get without WithPriority.
// Lower values are served first.
const DefaultPriority = 1

// Discipline is the queueing strategy of a Resource.
type Discipline interface {
	// Name returns the discipline name used in scenario files and logs.
	Name() string
	// Before reports whether pending request a is served ahead of b.
	Before(a, b *Request) bool
	// Victim picks one holder to revoke so that req can be granted, or nil.
	// holders are in grant order; idle is the current idle amount.
	Victim(holders []*Request, req *Request, idle int) *Request
}

var (
	// FIFO serves requests strictly in arrival order.
	FIFO Discipline = fifoDiscipline{}
	// Priority serves requests by (priority ascending, arrival order).
	Priority Discipline = priorityDiscipline{}
	// Preemptive orders like Priority and lets a preemptive request revoke
	// one lower-priority holder.
	Preemptive Discipline = preemptiveDiscipline{}
)

var disciplines = map[string]Discipline{
	FIFO.Name():       FIFO,
	Priority.Name():   Priority,
	Preemptive.Name(): Preemptive,
}

// DisciplineByName returns the discipline registered under name.
func DisciplineByName(name string) (Discipline, bool) {
	d, ok := disciplines[name]
	return d, ok
}

// DisciplineNames returns the registered discipline names, sorted.
func DisciplineNames() []string {
	names := make([]string, 0, len(disciplines))
	for name := range disciplines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type fifoDiscipline struct{}

func (fifoDiscipline) Name() string                              { return "fifo" }
func (fifoDiscipline) Before(a, b *Request) bool                 { return a.seq < b.seq }
func (fifoDiscipline) Victim([]*Request, *Request, int) *Request { return nil }

type priorityDiscipline struct{}

func (priorityDiscipline) Name() string { return "priority" }

func (priorityDiscipline) Before(a, b *Request) bool {
	if a.priority != b.priority {
		return a.priority < b.priority
	}
	return a.seq < b.seq
}

func (priorityDiscipline) Victim([]*Request, *Request, int) *Request { return nil }

type preemptiveDiscipline struct {
	priorityDiscipline
}

func (preemptiveDiscipline) Name() string { return "preemptive" }

// Victim selects exactly one holder with a strictly larger priority value
// whose allocation plus idle covers req. Among candidates the largest
// priority value wins, then the smallest allocation (minimal surplus), then
// the most recent grant. Returns nil when no single holder suffices.
func (preemptiveDiscipline) Victim(holders []*Request, req *Request, idle int) *Request {
	if !req.preempt {
		return nil
	}
	var best *Request
	for i := len(holders) - 1; i >= 0; i-- {
		h := holders[i]
		if h.priority <= req.priority || h.held+idle < req.amount {
			continue
		}
		if best == nil || h.priority > best.priority ||
			(h.priority == best.priority && h.held < best.held) {
			best = h
		}
	}
	return best
}
