package scenario

import (
	"context"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/simpm/simpm/sim"
	"github.com/simpm/simpm/sim/dist"
)

// Model is a scenario built into a runnable environment.
type Model struct {
	Scenario  *Scenario
	Env       *sim.Environment
	Resources map[string]*sim.Resource
	Groups    map[string][]*sim.Entity
	Processes map[string][]*sim.Process
}

// Build validates s and constructs a fresh environment for it. opts are
// applied after the scenario's own settings, so callers can override the seed
// or attach observers.
func Build(s *Scenario, opts ...sim.Option) (*Model, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	name := s.Name
	if name == "" {
		name = "Environment"
	}
	envOpts := []sim.Option{sim.WithName(name), sim.WithSeed(s.Seed), sim.WithStart(s.Start)}
	if s.Logging != nil {
		envOpts = append(envOpts, sim.WithLogging(*s.Logging))
	}
	env := sim.NewEnvironment(append(envOpts, opts...)...)

	m := &Model{
		Scenario:  s,
		Env:       env,
		Resources: make(map[string]*sim.Resource, len(s.Resources)),
		Groups:    make(map[string][]*sim.Entity, len(s.Entities)),
		Processes: make(map[string][]*sim.Process, len(s.Entities)),
	}
	for _, rs := range s.Resources {
		d := sim.FIFO
		if rs.Discipline != "" {
			d, _ = sim.DisciplineByName(rs.Discipline)
		}
		level := rs.Capacity
		if rs.Init != nil {
			level = *rs.Init
		}
		m.Resources[rs.Name] = env.NewResourceWith(rs.Name, rs.Capacity, level, d)
	}

	for i, g := range s.Entities {
		actions, err := m.buildSteps(g)
		if err != nil {
			return nil, fmt.Errorf("entities[%d]: %w", i, err)
		}
		var deps []*sim.Process
		for _, dep := range g.After {
			deps = append(deps, m.Processes[dep]...)
		}

		entities := []*sim.Entity{}
		if g.Count > 1 {
			entities = env.CreateEntities(g.Name, g.Count)
		} else {
			entities = append(entities, env.NewEntity(g.Name))
		}
		for _, e := range entities {
			for k, v := range g.Attributes {
				e.Set(k, v)
			}
		}
		m.Groups[g.Name] = entities
		m.Processes[g.Name] = env.ProcessEach(entities, func(*sim.Entity) sim.Body {
			return groupBody(g, actions, deps)
		})
	}
	logrus.Debugf("scenario %q built: %d resources, %d entity groups", name, len(m.Resources), len(m.Groups))
	return m, nil
}

// Run runs the model to its horizon, or to completion when none is set.
func (m *Model) Run(ctx context.Context) error {
	until := math.Inf(1)
	if m.Scenario.Until != nil {
		until = *m.Scenario.Until
	}
	return m.Env.RunContext(ctx, until)
}

// Makespan returns the latest finish time of any finished process, or the
// start time when none finished.
func (m *Model) Makespan() float64 {
	span := m.Env.Start()
	for _, p := range m.Env.Processes() {
		if p.State() == sim.StateFinished && p.FinishedAt() > span {
			span = p.FinishedAt()
		}
	}
	return span
}

// GroupFinishTimes returns the finish time of every finished process in a
// group, in entity order.
func (m *Model) GroupFinishTimes(group string) []float64 {
	var out []float64
	for _, p := range m.Processes[group] {
		if p.State() == sim.StateFinished {
			out = append(out, p.FinishedAt())
		}
	}
	return out
}

func groupBody(g EntityGroup, actions []sim.Action, deps []*sim.Process) sim.Body {
	var seq *sim.Sequence
	switch {
	case g.Loop:
		seq = sim.Loop(actions...)
	case g.Repeat > 0:
		seq = sim.Repeat(g.Repeat, actions...)
	default:
		seq = sim.Seq(actions...)
	}
	switch g.OnInterrupt {
	case "continue":
		seq.OnInterrupt(func(*sim.Process, *sim.Interrupt) error { return nil })
	case "abandon":
		seq.OnInterrupt(func(*sim.Process, *sim.Interrupt) error { return sim.ErrAbandon })
	}
	if len(deps) == 0 {
		return seq
	}
	return &afterBody{wait: sim.WaitAll(deps...), inner: seq}
}

// afterBody waits for a set of processes once, then runs inner.
type afterBody struct {
	wait   sim.Action
	inner  sim.Body
	waited bool
}

func (b *afterBody) Next(p *sim.Process, r sim.Resumption) (sim.Action, error) {
	if !b.waited {
		b.waited = true
		return b.wait, nil
	}
	return b.inner.Next(p, r)
}

func (m *Model) buildSteps(g EntityGroup) ([]sim.Action, error) {
	rng := m.Env.RNG()
	actions := make([]sim.Action, 0, len(g.Steps))
	for j, st := range g.Steps {
		switch {
		case st.Do != nil:
			d, err := dist.New(st.Do.Duration, rng.ForSubsystem(sim.SubsystemActivity(st.Do.Activity)))
			if err != nil {
				return nil, fmt.Errorf("steps[%d].do.duration: %w", j, err)
			}
			if st.Do.Interruptive {
				actions = append(actions, sim.InterruptiveDo(st.Do.Activity, d))
			} else {
				actions = append(actions, sim.Do(st.Do.Activity, d))
			}
		case st.Get != nil:
			get, err := m.buildGet(*st.Get)
			if err != nil {
				return nil, fmt.Errorf("steps[%d].get: %w", j, err)
			}
			actions = append(actions, get)
		case len(st.GetAny) > 0:
			gets := make([]*sim.GetAction, 0, len(st.GetAny))
			for k, gs := range st.GetAny {
				get, err := m.buildGet(gs)
				if err != nil {
					return nil, fmt.Errorf("steps[%d].get_any[%d]: %w", j, k, err)
				}
				gets = append(gets, get)
			}
			actions = append(actions, sim.GetAny(gets...))
		case st.Put != nil:
			actions = append(actions, sim.Put(m.Resources[st.Put.Resource], st.Put.Amount))
		case st.Add != nil:
			actions = append(actions, sim.Add(m.Resources[st.Add.Resource], st.Add.Amount))
		case st.Cancel != nil:
			actions = append(actions, sim.Cancel(m.Resources[st.Cancel.Resource], st.Cancel.Amount))
		}
	}
	return actions, nil
}

func (m *Model) buildGet(gs GetStep) (*sim.GetAction, error) {
	r := m.Resources[gs.Resource]
	var get *sim.GetAction
	if gs.AmountDist != nil {
		d, err := dist.New(*gs.AmountDist, m.Env.RNG().ForSubsystem(sim.SubsystemAmounts))
		if err != nil {
			return nil, err
		}
		get = sim.GetFrom(r, d)
	} else {
		get = sim.Get(r, gs.Amount)
	}
	if gs.Priority != nil {
		get = get.WithPriority(*gs.Priority)
	}
	if gs.Preempt {
		get = get.Preemptive()
	}
	return get, nil
}
