// Package scenario loads declarative project models from YAML and builds
// them into a sim.Environment.
//
// A scenario names resources, then groups of entities that each run the same
// step list. Steps are do, get, get_any, put, add and cancel. A group may
// wait for other groups to finish before starting, which is how activity
// precedence is expressed.
package scenario

import (
	"bytes"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/simpm/simpm/sim"
	"github.com/simpm/simpm/sim/dist"
)

// Scenario is the top-level YAML document.
type Scenario struct {
	Name      string         `yaml:"name"`
	Seed      int64          `yaml:"seed"`
	Start     float64        `yaml:"start,omitempty"`
	Until     *float64       `yaml:"until,omitempty"` // nil runs to completion
	Logging   *bool          `yaml:"logging,omitempty"`
	Resources []ResourceSpec `yaml:"resources"`
	Entities  []EntityGroup  `yaml:"entities"`
}

// ResourceSpec declares one resource.
type ResourceSpec struct {
	Name       string `yaml:"name"`
	Discipline string `yaml:"discipline,omitempty"` // default fifo
	Capacity   int    `yaml:"capacity"`
	Init       *int   `yaml:"init,omitempty"` // default capacity
}

// EntityGroup declares Count entities named Name_0..Name_{Count-1} that each
// run Steps.
type EntityGroup struct {
	Name        string         `yaml:"name"`
	Count       int            `yaml:"count,omitempty"` // default 1
	Attributes  map[string]any `yaml:"attributes,omitempty"`
	After       []string       `yaml:"after,omitempty"`
	Repeat      int            `yaml:"repeat,omitempty"` // default 1
	Loop        bool           `yaml:"loop,omitempty"`
	OnInterrupt string         `yaml:"on_interrupt,omitempty"` // fail, continue, abandon
	Steps       []Step         `yaml:"steps"`
}

// Step is one action. Exactly one field must be set.
type Step struct {
	Do     *DoStep       `yaml:"do,omitempty"`
	Get    *GetStep      `yaml:"get,omitempty"`
	GetAny []GetStep     `yaml:"get_any,omitempty"`
	Put    *ResourceStep `yaml:"put,omitempty"`
	Add    *ResourceStep `yaml:"add,omitempty"`
	Cancel *ResourceStep `yaml:"cancel,omitempty"`
}

// DoStep runs an activity for a sampled duration.
type DoStep struct {
	Activity     string    `yaml:"activity"`
	Duration     dist.Spec `yaml:"duration"`
	Interruptive bool      `yaml:"interruptive,omitempty"`
}

// ResourceStep names a resource and a fixed amount.
type ResourceStep struct {
	Resource string `yaml:"resource"`
	Amount   int    `yaml:"amount"`
}

// GetStep requests a resource. AmountDist, when set, replaces Amount with a
// sampled value.
type GetStep struct {
	Resource   string     `yaml:"resource"`
	Amount     int        `yaml:"amount,omitempty"`
	AmountDist *dist.Spec `yaml:"amount_dist,omitempty"`
	Priority   *int       `yaml:"priority,omitempty"`
	Preempt    bool       `yaml:"preempt,omitempty"`
}

var validOnInterrupt = map[string]bool{
	"": true, "fail": true, "continue": true, "abandon": true,
}

// Load reads and strictly decodes a scenario file. Unknown fields are errors.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	return Parse(data)
}

// Parse strictly decodes a scenario document.
func Parse(data []byte) (*Scenario, error) {
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}
	return &s, nil
}

// Validate checks names, references and parameters without building.
func (s *Scenario) Validate() error {
	if math.IsNaN(s.Start) || math.IsInf(s.Start, 0) {
		return fmt.Errorf("start must be finite, got %f", s.Start)
	}
	if s.Until != nil && (math.IsNaN(*s.Until) || *s.Until < s.Start) {
		return fmt.Errorf("until must be >= start (%g), got %f", s.Start, *s.Until)
	}
	resources := make(map[string]ResourceSpec, len(s.Resources))
	for i, r := range s.Resources {
		if err := validateResource(r, i); err != nil {
			return err
		}
		if _, dup := resources[r.Name]; dup {
			return fmt.Errorf("resource[%d]: duplicate name %q", i, r.Name)
		}
		resources[r.Name] = r
	}
	if len(s.Entities) == 0 {
		return fmt.Errorf("at least one entity group required")
	}
	groups := make(map[string]bool, len(s.Entities))
	for i, g := range s.Entities {
		prefix := fmt.Sprintf("entities[%d]", i)
		if g.Name == "" {
			return fmt.Errorf("%s: name required", prefix)
		}
		if groups[g.Name] {
			return fmt.Errorf("%s: duplicate name %q", prefix, g.Name)
		}
		if g.Count < 0 {
			return fmt.Errorf("%s: count must be non-negative, got %d", prefix, g.Count)
		}
		if g.Repeat < 0 {
			return fmt.Errorf("%s: repeat must be non-negative, got %d", prefix, g.Repeat)
		}
		if g.Loop && g.Repeat > 0 {
			return fmt.Errorf("%s: loop and repeat are mutually exclusive", prefix)
		}
		if !validOnInterrupt[g.OnInterrupt] {
			return fmt.Errorf("%s: unknown on_interrupt %q; valid: fail, continue, abandon", prefix, g.OnInterrupt)
		}
		for _, dep := range g.After {
			if !groups[dep] {
				return fmt.Errorf("%s: after references %q, which is not declared earlier", prefix, dep)
			}
		}
		for j, st := range g.Steps {
			if err := validateStep(st, resources, fmt.Sprintf("%s.steps[%d]", prefix, j)); err != nil {
				return err
			}
		}
		groups[g.Name] = true
	}
	return nil
}

func validateResource(r ResourceSpec, idx int) error {
	prefix := fmt.Sprintf("resource[%d]", idx)
	if r.Name == "" {
		return fmt.Errorf("%s: name required", prefix)
	}
	if r.Discipline != "" {
		if _, ok := sim.DisciplineByName(r.Discipline); !ok {
			return fmt.Errorf("%s: unknown discipline %q; valid: %v", prefix, r.Discipline, sim.DisciplineNames())
		}
	}
	if r.Capacity <= 0 {
		return fmt.Errorf("%s: capacity must be positive, got %d", prefix, r.Capacity)
	}
	if r.Init != nil && (*r.Init < 0 || *r.Init > r.Capacity) {
		return fmt.Errorf("%s: init must be in [0, %d], got %d", prefix, r.Capacity, *r.Init)
	}
	return nil
}

func validateStep(st Step, resources map[string]ResourceSpec, prefix string) error {
	set := 0
	for _, on := range []bool{st.Do != nil, st.Get != nil, len(st.GetAny) > 0, st.Put != nil, st.Add != nil, st.Cancel != nil} {
		if on {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%s: exactly one of do, get, get_any, put, add, cancel required, got %d", prefix, set)
	}
	switch {
	case st.Do != nil:
		if st.Do.Activity == "" {
			return fmt.Errorf("%s.do: activity required", prefix)
		}
		if err := st.Do.Duration.Validate(); err != nil {
			return fmt.Errorf("%s.do.duration: %w", prefix, err)
		}
	case st.Get != nil:
		return validateGet(*st.Get, resources, prefix+".get")
	case len(st.GetAny) > 0:
		for i, g := range st.GetAny {
			if err := validateGet(g, resources, fmt.Sprintf("%s.get_any[%d]", prefix, i)); err != nil {
				return err
			}
		}
	case st.Put != nil:
		return validateAmount(*st.Put, resources, prefix+".put")
	case st.Add != nil:
		return validateAmount(*st.Add, resources, prefix+".add")
	case st.Cancel != nil:
		return validateAmount(*st.Cancel, resources, prefix+".cancel")
	}
	return nil
}

func validateGet(g GetStep, resources map[string]ResourceSpec, prefix string) error {
	if g.AmountDist != nil {
		if _, ok := resources[g.Resource]; !ok {
			return fmt.Errorf("%s: unknown resource %q", prefix, g.Resource)
		}
		if g.Amount != 0 {
			return fmt.Errorf("%s: amount and amount_dist are mutually exclusive", prefix)
		}
		if err := g.AmountDist.Validate(); err != nil {
			return fmt.Errorf("%s.amount_dist: %w", prefix, err)
		}
	} else if err := validateAmount(ResourceStep{Resource: g.Resource, Amount: g.Amount}, resources, prefix); err != nil {
		return err
	}
	if g.Preempt {
		if d := resources[g.Resource].Discipline; d != sim.Preemptive.Name() {
			return fmt.Errorf("%s: preempt requires a preemptive resource, %q is %q", prefix, g.Resource, d)
		}
	}
	return nil
}

func validateAmount(r ResourceStep, resources map[string]ResourceSpec, prefix string) error {
	spec, ok := resources[r.Resource]
	if !ok {
		return fmt.Errorf("%s: unknown resource %q", prefix, r.Resource)
	}
	if r.Amount <= 0 || r.Amount > spec.Capacity {
		return fmt.Errorf("%s: amount must be in [1, %d], got %d", prefix, spec.Capacity, r.Amount)
	}
	return nil
}
