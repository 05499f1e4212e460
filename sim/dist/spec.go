package dist

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strings"
)

// Spec is the declarative form of a distribution, as written in scenario
// YAML files:
//
//	duration:
//	  type: triang
//	  params: {a: 2, b: 3, c: 6}
type Spec struct {
	Type   string             `yaml:"type"`
	Params map[string]float64 `yaml:"params,omitempty"`
	Data   []float64          `yaml:"data,omitempty"` // empirical only
}

// validDistTypes maps each distribution type to its required parameters.
var validDistTypes = map[string][]string{
	"uniform":   {"a", "b"},
	"norm":      {"mean", "std"},
	"triang":    {"a", "b", "c"},
	"trapz":     {"a", "b", "c", "d"},
	"beta":      {"a", "b", "min", "max"},
	"expon":     {"mean"},
	"lognormal": {"mu", "sigma"},
	"empirical": nil,
	"constant":  {"value"},
}

// Types returns the recognized distribution type names, sorted.
func Types() []string {
	names := make([]string, 0, len(validDistTypes))
	for name := range validDistTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// requireParam checks that all required keys exist in a params map.
func requireParam(params map[string]float64, keys ...string) error {
	for _, k := range keys {
		if _, ok := params[k]; !ok {
			return fmt.Errorf("distribution requires parameter %q", k)
		}
	}
	return nil
}

// Validate checks the type, required parameters and finiteness without
// constructing the distribution.
func (s Spec) Validate() error {
	required, ok := validDistTypes[s.Type]
	if !ok {
		return fmt.Errorf("unknown distribution type %q; valid: %s", s.Type, strings.Join(Types(), ", "))
	}
	if err := requireParam(s.Params, required...); err != nil {
		return fmt.Errorf("%s: %w", s.Type, err)
	}
	for name, val := range s.Params {
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return fmt.Errorf("%s.params.%s must be a finite number, got %f", s.Type, name, val)
		}
	}
	if s.Type == "empirical" && len(s.Data) == 0 {
		return fmt.Errorf("empirical: data must contain at least one observation")
	}
	return nil
}

// New builds the distribution described by spec, drawing from src.
// src may be nil only for the constant type.
func New(spec Spec, src rand.Source) (Distribution, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	p := spec.Params
	if spec.Type != "constant" && src == nil {
		return nil, fmt.Errorf("%s: nil random source", spec.Type)
	}
	switch spec.Type {
	case "uniform":
		return Uniform(p["a"], p["b"], src)
	case "norm":
		return Normal(p["mean"], p["std"], src)
	case "triang":
		return Triang(p["a"], p["b"], p["c"], src)
	case "trapz":
		return Trapz(p["a"], p["b"], p["c"], p["d"], src)
	case "beta":
		return Beta(p["a"], p["b"], p["min"], p["max"], src)
	case "expon":
		return Expon(p["mean"], src)
	case "lognormal":
		return LogNormal(p["mu"], p["sigma"], src)
	case "empirical":
		return Empirical(spec.Data, src)
	default:
		return Constant(p["value"]), nil
	}
}
