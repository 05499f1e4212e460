// Package dist provides the probability distributions used for activity
// durations and sampled amounts. Every Distribution satisfies sim.Sampler.
//
// Continuous shapes are backed by gonum's distuv; trapezoid, scaled beta,
// empirical and constant are built on top of it. Each distribution draws
// from the rand.Source it was constructed with, normally a stream from the
// environment's PartitionedRNG, so runs stay reproducible.
package dist

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Distribution is a sampled quantity with a known shape.
type Distribution interface {
	// Sample draws one variate.
	Sample() float64
	Mean() float64
	CDF(x float64) float64
	// Quantile returns the value below which a fraction p of draws fall.
	Quantile(p float64) float64
	String() string
}

// shape is the subset of the distuv API every backing distribution offers.
type shape interface {
	Rand() float64
	Mean() float64
	CDF(x float64) float64
	Quantile(p float64) float64
}

type named struct {
	shape
	name   string
	params []float64
}

func (d named) Sample() float64 { return d.Rand() }

func (d named) String() string { return format(d.name, d.params...) }

func format(name string, params ...float64) string {
	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = strconv.FormatFloat(p, 'g', -1, 64)
	}
	return fmt.Sprintf("%s(%s)", name, strings.Join(parts, ", "))
}

func finite(vals ...float64) error {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("parameters must be finite, got %v", v)
		}
	}
	return nil
}

// Uniform on [a, b). Requires a < b.
func Uniform(a, b float64, src rand.Source) (Distribution, error) {
	if err := finite(a, b); err != nil {
		return nil, err
	}
	if a >= b {
		return nil, fmt.Errorf("uniform: lower bound %g must be less than upper bound %g", a, b)
	}
	return named{distuv.Uniform{Min: a, Max: b, Src: src}, "uniform", []float64{a, b}}, nil
}

// Normal with the given mean and standard deviation. Requires std > 0.
// Negative draws are possible; duration sampling redraws them.
func Normal(mean, std float64, src rand.Source) (Distribution, error) {
	if err := finite(mean, std); err != nil {
		return nil, err
	}
	if std <= 0 {
		return nil, fmt.Errorf("norm: standard deviation must be positive, got %g", std)
	}
	return named{distuv.Normal{Mu: mean, Sigma: std, Src: src}, "norm", []float64{mean, std}}, nil
}

// Triang is the triangular distribution with lower bound a, mode b and upper
// bound c. Requires a < c and a <= b <= c.
func Triang(a, b, c float64, src rand.Source) (Distribution, error) {
	if err := finite(a, b, c); err != nil {
		return nil, err
	}
	if a >= c {
		return nil, fmt.Errorf("triang: lower bound %g must be less than upper bound %g", a, c)
	}
	if b < a || b > c {
		return nil, fmt.Errorf("triang: mode %g must lie in [%g, %g]", b, a, c)
	}
	return named{distuv.NewTriangle(a, c, b, src), "triang", []float64{a, b, c}}, nil
}

// Expon is the exponential distribution with the given mean. Requires mean > 0.
func Expon(mean float64, src rand.Source) (Distribution, error) {
	if err := finite(mean); err != nil {
		return nil, err
	}
	if mean <= 0 {
		return nil, fmt.Errorf("expon: mean must be positive, got %g", mean)
	}
	return named{distuv.Exponential{Rate: 1 / mean, Src: src}, "expon", []float64{mean}}, nil
}

// LogNormal whose logarithm is normal with mean mu and standard deviation
// sigma. Requires sigma > 0.
func LogNormal(mu, sigma float64, src rand.Source) (Distribution, error) {
	if err := finite(mu, sigma); err != nil {
		return nil, err
	}
	if sigma <= 0 {
		return nil, fmt.Errorf("lognormal: sigma must be positive, got %g", sigma)
	}
	return named{distuv.LogNormal{Mu: mu, Sigma: sigma, Src: src}, "lognormal", []float64{mu, sigma}}, nil
}

// Beta with shape parameters a and b, scaled onto [min, max].
func Beta(a, b, min, max float64, src rand.Source) (Distribution, error) {
	if err := finite(a, b, min, max); err != nil {
		return nil, err
	}
	if a <= 0 || b <= 0 {
		return nil, fmt.Errorf("beta: shape parameters must be positive, got %g, %g", a, b)
	}
	if min >= max {
		return nil, fmt.Errorf("beta: minimum %g must be less than maximum %g", min, max)
	}
	return named{
		shape:  scaled{inner: distuv.Beta{Alpha: a, Beta: b, Src: src}, loc: min, scale: max - min},
		name:   "beta",
		params: []float64{a, b, min, max},
	}, nil
}

// scaled maps a distribution on [0, 1] onto [loc, loc+scale].
type scaled struct {
	inner shape
	loc   float64
	scale float64
}

func (s scaled) Rand() float64 { return s.loc + s.scale*s.inner.Rand() }
func (s scaled) Mean() float64 { return s.loc + s.scale*s.inner.Mean() }
func (s scaled) CDF(x float64) float64 {
	return s.inner.CDF((x - s.loc) / s.scale)
}
func (s scaled) Quantile(p float64) float64 { return s.loc + s.scale*s.inner.Quantile(p) }

// Trapz is the trapezoidal distribution rising on [a, b], flat on [b, c] and
// falling on [c, d]. Requires a < d and a <= b <= c <= d.
func Trapz(a, b, c, d float64, src rand.Source) (Distribution, error) {
	if err := finite(a, b, c, d); err != nil {
		return nil, err
	}
	if a >= d {
		return nil, fmt.Errorf("trapz: lower bound %g must be less than upper bound %g", a, d)
	}
	if !(a <= b && b <= c && c <= d) {
		return nil, fmt.Errorf("trapz: parameters must satisfy a <= b <= c <= d, got %g, %g, %g, %g", a, b, c, d)
	}
	t := trapezoid{a: a, b: b, c: c, d: d, h: 2 / (d + c - a - b), src: src}
	return named{t, "trapz", []float64{a, b, c, d}}, nil
}

// trapezoid samples by inverse transform.
type trapezoid struct {
	a, b, c, d float64
	h          float64 // height of the flat section
	src        rand.Source
}

func (t trapezoid) Rand() float64 {
	return t.Quantile(rand.New(t.src).Float64())
}

func (t trapezoid) Mean() float64 {
	hi := t.d*t.d + t.d*t.c + t.c*t.c
	lo := t.a*t.a + t.a*t.b + t.b*t.b
	return (hi - lo) / (3 * (t.d + t.c - t.a - t.b))
}

func (t trapezoid) CDF(x float64) float64 {
	switch {
	case x <= t.a:
		return 0
	case x < t.b:
		return t.h * (x - t.a) * (x - t.a) / (2 * (t.b - t.a))
	case x < t.c:
		return t.h*(t.b-t.a)/2 + t.h*(x-t.b)
	case x < t.d:
		return 1 - t.h*(t.d-x)*(t.d-x)/(2*(t.d-t.c))
	default:
		return 1
	}
}

func (t trapezoid) Quantile(p float64) float64 {
	if p <= 0 {
		return t.a
	}
	if p >= 1 {
		return t.d
	}
	rise := t.h * (t.b - t.a) / 2
	flat := rise + t.h*(t.c-t.b)
	switch {
	case p < rise:
		return t.a + math.Sqrt(2*p*(t.b-t.a)/t.h)
	case p <= flat:
		return t.b + (p-rise)/t.h
	default:
		return t.d - math.Sqrt(2*(1-p)*(t.d-t.c)/t.h)
	}
}

// Empirical resamples observed data uniformly.
func Empirical(data []float64, src rand.Source) (Distribution, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empirical: data must contain at least one observation")
	}
	if err := finite(data...); err != nil {
		return nil, fmt.Errorf("empirical: %w", err)
	}
	sorted := append([]float64(nil), data...)
	sort.Float64s(sorted)
	return empirical{data: sorted, rng: rand.New(src)}, nil
}

type empirical struct {
	data []float64
	rng  *rand.Rand
}

func (e empirical) Sample() float64 { return e.data[e.rng.IntN(len(e.data))] }
func (e empirical) Mean() float64   { return stat.Mean(e.data, nil) }
func (e empirical) CDF(x float64) float64 {
	return stat.CDF(x, stat.Empirical, e.data, nil)
}
func (e empirical) Quantile(p float64) float64 {
	return stat.Quantile(p, stat.Empirical, e.data, nil)
}
func (e empirical) String() string { return fmt.Sprintf("empirical(n=%d)", len(e.data)) }

// Constant always yields v.
type Constant float64

func (c Constant) Sample() float64 { return float64(c) }
func (c Constant) Mean() float64   { return float64(c) }
func (c Constant) CDF(x float64) float64 {
	if x < float64(c) {
		return 0
	}
	return 1
}
func (c Constant) Quantile(float64) float64 { return float64(c) }
func (c Constant) String() string           { return format("constant", float64(c)) }
