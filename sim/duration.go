package sim

import (
	"fmt"
	"math"
)

// Sampler draws one value. Durations and sampled amounts use it; the sim/dist
// package provides stochastic implementations.
type Sampler interface {
	Sample() float64
}

// Fixed is a literal value.
type Fixed float64

// Sample returns f.
func (f Fixed) Sample() float64 { return float64(f) }

// SamplerFunc adapts a function to Sampler.
type SamplerFunc func() float64

// Sample calls f.
func (f SamplerFunc) Sample() float64 { return f() }

// maxRedraws bounds the number of samples taken while looking for a
// non-negative value.
const maxRedraws = 1000

// redraw samples s until it yields a value >= 0 (NaN never qualifies).
func redraw(s Sampler) (float64, bool) {
	for i := 0; i < maxRedraws; i++ {
		if v := s.Sample(); v >= 0 {
			return v, true
		}
	}
	return 0, false
}

// drawDuration resolves an activity duration. A negative or NaN literal is
// rejected outright; stochastic samplers are redrawn.
func drawDuration(s Sampler) (float64, error) {
	if s == nil {
		return 0, fmt.Errorf("nil duration: %w", ErrInvalidTime)
	}
	if f, ok := s.(Fixed); ok {
		v := float64(f)
		if math.IsNaN(v) || v < 0 {
			return 0, fmt.Errorf("negative duration %g: %w", v, ErrInvalidTime)
		}
		return v, nil
	}
	v, ok := redraw(s)
	if !ok {
		return 0, fmt.Errorf("no non-negative duration after %d draws: %w", maxRedraws, ErrInvalidTime)
	}
	return v, nil
}

// drawAmount resolves a resource amount, truncated to an integer.
func drawAmount(s Sampler) (int, error) {
	if s == nil {
		return 0, fmt.Errorf("nil amount: %w", ErrInvalidAmount)
	}
	if f, ok := s.(Fixed); ok {
		return int(f), nil
	}
	v, ok := redraw(s)
	if !ok {
		return 0, fmt.Errorf("no non-negative amount after %d draws: %w", maxRedraws, ErrInvalidAmount)
	}
	return int(v), nil
}
