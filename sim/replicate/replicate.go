// Package replicate runs Monte Carlo studies: many independent replications
// of one model, each in a fresh Environment with its own seed, executed in
// parallel and summarized with gonum statistics.
package replicate

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/simpm/simpm/sim"
)

// Factory builds a fresh, unrun environment for one replication. It must not
// share mutable state between calls; replications run concurrently.
type Factory func(seed int64) (*sim.Environment, error)

// Config controls a study.
type Config struct {
	Replications int
	// BaseSeed seeds replication i with BaseSeed+i.
	BaseSeed int64
	// Parallelism bounds concurrent replications. Zero means GOMAXPROCS.
	Parallelism int
	// Until is the run horizon. Nil runs each replication to completion.
	Until *float64
}

// Replication is the outcome of one run.
type Replication struct {
	ID    uuid.UUID
	Index int
	Seed  int64
	Env   *sim.Environment
	// FinishTime is the clock value when the run stopped.
	FinishTime float64
	// Err joins the process failures of the run; nil for a clean run.
	Err error
}

// Study is the collected result of Run.
type Study struct {
	Replications []Replication
	FinishTimes  Stats
	// Utilization summarizes each resource's utilization across
	// replications, keyed by resource name.
	Utilization map[string]Stats
}

// Failed returns the replications that recorded process failures.
func (s *Study) Failed() []Replication {
	var out []Replication
	for _, r := range s.Replications {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}

// Run executes cfg.Replications replications of factory. Process failures
// inside a replication are recorded on it and do not stop the study; a
// factory error or a cancelled ctx does.
func Run(ctx context.Context, factory Factory, cfg Config) (*Study, error) {
	if cfg.Replications < 1 {
		return nil, fmt.Errorf("replications must be >= 1, got %d", cfg.Replications)
	}
	if cfg.Parallelism < 0 {
		return nil, fmt.Errorf("parallelism must be non-negative, got %d", cfg.Parallelism)
	}
	limit := cfg.Parallelism
	if limit == 0 {
		limit = runtime.GOMAXPROCS(0)
	}
	until := math.Inf(1)
	if cfg.Until != nil {
		until = *cfg.Until
	}

	reps := make([]Replication, cfg.Replications)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := range reps {
		g.Go(func() error {
			seed := cfg.BaseSeed + int64(i)
			env, err := factory(seed)
			if err != nil {
				return fmt.Errorf("replication %d: %w", i, err)
			}
			runErr := env.RunContext(gctx, until)
			if err := gctx.Err(); err != nil {
				return fmt.Errorf("replication %d: %w", i, err)
			}
			reps[i] = Replication{
				ID:         uuid.New(),
				Index:      i,
				Seed:       seed,
				Env:        env,
				FinishTime: env.Now(),
				Err:        runErr,
			}
			logrus.Debugf("replication %d (seed %d) finished at t=%.3f", i, seed, env.Now())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	study := &Study{Replications: reps, Utilization: make(map[string]Stats)}
	finish := make([]float64, len(reps))
	util := make(map[string][]float64)
	for i, r := range reps {
		finish[i] = r.FinishTime
		for _, res := range r.Env.Resources() {
			util[res.Name()] = append(util[res.Name()], res.Summary().Utilization)
		}
	}
	study.FinishTimes = Summarize(finish)
	for name, xs := range util {
		study.Utilization[name] = Summarize(xs)
	}
	if failed := len(study.Failed()); failed > 0 {
		logrus.Warnf("%d of %d replications recorded process failures", failed, len(reps))
	}
	logrus.Infof("study finished: %d replications, mean finish time %.3f", len(reps), study.FinishTimes.Mean)
	return study, nil
}

// Stats summarizes a sample.
type Stats struct {
	N      int
	Mean   float64
	StdDev float64
	Min    float64
	Max    float64
	P10    float64
	P50    float64
	P90    float64
}

// Summarize computes Stats over xs. Safe for empty input (returns zero-value
// fields). StdDev is the sample standard deviation and is zero for N=1.
func Summarize(xs []float64) Stats {
	s := Stats{N: len(xs)}
	if len(xs) == 0 {
		return s
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	s.Min = sorted[0]
	s.Max = sorted[len(sorted)-1]
	if len(sorted) == 1 {
		s.Mean = sorted[0]
	} else {
		s.Mean, s.StdDev = stat.MeanStdDev(sorted, nil)
	}
	s.P10 = stat.Quantile(0.1, stat.Empirical, sorted, nil)
	s.P50 = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	s.P90 = stat.Quantile(0.9, stat.Empirical, sorted, nil)
	return s
}
