package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/simpm/simpm/sim"
	"github.com/simpm/simpm/sim/replicate"
	"github.com/simpm/simpm/sim/scenario"
	"github.com/simpm/simpm/sim/store"
)

var (
	replications int   // Number of Monte Carlo replications
	parallelism  int   // Concurrent replications; 0 means GOMAXPROCS
	baseSeed     int64 // Seed of replication 0; defaults to the scenario seed
)

// replicateCmd runs a scenario many times with consecutive seeds
var replicateCmd = &cobra.Command{
	Use:   "replicate",
	Short: "Run a scenario repeatedly and summarize the spread of outcomes",
	Run: func(cmd *cobra.Command, args []string) {
		setLogLevel()
		opts := replicateOptions{
			scenario:     scenarioPath,
			replications: replications,
			parallelism:  parallelism,
			dbPath:       dbPath,
		}
		if cmd.Flags().Changed("base-seed") {
			opts.baseSeed = &baseSeed
		}
		if err := replicateScenario(cmd.Context(), cmd.OutOrStdout(), opts); err != nil {
			logrus.Fatalf("%v", err)
		}
	},
}

type replicateOptions struct {
	scenario     string
	replications int
	parallelism  int
	baseSeed     *int64
	dbPath       string
}

func replicateScenario(ctx context.Context, w io.Writer, opts replicateOptions) error {
	s, err := scenario.Load(opts.scenario)
	if err != nil {
		return err
	}
	if err := s.Validate(); err != nil {
		return err
	}
	cfg := replicate.Config{
		Replications: opts.replications,
		BaseSeed:     s.Seed,
		Parallelism:  opts.parallelism,
		Until:        s.Until,
	}
	if opts.baseSeed != nil {
		cfg.BaseSeed = *opts.baseSeed
	}

	// Each replication builds its own model from a copy of the scenario so
	// nothing mutable is shared between goroutines.
	factory := func(seed int64) (*sim.Environment, error) {
		sc := *s
		sc.Seed = seed
		m, err := scenario.Build(&sc)
		if err != nil {
			return nil, err
		}
		return m.Env, nil
	}
	study, err := replicate.Run(ctx, factory, cfg)
	if err != nil {
		return err
	}
	writeStudySummary(w, s.Name, study)

	if opts.dbPath != "" {
		st, err := store.Open(opts.dbPath)
		if err != nil {
			return err
		}
		defer st.Close()
		for _, r := range study.Replications {
			meta := store.RunMeta{ID: r.ID, Scenario: s.Name, Seed: r.Seed, Replication: r.Index}
			if _, err := st.SaveRun(ctx, r.Env, meta); err != nil {
				return fmt.Errorf("saving replication %d: %w", r.Index, err)
			}
		}
		fmt.Fprintf(w, "\nSaved %d runs to %s\n", len(study.Replications), st.Path())
	}
	return nil
}

func init() {
	replicateCmd.Flags().StringVar(&scenarioPath, "scenario", "", "Path to the scenario YAML")
	replicateCmd.Flags().IntVarP(&replications, "replications", "n", 100, "Number of replications")
	replicateCmd.Flags().IntVar(&parallelism, "parallel", 0, "Concurrent replications (0 uses GOMAXPROCS)")
	replicateCmd.Flags().Int64Var(&baseSeed, "base-seed", 0, "Seed of the first replication (defaults to the scenario seed)")
	replicateCmd.Flags().StringVar(&dbPath, "db", "", "SQLite file to export every replication into")
	_ = replicateCmd.MarkFlagRequired("scenario")
}
