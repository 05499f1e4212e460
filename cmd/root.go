package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/simpm/simpm/sim"
	"github.com/simpm/simpm/sim/observe"
	"github.com/simpm/simpm/sim/scenario"
	"github.com/simpm/simpm/sim/store"
)

var (
	scenarioPath string // Path to the scenario YAML
	seed         int64  // Seed override; applied only when --seed is set
	logLevel     string // Log verbosity level
	dbPath       string // SQLite file to export logs into; empty disables export
	dumpMetrics  bool   // Print the Prometheus registry after the run
	trace        bool   // Log every simulation event at info level
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "simpm",
	Short: "Discrete-event simulator for project and construction operations",
}

// runCmd runs one scenario and prints a resource summary
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a scenario once",
	Run: func(cmd *cobra.Command, args []string) {
		setLogLevel()
		opts := runOptions{
			scenario: scenarioPath,
			dbPath:   dbPath,
			metrics:  dumpMetrics,
			trace:    trace,
		}
		if cmd.Flags().Changed("seed") {
			opts.seed = &seed
		}
		if err := runScenario(cmd.Context(), cmd.OutOrStdout(), opts); err != nil {
			logrus.Fatalf("%v", err)
		}
	},
}

func setLogLevel() {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", logLevel)
	}
	logrus.SetLevel(level)
}

type runOptions struct {
	scenario string
	seed     *int64
	dbPath   string
	metrics  bool
	trace    bool
}

// runScenario loads, builds and runs one scenario, then writes the summary
// (and the metrics exposition when requested) to w. Process failures are
// reported but do not fail the command.
func runScenario(ctx context.Context, w io.Writer, opts runOptions) error {
	s, err := scenario.Load(opts.scenario)
	if err != nil {
		return err
	}
	if opts.seed != nil {
		s.Seed = *opts.seed
	}

	reg := prometheus.NewRegistry()
	envOpts := []sim.Option{sim.WithObserver(observe.NewMetrics(reg))}
	if opts.trace {
		if !logrus.IsLevelEnabled(logrus.InfoLevel) {
			logrus.SetLevel(logrus.InfoLevel)
		}
		envOpts = append(envOpts, sim.WithObserver(sim.LogObserver{}))
	}
	m, err := scenario.Build(s, envOpts...)
	if err != nil {
		return err
	}

	if runErr := m.Run(ctx); runErr != nil {
		if ctx.Err() != nil {
			return runErr
		}
		logrus.Warnf("run finished with process failures: %v", runErr)
	}

	writeRunSummary(w, m)

	if opts.dbPath != "" {
		st, err := store.Open(opts.dbPath)
		if err != nil {
			return err
		}
		defer st.Close()
		id, err := st.SaveRun(ctx, m.Env, store.RunMeta{Scenario: s.Name, Seed: s.Seed})
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "\nSaved run %s to %s\n", id, st.Path())
	}

	if opts.metrics {
		fmt.Fprintln(w, "\n=== Metrics ===")
		if err := writeMetrics(w, reg); err != nil {
			return err
		}
	}
	return nil
}

// writeMetrics prints every family in reg in the Prometheus text format.
func writeMetrics(w io.Writer, reg prometheus.Gatherer) error {
	families, err := reg.Gather()
	if err != nil {
		return fmt.Errorf("gathering metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")

	runCmd.Flags().StringVar(&scenarioPath, "scenario", "", "Path to the scenario YAML")
	runCmd.Flags().Int64Var(&seed, "seed", 0, "Override the scenario seed")
	runCmd.Flags().StringVar(&dbPath, "db", "", "SQLite file to export the run logs into")
	runCmd.Flags().BoolVar(&dumpMetrics, "metrics", false, "Print Prometheus metrics after the run")
	runCmd.Flags().BoolVar(&trace, "trace", false, "Log every simulation event at info level")
	_ = runCmd.MarkFlagRequired("scenario")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(replicateCmd)
}
