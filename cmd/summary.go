package cmd

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/simpm/simpm/sim/replicate"
	"github.com/simpm/simpm/sim/scenario"
)

// writeRunSummary prints the makespan, the per-resource statistics and any
// process failures of a finished model.
func writeRunSummary(w io.Writer, m *scenario.Model) {
	env := m.Env
	fmt.Fprintf(w, "=== Simulation Summary: %s ===\n", env.Name())
	fmt.Fprintf(w, "Finish time: %.3f\n", env.Now())
	fmt.Fprintf(w, "Makespan:    %.3f\n", m.Makespan())
	fmt.Fprintf(w, "Entities:    %d\n", len(env.Entities()))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nRESOURCE\tDISCIPLINE\tCAPACITY\tUTILIZATION\tAVG LEVEL\tAVG QUEUE\tGRANTS\tMEAN WAIT\tP90 WAIT")
	for _, r := range env.Resources() {
		s := r.Summary()
		fmt.Fprintf(tw, "%s\t%s\t%d\t%.3f\t%.3f\t%.3f\t%d\t%.3f\t%.3f\n",
			r.Name(), r.Discipline().Name(), r.Capacity(), s.Utilization, s.AverageLevel,
			s.AverageQueueLength, s.Waiting.Count, s.Waiting.Mean, s.Waiting.P90)
	}
	_ = tw.Flush()

	if failures := env.Failures(); len(failures) > 0 {
		fmt.Fprintf(w, "\nFailures (%d):\n", len(failures))
		for _, f := range failures {
			fmt.Fprintf(w, "  %v\n", f)
		}
	}
}

// writeStudySummary prints the spread of finish times and utilizations.
func writeStudySummary(w io.Writer, name string, study *replicate.Study) {
	fmt.Fprintf(w, "=== Replication Summary: %s (%d runs, %d failed) ===\n",
		name, len(study.Replications), len(study.Failed()))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "METRIC\tMEAN\tSTDDEV\tMIN\tP10\tP50\tP90\tMAX")
	writeStatsRow(tw, "finish_time", study.FinishTimes)
	names := make([]string, 0, len(study.Utilization))
	for n := range study.Utilization {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		writeStatsRow(tw, "utilization/"+n, study.Utilization[n])
	}
	_ = tw.Flush()
}

func writeStatsRow(w io.Writer, label string, s replicate.Stats) {
	fmt.Fprintf(w, "%s\t%.3f\t%.3f\t%.3f\t%.3f\t%.3f\t%.3f\t%.3f\n",
		label, s.Mean, s.StdDev, s.Min, s.P10, s.P50, s.P90, s.Max)
}
