package record

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// WaitingStats aggregates a set of waiting durations.
type WaitingStats struct {
	Count int
	Total float64
	Mean  float64
	Min   float64
	Max   float64
	P90   float64
}

// NewWaitingStats computes statistics over durations.
// Safe for empty input (returns zero-value fields).
func NewWaitingStats(durations []float64) WaitingStats {
	ws := WaitingStats{Count: len(durations)}
	if len(durations) == 0 {
		return ws
	}
	sorted := make([]float64, len(durations))
	copy(sorted, durations)
	sort.Float64s(sorted)
	for _, d := range sorted {
		ws.Total += d
	}
	ws.Mean = stat.Mean(sorted, nil)
	ws.Min = sorted[0]
	ws.Max = sorted[len(sorted)-1]
	ws.P90 = stat.Quantile(0.9, stat.Empirical, sorted, nil)
	return ws
}

// ResourceSummary aggregates the status and queue logs of one resource over
// an observation window.
type ResourceSummary struct {
	Utilization        float64 // time-weighted in_use / level
	Idleness           float64 // 1 - Utilization
	TotalTimeInUse     float64 // integral of in_use
	TotalTimeIdle      float64 // integral of idle
	AverageIdle        float64
	AverageLevel       float64
	AverageQueueLength float64
	Waiting            WaitingStats
}

// SummarizeResource computes a ResourceSummary for the window [start, end].
// Safe for empty logs (returns zero-value fields).
func SummarizeResource(status []ResourceStatusRow, queue []QueueRow, start, end float64) *ResourceSummary {
	s := &ResourceSummary{
		Utilization:        Utilization(status, start, end),
		TotalTimeInUse:     TotalTimeInUse(status, end),
		TotalTimeIdle:      TotalTimeIdle(status, end),
		AverageQueueLength: AverageQueueLength(queue, start, end),
		Waiting:            NewWaitingStats(QueueWaitingTimes(queue)),
	}
	s.Idleness = 1 - s.Utilization
	if span := end - start; span > 0 {
		s.AverageIdle = s.TotalTimeIdle / span
		s.AverageLevel = integrate(status, end, func(r ResourceStatusRow) float64 {
			return float64(r.Level())
		}) / span
	}
	return s
}

// Utilization returns the time-weighted fraction of the level that was in use
// over [start, end]. Intervals where the level is zero contribute nothing.
// Time before the first row counts as unused.
func Utilization(status []ResourceStatusRow, start, end float64) float64 {
	span := end - start
	if span <= 0 || len(status) == 0 {
		return 0
	}
	busy := integrate(status, end, func(r ResourceStatusRow) float64 {
		if r.Level() == 0 {
			return 0
		}
		return float64(r.InUse) / float64(r.Level())
	})
	return busy / span
}

// TotalTimeInUse integrates in_use over time up to end.
func TotalTimeInUse(status []ResourceStatusRow, end float64) float64 {
	return integrate(status, end, func(r ResourceStatusRow) float64 { return float64(r.InUse) })
}

// TotalTimeIdle integrates idle over time up to end.
func TotalTimeIdle(status []ResourceStatusRow, end float64) float64 {
	return integrate(status, end, func(r ResourceStatusRow) float64 { return float64(r.Idle) })
}

// AverageQueueLength applies Little's law: total waiting time over the window.
func AverageQueueLength(queue []QueueRow, start, end float64) float64 {
	span := end - start
	if span <= 0 {
		return 0
	}
	total := 0.0
	for _, q := range queue {
		total += q.WaitingDuration()
	}
	return total / span
}

// QueueWaitingTimes returns the waiting duration of every granted request.
func QueueWaitingTimes(queue []QueueRow) []float64 {
	out := make([]float64, len(queue))
	for i, q := range queue {
		out[i] = q.WaitingDuration()
	}
	return out
}

// EntityWaitingTimes returns the waiting duration of every completed wait.
func EntityWaitingTimes(rows []WaitingRow) []float64 {
	out := make([]float64, len(rows))
	for i, w := range rows {
		out[i] = w.WaitingDuration()
	}
	return out
}

// ActivityTotals sums scheduled durations per activity name.
func ActivityTotals(rows []ScheduleRow) map[string]float64 {
	totals := make(map[string]float64)
	for _, r := range rows {
		totals[r.Activity] += r.Duration()
	}
	return totals
}

// integrate holds each row's value until the next row (or end) and sums
// value*duration. Rows must be in time order.
func integrate(status []ResourceStatusRow, end float64, value func(ResourceStatusRow) float64) float64 {
	total := 0.0
	for i, r := range status {
		next := end
		if i+1 < len(status) {
			next = status[i+1].Time
		}
		if next <= r.Time {
			continue
		}
		total += value(r) * (next - r.Time)
	}
	return total
}

// AverageIdleness returns 1 - Utilization over [start, end].
func AverageIdleness(status []ResourceStatusRow, start, end float64) float64 {
	if end-start <= 0 || len(status) == 0 {
		return 0
	}
	return 1 - Utilization(status, start, end)
}

// AverageLevel returns the time-weighted mean of in_use + idle over
// [start, end].
func AverageLevel(status []ResourceStatusRow, start, end float64) float64 {
	span := end - start
	if span <= 0 {
		return 0
	}
	return integrate(status, end, func(r ResourceStatusRow) float64 {
		return float64(r.Level())
	}) / span
}
