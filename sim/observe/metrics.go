// Package observe exports simulation activity as Prometheus metrics.
//
// Metrics is a sim.Observer. Attach it with sim.WithObserver and register it
// on any prometheus.Registerer; the CLI dumps the registry in text format
// after a run. Durations and waits are measured in simulated time units.
package observe

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/simpm/simpm/sim"
)

const namespace = "simpm"

// timeBuckets covers activity durations and waits from minutes to weeks when
// the model's time unit is minutes.
var timeBuckets = []float64{1, 5, 15, 30, 60, 120, 240, 480, 960, 2400, 4800, 10080}

// Metrics records counters, gauges and histograms for one or more
// environments. Label values are entity-independent so cardinality stays
// bounded by the number of activities and resources.
type Metrics struct {
	sim.NopObserver

	simTime            *prometheus.GaugeVec
	runs               *prometheus.CounterVec
	entitiesCreated    prometheus.Counter
	activitiesStarted  *prometheus.CounterVec
	activitiesFinished *prometheus.CounterVec
	activityDuration   *prometheus.HistogramVec
	requests           *prometheus.CounterVec
	grants             *prometheus.CounterVec
	waits              *prometheus.HistogramVec
	released           *prometheus.CounterVec
	added              *prometheus.CounterVec
	preemptions        *prometheus.CounterVec
	inUse              *prometheus.GaugeVec
	level              *prometheus.GaugeVec
	queueLength        *prometheus.GaugeVec
	processes          *prometheus.CounterVec
	events             *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg.
// Panics if any collector is already registered on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		simTime: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sim_time",
			Help:      "Simulation clock at the end of the latest run",
		}, []string{"environment"}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Completed run calls",
		}, []string{"environment"}),
		entitiesCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entities_created_total",
			Help:      "Entities created",
		}),
		activitiesStarted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "activity",
			Name:      "started_total",
			Help:      "Activities started",
		}, []string{"activity"}),
		activitiesFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "activity",
			Name:      "finished_total",
			Help:      "Activities finished, split by whether they were interrupted",
		}, []string{"activity", "interrupted"}),
		activityDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "activity",
			Name:      "duration",
			Help:      "Simulated duration of finished activities",
			Buckets:   timeBuckets,
		}, []string{"activity"}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resource",
			Name:      "requests_total",
			Help:      "Resource requests submitted",
		}, []string{"resource"}),
		grants: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resource",
			Name:      "grants_total",
			Help:      "Resource requests granted",
		}, []string{"resource"}),
		waits: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "resource",
			Name:      "wait",
			Help:      "Simulated time between request and grant",
			Buckets:   timeBuckets,
		}, []string{"resource"}),
		released: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resource",
			Name:      "released_units_total",
			Help:      "Units returned with put",
		}, []string{"resource"}),
		added: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resource",
			Name:      "added_units_total",
			Help:      "Units added to the level",
		}, []string{"resource"}),
		preemptions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resource",
			Name:      "preemptions_total",
			Help:      "Holders preempted",
		}, []string{"resource"}),
		inUse: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "resource",
			Name:      "in_use",
			Help:      "Units currently held",
		}, []string{"resource"}),
		level: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "resource",
			Name:      "level",
			Help:      "Units currently present (in use plus idle)",
		}, []string{"resource"}),
		queueLength: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "resource",
			Name:      "queue_length",
			Help:      "Pending requests",
		}, []string{"resource"}),
		processes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "processes_done_total",
			Help:      "Processes that reached a terminal state",
		}, []string{"state"}),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "log_events_total",
			Help:      "Structured log events, by source type",
		}, []string{"source_type"}),
	}
}

func (m *Metrics) RunFinished(env *sim.Environment) {
	m.simTime.WithLabelValues(env.Name()).Set(env.Now())
	m.runs.WithLabelValues(env.Name()).Inc()
	for _, r := range env.Resources() {
		m.snapshot(r)
	}
}

func (m *Metrics) EntityCreated(*sim.Entity) { m.entitiesCreated.Inc() }

func (m *Metrics) ResourceCreated(r *sim.Resource) { m.snapshot(r) }

func (m *Metrics) ActivityStarted(_ *sim.Entity, activity string, _, _ float64) {
	m.activitiesStarted.WithLabelValues(activity).Inc()
}

func (m *Metrics) ActivityFinished(_ *sim.Entity, activity string, start, end float64, interrupted bool) {
	m.activitiesFinished.WithLabelValues(activity, strconv.FormatBool(interrupted)).Inc()
	m.activityDuration.WithLabelValues(activity).Observe(end - start)
}

func (m *Metrics) ResourceRequested(req *sim.Request) {
	m.requests.WithLabelValues(req.Resource().Name()).Inc()
	m.snapshot(req.Resource())
}

func (m *Metrics) ResourceAcquired(req *sim.Request) {
	r := req.Resource()
	m.grants.WithLabelValues(r.Name()).Inc()
	m.waits.WithLabelValues(r.Name()).Observe(req.GrantedAt() - req.RequestedAt())
	m.snapshot(r)
}

func (m *Metrics) ResourceReleased(r *sim.Resource, _ *sim.Entity, amount int) {
	m.released.WithLabelValues(r.Name()).Add(float64(amount))
	m.snapshot(r)
}

func (m *Metrics) ResourceAdded(r *sim.Resource, _ *sim.Entity, amount int) {
	m.added.WithLabelValues(r.Name()).Add(float64(amount))
	m.snapshot(r)
}

func (m *Metrics) Preempted(victim, _ *sim.Request) {
	m.preemptions.WithLabelValues(victim.Resource().Name()).Inc()
	m.snapshot(victim.Resource())
}

func (m *Metrics) ProcessFinished(p *sim.Process) {
	m.processes.WithLabelValues(p.State().String()).Inc()
}

func (m *Metrics) LogEvent(rec sim.LogRecord) {
	m.events.WithLabelValues(rec.SourceType).Inc()
}

func (m *Metrics) snapshot(r *sim.Resource) {
	m.inUse.WithLabelValues(r.Name()).Set(float64(r.InUse()))
	m.level.WithLabelValues(r.Name()).Set(float64(r.Level()))
	m.queueLength.WithLabelValues(r.Name()).Set(float64(r.QueueLength()))
}
