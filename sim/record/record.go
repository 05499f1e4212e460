// Package record holds the row types appended by entities and resources during
// a simulation run, plus summaries computed from them.
// This package has no dependencies on sim/. Field names are the column
// contract consumed by storage and visualization.
package record

// Entity status codes written to the status log.
const (
	StatusWaitFor   = "wait for"
	StatusGet       = "get"
	StatusStart     = "start"
	StatusFinish    = "finish"
	StatusPut       = "put"
	StatusAdd       = "add"
	StatusCancel    = "cancel"
	StatusPreempted = "preempted"
)

// ScheduleRow is one timed activity of an entity.
// Finish is the planned finish time, or the interruption time when
// Interrupted is set.
type ScheduleRow struct {
	Activity    string  `json:"activity"`
	Start       float64 `json:"start_time"`
	Finish      float64 `json:"finish_time"`
	Interrupted bool    `json:"interrupted"`
}

// Duration returns Finish - Start.
func (r ScheduleRow) Duration() float64 {
	return r.Finish - r.Start
}

// WaitingRow is one completed wait of an entity for a resource.
type WaitingRow struct {
	Resource     string  `json:"resource"`
	StartWaiting float64 `json:"start_waiting"`
	EndWaiting   float64 `json:"end_waiting"`
	Amount       int     `json:"resource_amount"`
}

// WaitingDuration returns EndWaiting - StartWaiting.
func (r WaitingRow) WaitingDuration() float64 {
	return r.EndWaiting - r.StartWaiting
}

// StatusRow is a timestamped state transition of an entity.
// Subject is the activity or resource name the transition refers to.
type StatusRow struct {
	Time    float64 `json:"time"`
	Status  string  `json:"status"`
	Subject string  `json:"subject"`
}

// ResourceStatusRow is a snapshot of a resource after a change.
type ResourceStatusRow struct {
	Time        float64 `json:"time"`
	InUse       int     `json:"in_use"`
	Idle        int     `json:"idle"`
	QueueLength int     `json:"queue_length"`
}

// Level returns InUse + Idle.
func (r ResourceStatusRow) Level() int {
	return r.InUse + r.Idle
}

// QueueRow is one granted request of a resource: when the entity started
// waiting, when it was granted, and how much it asked for.
type QueueRow struct {
	Entity     string  `json:"entity"`
	StartTime  float64 `json:"start_time"`
	FinishTime float64 `json:"finish_time"`
	Amount     int     `json:"resource_amount"`
}

// WaitingDuration returns FinishTime - StartTime.
func (r QueueRow) WaitingDuration() float64 {
	return r.FinishTime - r.StartTime
}
