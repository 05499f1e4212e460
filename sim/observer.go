package sim

import "github.com/sirupsen/logrus"

// Observer receives lifecycle callbacks from an Environment. Callbacks run
// synchronously inside the run loop and must not schedule actions.
// Embed NopObserver to implement only the callbacks of interest.
type Observer interface {
	RunStarted(env *Environment)
	RunFinished(env *Environment)
	EntityCreated(e *Entity)
	ResourceCreated(r *Resource)
	ActivityStarted(e *Entity, activity string, start, finish float64)
	ActivityFinished(e *Entity, activity string, start, end float64, interrupted bool)
	ResourceRequested(req *Request)
	ResourceAcquired(req *Request)
	ResourceReleased(r *Resource, e *Entity, amount int)
	ResourceAdded(r *Resource, e *Entity, amount int)
	Preempted(victim, by *Request)
	ProcessFinished(p *Process)
	LogEvent(rec LogRecord)
}

// LogRecord is a free-form structured event sent through Environment.LogEvent.
type LogRecord struct {
	Time       float64        `json:"time"`
	SourceType string         `json:"source_type"`
	SourceID   any            `json:"source_id"`
	Message    string         `json:"message"`
	Metadata   map[string]any `json:"metadata"`
}

// NopObserver implements Observer with no-op methods.
type NopObserver struct{}

func (NopObserver) RunStarted(*Environment)                                  {}
func (NopObserver) RunFinished(*Environment)                                 {}
func (NopObserver) EntityCreated(*Entity)                                    {}
func (NopObserver) ResourceCreated(*Resource)                                {}
func (NopObserver) ActivityStarted(*Entity, string, float64, float64)        {}
func (NopObserver) ActivityFinished(*Entity, string, float64, float64, bool) {}
func (NopObserver) ResourceRequested(*Request)                               {}
func (NopObserver) ResourceAcquired(*Request)                                {}
func (NopObserver) ResourceReleased(*Resource, *Entity, int)                 {}
func (NopObserver) ResourceAdded(*Resource, *Entity, int)                    {}
func (NopObserver) Preempted(*Request, *Request)                             {}
func (NopObserver) ProcessFinished(*Process)                                 {}
func (NopObserver) LogEvent(LogRecord)                                       {}

// LogObserver echoes entity and resource actions at Info level.
type LogObserver struct {
	NopObserver
}

func (LogObserver) RunStarted(env *Environment) {
	logrus.Infof("[t=%.3f] %s: run %d started", env.Now(), env.Name(), env.RunNumber())
}

func (LogObserver) RunFinished(env *Environment) {
	logrus.Infof("[t=%.3f] %s: run %d finished", env.Now(), env.Name(), env.RunNumber())
}

func (LogObserver) EntityCreated(e *Entity) {
	logrus.Infof("[t=%.3f] %s is created", e.env.Now(), e)
}

func (LogObserver) ActivityStarted(e *Entity, activity string, start, _ float64) {
	logrus.Infof("[t=%.3f] %s started %s", start, e, activity)
}

func (LogObserver) ActivityFinished(e *Entity, activity string, _, end float64, interrupted bool) {
	if interrupted {
		logrus.Infof("[t=%.3f] %s interrupted %s", end, e, activity)
		return
	}
	logrus.Infof("[t=%.3f] %s finished %s", end, e, activity)
}

func (LogObserver) ResourceRequested(req *Request) {
	logrus.Infof("[t=%.3f] %s requested %d %s(s)", req.requestedAt, req.entity, req.amount, req.res)
}

func (LogObserver) ResourceAcquired(req *Request) {
	logrus.Infof("[t=%.3f] %s got %d %s(s)", req.grantedAt, req.entity, req.amount, req.res)
}

func (LogObserver) ResourceReleased(r *Resource, e *Entity, amount int) {
	logrus.Infof("[t=%.3f] %s put back %d %s(s)", r.env.Now(), e, amount, r)
}

func (LogObserver) ResourceAdded(r *Resource, e *Entity, amount int) {
	logrus.Infof("[t=%.3f] %s added %d %s(s)", r.env.Now(), e, amount, r)
}

func (LogObserver) Preempted(victim, by *Request) {
	logrus.Infof("[t=%.3f] %s preempted %s on %s", victim.res.env.Now(), by.entity, victim.entity, victim.res)
}

func (LogObserver) LogEvent(rec LogRecord) {
	logrus.WithFields(logrus.Fields{
		"source_type": rec.SourceType,
		"source_id":   rec.SourceID,
	}).Infof("[t=%.3f] %s", rec.Time, rec.Message)
}
