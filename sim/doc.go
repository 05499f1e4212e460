// Package sim provides the core process-interaction discrete-event simulation
// engine for project and construction models.
//
// # Reading Guide
//
// Start with these files to understand the simulation kernel:
//   - clock.go: Event interface and the (time, insertion order) event queue
//   - environment.go: the run loop, action dispatch, suspension and resumption
//   - resource.go: capacity pools, admission, release, supply and cancellation
//   - discipline.go: FIFO, priority and preemptive queueing strategies
//
// # Model
//
// An Entity (a truck, a crew, a task) runs one or more Processes. A Process
// executes a Body, an explicit resumable state machine that returns one Action
// at a time: Do and InterruptiveDo consume simulated time, Get and GetAny wait
// for capacity, Put, Add and Cancel change resource state immediately, and
// WaitAll waits for other processes. Seq, Loop and Repeat build bodies from
// action lists; BodyFunc covers everything else.
//
// All state changes happen on the single goroutine that calls Run. Admission
// always runs to a fixed point before control returns to the clock, so no
// idle capacity is left unassigned across a time step while demand exists.
//
// # Sub-packages
//
//   - sim/record/: log row types and utilization/waiting summaries
//   - sim/dist/: duration and amount distributions backed by gonum
//   - sim/scenario/: YAML model files built into an Environment
//   - sim/replicate/: Monte Carlo replication over fresh environments
//   - sim/observe/: Prometheus metrics observer
//   - sim/store/: SQLite persistence of run logs
package sim
