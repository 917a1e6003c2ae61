// Package sim is a process-oriented discrete-event simulation kernel.
//
// # Reading Guide
//
// Start with these files:
//   - event.go, event_queue.go: events and their (time, prio, seq) order
//   - simulator.go: the clock, the pending event set and the run loop
//   - coroutine.go: the goroutine hand-off that lets one logical thread run at a time
//   - process.go: the Process state machine and its suspension points
//
// The synchronisation primitives are built on Process.Suspend and Resume:
//   - condition_queue.go: actions deferred until an Observable is true
//   - queue.go: Q, a bounded blocking FIFO/LIFO container
//   - resource.go: Resource, a counting semaphore on top of Q
//
// # Execution Model
//
// Every Process runs its Body on a goroutine of its own, but control is passed
// explicitly: the goroutine calling Simulator.Run executes events, and a
// process's reactivation event hands control to the process goroutine and
// parks the driver until the process reaches a suspension point (WaitFor,
// WaitUntil, Suspend, Join, blocking Q and Resource operations) or returns.
// Code between two suspension points therefore runs without interleaving and
// needs no locks. Across a suspension point any amount of other model code may
// run.
//
// Process failures (returned errors and panics) are captured on the process
// and reported by Get; they never stop the event loop.
package sim
