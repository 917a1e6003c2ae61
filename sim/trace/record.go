// Package trace records what a simulation run did: every executed event and
// the outcome of every finished process. Records are plain data so they can
// be kept in memory, summarized, or persisted to SQLite.
package trace

// EventRecord captures one executed event.
type EventRecord struct {
	Seq         uint64
	Time        float64
	Prio        int
	Description string // process name for reactivation events
}

// ProcessRecord captures the outcome of a finished process.
type ProcessRecord struct {
	ID         int64
	Name       string
	State      string // "terminated" or "error"
	Activated  float64
	Terminated float64
	Failure    string // empty unless State is "error"
}

// Failed reports whether the process ended in the error state.
func (r ProcessRecord) Failed() bool { return r.Failure != "" }
