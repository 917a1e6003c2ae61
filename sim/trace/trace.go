package trace

import (
	"github.com/inference-sim/dessim/sim"
	"github.com/sirupsen/logrus"
)

// TraceLevel controls the verbosity of tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelProcesses records finished processes only.
	TraceLevelProcesses TraceLevel = "processes"
	// TraceLevelEvents records every executed event and finished processes.
	TraceLevelEvents TraceLevel = "events"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:      true,
	TraceLevelProcesses: true,
	TraceLevelEvents:    true,
	"":                  true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// Recorder receives trace records in execution order.
type Recorder interface {
	RecordEvent(EventRecord) error
	RecordProcess(ProcessRecord) error
}

// SimulationTrace is an in-memory Recorder.
type SimulationTrace struct {
	Events    []EventRecord
	Processes []ProcessRecord
}

// NewSimulationTrace creates a SimulationTrace ready for recording.
func NewSimulationTrace() *SimulationTrace {
	return &SimulationTrace{
		Events:    make([]EventRecord, 0),
		Processes: make([]ProcessRecord, 0),
	}
}

// RecordEvent appends an event record.
func (st *SimulationTrace) RecordEvent(record EventRecord) error {
	st.Events = append(st.Events, record)
	return nil
}

// RecordProcess appends a process record.
func (st *SimulationTrace) RecordProcess(record ProcessRecord) error {
	st.Processes = append(st.Processes, record)
	return nil
}

// Tap is the connection between a simulator and a Recorder created by Attach.
type Tap struct {
	rec   Recorder
	level TraceLevel
	err   error
}

// Attach hooks rec into s at the given level. Recording errors do not stop
// the simulation; the first one is kept and reported by Tap.Err.
func Attach(s *sim.Simulator, rec Recorder, level TraceLevel) *Tap {
	tap := &Tap{rec: rec, level: level}
	if level == TraceLevelNone || level == "" {
		return tap
	}
	if level == TraceLevelEvents {
		s.AddEventListener(tap.onEvent)
	}
	s.AddProcessListener(tap.onProcess)
	return tap
}

// Err returns the first recording error, if any.
func (t *Tap) Err() error { return t.err }

func (t *Tap) onEvent(e *sim.Event) {
	t.keep(t.rec.RecordEvent(EventRecord{
		Seq:         e.Seq(),
		Time:        e.Time(),
		Prio:        e.Prio(),
		Description: e.Description(),
	}))
}

func (t *Tap) onProcess(p *sim.Process) {
	r := ProcessRecord{
		ID:         p.ID(),
		Name:       p.Name(),
		State:      p.State().String(),
		Activated:  p.TimeActivated(),
		Terminated: p.TimeTerminated(),
	}
	if err := p.Failure(); err != nil {
		r.Failure = err.Error()
	}
	t.keep(t.rec.RecordProcess(r))
}

func (t *Tap) keep(err error) {
	if err == nil || t.err != nil {
		return
	}
	logrus.Warnf("trace: recording failed, further errors are dropped: %v", err)
	t.err = err
}
