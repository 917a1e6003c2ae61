package trace

import (
	"errors"
	"os"
	"testing"

	"github.com/inference-sim/dessim/sim"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	if os.Getenv("DEBUG_TESTS") == "" {
		logrus.SetLevel(logrus.ErrorLevel)
	}
	os.Exit(m.Run())
}

// runModel runs a small producer/consumer model with a failing process and
// records it at the given level.
func runModel(t *testing.T, rec Recorder, level TraceLevel) *Tap {
	t.Helper()
	s := sim.New(sim.Config{Name: "model"})
	tap := Attach(s, rec, level)
	q := sim.NewQ[int]("buffer", 2)
	producer := sim.NewProcess(s, func(p *sim.Process) (any, error) {
		for i := 0; i < 5; i++ {
			if err := q.Put(p, i); err != nil {
				return nil, err
			}
			if err := p.WaitFor(1); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}).SetName("producer")
	consumer := sim.NewProcess(s, func(p *sim.Process) (any, error) {
		for i := 0; i < 5; i++ {
			if _, err := q.Take(p); err != nil {
				return nil, err
			}
			if err := p.WaitFor(1.5); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}).SetName("consumer")
	broken := sim.NewProcess(s, func(p *sim.Process) (any, error) {
		return nil, errors.New("machine broke")
	}).SetName("broken")
	require.NoError(t, producer.AwakeAt(0))
	require.NoError(t, consumer.AwakeAt(0.5))
	require.NoError(t, broken.AwakeAt(3))
	s.ScheduleAt(2, sim.PrioHigh, func() {}).SetDescription("inspection")
	require.NoError(t, s.Run())
	return tap
}

func TestAttach_EventsLevel_RecordsEveryEventInOrder(t *testing.T) {
	// GIVEN an in-memory trace attached at event level
	st := NewSimulationTrace()

	// WHEN the model runs
	tap := runModel(t, st, TraceLevelEvents)

	// THEN events are recorded in non-decreasing time order and processes on completion
	require.NoError(t, tap.Err())
	require.NotEmpty(t, st.Events)
	for i := 1; i < len(st.Events); i++ {
		assert.LessOrEqual(t, st.Events[i-1].Time, st.Events[i].Time)
	}
	require.Len(t, st.Processes, 3)
	assert.Equal(t, "broken", st.Processes[0].Name)
	assert.Equal(t, "error", st.Processes[0].State)
	assert.Contains(t, st.Processes[0].Failure, "machine broke")
	summary := Summarize(st)
	assert.Equal(t, 1, summary.EventsByDescription["inspection"])
	assert.Equal(t, 1, summary.EventsByDescription["broken"])
}

func TestAttach_ProcessesLevel_SkipsEvents(t *testing.T) {
	st := NewSimulationTrace()
	runModel(t, st, TraceLevelProcesses)
	assert.Empty(t, st.Events)
	assert.Len(t, st.Processes, 3)
}

func TestAttach_NoneLevel_RecordsNothing(t *testing.T) {
	st := NewSimulationTrace()
	runModel(t, st, TraceLevelNone)
	assert.Empty(t, st.Events)
	assert.Empty(t, st.Processes)
}

func TestAttach_IdenticalRunsProduceIdenticalTraces(t *testing.T) {
	// GIVEN the same model run twice
	first, second := NewSimulationTrace(), NewSimulationTrace()
	runModel(t, first, TraceLevelEvents)
	runModel(t, second, TraceLevelEvents)

	// THEN the traces are identical
	assert.Equal(t, first.Events, second.Events)
	assert.Equal(t, first.Processes, second.Processes)
}

type failingRecorder struct{ calls int }

func (f *failingRecorder) RecordEvent(EventRecord) error {
	f.calls++
	return errors.New("disk full")
}

func (f *failingRecorder) RecordProcess(ProcessRecord) error { return nil }

func TestTap_KeepsFirstErrorAndRunContinues(t *testing.T) {
	rec := &failingRecorder{}
	tap := runModel(t, rec, TraceLevelEvents)
	assert.EqualError(t, tap.Err(), "disk full")
	assert.Greater(t, rec.calls, 1)
}

func TestIsValidTraceLevel_ValidLevels(t *testing.T) {
	tests := []struct {
		level string
		valid bool
	}{
		{"none", true},
		{"events", true},
		{"processes", true},
		{"", true}, // empty defaults to none
		{"decisions", false},
		{"EVENTS", false}, // case-sensitive
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.valid, IsValidTraceLevel(tt.level))
		})
	}
}
