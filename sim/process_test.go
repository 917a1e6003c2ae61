package sim

import (
	"errors"
	"math"
	"math/rand"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcess_WaitFor_ResumesAtExactTime(t *testing.T) {
	// GIVEN a process that waits 5 time units at t=0, and plain events around it
	s := New(Config{})
	var log []string
	p := NewProcess(s, func(p *Process) (any, error) {
		log = append(log, "start")
		if err := p.WaitFor(5.0); err != nil {
			return nil, err
		}
		log = append(log, "resumed")
		return s.SimTime(), nil
	})
	require.NoError(t, p.AwakeAt(0))
	s.ScheduleAt(2, PrioNormal, func() { log = append(log, "t2") })
	s.ScheduleAt(5, PrioLow, func() { log = append(log, "t5-low") })
	s.ScheduleAt(7, PrioNormal, func() { log = append(log, "t7") })

	// WHEN the simulation runs
	require.NoError(t, s.Run())

	// THEN the process resumed at exactly 5.0, in order with the other events
	at, err := Result[float64](p)
	require.NoError(t, err)
	assert.Equal(t, 5.0, at)
	assert.Equal(t, []string{"start", "t2", "resumed", "t5-low", "t7"}, log)
	assert.Equal(t, StateTerminated, p.State())
	assert.Equal(t, 0.0, p.TimeActivated())
	assert.Equal(t, 5.0, p.TimeTerminated())
}

func TestProcess_InitialStateAndAccessors(t *testing.T) {
	s := New(Config{})
	p := NewProcess(s, func(*Process) (any, error) { return nil, nil }).SetName("worker").SetPriority(PrioHigh)

	assert.Equal(t, StatePassive, p.State())
	assert.Equal(t, "worker", p.Name())
	assert.Equal(t, PrioHigh, p.Priority())
	assert.Same(t, s, p.Simulator())
	assert.True(t, math.IsNaN(p.TimeActivated()))
	assert.True(t, math.IsNaN(p.TimeTerminated()))
	assert.False(t, p.IsFinished())

	_, err := p.Get()
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestProcess_AmbientCurrentProcess(t *testing.T) {
	s := New(Config{})
	var inside []*Process
	var p *Process
	p = NewProcess(s, func(p *Process) (any, error) {
		inside = append(inside, s.CurrentProcess())
		if err := p.WaitFor(1); err != nil {
			return nil, err
		}
		inside = append(inside, s.CurrentProcess())
		return nil, nil
	})
	require.NoError(t, p.AwakeAt(0))
	var between *Process
	s.ScheduleAt(0.5, PrioNormal, func() { between = s.CurrentProcess() })

	require.NoError(t, s.Run())

	assert.Equal(t, []*Process{p, p}, inside)
	assert.Nil(t, between)
	assert.Nil(t, s.CurrentProcess())
}

func TestProcess_BodyError_IsCapturedAndReportedByGet(t *testing.T) {
	// GIVEN a process whose body fails and a later unrelated event
	s := New(Config{})
	boom := errors.New("machine broke")
	p := NewProcess(s, func(p *Process) (any, error) {
		if err := p.WaitFor(1); err != nil {
			return nil, err
		}
		return nil, boom
	})
	require.NoError(t, p.AwakeAt(0))
	laterRan := false
	s.ScheduleAt(3, PrioNormal, func() { laterRan = true })

	// WHEN run
	require.NoError(t, s.Run(), "process failures must not abort the run")

	// THEN the failure is contained on the process
	assert.True(t, laterRan)
	assert.Equal(t, StateError, p.State())
	assert.Same(t, boom, p.Failure())
	_, err := p.Get()
	assert.ErrorIs(t, err, ErrExecution)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, s.NumLiveProcesses())
}

func TestProcess_BodyPanic_IsCaptured(t *testing.T) {
	s := New(Config{})
	p := NewProcess(s, func(*Process) (any, error) {
		var m map[string]int
		m["x"] = 1
		return nil, nil
	})
	require.NoError(t, p.AwakeAt(0))

	require.NoError(t, s.Run())

	assert.Equal(t, StateError, p.State())
	_, err := p.Get()
	require.ErrorIs(t, err, ErrExecution)
	assert.Contains(t, err.Error(), "panic")
}

func TestProcess_Goexit_IsCaptured(t *testing.T) {
	s := New(Config{})
	p := NewProcess(s, func(*Process) (any, error) {
		runtime.Goexit()
		return nil, nil
	})
	require.NoError(t, p.AwakeAt(0))

	require.NoError(t, s.Run())

	assert.Equal(t, StateError, p.State())
}

func TestProcess_InvalidTransitions_FailWithoutStateChange(t *testing.T) {
	s := New(Config{})
	p := NewProcess(s, func(p *Process) (any, error) {
		return nil, p.WaitFor(10)
	})

	// Passive: cancel, waitFor and suspend are not allowed
	assert.ErrorIs(t, p.Cancel(), ErrInvalidState)
	assert.ErrorIs(t, p.WaitFor(1), ErrInvalidState)
	assert.ErrorIs(t, p.Suspend(), ErrInvalidState)
	assert.Equal(t, StatePassive, p.State())

	// Scheduled: awake and resume are not allowed
	require.NoError(t, p.AwakeAt(1))
	assert.ErrorIs(t, p.AwakeAt(2), ErrInvalidState)
	assert.ErrorIs(t, p.Resume(), ErrInvalidState)
	assert.Equal(t, StateScheduled, p.State())
	assert.Equal(t, 1.0, p.ReactivateEvent().Time())

	// Waking in the past is an invalid argument
	require.NoError(t, p.Cancel())
	require.NoError(t, s.RunUntil(2))
	assert.ErrorIs(t, p.AwakeAt(1), ErrInvalidArgument)
	assert.Equal(t, StatePassive, p.State())
}

func TestProcess_WaitForFromAnotherProcess_Fails(t *testing.T) {
	// GIVEN process B that tries to move process A's clock
	s := New(Config{})
	a := NewProcess(s, func(p *Process) (any, error) { return nil, p.WaitFor(10) })
	var errFromB error
	b := NewProcess(s, func(p *Process) (any, error) {
		errFromB = a.WaitFor(1)
		return nil, nil
	})
	require.NoError(t, a.AwakeAt(0))
	require.NoError(t, b.AwakeAt(1))

	require.NoError(t, s.Run())

	assert.ErrorIs(t, errFromB, ErrInvalidState)
	assert.Equal(t, StateTerminated, a.State())
	assert.Equal(t, 10.0, a.TimeTerminated())
}

func TestProcess_Cancel_BeforeStart(t *testing.T) {
	s := New(Config{})
	ran := false
	p := NewProcess(s, func(*Process) (any, error) {
		ran = true
		return nil, nil
	})
	require.NoError(t, p.AwakeIn(3))
	require.NoError(t, p.Cancel())

	require.NoError(t, s.Run())

	assert.False(t, ran)
	assert.Equal(t, StatePassive, p.State())
	assert.False(t, p.ReactivateEvent().IsPending())
}

func TestProcess_SuspendAndResume(t *testing.T) {
	// GIVEN a process that suspends at t=1 and an event resuming it at t=4
	s := New(Config{})
	p := NewProcess(s, func(p *Process) (any, error) {
		if err := p.WaitFor(1); err != nil {
			return nil, err
		}
		if err := p.Suspend(); err != nil {
			return nil, err
		}
		return s.SimTime(), nil
	})
	require.NoError(t, p.AwakeAt(0))
	var stateWhileSuspended ProcessState
	s.ScheduleAt(4, PrioNormal, func() {
		stateWhileSuspended = p.State()
		require.NoError(t, p.Resume())
	})

	require.NoError(t, s.Run())

	assert.Equal(t, StatePassive, stateWhileSuspended)
	at, err := Result[float64](p)
	require.NoError(t, err)
	assert.Equal(t, 4.0, at)
}

func TestProcess_Timeout_ByRacingReactivations(t *testing.T) {
	// GIVEN a process waiting 10 units, and a timeout at t=3 that cuts the wait short
	s := New(Config{})
	p := NewProcess(s, func(p *Process) (any, error) {
		if err := p.WaitFor(10); err != nil {
			return nil, err
		}
		return s.SimTime(), nil
	})
	require.NoError(t, p.AwakeAt(0))
	s.ScheduleAt(3, PrioNormal, func() {
		require.NoError(t, p.Cancel())
		require.NoError(t, p.Resume())
	})

	require.NoError(t, s.Run())

	at, err := Result[float64](p)
	require.NoError(t, err)
	assert.Equal(t, 3.0, at)
}

func TestProcess_Join_WaitsForCompletion(t *testing.T) {
	// GIVEN a parent that starts a child taking 7 time units and joins it
	s := New(Config{})
	var child *Process
	parent := NewProcess(s, func(p *Process) (any, error) {
		child = NewProcess(s, func(c *Process) (any, error) {
			if err := c.WaitFor(7); err != nil {
				return nil, err
			}
			return 42, nil
		}).SetName("child")
		if err := child.AwakeIn(0); err != nil {
			return nil, err
		}
		if err := child.Join(); err != nil {
			return nil, err
		}
		v, err := Result[int](child)
		return []float64{s.SimTime(), float64(v)}, err
	}).SetName("parent")
	require.NoError(t, parent.AwakeAt(0))

	require.NoError(t, s.Run())

	got, err := Result[[]float64](parent)
	require.NoError(t, err)
	assert.Equal(t, []float64{7, 42}, got)
}

func TestProcess_Join_Errors(t *testing.T) {
	s := New(Config{})
	var selfJoinErr, finishedJoinErr error
	other := NewProcess(s, func(*Process) (any, error) { return nil, nil })
	p := NewProcess(s, func(p *Process) (any, error) {
		selfJoinErr = p.Join()
		if err := p.WaitFor(1); err != nil {
			return nil, err
		}
		finishedJoinErr = other.Join()
		return nil, nil
	})
	require.NoError(t, other.AwakeAt(0))
	require.NoError(t, p.AwakeAt(0))

	// joining from outside any process
	pending := NewProcess(s, func(*Process) (any, error) { return nil, nil })
	assert.ErrorIs(t, pending.Join(), ErrInvalidState)

	require.NoError(t, s.Run())

	assert.ErrorIs(t, selfJoinErr, ErrInvalidState)
	assert.NoError(t, finishedJoinErr, "joining a finished process returns immediately")
}

func TestProcess_OnCompletion_FiresExactlyOnce(t *testing.T) {
	s := New(Config{})
	calls := 0
	p := NewProcess(s, func(*Process) (any, error) { return "done", nil })
	p.OnCompletion(func(*Process) { calls++ })
	require.NoError(t, p.AwakeAt(0))

	require.NoError(t, s.Run())
	assert.Equal(t, 1, calls)

	late := 0
	p.OnCompletion(func(*Process) { late++ })
	assert.Equal(t, 1, late, "registering after completion runs immediately")
	assert.Equal(t, 1, calls)
}

func TestProcess_SingleRunnableGoroutine(t *testing.T) {
	// GIVEN many processes that interleave at shared time points and mutate
	// shared state without locks
	s := New(Config{})
	counter := 0
	active := 0
	maxActive := 0
	const n = 25
	procs := make([]*Process, n)
	for i := 0; i < n; i++ {
		procs[i] = NewProcess(s, func(p *Process) (any, error) {
			for k := 0; k < 20; k++ {
				active++
				maxActive = max(maxActive, active)
				counter++
				active--
				if err := p.WaitFor(float64(1 + (i+k)%3)); err != nil {
					return nil, err
				}
			}
			return nil, nil
		})
		require.NoError(t, procs[i].AwakeAt(0))
	}

	// WHEN run
	require.NoError(t, s.Run())

	// THEN every increment happened and at most one goroutine was ever runnable
	assert.Equal(t, n*20, counter)
	assert.Equal(t, 1, maxActive)
	assert.Equal(t, 1, s.MaxRunnable())
	assert.Equal(t, 0, s.NumLiveProcesses())
	for _, p := range procs {
		assert.Equal(t, StateTerminated, p.State())
	}
}

func TestProcess_StateMachine_RandomizedCallSequences(t *testing.T) {
	// GIVEN processes driven from outside by random operations
	for seed := int64(0); seed < 20; seed++ {
		rng := rand.New(rand.NewSource(seed))
		s := New(Config{})
		p := NewProcess(s, func(p *Process) (any, error) {
			for k := 0; k < 3; k++ {
				if err := p.WaitFor(1); err != nil {
					return nil, err
				}
			}
			return nil, nil
		})

		for step := 0; step < 60 && !p.IsFinished(); step++ {
			before := p.State()
			var err error
			var wantOK bool
			var wantState ProcessState
			switch rng.Intn(6) {
			case 0:
				err = p.AwakeIn(float64(rng.Intn(3)))
				wantOK, wantState = before == StatePassive, StateScheduled
			case 1:
				err = p.Resume()
				wantOK, wantState = before == StatePassive, StateScheduled
			case 2:
				err = p.Cancel()
				wantOK, wantState = before == StateScheduled, StatePassive
			case 3:
				err = p.WaitFor(1)
				wantOK = false
			case 4:
				err = p.Suspend()
				wantOK = false
			case 5:
				_, err := s.Step()
				require.NoError(t, err)
				continue
			}

			// THEN valid calls follow the table and invalid ones change nothing
			if wantOK {
				require.NoError(t, err, "seed %d step %d from %s", seed, step, before)
				assert.Equal(t, wantState, p.State())
			} else {
				require.ErrorIs(t, err, ErrInvalidState, "seed %d step %d from %s", seed, step, before)
				assert.Equal(t, before, p.State())
			}
			assert.Contains(t, []ProcessState{StatePassive, StateScheduled, StateTerminated, StateError}, p.State())
			assert.Equal(t, p.State() == StateScheduled, p.ReactivateEvent().IsPending())
		}
	}
}

func TestCanTransition_Table(t *testing.T) {
	allowed := map[[2]ProcessState]bool{
		{StatePassive, StateScheduled}:  true,
		{StateScheduled, StateRunning}:  true,
		{StateScheduled, StatePassive}:  true,
		{StateRunning, StateScheduled}:  true,
		{StateRunning, StatePassive}:    true,
		{StateRunning, StateTerminated}: true,
		{StateRunning, StateError}:      true,
	}
	states := []ProcessState{StatePassive, StateScheduled, StateRunning, StateTerminated, StateError}
	for _, from := range states {
		for _, to := range states {
			assert.Equal(t, allowed[[2]ProcessState{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestProcess_SchedulingCallsFromOwnBody_FailWithoutStateChange(t *testing.T) {
	tests := []struct {
		name string
		call func(p *Process) error
	}{
		{"awakeAt", func(p *Process) error { return p.AwakeAt(5) }},
		{"awakeIn", func(p *Process) error { return p.AwakeIn(0) }},
		{"resume", func(p *Process) error { return p.Resume() }},
		{"cancel", func(p *Process) error { return p.Cancel() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// GIVEN a running process that tries to reschedule itself
			s := New(Config{})
			var callErr error
			var stateAfter ProcessState
			p := NewProcess(s, func(p *Process) (any, error) {
				callErr = tt.call(p)
				stateAfter = p.State()
				if err := p.WaitFor(2); err != nil {
					return nil, err
				}
				return s.SimTime(), nil
			})
			require.NoError(t, p.AwakeAt(1))

			// WHEN it runs
			require.NoError(t, s.Run())

			// THEN the call is rejected and the body carries on as before
			assert.ErrorIs(t, callErr, ErrInvalidState)
			assert.Equal(t, StateRunning, stateAfter)
			at, err := Result[float64](p)
			require.NoError(t, err)
			assert.Equal(t, 3.0, at)
			assert.Equal(t, int64(2), s.NumEventsProcessed())
		})
	}
}

func TestProcess_RandomCallsFromRunningBodies_AreRejected(t *testing.T) {
	// GIVEN bodies that call a random scheduling operation on themselves between waits
	for seed := int64(0); seed < 10; seed++ {
		rng := rand.New(rand.NewSource(seed))
		s := New(Config{})
		var rejected, calls int
		p := NewProcess(s, func(p *Process) (any, error) {
			for k := 0; k < 10; k++ {
				var err error
				switch rng.Intn(4) {
				case 0:
					err = p.AwakeIn(float64(rng.Intn(3)))
				case 1:
					err = p.AwakeAt(s.SimTime() + 1)
				case 2:
					err = p.Resume()
				case 3:
					err = p.Cancel()
				}
				calls++
				if errors.Is(err, ErrInvalidState) && p.State() == StateRunning {
					rejected++
				}
				if err := p.WaitFor(1); err != nil {
					return nil, err
				}
			}
			return nil, nil
		})
		require.NoError(t, p.AwakeAt(0))

		// WHEN run
		require.NoError(t, s.Run(), "seed %d", seed)

		// THEN every call was rejected and the body finished on its own schedule
		assert.Equal(t, calls, rejected, "seed %d", seed)
		assert.Equal(t, StateTerminated, p.State())
		assert.Equal(t, 10.0, p.TimeTerminated())
	}
}

func TestProcess_PanickingCompletionHooks_AbortRun(t *testing.T) {
	tests := []struct {
		name    string
		install func(s *Simulator, p *Process)
	}{
		{"completion callback", func(_ *Simulator, p *Process) {
			p.OnCompletion(func(*Process) { panic("callback failed") })
		}},
		{"process listener", func(s *Simulator, _ *Process) {
			s.AddProcessListener(func(*Process) { panic("listener failed") })
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// GIVEN a process whose completion hook panics
			s := New(Config{})
			p := NewProcess(s, func(p *Process) (any, error) {
				return 7, p.WaitFor(1)
			})
			tt.install(s, p)
			require.NoError(t, p.AwakeAt(0))

			// WHEN run
			err := s.Run()

			// THEN the run stops with an event failure instead of crashing
			require.ErrorIs(t, err, ErrEventFailed)
			assert.ErrorContains(t, err, "completion hook of process-1")
			assert.Equal(t, StateTerminated, p.State())
			assert.Equal(t, 1.0, p.TimeTerminated())
			assert.Equal(t, 0, s.NumLiveProcesses())
		})
	}
}
