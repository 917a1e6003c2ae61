// sim/simulator.go
package sim

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
)

// Simulator is the core object that holds simulation time, the pending event
// set, and the event loop. It is also the scheduling backend of every Process
// bound to it.
//
// Thread-safety: the simulator is driven by the goroutine calling Run and by
// process goroutines, but the coroutine hand-off guarantees that only one of
// them executes at a time, so no locking is needed around its state.
type Simulator struct {
	name    string
	simTime float64
	horizon float64

	// events has all pending events, including process reactivations
	events  EventQueue
	nextSeq uint64

	currentEvent   *Event
	currentPrio    int
	currentProcess *Process

	driver *Coroutine
	gauge  *runGauge

	running       bool
	stopRequested bool

	nextProcessID      int64
	live               int
	numEventsProcessed int64
	listeners          []func(*Event)
	processListeners   []func(*Process)
}

// New creates a simulator from cfg. Simulation time starts at cfg.StartTime.
func New(cfg Config) *Simulator {
	gauge := &runGauge{}
	s := &Simulator{
		name:        cfg.Name,
		simTime:     cfg.StartTime,
		horizon:     cfg.Horizon,
		events:      make(EventQueue, 0),
		currentPrio: PrioNormal,
		gauge:       gauge,
	}
	if s.name == "" {
		s.name = "sim"
	}
	s.driver = newCoroutine(s.name+"/driver", gauge, nil)
	return s
}

// Name returns the simulator name.
func (s *Simulator) Name() string { return s.name }

// SimTime returns the current simulated time.
func (s *Simulator) SimTime() float64 { return s.simTime }

// Horizon returns the configured end of simulated time, or +Inf if unbounded.
func (s *Simulator) Horizon() float64 {
	if s.horizon <= 0 {
		return math.Inf(1)
	}
	return s.horizon
}

// CurrentEvent returns the event being executed, or nil between events.
func (s *Simulator) CurrentEvent() *Event { return s.currentEvent }

// CurrentPrio returns the priority of the event being executed, PrioNormal
// between events.
func (s *Simulator) CurrentPrio() int { return s.currentPrio }

// CurrentProcess returns the process whose body is executing, or nil.
func (s *Simulator) CurrentProcess() *Process { return s.currentProcess }

// SetCurrentProcess binds the ambient current process. The kernel sets it on
// every process activation and clears it on every suspension.
func (s *Simulator) SetCurrentProcess(p *Process) { s.currentProcess = p }

// NumPending returns the number of scheduled events.
func (s *Simulator) NumPending() int { return s.events.Len() }

// NumEventsProcessed returns how many events have been executed so far.
func (s *Simulator) NumEventsProcessed() int64 { return s.numEventsProcessed }

// NumLiveProcesses returns the number of processes that started and have not
// finished yet. A non-zero value after Run returns means processes are still
// parked in a suspension point.
func (s *Simulator) NumLiveProcesses() int { return s.live }

// MaxRunnable returns the highest number of simulator goroutines that were
// ever runnable at the same time. The hand-off protocol keeps it at 1.
func (s *Simulator) MaxRunnable() int { return int(s.gauge.max.Load()) }

// AddEventListener registers fn to be called for every event right before
// its action runs.
func (s *Simulator) AddEventListener(fn func(*Event)) {
	if fn == nil {
		panic("AddEventListener: fn must not be nil")
	}
	s.listeners = append(s.listeners, fn)
}

// AddProcessListener registers fn to be called whenever a process of this
// simulator terminates or fails, after its own completion callbacks.
func (s *Simulator) AddProcessListener(fn func(*Process)) {
	if fn == nil {
		panic("AddProcessListener: fn must not be nil")
	}
	s.processListeners = append(s.processListeners, fn)
}

// Schedule pushes an event into the pending set and assigns its sequence
// number. Scheduling a nil or already pending event, or an event in the past,
// is a programming error and panics.
func (s *Simulator) Schedule(e *Event) *Event {
	if e == nil {
		panic("Schedule: event must not be nil")
	}
	if e.IsPending() {
		panic(fmt.Sprintf("Schedule: %s is already pending", e))
	}
	if !validTime(e.time) || e.time < s.simTime {
		panic(fmt.Sprintf("Schedule: %s is before simulation time %g", e, s.simTime))
	}
	e.seq = s.nextSeq
	s.nextSeq++
	s.events.schedule(e)
	return e
}

// ScheduleAt creates and schedules an event at absolute time t.
func (s *Simulator) ScheduleAt(t float64, prio int, action func()) *Event {
	return s.Schedule(NewEvent(t, prio, action))
}

// ScheduleIn creates and schedules an event d time units from now.
func (s *Simulator) ScheduleIn(d float64, prio int, action func()) *Event {
	return s.ScheduleAt(s.simTime+d, prio, action)
}

// Unschedule removes a pending event. It reports false when e was not pending.
func (s *Simulator) Unschedule(e *Event) bool {
	if e == nil {
		return false
	}
	return s.events.remove(e)
}

// Stop makes Run return after the current event.
func (s *Simulator) Stop() { s.stopRequested = true }

// Run executes events until none are left, the horizon is passed, or Stop is
// called. A panic in a plain event action aborts the run with an error
// wrapping ErrEventFailed; failing process bodies never do.
func (s *Simulator) Run() error {
	return s.run(math.Inf(1))
}

// RunUntil executes all events with time <= t and then advances the clock to t.
func (s *Simulator) RunUntil(t float64) error {
	if !validTime(t) || t < s.simTime {
		return fmt.Errorf("run until %g: %w: simulation time is %g", t, ErrInvalidArgument, s.simTime)
	}
	if err := s.run(t); err != nil {
		return err
	}
	if !s.stopRequested && s.simTime < t && t <= s.Horizon() {
		s.simTime = t
	}
	return nil
}

// Step executes the next event, if any. It reports whether an event ran.
func (s *Simulator) Step() (bool, error) {
	if s.events.Len() == 0 {
		return false, nil
	}
	s.begin()
	defer s.end()
	return true, s.step()
}

func (s *Simulator) begin() {
	if s.running {
		panic("Run: simulation " + s.name + " is already running")
	}
	s.running = true
	s.gauge.enter()
}

func (s *Simulator) end() {
	s.gauge.leave()
	s.running = false
}

func (s *Simulator) run(until float64) error {
	s.begin()
	defer s.end()
	s.stopRequested = false
	logrus.Debugf("[t=%.3f] Simulation %s started, %d events pending", s.simTime, s.name, s.events.Len())

	horizon := s.Horizon()
	for !s.stopRequested {
		next := s.events.peek()
		if next == nil || next.time > until || next.time > horizon {
			break
		}
		if err := s.step(); err != nil {
			logrus.Errorf("[t=%.3f] Simulation %s aborted: %v", s.simTime, s.name, err)
			return err
		}
	}
	logrus.Debugf("[t=%.3f] Simulation %s ended after %d events", s.simTime, s.name, s.numEventsProcessed)
	return nil
}

// step pops the next event, advances the clock and executes it.
func (s *Simulator) step() (err error) {
	e := s.events.popNext()
	s.simTime = e.time
	s.currentEvent = e
	s.currentPrio = e.prio
	s.numEventsProcessed++
	defer func() {
		s.currentEvent = nil
		s.currentPrio = PrioNormal
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s at t=%g: %v", ErrEventFailed, e, s.simTime, r)
		}
	}()
	logrus.Tracef("[t=%.3f] Executing %s", s.simTime, e)
	for _, fn := range s.listeners {
		fn(e)
	}
	e.action()
	return nil
}
