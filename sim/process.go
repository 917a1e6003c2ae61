package sim

import (
	"errors"
	"fmt"
	"math"
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

// ProcessState is the lifecycle state of a Process.
type ProcessState int

const (
	StatePassive ProcessState = iota
	StateScheduled
	StateRunning
	StateTerminated
	StateError
)

func (s ProcessState) String() string {
	switch s {
	case StatePassive:
		return "passive"
	case StateScheduled:
		return "scheduled"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("ProcessState(%d)", int(s))
	}
}

// validTransitions is the complete process state machine:
//
//	passive   -> scheduled   AwakeAt, AwakeIn, Resume
//	scheduled -> running     reactivation event fires
//	scheduled -> passive     Cancel
//	running   -> scheduled   WaitUntil, WaitFor
//	running   -> passive     Suspend
//	running   -> terminated  body returns
//	running   -> error       body fails
var validTransitions = map[ProcessState]map[ProcessState]bool{
	StatePassive:   {StateScheduled: true},
	StateScheduled: {StateRunning: true, StatePassive: true},
	StateRunning:   {StateScheduled: true, StatePassive: true, StateTerminated: true, StateError: true},
}

// CanTransition reports whether a process may move from one state to another.
func CanTransition(from, to ProcessState) bool {
	return validTransitions[from][to]
}

// Body is the behaviour of a process. It runs on the process's own goroutine
// and may call the blocking primitives of p (WaitFor, Suspend, Join) and of
// Q and Resource. A returned error, or a panic, puts the process in StateError.
type Body func(p *Process) (any, error)

// Process is a logical thread of control in simulated time. Its body is
// ordinary straight-line code; the kernel parks the body's goroutine at every
// suspension point and only ever lets one process (or the scheduler) run.
type Process struct {
	sim  *Simulator
	id   int64
	name string
	body Body
	prio int

	state   ProcessState
	result  any
	failure error

	// reactivate is reused for every wake-up of this process.
	reactivate *Event
	co         *Coroutine

	timeActivated  float64
	timeTerminated float64
	onCompletion   []func(*Process)

	// hookPanic holds a panic raised by a completion callback or process
	// listener until activate re-raises it on the driver.
	hookPanic any
}

// NewProcess creates a passive process bound to s. Nothing runs until the
// process is awoken with AwakeAt, AwakeIn or Resume.
func NewProcess(s *Simulator, body Body) *Process {
	if s == nil {
		panic("NewProcess: simulator must not be nil")
	}
	if body == nil {
		panic("NewProcess: body must not be nil")
	}
	s.nextProcessID++
	p := &Process{
		sim:            s,
		id:             s.nextProcessID,
		body:           body,
		prio:           PrioNormal,
		state:          StatePassive,
		timeActivated:  math.NaN(),
		timeTerminated: math.NaN(),
	}
	p.name = fmt.Sprintf("process-%d", p.id)
	p.reactivate = NewEvent(0, PrioNormal, p.activate)
	p.reactivate.SetDescription(p.name)
	return p
}

// SetName sets the name used in logs, traces and error messages.
func (p *Process) SetName(name string) *Process {
	p.name = name
	p.reactivate.SetDescription(name)
	return p
}

// SetPriority sets the priority of the reactivation event used by AwakeAt,
// AwakeIn, WaitUntil and WaitFor.
func (p *Process) SetPriority(prio int) *Process {
	p.prio = prio
	return p
}

func (p *Process) ID() int64 {
	return p.id
}

func (p *Process) Name() string {
	return p.name
}

func (p *Process) Priority() int {
	return p.prio
}

func (p *Process) State() ProcessState {
	return p.state
}

func (p *Process) Simulator() *Simulator {
	return p.sim
}

func (p *Process) Failure() error {
	return p.failure
}

func (p *Process) TimeActivated() float64 {
	return p.timeActivated
}

func (p *Process) TimeTerminated() float64 {
	return p.timeTerminated
}

func (p *Process) String() string {
	return p.name
}

func (p *Process) ReactivateEvent() *Event {
	return p.reactivate
}

func (p *Process) isCurrent() bool {
	return p.sim.currentProcess == p
}

func (p *Process) finishedState() bool {
	return p.state == StateTerminated || p.state == StateError
}

// IsFinished reports whether the body has returned or failed.
func (p *Process) IsFinished() bool { return p.finishedState() }

func (p *Process) checkTransition(op string, to ProcessState) error {
	if !CanTransition(p.state, to) {
		return fmt.Errorf("%s %s: %w: %s -> %s not allowed", op, p, ErrInvalidState, p.state, to)
	}
	return nil
}

// checkFrom verifies that op starts from the state it requires and that the
// resulting transition is part of the state machine.
func (p *Process) checkFrom(op string, from, to ProcessState) error {
	if p.state != from {
		return fmt.Errorf("%s %s: %w: requires %s, process is %s", op, p, ErrInvalidState, from, p.state)
	}
	return p.checkTransition(op, to)
}

// checkRunning verifies that the caller is this process's own body: the
// process is running, is the simulator's current process, and its
// reactivation event is the event being executed.
func (p *Process) checkRunning(op string, to ProcessState) error {
	if err := p.checkTransition(op, to); err != nil {
		return err
	}
	if !p.isCurrent() {
		return fmt.Errorf("%s %s: %w: not the current process", op, p, ErrInvalidState)
	}
	if p.sim.currentEvent != p.reactivate {
		return fmt.Errorf("%s %s: %w: not executing its own reactivation event", op, p, ErrInvalidState)
	}
	return nil
}

func (p *Process) checkTime(op string, t float64) error {
	if !validTime(t) || t < p.sim.SimTime() {
		return fmt.Errorf("%s %s: time %g is before simulation time %g: %w", op, p, t, p.sim.SimTime(), ErrInvalidArgument)
	}
	return nil
}

func (p *Process) arm(t float64, prio int) {
	p.reactivate.time = t
	p.reactivate.prio = prio
	p.sim.Schedule(p.reactivate)
	p.state = StateScheduled
}

// AwakeAt schedules a passive process to run at absolute time t.
func (p *Process) AwakeAt(t float64) error {
	if err := p.checkFrom("awakeAt", StatePassive, StateScheduled); err != nil {
		return err
	}
	if err := p.checkTime("awakeAt", t); err != nil {
		return err
	}
	p.arm(t, p.prio)
	return nil
}

// AwakeIn schedules a passive process to run d time units from now.
func (p *Process) AwakeIn(d float64) error {
	return p.AwakeAt(p.sim.SimTime() + d)
}

// WaitUntil suspends the running process until absolute time t. It must be
// called from the process's own body.
func (p *Process) WaitUntil(t float64) error {
	if err := p.checkRunning("waitUntil", StateScheduled); err != nil {
		return err
	}
	if err := p.checkTime("waitUntil", t); err != nil {
		return err
	}
	p.arm(t, p.prio)
	p.yield()
	return nil
}

// WaitFor suspends the running process for d time units.
func (p *Process) WaitFor(d float64) error {
	return p.WaitUntil(p.sim.SimTime() + d)
}

// Suspend parks the running process without scheduling a wake-up. Another
// actor has to call Resume.
func (p *Process) Suspend() error {
	if err := p.checkRunning("suspend", StatePassive); err != nil {
		return err
	}
	p.state = StatePassive
	p.yield()
	return nil
}

// Resume schedules a passive process to run at the current simulation time,
// after the event currently executing.
func (p *Process) Resume() error {
	if err := p.checkFrom("resume", StatePassive, StateScheduled); err != nil {
		return err
	}
	p.arm(p.sim.SimTime(), p.sim.CurrentPrio())
	return nil
}

// Cancel removes the pending reactivation of a scheduled process and makes it
// passive again. A process cancelled inside WaitUntil stays parked there until
// it is resumed.
func (p *Process) Cancel() error {
	if err := p.checkFrom("cancel", StateScheduled, StatePassive); err != nil {
		return err
	}
	p.sim.Unschedule(p.reactivate)
	p.state = StatePassive
	return nil
}

// Join blocks the calling process until p has finished. It returns
// immediately when p already finished.
func (p *Process) Join() error {
	if p.IsFinished() {
		return nil
	}
	caller := p.sim.CurrentProcess()
	if caller == nil {
		return fmt.Errorf("join %s: %w: not called from a process", p, ErrInvalidState)
	}
	if caller == p {
		return fmt.Errorf("join %s: %w: process cannot join itself", p, ErrInvalidState)
	}
	p.OnCompletion(func(*Process) {
		if caller.State() == StatePassive {
			_ = caller.Resume()
		}
	})
	for !p.IsFinished() {
		if err := caller.Suspend(); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the body's result. It is only valid once the process finished;
// a failed body is reported as an error wrapping ErrExecution and the failure.
func (p *Process) Get() (any, error) {
	switch p.state {
	case StateTerminated:
		return p.result, nil
	case StateError:
		return nil, fmt.Errorf("%w: %s: %w", ErrExecution, p, p.failure)
	default:
		return nil, fmt.Errorf("get %s: %w: process has not finished (%s)", p, ErrInvalidState, p.state)
	}
}

// Result is a typed Get.
func Result[R any](p *Process) (R, error) {
	var zero R
	v, err := p.Get()
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	r, ok := v.(R)
	if !ok {
		return zero, fmt.Errorf("result of %s: %w: got %T, want %T", p, ErrInvalidArgument, v, zero)
	}
	return r, nil
}

// OnCompletion registers fn to run once when the process finishes. When the
// process has already finished fn runs immediately.
func (p *Process) OnCompletion(fn func(*Process)) {
	if fn == nil {
		panic("OnCompletion: fn must not be nil")
	}
	if p.IsFinished() {
		fn(p)
		return
	}
	p.onCompletion = append(p.onCompletion, fn)
}

// activate is the action of the reactivation event; it runs on the driver
// goroutine and returns once the process has yielded or finished.
func (p *Process) activate() {
	s := p.sim
	if p.state != StateScheduled {
		panic(fmt.Sprintf("activate %s: reactivation fired in state %s", p, p.state))
	}
	p.state = StateRunning
	s.SetCurrentProcess(p)
	if p.co == nil {
		p.timeActivated = s.SimTime()
		p.co = newCoroutine(p.name, s.gauge, p.run)
		s.live++
		s.driver.startAndYield(p.co)
	} else {
		s.driver.yieldTo(p.co)
	}
	if r := p.hookPanic; r != nil {
		p.hookPanic = nil
		panic(fmt.Sprintf("completion hook of %s: %v", p, r))
	}
}

// yield hands control back to the driver from inside the body and returns
// when the process is activated again.
func (p *Process) yield() {
	p.sim.SetCurrentProcess(nil)
	p.co.yieldTo(p.sim.driver)
}

// run is the body of the process goroutine.
func (p *Process) run() {
	var (
		result   any
		err      error
		returned bool
	)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v\n%s", p, r, debug.Stack())
		} else if !returned {
			err = errGoexit
		}
		p.finish(result, err)
		p.sim.SetCurrentProcess(nil)
		p.co.exitTo(p.sim.driver)
	}()
	result, err = p.body(p)
	returned = true
}

var errGoexit = errors.New("process body called runtime.Goexit")

// finish records the outcome and fires completion callbacks exactly once.
func (p *Process) finish(result any, err error) {
	s := p.sim
	p.timeTerminated = s.SimTime()
	s.live--
	if err != nil {
		p.failure = err
		p.state = StateError
		logrus.Warnf("[t=%.3f] %s failed: %v", s.SimTime(), p, err)
	} else {
		p.result = result
		p.state = StateTerminated
		logrus.Debugf("[t=%.3f] %s terminated", s.SimTime(), p)
	}
	p.hookPanic = p.runHooks()
}

// runHooks fires the completion callbacks and then the simulator's process
// listeners. It stops at the first panic and returns its value.
func (p *Process) runHooks() (failure any) {
	defer func() { failure = recover() }()
	callbacks := p.onCompletion
	p.onCompletion = nil
	for _, fn := range callbacks {
		fn(p)
	}
	for _, fn := range p.sim.processListeners {
		fn(p)
	}
	return nil
}
