package sim

import (
	"fmt"
	"math"
)

// Event priorities. Among events with equal time, lower values fire first.
const (
	PrioMax    = -1_000_000
	PrioHigh   = -1_000
	PrioNormal = 0
	PrioLow    = 1_000
	PrioMin    = 1_000_000
)

// Event is a unit of work scheduled to run at a specific simulated instant.
// Ordering between events is (time, prio, seq); seq is assigned by
// Simulator.Schedule, so events sharing time and priority fire in insertion order.
//
// An Event may be scheduled again after it fired. Processes reuse a single
// Event for every reactivation during their lifetime.
type Event struct {
	time        float64
	prio        int
	seq         uint64
	action      func()
	description string
	index       int // position in the event queue, -1 when not pending
}

// NewEvent creates an unscheduled event.
func NewEvent(time float64, prio int, action func()) *Event {
	if action == nil {
		panic("NewEvent: action must not be nil")
	}
	return &Event{
		time:   time,
		prio:   prio,
		action: action,
		index:  -1,
	}
}

// Time returns the simulated instant the event is (or was last) scheduled for.
func (e *Event) Time() float64 { return e.time }

// Prio returns the event priority.
func (e *Event) Prio() int { return e.prio }

// Seq returns the sequence number assigned by the last Schedule call.
func (e *Event) Seq() uint64 { return e.seq }

// Description returns the optional human-readable description.
func (e *Event) Description() string { return e.description }

// SetDescription sets the description used in logs and traces.
func (e *Event) SetDescription(d string) { e.description = d }

// IsPending reports whether the event currently sits in a simulator's queue.
func (e *Event) IsPending() bool { return e.index >= 0 }

// SetTime changes the firing time. Pending events must be unscheduled first.
func (e *Event) SetTime(t float64) error {
	if e.IsPending() {
		return fmt.Errorf("set time of %s: %w", e, ErrEventPending)
	}
	e.time = t
	return nil
}

// SetPrio changes the priority. Pending events must be unscheduled first.
func (e *Event) SetPrio(prio int) error {
	if e.IsPending() {
		return fmt.Errorf("set prio of %s: %w", e, ErrEventPending)
	}
	e.prio = prio
	return nil
}

func (e *Event) String() string {
	if e.description != "" {
		return fmt.Sprintf("%s@%g/%d", e.description, e.time, e.prio)
	}
	return fmt.Sprintf("event@%g/%d", e.time, e.prio)
}

// before implements the total event order: time, then prio, then seq.
func (e *Event) before(o *Event) bool {
	if e.time != o.time {
		return e.time < o.time
	}
	if e.prio != o.prio {
		return e.prio < o.prio
	}
	return e.seq < o.seq
}

func validTime(t float64) bool {
	return !math.IsNaN(t)
}
