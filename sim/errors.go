package sim

import "errors"

// Sentinel errors returned by the kernel. Callers match them with errors.Is;
// the kernel always wraps them with context about the offending object.
var (
	// ErrInvalidState is returned when a Process operation is attempted from a
	// state that does not allow it (see CanTransition), or from the wrong
	// execution context.
	ErrInvalidState = errors.New("invalid process state")

	// ErrInvalidArgument is returned for nil, NaN or out-of-range arguments,
	// such as a wake-up time in the past.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrExecution wraps the failure of a process body when its result is read.
	ErrExecution = errors.New("process execution failed")

	// ErrEventPending is returned when mutating an event that is currently scheduled.
	ErrEventPending = errors.New("event is pending")

	// ErrEventFailed wraps a panic raised by a plain event action during Run.
	ErrEventFailed = errors.New("event action failed")

	// ErrNotFound is returned by Q.Remove for items that are not in the queue.
	ErrNotFound = errors.New("item not found")

	// ErrNotHeld is returned when releasing a resource unit the process does not hold.
	ErrNotHeld = errors.New("resource not held")

	// ErrNegativeCapacity is returned for capacities below zero other than Unbounded.
	ErrNegativeCapacity = errors.New("negative capacity")
)
