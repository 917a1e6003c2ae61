package sim

import "container/heap"

// EventQueue implements heap.Interface with deterministic ordering.
// Ordering: time -> prio -> seq. Each event tracks its own index so it can be
// removed in O(log n) when a process cancels its reactivation.
// See canonical Golang example here: https://pkg.go.dev/container/heap#example-package-PriorityQueue
type EventQueue []*Event

func (eq EventQueue) Len() int           { return len(eq) }
func (eq EventQueue) Less(i, j int) bool { return eq[i].before(eq[j]) }

func (eq EventQueue) Swap(i, j int) {
	eq[i], eq[j] = eq[j], eq[i]
	eq[i].index = i
	eq[j].index = j
}

func (eq *EventQueue) Push(x any) {
	e := x.(*Event)
	e.index = len(*eq)
	*eq = append(*eq, e)
}

func (eq *EventQueue) Pop() any {
	old := *eq
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*eq = old[0 : n-1]
	e.index = -1
	return e
}

// schedule adds an event to the queue.
func (eq *EventQueue) schedule(e *Event) {
	heap.Push(eq, e)
}

// remove takes a pending event out of the queue. It reports false when the
// event is not in this queue.
func (eq *EventQueue) remove(e *Event) bool {
	if e.index < 0 || e.index >= len(*eq) || (*eq)[e.index] != e {
		return false
	}
	heap.Remove(eq, e.index)
	return true
}

// popNext removes and returns the next event, or nil when empty.
func (eq *EventQueue) popNext() *Event {
	if eq.Len() == 0 {
		return nil
	}
	return heap.Pop(eq).(*Event)
}

// peek returns the next event without removing it.
func (eq EventQueue) peek() *Event {
	if len(eq) == 0 {
		return nil
	}
	return eq[0]
}
