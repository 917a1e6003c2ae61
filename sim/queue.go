// Implements Q, the kernel's capacity-bounded blocking container. Processes
// block in Put when the queue is full and in Take when it is empty.

package sim

import (
	"fmt"
	"math"
	"strings"
)

// Unbounded is the capacity of a queue without a size limit. Any negative
// capacity is treated as Unbounded.
const Unbounded = -1

// QueueEventKind distinguishes queue notifications.
type QueueEventKind int

const (
	ItemAdded QueueEventKind = iota
	ItemRemoved
)

func (k QueueEventKind) String() string {
	if k == ItemAdded {
		return "added"
	}
	return "removed"
}

// QueueEvent is delivered to queue listeners after the container was mutated
// and before any waiting process is resumed.
type QueueEvent[T comparable] struct {
	Kind  QueueEventKind
	Queue *Q[T]
	Item  T
}

// Q is a double-ended container with an optional capacity. Blocking
// operations take the calling process explicitly; it must be the process
// currently running.
//
// Waiting processes are resumed, never handed items directly: every resumed
// waiter re-checks the queue and suspends again if another process got there
// first. Only passive waiters are resumed, so a waiter that was resumed or
// cancelled by someone else is never scheduled twice.
type Q[T comparable] struct {
	name     string
	items    []T
	capacity int

	takeWaiters []*Process
	putWaiters  []*Process

	lastAdded   T
	lastRemoved T
	listeners   listenerSet[func(QueueEvent[T])]
}

// NewQ creates an empty queue. A negative capacity makes it unbounded.
func NewQ[T comparable](name string, capacity int) *Q[T] {
	if capacity < 0 {
		capacity = Unbounded
	}
	return &Q[T]{name: name, capacity: capacity}
}

func (q *Q[T]) Name() string { return q.name }

// NumItems returns the number of items in the queue.
func (q *Q[T]) NumItems() int { return len(q.items) }

// Capacity returns the capacity, Unbounded for unbounded queues.
func (q *Q[T]) Capacity() int { return q.capacity }

// IsUnbounded reports whether the queue has no capacity limit.
func (q *Q[T]) IsUnbounded() bool { return q.capacity < 0 }

// NumAvailable returns the free capacity, math.MaxInt when unbounded.
func (q *Q[T]) NumAvailable() int {
	if q.IsUnbounded() {
		return math.MaxInt
	}
	return max(q.capacity-len(q.items), 0)
}

// SetCapacity changes the capacity. Shrinking below NumItems keeps the items
// and only blocks further puts. Growing resumes waiting producers.
func (q *Q[T]) SetCapacity(n int) {
	if n < 0 {
		n = Unbounded
	}
	before := q.NumAvailable()
	q.capacity = n
	if q.NumAvailable() > before {
		resumePassive(q.putWaiters)
	}
}

// NumWaitingTake returns the number of processes blocked in Take.
func (q *Q[T]) NumWaitingTake() int { return len(q.takeWaiters) }

// NumWaitingPut returns the number of processes blocked in Put.
func (q *Q[T]) NumWaitingPut() int { return len(q.putWaiters) }

// LastAdded returns the most recently inserted item.
func (q *Q[T]) LastAdded() T { return q.lastAdded }

// LastRemoved returns the most recently removed item.
func (q *Q[T]) LastRemoved() T { return q.lastRemoved }

// Items returns a copy of the queue contents, front first.
func (q *Q[T]) Items() []T {
	return append([]T(nil), q.items...)
}

// Contains reports whether item is in the queue.
func (q *Q[T]) Contains(item T) bool {
	return q.indexOf(item) >= 0
}

// AddListener registers fn for ItemAdded and ItemRemoved notifications.
func (q *Q[T]) AddListener(fn func(QueueEvent[T])) ListenerHandle {
	if fn == nil {
		panic("AddListener: fn must not be nil")
	}
	return q.listeners.add(fn)
}

// RemoveListener unregisters a listener. It reports whether h was registered.
func (q *Q[T]) RemoveListener(h ListenerHandle) bool {
	return q.listeners.remove(h)
}

// Put appends item, blocking p while the queue is full.
func (q *Q[T]) Put(p *Process, item T) error {
	return q.put(p, item, false, "put")
}

// PutFront inserts item at the front, blocking p while the queue is full.
func (q *Q[T]) PutFront(p *Process, item T) error {
	return q.put(p, item, true, "putFront")
}

// TryPut appends item if there is room. It never blocks.
func (q *Q[T]) TryPut(item T) bool {
	if q.NumAvailable() <= 0 {
		return false
	}
	q.insert(item, false)
	return true
}

// TryPutFront inserts item at the front if there is room. It never blocks.
func (q *Q[T]) TryPutFront(item T) bool {
	if q.NumAvailable() <= 0 {
		return false
	}
	q.insert(item, true)
	return true
}

// Take removes and returns the front item, blocking p while the queue is empty.
func (q *Q[T]) Take(p *Process) (T, error) {
	return q.take(p, false, "take")
}

// TakeLast removes and returns the back item, blocking p while the queue is empty.
func (q *Q[T]) TakeLast(p *Process) (T, error) {
	return q.take(p, true, "takeLast")
}

// TryTake removes the front item. ok is false when the queue is empty.
func (q *Q[T]) TryTake() (item T, ok bool) {
	if len(q.items) == 0 {
		return item, false
	}
	return q.extract(0), true
}

// TryTakeLast removes the back item. ok is false when the queue is empty.
func (q *Q[T]) TryTakeLast() (item T, ok bool) {
	if len(q.items) == 0 {
		return item, false
	}
	return q.extract(len(q.items) - 1), true
}

// Remove deletes the first occurrence of item.
func (q *Q[T]) Remove(item T) error {
	i := q.indexOf(item)
	if i < 0 {
		return fmt.Errorf("remove %v from %s: %w", item, q, ErrNotFound)
	}
	q.extract(i)
	return nil
}

func (q *Q[T]) String() string {
	var sb strings.Builder
	sb.WriteString(q.name)
	sb.WriteString("[")
	for i, val := range q.items {
		sb.WriteString(fmt.Sprint(val))
		if i < len(q.items)-1 {
			sb.WriteString(" ")
		}
	}
	sb.WriteString("]")
	return sb.String()
}

func (q *Q[T]) put(p *Process, item T, front bool, op string) error {
	if p == nil {
		return fmt.Errorf("%s on %s: %w: nil process", op, q.name, ErrInvalidArgument)
	}
	if err := p.checkRunning(op, StatePassive); err != nil {
		return err
	}
	if q.NumAvailable() <= 0 {
		q.putWaiters = append(q.putWaiters, p)
		for q.NumAvailable() <= 0 {
			if err := p.Suspend(); err != nil {
				q.putWaiters = removeProcess(q.putWaiters, p)
				return err
			}
		}
		q.putWaiters = removeProcess(q.putWaiters, p)
	}
	q.insert(item, front)
	return nil
}

func (q *Q[T]) take(p *Process, last bool, op string) (T, error) {
	var zero T
	if p == nil {
		return zero, fmt.Errorf("%s on %s: %w: nil process", op, q.name, ErrInvalidArgument)
	}
	if err := p.checkRunning(op, StatePassive); err != nil {
		return zero, err
	}
	if len(q.items) == 0 {
		q.takeWaiters = append(q.takeWaiters, p)
		for len(q.items) == 0 {
			if err := p.Suspend(); err != nil {
				q.takeWaiters = removeProcess(q.takeWaiters, p)
				return zero, err
			}
		}
		q.takeWaiters = removeProcess(q.takeWaiters, p)
	}
	if last {
		return q.extract(len(q.items) - 1), nil
	}
	return q.extract(0), nil
}

func (q *Q[T]) insert(item T, front bool) {
	if front {
		q.items = append(q.items, item)
		copy(q.items[1:], q.items[:len(q.items)-1])
		q.items[0] = item
	} else {
		q.items = append(q.items, item)
	}
	q.lastAdded = item
	q.notify(ItemAdded, item)
	resumePassive(q.takeWaiters)
}

func (q *Q[T]) extract(i int) T {
	item := q.items[i]
	var zero T
	copy(q.items[i:], q.items[i+1:])
	q.items[len(q.items)-1] = zero
	q.items = q.items[:len(q.items)-1]
	q.lastRemoved = item
	q.notify(ItemRemoved, item)
	resumePassive(q.putWaiters)
	return item
}

func (q *Q[T]) indexOf(item T) int {
	for i, it := range q.items {
		if it == item {
			return i
		}
	}
	return -1
}

func (q *Q[T]) notify(kind QueueEventKind, item T) {
	ev := QueueEvent[T]{Kind: kind, Queue: q, Item: item}
	q.listeners.each(func(fn func(QueueEvent[T])) { fn(ev) })
}

// resumePassive resumes every passive process in waiters, in waiting order.
func resumePassive(waiters []*Process) {
	if len(waiters) == 0 {
		return
	}
	for _, p := range append([]*Process(nil), waiters...) {
		if p.State() == StatePassive {
			_ = p.Resume()
		}
	}
}

func removeProcess(ps []*Process, p *Process) []*Process {
	for i, o := range ps {
		if o == p {
			return append(ps[:i], ps[i+1:]...)
		}
	}
	return ps
}
