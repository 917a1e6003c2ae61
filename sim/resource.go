package sim

import (
	"errors"
	"fmt"
)

// Resource is a counting semaphore modelling shared capacity such as machine
// slots. Each unit held is one entry of the holding process in an underlying
// Q, so blocking and waking follow the queue's rules.
//
// SeizeN and ReleaseN are n sequential single-unit operations. A process
// blocked in SeizeN keeps the units it already acquired; callers that need
// all-or-nothing acquisition must check NumAvailable first.
type Resource struct {
	q *Q[*Process]
}

// NewResource creates a resource with the given number of units.
func NewResource(name string, capacity int) (*Resource, error) {
	if capacity < 0 {
		return nil, fmt.Errorf("resource %s capacity %d: %w", name, capacity, ErrNegativeCapacity)
	}
	return &Resource{q: NewQ[*Process](name, capacity)}, nil
}

func (r *Resource) Name() string { return r.q.Name() }

func (r *Resource) String() string { return r.q.Name() }

// Capacity returns the total number of units.
func (r *Resource) Capacity() int { return r.q.Capacity() }

// SetCapacity changes the number of units. Growing wakes waiting processes;
// shrinking below NumInUse only affects future seizes.
func (r *Resource) SetCapacity(n int) error {
	if n < 0 {
		return fmt.Errorf("resource %s capacity %d: %w", r.Name(), n, ErrNegativeCapacity)
	}
	r.q.SetCapacity(n)
	return nil
}

// NumInUse returns the number of units currently held.
func (r *Resource) NumInUse() int { return r.q.NumItems() }

// NumAvailable returns the number of free units.
func (r *Resource) NumAvailable() int { return r.q.NumAvailable() }

// NumWaiting returns the number of processes blocked in Seize.
func (r *Resource) NumWaiting() int { return r.q.NumWaitingPut() }

// Holders returns one entry per held unit, in acquisition order.
func (r *Resource) Holders() []*Process { return r.q.Items() }

// NumHeld returns how many units p holds.
func (r *Resource) NumHeld(p *Process) int {
	n := 0
	for _, h := range r.q.items {
		if h == p {
			n++
		}
	}
	return n
}

// Queue exposes the underlying queue, e.g. to attach listeners.
func (r *Resource) Queue() *Q[*Process] { return r.q }

// Seize acquires one unit for p, blocking while none is free.
func (r *Resource) Seize(p *Process) error {
	return r.q.Put(p, p)
}

// SeizeN acquires n units one after another.
func (r *Resource) SeizeN(p *Process, n int) error {
	for i := 0; i < n; i++ {
		if err := r.Seize(p); err != nil {
			return err
		}
	}
	return nil
}

// TrySeize acquires one unit for p if one is free. It never blocks.
func (r *Resource) TrySeize(p *Process) bool {
	if p == nil {
		return false
	}
	return r.q.TryPut(p)
}

// Release gives back one unit held by p. Waiting processes are resumed.
func (r *Resource) Release(p *Process) error {
	if err := r.q.Remove(p); err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("release %s by %v: %w", r.Name(), p, ErrNotHeld)
		}
		return err
	}
	return nil
}

// ReleaseN gives back n units held by p, stopping at the first failure.
func (r *Resource) ReleaseN(p *Process, n int) error {
	for i := 0; i < n; i++ {
		if err := r.Release(p); err != nil {
			return err
		}
	}
	return nil
}
