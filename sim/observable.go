package sim

// ListenerHandle identifies a registration in a listener table. Holders of a
// handle do not keep the listener's owner reachable; they only use it to
// unregister.
type ListenerHandle int

// listenerSet is an ordered listener table keyed by handle. Listeners added
// or removed during notification take effect for the next notification.
type listenerSet[F any] struct {
	next  ListenerHandle
	order []ListenerHandle
	fns   map[ListenerHandle]F
}

func (ls *listenerSet[F]) add(fn F) ListenerHandle {
	if ls.fns == nil {
		ls.fns = make(map[ListenerHandle]F)
	}
	ls.next++
	ls.fns[ls.next] = fn
	ls.order = append(ls.order, ls.next)
	return ls.next
}

func (ls *listenerSet[F]) remove(h ListenerHandle) bool {
	if _, ok := ls.fns[h]; !ok {
		return false
	}
	delete(ls.fns, h)
	for i, o := range ls.order {
		if o == h {
			ls.order = append(ls.order[:i:i], ls.order[i+1:]...)
			break
		}
	}
	return true
}

func (ls *listenerSet[F]) len() int { return len(ls.fns) }

func (ls *listenerSet[F]) each(call func(F)) {
	if len(ls.order) == 0 {
		return
	}
	snapshot := append([]ListenerHandle(nil), ls.order...)
	for _, h := range snapshot {
		if fn, ok := ls.fns[h]; ok {
			call(fn)
		}
	}
}

// Observable is a boolean value whose changes can be subscribed to.
// Subscribers are notified when the value changed or might have changed and
// must re-read Value themselves.
type Observable interface {
	Value() bool
	Subscribe(fn func()) ListenerHandle
	Unsubscribe(h ListenerHandle)
}

// ObservableBool is a settable Observable.
type ObservableBool struct {
	value     bool
	listeners listenerSet[func()]
}

// NewObservableBool creates an ObservableBool with an initial value.
func NewObservableBool(v bool) *ObservableBool {
	return &ObservableBool{value: v}
}

func (o *ObservableBool) Value() bool { return o.value }

// Set updates the value and notifies subscribers if it changed.
func (o *ObservableBool) Set(v bool) {
	if o.value == v {
		return
	}
	o.value = v
	o.Touch()
}

// Touch notifies subscribers without changing the value.
func (o *ObservableBool) Touch() {
	o.listeners.each(func(fn func()) { fn() })
}

func (o *ObservableBool) Subscribe(fn func()) ListenerHandle {
	if fn == nil {
		panic("Subscribe: fn must not be nil")
	}
	return o.listeners.add(fn)
}

func (o *ObservableBool) Unsubscribe(h ListenerHandle) { o.listeners.remove(h) }

// NumSubscribers returns the number of registered listeners.
func (o *ObservableBool) NumSubscribers() int { return o.listeners.len() }

// ComputedBool is an Observable whose value is derived from other state by a
// function. The owner of that state calls Invalidate whenever it may have
// changed the result.
type ComputedBool struct {
	compute   func() bool
	listeners listenerSet[func()]
}

// NewComputedBool creates a ComputedBool backed by compute.
func NewComputedBool(compute func() bool) *ComputedBool {
	if compute == nil {
		panic("NewComputedBool: compute must not be nil")
	}
	return &ComputedBool{compute: compute}
}

func (c *ComputedBool) Value() bool { return c.compute() }

// Invalidate sends a "might have changed" notification.
func (c *ComputedBool) Invalidate() {
	c.listeners.each(func(fn func()) { fn() })
}

func (c *ComputedBool) Subscribe(fn func()) ListenerHandle {
	if fn == nil {
		panic("Subscribe: fn must not be nil")
	}
	return c.listeners.add(fn)
}

func (c *ComputedBool) Unsubscribe(h ListenerHandle) { c.listeners.remove(h) }
