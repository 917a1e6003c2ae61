package sim

import (
	"sync"
	"sync/atomic"

	"github.com/vlence/gossert"
)

// runGauge counts goroutines of one simulator that are currently outside a
// parked wait. The hand-off protocol keeps it at most 1; max records the
// high-water mark so tests can verify that.
type runGauge struct {
	cur atomic.Int32
	max atomic.Int32
}

func (g *runGauge) enter() {
	n := g.cur.Add(1)
	for {
		m := g.max.Load()
		if n <= m || g.max.CompareAndSwap(m, n) {
			return
		}
	}
}

func (g *runGauge) leave() {
	n := g.cur.Add(-1)
	gossert.Ok(n >= 0, "coroutine: runnable gauge went negative")
}

// Coroutine gives a process a private goroutine and stack while guaranteeing
// that it only runs when explicitly handed control.
//
// The only state shared between the driving side and the worker is the
// signaled flag. activate sets it and wakes the worker; deactivate parks the
// caller until the flag is set and then clears it. Waits loop on the flag so
// a spurious wake-up never lets a goroutine through.
type Coroutine struct {
	name  string
	body  func()
	gauge *runGauge

	mu       sync.Mutex
	cond     *sync.Cond
	signaled bool
	started  bool
	done     bool
}

func newCoroutine(name string, gauge *runGauge, body func()) *Coroutine {
	c := &Coroutine{
		name:  name,
		body:  body,
		gauge: gauge,
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// start launches the worker goroutine running the body. The goroutine
// counts itself runnable from its first instruction; the caller must park
// itself right after.
func (c *Coroutine) start() {
	c.mu.Lock()
	gossert.Ok(!c.started, "coroutine: "+c.name+" started twice")
	c.started = true
	c.mu.Unlock()

	go func() {
		c.gauge.enter()
		c.body()
	}()
}

// activate hands control to the coroutine. It does not block; the caller is
// expected to deactivate itself immediately afterwards.
func (c *Coroutine) activate() {
	c.mu.Lock()
	gossert.Ok(!c.done, "coroutine: "+c.name+" activated after it finished")
	gossert.Ok(!c.signaled, "coroutine: "+c.name+" activated while already signaled")
	c.signaled = true
	c.cond.Signal()
	c.mu.Unlock()
}

// deactivate parks the calling goroutine until the coroutine is activated.
// Only the goroutine owning this coroutine may call it.
func (c *Coroutine) deactivate() {
	c.mu.Lock()
	for !c.signaled {
		c.cond.Wait()
	}
	c.signaled = false
	c.mu.Unlock()
	c.gauge.enter()
}

// yieldTo transfers control from c to other and parks c. The runnable gauge
// is released before other is woken so the two never overlap.
func (c *Coroutine) yieldTo(other *Coroutine) {
	c.gauge.leave()
	other.activate()
	c.deactivate()
}

// startAndYield starts other for the first time and parks c.
func (c *Coroutine) startAndYield(other *Coroutine) {
	c.gauge.leave()
	other.start()
	c.deactivate()
}

// exitTo is the final hand-off of a worker whose body has completed. It wakes
// other and lets the goroutine return without parking, so a coroutine that is
// never reactivated does not leak a blocked goroutine.
func (c *Coroutine) exitTo(other *Coroutine) {
	c.mu.Lock()
	c.done = true
	c.mu.Unlock()
	c.gauge.leave()
	other.activate()
}
