package sim

// ConditionQueue defers actions until a boolean Observable becomes true.
//
// Actions run in submission order. The condition is re-read before every
// action, so an action that makes the condition false holds back the rest of
// the queue until the condition is true again.
type ConditionQueue struct {
	cond    Observable
	actions []func()

	handle     ListenerHandle
	subscribed bool
	draining   bool
}

// NewConditionQueue creates a queue gated on cond. The subscription to cond
// is installed lazily by the first ExecuteWhenTrue.
func NewConditionQueue(cond Observable) *ConditionQueue {
	if cond == nil {
		panic("NewConditionQueue: cond must not be nil")
	}
	return &ConditionQueue{cond: cond}
}

// Condition returns the observable gating this queue.
func (cq *ConditionQueue) Condition() Observable { return cq.cond }

// NumActions returns the number of actions still waiting for the condition.
func (cq *ConditionQueue) NumActions() int { return len(cq.actions) }

// ExecuteWhenTrue queues action. If the condition already holds the pending
// actions, including this one, run before ExecuteWhenTrue returns.
func (cq *ConditionQueue) ExecuteWhenTrue(action func()) {
	if action == nil {
		panic("ExecuteWhenTrue: action must not be nil")
	}
	now := cq.cond.Value()
	cq.actions = append(cq.actions, action)
	if !cq.subscribed {
		cq.handle = cq.cond.Subscribe(cq.onChange)
		cq.subscribed = true
	}
	if now {
		cq.onChange()
	}
}

// AwaitTrue suspends p until the condition is true. It returns immediately if
// it already is. p must be the running process. When AwaitTrue returns the
// condition held at the moment p was released; other events may have changed
// it since.
func (cq *ConditionQueue) AwaitTrue(p *Process) error {
	if err := p.checkRunning("awaitTrue", StatePassive); err != nil {
		return err
	}
	if cq.cond.Value() && len(cq.actions) == 0 {
		return nil
	}
	released := false
	cq.ExecuteWhenTrue(func() {
		released = true
		if p.State() == StatePassive {
			_ = p.Resume()
		}
	})
	for !released {
		if err := p.Suspend(); err != nil {
			return err
		}
	}
	return nil
}

// Close drops the subscription to the condition. Pending actions stay queued
// but will not run unless a new action re-subscribes the queue.
func (cq *ConditionQueue) Close() {
	if cq.subscribed {
		cq.cond.Unsubscribe(cq.handle)
		cq.subscribed = false
	}
}

// onChange drains the queue while the condition holds. Notifications raised
// by the actions themselves are absorbed by the running drain, which re-reads
// the condition before each action anyway.
func (cq *ConditionQueue) onChange() {
	if cq.draining {
		return
	}
	cq.draining = true
	defer func() { cq.draining = false }()
	for len(cq.actions) > 0 && cq.cond.Value() {
		action := cq.actions[0]
		cq.actions[0] = nil
		cq.actions = cq.actions[1:]
		action()
	}
}
