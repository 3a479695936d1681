package sensor

import (
	"sync/atomic"
)

// Trigger requests a read from outside the agent loop, the way a button interrupt would. Fire only touches a counter,
// a flag and a buffered channel, so it is safe to call from a signal handler goroutine or a timer.
type Trigger struct {
	count   atomic.Uint64
	pending atomic.Bool

	c chan struct{}
}

// NewTrigger returns an idle Trigger.
func NewTrigger() *Trigger {
	return &Trigger{c: make(chan struct{}, 1)}
}

// Fire counts the trigger and marks a read as pending. It never blocks. Fires that arrive while a read is already
// pending are counted but coalesced.
func (t *Trigger) Fire() {
	t.count.Add(1)
	t.pending.Store(true)

	select {
	case t.c <- struct{}{}:
	default:
	}
}

// C is signalled after Fire. Receivers should call Take to consume the pending flag.
func (t *Trigger) C() <-chan struct{} {
	return t.c
}

// Take reports whether a read was pending and clears the flag.
func (t *Trigger) Take() bool {
	return t.pending.Swap(false)
}

// Count returns how many times Fire was called.
func (t *Trigger) Count() uint64 {
	if t == nil {
		return 0
	}

	return t.count.Load()
}
