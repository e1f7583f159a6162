// Package throttle implements a per-key leading+trailing rate limiter.
//
// The first trigger for a key fires immediately and opens a window. Triggers
// inside the window are collapsed into a single trailing fire at the window's
// end, which opens a new window. Each key moves through Idle, Cooling and
// CoolingWithPending; the timer callbacks are routed through a post function
// so all transitions happen on the owner's goroutine.
package throttle

import "time"

// State is the throttle state of one key.
type State int

const (
	Idle State = iota
	Cooling
	CoolingWithPending
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Cooling:
		return "cooling"
	case CoolingWithPending:
		return "cooling-with-pending"
	}
	return "unknown"
}

type entry struct {
	state    State
	deadline time.Time
	timer    Timer
	gen      uint64
}

// Throttle rate-limits calls to fire per key.
// Trigger, Cancel and State must be called from the goroutine post delivers to.
type Throttle[K comparable] struct {
	window  time.Duration
	clock   Clock
	fire    func(K)
	post    func(func())
	entries map[K]*entry
	gen     uint64
}

// New creates a throttle. post schedules a function on the owner's loop;
// a nil post runs timer callbacks directly on the timer goroutine.
func New[K comparable](window time.Duration, clock Clock, post func(func()), fire func(K)) *Throttle[K] {
	if clock == nil {
		clock = RealClock{}
	}
	if post == nil {
		post = func(f func()) { f() }
	}
	return &Throttle[K]{
		window:  window,
		clock:   clock,
		fire:    fire,
		post:    post,
		entries: make(map[K]*entry),
	}
}

// Trigger records an event for key.
func (t *Throttle[K]) Trigger(key K) {
	e, ok := t.entries[key]
	if !ok {
		e = &entry{}
		t.entries[key] = e
		t.open(key, e)
		t.fire(key)
		return
	}
	if e.state == Cooling {
		e.state = CoolingWithPending
	}
}

// Cancel drops any pending trailing fire and returns key to Idle.
func (t *Throttle[K]) Cancel(key K) {
	e, ok := t.entries[key]
	if !ok {
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(t.entries, key)
}

// CancelAll cancels every key.
func (t *Throttle[K]) CancelAll() {
	for key := range t.entries {
		t.Cancel(key)
	}
}

// State returns the current state of key.
func (t *Throttle[K]) State(key K) State {
	if e, ok := t.entries[key]; ok {
		return e.state
	}
	return Idle
}

// Deadline returns when the current window for key closes.
func (t *Throttle[K]) Deadline(key K) (time.Time, bool) {
	if e, ok := t.entries[key]; ok {
		return e.deadline, true
	}
	return time.Time{}, false
}

// open starts a new window for key, replacing any previous timer.
func (t *Throttle[K]) open(key K, e *entry) {
	if e.timer != nil {
		e.timer.Stop()
	}
	t.gen++
	gen := t.gen
	e.gen = gen
	e.state = Cooling
	e.deadline = t.clock.Now().Add(t.window)
	e.timer = t.clock.AfterFunc(t.window, func() {
		t.post(func() { t.expire(key, gen) })
	})
}

func (t *Throttle[K]) expire(key K, gen uint64) {
	e, ok := t.entries[key]
	if !ok || e.gen != gen {
		// cancelled or superseded
		return
	}
	if e.state == CoolingWithPending {
		t.open(key, e)
		t.fire(key)
		return
	}
	delete(t.entries, key)
}
