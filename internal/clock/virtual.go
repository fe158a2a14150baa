package clock

import (
	"sort"
	"sync"
	"time"
)

// Virtual is a controllable clock. Time only moves when Advance or Set is
// called; pending AfterFunc callbacks whose deadline has been reached run
// synchronously inside that call, in deadline order.
type Virtual struct {
	mu      sync.Mutex
	current time.Time
	seq     int
	pending []*virtualTimer
}

type virtualTimer struct {
	c        *Virtual
	id       int
	deadline time.Time
	fn       func()
}

// NewVirtual creates a Virtual clock starting at start.
func NewVirtual(start time.Time) *Virtual {
	return &Virtual{current: start}
}

// Now returns the current virtual time.
func (c *Virtual) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// AfterFunc registers f to run when the clock reaches now+d.
func (c *Virtual) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	c.seq++
	t := &virtualTimer{c: c, id: c.seq, deadline: c.current.Add(d), fn: f}
	c.pending = append(c.pending, t)
	c.mu.Unlock()

	if d <= 0 {
		c.fire()
	}
	return t
}

// Pending returns the number of callbacks that have not fired or been stopped.
func (c *Virtual) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Advance moves the clock forward by d and runs due callbacks.
// Panics if d is negative.
func (c *Virtual) Advance(d time.Duration) {
	if d < 0 {
		panic("clock: cannot advance by negative duration")
	}
	c.mu.Lock()
	c.current = c.current.Add(d)
	c.mu.Unlock()
	c.fire()
}

// Set moves the clock to t and runs due callbacks.
// Panics if t is before the current time.
func (c *Virtual) Set(t time.Time) {
	c.mu.Lock()
	if t.Before(c.current) {
		c.mu.Unlock()
		panic("clock: cannot set time to the past")
	}
	c.current = t
	c.mu.Unlock()
	c.fire()
}

// fire runs due callbacks outside the lock so they may schedule new timers.
func (c *Virtual) fire() {
	for {
		c.mu.Lock()
		sort.SliceStable(c.pending, func(i, j int) bool {
			return c.pending[i].deadline.Before(c.pending[j].deadline)
		})
		if len(c.pending) == 0 || c.pending[0].deadline.After(c.current) {
			c.mu.Unlock()
			return
		}
		t := c.pending[0]
		c.pending = c.pending[1:]
		c.mu.Unlock()

		t.fn()
	}
}

func (t *virtualTimer) Stop() bool {
	c := t.c
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, p := range c.pending {
		if p.id == t.id {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return true
		}
	}
	return false
}
