package row

import (
	"sync"
	"time"
)

// Clock returns the same date/time Value for every call within its
// lifetime, mirroring pyetlmr's module-level today()/now() caches
// (__init__.py), which memoize the first call's result for the rest of
// the process. A fresh Clock should be constructed per job run.
type Clock struct {
	mu       sync.Mutex
	today    *Value
	now      *Value
	nowFaker func() time.Time
}

// NewClock returns a Clock backed by the real wall clock.
func NewClock() *Clock {
	return &Clock{nowFaker: time.Now}
}

// Today returns the date of the first call to Today, as a date Value.
func (c *Clock) Today() Value {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.today == nil {
		t := c.nowFaker()
		v := Date(time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location()))
		c.today = &v
	}
	return *c.today
}

// Now returns the timestamp of the first call to Now, as a date Value.
func (c *Clock) Now() Value {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.now == nil {
		v := Date(c.nowFaker())
		c.now = &v
	}
	return *c.now
}
