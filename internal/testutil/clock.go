package testutil

import (
	"sync"
	"testing"
	"time"

	"k8s.io/utils/clock"
	testingclock "k8s.io/utils/clock/testing"
)

var Epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// FakeClock is a k8s fake clock that also counts timers created through
// NewTimer. Tests wait on that count before stepping time so a step is
// never lost to a goroutine that has not armed its next timer yet.
type FakeClock struct {
	*testingclock.FakeClock

	mu      sync.Mutex
	changed *sync.Cond
	created int
}

var _ clock.Clock = (*FakeClock)(nil)

func NewFakeClock() *FakeClock {
	c := &FakeClock{FakeClock: testingclock.NewFakeClock(Epoch)}
	c.changed = sync.NewCond(&c.mu)
	return c
}

func (c *FakeClock) NewTimer(d time.Duration) clock.Timer {
	timer := c.FakeClock.NewTimer(d)
	c.mu.Lock()
	c.created++
	c.changed.Broadcast()
	c.mu.Unlock()
	return timer
}

// TimersCreated returns how many timers were armed so far.
func (c *FakeClock) TimersCreated() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.created
}

// WaitForTimers blocks until at least n timers were armed in total.
func (c *FakeClock) WaitForTimers(t testing.TB, n int) {
	t.Helper()
	expired := false
	stop := time.AfterFunc(5*time.Second, func() {
		c.mu.Lock()
		expired = true
		c.changed.Broadcast()
		c.mu.Unlock()
	})
	defer stop.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	for c.created < n && !expired {
		c.changed.Wait()
	}
	if c.created < n {
		t.Fatalf("timed out waiting for %d timers, have %d", n, c.created)
	}
}
