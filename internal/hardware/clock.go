package hardware

import (
	"sort"
	"sync"
	"time"
)

// SystemClock schedules callbacks on the Go runtime timers.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

func (SystemClock) Every(d time.Duration, f func()) Timer {
	t := &periodic{ticker: time.NewTicker(d), done: make(chan struct{})}
	go t.run(f)
	return t
}

type periodic struct {
	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

func (p *periodic) run(f func()) {
	for {
		select {
		case <-p.done:
			return
		case <-p.ticker.C:
			select {
			case <-p.done:
				return
			default:
			}
			f()
		}
	}
}

// Stop does not wait for a running callback to return, so it is safe to
// call from within one.
func (p *periodic) Stop() bool {
	stopped := false
	p.once.Do(func() {
		p.ticker.Stop()
		close(p.done)
		stopped = true
	})
	return stopped
}

// ManualClock is a Scheduler whose time only moves when Advance is called.
// Callbacks run synchronously on the caller of Advance.
type ManualClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*manualTimer
}

type manualTimer struct {
	clock  *ManualClock
	seq    int
	when   time.Time
	period time.Duration
	f      func()
	active bool
}

func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) AfterFunc(d time.Duration, f func()) Timer {
	return c.add(d, 0, f)
}

func (c *ManualClock) Every(d time.Duration, f func()) Timer {
	return c.add(d, d, f)
}

func (c *ManualClock) add(d, period time.Duration, f func()) *manualTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &manualTimer{clock: c, seq: c.seq, when: c.now.Add(d), period: period, f: f, active: true}
	c.timers = append(c.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := t.active
	t.active = false
	return was
}

// Advance moves time forward by d, firing due timers in deadline order.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		next := c.nextDueLocked(target)
		if next == nil {
			break
		}
		c.now = next.when
		if next.period > 0 {
			next.when = next.when.Add(next.period)
		} else {
			next.active = false
		}
		c.mu.Unlock()
		next.f()
		c.mu.Lock()
	}
	c.now = target
	c.pruneLocked()
	c.mu.Unlock()
}

func (c *ManualClock) nextDueLocked(limit time.Time) *manualTimer {
	var due []*manualTimer
	for _, t := range c.timers {
		if t.active && !t.when.After(limit) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].when.Equal(due[j].when) {
			return due[i].seq < due[j].seq
		}
		return due[i].when.Before(due[j].when)
	})
	return due[0]
}

func (c *ManualClock) pruneLocked() {
	kept := c.timers[:0]
	for _, t := range c.timers {
		if t.active {
			kept = append(kept, t)
		}
	}
	c.timers = kept
}

// Pending returns the number of one-shot timers still armed.
func (c *ManualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if t.active && t.period == 0 {
			n++
		}
	}
	return n
}
