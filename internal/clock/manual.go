package clock

import (
	"sync"
	"time"
)

// Manual is a virtual Clock that only moves when Advance is called.
// Callbacks fire synchronously on the goroutine calling Advance, in due order.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	timers map[*manualTimer]struct{}
	seq    uint64
}

type manualTimer struct {
	clock  *Manual
	due    time.Time
	period time.Duration // 0 for one-shot
	seq    uint64
	tick   func(now time.Time)
	fire   func()
}

// NewManual creates a virtual clock starting at start
func NewManual(start time.Time) *Manual {
	return &Manual{
		now:    start,
		timers: make(map[*manualTimer]struct{}),
	}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Every(period time.Duration, fn func(now time.Time)) Timer {
	if period <= 0 {
		period = time.Millisecond
	}
	return m.arm(period, period, fn, nil)
}

func (m *Manual) AfterFunc(d time.Duration, fn func()) Timer {
	return m.arm(d, 0, nil, fn)
}

func (m *Manual) arm(d, period time.Duration, tick func(time.Time), fire func()) *manualTimer {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	t := &manualTimer{
		clock:  m,
		due:    m.now.Add(d),
		period: period,
		seq:    m.seq,
		tick:   tick,
		fire:   fire,
	}
	m.timers[t] = struct{}{}
	return t
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	if _, ok := t.clock.timers[t]; !ok {
		return false
	}
	delete(t.clock.timers, t)
	return true
}

// Advance moves the clock forward by d, firing every timer that falls due on the way
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()
		next := m.nextDueLocked(target)
		if next == nil {
			m.now = target
			m.mu.Unlock()
			return
		}

		m.now = next.due
		now := m.now
		if next.period > 0 {
			next.due = next.due.Add(next.period)
		} else {
			delete(m.timers, next)
		}
		m.mu.Unlock()

		if next.tick != nil {
			next.tick(now)
		} else if next.fire != nil {
			next.fire()
		}
	}
}

func (m *Manual) nextDueLocked(limit time.Time) *manualTimer {
	var next *manualTimer
	for t := range m.timers {
		if t.due.After(limit) {
			continue
		}
		if next == nil || t.due.Before(next.due) || (t.due.Equal(next.due) && t.seq < next.seq) {
			next = t
		}
	}
	return next
}

// Armed returns the number of timers that are still scheduled
func (m *Manual) Armed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}
