package clock

import (
	"sync"
	"time"
)

// Clock is the single monotonic time source shared by the render and detection loops.
// Production code uses Real(); tests drive a Manual clock.
type Clock interface {
	// Now returns the current time
	Now() time.Time

	// Every calls fn once per period until the returned Timer is stopped
	Every(period time.Duration, fn func(now time.Time)) Timer

	// AfterFunc calls fn once after d unless the returned Timer is stopped first
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is an armed periodic or one-shot callback
type Timer interface {
	// Stop disarms the timer. Returns false if it was already stopped or had fired.
	Stop() bool
}

type realClock struct{}

// Real returns a Clock backed by the runtime's monotonic clock
func Real() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) Every(period time.Duration, fn func(now time.Time)) Timer {
	t := &realTicker{
		ticker: time.NewTicker(period),
		done:   make(chan struct{}),
	}
	go t.run(fn)
	return t
}

func (realClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

type realTicker struct {
	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

func (t *realTicker) run(fn func(now time.Time)) {
	for {
		select {
		case <-t.done:
			return
		case now := <-t.ticker.C:
			// Stop may race with a buffered tick
			select {
			case <-t.done:
				return
			default:
			}
			fn(now)
		}
	}
}

func (t *realTicker) Stop() bool {
	stopped := false
	t.once.Do(func() {
		t.ticker.Stop()
		close(t.done)
		stopped = true
	})
	return stopped
}
