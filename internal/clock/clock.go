package clock

import (
	"sync"
	"time"
)

// Clock calls fn every interval until stopped. Each tick runs fn on its own
// goroutine, so a slow callback never delays or swallows the next tick.
type Clock struct {
	interval time.Duration
	fn       func(time.Time)

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func New(interval time.Duration, fn func(time.Time)) *Clock {
	if interval <= 0 {
		interval = time.Second
	}
	return &Clock{interval: interval, fn: fn}
}

// Start begins ticking. It is a no-op if the clock is already running.
func (c *Clock) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		return
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.run(c.stop, c.done)
}

// Stop cancels the timer and waits for the ticking goroutine to exit.
// Callbacks already started keep running. Safe to call when stopped.
func (c *Clock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop == nil {
		return
	}
	close(c.stop)
	<-c.done
	c.stop, c.done = nil, nil
}

func (c *Clock) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stop != nil
}

func (c *Clock) Interval() time.Duration { return c.interval }

func (c *Clock) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case t := <-ticker.C:
			go c.fn(t)
		}
	}
}
