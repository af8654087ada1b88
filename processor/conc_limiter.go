package processor

import (
	"runtime"
	"sync"
)

// ConcLimiter bounds the number of workers running at once and keeps
// the first error returned by a worker started with Go.
type ConcLimiter struct {
	*sync.WaitGroup
	Pool chan struct{}

	once     sync.Once
	firstErr error
}

func (c *ConcLimiter) Increase() {
	c.Add(1)
	c.Pool <- struct{}{}
}

func (c *ConcLimiter) Decrease() {
	select {
	case <-c.Pool:
		c.Done()
	default:
	}
}

// Go blocks until a slot is free, then runs fn in its own goroutine.
func (c *ConcLimiter) Go(fn func() error) {
	c.Increase()
	go func() {
		defer c.Decrease()
		if err := fn(); err != nil {
			c.once.Do(func() { c.firstErr = err })
		}
	}()
}

// Wait blocks until every worker is done and returns the first error.
func (c *ConcLimiter) Wait() error {
	c.WaitGroup.Wait()
	return c.firstErr
}

// NewConcLimiter returns a limiter of cLevel slots. A non-positive
// level falls back to the number of CPUs.
func NewConcLimiter(cLevel int) *ConcLimiter {
	if cLevel <= 0 {
		cLevel = runtime.NumCPU()
	}
	return &ConcLimiter{WaitGroup: &sync.WaitGroup{}, Pool: make(chan struct{}, cLevel)}
}
