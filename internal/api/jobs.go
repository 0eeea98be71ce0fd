package api

import (
	"sync"
	"time"
)

// jobTracker counts firmware commands in flight so Close can wait for their
// process groups to be signalled before the service exits.
type jobTracker struct {
	mu      sync.Mutex
	wg      sync.WaitGroup
	closing bool
}

// begin registers a job. It reports false once shutdown has started.
func (t *jobTracker) begin() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closing {
		return false
	}
	t.wg.Add(1)
	return true
}

func (t *jobTracker) done() {
	t.wg.Done()
}

// drain refuses new jobs and waits up to timeout for running ones.
// It reports whether every job finished.
func (t *jobTracker) drain(timeout time.Duration) bool {
	t.mu.Lock()
	t.closing = true
	t.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return true
	case <-time.After(timeout):
		return false
	}
}
