package worker

import (
	"context"
	"sync"
)

// jobTracker keeps running jobs so shutdown can cancel and wait for them.
type jobTracker struct {
	mu   sync.Mutex
	jobs map[string]*trackedJob
	wg   sync.WaitGroup
}

type trackedJob struct {
	cancel func()
	once   sync.Once
}

func newJobTracker() *jobTracker {
	return &jobTracker{jobs: make(map[string]*trackedJob)}
}

func (t *jobTracker) Register(jobID string, cancel func()) (unregister func()) {
	entry := &trackedJob{cancel: cancel}

	t.mu.Lock()
	old := t.jobs[jobID]
	t.jobs[jobID] = entry
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		t.unregister(jobID, old)
	}
	return func() { t.unregister(jobID, entry) }
}

func (t *jobTracker) unregister(jobID string, entry *trackedJob) {
	entry.once.Do(func() {
		t.mu.Lock()
		if t.jobs[jobID] == entry {
			delete(t.jobs, jobID)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

func (t *jobTracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.jobs)
}

func (t *jobTracker) CancelAll() (canceled int) {
	var cancels []func()
	t.mu.Lock()
	for _, entry := range t.jobs {
		if entry.cancel != nil {
			cancels = append(cancels, entry.cancel)
		}
	}
	t.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every registered job unregisters or ctx ends. It
// reports whether all jobs finished.
func (t *jobTracker) Wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
