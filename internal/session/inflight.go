package session

import (
	"context"
	"sync"
)

// inflight counts outstanding background work per session so finalization
// can wait for transcriptions that are still running.
type inflight struct {
	mu      sync.Mutex
	counts  map[string]int
	waiters map[string][]chan struct{}
	wg      sync.WaitGroup
}

func newInflight() *inflight {
	return &inflight{
		counts:  make(map[string]int),
		waiters: make(map[string][]chan struct{}),
	}
}

func (f *inflight) add(id string) {
	f.mu.Lock()
	f.counts[id]++
	f.wg.Add(1)
	f.mu.Unlock()
}

func (f *inflight) done(id string) {
	f.mu.Lock()
	f.counts[id]--
	if f.counts[id] <= 0 {
		delete(f.counts, id)
		for _, ch := range f.waiters[id] {
			close(ch)
		}
		delete(f.waiters, id)
	}
	f.mu.Unlock()
	f.wg.Done()
}

func (f *inflight) pending(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[id]
}

// wait blocks until id has no outstanding work or ctx ends. It reports
// whether the session drained.
func (f *inflight) wait(ctx context.Context, id string) bool {
	f.mu.Lock()
	if f.counts[id] == 0 {
		f.mu.Unlock()
		return true
	}
	ch := make(chan struct{})
	f.waiters[id] = append(f.waiters[id], ch)
	f.mu.Unlock()

	select {
	case <-ch:
		return true
	case <-ctx.Done():
		return false
	}
}

// waitAll blocks until every tracked task has finished or ctx ends.
func (f *inflight) waitAll(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
