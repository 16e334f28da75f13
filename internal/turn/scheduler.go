package turn

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Scheduler decides when the post-reply memory work of a turn runs.
type Scheduler interface {
	// Schedule runs fn now or later. fn must not outlive Drain.
	Schedule(ctx context.Context, fn func(ctx context.Context))
	// Drain waits for scheduled work until ctx is done.
	Drain(ctx context.Context) error
}

// InlineScheduler runs memory work before the turn returns.
type InlineScheduler struct{}

func (InlineScheduler) Schedule(ctx context.Context, fn func(ctx context.Context)) { fn(ctx) }

func (InlineScheduler) Drain(context.Context) error { return nil }

// AsyncScheduler runs memory work in the background with bounded
// concurrency. Work is detached from the request context so a client
// disconnect does not abort it. Schedule blocks while all workers are busy.
type AsyncScheduler struct {
	mu      sync.RWMutex
	group   *errgroup.Group
	closing bool
}

func NewAsyncScheduler(workers int) *AsyncScheduler {
	if workers <= 0 {
		workers = 1
	}
	g := new(errgroup.Group)
	g.SetLimit(workers)
	return &AsyncScheduler{group: g}
}

func (s *AsyncScheduler) Schedule(ctx context.Context, fn func(ctx context.Context)) {
	detached := context.WithoutCancel(ctx)
	s.mu.RLock()
	if s.closing {
		s.mu.RUnlock()
		fn(detached)
		return
	}
	s.group.Go(func() error {
		fn(detached)
		return nil
	})
	s.mu.RUnlock()
}

// Drain stops accepting background work and waits for queued work. Work
// scheduled after Drain starts runs inline.
func (s *AsyncScheduler) Drain(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = s.group.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
