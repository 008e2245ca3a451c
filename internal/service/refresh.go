package service

import (
	"context"
	"sync"
	"time"
)

// refreshRun tracks a single pipeline run that multiple callers may wait for.
type refreshRun struct {
	done   chan struct{}
	result RefreshResult
	err    error
}

// refreshGroup coalesces concurrent refresh requests into one pipeline run.
// The dataset has a single source, so unlike a per-key coalescer there is
// only ever one run in flight.
type refreshGroup struct {
	mu      sync.Mutex
	current *refreshRun
	timeout time.Duration
}

func newRefreshGroup(timeout time.Duration) *refreshGroup {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &refreshGroup{timeout: timeout}
}

// Do runs fn, or joins the run already in flight. Returns the run's result
// and whether this caller coalesced onto an existing run. The run executes
// on a detached context bounded by the group timeout, so a caller that
// gives up does not abort the run for the others.
func (g *refreshGroup) Do(ctx context.Context, fn func(context.Context) (RefreshResult, error)) (RefreshResult, bool, error) {
	g.mu.Lock()
	run := g.current
	coalesced := run != nil
	if run == nil {
		run = &refreshRun{done: make(chan struct{})}
		g.current = run
		go g.execute(run, fn)
	}
	g.mu.Unlock()

	select {
	case <-run.done:
		return run.result, coalesced, run.err
	case <-ctx.Done():
		return RefreshResult{}, coalesced, ctx.Err()
	}
}

func (g *refreshGroup) execute(run *refreshRun, fn func(context.Context) (RefreshResult, error)) {
	runCtx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()

	run.result, run.err = fn(runCtx)
	close(run.done)

	g.mu.Lock()
	g.current = nil
	g.mu.Unlock()
}
