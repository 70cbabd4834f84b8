package scheduler

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/ohmynofan/luckywheel-bot/internal/platform/metrics"
)

// Pool is the system-wide bounded set of job slots. A job holds its slot
// from start to outcome.
type Pool struct {
	sem     *semaphore.Weighted
	width   int
	active  atomic.Int64
	queued  atomic.Int64
	metrics *metrics.Metrics
}

func NewPool(width int, m *metrics.Metrics) *Pool {
	if width < 1 {
		width = 1
	}
	m.SetPoolWidth(width)
	return &Pool{sem: semaphore.NewWeighted(int64(width)), width: width, metrics: m}
}

func (p *Pool) Width() int  { return p.width }
func (p *Pool) Active() int { return int(p.active.Load()) }
func (p *Pool) Queued() int { return int(p.queued.Load()) }

// Do waits for a slot and runs fn while holding it. It only fails when ctx
// ends before a slot frees up, in which case fn never runs.
func (p *Pool) Do(ctx context.Context, fn func()) error {
	p.queued.Add(1)
	p.metrics.JobQueued()
	if err := p.sem.Acquire(ctx, 1); err != nil {
		p.queued.Add(-1)
		p.metrics.JobAbandoned()
		return err
	}
	p.queued.Add(-1)
	p.active.Add(1)
	p.metrics.JobStarted()

	defer func() {
		p.active.Add(-1)
		p.metrics.JobReleased()
		p.sem.Release(1)
	}()
	fn()
	return nil
}
