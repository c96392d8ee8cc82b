package monitor

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Pool bounds all derived work across monitors: contract reads, cache and
// publish effects, child backfill tasks. Concurrency is capped by the group
// limit and throughput by a token bucket, so a burst of new tokens cannot
// stampede the RPC endpoint.
type Pool struct {
	g     *errgroup.Group
	limit *rate.Limiter
	log   *zap.Logger
}

// NewPool sizes the pool. concurrency <= 0 and perSec <= 0 fall back to the
// service defaults of 10 workers at 50 tasks/s.
func NewPool(concurrency int, perSec float64, log *zap.Logger) *Pool {
	if concurrency <= 0 {
		concurrency = 10
	}
	if perSec <= 0 {
		perSec = 50
	}
	burst := int(perSec)
	if burst < 1 {
		burst = 1
	}
	g := new(errgroup.Group)
	g.SetLimit(concurrency)
	return &Pool{g: g, limit: rate.NewLimiter(rate.Limit(perSec), burst), log: log.Named("pool")}
}

// Submit queues one task. It blocks while all workers are busy, which
// naturally slows a monitor producing effects faster than they drain.
// Failures are logged, not returned: effects are best-effort by contract.
func (p *Pool) Submit(ctx context.Context, name string, fn func(context.Context) error) {
	p.g.Go(func() error {
		if err := p.limit.Wait(ctx); err != nil {
			return nil
		}
		if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
			p.log.Warn("task failed", zap.String("task", name), zap.Error(err))
		}
		return nil
	})
}

// Drain blocks until every submitted task has finished. Called once during
// shutdown after the monitors have stopped producing.
func (p *Pool) Drain() { _ = p.g.Wait() }
