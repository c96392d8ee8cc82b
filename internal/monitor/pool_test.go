package monitor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestPoolBoundsConcurrency(t *testing.T) {
	p := NewPool(2, 10_000, zap.NewNop())
	var active, peak atomic.Int32

	for i := 0; i < 8; i++ {
		p.Submit(context.Background(), "probe", func(context.Context) error {
			cur := active.Add(1)
			for {
				old := peak.Load()
				if cur <= old || peak.CompareAndSwap(old, cur) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			active.Add(-1)
			return nil
		})
	}
	p.Drain()
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestPoolSurvivesTaskFailure(t *testing.T) {
	p := NewPool(2, 10_000, zap.NewNop())
	var ran atomic.Int32

	p.Submit(context.Background(), "failing", func(context.Context) error {
		return errors.New("boom")
	})
	p.Submit(context.Background(), "after", func(context.Context) error {
		ran.Add(1)
		return nil
	})
	p.Drain()
	assert.Equal(t, int32(1), ran.Load())
}

func TestPoolSkipsWorkAfterCancel(t *testing.T) {
	p := NewPool(2, 10_000, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran atomic.Int32
	p.Submit(ctx, "late", func(context.Context) error {
		ran.Add(1)
		return nil
	})
	p.Drain()
	assert.Equal(t, int32(0), ran.Load())
}
