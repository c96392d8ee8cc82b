// Package monitor drives log ingestion. A Runner owns one durable cursor and
// feeds confirmed block ranges to its Handler: catch-up walks from the cursor
// to the confirmed head in batches, then a live tail follows new heads by
// subscription when available and by polling always. Every range commits its
// derived writes and the cursor advance in one store transaction, which is
// what turns at-least-once log delivery into exactly-one-effect.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/pumpwatch/pumpwatch/internal/chain"
	"github.com/pumpwatch/pumpwatch/internal/metrics"
)

const (
	// backfillDefault is how far behind head a brand-new monitor starts when
	// neither a cursor nor a configured start block exists.
	backfillDefault = 1000

	// maxAddrsPerQuery caps the address list of one getLogs call; larger
	// watch sets are chunked and the results merged.
	maxAddrsPerQuery = 10
)

// State is the lifecycle position of a running monitor.
type State int32

const (
	StateStopped State = iota
	StateInit
	StateCatchingUp
	StateLive
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateCatchingUp:
		return "CATCHING_UP"
	case StateLive:
		return "LIVE"
	case StateReconnecting:
		return "RECONNECTING"
	}
	return "STOPPED"
}

// Source is the chain access a runner needs. *chain.Client satisfies it.
type Source interface {
	HeadBlock(ctx context.Context) (uint64, error)
	Logs(ctx context.Context, from, to uint64, addresses []common.Address, topics [][]common.Hash) ([]types.Log, error)
	SubscribeHeads(ctx context.Context) (<-chan uint64, <-chan error, error)
	SupportsStreaming() bool
}

// TimeSource resolves a block number to its timestamp. Handlers use it to
// stamp decoded events.
type TimeSource interface {
	BlockTime(ctx context.Context, number uint64) (int64, error)
}

// RangeStore is the durable side of a runner: cursor reads plus the atomic
// range commit. StoreBackend adapts *store.Store to it.
type RangeStore interface {
	GetCursor(ctx context.Context, name string) (uint64, bool, error)
	CommitRange(ctx context.Context, name string, to uint64, fn func(Mutator) error) error
}

// Handler is one monitor's domain logic. Filter is consulted before every
// range so dynamic watch sets (new pairs, new tokens) take effect on the
// next poll. HandleLogs and OnRange run inside the range transaction;
// anything they Defer on the batch runs after commit.
type Handler interface {
	Name() string
	Filter() (addresses []common.Address, topics [][]common.Hash)
	HandleLogs(ctx context.Context, b *Batch, logs []types.Log) error
	OnRange(ctx context.Context, b *Batch, from, to uint64) error
}

// Options tune one runner. Zero values take the service defaults.
type Options struct {
	StartBlock    uint64
	Confirmations uint64
	BatchSize     uint64
	RetryAttempts int
	RetryDelay    time.Duration
	PollInterval  time.Duration
}

func (o Options) withDefaults() Options {
	if o.Confirmations == 0 {
		o.Confirmations = 3
	}
	if o.BatchSize == 0 {
		o.BatchSize = 100
	}
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	return o
}

// Status is a point-in-time snapshot for the service status report.
type Status struct {
	Name               string `json:"name"`
	Running            bool   `json:"running"`
	State              string `json:"state"`
	LastProcessedBlock uint64 `json:"last_processed_block"`
}

// Runner executes one handler against the chain. Range processing is
// serialised; only effects fan out to the pool.
type Runner struct {
	h    Handler
	src  Source
	st   RangeStore
	pool *Pool
	opts Options
	met  *metrics.Metrics
	log  *zap.Logger

	running atomic.Bool
	state   atomic.Int32
	cursor  atomic.Uint64
}

func NewRunner(h Handler, src Source, st RangeStore, pool *Pool, opts Options, met *metrics.Metrics, log *zap.Logger) *Runner {
	return &Runner{
		h:    h,
		src:  src,
		st:   st,
		pool: pool,
		opts: opts.withDefaults(),
		met:  met,
		log:  log.Named(h.Name()),
	}
}

// Status reports the runner's current state without blocking it.
func (r *Runner) Status() Status {
	return Status{
		Name:               r.h.Name(),
		Running:            r.running.Load(),
		State:              State(r.state.Load()).String(),
		LastProcessedBlock: r.cursor.Load(),
	}
}

func (r *Runner) setState(s State) { r.state.Store(int32(s)) }

// Run drives the monitor until ctx is cancelled or a fatal error stops it.
// The cursor is durable, so a supervisor may simply call Run again.
func (r *Runner) Run(ctx context.Context) error {
	r.running.Store(true)
	r.setState(StateInit)
	r.met.MonitorRunning.WithLabelValues(r.h.Name()).Set(1)
	defer func() {
		r.running.Store(false)
		r.setState(StateStopped)
		r.met.MonitorRunning.WithLabelValues(r.h.Name()).Set(0)
	}()

	cursor, err := r.initCursor(ctx)
	if err != nil {
		return err
	}
	r.cursor.Store(cursor)
	r.log.Info("monitor starting", zap.Uint64("cursor", cursor))

	r.setState(StateCatchingUp)
	if err := r.catchUp(ctx); err != nil {
		return err
	}

	r.setState(StateLive)
	r.log.Info("monitor live", zap.Uint64("cursor", r.cursor.Load()))
	return r.live(ctx)
}

// initCursor resolves the resume point: durable cursor, else the configured
// start block, else a short backfill behind head.
func (r *Runner) initCursor(ctx context.Context) (uint64, error) {
	cur, ok, err := r.st.GetCursor(ctx, r.h.Name())
	if err != nil {
		return 0, fmt.Errorf("load cursor %s: %w", r.h.Name(), err)
	}
	if ok {
		return cur, nil
	}
	if r.opts.StartBlock > 0 {
		return r.opts.StartBlock - 1, nil
	}
	head, err := r.src.HeadBlock(ctx)
	if err != nil {
		return 0, fmt.Errorf("head block: %w", err)
	}
	if head > backfillDefault {
		return head - backfillDefault, nil
	}
	return 0, nil
}

func (r *Runner) catchUp(ctx context.Context) error {
	head, err := r.src.HeadBlock(ctx)
	if err != nil {
		return fmt.Errorf("head block: %w", err)
	}
	return r.advanceTo(ctx, confirmed(head, r.opts.Confirmations))
}

// advanceTo processes batch-sized windows until the cursor reaches target.
func (r *Runner) advanceTo(ctx context.Context, target uint64) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		cur := r.cursor.Load()
		if cur >= target {
			return nil
		}
		from := cur + 1
		to := from + r.opts.BatchSize - 1
		if to > target {
			to = target
		}
		if err := r.processRangeWithRetry(ctx, from, to); err != nil {
			return err
		}
	}
}

// live follows the chain tip. The poll ticker always runs: head
// notifications only accelerate it, and when the subscription degrades or
// dies the monitor keeps advancing on the ticker alone.
func (r *Runner) live(ctx context.Context) error {
	var heads <-chan uint64
	var serrs <-chan error
	if r.src.SupportsStreaming() {
		h, e, err := r.src.SubscribeHeads(ctx)
		if err != nil {
			r.log.Warn("head subscription unavailable, polling only", zap.Error(err))
		} else {
			heads, serrs = h, e
		}
	}

	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case head, ok := <-heads:
			if !ok {
				heads = nil
				continue
			}
			if err := r.tick(ctx, head); err != nil {
				return err
			}

		case err, ok := <-serrs:
			if !ok {
				serrs = nil
				continue
			}
			if chain.IsFatal(err) {
				r.log.Error("head subscription lost, polling only", zap.Error(err))
				continue
			}
			r.setState(StateReconnecting)
			r.log.Warn("head subscription interrupted", zap.Error(err))

		case <-ticker.C:
			head, err := r.src.HeadBlock(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				r.met.RPCErrors.WithLabelValues(chain.KindOf(err).String()).Inc()
				r.log.Warn("head poll failed", zap.Error(err))
				continue
			}
			if err := r.tick(ctx, head); err != nil {
				return err
			}
		}
	}
}

func (r *Runner) tick(ctx context.Context, head uint64) error {
	target := confirmed(head, r.opts.Confirmations)
	if target <= r.cursor.Load() {
		return nil
	}
	if err := r.advanceTo(ctx, target); err != nil {
		return err
	}
	r.setState(StateLive)
	return nil
}

// processRangeWithRetry retries transient failures with exponential backoff.
// After the attempt budget the block is surfaced with a structured error
// event and the monitor stops rather than advance past it.
func (r *Runner) processRangeWithRetry(ctx context.Context, from, to uint64) error {
	for attempt := 0; ; attempt++ {
		err := r.processRange(ctx, from, to)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if chain.IsFatal(err) {
			return err
		}
		if attempt+1 >= r.opts.RetryAttempts {
			r.log.Error("error",
				zap.String("type", "BLOCK_PROCESSING_FAILED"),
				zap.Uint64("block", from),
				zap.Int("attempts", attempt+1),
				zap.Error(err))
			return err
		}
		delay := r.opts.RetryDelay << uint(attempt)
		r.met.RangeRetries.WithLabelValues(r.h.Name()).Inc()
		r.log.Warn("range failed, retrying",
			zap.Uint64("from", from), zap.Uint64("to", to),
			zap.Int("attempt", attempt+1), zap.Duration("delay", delay),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// processRange fetches, dispatches and commits one window, then releases the
// deferred effects to the pool.
func (r *Runner) processRange(ctx context.Context, from, to uint64) error {
	start := time.Now()
	logs, err := r.fetchLogs(ctx, from, to)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			r.met.RPCErrors.WithLabelValues(chain.KindOf(err).String()).Inc()
		}
		return err
	}

	var fx []Effect
	err = r.st.CommitRange(ctx, r.h.Name(), to, func(tx Mutator) error {
		// A fresh batch per attempt: CommitRange may rerun fn once on a
		// serialization conflict and stale effects must not survive.
		b := NewBatch(tx)
		if err := r.h.HandleLogs(ctx, b, logs); err != nil {
			return err
		}
		if err := r.h.OnRange(ctx, b, from, to); err != nil {
			return err
		}
		fx = b.Effects()
		return nil
	})
	if err != nil {
		return fmt.Errorf("commit range [%d,%d]: %w", from, to, err)
	}

	r.cursor.Store(to)
	name := r.h.Name()
	r.met.MonitorLastBlock.WithLabelValues(name).Set(float64(to))
	r.met.RangesProcessed.WithLabelValues(name).Inc()
	r.met.LogsDecoded.WithLabelValues(name).Add(float64(len(logs)))
	r.met.RangeSeconds.WithLabelValues(name).Observe(time.Since(start).Seconds())

	for _, e := range fx {
		r.pool.Submit(ctx, e.Name, e.Fn)
	}
	if len(logs) > 0 {
		r.log.Debug("range committed",
			zap.Uint64("from", from), zap.Uint64("to", to), zap.Int("logs", len(logs)))
	}
	return nil
}

// fetchLogs queries the handler's current filter, chunking large address
// sets and merging the results back into chain order. An empty address set
// skips the query entirely: an unfiltered getLogs would match every contract
// on the chain, and the cursor should still advance past quiet ranges.
func (r *Runner) fetchLogs(ctx context.Context, from, to uint64) ([]types.Log, error) {
	addrs, topics := r.h.Filter()
	if len(addrs) == 0 {
		return nil, nil
	}
	if len(addrs) <= maxAddrsPerQuery {
		return r.rangeLogs(ctx, from, to, addrs, topics)
	}
	var merged []types.Log
	for _, group := range chunkAddresses(addrs, maxAddrsPerQuery) {
		logs, err := r.rangeLogs(ctx, from, to, group, topics)
		if err != nil {
			return nil, err
		}
		merged = append(merged, logs...)
	}
	sortLogs(merged)
	return merged, nil
}

// rangeLogs bisects on provider span limits. A single block that still
// overflows cannot be split further and is fatal.
func (r *Runner) rangeLogs(ctx context.Context, from, to uint64, addrs []common.Address, topics [][]common.Hash) ([]types.Log, error) {
	logs, err := r.src.Logs(ctx, from, to, addrs, topics)
	if err == nil {
		return logs, nil
	}
	if !chain.IsRangeTooLarge(err) {
		return nil, err
	}
	if from >= to {
		return nil, chain.WrapKind(chain.KindFatal,
			fmt.Errorf("block %d alone exceeds the provider log limit: %w", from, err))
	}
	mid := from + (to-from)/2
	r.log.Debug("bisecting log range",
		zap.Uint64("from", from), zap.Uint64("to", to), zap.Uint64("mid", mid))
	left, err := r.rangeLogs(ctx, from, mid, addrs, topics)
	if err != nil {
		return nil, err
	}
	right, err := r.rangeLogs(ctx, mid+1, to, addrs, topics)
	if err != nil {
		return nil, err
	}
	return append(left, right...), nil
}

// confirmed is the highest block safe to process at the given depth.
func confirmed(head, conf uint64) uint64 {
	if head < conf {
		return 0
	}
	return head - conf
}

func chunkAddresses(addrs []common.Address, size int) [][]common.Address {
	var out [][]common.Address
	for len(addrs) > size {
		out = append(out, addrs[:size])
		addrs = addrs[size:]
	}
	if len(addrs) > 0 {
		out = append(out, addrs)
	}
	return out
}

// sortLogs restores (block, log index) order after a chunked merge.
func sortLogs(logs []types.Log) {
	sort.Slice(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})
}
