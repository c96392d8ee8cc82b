package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/pumpwatch/pumpwatch/internal/chain"
	"github.com/pumpwatch/pumpwatch/internal/config"
	"github.com/pumpwatch/pumpwatch/internal/contracts"
	"github.com/pumpwatch/pumpwatch/internal/kv"
	"github.com/pumpwatch/pumpwatch/internal/metrics"
	"github.com/pumpwatch/pumpwatch/internal/model"
)

const (
	// transferFlushSize is how many queued transfers trigger a balance batch.
	transferFlushSize = 10

	// holderSetCacheSize bounds the in-memory holder sets; evicted tokens
	// rebuild from the store on next touch.
	holderSetCacheSize = 512

	holdersCacheTTL = 5 * time.Minute
)

// TransferStore is the handler's direct store access. Balance batches commit
// in their own short transactions rather than the range transaction, so a
// thousand-block historical window never inflates a single commit; the
// (tx_hash, log_index) uniqueness of transfers makes replays after a crash
// harmless.
type TransferStore interface {
	WithTx(ctx context.Context, fn func(Mutator) error) error
	GetCursor(ctx context.Context, name string) (uint64, bool, error)
	HolderAddresses(ctx context.Context, token string) ([]string, error)
	RecentTokens(ctx context.Context, limit int) ([]model.Token, error)
}

// CacheBus is the projection side: holder-count caches and update publishes.
type CacheBus interface {
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error
	Publish(ctx context.Context, channel string, v any)
}

// HolderUpdate is the payload published after a balance batch commits.
type HolderUpdate struct {
	Address   string `json:"address"`
	Holders   int    `json:"holders"`
	Timestamp int64  `json:"ts"`
}

// TransferHandler keeps per-holder balances for a dynamic set of tokens. It
// watches the ERC-20 Transfer topic plus the Ownable handover so a renounce
// on a watched token is caught without a separate monitor.
type TransferHandler struct {
	src    Source
	times  TimeSource
	st     TransferStore
	tokens TokenProcessor
	bus    CacheBus
	met    *metrics.Metrics
	log    *zap.Logger

	watch   mapset.Set[common.Address]
	holders *lru.Cache[string, mapset.Set[string]]
	queue   []model.TransferLogEvent

	histBlocks uint64
	histWindow uint64
	backfillCh chan common.Address
}

func NewTransferHandler(ctx context.Context, cfg config.WatchConfig, src Source, times TimeSource, st TransferStore, tokens TokenProcessor, bus CacheBus, met *metrics.Metrics, log *zap.Logger) (*TransferHandler, error) {
	sets, err := lru.New[string, mapset.Set[string]](holderSetCacheSize)
	if err != nil {
		return nil, err
	}
	h := &TransferHandler{
		src:        src,
		times:      times,
		st:         st,
		tokens:     tokens,
		bus:        bus,
		met:        met,
		log:        log.Named("transfer"),
		watch:      mapset.NewSet[common.Address](),
		holders:    sets,
		histBlocks: cfg.HistoricalBlocks,
		histWindow: cfg.HistoricalWindow,
		backfillCh: make(chan common.Address, 64),
	}
	if h.histWindow == 0 {
		h.histWindow = 1000
	}
	for _, t := range cfg.Tokens {
		h.watch.Add(common.HexToAddress(t))
	}
	recent, err := st.RecentTokens(ctx, cfg.BootstrapTop)
	if err != nil {
		return nil, fmt.Errorf("bootstrap transfer watch set: %w", err)
	}
	for _, tok := range recent {
		h.watch.Add(model.HexAddr(tok.Address))
	}
	h.log.Info("transfer watch set seeded", zap.Int("tokens", h.watch.Cardinality()))
	return h, nil
}

func (h *TransferHandler) Name() string { return "transfer" }

// Watch adds a token to the live filter and, when historical sync is
// configured, queues a back-fill of its past transfers. Safe from any
// goroutine; token processors call it after the token row commits.
func (h *TransferHandler) Watch(token common.Address) {
	if !h.watch.Add(token) {
		return
	}
	if h.histBlocks == 0 {
		return
	}
	select {
	case h.backfillCh <- token:
	default:
		h.log.Warn("backfill queue full, skipping historical sync",
			zap.String("token", model.Addr(token)))
	}
}

// Watched reports the current token set size.
func (h *TransferHandler) Watched() int { return h.watch.Cardinality() }

func (h *TransferHandler) Filter() ([]common.Address, [][]common.Hash) {
	return h.watch.ToSlice(), [][]common.Hash{contracts.TokenTopics()}
}

func (h *TransferHandler) HandleLogs(ctx context.Context, b *Batch, logs []types.Log) error {
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		ts, err := h.times.BlockTime(ctx, lg.BlockNumber)
		if err != nil {
			return err
		}
		ev, err := contracts.DecodeTokenLog(lg, ts)
		if err != nil {
			h.met.DecodeErrors.WithLabelValues(h.Name()).Inc()
			h.log.Warn("skipping undecodable token log",
				zap.Uint64("block", lg.BlockNumber), zap.Error(err))
			continue
		}
		switch e := ev.(type) {
		case model.TransferLogEvent:
			h.queue = append(h.queue, e)
			if len(h.queue) >= transferFlushSize {
				if err := h.flushQueue(ctx, b); err != nil {
					return err
				}
			}
		case model.OwnershipTransferredEvent:
			if e.New != model.ZeroAddress && e.New != contracts.DeadAddress {
				continue
			}
			if err := h.tokens.OnRenounced(ctx, b.Tx, b, e); err != nil {
				return err
			}
		}
	}
	return nil
}

// OnRange drains whatever the size trigger left queued. Running before the
// cursor commit, it guarantees every balance of the range is durable when
// the cursor moves past it.
func (h *TransferHandler) OnRange(ctx context.Context, b *Batch, _, _ uint64) error {
	return h.flushQueue(ctx, b)
}

func (h *TransferHandler) flushQueue(ctx context.Context, fx Sink) error {
	if len(h.queue) == 0 {
		return nil
	}
	batch := make([]model.TransferLogEvent, len(h.queue))
	copy(batch, h.queue)
	h.queue = h.queue[:0]

	counts, err := h.applyBatch(ctx, batch)
	if err != nil {
		return err
	}
	now := time.Now().Unix()
	for token, count := range counts {
		token, count := token, count
		fx.Defer("holders update "+token, func(ctx context.Context) error {
			return h.publishHolders(ctx, token, count, now)
		})
	}
	return nil
}

// applyBatch commits one balance batch and returns the holder count per
// touched token. Re-delivered events no-op on the transfer uniqueness key,
// which also skips their balance and set mutations.
func (h *TransferHandler) applyBatch(ctx context.Context, batch []model.TransferLogEvent) (map[string]int, error) {
	counts := make(map[string]int)
	touched := make(map[string]mapset.Set[string])

	err := h.st.WithTx(ctx, func(tx Mutator) error {
		for _, ev := range batch {
			token := model.Addr(ev.Address)
			set, err := h.holderSet(ctx, token)
			if err != nil {
				return err
			}
			inserted, err := tx.InsertTransfer(ctx, model.TransferEvent{
				TxHash:       ev.TxHash.Hex(),
				LogIndex:     ev.LogIndex,
				TokenAddress: token,
				From:         model.Addr(ev.From),
				To:           model.Addr(ev.To),
				Value:        model.BigString(ev.Value),
				BlockNumber:  ev.BlockNumber,
				Timestamp:    ev.Timestamp,
			})
			if err != nil {
				return err
			}
			if !inserted || ev.Value == nil || ev.Value.Sign() == 0 {
				continue
			}
			value := ev.Value.String()
			if ev.From != model.ZeroAddress {
				removed, err := tx.DebitHolder(ctx, token, model.Addr(ev.From), value)
				if err != nil {
					return err
				}
				if removed {
					set.Remove(model.Addr(ev.From))
				}
			}
			if ev.To != model.ZeroAddress {
				if err := tx.CreditHolder(ctx, token, model.Addr(ev.To), value); err != nil {
					return err
				}
				set.Add(model.Addr(ev.To))
			}
			touched[token] = set
		}
		for token, set := range touched {
			if err := tx.SetHoldersCount(ctx, token, set.Cardinality()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		// The sets may be ahead of the store now; drop them so the next
		// touch rebuilds from the committed rows.
		for token := range touched {
			h.holders.Remove(token)
		}
		return nil, fmt.Errorf("apply transfer batch: %w", err)
	}
	for token, set := range touched {
		counts[token] = set.Cardinality()
	}
	return counts, nil
}

// holderSet returns the cached holder set for a token, rebuilding it from
// the store after a restart or cache eviction.
func (h *TransferHandler) holderSet(ctx context.Context, token string) (mapset.Set[string], error) {
	if set, ok := h.holders.Get(token); ok {
		return set, nil
	}
	addrs, err := h.st.HolderAddresses(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("rebuild holder set %s: %w", token, err)
	}
	set := mapset.NewSet[string]()
	for _, a := range addrs {
		set.Add(a)
	}
	h.holders.Add(token, set)
	return set, nil
}

func (h *TransferHandler) publishHolders(ctx context.Context, token string, count int, ts int64) error {
	update := HolderUpdate{Address: token, Holders: count, Timestamp: ts}
	if err := h.bus.SetJSON(ctx, kv.KeyHolders(token), update, holdersCacheTTL); err != nil {
		return err
	}
	h.bus.Publish(ctx, kv.ChannelTokenUpdate, update)
	return nil
}

// RunBackfills drains the historical-sync queue one token at a time. A
// single consumer paces the extra getLogs load; the queue drops on overflow
// because back-fill is an optional enrichment, not a correctness need.
func (h *TransferHandler) RunBackfills(ctx context.Context) error {
	if h.histBlocks == 0 {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case token := <-h.backfillCh:
			if err := h.backfill(ctx, token); err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				h.log.Warn("historical sync failed",
					zap.String("token", model.Addr(token)), zap.Error(err))
			}
		}
	}
}

// backfill walks a token's past transfers in fixed windows, reusing the
// batch pipeline and its own durable cursor so an interrupted sync resumes
// where it stopped.
func (h *TransferHandler) backfill(ctx context.Context, token common.Address) error {
	head, err := h.src.HeadBlock(ctx)
	if err != nil {
		return err
	}
	var from uint64
	if head > h.histBlocks {
		from = head - h.histBlocks
	}
	cursorName := "transfer:" + model.Addr(token)
	if cur, ok, err := h.st.GetCursor(ctx, cursorName); err != nil {
		return err
	} else if ok && cur >= from {
		from = cur + 1
	}

	for from <= head {
		to := from + h.histWindow - 1
		if to > head {
			to = head
		}
		logs, err := h.src.Logs(ctx, from, to,
			[]common.Address{token}, [][]common.Hash{{contracts.TopicTransfer}})
		if err != nil {
			if chain.IsRangeTooLarge(err) && to > from {
				h.histWindow /= 2
				if h.histWindow == 0 {
					h.histWindow = 1
				}
				continue
			}
			return err
		}
		events := make([]model.TransferLogEvent, 0, len(logs))
		for _, lg := range logs {
			ts, err := h.times.BlockTime(ctx, lg.BlockNumber)
			if err != nil {
				return err
			}
			ev, err := contracts.DecodeTokenLog(lg, ts)
			if err != nil {
				h.met.DecodeErrors.WithLabelValues(h.Name()).Inc()
				continue
			}
			if tr, ok := ev.(model.TransferLogEvent); ok {
				events = append(events, tr)
			}
		}
		for start := 0; start < len(events); start += transferFlushSize {
			end := start + transferFlushSize
			if end > len(events) {
				end = len(events)
			}
			counts, err := h.applyBatch(ctx, events[start:end])
			if err != nil {
				return err
			}
			now := time.Now().Unix()
			for tok, count := range counts {
				if err := h.publishHolders(ctx, tok, count, now); err != nil {
					h.log.Warn("holder publish failed", zap.String("token", tok), zap.Error(err))
				}
			}
		}
		if err := h.st.WithTx(ctx, func(tx Mutator) error {
			return tx.SetCursor(ctx, cursorName, to)
		}); err != nil {
			return err
		}
		from = to + 1
	}
	h.log.Info("historical sync complete",
		zap.String("token", model.Addr(token)), zap.Uint64("head", head))
	return nil
}
