package monitor

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pumpwatch/pumpwatch/internal/config"
	"github.com/pumpwatch/pumpwatch/internal/contracts"
	"github.com/pumpwatch/pumpwatch/internal/kv"
	"github.com/pumpwatch/pumpwatch/internal/metrics"
	"github.com/pumpwatch/pumpwatch/internal/model"
)

var (
	holderA = common.HexToAddress("0xA000000000000000000000000000000000000001")
	holderB = common.HexToAddress("0xA000000000000000000000000000000000000002")
	holderC = common.HexToAddress("0xA000000000000000000000000000000000000003")
)

type transferFixture struct {
	h     *TransferHandler
	src   *fakeSource
	mut   *fakeMutator
	st    *fakeTransferStore
	procs *fakeProcessors
	bus   *fakeBus
}

func newTransferFixture(t *testing.T, cfg config.WatchConfig) *transferFixture {
	t.Helper()
	f := &transferFixture{
		src:   newFakeSource(1000),
		mut:   newFakeMutator(),
		procs: &fakeProcessors{},
		bus:   newFakeBus(),
	}
	f.st = newFakeTransferStore(f.mut)
	h, err := NewTransferHandler(context.Background(), cfg, f.src, fakeTimes{}, f.st, f.procs, f.bus, metrics.New(), zap.NewNop())
	require.NoError(t, err)
	f.h = h
	return f
}

func transferLog(t *testing.T, token, from, to common.Address, value int64, block uint64, idx uint) types.Log {
	t.Helper()
	return types.Log{
		Address:     token,
		BlockNumber: block,
		Index:       idx,
		TxHash:      common.HexToHash(fmt.Sprintf("0x%064x", block*1000+uint64(idx))),
		Topics:      []common.Hash{contracts.TopicTransfer, addressTopic(from), addressTopic(to)},
		Data:        packEvent(t, contracts.ERC20ABI, "Transfer", big.NewInt(value)),
	}
}

func runEffects(t *testing.T, b *Batch) {
	t.Helper()
	for _, e := range b.Effects() {
		require.NoError(t, e.Fn(context.Background()))
	}
}

func TestTransferSeedsWatchSet(t *testing.T) {
	seeded := "0x9999999999999999999999999999999999999999"
	f := &transferFixture{src: newFakeSource(1000), mut: newFakeMutator(), procs: &fakeProcessors{}, bus: newFakeBus()}
	f.st = newFakeTransferStore(f.mut)
	f.st.recent = []model.Token{{Address: model.Addr(tokenAddr)}}

	h, err := NewTransferHandler(context.Background(), config.WatchConfig{
		Tokens:       []string{seeded},
		BootstrapTop: 10,
	}, f.src, fakeTimes{}, f.st, f.procs, f.bus, metrics.New(), zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, 2, h.Watched())
	addrs, topics := h.Filter()
	assert.Contains(t, addrs, common.HexToAddress(seeded))
	assert.Contains(t, addrs, tokenAddr)
	require.Len(t, topics, 1)
	assert.Equal(t, contracts.TokenTopics(), topics[0])
}

func TestTransferFlushOnRangeBarrier(t *testing.T) {
	f := newTransferFixture(t, config.WatchConfig{})
	f.h.Watch(tokenAddr)
	token := model.Addr(tokenAddr)

	logs := []types.Log{
		transferLog(t, tokenAddr, model.ZeroAddress, holderA, 100, 10, 0),
		transferLog(t, tokenAddr, holderA, holderB, 40, 10, 1),
	}
	b := NewBatch(f.mut)
	require.NoError(t, f.h.HandleLogs(context.Background(), b, logs))
	// Below the size trigger: nothing persisted until the range barrier.
	assert.Equal(t, 0, f.st.transactions())

	require.NoError(t, f.h.OnRange(context.Background(), b, 10, 10))
	assert.Equal(t, 1, f.st.transactions())
	assert.Equal(t, int64(60), f.mut.balance(token, model.Addr(holderA)).Int64())
	assert.Equal(t, int64(40), f.mut.balance(token, model.Addr(holderB)).Int64())
	assert.Equal(t, 2, f.mut.holders[token])

	require.Len(t, b.Effects(), 1)
	runEffects(t, b)
	update, ok := f.bus.kvs[kv.KeyHolders(token)].(HolderUpdate)
	require.True(t, ok)
	assert.Equal(t, 2, update.Holders)
	assert.Len(t, f.bus.publishedOn(kv.ChannelTokenUpdate), 1)
}

func TestTransferFlushAtQueueSize(t *testing.T) {
	f := newTransferFixture(t, config.WatchConfig{})
	f.h.Watch(tokenAddr)
	token := model.Addr(tokenAddr)

	logs := make([]types.Log, transferFlushSize)
	for i := range logs {
		to := common.BigToAddress(big.NewInt(int64(i + 1)))
		logs[i] = transferLog(t, tokenAddr, model.ZeroAddress, to, 10, 20, uint(i))
	}
	b := NewBatch(f.mut)
	require.NoError(t, f.h.HandleLogs(context.Background(), b, logs))

	// The size trigger flushed inside HandleLogs, before the barrier.
	assert.Equal(t, 1, f.st.transactions())
	assert.Equal(t, transferFlushSize, f.mut.holders[token])

	require.NoError(t, f.h.OnRange(context.Background(), b, 20, 20))
	assert.Equal(t, 1, f.st.transactions()) // queue was already empty
}

func TestTransferRedeliveryIsIdempotent(t *testing.T) {
	f := newTransferFixture(t, config.WatchConfig{})
	f.h.Watch(tokenAddr)
	token := model.Addr(tokenAddr)
	lg := transferLog(t, tokenAddr, model.ZeroAddress, holderA, 100, 30, 0)

	b1 := NewBatch(f.mut)
	require.NoError(t, f.h.HandleLogs(context.Background(), b1, []types.Log{lg}))
	require.NoError(t, f.h.OnRange(context.Background(), b1, 30, 30))
	assert.Equal(t, int64(100), f.mut.balance(token, model.Addr(holderA)).Int64())

	// Crash-replay of the same range: the unique key swallows the event and
	// no balance or holder math reruns.
	b2 := NewBatch(f.mut)
	require.NoError(t, f.h.HandleLogs(context.Background(), b2, []types.Log{lg}))
	require.NoError(t, f.h.OnRange(context.Background(), b2, 30, 30))
	assert.Equal(t, int64(100), f.mut.balance(token, model.Addr(holderA)).Int64())
	assert.Equal(t, 1, f.mut.holders[token])
	assert.Empty(t, b2.Effects())
}

func TestTransferZeroValueSkipsBalances(t *testing.T) {
	f := newTransferFixture(t, config.WatchConfig{})
	f.h.Watch(tokenAddr)
	token := model.Addr(tokenAddr)

	b := NewBatch(f.mut)
	lg := transferLog(t, tokenAddr, holderA, holderB, 0, 40, 0)
	require.NoError(t, f.h.HandleLogs(context.Background(), b, []types.Log{lg}))
	require.NoError(t, f.h.OnRange(context.Background(), b, 40, 40))

	// The transfer row lands, but no zero-balance holder rows appear.
	assert.Equal(t, int64(0), f.mut.balance(token, model.Addr(holderB)).Int64())
	_, counted := f.mut.holders[token]
	assert.False(t, counted)
	assert.Empty(t, b.Effects())
}

func TestTransferBurnRemovesHolder(t *testing.T) {
	f := newTransferFixture(t, config.WatchConfig{})
	f.h.Watch(tokenAddr)
	token := model.Addr(tokenAddr)

	logs := []types.Log{
		transferLog(t, tokenAddr, model.ZeroAddress, holderA, 100, 50, 0),
		transferLog(t, tokenAddr, holderA, holderB, 40, 50, 1),
		transferLog(t, tokenAddr, holderB, model.ZeroAddress, 40, 50, 2),
	}
	b := NewBatch(f.mut)
	require.NoError(t, f.h.HandleLogs(context.Background(), b, logs))
	require.NoError(t, f.h.OnRange(context.Background(), b, 50, 50))

	assert.Equal(t, int64(60), f.mut.balance(token, model.Addr(holderA)).Int64())
	assert.Equal(t, int64(0), f.mut.balance(token, model.Addr(holderB)).Int64())
	// B came and went inside one batch; only A remains a holder.
	assert.Equal(t, 1, f.mut.holders[token])
}

func TestTransferHolderSetRebuildsFromStore(t *testing.T) {
	f := newTransferFixture(t, config.WatchConfig{})
	f.h.Watch(tokenAddr)
	token := model.Addr(tokenAddr)

	// Rows committed by an earlier run; the in-memory set starts cold.
	ctx := context.Background()
	require.NoError(t, f.mut.CreditHolder(ctx, token, model.Addr(holderA), "50"))
	require.NoError(t, f.mut.CreditHolder(ctx, token, model.Addr(holderB), "30"))

	b := NewBatch(f.mut)
	lg := transferLog(t, tokenAddr, model.ZeroAddress, holderC, 10, 60, 0)
	require.NoError(t, f.h.HandleLogs(context.Background(), b, []types.Log{lg}))
	require.NoError(t, f.h.OnRange(context.Background(), b, 60, 60))

	assert.Equal(t, 3, f.mut.holders[token])
}

func TestTransferFailedFlushDropsCachedSets(t *testing.T) {
	f := newTransferFixture(t, config.WatchConfig{})
	f.h.Watch(tokenAddr)
	token := model.Addr(tokenAddr)

	b1 := NewBatch(f.mut)
	lg := transferLog(t, tokenAddr, model.ZeroAddress, holderA, 100, 70, 0)
	require.NoError(t, f.h.HandleLogs(context.Background(), b1, []types.Log{lg}))
	require.NoError(t, f.h.OnRange(context.Background(), b1, 70, 70))
	require.True(t, f.h.holders.Contains(token))

	// Second event of the next batch fails mid-transaction.
	f.mut.failOnInsert = 3
	logs := []types.Log{
		transferLog(t, tokenAddr, model.ZeroAddress, holderB, 10, 71, 0),
		transferLog(t, tokenAddr, model.ZeroAddress, holderC, 10, 71, 1),
	}
	b2 := NewBatch(f.mut)
	require.NoError(t, f.h.HandleLogs(context.Background(), b2, logs))
	err := f.h.OnRange(context.Background(), b2, 71, 71)
	require.Error(t, err)

	// The set may be ahead of the store; it must rebuild on next touch.
	assert.False(t, f.h.holders.Contains(token))
}

func TestTransferRenounceDispatch(t *testing.T) {
	f := newTransferFixture(t, config.WatchConfig{})
	f.h.Watch(tokenAddr)

	ownerTopic := addressTopic(creatorAddr)
	logs := []types.Log{
		{
			Address:     tokenAddr,
			BlockNumber: 80,
			Topics:      []common.Hash{contracts.TopicOwnershipTransfer, ownerTopic, addressTopic(common.Address{})},
		},
		{
			Address:     tokenAddr,
			BlockNumber: 81,
			Topics:      []common.Hash{contracts.TopicOwnershipTransfer, ownerTopic, addressTopic(contracts.DeadAddress)},
		},
		{
			// Handover to a live owner is not a renounce.
			Address:     tokenAddr,
			BlockNumber: 82,
			Topics:      []common.Hash{contracts.TopicOwnershipTransfer, ownerTopic, addressTopic(holderA)},
		},
	}
	b := NewBatch(f.mut)
	require.NoError(t, f.h.HandleLogs(context.Background(), b, logs))

	calls := f.procs.all()
	require.Len(t, calls, 2)
	for _, c := range calls {
		assert.Equal(t, "OnRenounced", c.Method)
	}
	first := calls[0].Event.(model.OwnershipTransferredEvent)
	assert.Equal(t, creatorAddr, first.Previous)
	assert.Equal(t, model.ZeroAddress, first.New)
	second := calls[1].Event.(model.OwnershipTransferredEvent)
	assert.Equal(t, contracts.DeadAddress, second.New)
}

func TestWatchQueuesBackfillOnce(t *testing.T) {
	f := newTransferFixture(t, config.WatchConfig{HistoricalBlocks: 100})

	f.h.Watch(tokenAddr)
	f.h.Watch(tokenAddr) // already watched, no second queue entry
	assert.Equal(t, 1, len(f.h.backfillCh))
	assert.Equal(t, 1, f.h.Watched())

	f.h.Watch(holderA)
	assert.Equal(t, 2, len(f.h.backfillCh))
}

func TestWatchSkipsBackfillWhenDisabled(t *testing.T) {
	f := newTransferFixture(t, config.WatchConfig{})
	f.h.Watch(tokenAddr)
	assert.Equal(t, 0, len(f.h.backfillCh))
	assert.Equal(t, 1, f.h.Watched())
}

func TestBackfillWalksWindows(t *testing.T) {
	f := newTransferFixture(t, config.WatchConfig{
		HistoricalBlocks: 100,
		HistoricalWindow: 50,
	})
	token := model.Addr(tokenAddr)
	f.src.setHead(1000)
	f.src.logs = []types.Log{
		transferLog(t, tokenAddr, model.ZeroAddress, holderA, 100, 905, 0),
		transferLog(t, tokenAddr, model.ZeroAddress, holderB, 200, 950, 0),
	}

	require.NoError(t, f.h.backfill(context.Background(), tokenAddr))

	assert.Equal(t, []span{{900, 949}, {950, 999}, {1000, 1000}}, f.src.spans())
	assert.Equal(t, int64(100), f.mut.balance(token, model.Addr(holderA)).Int64())
	assert.Equal(t, int64(200), f.mut.balance(token, model.Addr(holderB)).Int64())
	assert.Equal(t, 2, f.mut.holders[token])

	cur, ok, err := f.mut.GetCursor(context.Background(), "transfer:"+token)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(1000), cur)

	update, ok := f.bus.kvs[kv.KeyHolders(token)].(HolderUpdate)
	require.True(t, ok)
	assert.Equal(t, 2, update.Holders)
}

func TestBackfillResumesFromCursor(t *testing.T) {
	f := newTransferFixture(t, config.WatchConfig{
		HistoricalBlocks: 100,
		HistoricalWindow: 50,
	})
	token := model.Addr(tokenAddr)
	f.src.setHead(1000)
	require.NoError(t, f.mut.SetCursor(context.Background(), "transfer:"+token, 950))

	require.NoError(t, f.h.backfill(context.Background(), tokenAddr))
	assert.Equal(t, []span{{951, 1000}}, f.src.spans())
}

func TestBackfillHalvesWindowOnProviderLimit(t *testing.T) {
	f := newTransferFixture(t, config.WatchConfig{
		HistoricalBlocks: 3,
		HistoricalWindow: 4,
	})
	f.src.setHead(10)
	f.src.maxSpan = 1

	require.NoError(t, f.h.backfill(context.Background(), tokenAddr))

	assert.Equal(t, []span{{7, 10}, {7, 8}, {7, 7}, {8, 8}, {9, 9}, {10, 10}}, f.src.spans())
	assert.Equal(t, uint64(1), f.h.histWindow)

	cur, ok, err := f.mut.GetCursor(context.Background(), "transfer:"+model.Addr(tokenAddr))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(10), cur)
}
