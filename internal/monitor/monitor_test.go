package monitor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/pumpwatch/pumpwatch/internal/chain"
	"github.com/pumpwatch/pumpwatch/internal/model"
)

func addressTopic(a common.Address) common.Hash {
	return common.BytesToHash(common.LeftPadBytes(a.Bytes(), 32))
}

func packEvent(t *testing.T, contract abi.ABI, event string, vals ...any) []byte {
	t.Helper()
	data, err := contract.Events[event].Inputs.NonIndexed().Pack(vals...)
	require.NoError(t, err)
	return data
}

// Shared fakes for the monitor tests. The mutator keeps a real in-memory
// ledger so balance and dedupe behavior mirrors the store.

type span struct{ From, To uint64 }

type fakeSource struct {
	mu      sync.Mutex
	head    uint64
	headErr error
	logs    []types.Log
	calls   []span
	// maxSpan > 0 makes wider requests fail with KindRangeTooLarge.
	maxSpan uint64
	// failures are popped one per Logs call before anything else.
	failures []error

	streaming bool
	heads     chan uint64
	errs      chan error
}

func newFakeSource(head uint64) *fakeSource {
	return &fakeSource{head: head}
}

func (s *fakeSource) setHead(h uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.head = h
}

func (s *fakeSource) HeadBlock(context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.headErr != nil {
		return 0, s.headErr
	}
	return s.head, nil
}

func (s *fakeSource) Logs(_ context.Context, from, to uint64, addrs []common.Address, _ [][]common.Hash) ([]types.Log, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, span{from, to})
	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		if err != nil {
			return nil, err
		}
	}
	if s.maxSpan > 0 && to-from+1 > s.maxSpan {
		return nil, chain.WrapKind(chain.KindRangeTooLarge, errors.New("query returned more than 10000 results"))
	}
	want := make(map[common.Address]bool, len(addrs))
	for _, a := range addrs {
		want[a] = true
	}
	var out []types.Log
	for _, lg := range s.logs {
		if lg.BlockNumber < from || lg.BlockNumber > to {
			continue
		}
		if len(want) > 0 && !want[lg.Address] {
			continue
		}
		out = append(out, lg)
	}
	return out, nil
}

func (s *fakeSource) SupportsStreaming() bool { return s.streaming }

func (s *fakeSource) SubscribeHeads(context.Context) (<-chan uint64, <-chan error, error) {
	if !s.streaming {
		return nil, nil, chain.WrapKind(chain.KindFatal, errors.New("no streaming endpoint configured"))
	}
	return s.heads, s.errs, nil
}

func (s *fakeSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *fakeSource) spans() []span {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]span(nil), s.calls...)
}

type fakeTimes struct{}

func (fakeTimes) BlockTime(_ context.Context, number uint64) (int64, error) {
	return int64(number) * 10, nil
}

// fakeRangeStore satisfies RangeStore with an in-memory cursor table.
type fakeRangeStore struct {
	mu      sync.Mutex
	cursors map[string]uint64
	mut     Mutator
	commits []span
	// failCommits makes the next N commits fail before running fn.
	failCommits int
}

func newFakeRangeStore(mut Mutator) *fakeRangeStore {
	return &fakeRangeStore{cursors: make(map[string]uint64), mut: mut}
}

func (f *fakeRangeStore) GetCursor(_ context.Context, name string) (uint64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.cursors[name]
	return cur, ok, nil
}

func (f *fakeRangeStore) CommitRange(_ context.Context, name string, to uint64, fn func(Mutator) error) error {
	f.mu.Lock()
	if f.failCommits > 0 {
		f.failCommits--
		f.mu.Unlock()
		return errors.New("store hiccup")
	}
	f.mu.Unlock()
	if err := fn(f.mut); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	from := f.cursors[name] + 1
	f.cursors[name] = to
	f.commits = append(f.commits, span{from, to})
	return nil
}

func (f *fakeRangeStore) cursor(name string) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cursors[name]
}

// recordingHandler captures what the runner feeds it.
type recordingHandler struct {
	name   string
	addrs  []common.Address
	topics [][]common.Hash

	mu     sync.Mutex
	ranges []span
	logs   []types.Log
	onLogs func(b *Batch, logs []types.Log) error
}

func (h *recordingHandler) Name() string { return h.name }

func (h *recordingHandler) Filter() ([]common.Address, [][]common.Hash) {
	return h.addrs, h.topics
}

func (h *recordingHandler) HandleLogs(_ context.Context, b *Batch, logs []types.Log) error {
	h.mu.Lock()
	h.logs = append(h.logs, logs...)
	h.mu.Unlock()
	if h.onLogs != nil {
		return h.onLogs(b, logs)
	}
	return nil
}

func (h *recordingHandler) OnRange(_ context.Context, _ *Batch, from, to uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ranges = append(h.ranges, span{from, to})
	return nil
}

func (h *recordingHandler) seenRanges() []span {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]span(nil), h.ranges...)
}

func (h *recordingHandler) seenLogs() []types.Log {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]types.Log(nil), h.logs...)
}

// fakeMutator is an in-memory store transaction. Balances behave like the
// real schema: clamped at zero, zero rows removed, transfers deduplicated on
// (tx_hash, log_index).
type fakeMutator struct {
	mu sync.Mutex

	cursors   map[string]uint64
	tokens    map[string]model.Token
	pairs     map[string]model.Pair
	balances  map[string]map[string]*big.Int
	transfers map[string]bool
	trades    []model.Trade
	liq       []model.LiquidityEvent
	holders   map[string]int
	stakes    map[string]*big.Int
	tiers     map[string]uint8
	launched  map[string]string
	renounced map[string]bool
	reserves  map[string][2]string

	// failOnInsert makes the n-th InsertTransfer call fail, 1-based.
	failOnInsert int
	insertCalls  int
}

func newFakeMutator() *fakeMutator {
	return &fakeMutator{
		cursors:   make(map[string]uint64),
		tokens:    make(map[string]model.Token),
		pairs:     make(map[string]model.Pair),
		balances:  make(map[string]map[string]*big.Int),
		transfers: make(map[string]bool),
		holders:   make(map[string]int),
		stakes:    make(map[string]*big.Int),
		tiers:     make(map[string]uint8),
		launched:  make(map[string]string),
		renounced: make(map[string]bool),
		reserves:  make(map[string][2]string),
	}
}

func (m *fakeMutator) GetCursor(_ context.Context, name string) (uint64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.cursors[name]
	return cur, ok, nil
}

func (m *fakeMutator) SetCursor(_ context.Context, name string, block uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[name] = block
	return nil
}

func (m *fakeMutator) UpsertToken(_ context.Context, tok model.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[tok.Address] = tok
	return nil
}

func (m *fakeMutator) SetTokenLaunched(_ context.Context, addr, pair string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.launched[addr] = pair
	if tok, ok := m.tokens[addr]; ok {
		tok.Status = model.TokenLaunched
		tok.PairAddress = pair
		m.tokens[addr] = tok
	}
	return nil
}

func (m *fakeMutator) RenounceToken(_ context.Context, addr string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.renounced[addr] {
		return false, nil
	}
	m.renounced[addr] = true
	return true, nil
}

func (m *fakeMutator) SetHoldersCount(_ context.Context, addr string, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.holders[addr] = count
	return nil
}

func (m *fakeMutator) InsertTrade(_ context.Context, tr model.Trade) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fmt.Sprintf("%s/%d", tr.TxHash, tr.LogIndex)
	if m.transfers["trade:"+key] {
		return false, nil
	}
	m.transfers["trade:"+key] = true
	m.trades = append(m.trades, tr)
	return true, nil
}

func (m *fakeMutator) InsertLiquidityEvent(_ context.Context, ev model.LiquidityEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fmt.Sprintf("%s/%d", ev.TxHash, ev.LogIndex)
	if m.transfers["liq:"+key] {
		return false, nil
	}
	m.transfers["liq:"+key] = true
	m.liq = append(m.liq, ev)
	return true, nil
}

func (m *fakeMutator) InsertTransfer(_ context.Context, ev model.TransferEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertCalls++
	if m.failOnInsert > 0 && m.insertCalls == m.failOnInsert {
		return false, errors.New("insert failed")
	}
	key := fmt.Sprintf("%s/%d", ev.TxHash, ev.LogIndex)
	if m.transfers[key] {
		return false, nil
	}
	m.transfers[key] = true
	return true, nil
}

func (m *fakeMutator) CreditHolder(_ context.Context, token, addr, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, _ := new(big.Int).SetString(value, 10)
	if m.balances[token] == nil {
		m.balances[token] = make(map[string]*big.Int)
	}
	cur := m.balances[token][addr]
	if cur == nil {
		cur = new(big.Int)
	}
	m.balances[token][addr] = new(big.Int).Add(cur, v)
	return nil
}

func (m *fakeMutator) DebitHolder(_ context.Context, token, addr, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, _ := new(big.Int).SetString(value, 10)
	cur := m.balances[token][addr]
	if cur == nil {
		return false, nil
	}
	next := new(big.Int).Sub(cur, v)
	if next.Sign() <= 0 {
		delete(m.balances[token], addr)
		return true, nil
	}
	m.balances[token][addr] = next
	return false, nil
}

func (m *fakeMutator) RecordTrade(_ context.Context, trader string, valueUSD float64, ts int64) (model.TraderProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := model.TraderProfile{Address: trader, TradeCount: 1, VolumeUSD: valueUSD, LastSeen: ts}
	p.IsWhale = p.VolumeUSD >= model.WhaleVolumeUSD
	return p, nil
}

func (m *fakeMutator) ApplyStakeDelta(_ context.Context, addr string, delta string, negative bool, tier uint8) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, _ := new(big.Int).SetString(delta, 10)
	cur := m.stakes[addr]
	if cur == nil {
		cur = new(big.Int)
	}
	if negative {
		cur = new(big.Int).Sub(cur, v)
	} else {
		cur = new(big.Int).Add(cur, v)
	}
	m.stakes[addr] = cur
	m.tiers[addr] = tier
	return nil
}

func (m *fakeMutator) SetStakeTier(_ context.Context, addr string, tier uint8) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tiers[addr] = tier
	return nil
}

func (m *fakeMutator) GetPair(_ context.Context, addr string) (model.Pair, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pairs[addr]
	return p, ok, nil
}

func (m *fakeMutator) UpsertPair(_ context.Context, p model.Pair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pairs[p.Address] = p
	return nil
}

func (m *fakeMutator) UpdateReserves(_ context.Context, addr, reserve0, reserve1 string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reserves[addr] = [2]string{reserve0, reserve1}
	if p, ok := m.pairs[addr]; ok {
		p.Reserve0, p.Reserve1 = reserve0, reserve1
		m.pairs[addr] = p
	}
	return nil
}

func (m *fakeMutator) balance(token, addr string) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b := m.balances[token][addr]; b != nil {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

var _ Mutator = (*fakeMutator)(nil)

// fakeBus records KV projections. It satisfies CacheBus and StakeBus.
type fakeBus struct {
	mu        sync.Mutex
	kvs       map[string]any
	ttls      map[string]time.Duration
	published map[string][]any
	hashes    map[string]map[string]any
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		kvs:       make(map[string]any),
		ttls:      make(map[string]time.Duration),
		published: make(map[string][]any),
		hashes:    make(map[string]map[string]any),
	}
}

func (b *fakeBus) SetJSON(_ context.Context, key string, v any, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.kvs[key] = v
	b.ttls[key] = ttl
	return nil
}

func (b *fakeBus) Publish(_ context.Context, channel string, v any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel] = append(b.published[channel], v)
}

func (b *fakeBus) HSet(_ context.Context, key string, fields map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.hashes[key] == nil {
		b.hashes[key] = make(map[string]any)
	}
	for k, v := range fields {
		b.hashes[key][k] = v
	}
	return nil
}

func (b *fakeBus) publishedOn(channel string) []any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]any(nil), b.published[channel]...)
}

// fakeProcessors records dispatched events. One struct serves all three
// processor interfaces.
type procCall struct {
	Method string
	Dex    string
	Pair   model.Pair
	Event  model.ChainEvent
}

type fakeProcessors struct {
	mu    sync.Mutex
	calls []procCall
	err   error
}

func (p *fakeProcessors) record(method, dex string, pair model.Pair, ev model.ChainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, procCall{Method: method, Dex: dex, Pair: pair, Event: ev})
	return p.err
}

func (p *fakeProcessors) all() []procCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]procCall(nil), p.calls...)
}

func (p *fakeProcessors) OnNewToken(_ context.Context, _ Mutator, _ Sink, ev model.TokenCreatedEvent) error {
	return p.record("OnNewToken", "", model.Pair{}, ev)
}

func (p *fakeProcessors) OnCurvePurchase(_ context.Context, _ Mutator, _ Sink, ev model.TokenPurchasedEvent) error {
	return p.record("OnCurvePurchase", "", model.Pair{}, ev)
}

func (p *fakeProcessors) OnCurveSale(_ context.Context, _ Mutator, _ Sink, ev model.TokenSoldEvent) error {
	return p.record("OnCurveSale", "", model.Pair{}, ev)
}

func (p *fakeProcessors) OnLaunch(_ context.Context, _ Mutator, _ Sink, ev model.TokenLaunchedEvent) error {
	return p.record("OnLaunch", "", model.Pair{}, ev)
}

func (p *fakeProcessors) OnRenounced(_ context.Context, _ Mutator, _ Sink, ev model.OwnershipTransferredEvent) error {
	return p.record("OnRenounced", "", model.Pair{}, ev)
}

func (p *fakeProcessors) OnSwap(_ context.Context, _ Mutator, _ Sink, pair model.Pair, ev model.SwapEvent) error {
	return p.record("OnSwap", "", pair, ev)
}

func (p *fakeProcessors) OnNewPair(_ context.Context, _ Mutator, _ Sink, dex string, ev model.PairCreatedEvent) error {
	return p.record("OnNewPair", dex, model.Pair{}, ev)
}

func (p *fakeProcessors) OnMint(_ context.Context, _ Mutator, _ Sink, pair model.Pair, ev model.MintEvent) error {
	return p.record("OnMint", "", pair, ev)
}

func (p *fakeProcessors) OnBurn(_ context.Context, _ Mutator, _ Sink, pair model.Pair, ev model.BurnEvent) error {
	return p.record("OnBurn", "", pair, ev)
}

func (p *fakeProcessors) OnSync(_ context.Context, _ Mutator, _ Sink, pair model.Pair, ev model.SyncEvent) error {
	return p.record("OnSync", "", pair, ev)
}

var (
	_ TokenProcessor     = (*fakeProcessors)(nil)
	_ TradeProcessor     = (*fakeProcessors)(nil)
	_ LiquidityProcessor = (*fakeProcessors)(nil)
)

type fakePairLister struct {
	pairs []string
	err   error
}

func (f fakePairLister) PairAddresses(context.Context, string) ([]string, error) {
	return f.pairs, f.err
}

// fakeTransferStore backs TransferStore with the shared mutator; committed
// state and transactional view are the same thing here.
type fakeTransferStore struct {
	mut     *fakeMutator
	recent  []model.Token
	mu      sync.Mutex
	txCount int
}

func newFakeTransferStore(mut *fakeMutator) *fakeTransferStore {
	return &fakeTransferStore{mut: mut}
}

func (s *fakeTransferStore) WithTx(_ context.Context, fn func(Mutator) error) error {
	s.mu.Lock()
	s.txCount++
	s.mu.Unlock()
	return fn(s.mut)
}

func (s *fakeTransferStore) GetCursor(ctx context.Context, name string) (uint64, bool, error) {
	return s.mut.GetCursor(ctx, name)
}

func (s *fakeTransferStore) HolderAddresses(_ context.Context, token string) ([]string, error) {
	s.mut.mu.Lock()
	defer s.mut.mu.Unlock()
	var out []string
	for addr := range s.mut.balances[token] {
		out = append(out, addr)
	}
	return out, nil
}

func (s *fakeTransferStore) RecentTokens(_ context.Context, limit int) ([]model.Token, error) {
	if limit > 0 && limit < len(s.recent) {
		return s.recent[:limit], nil
	}
	return s.recent, nil
}

func (s *fakeTransferStore) transactions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txCount
}
