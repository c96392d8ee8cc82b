package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/pumpwatch/pumpwatch/internal/contracts"
	"github.com/pumpwatch/pumpwatch/internal/kv"
	"github.com/pumpwatch/pumpwatch/internal/model"
	"github.com/pumpwatch/pumpwatch/internal/monitor"
)

var (
	testBase    = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	testToken   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	testCreator = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	testTrader  = common.HexToAddress("0x00000000000000000000000000000000000000d2")
	testPair    = common.HexToAddress("0x0000000000000000000000000000000000000e0e")
)

func eth(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func meta(block uint64, ts int64, tx byte, idx uint) model.EventMeta {
	return model.EventMeta{
		BlockNumber: block,
		Timestamp:   ts,
		TxHash:      common.HexToHash(fmt.Sprintf("0x%02x", tx)),
		LogIndex:    idx,
	}
}

// runEffects drains a batch's deferred side effects in submission order,
// the way the pool does after a commit.
func runEffects(t *testing.T, b *monitor.Batch) {
	t.Helper()
	for _, fx := range b.Effects() {
		require.NoError(t, fx.Fn(context.Background()), fx.Name)
	}
}

// fakeTx is an in-memory range transaction. Inserts deduplicate on
// (tx_hash, log_index) and trader profiles fold like the real table.
type fakeTx struct {
	tokens    map[string]model.Token
	launched  map[string]string
	renounced map[string]bool
	pairs     map[string]model.Pair
	trades    []model.Trade
	liq       []model.LiquidityEvent
	seen      map[string]bool
	profiles  map[string]model.TraderProfile
}

func newFakeTx() *fakeTx {
	return &fakeTx{
		tokens:    make(map[string]model.Token),
		launched:  make(map[string]string),
		renounced: make(map[string]bool),
		pairs:     make(map[string]model.Pair),
		seen:      make(map[string]bool),
		profiles:  make(map[string]model.TraderProfile),
	}
}

func (m *fakeTx) GetCursor(context.Context, string) (uint64, bool, error) { return 0, false, nil }
func (m *fakeTx) SetCursor(context.Context, string, uint64) error         { return nil }

func (m *fakeTx) UpsertToken(_ context.Context, tok model.Token) error {
	m.tokens[tok.Address] = tok
	return nil
}

func (m *fakeTx) SetTokenLaunched(_ context.Context, addr, pair string) error {
	m.launched[addr] = pair
	if tok, ok := m.tokens[addr]; ok {
		tok.Status = model.TokenLaunched
		tok.PairAddress = pair
		m.tokens[addr] = tok
	}
	return nil
}

func (m *fakeTx) RenounceToken(_ context.Context, addr string) (bool, error) {
	if m.renounced[addr] {
		return false, nil
	}
	m.renounced[addr] = true
	return true, nil
}

func (m *fakeTx) SetHoldersCount(context.Context, string, int) error { return nil }

func (m *fakeTx) InsertTrade(_ context.Context, tr model.Trade) (bool, error) {
	key := fmt.Sprintf("trade:%s/%d", tr.TxHash, tr.LogIndex)
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	m.trades = append(m.trades, tr)
	return true, nil
}

func (m *fakeTx) InsertLiquidityEvent(_ context.Context, ev model.LiquidityEvent) (bool, error) {
	key := fmt.Sprintf("liq:%s/%d", ev.TxHash, ev.LogIndex)
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	m.liq = append(m.liq, ev)
	return true, nil
}

func (m *fakeTx) InsertTransfer(context.Context, model.TransferEvent) (bool, error) {
	return true, nil
}

func (m *fakeTx) CreditHolder(context.Context, string, string, string) error { return nil }
func (m *fakeTx) DebitHolder(context.Context, string, string, string) (bool, error) {
	return false, nil
}

func (m *fakeTx) RecordTrade(_ context.Context, trader string, valueUSD float64, ts int64) (model.TraderProfile, error) {
	p := m.profiles[trader]
	p.Address = trader
	p.TradeCount++
	p.VolumeUSD += valueUSD
	p.AvgTradeUSD = p.VolumeUSD / float64(p.TradeCount)
	if p.FirstSeen == 0 {
		p.FirstSeen = ts
	}
	p.LastSeen = ts
	if p.VolumeUSD >= model.WhaleVolumeUSD {
		p.IsWhale = true
	}
	m.profiles[trader] = p
	return p, nil
}

func (m *fakeTx) ApplyStakeDelta(context.Context, string, string, bool, uint8) error { return nil }
func (m *fakeTx) SetStakeTier(context.Context, string, uint8) error                  { return nil }

func (m *fakeTx) GetPair(_ context.Context, addr string) (model.Pair, bool, error) {
	p, ok := m.pairs[addr]
	return p, ok, nil
}

func (m *fakeTx) UpsertPair(_ context.Context, p model.Pair) error {
	m.pairs[p.Address] = p
	return nil
}

func (m *fakeTx) UpdateReserves(_ context.Context, addr, reserve0, reserve1 string) error {
	if p, ok := m.pairs[addr]; ok {
		p.Reserve0, p.Reserve1 = reserve0, reserve1
		m.pairs[addr] = p
	}
	return nil
}

var _ monitor.Mutator = (*fakeTx)(nil)

// fakeBus is an in-memory Bus. JSON values round-trip through encoding so
// GetJSON sees what SetJSON stored.
type fakeBus struct {
	kvs       map[string][]byte
	ttls      map[string]time.Duration
	zsets     map[string]map[string]float64
	sets      map[string]map[string]bool
	lists     map[string][]any
	published map[string][]any
	zaddErr   error
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		kvs:       make(map[string][]byte),
		ttls:      make(map[string]time.Duration),
		zsets:     make(map[string]map[string]float64),
		sets:      make(map[string]map[string]bool),
		lists:     make(map[string][]any),
		published: make(map[string][]any),
	}
}

func (b *fakeBus) SetJSON(_ context.Context, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b.kvs[key] = raw
	b.ttls[key] = ttl
	return nil
}

func (b *fakeBus) GetJSON(_ context.Context, key string, dst any) (bool, error) {
	raw, ok := b.kvs[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dst)
}

func (b *fakeBus) ZAdd(_ context.Context, set string, score float64, member string) error {
	if b.zaddErr != nil {
		return b.zaddErr
	}
	if b.zsets[set] == nil {
		b.zsets[set] = make(map[string]float64)
	}
	b.zsets[set][member] = score
	return nil
}

func scoreBound(s string) (float64, bool) {
	switch s {
	case "-inf":
		return math.Inf(-1), true
	case "+inf":
		return math.Inf(1), true
	}
	if strings.HasPrefix(s, "(") {
		v, _ := strconv.ParseFloat(s[1:], 64)
		return v, false
	}
	v, _ := strconv.ParseFloat(s, 64)
	return v, true
}

func inRange(score float64, min, max string) bool {
	lo, loIncl := scoreBound(min)
	hi, hiIncl := scoreBound(max)
	if score < lo || (score == lo && !loIncl) {
		return false
	}
	if score > hi || (score == hi && !hiIncl) {
		return false
	}
	return true
}

func (b *fakeBus) ZRangeByScore(_ context.Context, set, min, max string) ([]string, error) {
	var out []string
	for member, score := range b.zsets[set] {
		if inRange(score, min, max) {
			out = append(out, member)
		}
	}
	return out, nil
}

func (b *fakeBus) ZRemRangeByScore(_ context.Context, set, min, max string) error {
	for member, score := range b.zsets[set] {
		if inRange(score, min, max) {
			delete(b.zsets[set], member)
		}
	}
	return nil
}

func (b *fakeBus) Expire(_ context.Context, key string, ttl time.Duration) error {
	b.ttls[key] = ttl
	return nil
}

func (b *fakeBus) SAdd(_ context.Context, key string, members ...string) error {
	if b.sets[key] == nil {
		b.sets[key] = make(map[string]bool)
	}
	for _, m := range members {
		b.sets[key][m] = true
	}
	return nil
}

func (b *fakeBus) PushCapped(_ context.Context, list string, v any, max int64, _ time.Duration) error {
	b.lists[list] = append([]any{v}, b.lists[list]...)
	if int64(len(b.lists[list])) > max {
		b.lists[list] = b.lists[list][:max]
	}
	return nil
}

func (b *fakeBus) Publish(_ context.Context, channel string, v any) {
	b.published[channel] = append(b.published[channel], v)
}

var _ Bus = (*fakeBus)(nil)

// busEvent finds the first Event of the given kind published on a channel.
func busEvent(t *testing.T, b *fakeBus, channel, kind string) kv.Event {
	t.Helper()
	for _, v := range b.published[channel] {
		if e, ok := v.(kv.Event); ok && e.Event == kind {
			return e
		}
	}
	t.Fatalf("no %s event published on %s", kind, channel)
	return kv.Event{}
}

func busEventCount(b *fakeBus, channel, kind string) int {
	n := 0
	for _, v := range b.published[channel] {
		if e, ok := v.(kv.Event); ok && e.Event == kind {
			n++
		}
	}
	return n
}

type fakeAlerts struct {
	routed []model.Alert
	err    error
}

func (a *fakeAlerts) Route(_ context.Context, al model.Alert) error {
	a.routed = append(a.routed, al)
	return a.err
}

func (a *fakeAlerts) byID(id string) (model.Alert, bool) {
	for _, al := range a.routed {
		if al.ID == id {
			return al, true
		}
	}
	return model.Alert{}, false
}

func (a *fakeAlerts) ids() []string {
	out := make([]string, len(a.routed))
	for i, al := range a.routed {
		out[i] = al.ID
	}
	return out
}

type fakeTokenStore struct {
	enriched  []model.Token
	trading   map[string]bool
	scores    map[string]int
	analytics map[string]model.TokenAnalytics
	enrichErr error
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{
		trading:   make(map[string]bool),
		scores:    make(map[string]int),
		analytics: make(map[string]model.TokenAnalytics),
	}
}

func (s *fakeTokenStore) UpdateTokenEnrichment(_ context.Context, tok model.Token) error {
	if s.enrichErr != nil {
		return s.enrichErr
	}
	s.enriched = append(s.enriched, tok)
	return nil
}

func (s *fakeTokenStore) MarkTradingEnabled(_ context.Context, addr string) (bool, error) {
	if s.trading[addr] {
		return false, nil
	}
	s.trading[addr] = true
	return true, nil
}

func (s *fakeTokenStore) AdjustRugScore(_ context.Context, token string, delta int) (int, error) {
	score := s.scores[token] + delta
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	s.scores[token] = score
	return score, nil
}

func (s *fakeTokenStore) GetAnalytics(_ context.Context, token string) (model.TokenAnalytics, bool, error) {
	a, ok := s.analytics[token]
	return a, ok, nil
}

type fakeEngine struct {
	analytics model.TokenAnalytics
	err       error
	computed  []model.Token
}

func (e *fakeEngine) Compute(_ context.Context, tok model.Token) (model.TokenAnalytics, error) {
	if e.err != nil {
		return model.TokenAnalytics{}, e.err
	}
	e.computed = append(e.computed, tok)
	a := e.analytics
	a.TokenAddress = tok.Address
	return a, nil
}

type fakeReader struct {
	info contracts.TokenInfo
	ext  contracts.ExtendedInfo

	r0, r1 *big.Int
	resErr error
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		info: contracts.TokenInfo{Decimals: 18, TotalSupply: new(big.Int)},
	}
}

func (r *fakeReader) TokenInfo(context.Context, common.Address) contracts.TokenInfo {
	return r.info
}

func (r *fakeReader) Extended(context.Context, common.Address) contracts.ExtendedInfo {
	return r.ext
}

func (r *fakeReader) Reserves(context.Context, common.Address) (*big.Int, *big.Int, error) {
	if r.resErr != nil {
		return nil, nil, r.resErr
	}
	return r.r0, r.r1, nil
}

type fakeWatcher struct {
	watched []common.Address
}

func (w *fakeWatcher) Watch(token common.Address) {
	w.watched = append(w.watched, token)
}

var errNoReceipt = errors.New("receipt not found")

type fakeReceipts struct {
	receipt *types.Receipt
	err     error
	calls   int
}

func (r *fakeReceipts) Receipt(context.Context, common.Hash) (*types.Receipt, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	if r.receipt == nil {
		return &types.Receipt{}, nil
	}
	return r.receipt, nil
}
