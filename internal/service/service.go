// Package service assembles the indexer: chain client, durable store, KV
// bus, processors, monitors and the websocket surface, supervised as one
// errgroup. It owns the restart policy and the periodic status snapshot;
// everything else lives in the packages it wires together.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pumpwatch/pumpwatch/internal/alerts"
	"github.com/pumpwatch/pumpwatch/internal/analytics"
	"github.com/pumpwatch/pumpwatch/internal/chain"
	"github.com/pumpwatch/pumpwatch/internal/config"
	"github.com/pumpwatch/pumpwatch/internal/contracts"
	"github.com/pumpwatch/pumpwatch/internal/kv"
	"github.com/pumpwatch/pumpwatch/internal/metrics"
	"github.com/pumpwatch/pumpwatch/internal/monitor"
	"github.com/pumpwatch/pumpwatch/internal/pricing"
	"github.com/pumpwatch/pumpwatch/internal/processor"
	"github.com/pumpwatch/pumpwatch/internal/store"
	"github.com/pumpwatch/pumpwatch/internal/ws"
)

const (
	// restartBudget restarts are allowed per monitor within restartWindow;
	// the one exceeding the budget stops the service.
	restartBudget = 3
	restartWindow = 10 * time.Minute
	restartDelay  = 5 * time.Second

	statusInterval = time.Minute
	statusTTL      = time.Minute
	headTimeout    = 5 * time.Second
)

// runner is the slice of *monitor.Runner the supervisor drives.
type runner interface {
	Run(ctx context.Context) error
	Status() monitor.Status
}

// Service is the assembled indexer. Build it with New, drive it with Run,
// release its connections with Close.
type Service struct {
	cfg config.Config
	log *zap.Logger
	met *metrics.Metrics

	chain *chain.Client
	store *store.Store
	kv    *kv.KV

	hub      *ws.Hub
	http     *ws.Server
	transfer *monitor.TransferHandler
	runners  []*monitor.Runner
	pools    []*monitor.Pool

	restartWait time.Duration
}

// New dials every dependency and wires the full pipeline. On error the
// connections opened so far are closed before returning.
func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*Service, error) {
	met := metrics.New()

	cli, err := chain.Dial(ctx, cfg.Chain, log, met)
	if err != nil {
		return nil, fmt.Errorf("dial chain: %w", err)
	}
	st, err := store.Open(ctx, cfg.Store, log)
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		cli.Close()
		st.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	bus, err := kv.New(ctx, cfg.KV.URL, log)
	if err != nil {
		cli.Close()
		st.Close()
		return nil, fmt.Errorf("dial kv: %w", err)
	}

	s := &Service{
		cfg:         cfg,
		log:         log.Named("service"),
		met:         met,
		chain:       cli,
		store:       st,
		kv:          bus,
		restartWait: restartDelay,
	}
	if err := s.wire(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// wire builds the stateless layers on top of the open connections.
func (s *Service) wire(ctx context.Context) error {
	cfg, log := s.cfg, s.log

	var price pricing.Source
	if cfg.Price.APIURL != "" {
		price = pricing.NewHTTP(cfg.Price.APIURL, cfg.Price.FallbackUSD, cfg.Price.CacheTTL, log)
	} else {
		price = pricing.Static{Price: decimal.NewFromFloat(cfg.Price.FallbackUSD)}
		log.Info("price api not configured, using static price",
			zap.Float64("usd", cfg.Price.FallbackUSD))
	}

	reader := contracts.NewReader(s.chain, log)
	base := common.HexToAddress(cfg.Contracts.BaseToken)
	engine := analytics.New(reader, s.store, price, base, log)
	router := alerts.NewRouter(s.store, s.kv, cfg.Alerts.WebhookURLs, s.met, log)

	tokens := processor.NewTokens(s.store, reader, engine, router, s.kv, price, log)
	trades := processor.NewTrades(s.store, s.chain, router, s.kv, price, base, log)
	liq := processor.NewLiquidity(reader, router, s.kv, price, base, log)

	backend := monitor.StoreBackend{Store: s.store}
	opts := monitor.Options{
		StartBlock:    cfg.Chain.StartBlock,
		Confirmations: cfg.Chain.Confirmations,
		BatchSize:     cfg.Chain.BatchSize,
		RetryAttempts: cfg.Chain.RetryAttempts,
		RetryDelay:    cfg.Chain.RetryDelay,
		PollInterval:  cfg.Chain.PollInterval,
	}

	add := func(h monitor.Handler) {
		pool := monitor.NewPool(cfg.Workers.Concurrency, cfg.Workers.RatePerSec, log)
		s.pools = append(s.pools, pool)
		s.runners = append(s.runners, monitor.NewRunner(h, s.chain, backend, pool, opts, s.met, log))
	}

	factory := monitor.NewFactoryHandler(common.HexToAddress(cfg.Contracts.Factory), s.chain, tokens, s.met, log)
	add(factory)

	for _, d := range cfg.Contracts.Dexes {
		dex, err := monitor.NewDexHandler(ctx, d, s.store, s.chain, trades, liq, s.met, log)
		if err != nil {
			return fmt.Errorf("dex monitor %s: %w", d.Name, err)
		}
		add(dex)
	}

	transfer, err := monitor.NewTransferHandler(ctx, cfg.Watch, s.chain, s.chain, backend, tokens, s.kv, s.met, log)
	if err != nil {
		return fmt.Errorf("transfer monitor: %w", err)
	}
	tokens.BindWatcher(transfer)
	s.transfer = transfer
	add(transfer)

	if cfg.Contracts.Staking != "" {
		staking := monitor.NewStakingHandler(common.HexToAddress(cfg.Contracts.Staking), s.chain, s.kv, s.met, log)
		add(staking)
	}

	s.hub = ws.NewHub(s.met, log)
	s.http = ws.NewServer(cfg.HTTP.ListenAddr, s.hub, s.met, s.statusPage, log)
	return nil
}

// Run drives the service until ctx is cancelled or a component fails
// permanently. Effect pools drain before it returns so in-flight alerts and
// cache writes finish.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { s.hub.Run(ctx); return nil })
	g.Go(func() error { return s.http.Run(ctx) })
	g.Go(func() error { return s.transfer.RunBackfills(ctx) })
	g.Go(func() error { return s.bridge(ctx) })
	g.Go(func() error { return s.statusLoop(ctx) })
	for _, r := range s.runners {
		r := r
		g.Go(func() error { return s.supervise(ctx, r) })
	}

	s.log.Info("service started",
		zap.String("network", s.cfg.Network),
		zap.Int("monitors", len(s.runners)),
		zap.String("http", s.cfg.HTTP.ListenAddr))

	err := g.Wait()
	for _, p := range s.pools {
		p.Drain()
	}
	s.log.Info("service stopped")
	return err
}

// Close releases every connection. Safe to call after a failed New.
func (s *Service) Close() {
	if s.chain != nil {
		s.chain.Close()
	}
	if s.kv != nil {
		s.kv.Close()
	}
	if s.store != nil {
		s.store.Close()
	}
}

// supervise restarts a halted monitor from its durable cursor. Two halts at
// the same block mean replaying will not help; more than restartBudget
// restarts inside restartWindow means the chain or a dependency is down.
// Both cases stop the service so the failure is visible from outside.
func (s *Service) supervise(ctx context.Context, r runner) error {
	var restarts []time.Time
	var lastHalt uint64
	halted := false

	for {
		err := r.Run(ctx)
		if err == nil || ctx.Err() != nil {
			return nil
		}
		st := r.Status()
		if halted && st.LastProcessedBlock == lastHalt {
			return fmt.Errorf("monitor %s halted twice at block %d: %w", st.Name, lastHalt, err)
		}
		lastHalt, halted = st.LastProcessedBlock, true

		now := time.Now()
		kept := restarts[:0]
		for _, t := range restarts {
			if now.Sub(t) < restartWindow {
				kept = append(kept, t)
			}
		}
		restarts = append(kept, now)
		if len(restarts) > restartBudget {
			return fmt.Errorf("monitor %s exceeded %d restarts in %s: %w",
				st.Name, restartBudget, restartWindow, err)
		}

		s.log.Error("monitor halted, restarting from cursor",
			zap.String("monitor", st.Name),
			zap.Uint64("block", st.LastProcessedBlock),
			zap.Int("restart", len(restarts)),
			zap.Error(err))
		select {
		case <-time.After(s.restartWait):
		case <-ctx.Done():
			return nil
		}
	}
}

// bridge forwards the websocket channels from the KV bus into the hub. The
// channel suffix doubles as the client-facing message type.
func (s *Service) bridge(ctx context.Context) error {
	msgs := s.kv.Subscribe(ctx,
		kv.ChannelWSNewToken, kv.ChannelWSTrade, kv.ChannelWSPriceUpdate, kv.ChannelWSAlerts)
	ws.Pump(ctx, s.hub, msgs)
	return nil
}

// Snapshot is the periodic service status report, also served on /status
// and cached under the status key.
type Snapshot struct {
	Network      string                    `json:"network"`
	Running      bool                      `json:"running"`
	CurrentBlock uint64                    `json:"current_block"`
	Monitors     map[string]monitor.Status `json:"monitors"`
	Timestamp    int64                     `json:"ts"`
}

// buildSnapshot folds monitor statuses into one report. head may be zero
// when the RPC lookup failed; the furthest monitor cursor stands in so the
// snapshot still moves.
func buildSnapshot(network string, head uint64, sts []monitor.Status) Snapshot {
	snap := Snapshot{
		Network:      network,
		Running:      len(sts) > 0,
		CurrentBlock: head,
		Monitors:     make(map[string]monitor.Status, len(sts)),
		Timestamp:    time.Now().Unix(),
	}
	for _, st := range sts {
		snap.Monitors[st.Name] = st
		if !st.Running {
			snap.Running = false
		}
		if st.LastProcessedBlock > snap.CurrentBlock {
			snap.CurrentBlock = st.LastProcessedBlock
		}
	}
	return snap
}

func (s *Service) snapshot(ctx context.Context) Snapshot {
	hctx, cancel := context.WithTimeout(ctx, headTimeout)
	defer cancel()
	head, err := s.chain.HeadBlock(hctx)
	if err != nil {
		s.log.Debug("status head lookup failed", zap.Error(err))
		head = 0
	}
	sts := make([]monitor.Status, 0, len(s.runners))
	for _, r := range s.runners {
		sts = append(sts, r.Status())
	}
	return buildSnapshot(s.cfg.Network, head, sts)
}

func (s *Service) statusPage() any {
	return s.snapshot(context.Background())
}

// statusLoop logs and caches the snapshot once a minute. The cache TTL
// matches the interval so a dead service reads as absent, not stale.
func (s *Service) statusLoop(ctx context.Context) error {
	t := time.NewTicker(statusInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			snap := s.snapshot(ctx)
			s.log.Info("status",
				zap.Bool("running", snap.Running),
				zap.Uint64("current_block", snap.CurrentBlock),
				zap.Int("monitors", len(snap.Monitors)),
				zap.Int("ws_clients", s.hub.ClientCount()))
			if err := s.kv.SetJSON(ctx, kv.KeyStatus, snap, statusTTL); err != nil {
				s.log.Warn("status cache write failed", zap.Error(err))
			}
		}
	}
}
