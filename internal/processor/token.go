package processor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/pumpwatch/pumpwatch/internal/contracts"
	"github.com/pumpwatch/pumpwatch/internal/kv"
	"github.com/pumpwatch/pumpwatch/internal/model"
	"github.com/pumpwatch/pumpwatch/internal/monitor"
	"github.com/pumpwatch/pumpwatch/internal/pricing"
)

const (
	// The factory mints every token with a fixed 18-decimal supply; the
	// actual value is re-read from the contract during enrichment.
	defaultTotalSupply = "1000000000000000000000000"
	defaultDecimals    = 18

	tokenCacheTTL       = 5 * time.Minute
	renounceScoreCredit = 20
)

// Tokens drives the token lifecycle: discovery, bonding-curve fills,
// graduation to a DEX and ownership renouncement.
type Tokens struct {
	store   TokenStore
	reader  MetaReader
	engine  Analyzer
	alerts  AlertSink
	bus     Bus
	price   pricing.Source
	window  *VolumeWindow
	watcher Watcher
	log     *zap.Logger
}

var _ monitor.TokenProcessor = (*Tokens)(nil)

func NewTokens(st TokenStore, reader MetaReader, engine Analyzer, alerts AlertSink, bus Bus, price pricing.Source, log *zap.Logger) *Tokens {
	log = log.Named("tokens")
	return &Tokens{
		store:  st,
		reader: reader,
		engine: engine,
		alerts: alerts,
		bus:    bus,
		price:  price,
		window: NewVolumeWindow(bus, log),
		log:    log,
	}
}

// BindWatcher connects the transfer monitor's watch set. The transfer
// handler is constructed after this processor (it dispatches renouncements
// back into it), so the link is closed here before any monitor starts.
func (p *Tokens) BindWatcher(w Watcher) { p.watcher = w }

// OnNewToken registers the token and defers the discovery pipeline.
func (p *Tokens) OnNewToken(ctx context.Context, tx monitor.Mutator, fx monitor.Sink, ev model.TokenCreatedEvent) error {
	meta := ev.Meta()
	created := meta.Timestamp
	if ev.Time != nil && ev.Time.IsInt64() && ev.Time.Int64() > 0 {
		created = ev.Time.Int64()
	}
	tok := model.Token{
		Address:     model.Addr(ev.Token),
		Name:        ev.Name,
		Symbol:      ev.Symbol,
		Decimals:    defaultDecimals,
		TotalSupply: defaultTotalSupply,
		Creator:     model.Addr(ev.Creator),
		CreatedAt:   created,
		BlockNumber: meta.BlockNumber,
		TxHash:      meta.TxHash.Hex(),
		Status:      model.TokenCreated,
	}
	if err := tx.UpsertToken(ctx, tok); err != nil {
		return err
	}

	token := ev.Token
	fx.Defer("token:watch", func(context.Context) error {
		if p.watcher != nil {
			p.watcher.Watch(token)
		}
		return nil
	})
	fx.Defer("token:intake", func(ctx context.Context) error {
		return p.intake(ctx, tok)
	})
	return nil
}

// intake is the post-commit discovery pipeline: contract enrichment,
// analytics, the alert matrix and cache projection. Stages degrade
// independently; a dead RPC never suppresses the NEW_TOKEN alert.
func (p *Tokens) intake(ctx context.Context, tok model.Token) error {
	var errs []error

	tok, err := p.enrich(ctx, tok)
	if err != nil {
		p.log.Warn("token enrichment failed", zap.String("token", tok.Address), zap.Error(err))
		errs = append(errs, err)
	}

	a, aerr := p.engine.Compute(ctx, tok)
	if aerr != nil {
		p.log.Warn("analytics unavailable at intake", zap.String("token", tok.Address), zap.Error(aerr))
		errs = append(errs, aerr)
	}

	for _, al := range intakeAlerts(tok, a, aerr == nil) {
		if err := p.alerts.Route(ctx, al); err != nil {
			errs = append(errs, err)
		}
	}

	p.project(ctx, tok, a)
	return errors.Join(errs...)
}

// enrich reads the ERC-20 views and the optional launchpad getters, writes
// the result and promotes the token when trading is already open. Every
// contract read defaults on revert inside the reader.
func (p *Tokens) enrich(ctx context.Context, tok model.Token) (model.Token, error) {
	addr := model.HexAddr(tok.Address)
	info := p.reader.TokenInfo(ctx, addr)
	ext := p.reader.Extended(ctx, addr)

	if info.Name != "" {
		tok.Name = info.Name
	}
	if info.Symbol != "" {
		tok.Symbol = info.Symbol
	}
	tok.Decimals = info.Decimals
	if info.TotalSupply != nil && info.TotalSupply.Sign() > 0 {
		tok.TotalSupply = info.TotalSupply.String()
	}
	tok.Description = ext.Description
	tok.ImageURL = ext.ImageURL
	tok.Twitter = ext.Twitter
	tok.Telegram = ext.Telegram
	tok.Website = ext.Website
	if ext.MaxWallet != nil && ext.MaxWallet.Sign() > 0 {
		tok.MaxWallet = ext.MaxWallet.String()
	}
	if ext.MaxTransaction != nil && ext.MaxTransaction.Sign() > 0 {
		tok.MaxTransaction = ext.MaxTransaction.String()
	}
	tok.TradingEnabled = ext.TradingEnabled
	if ext.HasOwner && isBurnOwner(ext.Owner) {
		tok.Renounced = true
	}

	if err := p.store.UpdateTokenEnrichment(ctx, tok); err != nil {
		return tok, err
	}
	if ext.TradingEnabled {
		flipped, err := p.store.MarkTradingEnabled(ctx, tok.Address)
		if err != nil {
			return tok, err
		}
		if flipped {
			tok.Status = model.TokenTradingEnabled
			p.bus.Publish(ctx, kv.ChannelTokenEvents, kv.Event{
				Event:     "TRADING_ENABLED",
				Data:      map[string]any{"token": tok.Address},
				Timestamp: time.Now().Unix(),
			})
		}
	}
	return tok, nil
}

// intakeAlerts builds the discovery alerts. NEW_TOKEN always fires; the risk
// alerts need a successful analytics pass behind them.
func intakeAlerts(tok model.Token, a model.TokenAnalytics, scored bool) []model.Alert {
	now := time.Now().Unix()
	out := []model.Alert{{
		ID:           "new-token-" + tok.Address,
		Type:         model.AlertNewToken,
		Severity:     model.SeverityLow,
		TokenAddress: tok.Address,
		Message:      fmt.Sprintf("New token %s (%s) created by %s", tok.Name, tok.Symbol, tok.Creator),
		Data:         map[string]any{"name": tok.Name, "symbol": tok.Symbol, "creator": tok.Creator},
		Timestamp:    now,
	}}
	if !scored {
		return out
	}
	if a.IsHoneypot {
		out = append(out, model.Alert{
			ID:           "honeypot-" + tok.Address,
			Type:         model.AlertHoneypotDetected,
			Severity:     model.SeverityCritical,
			TokenAddress: tok.Address,
			Message:      fmt.Sprintf("%s flagged as honeypot (buy tax %.0f%%, sell tax %.0f%%)", tok.Symbol, a.BuyTax, a.SellTax),
			Data:         map[string]any{"buy_tax": a.BuyTax, "sell_tax": a.SellTax},
			Timestamp:    now,
		})
	}
	if a.RugScore > 80 {
		out = append(out, model.Alert{
			ID:           "rug-warning-" + tok.Address,
			Type:         model.AlertRugWarning,
			Severity:     model.SeverityHigh,
			TokenAddress: tok.Address,
			Message:      fmt.Sprintf("%s scores %d/100 on rug risk", tok.Symbol, a.RugScore),
			Data:         map[string]any{"rug_score": a.RugScore},
			Timestamp:    now,
		})
	}
	if a.OwnershipConcentration > 50 {
		out = append(out, model.Alert{
			ID:           "concentration-" + tok.Address,
			Type:         model.AlertWhaleActivity,
			Severity:     model.SeverityMedium,
			TokenAddress: tok.Address,
			Message:      fmt.Sprintf("Top holders control %.1f%% of %s", a.OwnershipConcentration, tok.Symbol),
			Data:         map[string]any{"concentration": a.OwnershipConcentration},
			Timestamp:    now,
		})
	}
	if a.BuyTax > 10 || a.SellTax > 10 {
		out = append(out, model.Alert{
			ID:           "tax-warning-" + tok.Address,
			Type:         model.AlertRugWarning,
			Severity:     model.SeverityMedium,
			TokenAddress: tok.Address,
			Message:      fmt.Sprintf("%s taxes trades at %.0f%%/%.0f%%", tok.Symbol, a.BuyTax, a.SellTax),
			Data:         map[string]any{"buy_tax": a.BuyTax, "sell_tax": a.SellTax},
			Timestamp:    now,
		})
	}
	return out
}

// project refreshes the KV view: the token document, the ranking sets and
// the discovery channels.
func (p *Tokens) project(ctx context.Context, tok model.Token, a model.TokenAnalytics) {
	doc := map[string]any{"token": tok, "analytics": a}
	if err := p.bus.SetJSON(ctx, kv.KeyToken(tok.Address), doc, tokenCacheTTL); err != nil {
		p.log.Warn("token cache write failed", zap.String("token", tok.Address), zap.Error(err))
	}
	p.rank(ctx, kv.ZSetTokensByCreation, float64(tok.CreatedAt), tok.Address)
	p.rank(ctx, kv.ZSetTokensByRugScore, float64(a.RugScore), tok.Address)
	p.rank(ctx, kv.ZSetTokensByLiquidity, a.LiquidityUSD, tok.Address)

	p.bus.Publish(ctx, kv.ChannelTokenEvents, kv.Event{
		Event:     "NEW_TOKEN",
		Data:      tok,
		Timestamp: time.Now().Unix(),
	})
	p.bus.Publish(ctx, kv.ChannelWSNewToken, tok)
}

// OnCurvePurchase handles a bonding-curve buy. Curve fills never become
// Trade rows; they feed the volume window and the live price stream only.
func (p *Tokens) OnCurvePurchase(ctx context.Context, tx monitor.Mutator, fx monitor.Sink, ev model.TokenPurchasedEvent) error {
	meta := ev.Meta()
	fx.Defer("curve:purchase", func(ctx context.Context) error {
		return p.curveFill(ctx, "PURCHASE", model.Addr(ev.Token), model.Addr(ev.Buyer),
			ev.AmountIn, ev.AmountOut, ev.AmountIn, ev.NewPrice, meta)
	})
	return nil
}

// OnCurveSale handles a bonding-curve sell; the base token is the out side.
func (p *Tokens) OnCurveSale(ctx context.Context, tx monitor.Mutator, fx monitor.Sink, ev model.TokenSoldEvent) error {
	meta := ev.Meta()
	fx.Defer("curve:sale", func(ctx context.Context) error {
		return p.curveFill(ctx, "SALE", model.Addr(ev.Token), model.Addr(ev.Seller),
			ev.AmountIn, ev.AmountOut, ev.AmountOut, ev.NewPrice, meta)
	})
	return nil
}

func (p *Tokens) curveFill(ctx context.Context, event, token, trader string, amountIn, amountOut, baseAmount, newPrice *big.Int, meta model.EventMeta) error {
	basePrice := p.price.PriceUSD(ctx)
	usd := usdValue(baseAmount, basePrice)
	priceUSD := usdValue(newPrice, basePrice)

	p.window.Record(ctx, kv.KeyVolume(token), meta.TxHash.Hex(), meta.LogIndex, usd, meta.Timestamp)
	vol1h, vol24h := p.window.Windows(ctx, kv.KeyVolume(token), meta.Timestamp)

	var change float64
	if prev, ok, err := p.store.GetAnalytics(ctx, token); err == nil && ok {
		change = pctChange(prev.PriceUSD, priceUSD)
	}

	p.bus.Publish(ctx, kv.ChannelTokenEvents, kv.Event{
		Event: event,
		Data: map[string]any{
			"token":      token,
			"trader":     trader,
			"amount_in":  model.BigString(amountIn),
			"amount_out": model.BigString(amountOut),
			"price_usd":  priceUSD,
			"value_usd":  usd,
		},
		Timestamp: meta.Timestamp,
	})
	p.bus.Publish(ctx, kv.ChannelWSPriceUpdate, PriceUpdate{
		Token:     token,
		PriceUSD:  priceUSD,
		Change24h: change,
		Volume1h:  vol1h,
		Volume24h: vol24h,
		Timestamp: meta.Timestamp,
	})
	return nil
}

// OnLaunch graduates a token to its DEX pair.
func (p *Tokens) OnLaunch(ctx context.Context, tx monitor.Mutator, fx monitor.Sink, ev model.TokenLaunchedEvent) error {
	meta := ev.Meta()
	token := model.Addr(ev.Token)
	pair := model.Addr(ev.Pair)
	if err := tx.SetTokenLaunched(ctx, token, pair); err != nil {
		return err
	}
	liquidity := ev.Liquidity
	fx.Defer("token:launched", func(ctx context.Context) error {
		return p.launched(ctx, token, pair, liquidity, meta)
	})
	return nil
}

func (p *Tokens) launched(ctx context.Context, token, pair string, liquidity *big.Int, meta model.EventMeta) error {
	usd := usdValue(liquidity, p.price.PriceUSD(ctx))
	p.rank(ctx, kv.ZSetTokensByLiquidity, usd, token)

	err := p.alerts.Route(ctx, model.Alert{
		ID:           "token-launched-" + token,
		Type:         model.AlertTokenLaunched,
		Severity:     model.SeverityMedium,
		TokenAddress: token,
		Message:      fmt.Sprintf("Token %s graduated to DEX pair %s", token, pair),
		Data:         map[string]any{"pair": pair, "liquidity": model.BigString(liquidity), "liquidity_usd": usd},
		Timestamp:    meta.Timestamp,
	})
	p.bus.Publish(ctx, kv.ChannelTokenEvents, kv.Event{
		Event:     "TOKEN_LAUNCHED",
		Data:      map[string]any{"token": token, "pair": pair, "liquidity_usd": usd},
		Timestamp: meta.Timestamp,
	})
	return err
}

// OnRenounced reacts to ownership moving to a burn address. The conditional
// update keeps the score credit and the alert single-shot across range
// re-deliveries.
func (p *Tokens) OnRenounced(ctx context.Context, tx monitor.Mutator, fx monitor.Sink, ev model.OwnershipTransferredEvent) error {
	meta := ev.Meta()
	token := model.Addr(meta.Address)
	flipped, err := tx.RenounceToken(ctx, token)
	if err != nil {
		return err
	}
	if !flipped {
		return nil
	}
	fx.Defer("token:renounced", func(ctx context.Context) error {
		return p.renounced(ctx, token, meta)
	})
	return nil
}

func (p *Tokens) renounced(ctx context.Context, token string, meta model.EventMeta) error {
	score, err := p.store.AdjustRugScore(ctx, token, -renounceScoreCredit)
	if err != nil {
		p.log.Warn("rug score adjustment failed", zap.String("token", token), zap.Error(err))
	} else {
		p.rank(ctx, kv.ZSetTokensByRugScore, float64(score), token)
	}

	rerr := p.alerts.Route(ctx, model.Alert{
		ID:           "renounced-" + token,
		Type:         model.AlertRenounced,
		Severity:     model.SeverityLow,
		TokenAddress: token,
		Message:      fmt.Sprintf("Ownership of %s renounced", token),
		Data:         map[string]any{"rug_score": score},
		Timestamp:    meta.Timestamp,
	})
	p.bus.Publish(ctx, kv.ChannelTokenEvents, kv.Event{
		Event:     "OWNERSHIP_RENOUNCED",
		Data:      map[string]any{"token": token},
		Timestamp: meta.Timestamp,
	})
	return rerr
}

func (p *Tokens) rank(ctx context.Context, set string, score float64, member string) {
	if err := p.bus.ZAdd(ctx, set, score, member); err != nil {
		p.log.Warn("ranking update failed", zap.String("set", set), zap.Error(err))
	}
}

func isBurnOwner(a common.Address) bool {
	return a == model.ZeroAddress || a == contracts.DeadAddress
}
