package analytics

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/pumpwatch/pumpwatch/internal/contracts"
	"github.com/pumpwatch/pumpwatch/internal/model"
)

// topHolderSample is how many holders feed the concentration figure.
const topHolderSample = 10

// ChainReader is the slice of the contract reader the engine needs.
type ChainReader interface {
	Extended(ctx context.Context, token common.Address) contracts.ExtendedInfo
	Reserves(ctx context.Context, pair common.Address) (*big.Int, *big.Int, error)
	PairTokens(ctx context.Context, pair common.Address) (common.Address, common.Address, error)
	SimulateTransfer(ctx context.Context, token, from common.Address) (bool, error)
}

// Storage is the slice of the store the engine reads from and writes to.
type Storage interface {
	HolderCount(ctx context.Context, token string) (int, error)
	TopHolders(ctx context.Context, token string, limit int) ([]model.HolderBalance, error)
	TokenVolumeSince(ctx context.Context, token string, since int64) (float64, int, error)
	GetAnalytics(ctx context.Context, token string) (model.TokenAnalytics, bool, error)
	SaveAnalytics(ctx context.Context, a model.TokenAnalytics) error
	GetPair(ctx context.Context, addr string) (model.Pair, bool, error)
	PairsForToken(ctx context.Context, token string) ([]model.Pair, error)
}

// PriceSource yields the base token's USD price.
type PriceSource interface {
	PriceUSD(ctx context.Context) decimal.Decimal
}

// Engine computes and persists TokenAnalytics rows.
type Engine struct {
	reader ChainReader
	repo   Storage
	price  PriceSource
	base   string
	log    *zap.Logger
}

func New(reader ChainReader, repo Storage, price PriceSource, base common.Address, log *zap.Logger) *Engine {
	return &Engine{
		reader: reader,
		repo:   repo,
		price:  price,
		base:   model.Addr(base),
		log:    log.Named("analytics"),
	}
}

// Compute derives the full analytics row for a token and persists it.
// Optional chain reads default rather than fail; store errors propagate.
func (e *Engine) Compute(ctx context.Context, tok model.Token) (model.TokenAnalytics, error) {
	addr := model.HexAddr(tok.Address)
	ext := e.reader.Extended(ctx, addr)

	holders, err := e.repo.HolderCount(ctx, tok.Address)
	if err != nil {
		return model.TokenAnalytics{}, err
	}
	top, err := e.repo.TopHolders(ctx, tok.Address, topHolderSample)
	if err != nil {
		return model.TokenAnalytics{}, err
	}
	conc := Concentration(top, tok.TotalSupply)

	since := time.Now().Add(-24 * time.Hour).Unix()
	volume, txs, err := e.repo.TokenVolumeSince(ctx, tok.Address, since)
	if err != nil {
		return model.TokenAnalytics{}, err
	}

	renounced := tok.Renounced
	if ext.HasOwner && isBurnAddress(ext.Owner) {
		renounced = true
	}

	reverted := false
	if tok.Creator != "" {
		r, err := e.reader.SimulateTransfer(ctx, addr, model.HexAddr(tok.Creator))
		if err != nil {
			e.log.Debug("transfer probe inconclusive",
				zap.String("token", tok.Address), zap.Error(err))
		} else {
			reverted = r
		}
	}

	priceUSD, liquidityUSD := e.priceAndLiquidity(ctx, tok)

	a := model.TokenAnalytics{
		TokenAddress: tok.Address,
		// Source verification is an explorer attribute, not observable
		// on-chain, so it never discounts the score.
		RugScore: RugScore(ScoreInputs{
			Verified:        false,
			Renounced:       renounced,
			LiquidityLocked: ext.LiquidityLocked,
			Concentration:   conc,
			BuyTax:          ext.BuyTax,
			SellTax:         ext.SellTax,
		}),
		IsHoneypot:             Honeypot(reverted, ext.BuyTax, ext.SellTax),
		OwnershipConcentration: conc,
		LiquidityUSD:           liquidityUSD,
		Volume24h:              volume,
		Holders:                holders,
		Transactions24h:        txs,
		PriceUSD:               priceUSD,
		MarketCapUSD:           marketCap(priceUSD, tok.TotalSupply, tok.Decimals),
		CirculatingSupply:      tok.TotalSupply,
		MaxWalletPct:           PctOfSupply(ext.MaxWallet, tok.TotalSupply),
		MaxTxPct:               PctOfSupply(ext.MaxTransaction, tok.TotalSupply),
		BuyTax:                 ext.BuyTax,
		SellTax:                ext.SellTax,
		IsRenounced:            renounced,
		LiquidityLocked:        ext.LiquidityLocked,
		LiquidityLockExpiry:    ext.LockExpiry,
		UpdatedAt:              time.Now().UTC(),
	}

	// Change is measured against the previous evaluation; a dedicated
	// price-history series would be needed for an exact 24h delta.
	if prev, ok, err := e.repo.GetAnalytics(ctx, tok.Address); err == nil && ok && prev.PriceUSD > 0 && a.PriceUSD > 0 {
		a.PriceChange24h = (a.PriceUSD - prev.PriceUSD) / prev.PriceUSD * 100
	}

	if err := e.repo.SaveAnalytics(ctx, a); err != nil {
		return model.TokenAnalytics{}, err
	}
	return a, nil
}

// priceAndLiquidity prices the token through its base-token pair. Tokens
// without a base pair, or with drained reserves, price at zero.
func (e *Engine) priceAndLiquidity(ctx context.Context, tok model.Token) (float64, float64) {
	pairAddr := tok.PairAddress
	if pairAddr == "" {
		pairs, err := e.repo.PairsForToken(ctx, tok.Address)
		if err != nil || len(pairs) == 0 {
			return 0, 0
		}
		pairAddr = pairs[0].Address
	}

	token0, err := e.pairToken0(ctx, pairAddr)
	if err != nil {
		e.log.Warn("pair orientation unavailable", zap.String("pair", pairAddr), zap.Error(err))
		return 0, 0
	}

	r0, r1, err := e.reader.Reserves(ctx, model.HexAddr(pairAddr))
	if err != nil {
		e.log.Warn("reserve read failed", zap.String("pair", pairAddr), zap.Error(err))
		return 0, 0
	}

	baseReserve, tokenReserve := r0, r1
	if token0 != e.base {
		baseReserve, tokenReserve = r1, r0
	}

	tokenDec := decimal.NewFromBigInt(tokenReserve, -int32(tok.Decimals))
	if tokenDec.IsZero() {
		return 0, 0
	}
	baseDec := decimal.NewFromBigInt(baseReserve, -18)
	basePrice := e.price.PriceUSD(ctx)

	priceUSD := baseDec.Div(tokenDec).Mul(basePrice)
	liquidityUSD := baseDec.Mul(basePrice).Mul(decimal.NewFromInt(2))
	return priceUSD.InexactFloat64(), liquidityUSD.InexactFloat64()
}

func (e *Engine) pairToken0(ctx context.Context, pairAddr string) (string, error) {
	pair, ok, err := e.repo.GetPair(ctx, pairAddr)
	if err != nil {
		return "", err
	}
	if ok {
		return pair.Token0, nil
	}
	t0, _, err := e.reader.PairTokens(ctx, model.HexAddr(pairAddr))
	if err != nil {
		return "", err
	}
	return model.Addr(t0), nil
}

func marketCap(priceUSD float64, totalSupply string, decimals uint8) float64 {
	if priceUSD <= 0 {
		return 0
	}
	supply, ok := new(big.Int).SetString(totalSupply, 10)
	if !ok || supply.Sign() <= 0 {
		return 0
	}
	units := decimal.NewFromBigInt(supply, -int32(decimals))
	return units.Mul(decimal.NewFromFloat(priceUSD)).InexactFloat64()
}

func isBurnAddress(a common.Address) bool {
	return a == model.ZeroAddress || a == contracts.DeadAddress
}
