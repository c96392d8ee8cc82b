// Package analytics derives the per-token risk and market view: rug score,
// honeypot signal, holder concentration, liquidity and volume in USD.
package analytics

import (
	"math/big"

	"github.com/pumpwatch/pumpwatch/internal/model"
)

// honeypotTaxPct is the tax level above which exit is considered
// practically impossible.
const honeypotTaxPct = 50

// ScoreInputs are the signals the rug score is composed from.
type ScoreInputs struct {
	Verified        bool
	Renounced       bool
	LiquidityLocked bool
	Concentration   float64
	BuyTax          float64
	SellTax         float64
}

// RugScore folds the risk signals into a 0-100 score. Higher is riskier.
func RugScore(in ScoreInputs) int {
	var score int
	if !in.Verified {
		score += 20
	}
	if !in.Renounced {
		score += 30
	}
	if !in.LiquidityLocked {
		score += 20
	}
	switch {
	case in.Concentration > 50:
		score += 30
	case in.Concentration > 30:
		score += 15
	}
	if in.BuyTax > 10 || in.SellTax > 10 {
		score += 20
	}
	if score > 100 {
		score = 100
	}
	return score
}

// Honeypot reports whether the token traps buyers: the probe transfer
// reverted, or taxes confiscate more than half of every trade.
func Honeypot(transferReverted bool, buyTax, sellTax float64) bool {
	return transferReverted || buyTax > honeypotTaxPct || sellTax > honeypotTaxPct
}

// Concentration returns the combined share of supply held by the given
// holders, in percent. A zero or unparseable supply yields 0.
func Concentration(holders []model.HolderBalance, totalSupply string) float64 {
	supply, ok := new(big.Int).SetString(totalSupply, 10)
	if !ok || supply.Sign() <= 0 {
		return 0
	}
	sum := new(big.Int)
	for _, h := range holders {
		if b, ok := new(big.Int).SetString(h.Balance, 10); ok {
			sum.Add(sum, b)
		}
	}
	return pct(sum, supply)
}

// PctOfSupply expresses an absolute token amount as a percentage of supply.
func PctOfSupply(amount *big.Int, totalSupply string) float64 {
	if amount == nil || amount.Sign() <= 0 {
		return 0
	}
	supply, ok := new(big.Int).SetString(totalSupply, 10)
	if !ok || supply.Sign() <= 0 {
		return 0
	}
	return pct(amount, supply)
}

func pct(part, whole *big.Int) float64 {
	q, _ := new(big.Float).Quo(new(big.Float).SetInt(part), new(big.Float).SetInt(whole)).Float64()
	return q * 100
}
