// Package selector picks the single best sell/buy pair for the next trade
// and turns the selection into a concrete trade request.
package selector

import (
	"github.com/shopspring/decimal"

	"github.com/DEFCONPRO/protocol/internal/domain"
)

// Selection is one chosen sell/buy pair plus the price quad it was ranked
// with. Surplus and Deficit are token amounts, not values.
type Selection struct {
	Sell    domain.AssetSnapshot
	Buy     domain.AssetSnapshot
	Surplus decimal.Decimal
	Deficit decimal.Decimal
	Prices  domain.TradePrices
}

// sellRank orders sell candidates. Disabled collateral goes first because
// it has no chance of recovering value, sound collateral next, and
// potentially-recoverable collateral last.
func sellRank(s domain.CollateralStatus) int {
	switch s {
	case domain.StatusDisabled:
		return 2
	case domain.StatusIffy:
		return 0
	default:
		return 1
	}
}

// enoughToSell rejects excesses that would round to a zero-amount trade
// given the asset's decimals.
func enoughToSell(excess decimal.Decimal, decimals int32) bool {
	return excess.RoundFloor(decimals).IsPositive()
}

// SelectPair scans the snapshot once and returns the pair to act on, or
// nil when no deficit exists. deficitFound distinguishes "nothing to do"
// from "deficit exists but no sell candidate clears the dust threshold";
// the latter is the haircut signal.
func SelectPair(tctx *domain.TradingContext, r domain.BasketRange) (sel *Selection, deficitFound bool) {
	var (
		sellBest    *domain.AssetSnapshot
		sellRankfnd = -1
		sellValue   decimal.Decimal
		sellSurplus decimal.Decimal

		buyBest    *domain.AssetSnapshot
		buyValue   decimal.Decimal
		buyDeficit decimal.Decimal

		reserve *domain.AssetSnapshot
	)

	for i := range tctx.Assets {
		a := &tctx.Assets[i]
		if a.Reserve {
			reserve = a
			continue
		}

		// surplus test: excess over the optimistic requirement
		needTop := a.Quantity.Mul(r.Top)
		if a.Balance.GreaterThan(needTop) {
			excess := a.Balance.Sub(needTop)
			val := excess.Mul(a.LotPrice.Low)
			if a.LotPrice.Low.IsPositive() &&
				val.GreaterThanOrEqual(tctx.MinTradeVolume) &&
				enoughToSell(excess, a.Asset.Decimals) {
				rank := sellRank(a.Asset.Status)
				if rank > sellRankfnd || (rank == sellRankfnd && val.GreaterThan(sellValue)) {
					sellBest = a
					sellRankfnd = rank
					sellValue = val
					sellSurplus = excess
				}
			}
		}

		// deficit test: shortfall under the fully-backed requirement
		needBottom := a.Quantity.Mul(r.Bottom)
		if a.Balance.LessThan(needBottom) && a.PriceOK {
			shortfall := needBottom.Sub(a.Balance)
			val := shortfall.Mul(a.Price.High)
			if buyBest == nil || val.GreaterThan(buyValue) {
				buyBest = a
				buyValue = val
				buyDeficit = shortfall
			}
		}
	}

	if buyBest == nil {
		return nil, false
	}

	// no basket collateral worth selling: fall back to the reserve asset,
	// subject to the same dust rule
	if sellBest == nil && reserve != nil {
		val := reserve.Balance.Mul(reserve.LotPrice.Low)
		if reserve.LotPrice.Low.IsPositive() &&
			val.GreaterThanOrEqual(tctx.MinTradeVolume) &&
			enoughToSell(reserve.Balance, reserve.Asset.Decimals) {
			sellBest = reserve
			sellSurplus = reserve.Balance
		}
	}

	if sellBest == nil {
		return nil, true
	}

	return &Selection{
		Sell:    *sellBest,
		Buy:     *buyBest,
		Surplus: sellSurplus,
		Deficit: buyDeficit,
		Prices: domain.TradePrices{
			SellLow:  sellBest.LotPrice.Low,
			SellHigh: sellBest.LotPrice.High,
			BuyLow:   buyBest.Price.Low,
			BuyHigh:  buyBest.Price.High,
		},
	}, true
}
