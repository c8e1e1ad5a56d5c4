package selector

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/DEFCONPRO/protocol/internal/domain"
)

// ErrNoTrade means the builder could not derive strictly positive amounts
// from the selection. If the selector found a valid pair this indicates an
// internal inconsistency; the caller falls back to the haircut path.
var ErrNoTrade = errors.New("no executable trade for selection")

// BuildRequest converts a selection into concrete amounts.
//
// Emergency mode applies when the sell asset is unpriced or, being basket
// collateral, not sound: the sell amount is already fixed and the minimum
// buy is derived from it, favoring getting any trade done over holding an
// asset that may be worthless. Normal mode sizes the sell amount from the
// deficit instead, capped at the available surplus.
func BuildRequest(tctx *domain.TradingContext, sel *Selection, kind domain.TradeKind) (*domain.TradeRequest, error) {
	if !sel.Prices.SellLow.IsPositive() || !sel.Prices.BuyHigh.IsPositive() {
		return nil, ErrNoTrade
	}

	slippageKeep := decimal.NewFromInt(1).Sub(tctx.MaxTradeSlippage)

	// per-asset volume cap, expressed in sell tokens at the low valuation
	maxSell := sel.Surplus
	if sel.Sell.Asset.MaxTradeVolume.IsPositive() {
		cap := sel.Sell.Asset.MaxTradeVolume.Div(sel.Prices.SellLow)
		if cap.LessThan(maxSell) {
			maxSell = cap
		}
	}

	sellAmount := maxSell
	if !emergency(&sel.Sell) {
		// size the sell to cover the deficit at the worst-case price
		exact := sel.Deficit.Mul(sel.Prices.BuyHigh).Div(sel.Prices.SellLow.Mul(slippageKeep))
		if exact.LessThan(sellAmount) {
			sellAmount = exact
		}
	}

	sellAmount = sellAmount.RoundFloor(sel.Sell.Asset.Decimals)
	minBuy := sellAmount.Mul(sel.Prices.SellLow).Mul(slippageKeep).Div(sel.Prices.BuyHigh)
	minBuy = minBuy.RoundCeil(sel.Buy.Asset.Decimals)

	req, err := domain.NewTradeRequest(sel.Sell.Asset, sel.Buy.Asset, sellAmount, minBuy, kind)
	if err != nil {
		return nil, errors.Wrap(ErrNoTrade, err.Error())
	}
	return req, nil
}

// emergency reports whether the sell side disqualifies normal sizing.
func emergency(s *domain.AssetSnapshot) bool {
	if !s.PriceOK {
		return true
	}
	if s.Quantity.IsPositive() && s.Asset.Status != domain.StatusSound {
		return true
	}
	return false
}
