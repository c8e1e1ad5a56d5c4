// Package basketrange computes the achievable basket-unit range from
// current holdings and price uncertainty.
//
// The returned top is the best case if every remaining trade executes at
// the best observed price; bottom is the worst case assuming maximum
// allowed slippage and dust loss on every remaining trade. Under constant
// prices the band never widens from one cycle to the next, which is what
// guarantees eventual convergence to full collateralization.
package basketrange

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/DEFCONPRO/protocol/internal/domain"
)

// Calculate is a pure function of the snapshot: identical contexts yield
// identical ranges. The result satisfies 0 <= bottom <= top <= basketsNeeded.
func Calculate(tctx *domain.TradingContext) (domain.BasketRange, error) {
	if err := tctx.Validate(); err != nil {
		return domain.BasketRange{}, errors.Wrap(err, "invalid trading context")
	}

	heldTop := tctx.Held.Top
	if heldTop.GreaterThan(tctx.BasketsNeeded) {
		heldTop = tctx.BasketsNeeded
	}

	deltaTop := decimal.Zero // optimistic basket-unit delta, signed
	uncapped := decimal.Zero // pessimistic surplus value, reference units

	for i := range tctx.Assets {
		a := &tctx.Assets[i]

		// zero-quantity dust is unreachable by any trade; skip it
		if a.Quantity.IsZero() && a.Balance.Mul(a.LotPrice.Low).LessThan(tctx.MinTradeVolume) {
			continue
		}

		// optimistic: deficits valued low, surpluses valued high
		anchorTop := a.Quantity.Mul(heldTop)
		if a.Balance.LessThan(anchorTop) {
			deficit := anchorTop.Sub(a.Balance)
			deltaTop = deltaTop.Sub(deficit.Mul(a.LotPrice.Low).Div(tctx.BUPrice.High))
		} else {
			surplus := a.Balance.Sub(anchorTop)
			deltaTop = deltaTop.Add(surplus.Mul(a.LotPrice.High).Div(tctx.BUPrice.Low))
		}

		// pessimistic: surplus over the fully-backed anchor, valued low,
		// minus up to minTradeVolume of unavoidable dust loss per asset
		anchorBottom := a.Quantity.Mul(tctx.Held.Bottom)
		if a.Balance.GreaterThan(anchorBottom) {
			val := a.Balance.Sub(anchorBottom).Mul(a.LotPrice.Low)
			val = val.Sub(tctx.MinTradeVolume)
			if val.IsPositive() {
				uncapped = uncapped.Add(val)
			}
		}
	}

	top := heldTop.Add(deltaTop)
	if top.GreaterThan(tctx.BasketsNeeded) {
		top = tctx.BasketsNeeded
	}
	if top.IsNegative() {
		top = decimal.Zero
	}

	slippageKeep := decimal.NewFromInt(1).Sub(tctx.MaxTradeSlippage)
	bottom := tctx.Held.Bottom.Add(uncapped.Mul(slippageKeep).Div(tctx.BUPrice.High))
	if bottom.GreaterThan(top) {
		bottom = top
	}
	if bottom.IsNegative() {
		bottom = decimal.Zero
	}

	return domain.BasketRange{Bottom: bottom, Top: top}, nil
}

// FullyCollateralized reports whether holdings alone already cover the
// basket-unit target.
func FullyCollateralized(tctx *domain.TradingContext) bool {
	return tctx.Held.Bottom.GreaterThanOrEqual(tctx.BasketsNeeded)
}
