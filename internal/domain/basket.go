package domain

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// BasketRange is a [bottom, top] estimate of reachable whole basket units.
// Bottom is the fully-backed pessimistic count, top the optimistic one.
type BasketRange struct {
	Bottom decimal.Decimal
	Top    decimal.Decimal
}

// NewBasketRange validates the range invariant 0 <= bottom <= top.
func NewBasketRange(bottom, top decimal.Decimal) (BasketRange, error) {
	if bottom.IsNegative() {
		return BasketRange{}, errors.New("basket range bottom must not be negative")
	}
	if bottom.GreaterThan(top) {
		return BasketRange{}, errors.Errorf("basket range bottom %s exceeds top %s", bottom, top)
	}
	return BasketRange{Bottom: bottom, Top: top}, nil
}

// TradingContext is an immutable per-cycle snapshot. It is captured once at
// cycle start so later steps never re-read a mutating registry mid-scan.
type TradingContext struct {
	// Held is the basket range covered by current holdings alone.
	Held BasketRange
	// BasketsNeeded basket units the issued token requires for full backing.
	BasketsNeeded decimal.Decimal
	// MinTradeVolume smallest trade value worth auctioning, reference units.
	MinTradeVolume decimal.Decimal
	// MaxTradeSlippage allowed execution slippage as a fraction in [0, 1).
	MaxTradeSlippage decimal.Decimal
	// BUPrice (low, high) value of one basket unit in reference units.
	BUPrice PriceBand
	// Assets every eligible asset except the issued token itself.
	Assets []AssetSnapshot
}

// Validate rejects snapshots the calculators cannot work with.
func (c *TradingContext) Validate() error {
	if !c.BUPrice.Low.IsPositive() || !c.BUPrice.High.IsPositive() {
		return errors.New("basket unit price must be positive")
	}
	if c.BUPrice.Low.GreaterThan(c.BUPrice.High) {
		return errors.New("basket unit price low exceeds high")
	}
	if c.MaxTradeSlippage.IsNegative() || c.MaxTradeSlippage.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return errors.Errorf("max trade slippage %s outside [0, 1)", c.MaxTradeSlippage)
	}
	if c.MinTradeVolume.IsNegative() {
		return errors.New("min trade volume must not be negative")
	}
	if c.BasketsNeeded.IsNegative() {
		return errors.New("baskets needed must not be negative")
	}
	return nil
}
