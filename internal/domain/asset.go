// Package domain defines core data structures used throughout the
// recollateralization engine.
package domain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// CollateralStatus classifies the reliability of an asset's price/peg.
// It is only meaningful for assets that are part of the backing basket.
type CollateralStatus int

const (
	// StatusSound means the asset is priced and on peg.
	StatusSound CollateralStatus = iota
	// StatusIffy means the asset is off peg but may recover.
	StatusIffy
	// StatusDisabled means the asset has permanently defaulted.
	StatusDisabled
	// StatusUnpriced means no primary price is available for the asset.
	StatusUnpriced
)

// status string constants to avoid magic strings
const (
	statusStringSound    = "sound"
	statusStringIffy     = "iffy"
	statusStringDisabled = "disabled"
	statusStringUnpriced = "unpriced"
)

// String returns the string representation of the status.
func (s CollateralStatus) String() string {
	switch s {
	case StatusSound:
		return statusStringSound
	case StatusIffy:
		return statusStringIffy
	case StatusDisabled:
		return statusStringDisabled
	case StatusUnpriced:
		return statusStringUnpriced
	default:
		return "unknown"
	}
}

// Asset identifies one reserve asset held by the engine.
type Asset struct {
	// Symbol human-readable ticker, used in logs and venue symbols.
	Symbol string
	// Address ERC-20 contract address, the canonical identity.
	Address common.Address
	// Decimals token decimals, used by the enough-to-sell rounding rule.
	Decimals int32
	// Status price/peg classification of the asset.
	Status CollateralStatus
	// MaxTradeVolume cap on the value of a single trade, in reference units.
	MaxTradeVolume decimal.Decimal
}

// String returns a human-readable representation.
func (a *Asset) String() string {
	return fmt.Sprintf("%s (%s)", a.Symbol, a.Address.Hex())
}

// PriceBand is a (low, high) price estimate in reference units per token.
type PriceBand struct {
	Low  decimal.Decimal
	High decimal.Decimal
}

// AssetSnapshot is one asset's state captured into a TradingContext.
type AssetSnapshot struct {
	Asset Asset
	// Balance tokens held by the engine. For the reserve asset this
	// already includes the staking pool balance.
	Balance decimal.Decimal
	// Quantity target tokens per basket unit; zero for non-basket assets.
	Quantity decimal.Decimal
	// Price primary (low, high) estimate; valid only when PriceOK.
	Price PriceBand
	// PriceOK false means the primary feed is unavailable and callers
	// must assume (0, +inf).
	PriceOK bool
	// LotPrice fallback (low, high) estimate, always available, decaying
	// toward zero while the primary feed is stale.
	LotPrice PriceBand
	// Reserve marks the over-collateralization reserve asset.
	Reserve bool
}
