package domain

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// TradeKind selects the execution mechanism for a trade.
type TradeKind int

const (
	// KindDutch single-lot descending-price auction.
	KindDutch TradeKind = iota
	// KindBatch sealed-bid batch auction routed to an external venue.
	KindBatch
)

// String returns the string representation of the kind.
func (k TradeKind) String() string {
	switch k {
	case KindDutch:
		return "dutch"
	case KindBatch:
		return "batch"
	default:
		return "unknown"
	}
}

// TradePrices is the price quad a trade request was derived from.
// Sell side uses the lot price band, buy side the primary band.
type TradePrices struct {
	SellLow  decimal.Decimal
	SellHigh decimal.Decimal
	BuyLow   decimal.Decimal
	BuyHigh  decimal.Decimal
}

// TradeRequest is a concrete instruction to swap one asset for another.
type TradeRequest struct {
	Sell Asset
	Buy  Asset
	// SellAmount tokens of Sell to offer.
	SellAmount decimal.Decimal
	// MinBuyAmount least tokens of Buy acceptable for the full lot.
	MinBuyAmount decimal.Decimal
	Kind         TradeKind
}

// NewTradeRequest validates the request invariants before it is emitted.
func NewTradeRequest(sell, buy Asset, sellAmount, minBuyAmount decimal.Decimal, kind TradeKind) (*TradeRequest, error) {
	if sell.Address == buy.Address {
		return nil, errors.Errorf("trade request sell and buy are the same asset %s", sell.Symbol)
	}
	if !sellAmount.IsPositive() {
		return nil, errors.Errorf("trade request sell amount %s must be positive", sellAmount)
	}
	if !minBuyAmount.IsPositive() {
		return nil, errors.Errorf("trade request min buy amount %s must be positive", minBuyAmount)
	}
	return &TradeRequest{
		Sell:         sell,
		Buy:          buy,
		SellAmount:   sellAmount,
		MinBuyAmount: minBuyAmount,
		Kind:         kind,
	}, nil
}

// String returns a human-readable representation.
func (r *TradeRequest) String() string {
	return fmt.Sprintf("%s: sell %s %s for >= %s %s",
		r.Kind, r.SellAmount, r.Sell.Symbol, r.MinBuyAmount, r.Buy.Symbol)
}
