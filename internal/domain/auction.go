package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AuctionStatus lifecycle state of a single-lot auction.
type AuctionStatus int

const (
	// AuctionOpen accepting bids.
	AuctionOpen AuctionStatus = iota
	// AuctionFilled settled against an accepted bid.
	AuctionFilled
	// AuctionUnfilled expired with no bid, no asset movement.
	AuctionUnfilled
)

// String returns the string representation of the status.
func (s AuctionStatus) String() string {
	switch s {
	case AuctionOpen:
		return "open"
	case AuctionFilled:
		return "filled"
	case AuctionUnfilled:
		return "unfilled"
	default:
		return "unknown"
	}
}

// Auction is one single-lot trade in flight. At most one auction per kind
// may be open at a time system-wide.
type Auction struct {
	ID   uuid.UUID `json:"id"`
	Sell Asset     `json:"sell"`
	Buy  Asset     `json:"buy"`
	// SellAmount full lot size in sell tokens; no partial fills.
	SellAmount decimal.Decimal `json:"sell_amount"`
	// BestPrice opening reference price, buy tokens per sell token.
	BestPrice decimal.Decimal `json:"best_price"`
	// WorstPrice least acceptable price, buy tokens per sell token.
	WorstPrice decimal.Decimal `json:"worst_price"`
	StartTime  time.Time       `json:"start_time"`
	EndTime    time.Time       `json:"end_time"`
	Kind       TradeKind       `json:"kind"`
	Status     AuctionStatus   `json:"status"`
}

// String returns a human-readable representation.
func (a *Auction) String() string {
	return fmt.Sprintf("%s auction %s: %s %s -> %s, %s",
		a.Kind, a.ID, a.SellAmount, a.Sell.Symbol, a.Buy.Symbol, a.Status)
}
