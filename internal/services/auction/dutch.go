// Package auction provides the two interchangeable trade-execution
// mechanisms: the in-process single-lot descending-price auction and the
// venue-routed batch mechanism.
package auction

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/DEFCONPRO/protocol/internal/domain"
)

const (
	// DefaultDuration of a dutch auction.
	DefaultDuration = 30 * time.Minute
	// MinDurationBlocks floor on the auction window, in network blocks.
	MinDurationBlocks = 20

	stageOneEnd   = 0.20
	stageTwoEnd   = 0.45
	stageThreeEnd = 0.95

	openingMultiplier = 1000
)

// ErrAuctionStillOpen is returned by Settle while bids are still accepted.
var ErrAuctionStillOpen = errors.New("auction still open")

// ErrBidTooLate is returned by Bid once the auction window has closed.
var ErrBidTooLate = errors.New("auction window closed")

// Exchanger applies a settled fill to the underlying balances.
type Exchanger interface {
	ApplyFill(sell, buy domain.Asset, soldAmount, boughtAmount decimal.Decimal) error
}

// PairDisabler records a sell/buy pair as barred from a mechanism kind.
// Invoked when a bid lands in stage one of a rebalancer-opened auction, a
// defense against anyone who could manipulate the opening price.
type PairDisabler interface {
	DisablePair(kind domain.TradeKind, sell, buy domain.Asset)
}

// Price evaluates the four-stage descending curve at progress f = elapsed
// divided by duration, clamped into [0, 1]. best and worst are buy-per-sell
// ratios.
func Price(f float64, best, worst decimal.Decimal) decimal.Decimal {
	switch {
	case f < 0:
		f = 0
	case f > 1:
		f = 1
	}

	switch {
	case f < stageOneEnd:
		// geometric fall from 1000*best to best
		exp := (stageOneEnd - f) / stageOneEnd
		return best.Mul(decimal.NewFromFloat(math.Pow(openingMultiplier, exp)))
	case f < stageTwoEnd:
		// linear fall from 1.5*best to best; the upward jump at the stage
		// boundary makes the early window unattractive to bid into
		progress := (f - stageOneEnd) / (stageTwoEnd - stageOneEnd)
		mult := 1.5 - 0.5*progress
		return best.Mul(decimal.NewFromFloat(mult))
	case f < stageThreeEnd:
		// linear fall from best to worst
		progress := (f - stageTwoEnd) / (stageThreeEnd - stageTwoEnd)
		return best.Sub(best.Sub(worst).Mul(decimal.NewFromFloat(progress)))
	default:
		return worst
	}
}

type dutchLot struct {
	auction  domain.Auction
	minBuy   decimal.Decimal
	filled   bool
	sold     decimal.Decimal
	bought   decimal.Decimal
	stageOne bool
}

// DutchMechanism runs single-lot, first-accepted-bid, falling-price
// auctions. An open auction cannot be cancelled early; it either fills or
// expires.
type DutchMechanism struct {
	l        *zap.Logger
	duration time.Duration
	now      func() time.Time

	exchanger Exchanger
	disabler  PairDisabler

	mu   sync.Mutex
	lots map[uuid.UUID]*dutchLot
}

// NewDutchMechanism builds the mechanism. blockTime enforces the minimum
// auction window of MinDurationBlocks network blocks.
func NewDutchMechanism(l *zap.Logger, duration, blockTime time.Duration, exchanger Exchanger, disabler PairDisabler) *DutchMechanism {
	if duration <= 0 {
		duration = DefaultDuration
	}
	if minDur := time.Duration(MinDurationBlocks) * blockTime; duration < minDur {
		duration = minDur
	}
	return &DutchMechanism{
		l:         l,
		duration:  duration,
		now:       time.Now,
		exchanger: exchanger,
		disabler:  disabler,
		lots:      make(map[uuid.UUID]*dutchLot),
	}
}

// Open starts an auction for the request. The opening price is derived
// from the price quad: best = sellHigh/buyLow, worst = minBuy/sellAmount.
func (d *DutchMechanism) Open(_ context.Context, req *domain.TradeRequest, prices domain.TradePrices) (*domain.Auction, error) {
	if !prices.BuyLow.IsPositive() {
		return nil, errors.New("buy low price must be positive to open a dutch auction")
	}

	best := prices.SellHigh.Div(prices.BuyLow)
	worst := req.MinBuyAmount.Div(req.SellAmount)
	if worst.GreaterThan(best) {
		best = worst
	}

	start := d.now()
	a := domain.Auction{
		ID:         uuid.New(),
		Sell:       req.Sell,
		Buy:        req.Buy,
		SellAmount: req.SellAmount,
		BestPrice:  best,
		WorstPrice: worst,
		StartTime:  start,
		EndTime:    start.Add(d.duration),
		Kind:       domain.KindDutch,
		Status:     domain.AuctionOpen,
	}

	d.mu.Lock()
	d.lots[a.ID] = &dutchLot{auction: a, minBuy: req.MinBuyAmount}
	d.mu.Unlock()

	d.l.Info("dutch auction opened",
		zap.String("id", a.ID.String()),
		zap.String("sell", a.Sell.Symbol),
		zap.String("buy", a.Buy.Symbol),
		zap.String("sell_amount", a.SellAmount.String()),
		zap.String("best_price", best.String()),
		zap.String("worst_price", worst.String()))

	return &a, nil
}

// CurrentPrice returns the curve price for an open auction at time t.
func (d *DutchMechanism) CurrentPrice(id uuid.UUID, t time.Time) (decimal.Decimal, error) {
	d.mu.Lock()
	lot, ok := d.lots[id]
	d.mu.Unlock()
	if !ok {
		return decimal.Decimal{}, errors.Errorf("unknown auction %s", id)
	}

	a := lot.auction
	f := float64(t.Sub(a.StartTime)) / float64(a.EndTime.Sub(a.StartTime))
	return Price(f, a.BestPrice, a.WorstPrice), nil
}

// Bid accepts the current price for the full lot. The auction settles
// immediately and irrevocably; there are no partial fills or re-openings.
func (d *DutchMechanism) Bid(_ context.Context, id uuid.UUID) (bought decimal.Decimal, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	lot, ok := d.lots[id]
	if !ok {
		return decimal.Decimal{}, errors.Errorf("unknown auction %s", id)
	}
	if lot.filled {
		return decimal.Decimal{}, errors.Errorf("auction %s already filled", id)
	}

	t := d.now()
	a := &lot.auction
	if !t.Before(a.EndTime) {
		return decimal.Decimal{}, ErrBidTooLate
	}

	f := float64(t.Sub(a.StartTime)) / float64(a.EndTime.Sub(a.StartTime))
	price := Price(f, a.BestPrice, a.WorstPrice)
	bought = price.Mul(a.SellAmount)

	if d.exchanger != nil {
		if err := d.exchanger.ApplyFill(a.Sell, a.Buy, a.SellAmount, bought); err != nil {
			return decimal.Decimal{}, errors.Wrap(err, "apply dutch fill")
		}
	}

	lot.filled = true
	lot.sold = a.SellAmount
	lot.bought = bought
	lot.stageOne = f < stageOneEnd
	a.Status = domain.AuctionFilled

	d.l.Info("dutch auction filled",
		zap.String("id", id.String()),
		zap.String("price", price.String()),
		zap.String("bought", bought.String()),
		zap.Bool("stage_one", lot.stageOne))

	return bought, nil
}

// Settle reports the auction outcome. While the window is open and no bid
// has landed it returns ErrAuctionStillOpen; once expired it settles
// unfilled with no asset movement.
func (d *DutchMechanism) Settle(_ context.Context, id uuid.UUID) (filled bool, sold, bought decimal.Decimal, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	lot, ok := d.lots[id]
	if !ok {
		return false, decimal.Decimal{}, decimal.Decimal{}, errors.Errorf("unknown auction %s", id)
	}

	a := &lot.auction
	if lot.filled {
		if lot.stageOne && d.disabler != nil {
			d.disabler.DisablePair(domain.KindDutch, a.Sell, a.Buy)
		}
		delete(d.lots, id)
		return true, lot.sold, lot.bought, nil
	}

	if d.now().Before(a.EndTime) {
		return false, decimal.Decimal{}, decimal.Decimal{}, ErrAuctionStillOpen
	}

	a.Status = domain.AuctionUnfilled
	delete(d.lots, id)
	d.l.Info("dutch auction expired unfilled", zap.String("id", id.String()))
	return false, decimal.Decimal{}, decimal.Decimal{}, nil
}
