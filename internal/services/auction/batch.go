package auction

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	binancecommon "github.com/adshao/go-binance/v2/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/DEFCONPRO/protocol/internal/domain"
)

const batchClientOrderPrefix = "recol-batch-"

// BatchMechanism routes a trade to an external sealed-bid venue as a limit
// order at the worst acceptable price. It implements the same contract as
// the dutch mechanism; settlement is a status poll against the venue.
type BatchMechanism struct {
	l        *zap.Logger
	client   *binance.Client
	duration time.Duration
	now      func() time.Time

	mu     sync.Mutex
	orders map[uuid.UUID]batchOrder
}

type batchOrder struct {
	auction       domain.Auction
	clientOrderID string
	symbol        string
}

// NewBatchMechanism builds the venue-routed mechanism.
func NewBatchMechanism(l *zap.Logger, client *binance.Client, duration time.Duration) *BatchMechanism {
	if duration <= 0 {
		duration = DefaultDuration
	}
	return &BatchMechanism{
		l:        l,
		client:   client,
		duration: duration,
		now:      time.Now,
		orders:   make(map[uuid.UUID]batchOrder),
	}
}

// Open submits the sell lot as a limit order at the worst acceptable
// price; any execution at or above it satisfies the request.
func (b *BatchMechanism) Open(ctx context.Context, req *domain.TradeRequest, prices domain.TradePrices) (*domain.Auction, error) {
	worst := req.MinBuyAmount.Div(req.SellAmount)
	best := worst
	if prices.BuyLow.IsPositive() {
		if p := prices.SellHigh.Div(prices.BuyLow); p.GreaterThan(best) {
			best = p
		}
	}

	id := uuid.New()
	clientOrderID := fmt.Sprintf("%s%s", batchClientOrderPrefix, id)
	symbol := req.Sell.Symbol + req.Buy.Symbol

	_, err := b.client.NewCreateOrderService().Symbol(symbol).
		Side(binance.SideTypeSell).Type(binance.OrderTypeLimit).
		TimeInForce(binance.TimeInForceTypeGTC).
		Quantity(req.SellAmount.String()).
		Price(worst.String()).
		NewClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to submit batch order %s", symbol)
	}

	start := b.now()
	a := domain.Auction{
		ID:         id,
		Sell:       req.Sell,
		Buy:        req.Buy,
		SellAmount: req.SellAmount,
		BestPrice:  best,
		WorstPrice: worst,
		StartTime:  start,
		EndTime:    start.Add(b.duration),
		Kind:       domain.KindBatch,
		Status:     domain.AuctionOpen,
	}

	b.mu.Lock()
	b.orders[id] = batchOrder{auction: a, clientOrderID: clientOrderID, symbol: symbol}
	b.mu.Unlock()

	b.l.Info("batch order submitted",
		zap.String("id", id.String()),
		zap.String("symbol", symbol),
		zap.String("sell_amount", req.SellAmount.String()),
		zap.String("limit_price", worst.String()))

	return &a, nil
}

// Settle polls the venue for the order outcome. An order still working
// before the window closes reports ErrAuctionStillOpen; once the window
// has closed an unfilled order is cancelled and settles unfilled.
func (b *BatchMechanism) Settle(ctx context.Context, id uuid.UUID) (filled bool, sold, bought decimal.Decimal, err error) {
	b.mu.Lock()
	ord, ok := b.orders[id]
	b.mu.Unlock()
	if !ok {
		return false, decimal.Decimal{}, decimal.Decimal{}, errors.Errorf("unknown batch order %s", id)
	}

	order, err := b.client.NewGetOrderService().
		Symbol(ord.symbol).
		OrigClientOrderID(ord.clientOrderID).
		Do(ctx)
	if err != nil {
		if apiErr, ok := err.(*binancecommon.APIError); ok && apiErr.Code == -2013 {
			// order does not exist yet
			return false, decimal.Decimal{}, decimal.Decimal{}, ErrAuctionStillOpen
		}
		return false, decimal.Decimal{}, decimal.Decimal{}, errors.Wrap(err, "failed to query batch order status")
	}

	switch order.Status {
	case binance.OrderStatusTypeFilled:
		executedQty, parseErr := decimal.NewFromString(order.ExecutedQuantity)
		if parseErr != nil {
			return false, decimal.Decimal{}, decimal.Decimal{}, errors.Wrap(parseErr, "failed to parse executed quantity")
		}
		quoteQty, parseErr := decimal.NewFromString(order.CummulativeQuoteQuantity)
		if parseErr != nil {
			return false, decimal.Decimal{}, decimal.Decimal{}, errors.Wrap(parseErr, "failed to parse quote quantity")
		}

		b.finish(id)
		return true, executedQty, quoteQty, nil

	case binance.OrderStatusTypeCanceled, binance.OrderStatusTypeRejected, binance.OrderStatusTypeExpired:
		b.finish(id)
		return false, decimal.Decimal{}, decimal.Decimal{}, nil

	default:
		if b.now().Before(ord.auction.EndTime) {
			return false, decimal.Decimal{}, decimal.Decimal{}, ErrAuctionStillOpen
		}
		// window closed with the order still working: pull it
		_, cancelErr := b.client.NewCancelOrderService().
			Symbol(ord.symbol).
			OrigClientOrderID(ord.clientOrderID).
			Do(ctx)
		if cancelErr != nil {
			return false, decimal.Decimal{}, decimal.Decimal{}, errors.Wrap(cancelErr, "failed to cancel expired batch order")
		}
		b.finish(id)
		return false, decimal.Decimal{}, decimal.Decimal{}, nil
	}
}

func (b *BatchMechanism) finish(id uuid.UUID) {
	b.mu.Lock()
	delete(b.orders, id)
	b.mu.Unlock()
}
