package auction

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DEFCONPRO/protocol/internal/domain"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestPriceCurve(t *testing.T) {
	best := dec("100")
	worst := dec("90")

	tests := []struct {
		name     string
		f        float64
		expected decimal.Decimal
	}{
		{name: "open", f: 0, expected: dec("100000")},
		{name: "stage two start", f: 0.20, expected: dec("150")},
		{name: "stage two midpoint", f: 0.325, expected: dec("125")},
		{name: "stage three start", f: 0.45, expected: dec("100")},
		{name: "stage three midpoint", f: 0.70, expected: dec("95")},
		{name: "stage four start", f: 0.95, expected: dec("90")},
		{name: "close", f: 1.0, expected: dec("90")},
		{name: "clamped above", f: 1.5, expected: dec("90")},
		{name: "clamped below", f: -0.5, expected: dec("100000")},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Price(tc.f, best, worst)
			require.True(t, tc.expected.Equal(got.Round(6)), "price(%v) = %s, want %s", tc.f, got, tc.expected)
		})
	}
}

func TestPriceCurveApproachesBestFromAbove(t *testing.T) {
	best := dec("100")
	worst := dec("90")

	// geometric stage converges to best just before the boundary, then
	// jumps up to 1.5x at the boundary itself
	nearEnd := Price(0.1999, best, worst)
	require.True(t, nearEnd.Sub(best).Abs().LessThan(dec("0.5")), "price = %s", nearEnd)
	require.True(t, nearEnd.GreaterThanOrEqual(best))
	require.True(t, Price(0.20, best, worst).GreaterThan(nearEnd))
}

func TestPriceCurveMonotoneWithinStages(t *testing.T) {
	best := dec("100")
	worst := dec("50")

	prev := Price(0, best, worst)
	for f := 0.01; f < 0.20; f += 0.01 {
		cur := Price(f, best, worst)
		require.True(t, cur.LessThanOrEqual(prev), "stage one rose at f=%v", f)
		prev = cur
	}
	prev = Price(0.20, best, worst)
	for f := 0.21; f < 1.0; f += 0.01 {
		cur := Price(f, best, worst)
		require.True(t, cur.LessThanOrEqual(prev), "price rose at f=%v", f)
		prev = cur
	}
}

type fillRecorder struct {
	sell, buy    domain.Asset
	sold, bought decimal.Decimal
	fills        int
	disabled     int
	disabledSell domain.Asset
	disabledBuy  domain.Asset
}

func (f *fillRecorder) ApplyFill(sell, buy domain.Asset, soldAmount, boughtAmount decimal.Decimal) error {
	f.sell, f.buy = sell, buy
	f.sold, f.bought = soldAmount, boughtAmount
	f.fills++
	return nil
}

func (f *fillRecorder) DisablePair(_ domain.TradeKind, sell, buy domain.Asset) {
	f.disabled++
	f.disabledSell = sell
	f.disabledBuy = buy
}

func testRequest(t *testing.T) (*domain.TradeRequest, domain.TradePrices) {
	t.Helper()
	sell := domain.Asset{Symbol: "TKA", Address: common.BytesToAddress([]byte{0x0a}), Decimals: 18}
	buy := domain.Asset{Symbol: "TKB", Address: common.BytesToAddress([]byte{0x0b}), Decimals: 18}
	req, err := domain.NewTradeRequest(sell, buy, dec("50"), dec("45"), domain.KindDutch)
	require.NoError(t, err)
	prices := domain.TradePrices{
		SellLow: dec("0.95"), SellHigh: dec("1"),
		BuyLow: dec("1"), BuyHigh: dec("1.05"),
	}
	return req, prices
}

func newTestMechanism(rec *fillRecorder) (*DutchMechanism, time.Time) {
	mech := NewDutchMechanism(zap.NewNop(), 30*time.Minute, time.Second, rec, rec)
	start := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	mech.now = func() time.Time { return start }
	return mech, start
}

func TestDutchOpenAndExpire(t *testing.T) {
	rec := &fillRecorder{}
	mech, start := newTestMechanism(rec)
	req, prices := testRequest(t)

	a, err := mech.Open(context.Background(), req, prices)
	require.NoError(t, err)
	require.Equal(t, domain.AuctionOpen, a.Status)
	require.Equal(t, start.Add(30*time.Minute), a.EndTime)

	// still open halfway through
	mech.now = func() time.Time { return start.Add(15 * time.Minute) }
	_, _, _, err = mech.Settle(context.Background(), a.ID)
	require.ErrorIs(t, err, ErrAuctionStillOpen)

	// expired: settles unfilled, no asset movement
	mech.now = func() time.Time { return start.Add(31 * time.Minute) }
	filled, _, _, err := mech.Settle(context.Background(), a.ID)
	require.NoError(t, err)
	require.False(t, filled)
	require.Zero(t, rec.fills)
}

func TestDutchBidSettlesAtCurvePrice(t *testing.T) {
	rec := &fillRecorder{}
	mech, start := newTestMechanism(rec)
	req, prices := testRequest(t)

	a, err := mech.Open(context.Background(), req, prices)
	require.NoError(t, err)

	// bid at f = 0.95: price held at worst = minBuy/sellAmount = 0.9
	mech.now = func() time.Time { return start.Add(time.Duration(0.95 * float64(30*time.Minute))) }
	bought, err := mech.Bid(context.Background(), a.ID)
	require.NoError(t, err)
	require.True(t, bought.Equal(dec("45")), "bought = %s", bought)
	require.Equal(t, 1, rec.fills)
	require.True(t, rec.sold.Equal(dec("50")))

	filled, sold, gotBought, err := mech.Settle(context.Background(), a.ID)
	require.NoError(t, err)
	require.True(t, filled)
	require.True(t, sold.Equal(dec("50")))
	require.True(t, gotBought.Equal(dec("45")))
	// a late-stage fill does not bar the pair
	require.Zero(t, rec.disabled)

	// second bid on a settled auction is rejected
	_, err = mech.Bid(context.Background(), a.ID)
	require.Error(t, err)
}

func TestDutchStageOneBidDisablesPair(t *testing.T) {
	rec := &fillRecorder{}
	mech, start := newTestMechanism(rec)
	req, prices := testRequest(t)

	a, err := mech.Open(context.Background(), req, prices)
	require.NoError(t, err)

	// bid lands in the manipulable opening window
	mech.now = func() time.Time { return start.Add(time.Minute) }
	_, err = mech.Bid(context.Background(), a.ID)
	require.NoError(t, err)

	filled, _, _, err := mech.Settle(context.Background(), a.ID)
	require.NoError(t, err)
	require.True(t, filled)
	require.Equal(t, 1, rec.disabled)
	require.Equal(t, "TKA", rec.disabledSell.Symbol)
	require.Equal(t, "TKB", rec.disabledBuy.Symbol)
}

func TestDutchBidAfterCloseRejected(t *testing.T) {
	rec := &fillRecorder{}
	mech, start := newTestMechanism(rec)
	req, prices := testRequest(t)

	a, err := mech.Open(context.Background(), req, prices)
	require.NoError(t, err)

	mech.now = func() time.Time { return start.Add(time.Hour) }
	_, err = mech.Bid(context.Background(), a.ID)
	require.ErrorIs(t, err, ErrBidTooLate)
}

func TestDutchMinimumDuration(t *testing.T) {
	mech := NewDutchMechanism(zap.NewNop(), time.Minute, 12*time.Second, nil, nil)
	require.Equal(t, 20*12*time.Second, mech.duration)
}
