package selector

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/DEFCONPRO/protocol/internal/domain"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func snap(sym string, id byte, balance, quantity, price string, status domain.CollateralStatus) domain.AssetSnapshot {
	band := domain.PriceBand{Low: dec(price), High: dec(price)}
	return domain.AssetSnapshot{
		Asset: domain.Asset{
			Symbol:   sym,
			Address:  common.BytesToAddress([]byte{id}),
			Decimals: 18,
			Status:   status,
		},
		Balance:  dec(balance),
		Quantity: dec(quantity),
		Price:    band,
		PriceOK:  true,
		LotPrice: band,
	}
}

func reserveSnap(balance string) domain.AssetSnapshot {
	s := snap("RSV", 0xff, balance, "0", "1", domain.StatusSound)
	s.Reserve = true
	return s
}

func testContext(assets ...domain.AssetSnapshot) *domain.TradingContext {
	return &domain.TradingContext{
		Held:             domain.BasketRange{Bottom: dec("50"), Top: dec("100")},
		BasketsNeeded:    dec("100"),
		MinTradeVolume:   dec("1"),
		MaxTradeSlippage: decimal.Zero,
		BUPrice:          domain.PriceBand{Low: dec("2"), High: dec("2")},
		Assets:           assets,
	}
}

func TestSelectPairNoDeficit(t *testing.T) {
	tctx := testContext(
		snap("TKA", 0x0a, "150", "1", "1", domain.StatusSound),
		snap("TKB", 0x0b, "100", "1", "1", domain.StatusSound),
	)

	sel, deficitFound := SelectPair(tctx, domain.BasketRange{Bottom: dec("90"), Top: dec("100")})
	require.Nil(t, sel)
	require.False(t, deficitFound)
}

func TestSelectPairPicksLargestDeficit(t *testing.T) {
	tctx := testContext(
		snap("TKA", 0x0a, "150", "1", "1", domain.StatusSound),
		snap("TKB", 0x0b, "40", "1", "1", domain.StatusSound),
		snap("TKC", 0x0c, "80", "1", "1", domain.StatusSound),
	)

	sel, deficitFound := SelectPair(tctx, domain.BasketRange{Bottom: dec("90"), Top: dec("100")})
	require.True(t, deficitFound)
	require.NotNil(t, sel)
	require.Equal(t, "TKA", sel.Sell.Asset.Symbol)
	require.Equal(t, "TKB", sel.Buy.Asset.Symbol)
	require.True(t, sel.Surplus.Equal(dec("50")))
	require.True(t, sel.Deficit.Equal(dec("50")))
	require.NotEqual(t, sel.Sell.Asset.Address, sel.Buy.Asset.Address)
}

func TestSelectPairPrefersSoundOverIffy(t *testing.T) {
	// iffy surplus is worth 100, sound surplus only 50; rank still wins
	tctx := testContext(
		snap("IFF", 0x0a, "200", "1", "1", domain.StatusIffy),
		snap("SND", 0x0b, "150", "1", "1", domain.StatusSound),
		snap("DEF", 0x0c, "40", "1", "1", domain.StatusSound),
	)

	sel, _ := SelectPair(tctx, domain.BasketRange{Bottom: dec("90"), Top: dec("100")})
	require.NotNil(t, sel)
	require.Equal(t, "SND", sel.Sell.Asset.Symbol)
}

func TestSelectPairPrefersDisabledOverSound(t *testing.T) {
	tctx := testContext(
		snap("BAD", 0x0a, "110", "1", "1", domain.StatusDisabled),
		snap("SND", 0x0b, "200", "1", "1", domain.StatusSound),
		snap("DEF", 0x0c, "40", "1", "1", domain.StatusSound),
	)

	sel, _ := SelectPair(tctx, domain.BasketRange{Bottom: dec("90"), Top: dec("100")})
	require.NotNil(t, sel)
	require.Equal(t, "BAD", sel.Sell.Asset.Symbol)
}

func TestSelectPairBreaksTiesByValue(t *testing.T) {
	tctx := testContext(
		snap("SM", 0x0a, "120", "1", "1", domain.StatusSound),
		snap("LG", 0x0b, "180", "1", "1", domain.StatusSound),
		snap("DEF", 0x0c, "40", "1", "1", domain.StatusSound),
	)

	sel, _ := SelectPair(tctx, domain.BasketRange{Bottom: dec("90"), Top: dec("100")})
	require.NotNil(t, sel)
	require.Equal(t, "LG", sel.Sell.Asset.Symbol)
}

func TestSelectPairDustSurplusIgnored(t *testing.T) {
	// 0.5 of surplus value is below the 1.0 trade floor
	tctx := testContext(
		snap("TKA", 0x0a, "100.5", "1", "1", domain.StatusSound),
		snap("TKB", 0x0b, "40", "1", "1", domain.StatusSound),
	)

	sel, deficitFound := SelectPair(tctx, domain.BasketRange{Bottom: dec("90"), Top: dec("100")})
	require.True(t, deficitFound)
	require.Nil(t, sel)
}

func TestSelectPairFallsBackToReserve(t *testing.T) {
	tctx := testContext(
		snap("TKA", 0x0a, "100", "1", "1", domain.StatusSound),
		snap("TKB", 0x0b, "40", "1", "1", domain.StatusSound),
		reserveSnap("500"),
	)

	sel, deficitFound := SelectPair(tctx, domain.BasketRange{Bottom: dec("90"), Top: dec("100")})
	require.True(t, deficitFound)
	require.NotNil(t, sel)
	require.Equal(t, "RSV", sel.Sell.Asset.Symbol)
	require.True(t, sel.Surplus.Equal(dec("500")))
}

func TestSelectPairReserveDustRejected(t *testing.T) {
	tctx := testContext(
		snap("TKB", 0x0b, "40", "1", "1", domain.StatusSound),
		reserveSnap("0.5"),
	)

	sel, deficitFound := SelectPair(tctx, domain.BasketRange{Bottom: dec("90"), Top: dec("100")})
	require.True(t, deficitFound)
	require.Nil(t, sel)
}

func TestSelectPairSkipsUnpricedBuyCandidates(t *testing.T) {
	unpriced := snap("UNP", 0x0b, "40", "1", "1", domain.StatusUnpriced)
	unpriced.PriceOK = false

	tctx := testContext(
		snap("TKA", 0x0a, "150", "1", "1", domain.StatusSound),
		unpriced,
	)

	sel, deficitFound := SelectPair(tctx, domain.BasketRange{Bottom: dec("90"), Top: dec("100")})
	require.Nil(t, sel)
	require.False(t, deficitFound)
}

func TestBuildRequestNormalMode(t *testing.T) {
	tctx := testContext()
	tctx.MaxTradeSlippage = dec("0.1")

	sell := snap("TKA", 0x0a, "150", "1", "2", domain.StatusSound)
	buy := snap("TKB", 0x0b, "40", "1", "1", domain.StatusSound)
	sel := &Selection{
		Sell:    sell,
		Buy:     buy,
		Surplus: dec("50"),
		Deficit: dec("60"),
		Prices: domain.TradePrices{
			SellLow: dec("2"), SellHigh: dec("2"),
			BuyLow: dec("1"), BuyHigh: dec("1"),
		},
	}

	req, err := BuildRequest(tctx, sel, domain.KindDutch)
	require.NoError(t, err)
	// covering a 60-token deficit at worst-case prices needs
	// 60 * 1 / (2 * 0.9) = 33.33..., under the 50-token surplus
	require.True(t, req.SellAmount.LessThan(dec("50")))
	require.True(t, req.SellAmount.IsPositive())
	require.True(t, req.MinBuyAmount.IsPositive())
	// the minimum buy keeps at most maxTradeSlippage of the sell value
	require.True(t, req.MinBuyAmount.LessThanOrEqual(req.SellAmount.Mul(dec("2"))))
}

func TestBuildRequestNormalModeCappedBySurplus(t *testing.T) {
	tctx := testContext()

	sell := snap("TKA", 0x0a, "150", "1", "1", domain.StatusSound)
	buy := snap("TKB", 0x0b, "40", "1", "1", domain.StatusSound)
	sel := &Selection{
		Sell:    sell,
		Buy:     buy,
		Surplus: dec("50"),
		Deficit: dec("500"),
		Prices: domain.TradePrices{
			SellLow: dec("1"), SellHigh: dec("1"),
			BuyLow: dec("1"), BuyHigh: dec("1"),
		},
	}

	req, err := BuildRequest(tctx, sel, domain.KindDutch)
	require.NoError(t, err)
	require.True(t, req.SellAmount.Equal(dec("50")))
	require.True(t, req.MinBuyAmount.Equal(dec("50")))
}

func TestBuildRequestEmergencyModeSellsWholeSurplus(t *testing.T) {
	tctx := testContext()

	sell := snap("BAD", 0x0a, "150", "1", "1", domain.StatusDisabled)
	buy := snap("TKB", 0x0b, "40", "1", "1", domain.StatusSound)
	sel := &Selection{
		Sell:    sell,
		Buy:     buy,
		Surplus: dec("50"),
		Deficit: dec("10"),
		Prices: domain.TradePrices{
			SellLow: dec("1"), SellHigh: dec("1"),
			BuyLow: dec("1"), BuyHigh: dec("1"),
		},
	}

	req, err := BuildRequest(tctx, sel, domain.KindDutch)
	require.NoError(t, err)
	// emergency mode keeps the fixed sell amount even past the deficit
	require.True(t, req.SellAmount.Equal(dec("50")))
}

func TestBuildRequestVolumeCap(t *testing.T) {
	tctx := testContext()

	sell := snap("TKA", 0x0a, "1000", "1", "1", domain.StatusSound)
	sell.Asset.MaxTradeVolume = dec("20")
	buy := snap("TKB", 0x0b, "40", "1", "1", domain.StatusSound)
	sel := &Selection{
		Sell:    sell,
		Buy:     buy,
		Surplus: dec("500"),
		Deficit: dec("400"),
		Prices: domain.TradePrices{
			SellLow: dec("1"), SellHigh: dec("1"),
			BuyLow: dec("1"), BuyHigh: dec("1"),
		},
	}

	req, err := BuildRequest(tctx, sel, domain.KindDutch)
	require.NoError(t, err)
	require.True(t, req.SellAmount.Equal(dec("20")))
}

func TestBuildRequestNoTrade(t *testing.T) {
	tctx := testContext()

	sell := snap("TKA", 0x0a, "150", "1", "0", domain.StatusSound)
	buy := snap("TKB", 0x0b, "40", "1", "1", domain.StatusSound)
	sel := &Selection{
		Sell:    sell,
		Buy:     buy,
		Surplus: dec("50"),
		Deficit: dec("10"),
		Prices:  domain.TradePrices{BuyHigh: dec("1")},
	}

	_, err := BuildRequest(tctx, sel, domain.KindDutch)
	require.ErrorIs(t, err, ErrNoTrade)
}
