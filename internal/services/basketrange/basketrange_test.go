package basketrange

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

func collateral(sym string, id byte, balance, quantity, price string) domain.AssetSnapshot {
	band := domain.PriceBand{Low: dec(price), High: dec(price)}
	return domain.AssetSnapshot{
		Asset: domain.Asset{
			Symbol:   sym,
			Address:  common.BytesToAddress([]byte{id}),
			Decimals: 18,
			Status:   domain.StatusSound,
		},
		Balance:  dec(balance),
		Quantity: dec(quantity),
		Price:    band,
		PriceOK:  true,
		LotPrice: band,
	}
}

func twoAssetContext(balA, balB string) *domain.TradingContext {
	a := collateral("TKA", 0x0a, balA, "1", "1")
	b := collateral("TKB", 0x0b, balB, "1", "1")

	bottom := a.Balance
	top := a.Balance
	if b.Balance.LessThan(bottom) {
		bottom = b.Balance
	}
	if b.Balance.GreaterThan(top) {
		top = b.Balance
	}

	return &domain.TradingContext{
		Held:             domain.BasketRange{Bottom: bottom, Top: top},
		BasketsNeeded:    dec("100"),
		MinTradeVolume:   dec("1"),
		MaxTradeSlippage: decimal.Zero,
		BUPrice:          domain.PriceBand{Low: dec("2"), High: dec("2")},
		Assets:           []domain.AssetSnapshot{a, b},
	}
}

func TestCalculateSurplusAndDeficit(t *testing.T) {
	tctx := twoAssetContext("150", "50")

	rng, err := Calculate(tctx)
	require.NoError(t, err)

	// surplus and deficit of equal value cancel in the optimistic bound
	require.True(t, rng.Top.Equal(dec("100")), "top = %s", rng.Top)
	// 100 tokens of surplus over the backed anchor, 1 unit of dust loss,
	// divided by the basket-unit high price
	require.True(t, rng.Bottom.Equal(dec("99.5")), "bottom = %s", rng.Bottom)
}

func TestCalculateInvariant(t *testing.T) {
	tests := []struct {
		name string
		tctx *domain.TradingContext
	}{
		{name: "balanced", tctx: twoAssetContext("100", "100")},
		{name: "deep deficit", tctx: twoAssetContext("5", "200")},
		{name: "all surplus", tctx: twoAssetContext("400", "300")},
		{name: "empty", tctx: twoAssetContext("0", "0")},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rng, err := Calculate(tc.tctx)
			require.NoError(t, err)
			require.False(t, rng.Bottom.IsNegative())
			require.True(t, rng.Bottom.LessThanOrEqual(rng.Top))
			require.True(t, rng.Top.LessThanOrEqual(tc.tctx.BasketsNeeded))
		})
	}
}

func TestCalculateIsPure(t *testing.T) {
	tctx := twoAssetContext("150", "50")

	first, err := Calculate(tctx)
	require.NoError(t, err)
	second, err := Calculate(tctx)
	require.NoError(t, err)

	require.True(t, first.Bottom.Equal(second.Bottom))
	require.True(t, first.Top.Equal(second.Top))
}

func TestCalculateSlippageLowersBottom(t *testing.T) {
	tctx := twoAssetContext("150", "50")
	tctx.MaxTradeSlippage = dec("0.1")

	rng, err := Calculate(tctx)
	require.NoError(t, err)

	// bottom keeps only (1 - slippage) of the pessimistic surplus value:
	// 50 + 99 * 0.9 / 2
	require.True(t, rng.Bottom.Equal(dec("94.55")), "bottom = %s", rng.Bottom)
}

func TestCalculateMonotonicConvergence(t *testing.T) {
	before := twoAssetContext("150", "50")
	rngBefore, err := Calculate(before)
	require.NoError(t, err)

	// a trade executed at the worst allowed price moves 49.5 of the
	// surplus asset into the deficit asset value-for-value
	after := twoAssetContext("100.5", "99.5")
	rngAfter, err := Calculate(after)
	require.NoError(t, err)

	require.True(t, rngAfter.Bottom.GreaterThanOrEqual(rngBefore.Bottom),
		"bottom regressed from %s to %s", rngBefore.Bottom, rngAfter.Bottom)
}

func TestCalculateSkipsZeroQuantityDust(t *testing.T) {
	tctx := twoAssetContext("150", "50")
	dust := collateral("DST", 0x0d, "0.5", "0", "1")
	tctx.Assets = append(tctx.Assets, dust)

	rng, err := Calculate(tctx)
	require.NoError(t, err)

	// 0.5 value is below the 1.0 trade floor: no contribution either way
	require.True(t, rng.Top.Equal(dec("100")), "top = %s", rng.Top)
	require.True(t, rng.Bottom.Equal(dec("99.5")), "bottom = %s", rng.Bottom)
}

func TestCalculateRejectsBadContext(t *testing.T) {
	tctx := twoAssetContext("150", "50")
	tctx.BUPrice = domain.PriceBand{}

	_, err := Calculate(tctx)
	require.Error(t, err)
}

func TestFullyCollateralized(t *testing.T) {
	tctx := twoAssetContext("100", "100")
	require.True(t, FullyCollateralized(tctx))

	tctx = twoAssetContext("150", "50")
	require.False(t, FullyCollateralized(tctx))
}
