package amm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jwpark-dev/hyflow/pkg/market"
)

func testMarket(t *testing.T, priceDec, sizeDec int) *market.Market {
	t.Helper()
	m, err := market.New(market.Market{
		Pair:          "VIX10-USD",
		BaseAsset:     "VIX10",
		QuoteAsset:    "USD",
		PriceDecimals: priceDec,
		SizeDecimals:  sizeDec,
		PriceStep:     1,
		SizeStep:      1,
		MinOrderSize:  1,
		MaxOrderSize:  1 << 40,
	})
	require.NoError(t, err)
	return m
}

func TestSpotPrice(t *testing.T) {
	mkt := testMarket(t, 2, 2)
	// 1000.00 base, 10000.00 quote -> spot 10.00
	p, err := NewPool(mkt, 100_000, 1_000_000, 30)
	require.NoError(t, err)
	require.Equal(t, int64(1000), p.SpotPrice())
}

func TestExecutePreservesProduct(t *testing.T) {
	mkt := testMarket(t, 2, 2)
	p, err := NewPool(mkt, 100_000, 1_000_000, 30)
	require.NoError(t, err)

	for _, in := range []int64{137, 5_000, 99_999, 250_000} {
		rb0, rq0 := p.Reserves()
		k0 := rb0 * rq0
		_, err := p.Execute(Buy, in)
		require.NoError(t, err)
		rb1, rq1 := p.Reserves()
		require.GreaterOrEqual(t, rb1*rq1, k0, "constant product decreased on buy of %d", in)

		k1 := rb1 * rq1
		_, err = p.Execute(Sell, in)
		require.NoError(t, err)
		rb2, rq2 := p.Reserves()
		require.GreaterOrEqual(t, rb2*rq2, k1, "constant product decreased on sell of %d", in)
	}
}

func TestQuoteDoesNotMutate(t *testing.T) {
	mkt := testMarket(t, 2, 2)
	p, err := NewPool(mkt, 100_000, 1_000_000, 30)
	require.NoError(t, err)

	q, err := p.QuoteSwap(Buy, 10_000)
	require.NoError(t, err)
	require.Positive(t, q.AmountOut)
	require.Positive(t, q.PriceImpactBps)
	require.Greater(t, q.NewSpotPrice, p.SpotPrice())

	rb, rq := p.Reserves()
	require.Equal(t, int64(100_000), rb)
	require.Equal(t, int64(1_000_000), rq)
}

func TestBuyRaisesSellLowersSpot(t *testing.T) {
	mkt := testMarket(t, 2, 2)
	p, err := NewPool(mkt, 100_000, 1_000_000, 0)
	require.NoError(t, err)

	before := p.SpotPrice()
	_, err = p.Execute(Buy, 50_000)
	require.NoError(t, err)
	require.Greater(t, p.SpotPrice(), before)

	mid := p.SpotPrice()
	_, err = p.Execute(Sell, 10_000)
	require.NoError(t, err)
	require.Less(t, p.SpotPrice(), mid)
}

func TestExecuteUntilPriceStopsAtLimit(t *testing.T) {
	mkt := testMarket(t, 0, 0)
	// Zero-fee pool at spot 4; reaching spot 9 on the buy side takes exactly
	// 400 quote in: sqrt(9 * 200*800) = 1200 = rq + 400.
	p, err := NewPool(mkt, 200, 800, 0)
	require.NoError(t, err)
	require.Equal(t, int64(4), p.SpotPrice())

	res, err := p.ExecuteUntilPrice(Buy, 10_000, 9)
	require.NoError(t, err)
	require.True(t, res.HitPriceLimit, "price cap should be binding, not the size cap")
	require.Equal(t, int64(400), res.AmountIn)
	require.Equal(t, int64(9), p.SpotPrice())
}

func TestExecuteUntilPriceSizeBound(t *testing.T) {
	mkt := testMarket(t, 0, 0)
	p, err := NewPool(mkt, 200, 800, 0)
	require.NoError(t, err)

	res, err := p.ExecuteUntilPrice(Buy, 100, 9)
	require.NoError(t, err)
	require.False(t, res.HitPriceLimit, "size cap was binding")
	require.Equal(t, int64(100), res.AmountIn)
	require.Less(t, p.SpotPrice(), int64(9))
}

func TestExecuteUntilPriceAlreadyPast(t *testing.T) {
	mkt := testMarket(t, 0, 0)
	p, err := NewPool(mkt, 200, 800, 0)
	require.NoError(t, err)

	// Buy with a limit at or below spot executes nothing.
	res, err := p.ExecuteUntilPrice(Buy, 10_000, 4)
	require.NoError(t, err)
	require.True(t, res.HitPriceLimit)
	require.Zero(t, res.AmountIn)
	require.Zero(t, res.AmountOut)

	// Sell with a limit at or above spot executes nothing.
	res, err = p.ExecuteUntilPrice(Sell, 10_000, 4)
	require.NoError(t, err)
	require.True(t, res.HitPriceLimit)
	require.Zero(t, res.AmountIn)
}

func TestExecuteUntilPriceSellDirection(t *testing.T) {
	mkt := testMarket(t, 0, 0)
	p, err := NewPool(mkt, 200, 800, 0)
	require.NoError(t, err)

	res, err := p.ExecuteUntilPrice(Sell, 1_000_000, 1)
	require.NoError(t, err)
	require.True(t, res.HitPriceLimit)
	require.Positive(t, res.AmountIn)
	require.GreaterOrEqual(t, p.SpotPrice(), int64(1))

	rb, rq := p.Reserves()
	require.GreaterOrEqual(t, rb*rq, int64(200*800))
}

func TestFeeRetainedInPool(t *testing.T) {
	mkt := testMarket(t, 2, 2)
	// 1% fee: the product must strictly grow on any nontrivial swap.
	p, err := NewPool(mkt, 100_000, 1_000_000, 100)
	require.NoError(t, err)

	rb0, rq0 := p.Reserves()
	_, err = p.Execute(Buy, 100_000)
	require.NoError(t, err)
	rb1, rq1 := p.Reserves()
	require.Greater(t, rb1*rq1, rb0*rq0)
}

func TestValidation(t *testing.T) {
	mkt := testMarket(t, 2, 2)

	_, err := NewPool(mkt, 0, 100, 0)
	require.ErrorIs(t, err, ErrEmptyPool)

	p, err := NewPool(mkt, 100_000, 1_000_000, 30)
	require.NoError(t, err)

	_, err = p.QuoteSwap(Buy, 0)
	require.ErrorIs(t, err, ErrZeroAmount)

	_, err = p.ExecuteUntilPrice(Buy, 0, 100)
	require.ErrorIs(t, err, ErrZeroAmount)
}
