package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/jwpark-dev/hyflow/pkg/amm"
	"github.com/jwpark-dev/hyflow/pkg/book"
	"github.com/jwpark-dev/hyflow/pkg/chain"
	"github.com/jwpark-dev/hyflow/pkg/market"
	"github.com/jwpark-dev/hyflow/pkg/router"
	"github.com/jwpark-dev/hyflow/pkg/settle"
)

const testOwner = "0x00000000000000000000000000000000000000aa"

func testServer(t *testing.T) *Server {
	t.Helper()

	m, err := market.New(market.Market{
		Pair:          "VIX10-USD",
		BaseAsset:     "VIX10",
		QuoteAsset:    "USD",
		PriceDecimals: 0,
		SizeDecimals:  0,
		PriceStep:     1,
		SizeStep:      1,
		MinOrderSize:  1,
		MaxOrderSize:  1 << 40,
	})
	require.NoError(t, err)

	registry := market.NewRegistry()
	require.NoError(t, registry.Register(m))

	b := book.NewBook(m)
	pool, err := amm.NewPool(m, 1_000, 90_000, 0) // spot 90
	require.NoError(t, err)
	rt := router.New(m, b, pool, router.Config{}, nil)

	settler := settle.New(chain.NewRecordingWriter(), chain.NewMemNonceSource(), nil, time.Second, nil)

	venues := map[string]*Venue{
		"VIX10-USD": {Market: m, Book: b, Pool: pool, Router: rt},
	}
	return NewServer(registry, venues, settler, nil, nil)
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestGetMarkets(t *testing.T) {
	s := testServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/v1/markets", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var markets []MarketInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &markets))
	require.Len(t, markets, 1)
	require.Equal(t, "VIX10-USD", markets[0].Pair)
	require.Equal(t, "Active", markets[0].Status)
}

func TestGetPool(t *testing.T) {
	s := testServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/v1/markets/VIX10-USD/pool", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var pool PoolInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pool))
	require.Equal(t, "1000", pool.ReserveBase)
	require.Equal(t, "90000", pool.ReserveQuote)
	require.Equal(t, "90", pool.SpotPrice)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/markets/NOPE-USD/pool", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitAndSnapshotAndCancel(t *testing.T) {
	s := testServer(t)

	// Rest a limit buy below spot.
	rec := doJSON(t, s, http.MethodPost, "/api/v1/orders", SubmitOrderRequest{
		Pair: "VIX10-USD", Owner: testOwner, Side: "buy", Type: "limit",
		Price: "85", Size: "10",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var res OrderResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Equal(t, "active", res.Status)
	require.Empty(t, res.Trades)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/markets/VIX10-USD/orderbook?depth=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var snap OrderbookSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Len(t, snap.Bids, 1)
	require.Equal(t, "85", snap.Bids[0].Price)
	require.Equal(t, "10", snap.Bids[0].Size)
	require.Empty(t, snap.Asks)

	rec = doJSON(t, s, http.MethodPost, "/api/v1/orders/cancel", CancelOrderRequest{
		Pair: "VIX10-USD", OrderID: res.OrderID,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var cancel CancelOrderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cancel))
	require.True(t, cancel.Cancelled)

	rec = doJSON(t, s, http.MethodPost, "/api/v1/orders/cancel", CancelOrderRequest{
		Pair: "VIX10-USD", OrderID: res.OrderID,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cancel))
	require.False(t, cancel.Cancelled, "second cancel is a no-op")
}

func TestMarketOrderFillsAgainstAMM(t *testing.T) {
	s := testServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/orders", SubmitOrderRequest{
		Pair: "VIX10-USD", Owner: testOwner, Side: "buy", Type: "market", Size: "100",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var res OrderResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Equal(t, "filled", res.Status)
	require.Equal(t, "100", res.TotalFilled)
	require.Len(t, res.Trades, 1)
	require.Equal(t, "amm", res.Trades[0].Source)
}

func TestOrderValidationRejected(t *testing.T) {
	s := testServer(t)

	// Limit buy priced through the AMM spot.
	rec := doJSON(t, s, http.MethodPost, "/api/v1/orders", SubmitOrderRequest{
		Pair: "VIX10-USD", Owner: testOwner, Side: "buy", Type: "limit",
		Price: "95", Size: "10",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/v1/orders", SubmitOrderRequest{
		Pair: "VIX10-USD", Owner: "not-an-address", Side: "buy", Type: "market", Size: "10",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/v1/orders", SubmitOrderRequest{
		Pair: "NOPE-USD", Owner: testOwner, Side: "buy", Type: "market", Size: "10",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSettlementLifecycle(t *testing.T) {
	s := testServer(t)

	req := SubmitSettlementRequest{
		IdempotencyKey: "settle-1",
		Wallet:         testOwner,
		Pair:           "VIX10-USD",
		TradeID:        uuid.NewString(),
		Price:          "90",
		Size:           "10",
		TakerSide:      "buy",
	}
	rec := doJSON(t, s, http.MethodPost, "/api/v1/settlements", req)
	require.Equal(t, http.StatusOK, rec.Code)

	var info SettlementInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	require.Equal(t, "confirmed", info.Status)
	require.NotEmpty(t, info.TxRef)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/settlements/settle-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	require.Equal(t, "confirmed", info.Status)
	require.Equal(t, 1, info.Attempts)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/settlements/never-seen", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	s := testServer(t)
	rec := doJSON(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ok")
}
