// Package api exposes the engine over REST and WebSocket: market metadata,
// book and pool snapshots, trade history, order routing, and settlement
// submission.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/jwpark-dev/hyflow/pkg/amm"
	"github.com/jwpark-dev/hyflow/pkg/book"
	"github.com/jwpark-dev/hyflow/pkg/fixed"
	"github.com/jwpark-dev/hyflow/pkg/market"
	"github.com/jwpark-dev/hyflow/pkg/router"
	"github.com/jwpark-dev/hyflow/pkg/settle"
	"github.com/jwpark-dev/hyflow/pkg/storage"
)

// Venue bundles the per-pair execution components.
type Venue struct {
	Market *market.Market
	Book   *book.Book
	Pool   *amm.Pool // nil for book-only pairs
	Router *router.Router
}

// Server handles REST and WebSocket connections.
type Server struct {
	registry *market.Registry
	venues   map[string]*Venue
	settler  *settle.Settler
	store    *storage.Store // nil disables trade history
	router   *mux.Router
	hub      *Hub
	log      *zap.Logger

	http *http.Server
}

// NewServer wires the API over the engine's components. venues is keyed by
// pair and fixed at startup.
func NewServer(registry *market.Registry, venues map[string]*Venue, settler *settle.Settler, store *storage.Store, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		registry: registry,
		venues:   venues,
		settler:  settler,
		store:    store,
		router:   mux.NewRouter(),
		hub:      NewHub(log),
		log:      log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/markets", s.handleGetMarkets).Methods("GET")
	api.HandleFunc("/markets/{pair}", s.handleGetMarket).Methods("GET")
	api.HandleFunc("/markets/{pair}/orderbook", s.handleGetOrderbook).Methods("GET")
	api.HandleFunc("/markets/{pair}/pool", s.handleGetPool).Methods("GET")
	api.HandleFunc("/markets/{pair}/trades", s.handleGetTrades).Methods("GET")

	api.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")

	api.HandleFunc("/settlements", s.handleSubmitSettlement).Methods("POST")
	api.HandleFunc("/settlements/{key}", s.handleGetSettlement).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start runs the server until Shutdown.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	})

	s.http = &http.Server{Addr: addr, Handler: c.Handler(s.router)}
	s.log.Info("api server starting", zap.String("addr", addr))
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) venue(pair string) (*Venue, bool) {
	v, ok := s.venues[pair]
	return v, ok
}

func marketInfo(m *market.Market) MarketInfo {
	return MarketInfo{
		Pair:          m.Pair,
		BaseAsset:     m.BaseAsset,
		QuoteAsset:    m.QuoteAsset,
		Status:        m.Status.String(),
		PriceDecimals: m.PriceDecimals,
		SizeDecimals:  m.SizeDecimals,
		PriceStep:     fixed.RawToHuman(m.PriceStep, m.PriceDecimals).String(),
		SizeStep:      fixed.RawToHuman(m.SizeStep, m.SizeDecimals).String(),
		MinOrderSize:  fixed.RawToHuman(m.MinOrderSize, m.SizeDecimals).String(),
		MaxOrderSize:  fixed.RawToHuman(m.MaxOrderSize, m.SizeDecimals).String(),
		MinNotional:   fixed.RawToHuman(m.MinNotional, m.PriceDecimals).String(),
		MakerFeeBps:   m.MakerFeeBps,
		TakerFeeBps:   m.TakerFeeBps,
	}
}

func (s *Server) handleGetMarkets(w http.ResponseWriter, r *http.Request) {
	markets := s.registry.List()
	response := make([]MarketInfo, len(markets))
	for i, m := range markets {
		response[i] = marketInfo(m)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	pair := mux.Vars(r)["pair"]
	m, err := s.registry.Get(pair)
	if err != nil {
		respondError(w, http.StatusNotFound, "market not found", err.Error())
		return
	}
	respondJSON(w, marketInfo(m))
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	pair := mux.Vars(r)["pair"]
	v, ok := s.venue(pair)
	if !ok {
		respondError(w, http.StatusNotFound, "unknown pair", pair)
		return
	}

	depth := 0
	if d := r.URL.Query().Get("depth"); d != "" {
		n, err := strconv.Atoi(d)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid depth", d)
			return
		}
		depth = n
	}

	respondJSON(w, s.bookSnapshot(v, depth))
}

func (s *Server) bookSnapshot(v *Venue, depth int) OrderbookSnapshot {
	snap := v.Book.Snapshot(depth)
	m := v.Market
	convert := func(levels []book.Level) []PriceLevel {
		out := make([]PriceLevel, len(levels))
		for i, l := range levels {
			out[i] = PriceLevel{
				Price:  fixed.RawToHuman(l.Price, m.PriceDecimals).String(),
				Size:   fixed.RawToHuman(l.Size, m.SizeDecimals).String(),
				Orders: l.Orders,
			}
		}
		return out
	}
	return OrderbookSnapshot{
		Pair:      snap.Pair,
		Bids:      convert(snap.Bids),
		Asks:      convert(snap.Asks),
		Timestamp: snap.Timestamp.UnixMilli(),
	}
}

func (s *Server) handleGetPool(w http.ResponseWriter, r *http.Request) {
	pair := mux.Vars(r)["pair"]
	v, ok := s.venue(pair)
	if !ok || v.Pool == nil {
		respondError(w, http.StatusNotFound, "no pool for pair", pair)
		return
	}

	m := v.Market
	rb, rq := v.Pool.Reserves()
	respondJSON(w, PoolInfo{
		Pair:         pair,
		ReserveBase:  fixed.RawToHuman(rb, m.SizeDecimals).String(),
		ReserveQuote: fixed.RawToHuman(rq, m.PriceDecimals).String(),
		SpotPrice:    fixed.RawToHuman(v.Pool.SpotPrice(), m.PriceDecimals).String(),
		FeeBps:       v.Pool.FeeBps(),
		TVL:          fixed.RawToHuman(v.Pool.TVL(), m.PriceDecimals).String(),
	})
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	pair := mux.Vars(r)["pair"]
	v, ok := s.venue(pair)
	if !ok {
		respondError(w, http.StatusNotFound, "unknown pair", pair)
		return
	}
	if s.store == nil {
		respondJSON(w, []TradeInfo{})
		return
	}

	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit", l)
			return
		}
		limit = n
	}

	trades, err := s.store.LoadRecentTrades(pair, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "journal read failed", err.Error())
		return
	}
	out := make([]TradeInfo, len(trades))
	for i, t := range trades {
		out[i] = tradeInfo(v.Market, t)
	}
	respondJSON(w, out)
}

func tradeInfo(m *market.Market, t book.Trade) TradeInfo {
	return TradeInfo{
		ID:        t.ID.String(),
		Pair:      t.Pair,
		Price:     fixed.RawToHuman(t.Price, m.PriceDecimals).String(),
		Size:      fixed.RawToHuman(t.Size, m.SizeDecimals).String(),
		TakerSide: t.TakerSide.String(),
		Source:    t.Source.String(),
		Timestamp: t.Timestamp.UnixMilli(),
	}
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	v, ok := s.venue(req.Pair)
	if !ok {
		respondError(w, http.StatusNotFound, "unknown pair", req.Pair)
		return
	}
	o, err := s.parseOrder(v.Market, req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order", err.Error())
		return
	}

	res, err := v.Router.Route(o)
	if err != nil {
		if errors.Is(err, book.ErrValidation) {
			respondError(w, http.StatusBadRequest, "order rejected", err.Error())
		} else {
			respondError(w, http.StatusInternalServerError, "routing failed", err.Error())
		}
		return
	}

	s.recordAndBroadcast(v, res.Trades)

	m := v.Market
	out := OrderResult{
		OrderID:      res.OrderID,
		Status:       res.Status.String(),
		Trades:       make([]TradeInfo, len(res.Trades)),
		TotalFilled:  fixed.RawToHuman(res.TotalFilled, m.SizeDecimals).String(),
		AveragePrice: fixed.RawToHuman(res.AveragePrice, m.PriceDecimals).String(),
	}
	for i, t := range res.Trades {
		out.Trades[i] = tradeInfo(m, t)
	}
	s.log.Info("order routed",
		zap.String("pair", req.Pair),
		zap.String("order", res.OrderID),
		zap.String("status", out.Status),
		zap.Int("trades", len(res.Trades)))
	respondJSON(w, out)
}

func (s *Server) parseOrder(m *market.Market, req SubmitOrderRequest) (*book.Order, error) {
	if !common.IsHexAddress(req.Owner) {
		return nil, errors.New("owner is not a hex address")
	}
	owner := common.HexToAddress(req.Owner)

	var side book.Side
	switch req.Side {
	case "buy":
		side = book.Buy
	case "sell":
		side = book.Sell
	default:
		return nil, errors.New("side must be buy or sell")
	}

	var kind book.Kind
	switch req.Type {
	case "market":
		kind = book.Market
	case "limit":
		kind = book.Limit
	default:
		return nil, errors.New("type must be market or limit")
	}

	sizeDec, err := decimal.NewFromString(req.Size)
	if err != nil {
		return nil, errors.New("invalid size")
	}
	size, err := fixed.HumanToRaw(sizeDec, m.SizeDecimals)
	if err != nil {
		return nil, err
	}

	var price int64
	if kind == book.Limit {
		priceDec, err := decimal.NewFromString(req.Price)
		if err != nil {
			return nil, errors.New("invalid price")
		}
		price, err = fixed.HumanToRaw(priceDec, m.PriceDecimals)
		if err != nil {
			return nil, err
		}
	}

	return book.NewOrder(owner, m.Pair, side, kind, price, size), nil
}

// recordAndBroadcast journals fills and pushes trade plus book updates to
// subscribed WebSocket clients.
func (s *Server) recordAndBroadcast(v *Venue, trades []book.Trade) {
	m := v.Market
	for _, t := range trades {
		if s.store != nil {
			if err := s.store.SaveTrade(t); err != nil {
				s.log.Warn("trade journal write failed", zap.String("pair", t.Pair), zap.Error(err))
			}
		}
		s.hub.BroadcastToChannel("trades:"+t.Pair, TradeUpdate{
			Type:      "trade",
			Pair:      t.Pair,
			Price:     fixed.RawToHuman(t.Price, m.PriceDecimals).String(),
			Size:      fixed.RawToHuman(t.Size, m.SizeDecimals).String(),
			TakerSide: t.TakerSide.String(),
			Source:    t.Source.String(),
			Timestamp: t.Timestamp.UnixMilli(),
		})
	}
	if len(trades) > 0 {
		snap := s.bookSnapshot(v, 20)
		s.hub.BroadcastToChannel("orderbook:"+m.Pair, OrderbookUpdate{
			Type:      "orderbook",
			Pair:      m.Pair,
			Bids:      snap.Bids,
			Asks:      snap.Asks,
			Timestamp: snap.Timestamp,
		})
	}
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.OrderID == "" {
		respondError(w, http.StatusBadRequest, "missing orderId", "")
		return
	}
	v, ok := s.venue(req.Pair)
	if !ok {
		respondError(w, http.StatusNotFound, "unknown pair", req.Pair)
		return
	}

	cancelled := v.Router.Cancel(req.OrderID)
	s.log.Info("cancel handled",
		zap.String("pair", req.Pair),
		zap.String("order", req.OrderID),
		zap.Bool("cancelled", cancelled))
	respondJSON(w, CancelOrderResponse{OrderID: req.OrderID, Cancelled: cancelled})
}

func (s *Server) handleSubmitSettlement(w http.ResponseWriter, r *http.Request) {
	var req SubmitSettlementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.IdempotencyKey == "" {
		respondError(w, http.StatusBadRequest, "missing idempotencyKey", "")
		return
	}
	if !common.IsHexAddress(req.Wallet) {
		respondError(w, http.StatusBadRequest, "invalid wallet address", req.Wallet)
		return
	}
	v, ok := s.venue(req.Pair)
	if !ok {
		respondError(w, http.StatusNotFound, "unknown pair", req.Pair)
		return
	}

	trade, err := s.parseSettlementTrade(v.Market, req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid settlement", err.Error())
		return
	}

	task, err := s.settler.Submit(r.Context(), trade, common.HexToAddress(req.Wallet), req.IdempotencyKey)
	if err != nil && !errors.Is(err, settle.ErrSubmitFailed) {
		respondError(w, http.StatusInternalServerError, "settlement failed", err.Error())
		return
	}
	if err != nil {
		// The task is recorded as failed and retryable under the same key.
		respondStatusJSON(w, http.StatusBadGateway, settlementInfo(task))
		return
	}
	respondJSON(w, settlementInfo(task))
}

func (s *Server) parseSettlementTrade(m *market.Market, req SubmitSettlementRequest) (book.Trade, error) {
	var trade book.Trade
	id, err := uuid.Parse(req.TradeID)
	if err != nil {
		return trade, errors.New("invalid tradeId")
	}
	priceDec, err := decimal.NewFromString(req.Price)
	if err != nil {
		return trade, errors.New("invalid price")
	}
	price, err := fixed.HumanToRaw(priceDec, m.PriceDecimals)
	if err != nil {
		return trade, err
	}
	sizeDec, err := decimal.NewFromString(req.Size)
	if err != nil {
		return trade, errors.New("invalid size")
	}
	size, err := fixed.HumanToRaw(sizeDec, m.SizeDecimals)
	if err != nil {
		return trade, err
	}
	var side book.Side
	switch req.TakerSide {
	case "buy":
		side = book.Buy
	case "sell":
		side = book.Sell
	default:
		return trade, errors.New("takerSide must be buy or sell")
	}

	trade = book.Trade{
		ID:        id,
		Pair:      m.Pair,
		Price:     price,
		Size:      size,
		TakerSide: side,
		Timestamp: time.Now(),
	}
	return trade, nil
}

func (s *Server) handleGetSettlement(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	task, ok := s.settler.Get(key)
	if !ok && s.store != nil {
		var err error
		task, ok, err = s.store.LoadTask(key)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "task read failed", err.Error())
			return
		}
	}
	if !ok {
		respondError(w, http.StatusNotFound, "unknown settlement key", key)
		return
	}
	respondJSON(w, settlementInfo(task))
}

func settlementInfo(t settle.Task) SettlementInfo {
	return SettlementInfo{
		Key:      t.Key,
		Wallet:   t.Wallet.Hex(),
		Pair:     t.Pair,
		TradeID:  t.TradeID,
		Status:   t.Status.String(),
		Attempts: t.Attempts,
		TxRef:    string(t.TxRef),
		Error:    t.Err,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func respondStatusJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: error, Message: message})
}
