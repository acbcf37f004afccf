package api

// REST and WebSocket wire types. Prices and sizes cross the boundary as
// decimal strings at the pair's declared scales; the engine core never sees
// floats.

// MarketInfo is a pair's static configuration.
type MarketInfo struct {
	Pair          string `json:"pair"`
	BaseAsset     string `json:"baseAsset"`
	QuoteAsset    string `json:"quoteAsset"`
	Status        string `json:"status"`
	PriceDecimals int    `json:"priceDecimals"`
	SizeDecimals  int    `json:"sizeDecimals"`
	PriceStep     string `json:"priceStep"`
	SizeStep      string `json:"sizeStep"`
	MinOrderSize  string `json:"minOrderSize"`
	MaxOrderSize  string `json:"maxOrderSize"`
	MinNotional   string `json:"minNotional"`
	MakerFeeBps   int64  `json:"makerFeeBps"`
	TakerFeeBps   int64  `json:"takerFeeBps"`
}

// PriceLevel is one aggregated book level.
type PriceLevel struct {
	Price  string `json:"price"`
	Size   string `json:"size"`
	Orders int    `json:"orders"`
}

// OrderbookSnapshot is the book state at one instant, bids high to low and
// asks low to high.
type OrderbookSnapshot struct {
	Pair      string       `json:"pair"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp int64        `json:"timestamp"` // unix milliseconds
}

// PoolInfo is the AMM state for a pair.
type PoolInfo struct {
	Pair         string `json:"pair"`
	ReserveBase  string `json:"reserveBase"`
	ReserveQuote string `json:"reserveQuote"`
	SpotPrice    string `json:"spotPrice"`
	FeeBps       int64  `json:"feeBps"`
	TVL          string `json:"tvl"`
}

// TradeInfo is one execution record.
type TradeInfo struct {
	ID        string `json:"id"`
	Pair      string `json:"pair"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	TakerSide string `json:"takerSide"`
	Source    string `json:"source"` // "book" or "amm"
	Timestamp int64  `json:"timestamp"`
}

// SubmitOrderRequest is the payload for POST /api/v1/orders.
type SubmitOrderRequest struct {
	Pair  string `json:"pair"`
	Owner string `json:"owner"` // hex wallet address
	Side  string `json:"side"`  // "buy" or "sell"
	Type  string `json:"type"`  // "market" or "limit"
	Price string `json:"price,omitempty"`
	Size  string `json:"size"`
}

// OrderResult reports a routed order's outcome.
type OrderResult struct {
	OrderID      string      `json:"orderId"`
	Status       string      `json:"status"`
	Trades       []TradeInfo `json:"trades"`
	TotalFilled  string      `json:"totalFilled"`
	AveragePrice string      `json:"averagePrice"`
}

// CancelOrderRequest is the payload for POST /api/v1/orders/cancel.
type CancelOrderRequest struct {
	Pair    string `json:"pair"`
	OrderID string `json:"orderId"`
}

// CancelOrderResponse reports the cancel outcome.
type CancelOrderResponse struct {
	OrderID   string `json:"orderId"`
	Cancelled bool   `json:"cancelled"`
}

// SubmitSettlementRequest is the payload for POST /api/v1/settlements. The
// idempotency key pins retries: resubmitting the same key replays the
// recorded result instead of double-settling.
type SubmitSettlementRequest struct {
	IdempotencyKey string `json:"idempotencyKey"`
	Wallet         string `json:"wallet"`
	Pair           string `json:"pair"`
	TradeID        string `json:"tradeId"`
	Price          string `json:"price"`
	Size           string `json:"size"`
	TakerSide      string `json:"takerSide"`
}

// SettlementInfo reports a settlement task's state.
type SettlementInfo struct {
	Key      string `json:"key"`
	Wallet   string `json:"wallet"`
	Pair     string `json:"pair"`
	TradeID  string `json:"tradeId"`
	Status   string `json:"status"`
	Attempts int    `json:"attempts"`
	TxRef    string `json:"txRef,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WSSubscribeRequest is sent by a client to manage channel subscriptions,
// e.g. ["orderbook:VIX10-USD", "trades:VIX10-USD"].
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// OrderbookUpdate is broadcast on the orderbook:<pair> channel after every
// routed order.
type OrderbookUpdate struct {
	Type      string       `json:"type"` // "orderbook"
	Pair      string       `json:"pair"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp int64        `json:"timestamp"`
}

// TradeUpdate is broadcast on the trades:<pair> channel per fill.
type TradeUpdate struct {
	Type      string `json:"type"` // "trade"
	Pair      string `json:"pair"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	TakerSide string `json:"takerSide"`
	Source    string `json:"source"`
	Timestamp int64  `json:"timestamp"`
}
