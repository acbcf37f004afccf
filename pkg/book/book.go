package book

import (
	"container/heap"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwpark-dev/hyflow/pkg/fixed"
	"github.com/jwpark-dev/hyflow/pkg/market"
)

var (
	// ErrValidation wraps synchronous order rejections (bad size, bad price,
	// wrong pair, inactive market). Never retried automatically.
	ErrValidation = errors.New("book: order rejected")
)

// Book is the resident order book for one pair. All mutating operations are
// linearized behind the mutex: one logical writer per pair. Snapshots are
// consistent point-in-time copies.
type Book struct {
	mu sync.RWMutex

	mkt *market.Market

	// Best-price tracking, O(1) peek.
	bidHeap maxPriceHeap
	askHeap minPriceHeap

	// Price level queues, FIFO within a level.
	bids map[int64][]*Order
	asks map[int64][]*Order

	// Resting orders only, for cancellation and lookups. Terminal orders are
	// evicted; callers keep the order they submitted for status reads.
	orders map[uuid.UUID]*Order

	seq       uint64
	lastPrice int64
}

// NewBook creates an empty book for the given market.
func NewBook(mkt *market.Market) *Book {
	b := &Book{
		mkt:    mkt,
		bids:   make(map[int64][]*Order),
		asks:   make(map[int64][]*Order),
		orders: make(map[uuid.UUID]*Order),
	}
	heap.Init(&b.bidHeap)
	heap.Init(&b.askHeap)
	return b
}

// Market returns the book's market parameters.
func (b *Book) Market() *market.Market { return b.mkt }

// Validate checks an incoming order without touching book state.
func (b *Book) Validate(o *Order) error {
	if o.Pair != b.mkt.Pair {
		return fmt.Errorf("%w: order pair %s does not match book %s", ErrValidation, o.Pair, b.mkt.Pair)
	}
	if b.mkt.Status != market.Active {
		return fmt.Errorf("%w: market %s is %s", ErrValidation, b.mkt.Pair, b.mkt.Status)
	}
	if err := b.mkt.ValidateSize(o.OriginalSize); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if o.Kind == Limit {
		if err := b.mkt.ValidatePrice(o.Price); err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		if err := b.mkt.ValidateNotional(o.Price, o.OriginalSize); err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}
	return nil
}

// Submit validates and matches an order. Market orders walk the opposite side
// best to worst and any unfilled remainder is cancelled. Limit orders match
// while crossing, then rest on the book.
func (b *Book) Submit(o *Order) ([]Trade, error) {
	if err := b.Validate(o); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var trades []Trade
	if o.Kind == Market {
		trades = b.matchLocked(o, 0, false)
		if o.RemainingSize > 0 {
			// No resting for market orders: liquidity exhausted, remainder dies.
			o.Status = Cancelled
		}
	} else {
		trades = b.matchLocked(o, o.Price, true)
		if o.RemainingSize > 0 {
			if b.wouldCrossLocked(o) {
				// The remainder can only still cross here when self-trade
				// prevention skipped the submitter's own resting level.
				// Resting it would leave a locked or crossed book, so the
				// remainder is cancelled like a market-order remainder.
				o.Status = Cancelled
			} else {
				b.rest(o)
			}
		}
	}
	return trades, nil
}

// wouldCrossLocked reports whether resting the remainder at its limit price
// would lock or cross the opposing side.
func (b *Book) wouldCrossLocked(o *Order) bool {
	if o.Side == Buy {
		best, ok := b.bestAskLocked()
		return ok && o.Price >= best
	}
	best, ok := b.bestBidLocked()
	return ok && o.Price <= best
}

// MatchAtBest consumes liquidity only at the current best opposing level,
// then returns so the caller can re-check the other venue. The taker never
// rests. Used by the hybrid router's venue loop.
func (b *Book) MatchAtBest(taker *Order) []Trade {
	b.mu.Lock()
	defer b.mu.Unlock()

	var best int64
	var ok bool
	if taker.Side == Buy {
		best, ok = b.bestAskLocked()
	} else {
		best, ok = b.bestBidLocked()
	}
	if !ok {
		return nil
	}
	if taker.Kind == Limit {
		if (taker.Side == Buy && best > taker.Price) || (taker.Side == Sell && best < taker.Price) {
			return nil
		}
	}

	var trades []Trade
	b.matchLevelLocked(taker, best, &trades)
	if len(trades) == 0 {
		// The best level held only the taker's own orders; pass through to
		// the next eligible level so self-trade prevention never wedges the
		// venue loop.
		opp := b.bids
		if taker.Side == Buy {
			opp = b.asks
		}
		prices := make([]int64, 0, len(opp))
		for px := range opp {
			if px != best {
				prices = append(prices, px)
			}
		}
		if taker.Side == Buy {
			sort.Slice(prices, func(i, j int) bool { return prices[i] < prices[j] })
		} else {
			sort.Slice(prices, func(i, j int) bool { return prices[i] > prices[j] })
		}
		for _, px := range prices {
			if taker.Kind == Limit {
				if (taker.Side == Buy && px > taker.Price) || (taker.Side == Sell && px < taker.Price) {
					break
				}
			}
			b.matchLevelLocked(taker, px, &trades)
			if len(trades) > 0 {
				break
			}
		}
	}
	return trades
}

// matchLocked walks opposing price levels best to worst. When bounded, the
// walk stops at the taker's limit price.
func (b *Book) matchLocked(taker *Order, limit int64, bounded bool) []Trade {
	opp := b.bids
	if taker.Side == Buy {
		opp = b.asks
	}

	prices := make([]int64, 0, len(opp))
	for px := range opp {
		prices = append(prices, px)
	}
	if taker.Side == Buy {
		sort.Slice(prices, func(i, j int) bool { return prices[i] < prices[j] })
	} else {
		sort.Slice(prices, func(i, j int) bool { return prices[i] > prices[j] })
	}

	var trades []Trade
	for _, px := range prices {
		if taker.RemainingSize == 0 {
			break
		}
		if bounded {
			if taker.Side == Buy && px > limit {
				break
			}
			if taker.Side == Sell && px < limit {
				break
			}
		}
		b.matchLevelLocked(taker, px, &trades)
	}
	return trades
}

// matchLevelLocked matches the taker against one opposing price level in
// strict arrival order, skipping the taker's own resting orders.
func (b *Book) matchLevelLocked(taker *Order, px int64, trades *[]Trade) {
	side := b.bids
	if taker.Side == Buy {
		side = b.asks
	}
	level, ok := side[px]
	if !ok {
		return
	}

	i := 0
	for i < len(level) && taker.RemainingSize > 0 {
		maker := level[i]
		if maker.Owner == taker.Owner {
			// Self-trade prevention: own resting order stays untouched.
			i++
			continue
		}
		match := fixed.Min(taker.RemainingSize, maker.RemainingSize)
		maker.Fill(match)
		taker.Fill(match)
		b.lastPrice = px
		*trades = append(*trades, newBookTrade(b.mkt.Pair, px, match, taker, maker))
		if maker.RemainingSize == 0 {
			level = append(level[:i], level[i+1:]...)
			delete(b.orders, maker.ID)
		} else {
			i++
		}
	}

	if len(level) == 0 {
		delete(side, px)
		if taker.Side == Buy {
			b.removeFromAskHeap(px)
		} else {
			b.removeFromBidHeap(px)
		}
	} else {
		side[px] = level
	}
}

// Cancel removes a resting order. Cancelling an unknown or already-terminal
// order is a no-op and returns false.
func (b *Book) Cancel(id uuid.UUID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[id]
	if !ok || o.IsTerminal() {
		return false
	}

	side := b.bids
	if o.Side == Sell {
		side = b.asks
	}
	level, ok := side[o.Price]
	if ok {
		for i, cur := range level {
			if cur.ID == id {
				level = append(level[:i], level[i+1:]...)
				break
			}
		}
		if len(level) == 0 {
			delete(side, o.Price)
			if o.Side == Sell {
				b.removeFromAskHeap(o.Price)
			} else {
				b.removeFromBidHeap(o.Price)
			}
		} else {
			side[o.Price] = level
		}
	}

	o.Status = Cancelled
	delete(b.orders, id)
	return true
}

// Get returns a copy of a resting order by ID. Terminal orders are not
// retained.
func (b *Book) Get(id uuid.UUID) (Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.orders[id]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// BestBid returns the highest bid price, if any.
func (b *Book) BestBid() (int64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bestBidLocked()
}

// BestAsk returns the lowest ask price, if any.
func (b *Book) BestAsk() (int64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bestAskLocked()
}

func (b *Book) bestBidLocked() (int64, bool) {
	if b.bidHeap.Len() == 0 {
		return 0, false
	}
	return b.bidHeap.Peek(), true
}

func (b *Book) bestAskLocked() (int64, bool) {
	if b.askHeap.Len() == 0 {
		return 0, false
	}
	return b.askHeap.Peek(), true
}

// Depth returns the number of price levels on one side.
func (b *Book) Depth(side Side) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if side == Buy {
		return len(b.bids)
	}
	return len(b.asks)
}

// LastPrice returns the most recent fill price, 0 if none.
func (b *Book) LastPrice() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastPrice
}

// Level is one aggregated price level of a snapshot.
type Level struct {
	Price  int64
	Size   int64
	Orders int
}

// Snapshot is a consistent point-in-time copy of the book, best prices first,
// truncated to depth levels per side (0 = all).
type Snapshot struct {
	Pair      string
	Bids      []Level
	Asks      []Level
	Timestamp time.Time
}

// Snapshot aggregates both sides without blocking writers for long.
func (b *Book) Snapshot(depth int) Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	collect := func(side map[int64][]*Order, desc bool) []Level {
		levels := make([]Level, 0, len(side))
		for px, orders := range side {
			if len(orders) == 0 {
				continue
			}
			var total int64
			for _, o := range orders {
				total += o.RemainingSize
			}
			levels = append(levels, Level{Price: px, Size: total, Orders: len(orders)})
		}
		sort.Slice(levels, func(i, j int) bool {
			if desc {
				return levels[i].Price > levels[j].Price
			}
			return levels[i].Price < levels[j].Price
		})
		if depth > 0 && len(levels) > depth {
			levels = levels[:depth]
		}
		return levels
	}

	return Snapshot{
		Pair:      b.mkt.Pair,
		Bids:      collect(b.bids, true),
		Asks:      collect(b.asks, false),
		Timestamp: time.Now(),
	}
}

// register indexes a resting order for lookup/cancel; assigns its arrival
// sequence.
func (b *Book) register(o *Order) {
	if _, ok := b.orders[o.ID]; ok {
		return
	}
	b.seq++
	o.seq = b.seq
	b.orders[o.ID] = o
}

// rest queues the unfilled remainder of a limit order at its price level.
func (b *Book) rest(o *Order) {
	b.register(o)
	if o.Side == Buy {
		if len(b.bids[o.Price]) == 0 {
			heap.Push(&b.bidHeap, o.Price)
		}
		b.bids[o.Price] = append(b.bids[o.Price], o)
	} else {
		if len(b.asks[o.Price]) == 0 {
			heap.Push(&b.askHeap, o.Price)
		}
		b.asks[o.Price] = append(b.asks[o.Price], o)
	}
}

// removeFromBidHeap drops a price level from the bid heap (O(N), rare).
func (b *Book) removeFromBidHeap(price int64) {
	for i := 0; i < b.bidHeap.Len(); i++ {
		if b.bidHeap[i] == price {
			heap.Remove(&b.bidHeap, i)
			return
		}
	}
}

// removeFromAskHeap drops a price level from the ask heap (O(N), rare).
func (b *Book) removeFromAskHeap(price int64) {
	for i := 0; i < b.askHeap.Len(); i++ {
		if b.askHeap[i] == price {
			heap.Remove(&b.askHeap, i)
			return
		}
	}
}
