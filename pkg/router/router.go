// Package router implements hybrid order routing: it compares AMM and book
// prices per slice of remaining size and sends each slice to the cheaper
// venue. The router holds no order state of its own; it orchestrates the pool
// and the matching engine and aggregates their trades.
package router

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jwpark-dev/hyflow/pkg/amm"
	"github.com/jwpark-dev/hyflow/pkg/book"
	"github.com/jwpark-dev/hyflow/pkg/fixed"
	"github.com/jwpark-dev/hyflow/pkg/market"
)

// ErrCrossesAMM rejects a limit order priced through the AMM spot: a buy
// above spot or a sell below spot should be a market order instead.
var ErrCrossesAMM = errors.New("router: limit price crosses AMM spot")

// Config carries routing policy knobs.
type Config struct {
	// MinBookLevels sends market flow AMM-only when the opposing book has
	// fewer price levels than this. 0 disables the fallback. Tunable policy,
	// not an invariant.
	MinBookLevels int
}

// Result aggregates the trades of one routed order.
type Result struct {
	OrderID      string
	Status       book.Status
	Trades       []book.Trade
	TotalFilled  int64 // base raws
	AveragePrice int64 // size-weighted fill price raw, 0 when nothing filled
}

// Router routes orders for one pair. Routing requests within the pair are
// serialized relative to book and pool writers; different pairs run in
// parallel with their own routers.
type Router struct {
	mu sync.Mutex

	mkt  *market.Market
	book *book.Book
	pool *amm.Pool
	cfg  Config
	log  *zap.Logger
}

// New wires a router for a pair. The pool may be nil for book-only pairs.
func New(mkt *market.Market, b *book.Book, pool *amm.Pool, cfg Config, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{mkt: mkt, book: b, pool: pool, cfg: cfg, log: log}
}

// Route executes an order across both venues. Market orders loop slice by
// slice; limit orders get the AMM-crossing check and then defer fully to the
// matching engine.
func (r *Router) Route(o *book.Order) (Result, error) {
	if err := r.book.Validate(o); err != nil {
		return Result{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if o.Kind == book.Limit {
		return r.routeLimit(o)
	}
	return r.routeMarket(o)
}

func (r *Router) routeLimit(o *book.Order) (Result, error) {
	if r.pool != nil {
		spot := r.pool.SpotPrice()
		if spot > 0 {
			if (o.Side == book.Buy && o.Price > spot) || (o.Side == book.Sell && o.Price < spot) {
				return Result{}, fmt.Errorf("%w: %w (limit %d, spot %d)", book.ErrValidation, ErrCrossesAMM, o.Price, spot)
			}
		}
	}
	trades, err := r.book.Submit(o)
	if err != nil {
		return Result{}, err
	}
	return r.aggregate(o, trades), nil
}

func (r *Router) routeMarket(o *book.Order) (Result, error) {
	var trades []book.Trade

	ammSide := amm.Sell
	bookSide := book.Buy // opposing side holding liquidity for our taker
	if o.Side == book.Buy {
		ammSide = amm.Buy
		bookSide = book.Sell
	}

	ammOnly := r.pool != nil && r.cfg.MinBookLevels > 0 &&
		r.book.Depth(bookSide) < r.cfg.MinBookLevels
	if ammOnly {
		r.log.Debug("routing AMM-only: book depth below policy threshold",
			zap.String("pair", o.Pair),
			zap.Int("levels", r.book.Depth(bookSide)),
			zap.Int("min", r.cfg.MinBookLevels))
	}

	for o.RemainingSize > 0 {
		var bookPx int64
		var hasBook bool
		if !ammOnly {
			if o.Side == book.Buy {
				bookPx, hasBook = r.book.BestAsk()
			} else {
				bookPx, hasBook = r.book.BestBid()
			}
		}

		switch {
		case r.pool == nil && !hasBook:
			// Both venues exhausted.
			o.Status = book.Cancelled
			return r.aggregate(o, trades), nil

		case r.pool == nil:
			got := r.book.MatchAtBest(o)
			if len(got) == 0 {
				o.Status = book.Cancelled
				return r.aggregate(o, trades), nil
			}
			trades = append(trades, got...)

		case !hasBook:
			// Book empty: AMM absorbs the remainder, size-bounded only.
			slice, ok := r.ammSlice(o, ammSide, 0)
			if !ok {
				o.Status = book.Cancelled
				return r.aggregate(o, trades), nil
			}
			if slice != nil {
				trades = append(trades, *slice)
			}

		case r.ammBetter(ammSide, bookPx):
			// The AMM is cheaper up to the book price: let it absorb exactly
			// the flow that beats the book, and no more.
			slice, ok := r.ammSlice(o, ammSide, bookPx)
			if !ok {
				o.Status = book.Cancelled
				return r.aggregate(o, trades), nil
			}
			if slice != nil {
				trades = append(trades, *slice)
				continue
			}
			// Zero-size slice: spot is effectively at the book price already.
			// Take the book this round so the loop always makes progress.
			got := r.book.MatchAtBest(o)
			if len(got) == 0 {
				o.Status = book.Cancelled
				return r.aggregate(o, trades), nil
			}
			trades = append(trades, got...)

		default:
			got := r.book.MatchAtBest(o)
			if len(got) == 0 {
				// Best level held only our own orders; nothing eligible left
				// there and the AMM is not better. Abandon the remainder.
				o.Status = book.Cancelled
				return r.aggregate(o, trades), nil
			}
			trades = append(trades, got...)
		}
	}

	return r.aggregate(o, trades), nil
}

// ammBetter reports whether the AMM spot is strictly more favorable to the
// taker than the best book price.
func (r *Router) ammBetter(side amm.Side, bookPx int64) bool {
	spot := r.pool.SpotPrice()
	if side == amm.Buy {
		return spot < bookPx
	}
	return spot > bookPx
}

// ammSlice executes one AMM slice for the taker, bounded by remaining size
// and, when limitPx > 0, by the book price. Returns (nil, true) when the AMM
// executed nothing but the loop should continue (price cap already binding),
// and (nil, false) when the AMM cannot make progress at all.
func (r *Router) ammSlice(o *book.Order, side amm.Side, limitPx int64) (*book.Trade, bool) {
	maxIn := o.RemainingSize
	if side == amm.Buy {
		// Order size is base; the buy input is quote. The pool can never
		// deliver its whole base reserve, so an oversized remainder is capped
		// at what the curve can still price and the loop continues from there.
		want := o.RemainingSize
		if rb, _ := r.pool.Reserves(); want >= rb {
			want = rb - 1
		}
		if want <= 0 {
			return nil, false
		}
		in, err := r.pool.QuoteInForExactBase(want)
		if err != nil {
			return nil, false
		}
		maxIn = in
	}
	if maxIn <= 0 {
		return nil, false
	}

	var res amm.ExecResult
	var err error
	if limitPx > 0 {
		res, err = r.pool.ExecuteUntilPrice(side, maxIn, limitPx)
	} else {
		res, err = r.pool.Execute(side, maxIn)
	}
	if err != nil {
		return nil, false
	}

	baseFilled := res.AmountOut
	if side == amm.Sell {
		baseFilled = res.AmountIn
	}
	if baseFilled == 0 {
		if limitPx > 0 && res.HitPriceLimit {
			// Spot already at or past the book price: the book's turn.
			return nil, true
		}
		return nil, false
	}
	if baseFilled > o.RemainingSize {
		// Rounding in the quote-input inversion can overshoot by a step; the
		// order only absorbs what it asked for.
		baseFilled = o.RemainingSize
	}
	o.Fill(baseFilled)

	t := book.NewAMMTrade(o.Pair, res.EffectivePrice, baseFilled, o)
	r.log.Debug("amm slice executed",
		zap.String("pair", o.Pair),
		zap.String("side", side.String()),
		zap.Int64("base", baseFilled),
		zap.Int64("px", res.EffectivePrice),
		zap.Bool("hit_price_limit", res.HitPriceLimit))
	return &t, true
}

// aggregate computes the size-weighted average fill price for reporting.
func (r *Router) aggregate(o *book.Order, trades []book.Trade) Result {
	res := Result{
		OrderID: o.ID.String(),
		Status:  o.Status,
		Trades:  trades,
	}
	if len(trades) == 0 {
		return res
	}
	notional := new(big.Int)
	for _, t := range trades {
		res.TotalFilled += t.Size
		notional.Add(notional, new(big.Int).Mul(big.NewInt(t.Price), big.NewInt(t.Size)))
	}
	if res.TotalFilled > 0 {
		avg := fixed.BigRoundDiv(notional, big.NewInt(res.TotalFilled))
		res.AveragePrice, _ = fixed.ClampInt64(avg)
	}
	return res
}

// Cancel forwards to the matching engine; safe to call in any order state.
func (r *Router) Cancel(id string) bool {
	uid, err := uuid.Parse(id)
	if err != nil {
		return false
	}
	return r.book.Cancel(uid)
}
