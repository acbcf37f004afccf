// Package book implements the resident order book and matching engine:
// price-time-priority matching over FIFO price levels, the order lifecycle
// state machine, and self-trade prevention.
package book

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Side of an order relative to the base asset.
type Side int8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Kind distinguishes market and limit orders.
type Kind int8

const (
	Market Kind = iota
	Limit
)

func (k Kind) String() string {
	if k == Market {
		return "market"
	}
	return "limit"
}

// Status is the order lifecycle state. Active and PartiallyFilled are live;
// Filled and Cancelled are terminal and immutable.
type Status int8

const (
	Active Status = iota
	PartiallyFilled
	Filled
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Active:
		return "active"
	case PartiallyFilled:
		return "partially_filled"
	case Filled:
		return "filled"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Order is a resting or incoming order. Price and sizes are int64 raws at the
// pair's scales; Price is 0 for market orders. Only the matching engine
// mutates RemainingSize and Status.
type Order struct {
	ID            uuid.UUID
	Owner         common.Address
	Pair          string
	Side          Side
	Kind          Kind
	Price         int64
	OriginalSize  int64
	RemainingSize int64
	Status        Status
	CreatedAt     time.Time

	seq uint64 // arrival sequence within the book, fixes FIFO ties
}

// NewOrder builds an order in its initial state.
func NewOrder(owner common.Address, pair string, side Side, kind Kind, price, size int64) *Order {
	return &Order{
		ID:            uuid.New(),
		Owner:         owner,
		Pair:          pair,
		Side:          side,
		Kind:          kind,
		Price:         price,
		OriginalSize:  size,
		RemainingSize: size,
		Status:        Active,
		CreatedAt:     time.Now(),
	}
}

// FilledSize returns how much of the order has executed.
func (o *Order) FilledSize() int64 { return o.OriginalSize - o.RemainingSize }

// IsTerminal reports whether the order reached a final state.
func (o *Order) IsTerminal() bool { return o.Status == Filled || o.Status == Cancelled }

// Fill consumes qty from the remaining size and advances the state machine:
// active -> (partially_filled)* -> filled. Called only by the matching engine
// and the router while holding the pair's write lock.
func (o *Order) Fill(qty int64) {
	o.RemainingSize -= qty
	if o.RemainingSize == 0 {
		o.Status = Filled
	} else {
		o.Status = PartiallyFilled
	}
}
