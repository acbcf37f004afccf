package book

import (
	"time"

	"github.com/google/uuid"
)

// Source tags which venue produced a trade.
type Source int8

const (
	SourceBook Source = iota
	SourceAMM
)

func (s Source) String() string {
	if s == SourceAMM {
		return "amm"
	}
	return "book"
}

// Trade is the immutable execution record appended for every fill, whether it
// came from the book or the AMM. Book trades carry both order refs; AMM trades
// only the taker's.
type Trade struct {
	ID        uuid.UUID
	Pair      string
	Price     int64 // maker price for book fills, effective price for AMM slices
	Size      int64
	TakerSide Side
	BuyOrder  uuid.UUID
	SellOrder uuid.UUID
	Source    Source
	Timestamp time.Time
}

func newBookTrade(pair string, price, size int64, taker, maker *Order) Trade {
	t := Trade{
		ID:        uuid.New(),
		Pair:      pair,
		Price:     price,
		Size:      size,
		TakerSide: taker.Side,
		Source:    SourceBook,
		Timestamp: time.Now(),
	}
	if taker.Side == Buy {
		t.BuyOrder, t.SellOrder = taker.ID, maker.ID
	} else {
		t.BuyOrder, t.SellOrder = maker.ID, taker.ID
	}
	return t
}

// NewAMMTrade records an AMM slice executed on behalf of taker.
func NewAMMTrade(pair string, price, size int64, taker *Order) Trade {
	t := Trade{
		ID:        uuid.New(),
		Pair:      pair,
		Price:     price,
		Size:      size,
		TakerSide: taker.Side,
		Source:    SourceAMM,
		Timestamp: time.Now(),
	}
	if taker.Side == Buy {
		t.BuyOrder = taker.ID
	} else {
		t.SellOrder = taker.ID
	}
	return t
}
