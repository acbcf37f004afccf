// Package market defines per-pair trading parameters: decimal scales, minimum
// increments, order limits, and fees. It is the in-process form of the asset
// metadata service consumed by the fixed-point layer and the matching engine.
package market

import (
	"fmt"

	"github.com/jwpark-dev/hyflow/pkg/fixed"
)

// Status is the trading status of a pair.
type Status int8

const (
	Active Status = iota
	Paused
	Delisted
)

func (s Status) String() string {
	switch s {
	case Active:
		return "Active"
	case Paused:
		return "Paused"
	case Delisted:
		return "Delisted"
	default:
		return "Unknown"
	}
}

// Market defines all parameters for one tokenized-index pair (e.g. VIX10-USD).
type Market struct {
	// Identity
	Pair       string // "VIX10-USD"
	BaseAsset  string // "VIX10"
	QuoteAsset string // "USD"
	Status     Status

	// Precision. All prices are int64 raws scaled by 10^PriceDecimals, all
	// sizes by 10^SizeDecimals.
	PriceDecimals int
	SizeDecimals  int

	// PriceStep is the minimum price increment in price raws; SizeStep the
	// minimum tradable size increment in size raws.
	PriceStep int64
	SizeStep  int64

	// Order limits, in size raws.
	MinOrderSize int64
	MaxOrderSize int64

	// MinNotional is the minimum order value in quote raws (dust guard).
	MinNotional int64

	// Fees in basis points. Maker can be negative (rebate).
	MakerFeeBps int64
	TakerFeeBps int64
}

// New creates a market and validates its parameters.
func New(m Market) (*Market, error) {
	if m.Status == 0 {
		m.Status = Active
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid market params: %w", err)
	}
	return &m, nil
}

// Validate checks parameter sanity.
func (m *Market) Validate() error {
	if m.Pair == "" {
		return fmt.Errorf("pair cannot be empty")
	}
	if m.BaseAsset == "" || m.QuoteAsset == "" {
		return fmt.Errorf("base and quote assets must be specified")
	}
	if m.PriceDecimals < 0 || m.PriceDecimals > fixed.MaxDecimals {
		return fmt.Errorf("price decimals %d out of range", m.PriceDecimals)
	}
	if m.SizeDecimals < 0 || m.SizeDecimals > fixed.MaxDecimals {
		return fmt.Errorf("size decimals %d out of range", m.SizeDecimals)
	}
	if m.PriceStep <= 0 {
		return fmt.Errorf("price step must be positive")
	}
	if m.SizeStep <= 0 {
		return fmt.Errorf("size step must be positive")
	}
	if m.MinOrderSize <= 0 {
		return fmt.Errorf("min order size must be positive")
	}
	if m.MaxOrderSize <= 0 {
		return fmt.Errorf("max order size must be positive")
	}
	if m.MinOrderSize > m.MaxOrderSize {
		return fmt.Errorf("min order size cannot exceed max order size")
	}
	if m.MinNotional < 0 {
		return fmt.Errorf("min notional cannot be negative")
	}
	if m.TakerFeeBps < 0 {
		return fmt.Errorf("taker fee cannot be negative")
	}
	return nil
}

// ValidateSize checks an order size against step and limits.
func (m *Market) ValidateSize(size int64) error {
	if size <= 0 {
		return fmt.Errorf("size must be positive")
	}
	if size%m.SizeStep != 0 {
		return fmt.Errorf("size %d not a multiple of step %d", size, m.SizeStep)
	}
	if size < m.MinOrderSize {
		return fmt.Errorf("size %d below minimum %d", size, m.MinOrderSize)
	}
	if size > m.MaxOrderSize {
		return fmt.Errorf("size %d exceeds maximum %d", size, m.MaxOrderSize)
	}
	return nil
}

// ValidatePrice checks a limit price against step alignment.
func (m *Market) ValidatePrice(price int64) error {
	if price <= 0 {
		return fmt.Errorf("price must be positive")
	}
	if price%m.PriceStep != 0 {
		return fmt.Errorf("price %d not a multiple of step %d", price, m.PriceStep)
	}
	return nil
}

// Notional returns price*size rescaled to quote raws.
func (m *Market) Notional(price, size int64) (int64, error) {
	return fixed.MulScaled(price, size, m.SizeDecimals)
}

// ValidateNotional rejects dust orders below the minimum quote value.
func (m *Market) ValidateNotional(price, size int64) error {
	n, err := m.Notional(price, size)
	if err != nil {
		return err
	}
	if n < m.MinNotional {
		return fmt.Errorf("order notional %d below minimum %d", n, m.MinNotional)
	}
	return nil
}
