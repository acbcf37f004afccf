// Package amm implements a constant-product pool per pair: spot pricing,
// quote simulation, execution with price impact, and price-bounded execution
// that stops exactly where the book becomes the better venue.
package amm

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/jwpark-dev/hyflow/pkg/fixed"
	"github.com/jwpark-dev/hyflow/pkg/market"
)

// Side of the swap relative to the base asset.
type Side int8

const (
	Buy  Side = iota // spend quote, receive base
	Sell             // spend base, receive quote
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

var (
	ErrEmptyPool   = errors.New("amm: pool has no reserves")
	ErrZeroAmount  = errors.New("amm: amount must be positive")
	ErrDrainedSide = errors.New("amm: swap would drain a reserve")
)

const bpsScale = 10_000

// Pool holds the reserves for one pair. Base reserve is scaled by the pair's
// size decimals, quote reserve by its price decimals, so
// spot = reserveQuote * 10^sizeDecimals / reserveBase is a price raw.
//
// Quote() may run concurrently; Execute/ExecuteUntilPrice are serialized so
// the constant-product invariant holds across every swap.
type Pool struct {
	mu sync.RWMutex

	pair         string
	reserveBase  int64
	reserveQuote int64
	feeBps       int64

	sizeDecimals  int
	priceDecimals int
}

// NewPool creates a pool seeded with initial reserves.
func NewPool(mkt *market.Market, reserveBase, reserveQuote, feeBps int64) (*Pool, error) {
	if reserveBase <= 0 || reserveQuote <= 0 {
		return nil, ErrEmptyPool
	}
	if feeBps < 0 || feeBps >= bpsScale {
		return nil, fmt.Errorf("amm: fee %d bps out of range", feeBps)
	}
	return &Pool{
		pair:          mkt.Pair,
		reserveBase:   reserveBase,
		reserveQuote:  reserveQuote,
		feeBps:        feeBps,
		sizeDecimals:  mkt.SizeDecimals,
		priceDecimals: mkt.PriceDecimals,
	}, nil
}

// Quote is a simulated swap result. Nothing is mutated.
type Quote struct {
	AmountIn       int64
	AmountOut      int64
	EffectivePrice int64 // price raw actually paid per base unit
	NewSpotPrice   int64
	PriceImpactBps int64
}

// ExecResult reports an executed swap. HitPriceLimit distinguishes a stop at
// the caller's price bound from exhaustion of the caller's size.
type ExecResult struct {
	AmountIn       int64
	AmountOut      int64
	EffectivePrice int64
	HitPriceLimit  bool
}

// Pair returns the pool's pair symbol.
func (p *Pool) Pair() string { return p.pair }

// FeeBps returns the pool's swap fee in basis points.
func (p *Pool) FeeBps() int64 { return p.feeBps }

// SpotPrice returns the current marginal price as a price raw.
func (p *Pool) SpotPrice() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.spotLocked()
}

func (p *Pool) spotLocked() int64 {
	px, err := fixed.DivScaled(p.reserveQuote, p.reserveBase, p.sizeDecimals)
	if err != nil {
		return 0
	}
	return px
}

// Reserves returns the current (base, quote) reserves.
func (p *Pool) Reserves() (int64, int64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.reserveBase, p.reserveQuote
}

// TVL returns total value locked in quote raws (quote reserve counted twice,
// the usual two-sided approximation).
func (p *Pool) TVL() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return 2 * p.reserveQuote
}

// QuoteSwap simulates a swap of amountIn without touching the reserves.
func (p *Pool) QuoteSwap(side Side, amountIn int64) (Quote, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.quoteLocked(side, amountIn)
}

func (p *Pool) quoteLocked(side Side, amountIn int64) (Quote, error) {
	if amountIn <= 0 {
		return Quote{}, ErrZeroAmount
	}
	oldSpot := p.spotLocked()

	inWithFee := new(big.Int).Mul(big.NewInt(amountIn), big.NewInt(bpsScale-p.feeBps))
	inWithFee.Quo(inWithFee, big.NewInt(bpsScale))

	var reserveIn, reserveOut int64
	if side == Buy {
		reserveIn, reserveOut = p.reserveQuote, p.reserveBase
	} else {
		reserveIn, reserveOut = p.reserveBase, p.reserveQuote
	}

	// out = reserveOut * inWithFee / (reserveIn + inWithFee), floored so the
	// product of reserves never decreases.
	num := new(big.Int).Mul(big.NewInt(reserveOut), inWithFee)
	den := new(big.Int).Add(big.NewInt(reserveIn), inWithFee)
	outBig := new(big.Int).Quo(num, den)
	amountOut, err := fixed.ClampInt64(outBig)
	if err != nil {
		return Quote{}, err
	}
	if amountOut >= reserveOut {
		return Quote{}, ErrDrainedSide
	}

	q := Quote{AmountIn: amountIn, AmountOut: amountOut}
	if amountOut == 0 {
		q.NewSpotPrice = oldSpot
		return q, nil
	}

	var newBase, newQuote int64
	if side == Buy {
		newBase, newQuote = p.reserveBase-amountOut, p.reserveQuote+amountIn
		// quote spent per base received
		q.EffectivePrice, err = fixed.DivScaled(amountIn, amountOut, p.sizeDecimals)
	} else {
		newBase, newQuote = p.reserveBase+amountIn, p.reserveQuote-amountOut
		// quote received per base given up, net of fee
		inF, _ := fixed.ClampInt64(inWithFee)
		q.EffectivePrice, err = fixed.DivScaled(amountOut, inF, p.sizeDecimals)
	}
	if err != nil {
		return Quote{}, err
	}

	q.NewSpotPrice, err = fixed.DivScaled(newQuote, newBase, p.sizeDecimals)
	if err != nil {
		return Quote{}, err
	}
	if oldSpot > 0 {
		diff := q.NewSpotPrice - oldSpot
		if diff < 0 {
			diff = -diff
		}
		impact := new(big.Int).Mul(big.NewInt(diff), big.NewInt(bpsScale))
		impact.Quo(impact, big.NewInt(oldSpot))
		q.PriceImpactBps, _ = fixed.ClampInt64(impact)
	}
	return q, nil
}

// Execute swaps amountIn against the pool and mutates the reserves. The fee
// stays in the pool, so reserveBase*reserveQuote never decreases.
func (p *Pool) Execute(side Side, amountIn int64) (ExecResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.executeLocked(side, amountIn)
}

func (p *Pool) executeLocked(side Side, amountIn int64) (ExecResult, error) {
	q, err := p.quoteLocked(side, amountIn)
	if err != nil {
		return ExecResult{}, err
	}
	if side == Buy {
		p.reserveQuote += q.AmountIn
		p.reserveBase -= q.AmountOut
	} else {
		p.reserveBase += q.AmountIn
		p.reserveQuote -= q.AmountOut
	}
	return ExecResult{
		AmountIn:       q.AmountIn,
		AmountOut:      q.AmountOut,
		EffectivePrice: q.EffectivePrice,
	}, nil
}

// ExecuteUntilPrice swaps at most maxAmountIn, stopping once the spot price
// reaches limitPrice. The exact input that moves spot to the limit comes from
// the inverse constant-product formula; the swap executes min(maxAmountIn,
// that amount). HitPriceLimit reports which cap was binding. If spot has
// already passed the limit in the requested direction, nothing executes.
func (p *Pool) ExecuteUntilPrice(side Side, maxAmountIn, limitPrice int64) (ExecResult, error) {
	if maxAmountIn <= 0 {
		return ExecResult{}, ErrZeroAmount
	}
	if limitPrice <= 0 {
		return ExecResult{}, fmt.Errorf("amm: limit price must be positive")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	spot := p.spotLocked()
	if (side == Buy && spot >= limitPrice) || (side == Sell && spot <= limitPrice) {
		return ExecResult{HitPriceLimit: true}, nil
	}

	toLimit := p.amountToReachLocked(side, limitPrice)
	amountIn := fixed.Min(maxAmountIn, toLimit)
	hitLimit := toLimit <= maxAmountIn
	if amountIn <= 0 {
		return ExecResult{HitPriceLimit: hitLimit}, nil
	}

	res, err := p.executeLocked(side, amountIn)
	if err != nil {
		return ExecResult{}, err
	}
	res.HitPriceLimit = hitLimit
	return res, nil
}

// QuoteInForExactBase returns the gross quote input that buys at most baseOut
// base raws, floored so the swap never delivers more than requested. Returns
// ErrDrainedSide when the target cannot be reached at any price.
func (p *Pool) QuoteInForExactBase(baseOut int64) (int64, error) {
	if baseOut <= 0 {
		return 0, ErrZeroAmount
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if baseOut >= p.reserveBase {
		return 0, ErrDrainedSide
	}
	// inF = floor(rq*out/(rb-out)); flooring keeps amountOut <= baseOut.
	inF := new(big.Int).Mul(big.NewInt(p.reserveQuote), big.NewInt(baseOut))
	inF.Quo(inF, big.NewInt(p.reserveBase-baseOut))
	inF.Mul(inF, big.NewInt(bpsScale))
	inF.Quo(inF, big.NewInt(bpsScale-p.feeBps))
	return fixed.ClampInt64(inF)
}

// amountToReachLocked inverts the constant-product curve: the gross input
// that moves spot to the limit price. For a buy the fee-adjusted quote input
// solves (rq + inF)^2 = L*k/10^sd, so inF = sqrt(L*k/10^sd) - rq; a sell is
// symmetric on the base side. The gross input adds the fee back.
func (p *Pool) amountToReachLocked(side Side, limitPrice int64) int64 {
	k := new(big.Int).Mul(big.NewInt(p.reserveBase), big.NewInt(p.reserveQuote))
	scale := big.NewInt(fixed.Pow10(p.sizeDecimals))

	var target *big.Int
	var reserveIn int64
	if side == Buy {
		// sqrt(L*k/10^sd) in quote raws
		target = new(big.Int).Mul(k, big.NewInt(limitPrice))
		target.Quo(target, scale)
		reserveIn = p.reserveQuote
	} else {
		// sqrt(k*10^sd/L) in base raws
		target = new(big.Int).Mul(k, scale)
		target.Quo(target, big.NewInt(limitPrice))
		reserveIn = p.reserveBase
	}
	root := new(big.Int).Sqrt(target)
	root.Sub(root, big.NewInt(reserveIn))
	if root.Sign() <= 0 {
		return 0
	}
	// Gross up for the fee taken off the effective input.
	root.Mul(root, big.NewInt(bpsScale))
	root.Quo(root, big.NewInt(bpsScale-p.feeBps))
	in, err := fixed.ClampInt64(root)
	if err != nil {
		return fixed.MaxRaw
	}
	return in
}
