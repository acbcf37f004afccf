package market

import (
	"fmt"
	"sync"
)

// Registry manages the set of tradable pairs in a thread-safe manner.
type Registry struct {
	mu      sync.RWMutex
	markets map[string]*Market // pair -> market
}

func NewRegistry() *Registry {
	return &Registry{markets: make(map[string]*Market)}
}

// Register adds a new pair. Returns an error if the pair already exists.
func (r *Registry) Register(m *Market) error {
	if m == nil {
		return fmt.Errorf("cannot register nil market")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.markets[m.Pair]; exists {
		return fmt.Errorf("market %s already registered", m.Pair)
	}
	r.markets[m.Pair] = m
	return nil
}

// Get retrieves a market by pair.
func (r *Registry) Get(pair string) (*Market, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, exists := r.markets[pair]
	if !exists {
		return nil, fmt.Errorf("market %s not found", pair)
	}
	return m, nil
}

// List returns all registered markets.
func (r *Registry) List() []*Market {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Market, 0, len(r.markets))
	for _, m := range r.markets {
		out = append(out, m)
	}
	return out
}

// SetStatus changes the trading status of a pair. Delisted is terminal.
func (r *Registry) SetStatus(pair string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, exists := r.markets[pair]
	if !exists {
		return fmt.Errorf("market %s not found", pair)
	}
	if m.Status == Delisted {
		return fmt.Errorf("cannot change status of delisted market %s", pair)
	}
	m.Status = status
	return nil
}

// Exists checks if a pair is registered.
func (r *Registry) Exists(pair string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.markets[pair]
	return ok
}
