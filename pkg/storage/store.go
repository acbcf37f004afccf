// Package storage persists the execution engine's durable state in Pebble:
// the per-pair trade journal and the settlement task log.
package storage

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/jwpark-dev/hyflow/pkg/book"
	"github.com/jwpark-dev/hyflow/pkg/settle"
)

type Store struct {
	db *pebble.DB
}

func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// SaveTrade appends a trade to the journal. Journal writes are NoSync: the
// book and pool are the source of truth, the journal is for serving history.
func (s *Store) SaveTrade(t book.Trade) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal trade: %w", err)
	}
	key := tradeKey(t.Pair, t.Timestamp.UnixNano(), t.ID.String())
	if err := s.db.Set(key, data, pebble.NoSync); err != nil {
		return fmt.Errorf("save trade: %w", err)
	}
	return nil
}

// LoadRecentTrades returns up to limit trades for a pair, newest first.
func (s *Store) LoadRecentTrades(pair string, limit int) ([]book.Trade, error) {
	prefix := tradePrefix(pair)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("trade iterator: %w", err)
	}
	defer iter.Close()

	var trades []book.Trade
	for iter.Last(); iter.Valid() && len(trades) < limit; iter.Prev() {
		var t book.Trade
		if err := json.Unmarshal(iter.Value(), &t); err != nil {
			continue
		}
		trades = append(trades, t)
	}
	return trades, nil
}

// SaveTask records a settlement task transition. Synced: the idempotency log
// must survive a crash or retries could double-submit.
func (s *Store) SaveTask(t settle.Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	if err := s.db.Set(taskKey(t.Key), data, pebble.Sync); err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}

// LoadTask returns the recorded settlement task for an idempotency key.
// Returns false if the key was never seen.
func (s *Store) LoadTask(key string) (settle.Task, bool, error) {
	data, closer, err := s.db.Get(taskKey(key))
	if err == pebble.ErrNotFound {
		return settle.Task{}, false, nil
	}
	if err != nil {
		return settle.Task{}, false, fmt.Errorf("get task: %w", err)
	}
	defer closer.Close()

	var t settle.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return settle.Task{}, false, fmt.Errorf("unmarshal task: %w", err)
	}
	return t, true, nil
}

var _ settle.Journal = (*Store)(nil)
