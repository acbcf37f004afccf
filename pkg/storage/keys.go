package storage

import "fmt"

// Key schema for Pebble storage:
//
//   t:<pair>:<timestamp>:<tradeID> → Trade
//   s:<idempotencyKey>             → Settlement task
//
// Trade timestamps are zero-padded (20 digits) so a prefix scan walks trades
// in time order and a reverse scan yields most-recent-first.
const (
	prefixTrade = "t:"
	prefixTask  = "s:"
)

func tradeKey(pair string, timestamp int64, tradeID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", prefixTrade, pair, timestamp, tradeID))
}

// tradePrefix covers all trades of a pair.
func tradePrefix(pair string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixTrade, pair))
}

func taskKey(key string) []byte {
	return []byte(prefixTask + key)
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
