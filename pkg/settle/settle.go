// Package settle queues matched trades for on-chain settlement. It
// deduplicates retried submissions by idempotency key and serializes
// submission per wallet so concurrent tasks never race on a sequence number.
package settle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/jwpark-dev/hyflow/pkg/book"
	"github.com/jwpark-dev/hyflow/pkg/chain"
)

// TaskStatus is the settlement task lifecycle.
type TaskStatus int8

const (
	Pending TaskStatus = iota
	Submitted
	Confirmed
	Failed
)

func (s TaskStatus) String() string {
	switch s {
	case Pending:
		return "pending"
	case Submitted:
		return "submitted"
	case Confirmed:
		return "confirmed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrSubmitFailed wraps chain-write rejections and timeouts recorded on a
// task. Retry by resubmitting with the same idempotency key.
var ErrSubmitFailed = errors.New("settle: submission failed")

// Task tracks one settlement attempt chain. At most one non-terminal task
// exists per idempotency key; the key pins retries to the original work.
type Task struct {
	Key       string
	Wallet    common.Address
	Pair      string
	TradeID   string
	Price     int64
	Size      int64
	TakerSide book.Side
	Status    TaskStatus
	Attempts  int
	// Nonce is allocated on the first attempt and reused by retries, so a
	// wallet sequence number is consumed at most once per task.
	Nonce     uint64
	TxRef     chain.TxRef
	Err       string
	CreatedAt time.Time
	UpdatedAt time.Time

	nonceAssigned bool
	done          chan struct{} // closed when the current attempt settles either way
}

// snapshot copies the task without its coordination channel.
func (t *Task) snapshot() Task {
	cp := *t
	cp.done = nil
	return cp
}

// Journal persists task transitions. Implemented by the pebble store; a nil
// journal disables persistence.
type Journal interface {
	SaveTask(t Task) error
}

// Settler is the settlement queue. Lookup-and-insert on the idempotency map
// is atomic under mu; the per-wallet mutexes serialize actual submission.
type Settler struct {
	mu      sync.Mutex
	tasks   map[string]*Task
	wallets map[common.Address]*sync.Mutex

	writer  chain.Writer
	nonces  chain.NonceSource
	journal Journal
	timeout time.Duration
	log     *zap.Logger
}

// New builds a settler. timeout bounds each chain-write call; a timed-out
// task is failed, never left pending.
func New(writer chain.Writer, nonces chain.NonceSource, journal Journal, timeout time.Duration, log *zap.Logger) *Settler {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Settler{
		tasks:   make(map[string]*Task),
		wallets: make(map[common.Address]*sync.Mutex),
		writer:  writer,
		nonces:  nonces,
		journal: journal,
		timeout: timeout,
		log:     log,
	}
}

// Submit settles one trade for a wallet under the caller's idempotency key.
// A key already pending, submitted, or confirmed replays the recorded result;
// only a failed key re-executes. Under N concurrent identical submissions,
// exactly one performs the real work.
func (s *Settler) Submit(ctx context.Context, trade book.Trade, wallet common.Address, key string) (Task, error) {
	if key == "" {
		return Task{}, fmt.Errorf("settle: empty idempotency key")
	}

	s.mu.Lock()
	if t, ok := s.tasks[key]; ok && t.Status != Failed {
		done := t.done
		s.mu.Unlock()
		return s.replay(ctx, key, done)
	}

	t, ok := s.tasks[key]
	if !ok {
		t = &Task{
			Key:       key,
			Wallet:    wallet,
			Pair:      trade.Pair,
			TradeID:   trade.ID.String(),
			Price:     trade.Price,
			Size:      trade.Size,
			TakerSide: trade.TakerSide,
			CreatedAt: time.Now(),
		}
		s.tasks[key] = t
	}
	t.Status = Pending
	t.Err = ""
	t.done = make(chan struct{})
	t.Attempts++
	wmu := s.wallets[wallet]
	if wmu == nil {
		wmu = &sync.Mutex{}
		s.wallets[wallet] = wmu
	}
	s.mu.Unlock()

	// One in-flight submission per wallet; other wallets proceed in parallel.
	wmu.Lock()
	defer wmu.Unlock()

	payload, err := s.encode(t)
	if err != nil {
		return s.finish(t, "", err)
	}

	s.mu.Lock()
	if !t.nonceAssigned {
		t.Nonce = s.nonces.Next(wallet)
		t.nonceAssigned = true
	}
	nonce := t.Nonce
	t.Status = Submitted
	t.UpdatedAt = time.Now()
	s.mu.Unlock()

	subCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ref, err := s.writer.Submit(subCtx, wallet, nonce, payload)
	if err != nil && subCtx.Err() != nil {
		err = chain.ErrSubmitTimeout
	}
	return s.finish(t, ref, err)
}

// Get returns the recorded state of a task.
func (s *Settler) Get(key string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[key]
	if !ok {
		return Task{}, false
	}
	return t.snapshot(), true
}

// replay waits for the in-flight attempt (if any) and returns its result.
func (s *Settler) replay(ctx context.Context, key string, done chan struct{}) (Task, error) {
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return Task{}, ctx.Err()
		}
	}
	s.mu.Lock()
	t := s.tasks[key]
	snap := t.snapshot()
	s.mu.Unlock()
	if snap.Status == Failed {
		return snap, fmt.Errorf("%w: %s", ErrSubmitFailed, snap.Err)
	}
	return snap, nil
}

// finish records the attempt outcome, wakes replayers, and journals.
func (s *Settler) finish(t *Task, ref chain.TxRef, err error) (Task, error) {
	s.mu.Lock()
	if err != nil {
		t.Status = Failed
		t.Err = err.Error()
	} else {
		t.Status = Confirmed
		t.TxRef = ref
	}
	t.UpdatedAt = time.Now()
	close(t.done)
	snap := t.snapshot()
	s.mu.Unlock()

	if s.journal != nil {
		if jerr := s.journal.SaveTask(snap); jerr != nil {
			s.log.Warn("settlement journal write failed", zap.String("key", snap.Key), zap.Error(jerr))
		}
	}

	if err != nil {
		s.log.Warn("settlement failed",
			zap.String("key", snap.Key),
			zap.Stringer("wallet", snap.Wallet),
			zap.Int("attempts", snap.Attempts),
			zap.Error(err))
		return snap, fmt.Errorf("%w: %v", ErrSubmitFailed, err)
	}
	s.log.Info("settlement confirmed",
		zap.String("key", snap.Key),
		zap.Stringer("wallet", snap.Wallet),
		zap.String("tx", string(snap.TxRef)))
	return snap, nil
}

// encode builds the chain-write payload for a settlement task: an IOC limit
// order at the trade's price and size, with a client order ID derived from
// the idempotency key so on-chain dedup lines up with ours.
func (s *Settler) encode(t *Task) ([]byte, error) {
	if t.Price < 0 || t.Size < 0 {
		return nil, fmt.Errorf("settle: negative price or size")
	}
	digest := crypto.Keccak256([]byte(t.Key))
	cloid := new(big.Int).SetBytes(digest[:16])

	action := &chain.LimitOrderAction{
		Symbol:  t.Pair,
		IsBuy:   t.TakerSide == book.Buy,
		LimitPx: uint64(t.Price),
		Size:    uint64(t.Size),
		Tif:     chain.TifIoc,
		Cloid:   cloid,
	}
	return action.Encode()
}
