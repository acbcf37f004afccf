package chain

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// TxRef identifies a submitted chain transaction.
type TxRef string

// Writer is the chain-write boundary. Submit delivers an encoded action
// payload and returns a transaction reference, or an error on timeout,
// rejection, or revert. Implementations must honor ctx cancellation.
type Writer interface {
	Submit(ctx context.Context, wallet common.Address, nonce uint64, payload []byte) (TxRef, error)
}

// NonceSource allocates the next sequence number for a wallet. Each value is
// consumed exactly once per successful submission.
type NonceSource interface {
	Next(wallet common.Address) uint64
}

// ErrSubmitTimeout marks a submission that did not complete in time. The task
// is failed, not left pending; callers retry with the same idempotency key.
var ErrSubmitTimeout = errors.New("chain: submit timed out")

// MemNonceSource is an in-process per-wallet counter.
type MemNonceSource struct {
	mu     sync.Mutex
	nonces map[common.Address]uint64
}

func NewMemNonceSource() *MemNonceSource {
	return &MemNonceSource{nonces: make(map[common.Address]uint64)}
}

func (n *MemNonceSource) Next(wallet common.Address) uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	v := n.nonces[wallet]
	n.nonces[wallet] = v + 1
	return v
}

// Submission records one call into a RecordingWriter.
type Submission struct {
	Wallet  common.Address
	Nonce   uint64
	Payload []byte
}

// RecordingWriter is a Writer for tests and devnet runs: it records every
// submission and answers with a synthetic tx ref. Fail and Delay make
// rejection and timeout paths reproducible.
type RecordingWriter struct {
	mu          sync.Mutex
	submissions []Submission
	seq         int

	Fail  error         // when set, every Submit returns this error
	Block chan struct{} // when set, Submit waits on it (or ctx) before answering
}

func NewRecordingWriter() *RecordingWriter {
	return &RecordingWriter{}
}

func (w *RecordingWriter) Submit(ctx context.Context, wallet common.Address, nonce uint64, payload []byte) (TxRef, error) {
	if w.Block != nil {
		select {
		case <-w.Block:
		case <-ctx.Done():
			return "", ErrSubmitTimeout
		}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Fail != nil {
		return "", w.Fail
	}
	cp := append([]byte(nil), payload...)
	w.submissions = append(w.submissions, Submission{Wallet: wallet, Nonce: nonce, Payload: cp})
	w.seq++
	return TxRef(common.Bytes2Hex(append(wallet.Bytes()[:4], byte(w.seq)))), nil
}

// Submissions returns a copy of everything submitted so far.
func (w *RecordingWriter) Submissions() []Submission {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Submission, len(w.submissions))
	copy(out, w.submissions)
	return out
}
