package settle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/jwpark-dev/hyflow/pkg/book"
	"github.com/jwpark-dev/hyflow/pkg/chain"
)

func wallet(b byte) common.Address {
	var a common.Address
	a[19] = b
	return a
}

func sampleTrade() book.Trade {
	return book.Trade{
		ID:        uuid.New(),
		Pair:      "VIX10-USD",
		Price:     1500,
		Size:      250,
		TakerSide: book.Buy,
		Source:    book.SourceBook,
		Timestamp: time.Now(),
	}
}

type memJournal struct {
	mu    sync.Mutex
	tasks []Task
}

func (j *memJournal) SaveTask(t Task) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.tasks = append(j.tasks, t)
	return nil
}

func TestSubmitConfirms(t *testing.T) {
	w := chain.NewRecordingWriter()
	j := &memJournal{}
	s := New(w, chain.NewMemNonceSource(), j, time.Second, nil)

	task, err := s.Submit(context.Background(), sampleTrade(), wallet(1), "k-1")
	require.NoError(t, err)
	require.Equal(t, Confirmed, task.Status)
	require.NotEmpty(t, task.TxRef)
	require.Equal(t, 1, task.Attempts)

	subs := w.Submissions()
	require.Len(t, subs, 1)
	require.Equal(t, wallet(1), subs[0].Wallet)
	require.Equal(t, uint64(0), subs[0].Nonce)
	require.NotEmpty(t, subs[0].Payload)

	j.mu.Lock()
	defer j.mu.Unlock()
	require.Len(t, j.tasks, 1)
	require.Equal(t, Confirmed, j.tasks[0].Status)
}

func TestReplayAfterConfirm(t *testing.T) {
	w := chain.NewRecordingWriter()
	s := New(w, chain.NewMemNonceSource(), nil, time.Second, nil)
	tr := sampleTrade()

	first, err := s.Submit(context.Background(), tr, wallet(1), "k-1")
	require.NoError(t, err)

	second, err := s.Submit(context.Background(), tr, wallet(1), "k-1")
	require.NoError(t, err)

	require.Equal(t, first.TxRef, second.TxRef)
	require.Equal(t, 1, second.Attempts)
	require.Len(t, w.Submissions(), 1, "replay must not resubmit")
}

func TestConcurrentSubmitsSameKey(t *testing.T) {
	w := chain.NewRecordingWriter()
	w.Block = make(chan struct{})
	s := New(w, chain.NewMemNonceSource(), nil, 5*time.Second, nil)
	tr := sampleTrade()

	const n = 5
	results := make([]Task, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.Submit(context.Background(), tr, wallet(1), "k-concurrent")
		}(i)
	}

	// Hold the winner inside the writer long enough for the rest to pile up
	// as replayers, then release.
	time.Sleep(50 * time.Millisecond)
	close(w.Block)
	wg.Wait()

	require.Len(t, w.Submissions(), 1, "exactly one real submission")
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, Confirmed, results[i].Status)
		require.Equal(t, results[0].TxRef, results[i].TxRef)
		require.Equal(t, 1, results[i].Attempts)
	}
}

func TestFailedTaskRetriesWithSameKey(t *testing.T) {
	w := chain.NewRecordingWriter()
	w.Fail = errors.New("chain rejected")
	s := New(w, chain.NewMemNonceSource(), nil, time.Second, nil)
	tr := sampleTrade()

	task, err := s.Submit(context.Background(), tr, wallet(1), "k-retry")
	require.ErrorIs(t, err, ErrSubmitFailed)
	require.Equal(t, Failed, task.Status)
	require.Equal(t, 1, task.Attempts)
	require.Empty(t, w.Submissions())

	w.Fail = nil
	task, err = s.Submit(context.Background(), tr, wallet(1), "k-retry")
	require.NoError(t, err)
	require.Equal(t, Confirmed, task.Status)
	require.Equal(t, 2, task.Attempts)
	require.Len(t, w.Submissions(), 1)
}

func TestRetryReusesNonce(t *testing.T) {
	w := chain.NewRecordingWriter()
	w.Fail = errors.New("chain rejected")
	s := New(w, chain.NewMemNonceSource(), nil, time.Second, nil)
	tr := sampleTrade()

	// A failed attempt keeps its sequence number; the retry spends it.
	task, err := s.Submit(context.Background(), tr, wallet(1), "k-nonce")
	require.ErrorIs(t, err, ErrSubmitFailed)
	require.Equal(t, uint64(0), task.Nonce)

	w.Fail = nil
	task, err = s.Submit(context.Background(), tr, wallet(1), "k-nonce")
	require.NoError(t, err)
	require.Equal(t, uint64(0), task.Nonce)

	// The next task on the wallet gets the following number: no gap from the
	// failed attempt.
	other := sampleTrade()
	next, err := s.Submit(context.Background(), other, wallet(1), "k-next")
	require.NoError(t, err)
	require.Equal(t, uint64(1), next.Nonce)

	subs := w.Submissions()
	require.Len(t, subs, 2)
	require.Equal(t, uint64(0), subs[0].Nonce)
	require.Equal(t, uint64(1), subs[1].Nonce)
}

func TestSubmitTimeoutFailsTask(t *testing.T) {
	w := chain.NewRecordingWriter()
	w.Block = make(chan struct{}) // never closed
	s := New(w, chain.NewMemNonceSource(), nil, 50*time.Millisecond, nil)

	task, err := s.Submit(context.Background(), sampleTrade(), wallet(1), "k-slow")
	require.ErrorIs(t, err, ErrSubmitFailed)
	require.Equal(t, Failed, task.Status)
	require.Contains(t, task.Err, "timed out")
	require.Empty(t, w.Submissions())

	got, ok := s.Get("k-slow")
	require.True(t, ok)
	require.Equal(t, Failed, got.Status)
}

func TestNoncesPerWallet(t *testing.T) {
	w := chain.NewRecordingWriter()
	s := New(w, chain.NewMemNonceSource(), nil, time.Second, nil)

	for i := 0; i < 3; i++ {
		tr := sampleTrade()
		_, err := s.Submit(context.Background(), tr, wallet(1), tr.ID.String())
		require.NoError(t, err)
	}
	tr := sampleTrade()
	_, err := s.Submit(context.Background(), tr, wallet(2), tr.ID.String())
	require.NoError(t, err)

	byWallet := make(map[common.Address][]uint64)
	for _, sub := range w.Submissions() {
		byWallet[sub.Wallet] = append(byWallet[sub.Wallet], sub.Nonce)
	}
	require.Equal(t, []uint64{0, 1, 2}, byWallet[wallet(1)])
	require.Equal(t, []uint64{0}, byWallet[wallet(2)])
}

func TestGetUnknownKey(t *testing.T) {
	s := New(chain.NewRecordingWriter(), chain.NewMemNonceSource(), nil, time.Second, nil)
	_, ok := s.Get("missing")
	require.False(t, ok)
}

func TestEmptyKeyRejected(t *testing.T) {
	s := New(chain.NewRecordingWriter(), chain.NewMemNonceSource(), nil, time.Second, nil)
	_, err := s.Submit(context.Background(), sampleTrade(), wallet(1), "")
	require.Error(t, err)
}
