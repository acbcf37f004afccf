package storage

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/jwpark-dev/hyflow/pkg/book"
	"github.com/jwpark-dev/hyflow/pkg/settle"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestTradeJournalRoundTrip(t *testing.T) {
	s := openStore(t)

	base := time.Now().Add(-time.Minute)
	var last uuid.UUID
	for i := 0; i < 5; i++ {
		tr := book.Trade{
			ID:        uuid.New(),
			Pair:      "VIX10-USD",
			Price:     int64(1000 + i),
			Size:      100,
			TakerSide: book.Buy,
			Source:    book.SourceBook,
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, s.SaveTrade(tr))
		last = tr.ID
	}

	trades, err := s.LoadRecentTrades("VIX10-USD", 3)
	require.NoError(t, err)
	require.Len(t, trades, 3)
	require.Equal(t, last, trades[0].ID, "newest first")
	require.Equal(t, int64(1004), trades[0].Price)
	require.Equal(t, int64(1002), trades[2].Price)
}

func TestTradeJournalIsolatesPairs(t *testing.T) {
	s := openStore(t)

	now := time.Now()
	require.NoError(t, s.SaveTrade(book.Trade{
		ID: uuid.New(), Pair: "VIX10-USD", Price: 100, Size: 1, Timestamp: now,
	}))
	require.NoError(t, s.SaveTrade(book.Trade{
		ID: uuid.New(), Pair: "DEFI5-USD", Price: 200, Size: 1, Timestamp: now,
	}))

	trades, err := s.LoadRecentTrades("VIX10-USD", 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.Equal(t, "VIX10-USD", trades[0].Pair)

	trades, err = s.LoadRecentTrades("ETH-USD", 10)
	require.NoError(t, err)
	require.Empty(t, trades)
}

func TestSettlementTaskRoundTrip(t *testing.T) {
	s := openStore(t)

	var w common.Address
	w[19] = 7
	task := settle.Task{
		Key:       "settle-abc",
		Wallet:    w,
		Pair:      "VIX10-USD",
		TradeID:   uuid.NewString(),
		Price:     1500,
		Size:      250,
		Status:    settle.Confirmed,
		Attempts:  1,
		TxRef:     "0xdeadbeef",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, s.SaveTask(task))

	got, ok, err := s.LoadTask("settle-abc")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, task.Key, got.Key)
	require.Equal(t, task.Wallet, got.Wallet)
	require.Equal(t, settle.Confirmed, got.Status)
	require.Equal(t, task.TxRef, got.TxRef)

	_, ok, err = s.LoadTask("never-seen")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSaveTaskOverwritesTransition(t *testing.T) {
	s := openStore(t)

	task := settle.Task{Key: "k", Status: settle.Failed, Attempts: 1, Err: "boom"}
	require.NoError(t, s.SaveTask(task))

	task.Status = settle.Confirmed
	task.Attempts = 2
	task.Err = ""
	task.TxRef = "0x01"
	require.NoError(t, s.SaveTask(task))

	got, ok, err := s.LoadTask("k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, settle.Confirmed, got.Status)
	require.Equal(t, 2, got.Attempts)
	require.Empty(t, got.Err)
}
