package worker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/riskrunner/internal/models"
	"github.com/wolfeidau/riskrunner/internal/store"
)

func TestCheckpointerFlushesOnRowCount(t *testing.T) {
	var flushed []store.ProgressDelta
	cp := NewCheckpointer(2, 0, func(d store.ProgressDelta) error {
		flushed = append(flushed, d)
		return nil
	})

	require.NoError(t, cp.Add(RowOutcome{RowIndex: 0}))
	require.Empty(t, flushed)
	require.NoError(t, cp.Add(RowOutcome{RowIndex: 1, Rejection: &models.RowRejection{RowIndex: 1, Reason: "bad"}}))
	require.Len(t, flushed, 1)
	require.Equal(t, store.ProgressDelta{
		Processed: 2, Success: 1, Failure: 1,
		Errors: []models.RowRejection{{RowIndex: 1, Reason: "bad"}},
	}, flushed[0])

	require.NoError(t, cp.Add(RowOutcome{RowIndex: 2}))
	require.NoError(t, cp.Stop())
	require.Len(t, flushed, 2)
	require.Equal(t, 1, flushed[1].Processed)

	require.Error(t, cp.Add(RowOutcome{RowIndex: 3}))
}

func TestCheckpointerFlushesOnTimer(t *testing.T) {
	var mu sync.Mutex
	var flushed int
	cp := NewCheckpointer(100, 20*time.Millisecond, func(d store.ProgressDelta) error {
		mu.Lock()
		defer mu.Unlock()
		flushed += d.Processed
		return nil
	})
	defer func() { _ = cp.Stop() }()

	require.NoError(t, cp.Add(RowOutcome{RowIndex: 0}))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return flushed == 1
	}, time.Second, 5*time.Millisecond)
}

func TestCheckpointerErrorIsSticky(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	cp := NewCheckpointer(1, 0, func(d store.ProgressDelta) error {
		calls++
		return boom
	})

	require.ErrorIs(t, cp.Add(RowOutcome{RowIndex: 0}), boom)
	require.ErrorIs(t, cp.Add(RowOutcome{RowIndex: 1}), boom)
	require.ErrorIs(t, cp.Stop(), boom)
	require.Equal(t, 1, calls)
}
