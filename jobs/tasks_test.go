package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/sims-erp/sims-erp/internal/notifications"
)

type memoryStore struct {
	stored []notifications.Notification
}

func (s *memoryStore) Insert(ctx context.Context, n notifications.Notification) (notifications.Notification, error) {
	n.ID = int64(len(s.stored) + 1)
	s.stored = append(s.stored, n)
	return n, nil
}

type countingScanner struct {
	calls   int
	flagged int
	err     error
}

func (s *countingScanner) ScanLowStock(ctx context.Context) (int, error) {
	s.calls++
	return s.flagged, s.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyDispatchStoresAlert(t *testing.T) {
	store := &memoryStore{}
	handler := NewNotifyDispatchHandler(store, discardLogger())

	task, err := NewNotifyDispatchTask(NotifyDispatchPayload{
		RecipientRole: "StoreManager",
		Kind:          notifications.KindLowStock,
		Title:         "diesel is low on stock",
		Body:          "30 on hand against a reorder level of 100",
		Meta:          map[string]any{"item_id": float64(7)},
	})
	require.NoError(t, err)

	require.NoError(t, handler(context.Background(), task))
	require.Len(t, store.stored, 1)
	require.Equal(t, notifications.KindLowStock, store.stored[0].Kind)
	require.Equal(t, "StoreManager", store.stored[0].RecipientRole)
}

func TestNotifyDispatchSkipsBadPayload(t *testing.T) {
	store := &memoryStore{}
	handler := NewNotifyDispatchHandler(store, discardLogger())

	task := asynq.NewTask(TaskNotifyDispatch, []byte("{not json"))
	err := handler(context.Background(), task)
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Empty(t, store.stored)
}

func TestLowStockScanHandlerPropagatesError(t *testing.T) {
	scanner := &countingScanner{err: errors.New("db down")}
	handler := NewLowStockScanHandler(scanner, discardLogger())

	err := handler(context.Background(), NewLowStockScanTask())
	require.Error(t, err)
	require.Equal(t, 1, scanner.calls)
}

func TestLowStockScanHandlerRunsScan(t *testing.T) {
	scanner := &countingScanner{flagged: 3}
	handler := NewLowStockScanHandler(scanner, discardLogger())

	require.NoError(t, handler(context.Background(), NewLowStockScanTask()))
	require.Equal(t, 1, scanner.calls)
}
