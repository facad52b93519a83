// Package jobs holds the background queue: notification dispatch and the
// periodic low-stock scan.
package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/sims-erp/sims-erp/internal/notifications"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskNotifyDispatch persists a queued notification.
	TaskNotifyDispatch = "notify:dispatch"
	// TaskLowStockScan walks the catalogue for depleted items.
	TaskLowStockScan = "stock:low_scan"
	// TaskIdempotencyPurge drops idempotency keys past their retention.
	TaskIdempotencyPurge = "idem:purge"
)

// NotifyDispatchPayload carries one alert through the queue.
type NotifyDispatchPayload struct {
	RecipientRole string             `json:"recipient_role"`
	Kind          notifications.Kind `json:"kind"`
	Title         string             `json:"title"`
	Body          string             `json:"body"`
	Meta          map[string]any     `json:"meta,omitempty"`
}

// NewNotifyDispatchTask constructs an Asynq task for one alert.
func NewNotifyDispatchTask(payload NotifyDispatchPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskNotifyDispatch, data), nil
}

// NewLowStockScanTask constructs the periodic scan trigger.
func NewLowStockScanTask() *asynq.Task {
	return asynq.NewTask(TaskLowStockScan, nil)
}

// NewIdempotencyPurgeTask constructs the periodic key purge trigger.
func NewIdempotencyPurgeTask() *asynq.Task {
	return asynq.NewTask(TaskIdempotencyPurge, nil)
}

// NotificationStore persists dispatched alerts.
type NotificationStore interface {
	Insert(ctx context.Context, n notifications.Notification) (notifications.Notification, error)
}

// NewNotifyDispatchHandler returns the handler that stores queued alerts.
func NewNotifyDispatchHandler(store NotificationStore, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload NotifyDispatchPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			logger.Warn("notify dispatch: bad payload", slog.Any("error", err))
			return asynq.SkipRetry
		}
		_, err := store.Insert(ctx, notifications.Notification{
			RecipientRole: payload.RecipientRole,
			Kind:          payload.Kind,
			Title:         payload.Title,
			Body:          payload.Body,
			Meta:          payload.Meta,
		})
		return err
	}
}

// LowStockScanner walks the catalogue and raises alerts for depleted items.
type LowStockScanner interface {
	ScanLowStock(ctx context.Context) (int, error)
}

// NewLowStockScanHandler returns the handler behind the reorder cron.
func NewLowStockScanHandler(scanner LowStockScanner, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		flagged, err := scanner.ScanLowStock(ctx)
		if err != nil {
			return err
		}
		logger.Info("low stock scan complete", slog.Int("flagged", flagged))
		return nil
	}
}

// KeyCleaner drops stale idempotency keys.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// Issue-out and delivery retries arrive within minutes; a day of retention
// is generous.
const idempotencyRetention = 24 * time.Hour

// NewIdempotencyPurgeHandler returns the handler behind the purge cron.
func NewIdempotencyPurgeHandler(cleaner KeyCleaner, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		if err := cleaner.Cleanup(ctx, idempotencyRetention); err != nil {
			return err
		}
		logger.Info("idempotency keys purged")
		return nil
	}
}
