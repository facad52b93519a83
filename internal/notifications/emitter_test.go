package notifications

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/sims-erp/sims-erp/internal/inventory"
	"github.com/sims-erp/sims-erp/internal/issuance"
	"github.com/sims-erp/sims-erp/internal/purchasing"
)

type captureQueue struct {
	queued []Notification
	fail   bool
}

func (q *captureQueue) EnqueueNotification(ctx context.Context, n Notification) error {
	if q.fail {
		return errors.New("redis unavailable")
	}
	q.queued = append(q.queued, n)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLowStockAlertAddressesStoreManager(t *testing.T) {
	queue := &captureQueue{}
	emitter := NewEmitter(discardLogger(), queue)

	err := emitter.HandleLowStock(context.Background(), inventory.LowStockEvent{
		ItemID:       7,
		Name:         "diesel",
		Category:     inventory.CategoryFuel,
		OnHand:       decimal.NewFromInt(30),
		ReorderLevel: decimal.NewFromInt(100),
		DetectedAt:   time.Now(),
	})
	require.NoError(t, err)
	require.Len(t, queue.queued, 1)
	n := queue.queued[0]
	require.Equal(t, "StoreManager", n.RecipientRole)
	require.Equal(t, KindLowStock, n.Kind)
	require.Equal(t, "30", n.Meta["on_hand"])
}

func TestEnqueueFailureIsSwallowed(t *testing.T) {
	queue := &captureQueue{fail: true}
	emitter := NewEmitter(discardLogger(), queue)

	err := emitter.HandleIssuanceDisbursed(context.Background(), issuance.IssuanceDisbursedEvent{
		RecordID:   "ISSUE-A1B2C3",
		IssueType:  issuance.IssueFuel,
		EmployeeID: 4,
	})
	require.NoError(t, err, "a failed enqueue must not fail the transition")
}

func TestOrderDeliveredAlert(t *testing.T) {
	queue := &captureQueue{}
	emitter := NewEmitter(discardLogger(), queue)

	err := emitter.HandleOrderDelivered(context.Background(), purchasing.OrderDeliveredEvent{
		OrderNumber: "PO3",
		Lines: []purchasing.DeliveredLine{
			{ItemID: 1, ItemName: "cement", Qty: decimal.NewFromInt(50)},
		},
	})
	require.NoError(t, err)
	require.Len(t, queue.queued, 1)
	require.Equal(t, KindOrderDelivered, queue.queued[0].Kind)
	require.Equal(t, "PO3", queue.queued[0].Meta["order_number"])
}

func TestNilEmitterIsSafe(t *testing.T) {
	var emitter *Emitter
	err := emitter.HandleItemCreated(context.Background(), inventory.ItemCreatedEvent{Name: "rebar"})
	require.NoError(t, err)
}
