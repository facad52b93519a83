package notifications

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sims-erp/sims-erp/internal/inventory"
	"github.com/sims-erp/sims-erp/internal/issuance"
	"github.com/sims-erp/sims-erp/internal/purchasing"
)

// EnqueuePort hands a built alert to the background queue.
type EnqueuePort interface {
	EnqueueNotification(ctx context.Context, n Notification) error
}

// Emitter turns post-commit domain events into queued notifications.
// Enqueue failures are logged and swallowed; a missed alert never fails
// the transition that raised it.
type Emitter struct {
	logger *slog.Logger
	queue  EnqueuePort
}

// NewEmitter builds Emitter.
func NewEmitter(logger *slog.Logger, queue EnqueuePort) *Emitter {
	return &Emitter{logger: logger, queue: queue}
}

func (e *Emitter) emit(ctx context.Context, n Notification) error {
	if e == nil || e.queue == nil {
		return nil
	}
	if err := e.queue.EnqueueNotification(ctx, n); err != nil {
		e.logger.Warn("notification enqueue failed",
			slog.String("kind", string(n.Kind)),
			slog.String("recipient", n.RecipientRole),
			slog.Any("error", err),
		)
	}
	return nil
}

// HandleItemCreated queues an alert about a new catalogue entry.
func (e *Emitter) HandleItemCreated(ctx context.Context, evt inventory.ItemCreatedEvent) error {
	return e.emit(ctx, Notification{
		RecipientRole: "StoreManager",
		Kind:          KindItemCreated,
		Title:         "New item registered",
		Body:          fmt.Sprintf("%s was added to the %s catalogue", evt.Name, evt.Category),
		Meta:          map[string]any{"item_id": evt.ItemID, "category": string(evt.Category)},
	})
}

// HandleStockReplenished queues an alert about a stock-in.
func (e *Emitter) HandleStockReplenished(ctx context.Context, evt inventory.StockReplenishedEvent) error {
	return e.emit(ctx, Notification{
		RecipientRole: "StoreManager",
		Kind:          KindStockReplenished,
		Title:         fmt.Sprintf("Stock-in %s posted", evt.StockInNumber),
		Body:          fmt.Sprintf("%s %s added to %s, balance now %s", evt.Qty, evt.ItemName, evt.StockInNumber, evt.NewBalance),
		Meta:          map[string]any{"item_id": evt.ItemID, "stock_in": evt.StockInNumber, "qty": evt.Qty.String()},
	})
}

// HandleLowStock queues a reorder alert for the store manager.
func (e *Emitter) HandleLowStock(ctx context.Context, evt inventory.LowStockEvent) error {
	return e.emit(ctx, Notification{
		RecipientRole: "StoreManager",
		Kind:          KindLowStock,
		Title:         fmt.Sprintf("%s is low on stock", evt.Name),
		Body:          fmt.Sprintf("%s on hand against a reorder level of %s", evt.OnHand, evt.ReorderLevel),
		Meta: map[string]any{
			"item_id":       evt.ItemID,
			"on_hand":       evt.OnHand.String(),
			"reorder_level": evt.ReorderLevel.String(),
		},
	})
}

// HandleIssuanceDisbursed queues an alert about stock leaving the store.
func (e *Emitter) HandleIssuanceDisbursed(ctx context.Context, evt issuance.IssuanceDisbursedEvent) error {
	return e.emit(ctx, Notification{
		RecipientRole: "StoreManager",
		Kind:          KindIssuanceDisbursed,
		Title:         fmt.Sprintf("Issuance %s disbursed", evt.RecordID),
		Body:          fmt.Sprintf("%d line(s) issued to employee %d", len(evt.Lines), evt.EmployeeID),
		Meta: map[string]any{
			"record_id":   evt.RecordID,
			"issue_type":  string(evt.IssueType),
			"employee_id": evt.EmployeeID,
			"lines":       len(evt.Lines),
		},
	})
}

// HandleOrderDelivered queues an alert about a purchase order arrival.
func (e *Emitter) HandleOrderDelivered(ctx context.Context, evt purchasing.OrderDeliveredEvent) error {
	return e.emit(ctx, Notification{
		RecipientRole: "StoreManager",
		Kind:          KindOrderDelivered,
		Title:         fmt.Sprintf("Order %s delivered", evt.OrderNumber),
		Body:          fmt.Sprintf("%d line(s) taken into stock from %s", len(evt.Lines), evt.OrderNumber),
		Meta:          map[string]any{"order_number": evt.OrderNumber, "lines": len(evt.Lines)},
	})
}

var (
	_ inventory.EventHandler  = (*Emitter)(nil)
	_ issuance.EventHandler   = (*Emitter)(nil)
	_ purchasing.EventHandler = (*Emitter)(nil)
)
