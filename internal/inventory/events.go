package inventory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ItemCreatedEvent is emitted after a new catalogue entry is committed.
type ItemCreatedEvent struct {
	ItemID    int64
	Name      string
	Category  Category
	CreatedAt time.Time
}

// StockReplenishedEvent is emitted after a stock-in is committed.
type StockReplenishedEvent struct {
	StockInNumber string
	ItemID        int64
	ItemName      string
	Qty           decimal.Decimal
	NewBalance    decimal.Decimal
	ActorID       int64
	PostedAt      time.Time
}

// LowStockEvent flags an item at or under its reorder threshold.
type LowStockEvent struct {
	ItemID       int64
	Name         string
	Category     Category
	OnHand       decimal.Decimal
	ReorderLevel decimal.Decimal
	DetectedAt   time.Time
}

// EventHandler receives inventory events after the owning transaction
// commits. Implementations must not fail the calling operation.
type EventHandler interface {
	HandleItemCreated(ctx context.Context, evt ItemCreatedEvent) error
	HandleStockReplenished(ctx context.Context, evt StockReplenishedEvent) error
	HandleLowStock(ctx context.Context, evt LowStockEvent) error
}
