package purchasing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// DeliveredLine is one catalogue replenishment performed at delivery.
type DeliveredLine struct {
	ItemID     int64
	ItemName   string
	Qty        decimal.Decimal
	NewBalance decimal.Decimal
}

// OrderDeliveredEvent is emitted after a delivery commits and stock has
// been taken in.
type OrderDeliveredEvent struct {
	OrderNumber string
	ActorID     int64
	Lines       []DeliveredLine
	DeliveredAt time.Time
}

// EventHandler receives purchasing events after the owning transaction
// commits.
type EventHandler interface {
	HandleOrderDelivered(ctx context.Context, evt OrderDeliveredEvent) error
}
