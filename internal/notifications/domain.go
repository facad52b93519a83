// Package notifications stores and dispatches operational alerts raised
// by stock and pipeline transitions.
package notifications

import (
	"errors"
	"time"
)

// Kind identifies what triggered a notification.
type Kind string

const (
	// KindItemCreated announces a new catalogue entry.
	KindItemCreated Kind = "item_created"
	// KindStockReplenished announces a stock-in.
	KindStockReplenished Kind = "stock_replenished"
	// KindLowStock flags an item at or under its reorder threshold.
	KindLowStock Kind = "low_stock"
	// KindIssuanceDisbursed announces stock leaving the store.
	KindIssuanceDisbursed Kind = "issuance_disbursed"
	// KindOrderDelivered announces a purchase order arrival.
	KindOrderDelivered Kind = "order_delivered"
)

// Notification is one stored alert addressed to a role.
type Notification struct {
	ID            int64          `json:"id"`
	RecipientRole string         `json:"recipient_role"`
	Kind          Kind           `json:"kind"`
	Title         string         `json:"title"`
	Body          string         `json:"body"`
	Meta          map[string]any `json:"meta,omitempty"`
	Read          bool           `json:"read"`
	CreatedAt     time.Time      `json:"created_at"`
}

// ErrNotificationNotFound is returned when no stored alert matches.
var ErrNotificationNotFound = errors.New("notification not found")
