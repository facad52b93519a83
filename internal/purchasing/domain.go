package purchasing

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sims-erp/sims-erp/internal/inventory"
)

// OrderType tells why a purchase order was raised.
type OrderType string

const (
	// OrderReorder restocks an item that fell under its threshold.
	OrderReorder OrderType = "reorder"
	// OrderAccumulate builds up stock ahead of planned work.
	OrderAccumulate OrderType = "accumulate"
)

// Valid reports whether the order type is known.
func (t OrderType) Valid() bool {
	return t == OrderReorder || t == OrderAccumulate
}

// ApprovalStatus is the first pipeline track.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// PaymentStatus is the second pipeline track, gated by approval.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
)

// DeliveryStatus is the third pipeline track, gated by payment.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
)

// SupplierOffer is one vendor quote for a purchase order line. At most one
// offer per line may carry ApprovedByMD.
type SupplierOffer struct {
	ID           int64           `json:"id"`
	OrderItemID  int64           `json:"order_item_id"`
	SupplierName string          `json:"supplier_name"`
	Price        decimal.Decimal `json:"price"`
	ApprovedByMD bool            `json:"approved_by_md"`
}

// OrderItem is one line of a purchase order. ItemName is kept as entered;
// the catalogue row is resolved (or auto-created) at delivery.
type OrderItem struct {
	ID        int64              `json:"id"`
	OrderID   int64              `json:"order_id"`
	ItemName  string             `json:"item_name"`
	Category  inventory.Category `json:"category"`
	Unit      string             `json:"unit"`
	Quantity  decimal.Decimal    `json:"quantity"`
	Suppliers []SupplierOffer    `json:"suppliers"`
}

// ApprovedSupplier returns the MD-approved offer, if any.
func (i OrderItem) ApprovedSupplier() *SupplierOffer {
	for idx := range i.Suppliers {
		if i.Suppliers[idx].ApprovedByMD {
			return &i.Suppliers[idx]
		}
	}
	return nil
}

// PurchaseOrder runs through three ordered tracks: approval, payment,
// delivery. Each track is monotonic and strictly gated by the previous one.
type PurchaseOrder struct {
	ID          int64     `json:"id"`
	OrderNumber string    `json:"order_number"`
	OrderType   OrderType `json:"order_type"`
	RaisedBy    int64     `json:"raised_by"`
	CreatedAt   time.Time `json:"created_at"`

	ApprovalStatus ApprovalStatus `json:"approval_status"`
	PaymentStatus  PaymentStatus  `json:"payment_status"`
	DeliveryStatus DeliveryStatus `json:"delivery_status"`

	// AccountsWithMoney is the funding set curated by the accounts
	// manager; ApprovedAccount is the MD's selection from it.
	AccountsWithMoney []string `json:"accounts_with_money"`
	ApprovedAccount   string   `json:"approved_account,omitempty"`

	AmountPaid   *decimal.Decimal `json:"amount_paid,omitempty"`
	PaymentDate  *time.Time       `json:"payment_date,omitempty"`
	DeliveryDate *time.Time       `json:"delivery_date,omitempty"`

	Items []OrderItem `json:"items"`
}

// PipelineOrderViolationError names the unmet precondition of a skipped
// pipeline gate.
type PipelineOrderViolationError struct {
	OrderNumber string
	Stage       string
	Requirement string
}

func (e *PipelineOrderViolationError) Error() string {
	return fmt.Sprintf("purchasing: %s blocked on order %s: %s", e.Stage, e.OrderNumber, e.Requirement)
}

// ValidationError reports a malformed or missing field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("purchasing: %s: %s", e.Field, e.Message)
}

var (
	// ErrOrderNotFound indicates a missing purchase order.
	ErrOrderNotFound = errors.New("purchasing: order not found")
	// ErrOfferNotFound indicates a missing supplier offer.
	ErrOfferNotFound = errors.New("purchasing: supplier offer not found")
	// ErrOrderClosed rejects mutations on a rejected order.
	ErrOrderClosed = errors.New("purchasing: order is rejected and closed")
)
