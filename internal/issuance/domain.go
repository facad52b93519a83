package issuance

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// IssueType enumerates what kind of stock an issuance hands out.
type IssueType string

const (
	// IssueMaterial disburses consumable materials.
	IssueMaterial IssueType = "material"
	// IssueTool hands out tools, optionally returnable.
	IssueTool IssueType = "tool"
	// IssueFuel dispenses fuel to a vehicle or a machine.
	IssueFuel IssueType = "fuel"
)

// Valid reports whether the issue type is known.
func (t IssueType) Valid() bool {
	switch t {
	case IssueMaterial, IssueTool, IssueFuel:
		return true
	}
	return false
}

// FuelType distinguishes vehicle fuel (odometer-tracked) from machine fuel.
type FuelType string

const (
	// FuelVehicle dispenses into a registered vehicle and carries an
	// odometer reading.
	FuelVehicle FuelType = "vehicle"
	// FuelMachine dispenses into generators, pumps and similar equipment.
	FuelMachine FuelType = "machine"
)

// Status enumerates the issuance lifecycle. Transitions are monotonic: a
// record never moves back towards Pending.
type Status string

const (
	StatusPending           Status = "Pending"
	StatusApproved          Status = "Approved"
	StatusRejected          Status = "Rejected"
	StatusIssued            Status = "Issued"
	StatusCancelled         Status = "Cancelled"
	StatusReturned          Status = "Returned"
	StatusPartiallyReturned Status = "Partially_Returned"
)

// ApprovalStatus tracks the managing director's decision.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "Pending"
	ApprovalApproved ApprovalStatus = "Approved"
	ApprovalRejected ApprovalStatus = "Rejected"
)

// IssueRecord is one issuance transaction with one or more lines.
type IssueRecord struct {
	ID             string
	IssueType      IssueType
	Status         Status
	ApprovalStatus ApprovalStatus
	IssuedTo       int64
	IssuedBy       int64
	Purpose        string

	// Fuel-only fields. Vehicle fuel carries the odometer reading taken
	// at the pump; machine fuel carries neither vehicle nor odometer.
	FuelType        FuelType
	VehicleID       *int64
	CurrentOdometer *float64

	// PreviewEfficiency is the projected efficiency shown to approvers
	// before disbursement. Never persisted; the authoritative value is
	// written onto the previous record's fuel line at issue-out.
	PreviewEfficiency *float64

	CreatedAt        time.Time
	IssuedAt         *time.Time
	ActualReturnDate *time.Time

	Items []IssueItem
}

// IssueItem is one line of an issuance.
type IssueItem struct {
	ID               int64
	RecordID         string
	ItemID           int64
	ItemName         string
	Unit             string
	Quantity         decimal.Decimal
	ReturnedQuantity decimal.Decimal

	// FuelEfficiency is filled retroactively on fuel lines when the next
	// reading for the same vehicle closes the interval this line opened.
	FuelEfficiency *float64
}

// Outstanding returns the quantity issued and not yet returned.
func (i IssueItem) Outstanding() decimal.Decimal {
	return i.Quantity.Sub(i.ReturnedQuantity)
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusRejected, StatusCancelled, StatusReturned:
		return true
	}
	return false
}

// CanCancel reports whether the record may still be cancelled.
func (s Status) CanCancel() bool {
	return s == StatusPending || s == StatusApproved
}

// ValidationError reports a malformed or missing field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("issuance: %s: %s", e.Field, e.Message)
}

// OdometerRegressionError rejects a vehicle-fuel issuance whose reading is
// not strictly ahead of the last known reading.
type OdometerRegressionError struct {
	VehicleID int64
	Reading   float64
	Last      float64
}

func (e *OdometerRegressionError) Error() string {
	return fmt.Sprintf("issuance: odometer %.1f must be greater than last recorded %.1f for vehicle %d",
		e.Reading, e.Last, e.VehicleID)
}

// InvalidApprovalStateError rejects a repeated or out-of-order approval
// decision. Idempotent success is deliberately not granted.
type InvalidApprovalStateError struct {
	RecordID string
	Current  ApprovalStatus
	Action   string
}

func (e *InvalidApprovalStateError) Error() string {
	return fmt.Sprintf("issuance: cannot %s record %s with approval status %s", e.Action, e.RecordID, e.Current)
}

// ShortfallLine details one line that cannot be covered by current stock.
type ShortfallLine struct {
	ItemID    int64           `json:"item_id"`
	ItemName  string          `json:"item_name"`
	Unit      string          `json:"unit"`
	Requested decimal.Decimal `json:"requested"`
	Available decimal.Decimal `json:"available"`
	Shortage  decimal.Decimal `json:"shortage"`
}

// StockShortfallError aborts a disbursement when any line cannot be
// covered. All failing lines are reported, not just the first.
type StockShortfallError struct {
	RecordID string
	Lines    []ShortfallLine
}

func (e *StockShortfallError) Error() string {
	return fmt.Sprintf("issuance: insufficient stock for %d line(s) on record %s", len(e.Lines), e.RecordID)
}

var (
	// ErrRecordNotFound indicates a missing issuance record.
	ErrRecordNotFound = errors.New("issuance: record not found")
	// ErrInvalidState rejects a transition not allowed from the current
	// status.
	ErrInvalidState = errors.New("issuance: transition not allowed from current status")
	// ErrApprovalRequired rejects disbursement of an unapproved fuel or
	// material issuance.
	ErrApprovalRequired = errors.New("issuance: managing director approval required before issue-out")
	// ErrEmployeeRequired indicates a missing recipient.
	ErrEmployeeRequired = errors.New("issuance: issued_to employee required")
	// ErrNoLines indicates an issuance without item lines.
	ErrNoLines = errors.New("issuance: at least one item line required")
)
