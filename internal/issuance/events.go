package issuance

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// DisbursedLine is one stock deduction performed at issue-out.
type DisbursedLine struct {
	ItemID     int64
	ItemName   string
	Unit       string
	Qty        decimal.Decimal
	NewBalance decimal.Decimal
}

// IssuanceDisbursedEvent is emitted after a disbursement commits.
type IssuanceDisbursedEvent struct {
	RecordID   string
	IssueType  IssueType
	EmployeeID int64
	ActorID    int64
	Lines      []DisbursedLine
	IssuedAt   time.Time
}

// EventHandler receives issuance events after the owning transaction
// commits. Failures are logged by the caller, never rolled back.
type EventHandler interface {
	HandleIssuanceDisbursed(ctx context.Context, evt IssuanceDisbursedEvent) error
}
