package returns

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Condition records the state a tool came back in.
type Condition string

const (
	ConditionExcellent Condition = "Excellent"
	ConditionGood      Condition = "Good"
	ConditionFair      Condition = "Fair"
	ConditionDamaged   Condition = "Damaged"
	ConditionLost      Condition = "Lost"
)

// Valid reports whether the condition is known.
func (c Condition) Valid() bool {
	switch c {
	case ConditionExcellent, ConditionGood, ConditionFair, ConditionDamaged, ConditionLost:
		return true
	}
	return false
}

// ReturnedItem is one return event against an issuance line.
type ReturnedItem struct {
	ID          int64           `json:"id"`
	Number      string          `json:"number"`
	IssueItemID int64           `json:"issue_item_id"`
	RecordID    string          `json:"record_id"`
	ItemID      int64           `json:"item_id"`
	ItemName    string          `json:"item_name"`
	Quantity    decimal.Decimal `json:"quantity"`
	Condition   Condition       `json:"condition"`
	ReturnedAt  time.Time       `json:"returned_at"`
	ReceivedBy  int64           `json:"received_by"`
}

// OutstandingQuantityExceededError rejects a return larger than what is
// still out.
type OutstandingQuantityExceededError struct {
	IssueItemID int64
	Requested   decimal.Decimal
	Outstanding decimal.Decimal
}

func (e *OutstandingQuantityExceededError) Error() string {
	return fmt.Sprintf("returns: requested %s exceeds outstanding %s on issue item %d",
		e.Requested.String(), e.Outstanding.String(), e.IssueItemID)
}

// ValidationError reports a malformed or missing field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("returns: %s: %s", e.Field, e.Message)
}

var (
	// ErrLineNotFound indicates a missing issuance line.
	ErrLineNotFound = errors.New("returns: issue item not found")
	// ErrNotReturnable rejects returns of consumables or tools flagged
	// non-returnable.
	ErrNotReturnable = errors.New("returns: item is not returnable")
	// ErrRecordNotReturnable rejects returns against a record that has
	// not been disbursed or is already closed.
	ErrRecordNotReturnable = errors.New("returns: parent issuance is not open for returns")
	// ErrNoLines indicates an empty batch.
	ErrNoLines = errors.New("returns: at least one return line required")
)
