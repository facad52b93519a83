package inventory

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Category enumerates the supported stock item kinds.
type Category string

const (
	// CategoryFuel covers dispensable fuels (diesel, petrol).
	CategoryFuel Category = "fuel"
	// CategoryVehicle covers registered vehicles, always stocked at 1.
	CategoryVehicle Category = "vehicle"
	// CategoryTool covers returnable and non-returnable tools.
	CategoryTool Category = "tool"
	// CategoryMaterial covers consumable materials.
	CategoryMaterial Category = "material"
)

// Valid reports whether the category is one of the known kinds.
func (c Category) Valid() bool {
	switch c {
	case CategoryFuel, CategoryVehicle, CategoryTool, CategoryMaterial:
		return true
	}
	return false
}

// Item is one stocked entry in the store catalogue. Vehicle and tool rows
// carry a specialization payload; fuel and material rows are plain.
type Item struct {
	ID               int64
	Name             string
	Category         Category
	Unit             string
	QuantityOnHand   decimal.Decimal
	ReorderLevel     *decimal.Decimal
	RequiresApproval bool
	CreatedAt        time.Time

	Vehicle *VehicleSpec
	Tool    *ToolSpec
}

// VehicleSpec is the vehicle specialization of an Item. Odometer and
// efficiency are derived state maintained by the fuel efficiency calculator.
type VehicleSpec struct {
	ID              int64
	ItemID          int64
	PlateNumber     string
	FuelItemID      int64
	CurrentOdometer float64
	FuelEfficiency  *float64
}

// ToolSpec is the tool specialization of an Item.
type ToolSpec struct {
	ID         int64
	ItemID     int64
	Condition  string
	Returnable bool
	UsesFuel   bool
	FuelItemID int64
}

// MovementType enumerates stock ledger movements.
type MovementType string

const (
	// MovementIn represents intake or replenishment.
	MovementIn MovementType = "IN"
	// MovementOut represents a disbursement.
	MovementOut MovementType = "OUT"
	// MovementReturn represents stock restored by a return.
	MovementReturn MovementType = "RETURN"
	// MovementAdjust represents a manual administrative adjustment.
	MovementAdjust MovementType = "ADJUST"
)

// Movement journals one applied stock delta.
type Movement struct {
	ID        int64
	ItemID    int64
	Code      string
	Type      MovementType
	Qty       decimal.Decimal
	Balance   decimal.Decimal
	RefModule string
	RefID     string
	Note      string
	PostedAt  time.Time
	CreatedBy int64
}

// StockIn records one replenishment event with its sequential number.
type StockIn struct {
	ID        int64
	Number    string
	ItemID    int64
	Qty       decimal.Decimal
	Remarks   string
	CreatedBy int64
	CreatedAt time.Time
}

// StockLevel summarises current on-hand quantity per item.
type StockLevel struct {
	ItemID         int64            `json:"item_id"`
	Name           string           `json:"name"`
	Category       Category         `json:"category"`
	Unit           string           `json:"unit"`
	QuantityOnHand decimal.Decimal  `json:"quantity_on_hand"`
	ReorderLevel   *decimal.Decimal `json:"reorder_level,omitempty"`
}

// BelowReorder reports whether the level sits at or under its threshold.
func (s StockLevel) BelowReorder() bool {
	return s.ReorderLevel != nil && s.QuantityOnHand.LessThanOrEqual(*s.ReorderLevel)
}

// NormalizeName canonicalises an item name for storage and duplicate checks:
// trimmed, lowercased, trailing plural "s" stripped.
func NormalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.TrimSuffix(name, "s")
}

// InsufficientStockError reports a delta that would push an item negative.
type InsufficientStockError struct {
	Item      string
	Unit      string
	Requested decimal.Decimal
	Available decimal.Decimal
}

// Shortage returns the missing quantity.
func (e *InsufficientStockError) Shortage() decimal.Decimal {
	return e.Requested.Sub(e.Available)
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("inventory: insufficient stock for %s: requested %s, available %s",
		e.Item, e.Requested.String(), e.Available.String())
}

// DuplicateItemError reports a name+category collision on intake.
type DuplicateItemError struct {
	Name     string
	Category Category
}

func (e *DuplicateItemError) Error() string {
	return fmt.Sprintf("inventory: item %q already exists in category %q", e.Name, e.Category)
}

// ValidationError reports a malformed or missing field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("inventory: %s: %s", e.Field, e.Message)
}

var (
	// ErrItemNotFound indicates a missing catalogue entry.
	ErrItemNotFound = errors.New("inventory: item not found")
	// ErrVehicleNotFound indicates a missing vehicle row.
	ErrVehicleNotFound = errors.New("inventory: vehicle not found")
	// ErrInvalidQuantity indicates a zero or negative quantity where a
	// positive one is required.
	ErrInvalidQuantity = errors.New("inventory: quantity must be greater than zero")
	// ErrVehicleStock rejects quantity mutations on vehicles, which are
	// pinned at one.
	ErrVehicleStock = errors.New("inventory: vehicle stock is fixed and cannot be changed")
)
