package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// DeltaParams describes one signed stock mutation. Positive quantities
// replenish, negative quantities disburse.
type DeltaParams struct {
	ItemID    int64
	Qty       decimal.Decimal
	Type      MovementType
	Code      string
	RefModule string
	RefID     string
	Note      string
	ActorID   int64
	// Override allows administrative adjustments to push the balance
	// negative. Never set on issuance or return paths.
	Override bool
}

// AppliedDelta reports the outcome of one ledger mutation.
type AppliedDelta struct {
	ItemID     int64
	ItemName   string
	Unit       string
	Qty        decimal.Decimal
	NewBalance decimal.Decimal
	MovementID int64
}

// ApplyDeltaTx performs one read-check-write stock mutation inside the
// caller's transaction. The item row is locked for the duration so a
// concurrent mutation of the same item serialises behind this one. All
// stock-affecting modules (issuance, returns, purchasing, restock) funnel
// through here; nothing else writes quantity_on_hand.
func ApplyDeltaTx(ctx context.Context, tx pgx.Tx, params DeltaParams) (AppliedDelta, error) {
	if params.ItemID == 0 {
		return AppliedDelta{}, &ValidationError{Field: "item_id", Message: "required"}
	}
	if params.Qty.IsZero() {
		return AppliedDelta{}, ErrInvalidQuantity
	}

	var (
		name      string
		category  Category
		unit      string
		onHandStr string
	)
	err := tx.QueryRow(ctx, `SELECT name, category, COALESCE(unit, ''), quantity_on_hand::text
FROM items WHERE id=$1 FOR UPDATE`, params.ItemID).Scan(&name, &category, &unit, &onHandStr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AppliedDelta{}, ErrItemNotFound
		}
		return AppliedDelta{}, err
	}
	onHand, err := decimal.NewFromString(onHandStr)
	if err != nil {
		return AppliedDelta{}, fmt.Errorf("inventory: parse balance: %w", err)
	}
	if category == CategoryVehicle {
		return AppliedDelta{}, ErrVehicleStock
	}

	newBalance := onHand.Add(params.Qty)
	if newBalance.IsNegative() && !params.Override {
		return AppliedDelta{}, &InsufficientStockError{
			Item:      name,
			Unit:      unit,
			Requested: params.Qty.Neg(),
			Available: onHand,
		}
	}

	if _, err := tx.Exec(ctx, `UPDATE items SET quantity_on_hand=$1 WHERE id=$2`, newBalance, params.ItemID); err != nil {
		return AppliedDelta{}, err
	}

	code := params.Code
	if code == "" {
		code = fmt.Sprintf("MV-%d", time.Now().UTC().UnixNano())
	}
	var movementID int64
	err = tx.QueryRow(ctx, `INSERT INTO stock_movements (item_id, code, movement_type, qty, balance, ref_module, ref_id, note, posted_at, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW(),$9) RETURNING id`,
		params.ItemID, code, string(params.Type), params.Qty, newBalance,
		params.RefModule, nullString(params.RefID), params.Note, nullInt(params.ActorID)).Scan(&movementID)
	if err != nil {
		return AppliedDelta{}, err
	}

	return AppliedDelta{
		ItemID:     params.ItemID,
		ItemName:   name,
		Unit:       unit,
		Qty:        params.Qty,
		NewBalance: newBalance,
		MovementID: movementID,
	}, nil
}

// EnsureItemTx resolves an item by normalised name and category inside the
// caller's transaction, creating it with zero stock when absent. Purchasing
// uses this when a delivered order line names an item the store has never
// carried.
func EnsureItemTx(ctx context.Context, tx pgx.Tx, name string, category Category, unit string) (int64, error) {
	name = NormalizeName(name)
	if name == "" {
		return 0, &ValidationError{Field: "name", Message: "required"}
	}
	if !category.Valid() {
		return 0, &ValidationError{Field: "category", Message: "unknown category"}
	}
	var id int64
	err := tx.QueryRow(ctx, `SELECT id FROM items WHERE name=$1 AND category=$2 FOR UPDATE`, name, string(category)).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}
	err = tx.QueryRow(ctx, `INSERT INTO items (name, category, unit, quantity_on_hand, requires_approval, created_at)
VALUES ($1,$2,$3,0,$4,NOW()) RETURNING id`,
		name, string(category), unit, category == CategoryFuel || category == CategoryMaterial).Scan(&id)
	return id, err
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(i int64) any {
	if i == 0 {
		return nil
	}
	return i
}
