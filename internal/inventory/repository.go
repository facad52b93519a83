package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/sims-erp/sims-erp/internal/platform/db"
)

// Repository persists the item catalogue and stock ledger in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	ApplyDelta(ctx context.Context, params DeltaParams) (AppliedDelta, error)
	ItemExists(ctx context.Context, name string, category Category) (bool, error)
	InsertItem(ctx context.Context, item Item) (int64, error)
	InsertVehicleSpec(ctx context.Context, spec VehicleSpec) (int64, error)
	InsertToolSpec(ctx context.Context, spec ToolSpec) (int64, error)
	FindItemByName(ctx context.Context, name string, category Category) (Item, error)
	NextStockInNumber(ctx context.Context) (int, error)
	InsertStockIn(ctx context.Context, record StockIn) (int64, error)
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const itemColumns = `i.id, i.name, i.category, COALESCE(i.unit, ''), i.quantity_on_hand::text, i.reorder_level::text, i.requires_approval, i.created_at`

func scanItem(row pgx.Row) (Item, error) {
	var (
		item         Item
		onHand       string
		reorderLevel *string
	)
	if err := row.Scan(&item.ID, &item.Name, &item.Category, &item.Unit, &onHand, &reorderLevel, &item.RequiresApproval, &item.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, err
	}
	qty, err := decimal.NewFromString(onHand)
	if err != nil {
		return Item{}, fmt.Errorf("inventory: parse quantity: %w", err)
	}
	item.QuantityOnHand = qty
	if reorderLevel != nil {
		level, err := decimal.NewFromString(*reorderLevel)
		if err != nil {
			return Item{}, fmt.Errorf("inventory: parse reorder level: %w", err)
		}
		item.ReorderLevel = &level
	}
	return item, nil
}

// GetItem loads one item with its specialization payload.
func (r *Repository) GetItem(ctx context.Context, id int64) (Item, error) {
	item, err := scanItem(r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM items i WHERE i.id=$1`, id))
	if err != nil {
		return Item{}, err
	}
	return r.attachSpec(ctx, item)
}

func (r *Repository) attachSpec(ctx context.Context, item Item) (Item, error) {
	switch item.Category {
	case CategoryVehicle:
		var spec VehicleSpec
		var efficiency *float64
		err := r.pool.QueryRow(ctx, `SELECT id, item_id, plate_number, fuel_item_id, current_odometer, fuel_efficiency
FROM vehicles WHERE item_id=$1`, item.ID).Scan(&spec.ID, &spec.ItemID, &spec.PlateNumber, &spec.FuelItemID, &spec.CurrentOdometer, &efficiency)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return Item{}, err
		}
		if err == nil {
			spec.FuelEfficiency = efficiency
			item.Vehicle = &spec
		}
	case CategoryTool:
		var spec ToolSpec
		var fuelItemID *int64
		err := r.pool.QueryRow(ctx, `SELECT id, item_id, condition, returnable, uses_fuel, fuel_item_id
FROM tools WHERE item_id=$1`, item.ID).Scan(&spec.ID, &spec.ItemID, &spec.Condition, &spec.Returnable, &spec.UsesFuel, &fuelItemID)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return Item{}, err
		}
		if err == nil {
			if fuelItemID != nil {
				spec.FuelItemID = *fuelItemID
			}
			item.Tool = &spec
		}
	}
	return item, nil
}

// ListItems returns catalogue entries, optionally filtered by category.
func (r *Repository) ListItems(ctx context.Context, category Category) ([]Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items i`
	args := []any{}
	if category != "" {
		query += ` WHERE i.category=$1`
		args = append(args, string(category))
	}
	query += ` ORDER BY i.name ASC`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Item{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range items {
		attached, err := r.attachSpec(ctx, items[i])
		if err != nil {
			return nil, err
		}
		items[i] = attached
	}
	return items, nil
}

// ListStockLevels summarises on-hand quantities, optionally per category.
func (r *Repository) ListStockLevels(ctx context.Context, category Category) ([]StockLevel, error) {
	query := `SELECT i.id, i.name, i.category, COALESCE(i.unit, ''), i.quantity_on_hand::text, i.reorder_level::text FROM items i`
	args := []any{}
	if category != "" {
		query += ` WHERE i.category=$1`
		args = append(args, string(category))
	}
	query += ` ORDER BY i.name ASC`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	levels := []StockLevel{}
	for rows.Next() {
		var (
			level        StockLevel
			onHand       string
			reorderLevel *string
		)
		if err := rows.Scan(&level.ItemID, &level.Name, &level.Category, &level.Unit, &onHand, &reorderLevel); err != nil {
			return nil, err
		}
		qty, err := decimal.NewFromString(onHand)
		if err != nil {
			return nil, fmt.Errorf("inventory: parse quantity: %w", err)
		}
		level.QuantityOnHand = qty
		if reorderLevel != nil {
			threshold, err := decimal.NewFromString(*reorderLevel)
			if err != nil {
				return nil, fmt.Errorf("inventory: parse reorder level: %w", err)
			}
			level.ReorderLevel = &threshold
		}
		levels = append(levels, level)
	}
	return levels, rows.Err()
}

// ListBelowReorder returns levels at or under their reorder threshold.
func (r *Repository) ListBelowReorder(ctx context.Context) ([]StockLevel, error) {
	levels, err := r.ListStockLevels(ctx, "")
	if err != nil {
		return nil, err
	}
	low := []StockLevel{}
	for _, level := range levels {
		if level.BelowReorder() {
			low = append(low, level)
		}
	}
	return low, nil
}

// GetVehicle loads one vehicle spec by vehicle ID.
func (r *Repository) GetVehicle(ctx context.Context, vehicleID int64) (VehicleSpec, error) {
	var spec VehicleSpec
	var efficiency *float64
	err := r.pool.QueryRow(ctx, `SELECT id, item_id, plate_number, fuel_item_id, current_odometer, fuel_efficiency
FROM vehicles WHERE id=$1`, vehicleID).Scan(&spec.ID, &spec.ItemID, &spec.PlateNumber, &spec.FuelItemID, &spec.CurrentOdometer, &efficiency)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return VehicleSpec{}, ErrVehicleNotFound
		}
		return VehicleSpec{}, err
	}
	spec.FuelEfficiency = efficiency
	return spec, nil
}

// ListVehicles returns all vehicle specs ordered by plate.
func (r *Repository) ListVehicles(ctx context.Context) ([]VehicleSpec, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, item_id, plate_number, fuel_item_id, current_odometer, fuel_efficiency
FROM vehicles ORDER BY plate_number ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	specs := []VehicleSpec{}
	for rows.Next() {
		var spec VehicleSpec
		var efficiency *float64
		if err := rows.Scan(&spec.ID, &spec.ItemID, &spec.PlateNumber, &spec.FuelItemID, &spec.CurrentOdometer, &efficiency); err != nil {
			return nil, err
		}
		spec.FuelEfficiency = efficiency
		specs = append(specs, spec)
	}
	return specs, rows.Err()
}

// ListMovements returns the most recent ledger entries for one item.
func (r *Repository) ListMovements(ctx context.Context, itemID int64, limit int) ([]Movement, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT id, item_id, code, movement_type, qty::text, balance::text, ref_module, COALESCE(ref_id, ''), note, posted_at, COALESCE(created_by, 0)
FROM stock_movements WHERE item_id=$1 ORDER BY posted_at DESC, id DESC LIMIT $2`, itemID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	movements := []Movement{}
	for rows.Next() {
		var (
			m            Movement
			qty, balance string
		)
		if err := rows.Scan(&m.ID, &m.ItemID, &m.Code, &m.Type, &qty, &balance, &m.RefModule, &m.RefID, &m.Note, &m.PostedAt, &m.CreatedBy); err != nil {
			return nil, err
		}
		if m.Qty, err = decimal.NewFromString(qty); err != nil {
			return nil, err
		}
		if m.Balance, err = decimal.NewFromString(balance); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func (r *txRepository) ApplyDelta(ctx context.Context, params DeltaParams) (AppliedDelta, error) {
	return ApplyDeltaTx(ctx, r.tx, params)
}

func (r *txRepository) ItemExists(ctx context.Context, name string, category Category) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM items WHERE name=$1 AND category=$2)`, name, string(category)).Scan(&exists)
	return exists, err
}

func (r *txRepository) InsertItem(ctx context.Context, item Item) (int64, error) {
	var id int64
	var reorder any
	if item.ReorderLevel != nil {
		reorder = *item.ReorderLevel
	}
	err := r.tx.QueryRow(ctx, `INSERT INTO items (name, category, unit, quantity_on_hand, reorder_level, requires_approval, created_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW()) RETURNING id`,
		item.Name, string(item.Category), item.Unit, item.QuantityOnHand, reorder, item.RequiresApproval).Scan(&id)
	return id, err
}

func (r *txRepository) InsertVehicleSpec(ctx context.Context, spec VehicleSpec) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO vehicles (item_id, plate_number, fuel_item_id, current_odometer, fuel_efficiency)
VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		spec.ItemID, spec.PlateNumber, spec.FuelItemID, spec.CurrentOdometer, spec.FuelEfficiency).Scan(&id)
	return id, err
}

func (r *txRepository) InsertToolSpec(ctx context.Context, spec ToolSpec) (int64, error) {
	var id int64
	var fuelItemID any
	if spec.FuelItemID != 0 {
		fuelItemID = spec.FuelItemID
	}
	err := r.tx.QueryRow(ctx, `INSERT INTO tools (item_id, condition, returnable, uses_fuel, fuel_item_id)
VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		spec.ItemID, spec.Condition, spec.Returnable, spec.UsesFuel, fuelItemID).Scan(&id)
	return id, err
}

func (r *txRepository) FindItemByName(ctx context.Context, name string, category Category) (Item, error) {
	return scanItem(r.tx.QueryRow(ctx, `SELECT `+itemColumns+` FROM items i WHERE i.name=$1 AND i.category=$2 FOR UPDATE`, name, string(category)))
}

// NextStockInNumber draws from a sequence so concurrent replenishments
// never receive the same number.
func (r *txRepository) NextStockInNumber(ctx context.Context) (int, error) {
	var n int
	if err := r.tx.QueryRow(ctx, `SELECT nextval('stock_in_number_seq')`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *txRepository) InsertStockIn(ctx context.Context, record StockIn) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_ins (number, item_id, qty, remarks, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,NOW()) RETURNING id`,
		record.Number, record.ItemID, record.Qty, record.Remarks, nullInt(record.CreatedBy)).Scan(&id)
	return id, err
}
