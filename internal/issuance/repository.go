package issuance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/sims-erp/sims-erp/internal/inventory"
	"github.com/sims-erp/sims-erp/internal/platform/db"
)

// Repository persists issuance records in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ItemInfo is the slice of catalogue state the issuance workflow needs.
type ItemInfo struct {
	ID               int64
	Name             string
	Unit             string
	Category         inventory.Category
	OnHand           decimal.Decimal
	RequiresApproval bool
	ToolReturnable   bool
	ToolUsesFuel     bool
}

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	InsertRecord(ctx context.Context, rec IssueRecord) error
	InsertLine(ctx context.Context, line IssueItem) (int64, error)
	GetRecordForUpdate(ctx context.Context, id string) (IssueRecord, error)
	UpdateStatus(ctx context.Context, id string, status Status, approval ApprovalStatus, issuedAt *time.Time) error
	ItemAvailability(ctx context.Context, itemID int64) (ItemInfo, error)
	ApplyDelta(ctx context.Context, params inventory.DeltaParams) (inventory.AppliedDelta, error)
	PreviousFuelIssuance(ctx context.Context, vehicleID int64) (*PreviousFuelIssuance, error)
	SetLineEfficiency(ctx context.Context, lineID int64, efficiency float64) error
	GetVehicleForUpdate(ctx context.Context, vehicleID int64) (inventory.VehicleSpec, error)
	UpdateVehicleTelemetry(ctx context.Context, vehicleID int64, odometer float64, efficiency *float64) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const recordColumns = `r.id, r.issue_type, r.status, r.approval_status, r.issued_to, r.issued_by, r.purpose,
COALESCE(r.fuel_type, ''), r.vehicle_id, r.current_odometer, r.created_at, r.issued_at, r.actual_return_date`

func scanRecord(row pgx.Row) (IssueRecord, error) {
	var rec IssueRecord
	var fuelType string
	err := row.Scan(&rec.ID, &rec.IssueType, &rec.Status, &rec.ApprovalStatus, &rec.IssuedTo, &rec.IssuedBy,
		&rec.Purpose, &fuelType, &rec.VehicleID, &rec.CurrentOdometer, &rec.CreatedAt, &rec.IssuedAt, &rec.ActualReturnDate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return IssueRecord{}, ErrRecordNotFound
		}
		return IssueRecord{}, err
	}
	rec.FuelType = FuelType(fuelType)
	return rec, nil
}

func loadLines(ctx context.Context, q interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}, recordID string) ([]IssueItem, error) {
	rows, err := q.Query(ctx, `SELECT li.id, li.record_id, li.item_id, i.name, COALESCE(i.unit, ''),
li.quantity::text, li.returned_quantity::text, li.fuel_efficiency
FROM issue_items li JOIN items i ON i.id = li.item_id
WHERE li.record_id=$1 ORDER BY li.id ASC`, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := []IssueItem{}
	for rows.Next() {
		var (
			line          IssueItem
			qty, returned string
		)
		if err := rows.Scan(&line.ID, &line.RecordID, &line.ItemID, &line.ItemName, &line.Unit, &qty, &returned, &line.FuelEfficiency); err != nil {
			return nil, err
		}
		if line.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, err
		}
		if line.ReturnedQuantity, err = decimal.NewFromString(returned); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// GetRecord loads one issuance with its lines.
func (r *Repository) GetRecord(ctx context.Context, id string) (IssueRecord, error) {
	rec, err := scanRecord(r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM issue_records r WHERE r.id=$1`, id))
	if err != nil {
		return IssueRecord{}, err
	}
	rec.Items, err = loadLines(ctx, r.pool, id)
	return rec, err
}

// ListFilter narrows record listings.
type ListFilter struct {
	Status     Status
	IssueType  IssueType
	EmployeeID int64
	Limit      int
}

// ListRecords returns issuances newest first.
func (r *Repository) ListRecords(ctx context.Context, filter ListFilter) ([]IssueRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM issue_records r WHERE 1=1`
	args := []any{}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND r.status=$%d", len(args))
	}
	if filter.IssueType != "" {
		args = append(args, string(filter.IssueType))
		query += fmt.Sprintf(" AND r.issue_type=$%d", len(args))
	}
	if filter.EmployeeID != 0 {
		args = append(args, filter.EmployeeID)
		query += fmt.Sprintf(" AND r.issued_to=$%d", len(args))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY r.created_at DESC, r.id DESC LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	records := []IssueRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range records {
		lines, err := loadLines(ctx, r.pool, records[i].ID)
		if err != nil {
			return nil, err
		}
		records[i].Items = lines
	}
	return records, nil
}

// FuelHistoryEntry is one disbursed fuel record for a vehicle.
type FuelHistoryEntry struct {
	RecordID   string          `json:"record_id"`
	IssuedAt   time.Time       `json:"issued_at"`
	Odometer   float64         `json:"odometer"`
	Qty        decimal.Decimal `json:"qty"`
	Efficiency *float64        `json:"efficiency,omitempty"`
}

// VehicleFuelHistory returns disbursed fuel records for one vehicle,
// newest first.
func (r *Repository) VehicleFuelHistory(ctx context.Context, vehicleID int64) ([]FuelHistoryEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT r.id, r.issued_at, r.current_odometer, li.quantity::text, li.fuel_efficiency
FROM issue_records r JOIN issue_items li ON li.record_id = r.id
WHERE r.vehicle_id=$1 AND r.issue_type='fuel' AND r.status IN ('Issued')
ORDER BY r.issued_at DESC, li.id DESC`, vehicleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	history := []FuelHistoryEntry{}
	for rows.Next() {
		var (
			entry FuelHistoryEntry
			qty   string
		)
		if err := rows.Scan(&entry.RecordID, &entry.IssuedAt, &entry.Odometer, &qty, &entry.Efficiency); err != nil {
			return nil, err
		}
		if entry.Qty, err = decimal.NewFromString(qty); err != nil {
			return nil, err
		}
		history = append(history, entry)
	}
	return history, rows.Err()
}

func (r *txRepository) InsertRecord(ctx context.Context, rec IssueRecord) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO issue_records
(id, issue_type, status, approval_status, issued_to, issued_by, purpose, fuel_type, vehicle_id, current_odometer, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NULLIF($8,''),$9,$10,$11)`,
		rec.ID, string(rec.IssueType), string(rec.Status), string(rec.ApprovalStatus),
		rec.IssuedTo, rec.IssuedBy, rec.Purpose, string(rec.FuelType), rec.VehicleID, rec.CurrentOdometer, rec.CreatedAt)
	return err
}

func (r *txRepository) InsertLine(ctx context.Context, line IssueItem) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO issue_items (record_id, item_id, quantity, returned_quantity)
VALUES ($1,$2,$3,0) RETURNING id`, line.RecordID, line.ItemID, line.Quantity).Scan(&id)
	return id, err
}

func (r *txRepository) GetRecordForUpdate(ctx context.Context, id string) (IssueRecord, error) {
	rec, err := scanRecord(r.tx.QueryRow(ctx, `SELECT `+recordColumns+` FROM issue_records r WHERE r.id=$1 FOR UPDATE`, id))
	if err != nil {
		return IssueRecord{}, err
	}
	rec.Items, err = loadLines(ctx, r.tx, id)
	return rec, err
}

func (r *txRepository) UpdateStatus(ctx context.Context, id string, status Status, approval ApprovalStatus, issuedAt *time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE issue_records SET status=$1, approval_status=$2, issued_at=COALESCE($3, issued_at) WHERE id=$4`,
		string(status), string(approval), issuedAt, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (r *txRepository) ItemAvailability(ctx context.Context, itemID int64) (ItemInfo, error) {
	var (
		info   ItemInfo
		onHand string
	)
	err := r.tx.QueryRow(ctx, `SELECT i.id, i.name, COALESCE(i.unit, ''), i.category, i.quantity_on_hand::text, i.requires_approval,
COALESCE(t.returnable, false), COALESCE(t.uses_fuel, false)
FROM items i LEFT JOIN tools t ON t.item_id = i.id
WHERE i.id=$1 FOR UPDATE OF i`, itemID).Scan(
		&info.ID, &info.Name, &info.Unit, &info.Category, &onHand, &info.RequiresApproval, &info.ToolReturnable, &info.ToolUsesFuel)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ItemInfo{}, inventory.ErrItemNotFound
		}
		return ItemInfo{}, err
	}
	if info.OnHand, err = decimal.NewFromString(onHand); err != nil {
		return ItemInfo{}, err
	}
	return info, nil
}

func (r *txRepository) ApplyDelta(ctx context.Context, params inventory.DeltaParams) (inventory.AppliedDelta, error) {
	return inventory.ApplyDeltaTx(ctx, r.tx, params)
}

func (r *txRepository) PreviousFuelIssuance(ctx context.Context, vehicleID int64) (*PreviousFuelIssuance, error) {
	var (
		prev PreviousFuelIssuance
		qty  string
	)
	err := r.tx.QueryRow(ctx, `SELECT r.id, li.id, r.current_odometer, li.quantity::text, r.issued_at
FROM issue_records r JOIN issue_items li ON li.record_id = r.id
WHERE r.vehicle_id=$1 AND r.issue_type='fuel' AND r.status='Issued'
ORDER BY r.issued_at DESC, li.id DESC LIMIT 1 FOR UPDATE`, vehicleID).Scan(
		&prev.RecordID, &prev.LineID, &prev.Odometer, &qty, &prev.IssuedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if prev.IssuedQty, err = decimal.NewFromString(qty); err != nil {
		return nil, err
	}
	return &prev, nil
}

func (r *txRepository) SetLineEfficiency(ctx context.Context, lineID int64, efficiency float64) error {
	_, err := r.tx.Exec(ctx, `UPDATE issue_items SET fuel_efficiency=$1 WHERE id=$2`, efficiency, lineID)
	return err
}

func (r *txRepository) GetVehicleForUpdate(ctx context.Context, vehicleID int64) (inventory.VehicleSpec, error) {
	var spec inventory.VehicleSpec
	var efficiency *float64
	err := r.tx.QueryRow(ctx, `SELECT id, item_id, plate_number, fuel_item_id, current_odometer, fuel_efficiency
FROM vehicles WHERE id=$1 FOR UPDATE`, vehicleID).Scan(
		&spec.ID, &spec.ItemID, &spec.PlateNumber, &spec.FuelItemID, &spec.CurrentOdometer, &efficiency)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return inventory.VehicleSpec{}, inventory.ErrVehicleNotFound
		}
		return inventory.VehicleSpec{}, err
	}
	spec.FuelEfficiency = efficiency
	return spec, nil
}

func (r *txRepository) UpdateVehicleTelemetry(ctx context.Context, vehicleID int64, odometer float64, efficiency *float64) error {
	_, err := r.tx.Exec(ctx, `UPDATE vehicles SET current_odometer=$1, fuel_efficiency=COALESCE($2, fuel_efficiency) WHERE id=$3`,
		odometer, efficiency, vehicleID)
	return err
}
