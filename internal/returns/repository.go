package returns

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/sims-erp/sims-erp/internal/inventory"
	"github.com/sims-erp/sims-erp/internal/issuance"
	"github.com/sims-erp/sims-erp/internal/platform/db"
)

// Repository persists return events in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// LineState is the locked view of one issuance line and its parent needed
// to validate a return.
type LineState struct {
	LineID           int64
	RecordID         string
	RecordStatus     issuance.Status
	ItemID           int64
	ItemName         string
	Category         inventory.Category
	ToolReturnable   bool
	Quantity         decimal.Decimal
	ReturnedQuantity decimal.Decimal
}

// Outstanding returns what is still out on the line.
func (s LineState) Outstanding() decimal.Decimal {
	return s.Quantity.Sub(s.ReturnedQuantity)
}

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	GetLineForUpdate(ctx context.Context, issueItemID int64) (LineState, error)
	AddReturnedQuantity(ctx context.Context, issueItemID int64, qty decimal.Decimal) error
	NextReturnNumber(ctx context.Context) (int, error)
	InsertReturnedItem(ctx context.Context, item ReturnedItem) (int64, error)
	ApplyDelta(ctx context.Context, params inventory.DeltaParams) (inventory.AppliedDelta, error)
	RecordLines(ctx context.Context, recordID string) ([]LineState, error)
	CloseRecord(ctx context.Context, recordID string, status issuance.Status, returnedAt *time.Time) error
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

// ListByRecord returns all return events against one issuance.
func (r *Repository) ListByRecord(ctx context.Context, recordID string) ([]ReturnedItem, error) {
	rows, err := r.pool.Query(ctx, `SELECT ri.id, ri.number, ri.issue_item_id, li.record_id, li.item_id, i.name,
ri.quantity::text, ri.condition, ri.returned_at, COALESCE(ri.received_by, 0)
FROM returned_items ri
JOIN issue_items li ON li.id = ri.issue_item_id
JOIN items i ON i.id = li.item_id
WHERE li.record_id=$1 ORDER BY ri.id ASC`, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReturnedItems(rows)
}

// ListRecent returns the latest return events, newest first.
func (r *Repository) ListRecent(ctx context.Context, limit int) ([]ReturnedItem, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT ri.id, ri.number, ri.issue_item_id, li.record_id, li.item_id, i.name,
ri.quantity::text, ri.condition, ri.returned_at, COALESCE(ri.received_by, 0)
FROM returned_items ri
JOIN issue_items li ON li.id = ri.issue_item_id
JOIN items i ON i.id = li.item_id
ORDER BY ri.id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReturnedItems(rows)
}

func scanReturnedItems(rows pgx.Rows) ([]ReturnedItem, error) {
	items := []ReturnedItem{}
	for rows.Next() {
		var (
			item ReturnedItem
			qty  string
		)
		if err := rows.Scan(&item.ID, &item.Number, &item.IssueItemID, &item.RecordID, &item.ItemID, &item.ItemName,
			&qty, &item.Condition, &item.ReturnedAt, &item.ReceivedBy); err != nil {
			return nil, err
		}
		var err error
		if item.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *txRepository) GetLineForUpdate(ctx context.Context, issueItemID int64) (LineState, error) {
	var (
		state         LineState
		qty, returned string
	)
	err := r.tx.QueryRow(ctx, `SELECT li.id, li.record_id, r.status, li.item_id, i.name, i.category,
COALESCE(t.returnable, false), li.quantity::text, li.returned_quantity::text
FROM issue_items li
JOIN issue_records r ON r.id = li.record_id
JOIN items i ON i.id = li.item_id
LEFT JOIN tools t ON t.item_id = i.id
WHERE li.id=$1 FOR UPDATE OF li, r`, issueItemID).Scan(
		&state.LineID, &state.RecordID, &state.RecordStatus, &state.ItemID, &state.ItemName, &state.Category,
		&state.ToolReturnable, &qty, &returned)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LineState{}, ErrLineNotFound
		}
		return LineState{}, err
	}
	if state.Quantity, err = decimal.NewFromString(qty); err != nil {
		return LineState{}, err
	}
	if state.ReturnedQuantity, err = decimal.NewFromString(returned); err != nil {
		return LineState{}, err
	}
	return state, nil
}

func (r *txRepository) AddReturnedQuantity(ctx context.Context, issueItemID int64, qty decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `UPDATE issue_items SET returned_quantity = returned_quantity + $1 WHERE id=$2`, qty, issueItemID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLineNotFound
	}
	return nil
}

// NextReturnNumber draws from a sequence so concurrent batches never
// receive the same number.
func (r *txRepository) NextReturnNumber(ctx context.Context) (int, error) {
	var n int
	if err := r.tx.QueryRow(ctx, `SELECT nextval('return_number_seq')`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *txRepository) InsertReturnedItem(ctx context.Context, item ReturnedItem) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO returned_items (number, issue_item_id, quantity, condition, returned_at, received_by)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
		item.Number, item.IssueItemID, item.Quantity, string(item.Condition), item.ReturnedAt, item.ReceivedBy).Scan(&id)
	return id, err
}

func (r *txRepository) ApplyDelta(ctx context.Context, params inventory.DeltaParams) (inventory.AppliedDelta, error) {
	return inventory.ApplyDeltaTx(ctx, r.tx, params)
}

func (r *txRepository) RecordLines(ctx context.Context, recordID string) ([]LineState, error) {
	rows, err := r.tx.Query(ctx, `SELECT li.id, li.record_id, r.status, li.item_id, i.name, i.category,
COALESCE(t.returnable, false), li.quantity::text, li.returned_quantity::text
FROM issue_items li
JOIN issue_records r ON r.id = li.record_id
JOIN items i ON i.id = li.item_id
LEFT JOIN tools t ON t.item_id = i.id
WHERE li.record_id=$1 ORDER BY li.id ASC`, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := []LineState{}
	for rows.Next() {
		var (
			state         LineState
			qty, returned string
		)
		if err := rows.Scan(&state.LineID, &state.RecordID, &state.RecordStatus, &state.ItemID, &state.ItemName,
			&state.Category, &state.ToolReturnable, &qty, &returned); err != nil {
			return nil, err
		}
		if state.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, err
		}
		if state.ReturnedQuantity, err = decimal.NewFromString(returned); err != nil {
			return nil, err
		}
		lines = append(lines, state)
	}
	return lines, rows.Err()
}

func (r *txRepository) CloseRecord(ctx context.Context, recordID string, status issuance.Status, returnedAt *time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE issue_records SET status=$1, actual_return_date=COALESCE($2, actual_return_date) WHERE id=$3`,
		string(status), returnedAt, recordID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLineNotFound
	}
	return nil
}
