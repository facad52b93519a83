package purchasing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/sims-erp/sims-erp/internal/inventory"
	"github.com/sims-erp/sims-erp/internal/platform/db"
)

// Repository persists purchase orders in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	NextOrderNumber(ctx context.Context) (int, error)
	InsertOrder(ctx context.Context, order PurchaseOrder) (int64, error)
	InsertItem(ctx context.Context, item OrderItem) (int64, error)
	InsertSupplier(ctx context.Context, offer SupplierOffer) (int64, error)
	GetOrderForUpdate(ctx context.Context, id int64) (PurchaseOrder, error)
	ApproveSupplier(ctx context.Context, orderItemID, supplierID int64) error
	SetAccounts(ctx context.Context, orderID int64, accounts []string) error
	SetApproval(ctx context.Context, orderID int64, status ApprovalStatus, account string) error
	SetPayment(ctx context.Context, orderID int64, amount decimal.Decimal, paidAt time.Time) error
	SetDelivery(ctx context.Context, orderID int64, deliveredAt time.Time) error
	EnsureItem(ctx context.Context, name string, category inventory.Category, unit string) (int64, error)
	ApplyDelta(ctx context.Context, params inventory.DeltaParams) (inventory.AppliedDelta, error)
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

const orderColumns = `o.id, o.order_number, o.order_type, o.raised_by, o.created_at,
o.approval_status, o.payment_status, o.delivery_status,
o.accounts_with_money, COALESCE(o.approved_account, ''), o.amount_paid::text, o.payment_date, o.delivery_date`

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func scanOrder(row pgx.Row) (PurchaseOrder, error) {
	var (
		order    PurchaseOrder
		accounts []byte
		paid     *string
	)
	err := row.Scan(&order.ID, &order.OrderNumber, &order.OrderType, &order.RaisedBy, &order.CreatedAt,
		&order.ApprovalStatus, &order.PaymentStatus, &order.DeliveryStatus,
		&accounts, &order.ApprovedAccount, &paid, &order.PaymentDate, &order.DeliveryDate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, ErrOrderNotFound
		}
		return PurchaseOrder{}, err
	}
	order.AccountsWithMoney = []string{}
	if len(accounts) > 0 {
		if err := json.Unmarshal(accounts, &order.AccountsWithMoney); err != nil {
			return PurchaseOrder{}, fmt.Errorf("purchasing: parse accounts: %w", err)
		}
	}
	if paid != nil {
		amount, err := decimal.NewFromString(*paid)
		if err != nil {
			return PurchaseOrder{}, fmt.Errorf("purchasing: parse amount paid: %w", err)
		}
		order.AmountPaid = &amount
	}
	return order, nil
}

func loadOrderItems(ctx context.Context, q rowQuerier, orderID int64) ([]OrderItem, error) {
	rows, err := q.Query(ctx, `SELECT id, order_id, item_name, category, COALESCE(unit, ''), quantity::text
FROM purchase_order_items WHERE order_id=$1 ORDER BY id ASC`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []OrderItem{}
	for rows.Next() {
		var (
			item OrderItem
			qty  string
		)
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ItemName, &item.Category, &item.Unit, &qty); err != nil {
			return nil, err
		}
		if item.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range items {
		offers, err := loadOffers(ctx, q, items[i].ID)
		if err != nil {
			return nil, err
		}
		items[i].Suppliers = offers
	}
	return items, nil
}

func loadOffers(ctx context.Context, q rowQuerier, orderItemID int64) ([]SupplierOffer, error) {
	rows, err := q.Query(ctx, `SELECT id, order_item_id, supplier_name, price::text, approved_by_md
FROM purchase_order_suppliers WHERE order_item_id=$1 ORDER BY id ASC`, orderItemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	offers := []SupplierOffer{}
	for rows.Next() {
		var (
			offer SupplierOffer
			price string
		)
		if err := rows.Scan(&offer.ID, &offer.OrderItemID, &offer.SupplierName, &price, &offer.ApprovedByMD); err != nil {
			return nil, err
		}
		if offer.Price, err = decimal.NewFromString(price); err != nil {
			return nil, err
		}
		offers = append(offers, offer)
	}
	return offers, rows.Err()
}

// GetOrder loads one purchase order with lines and offers.
func (r *Repository) GetOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	order, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM purchase_orders o WHERE o.id=$1`, id))
	if err != nil {
		return PurchaseOrder{}, err
	}
	order.Items, err = loadOrderItems(ctx, r.pool, id)
	return order, err
}

// ListFilter narrows order listings.
type ListFilter struct {
	ApprovalStatus ApprovalStatus
	PaymentStatus  PaymentStatus
	DeliveryStatus DeliveryStatus
	Limit          int
}

// ListOrders returns purchase orders newest first.
func (r *Repository) ListOrders(ctx context.Context, filter ListFilter) ([]PurchaseOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM purchase_orders o WHERE 1=1`
	args := []any{}
	if filter.ApprovalStatus != "" {
		args = append(args, string(filter.ApprovalStatus))
		query += fmt.Sprintf(" AND o.approval_status=$%d", len(args))
	}
	if filter.PaymentStatus != "" {
		args = append(args, string(filter.PaymentStatus))
		query += fmt.Sprintf(" AND o.payment_status=$%d", len(args))
	}
	if filter.DeliveryStatus != "" {
		args = append(args, string(filter.DeliveryStatus))
		query += fmt.Sprintf(" AND o.delivery_status=$%d", len(args))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY o.id DESC LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	orders := []PurchaseOrder{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range orders {
		items, err := loadOrderItems(ctx, r.pool, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}
	return orders, nil
}

// NextOrderNumber draws from a sequence so concurrent creates never
// receive the same number.
func (r *txRepository) NextOrderNumber(ctx context.Context) (int, error) {
	var n int
	if err := r.tx.QueryRow(ctx, `SELECT nextval('order_number_seq')`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *txRepository) InsertOrder(ctx context.Context, order PurchaseOrder) (int64, error) {
	accounts, err := json.Marshal(order.AccountsWithMoney)
	if err != nil {
		return 0, err
	}
	var id int64
	err = r.tx.QueryRow(ctx, `INSERT INTO purchase_orders
(order_number, order_type, raised_by, created_at, approval_status, payment_status, delivery_status, accounts_with_money)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		order.OrderNumber, string(order.OrderType), order.RaisedBy, order.CreatedAt,
		string(order.ApprovalStatus), string(order.PaymentStatus), string(order.DeliveryStatus), accounts).Scan(&id)
	return id, err
}

func (r *txRepository) InsertItem(ctx context.Context, item OrderItem) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO purchase_order_items (order_id, item_name, category, unit, quantity)
VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		item.OrderID, item.ItemName, string(item.Category), item.Unit, item.Quantity).Scan(&id)
	return id, err
}

func (r *txRepository) InsertSupplier(ctx context.Context, offer SupplierOffer) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO purchase_order_suppliers (order_item_id, supplier_name, price, approved_by_md)
VALUES ($1,$2,$3,false) RETURNING id`,
		offer.OrderItemID, offer.SupplierName, offer.Price).Scan(&id)
	return id, err
}

func (r *txRepository) GetOrderForUpdate(ctx context.Context, id int64) (PurchaseOrder, error) {
	order, err := scanOrder(r.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM purchase_orders o WHERE o.id=$1 FOR UPDATE`, id))
	if err != nil {
		return PurchaseOrder{}, err
	}
	order.Items, err = loadOrderItems(ctx, r.tx, id)
	return order, err
}

// ApproveSupplier marks one offer approved and revokes every sibling in
// the same statement pair, keeping "exactly one approved offer per line"
// true under any interleaving.
func (r *txRepository) ApproveSupplier(ctx context.Context, orderItemID, supplierID int64) error {
	if _, err := r.tx.Exec(ctx, `UPDATE purchase_order_suppliers SET approved_by_md=false WHERE order_item_id=$1`, orderItemID); err != nil {
		return err
	}
	tag, err := r.tx.Exec(ctx, `UPDATE purchase_order_suppliers SET approved_by_md=true WHERE id=$1 AND order_item_id=$2`, supplierID, orderItemID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrOfferNotFound
	}
	return nil
}

func (r *txRepository) SetAccounts(ctx context.Context, orderID int64, accounts []string) error {
	raw, err := json.Marshal(accounts)
	if err != nil {
		return err
	}
	_, err = r.tx.Exec(ctx, `UPDATE purchase_orders SET accounts_with_money=$1 WHERE id=$2`, raw, orderID)
	return err
}

func (r *txRepository) SetApproval(ctx context.Context, orderID int64, status ApprovalStatus, account string) error {
	_, err := r.tx.Exec(ctx, `UPDATE purchase_orders SET approval_status=$1, approved_account=NULLIF($2, '') WHERE id=$3`,
		string(status), account, orderID)
	return err
}

func (r *txRepository) SetPayment(ctx context.Context, orderID int64, amount decimal.Decimal, paidAt time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE purchase_orders SET payment_status=$1, amount_paid=$2, payment_date=$3 WHERE id=$4`,
		string(PaymentPaid), amount, paidAt, orderID)
	return err
}

func (r *txRepository) SetDelivery(ctx context.Context, orderID int64, deliveredAt time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE purchase_orders SET delivery_status=$1, delivery_date=$2 WHERE id=$3`,
		string(DeliveryDelivered), deliveredAt, orderID)
	return err
}

func (r *txRepository) EnsureItem(ctx context.Context, name string, category inventory.Category, unit string) (int64, error) {
	return inventory.EnsureItemTx(ctx, r.tx, name, category, unit)
}

func (r *txRepository) ApplyDelta(ctx context.Context, params inventory.DeltaParams) (inventory.AppliedDelta, error) {
	return inventory.ApplyDeltaTx(ctx, r.tx, params)
}
