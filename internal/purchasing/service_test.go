package purchasing

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/sims-erp/sims-erp/internal/inventory"
	"github.com/sims-erp/sims-erp/internal/shared"
)

type stockItem struct {
	id     int64
	name   string
	onHand decimal.Decimal
}

type memoryRepo struct {
	orders    map[int64]*PurchaseOrder
	stock     map[string]*stockItem
	nextID    int64
	numberSeq int
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		orders: make(map[int64]*PurchaseOrder),
		stock:  make(map[string]*stockItem),
	}
}

func (r *memoryRepo) addStock(name, qty string) {
	r.nextID++
	r.stock[name] = &stockItem{id: r.nextID, name: name, onHand: decimal.RequireFromString(qty)}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func cloneOrder(order PurchaseOrder) PurchaseOrder {
	items := make([]OrderItem, len(order.Items))
	for i, item := range order.Items {
		offers := make([]SupplierOffer, len(item.Suppliers))
		copy(offers, item.Suppliers)
		item.Suppliers = offers
		items[i] = item
	}
	order.Items = items
	accounts := make([]string, len(order.AccountsWithMoney))
	copy(accounts, order.AccountsWithMoney)
	order.AccountsWithMoney = accounts
	return order
}

func (r *memoryRepo) GetOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	order, ok := r.orders[id]
	if !ok {
		return PurchaseOrder{}, ErrOrderNotFound
	}
	return cloneOrder(*order), nil
}

func (r *memoryRepo) ListOrders(ctx context.Context, filter ListFilter) ([]PurchaseOrder, error) {
	orders := []PurchaseOrder{}
	for _, order := range r.orders {
		orders = append(orders, cloneOrder(*order))
	}
	return orders, nil
}

// Counter semantics mirror the database sequence.
func (tx *memoryTx) NextOrderNumber(ctx context.Context) (int, error) {
	tx.repo.numberSeq++
	return tx.repo.numberSeq, nil
}

func (tx *memoryTx) InsertOrder(ctx context.Context, order PurchaseOrder) (int64, error) {
	tx.repo.nextID++
	order.ID = tx.repo.nextID
	stored := cloneOrder(order)
	tx.repo.orders[order.ID] = &stored
	return order.ID, nil
}

func (tx *memoryTx) InsertItem(ctx context.Context, item OrderItem) (int64, error) {
	tx.repo.nextID++
	item.ID = tx.repo.nextID
	order := tx.repo.orders[item.OrderID]
	order.Items = append(order.Items, item)
	return item.ID, nil
}

func (tx *memoryTx) InsertSupplier(ctx context.Context, offer SupplierOffer) (int64, error) {
	tx.repo.nextID++
	offer.ID = tx.repo.nextID
	for _, order := range tx.repo.orders {
		for i := range order.Items {
			if order.Items[i].ID == offer.OrderItemID {
				order.Items[i].Suppliers = append(order.Items[i].Suppliers, offer)
				return offer.ID, nil
			}
		}
	}
	return 0, ErrOfferNotFound
}

func (tx *memoryTx) GetOrderForUpdate(ctx context.Context, id int64) (PurchaseOrder, error) {
	return tx.repo.GetOrder(ctx, id)
}

func (tx *memoryTx) ApproveSupplier(ctx context.Context, orderItemID, supplierID int64) error {
	for _, order := range tx.repo.orders {
		for i := range order.Items {
			if order.Items[i].ID != orderItemID {
				continue
			}
			found := false
			for j := range order.Items[i].Suppliers {
				if order.Items[i].Suppliers[j].ID == supplierID {
					found = true
				}
				order.Items[i].Suppliers[j].ApprovedByMD = false
			}
			if !found {
				return ErrOfferNotFound
			}
			for j := range order.Items[i].Suppliers {
				if order.Items[i].Suppliers[j].ID == supplierID {
					order.Items[i].Suppliers[j].ApprovedByMD = true
				}
			}
			return nil
		}
	}
	return ErrOfferNotFound
}

func (tx *memoryTx) SetAccounts(ctx context.Context, orderID int64, accounts []string) error {
	tx.repo.orders[orderID].AccountsWithMoney = accounts
	return nil
}

func (tx *memoryTx) SetApproval(ctx context.Context, orderID int64, status ApprovalStatus, account string) error {
	order := tx.repo.orders[orderID]
	order.ApprovalStatus = status
	order.ApprovedAccount = account
	return nil
}

func (tx *memoryTx) SetPayment(ctx context.Context, orderID int64, amount decimal.Decimal, paidAt time.Time) error {
	order := tx.repo.orders[orderID]
	order.PaymentStatus = PaymentPaid
	order.AmountPaid = &amount
	order.PaymentDate = &paidAt
	return nil
}

func (tx *memoryTx) SetDelivery(ctx context.Context, orderID int64, deliveredAt time.Time) error {
	order := tx.repo.orders[orderID]
	order.DeliveryStatus = DeliveryDelivered
	order.DeliveryDate = &deliveredAt
	return nil
}

func (tx *memoryTx) EnsureItem(ctx context.Context, name string, category inventory.Category, unit string) (int64, error) {
	name = inventory.NormalizeName(name)
	if item, ok := tx.repo.stock[name]; ok {
		return item.id, nil
	}
	tx.repo.nextID++
	tx.repo.stock[name] = &stockItem{id: tx.repo.nextID, name: name, onHand: decimal.Zero}
	return tx.repo.nextID, nil
}

func (tx *memoryTx) ApplyDelta(ctx context.Context, params inventory.DeltaParams) (inventory.AppliedDelta, error) {
	for _, item := range tx.repo.stock {
		if item.id == params.ItemID {
			item.onHand = item.onHand.Add(params.Qty)
			return inventory.AppliedDelta{
				ItemID:     item.id,
				ItemName:   item.name,
				Qty:        params.Qty,
				NewBalance: item.onHand,
			}, nil
		}
	}
	return inventory.AppliedDelta{}, inventory.ErrItemNotFound
}

type allowAll struct{}

func (allowAll) CanApproveOrders(ctx context.Context, actorID int64) (bool, error)  { return true, nil }
func (allowAll) CanRecordPayments(ctx context.Context, actorID int64) (bool, error) { return true, nil }

type captureEvents struct {
	delivered []OrderDeliveredEvent
}

func (c *captureEvents) HandleOrderDelivered(ctx context.Context, evt OrderDeliveredEvent) error {
	c.delivered = append(c.delivered, evt)
	return nil
}

func newTestService(repo *memoryRepo) *Service {
	return NewService(ServiceDeps{Repo: repo, Caps: allowAll{}})
}

func createOrder(t *testing.T, svc *Service, suppliers ...string) PurchaseOrder {
	t.Helper()
	offers := make([]SupplierInput, 0, len(suppliers))
	for _, name := range suppliers {
		offers = append(offers, SupplierInput{Name: name, Price: decimal.RequireFromString("1500")})
	}
	order, err := svc.Create(context.Background(), CreateInput{
		OrderType: OrderReorder,
		ActorID:   1,
		Items: []ItemInput{{
			ItemName:  "cement",
			Category:  inventory.CategoryMaterial,
			Unit:      "bags",
			Quantity:  decimal.NewFromInt(50),
			Suppliers: offers,
		}},
	})
	require.NoError(t, err)
	return order
}

func TestCreateAssignsSequentialNumbers(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	first := createOrder(t, svc, "Acme Supplies")
	require.Equal(t, "PO1", first.OrderNumber)
	require.Equal(t, ApprovalPending, first.ApprovalStatus)
	require.Equal(t, PaymentPending, first.PaymentStatus)
	require.Equal(t, DeliveryPending, first.DeliveryStatus)

	second := createOrder(t, svc, "Acme Supplies")
	require.Equal(t, "PO2", second.OrderNumber)
}

func TestApproveSupplierRevokesSiblings(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	order := createOrder(t, svc, "Acme Supplies", "Budget Hardware")
	ctx := context.Background()

	item := order.Items[0]
	updated, err := svc.ApproveSupplier(ctx, order.ID, item.ID, item.Suppliers[0].ID, 9)
	require.NoError(t, err)
	approved := updated.Items[0].ApprovedSupplier()
	require.NotNil(t, approved)
	require.Equal(t, "Acme Supplies", approved.SupplierName)

	// Switching approval moves it, never duplicates it.
	updated, err = svc.ApproveSupplier(ctx, order.ID, item.ID, item.Suppliers[1].ID, 9)
	require.NoError(t, err)
	count := 0
	for _, offer := range updated.Items[0].Suppliers {
		if offer.ApprovedByMD {
			count++
			require.Equal(t, "Budget Hardware", offer.SupplierName)
		}
	}
	require.Equal(t, 1, count)
}

func TestFinalApproveGates(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	order := createOrder(t, svc, "Acme Supplies")
	ctx := context.Background()

	// No approved supplier yet.
	_, err := svc.FinalApprove(ctx, order.ID, "Operations", 9)
	var violation *PipelineOrderViolationError
	require.ErrorAs(t, err, &violation)
	require.Equal(t, "final approval", violation.Stage)

	item := order.Items[0]
	_, err = svc.ApproveSupplier(ctx, order.ID, item.ID, item.Suppliers[0].ID, 9)
	require.NoError(t, err)

	// No funded accounts yet.
	_, err = svc.FinalApprove(ctx, order.ID, "Operations", 9)
	require.ErrorAs(t, err, &violation)

	_, err = svc.MarkAccounts(ctx, order.ID, []string{"Operations", "Capital"}, 5)
	require.NoError(t, err)

	// Selected account must come from the funded set.
	_, err = svc.FinalApprove(ctx, order.ID, "Petty Cash", 9)
	require.ErrorAs(t, err, &violation)

	approved, err := svc.FinalApprove(ctx, order.ID, "Operations", 9)
	require.NoError(t, err)
	require.Equal(t, ApprovalApproved, approved.ApprovalStatus)
	require.Equal(t, "Operations", approved.ApprovedAccount)

	// A second final approval is a conflict.
	_, err = svc.FinalApprove(ctx, order.ID, "Operations", 9)
	require.ErrorAs(t, err, &violation)
}

func approveOrder(t *testing.T, svc *Service, order PurchaseOrder) {
	t.Helper()
	ctx := context.Background()
	item := order.Items[0]
	_, err := svc.ApproveSupplier(ctx, order.ID, item.ID, item.Suppliers[0].ID, 9)
	require.NoError(t, err)
	_, err = svc.MarkAccounts(ctx, order.ID, []string{"Operations"}, 5)
	require.NoError(t, err)
	_, err = svc.FinalApprove(ctx, order.ID, "Operations", 9)
	require.NoError(t, err)
}

func TestPaymentRequiresApproval(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	order := createOrder(t, svc, "Acme Supplies")

	_, err := svc.MarkPaid(context.Background(), order.ID, decimal.NewFromInt(75000), nil, 5)
	var violation *PipelineOrderViolationError
	require.ErrorAs(t, err, &violation)
	require.Equal(t, "payment", violation.Stage)
}

func TestPaymentDefaultsDate(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	order := createOrder(t, svc, "Acme Supplies")
	approveOrder(t, svc, order)

	paid, err := svc.MarkPaid(context.Background(), order.ID, decimal.NewFromInt(75000), nil, 5)
	require.NoError(t, err)
	require.Equal(t, PaymentPaid, paid.PaymentStatus)
	require.NotNil(t, paid.PaymentDate)
	require.WithinDuration(t, time.Now().UTC(), *paid.PaymentDate, time.Minute)

	_, err = svc.MarkPaid(context.Background(), order.ID, decimal.NewFromInt(10), nil, 5)
	var violation *PipelineOrderViolationError
	require.ErrorAs(t, err, &violation)
}

func TestPaymentRejectsNonPositiveAmount(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	order := createOrder(t, svc, "Acme Supplies")
	approveOrder(t, svc, order)

	_, err := svc.MarkPaid(context.Background(), order.ID, decimal.Zero, nil, 5)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestDeliveryRequiresPayment(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	order := createOrder(t, svc, "Acme Supplies")
	approveOrder(t, svc, order)

	_, err := svc.MarkDelivered(context.Background(), order.ID, nil, 5, "")
	var violation *PipelineOrderViolationError
	require.ErrorAs(t, err, &violation)
	require.Equal(t, "delivery", violation.Stage)
}

func TestDeliveryTakesStockIn(t *testing.T) {
	repo := newMemoryRepo()
	repo.addStock("cement", "10")
	events := &captureEvents{}
	svc := NewService(ServiceDeps{Repo: repo, Caps: allowAll{}, Events: events})
	order := createOrder(t, svc, "Acme Supplies")
	approveOrder(t, svc, order)
	ctx := context.Background()

	_, err := svc.MarkPaid(ctx, order.ID, decimal.NewFromInt(75000), nil, 5)
	require.NoError(t, err)

	delivered, err := svc.MarkDelivered(ctx, order.ID, nil, 5, "")
	require.NoError(t, err)
	require.Equal(t, DeliveryDelivered, delivered.DeliveryStatus)
	require.NotNil(t, delivered.DeliveryDate)
	require.True(t, repo.stock["cement"].onHand.Equal(decimal.NewFromInt(60)))

	require.Len(t, events.delivered, 1)
	require.Equal(t, order.OrderNumber, events.delivered[0].OrderNumber)

	// Delivering twice is a conflict.
	_, err = svc.MarkDelivered(ctx, order.ID, nil, 5, "")
	var violation *PipelineOrderViolationError
	require.ErrorAs(t, err, &violation)
}

func TestDeliveryAutoCreatesUnknownItem(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	order := createOrder(t, svc, "Acme Supplies")
	approveOrder(t, svc, order)
	ctx := context.Background()

	_, err := svc.MarkPaid(ctx, order.ID, decimal.NewFromInt(75000), nil, 5)
	require.NoError(t, err)
	_, err = svc.MarkDelivered(ctx, order.ID, nil, 5, "")
	require.NoError(t, err)

	item, ok := repo.stock["cement"]
	require.True(t, ok, "unknown item auto-created at delivery")
	require.True(t, item.onHand.Equal(decimal.NewFromInt(50)))
}

func TestRejectOnlyPending(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	order := createOrder(t, svc, "Acme Supplies")
	ctx := context.Background()

	rejected, err := svc.Reject(ctx, order.ID, 9)
	require.NoError(t, err)
	require.Equal(t, ApprovalRejected, rejected.ApprovalStatus)

	_, err = svc.Reject(ctx, order.ID, 9)
	var violation *PipelineOrderViolationError
	require.ErrorAs(t, err, &violation)

	// A rejected order is closed to further mutation.
	_, err = svc.MarkAccounts(ctx, order.ID, []string{"Operations"}, 5)
	require.ErrorIs(t, err, ErrOrderClosed)
}

type denyAll struct{}

func (denyAll) CanApproveOrders(ctx context.Context, actorID int64) (bool, error)  { return false, nil }
func (denyAll) CanRecordPayments(ctx context.Context, actorID int64) (bool, error) { return false, nil }

func TestCapabilitiesEnforced(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(ServiceDeps{Repo: repo, Caps: allowAll{}})
	order := createOrder(t, svc, "Acme Supplies")

	locked := NewService(ServiceDeps{Repo: repo, Caps: denyAll{}})
	ctx := context.Background()

	_, err := locked.FinalApprove(ctx, order.ID, "Operations", 9)
	require.ErrorIs(t, err, shared.ErrForbidden)
	_, err = locked.MarkPaid(ctx, order.ID, decimal.NewFromInt(10), nil, 5)
	require.ErrorIs(t, err, shared.ErrForbidden)
	_, err = locked.MarkAccounts(ctx, order.ID, []string{"Operations"}, 5)
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestStatusSummary(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	order := createOrder(t, svc, "Acme Supplies")
	ctx := context.Background()

	summary, err := svc.Status(ctx, order.ID)
	require.NoError(t, err)
	require.False(t, summary.ReadyForApproval)
	require.Equal(t, 0, summary.SuppliersApproved)

	item := order.Items[0]
	_, err = svc.ApproveSupplier(ctx, order.ID, item.ID, item.Suppliers[0].ID, 9)
	require.NoError(t, err)
	_, err = svc.MarkAccounts(ctx, order.ID, []string{"Operations"}, 5)
	require.NoError(t, err)

	summary, err = svc.Status(ctx, order.ID)
	require.NoError(t, err)
	require.True(t, summary.ReadyForApproval)
	require.Equal(t, 1, summary.SuppliersApproved)
}
