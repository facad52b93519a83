package purchasing

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sims-erp/sims-erp/internal/inventory"
	"github.com/sims-erp/sims-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetOrder(ctx context.Context, id int64) (PurchaseOrder, error)
	ListOrders(ctx context.Context, filter ListFilter) ([]PurchaseOrder, error)
}

// CapabilityPort answers role checks against the user directory.
type CapabilityPort interface {
	CanApproveOrders(ctx context.Context, actorID int64) (bool, error)
	CanRecordPayments(ctx context.Context, actorID int64) (bool, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ApprovalPort records MD decisions for the audit trail.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
}

// IdempotencyPort guards replayed delivery requests.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// CacheInvalidator drops cached stock snapshots after delivery take-in.
type CacheInvalidator interface {
	Invalidate(ctx context.Context)
}

// Service drives the purchase order pipeline.
type Service struct {
	repo      RepositoryPort
	caps      CapabilityPort
	audit     AuditPort
	approvals ApprovalPort
	idem      IdempotencyPort
	cache     CacheInvalidator
	events    EventHandler
}

// ServiceDeps groups the collaborators of Service. Everything except Repo
// may be nil.
type ServiceDeps struct {
	Repo      RepositoryPort
	Caps      CapabilityPort
	Audit     AuditPort
	Approvals ApprovalPort
	Idem      IdempotencyPort
	Cache     CacheInvalidator
	Events    EventHandler
}

// NewService builds Service.
func NewService(deps ServiceDeps) *Service {
	return &Service{
		repo:      deps.Repo,
		caps:      deps.Caps,
		audit:     deps.Audit,
		approvals: deps.Approvals,
		idem:      deps.Idem,
		cache:     deps.Cache,
		events:    deps.Events,
	}
}

// SupplierInput is one vendor quote for a line.
type SupplierInput struct {
	Name  string
	Price decimal.Decimal
}

// ItemInput is one purchase order line with its candidate suppliers.
type ItemInput struct {
	ItemName  string
	Category  inventory.Category
	Unit      string
	Quantity  decimal.Decimal
	Suppliers []SupplierInput
}

// CreateInput carries a new purchase order.
type CreateInput struct {
	OrderType OrderType
	ActorID   int64
	Items     []ItemInput
}

// Create raises a purchase order with the next sequential number.
func (s *Service) Create(ctx context.Context, input CreateInput) (PurchaseOrder, error) {
	if !input.OrderType.Valid() {
		return PurchaseOrder{}, &ValidationError{Field: "order_type", Message: "must be reorder or accumulate"}
	}
	if len(input.Items) == 0 {
		return PurchaseOrder{}, &ValidationError{Field: "items", Message: "at least one line required"}
	}
	for _, item := range input.Items {
		if item.ItemName == "" {
			return PurchaseOrder{}, &ValidationError{Field: "item_name", Message: "required"}
		}
		if !item.Category.Valid() || item.Category == inventory.CategoryVehicle {
			return PurchaseOrder{}, &ValidationError{Field: "category", Message: "must be fuel, tool or material"}
		}
		if !item.Quantity.IsPositive() {
			return PurchaseOrder{}, &ValidationError{Field: "quantity", Message: "must be greater than zero"}
		}
		if len(item.Suppliers) == 0 {
			return PurchaseOrder{}, &ValidationError{Field: "suppliers", Message: "at least one supplier offer required"}
		}
		for _, offer := range item.Suppliers {
			if offer.Name == "" {
				return PurchaseOrder{}, &ValidationError{Field: "supplier_name", Message: "required"}
			}
			if offer.Price.IsNegative() {
				return PurchaseOrder{}, &ValidationError{Field: "price", Message: "must not be negative"}
			}
		}
	}

	var order PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		seq, err := tx.NextOrderNumber(ctx)
		if err != nil {
			return err
		}
		order = PurchaseOrder{
			OrderNumber:       fmt.Sprintf("PO%d", seq),
			OrderType:         input.OrderType,
			RaisedBy:          input.ActorID,
			CreatedAt:         time.Now().UTC(),
			ApprovalStatus:    ApprovalPending,
			PaymentStatus:     PaymentPending,
			DeliveryStatus:    DeliveryPending,
			AccountsWithMoney: []string{},
		}
		if order.ID, err = tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		for _, in := range input.Items {
			item := OrderItem{
				OrderID:  order.ID,
				ItemName: inventory.NormalizeName(in.ItemName),
				Category: in.Category,
				Unit:     in.Unit,
				Quantity: in.Quantity,
			}
			if item.ID, err = tx.InsertItem(ctx, item); err != nil {
				return err
			}
			for _, offer := range in.Suppliers {
				supplier := SupplierOffer{OrderItemID: item.ID, SupplierName: offer.Name, Price: offer.Price}
				if supplier.ID, err = tx.InsertSupplier(ctx, supplier); err != nil {
					return err
				}
				item.Suppliers = append(item.Suppliers, supplier)
			}
			order.Items = append(order.Items, item)
		}
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, input.ActorID, "order.created", order.OrderNumber, map[string]any{"lines": len(order.Items)})
	return order, nil
}

// ApproveSupplier selects one vendor offer for a line. Any previously
// approved sibling is revoked in the same transaction, so a line never
// carries two approved offers.
func (s *Service) ApproveSupplier(ctx context.Context, orderID, orderItemID, supplierID, actorID int64) (PurchaseOrder, error) {
	if err := s.requireOrderApprover(ctx, actorID); err != nil {
		return PurchaseOrder{}, err
	}
	var order PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		order, err = tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.ApprovalStatus == ApprovalRejected {
			return ErrOrderClosed
		}
		if order.ApprovalStatus == ApprovalApproved {
			return &PipelineOrderViolationError{
				OrderNumber: order.OrderNumber,
				Stage:       "supplier approval",
				Requirement: "order approval is already final",
			}
		}
		found := false
		for _, item := range order.Items {
			if item.ID == orderItemID {
				found = true
				break
			}
		}
		if !found {
			return ErrOfferNotFound
		}
		if err := tx.ApproveSupplier(ctx, orderItemID, supplierID); err != nil {
			return err
		}
		order, err = tx.GetOrderForUpdate(ctx, orderID)
		return err
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordDecision(ctx, actorID, order.OrderNumber, shared.ApprovalApprove, "supplier selected")
	s.recordAudit(ctx, actorID, "order.supplier_approved", order.OrderNumber, map[string]any{
		"order_item_id": orderItemID,
		"supplier_id":   supplierID,
	})
	return order, nil
}

// MarkAccounts records the accounts-manager-curated funding set.
func (s *Service) MarkAccounts(ctx context.Context, orderID int64, accounts []string, actorID int64) (PurchaseOrder, error) {
	if err := s.requirePaymentRecorder(ctx, actorID); err != nil {
		return PurchaseOrder{}, err
	}
	if len(accounts) == 0 {
		return PurchaseOrder{}, &ValidationError{Field: "accounts", Message: "at least one funded account required"}
	}
	var order PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		order, err = tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.ApprovalStatus == ApprovalRejected {
			return ErrOrderClosed
		}
		if err := tx.SetAccounts(ctx, orderID, accounts); err != nil {
			return err
		}
		order.AccountsWithMoney = accounts
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, actorID, "order.accounts_marked", order.OrderNumber, map[string]any{"accounts": accounts})
	return order, nil
}

// FinalApprove closes the first pipeline track. Requires every line to
// carry exactly one approved supplier, a non-empty funding set, and the
// MD's account selection to come from that set.
func (s *Service) FinalApprove(ctx context.Context, orderID int64, account string, actorID int64) (PurchaseOrder, error) {
	if err := s.requireOrderApprover(ctx, actorID); err != nil {
		return PurchaseOrder{}, err
	}
	var order PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		order, err = tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.ApprovalStatus == ApprovalRejected {
			return ErrOrderClosed
		}
		if order.ApprovalStatus == ApprovalApproved {
			return &PipelineOrderViolationError{
				OrderNumber: order.OrderNumber,
				Stage:       "final approval",
				Requirement: "order is already approved",
			}
		}
		for _, item := range order.Items {
			if item.ApprovedSupplier() == nil {
				return &PipelineOrderViolationError{
					OrderNumber: order.OrderNumber,
					Stage:       "final approval",
					Requirement: fmt.Sprintf("line %q has no approved supplier", item.ItemName),
				}
			}
		}
		if len(order.AccountsWithMoney) == 0 {
			return &PipelineOrderViolationError{
				OrderNumber: order.OrderNumber,
				Stage:       "final approval",
				Requirement: "no funded accounts marked by the accounts manager",
			}
		}
		if !containsAccount(order.AccountsWithMoney, account) {
			return &PipelineOrderViolationError{
				OrderNumber: order.OrderNumber,
				Stage:       "final approval",
				Requirement: fmt.Sprintf("account %q is not in the funded set", account),
			}
		}
		order.ApprovalStatus = ApprovalApproved
		order.ApprovedAccount = account
		return tx.SetApproval(ctx, orderID, ApprovalApproved, account)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordDecision(ctx, actorID, order.OrderNumber, shared.ApprovalApprove, "final approval")
	s.recordAudit(ctx, actorID, "order.approved", order.OrderNumber, map[string]any{"account": account})
	return order, nil
}

func containsAccount(accounts []string, account string) bool {
	for _, a := range accounts {
		if a == account {
			return true
		}
	}
	return false
}

// Reject closes the order before approval.
func (s *Service) Reject(ctx context.Context, orderID int64, actorID int64) (PurchaseOrder, error) {
	if err := s.requireOrderApprover(ctx, actorID); err != nil {
		return PurchaseOrder{}, err
	}
	var order PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		order, err = tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.ApprovalStatus != ApprovalPending {
			return &PipelineOrderViolationError{
				OrderNumber: order.OrderNumber,
				Stage:       "rejection",
				Requirement: "only a pending order can be rejected",
			}
		}
		order.ApprovalStatus = ApprovalRejected
		return tx.SetApproval(ctx, orderID, ApprovalRejected, "")
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordDecision(ctx, actorID, order.OrderNumber, shared.ApprovalReject, "")
	s.recordAudit(ctx, actorID, "order.rejected", order.OrderNumber, nil)
	return order, nil
}

// MarkPaid closes the second track. Requires final approval and a positive
// amount; the payment date defaults to now.
func (s *Service) MarkPaid(ctx context.Context, orderID int64, amount decimal.Decimal, paidAt *time.Time, actorID int64) (PurchaseOrder, error) {
	if err := s.requirePaymentRecorder(ctx, actorID); err != nil {
		return PurchaseOrder{}, err
	}
	if !amount.IsPositive() {
		return PurchaseOrder{}, &ValidationError{Field: "amount_paid", Message: "must be greater than zero"}
	}
	var order PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		order, err = tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.ApprovalStatus != ApprovalApproved {
			return &PipelineOrderViolationError{
				OrderNumber: order.OrderNumber,
				Stage:       "payment",
				Requirement: "order must be approved before payment",
			}
		}
		if order.PaymentStatus == PaymentPaid {
			return &PipelineOrderViolationError{
				OrderNumber: order.OrderNumber,
				Stage:       "payment",
				Requirement: "order is already paid",
			}
		}
		when := time.Now().UTC()
		if paidAt != nil {
			when = *paidAt
		}
		order.PaymentStatus = PaymentPaid
		order.AmountPaid = &amount
		order.PaymentDate = &when
		return tx.SetPayment(ctx, orderID, amount, when)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, actorID, "order.paid", order.OrderNumber, map[string]any{"amount": amount.String()})
	return order, nil
}

// MarkDelivered closes the pipeline. Requires payment; the delivery date
// defaults to the transition time. Every line is taken into stock, with
// unknown item names auto-created in the catalogue.
func (s *Service) MarkDelivered(ctx context.Context, orderID int64, deliveredAt *time.Time, actorID int64, idempotencyKey string) (PurchaseOrder, error) {
	if idempotencyKey != "" && s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, idempotencyKey, "purchasing"); err != nil {
			return PurchaseOrder{}, err
		}
	}
	var (
		order PurchaseOrder
		lines []DeliveredLine
		when  time.Time
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		order, err = tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.PaymentStatus != PaymentPaid {
			return &PipelineOrderViolationError{
				OrderNumber: order.OrderNumber,
				Stage:       "delivery",
				Requirement: "order must be paid before delivery",
			}
		}
		if order.DeliveryStatus == DeliveryDelivered {
			return &PipelineOrderViolationError{
				OrderNumber: order.OrderNumber,
				Stage:       "delivery",
				Requirement: "order is already delivered",
			}
		}
		when = time.Now().UTC()
		if deliveredAt != nil {
			when = *deliveredAt
		}
		lines = lines[:0]
		for _, item := range order.Items {
			itemID, err := tx.EnsureItem(ctx, item.ItemName, item.Category, item.Unit)
			if err != nil {
				return err
			}
			applied, err := tx.ApplyDelta(ctx, inventory.DeltaParams{
				ItemID:    itemID,
				Qty:       item.Quantity,
				Type:      inventory.MovementIn,
				Code:      order.OrderNumber,
				RefModule: "purchasing",
				RefID:     order.OrderNumber,
				Note:      "purchase order delivery",
				ActorID:   actorID,
			})
			if err != nil {
				return err
			}
			lines = append(lines, DeliveredLine{
				ItemID:     itemID,
				ItemName:   applied.ItemName,
				Qty:        item.Quantity,
				NewBalance: applied.NewBalance,
			})
		}
		order.DeliveryStatus = DeliveryDelivered
		order.DeliveryDate = &when
		return tx.SetDelivery(ctx, orderID, when)
	})
	if err != nil {
		if idempotencyKey != "" && s.idem != nil {
			_ = s.idem.Delete(ctx, idempotencyKey)
		}
		return PurchaseOrder{}, err
	}

	if s.cache != nil {
		s.cache.Invalidate(ctx)
	}
	s.recordAudit(ctx, actorID, "order.delivered", order.OrderNumber, map[string]any{"lines": len(lines)})
	if s.events != nil {
		_ = s.events.HandleOrderDelivered(ctx, OrderDeliveredEvent{
			OrderNumber: order.OrderNumber,
			ActorID:     actorID,
			Lines:       lines,
			DeliveredAt: when,
		})
	}
	return order, nil
}

// ApprovalSummary reports where an order sits across its three tracks.
type ApprovalSummary struct {
	OrderNumber       string         `json:"order_number"`
	ApprovalStatus    ApprovalStatus `json:"approval_status"`
	PaymentStatus     PaymentStatus  `json:"payment_status"`
	DeliveryStatus    DeliveryStatus `json:"delivery_status"`
	SuppliersApproved int            `json:"suppliers_approved"`
	SuppliersTotal    int            `json:"suppliers_total_lines"`
	AccountsMarked    bool           `json:"accounts_marked"`
	ReadyForApproval  bool           `json:"ready_for_final_approval"`
}

// Status summarises pipeline progress for one order.
func (s *Service) Status(ctx context.Context, orderID int64) (ApprovalSummary, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return ApprovalSummary{}, err
	}
	summary := ApprovalSummary{
		OrderNumber:    order.OrderNumber,
		ApprovalStatus: order.ApprovalStatus,
		PaymentStatus:  order.PaymentStatus,
		DeliveryStatus: order.DeliveryStatus,
		SuppliersTotal: len(order.Items),
		AccountsMarked: len(order.AccountsWithMoney) > 0,
	}
	for _, item := range order.Items {
		if item.ApprovedSupplier() != nil {
			summary.SuppliersApproved++
		}
	}
	summary.ReadyForApproval = order.ApprovalStatus == ApprovalPending &&
		summary.SuppliersApproved == summary.SuppliersTotal &&
		summary.AccountsMarked
	return summary, nil
}

// Get returns one purchase order.
func (s *Service) Get(ctx context.Context, orderID int64) (PurchaseOrder, error) {
	return s.repo.GetOrder(ctx, orderID)
}

// List returns purchase orders matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]PurchaseOrder, error) {
	return s.repo.ListOrders(ctx, filter)
}

func (s *Service) requireOrderApprover(ctx context.Context, actorID int64) error {
	if s.caps == nil {
		return nil
	}
	ok, err := s.caps.CanApproveOrders(ctx, actorID)
	if err != nil {
		return err
	}
	if !ok {
		return shared.ErrForbidden
	}
	return nil
}

func (s *Service) requirePaymentRecorder(ctx context.Context, actorID int64) error {
	if s.caps == nil {
		return nil
	}
	ok, err := s.caps.CanRecordPayments(ctx, actorID)
	if err != nil {
		return err
	}
	if !ok {
		return shared.ErrForbidden
	}
	return nil
}

func (s *Service) recordDecision(ctx context.Context, actorID int64, orderNumber string, action shared.ApprovalAction, note string) {
	if s.approvals == nil {
		return
	}
	_ = s.approvals.Record(ctx, shared.ApprovalLog{
		Module:  "purchasing",
		RefID:   orderNumber,
		ActorID: actorID,
		Action:  action,
		Note:    note,
		At:      time.Now().UTC(),
	})
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, refID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "purchase_order",
		EntityID: refID,
		Meta:     meta,
		At:       time.Now().UTC(),
	})
}
