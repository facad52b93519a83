package issuance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sims-erp/sims-erp/internal/inventory"
	"github.com/sims-erp/sims-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetRecord(ctx context.Context, id string) (IssueRecord, error)
	ListRecords(ctx context.Context, filter ListFilter) ([]IssueRecord, error)
	VehicleFuelHistory(ctx context.Context, vehicleID int64) ([]FuelHistoryEntry, error)
}

// ApproverPort answers whether an actor may approve issuances. The user
// directory implements this.
type ApproverPort interface {
	CanApproveIssues(ctx context.Context, actorID int64) (bool, error)
}

// EmployeePort resolves issuance recipients against the employee directory.
type EmployeePort interface {
	EmployeeExists(ctx context.Context, employeeID int64) (bool, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ApprovalPort records approval decisions for the audit trail.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
}

// IdempotencyPort guards replayed disbursement requests.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// CacheInvalidator drops cached stock snapshots after a mutation.
type CacheInvalidator interface {
	Invalidate(ctx context.Context)
}

// Service drives the issuance lifecycle.
type Service struct {
	repo      RepositoryPort
	approver  ApproverPort
	employees EmployeePort
	audit     AuditPort
	approvals ApprovalPort
	idem      IdempotencyPort
	cache     CacheInvalidator
	events    EventHandler
}

// ServiceDeps groups the collaborators of Service. Audit, approvals,
// idempotency, cache and events may be nil.
type ServiceDeps struct {
	Repo      RepositoryPort
	Approver  ApproverPort
	Employees EmployeePort
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
		approver:  deps.Approver,
		employees: deps.Employees,
		audit:     deps.Audit,
		approvals: deps.Approvals,
		idem:      deps.Idem,
		cache:     deps.Cache,
		events:    deps.Events,
	}
}

func newRecordID() string {
	id := uuid.New()
	return fmt.Sprintf("ISSUE-%X", id[:3])
}

// LineInput is one requested (item, quantity) pair.
type LineInput struct {
	ItemID int64
	Qty    decimal.Decimal
}

// CreateInput carries a new issuance request.
type CreateInput struct {
	IssueType       IssueType
	IssuedTo        int64
	ActorID         int64
	Purpose         string
	FuelType        FuelType
	VehicleID       int64
	CurrentOdometer *float64
	Lines           []LineInput
}

// Create registers an issuance. Tool issuances that burn no fuel skip the
// approval gate entirely: they are approved, disbursed and stock-deducted
// in this same transaction. Fuel and material issuances start Pending.
func (s *Service) Create(ctx context.Context, input CreateInput) (IssueRecord, error) {
	if !input.IssueType.Valid() {
		return IssueRecord{}, &ValidationError{Field: "issue_type", Message: "must be one of material, tool, fuel"}
	}
	if input.IssuedTo == 0 {
		return IssueRecord{}, ErrEmployeeRequired
	}
	if len(input.Lines) == 0 {
		return IssueRecord{}, ErrNoLines
	}
	for _, line := range input.Lines {
		if !line.Qty.IsPositive() {
			return IssueRecord{}, &ValidationError{Field: "quantity", Message: "must be greater than zero"}
		}
	}
	if input.IssueType != IssueFuel && input.FuelType != "" {
		return IssueRecord{}, &ValidationError{Field: "fuel_type", Message: "only valid for fuel issuances"}
	}
	if input.IssueType == IssueFuel {
		switch input.FuelType {
		case FuelVehicle:
			if input.VehicleID == 0 {
				return IssueRecord{}, &ValidationError{Field: "vehicle_id", Message: "required for vehicle fuel"}
			}
			if input.CurrentOdometer == nil {
				return IssueRecord{}, &ValidationError{Field: "current_odometer", Message: "required for vehicle fuel"}
			}
		case FuelMachine:
			// Machine fuel needs neither vehicle nor odometer.
		default:
			return IssueRecord{}, &ValidationError{Field: "fuel_type", Message: "must be vehicle or machine"}
		}
	}
	if s.employees != nil {
		ok, err := s.employees.EmployeeExists(ctx, input.IssuedTo)
		if err != nil {
			return IssueRecord{}, err
		}
		if !ok {
			return IssueRecord{}, &ValidationError{Field: "issued_to", Message: "unknown employee"}
		}
	}

	rec := IssueRecord{
		ID:             newRecordID(),
		IssueType:      input.IssueType,
		Status:         StatusPending,
		ApprovalStatus: ApprovalPending,
		IssuedTo:       input.IssuedTo,
		IssuedBy:       input.ActorID,
		Purpose:        input.Purpose,
		FuelType:       input.FuelType,
		CreatedAt:      time.Now().UTC(),
	}
	if input.IssueType == IssueFuel && input.FuelType == FuelVehicle {
		rec.VehicleID = &input.VehicleID
		rec.CurrentOdometer = input.CurrentOdometer
	}

	autoIssue := false
	var disbursed []DisbursedLine
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		infos := make([]ItemInfo, 0, len(input.Lines))
		for _, line := range input.Lines {
			info, err := tx.ItemAvailability(ctx, line.ItemID)
			if err != nil {
				return err
			}
			if want := categoryFor(input.IssueType); info.Category != want {
				return &ValidationError{
					Field:   "items",
					Message: fmt.Sprintf("item %q is %s, expected %s for a %s issuance", info.Name, info.Category, want, input.IssueType),
				}
			}
			infos = append(infos, info)
		}

		if rec.VehicleID != nil {
			vehicle, err := tx.GetVehicleForUpdate(ctx, *rec.VehicleID)
			if err != nil {
				return err
			}
			if len(input.Lines) != 1 || input.Lines[0].ItemID != vehicle.FuelItemID {
				return &ValidationError{Field: "items", Message: "vehicle fuel issuance must carry exactly one line of the vehicle's fuel type"}
			}
			prev, err := tx.PreviousFuelIssuance(ctx, *rec.VehicleID)
			if err != nil {
				return err
			}
			reading := *rec.CurrentOdometer
			last := vehicle.CurrentOdometer
			if prev != nil && prev.Odometer > last {
				last = prev.Odometer
			}
			if reading <= last {
				return &OdometerRegressionError{VehicleID: *rec.VehicleID, Reading: reading, Last: last}
			}
			rec.PreviewEfficiency = PreviewEfficiency(prev, reading)
		}

		// Tool issuances skip the MD gate unless any line burns fuel.
		if input.IssueType == IssueTool {
			autoIssue = true
			for _, info := range infos {
				if info.ToolUsesFuel {
					autoIssue = false
					break
				}
			}
		}

		if err := tx.InsertRecord(ctx, rec); err != nil {
			return err
		}
		for i, line := range input.Lines {
			item := IssueItem{
				RecordID: rec.ID,
				ItemID:   line.ItemID,
				ItemName: infos[i].Name,
				Unit:     infos[i].Unit,
				Quantity: line.Qty,
			}
			id, err := tx.InsertLine(ctx, item)
			if err != nil {
				return err
			}
			item.ID = id
			rec.Items = append(rec.Items, item)
		}

		if autoIssue {
			var err error
			disbursed, err = s.disburseLines(ctx, tx, &rec)
			if err != nil {
				return err
			}
			now := time.Now().UTC()
			rec.Status = StatusIssued
			rec.ApprovalStatus = ApprovalApproved
			rec.IssuedAt = &now
			return tx.UpdateStatus(ctx, rec.ID, rec.Status, rec.ApprovalStatus, rec.IssuedAt)
		}
		return nil
	})
	if err != nil {
		return IssueRecord{}, err
	}

	s.invalidate(ctx, autoIssue)
	s.recordAudit(ctx, input.ActorID, "issuance.created", rec.ID, map[string]any{
		"issue_type": rec.IssueType,
		"status":     rec.Status,
		"issued_to":  rec.IssuedTo,
	})
	if autoIssue {
		s.emitDisbursed(ctx, rec, disbursed, input.ActorID)
	}
	return rec, nil
}

func categoryFor(t IssueType) inventory.Category {
	switch t {
	case IssueFuel:
		return inventory.CategoryFuel
	case IssueTool:
		return inventory.CategoryTool
	default:
		return inventory.CategoryMaterial
	}
}

// Approve moves a pending issuance to Approved. Requires the approval
// capability. A second approval attempt is rejected, never silently
// accepted.
func (s *Service) Approve(ctx context.Context, id string, actorID int64) (IssueRecord, error) {
	return s.decide(ctx, id, actorID, true)
}

// Reject refuses a pending issuance and cancels it.
func (s *Service) Reject(ctx context.Context, id string, actorID int64) (IssueRecord, error) {
	return s.decide(ctx, id, actorID, false)
}

func (s *Service) decide(ctx context.Context, id string, actorID int64, approve bool) (IssueRecord, error) {
	if err := s.requireApprover(ctx, actorID); err != nil {
		return IssueRecord{}, err
	}
	action := "reject"
	if approve {
		action = "approve"
	}
	var rec IssueRecord
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		rec, err = tx.GetRecordForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if rec.ApprovalStatus != ApprovalPending {
			return &InvalidApprovalStateError{RecordID: id, Current: rec.ApprovalStatus, Action: action}
		}
		if rec.Status != StatusPending {
			return ErrInvalidState
		}
		if approve {
			rec.ApprovalStatus = ApprovalApproved
			rec.Status = StatusApproved
		} else {
			rec.ApprovalStatus = ApprovalRejected
			rec.Status = StatusCancelled
		}
		return tx.UpdateStatus(ctx, id, rec.Status, rec.ApprovalStatus, nil)
	})
	if err != nil {
		return IssueRecord{}, err
	}

	approvalAction := shared.ApprovalReject
	if approve {
		approvalAction = shared.ApprovalApprove
	}
	if s.approvals != nil {
		_ = s.approvals.Record(ctx, shared.ApprovalLog{
			Module:  "issuance",
			RefID:   id,
			ActorID: actorID,
			Action:  approvalAction,
			At:      time.Now().UTC(),
		})
	}
	s.recordAudit(ctx, actorID, "issuance."+action+"d", id, map[string]any{
		"status":          rec.Status,
		"approval_status": rec.ApprovalStatus,
	})
	return rec, nil
}

func (s *Service) requireApprover(ctx context.Context, actorID int64) error {
	if s.approver == nil {
		return nil
	}
	ok, err := s.approver.CanApproveIssues(ctx, actorID)
	if err != nil {
		return err
	}
	if !ok {
		return shared.ErrForbidden
	}
	return nil
}

// IssueOut disburses an approved issuance. Every line must be covered
// simultaneously; any shortfall aborts the whole disbursement and reports
// all failing lines. For vehicle fuel the efficiency of the interval just
// closed is written onto the previous record and cached on the vehicle.
func (s *Service) IssueOut(ctx context.Context, id string, actorID int64, idempotencyKey string) (IssueRecord, error) {
	if idempotencyKey != "" && s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, idempotencyKey, "issuance"); err != nil {
			return IssueRecord{}, err
		}
	}
	var (
		rec       IssueRecord
		disbursed []DisbursedLine
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		rec, err = tx.GetRecordForUpdate(ctx, id)
		if err != nil {
			return err
		}
		switch {
		case rec.Status == StatusApproved:
			// Proceed.
		case rec.ApprovalStatus == ApprovalPending:
			return ErrApprovalRequired
		default:
			return ErrInvalidState
		}

		disbursed, err = s.disburseLines(ctx, tx, &rec)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		rec.Status = StatusIssued
		rec.IssuedAt = &now
		return tx.UpdateStatus(ctx, id, rec.Status, rec.ApprovalStatus, rec.IssuedAt)
	})
	if err != nil {
		if idempotencyKey != "" && s.idem != nil {
			_ = s.idem.Delete(ctx, idempotencyKey)
		}
		return IssueRecord{}, err
	}

	s.invalidate(ctx, true)
	s.recordAudit(ctx, actorID, "issuance.disbursed", id, map[string]any{
		"issue_type": rec.IssueType,
		"lines":      len(disbursed),
	})
	s.emitDisbursed(ctx, rec, disbursed, actorID)
	return rec, nil
}

// disburseLines validates availability across every line, then deducts
// stock and, for vehicle fuel, settles the previous interval's efficiency.
func (s *Service) disburseLines(ctx context.Context, tx TxRepository, rec *IssueRecord) ([]DisbursedLine, error) {
	var shortfalls []ShortfallLine
	infos := make([]ItemInfo, 0, len(rec.Items))
	// Lines naming the same item draw from one pool, so availability is
	// checked against the running total per item, not per line.
	requested := make(map[int64]decimal.Decimal)
	reported := make(map[int64]int)
	for _, line := range rec.Items {
		info, err := tx.ItemAvailability(ctx, line.ItemID)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
		total := requested[line.ItemID].Add(line.Quantity)
		requested[line.ItemID] = total
		if info.OnHand.LessThan(total) {
			if idx, ok := reported[line.ItemID]; ok {
				shortfalls[idx].Requested = total
				shortfalls[idx].Shortage = total.Sub(info.OnHand)
				continue
			}
			reported[line.ItemID] = len(shortfalls)
			shortfalls = append(shortfalls, ShortfallLine{
				ItemID:    line.ItemID,
				ItemName:  info.Name,
				Unit:      info.Unit,
				Requested: total,
				Available: info.OnHand,
				Shortage:  total.Sub(info.OnHand),
			})
		}
	}
	if len(shortfalls) > 0 {
		return nil, &StockShortfallError{RecordID: rec.ID, Lines: shortfalls}
	}

	var prev *PreviousFuelIssuance
	if rec.VehicleID != nil && rec.CurrentOdometer != nil {
		var err error
		prev, err = tx.PreviousFuelIssuance(ctx, *rec.VehicleID)
		if err != nil {
			return nil, err
		}
	}

	disbursed := make([]DisbursedLine, 0, len(rec.Items))
	for i, line := range rec.Items {
		applied, err := tx.ApplyDelta(ctx, inventory.DeltaParams{
			ItemID:    line.ItemID,
			Qty:       line.Quantity.Neg(),
			Type:      inventory.MovementOut,
			Code:      rec.ID,
			RefModule: "issuance",
			RefID:     rec.ID,
			Note:      rec.Purpose,
			ActorID:   rec.IssuedBy,
		})
		if err != nil {
			return nil, err
		}
		disbursed = append(disbursed, DisbursedLine{
			ItemID:     line.ItemID,
			ItemName:   infos[i].Name,
			Unit:       infos[i].Unit,
			Qty:        line.Quantity,
			NewBalance: applied.NewBalance,
		})
	}

	if rec.VehicleID != nil && rec.CurrentOdometer != nil {
		reading := *rec.CurrentOdometer
		var cached *float64
		if prev != nil {
			eff, err := ComputeEfficiency(*prev, reading)
			if err != nil {
				return nil, err
			}
			if err := tx.SetLineEfficiency(ctx, prev.LineID, eff); err != nil {
				return nil, err
			}
			cached = &eff
		}
		if err := tx.UpdateVehicleTelemetry(ctx, *rec.VehicleID, reading, cached); err != nil {
			return nil, err
		}
	}
	return disbursed, nil
}

// Cancel stops an issuance that has not yet been disbursed.
func (s *Service) Cancel(ctx context.Context, id string, actorID int64) (IssueRecord, error) {
	var rec IssueRecord
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		rec, err = tx.GetRecordForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !rec.Status.CanCancel() {
			return ErrInvalidState
		}
		rec.Status = StatusCancelled
		return tx.UpdateStatus(ctx, id, rec.Status, rec.ApprovalStatus, nil)
	})
	if err != nil {
		return IssueRecord{}, err
	}
	s.recordAudit(ctx, actorID, "issuance.cancelled", id, nil)
	return rec, nil
}

// Get returns one issuance with its lines.
func (s *Service) Get(ctx context.Context, id string) (IssueRecord, error) {
	return s.repo.GetRecord(ctx, id)
}

// List returns issuances matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]IssueRecord, error) {
	return s.repo.ListRecords(ctx, filter)
}

// IssuedItemsByEmployee returns disbursed issuances held by one employee.
func (s *Service) IssuedItemsByEmployee(ctx context.Context, employeeID int64) ([]IssueRecord, error) {
	records, err := s.repo.ListRecords(ctx, ListFilter{EmployeeID: employeeID})
	if err != nil {
		return nil, err
	}
	held := []IssueRecord{}
	for _, rec := range records {
		switch rec.Status {
		case StatusIssued, StatusPartiallyReturned:
			held = append(held, rec)
		}
	}
	return held, nil
}

// VehicleFuelHistory returns disbursed fuel records for one vehicle.
func (s *Service) VehicleFuelHistory(ctx context.Context, vehicleID int64) ([]FuelHistoryEntry, error) {
	return s.repo.VehicleFuelHistory(ctx, vehicleID)
}

func (s *Service) invalidate(ctx context.Context, mutated bool) {
	if mutated && s.cache != nil {
		s.cache.Invalidate(ctx)
	}
}

func (s *Service) emitDisbursed(ctx context.Context, rec IssueRecord, lines []DisbursedLine, actorID int64) {
	if s.events == nil || rec.IssuedAt == nil {
		return
	}
	_ = s.events.HandleIssuanceDisbursed(ctx, IssuanceDisbursedEvent{
		RecordID:   rec.ID,
		IssueType:  rec.IssueType,
		EmployeeID: rec.IssuedTo,
		ActorID:    actorID,
		Lines:      lines,
		IssuedAt:   *rec.IssuedAt,
	})
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, refID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "issuance",
		EntityID: refID,
		Meta:     meta,
		At:       time.Now().UTC(),
	})
}
