package issuance

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/sims-erp/sims-erp/internal/inventory"
	"github.com/sims-erp/sims-erp/internal/shared"
)

type fakeItem struct {
	info ItemInfo
}

type memoryRepo struct {
	items    map[int64]*fakeItem
	vehicles map[int64]*inventory.VehicleSpec
	records  map[string]*IssueRecord
	lineSeq  int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		items:    make(map[int64]*fakeItem),
		vehicles: make(map[int64]*inventory.VehicleSpec),
		records:  make(map[string]*IssueRecord),
	}
}

func (r *memoryRepo) addItem(id int64, name string, category inventory.Category, qty string) {
	r.items[id] = &fakeItem{info: ItemInfo{
		ID:       id,
		Name:     name,
		Unit:     "pcs",
		Category: category,
		OnHand:   decimal.RequireFromString(qty),
	}}
}

func (r *memoryRepo) addTool(id int64, name, qty string, returnable, usesFuel bool) {
	r.addItem(id, name, inventory.CategoryTool, qty)
	r.items[id].info.ToolReturnable = returnable
	r.items[id].info.ToolUsesFuel = usesFuel
}

func (r *memoryRepo) addVehicle(id, fuelItemID int64, odometer float64) {
	r.vehicles[id] = &inventory.VehicleSpec{ID: id, FuelItemID: fuelItemID, CurrentOdometer: odometer}
}

func (r *memoryRepo) onHand(itemID int64) decimal.Decimal {
	return r.items[itemID].info.OnHand
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetRecord(ctx context.Context, id string) (IssueRecord, error) {
	rec, ok := r.records[id]
	if !ok {
		return IssueRecord{}, ErrRecordNotFound
	}
	return cloneRecord(*rec), nil
}

func (r *memoryRepo) ListRecords(ctx context.Context, filter ListFilter) ([]IssueRecord, error) {
	records := []IssueRecord{}
	for _, rec := range r.records {
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		if filter.IssueType != "" && rec.IssueType != filter.IssueType {
			continue
		}
		if filter.EmployeeID != 0 && rec.IssuedTo != filter.EmployeeID {
			continue
		}
		records = append(records, cloneRecord(*rec))
	}
	sort.Slice(records, func(i, j int) bool { return records[i].CreatedAt.After(records[j].CreatedAt) })
	return records, nil
}

func (r *memoryRepo) VehicleFuelHistory(ctx context.Context, vehicleID int64) ([]FuelHistoryEntry, error) {
	history := []FuelHistoryEntry{}
	for _, rec := range r.records {
		if rec.VehicleID == nil || *rec.VehicleID != vehicleID || rec.Status != StatusIssued {
			continue
		}
		for _, line := range rec.Items {
			history = append(history, FuelHistoryEntry{
				RecordID:   rec.ID,
				IssuedAt:   *rec.IssuedAt,
				Odometer:   *rec.CurrentOdometer,
				Qty:        line.Quantity,
				Efficiency: line.FuelEfficiency,
			})
		}
	}
	return history, nil
}

func cloneRecord(rec IssueRecord) IssueRecord {
	items := make([]IssueItem, len(rec.Items))
	copy(items, rec.Items)
	rec.Items = items
	return rec
}

func (tx *memoryTx) InsertRecord(ctx context.Context, rec IssueRecord) error {
	stored := cloneRecord(rec)
	stored.Items = nil
	tx.repo.records[rec.ID] = &stored
	return nil
}

func (tx *memoryTx) InsertLine(ctx context.Context, line IssueItem) (int64, error) {
	tx.repo.lineSeq++
	line.ID = tx.repo.lineSeq
	rec := tx.repo.records[line.RecordID]
	rec.Items = append(rec.Items, line)
	return line.ID, nil
}

func (tx *memoryTx) GetRecordForUpdate(ctx context.Context, id string) (IssueRecord, error) {
	return tx.repo.GetRecord(ctx, id)
}

func (tx *memoryTx) UpdateStatus(ctx context.Context, id string, status Status, approval ApprovalStatus, issuedAt *time.Time) error {
	rec, ok := tx.repo.records[id]
	if !ok {
		return ErrRecordNotFound
	}
	rec.Status = status
	rec.ApprovalStatus = approval
	if issuedAt != nil {
		rec.IssuedAt = issuedAt
	}
	return nil
}

func (tx *memoryTx) ItemAvailability(ctx context.Context, itemID int64) (ItemInfo, error) {
	item, ok := tx.repo.items[itemID]
	if !ok {
		return ItemInfo{}, inventory.ErrItemNotFound
	}
	return item.info, nil
}

func (tx *memoryTx) ApplyDelta(ctx context.Context, params inventory.DeltaParams) (inventory.AppliedDelta, error) {
	item, ok := tx.repo.items[params.ItemID]
	if !ok {
		return inventory.AppliedDelta{}, inventory.ErrItemNotFound
	}
	newBalance := item.info.OnHand.Add(params.Qty)
	if newBalance.IsNegative() && !params.Override {
		return inventory.AppliedDelta{}, &inventory.InsufficientStockError{
			Item:      item.info.Name,
			Requested: params.Qty.Neg(),
			Available: item.info.OnHand,
		}
	}
	item.info.OnHand = newBalance
	return inventory.AppliedDelta{
		ItemID:     params.ItemID,
		ItemName:   item.info.Name,
		Unit:       item.info.Unit,
		Qty:        params.Qty,
		NewBalance: newBalance,
	}, nil
}

func (tx *memoryTx) PreviousFuelIssuance(ctx context.Context, vehicleID int64) (*PreviousFuelIssuance, error) {
	var prev *PreviousFuelIssuance
	for _, rec := range tx.repo.records {
		if rec.VehicleID == nil || *rec.VehicleID != vehicleID {
			continue
		}
		if rec.IssueType != IssueFuel || rec.Status != StatusIssued {
			continue
		}
		for _, line := range rec.Items {
			candidate := &PreviousFuelIssuance{
				RecordID:  rec.ID,
				LineID:    line.ID,
				Odometer:  *rec.CurrentOdometer,
				IssuedQty: line.Quantity,
				IssuedAt:  *rec.IssuedAt,
			}
			if prev == nil || candidate.IssuedAt.After(prev.IssuedAt) ||
				(candidate.IssuedAt.Equal(prev.IssuedAt) && candidate.LineID > prev.LineID) {
				prev = candidate
			}
		}
	}
	return prev, nil
}

func (tx *memoryTx) SetLineEfficiency(ctx context.Context, lineID int64, efficiency float64) error {
	for _, rec := range tx.repo.records {
		for i := range rec.Items {
			if rec.Items[i].ID == lineID {
				eff := efficiency
				rec.Items[i].FuelEfficiency = &eff
				return nil
			}
		}
	}
	return ErrRecordNotFound
}

func (tx *memoryTx) GetVehicleForUpdate(ctx context.Context, vehicleID int64) (inventory.VehicleSpec, error) {
	spec, ok := tx.repo.vehicles[vehicleID]
	if !ok {
		return inventory.VehicleSpec{}, inventory.ErrVehicleNotFound
	}
	return *spec, nil
}

func (tx *memoryTx) UpdateVehicleTelemetry(ctx context.Context, vehicleID int64, odometer float64, efficiency *float64) error {
	spec, ok := tx.repo.vehicles[vehicleID]
	if !ok {
		return inventory.ErrVehicleNotFound
	}
	spec.CurrentOdometer = odometer
	if efficiency != nil {
		spec.FuelEfficiency = efficiency
	}
	return nil
}

type allowAll struct{}

func (allowAll) CanApproveIssues(ctx context.Context, actorID int64) (bool, error) { return true, nil }

type denyAll struct{}

func (denyAll) CanApproveIssues(ctx context.Context, actorID int64) (bool, error) { return false, nil }

func newTestService(repo *memoryRepo) *Service {
	return NewService(ServiceDeps{Repo: repo, Approver: allowAll{}})
}

func odo(v float64) *float64 { return &v }

func TestFuelIssuanceLifecycle(t *testing.T) {
	repo := newMemoryRepo()
	repo.addItem(1, "diesel", inventory.CategoryFuel, "100")
	repo.addVehicle(7, 1, 900)
	svc := newTestService(repo)
	ctx := context.Background()

	first, err := svc.Create(ctx, CreateInput{
		IssueType:       IssueFuel,
		IssuedTo:        42,
		FuelType:        FuelVehicle,
		VehicleID:       7,
		CurrentOdometer: odo(1000),
		Lines:           []LineInput{{ItemID: 1, Qty: decimal.NewFromInt(20)}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusPending, first.Status)
	require.Nil(t, first.PreviewEfficiency, "first fuel record has no prior interval")

	_, err = svc.Approve(ctx, first.ID, 9)
	require.NoError(t, err)

	issued, err := svc.IssueOut(ctx, first.ID, 9, "")
	require.NoError(t, err)
	require.Equal(t, StatusIssued, issued.Status)
	require.True(t, repo.onHand(1).Equal(decimal.NewFromInt(80)))

	second, err := svc.Create(ctx, CreateInput{
		IssueType:       IssueFuel,
		IssuedTo:        42,
		FuelType:        FuelVehicle,
		VehicleID:       7,
		CurrentOdometer: odo(1300),
		Lines:           []LineInput{{ItemID: 1, Qty: decimal.NewFromInt(15)}},
	})
	require.NoError(t, err)
	require.NotNil(t, second.PreviewEfficiency)
	require.Equal(t, 15.0, *second.PreviewEfficiency)

	_, err = svc.Approve(ctx, second.ID, 9)
	require.NoError(t, err)
	_, err = svc.IssueOut(ctx, second.ID, 9, "")
	require.NoError(t, err)
	require.True(t, repo.onHand(1).Equal(decimal.NewFromInt(65)))

	// Efficiency lands retroactively on the first record's line.
	prev, err := svc.Get(ctx, first.ID)
	require.NoError(t, err)
	require.NotNil(t, prev.Items[0].FuelEfficiency)
	require.Equal(t, 15.0, *prev.Items[0].FuelEfficiency)

	// And is cached on the vehicle along with the new odometer.
	require.Equal(t, 1300.0, repo.vehicles[7].CurrentOdometer)
	require.NotNil(t, repo.vehicles[7].FuelEfficiency)
	require.Equal(t, 15.0, *repo.vehicles[7].FuelEfficiency)
}

func TestOdometerRegressionRejectedAtCreate(t *testing.T) {
	repo := newMemoryRepo()
	repo.addItem(1, "diesel", inventory.CategoryFuel, "100")
	repo.addVehicle(7, 1, 1000)
	svc := newTestService(repo)

	_, err := svc.Create(context.Background(), CreateInput{
		IssueType:       IssueFuel,
		IssuedTo:        42,
		FuelType:        FuelVehicle,
		VehicleID:       7,
		CurrentOdometer: odo(1000),
		Lines:           []LineInput{{ItemID: 1, Qty: decimal.NewFromInt(20)}},
	})
	var regression *OdometerRegressionError
	require.ErrorAs(t, err, &regression)
	require.Equal(t, 1000.0, regression.Last)
}

func TestMachineFuelNeedsNoVehicle(t *testing.T) {
	repo := newMemoryRepo()
	repo.addItem(1, "diesel", inventory.CategoryFuel, "100")
	svc := newTestService(repo)

	rec, err := svc.Create(context.Background(), CreateInput{
		IssueType: IssueFuel,
		IssuedTo:  42,
		FuelType:  FuelMachine,
		Lines:     []LineInput{{ItemID: 1, Qty: decimal.NewFromInt(10)}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusPending, rec.Status)
	require.Nil(t, rec.VehicleID)
}

func TestToolIssuanceAutoIssues(t *testing.T) {
	repo := newMemoryRepo()
	repo.addTool(3, "drill", "5", true, false)
	svc := newTestService(repo)

	rec, err := svc.Create(context.Background(), CreateInput{
		IssueType: IssueTool,
		IssuedTo:  42,
		Lines:     []LineInput{{ItemID: 3, Qty: decimal.NewFromInt(2)}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusIssued, rec.Status)
	require.Equal(t, ApprovalApproved, rec.ApprovalStatus)
	require.NotNil(t, rec.IssuedAt)
	require.True(t, repo.onHand(3).Equal(decimal.NewFromInt(3)))
}

func TestFuelDrivenToolKeepsApprovalGate(t *testing.T) {
	repo := newMemoryRepo()
	repo.addTool(3, "chainsaw", "2", true, true)
	svc := newTestService(repo)

	rec, err := svc.Create(context.Background(), CreateInput{
		IssueType: IssueTool,
		IssuedTo:  42,
		Lines:     []LineInput{{ItemID: 3, Qty: decimal.NewFromInt(1)}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusPending, rec.Status)
	require.True(t, repo.onHand(3).Equal(decimal.NewFromInt(2)), "stock untouched before approval")
}

func TestIssueOutRequiresApproval(t *testing.T) {
	repo := newMemoryRepo()
	repo.addItem(1, "diesel", inventory.CategoryFuel, "100")
	svc := newTestService(repo)
	ctx := context.Background()

	rec, err := svc.Create(ctx, CreateInput{
		IssueType: IssueFuel,
		IssuedTo:  42,
		FuelType:  FuelMachine,
		Lines:     []LineInput{{ItemID: 1, Qty: decimal.NewFromInt(20)}},
	})
	require.NoError(t, err)

	_, err = svc.IssueOut(ctx, rec.ID, 9, "")
	require.ErrorIs(t, err, ErrApprovalRequired)
	require.True(t, repo.onHand(1).Equal(decimal.NewFromInt(100)), "stock unchanged")
}

func TestApproveTwiceRejected(t *testing.T) {
	repo := newMemoryRepo()
	repo.addItem(1, "diesel", inventory.CategoryFuel, "100")
	svc := newTestService(repo)
	ctx := context.Background()

	rec, err := svc.Create(ctx, CreateInput{
		IssueType: IssueFuel,
		IssuedTo:  42,
		FuelType:  FuelMachine,
		Lines:     []LineInput{{ItemID: 1, Qty: decimal.NewFromInt(20)}},
	})
	require.NoError(t, err)

	_, err = svc.Approve(ctx, rec.ID, 9)
	require.NoError(t, err)

	_, err = svc.Approve(ctx, rec.ID, 9)
	var invalid *InvalidApprovalStateError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, ApprovalApproved, invalid.Current)

	// Rejecting an approved record is also a conflict, not a no-op.
	_, err = svc.Reject(ctx, rec.ID, 9)
	require.ErrorAs(t, err, &invalid)
}

func TestRejectCancelsRecord(t *testing.T) {
	repo := newMemoryRepo()
	repo.addItem(1, "cement", inventory.CategoryMaterial, "50")
	svc := newTestService(repo)
	ctx := context.Background()

	rec, err := svc.Create(ctx, CreateInput{
		IssueType: IssueMaterial,
		IssuedTo:  42,
		Lines:     []LineInput{{ItemID: 1, Qty: decimal.NewFromInt(10)}},
	})
	require.NoError(t, err)

	rejected, err := svc.Reject(ctx, rec.ID, 9)
	require.NoError(t, err)
	require.Equal(t, ApprovalRejected, rejected.ApprovalStatus)
	require.Equal(t, StatusCancelled, rejected.Status)
}

func TestApprovalCapabilityEnforced(t *testing.T) {
	repo := newMemoryRepo()
	repo.addItem(1, "cement", inventory.CategoryMaterial, "50")
	svc := NewService(ServiceDeps{Repo: repo, Approver: denyAll{}})
	ctx := context.Background()

	rec, err := svc.Create(ctx, CreateInput{
		IssueType: IssueMaterial,
		IssuedTo:  42,
		Lines:     []LineInput{{ItemID: 1, Qty: decimal.NewFromInt(10)}},
	})
	require.NoError(t, err)

	_, err = svc.Approve(ctx, rec.ID, 5)
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestIssueOutReportsAllShortfallLines(t *testing.T) {
	repo := newMemoryRepo()
	repo.addItem(1, "cement", inventory.CategoryMaterial, "5")
	repo.addItem(2, "sand", inventory.CategoryMaterial, "3")
	svc := newTestService(repo)
	ctx := context.Background()

	rec, err := svc.Create(ctx, CreateInput{
		IssueType: IssueMaterial,
		IssuedTo:  42,
		Lines: []LineInput{
			{ItemID: 1, Qty: decimal.NewFromInt(10)},
			{ItemID: 2, Qty: decimal.NewFromInt(8)},
		},
	})
	require.NoError(t, err)
	_, err = svc.Approve(ctx, rec.ID, 9)
	require.NoError(t, err)

	_, err = svc.IssueOut(ctx, rec.ID, 9, "")
	var shortfall *StockShortfallError
	require.ErrorAs(t, err, &shortfall)
	require.Len(t, shortfall.Lines, 2)
	require.True(t, shortfall.Lines[0].Shortage.Equal(decimal.NewFromInt(5)))
	require.True(t, shortfall.Lines[1].Shortage.Equal(decimal.NewFromInt(5)))

	// Nothing partially applied.
	require.True(t, repo.onHand(1).Equal(decimal.NewFromInt(5)))
	require.True(t, repo.onHand(2).Equal(decimal.NewFromInt(3)))
}

func TestIssueOutAggregatesDuplicateItemLines(t *testing.T) {
	// Two lines for the same item clear individually but overdraw the
	// pool together; the shortfall must report their combined demand.
	repo := newMemoryRepo()
	repo.addItem(1, "cement", inventory.CategoryMaterial, "5")
	svc := newTestService(repo)
	ctx := context.Background()

	rec, err := svc.Create(ctx, CreateInput{
		IssueType: IssueMaterial,
		IssuedTo:  42,
		Lines: []LineInput{
			{ItemID: 1, Qty: decimal.NewFromInt(4)},
			{ItemID: 1, Qty: decimal.NewFromInt(4)},
		},
	})
	require.NoError(t, err)
	_, err = svc.Approve(ctx, rec.ID, 9)
	require.NoError(t, err)

	_, err = svc.IssueOut(ctx, rec.ID, 9, "")
	var shortfall *StockShortfallError
	require.ErrorAs(t, err, &shortfall)
	require.Len(t, shortfall.Lines, 1)
	require.True(t, shortfall.Lines[0].Requested.Equal(decimal.NewFromInt(8)))
	require.True(t, shortfall.Lines[0].Shortage.Equal(decimal.NewFromInt(3)))
	require.True(t, repo.onHand(1).Equal(decimal.NewFromInt(5)))
}

func TestCancelOnlyBeforeIssue(t *testing.T) {
	repo := newMemoryRepo()
	repo.addTool(3, "drill", "5", true, false)
	svc := newTestService(repo)
	ctx := context.Background()

	rec, err := svc.Create(ctx, CreateInput{
		IssueType: IssueTool,
		IssuedTo:  42,
		Lines:     []LineInput{{ItemID: 3, Qty: decimal.NewFromInt(1)}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusIssued, rec.Status)

	_, err = svc.Cancel(ctx, rec.ID, 9)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestFuelTypeRejectedOnNonFuelIssuance(t *testing.T) {
	repo := newMemoryRepo()
	repo.addTool(3, "drill", "5", true, false)
	svc := newTestService(repo)

	_, err := svc.Create(context.Background(), CreateInput{
		IssueType: IssueTool,
		IssuedTo:  42,
		FuelType:  FuelVehicle,
		Lines:     []LineInput{{ItemID: 3, Qty: decimal.NewFromInt(1)}},
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "fuel_type", verr.Field)
}

func TestLineCategoryMustMatchIssueType(t *testing.T) {
	repo := newMemoryRepo()
	repo.addItem(1, "diesel", inventory.CategoryFuel, "100")
	svc := newTestService(repo)

	_, err := svc.Create(context.Background(), CreateInput{
		IssueType: IssueMaterial,
		IssuedTo:  42,
		Lines:     []LineInput{{ItemID: 1, Qty: decimal.NewFromInt(5)}},
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}
