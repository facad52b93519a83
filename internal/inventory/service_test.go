package inventory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	items     map[int64]*Item
	vehicles  map[int64]*VehicleSpec
	tools     map[int64]*ToolSpec
	movements []Movement
	stockIns  []StockIn
	nextID    int64
	numberSeq int
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		items:    make(map[int64]*Item),
		vehicles: make(map[int64]*VehicleSpec),
		tools:    make(map[int64]*ToolSpec),
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetItem(ctx context.Context, id int64) (Item, error) {
	item, ok := r.items[id]
	if !ok {
		return Item{}, ErrItemNotFound
	}
	out := *item
	if spec, ok := r.vehicles[id]; ok {
		specCopy := *spec
		out.Vehicle = &specCopy
	}
	if spec, ok := r.tools[id]; ok {
		specCopy := *spec
		out.Tool = &specCopy
	}
	return out, nil
}

func (r *memoryRepo) ListItems(ctx context.Context, category Category) ([]Item, error) {
	items := []Item{}
	for id, item := range r.items {
		if category != "" && item.Category != category {
			continue
		}
		out, _ := r.GetItem(ctx, id)
		items = append(items, out)
	}
	return items, nil
}

func (r *memoryRepo) ListStockLevels(ctx context.Context, category Category) ([]StockLevel, error) {
	levels := []StockLevel{}
	for _, item := range r.items {
		if category != "" && item.Category != category {
			continue
		}
		levels = append(levels, StockLevel{
			ItemID:         item.ID,
			Name:           item.Name,
			Category:       item.Category,
			Unit:           item.Unit,
			QuantityOnHand: item.QuantityOnHand,
			ReorderLevel:   item.ReorderLevel,
		})
	}
	return levels, nil
}

func (r *memoryRepo) ListBelowReorder(ctx context.Context) ([]StockLevel, error) {
	levels, _ := r.ListStockLevels(ctx, "")
	low := []StockLevel{}
	for _, level := range levels {
		if level.BelowReorder() {
			low = append(low, level)
		}
	}
	return low, nil
}

func (r *memoryRepo) GetVehicle(ctx context.Context, vehicleID int64) (VehicleSpec, error) {
	for _, spec := range r.vehicles {
		if spec.ID == vehicleID {
			return *spec, nil
		}
	}
	return VehicleSpec{}, ErrVehicleNotFound
}

func (r *memoryRepo) ListVehicles(ctx context.Context) ([]VehicleSpec, error) {
	specs := []VehicleSpec{}
	for _, spec := range r.vehicles {
		specs = append(specs, *spec)
	}
	return specs, nil
}

func (r *memoryRepo) ListMovements(ctx context.Context, itemID int64, limit int) ([]Movement, error) {
	movements := []Movement{}
	for _, m := range r.movements {
		if m.ItemID == itemID {
			movements = append(movements, m)
		}
	}
	return movements, nil
}

func (tx *memoryTx) ApplyDelta(ctx context.Context, params DeltaParams) (AppliedDelta, error) {
	if params.Qty.IsZero() {
		return AppliedDelta{}, ErrInvalidQuantity
	}
	item, ok := tx.repo.items[params.ItemID]
	if !ok {
		return AppliedDelta{}, ErrItemNotFound
	}
	if item.Category == CategoryVehicle {
		return AppliedDelta{}, ErrVehicleStock
	}
	newBalance := item.QuantityOnHand.Add(params.Qty)
	if newBalance.IsNegative() && !params.Override {
		return AppliedDelta{}, &InsufficientStockError{
			Item:      item.Name,
			Unit:      item.Unit,
			Requested: params.Qty.Neg(),
			Available: item.QuantityOnHand,
		}
	}
	item.QuantityOnHand = newBalance
	tx.repo.nextID++
	movement := Movement{
		ID:       tx.repo.nextID,
		ItemID:   params.ItemID,
		Code:     params.Code,
		Type:     params.Type,
		Qty:      params.Qty,
		Balance:  newBalance,
		PostedAt: time.Now(),
	}
	tx.repo.movements = append(tx.repo.movements, movement)
	return AppliedDelta{
		ItemID:     params.ItemID,
		ItemName:   item.Name,
		Unit:       item.Unit,
		Qty:        params.Qty,
		NewBalance: newBalance,
		MovementID: movement.ID,
	}, nil
}

func (tx *memoryTx) ItemExists(ctx context.Context, name string, category Category) (bool, error) {
	for _, item := range tx.repo.items {
		if item.Name == name && item.Category == category {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memoryTx) InsertItem(ctx context.Context, item Item) (int64, error) {
	tx.repo.nextID++
	item.ID = tx.repo.nextID
	stored := item
	stored.Vehicle = nil
	stored.Tool = nil
	tx.repo.items[item.ID] = &stored
	return item.ID, nil
}

func (tx *memoryTx) InsertVehicleSpec(ctx context.Context, spec VehicleSpec) (int64, error) {
	tx.repo.nextID++
	spec.ID = tx.repo.nextID
	tx.repo.vehicles[spec.ItemID] = &spec
	return spec.ID, nil
}

func (tx *memoryTx) InsertToolSpec(ctx context.Context, spec ToolSpec) (int64, error) {
	tx.repo.nextID++
	spec.ID = tx.repo.nextID
	tx.repo.tools[spec.ItemID] = &spec
	return spec.ID, nil
}

func (tx *memoryTx) FindItemByName(ctx context.Context, name string, category Category) (Item, error) {
	for _, item := range tx.repo.items {
		if item.Name == name && item.Category == category {
			return *item, nil
		}
	}
	return Item{}, ErrItemNotFound
}

// Counter semantics mirror the database sequence.
func (tx *memoryTx) NextStockInNumber(ctx context.Context) (int, error) {
	tx.repo.numberSeq++
	return tx.repo.numberSeq, nil
}

func (tx *memoryTx) InsertStockIn(ctx context.Context, record StockIn) (int64, error) {
	tx.repo.nextID++
	record.ID = tx.repo.nextID
	tx.repo.stockIns = append(tx.repo.stockIns, record)
	return record.ID, nil
}

func newTestService(repo *memoryRepo) *Service {
	return NewService(repo, nil, nil, nil, ServiceConfig{})
}

func seedItem(t *testing.T, repo *memoryRepo, name string, category Category, qty string) int64 {
	t.Helper()
	tx := &memoryTx{repo: repo}
	id, err := tx.InsertItem(context.Background(), Item{
		Name:           NormalizeName(name),
		Category:       category,
		Unit:           "pcs",
		QuantityOnHand: decimal.RequireFromString(qty),
	})
	require.NoError(t, err)
	return id
}

func TestCreateItemNormalizesNameAndRejectsDuplicates(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	item, err := svc.CreateItem(context.Background(), CreateItemInput{
		Name:     "  Nails ",
		Category: CategoryMaterial,
		Unit:     "kg",
	})
	require.NoError(t, err)
	require.Equal(t, "nail", item.Name)
	require.True(t, item.RequiresApproval)

	_, err = svc.CreateItem(context.Background(), CreateItemInput{
		Name:     "nail",
		Category: CategoryMaterial,
	})
	var dup *DuplicateItemError
	require.ErrorAs(t, err, &dup)
	require.Equal(t, "nail", dup.Name)
}

func TestCreateItemOpeningBalance(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	item, err := svc.CreateItem(context.Background(), CreateItemInput{
		Name:            "Diesel",
		Category:        CategoryFuel,
		Unit:            "liters",
		InitialQuantity: decimal.RequireFromString("120.5"),
	})
	require.NoError(t, err)
	require.True(t, item.QuantityOnHand.Equal(decimal.RequireFromString("120.5")))

	movements, err := svc.Movements(context.Background(), item.ID, 10)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	require.Equal(t, MovementAdjust, movements[0].Type)
}

func TestCreateVehiclePinnedAtOne(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	fuelID := seedItem(t, repo, "diesel", CategoryFuel, "100")

	item, err := svc.CreateItem(context.Background(), CreateItemInput{
		Name:            "Tipper Truck",
		Category:        CategoryVehicle,
		PlateNumber:     "KBX 123A",
		VehicleFuelItem: fuelID,
		CurrentOdometer: 1000,
	})
	require.NoError(t, err)
	require.True(t, item.QuantityOnHand.Equal(decimal.NewFromInt(1)))
	require.NotNil(t, item.Vehicle)
	require.Equal(t, "KBX 123A", item.Vehicle.PlateNumber)

	// Adjustments on vehicles are rejected at the ledger.
	_, err = svc.ApplyDelta(context.Background(), DeltaParams{
		ItemID: item.ID,
		Qty:    decimal.NewFromInt(1),
	})
	require.ErrorIs(t, err, ErrVehicleStock)
}

func TestCreateVehicleRequiresPlate(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	_, err := svc.CreateItem(context.Background(), CreateItemInput{
		Name:            "Truck",
		Category:        CategoryVehicle,
		VehicleFuelItem: 1,
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "plate_number", verr.Field)
}

func TestRestockAssignsSequentialNumbers(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	id := seedItem(t, repo, "cement", CategoryMaterial, "10")

	record, applied, err := svc.Restock(context.Background(), RestockInput{
		ItemID: id,
		Qty:    decimal.NewFromInt(40),
	})
	require.NoError(t, err)
	require.Equal(t, "ST-0001", record.Number)
	require.True(t, applied.NewBalance.Equal(decimal.NewFromInt(50)))

	record, _, err = svc.Restock(context.Background(), RestockInput{
		ItemID: id,
		Qty:    decimal.NewFromInt(5),
	})
	require.NoError(t, err)
	require.Equal(t, "ST-0002", record.Number)
}

func TestEventFailureNeverFailsCommit(t *testing.T) {
	// The handler runs after commit; its error is logged by the emitter,
	// never surfaced to the caller.
	repo := newMemoryRepo()
	events := &captureEvents{fail: errors.New("queue down")}
	svc := NewService(repo, nil, nil, events, ServiceConfig{})

	item, err := svc.CreateItem(context.Background(), CreateItemInput{
		Name:     "Drill",
		Category: CategoryTool,
		Unit:     "pcs",
	})
	require.NoError(t, err)
	require.Len(t, events.created, 1)

	_, applied, err := svc.Restock(context.Background(), RestockInput{
		ItemID: item.ID,
		Qty:    decimal.NewFromInt(3),
	})
	require.NoError(t, err)
	require.True(t, applied.NewBalance.Equal(decimal.NewFromInt(3)))
	require.Len(t, events.replenished, 1)
}

func TestRestockRejectsNonPositiveQty(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	id := seedItem(t, repo, "cement", CategoryMaterial, "10")

	_, _, err := svc.Restock(context.Background(), RestockInput{ItemID: id, Qty: decimal.Zero})
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestApplyDeltaInsufficientStock(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	id := seedItem(t, repo, "diesel", CategoryFuel, "20")

	_, err := svc.ApplyDelta(context.Background(), DeltaParams{
		ItemID: id,
		Qty:    decimal.NewFromInt(-30),
		Type:   MovementOut,
	})
	var short *InsufficientStockError
	require.ErrorAs(t, err, &short)
	require.True(t, short.Shortage().Equal(decimal.NewFromInt(10)))

	// Balance untouched after the rejected delta.
	item, err := svc.GetItem(context.Background(), id)
	require.NoError(t, err)
	require.True(t, item.QuantityOnHand.Equal(decimal.NewFromInt(20)))
}

func TestScanLowStock(t *testing.T) {
	repo := newMemoryRepo()
	level := decimal.NewFromInt(15)
	id := seedItem(t, repo, "diesel", CategoryFuel, "10")
	repo.items[id].ReorderLevel = &level
	seedItem(t, repo, "cement", CategoryMaterial, "100")

	events := &captureEvents{}
	svc := NewService(repo, nil, nil, events, ServiceConfig{})

	count, err := svc.ScanLowStock(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Len(t, events.lowStock, 1)
	require.Equal(t, id, events.lowStock[0].ItemID)
}

type captureEvents struct {
	created     []ItemCreatedEvent
	replenished []StockReplenishedEvent
	lowStock    []LowStockEvent
	fail        error
}

func (c *captureEvents) HandleItemCreated(ctx context.Context, evt ItemCreatedEvent) error {
	c.created = append(c.created, evt)
	return c.fail
}

func (c *captureEvents) HandleStockReplenished(ctx context.Context, evt StockReplenishedEvent) error {
	c.replenished = append(c.replenished, evt)
	return c.fail
}

func (c *captureEvents) HandleLowStock(ctx context.Context, evt LowStockEvent) error {
	c.lowStock = append(c.lowStock, evt)
	return c.fail
}

func TestMovementsUnknownItem(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	_, err := svc.Movements(context.Background(), 99, 10)
	require.ErrorIs(t, err, ErrItemNotFound)
}

func TestNormalizeName(t *testing.T) {
	cases := map[string]string{
		"  Nails ": "nail",
		"DIESEL":   "diesel",
		"glass":    "glas",
		"hammer":   "hammer",
	}
	for input, want := range cases {
		require.Equal(t, want, NormalizeName(input), fmt.Sprintf("input %q", input))
	}
}
