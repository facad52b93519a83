package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/sims-erp/sims-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetItem(ctx context.Context, id int64) (Item, error)
	ListItems(ctx context.Context, category Category) ([]Item, error)
	ListStockLevels(ctx context.Context, category Category) ([]StockLevel, error)
	ListBelowReorder(ctx context.Context) ([]StockLevel, error)
	GetVehicle(ctx context.Context, vehicleID int64) (VehicleSpec, error)
	ListVehicles(ctx context.Context) ([]VehicleSpec, error)
	ListMovements(ctx context.Context, itemID int64, limit int) ([]Movement, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates catalogue intake and stock ledger operations.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	cache       *StockCache
	events      EventHandler
	allowNeg    bool
	levelsGroup singleflight.Group
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	AllowNegativeStock bool
}

// NewService builds Service. Cache and events may be nil.
func NewService(repo RepositoryPort, audit AuditPort, cache *StockCache, events EventHandler, cfg ServiceConfig) *Service {
	return &Service{repo: repo, audit: audit, cache: cache, events: events, allowNeg: cfg.AllowNegativeStock}
}

// CreateItemInput carries a catalogue intake request.
type CreateItemInput struct {
	Name            string
	Category        Category
	Unit            string
	InitialQuantity decimal.Decimal
	ReorderLevel    *decimal.Decimal
	ActorID         int64

	// Vehicle specialization.
	PlateNumber     string
	VehicleFuelItem int64
	CurrentOdometer float64

	// Tool specialization.
	Condition  string
	Returnable bool
	UsesFuel   bool
	ToolFuel   int64
}

// CreateItem registers a catalogue entry. Names are normalised before the
// duplicate check so "Nails " and "nail" land on the same row. Vehicles are
// stocked at exactly one; other categories may carry an opening balance,
// which is journalled as an adjustment.
func (s *Service) CreateItem(ctx context.Context, input CreateItemInput) (Item, error) {
	name := NormalizeName(input.Name)
	if name == "" {
		return Item{}, &ValidationError{Field: "name", Message: "required"}
	}
	if !input.Category.Valid() {
		return Item{}, &ValidationError{Field: "category", Message: "must be one of fuel, vehicle, tool, material"}
	}
	if input.InitialQuantity.IsNegative() {
		return Item{}, ErrInvalidQuantity
	}
	switch input.Category {
	case CategoryVehicle:
		if input.PlateNumber == "" {
			return Item{}, &ValidationError{Field: "plate_number", Message: "required for vehicles"}
		}
		if input.VehicleFuelItem == 0 {
			return Item{}, &ValidationError{Field: "fuel_item_id", Message: "required for vehicles"}
		}
		if input.CurrentOdometer < 0 {
			return Item{}, &ValidationError{Field: "current_odometer", Message: "must not be negative"}
		}
	case CategoryTool:
		if input.UsesFuel && input.ToolFuel == 0 {
			return Item{}, &ValidationError{Field: "fuel_item_id", Message: "required for fuel-driven tools"}
		}
	}

	item := Item{
		Name:             name,
		Category:         input.Category,
		Unit:             input.Unit,
		ReorderLevel:     input.ReorderLevel,
		RequiresApproval: requiresApproval(input.Category, input.UsesFuel),
		CreatedAt:        time.Now().UTC(),
	}
	if input.Category == CategoryVehicle {
		item.QuantityOnHand = decimal.NewFromInt(1)
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		exists, err := tx.ItemExists(ctx, name, input.Category)
		if err != nil {
			return err
		}
		if exists {
			return &DuplicateItemError{Name: name, Category: input.Category}
		}
		id, err := tx.InsertItem(ctx, item)
		if err != nil {
			return err
		}
		item.ID = id
		switch input.Category {
		case CategoryVehicle:
			spec := VehicleSpec{
				ItemID:          id,
				PlateNumber:     input.PlateNumber,
				FuelItemID:      input.VehicleFuelItem,
				CurrentOdometer: input.CurrentOdometer,
			}
			specID, err := tx.InsertVehicleSpec(ctx, spec)
			if err != nil {
				return err
			}
			spec.ID = specID
			item.Vehicle = &spec
		case CategoryTool:
			spec := ToolSpec{
				ItemID:     id,
				Condition:  input.Condition,
				Returnable: input.Returnable,
				UsesFuel:   input.UsesFuel,
				FuelItemID: input.ToolFuel,
			}
			specID, err := tx.InsertToolSpec(ctx, spec)
			if err != nil {
				return err
			}
			spec.ID = specID
			item.Tool = &spec
		}
		if input.Category != CategoryVehicle && input.InitialQuantity.IsPositive() {
			applied, err := tx.ApplyDelta(ctx, DeltaParams{
				ItemID:    id,
				Qty:       input.InitialQuantity,
				Type:      MovementAdjust,
				RefModule: "inventory",
				Note:      "opening balance",
				ActorID:   input.ActorID,
			})
			if err != nil {
				return err
			}
			item.QuantityOnHand = applied.NewBalance
		}
		return nil
	})
	if err != nil {
		return Item{}, err
	}

	s.cache.Invalidate(ctx)
	s.recordAudit(ctx, input.ActorID, "item.created", "item", fmt.Sprint(item.ID), map[string]any{
		"name":     item.Name,
		"category": item.Category,
	})
	if s.events != nil {
		evt := ItemCreatedEvent{ItemID: item.ID, Name: item.Name, Category: item.Category, CreatedAt: item.CreatedAt}
		_ = s.events.HandleItemCreated(ctx, evt)
	}
	return item, nil
}

func requiresApproval(category Category, usesFuel bool) bool {
	switch category {
	case CategoryFuel, CategoryMaterial:
		return true
	case CategoryTool:
		return usesFuel
	}
	return false
}

// ApplyDelta posts one administrative stock adjustment in its own
// transaction. Issuance and returns post deltas inside their own
// transactions instead.
func (s *Service) ApplyDelta(ctx context.Context, params DeltaParams) (AppliedDelta, error) {
	if params.Type == "" {
		params.Type = MovementAdjust
	}
	if !s.allowNeg {
		params.Override = false
	}
	var applied AppliedDelta
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		applied, err = tx.ApplyDelta(ctx, params)
		return err
	})
	if err != nil {
		return AppliedDelta{}, err
	}
	s.cache.Invalidate(ctx)
	s.recordAudit(ctx, params.ActorID, "stock.adjusted", "item", fmt.Sprint(params.ItemID), map[string]any{
		"qty":     params.Qty.String(),
		"balance": applied.NewBalance.String(),
	})
	return applied, nil
}

// RestockInput carries a stock-in request.
type RestockInput struct {
	ItemID  int64
	Qty     decimal.Decimal
	Remarks string
	ActorID int64
}

// Restock replenishes one item, assigning the next sequential stock-in
// number and journalling the movement under it.
func (s *Service) Restock(ctx context.Context, input RestockInput) (StockIn, AppliedDelta, error) {
	if !input.Qty.IsPositive() {
		return StockIn{}, AppliedDelta{}, ErrInvalidQuantity
	}
	var (
		record  StockIn
		applied AppliedDelta
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		seq, err := tx.NextStockInNumber(ctx)
		if err != nil {
			return err
		}
		record = StockIn{
			Number:    fmt.Sprintf("ST-%04d", seq),
			ItemID:    input.ItemID,
			Qty:       input.Qty,
			Remarks:   input.Remarks,
			CreatedBy: input.ActorID,
			CreatedAt: time.Now().UTC(),
		}
		applied, err = tx.ApplyDelta(ctx, DeltaParams{
			ItemID:    input.ItemID,
			Qty:       input.Qty,
			Type:      MovementIn,
			Code:      record.Number,
			RefModule: "stockin",
			Note:      input.Remarks,
			ActorID:   input.ActorID,
		})
		if err != nil {
			return err
		}
		id, err := tx.InsertStockIn(ctx, record)
		if err != nil {
			return err
		}
		record.ID = id
		return nil
	})
	if err != nil {
		return StockIn{}, AppliedDelta{}, err
	}

	s.cache.Invalidate(ctx)
	s.recordAudit(ctx, input.ActorID, "stock.replenished", "stockin", record.Number, map[string]any{
		"item_id": input.ItemID,
		"qty":     input.Qty.String(),
	})
	if s.events != nil {
		evt := StockReplenishedEvent{
			StockInNumber: record.Number,
			ItemID:        applied.ItemID,
			ItemName:      applied.ItemName,
			Qty:           applied.Qty,
			NewBalance:    applied.NewBalance,
			ActorID:       input.ActorID,
			PostedAt:      record.CreatedAt,
		}
		_ = s.events.HandleStockReplenished(ctx, evt)
	}
	return record, applied, nil
}

// GetItem returns one catalogue entry.
func (s *Service) GetItem(ctx context.Context, id int64) (Item, error) {
	return s.repo.GetItem(ctx, id)
}

// ListItems returns catalogue entries, optionally filtered.
func (s *Service) ListItems(ctx context.Context, category Category) ([]Item, error) {
	if category != "" && !category.Valid() {
		return nil, &ValidationError{Field: "category", Message: "unknown category"}
	}
	return s.repo.ListItems(ctx, category)
}

// StockLevels returns current levels, served from cache when fresh.
func (s *Service) StockLevels(ctx context.Context, category Category) ([]StockLevel, error) {
	if category != "" && !category.Valid() {
		return nil, &ValidationError{Field: "category", Message: "unknown category"}
	}
	if levels, ok := s.cache.Get(ctx, category); ok {
		return levels, nil
	}
	// Collapse concurrent misses for the same category into one query.
	resultChan := s.levelsGroup.DoChan(string(category), func() (any, error) {
		levels, err := s.repo.ListStockLevels(ctx, category)
		if err != nil {
			return nil, err
		}
		s.cache.Set(ctx, category, levels)
		return levels, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]StockLevel), nil
	}
}

// LowStock returns levels at or under their reorder threshold.
func (s *Service) LowStock(ctx context.Context) ([]StockLevel, error) {
	return s.repo.ListBelowReorder(ctx)
}

// ScanLowStock emits one LowStockEvent per depleted item. The worker cron
// calls this on a schedule.
func (s *Service) ScanLowStock(ctx context.Context) (int, error) {
	levels, err := s.repo.ListBelowReorder(ctx)
	if err != nil {
		return 0, err
	}
	if s.events == nil {
		return len(levels), nil
	}
	now := time.Now().UTC()
	for _, level := range levels {
		evt := LowStockEvent{
			ItemID:       level.ItemID,
			Name:         level.Name,
			Category:     level.Category,
			OnHand:       level.QuantityOnHand,
			ReorderLevel: *level.ReorderLevel,
			DetectedAt:   now,
		}
		if err := s.events.HandleLowStock(ctx, evt); err != nil {
			return 0, err
		}
	}
	return len(levels), nil
}

// GetVehicle returns one vehicle spec.
func (s *Service) GetVehicle(ctx context.Context, vehicleID int64) (VehicleSpec, error) {
	return s.repo.GetVehicle(ctx, vehicleID)
}

// ListVehicles returns all registered vehicles.
func (s *Service) ListVehicles(ctx context.Context) ([]VehicleSpec, error) {
	return s.repo.ListVehicles(ctx)
}

// Movements returns recent ledger entries for one item.
func (s *Service) Movements(ctx context.Context, itemID int64, limit int) ([]Movement, error) {
	if _, err := s.repo.GetItem(ctx, itemID); err != nil {
		return nil, err
	}
	return s.repo.ListMovements(ctx, itemID, limit)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entity, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Meta:     meta,
		At:       time.Now().UTC(),
	})
}
