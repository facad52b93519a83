package inventory

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/sims-erp/sims-erp/internal/platform/httpx"
	"github.com/sims-erp/sims-erp/internal/shared"
)

// Handler wires HTTP endpoints for the inventory module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/items", func(r chi.Router) {
		r.Post("/", h.handleCreateItem)
		r.Get("/", h.handleListItems)
		r.Get("/{id}", h.handleGetItem)
		r.Post("/{id}/restock", h.handleRestock)
		r.Post("/{id}/adjust", h.handleAdjust)
		r.Get("/{id}/movements", h.handleMovements)
	})
	r.Route("/stock", func(r chi.Router) {
		r.Get("/", h.handleStockLevels)
		r.Get("/low", h.handleLowStock)
	})
	r.Route("/vehicles", func(r chi.Router) {
		r.Get("/", h.handleListVehicles)
		r.Get("/{id}", h.handleGetVehicle)
	})
}

type createItemRequest struct {
	Name            string  `json:"name" validate:"required"`
	Category        string  `json:"category" validate:"required,oneof=fuel vehicle tool material"`
	Unit            string  `json:"unit"`
	InitialQuantity string  `json:"initial_quantity"`
	ReorderLevel    *string `json:"reorder_level"`

	PlateNumber     string  `json:"plate_number"`
	FuelItemID      int64   `json:"fuel_item_id"`
	CurrentOdometer float64 `json:"current_odometer"`

	Condition  string `json:"condition"`
	Returnable bool   `json:"returnable"`
	UsesFuel   bool   `json:"uses_fuel"`
}

type itemResponse struct {
	ID               int64            `json:"id"`
	Name             string           `json:"name"`
	Category         Category         `json:"category"`
	Unit             string           `json:"unit"`
	QuantityOnHand   decimal.Decimal  `json:"quantity_on_hand"`
	ReorderLevel     *decimal.Decimal `json:"reorder_level,omitempty"`
	RequiresApproval bool             `json:"requires_approval"`
	CreatedAt        time.Time        `json:"created_at"`
	Vehicle          *vehicleResponse `json:"vehicle,omitempty"`
	Tool             *toolResponse    `json:"tool,omitempty"`
}

type vehicleResponse struct {
	ID              int64    `json:"id"`
	ItemID          int64    `json:"item_id"`
	PlateNumber     string   `json:"plate_number"`
	FuelItemID      int64    `json:"fuel_item_id"`
	CurrentOdometer float64  `json:"current_odometer"`
	FuelEfficiency  *float64 `json:"fuel_efficiency,omitempty"`
}

type toolResponse struct {
	ID         int64  `json:"id"`
	ItemID     int64  `json:"item_id"`
	Condition  string `json:"condition"`
	Returnable bool   `json:"returnable"`
	UsesFuel   bool   `json:"uses_fuel"`
	FuelItemID int64  `json:"fuel_item_id,omitempty"`
}

func toItemResponse(item Item) itemResponse {
	resp := itemResponse{
		ID:               item.ID,
		Name:             item.Name,
		Category:         item.Category,
		Unit:             item.Unit,
		QuantityOnHand:   item.QuantityOnHand,
		ReorderLevel:     item.ReorderLevel,
		RequiresApproval: item.RequiresApproval,
		CreatedAt:        item.CreatedAt,
	}
	if item.Vehicle != nil {
		resp.Vehicle = toVehicleResponse(*item.Vehicle)
	}
	if item.Tool != nil {
		resp.Tool = &toolResponse{
			ID:         item.Tool.ID,
			ItemID:     item.Tool.ItemID,
			Condition:  item.Tool.Condition,
			Returnable: item.Tool.Returnable,
			UsesFuel:   item.Tool.UsesFuel,
			FuelItemID: item.Tool.FuelItemID,
		}
	}
	return resp
}

func toVehicleResponse(spec VehicleSpec) *vehicleResponse {
	return &vehicleResponse{
		ID:              spec.ID,
		ItemID:          spec.ItemID,
		PlateNumber:     spec.PlateNumber,
		FuelItemID:      spec.FuelItemID,
		CurrentOdometer: spec.CurrentOdometer,
		FuelEfficiency:  spec.FuelEfficiency,
	}
}

func (h *Handler) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	var req createItemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	input := CreateItemInput{
		Name:            req.Name,
		Category:        Category(req.Category),
		Unit:            req.Unit,
		PlateNumber:     req.PlateNumber,
		VehicleFuelItem: req.FuelItemID,
		CurrentOdometer: req.CurrentOdometer,
		Condition:       req.Condition,
		Returnable:      req.Returnable,
		UsesFuel:        req.UsesFuel,
		ToolFuel:        req.FuelItemID,
	}
	if actor, ok := shared.ActorFromContext(r.Context()); ok {
		input.ActorID = actor.ID
	}
	if req.InitialQuantity != "" {
		qty, err := decimal.NewFromString(req.InitialQuantity)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "initial_quantity must be numeric")
			return
		}
		input.InitialQuantity = qty
	}
	if req.ReorderLevel != nil {
		level, err := decimal.NewFromString(*req.ReorderLevel)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "reorder_level must be numeric")
			return
		}
		input.ReorderLevel = &level
	}

	item, err := h.service.CreateItem(r.Context(), input)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toItemResponse(item))
}

func (h *Handler) handleListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListItems(r.Context(), Category(r.URL.Query().Get("category")))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	resp := make([]itemResponse, 0, len(items))
	for _, item := range items {
		resp = append(resp, toItemResponse(item))
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "id must be numeric")
		return
	}
	item, err := h.service.GetItem(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toItemResponse(item))
}

type restockRequest struct {
	Qty     string `json:"qty" validate:"required"`
	Remarks string `json:"remarks"`
}

type restockResponse struct {
	StockInNumber string          `json:"stock_in_number"`
	ItemID        int64           `json:"item_id"`
	ItemName      string          `json:"item_name"`
	Qty           decimal.Decimal `json:"qty"`
	NewBalance    decimal.Decimal `json:"new_balance"`
}

func (h *Handler) handleRestock(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "id must be numeric")
		return
	}
	var req restockRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	qty, err := decimal.NewFromString(req.Qty)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "qty must be numeric")
		return
	}
	input := RestockInput{ItemID: id, Qty: qty, Remarks: req.Remarks}
	if actor, ok := shared.ActorFromContext(r.Context()); ok {
		input.ActorID = actor.ID
	}
	record, applied, err := h.service.Restock(r.Context(), input)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, restockResponse{
		StockInNumber: record.Number,
		ItemID:        applied.ItemID,
		ItemName:      applied.ItemName,
		Qty:           applied.Qty,
		NewBalance:    applied.NewBalance,
	})
}

type adjustRequest struct {
	Qty  string `json:"qty" validate:"required"`
	Note string `json:"note"`
}

func (h *Handler) handleAdjust(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "id must be numeric")
		return
	}
	var req adjustRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	qty, err := decimal.NewFromString(req.Qty)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "qty must be numeric")
		return
	}
	params := DeltaParams{ItemID: id, Qty: qty, Type: MovementAdjust, RefModule: "inventory", Note: req.Note}
	if actor, ok := shared.ActorFromContext(r.Context()); ok {
		params.ActorID = actor.ID
	}
	applied, err := h.service.ApplyDelta(r.Context(), params)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, applied)
}

func (h *Handler) handleMovements(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "id must be numeric")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	movements, err := h.service.Movements(r.Context(), id, limit)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, movements)
}

func (h *Handler) handleStockLevels(w http.ResponseWriter, r *http.Request) {
	levels, err := h.service.StockLevels(r.Context(), Category(r.URL.Query().Get("category")))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, levels)
}

func (h *Handler) handleLowStock(w http.ResponseWriter, r *http.Request) {
	levels, err := h.service.LowStock(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, levels)
}

func (h *Handler) handleListVehicles(w http.ResponseWriter, r *http.Request) {
	specs, err := h.service.ListVehicles(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	resp := make([]*vehicleResponse, 0, len(specs))
	for _, spec := range specs {
		resp = append(resp, toVehicleResponse(spec))
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetVehicle(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "id must be numeric")
		return
	}
	spec, err := h.service.GetVehicle(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toVehicleResponse(spec))
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		shortErr *InsufficientStockError
		dupErr   *DuplicateItemError
		valErr   *ValidationError
	)
	switch {
	case errors.As(err, &shortErr):
		httpx.ProblemWith(w, http.StatusConflict, "Insufficient Stock", shortErr.Error(), map[string]any{
			"item":      shortErr.Item,
			"unit":      shortErr.Unit,
			"requested": shortErr.Requested.String(),
			"available": shortErr.Available.String(),
			"shortage":  shortErr.Shortage().String(),
		})
	case errors.As(err, &dupErr):
		httpx.Problem(w, http.StatusConflict, "Duplicate Item", dupErr.Error())
	case errors.As(err, &valErr):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", valErr.Error())
	case errors.Is(err, ErrItemNotFound), errors.Is(err, ErrVehicleNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrVehicleStock):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("inventory request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
