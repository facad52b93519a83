package issuance

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/sims-erp/sims-erp/internal/inventory"
	"github.com/sims-erp/sims-erp/internal/platform/db"
	"github.com/sims-erp/sims-erp/internal/platform/httpx"
	"github.com/sims-erp/sims-erp/internal/shared"
)

// Handler wires HTTP endpoints for the issuance module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs issuance handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers issuance routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/approve", h.handleApprove)
	r.Post("/{id}/reject", h.handleReject)
	r.Post("/{id}/issue", h.handleIssueOut)
	r.Post("/{id}/cancel", h.handleCancel)
	r.Get("/employee/{employeeID}", h.handleIssuedItems)
	r.Get("/vehicle/{vehicleID}/fuel-history", h.handleFuelHistory)
}

type lineRequest struct {
	ItemID int64  `json:"item_id" validate:"required"`
	Qty    string `json:"qty" validate:"required"`
}

type createRequest struct {
	IssueType       string        `json:"issue_type" validate:"required,oneof=material tool fuel"`
	IssuedTo        int64         `json:"issued_to" validate:"required"`
	Purpose         string        `json:"purpose"`
	FuelType        string        `json:"fuel_type" validate:"omitempty,oneof=vehicle machine"`
	VehicleID       int64         `json:"vehicle_id"`
	CurrentOdometer *float64      `json:"current_odometer"`
	Items           []lineRequest `json:"items" validate:"required,min=1,dive"`
}

type lineResponse struct {
	ID               int64           `json:"id"`
	ItemID           int64           `json:"item_id"`
	ItemName         string          `json:"item_name"`
	Unit             string          `json:"unit"`
	Quantity         decimal.Decimal `json:"quantity"`
	ReturnedQuantity decimal.Decimal `json:"returned_quantity"`
	Outstanding      decimal.Decimal `json:"outstanding"`
	FuelEfficiency   *float64        `json:"fuel_efficiency,omitempty"`
}

type recordResponse struct {
	ID                string         `json:"id"`
	IssueType         IssueType      `json:"issue_type"`
	Status            Status         `json:"status"`
	ApprovalStatus    ApprovalStatus `json:"approval_status"`
	IssuedTo          int64          `json:"issued_to"`
	IssuedBy          int64          `json:"issued_by"`
	Purpose           string         `json:"purpose,omitempty"`
	FuelType          FuelType       `json:"fuel_type,omitempty"`
	VehicleID         *int64         `json:"vehicle_id,omitempty"`
	CurrentOdometer   *float64       `json:"current_odometer,omitempty"`
	PreviewEfficiency *float64       `json:"preview_efficiency,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	IssuedAt          *time.Time     `json:"issued_at,omitempty"`
	ActualReturnDate  *time.Time     `json:"actual_return_date,omitempty"`
	Items             []lineResponse `json:"items"`
}

func toRecordResponse(rec IssueRecord) recordResponse {
	resp := recordResponse{
		ID:                rec.ID,
		IssueType:         rec.IssueType,
		Status:            rec.Status,
		ApprovalStatus:    rec.ApprovalStatus,
		IssuedTo:          rec.IssuedTo,
		IssuedBy:          rec.IssuedBy,
		Purpose:           rec.Purpose,
		FuelType:          rec.FuelType,
		VehicleID:         rec.VehicleID,
		CurrentOdometer:   rec.CurrentOdometer,
		PreviewEfficiency: rec.PreviewEfficiency,
		CreatedAt:         rec.CreatedAt,
		IssuedAt:          rec.IssuedAt,
		ActualReturnDate:  rec.ActualReturnDate,
		Items:             make([]lineResponse, 0, len(rec.Items)),
	}
	for _, line := range rec.Items {
		resp.Items = append(resp.Items, lineResponse{
			ID:               line.ID,
			ItemID:           line.ItemID,
			ItemName:         line.ItemName,
			Unit:             line.Unit,
			Quantity:         line.Quantity,
			ReturnedQuantity: line.ReturnedQuantity,
			Outstanding:      line.Outstanding(),
			FuelEfficiency:   line.FuelEfficiency,
		})
	}
	return resp
}

func actorID(r *http.Request) int64 {
	if actor, ok := shared.ActorFromContext(r.Context()); ok {
		return actor.ID
	}
	return 0
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	input := CreateInput{
		IssueType:       IssueType(req.IssueType),
		IssuedTo:        req.IssuedTo,
		ActorID:         actorID(r),
		Purpose:         req.Purpose,
		FuelType:        FuelType(req.FuelType),
		VehicleID:       req.VehicleID,
		CurrentOdometer: req.CurrentOdometer,
	}
	for _, line := range req.Items {
		qty, err := decimal.NewFromString(line.Qty)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "qty must be numeric")
			return
		}
		input.Lines = append(input.Lines, LineInput{ItemID: line.ItemID, Qty: qty})
	}
	rec, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toRecordResponse(rec))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{
		Status:    Status(q.Get("status")),
		IssueType: IssueType(q.Get("issue_type")),
	}
	if v := q.Get("employee_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Filter", "employee_id must be numeric")
			return
		}
		filter.EmployeeID = id
	}
	records, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	resp := make([]recordResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, toRecordResponse(rec))
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRecordResponse(rec))
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.Approve(r.Context(), chi.URLParam(r, "id"), actorID(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRecordResponse(rec))
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.Reject(r.Context(), chi.URLParam(r, "id"), actorID(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRecordResponse(rec))
}

func (h *Handler) handleIssueOut(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.IssueOut(r.Context(), chi.URLParam(r, "id"), actorID(r), r.Header.Get("Idempotency-Key"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRecordResponse(rec))
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.Cancel(r.Context(), chi.URLParam(r, "id"), actorID(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRecordResponse(rec))
}

func (h *Handler) handleIssuedItems(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "employeeID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "employee id must be numeric")
		return
	}
	records, err := h.service.IssuedItemsByEmployee(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	resp := make([]recordResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, toRecordResponse(rec))
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) handleFuelHistory(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "vehicleID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "vehicle id must be numeric")
		return
	}
	history, err := h.service.VehicleFuelHistory(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, history)
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		valErr   *ValidationError
		odoErr   *OdometerRegressionError
		appErr   *InvalidApprovalStateError
		shortErr *StockShortfallError
		invShort *inventory.InsufficientStockError
		invVal   *inventory.ValidationError
	)
	switch {
	case errors.As(err, &shortErr):
		lines := make([]map[string]any, 0, len(shortErr.Lines))
		for _, line := range shortErr.Lines {
			lines = append(lines, map[string]any{
				"item_id":   line.ItemID,
				"item_name": line.ItemName,
				"unit":      line.Unit,
				"requested": line.Requested.String(),
				"available": line.Available.String(),
				"shortage":  line.Shortage.String(),
			})
		}
		httpx.ProblemWith(w, http.StatusConflict, "Insufficient Stock", shortErr.Error(), map[string]any{"lines": lines})
	case errors.As(err, &invShort):
		httpx.ProblemWith(w, http.StatusConflict, "Insufficient Stock", invShort.Error(), map[string]any{
			"item":      invShort.Item,
			"requested": invShort.Requested.String(),
			"available": invShort.Available.String(),
		})
	case errors.As(err, &odoErr):
		httpx.ProblemWith(w, http.StatusBadRequest, "Odometer Regression", odoErr.Error(), map[string]any{
			"reading":       odoErr.Reading,
			"last_recorded": odoErr.Last,
		})
	case errors.As(err, &appErr):
		httpx.Problem(w, http.StatusConflict, "Invalid Approval State", appErr.Error())
	case errors.As(err, &valErr), errors.As(err, &invVal):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrApprovalRequired):
		httpx.Problem(w, http.StatusConflict, "Approval Required", err.Error())
	case errors.Is(err, ErrInvalidState):
		httpx.Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, ErrEmployeeRequired), errors.Is(err, ErrNoLines), errors.Is(err, inventory.ErrInvalidQuantity):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrRecordNotFound), errors.Is(err, inventory.ErrItemNotFound), errors.Is(err, inventory.ErrVehicleNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrForbidden):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "actor lacks the approval capability")
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate Request", err.Error())
	case errors.Is(err, db.ErrTxConflict):
		httpx.Problem(w, http.StatusServiceUnavailable, "Transient Conflict", err.Error())
	default:
		h.logger.Error("issuance request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
