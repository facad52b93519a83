package returns

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/sims-erp/sims-erp/internal/platform/db"
	"github.com/sims-erp/sims-erp/internal/platform/httpx"
	"github.com/sims-erp/sims-erp/internal/shared"
)

// Handler wires HTTP endpoints for the returns module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs returns handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers returns routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleReturn)
	r.Get("/", h.handleListRecent)
	r.Get("/record/{recordID}", h.handleListByRecord)
}

type returnLineRequest struct {
	IssueItemID int64  `json:"issue_item_id" validate:"required"`
	Qty         string `json:"qty" validate:"required"`
	Condition   string `json:"condition" validate:"required,oneof=Excellent Good Fair Damaged Lost"`
}

type returnRequest struct {
	Items []returnLineRequest `json:"items" validate:"required,min=1,dive"`
}

type returnResponse struct {
	Items             []ReturnedItem `json:"items"`
	Closed            []string       `json:"closed_records"`
	PartiallyReturned []string       `json:"partially_returned_records"`
}

func (h *Handler) handleReturn(w http.ResponseWriter, r *http.Request) {
	var req returnRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	input := ReturnInput{}
	if actor, ok := shared.ActorFromContext(r.Context()); ok {
		input.ActorID = actor.ID
	}
	for _, line := range req.Items {
		qty, err := decimal.NewFromString(line.Qty)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "qty must be numeric")
			return
		}
		input.Lines = append(input.Lines, ReturnLine{
			IssueItemID: line.IssueItemID,
			Qty:         qty,
			Condition:   Condition(line.Condition),
		})
	}
	result, err := h.service.ReturnItems(r.Context(), input)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, returnResponse{
		Items:             result.Items,
		Closed:            result.Closed,
		PartiallyReturned: result.PartiallyReturned,
	})
}

func (h *Handler) handleListRecent(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := h.service.ListRecent(r.Context(), limit)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) handleListByRecord(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListByRecord(r.Context(), chi.URLParam(r, "recordID"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		exceeded *OutstandingQuantityExceededError
		valErr   *ValidationError
	)
	switch {
	case errors.As(err, &exceeded):
		httpx.ProblemWith(w, http.StatusConflict, "Outstanding Quantity Exceeded", exceeded.Error(), map[string]any{
			"issue_item_id": exceeded.IssueItemID,
			"requested":     exceeded.Requested.String(),
			"outstanding":   exceeded.Outstanding.String(),
		})
	case errors.As(err, &valErr):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", valErr.Error())
	case errors.Is(err, ErrNoLines):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrNotReturnable), errors.Is(err, ErrRecordNotReturnable):
		httpx.Problem(w, http.StatusConflict, "Not Returnable", err.Error())
	case errors.Is(err, ErrLineNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, db.ErrTxConflict):
		httpx.Problem(w, http.StatusServiceUnavailable, "Transient Conflict", err.Error())
	default:
		h.logger.Error("returns request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
