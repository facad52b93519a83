package purchasing

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

// Handler wires HTTP endpoints for the purchasing module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs purchasing handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers purchasing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Get("/{id}", h.handleGet)
	r.Get("/{id}/status", h.handleStatus)
	r.Post("/{id}/items/{itemID}/suppliers/{supplierID}/approve", h.handleApproveSupplier)
	r.Post("/{id}/accounts", h.handleMarkAccounts)
	r.Post("/{id}/approve", h.handleFinalApprove)
	r.Post("/{id}/reject", h.handleReject)
	r.Post("/{id}/pay", h.handleMarkPaid)
	r.Post("/{id}/deliver", h.handleMarkDelivered)
}

type supplierRequest struct {
	Name  string `json:"name" validate:"required"`
	Price string `json:"price" validate:"required"`
}

type orderItemRequest struct {
	ItemName  string            `json:"item_name" validate:"required"`
	Category  string            `json:"category" validate:"required,oneof=fuel tool material"`
	Unit      string            `json:"unit"`
	Qty       string            `json:"qty" validate:"required"`
	Suppliers []supplierRequest `json:"suppliers" validate:"required,min=1,dive"`
}

type createOrderRequest struct {
	OrderType string             `json:"order_type" validate:"required,oneof=reorder accumulate"`
	Items     []orderItemRequest `json:"items" validate:"required,min=1,dive"`
}

func actorID(r *http.Request) int64 {
	if actor, ok := shared.ActorFromContext(r.Context()); ok {
		return actor.ID
	}
	return 0
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	input := CreateInput{OrderType: OrderType(req.OrderType), ActorID: actorID(r)}
	for _, item := range req.Items {
		qty, err := decimal.NewFromString(item.Qty)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "qty must be numeric")
			return
		}
		line := ItemInput{
			ItemName: item.ItemName,
			Category: inventory.Category(item.Category),
			Unit:     item.Unit,
			Quantity: qty,
		}
		for _, offer := range item.Suppliers {
			price, err := decimal.NewFromString(offer.Price)
			if err != nil {
				httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "price must be numeric")
				return
			}
			line.Suppliers = append(line.Suppliers, SupplierInput{Name: offer.Name, Price: price})
		}
		input.Items = append(input.Items, line)
	}
	order, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, order)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	orders, err := h.service.List(r.Context(), ListFilter{
		ApprovalStatus: ApprovalStatus(q.Get("approval_status")),
		PaymentStatus:  PaymentStatus(q.Get("payment_status")),
		DeliveryStatus: DeliveryStatus(q.Get("delivery_status")),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, orders)
}

func orderID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "id must be numeric")
		return
	}
	order, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "id must be numeric")
		return
	}
	summary, err := h.service.Status(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) handleApproveSupplier(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "id must be numeric")
		return
	}
	itemID, err := strconv.ParseInt(chi.URLParam(r, "itemID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "item id must be numeric")
		return
	}
	supplierID, err := strconv.ParseInt(chi.URLParam(r, "supplierID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "supplier id must be numeric")
		return
	}
	order, err := h.service.ApproveSupplier(r.Context(), id, itemID, supplierID, actorID(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

type accountsRequest struct {
	Accounts []string `json:"accounts" validate:"required,min=1"`
}

func (h *Handler) handleMarkAccounts(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "id must be numeric")
		return
	}
	var req accountsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	order, err := h.service.MarkAccounts(r.Context(), id, req.Accounts, actorID(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

type finalApproveRequest struct {
	Account string `json:"account" validate:"required"`
}

func (h *Handler) handleFinalApprove(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "id must be numeric")
		return
	}
	var req finalApproveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	order, err := h.service.FinalApprove(r.Context(), id, req.Account, actorID(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "id must be numeric")
		return
	}
	order, err := h.service.Reject(r.Context(), id, actorID(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

type payRequest struct {
	Amount      string     `json:"amount" validate:"required"`
	PaymentDate *time.Time `json:"payment_date"`
}

func (h *Handler) handleMarkPaid(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "id must be numeric")
		return
	}
	var req payRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "amount must be numeric")
		return
	}
	order, err := h.service.MarkPaid(r.Context(), id, amount, req.PaymentDate, actorID(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

type deliverRequest struct {
	DeliveryDate *time.Time `json:"delivery_date"`
}

func (h *Handler) handleMarkDelivered(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "id must be numeric")
		return
	}
	var req deliverRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "malformed JSON body")
			return
		}
	}
	order, err := h.service.MarkDelivered(r.Context(), id, req.DeliveryDate, actorID(r), r.Header.Get("Idempotency-Key"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		pipeErr *PipelineOrderViolationError
		valErr  *ValidationError
		invVal  *inventory.ValidationError
	)
	switch {
	case errors.As(err, &pipeErr):
		httpx.ProblemWith(w, http.StatusConflict, "Pipeline Order Violation", pipeErr.Error(), map[string]any{
			"order_number": pipeErr.OrderNumber,
			"stage":        pipeErr.Stage,
			"requirement":  pipeErr.Requirement,
		})
	case errors.As(err, &valErr), errors.As(err, &invVal):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrOrderClosed):
		httpx.Problem(w, http.StatusConflict, "Order Closed", err.Error())
	case errors.Is(err, ErrOrderNotFound), errors.Is(err, ErrOfferNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrForbidden):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "actor lacks the required capability")
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate Request", err.Error())
	case errors.Is(err, db.ErrTxConflict):
		httpx.Problem(w, http.StatusServiceUnavailable, "Transient Conflict", err.Error())
	default:
		h.logger.Error("purchasing request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
