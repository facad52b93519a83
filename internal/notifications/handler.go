package notifications

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sims-erp/sims-erp/internal/platform/httpx"
)

// RepositoryPort is the storage surface Handler reads from.
type RepositoryPort interface {
	List(ctx context.Context, filter ListFilter) ([]Notification, error)
	MarkRead(ctx context.Context, id int64) error
	UnreadCount(ctx context.Context, role string) (int, error)
}

// Handler wires HTTP endpoints for stored notifications.
type Handler struct {
	logger *slog.Logger
	repo   RepositoryPort
}

// NewHandler constructs notifications handler.
func NewHandler(logger *slog.Logger, repo RepositoryPort) *Handler {
	return &Handler{logger: logger, repo: repo}
}

// MountRoutes registers notification routes on the given router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Get("/unread-count", h.handleUnreadCount)
	r.Post("/{id}/read", h.handleMarkRead)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{
		RecipientRole: r.URL.Query().Get("role"),
		UnreadOnly:    r.URL.Query().Get("unread") == "true",
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			filter.Limit = n
		}
	}
	notifications, err := h.repo.List(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, notifications)
}

func (h *Handler) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	role := r.URL.Query().Get("role")
	if role == "" {
		httpx.Problem(w, http.StatusBadRequest, "Missing Parameter", "role query parameter required")
		return
	}
	count, err := h.repo.UnreadCount(r.Context(), role)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"role": role, "unread": count})
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "id must be numeric")
		return
	}
	if err := h.repo.MarkRead(r.Context(), id); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ErrNotificationNotFound) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
		return
	}
	h.logger.Error("notifications request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	httpx.RespondError(w, err)
}
