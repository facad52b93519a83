package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/sims-erp/sims-erp/internal/employees"
	"github.com/sims-erp/sims-erp/internal/inventory"
	"github.com/sims-erp/sims-erp/internal/issuance"
	"github.com/sims-erp/sims-erp/internal/notifications"
	"github.com/sims-erp/sims-erp/internal/purchasing"
	"github.com/sims-erp/sims-erp/internal/returns"
	"github.com/sims-erp/sims-erp/internal/users"
	"github.com/sims-erp/sims-erp/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger              *slog.Logger
	Config              *Config
	InventoryHandler    *inventory.Handler
	IssuanceHandler     *issuance.Handler
	ReturnsHandler      *returns.Handler
	PurchasingHandler   *purchasing.Handler
	EmployeeHandler     *employees.Handler
	UserHandler         *users.Handler
	NotificationHandler *notifications.Handler
	JobHandler          *jobs.Handler
}

// NewRouter constructs the chi.Router with SIMS defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{Config: params.Config}) {
		r.Use(mw)
	}
	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.InventoryHandler != nil {
		params.InventoryHandler.MountRoutes(r)
	}
	if params.IssuanceHandler != nil {
		r.Route("/issuances", params.IssuanceHandler.MountRoutes)
	}
	if params.ReturnsHandler != nil {
		r.Route("/returns", params.ReturnsHandler.MountRoutes)
	}
	if params.PurchasingHandler != nil {
		r.Route("/purchase-orders", params.PurchasingHandler.MountRoutes)
	}
	if params.EmployeeHandler != nil {
		r.Route("/employees", params.EmployeeHandler.MountRoutes)
	}
	if params.UserHandler != nil {
		r.Route("/users", params.UserHandler.MountRoutes)
	}
	if params.NotificationHandler != nil {
		r.Route("/notifications", params.NotificationHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	return r
}
