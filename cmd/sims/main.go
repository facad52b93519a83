package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/sims-erp/sims-erp/internal/app"
	"github.com/sims-erp/sims-erp/internal/employees"
	"github.com/sims-erp/sims-erp/internal/inventory"
	"github.com/sims-erp/sims-erp/internal/issuance"
	"github.com/sims-erp/sims-erp/internal/notifications"
	"github.com/sims-erp/sims-erp/internal/platform/cache"
	"github.com/sims-erp/sims-erp/internal/platform/db"
	"github.com/sims-erp/sims-erp/internal/purchasing"
	"github.com/sims-erp/sims-erp/internal/returns"
	"github.com/sims-erp/sims-erp/internal/shared"
	"github.com/sims-erp/sims-erp/internal/users"
	"github.com/sims-erp/sims-erp/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, db.Config{DSN: cfg.PGDSN, MaxConns: cfg.PGMaxConns, MinConns: cfg.PGMinConns})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cache.Config{Addr: cfg.RedisAddr, DB: cfg.RedisDB, DialTimeout: cfg.RedisDialTimeout})
	if err != nil {
		logger.Warn("redis unavailable, stock cache disabled", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	queueClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init queue client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	approvalRecorder := shared.NewApprovalRecorder(pool, logger)
	idempotencyStore := shared.NewIdempotencyStore(pool)
	emitter := notifications.NewEmitter(logger, queueClient)

	userRepo := users.NewRepository(pool)
	userService := users.NewService(userRepo, auditLogger)
	userHandler := users.NewHandler(logger, userService)

	employeeRepo := employees.NewRepository(pool)
	employeeService := employees.NewService(employeeRepo, auditLogger)
	employeeHandler := employees.NewHandler(logger, employeeService)

	stockCache := inventory.NewStockCache(redisClient, cfg.StockCacheTTL)
	inventoryRepo := inventory.NewRepository(pool)
	inventoryService := inventory.NewService(inventoryRepo, auditLogger, stockCache, emitter, inventory.ServiceConfig{
		AllowNegativeStock: cfg.AllowNegativeStock,
	})
	inventoryHandler := inventory.NewHandler(logger, inventoryService)

	issuanceRepo := issuance.NewRepository(pool)
	issuanceService := issuance.NewService(issuance.ServiceDeps{
		Repo:      issuanceRepo,
		Approver:  userService,
		Employees: employeeService,
		Audit:     auditLogger,
		Approvals: approvalRecorder,
		Idem:      idempotencyStore,
		Cache:     stockCache,
		Events:    emitter,
	})
	issuanceHandler := issuance.NewHandler(logger, issuanceService)

	returnsRepo := returns.NewRepository(pool)
	returnsService := returns.NewService(returnsRepo, auditLogger, stockCache)
	returnsHandler := returns.NewHandler(logger, returnsService)

	purchasingRepo := purchasing.NewRepository(pool)
	purchasingService := purchasing.NewService(purchasing.ServiceDeps{
		Repo:      purchasingRepo,
		Caps:      userService,
		Audit:     auditLogger,
		Approvals: approvalRecorder,
		Idem:      idempotencyStore,
		Cache:     stockCache,
		Events:    emitter,
	})
	purchasingHandler := purchasing.NewHandler(logger, purchasingService)

	notificationRepo := notifications.NewRepository(pool)
	notificationHandler := notifications.NewHandler(logger, notificationRepo)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:              logger,
		Config:              cfg,
		InventoryHandler:    inventoryHandler,
		IssuanceHandler:     issuanceHandler,
		ReturnsHandler:      returnsHandler,
		PurchasingHandler:   purchasingHandler,
		EmployeeHandler:     employeeHandler,
		UserHandler:         userHandler,
		NotificationHandler: notificationHandler,
		JobHandler:          jobHandler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
