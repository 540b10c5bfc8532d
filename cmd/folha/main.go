package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/folha-rh/folha-rh/internal/app"
	"github.com/folha-rh/folha-rh/internal/approval"
	"github.com/folha-rh/folha-rh/internal/employees"
	"github.com/folha-rh/folha-rh/internal/observability"
	"github.com/folha-rh/folha-rh/internal/payroll"
	"github.com/folha-rh/folha-rh/internal/platform/cache"
	"github.com/folha-rh/folha-rh/internal/platform/db"
	"github.com/folha-rh/folha-rh/internal/shared"
	"github.com/folha-rh/folha-rh/internal/tax"
	"github.com/folha-rh/folha-rh/internal/timebank"
	"github.com/folha-rh/folha-rh/internal/timesheet"
	"github.com/folha-rh/folha-rh/jobs"
	"github.com/folha-rh/folha-rh/report"
)

// scheduleAdapter exposes employee master data as a schedule source.
type scheduleAdapter struct {
	service *employees.Service
}

func (a scheduleAdapter) DailyHours(ctx context.Context, tenantID, employeeID int64) (decimal.Decimal, error) {
	emp, err := a.service.Get(ctx, tenantID, employeeID)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return emp.DailyHours, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	audit := shared.NewAuditRecorder(pool, logger)

	employeeRepo := employees.NewRepository(pool)
	employeeService := employees.NewService(employeeRepo)

	taxRepo := tax.NewRepository(pool)
	taxService := tax.NewService(taxRepo, logger)

	registry := approval.NewRegistry()
	approvalRepo := approval.NewRepository(pool)
	approvalEngine := approval.NewEngine(approvalRepo, registry, audit, logger)

	bankRepo := timebank.NewRepository(pool)
	bankService := timebank.NewService(bankRepo, redisClient, approvalEngine, cfg.TimeBankLockTTL, logger)

	timesheetRepo := timesheet.NewRepository(pool)
	timesheetService := timesheet.NewService(timesheetRepo, bankService,
		scheduleAdapter{service: employeeService}, approvalEngine, logger)

	payrollRepo := payroll.NewRepository(pool)
	payrollService := payroll.NewService(payrollRepo, logger)
	orchestrator := payroll.NewOrchestrator(payroll.OrchestratorParams{
		Repo:      payrollRepo,
		Pool:      pool,
		Redis:     redisClient,
		Evaluator: payroll.NewEvaluator(taxService),
		Taxes:     taxService,
		Staff:     employeeService,
		Times:     timesheetService,
		Enqueuer:  jobClient,
		Metrics:   metrics,
		Workers:   cfg.PayrollRunWorkers,
		Logger:    logger,
	})

	registerApprovalKinds(registry, timesheetService, bankService, audit)

	var reportHandler *report.Handler
	if cfg.GotenbergURL != "" {
		reportHandler = report.NewHandler(report.NewClient(cfg.GotenbergURL), payrollService, logger)
	}

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		EmployeesHandler: employees.NewHandler(logger, employeeService),
		TaxHandler:       tax.NewHandler(logger, taxService),
		PayrollHandler:   payroll.NewHandler(logger, payrollService, orchestrator),
		TimesheetHandler: timesheet.NewHandler(logger, timesheetService),
		TimeBankHandler:  timebank.NewHandler(logger, bankService),
		ApprovalHandler:  approval.NewHandler(logger, approvalEngine),
		JobHandler:       jobs.NewHandler(inspector, logger),
		ReportHandler:    reportHandler,
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("http server starting", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", slog.Any("error", err))
	}
}

// registerApprovalKinds binds each request kind to its side effects. Effects
// run only when the final level approves and are idempotent on redelivery.
func registerApprovalKinds(registry *approval.Registry, ts *timesheet.Service, bank *timebank.Service, audit *shared.AuditRecorder) {
	registry.Register(approval.KindCorrection, approval.Capability{
		RequiredLevels: 1,
		OnApprove: func(ctx context.Context, req approval.Request) error {
			return ts.ApplyCorrection(ctx, req.TenantID, req.RefID)
		},
		OnReject: func(ctx context.Context, req approval.Request) error {
			return ts.RejectCorrection(ctx, req.TenantID, req.RefID)
		},
	})
	registry.Register(approval.KindOvertime, approval.Capability{
		RequiredLevels: 1,
		OnApprove: func(ctx context.Context, req approval.Request) error {
			return bank.ApproveEntry(ctx, req.TenantID, req.RefID)
		},
		OnReject: func(ctx context.Context, req approval.Request) error {
			return bank.DenyEntry(ctx, req.TenantID, req.RefID)
		},
	})
	registry.Register(approval.KindCompensation, approval.Capability{
		RequiredLevels: 1,
		OnApprove: func(ctx context.Context, req approval.Request) error {
			return bank.ApproveEntry(ctx, req.TenantID, req.RefID)
		},
		OnReject: func(ctx context.Context, req approval.Request) error {
			return bank.DenyEntry(ctx, req.TenantID, req.RefID)
		},
	})

	// Vacations and purchases climb two levels, manager then HR.
	registry.Register(approval.KindVacation, approval.Capability{RequiredLevels: 2})
	registry.Register(approval.KindPurchaseRequisition, approval.Capability{
		RequiredLevels: 2,
		OnApprove: func(ctx context.Context, req approval.Request) error {
			// Final approval opens the quotation trail for procurement.
			return audit.Record(ctx, shared.AuditLog{
				TenantID: req.TenantID,
				Entity:   "purchase_quotations",
				RefID:    req.RefID,
				ActorID:  req.RequesterID,
				Action:   "DRAFT_CREATED",
				Note:     "auto-generated from approved requisition",
			})
		},
	})

	registry.Register(approval.KindCertificate, approval.Capability{RequiredLevels: 1})
	registry.Register(approval.KindReimbursement, approval.Capability{RequiredLevels: 1})
	registry.Register(approval.KindEquipment, approval.Capability{RequiredLevels: 1})
	registry.Register(approval.KindSignature, approval.Capability{RequiredLevels: 1})
}
