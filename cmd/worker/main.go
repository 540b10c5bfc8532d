package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/folha-rh/folha-rh/internal/app"
	"github.com/folha-rh/folha-rh/internal/approval"
	"github.com/folha-rh/folha-rh/internal/employees"
	jobmetrics "github.com/folha-rh/folha-rh/internal/jobs"
	"github.com/folha-rh/folha-rh/internal/observability"
	"github.com/folha-rh/folha-rh/internal/payroll"
	"github.com/folha-rh/folha-rh/internal/platform/cache"
	"github.com/folha-rh/folha-rh/internal/platform/db"
	"github.com/folha-rh/folha-rh/internal/shared"
	"github.com/folha-rh/folha-rh/internal/tax"
	"github.com/folha-rh/folha-rh/internal/timebank"
	"github.com/folha-rh/folha-rh/internal/timesheet"
	"github.com/folha-rh/folha-rh/jobs"
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

	audit := shared.NewAuditRecorder(pool, logger)

	employeeRepo := employees.NewRepository(pool)
	employeeService := employees.NewService(employeeRepo)

	taxRepo := tax.NewRepository(pool)
	taxService := tax.NewService(taxRepo, logger)

	registry := approval.NewRegistry()
	approvalRepo := approval.NewRepository(pool)
	approvalEngine := approval.NewEngine(approvalRepo, registry, audit, logger)
	registry.Register(approval.KindOvertime, approval.Capability{RequiredLevels: 1})
	registry.Register(approval.KindCompensation, approval.Capability{RequiredLevels: 1})

	bankRepo := timebank.NewRepository(pool)
	bankService := timebank.NewService(bankRepo, redisClient, approvalEngine, cfg.TimeBankLockTTL, logger)

	timesheetRepo := timesheet.NewRepository(pool)
	timesheetService := timesheet.NewService(timesheetRepo, bankService,
		scheduleAdapter{service: employeeService}, approvalEngine, logger)

	payrollRepo := payroll.NewRepository(pool)
	orchestrator := payroll.NewOrchestrator(payroll.OrchestratorParams{
		Repo:      payrollRepo,
		Pool:      pool,
		Redis:     redisClient,
		Evaluator: payroll.NewEvaluator(taxService),
		Taxes:     taxService,
		Staff:     employeeService,
		Times:     timesheetService,
		Enqueuer:  jobClient,
		Metrics:   observability.NewMetrics(),
		Workers:   cfg.PayrollRunWorkers,
		Logger:    logger,
	})

	taskMetrics := jobmetrics.NewMetrics(nil)
	runJob := jobs.NewPayrollRunJob(orchestrator, taskMetrics, logger)
	sweepJob := jobs.NewTimeBankSweepJob(bankService, taskMetrics, logger)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskPayrollRun, Handler: runJob.Handle},
			{Type: jobs.TaskTimeBankSweep, Handler: sweepJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "30 2 * * *", Task: jobs.NewTimeBankSweepTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
