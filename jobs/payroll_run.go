package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/folha-rh/folha-rh/internal/jobs"
	"github.com/folha-rh/folha-rh/internal/payroll"
)

// PayrollRunJob executes queued payroll runs on the worker.
type PayrollRunJob struct {
	Orchestrator *payroll.Orchestrator
	Metrics      *jobmetrics.Metrics
	Logger       *slog.Logger
}

// NewPayrollRunJob initialises the payroll run handler.
func NewPayrollRunJob(orchestrator *payroll.Orchestrator, metrics *jobmetrics.Metrics, logger *slog.Logger) *PayrollRunJob {
	return &PayrollRunJob{Orchestrator: orchestrator, Metrics: metrics, Logger: logger}
}

// Handle executes one run. Terminal runs are skipped, so a redelivered task
// never recomputes a finished period.
func (j *PayrollRunJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Orchestrator == nil {
		return errors.New("payroll run: handler not configured")
	}
	var payload PayrollRunPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	logger := j.Logger.With(
		slog.Int64("tenant_id", payload.TenantID),
		slog.String("run_id", payload.RunID.String()),
	)
	logger.Info("starting payroll run")
	start := time.Now()
	tracker := j.Metrics.Track(TaskPayrollRun)

	if err := j.Orchestrator.Execute(ctx, payload.TenantID, payload.RunID); err != nil {
		if errors.Is(err, payroll.ErrNotFound) {
			_ = tracker.End(err)
			logger.Warn("payroll run missing, dropping task")
			return asynq.SkipRetry
		}
		logger.Error("payroll run failed", slog.Any("error", err))
		return tracker.End(err)
	}
	_ = tracker.End(nil)

	logger.Info("payroll run finished", slog.Duration("duration", time.Since(start)))
	return nil
}
