package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/folha-rh/folha-rh/internal/jobs"
	"github.com/folha-rh/folha-rh/internal/timebank"
)

// TimeBankSweepJob expires overdue credits across all tenants. Registered on
// a nightly cron so expired hours stop counting the day after their deadline.
type TimeBankSweepJob struct {
	Service *timebank.Service
	Metrics *jobmetrics.Metrics
	Logger  *slog.Logger
}

// NewTimeBankSweepJob initialises the sweep handler.
func NewTimeBankSweepJob(service *timebank.Service, metrics *jobmetrics.Metrics, logger *slog.Logger) *TimeBankSweepJob {
	return &TimeBankSweepJob{Service: service, Metrics: metrics, Logger: logger}
}

// Handle runs one sweep.
func (j *TimeBankSweepJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("timebank sweep: handler not configured")
	}
	start := time.Now()
	tracker := j.Metrics.Track(TaskTimeBankSweep)
	expired, err := j.Service.Sweep(ctx)
	if err != nil {
		j.Logger.Error("timebank sweep failed", slog.Any("error", err))
		return tracker.End(err)
	}
	_ = tracker.End(nil)
	j.Metrics.AddExpiredCredits(expired)
	j.Logger.Info("timebank sweep finished",
		slog.Int64("expired", expired),
		slog.Duration("duration", time.Since(start)))
	return nil
}
