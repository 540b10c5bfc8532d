package payroll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/folha-rh/folha-rh/internal/employees"
	"github.com/folha-rh/folha-rh/internal/observability"
	"github.com/folha-rh/folha-rh/internal/platform/db"
	"github.com/folha-rh/folha-rh/internal/shared"
	"github.com/folha-rh/folha-rh/internal/tax"
	"github.com/folha-rh/folha-rh/internal/timesheet"
)

// EmployeeSource lists the population a run iterates.
type EmployeeSource interface {
	ListActive(ctx context.Context, tenantID int64) ([]employees.Employee, error)
}

// TimeSource feeds computed time buckets into the run and locks the period
// once the run completes.
type TimeSource interface {
	RecordsForPeriod(ctx context.Context, tenantID, employeeID int64, year, month int) ([]timesheet.TimeRecord, error)
	LockPeriod(ctx context.Context, tenantID int64, year, month int) error
}

// RunEnqueuer hands the run off to the background worker.
type RunEnqueuer interface {
	EnqueuePayrollRun(ctx context.Context, tenantID int64, runID uuid.UUID) error
}

// Orchestrator drives payroll runs: queued -> running -> one of completed,
// failed or stopped. Execution happens on the worker; the HTTP side only
// enqueues and polls.
type Orchestrator struct {
	repo      Repository
	pool      *pgxpool.Pool
	rdb       *redis.Client
	evaluator *Evaluator
	taxes     TaxSource
	staff     EmployeeSource
	times     TimeSource
	enqueuer  RunEnqueuer
	metrics   *observability.Metrics
	workers   int
	logger    *slog.Logger
	now       func() time.Time
	runTx     func(ctx context.Context, fn func(pgx.Tx) error) error
}

type OrchestratorParams struct {
	Repo      Repository
	Pool      *pgxpool.Pool
	Redis     *redis.Client
	Evaluator *Evaluator
	Taxes     TaxSource
	Staff     EmployeeSource
	Times     TimeSource
	Enqueuer  RunEnqueuer
	Metrics   *observability.Metrics
	Workers   int
	Logger    *slog.Logger
}

func NewOrchestrator(p OrchestratorParams) *Orchestrator {
	workers := p.Workers
	if workers < 1 {
		workers = 1
	}
	o := &Orchestrator{
		repo:      p.Repo,
		pool:      p.Pool,
		rdb:       p.Redis,
		evaluator: p.Evaluator,
		taxes:     p.Taxes,
		staff:     p.Staff,
		times:     p.Times,
		enqueuer:  p.Enqueuer,
		metrics:   p.Metrics,
		workers:   workers,
		logger:    p.Logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	o.runTx = func(ctx context.Context, fn func(pgx.Tx) error) error {
		return db.WithTx(ctx, o.pool, fn)
	}
	return o
}

// Start records a queued run and enqueues it. One active run per tenant and
// period; fire-and-poll from the caller's perspective.
func (o *Orchestrator) Start(ctx context.Context, tenantID int64, period shared.Period, runType string) (*Run, error) {
	if runType == "" {
		runType = "monthly"
	}
	if _, err := o.repo.ActiveRunForPeriod(ctx, tenantID, period); err == nil {
		return nil, ErrRunExists
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	run := Run{
		ID:       uuid.New(),
		TenantID: tenantID,
		Period:   period,
		RunType:  runType,
		Status:   RunQueued,
	}
	if err := o.repo.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	newProgressTracker(o.rdb, run.ID.String()).init(ctx, RunQueued, 0)

	if err := o.enqueuer.EnqueuePayrollRun(ctx, tenantID, run.ID); err != nil {
		_ = o.repo.FinishRun(ctx, run.ID, RunFailed, fmt.Sprintf("enqueue: %v", err), o.now())
		return nil, fmt.Errorf("enqueue run: %w", err)
	}

	o.logger.Info("payroll run queued",
		slog.String("run_id", run.ID.String()),
		slog.Int64("tenant_id", tenantID),
		slog.String("period", period.String()))
	return &run, nil
}

// Execute performs the run. Safe to call again after a crash: terminal runs
// return immediately and per-employee work is all-or-nothing.
func (o *Orchestrator) Execute(ctx context.Context, tenantID int64, runID uuid.UUID) error {
	run, err := o.repo.GetRun(ctx, tenantID, runID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		o.logger.Info("payroll run already terminal",
			slog.String("run_id", runID.String()),
			slog.String("status", string(run.Status)))
		return nil
	}

	started := o.now()
	tracker := newProgressTracker(o.rdb, runID.String())
	tracker.log(ctx, "run %s starting for period %s", runID, run.Period)

	// Bracket tables and the severance config are validated before the
	// first employee. A broken table fails the whole run up front.
	if err := o.preflight(ctx, tenantID, run.Period); err != nil {
		return o.fail(ctx, run, tracker, started, err)
	}

	staff, err := o.staff.ListActive(ctx, tenantID)
	if err != nil {
		return o.fail(ctx, run, tracker, started, fmt.Errorf("list employees: %w", err))
	}
	if err := o.repo.MarkRunning(ctx, runID, len(staff), started); err != nil {
		return err
	}
	tracker.init(ctx, RunRunning, len(staff))
	tracker.log(ctx, "processing %d employees with %d workers", len(staff), o.workers)

	var (
		mu        sync.Mutex
		processed int
		stopped   bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)

	for _, emp := range staff {
		if tracker.stopRequested(ctx) {
			stopped = true
			break
		}
		g.Go(func() error {
			if err := o.processEmployee(gctx, run, emp, tracker); err != nil {
				return fmt.Errorf("employee %s (%d): %w", emp.Registration, emp.ID, err)
			}
			mu.Lock()
			processed++
			done := processed
			mu.Unlock()
			tracker.advance(gctx, done, len(staff))
			_ = o.repo.AdvanceRun(gctx, runID, done)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return o.fail(ctx, run, tracker, started, err)
	}

	if stopped {
		tracker.log(ctx, "stop requested, %d of %d employees processed", processed, len(staff))
		tracker.finish(ctx, RunStopped)
		o.observe(RunStopped, started)
		return o.repo.FinishRun(ctx, runID, RunStopped, "stopped by operator", o.now())
	}

	if err := o.repo.ClosePayrolls(ctx, tenantID, runID); err != nil {
		return o.fail(ctx, run, tracker, started, fmt.Errorf("close payrolls: %w", err))
	}
	if err := o.times.LockPeriod(ctx, tenantID, run.Period.Year, run.Period.Month); err != nil {
		return o.fail(ctx, run, tracker, started, fmt.Errorf("lock period: %w", err))
	}

	tracker.log(ctx, "run completed, %d employees", processed)
	tracker.finish(ctx, RunCompleted)
	o.observe(RunCompleted, started)
	return o.repo.FinishRun(ctx, runID, RunCompleted, "", o.now())
}

func (o *Orchestrator) preflight(ctx context.Context, tenantID int64, period shared.Period) error {
	if _, err := o.taxes.TableFor(ctx, tenantID, tax.TableINSS, period); err != nil {
		return fmt.Errorf("inss table for %s: %w", period, err)
	}
	if _, err := o.taxes.TableFor(ctx, tenantID, tax.TableIRRF, period); err != nil {
		return fmt.Errorf("irrf table for %s: %w", period, err)
	}
	if _, err := o.taxes.FgtsFor(ctx, tenantID, period); err != nil {
		return fmt.Errorf("fgts config for %s: %w", period, err)
	}
	return nil
}

func (o *Orchestrator) processEmployee(ctx context.Context, run *Run, emp employees.Employee, tracker *progressTracker) error {
	rubricas, err := o.repo.ListRubricas(ctx, run.TenantID)
	if err != nil {
		return fmt.Errorf("list rubricas: %w", err)
	}

	input, err := o.buildInput(ctx, run, emp, rubricas)
	if err != nil {
		return err
	}

	result, err := o.evaluator.Evaluate(ctx, *input)
	if err != nil {
		return err
	}
	for _, w := range result.Warnings {
		tracker.log(ctx, "employee %s: %s", emp.Registration, w)
	}

	p := Payroll{
		ID:         uuid.New(),
		TenantID:   run.TenantID,
		RunID:      run.ID,
		EmployeeID: emp.ID,
		Period:     run.Period,
		Gross:      result.Gross,
		Deductions: result.Deductions,
		Net:        result.Net,
		Status:     PayrollStatusCalculated,
		Warnings:   result.Warnings,
	}
	err = o.runTx(ctx, func(tx pgx.Tx) error {
		return o.repo.SavePayroll(ctx, tx, p, result.Lines)
	})
	if err != nil {
		// No partial employee state survives a failure.
		_ = o.repo.DeletePayrollsForRun(ctx, run.TenantID, run.ID, emp.ID)
		return err
	}
	return nil
}

// buildInput turns the month's time records into evaluator inputs. Paid
// overtime is the 100% share; the 50% share already went to the time bank
// when each record was split.
func (o *Orchestrator) buildInput(ctx context.Context, run *Run, emp employees.Employee, rubricas []Rubrica) (*EvalInput, error) {
	records, err := o.times.RecordsForPeriod(ctx, run.TenantID, emp.ID, run.Period.Year, run.Period.Month)
	if err != nil {
		return nil, fmt.Errorf("time records: %w", err)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Date.Before(records[j].Date) })

	var (
		paidOvertime decimal.Decimal
		absence      decimal.Decimal
		warnings     []string
	)
	for _, rec := range records {
		paidOvertime = paidOvertime.Add(rec.Overtime100)
		absence = absence.Add(rec.Absence)
		if rec.Incomplete {
			warnings = append(warnings,
				fmt.Sprintf("incomplete punches on %s", rec.Date.Format("2006-01-02")))
		}
	}

	hourly := hourlyRate(emp.BaseSalary, emp.DailyHours)
	return &EvalInput{
		TenantID:   run.TenantID,
		EmployeeID: emp.ID,
		Period:     run.Period,
		Salary:     emp.BaseSalary,
		Rubricas:   rubricas,
		VariableAmounts: map[string]decimal.Decimal{
			CodeOvertimePaid: paidOvertime.Mul(hourly).Mul(decimal.NewFromInt(2)).Round(2),
			CodeAbsence:      absence.Mul(hourly).Round(2),
		},
		Warnings: warnings,
	}, nil
}

// hourlyRate derives the hour value from the monthly salary and the daily
// schedule over a 30-day commercial month.
func hourlyRate(salary, dailyHours decimal.Decimal) decimal.Decimal {
	divisor := dailyHours.Mul(decimal.NewFromInt(30))
	if !divisor.IsPositive() {
		return decimal.Zero
	}
	return salary.DivRound(divisor, 6)
}

func (o *Orchestrator) fail(ctx context.Context, run *Run, tracker *progressTracker, started time.Time, cause error) error {
	tracker.log(ctx, "run failed: %v", cause)
	tracker.finish(ctx, RunFailed)
	o.observe(RunFailed, started)
	o.logger.Error("payroll run failed",
		slog.String("run_id", run.ID.String()),
		slog.Any("error", cause))
	if err := o.repo.FinishRun(ctx, run.ID, RunFailed, cause.Error(), o.now()); err != nil {
		return errors.Join(cause, err)
	}
	// The failure is recorded on the run; retrying the task would repeat it.
	return nil
}

func (o *Orchestrator) observe(status RunStatus, started time.Time) {
	if o.metrics != nil {
		o.metrics.ObserveRun(string(status), o.now().Sub(started))
	}
}

// Stop flags a running run. The in-flight employees finish; no new ones
// start.
func (o *Orchestrator) Stop(ctx context.Context, tenantID int64, runID uuid.UUID) error {
	run, err := o.repo.GetRun(ctx, tenantID, runID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return fmt.Errorf("%w: status %s", ErrRunNotStoppable, run.Status)
	}
	if err := o.rdb.Set(ctx, shared.PayrollRunStopKey(runID.String()), "1", progressTTL).Err(); err != nil {
		return fmt.Errorf("set stop flag: %w", err)
	}
	newProgressTracker(o.rdb, runID.String()).log(ctx, "stop requested")
	return nil
}

// Progress returns the pollable run state.
func (o *Orchestrator) Progress(ctx context.Context, tenantID int64, runID uuid.UUID) (*Progress, error) {
	run, err := o.repo.GetRun(ctx, tenantID, runID)
	if err != nil {
		return nil, err
	}
	return readProgress(ctx, o.rdb, run, o.now())
}

// Run returns the persisted run row.
func (o *Orchestrator) Run(ctx context.Context, tenantID int64, runID uuid.UUID) (*Run, error) {
	return o.repo.GetRun(ctx, tenantID, runID)
}
