package payroll

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/folha-rh/folha-rh/internal/employees"
	"github.com/folha-rh/folha-rh/internal/shared"
	"github.com/folha-rh/folha-rh/internal/tax"
	"github.com/folha-rh/folha-rh/internal/timesheet"
)

type fakeRunRepo struct {
	mu       sync.Mutex
	rubricas []Rubrica
	runs     map[uuid.UUID]*Run
	payrolls map[int64]Payroll
	failFor  map[int64]error
	closed   bool
}

func newFakeRunRepo(rubricas []Rubrica) *fakeRunRepo {
	return &fakeRunRepo{
		rubricas: rubricas,
		runs:     make(map[uuid.UUID]*Run),
		payrolls: make(map[int64]Payroll),
		failFor:  make(map[int64]error),
	}
}

func (f *fakeRunRepo) ListRubricas(context.Context, int64) ([]Rubrica, error) {
	return f.rubricas, nil
}

func (f *fakeRunRepo) GetRubrica(context.Context, int64, string) (*Rubrica, error) {
	return nil, ErrNotFound
}

func (f *fakeRunRepo) CreateRubrica(context.Context, Rubrica) (int64, error) { return 0, nil }
func (f *fakeRunRepo) UpdateRubrica(context.Context, Rubrica) error          { return nil }
func (f *fakeRunRepo) DeactivateRubrica(context.Context, int64, string) error {
	return nil
}

func (f *fakeRunRepo) CreateRun(_ context.Context, run Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run.CreatedAt = time.Now().UTC()
	f.runs[run.ID] = &run
	return nil
}

func (f *fakeRunRepo) GetRun(_ context.Context, tenantID int64, id uuid.UUID) (*Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[id]
	if !ok || run.TenantID != tenantID {
		return nil, ErrNotFound
	}
	cp := *run
	return &cp, nil
}

func (f *fakeRunRepo) ActiveRunForPeriod(_ context.Context, tenantID int64, period shared.Period) (*Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, run := range f.runs {
		if run.TenantID == tenantID && run.Period == period && !run.Status.Terminal() {
			cp := *run
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (f *fakeRunRepo) MarkRunning(_ context.Context, id uuid.UUID, total int, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[id]
	if !ok || run.Status != RunQueued {
		return shared.ErrConflict
	}
	run.Status = RunRunning
	run.Total = total
	run.StartedAt = &at
	return nil
}

func (f *fakeRunRepo) AdvanceRun(_ context.Context, id uuid.UUID, processed int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if run, ok := f.runs[id]; ok {
		run.Processed = processed
	}
	return nil
}

func (f *fakeRunRepo) FinishRun(_ context.Context, id uuid.UUID, status RunStatus, runErr string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[id]
	if !ok || run.Status.Terminal() {
		return shared.ErrConflict
	}
	run.Status = status
	run.Error = runErr
	run.FinishedAt = &at
	return nil
}

func (f *fakeRunRepo) SavePayroll(_ context.Context, _ pgx.Tx, p Payroll, _ []EvalLine) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[p.EmployeeID]; err != nil {
		return err
	}
	f.payrolls[p.EmployeeID] = p
	return nil
}

func (f *fakeRunRepo) DeletePayrollsForRun(_ context.Context, _ int64, _ uuid.UUID, employeeID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.payrolls, employeeID)
	return nil
}

func (f *fakeRunRepo) GetPayslip(context.Context, int64, int64, shared.Period) (*Payroll, []PayrollEvent, error) {
	return nil, nil, ErrNotFound
}

func (f *fakeRunRepo) ClosePayrolls(context.Context, int64, uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type fakeStaff struct {
	list []employees.Employee
}

func (f fakeStaff) ListActive(context.Context, int64) ([]employees.Employee, error) {
	return f.list, nil
}

type fakeTimes struct {
	mu      sync.Mutex
	records map[int64][]timesheet.TimeRecord
	locked  bool
}

func (f *fakeTimes) RecordsForPeriod(_ context.Context, _ int64, employeeID int64, _, _ int) ([]timesheet.TimeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[employeeID], nil
}

func (f *fakeTimes) LockPeriod(context.Context, int64, int, int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locked = true
	return nil
}

type fakeEnqueuer struct {
	calls int
	err   error
}

func (f *fakeEnqueuer) EnqueuePayrollRun(context.Context, int64, uuid.UUID) error {
	f.calls++
	return f.err
}

type failingTaxes struct {
	stubTaxes
}

func (failingTaxes) TableFor(_ context.Context, _ int64, tableType tax.TableType, _ shared.Period) ([]tax.Bracket, error) {
	return nil, fmt.Errorf("%s: %w", tableType, tax.ErrNoActiveTable)
}

func testStaff(n int) []employees.Employee {
	out := make([]employees.Employee, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, employees.Employee{
			ID:           int64(i),
			Registration: fmt.Sprintf("EMP%03d", i),
			BaseSalary:   dec("3000"),
			DailyHours:   dec("8"),
			Active:       true,
		})
	}
	return out
}

func newTestOrchestrator(t *testing.T, repo Repository, staff EmployeeSource, times TimeSource, taxes TaxSource, workers int) (*Orchestrator, *fakeEnqueuer) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	enq := &fakeEnqueuer{}
	o := NewOrchestrator(OrchestratorParams{
		Repo:      repo,
		Redis:     rdb,
		Evaluator: NewEvaluator(taxes),
		Taxes:     taxes,
		Staff:     staff,
		Times:     times,
		Enqueuer:  enq,
		Workers:   workers,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	o.runTx = func(ctx context.Context, fn func(pgx.Tx) error) error {
		return fn(nil)
	}
	return o, enq
}

func mustPeriod(t *testing.T, year, month int) shared.Period {
	t.Helper()
	p, err := shared.NewPeriod(year, month)
	require.NoError(t, err)
	return p
}

func TestRunCompletes(t *testing.T) {
	repo := newFakeRunRepo(testCatalog())
	times := &fakeTimes{records: map[int64][]timesheet.TimeRecord{}}
	o, enq := newTestOrchestrator(t, repo, fakeStaff{testStaff(3)}, times, newTestEvaluator().taxes, 2)

	period := mustPeriod(t, 2025, 6)
	run, err := o.Start(context.Background(), 1, period, "monthly")
	require.NoError(t, err)
	require.Equal(t, RunQueued, run.Status)
	require.Equal(t, 1, enq.calls)

	require.NoError(t, o.Execute(context.Background(), 1, run.ID))

	final, err := o.Run(context.Background(), 1, run.ID)
	require.NoError(t, err)
	require.Equal(t, RunCompleted, final.Status)
	require.Equal(t, 3, final.Processed)
	require.Len(t, repo.payrolls, 3)
	require.True(t, repo.closed, "payrolls must close on completion")
	require.True(t, times.locked, "time records must lock on completion")

	progress, err := o.Progress(context.Background(), 1, run.ID)
	require.NoError(t, err)
	require.Equal(t, 100, progress.Percent)
	require.Equal(t, RunCompleted, progress.Status)
	require.NotEmpty(t, progress.LogLines)
}

func TestRunDuplicatePeriodRejected(t *testing.T) {
	repo := newFakeRunRepo(testCatalog())
	times := &fakeTimes{records: map[int64][]timesheet.TimeRecord{}}
	o, _ := newTestOrchestrator(t, repo, fakeStaff{testStaff(1)}, times, newTestEvaluator().taxes, 1)

	period := mustPeriod(t, 2025, 6)
	_, err := o.Start(context.Background(), 1, period, "monthly")
	require.NoError(t, err)

	_, err = o.Start(context.Background(), 1, period, "monthly")
	require.ErrorIs(t, err, ErrRunExists)
}

func TestRunConfigErrorHaltsBeforeEmployees(t *testing.T) {
	repo := newFakeRunRepo(testCatalog())
	times := &fakeTimes{records: map[int64][]timesheet.TimeRecord{}}
	o, _ := newTestOrchestrator(t, repo, fakeStaff{testStaff(3)}, times, failingTaxes{}, 2)

	period := mustPeriod(t, 2025, 6)
	run, err := o.Start(context.Background(), 1, period, "monthly")
	require.NoError(t, err)

	require.NoError(t, o.Execute(context.Background(), 1, run.ID))

	final, err := o.Run(context.Background(), 1, run.ID)
	require.NoError(t, err)
	require.Equal(t, RunFailed, final.Status)
	require.Contains(t, final.Error, "INSS")
	require.Contains(t, final.Error, period.String())
	require.Empty(t, repo.payrolls, "no employee may be processed on a config error")
}

func TestRunFailingEmployeeKeepsPriorResults(t *testing.T) {
	repo := newFakeRunRepo(testCatalog())
	repo.failFor[3] = errors.New("boom")
	times := &fakeTimes{records: map[int64][]timesheet.TimeRecord{}}
	o, _ := newTestOrchestrator(t, repo, fakeStaff{testStaff(3)}, times, newTestEvaluator().taxes, 1)

	period := mustPeriod(t, 2025, 6)
	run, err := o.Start(context.Background(), 1, period, "monthly")
	require.NoError(t, err)

	require.NoError(t, o.Execute(context.Background(), 1, run.ID))

	final, err := o.Run(context.Background(), 1, run.ID)
	require.NoError(t, err)
	require.Equal(t, RunFailed, final.Status)
	require.Contains(t, final.Error, "EMP003", "the failing employee must be named")

	// earlier employees stay committed, the failer leaves nothing behind
	require.Contains(t, repo.payrolls, int64(1))
	require.Contains(t, repo.payrolls, int64(2))
	require.NotContains(t, repo.payrolls, int64(3))
}

func TestRunStop(t *testing.T) {
	repo := newFakeRunRepo(testCatalog())
	times := &fakeTimes{records: map[int64][]timesheet.TimeRecord{}}
	o, _ := newTestOrchestrator(t, repo, fakeStaff{testStaff(5)}, times, newTestEvaluator().taxes, 1)

	period := mustPeriod(t, 2025, 6)
	run, err := o.Start(context.Background(), 1, period, "monthly")
	require.NoError(t, err)

	require.NoError(t, o.Stop(context.Background(), 1, run.ID))
	require.NoError(t, o.Execute(context.Background(), 1, run.ID))

	final, err := o.Run(context.Background(), 1, run.ID)
	require.NoError(t, err)
	require.Equal(t, RunStopped, final.Status)
	require.Empty(t, repo.payrolls, "no employee starts after a stop request")

	// terminal runs cannot be stopped again
	require.ErrorIs(t, o.Stop(context.Background(), 1, run.ID), ErrRunNotStoppable)
}

func TestRunExecuteTerminalIsNoop(t *testing.T) {
	repo := newFakeRunRepo(testCatalog())
	times := &fakeTimes{records: map[int64][]timesheet.TimeRecord{}}
	o, _ := newTestOrchestrator(t, repo, fakeStaff{testStaff(2)}, times, newTestEvaluator().taxes, 1)

	period := mustPeriod(t, 2025, 6)
	run, err := o.Start(context.Background(), 1, period, "monthly")
	require.NoError(t, err)
	require.NoError(t, o.Execute(context.Background(), 1, run.ID))

	before := len(repo.payrolls)
	require.NoError(t, o.Execute(context.Background(), 1, run.ID))
	require.Len(t, repo.payrolls, before, "a redelivered terminal run must not recompute")
}

func TestRunOvertimeFeedsEvaluator(t *testing.T) {
	repo := newFakeRunRepo(testCatalog())
	day := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	times := &fakeTimes{records: map[int64][]timesheet.TimeRecord{
		1: {{EmployeeID: 1, Date: day, Worked: dec("11"), Overtime100: dec("1")}},
	}}
	o, _ := newTestOrchestrator(t, repo, fakeStaff{testStaff(1)}, times, newTestEvaluator().taxes, 1)

	period := mustPeriod(t, 2025, 6)
	run, err := o.Start(context.Background(), 1, period, "monthly")
	require.NoError(t, err)
	require.NoError(t, o.Execute(context.Background(), 1, run.ID))

	p, ok := repo.payrolls[int64(1)]
	require.True(t, ok)
	// hourly 3000/(8*30) = 12.50; one hour at 100% pays 25.00
	require.True(t, p.Gross.Equal(dec("3025")), "gross %s", p.Gross)
}

func TestHourlyRate(t *testing.T) {
	require.True(t, hourlyRate(dec("3000"), dec("8")).Equal(dec("12.5")))
	require.True(t, hourlyRate(dec("3000"), decimal.Zero).IsZero())
}
