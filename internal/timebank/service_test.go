package timebank

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/folha-rh/folha-rh/internal/shared"
)

type fakeRepo struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*Entry
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{entries: make(map[uuid.UUID]*Entry)}
}

func (f *fakeRepo) Create(_ context.Context, e Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e.CreatedAt = time.Now().UTC()
	f.entries[e.ID] = &e
	return nil
}

func (f *fakeRepo) Get(_ context.Context, tenantID int64, id uuid.UUID) (*Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	if !ok || e.TenantID != tenantID {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (f *fakeRepo) ListForEmployee(_ context.Context, tenantID, employeeID int64) ([]Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Entry
	for _, e := range f.entries {
		if e.TenantID == tenantID && e.EmployeeID == employeeID {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (f *fakeRepo) Balance(_ context.Context, tenantID, employeeID int64, asOf time.Time) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := decimal.Zero
	for _, e := range f.entries {
		if e.TenantID != tenantID || e.EmployeeID != employeeID || e.Status != StatusApproved {
			continue
		}
		if e.ExpiresAt != nil && !e.ExpiresAt.After(asOf) {
			continue
		}
		total = total.Add(e.Hours)
	}
	return total, nil
}

func (f *fakeRepo) Finalize(_ context.Context, tenantID int64, id uuid.UUID, status EntryStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	if !ok || e.TenantID != tenantID {
		return ErrNotFound
	}
	if e.Status != StatusPending {
		return ErrEntryFinalized
	}
	e.Status = status
	return nil
}

func (f *fakeRepo) DenyPendingCredits(_ context.Context, tenantID, employeeID int64, date time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, e := range f.entries {
		if e.TenantID == tenantID && e.EmployeeID == employeeID &&
			e.EntryDate.Equal(date) && e.Status == StatusPending && e.Hours.IsPositive() {
			e.Status = StatusDenied
			n++
		}
	}
	return n, nil
}

func (f *fakeRepo) ExpireDue(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, e := range f.entries {
		if e.Status == StatusApproved && e.Hours.IsPositive() &&
			e.ExpiresAt != nil && e.ExpiresAt.Before(now) {
			e.Status = StatusExpired
			n++
		}
	}
	return n, nil
}

type fakeSubmitter struct {
	mu    sync.Mutex
	kinds []string
}

func (f *fakeSubmitter) Submit(_ context.Context, _ int64, kind string, _ uuid.UUID, _ int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kinds = append(f.kinds, kind)
	return nil
}

func newTestService(t *testing.T) (*Service, *fakeRepo, *fakeSubmitter, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	repo := newFakeRepo()
	submitter := &fakeSubmitter{}
	svc := NewService(repo, rdb, submitter, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return svc, repo, submitter, rdb
}

func approvedCredit(t *testing.T, svc *Service, repo *fakeRepo, hours string, expiry time.Time) uuid.UUID {
	t.Helper()
	id, err := svc.CreditPending(context.Background(), 1, 10, dec(hours),
		time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), expiry)
	require.NoError(t, err)
	require.NoError(t, repo.Finalize(context.Background(), 1, id, StatusApproved))
	return id
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestCreditPending(t *testing.T) {
	svc, repo, submitter, _ := newTestService(t)

	date := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	expiry := date.AddDate(0, 6, 0)
	id, err := svc.CreditPending(context.Background(), 1, 10, dec("1.5"), date, expiry)
	require.NoError(t, err)

	e, err := repo.Get(context.Background(), 1, id)
	require.NoError(t, err)
	require.Equal(t, StatusPending, e.Status)
	require.Equal(t, EntryOvertime, e.Type)
	require.NotNil(t, e.ExpiresAt)
	require.Equal(t, []string{"overtime"}, submitter.kinds)

	// pending credits buy nothing yet
	balance, err := svc.Balance(context.Background(), 1, 10, date)
	require.NoError(t, err)
	require.True(t, balance.IsZero())
}

func TestCreditPendingRejectsNonPositive(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.CreditPending(context.Background(), 1, 10, dec("0"),
		time.Now(), time.Now())
	require.ErrorIs(t, err, ErrInvalidHours)
	_, err = svc.CreditPending(context.Background(), 1, 10, dec("-2"),
		time.Now(), time.Now())
	require.ErrorIs(t, err, ErrInvalidHours)
}

func TestRequestDebitStoresNegativeHours(t *testing.T) {
	svc, repo, submitter, _ := newTestService(t)

	e, err := svc.RequestDebit(context.Background(), DebitInput{
		TenantID:    1,
		EmployeeID:  10,
		RequesterID: 10,
		Hours:       dec("4"),
		Date:        time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.True(t, e.Hours.Equal(dec("-4")))
	require.Equal(t, EntryCompensatory, e.Type)
	require.Equal(t, []string{"compensation"}, submitter.kinds)

	stored, err := repo.Get(context.Background(), 1, e.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, stored.Status)
}

func TestApproveCreditIdempotent(t *testing.T) {
	svc, repo, _, _ := newTestService(t)

	date := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	id, err := svc.CreditPending(context.Background(), 1, 10, dec("3"), date, date.AddDate(0, 6, 0))
	require.NoError(t, err)

	require.NoError(t, svc.ApproveEntry(context.Background(), 1, id))
	// the effect may be redelivered; the second call must not fail
	require.NoError(t, svc.ApproveEntry(context.Background(), 1, id))

	e, err := repo.Get(context.Background(), 1, id)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, e.Status)

	balance, err := svc.Balance(context.Background(), 1, 10, date)
	require.NoError(t, err)
	require.True(t, balance.Equal(dec("3")))
}

func TestApproveDebitExactlyOneWinner(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	expiry := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	approvedCredit(t, svc, svc.repo.(*fakeRepo), "7", expiry)

	date := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	first, err := svc.RequestDebit(context.Background(), DebitInput{
		TenantID: 1, EmployeeID: 10, RequesterID: 10, Hours: dec("5"), Date: date,
	})
	require.NoError(t, err)
	second, err := svc.RequestDebit(context.Background(), DebitInput{
		TenantID: 1, EmployeeID: 10, RequesterID: 10, Hours: dec("5"), Date: date,
	})
	require.NoError(t, err)

	require.NoError(t, svc.ApproveEntry(context.Background(), 1, first.ID))
	// 7 - 5 = 2 left; the second 5h debit would overdraw and is denied
	err = svc.ApproveEntry(context.Background(), 1, second.ID)
	require.ErrorIs(t, err, ErrInsufficientBalance)

	balance, err := svc.Balance(context.Background(), 1, 10, date)
	require.NoError(t, err)
	require.True(t, balance.Equal(dec("2")), "balance %s", balance)

	e, err := svc.repo.Get(context.Background(), 1, second.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDenied, e.Status)
}

func TestApproveDebitLockBusy(t *testing.T) {
	svc, _, _, rdb := newTestService(t)
	expiry := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	approvedCredit(t, svc, svc.repo.(*fakeRepo), "10", expiry)

	date := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	debit, err := svc.RequestDebit(context.Background(), DebitInput{
		TenantID: 1, EmployeeID: 10, RequesterID: 10, Hours: dec("2"), Date: date,
	})
	require.NoError(t, err)

	// someone else holds the employee lease
	require.NoError(t, rdb.SetNX(context.Background(),
		shared.TimeBankLockKey(1, 10), "other", time.Minute).Err())

	err = svc.ApproveEntry(context.Background(), 1, debit.ID)
	require.ErrorIs(t, err, shared.ErrConflict)

	// the entry stays pending and can be retried once the lock clears
	e, err := svc.repo.Get(context.Background(), 1, debit.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, e.Status)
}

func TestVoidPendingCredits(t *testing.T) {
	svc, repo, _, _ := newTestService(t)

	date := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	id, err := svc.CreditPending(context.Background(), 1, 10, dec("2"), date, date.AddDate(0, 6, 0))
	require.NoError(t, err)

	// only pending credits are voidable; approved ones are untouched
	approvedCredit(t, svc, repo, "3", date.AddDate(0, 6, 0))

	n, err := svc.VoidPendingCredits(context.Background(), 1, 10, date)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	voided, err := repo.Get(context.Background(), 1, id)
	require.NoError(t, err)
	require.Equal(t, StatusDenied, voided.Status)

	balance, err := svc.Balance(context.Background(), 1, 10, date)
	require.NoError(t, err)
	require.True(t, balance.Equal(dec("3")))
}

func TestDenyEntryIdempotent(t *testing.T) {
	svc, repo, _, _ := newTestService(t)

	date := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	id, err := svc.CreditPending(context.Background(), 1, 10, dec("3"), date, date.AddDate(0, 6, 0))
	require.NoError(t, err)

	require.NoError(t, svc.DenyEntry(context.Background(), 1, id))
	require.NoError(t, svc.DenyEntry(context.Background(), 1, id))

	e, err := repo.Get(context.Background(), 1, id)
	require.NoError(t, err)
	require.Equal(t, StatusDenied, e.Status)
}

func TestExpiredCreditsExcludedFromBalance(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	expiry := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	approvedCredit(t, svc, svc.repo.(*fakeRepo), "5", expiry)

	before, err := svc.Balance(context.Background(), 1, 10, expiry.AddDate(0, 0, -1))
	require.NoError(t, err)
	require.True(t, before.Equal(dec("5")))

	after, err := svc.Balance(context.Background(), 1, 10, expiry.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.True(t, after.IsZero(), "expired credit must not count, got %s", after)
}

func TestSweepExpiresDueCredits(t *testing.T) {
	svc, repo, _, _ := newTestService(t)

	expiry := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	id := approvedCredit(t, svc, repo, "5", expiry)
	svc.now = func() time.Time { return expiry.AddDate(0, 0, 1) }

	n, err := svc.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	e, err := repo.Get(context.Background(), 1, id)
	require.NoError(t, err)
	require.Equal(t, StatusExpired, e.Status)

	// expiry is one-way: approving again must fail, not resurrect hours
	require.Error(t, svc.ApproveEntry(context.Background(), 1, id))

	// pushing the expiration date forward after the fact changes nothing
	future := expiry.AddDate(1, 0, 0)
	repo.entries[id].ExpiresAt = &future
	balance, err := svc.Balance(context.Background(), 1, 10, expiry)
	require.NoError(t, err)
	require.True(t, balance.IsZero())
}