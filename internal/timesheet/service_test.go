package timesheet

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	records     map[uuid.UUID]*TimeRecord
	corrections map[uuid.UUID]*AttendanceCorrection
	policies    map[int64]WorkSchedulePolicy
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		records:     make(map[uuid.UUID]*TimeRecord),
		corrections: make(map[uuid.UUID]*AttendanceCorrection),
		policies:    make(map[int64]WorkSchedulePolicy),
	}
}

func (f *fakeRepo) GetRecord(_ context.Context, tenantID int64, id uuid.UUID) (*TimeRecord, error) {
	rec, ok := f.records[id]
	if !ok || rec.TenantID != tenantID {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeRepo) CreateRecord(_ context.Context, rec TimeRecord) error {
	f.records[rec.ID] = &rec
	return nil
}

func (f *fakeRepo) UpdateComputed(_ context.Context, rec TimeRecord) error {
	existing, ok := f.records[rec.ID]
	if !ok || existing.Locked {
		return ErrRecordLocked
	}
	f.records[rec.ID] = &rec
	return nil
}

func (f *fakeRepo) ReplacePairs(_ context.Context, tenantID int64, recordID uuid.UUID, pairs []PunchPair, split SplitResult, status RecordStatus) error {
	rec, ok := f.records[recordID]
	if !ok || rec.TenantID != tenantID {
		return ErrNotFound
	}
	if rec.Locked {
		return ErrRecordLocked
	}
	rec.Pairs = pairs
	rec.Worked = split.Worked
	rec.Overtime50 = split.Overtime50
	rec.Overtime100 = split.Overtime100
	rec.Absence = split.Absence
	rec.Incomplete = split.Incomplete
	rec.Status = status
	return nil
}

func (f *fakeRepo) ListForPeriod(_ context.Context, tenantID, employeeID int64, year, month int) ([]TimeRecord, error) {
	var out []TimeRecord
	for _, rec := range f.records {
		if rec.TenantID == tenantID && rec.EmployeeID == employeeID &&
			rec.Date.Year() == year && int(rec.Date.Month()) == month {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (f *fakeRepo) LockPeriod(_ context.Context, tenantID int64, year, month int) (int64, error) {
	var n int64
	for _, rec := range f.records {
		if rec.TenantID == tenantID && rec.Date.Year() == year &&
			int(rec.Date.Month()) == month && !rec.Locked {
			rec.Locked = true
			n++
		}
	}
	return n, nil
}

func (f *fakeRepo) GetPolicy(_ context.Context, tenantID int64) (WorkSchedulePolicy, error) {
	p, ok := f.policies[tenantID]
	if !ok {
		return WorkSchedulePolicy{}, ErrNotFound
	}
	return p, nil
}

func (f *fakeRepo) UpsertPolicy(_ context.Context, p WorkSchedulePolicy) error {
	f.policies[p.TenantID] = p
	return nil
}

func (f *fakeRepo) CreateCorrection(_ context.Context, c AttendanceCorrection) error {
	f.corrections[c.ID] = &c
	return nil
}

func (f *fakeRepo) GetCorrection(_ context.Context, tenantID int64, id uuid.UUID) (*AttendanceCorrection, error) {
	c, ok := f.corrections[id]
	if !ok || c.TenantID != tenantID {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeRepo) FinalizeCorrection(_ context.Context, tenantID int64, id uuid.UUID, status CorrectionStatus) error {
	c, ok := f.corrections[id]
	if !ok || c.TenantID != tenantID {
		return ErrNotFound
	}
	if c.Status != CorrectionPending {
		return ErrCorrectionFinalized
	}
	c.Status = status
	return nil
}

type bankCredit struct {
	employeeID int64
	hours      decimal.Decimal
	expiry     time.Time
	voided     bool
}

type fakeBank struct {
	credits []bankCredit
}

func (f *fakeBank) CreditPending(_ context.Context, _, employeeID int64, hours decimal.Decimal, _, expiry time.Time) (uuid.UUID, error) {
	f.credits = append(f.credits, bankCredit{employeeID: employeeID, hours: hours, expiry: expiry})
	return uuid.New(), nil
}

func (f *fakeBank) VoidPendingCredits(_ context.Context, _, employeeID int64, _ time.Time) (int64, error) {
	var n int64
	for i := range f.credits {
		if f.credits[i].employeeID == employeeID && !f.credits[i].voided {
			f.credits[i].voided = true
			n++
		}
	}
	return n, nil
}

func (f *fakeBank) live() []bankCredit {
	var out []bankCredit
	for _, c := range f.credits {
		if !c.voided {
			out = append(out, c)
		}
	}
	return out
}

type fakeSchedule struct{ daily decimal.Decimal }

func (f fakeSchedule) DailyHours(context.Context, int64, int64) (decimal.Decimal, error) {
	return f.daily, nil
}

type fakeSubmitter struct{ kinds []string }

func (f *fakeSubmitter) Submit(_ context.Context, _ int64, kind string, _ uuid.UUID, _ int64) error {
	f.kinds = append(f.kinds, kind)
	return nil
}

func newTestService(t *testing.T) (*Service, *fakeRepo, *fakeBank, *fakeSubmitter) {
	t.Helper()
	repo := newFakeRepo()
	bank := &fakeBank{}
	submitter := &fakeSubmitter{}
	svc := NewService(repo, bank, fakeSchedule{daily: dec("8")}, submitter,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	return svc, repo, bank, submitter
}

func registerDay(t *testing.T, svc *Service, pairs []PunchPair) *TimeRecord {
	t.Helper()
	rec, err := svc.RegisterRecord(context.Background(), RegisterRecordInput{
		TenantID:   1,
		EmployeeID: 10,
		Date:       time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
		Pairs:      pairs,
	})
	require.NoError(t, err)
	return rec
}

func TestPolicyDefaultsWhenUnset(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	p, err := svc.Policy(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, int64(1), p.TenantID)
	require.True(t, p.BankThresholdHours.Equal(dec("2")))
	require.Equal(t, 6, p.CreditExpiryMonths)
}

func TestSetPolicyRejectsNegativeThreshold(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	err := svc.SetPolicy(context.Background(), WorkSchedulePolicy{
		TenantID:           1,
		BankThresholdHours: dec("-1"),
	})
	require.Error(t, err)
}

func TestFinalizeSplitBanksOvertime(t *testing.T) {
	svc, repo, bank, _ := newTestService(t)

	// 8h schedule, 11h worked: 2h banked at the default threshold, 1h paid
	pairs := []PunchPair{
		{Kind: PunchRegular, In: at(8, 0), Out: atPtr(12, 0)},
		{Kind: PunchRegular, In: at(13, 0), Out: atPtr(20, 0)},
	}
	rec := registerDay(t, svc, pairs)

	result, err := svc.FinalizeSplit(context.Background(), 1, rec.ID)
	require.NoError(t, err)
	require.True(t, result.Overtime50.Equal(dec("2")))
	require.True(t, result.Overtime100.Equal(dec("1")))

	require.Len(t, bank.credits, 1)
	require.True(t, bank.credits[0].hours.Equal(dec("2")))
	require.Equal(t, rec.Date.AddDate(0, 6, 0), bank.credits[0].expiry)

	stored, err := repo.GetRecord(context.Background(), 1, rec.ID)
	require.NoError(t, err)
	require.Equal(t, RecordApproved, stored.Status)
	require.True(t, stored.Overtime100.Equal(dec("1")))
}

func TestFinalizeSplitRepeatBanksOnce(t *testing.T) {
	svc, _, bank, _ := newTestService(t)

	pairs := []PunchPair{
		{Kind: PunchRegular, In: at(8, 0), Out: atPtr(12, 0)},
		{Kind: PunchRegular, In: at(13, 0), Out: atPtr(20, 0)},
	}
	rec := registerDay(t, svc, pairs)

	_, err := svc.FinalizeSplit(context.Background(), 1, rec.ID)
	require.NoError(t, err)
	// a retried split recomputes buckets but must not bank the day again
	_, err = svc.FinalizeSplit(context.Background(), 1, rec.ID)
	require.NoError(t, err)

	require.Len(t, bank.credits, 1)
}

func TestFinalizeSplitNoCreditWithoutSurplus(t *testing.T) {
	svc, _, bank, _ := newTestService(t)

	rec := registerDay(t, svc, fullDay())
	result, err := svc.FinalizeSplit(context.Background(), 1, rec.ID)
	require.NoError(t, err)
	require.True(t, result.Overtime50.IsZero())
	require.Empty(t, bank.credits)
}

func TestFinalizeSplitLockedRecord(t *testing.T) {
	svc, repo, _, _ := newTestService(t)

	rec := registerDay(t, svc, fullDay())
	repo.records[rec.ID].Locked = true

	_, err := svc.FinalizeSplit(context.Background(), 1, rec.ID)
	require.ErrorIs(t, err, ErrRecordLocked)
}

func TestSubmitCorrectionRequiresJustification(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	rec := registerDay(t, svc, fullDay())
	_, err := svc.SubmitCorrection(context.Background(), SubmitCorrectionInput{
		TenantID:    1,
		RequesterID: 10,
		RecordID:    rec.ID,
	})
	require.Error(t, err)
}

func TestSubmitCorrectionOpensApproval(t *testing.T) {
	svc, repo, _, submitter := newTestService(t)

	rec := registerDay(t, svc, fullDay())
	c, err := svc.SubmitCorrection(context.Background(), SubmitCorrectionInput{
		TenantID:       1,
		RequesterID:    10,
		RecordID:       rec.ID,
		CorrectedPairs: []PunchPair{{Kind: PunchRegular, In: at(8, 0), Out: atPtr(18, 0)}},
		Justification:  "forgot afternoon punches",
	})
	require.NoError(t, err)
	require.Equal(t, CorrectionPending, c.Status)
	require.Equal(t, rec.Pairs, c.OriginalPairs)
	require.Equal(t, []string{"correction"}, submitter.kinds)

	// the record itself is untouched until the request is approved
	stored, err := repo.GetRecord(context.Background(), 1, rec.ID)
	require.NoError(t, err)
	require.Equal(t, RecordPending, stored.Status)
}

func TestApplyCorrectionReplacesAndResplits(t *testing.T) {
	svc, repo, _, _ := newTestService(t)

	rec := registerDay(t, svc, fullDay())
	corrected := []PunchPair{
		{Kind: PunchRegular, In: at(8, 0), Out: atPtr(12, 0)},
		{Kind: PunchRegular, In: at(13, 0), Out: atPtr(19, 0)},
	}
	c, err := svc.SubmitCorrection(context.Background(), SubmitCorrectionInput{
		TenantID:       1,
		RequesterID:    10,
		RecordID:       rec.ID,
		CorrectedPairs: corrected,
		Justification:  "missed the extra hours",
	})
	require.NoError(t, err)

	require.NoError(t, svc.ApplyCorrection(context.Background(), 1, c.ID))

	stored, err := repo.GetRecord(context.Background(), 1, rec.ID)
	require.NoError(t, err)
	require.Equal(t, RecordCorrected, stored.Status)
	require.Equal(t, corrected, stored.Pairs)
	require.True(t, stored.Worked.Equal(dec("10")))
	require.True(t, stored.Overtime50.Equal(dec("2")))

	// re-delivered effect is a no-op
	require.NoError(t, svc.ApplyCorrection(context.Background(), 1, c.ID))
}

func TestApplyCorrectionReconcilesBank(t *testing.T) {
	svc, _, bank, _ := newTestService(t)

	// 11h day: the first split banks 2h
	rec := registerDay(t, svc, []PunchPair{
		{Kind: PunchRegular, In: at(8, 0), Out: atPtr(12, 0)},
		{Kind: PunchRegular, In: at(13, 0), Out: atPtr(20, 0)},
	})
	_, err := svc.FinalizeSplit(context.Background(), 1, rec.ID)
	require.NoError(t, err)
	require.Len(t, bank.credits, 1)
	require.True(t, bank.credits[0].hours.Equal(dec("2")))

	// correction shrinks the day to 9h: surplus is really 1h
	c, err := svc.SubmitCorrection(context.Background(), SubmitCorrectionInput{
		TenantID:    1,
		RequesterID: 10,
		RecordID:    rec.ID,
		CorrectedPairs: []PunchPair{
			{Kind: PunchRegular, In: at(8, 0), Out: atPtr(12, 0)},
			{Kind: PunchRegular, In: at(13, 0), Out: atPtr(18, 0)},
		},
		Justification: "evening punches were someone else's",
	})
	require.NoError(t, err)
	require.NoError(t, svc.ApplyCorrection(context.Background(), 1, c.ID))

	// the stale 2h credit is voided and the recomputed 1h share banked
	live := bank.live()
	require.Len(t, live, 1)
	require.True(t, live[0].hours.Equal(dec("1")), "live credit %s", live[0].hours)
}

func TestApplyCorrectionRemovingSurplusVoidsCredit(t *testing.T) {
	svc, _, bank, _ := newTestService(t)

	rec := registerDay(t, svc, []PunchPair{
		{Kind: PunchRegular, In: at(8, 0), Out: atPtr(12, 0)},
		{Kind: PunchRegular, In: at(13, 0), Out: atPtr(19, 0)},
	})
	_, err := svc.FinalizeSplit(context.Background(), 1, rec.ID)
	require.NoError(t, err)
	require.Len(t, bank.credits, 1)

	c, err := svc.SubmitCorrection(context.Background(), SubmitCorrectionInput{
		TenantID:       1,
		RequesterID:    10,
		RecordID:       rec.ID,
		CorrectedPairs: fullDay(),
		Justification:  "worked exactly the schedule",
	})
	require.NoError(t, err)
	require.NoError(t, svc.ApplyCorrection(context.Background(), 1, c.ID))

	require.Empty(t, bank.live())
}

func TestRejectCorrectionIdempotent(t *testing.T) {
	svc, repo, _, _ := newTestService(t)

	rec := registerDay(t, svc, fullDay())
	c, err := svc.SubmitCorrection(context.Background(), SubmitCorrectionInput{
		TenantID:       1,
		RequesterID:    10,
		RecordID:       rec.ID,
		CorrectedPairs: fullDay(),
		Justification:  "duplicate entry",
	})
	require.NoError(t, err)

	require.NoError(t, svc.RejectCorrection(context.Background(), 1, c.ID))
	require.NoError(t, svc.RejectCorrection(context.Background(), 1, c.ID))

	stored, err := repo.GetRecord(context.Background(), 1, rec.ID)
	require.NoError(t, err)
	require.Equal(t, RecordPending, stored.Status)
	require.Equal(t, CorrectionRejected, repo.corrections[c.ID].Status)
}

func TestLockPeriodFreezesRecords(t *testing.T) {
	svc, repo, _, _ := newTestService(t)

	rec := registerDay(t, svc, fullDay())
	require.NoError(t, svc.LockPeriod(context.Background(), 1, 2025, 6))
	require.True(t, repo.records[rec.ID].Locked)

	_, err := svc.SubmitCorrection(context.Background(), SubmitCorrectionInput{
		TenantID:       1,
		RequesterID:    10,
		RecordID:       rec.ID,
		CorrectedPairs: fullDay(),
		Justification:  "late fix attempt",
	})
	require.ErrorIs(t, err, ErrRecordLocked)
}