package approval

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	rows map[uuid.UUID]*Request
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{rows: make(map[uuid.UUID]*Request)}
}

func (f *fakeRepo) Create(_ context.Context, req Request) error {
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	f.rows[req.ID] = &req
	return nil
}

func (f *fakeRepo) Get(_ context.Context, tenantID int64, id uuid.UUID) (*Request, error) {
	req, ok := f.rows[id]
	if !ok || req.TenantID != tenantID {
		return nil, ErrNotFound
	}
	cp := *req
	return &cp, nil
}

func (f *fakeRepo) Finalize(_ context.Context, tenantID int64, id uuid.UUID, status Status, approverID int64, observations string, decidedAt time.Time) error {
	req, ok := f.rows[id]
	if !ok || req.TenantID != tenantID {
		return ErrNotFound
	}
	if req.Status != StatusPending {
		return ErrAlreadyFinalized
	}
	req.Status = status
	req.ApproverID = &approverID
	req.Observations = observations
	req.DecidedAt = &decidedAt
	return nil
}

func (f *fakeRepo) Transfer(_ context.Context, tenantID int64, id uuid.UUID, newApproverID int64, at time.Time) error {
	req, ok := f.rows[id]
	if !ok || req.TenantID != tenantID {
		return ErrNotFound
	}
	if req.Status != StatusPending {
		return ErrAlreadyFinalized
	}
	req.ApproverID = &newApproverID
	req.TransferredTo = &newApproverID
	req.TransferredAt = &at
	return nil
}

func (f *fakeRepo) List(_ context.Context, tenantID int64, filter ListFilter) ([]Request, error) {
	var out []Request
	for _, req := range f.rows {
		if req.TenantID != tenantID {
			continue
		}
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		if filter.Kind != "" && req.Kind != filter.Kind {
			continue
		}
		out = append(out, *req)
	}
	return out, nil
}

func (f *fakeRepo) pendingForRef(ref uuid.UUID) *Request {
	for _, req := range f.rows {
		if req.RefID == ref && req.Status == StatusPending {
			cp := *req
			return &cp
		}
	}
	return nil
}

type fakeAudit struct {
	actions []string
}

func (f *fakeAudit) RecordApproval(_ context.Context, _ int64, _ uuid.UUID, _ int64, action, _ string) error {
	f.actions = append(f.actions, action)
	return nil
}

func newTestEngine(t *testing.T, registry *Registry) (*Engine, *fakeRepo, *fakeAudit) {
	t.Helper()
	repo := newFakeRepo()
	audit := &fakeAudit{}
	engine := NewEngine(repo, registry, audit, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return engine, repo, audit
}

func submit(t *testing.T, engine *Engine, repo *fakeRepo, kind Kind, ref uuid.UUID) *Request {
	t.Helper()
	require.NoError(t, engine.Submit(context.Background(), 1, string(kind), ref, 100))
	req := repo.pendingForRef(ref)
	require.NotNil(t, req)
	return req
}

func TestSubmitUnknownKind(t *testing.T) {
	engine, _, _ := newTestEngine(t, NewRegistry())

	err := engine.Submit(context.Background(), 1, "promotion", uuid.New(), 100)
	require.ErrorIs(t, err, ErrUnknownKind)
}

func TestProcessApproveSingleLevel(t *testing.T) {
	registry := NewRegistry()
	var applied []uuid.UUID
	registry.Register(KindOvertime, Capability{
		RequiredLevels: 1,
		OnApprove: func(_ context.Context, req Request) error {
			applied = append(applied, req.RefID)
			return nil
		},
	})
	engine, repo, audit := newTestEngine(t, registry)

	ref := uuid.New()
	req := submit(t, engine, repo, KindOvertime, ref)

	result, err := engine.Process(context.Background(), ProcessInput{
		TenantID:  1,
		RequestID: req.ID,
		Action:    ActionApprove,
		ActorID:   200,
	})
	require.NoError(t, err)
	require.Equal(t, StatusApproved, result.Status)
	require.NotNil(t, result.DecidedAt)
	require.Equal(t, []uuid.UUID{ref}, applied)
	require.Equal(t, []string{"SUBMIT", "APPROVE"}, audit.actions)
}

func TestProcessFinalizedIsTerminal(t *testing.T) {
	registry := NewRegistry()
	fires := 0
	registry.Register(KindOvertime, Capability{
		RequiredLevels: 1,
		OnApprove: func(context.Context, Request) error {
			fires++
			return nil
		},
	})
	engine, repo, _ := newTestEngine(t, registry)

	req := submit(t, engine, repo, KindOvertime, uuid.New())
	input := ProcessInput{TenantID: 1, RequestID: req.ID, Action: ActionApprove, ActorID: 200}

	_, err := engine.Process(context.Background(), input)
	require.NoError(t, err)

	// Approving, rejecting or cancelling again must fail without a second
	// effect fire.
	for _, action := range []Action{ActionApprove, ActionReject, ActionCancel} {
		input.Action = action
		input.Observations = "too late"
		_, err = engine.Process(context.Background(), input)
		require.ErrorIs(t, err, ErrAlreadyFinalized, "action %s", action)
	}
	require.Equal(t, 1, fires)
}

func TestProcessMultiLevel(t *testing.T) {
	registry := NewRegistry()
	fires := 0
	registry.Register(KindVacation, Capability{
		RequiredLevels: 2,
		OnApprove: func(context.Context, Request) error {
			fires++
			return nil
		},
	})
	engine, repo, _ := newTestEngine(t, registry)

	ref := uuid.New()
	first := submit(t, engine, repo, KindVacation, ref)

	_, err := engine.Process(context.Background(), ProcessInput{
		TenantID: 1, RequestID: first.ID, Action: ActionApprove, ActorID: 200,
	})
	require.NoError(t, err)
	require.Equal(t, 0, fires, "effect must wait for the final level")

	second := repo.pendingForRef(ref)
	require.NotNil(t, second, "level 2 row must open after level 1 approval")
	require.Equal(t, 2, second.Level)
	require.Equal(t, first.RequesterID, second.RequesterID)

	_, err = engine.Process(context.Background(), ProcessInput{
		TenantID: 1, RequestID: second.ID, Action: ActionApprove, ActorID: 300,
	})
	require.NoError(t, err)
	require.Equal(t, 1, fires)
	require.Nil(t, repo.pendingForRef(ref))
}

func TestProcessRejectRequiresReason(t *testing.T) {
	registry := NewRegistry()
	rejected := 0
	registry.Register(KindCompensation, Capability{
		RequiredLevels: 1,
		OnReject: func(context.Context, Request) error {
			rejected++
			return nil
		},
	})
	engine, repo, _ := newTestEngine(t, registry)

	req := submit(t, engine, repo, KindCompensation, uuid.New())

	_, err := engine.Process(context.Background(), ProcessInput{
		TenantID: 1, RequestID: req.ID, Action: ActionReject, ActorID: 200,
	})
	require.ErrorIs(t, err, ErrReasonRequired)
	require.Equal(t, 0, rejected)

	result, err := engine.Process(context.Background(), ProcessInput{
		TenantID: 1, RequestID: req.ID, Action: ActionReject, ActorID: 200,
		Observations: "balance would overdraw",
	})
	require.NoError(t, err)
	require.Equal(t, StatusRejected, result.Status)
	require.Equal(t, 1, rejected)
}

func TestProcessRejectMidLevelStops(t *testing.T) {
	registry := NewRegistry()
	registry.Register(KindVacation, Capability{RequiredLevels: 2})
	engine, repo, _ := newTestEngine(t, registry)

	ref := uuid.New()
	req := submit(t, engine, repo, KindVacation, ref)

	result, err := engine.Process(context.Background(), ProcessInput{
		TenantID: 1, RequestID: req.ID, Action: ActionReject, ActorID: 200,
		Observations: "conflicts with the close",
	})
	require.NoError(t, err)
	require.Equal(t, StatusRejected, result.Status)
	require.Nil(t, repo.pendingForRef(ref), "a rejection must not open the next level")
}

func TestProcessCancelOnlyRequester(t *testing.T) {
	registry := NewRegistry()
	registry.Register(KindCertificate, Capability{RequiredLevels: 1})
	engine, repo, _ := newTestEngine(t, registry)

	req := submit(t, engine, repo, KindCertificate, uuid.New())

	_, err := engine.Process(context.Background(), ProcessInput{
		TenantID: 1, RequestID: req.ID, Action: ActionCancel, ActorID: 999,
	})
	require.ErrorIs(t, err, ErrNotRequester)

	result, err := engine.Process(context.Background(), ProcessInput{
		TenantID: 1, RequestID: req.ID, Action: ActionCancel, ActorID: req.RequesterID,
	})
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, result.Status)
}

func TestProcessCancelByAdmin(t *testing.T) {
	registry := NewRegistry()
	registry.Register(KindCertificate, Capability{RequiredLevels: 1})
	engine, repo, _ := newTestEngine(t, registry)

	req := submit(t, engine, repo, KindCertificate, uuid.New())

	result, err := engine.Process(context.Background(), ProcessInput{
		TenantID: 1, RequestID: req.ID, Action: ActionCancel, ActorID: 999, Admin: true,
	})
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, result.Status)
}

func TestTransferKeepsStatusAndLevel(t *testing.T) {
	registry := NewRegistry()
	registry.Register(KindReimbursement, Capability{RequiredLevels: 1})
	engine, repo, audit := newTestEngine(t, registry)

	req := submit(t, engine, repo, KindReimbursement, uuid.New())

	transferred, err := engine.Transfer(context.Background(), 1, req.ID, 555, "approver on vacation", 200)
	require.NoError(t, err)
	require.Equal(t, StatusPending, transferred.Status)
	require.Equal(t, req.Level, transferred.Level)
	require.NotNil(t, transferred.TransferredAt)
	require.NotNil(t, transferred.TransferredTo)
	require.Equal(t, int64(555), *transferred.TransferredTo)
	require.Contains(t, audit.actions, "TRANSFER")

	// The decision after a transfer keeps the transfer stamp.
	result, err := engine.Process(context.Background(), ProcessInput{
		TenantID: 1, RequestID: req.ID, Action: ActionApprove, ActorID: 555,
	})
	require.NoError(t, err)
	require.Equal(t, StatusApproved, result.Status)
	require.NotNil(t, result.TransferredAt)
}

func TestTransferFinalizedFails(t *testing.T) {
	registry := NewRegistry()
	registry.Register(KindReimbursement, Capability{RequiredLevels: 1})
	engine, repo, _ := newTestEngine(t, registry)

	req := submit(t, engine, repo, KindReimbursement, uuid.New())
	_, err := engine.Process(context.Background(), ProcessInput{
		TenantID: 1, RequestID: req.ID, Action: ActionApprove, ActorID: 200,
	})
	require.NoError(t, err)

	_, err = engine.Transfer(context.Background(), 1, req.ID, 555, "late", 200)
	require.ErrorIs(t, err, ErrAlreadyFinalized)
}

func TestListAgingBands(t *testing.T) {
	registry := NewRegistry()
	registry.Register(KindEquipment, Capability{RequiredLevels: 1})
	engine, repo, _ := newTestEngine(t, registry)

	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return now }

	ages := map[int]AgingBand{0: BandNormal, 2: BandNormal, 3: BandWarning, 6: BandWarning, 7: BandOverdue, 30: BandOverdue}
	for days := range ages {
		require.NoError(t, repo.Create(context.Background(), Request{
			ID:          uuid.New(),
			TenantID:    1,
			Kind:        KindEquipment,
			RefID:       uuid.New(),
			Level:       1,
			Status:      StatusPending,
			RequesterID: 100,
			CreatedAt:   now.AddDate(0, 0, -days),
			Observations: fmt.Sprintf("age %d", days),
		}))
	}

	listed, err := engine.List(context.Background(), 1, ListFilter{Status: StatusPending})
	require.NoError(t, err)
	require.Len(t, listed, len(ages))
	for _, item := range listed {
		var days int
		_, err := fmt.Sscanf(item.Observations, "age %d", &days)
		require.NoError(t, err)
		require.Equal(t, ages[days], item.AgingBand, "age %d days", days)
	}
}

func TestProcessApproveEffectFailureKeepsPending(t *testing.T) {
	registry := NewRegistry()
	fires := 0
	registry.Register(KindOvertime, Capability{
		RequiredLevels: 1,
		OnApprove: func(context.Context, Request) error {
			fires++
			if fires == 1 {
				return fmt.Errorf("ledger busy")
			}
			return nil
		},
	})
	engine, repo, _ := newTestEngine(t, registry)

	ref := uuid.New()
	req := submit(t, engine, repo, KindOvertime, ref)

	_, err := engine.Process(context.Background(), ProcessInput{
		TenantID: 1, RequestID: req.ID, Action: ActionApprove, ActorID: 200,
	})
	require.Error(t, err)

	// the request survives the failed effect and stays processable
	stored, err := repo.Get(context.Background(), 1, req.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, stored.Status)

	decided, err := engine.Process(context.Background(), ProcessInput{
		TenantID: 1, RequestID: req.ID, Action: ActionApprove, ActorID: 200,
	})
	require.NoError(t, err)
	require.Equal(t, StatusApproved, decided.Status)
	require.Equal(t, 2, fires)
}

func TestProcessRejectEffectFailureKeepsPending(t *testing.T) {
	registry := NewRegistry()
	registry.Register(KindCompensation, Capability{
		RequiredLevels: 1,
		OnReject: func(context.Context, Request) error {
			return fmt.Errorf("ledger busy")
		},
	})
	engine, repo, _ := newTestEngine(t, registry)

	ref := uuid.New()
	req := submit(t, engine, repo, KindCompensation, ref)

	_, err := engine.Process(context.Background(), ProcessInput{
		TenantID: 1, RequestID: req.ID, Action: ActionReject, ActorID: 200,
		Observations: "not covered",
	})
	require.Error(t, err)

	stored, err := repo.Get(context.Background(), 1, req.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, stored.Status)
}
