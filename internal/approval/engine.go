package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// AuditSink records approval history. Satisfied by shared.AuditRecorder.
type AuditSink interface {
	RecordApproval(ctx context.Context, tenantID int64, ref uuid.UUID, actorID int64, action, note string) error
}

// Engine drives the generic approval state machine for every request kind.
type Engine struct {
	repo     Repository
	registry *Registry
	audit    AuditSink
	logger   *slog.Logger
	now      func() time.Time
}

func NewEngine(repo Repository, registry *Registry, audit AuditSink, logger *slog.Logger) *Engine {
	return &Engine{
		repo:     repo,
		registry: registry,
		audit:    audit,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Submit opens the level-1 request for a domain object. The kind must be
// registered; the string form keeps domain packages decoupled from this one.
func (e *Engine) Submit(ctx context.Context, tenantID int64, kind string, ref uuid.UUID, requesterID int64) error {
	k := Kind(kind)
	if _, ok := e.registry.Lookup(k); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	req := Request{
		ID:          uuid.New(),
		TenantID:    tenantID,
		Kind:        k,
		RefID:       ref,
		Level:       1,
		Status:      StatusPending,
		RequesterID: requesterID,
	}
	if err := e.repo.Create(ctx, req); err != nil {
		return err
	}
	e.recordAudit(ctx, tenantID, req.ID, requesterID, "SUBMIT", fmt.Sprintf("%s level 1", kind))
	return nil
}

// ProcessInput carries one decision on a pending request.
type ProcessInput struct {
	TenantID     int64
	RequestID    uuid.UUID
	Action       Action
	ActorID      int64
	Observations string
	// Admin allows cancelling requests the actor did not open.
	Admin bool
}

// Process applies a decision. Terminal statuses are final: re-processing an
// already-decided request fails with ErrAlreadyFinalized and never re-fires
// the side effect.
func (e *Engine) Process(ctx context.Context, input ProcessInput) (*Request, error) {
	req, err := e.repo.Get(ctx, input.TenantID, input.RequestID)
	if err != nil {
		return nil, err
	}
	if req.Status != StatusPending {
		return nil, fmt.Errorf("%w: status %s", ErrAlreadyFinalized, req.Status)
	}
	cap, ok := e.registry.Lookup(req.Kind)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, req.Kind)
	}

	switch input.Action {
	case ActionApprove:
		return e.approve(ctx, req, cap, input)
	case ActionReject:
		return e.reject(ctx, req, cap, input)
	case ActionCancel:
		return e.cancel(ctx, req, input)
	default:
		return nil, fmt.Errorf("approval: unsupported action %q", input.Action)
	}
}

func (e *Engine) approve(ctx context.Context, req *Request, cap Capability, input ProcessInput) (*Request, error) {
	// The effect fires before the row finalizes: a failed effect leaves the
	// request pending so the caller can retry, and effects are idempotent,
	// so a raced duplicate invocation is harmless — the pending-guarded
	// finalize still admits exactly one winner.
	if req.Level >= cap.RequiredLevels && cap.OnApprove != nil {
		if err := cap.OnApprove(ctx, *req); err != nil {
			e.logger.Error("approval side effect failed",
				slog.String("kind", string(req.Kind)),
				slog.String("request_id", req.ID.String()),
				slog.Any("error", err))
			return nil, fmt.Errorf("apply %s effect: %w", req.Kind, err)
		}
	}

	if err := e.repo.Finalize(ctx, req.TenantID, req.ID, StatusApproved, input.ActorID, input.Observations, e.now()); err != nil {
		return nil, err
	}
	e.recordAudit(ctx, req.TenantID, req.ID, input.ActorID, "APPROVE",
		fmt.Sprintf("%s level %d/%d", req.Kind, req.Level, cap.RequiredLevels))

	if req.Level < cap.RequiredLevels {
		next := Request{
			ID:          uuid.New(),
			TenantID:    req.TenantID,
			Kind:        req.Kind,
			RefID:       req.RefID,
			Level:       req.Level + 1,
			Status:      StatusPending,
			RequesterID: req.RequesterID,
		}
		if err := e.repo.Create(ctx, next); err != nil {
			return nil, fmt.Errorf("open level %d: %w", next.Level, err)
		}
	}
	return e.repo.Get(ctx, req.TenantID, req.ID)
}

func (e *Engine) reject(ctx context.Context, req *Request, cap Capability, input ProcessInput) (*Request, error) {
	if input.Observations == "" {
		return nil, ErrReasonRequired
	}
	// Same ordering as approve: effect first, so a failed effect keeps the
	// request pending and retryable.
	if cap.OnReject != nil {
		if err := cap.OnReject(ctx, *req); err != nil {
			return nil, fmt.Errorf("apply %s reject effect: %w", req.Kind, err)
		}
	}
	if err := e.repo.Finalize(ctx, req.TenantID, req.ID, StatusRejected, input.ActorID, input.Observations, e.now()); err != nil {
		return nil, err
	}
	e.recordAudit(ctx, req.TenantID, req.ID, input.ActorID, "REJECT", input.Observations)
	return e.repo.Get(ctx, req.TenantID, req.ID)
}

func (e *Engine) cancel(ctx context.Context, req *Request, input ProcessInput) (*Request, error) {
	if input.ActorID != req.RequesterID && !input.Admin {
		return nil, ErrNotRequester
	}
	if err := e.repo.Finalize(ctx, req.TenantID, req.ID, StatusCancelled, input.ActorID, input.Observations, e.now()); err != nil {
		return nil, err
	}
	e.recordAudit(ctx, req.TenantID, req.ID, input.ActorID, "CANCEL", input.Observations)
	return e.repo.Get(ctx, req.TenantID, req.ID)
}

// Transfer reassigns a pending request to another approver. Status and level
// are untouched; the transfer stamp survives the eventual decision.
func (e *Engine) Transfer(ctx context.Context, tenantID int64, requestID uuid.UUID, newApproverID int64, reason string, transferredBy int64) (*Request, error) {
	req, err := e.repo.Get(ctx, tenantID, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != StatusPending {
		return nil, fmt.Errorf("%w: status %s", ErrAlreadyFinalized, req.Status)
	}
	if err := e.repo.Transfer(ctx, tenantID, requestID, newApproverID, e.now()); err != nil {
		return nil, err
	}
	e.recordAudit(ctx, tenantID, requestID, transferredBy, "TRANSFER",
		fmt.Sprintf("to %d: %s", newApproverID, reason))
	return e.repo.Get(ctx, tenantID, requestID)
}

// RequestWithAge pairs a request with its derived aging band.
type RequestWithAge struct {
	Request
	AgingBand AgingBand `json:"aging_band"`
}

// List returns requests with aging bands, oldest first.
func (e *Engine) List(ctx context.Context, tenantID int64, filter ListFilter) ([]RequestWithAge, error) {
	requests, err := e.repo.List(ctx, tenantID, filter)
	if err != nil {
		return nil, err
	}
	now := e.now()
	out := make([]RequestWithAge, 0, len(requests))
	for _, req := range requests {
		out = append(out, RequestWithAge{Request: req, AgingBand: req.Age(now)})
	}
	return out, nil
}

// Get returns one request.
func (e *Engine) Get(ctx context.Context, tenantID int64, id uuid.UUID) (*Request, error) {
	return e.repo.Get(ctx, tenantID, id)
}

func (e *Engine) recordAudit(ctx context.Context, tenantID int64, ref uuid.UUID, actorID int64, action, note string) {
	if e.audit == nil {
		return
	}
	if err := e.audit.RecordApproval(ctx, tenantID, ref, actorID, action, note); err != nil &&
		!errors.Is(err, context.Canceled) {
		e.logger.Warn("record approval audit", slog.Any("error", err))
	}
}
