package approval

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Kind identifies what a request asks to approve.
type Kind string

const (
	KindVacation            Kind = "vacation"
	KindCompensation        Kind = "compensation"
	KindCertificate         Kind = "certificate"
	KindReimbursement       Kind = "reimbursement"
	KindEquipment           Kind = "equipment"
	KindCorrection          Kind = "correction"
	KindOvertime            Kind = "overtime"
	KindSignature           Kind = "signature"
	KindPurchaseRequisition Kind = "purchase_requisition"
)

// Status of one request row. Terminal statuses never change.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

// Action a caller may take on a pending request.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionCancel  Action = "cancel"
)

// Request is one approval row. Multi-level kinds get one row per level;
// the underlying domain object is only effective once the final level row
// is approved.
type Request struct {
	ID            uuid.UUID  `json:"id"`
	TenantID      int64      `json:"tenant_id"`
	Kind          Kind       `json:"kind"`
	RefID         uuid.UUID  `json:"ref_id"`
	Level         int        `json:"level"`
	Status        Status     `json:"status"`
	RequesterID   int64      `json:"requester_id"`
	ApproverID    *int64     `json:"approver_id,omitempty"`
	Observations  string     `json:"observations,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	DecidedAt     *time.Time `json:"decided_at,omitempty"`
	TransferredAt *time.Time `json:"transferred_at,omitempty"`
	TransferredTo *int64     `json:"transferred_to,omitempty"`
}

// AgingBand classifies a pending request by age. Derived at read time,
// never stored.
type AgingBand string

const (
	BandNormal  AgingBand = "normal"
	BandWarning AgingBand = "warning"
	BandOverdue AgingBand = "overdue"
)

// Age returns the aging band for a request as of now.
func (r Request) Age(now time.Time) AgingBand {
	days := int(now.Sub(r.CreatedAt).Hours() / 24)
	switch {
	case days >= 7:
		return BandOverdue
	case days >= 3:
		return BandWarning
	default:
		return BandNormal
	}
}

// Effect is a domain side effect fired by a terminal decision. Effects must
// be idempotent: a re-fire after a crash must not duplicate anything.
type Effect func(ctx context.Context, req Request) error

// Capability describes how one request kind behaves.
type Capability struct {
	RequiredLevels int
	OnApprove      Effect
	OnReject       Effect
}

// Registry maps request kinds to their capabilities. Populated once at
// wiring time; not safe for concurrent mutation afterwards.
type Registry struct {
	kinds map[Kind]Capability
}

func NewRegistry() *Registry {
	return &Registry{kinds: make(map[Kind]Capability)}
}

// Register binds a capability to a kind. Levels below one are clamped.
func (r *Registry) Register(kind Kind, cap Capability) {
	if cap.RequiredLevels < 1 {
		cap.RequiredLevels = 1
	}
	r.kinds[kind] = cap
}

// Lookup returns the capability for a kind.
func (r *Registry) Lookup(kind Kind) (Capability, bool) {
	cap, ok := r.kinds[kind]
	return cap, ok
}

var (
	// ErrNotFound indicates request missing.
	ErrNotFound = errors.New("approval: not found")
	// ErrAlreadyFinalized indicates the request left pending before this call.
	ErrAlreadyFinalized = errors.New("approval: request already finalized")
	// ErrReasonRequired indicates a rejection without observations.
	ErrReasonRequired = errors.New("approval: rejection reason required")
	// ErrNotRequester indicates a cancel by someone other than the requester.
	ErrNotRequester = errors.New("approval: only the requester or an administrator may cancel")
	// ErrUnknownKind indicates no capability is registered for the kind.
	ErrUnknownKind = errors.New("approval: unknown request kind")
)
