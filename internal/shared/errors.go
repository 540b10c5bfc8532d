package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a lost update on a guarded row. Callers may
	// retry; state-rule failures never wrap this sentinel.
	ErrConflict = errors.New("concurrent update conflict")
	// ErrTenantRequired occurs when a request carries no tenant identifier.
	ErrTenantRequired = errors.New("tenant id required")
)
