package shared

import "context"

type tenantContextKey struct{}

// ContextWithTenant stores the tenant id in context. The transport layer
// resolves it from the X-Tenant-ID header; engine calls still receive the
// tenant as an explicit parameter so nothing below the handlers depends on
// ambient state.
func ContextWithTenant(ctx context.Context, tenantID int64) context.Context {
	return context.WithValue(ctx, tenantContextKey{}, tenantID)
}

// TenantFromContext extracts the tenant id from context.
func TenantFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(tenantContextKey{}).(int64)
	return id, ok
}
