package app

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/folha-rh/folha-rh/internal/observability"
	"github.com/folha-rh/folha-rh/internal/platform/httpx"
	"github.com/folha-rh/folha-rh/internal/shared"
)

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Config  *Config
	Metrics *observability.Metrics
}

// MiddlewareStack builds the ordered middleware chain applied to every route.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	secureMW := secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
		IsDevelopment:      cfg.Config != nil && !cfg.Config.IsProduction(),
	})

	stack := []func(http.Handler) http.Handler{
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		secureMW.Handler,
	}

	if cfg.Config != nil {
		stack = append(stack,
			httprate.LimitByIP(cfg.Config.RateLimitRequests, cfg.Config.RateLimitWindow),
			middleware.Timeout(cfg.Config.AppRequestTimeout),
		)
	}

	if cfg.Metrics != nil {
		stack = append(stack, cfg.Metrics.Middleware)
	}

	stack = append(stack, TenantResolver)
	return stack
}

// TenantResolver reads X-Tenant-ID and stores it in the request context.
// Health and metrics endpoints are exempt; everything else is tenant-scoped.
func TenantResolver(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/healthz", "/metrics", "/jobs/health", "/reports/ping":
			next.ServeHTTP(w, r)
			return
		}
		raw := r.Header.Get("X-Tenant-ID")
		tenantID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || tenantID <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Tenant Required", shared.ErrTenantRequired.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithTenant(r.Context(), tenantID)))
	})
}
