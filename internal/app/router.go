package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/folha-rh/folha-rh/internal/approval"
	"github.com/folha-rh/folha-rh/internal/employees"
	"github.com/folha-rh/folha-rh/internal/observability"
	"github.com/folha-rh/folha-rh/internal/payroll"
	"github.com/folha-rh/folha-rh/internal/tax"
	"github.com/folha-rh/folha-rh/internal/timebank"
	"github.com/folha-rh/folha-rh/internal/timesheet"
	"github.com/folha-rh/folha-rh/jobs"
	"github.com/folha-rh/folha-rh/report"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	EmployeesHandler *employees.Handler
	TaxHandler       *tax.Handler
	PayrollHandler   *payroll.Handler
	TimesheetHandler *timesheet.Handler
	TimeBankHandler  *timebank.Handler
	ApprovalHandler  *approval.Handler
	JobHandler       *jobs.Handler
	ReportHandler    *report.Handler
	Metrics          *observability.Metrics
}

// NewRouter constructs the chi.Router with service defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	r.Route("/employees", params.EmployeesHandler.MountRoutes)
	r.Route("/tax", params.TaxHandler.MountRoutes)
	r.Route("/payroll", params.PayrollHandler.MountRoutes)
	r.Route("/timesheet", params.TimesheetHandler.MountRoutes)
	r.Route("/timebank", params.TimeBankHandler.MountRoutes)
	r.Route("/approvals", params.ApprovalHandler.MountRoutes)
	if params.ReportHandler != nil {
		r.Route("/reports", params.ReportHandler.MountRoutes)
	}

	return r
}
