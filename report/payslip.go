package report

import (
	"bytes"
	"context"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/folha-rh/folha-rh/internal/payroll"
	"github.com/folha-rh/folha-rh/internal/platform/httpx"
	"github.com/folha-rh/folha-rh/internal/shared"
)

// PayslipSource resolves the payslip for an employee and period. Implemented
// by the payroll service.
type PayslipSource interface {
	Payslip(ctx context.Context, tenantID, employeeID int64, period shared.Period) (*payroll.Payslip, error)
}

// Handler renders payslips as PDF through Gotenberg.
type Handler struct {
	client   *Client
	payslips PayslipSource
	logger   *slog.Logger
}

// NewHandler creates a report handler.
func NewHandler(client *Client, payslips PayslipSource, logger *slog.Logger) *Handler {
	return &Handler{client: client, payslips: payslips, logger: logger}
}

// MountRoutes registers report routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/ping", h.ping)
	r.Get("/payslip.pdf", h.payslipPDF)
}

func (h *Handler) ping(w http.ResponseWriter, r *http.Request) {
	if err := h.client.Ping(r.Context()); err != nil {
		h.logger.Warn("gotenberg ping failed", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

var payslipTemplate = template.Must(template.New("payslip").Parse(`<!DOCTYPE html>
<html lang="pt-BR"><head><meta charset="utf-8"><title>Holerite {{.Period}}</title>
<style>
body { font-family: Helvetica, Arial, sans-serif; margin: 2cm; font-size: 12px; }
h1 { font-size: 16px; } table { width: 100%; border-collapse: collapse; }
th, td { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ccc; }
td.amount { text-align: right; } tfoot td { font-weight: bold; border-top: 2px solid #333; }
.warn { color: #a40000; margin-top: 1em; }
</style></head><body>
<h1>Holerite — Competência {{.Period}}</h1>
<p>Matrícula {{.EmployeeID}} · Situação: {{.Status}} · Emitido em {{.IssuedAt}}</p>
<table>
<thead><tr><th>Código</th><th>Descrição</th><th>Tipo</th><th>Valor</th></tr></thead>
<tbody>
{{range .Lines}}<tr><td>{{.Code}}</td><td>{{.Name}}</td><td>{{.Kind}}</td><td class="amount">{{.Formatted}}</td></tr>
{{end}}</tbody>
<tfoot>
<tr><td colspan="3">Total de vencimentos</td><td class="amount">{{.Gross}}</td></tr>
<tr><td colspan="3">Total de descontos</td><td class="amount">{{.Deductions}}</td></tr>
<tr><td colspan="3">Líquido a receber</td><td class="amount">{{.Net}}</td></tr>
</tfoot>
</table>
{{range .Warnings}}<p class="warn">{{.}}</p>
{{end}}</body></html>`))

type payslipView struct {
	*payroll.Payslip
	IssuedAt string
}

func (h *Handler) payslipPDF(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Tenant Required", shared.ErrTenantRequired.Error())
		return
	}
	employeeID, err := strconv.ParseInt(r.URL.Query().Get("employee_id"), 10, 64)
	if err != nil || employeeID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "employee_id is required")
		return
	}
	year, _ := strconv.Atoi(r.URL.Query().Get("year"))
	month, _ := strconv.Atoi(r.URL.Query().Get("month"))
	period, err := shared.NewPeriod(year, month)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	slip, err := h.payslips.Payslip(r.Context(), tenantID, employeeID, period)
	if err != nil {
		if errors.Is(err, payroll.ErrNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
			return
		}
		httpx.RespondError(w, err)
		return
	}

	var html bytes.Buffer
	view := payslipView{Payslip: slip, IssuedAt: time.Now().Format("02/01/2006 15:04")}
	if err := payslipTemplate.Execute(&html, view); err != nil {
		h.logger.Error("render payslip html", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	pdf, err := h.client.RenderHTML(r.Context(), html.String())
	if err != nil {
		h.logger.Error("render payslip pdf", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", "inline; filename=holerite-"+slip.Period+".pdf")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}