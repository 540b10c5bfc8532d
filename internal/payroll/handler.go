package payroll

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/folha-rh/folha-rh/internal/platform/httpx"
	"github.com/folha-rh/folha-rh/internal/shared"
)

type Handler struct {
	logger       *slog.Logger
	service      *Service
	orchestrator *Orchestrator
	validate     *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service, orchestrator *Orchestrator) *Handler {
	return &Handler{
		logger:       logger,
		service:      service,
		orchestrator: orchestrator,
		validate:     validator.New(),
	}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/rubricas", func(r chi.Router) {
		r.Get("/", h.ListRubricas)
		r.Post("/", h.CreateRubrica)
		r.Get("/{code}", h.GetRubrica)
		r.Put("/{code}", h.UpdateRubrica)
		r.Post("/{code}/deactivate", h.DeactivateRubrica)
	})
	r.Route("/runs", func(r chi.Router) {
		r.Post("/", h.StartRun)
		r.Get("/{id}", h.RunProgress)
		r.Post("/{id}/stop", h.StopRun)
	})
	r.Get("/payslip", h.Payslip)
}

type rubricaRequest struct {
	Code         string  `json:"code" validate:"required,max=20"`
	Name         string  `json:"name" validate:"required,max=120"`
	Kind         string  `json:"kind" validate:"required,oneof=earning deduction base informational"`
	Nature       string  `json:"nature" validate:"omitempty,oneof=fixed variable normal eventual"`
	Amount       *string `json:"amount"`
	Percent      *string `json:"percent"`
	BaseRef      string  `json:"base_ref" validate:"max=20"`
	IncomeTax    bool    `json:"income_tax"`
	SocialSec    bool    `json:"social_security"`
	Severance    bool    `json:"severance_fund"`
	UnionDues    bool    `json:"union_dues"`
	DisplayOrder int     `json:"display_order" validate:"gte=0"`
}

func (req rubricaRequest) toRubrica(tenantID int64) (Rubrica, error) {
	rb := Rubrica{
		TenantID:     tenantID,
		Code:         req.Code,
		Name:         req.Name,
		Kind:         RubricaKind(req.Kind),
		Nature:       RubricaNature(req.Nature),
		BaseRef:      req.BaseRef,
		DisplayOrder: req.DisplayOrder,
		Incidence: Incidence{
			IncomeTax:      req.IncomeTax,
			SocialSecurity: req.SocialSec,
			SeveranceFund:  req.Severance,
			UnionDues:      req.UnionDues,
		},
	}
	if req.Amount != nil {
		v, err := decimal.NewFromString(*req.Amount)
		if err != nil {
			return Rubrica{}, err
		}
		rb.Amount = &v
	}
	if req.Percent != nil {
		v, err := decimal.NewFromString(*req.Percent)
		if err != nil {
			return Rubrica{}, err
		}
		rb.Percent = &v
	}
	return rb, nil
}

type startRunRequest struct {
	Year    int    `json:"year" validate:"required,gte=2000,lte=2100"`
	Month   int    `json:"month" validate:"required,gte=1,lte=12"`
	RunType string `json:"run_type" validate:"omitempty,oneof=monthly thirteenth advance"`
}

func (h *Handler) ListRubricas(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Tenant Required", shared.ErrTenantRequired.Error())
		return
	}
	rubricas, err := h.service.ListRubricas(r.Context(), tenantID)
	if err != nil {
		h.logger.Error("list rubricas", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rubricas": rubricas})
}

func (h *Handler) GetRubrica(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Tenant Required", shared.ErrTenantRequired.Error())
		return
	}
	rb, err := h.service.GetRubrica(r.Context(), tenantID, chi.URLParam(r, "code"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
			return
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rb)
}

func (h *Handler) CreateRubrica(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Tenant Required", shared.ErrTenantRequired.Error())
		return
	}
	var req rubricaRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	rb, err := req.toRubrica(tenantID)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	created, err := h.service.CreateRubrica(r.Context(), rb)
	if err != nil {
		if errors.Is(err, ErrDuplicateCode) {
			httpx.Problem(w, http.StatusConflict, "Duplicate Code", err.Error())
			return
		}
		h.logger.Error("create rubrica", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) UpdateRubrica(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Tenant Required", shared.ErrTenantRequired.Error())
		return
	}
	var req rubricaRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	req.Code = chi.URLParam(r, "code")
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	rb, err := req.toRubrica(tenantID)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.UpdateRubrica(r.Context(), rb); err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
		case errors.Is(err, ErrRubricaImmutable):
			httpx.Problem(w, http.StatusConflict, "Rubrica Immutable", err.Error())
		default:
			h.logger.Error("update rubrica", slog.Any("error", err))
			httpx.RespondError(w, err)
		}
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handler) DeactivateRubrica(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Tenant Required", shared.ErrTenantRequired.Error())
		return
	}
	if err := h.service.DeactivateRubrica(r.Context(), tenantID, chi.URLParam(r, "code")); err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
			return
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

func (h *Handler) StartRun(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Tenant Required", shared.ErrTenantRequired.Error())
		return
	}
	var req startRunRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	period, err := shared.NewPeriod(req.Year, req.Month)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	run, err := h.orchestrator.Start(r.Context(), tenantID, period, req.RunType)
	if err != nil {
		if errors.Is(err, ErrRunExists) {
			httpx.Problem(w, http.StatusConflict, "Run Already Active", err.Error())
			return
		}
		h.logger.Error("start payroll run", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, run)
}

func (h *Handler) RunProgress(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Tenant Required", shared.ErrTenantRequired.Error())
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid run id")
		return
	}
	progress, err := h.orchestrator.Progress(r.Context(), tenantID, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
			return
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, progress)
}

func (h *Handler) StopRun(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Tenant Required", shared.ErrTenantRequired.Error())
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid run id")
		return
	}
	if err := h.orchestrator.Stop(r.Context(), tenantID, id); err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
		case errors.Is(err, ErrRunNotStoppable):
			httpx.Problem(w, http.StatusConflict, "Run Not Stoppable", err.Error())
		default:
			httpx.RespondError(w, err)
		}
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"status": "stop requested"})
}

func (h *Handler) Payslip(w http.ResponseWriter, r *http.Request) {
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

	slip, err := h.service.Payslip(r.Context(), tenantID, employeeID, period)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
			return
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, slip)
}
