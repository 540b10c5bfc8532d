package tax

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/folha-rh/folha-rh/internal/platform/httpx"
	"github.com/folha-rh/folha-rh/internal/shared"
)

type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

type createBracketRequest struct {
	Code        string  `json:"code" validate:"required,max=20"`
	Description string  `json:"description" validate:"max=200"`
	TableType   string  `json:"table_type" validate:"required,oneof=INSS IRRF"`
	Lower       string  `json:"lower" validate:"required"`
	Upper       *string `json:"upper"`
	Rate        string  `json:"rate" validate:"required"`
	Deduction   string  `json:"deduction"`
	Year        int     `json:"year" validate:"required,min=2000,max=2100"`
	Month       int     `json:"month" validate:"required,min=1,max=12"`
}

type upsertFgtsRequest struct {
	Rate              string `json:"rate" validate:"required"`
	SeveranceFineRate string `json:"severance_fine_rate" validate:"required"`
	SalaryCeiling     string `json:"salary_ceiling" validate:"required"`
	ValidFrom         string `json:"valid_from" validate:"omitempty,datetime=2006-01-02"`
}

func (h *Handler) CreateBracket(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Tenant Required", shared.ErrTenantRequired.Error())
		return
	}
	var req createBracketRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	b := Bracket{
		TenantID:    tenantID,
		Code:        req.Code,
		Description: req.Description,
		TableType:   TableType(req.TableType),
		Year:        req.Year,
		Month:       req.Month,
		Active:      true,
	}
	var err error
	if b.Lower, err = decimal.NewFromString(req.Lower); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "lower: "+err.Error())
		return
	}
	if b.Rate, err = decimal.NewFromString(req.Rate); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "rate: "+err.Error())
		return
	}
	if req.Deduction != "" {
		if b.Deduction, err = decimal.NewFromString(req.Deduction); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "deduction: "+err.Error())
			return
		}
	}
	if req.Upper != nil {
		upper, err := decimal.NewFromString(*req.Upper)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "upper: "+err.Error())
			return
		}
		b.Upper = &upper
	}

	id, err := h.service.CreateBracket(r.Context(), b)
	if err != nil {
		if errors.Is(err, ErrDuplicateCode) {
			httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
			return
		}
		h.logger.Error("create bracket", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (h *Handler) ListBrackets(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Tenant Required", shared.ErrTenantRequired.Error())
		return
	}
	year, _ := strconv.Atoi(r.URL.Query().Get("year"))
	month, _ := strconv.Atoi(r.URL.Query().Get("month"))
	period, err := shared.NewPeriod(year, month)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	tableType := TableType(r.URL.Query().Get("table_type"))
	if tableType != TableINSS && tableType != TableIRRF {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "table_type must be INSS or IRRF")
		return
	}

	brackets, err := h.service.ListBrackets(r.Context(), tenantID, tableType, period)
	if err != nil {
		h.logger.Error("list brackets", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"brackets": brackets})
}

func (h *Handler) DeactivateBracket(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Tenant Required", shared.ErrTenantRequired.Error())
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	if err := h.service.SetBracketActive(r.Context(), tenantID, id, false); err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
			return
		}
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) UpsertFgts(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Tenant Required", shared.ErrTenantRequired.Error())
		return
	}
	var req upsertFgtsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	cfg := FgtsConfig{TenantID: tenantID}
	var err error
	if cfg.Rate, err = decimal.NewFromString(req.Rate); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "rate: "+err.Error())
		return
	}
	if cfg.SeveranceFineRate, err = decimal.NewFromString(req.SeveranceFineRate); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "severance_fine_rate: "+err.Error())
		return
	}
	if cfg.SalaryCeiling, err = decimal.NewFromString(req.SalaryCeiling); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "salary_ceiling: "+err.Error())
		return
	}
	if req.ValidFrom != "" {
		cfg.ValidFrom, _ = time.Parse("2006-01-02", req.ValidFrom)
	}

	id, err := h.service.UpsertFgts(r.Context(), cfg)
	if err != nil {
		h.logger.Error("upsert fgts", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (h *Handler) GetFgts(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Tenant Required", shared.ErrTenantRequired.Error())
		return
	}
	year, _ := strconv.Atoi(r.URL.Query().Get("year"))
	month, _ := strconv.Atoi(r.URL.Query().Get("month"))
	period, err := shared.NewPeriod(year, month)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	cfg, err := h.service.FgtsFor(r.Context(), tenantID, period)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", "no fgts config for period")
			return
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, cfg)
}
