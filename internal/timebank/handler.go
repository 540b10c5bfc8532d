package timebank

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

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{employeeID}/balance", h.Balance)
	r.Get("/{employeeID}/entries", h.Entries)
	r.Post("/debits", h.RequestDebit)
}

type debitRequest struct {
	EmployeeID  int64  `json:"employee_id" validate:"required,gt=0"`
	RequesterID int64  `json:"requester_id" validate:"required,gt=0"`
	Hours       string `json:"hours" validate:"required"`
	Date        string `json:"date" validate:"required,datetime=2006-01-02"`
	Type        string `json:"type" validate:"omitempty,oneof=overtime compensatory standby night_differential"`
}

func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Tenant Required", shared.ErrTenantRequired.Error())
		return
	}
	employeeID, err := strconv.ParseInt(chi.URLParam(r, "employeeID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid employee id")
		return
	}
	asOf := time.Now().UTC()
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "as_of: "+err.Error())
			return
		}
		asOf = parsed
	}

	balance, err := h.service.Balance(r.Context(), tenantID, employeeID, asOf)
	if err != nil {
		h.logger.Error("time bank balance", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"employee_id": employeeID,
		"as_of":       asOf.Format("2006-01-02"),
		"balance":     balance,
	})
}

func (h *Handler) Entries(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Tenant Required", shared.ErrTenantRequired.Error())
		return
	}
	employeeID, err := strconv.ParseInt(chi.URLParam(r, "employeeID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid employee id")
		return
	}
	entries, err := h.service.Entries(r.Context(), tenantID, employeeID)
	if err != nil {
		h.logger.Error("time bank entries", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) RequestDebit(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Tenant Required", shared.ErrTenantRequired.Error())
		return
	}
	var req debitRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	hours, err := decimal.NewFromString(req.Hours)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "hours: "+err.Error())
		return
	}
	date, _ := time.Parse("2006-01-02", req.Date)

	entry, err := h.service.RequestDebit(r.Context(), DebitInput{
		TenantID:    tenantID,
		EmployeeID:  req.EmployeeID,
		RequesterID: req.RequesterID,
		Hours:       hours,
		Date:        date,
		Type:        EntryType(req.Type),
	})
	if err != nil {
		if errors.Is(err, ErrInvalidHours) {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
		h.logger.Error("request debit", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}
