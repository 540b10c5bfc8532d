package timesheet

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
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
	r.Post("/records", h.CreateRecord)
	r.Get("/records/{id}", h.ShowRecord)
	r.Post("/records/{id}/split", h.SplitRecord)
	r.Get("/records", h.ListRecords)
	r.Get("/policy", h.ShowPolicy)
	r.Put("/policy", h.UpdatePolicy)
	r.Post("/corrections", h.SubmitCorrection)
}

type punchPairRequest struct {
	Kind   string     `json:"kind" validate:"required,oneof=regular lunch extra"`
	In     time.Time  `json:"in" validate:"required"`
	Out    *time.Time `json:"out"`
	InGeo  *GeoPoint  `json:"in_geo"`
	OutGeo *GeoPoint  `json:"out_geo"`
}

type createRecordRequest struct {
	EmployeeID int64              `json:"employee_id" validate:"required,gt=0"`
	Date       string             `json:"date" validate:"required,datetime=2006-01-02"`
	Pairs      []punchPairRequest `json:"pairs" validate:"required,min=1,dive"`
}

type updatePolicyRequest struct {
	BankThresholdHours string `json:"bank_threshold_hours" validate:"required"`
	CreditExpiryMonths int    `json:"credit_expiry_months" validate:"min=0,max=24"`
}

type submitCorrectionRequest struct {
	RequesterID    int64              `json:"requester_id" validate:"required,gt=0"`
	RecordID       string             `json:"record_id" validate:"required,uuid"`
	CorrectedPairs []punchPairRequest `json:"corrected_pairs" validate:"required,min=1,dive"`
	Justification  string             `json:"justification" validate:"required,max=1000"`
}

func toPairs(in []punchPairRequest) []PunchPair {
	out := make([]PunchPair, 0, len(in))
	for _, p := range in {
		out = append(out, PunchPair{
			Kind:   PunchKind(p.Kind),
			In:     p.In,
			Out:    p.Out,
			InGeo:  p.InGeo,
			OutGeo: p.OutGeo,
		})
	}
	return out
}

func (h *Handler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Tenant Required", shared.ErrTenantRequired.Error())
		return
	}
	var req createRecordRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	date, _ := time.Parse("2006-01-02", req.Date)

	rec, err := h.service.RegisterRecord(r.Context(), RegisterRecordInput{
		TenantID:   tenantID,
		EmployeeID: req.EmployeeID,
		Date:       date,
		Pairs:      toPairs(req.Pairs),
	})
	if err != nil {
		h.logger.Error("create time record", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rec)
}

func (h *Handler) ShowRecord(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Tenant Required", shared.ErrTenantRequired.Error())
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid record id")
		return
	}
	rec, err := h.service.Record(r.Context(), tenantID, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
			return
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) SplitRecord(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Tenant Required", shared.ErrTenantRequired.Error())
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid record id")
		return
	}
	result, err := h.service.FinalizeSplit(r.Context(), tenantID, id)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
		case errors.Is(err, ErrRecordLocked):
			httpx.Problem(w, http.StatusUnprocessableEntity, "Record Locked", err.Error())
		default:
			h.logger.Error("split record", slog.Any("error", err))
			httpx.RespondError(w, err)
		}
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Tenant Required", shared.ErrTenantRequired.Error())
		return
	}
	employeeID, _ := strconv.ParseInt(r.URL.Query().Get("employee_id"), 10, 64)
	year, _ := strconv.Atoi(r.URL.Query().Get("year"))
	month, _ := strconv.Atoi(r.URL.Query().Get("month"))
	if employeeID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "employee_id required")
		return
	}
	if _, err := shared.NewPeriod(year, month); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	records, err := h.service.RecordsForPeriod(r.Context(), tenantID, employeeID, year, month)
	if err != nil {
		h.logger.Error("list records", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"records": records})
}

func (h *Handler) ShowPolicy(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Tenant Required", shared.ErrTenantRequired.Error())
		return
	}
	policy, err := h.service.Policy(r.Context(), tenantID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, policy)
}

func (h *Handler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Tenant Required", shared.ErrTenantRequired.Error())
		return
	}
	var req updatePolicyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	threshold, err := decimal.NewFromString(req.BankThresholdHours)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "bank_threshold_hours: "+err.Error())
		return
	}
	policy := WorkSchedulePolicy{
		TenantID:           tenantID,
		BankThresholdHours: threshold,
		CreditExpiryMonths: req.CreditExpiryMonths,
	}
	if err := h.service.SetPolicy(r.Context(), policy); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SubmitCorrection(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Tenant Required", shared.ErrTenantRequired.Error())
		return
	}
	var req submitCorrectionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	recordID, _ := uuid.Parse(req.RecordID)

	correction, err := h.service.SubmitCorrection(r.Context(), SubmitCorrectionInput{
		TenantID:       tenantID,
		RequesterID:    req.RequesterID,
		RecordID:       recordID,
		CorrectedPairs: toPairs(req.CorrectedPairs),
		Justification:  req.Justification,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
		case errors.Is(err, ErrRecordLocked):
			httpx.Problem(w, http.StatusUnprocessableEntity, "Record Locked", err.Error())
		default:
			h.logger.Error("submit correction", slog.Any("error", err))
			httpx.RespondError(w, err)
		}
		return
	}
	httpx.JSON(w, http.StatusCreated, correction)
}
