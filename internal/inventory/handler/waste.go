package handler

import (
	"net/http"
	"time"

	"github.com/cornerstone/cornerstone-backend/internal/inventory/repository"
	"github.com/cornerstone/cornerstone-backend/internal/inventory/service"
	"github.com/cornerstone/cornerstone-backend/pkg/errors"
	"github.com/cornerstone/cornerstone-backend/pkg/httputil"
	"github.com/cornerstone/cornerstone-backend/pkg/logger"
	"github.com/shopspring/decimal"
)

// WasteHandler handles waste report endpoints
type WasteHandler struct {
	waste  *service.WasteService
	logger *logger.Logger
}

// NewWasteHandler creates a new waste handler
func NewWasteHandler(waste *service.WasteService, log *logger.Logger) *WasteHandler {
	return &WasteHandler{
		waste:  waste,
		logger: log,
	}
}

type wasteRequest struct {
	SiteID           string          `json:"site_id" validate:"required,uuid"`
	MaterialID       string          `json:"material_id" validate:"required,uuid"`
	ReportDate       string          `json:"report_date" validate:"required,datetime=2006-01-02"`
	ExpectedQuantity decimal.Decimal `json:"expected_quantity" validate:"decimal_gte0,lte=999999999999.99"`
	ActualQuantity   decimal.Decimal `json:"actual_quantity" validate:"decimal_gte0,lte=999999999999.99"`
	Notes            string          `json:"notes" validate:"max=1000"`
}

// Create records a waste report
func (h *WasteHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req wasteRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}
	day, err := parseDay("report_date", req.ReportDate)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	report, err := h.waste.Create(r.Context(), service.WasteInput{
		SiteID:           req.SiteID,
		MaterialID:       req.MaterialID,
		ReportDate:       day,
		ExpectedQuantity: req.ExpectedQuantity,
		ActualQuantity:   req.ActualQuantity,
		Notes:            req.Notes,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, report)
}

// List lists waste reports. Filters: from, to (YYYY-MM-DD), site_id.
func (h *WasteHandler) List(w http.ResponseWriter, r *http.Request) {
	dr, err := parseDateRange(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	reports, err := h.waste.List(r.Context(), repository.WasteFilter{
		From:   dr.From,
		To:     dr.To,
		SiteID: r.URL.Query().Get("site_id"),
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, reports, &httputil.Meta{Total: int64(len(reports))})
}

// parseDateRange reads ?from= and ?to=. Missing values stay zero.
// parseDay parses a YYYY-MM-DD body field
func parseDay(field, value string) (time.Time, error) {
	d, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, errors.BadRequest(field + " must be a date in 2006-01-02 format")
	}
	return d, nil
}

func parseDateRange(r *http.Request) (service.DateRange, error) {
	var dr service.DateRange
	details := map[string]string{}

	for key, dst := range map[string]*time.Time{"from": &dr.From, "to": &dr.To} {
		v := r.URL.Query().Get(key)
		if v == "" {
			continue
		}
		d, err := time.Parse(time.DateOnly, v)
		if err != nil {
			details[key] = "must be a date in 2006-01-02 format"
			continue
		}
		*dst = d
	}
	if len(details) > 0 {
		return dr, errors.Validation(details)
	}
	if !dr.From.IsZero() && !dr.To.IsZero() && dr.To.Before(dr.From) {
		return dr, errors.Validation(map[string]string{"to": "must not be before from"})
	}
	return dr, nil
}
