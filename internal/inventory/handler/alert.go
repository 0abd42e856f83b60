package handler

import (
	"net/http"
	"strconv"

	"github.com/cornerstone/cornerstone-backend/internal/inventory/repository"
	"github.com/cornerstone/cornerstone-backend/internal/inventory/service"
	"github.com/cornerstone/cornerstone-backend/pkg/errors"
	"github.com/cornerstone/cornerstone-backend/pkg/httputil"
	"github.com/cornerstone/cornerstone-backend/pkg/logger"
	"github.com/go-chi/chi/v5"
)

// AlertHandler handles alert endpoints
type AlertHandler struct {
	evaluator *service.AlertEvaluator
	perPage   int
	logger    *logger.Logger
}

// NewAlertHandler creates a new alert handler
func NewAlertHandler(evaluator *service.AlertEvaluator, perPage int, log *logger.Logger) *AlertHandler {
	if perPage <= 0 {
		perPage = 50
	}
	return &AlertHandler{
		evaluator: evaluator,
		perPage:   perPage,
		logger:    log,
	}
}

// List lists alerts. Filters: resolved, type, site_id.
func (h *AlertHandler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := httputil.Pagination(r, h.perPage)
	q := r.URL.Query()

	filter := repository.AlertFilter{
		Type:    q.Get("type"),
		SiteID:  q.Get("site_id"),
		Page:    page,
		PerPage: perPage,
	}
	if v := q.Get("resolved"); v != "" {
		resolved, err := strconv.ParseBool(v)
		if err != nil {
			httputil.Error(w, errors.Validation(map[string]string{"resolved": "must be true or false"}))
			return
		}
		filter.Resolved = &resolved
	}
	if filter.Type != "" && filter.Type != repository.AlertLowStock && filter.Type != repository.AlertPredictiveReorder {
		httputil.Error(w, errors.Validation(map[string]string{
			"type": "must be one of: " + repository.AlertLowStock + ", " + repository.AlertPredictiveReorder,
		}))
		return
	}

	alerts, total, err := h.evaluator.ListAlerts(r.Context(), filter)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, alerts, httputil.NewMeta(page, perPage, total))
}

// Resolve marks an alert resolved by the acting user
func (h *AlertHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	alert, err := h.evaluator.ResolveAlert(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, alert)
}
