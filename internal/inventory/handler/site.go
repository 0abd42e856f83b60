package handler

import (
	"net/http"
	"time"

	"github.com/cornerstone/cornerstone-backend/internal/inventory/repository"
	"github.com/cornerstone/cornerstone-backend/internal/inventory/service"
	"github.com/cornerstone/cornerstone-backend/pkg/errors"
	"github.com/cornerstone/cornerstone-backend/pkg/httputil"
	"github.com/cornerstone/cornerstone-backend/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// SiteHandler handles site endpoints
type SiteHandler struct {
	catalog *service.CatalogService
	logger  *logger.Logger
}

// NewSiteHandler creates a new site handler
func NewSiteHandler(catalog *service.CatalogService, log *logger.Logger) *SiteHandler {
	return &SiteHandler{
		catalog: catalog,
		logger:  log,
	}
}

type siteRequest struct {
	Name                 string          `json:"name" validate:"required,max=255"`
	Location             string          `json:"location" validate:"required,max=255"`
	Status               string          `json:"status" validate:"omitempty,oneof=active inactive finished halted_insufficient_materials"`
	CompletionPercentage decimal.Decimal `json:"completion_percentage" validate:"decimal_gte0,lte=100"`
	StartDate            string          `json:"start_date" validate:"required,datetime=2006-01-02"`
	EstimatedCompletion  string          `json:"estimated_completion" validate:"omitempty,datetime=2006-01-02"`
}

func (req *siteRequest) validate() error {
	if err := httputil.Validate(req); err != nil {
		return err
	}
	if req.EstimatedCompletion != "" && req.EstimatedCompletion < req.StartDate {
		return errors.Validation(map[string]string{
			"estimated_completion": "must not be before start_date",
		})
	}
	return nil
}

// apply copies the request onto a site
func (req *siteRequest) apply(site *repository.Site) error {
	start, err := parseDay("start_date", req.StartDate)
	if err != nil {
		return err
	}
	var estimated *time.Time
	if req.EstimatedCompletion != "" {
		d, err := parseDay("estimated_completion", req.EstimatedCompletion)
		if err != nil {
			return err
		}
		estimated = &d
	}

	site.Name = req.Name
	site.Location = req.Location
	if req.Status != "" {
		site.Status = req.Status
	}
	site.CompletionPercentage = req.CompletionPercentage
	site.StartDate = start
	site.EstimatedCompletion = estimated
	return nil
}

// List lists sites, optionally filtered by ?status=
func (h *SiteHandler) List(w http.ResponseWriter, r *http.Request) {
	sites, err := h.catalog.ListSites(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, sites, &httputil.Meta{Total: int64(len(sites))})
}

// Get gets a site by ID
func (h *SiteHandler) Get(w http.ResponseWriter, r *http.Request) {
	site, err := h.catalog.GetSite(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, site)
}

// Create creates a new site
func (h *SiteHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req siteRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := req.validate(); err != nil {
		httputil.Error(w, err)
		return
	}

	site := &repository.Site{}
	if err := req.apply(site); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := h.catalog.CreateSite(r.Context(), site); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, site)
}

// Update replaces a site's editable fields. An omitted status keeps the
// current one.
func (h *SiteHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req siteRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := req.validate(); err != nil {
		httputil.Error(w, err)
		return
	}

	site, err := h.catalog.GetSite(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	if err := req.apply(site); err != nil {
		httputil.Error(w, err)
		return
	}

	if err := h.catalog.UpdateSite(r.Context(), site); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, site)
}

// Stock lists every material with its quantity at the site
func (h *SiteHandler) Stock(w http.ResponseWriter, r *http.Request) {
	levels, err := h.catalog.SiteStock(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, levels)
}
