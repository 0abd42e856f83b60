package handler

import (
	"net/http"

	"github.com/cornerstone/cornerstone-backend/internal/inventory/repository"
	"github.com/cornerstone/cornerstone-backend/internal/inventory/service"
	"github.com/cornerstone/cornerstone-backend/pkg/httputil"
	"github.com/cornerstone/cornerstone-backend/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// MaterialHandler handles material endpoints
type MaterialHandler struct {
	catalog *service.CatalogService
	logger  *logger.Logger
}

// NewMaterialHandler creates a new material handler
func NewMaterialHandler(catalog *service.CatalogService, log *logger.Logger) *MaterialHandler {
	return &MaterialHandler{
		catalog: catalog,
		logger:  log,
	}
}

type materialRequest struct {
	Name             string          `json:"name" validate:"required,max=255"`
	Category         string          `json:"category" validate:"required,max=100"`
	UnitOfMeasure    string          `json:"unit_of_measure" validate:"required,max=50"`
	UnitCost         decimal.Decimal `json:"unit_cost" validate:"decimal_gte0,lte=9999999999.99"`
	ReorderThreshold decimal.Decimal `json:"reorder_threshold" validate:"decimal_gte0,lte=999999999999.99"`
}

func (req *materialRequest) toMaterial(id string) *repository.Material {
	return &repository.Material{
		ID:               id,
		Name:             req.Name,
		Category:         req.Category,
		UnitOfMeasure:    req.UnitOfMeasure,
		UnitCost:         req.UnitCost,
		ReorderThreshold: req.ReorderThreshold,
	}
}

// List lists materials, filtered by ?category= and ?search=
func (h *MaterialHandler) List(w http.ResponseWriter, r *http.Request) {
	materials, err := h.catalog.ListMaterials(r.Context(), repository.MaterialFilter{
		Category: r.URL.Query().Get("category"),
		Search:   r.URL.Query().Get("search"),
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, materials, &httputil.Meta{Total: int64(len(materials))})
}

// Get gets a material by ID
func (h *MaterialHandler) Get(w http.ResponseWriter, r *http.Request) {
	material, err := h.catalog.GetMaterial(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, material)
}

// Create creates a new material
func (h *MaterialHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req materialRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	material := req.toMaterial("")
	if err := h.catalog.CreateMaterial(r.Context(), material); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, material)
}

// Update updates a material
func (h *MaterialHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req materialRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	material := req.toMaterial(chi.URLParam(r, "id"))
	if err := h.catalog.UpdateMaterial(r.Context(), material); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, material)
}

// Categories lists the distinct material categories
func (h *MaterialHandler) Categories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.catalog.Categories(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, categories)
}
