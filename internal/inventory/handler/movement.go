package handler

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/cornerstone/cornerstone-backend/internal/inventory/repository"
	"github.com/cornerstone/cornerstone-backend/internal/inventory/service"
	"github.com/cornerstone/cornerstone-backend/pkg/errors"
	"github.com/cornerstone/cornerstone-backend/pkg/httputil"
	"github.com/cornerstone/cornerstone-backend/pkg/logger"
	"github.com/shopspring/decimal"
)

// MovementHandler handles stock movements and the movement history
type MovementHandler struct {
	engine  *service.TransactionEngine
	catalog *service.CatalogService
	perPage int
	logger  *logger.Logger
}

// NewMovementHandler creates a new movement handler. perPage is the default
// transaction page size.
func NewMovementHandler(engine *service.TransactionEngine, catalog *service.CatalogService, perPage int, log *logger.Logger) *MovementHandler {
	if perPage <= 0 {
		perPage = 20
	}
	return &MovementHandler{
		engine:  engine,
		catalog: catalog,
		perPage: perPage,
		logger:  log,
	}
}

// quantity accepts a JSON number or numeric string. Anything else is an
// invalid quantity rather than a malformed body.
type quantity json.RawMessage

func (q *quantity) UnmarshalJSON(b []byte) error {
	*q = append((*q)[:0], b...)
	return nil
}

func (q quantity) decimal() (decimal.Decimal, error) {
	raw := bytes.Trim(q, `"`)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return decimal.Zero, errors.InvalidQuantity()
	}
	d, err := decimal.NewFromString(string(raw))
	if err != nil {
		return decimal.Zero, errors.InvalidQuantity()
	}
	return d, nil
}

type movementRequest struct {
	SiteID     string   `json:"site_id" validate:"required,uuid"`
	MaterialID string   `json:"material_id" validate:"required,uuid"`
	Quantity   quantity `json:"quantity"`
	Notes      string   `json:"notes" validate:"max=1000"`
}

type transferRequest struct {
	SourceSiteID      string   `json:"source_site_id" validate:"required,uuid"`
	DestinationSiteID string   `json:"destination_site_id" validate:"omitempty,uuid"`
	MaterialID        string   `json:"material_id" validate:"required,uuid"`
	Quantity          quantity `json:"quantity"`
	Notes             string   `json:"notes" validate:"max=1000"`
}

func decodeMovement(r *http.Request, req interface{}) error {
	if err := httputil.DecodeJSON(r, req); err != nil {
		return err
	}
	return httputil.Validate(req)
}

// In receives stock into a site
func (h *MovementHandler) In(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if err := decodeMovement(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	qty, err := req.Quantity.decimal()
	if err != nil {
		httputil.Error(w, err)
		return
	}

	row, err := h.engine.RecordIn(r.Context(), req.SiteID, req.MaterialID, qty, req.Notes)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, row)
}

// Out takes stock out of a site
func (h *MovementHandler) Out(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if err := decodeMovement(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	qty, err := req.Quantity.decimal()
	if err != nil {
		httputil.Error(w, err)
		return
	}

	row, err := h.engine.RecordOut(r.Context(), req.SiteID, req.MaterialID, qty, req.Notes)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, row)
}

// Transfer moves stock between two sites
func (h *MovementHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decodeMovement(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	qty, err := req.Quantity.decimal()
	if err != nil {
		httputil.Error(w, err)
		return
	}

	result, err := h.engine.RecordTransfer(r.Context(), req.SourceSiteID, req.DestinationSiteID, req.MaterialID, qty, req.Notes)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, result)
}

// Transactions lists movement history, newest first. Filters: site_id,
// material_id, type.
func (h *MovementHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	page, perPage := httputil.Pagination(r, h.perPage)
	q := r.URL.Query()

	rows, total, err := h.catalog.ListTransactions(r.Context(), repository.TransactionFilter{
		SiteID:     q.Get("site_id"),
		MaterialID: q.Get("material_id"),
		Type:       q.Get("type"),
		Page:       page,
		PerPage:    perPage,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, rows, httputil.NewMeta(page, perPage, total))
}
