package handler

import (
	"github.com/cornerstone/cornerstone-backend/pkg/httputil"
	"github.com/cornerstone/cornerstone-backend/pkg/permissions"
	"github.com/go-chi/chi/v5"
)

// Handlers groups the inventory API handlers
type Handlers struct {
	Sites     *SiteHandler
	Materials *MaterialHandler
	Movements *MovementHandler
	Alerts    *AlertHandler
	Waste     *WasteHandler
	Reports   *ReportHandler
}

// Routes mounts the inventory API. Requests must already carry an
// authenticated actor.
func (h *Handlers) Routes(r chi.Router) {
	can := httputil.RequirePermission

	r.Route("/sites", func(r chi.Router) {
		r.With(can(permissions.InventoryRead)).Get("/", h.Sites.List)
		r.With(can(permissions.InventoryWrite)).Post("/", h.Sites.Create)
		r.With(can(permissions.InventoryRead)).Get("/{id}", h.Sites.Get)
		r.With(can(permissions.InventoryWrite)).Put("/{id}", h.Sites.Update)
		r.With(can(permissions.InventoryRead)).Get("/{id}/stock", h.Sites.Stock)
	})

	r.Route("/materials", func(r chi.Router) {
		r.With(can(permissions.InventoryRead)).Get("/", h.Materials.List)
		r.With(can(permissions.InventoryWrite)).Post("/", h.Materials.Create)
		r.With(can(permissions.InventoryRead)).Get("/categories", h.Materials.Categories)
		r.With(can(permissions.InventoryRead)).Get("/{id}", h.Materials.Get)
		r.With(can(permissions.InventoryWrite)).Put("/{id}", h.Materials.Update)
	})

	r.Route("/movements", func(r chi.Router) {
		r.Use(can(permissions.InventoryMove))
		r.Post("/in", h.Movements.In)
		r.Post("/out", h.Movements.Out)
		r.Post("/transfer", h.Movements.Transfer)
	})
	r.With(can(permissions.InventoryRead)).Get("/transactions", h.Movements.Transactions)

	r.With(can(permissions.AlertsRead)).Get("/alerts", h.Alerts.List)
	r.With(can(permissions.AlertsResolve)).Put("/alerts/{id}/resolve", h.Alerts.Resolve)

	r.Route("/waste-reports", func(r chi.Router) {
		r.With(can(permissions.ReportsRead)).Get("/", h.Waste.List)
		r.With(can(permissions.WasteWrite)).Post("/", h.Waste.Create)
	})

	r.Route("/reports", func(r chi.Router) {
		r.Use(can(permissions.ReportsRead))
		r.Get("/cost", h.Reports.Cost)
		r.Get("/waste", h.Reports.Waste)
		r.Get("/reorder", h.Reports.Reorder)
	})
	r.With(can(permissions.ReportsRead)).Get("/dashboard", h.Reports.Dashboard)
}
