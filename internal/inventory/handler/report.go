package handler

import (
	"net/http"

	"github.com/cornerstone/cornerstone-backend/internal/inventory/service"
	"github.com/cornerstone/cornerstone-backend/pkg/httputil"
	"github.com/cornerstone/cornerstone-backend/pkg/logger"
)

// ReportHandler serves reports as JSON or, with ?format=csv, as a download
type ReportHandler struct {
	reports *service.ReportService
	logger  *logger.Logger
}

// NewReportHandler creates a new report handler
func NewReportHandler(reports *service.ReportService, log *logger.Logger) *ReportHandler {
	return &ReportHandler{
		reports: reports,
		logger:  log,
	}
}

type csvReport interface {
	CSV() ([]string, [][]string)
}

func (h *ReportHandler) respond(w http.ResponseWriter, r *http.Request, name string, report csvReport) {
	if r.URL.Query().Get("format") != "csv" {
		httputil.JSON(w, http.StatusOK, report)
		return
	}

	header, records := report.CSV()
	filename := service.CSVFilename(name, h.reports.Today())
	if err := httputil.CSV(w, filename, header, records); err != nil {
		h.logger.Error().Err(err).Str("report", name).Msg("failed to write CSV report")
	}
}

// Cost serves the cost report, optionally for one ?site_id=
func (h *ReportHandler) Cost(w http.ResponseWriter, r *http.Request) {
	report, err := h.reports.CostReport(r.Context(), r.URL.Query().Get("site_id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	h.respond(w, r, service.ReportCost, report)
}

// Waste serves the waste/variance report for ?from= .. ?to=
func (h *ReportHandler) Waste(w http.ResponseWriter, r *http.Request) {
	dr, err := parseDateRange(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	report, err := h.reports.WasteReport(r.Context(), r.URL.Query().Get("site_id"), dr)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	h.respond(w, r, service.ReportWaste, report)
}

// Reorder serves the reorder report
func (h *ReportHandler) Reorder(w http.ResponseWriter, r *http.Request) {
	report, err := h.reports.ReorderReport(r.Context(), r.URL.Query().Get("site_id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	h.respond(w, r, service.ReportReorder, report)
}

// Dashboard returns the landing summary
func (h *ReportHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	dashboard, err := h.reports.Dashboard(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, dashboard)
}
