package service

import (
	"context"
	"sort"
	"time"

	"github.com/cornerstone/cornerstone-backend/internal/inventory/repository"
	"github.com/cornerstone/cornerstone-backend/pkg/config"
	"github.com/shopspring/decimal"
)

// CostRow is one (site, material) pair of the cost report
type CostRow struct {
	SiteID        string          `json:"site_id"`
	SiteName      string          `json:"site_name"`
	MaterialID    string          `json:"material_id"`
	MaterialName  string          `json:"material_name"`
	Category      string          `json:"category"`
	UnitOfMeasure string          `json:"unit_of_measure"`
	Quantity      decimal.Decimal `json:"quantity"`
	UnitCost      decimal.Decimal `json:"unit_cost"`
	TotalValue    decimal.Decimal `json:"total_value"`
}

// GroupTotal is a named subtotal
type GroupTotal struct {
	Name  string          `json:"name"`
	Value decimal.Decimal `json:"value"`
}

// CostReport values every line at its material's unit cost
type CostReport struct {
	Rows       []CostRow       `json:"rows"`
	BySite     []GroupTotal    `json:"by_site"`
	ByCategory []GroupTotal    `json:"by_category"`
	GrandTotal decimal.Decimal `json:"grand_total"`
}

// WasteRow is one waste record with its money impact. ValueLost keeps the
// sign of the variance.
type WasteRow struct {
	*repository.WasteReportView
	ValueLost decimal.Decimal `json:"value_lost"`
	Flagged   bool            `json:"flagged"`
}

// WasteSummary totals absolute variances and losses
type WasteSummary struct {
	TotalVariance  decimal.Decimal `json:"total_variance"`
	TotalValueLost decimal.Decimal `json:"total_value_lost"`
	FlaggedCount   int             `json:"flagged_count"`
}

// WasteReport lists waste records for a date range
type WasteReport struct {
	From    string       `json:"from"`
	To      string       `json:"to"`
	Rows    []WasteRow   `json:"rows"`
	Summary WasteSummary `json:"summary"`
}

// ReorderRow is a line below its reorder threshold
type ReorderRow struct {
	SiteID           string          `json:"site_id"`
	SiteName         string          `json:"site_name"`
	MaterialID       string          `json:"material_id"`
	MaterialName     string          `json:"material_name"`
	Category         string          `json:"category"`
	UnitOfMeasure    string          `json:"unit_of_measure"`
	Quantity         decimal.Decimal `json:"current_quantity"`
	ReorderThreshold decimal.Decimal `json:"reorder_threshold"`
	Shortage         decimal.Decimal `json:"shortage"`
	ReorderCost      decimal.Decimal `json:"reorder_cost"`
}

// ReorderReport lists what must be bought to bring lines back to threshold
type ReorderReport struct {
	Rows             []ReorderRow    `json:"rows"`
	TotalReorderCost decimal.Decimal `json:"total_reorder_cost"`
}

// Dashboard is the landing summary
type Dashboard struct {
	TotalSites          int64                   `json:"total_sites"`
	ActiveSites         int64                   `json:"active_sites"`
	UnresolvedAlerts    int64                   `json:"unresolved_alerts"`
	TotalInventoryValue decimal.Decimal         `json:"total_inventory_value"`
	Sites               []*repository.SiteValue `json:"sites"`
}

// DateRange bounds a waste report. Zero values select the current month
// to date.
type DateRange struct {
	From time.Time
	To   time.Time
}

// ReportService builds read-only reports from the ledger and history
type ReportService struct {
	reports           *repository.ReportRepository
	waste             *repository.WasteRepository
	alerts            *repository.AlertRepository
	varianceThreshold decimal.Decimal
	location          *time.Location
	now               func() time.Time
}

// NewReportService creates a new report service
func NewReportService(
	reports *repository.ReportRepository,
	waste *repository.WasteRepository,
	alerts *repository.AlertRepository,
	cfg *config.InventoryConfig,
) *ReportService {
	threshold := decimal.NewFromInt(10)
	loc := time.UTC
	if cfg != nil {
		if cfg.WasteVarianceThreshold > 0 {
			threshold = decimal.NewFromFloat(cfg.WasteVarianceThreshold)
		}
		loc = cfg.Location()
	}
	return &ReportService{
		reports:           reports,
		waste:             waste,
		alerts:            alerts,
		varianceThreshold: threshold,
		location:          loc,
		now:               time.Now,
	}
}

// CostReport values inventory, optionally for one site
func (s *ReportService) CostReport(ctx context.Context, siteID string) (*CostReport, error) {
	stock, err := s.reports.StockRows(ctx, siteID, false)
	if err != nil {
		return nil, err
	}

	report := &CostReport{Rows: make([]CostRow, 0, len(stock))}
	bySite := map[string]decimal.Decimal{}
	byCategory := map[string]decimal.Decimal{}

	for _, r := range stock {
		value := r.Quantity.Mul(r.UnitCost)
		report.Rows = append(report.Rows, CostRow{
			SiteID:        r.SiteID,
			SiteName:      r.SiteName,
			MaterialID:    r.MaterialID,
			MaterialName:  r.MaterialName,
			Category:      r.Category,
			UnitOfMeasure: r.UnitOfMeasure,
			Quantity:      r.Quantity,
			UnitCost:      r.UnitCost,
			TotalValue:    value,
		})
		bySite[r.SiteName] = bySite[r.SiteName].Add(value)
		byCategory[r.Category] = byCategory[r.Category].Add(value)
		report.GrandTotal = report.GrandTotal.Add(value)
	}

	report.BySite = sortedTotals(bySite)
	report.ByCategory = sortedTotals(byCategory)
	return report, nil
}

// WasteReport lists waste records in a date range, flagging rows whose
// absolute variance percentage exceeds the configured threshold. Rows with
// an undefined percentage are never flagged.
func (s *ReportService) WasteReport(ctx context.Context, siteID string, dr DateRange) (*WasteReport, error) {
	from, to := s.resolveRange(dr)

	records, err := s.waste.List(ctx, repository.WasteFilter{From: from, To: to, SiteID: siteID})
	if err != nil {
		return nil, err
	}

	report := &WasteReport{
		From: from.Format(time.DateOnly),
		To:   to.Format(time.DateOnly),
		Rows: make([]WasteRow, 0, len(records)),
	}
	for _, rec := range records {
		row := WasteRow{
			WasteReportView: rec,
			ValueLost:       rec.Variance.Mul(rec.UnitCost),
			Flagged:         rec.VariancePercentage.Valid && rec.VariancePercentage.Decimal.Abs().GreaterThan(s.varianceThreshold),
		}
		report.Summary.TotalVariance = report.Summary.TotalVariance.Add(rec.Variance.Abs())
		report.Summary.TotalValueLost = report.Summary.TotalValueLost.Add(row.ValueLost.Abs())
		if row.Flagged {
			report.Summary.FlaggedCount++
		}
		report.Rows = append(report.Rows, row)
	}
	return report, nil
}

// ReorderReport lists lines below their reorder threshold, optionally for one site
func (s *ReportService) ReorderReport(ctx context.Context, siteID string) (*ReorderReport, error) {
	stock, err := s.reports.StockRows(ctx, siteID, true)
	if err != nil {
		return nil, err
	}

	report := &ReorderReport{Rows: make([]ReorderRow, 0, len(stock))}
	for _, r := range stock {
		shortage := r.ReorderThreshold.Sub(r.Quantity)
		cost := shortage.Mul(r.UnitCost)
		report.Rows = append(report.Rows, ReorderRow{
			SiteID:           r.SiteID,
			SiteName:         r.SiteName,
			MaterialID:       r.MaterialID,
			MaterialName:     r.MaterialName,
			Category:         r.Category,
			UnitOfMeasure:    r.UnitOfMeasure,
			Quantity:         r.Quantity,
			ReorderThreshold: r.ReorderThreshold,
			Shortage:         shortage,
			ReorderCost:      cost,
		})
		report.TotalReorderCost = report.TotalReorderCost.Add(cost)
	}
	return report, nil
}

// Dashboard summarizes sites, alerts and inventory value
func (s *ReportService) Dashboard(ctx context.Context) (*Dashboard, error) {
	counts, err := s.reports.SiteCounts(ctx)
	if err != nil {
		return nil, err
	}
	unresolved, err := s.alerts.CountUnresolved(ctx)
	if err != nil {
		return nil, err
	}
	values, err := s.reports.SiteValues(ctx)
	if err != nil {
		return nil, err
	}

	d := &Dashboard{
		TotalSites:       counts.Total,
		ActiveSites:      counts.Active,
		UnresolvedAlerts: unresolved,
		Sites:            values,
	}
	for _, v := range values {
		d.TotalInventoryValue = d.TotalInventoryValue.Add(v.Value)
	}
	return d, nil
}

// Today is the current date in the configured time zone
func (s *ReportService) Today() time.Time {
	n := s.now().In(s.location)
	return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, time.UTC)
}

func (s *ReportService) resolveRange(dr DateRange) (time.Time, time.Time) {
	today := s.Today()
	from, to := dr.From, dr.To
	if from.IsZero() {
		from = time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	if to.IsZero() {
		to = today
	}
	return from, to
}

func sortedTotals(m map[string]decimal.Decimal) []GroupTotal {
	totals := make([]GroupTotal, 0, len(m))
	for name, v := range m {
		totals = append(totals, GroupTotal{Name: name, Value: v})
	}
	sort.Slice(totals, func(i, j int) bool { return totals[i].Name < totals[j].Name })
	return totals
}
