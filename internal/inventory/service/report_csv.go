package service

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Report names used in CSV filenames
const (
	ReportCost    = "cost"
	ReportWaste   = "waste"
	ReportReorder = "reorder"
)

// CSVFilename is <report>_report_<YYYY-MM-DD>.csv
func CSVFilename(report string, day time.Time) string {
	return fmt.Sprintf("%s_report_%s.csv", report, day.Format(time.DateOnly))
}

// money formats to exactly two decimals with no thousands separators
func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// CSV renders the cost report as a header and records
func (r *CostReport) CSV() ([]string, [][]string) {
	header := []string{"Site", "Material", "Category", "Quantity", "Unit", "Unit Cost", "Total Value"}
	records := make([][]string, 0, len(r.Rows))
	for _, row := range r.Rows {
		records = append(records, []string{
			row.SiteName,
			row.MaterialName,
			row.Category,
			money(row.Quantity),
			row.UnitOfMeasure,
			money(row.UnitCost),
			money(row.TotalValue),
		})
	}
	return header, records
}

// CSV renders the waste report. An undefined variance percentage is "N/A";
// value lost is written as an absolute amount.
func (r *WasteReport) CSV() ([]string, [][]string) {
	header := []string{"Date", "Site", "Material", "Expected Qty", "Actual Qty", "Variance", "Variance %", "Value Lost", "Notes"}
	records := make([][]string, 0, len(r.Rows))
	for _, row := range r.Rows {
		pct := "N/A"
		if row.VariancePercentage.Valid {
			pct = money(row.VariancePercentage.Decimal) + "%"
		}
		notes := "N/A"
		if row.Notes != nil && *row.Notes != "" {
			notes = *row.Notes
		}
		records = append(records, []string{
			row.ReportDate.Format(time.DateOnly),
			row.SiteName,
			row.MaterialName,
			money(row.ExpectedQuantity),
			money(row.ActualQuantity),
			money(row.Variance),
			pct,
			money(row.ValueLost.Abs()),
			notes,
		})
	}
	return header, records
}

// CSV renders the reorder report
func (r *ReorderReport) CSV() ([]string, [][]string) {
	header := []string{"Site", "Material", "Category", "Current Qty", "Reorder Threshold", "Shortage", "Reorder Cost"}
	records := make([][]string, 0, len(r.Rows))
	for _, row := range r.Rows {
		records = append(records, []string{
			row.SiteName,
			row.MaterialName,
			row.Category,
			money(row.Quantity),
			money(row.ReorderThreshold),
			money(row.Shortage),
			money(row.ReorderCost),
		})
	}
	return header, records
}
