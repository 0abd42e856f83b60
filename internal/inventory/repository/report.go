package repository

import (
	"context"

	"github.com/cornerstone/cornerstone-backend/pkg/database"
	"github.com/shopspring/decimal"
)

// StockRow is one (site, material) pair with catalog data, absent lines at
// quantity zero
type StockRow struct {
	SiteID           string          `db:"site_id"`
	SiteName         string          `db:"site_name"`
	MaterialID       string          `db:"material_id"`
	MaterialName     string          `db:"material_name"`
	Category         string          `db:"category"`
	UnitOfMeasure    string          `db:"unit_of_measure"`
	UnitCost         decimal.Decimal `db:"unit_cost"`
	ReorderThreshold decimal.Decimal `db:"reorder_threshold"`
	Quantity         decimal.Decimal `db:"quantity"`
}

// SiteValue is the inventory value held at one site
type SiteValue struct {
	SiteID   string          `db:"site_id" json:"site_id"`
	SiteName string          `db:"site_name" json:"site_name"`
	Status   string          `db:"status" json:"status"`
	Value    decimal.Decimal `db:"value" json:"value"`
}

// SiteCounts holds the dashboard site totals
type SiteCounts struct {
	Total  int64 `db:"total"`
	Active int64 `db:"active"`
}

// ReportRepository runs the read-only report queries
type ReportRepository struct {
	db *database.DB
}

// NewReportRepository creates a new report repository
func NewReportRepository(db *database.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

// StockRows returns every site and material pair ordered by site,
// category and material name. siteID restricts the rows to one site; belowThreshold keeps
// only lines under their material's reorder threshold.
func (r *ReportRepository) StockRows(ctx context.Context, siteID string, belowThreshold bool) ([]*StockRow, error) {
	query := `
		SELECT s.id AS site_id, s.site_name, m.id AS material_id, m.material_name, m.category,
		       m.unit_of_measure, m.unit_cost, m.reorder_threshold,
		       COALESCE(i.quantity, 0) AS quantity
		FROM sites s
		CROSS JOIN materials m
		LEFT JOIN inventory i ON i.site_id = s.id AND i.material_id = m.id
		WHERE TRUE
	`
	args := []interface{}{}
	if siteID != "" {
		args = append(args, siteID)
		query += ` AND s.id = $1`
	}
	if belowThreshold {
		query += ` AND COALESCE(i.quantity, 0) < m.reorder_threshold`
	}
	query += ` ORDER BY s.site_name, m.category, m.material_name`

	var rows []*StockRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

// SiteCounts counts all sites and the active ones
func (r *ReportRepository) SiteCounts(ctx context.Context) (*SiteCounts, error) {
	var counts SiteCounts
	query := `
		SELECT COUNT(*) AS total,
		       COUNT(*) FILTER (WHERE status = 'active') AS active
		FROM sites
	`
	if err := r.db.GetContext(ctx, &counts, query); err != nil {
		return nil, err
	}
	return &counts, nil
}

// SiteValues returns the inventory value per site, highest first
func (r *ReportRepository) SiteValues(ctx context.Context) ([]*SiteValue, error) {
	query := `
		SELECT s.id AS site_id, s.site_name, s.status,
		       COALESCE(SUM(i.quantity * m.unit_cost), 0) AS value
		FROM sites s
		LEFT JOIN inventory i ON i.site_id = s.id
		LEFT JOIN materials m ON m.id = i.material_id
		GROUP BY s.id, s.site_name, s.status
		ORDER BY value DESC, s.site_name
	`
	var values []*SiteValue
	if err := r.db.SelectContext(ctx, &values, query); err != nil {
		return nil, err
	}
	return values, nil
}
