package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cornerstone/cornerstone-backend/pkg/database"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WasteReport is an expected-versus-actual usage record. VariancePercentage
// is null when the expected quantity is zero.
type WasteReport struct {
	ID                 string              `db:"id" json:"id"`
	SiteID             string              `db:"site_id" json:"site_id"`
	MaterialID         string              `db:"material_id" json:"material_id"`
	ReportDate         time.Time           `db:"report_date" json:"report_date"`
	ExpectedQuantity   decimal.Decimal     `db:"expected_quantity" json:"expected_quantity"`
	ActualQuantity     decimal.Decimal     `db:"actual_quantity" json:"actual_quantity"`
	Variance           decimal.Decimal     `db:"variance" json:"variance"`
	VariancePercentage decimal.NullDecimal `db:"variance_percentage" json:"variance_percentage"`
	Notes              *string             `db:"notes" json:"notes,omitempty"`
	ReportedBy         *string             `db:"reported_by" json:"reported_by,omitempty"`
	CreatedAt          time.Time           `db:"created_at" json:"created_at"`
}

// WasteReportView is a waste report with the catalog data reports need
type WasteReportView struct {
	WasteReport
	SiteName      string          `db:"site_name" json:"site_name"`
	MaterialName  string          `db:"material_name" json:"material_name"`
	UnitOfMeasure string          `db:"unit_of_measure" json:"unit_of_measure"`
	UnitCost      decimal.Decimal `db:"unit_cost" json:"unit_cost"`
}

// WasteFilter narrows a waste listing. Zero dates leave that bound open.
type WasteFilter struct {
	From   time.Time
	To     time.Time
	SiteID string
}

// WasteRepository handles waste report persistence
type WasteRepository struct {
	db *database.DB
}

// NewWasteRepository creates a new waste repository
func NewWasteRepository(db *database.DB) *WasteRepository {
	return &WasteRepository{db: db}
}

// Create inserts a waste report
func (r *WasteRepository) Create(ctx context.Context, w *WasteReport) error {
	if w.ID == "" {
		w.ID = uuid.New().String()
	}

	query := `
		INSERT INTO waste_reports (id, site_id, material_id, report_date, expected_quantity, actual_quantity,
		                           variance, variance_percentage, notes, reported_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`
	err := r.db.QueryRowxContext(ctx, query,
		w.ID, w.SiteID, w.MaterialID, w.ReportDate, w.ExpectedQuantity, w.ActualQuantity,
		w.Variance, w.VariancePercentage, w.Notes, w.ReportedBy,
	).Scan(&w.CreatedAt)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return fmt.Errorf("failed to create waste report: %w", err)
	}
	return nil
}

// List returns waste reports ordered by date, newest first, then by variance
// percentage descending with undefined percentages last
func (r *WasteRepository) List(ctx context.Context, filter WasteFilter) ([]*WasteReportView, error) {
	var conditions []string
	args := []interface{}{}

	if !filter.From.IsZero() {
		args = append(args, filter.From)
		conditions = append(conditions, fmt.Sprintf("w.report_date >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		conditions = append(conditions, fmt.Sprintf("w.report_date <= $%d", len(args)))
	}
	if filter.SiteID != "" {
		args = append(args, filter.SiteID)
		conditions = append(conditions, fmt.Sprintf("w.site_id = $%d", len(args)))
	}

	query := `
		SELECT w.id, w.site_id, w.material_id, w.report_date, w.expected_quantity, w.actual_quantity,
		       w.variance, w.variance_percentage, w.notes, w.reported_by, w.created_at,
		       s.site_name, m.material_name, m.unit_of_measure, m.unit_cost
		FROM waste_reports w
		JOIN sites s ON s.id = w.site_id
		JOIN materials m ON m.id = w.material_id
	`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY w.report_date DESC, w.variance_percentage DESC NULLS LAST, w.created_at DESC`

	var reports []*WasteReportView
	if err := r.db.SelectContext(ctx, &reports, query, args...); err != nil {
		return nil, err
	}
	return reports, nil
}
