package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cornerstone/cornerstone-backend/pkg/database"
	"github.com/cornerstone/cornerstone-backend/pkg/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Alert types
const (
	AlertLowStock          = "low_stock"
	AlertPredictiveReorder = "predictive_reorder"
)

// Alert is a stock alert for one (site, material) line. Quantity and
// Threshold are snapshots taken when the alert was raised.
type Alert struct {
	ID         string          `db:"id" json:"id"`
	Type       string          `db:"alert_type" json:"alert_type"`
	SiteID     string          `db:"site_id" json:"site_id"`
	MaterialID string          `db:"material_id" json:"material_id"`
	Message    string          `db:"message" json:"message"`
	Quantity   decimal.Decimal `db:"quantity" json:"quantity"`
	Threshold  decimal.Decimal `db:"threshold" json:"threshold"`
	IsResolved bool            `db:"is_resolved" json:"is_resolved"`
	ResolvedBy *string         `db:"resolved_by" json:"resolved_by,omitempty"`
	ResolvedAt *time.Time      `db:"resolved_at" json:"resolved_at,omitempty"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

// AlertView is an alert with site and material names
type AlertView struct {
	Alert
	SiteName     string `db:"site_name" json:"site_name"`
	MaterialName string `db:"material_name" json:"material_name"`
}

// AlertFilter narrows an alert listing
type AlertFilter struct {
	Resolved *bool
	Type     string
	SiteID   string
	Page     int
	PerPage  int
}

// AlertRepository handles alert persistence
type AlertRepository struct {
	db *database.DB
}

// NewAlertRepository creates a new alert repository
func NewAlertRepository(db *database.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

const alertColumns = `a.id, a.alert_type, a.site_id, a.material_id, a.message, a.quantity, a.threshold,
		       a.is_resolved, a.resolved_by, a.resolved_at, a.created_at`

// CreateIfAbsent inserts the alert unless the line already has an unresolved
// alert of the same type. It reports whether a row was inserted.
func (r *AlertRepository) CreateIfAbsent(ctx context.Context, alert *Alert) (bool, error) {
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}

	query := `
		INSERT INTO alerts (id, alert_type, site_id, material_id, message, quantity, threshold)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (site_id, material_id, alert_type) WHERE NOT is_resolved DO NOTHING
		RETURNING created_at
	`
	err := r.db.QueryRowxContext(ctx, query,
		alert.ID, alert.Type, alert.SiteID, alert.MaterialID, alert.Message, alert.Quantity, alert.Threshold,
	).Scan(&alert.CreatedAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create alert: %w", err)
	}
	return true, nil
}

// GetByID gets an alert by ID
func (r *AlertRepository) GetByID(ctx context.Context, id string) (*Alert, error) {
	var alert Alert
	query := `SELECT ` + alertColumns + ` FROM alerts a WHERE a.id = $1`
	if err := r.db.GetContext(ctx, &alert, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("alert")
		}
		return nil, err
	}
	return &alert, nil
}

// Resolve marks an open alert resolved
func (r *AlertRepository) Resolve(ctx context.Context, id string, resolvedBy *string) (*Alert, error) {
	var alert Alert
	query := `
		UPDATE alerts a SET is_resolved = TRUE, resolved_by = $2, resolved_at = NOW()
		WHERE a.id = $1 AND NOT a.is_resolved
		RETURNING ` + alertColumns

	err := r.db.GetContext(ctx, &alert, query, id, resolvedBy)
	if err == sql.ErrNoRows {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, errors.Conflict("alert is already resolved")
	}
	if err != nil {
		return nil, err
	}
	return &alert, nil
}

// ResolveOthers resolves the open alerts of a line whose type differs from
// keepType. An empty keepType resolves all of them.
func (r *AlertRepository) ResolveOthers(ctx context.Context, siteID, materialID, keepType string, resolvedBy *string) (int64, error) {
	query := `
		UPDATE alerts SET is_resolved = TRUE, resolved_by = $4, resolved_at = NOW()
		WHERE site_id = $1 AND material_id = $2 AND NOT is_resolved AND alert_type <> $3
	`
	result, err := r.db.ExecContext(ctx, query, siteID, materialID, keepType, resolvedBy)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ListOpenForLine returns the unresolved alerts of one line
func (r *AlertRepository) ListOpenForLine(ctx context.Context, siteID, materialID string) ([]*Alert, error) {
	query := `
		SELECT ` + alertColumns + `
		FROM alerts a
		WHERE a.site_id = $1 AND a.material_id = $2 AND NOT a.is_resolved
		ORDER BY a.created_at
	`
	var alerts []*Alert
	if err := r.db.SelectContext(ctx, &alerts, query, siteID, materialID); err != nil {
		return nil, err
	}
	return alerts, nil
}

// List returns a page of alerts, newest first, and the total count
func (r *AlertRepository) List(ctx context.Context, filter AlertFilter) ([]*AlertView, int64, error) {
	var conditions []string
	args := []interface{}{}

	if filter.Resolved != nil {
		args = append(args, *filter.Resolved)
		conditions = append(conditions, fmt.Sprintf("a.is_resolved = $%d", len(args)))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		conditions = append(conditions, fmt.Sprintf("a.alert_type = $%d", len(args)))
	}
	if filter.SiteID != "" {
		args = append(args, filter.SiteID)
		conditions = append(conditions, fmt.Sprintf("a.site_id = $%d", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = ` WHERE ` + strings.Join(conditions, " AND ")
	}

	var total int64
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM alerts a`+where, args...); err != nil {
		return nil, 0, err
	}

	page, perPage := filter.Page, filter.PerPage
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 50
	}
	args = append(args, perPage, (page-1)*perPage)

	query := fmt.Sprintf(`
		SELECT %s, s.site_name, m.material_name
		FROM alerts a
		JOIN sites s ON s.id = a.site_id
		JOIN materials m ON m.id = a.material_id
		%s
		ORDER BY a.created_at DESC, a.id
		LIMIT $%d OFFSET $%d
	`, alertColumns, where, len(args)-1, len(args))

	var alerts []*AlertView
	if err := r.db.SelectContext(ctx, &alerts, query, args...); err != nil {
		return nil, 0, err
	}
	return alerts, total, nil
}

// CountUnresolved counts open alerts across all sites
func (r *AlertRepository) CountUnresolved(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM alerts WHERE NOT is_resolved`); err != nil {
		return 0, err
	}
	return count, nil
}
