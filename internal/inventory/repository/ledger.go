package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cornerstone/cornerstone-backend/pkg/database"
	"github.com/cornerstone/cornerstone-backend/pkg/errors"
	"github.com/shopspring/decimal"
)

// StockLevel is one material's on-hand quantity at a site
type StockLevel struct {
	SiteID           string          `db:"site_id" json:"site_id"`
	MaterialID       string          `db:"material_id" json:"material_id"`
	MaterialName     string          `db:"material_name" json:"material_name"`
	Category         string          `db:"category" json:"category"`
	UnitOfMeasure    string          `db:"unit_of_measure" json:"unit_of_measure"`
	UnitCost         decimal.Decimal `db:"unit_cost" json:"unit_cost"`
	ReorderThreshold decimal.Decimal `db:"reorder_threshold" json:"reorder_threshold"`
	Quantity         decimal.Decimal `db:"quantity" json:"quantity"`
	LastUpdated      *time.Time      `db:"last_updated" json:"last_updated,omitempty"`
}

// LineSnapshot is the state of one (site, material) line as seen by the
// alert evaluator
type LineSnapshot struct {
	SiteID           string          `db:"site_id"`
	SiteName         string          `db:"site_name"`
	MaterialID       string          `db:"material_id"`
	MaterialName     string          `db:"material_name"`
	UnitOfMeasure    string          `db:"unit_of_measure"`
	Quantity         decimal.Decimal `db:"quantity"`
	ReorderThreshold decimal.Decimal `db:"reorder_threshold"`
}

// LedgerRepository owns the current on-hand quantity per (site, material).
// Quantities only change through ApplyDelta.
type LedgerRepository struct {
	db *database.DB
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(db *database.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// ApplyDelta adds a signed quantity to a line, creating the line at zero if
// it does not exist, and returns the new quantity. A delta that would leave
// the line negative fails on the non-negative check constraint and comes
// back as an insufficient stock error.
func (r *LedgerRepository) ApplyDelta(ctx context.Context, siteID, materialID string, delta decimal.Decimal) (decimal.Decimal, error) {
	var quantity decimal.Decimal

	err := r.db.WithTx(ctx, func(ctx context.Context) error {
		query := `
			INSERT INTO inventory (site_id, material_id, quantity, last_updated)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (site_id, material_id)
			DO UPDATE SET quantity = inventory.quantity + EXCLUDED.quantity, last_updated = NOW()
			RETURNING quantity
		`
		return r.db.QueryRowxContext(ctx, query, siteID, materialID, delta).Scan(&quantity)
	})
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return decimal.Zero, appErr
		}
		return decimal.Zero, fmt.Errorf("failed to apply inventory delta: %w", err)
	}

	return quantity, nil
}

// GetQuantity returns the on-hand quantity of a line, zero when absent
func (r *LedgerRepository) GetQuantity(ctx context.Context, siteID, materialID string) (decimal.Decimal, error) {
	var quantity decimal.Decimal
	query := `SELECT quantity FROM inventory WHERE site_id = $1 AND material_id = $2`
	if err := r.db.GetContext(ctx, &quantity, query, siteID, materialID); err != nil {
		if err == sql.ErrNoRows {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return quantity, nil
}

// LockQuantity is GetQuantity with a row lock held until the surrounding
// transaction ends. Call it inside WithTx.
func (r *LedgerRepository) LockQuantity(ctx context.Context, siteID, materialID string) (decimal.Decimal, error) {
	var quantity decimal.Decimal
	query := `SELECT quantity FROM inventory WHERE site_id = $1 AND material_id = $2 FOR UPDATE`
	if err := r.db.GetContext(ctx, &quantity, query, siteID, materialID); err != nil {
		if err == sql.ErrNoRows {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return quantity, nil
}

// ListBySite returns every material with its quantity at the site. Materials
// that were never moved into the site are listed with quantity zero.
func (r *LedgerRepository) ListBySite(ctx context.Context, siteID string) ([]*StockLevel, error) {
	query := `
		SELECT $1::uuid AS site_id, m.id AS material_id, m.material_name, m.category, m.unit_of_measure,
		       m.unit_cost, m.reorder_threshold,
		       COALESCE(i.quantity, 0) AS quantity, i.last_updated
		FROM materials m
		LEFT JOIN inventory i ON i.material_id = m.id AND i.site_id = $1
		ORDER BY m.material_name
	`
	var levels []*StockLevel
	if err := r.db.SelectContext(ctx, &levels, query, siteID); err != nil {
		return nil, err
	}
	return levels, nil
}

// GetLine returns the snapshot of one line for alert evaluation
func (r *LedgerRepository) GetLine(ctx context.Context, siteID, materialID string) (*LineSnapshot, error) {
	query := `
		SELECT s.id AS site_id, s.site_name, m.id AS material_id, m.material_name, m.unit_of_measure,
		       COALESCE(i.quantity, 0) AS quantity, m.reorder_threshold
		FROM sites s
		CROSS JOIN materials m
		LEFT JOIN inventory i ON i.site_id = s.id AND i.material_id = m.id
		WHERE s.id = $1 AND m.id = $2
	`
	var line LineSnapshot
	if err := r.db.GetContext(ctx, &line, query, siteID, materialID); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("inventory line")
		}
		return nil, err
	}
	return &line, nil
}

// ListLinesForScan returns every (site, material) pair of the sites that
// accept movements, absent lines at quantity zero
func (r *LedgerRepository) ListLinesForScan(ctx context.Context) ([]*LineSnapshot, error) {
	query := `
		SELECT s.id AS site_id, s.site_name, m.id AS material_id, m.material_name, m.unit_of_measure,
		       COALESCE(i.quantity, 0) AS quantity, m.reorder_threshold
		FROM sites s
		CROSS JOIN materials m
		LEFT JOIN inventory i ON i.site_id = s.id AND i.material_id = m.id
		WHERE s.status IN ('active', 'halted_insufficient_materials')
		ORDER BY s.site_name, m.material_name
	`
	var lines []*LineSnapshot
	if err := r.db.SelectContext(ctx, &lines, query); err != nil {
		return nil, err
	}
	return lines, nil
}
