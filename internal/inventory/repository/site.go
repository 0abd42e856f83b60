package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/cornerstone/cornerstone-backend/pkg/database"
	"github.com/cornerstone/cornerstone-backend/pkg/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Site statuses
const (
	SiteStatusActive   = "active"
	SiteStatusInactive = "inactive"
	SiteStatusFinished = "finished"
	SiteStatusHalted   = "halted_insufficient_materials"
)

// AcceptsMovements reports whether stock may be moved into or out of a site
// with the given status.
func AcceptsMovements(status string) bool {
	return status == SiteStatusActive || status == SiteStatusHalted
}

// Site represents a construction site
type Site struct {
	ID                   string          `db:"id" json:"id"`
	Name                 string          `db:"site_name" json:"name"`
	Location             string          `db:"location" json:"location"`
	Status               string          `db:"status" json:"status"`
	CompletionPercentage decimal.Decimal `db:"completion_percentage" json:"completion_percentage"`
	StartDate            time.Time       `db:"start_date" json:"start_date"`
	EstimatedCompletion  *time.Time      `db:"estimated_completion" json:"estimated_completion,omitempty"`
	CreatedAt            time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time       `db:"updated_at" json:"updated_at"`
}

// SiteRepository handles site persistence. Sites are never hard-deleted.
type SiteRepository struct {
	db *database.DB
}

// NewSiteRepository creates a new site repository
func NewSiteRepository(db *database.DB) *SiteRepository {
	return &SiteRepository{db: db}
}

const siteColumns = `id, site_name, location, status, completion_percentage, start_date, estimated_completion, created_at, updated_at`

// Create inserts a site
func (r *SiteRepository) Create(ctx context.Context, site *Site) error {
	if site.ID == "" {
		site.ID = uuid.New().String()
	}
	if site.Status == "" {
		site.Status = SiteStatusActive
	}

	query := `
		INSERT INTO sites (id, site_name, location, status, completion_percentage, start_date, estimated_completion)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRowxContext(ctx, query,
		site.ID, site.Name, site.Location, site.Status, site.CompletionPercentage,
		site.StartDate, site.EstimatedCompletion,
	).Scan(&site.CreatedAt, &site.UpdatedAt)
	if appErr := database.MapPQError(err); appErr != nil {
		return appErr
	}
	return err
}

// GetByID gets a site by ID
func (r *SiteRepository) GetByID(ctx context.Context, id string) (*Site, error) {
	var site Site
	query := `SELECT ` + siteColumns + ` FROM sites WHERE id = $1`
	if err := r.db.GetContext(ctx, &site, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("site")
		}
		return nil, err
	}
	return &site, nil
}

// List lists sites ordered by name, optionally restricted to one status
func (r *SiteRepository) List(ctx context.Context, status string) ([]*Site, error) {
	query := `SELECT ` + siteColumns + ` FROM sites`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY site_name`

	var sites []*Site
	if err := r.db.SelectContext(ctx, &sites, query, args...); err != nil {
		return nil, err
	}
	return sites, nil
}

// ListAcceptingMovements lists the sites whose status allows stock movements
func (r *SiteRepository) ListAcceptingMovements(ctx context.Context) ([]*Site, error) {
	query := `
		SELECT ` + siteColumns + `
		FROM sites
		WHERE status IN ('active', 'halted_insufficient_materials')
		ORDER BY site_name
	`
	var sites []*Site
	if err := r.db.SelectContext(ctx, &sites, query); err != nil {
		return nil, err
	}
	return sites, nil
}

// Update updates a site
func (r *SiteRepository) Update(ctx context.Context, site *Site) error {
	query := `
		UPDATE sites SET
			site_name = $2, location = $3, status = $4, completion_percentage = $5,
			start_date = $6, estimated_completion = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRowxContext(ctx, query,
		site.ID, site.Name, site.Location, site.Status, site.CompletionPercentage,
		site.StartDate, site.EstimatedCompletion,
	).Scan(&site.CreatedAt, &site.UpdatedAt)
	if err == sql.ErrNoRows {
		return errors.NotFound("site")
	}
	if appErr := database.MapPQError(err); appErr != nil {
		return appErr
	}
	return err
}
