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

// Material represents a catalog material
type Material struct {
	ID               string          `db:"id" json:"id"`
	Name             string          `db:"material_name" json:"name"`
	Category         string          `db:"category" json:"category"`
	UnitOfMeasure    string          `db:"unit_of_measure" json:"unit_of_measure"`
	UnitCost         decimal.Decimal `db:"unit_cost" json:"unit_cost"`
	ReorderThreshold decimal.Decimal `db:"reorder_threshold" json:"reorder_threshold"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

// MaterialFilter narrows a material listing
type MaterialFilter struct {
	Category string
	Search   string
}

// MaterialRepository handles material persistence
type MaterialRepository struct {
	db *database.DB
}

// NewMaterialRepository creates a new material repository
func NewMaterialRepository(db *database.DB) *MaterialRepository {
	return &MaterialRepository{db: db}
}

const materialColumns = `id, material_name, category, unit_of_measure, unit_cost, reorder_threshold, created_at, updated_at`

// Create inserts a material
func (r *MaterialRepository) Create(ctx context.Context, m *Material) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}

	query := `
		INSERT INTO materials (id, material_name, category, unit_of_measure, unit_cost, reorder_threshold)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRowxContext(ctx, query,
		m.ID, m.Name, m.Category, m.UnitOfMeasure, m.UnitCost, m.ReorderThreshold,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
	if appErr := database.MapPQError(err); appErr != nil {
		return appErr
	}
	return err
}

// GetByID gets a material by ID
func (r *MaterialRepository) GetByID(ctx context.Context, id string) (*Material, error) {
	var m Material
	query := `SELECT ` + materialColumns + ` FROM materials WHERE id = $1`
	if err := r.db.GetContext(ctx, &m, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("material")
		}
		return nil, err
	}
	return &m, nil
}

// List lists materials ordered by name
func (r *MaterialRepository) List(ctx context.Context, filter MaterialFilter) ([]*Material, error) {
	var conditions []string
	args := []interface{}{}

	if filter.Category != "" {
		args = append(args, filter.Category)
		conditions = append(conditions, fmt.Sprintf("category = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		conditions = append(conditions, fmt.Sprintf("material_name ILIKE $%d", len(args)))
	}

	query := `SELECT ` + materialColumns + ` FROM materials`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY material_name`

	var materials []*Material
	if err := r.db.SelectContext(ctx, &materials, query, args...); err != nil {
		return nil, err
	}
	return materials, nil
}

// Update updates a material
func (r *MaterialRepository) Update(ctx context.Context, m *Material) error {
	query := `
		UPDATE materials SET
			material_name = $2, category = $3, unit_of_measure = $4,
			unit_cost = $5, reorder_threshold = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRowxContext(ctx, query,
		m.ID, m.Name, m.Category, m.UnitOfMeasure, m.UnitCost, m.ReorderThreshold,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return errors.NotFound("material")
	}
	if appErr := database.MapPQError(err); appErr != nil {
		return appErr
	}
	return err
}

// Categories returns the distinct material categories in use
func (r *MaterialRepository) Categories(ctx context.Context) ([]string, error) {
	categories := []string{}
	query := `SELECT DISTINCT category FROM materials ORDER BY category`
	if err := r.db.SelectContext(ctx, &categories, query); err != nil {
		return nil, err
	}
	return categories, nil
}
