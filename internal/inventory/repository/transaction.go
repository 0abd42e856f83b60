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

// Transaction types
const (
	TransactionIn          = "IN"
	TransactionOut         = "OUT"
	TransactionTransferIn  = "TRANSFER_IN"
	TransactionTransferOut = "TRANSFER_OUT"
)

// Transaction is one append-only movement row. BalanceAfter is the line
// quantity right after this row's delta was applied.
type Transaction struct {
	ID            string          `db:"id" json:"id"`
	SiteID        string          `db:"site_id" json:"site_id"`
	MaterialID    string          `db:"material_id" json:"material_id"`
	Type          string          `db:"transaction_type" json:"transaction_type"`
	Quantity      decimal.Decimal `db:"quantity" json:"quantity"`
	BalanceAfter  decimal.Decimal `db:"balance_after" json:"balance_after"`
	RelatedSiteID *string         `db:"related_site_id" json:"related_site_id,omitempty"`
	UserID        *string         `db:"user_id" json:"user_id,omitempty"`
	Notes         *string         `db:"notes" json:"notes,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// TransactionView is a transaction with the names needed to display it.
// PerformedBy is empty for anonymized or system movements.
type TransactionView struct {
	Transaction
	SiteName        string  `db:"site_name" json:"site_name"`
	MaterialName    string  `db:"material_name" json:"material_name"`
	UnitOfMeasure   string  `db:"unit_of_measure" json:"unit_of_measure"`
	RelatedSiteName *string `db:"related_site_name" json:"related_site_name,omitempty"`
	PerformedBy     *string `db:"performed_by" json:"performed_by,omitempty"`
}

// TransactionFilter narrows a transaction listing
type TransactionFilter struct {
	SiteID     string
	MaterialID string
	Type       string
	Page       int
	PerPage    int
}

// TransactionRepository handles the movement history
type TransactionRepository struct {
	db *database.DB
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db *database.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Create appends a transaction row
func (r *TransactionRepository) Create(ctx context.Context, t *Transaction) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO transactions (id, site_id, material_id, transaction_type, quantity, balance_after,
		                          related_site_id, user_id, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.ExecContext(ctx, query,
		t.ID, t.SiteID, t.MaterialID, t.Type, t.Quantity, t.BalanceAfter,
		t.RelatedSiteID, t.UserID, t.Notes, t.CreatedAt,
	)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return fmt.Errorf("failed to record transaction: %w", err)
	}
	return nil
}

// List returns a page of transactions, newest first, and the total count
func (r *TransactionRepository) List(ctx context.Context, filter TransactionFilter) ([]*TransactionView, int64, error) {
	var conditions []string
	args := []interface{}{}

	if filter.SiteID != "" {
		args = append(args, filter.SiteID)
		conditions = append(conditions, fmt.Sprintf("t.site_id = $%d", len(args)))
	}
	if filter.MaterialID != "" {
		args = append(args, filter.MaterialID)
		conditions = append(conditions, fmt.Sprintf("t.material_id = $%d", len(args)))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		conditions = append(conditions, fmt.Sprintf("t.transaction_type = $%d", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = ` WHERE ` + strings.Join(conditions, " AND ")
	}

	var total int64
	countQuery := `SELECT COUNT(*) FROM transactions t` + where
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, err
	}

	page, perPage := filter.Page, filter.PerPage
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	args = append(args, perPage, (page-1)*perPage)

	query := fmt.Sprintf(`
		SELECT t.id, t.site_id, t.material_id, t.transaction_type, t.quantity, t.balance_after,
		       t.related_site_id, t.user_id, t.notes, t.created_at,
		       s.site_name, m.material_name, m.unit_of_measure,
		       rs.site_name AS related_site_name,
		       u.full_name AS performed_by
		FROM transactions t
		JOIN sites s ON s.id = t.site_id
		JOIN materials m ON m.id = t.material_id
		LEFT JOIN sites rs ON rs.id = t.related_site_id
		LEFT JOIN user_cache u ON u.user_id = t.user_id
		%s
		ORDER BY t.created_at DESC, t.id
		LIMIT $%d OFFSET $%d
	`, where, len(args)-1, len(args))

	var rows []*TransactionView
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// ListByLine returns every transaction of one line in insertion order
func (r *TransactionRepository) ListByLine(ctx context.Context, siteID, materialID string) ([]*Transaction, error) {
	query := `
		SELECT id, site_id, material_id, transaction_type, quantity, balance_after,
		       related_site_id, user_id, notes, created_at
		FROM transactions
		WHERE site_id = $1 AND material_id = $2
		ORDER BY created_at, id
	`
	var rows []*Transaction
	if err := r.db.SelectContext(ctx, &rows, query, siteID, materialID); err != nil {
		return nil, err
	}
	return rows, nil
}

// UsageSince sums OUT and TRANSFER_OUT quantities of a line since the given time
func (r *TransactionRepository) UsageSince(ctx context.Context, siteID, materialID string, since time.Time) (decimal.Decimal, error) {
	var used decimal.Decimal
	query := `
		SELECT COALESCE(SUM(quantity), 0)
		FROM transactions
		WHERE site_id = $1 AND material_id = $2
		  AND transaction_type IN ('OUT', 'TRANSFER_OUT')
		  AND created_at >= $3
	`
	if err := r.db.GetContext(ctx, &used, query, siteID, materialID, since); err != nil {
		return decimal.Zero, err
	}
	return used, nil
}

// AnonymizeUser clears the user reference of every transaction performed by
// a deleted account. The rows themselves are kept.
func (r *TransactionRepository) AnonymizeUser(ctx context.Context, userID string) (int64, error) {
	query := `UPDATE transactions SET user_id = NULL WHERE user_id = $1`
	result, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
