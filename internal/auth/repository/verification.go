package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cornerstone/cornerstone-backend/pkg/database"
	"github.com/cornerstone/cornerstone-backend/pkg/errors"
	"github.com/google/uuid"
)

// PendingUser is the sign-up data held until the e-mail is verified
type PendingUser struct {
	Username     string `json:"username"`
	FullName     string `json:"full_name"`
	PasswordHash string `json:"password_hash"`
	Role         string `json:"role"`
}

// Value stores the pending user as JSONB
func (p PendingUser) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// Scan reads the pending user from JSONB
func (p *PendingUser) Scan(src interface{}) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	default:
		return fmt.Errorf("unsupported user_data type %T", src)
	}
}

// VerificationCode is a single-use sign-up code
type VerificationCode struct {
	ID        string      `db:"id"`
	Email     string      `db:"email"`
	Code      string      `db:"code"`
	UserData  PendingUser `db:"user_data"`
	ExpiresAt time.Time   `db:"expires_at"`
	IsUsed    bool        `db:"is_used"`
	CreatedAt time.Time   `db:"created_at"`
}

// VerificationRepository handles verification code persistence
type VerificationRepository struct {
	db *database.DB
}

// NewVerificationRepository creates a new verification repository
func NewVerificationRepository(db *database.DB) *VerificationRepository {
	return &VerificationRepository{db: db}
}

// Create stores a new code
func (r *VerificationRepository) Create(ctx context.Context, v *VerificationCode) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}

	query := `
		INSERT INTO verification_codes (id, email, code, user_data, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`
	return r.db.QueryRowxContext(ctx, query, v.ID, v.Email, v.Code, v.UserData, v.ExpiresAt).Scan(&v.CreatedAt)
}

// Find returns the most recent code matching email and code, used or not
func (r *VerificationRepository) Find(ctx context.Context, email, code string) (*VerificationCode, error) {
	var v VerificationCode
	query := `
		SELECT id, email, code, user_data, expires_at, is_used, created_at
		FROM verification_codes
		WHERE email = $1 AND code = $2
		ORDER BY created_at DESC
		LIMIT 1
	`
	if err := r.db.GetContext(ctx, &v, query, email, code); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("verification code")
		}
		return nil, err
	}
	return &v, nil
}

// MarkUsed consumes a code. It reports false when the code was already used,
// so two concurrent verifications cannot both succeed.
func (r *VerificationRepository) MarkUsed(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE verification_codes SET is_used = TRUE WHERE id = $1 AND NOT is_used`, id)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n == 1, err
}

// DeleteByEmail removes every code issued to an e-mail
func (r *VerificationRepository) DeleteByEmail(ctx context.Context, email string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM verification_codes WHERE email = $1`, email)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
