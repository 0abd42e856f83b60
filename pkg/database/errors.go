package database

import (
	stderrors "errors"
	"strings"

	"github.com/cornerstone/cornerstone-backend/pkg/errors"
	"github.com/lib/pq"
)

// MapPQError converts a PostgreSQL error to an AppError with meaningful messages.
// Returns nil if the error is not a pq.Error.
func MapPQError(err error) *errors.AppError {
	var pqErr *pq.Error
	if !stderrors.As(err, &pqErr) {
		return nil
	}

	switch pqErr.Code {
	// Check constraint violation (23514)
	case "23514":
		return mapCheckConstraint(pqErr)

	// Unique constraint violation (23505)
	case "23505":
		return errors.Conflict(formatConstraintMessage(pqErr))

	// Foreign key violation (23503)
	case "23503":
		return errors.BadRequest("referenced record does not exist")

	// Not null violation (23502)
	case "23502":
		col := pqErr.Column
		if col == "" {
			col = "required field"
		}
		return errors.Validation(map[string]string{
			col: "must not be empty",
		})

	// Numeric value out of range (22003)
	case "22003":
		return errors.Validation(map[string]string{
			"value": "is out of range",
		})

	default:
		return nil
	}
}

func mapCheckConstraint(pqErr *pq.Error) *errors.AppError {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "quantity_non_negative"):
		return errors.InsufficientStock("Insufficient inventory. Cannot remove more than available.")

	case strings.Contains(constraint, "status_valid"):
		return errors.Validation(map[string]string{
			"status": "must be one of: active, inactive, finished, halted_insufficient_materials",
		})

	case strings.Contains(constraint, "price_non_negative"):
		return errors.Validation(map[string]string{
			"unit_cost": "must not be negative",
		})

	case strings.Contains(constraint, "threshold_non_negative"):
		return errors.Validation(map[string]string{
			"reorder_threshold": "must not be negative",
		})

	default:
		return errors.BadRequest("data validation failed: " + constraint)
	}
}

func formatConstraintMessage(pqErr *pq.Error) string {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "username"):
		return "Username already exists"
	case strings.Contains(constraint, "email"):
		return "Email already registered"
	case strings.Contains(constraint, "sites_name"):
		return "a site with this name already exists"
	case strings.Contains(constraint, "materials_name"):
		return "a material with this name already exists"
	default:
		return "a record with these values already exists"
	}
}
