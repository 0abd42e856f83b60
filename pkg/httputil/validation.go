package httputil

import (
	"math"
	"reflect"
	"strings"

	"github.com/cornerstone/cornerstone-backend/pkg/errors"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()

	// Report fields by their JSON names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// Decimals are validated as their float value so gt/gte/lte work on them.
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return decimalFloat(d)
		}
		return nil
	}, decimal.Decimal{})

	v.RegisterValidation("decimal_gt0", func(fl validator.FieldLevel) bool {
		return fl.Field().Kind() == reflect.Float64 && fl.Field().Float() > 0
	})
	v.RegisterValidation("decimal_gte0", func(fl validator.FieldLevel) bool {
		return fl.Field().Kind() == reflect.Float64 && fl.Field().Float() >= 0
	})

	return v
}

// maxDecimalDigits bounds the magnitude converted exactly; beyond it a value
// is outside every column's range anyway.
const maxDecimalDigits = 20

// decimalFloat converts d without expanding extreme exponents, which
// Float64 does through big.Rat. Out-of-range magnitudes become ±Inf or 0.
func decimalFloat(d decimal.Decimal) float64 {
	if d.IsZero() {
		return 0
	}
	magnitude := d.NumDigits() + int(d.Exponent())
	switch {
	case magnitude > maxDecimalDigits:
		return math.Inf(d.Sign())
	case magnitude < -maxDecimalDigits:
		return 0
	}
	f, _ := d.Float64()
	return f
}

// Validate validates a struct using go-playground/validator
func Validate(v interface{}) error {
	if err := validate.Struct(v); err != nil {
		validationErrors, ok := err.(validator.ValidationErrors)
		if !ok {
			return errors.BadRequest("invalid request")
		}
		details := make(map[string]string)

		for _, e := range validationErrors {
			details[e.Field()] = formatValidationError(e)
		}

		return errors.Validation(details)
	}
	return nil
}

func formatValidationError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "this field is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return "must be at least " + e.Param() + " characters"
	case "max":
		return "must be at most " + e.Param() + " characters"
	case "uuid":
		return "must be a valid UUID"
	case "oneof":
		return "must be one of: " + e.Param()
	case "eqfield":
		return "must match " + strings.ToLower(e.Param())
	case "gte":
		return "must be at least " + e.Param()
	case "lte":
		return "must be at most " + e.Param()
	case "decimal_gt0":
		return "must be greater than zero"
	case "decimal_gte0":
		return "must not be negative"
	case "datetime":
		return "must be a date in " + e.Param() + " format"
	case "alphanum":
		return "may only contain letters and digits"
	default:
		return "invalid value"
	}
}
