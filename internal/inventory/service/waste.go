package service

import (
	"context"
	"strings"
	"time"

	"github.com/cornerstone/cornerstone-backend/internal/inventory/repository"
	"github.com/cornerstone/cornerstone-backend/pkg/actor"
	"github.com/cornerstone/cornerstone-backend/pkg/errors"
	"github.com/cornerstone/cornerstone-backend/pkg/logger"
	"github.com/shopspring/decimal"
)

// WasteInput is what an operator reports; the variance is derived
type WasteInput struct {
	SiteID           string
	MaterialID       string
	ReportDate       time.Time
	ExpectedQuantity decimal.Decimal
	ActualQuantity   decimal.Decimal
	Notes            string
}

// WasteService records expected-versus-actual usage
type WasteService struct {
	waste     *repository.WasteRepository
	sites     *repository.SiteRepository
	materials *repository.MaterialRepository
	logger    *logger.Logger
}

// NewWasteService creates a new waste service
func NewWasteService(
	waste *repository.WasteRepository,
	sites *repository.SiteRepository,
	materials *repository.MaterialRepository,
	log *logger.Logger,
) *WasteService {
	return &WasteService{
		waste:     waste,
		sites:     sites,
		materials: materials,
		logger:    log.WithComponent("waste"),
	}
}

// ComputeVariance returns actual minus expected and the variance as a
// percentage of expected, rounded to two places. Both inputs are taken at
// the cents the report stores, so the percentage is invalid whenever
// expected rounds to zero. Callers bound the inputs first.
func ComputeVariance(expected, actual decimal.Decimal) (decimal.Decimal, decimal.NullDecimal) {
	expected, actual = expected.Round(2), actual.Round(2)
	variance := actual.Sub(expected)
	if expected.IsZero() {
		return variance, decimal.NullDecimal{}
	}
	pct := variance.Div(expected).Mul(decimal.NewFromInt(100)).Round(2)
	return variance, decimal.NewNullDecimal(pct)
}

// Create records a waste report
func (s *WasteService) Create(ctx context.Context, in WasteInput) (*repository.WasteReport, error) {
	expected, err := wasteQuantity("expected_quantity", in.ExpectedQuantity)
	if err != nil {
		return nil, err
	}
	actual, err := wasteQuantity("actual_quantity", in.ActualQuantity)
	if err != nil {
		return nil, err
	}

	if _, err := s.sites.GetByID(ctx, in.SiteID); err != nil {
		return nil, err
	}
	if _, err := s.materials.GetByID(ctx, in.MaterialID); err != nil {
		return nil, err
	}

	variance, pct := ComputeVariance(expected, actual)
	report := &repository.WasteReport{
		SiteID:             in.SiteID,
		MaterialID:         in.MaterialID,
		ReportDate:         in.ReportDate,
		ExpectedQuantity:   expected,
		ActualQuantity:     actual,
		Variance:           variance,
		VariancePercentage: pct,
	}
	if n := strings.TrimSpace(in.Notes); n != "" {
		report.Notes = &n
	}
	if a := actor.FromContext(ctx); a != nil && !a.IsSystem() {
		report.ReportedBy = &a.ID
	}

	if err := s.waste.Create(ctx, report); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("waste_report_id", report.ID).
		Str("site_id", report.SiteID).
		Str("variance", variance.StringFixed(2)).
		Msg("waste report recorded")
	return report, nil
}

// List lists waste reports
func (s *WasteService) List(ctx context.Context, filter repository.WasteFilter) ([]*repository.WasteReportView, error) {
	return s.waste.List(ctx, filter)
}

func wasteQuantity(field string, qty decimal.Decimal) (decimal.Decimal, error) {
	rounded, ok := roundQuantity(qty)
	switch {
	case !ok:
		return decimal.Zero, errors.Validation(map[string]string{field: "must be at most " + MaxQuantity.StringFixed(2)})
	case rounded.IsNegative():
		return decimal.Zero, errors.Validation(map[string]string{field: "must not be negative"})
	}
	return rounded, nil
}
