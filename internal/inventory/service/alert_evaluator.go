package service

import (
	"context"
	"fmt"
	"time"

	"github.com/cornerstone/cornerstone-backend/internal/inventory/events"
	"github.com/cornerstone/cornerstone-backend/internal/inventory/repository"
	"github.com/cornerstone/cornerstone-backend/pkg/actor"
	"github.com/cornerstone/cornerstone-backend/pkg/config"
	"github.com/cornerstone/cornerstone-backend/pkg/logger"
	"github.com/cornerstone/cornerstone-backend/pkg/metrics"
	"github.com/shopspring/decimal"
)

// AlertPolicy holds the tunables of stock classification
type AlertPolicy struct {
	// PredictivePercentage widens the threshold for predictive alerts, in percent.
	PredictivePercentage decimal.Decimal
	UsageAnalysisDays    int
	ForecastHorizonDays  int
}

// DefaultAlertPolicy is 20% over threshold, 30 days of history and a 7 day horizon
func DefaultAlertPolicy() AlertPolicy {
	return AlertPolicy{
		PredictivePercentage: decimal.NewFromInt(20),
		UsageAnalysisDays:    30,
		ForecastHorizonDays:  7,
	}
}

// AlertPolicyFromConfig builds a policy from the inventory config,
// falling back to the defaults for unset values
func AlertPolicyFromConfig(cfg *config.InventoryConfig) AlertPolicy {
	p := DefaultAlertPolicy()
	if cfg == nil {
		return p
	}
	if cfg.PredictiveAlertPercentage > 0 {
		p.PredictivePercentage = decimal.NewFromFloat(cfg.PredictiveAlertPercentage)
	}
	if cfg.UsageAnalysisDays > 0 {
		p.UsageAnalysisDays = cfg.UsageAnalysisDays
	}
	if cfg.ForecastHorizonDays > 0 {
		p.ForecastHorizonDays = cfg.ForecastHorizonDays
	}
	return p
}

// Classification is the outcome of classifying one line. Type is empty
// when the line needs no alert.
type Classification struct {
	Type string
	// DaysUntilThreshold is set for predictive alerts.
	DaysUntilThreshold decimal.NullDecimal
}

// Classify decides which alert, if any, a line deserves. velocity is the
// average daily usage.
func (p AlertPolicy) Classify(quantity, threshold, velocity decimal.Decimal) Classification {
	if !threshold.IsPositive() {
		return Classification{}
	}
	if quantity.LessThan(threshold) {
		return Classification{Type: repository.AlertLowStock}
	}
	if !velocity.IsPositive() {
		return Classification{}
	}

	margin := decimal.NewFromInt(1).Add(p.PredictivePercentage.Div(decimal.NewFromInt(100)))
	nearThreshold := quantity.LessThan(threshold.Mul(margin))
	projected := quantity.Sub(velocity.Mul(decimal.NewFromInt(int64(p.ForecastHorizonDays))))

	if nearThreshold || projected.LessThan(threshold) {
		days := quantity.Sub(threshold).Div(velocity).Round(1)
		return Classification{Type: repository.AlertPredictiveReorder, DaysUntilThreshold: decimal.NewNullDecimal(days)}
	}
	return Classification{}
}

// Velocity is the average daily usage over the analysis window
func (p AlertPolicy) Velocity(used decimal.Decimal) decimal.Decimal {
	if p.UsageAnalysisDays <= 0 {
		return decimal.Zero
	}
	return used.Div(decimal.NewFromInt(int64(p.UsageAnalysisDays)))
}

// AlertEvaluator raises and clears stock alerts. It never changes the ledger.
type AlertEvaluator struct {
	ledger    *repository.LedgerRepository
	txns      *repository.TransactionRepository
	alerts    *repository.AlertRepository
	publisher *events.InventoryEventPublisher
	metrics   *metrics.Inventory
	policy    AlertPolicy
	logger    *logger.Logger
	now       func() time.Time
}

// NewAlertEvaluator creates a new alert evaluator
func NewAlertEvaluator(
	ledger *repository.LedgerRepository,
	txns *repository.TransactionRepository,
	alerts *repository.AlertRepository,
	publisher *events.InventoryEventPublisher,
	m *metrics.Inventory,
	policy AlertPolicy,
	log *logger.Logger,
) *AlertEvaluator {
	return &AlertEvaluator{
		ledger:    ledger,
		txns:      txns,
		alerts:    alerts,
		publisher: publisher,
		metrics:   m,
		policy:    policy,
		logger:    log.WithComponent("alert-evaluator"),
		now:       time.Now,
	}
}

// EvaluateLine classifies one line, raises the matching alert unless an open
// one of that type exists, and resolves open alerts of any other type.
// It returns the classification it acted on.
func (e *AlertEvaluator) EvaluateLine(ctx context.Context, siteID, materialID string) (Classification, error) {
	line, err := e.ledger.GetLine(ctx, siteID, materialID)
	if err != nil {
		return Classification{}, err
	}
	return e.evaluate(ctx, line)
}

// ScanAll evaluates every line of every site that accepts movements.
// Failures on single lines are logged and the scan continues.
func (e *AlertEvaluator) ScanAll(ctx context.Context) error {
	start := time.Now()

	lines, err := e.ledger.ListLinesForScan(ctx)
	if err != nil {
		return fmt.Errorf("list lines for scan: %w", err)
	}

	failed := 0
	for _, line := range lines {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := e.evaluate(ctx, line); err != nil {
			failed++
			e.logger.Error().Err(err).
				Str("site_id", line.SiteID).
				Str("material_id", line.MaterialID).
				Msg("failed to evaluate line")
		}
	}

	e.metrics.ObserveAlertScan(time.Since(start).Seconds())
	e.logger.Info().
		Int("lines", len(lines)).
		Int("failed", failed).
		Dur("duration", time.Since(start)).
		Msg("alert scan completed")
	return nil
}

func (e *AlertEvaluator) evaluate(ctx context.Context, line *repository.LineSnapshot) (Classification, error) {
	since := e.now().UTC().AddDate(0, 0, -e.policy.UsageAnalysisDays)
	used, err := e.txns.UsageSince(ctx, line.SiteID, line.MaterialID, since)
	if err != nil {
		return Classification{}, fmt.Errorf("usage since %s: %w", since.Format(time.DateOnly), err)
	}

	result := e.policy.Classify(line.Quantity, line.ReorderThreshold, e.policy.Velocity(used))

	system := actor.SystemID
	if _, err := e.alerts.ResolveOthers(ctx, line.SiteID, line.MaterialID, result.Type, &system); err != nil {
		return result, fmt.Errorf("resolve cleared alerts: %w", err)
	}
	if result.Type == "" {
		return result, nil
	}

	alert := &repository.Alert{
		Type:       result.Type,
		SiteID:     line.SiteID,
		MaterialID: line.MaterialID,
		Message:    alertMessage(line, result),
		Quantity:   line.Quantity,
		Threshold:  line.ReorderThreshold,
	}
	created, err := e.alerts.CreateIfAbsent(ctx, alert)
	if err != nil {
		return result, err
	}
	if created {
		e.metrics.AlertGenerated(alert.Type)
		e.publisher.PublishAlertGenerated(ctx, alert)
		e.logger.Info().
			Str("alert_type", alert.Type).
			Str("site_id", alert.SiteID).
			Str("material_id", alert.MaterialID).
			Msg("alert generated")
	}
	return result, nil
}

func alertMessage(line *repository.LineSnapshot, c Classification) string {
	switch c.Type {
	case repository.AlertLowStock:
		return fmt.Sprintf("Low stock: %s at %s is %s %s, below the reorder threshold of %s.",
			line.MaterialName, line.SiteName,
			line.Quantity.StringFixed(2), line.UnitOfMeasure, line.ReorderThreshold.StringFixed(2))
	default:
		return fmt.Sprintf("Reorder soon: %s at %s (%s %s on hand) is projected to reach the reorder threshold of %s in %s days.",
			line.MaterialName, line.SiteName,
			line.Quantity.StringFixed(2), line.UnitOfMeasure, line.ReorderThreshold.StringFixed(2),
			c.DaysUntilThreshold.Decimal.StringFixed(1))
	}
}

// ListAlerts returns a page of alerts
func (e *AlertEvaluator) ListAlerts(ctx context.Context, filter repository.AlertFilter) ([]*repository.AlertView, int64, error) {
	return e.alerts.List(ctx, filter)
}

// ResolveAlert marks an alert resolved by the acting user
func (e *AlertEvaluator) ResolveAlert(ctx context.Context, id string) (*repository.Alert, error) {
	by := actor.OrSystem(ctx).ID
	alert, err := e.alerts.Resolve(ctx, id, &by)
	if err != nil {
		return nil, err
	}
	e.logger.Info().Str("alert_id", id).Str("resolved_by", by).Msg("alert resolved")
	return alert, nil
}
