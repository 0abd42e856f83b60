package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// Inventory records ledger and alert activity.
type Inventory struct {
	movements        *prometheus.CounterVec
	movedQuantity    *prometheus.CounterVec
	rejected         *prometheus.CounterVec
	alertsGenerated  *prometheus.CounterVec
	alertScanSeconds prometheus.Histogram
}

// NewInventory registers the inventory collectors on r.
func NewInventory(r *Registry) *Inventory {
	m := &Inventory{
		movements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inventory_movements_total",
				Help: "Committed inventory movements by type",
			},
			[]string{"type"},
		),
		movedQuantity: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inventory_moved_quantity_total",
				Help: "Sum of quantities moved by movement type",
			},
			[]string{"type"},
		),
		rejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inventory_movements_rejected_total",
				Help: "Movements rejected or rolled back, by error code",
			},
			[]string{"type", "code"},
		),
		alertsGenerated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inventory_alerts_generated_total",
				Help: "Alerts created by type",
			},
			[]string{"type"},
		),
		alertScanSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "inventory_alert_scan_duration_seconds",
				Help:    "Duration of full alert scans",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
	r.reg.MustRegister(m.movements, m.movedQuantity, m.rejected, m.alertsGenerated, m.alertScanSeconds)
	return m
}

// MovementCommitted counts one committed movement.
func (m *Inventory) MovementCommitted(movementType string, qty decimal.Decimal) {
	if m == nil {
		return
	}
	m.movements.WithLabelValues(movementType).Inc()
	f, _ := qty.Float64()
	m.movedQuantity.WithLabelValues(movementType).Add(f)
}

// MovementRejected counts a movement that failed with the given error code.
func (m *Inventory) MovementRejected(movementType, code string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(movementType, code).Inc()
}

// AlertGenerated counts a newly created alert.
func (m *Inventory) AlertGenerated(alertType string) {
	if m == nil {
		return
	}
	m.alertsGenerated.WithLabelValues(alertType).Inc()
}

// ObserveAlertScan records how long a ScanAll pass took.
func (m *Inventory) ObserveAlertScan(seconds float64) {
	if m == nil {
		return
	}
	m.alertScanSeconds.Observe(seconds)
}
