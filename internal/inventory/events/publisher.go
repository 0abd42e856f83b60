package events

import (
	"context"

	"github.com/cornerstone/cornerstone-backend/internal/inventory/repository"
	"github.com/cornerstone/cornerstone-backend/pkg/logger"
	"github.com/cornerstone/cornerstone-backend/pkg/messaging"
)

// InventoryEventPublisher publishes inventory-related events. A nil
// publisher is valid and drops every event, which is how the service runs
// without RabbitMQ.
type InventoryEventPublisher struct {
	publisher messaging.EventPublisher
	logger    *logger.Logger
}

// NewInventoryEventPublisher creates a publisher on the inventory exchange
func NewInventoryEventPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*InventoryEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeInventoryEvents, "inventory-service", log)
	if err != nil {
		return nil, err
	}
	return NewWithPublisher(publisher, log), nil
}

// NewWithPublisher wraps an existing EventPublisher
func NewWithPublisher(publisher messaging.EventPublisher, log *logger.Logger) *InventoryEventPublisher {
	return &InventoryEventPublisher{
		publisher: publisher,
		logger:    log.WithComponent("inventory-events"),
	}
}

// PublishStockMoved publishes one event for a committed movement. rows holds
// the one (IN, OUT) or two (TRANSFER) transaction rows it produced.
func (p *InventoryEventPublisher) PublishStockMoved(ctx context.Context, movementType string, rows []*repository.Transaction, performedBy string) {
	if p == nil || len(rows) == 0 {
		return
	}

	data := messaging.StockMovedEvent{
		Type:        movementType,
		MaterialID:  rows[0].MaterialID,
		Quantity:    rows[0].Quantity.String(),
		PerformedBy: performedBy,
	}
	for _, row := range rows {
		data.TransactionIDs = append(data.TransactionIDs, row.ID)
		data.Lines = append(data.Lines, messaging.MovedLine{
			SiteID:      row.SiteID,
			MaterialID:  row.MaterialID,
			NewQuantity: row.BalanceAfter.String(),
		})
	}

	if err := p.publisher.Publish(ctx, messaging.EventStockMoved, data); err != nil {
		p.logger.Error().Err(err).Str("material_id", data.MaterialID).Msg("failed to publish stock moved event")
	}
}

// PublishAlertGenerated publishes an alert generated event
func (p *InventoryEventPublisher) PublishAlertGenerated(ctx context.Context, alert *repository.Alert) {
	if p == nil {
		return
	}

	data := messaging.AlertGeneratedEvent{
		AlertID:    alert.ID,
		AlertType:  alert.Type,
		SiteID:     alert.SiteID,
		MaterialID: alert.MaterialID,
		Message:    alert.Message,
	}

	if err := p.publisher.Publish(ctx, messaging.EventAlertGenerated, data); err != nil {
		p.logger.Error().Err(err).Str("alert_id", alert.ID).Msg("failed to publish alert generated event")
	}
}
