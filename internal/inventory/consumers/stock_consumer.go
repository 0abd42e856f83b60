package consumers

import (
	"context"

	"github.com/cornerstone/cornerstone-backend/internal/inventory/service"
	"github.com/cornerstone/cornerstone-backend/pkg/logger"
	"github.com/cornerstone/cornerstone-backend/pkg/messaging"
)

// LineEvaluator re-checks the alert state of one inventory line
type LineEvaluator interface {
	EvaluateLine(ctx context.Context, siteID, materialID string) (service.Classification, error)
}

// StockEventHandler evaluates alerts for every line a movement touched
type StockEventHandler struct {
	evaluator LineEvaluator
	logger    *logger.Logger
}

// NewStockEventHandler creates a new stock event handler
func NewStockEventHandler(evaluator LineEvaluator, log *logger.Logger) *StockEventHandler {
	return &StockEventHandler{
		evaluator: evaluator,
		logger:    log,
	}
}

// HandleEvent evaluates each moved line. The first failure is returned after
// all lines have been tried so the message is redelivered.
func (h *StockEventHandler) HandleEvent(ctx context.Context, event *messaging.Event) error {
	if event.Type != messaging.EventStockMoved {
		return nil
	}

	var data messaging.StockMovedEvent
	if err := event.UnmarshalData(&data); err != nil {
		h.logger.Error().Err(err).Msg("failed to unmarshal StockMovedEvent")
		return err
	}

	var firstErr error
	for _, line := range data.Lines {
		c, err := h.evaluator.EvaluateLine(ctx, line.SiteID, line.MaterialID)
		if err != nil {
			h.logger.Error().
				Err(err).
				Str("site_id", line.SiteID).
				Str("material_id", line.MaterialID).
				Msg("failed to evaluate line")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		h.logger.Debug().
			Str("site_id", line.SiteID).
			Str("material_id", line.MaterialID).
			Str("alert_type", c.Type).
			Msg("line evaluated")
	}
	return firstErr
}

// StockEventConsumer consumes the service's own movement events
type StockEventConsumer struct {
	consumer *messaging.Consumer
}

// NewStockEventConsumer creates a new stock event consumer
func NewStockEventConsumer(rmq *messaging.RabbitMQ, handler *StockEventHandler, log *logger.Logger) (*StockEventConsumer, error) {
	consumer, err := messaging.NewConsumer(rmq, "inventory-service.stock-events", log)
	if err != nil {
		return nil, err
	}

	if err := consumer.Subscribe(messaging.ExchangeInventoryEvents, messaging.EventStockMoved); err != nil {
		return nil, err
	}
	consumer.RegisterHandler(messaging.EventStockMoved, handler.HandleEvent)

	return &StockEventConsumer{consumer: consumer}, nil
}

// Start starts consuming messages
func (c *StockEventConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}
