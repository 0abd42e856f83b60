package consumers

import (
	"context"

	"github.com/cornerstone/cornerstone-backend/internal/inventory/repository"
	"github.com/cornerstone/cornerstone-backend/pkg/logger"
	"github.com/cornerstone/cornerstone-backend/pkg/messaging"
)

// UserCache is the subset of the user cache the handler writes to
type UserCache interface {
	Set(ctx context.Context, user *repository.CachedUser) error
	Delete(ctx context.Context, userID string) error
}

// TransactionAnonymizer detaches movement history from a deleted account
type TransactionAnonymizer interface {
	AnonymizeUser(ctx context.Context, userID string) (int64, error)
}

// UserEventHandler keeps the local user cache in sync (testable without RabbitMQ)
type UserEventHandler struct {
	cache  UserCache
	txns   TransactionAnonymizer
	logger *logger.Logger
}

// NewUserEventHandler creates a new user event handler
func NewUserEventHandler(cache UserCache, txns TransactionAnonymizer, log *logger.Logger) *UserEventHandler {
	return &UserEventHandler{
		cache:  cache,
		txns:   txns,
		logger: log,
	}
}

// HandleEvent dispatches a user event by type
func (h *UserEventHandler) HandleEvent(ctx context.Context, event *messaging.Event) error {
	switch event.Type {
	case messaging.EventUserCreated:
		return h.handleUserCreated(ctx, event)
	case messaging.EventUserDeleted:
		return h.handleUserDeleted(ctx, event)
	default:
		h.logger.Debug().Str("event_type", event.Type).Msg("ignoring user event")
		return nil
	}
}

func (h *UserEventHandler) handleUserCreated(ctx context.Context, event *messaging.Event) error {
	var data messaging.UserCreatedEvent
	if err := event.UnmarshalData(&data); err != nil {
		h.logger.Error().Err(err).Msg("failed to unmarshal UserCreatedEvent")
		return err
	}

	if err := h.cache.Set(ctx, &repository.CachedUser{
		UserID:   data.UserID,
		Username: data.Username,
		FullName: data.FullName,
		Email:    data.Email,
		Role:     data.Role,
	}); err != nil {
		h.logger.Error().Err(err).Str("user_id", data.UserID).Msg("failed to cache user")
		return err
	}

	h.logger.Info().
		Str("user_id", data.UserID).
		Str("username", data.Username).
		Msg("user cached")
	return nil
}

func (h *UserEventHandler) handleUserDeleted(ctx context.Context, event *messaging.Event) error {
	var data messaging.UserDeletedEvent
	if err := event.UnmarshalData(&data); err != nil {
		h.logger.Error().Err(err).Msg("failed to unmarshal UserDeletedEvent")
		return err
	}

	n, err := h.txns.AnonymizeUser(ctx, data.UserID)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", data.UserID).Msg("failed to anonymize transactions")
		return err
	}
	if err := h.cache.Delete(ctx, data.UserID); err != nil {
		return err
	}

	h.logger.Info().
		Str("user_id", data.UserID).
		Int64("transactions_anonymized", n).
		Msg("user removed from cache")
	return nil
}

// UserEventConsumer consumes user events from the auth service
type UserEventConsumer struct {
	consumer *messaging.Consumer
	handler  *UserEventHandler
}

// NewUserEventConsumer creates a new user event consumer
func NewUserEventConsumer(rmq *messaging.RabbitMQ, handler *UserEventHandler, log *logger.Logger) (*UserEventConsumer, error) {
	consumer, err := messaging.NewConsumer(rmq, "inventory-service.user-events", log)
	if err != nil {
		return nil, err
	}

	if err := consumer.Subscribe(messaging.ExchangeUserEvents, "user.#"); err != nil {
		return nil, err
	}

	consumer.RegisterHandler(messaging.EventUserCreated, handler.HandleEvent)
	consumer.RegisterHandler(messaging.EventUserDeleted, handler.HandleEvent)

	return &UserEventConsumer{consumer: consumer, handler: handler}, nil
}

// Start starts consuming messages
func (c *UserEventConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}
