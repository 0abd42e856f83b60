package events

import (
	"context"
	"time"

	"github.com/cornerstone/cornerstone-backend/internal/auth/repository"
	"github.com/cornerstone/cornerstone-backend/pkg/logger"
	"github.com/cornerstone/cornerstone-backend/pkg/messaging"
)

// UserEventPublisher publishes account events. A nil publisher drops events.
type UserEventPublisher struct {
	publisher messaging.EventPublisher
	logger    *logger.Logger
}

// NewUserEventPublisher creates a publisher on the user exchange
func NewUserEventPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*UserEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeUserEvents, "auth-service", log)
	if err != nil {
		return nil, err
	}
	return NewWithPublisher(publisher, log), nil
}

// NewWithPublisher wraps an existing EventPublisher
func NewWithPublisher(publisher messaging.EventPublisher, log *logger.Logger) *UserEventPublisher {
	return &UserEventPublisher{
		publisher: publisher,
		logger:    log.WithComponent("user-events"),
	}
}

// PublishUserCreated announces a verified account
func (p *UserEventPublisher) PublishUserCreated(ctx context.Context, u *repository.User) {
	if p == nil {
		return
	}
	p.publish(ctx, messaging.EventUserCreated, messaging.UserCreatedEvent{
		UserID:   u.ID,
		Username: u.Username,
		Email:    u.Email,
		FullName: u.FullName,
		Role:     u.Role,
	})
}

// PublishUserDeleted announces a removed account
func (p *UserEventPublisher) PublishUserDeleted(ctx context.Context, u *repository.User) {
	if p == nil {
		return
	}
	p.publish(ctx, messaging.EventUserDeleted, messaging.UserDeletedEvent{
		UserID:   u.ID,
		Username: u.Username,
		Email:    u.Email,
	})
}

// PublishVerificationRequested hands a sign-up code to the mailer. It
// returns the error since the caller cannot complete sign-up without it.
func (p *UserEventPublisher) PublishVerificationRequested(ctx context.Context, email, fullName, code string, expiresAt time.Time) error {
	if p == nil {
		return nil
	}
	return p.publisher.Publish(ctx, messaging.EventUserVerificationRequested, messaging.VerificationRequestedEvent{
		Email:     email,
		FullName:  fullName,
		Code:      code,
		ExpiresAt: expiresAt,
	})
}

func (p *UserEventPublisher) publish(ctx context.Context, eventType string, data interface{}) {
	if err := p.publisher.Publish(ctx, eventType, data); err != nil {
		p.logger.Error().Err(err).Str("event_type", eventType).Msg("failed to publish user event")
	}
}
