package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	// User events
	EventUserCreated               = "user.created"
	EventUserDeleted               = "user.deleted"
	EventUserVerificationRequested = "user.verification.requested"

	// Inventory events
	EventStockMoved     = "inventory.stock.moved"
	EventAlertGenerated = "inventory.alert.generated"
)

// Exchange names
const (
	ExchangeUserEvents      = "user.events"
	ExchangeInventoryEvents = "inventory.events"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            GenerateEventID(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// User Events

// UserCreatedEvent is published once a verified sign-up becomes an account.
type UserCreatedEvent struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

// UserDeletedEvent is published after an account is removed.
type UserDeletedEvent struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// VerificationRequestedEvent carries a sign-up code to the mailer.
type VerificationRequestedEvent struct {
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Inventory Events

// MovedLine identifies one inventory line touched by a movement.
type MovedLine struct {
	SiteID      string `json:"site_id"`
	MaterialID  string `json:"material_id"`
	NewQuantity string `json:"new_quantity"`
}

// StockMovedEvent is published after a movement commits.
// Quantities travel as decimal strings.
type StockMovedEvent struct {
	Type           string      `json:"type"`
	TransactionIDs []string    `json:"transaction_ids"`
	MaterialID     string      `json:"material_id"`
	Quantity       string      `json:"quantity"`
	Lines          []MovedLine `json:"lines"`
	PerformedBy    string      `json:"performed_by"`
}

// AlertGeneratedEvent is published when an alert is generated
type AlertGeneratedEvent struct {
	AlertID    string `json:"alert_id"`
	AlertType  string `json:"alert_type"`
	SiteID     string `json:"site_id"`
	MaterialID string `json:"material_id"`
	Message    string `json:"message"`
}

// GenerateEventID generates a unique event ID
func GenerateEventID() string {
	return uuid.NewString()
}
