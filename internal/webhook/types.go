package webhook

import (
	"time"
)

type EventType string

const (
	EventMessageReceived     EventType = "message.received"
	EventMessageAcknowledged EventType = "message.acknowledged"
	EventConnectionOpen      EventType = "connection.open"
	EventConnectionClosed    EventType = "connection.closed"
	EventSessionHalted       EventType = "session.halted"
	EventCredentialsUpdated  EventType = "credentials.updated"
)

type DeliveryStatus string

const (
	DeliverySuccess DeliveryStatus = "success"
	DeliveryFailed  DeliveryStatus = "failed"
)

// Config describes where lifecycle events are delivered.
type Config struct {
	URLs       []string
	Secret     string
	Events     []EventType
	Workers    int
	RetryLimit int
	QueueSize  int
	Timeout    time.Duration

	// RetryDelay is multiplied by the attempt number between retries.
	RetryDelay time.Duration

	// DrainTimeout bounds how long Shutdown waits for queued deliveries.
	DrainTimeout time.Duration

	// AllowPrivate permits http and private network targets.
	AllowPrivate bool
}

type WebhookEvent struct {
	ID        string                 `json:"id"`
	EventType EventType              `json:"event_type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

type DeliveryLog struct {
	EventID      string
	URL          string
	EventType    EventType
	Status       DeliveryStatus
	AttemptCount int
	LastError    string
}
