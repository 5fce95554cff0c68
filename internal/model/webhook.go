package model

import (
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
)

type WebhookConfig struct {
	SessionID  string         `db:"session_id" json:"sessionId"`
	URL        string         `db:"url" json:"url"`
	EventTypes pq.StringArray `db:"event_types" json:"eventTypes"`
	Secret     *string        `db:"secret" json:"-"`
	CreatedAt  time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time      `db:"updated_at" json:"updatedAt"`
}

func (c *WebhookConfig) Subscribes(eventType WebhookEventType) bool {
	for _, t := range c.EventTypes {
		if WebhookEventType(t) == eventType {
			return true
		}
	}
	return false
}

type UpsertWebhookConfigParams struct {
	SessionID  string
	URL        string
	EventTypes []string
	Secret     *string
}

// WebhookEvent is one delivery chain. It is created before the first attempt
// and updated in place after every attempt.
type WebhookEvent struct {
	ID           string             `db:"id" json:"id"`
	SessionID    string             `db:"session_id" json:"sessionId"`
	EventType    WebhookEventType   `db:"event_type" json:"eventType"`
	TargetURL    string             `db:"target_url" json:"targetUrl"`
	Payload      types.JSONText     `db:"payload" json:"payload"`
	Status       WebhookEventStatus `db:"status" json:"status"`
	HTTPStatus   *int               `db:"http_status" json:"httpStatus"`
	RetryCount   int                `db:"retry_count" json:"retryCount"`
	ErrorMessage *string            `db:"error_message" json:"errorMessage,omitempty"`
	CreatedAt    time.Time          `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time          `db:"updated_at" json:"updatedAt"`
}

type CreateWebhookEventParams struct {
	SessionID string
	EventType WebhookEventType
	TargetURL string
	Payload   types.JSONText
}

type RecordWebhookAttemptParams struct {
	ID           string
	Status       WebhookEventStatus
	HTTPStatus   int
	RetryCount   int
	ErrorMessage *string
}

// WebhookPayload is the JSON body posted to webhook targets.
type WebhookPayload struct {
	Event     WebhookEventType `json:"event"`
	SessionID string           `json:"sessionId"`
	Timestamp string           `json:"timestamp"`
	Data      any              `json:"data"`
}
