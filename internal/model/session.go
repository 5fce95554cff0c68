package model

import (
	"time"
)

type Session struct {
	ID               string       `db:"id" json:"id"`
	Name             string       `db:"name" json:"name"`
	State            SessionState `db:"state" json:"state"`
	PhoneNumber      *string      `db:"phone_number" json:"phoneNumber,omitempty"`
	CreatedAt        time.Time    `db:"created_at" json:"createdAt"`
	StartedAt        time.Time    `db:"started_at" json:"startedAt"`
	LastActivityAt   time.Time    `db:"last_activity_at" json:"lastActivityAt"`
	MessagesSent     int64        `db:"messages_sent" json:"messagesSent"`
	MessagesReceived int64        `db:"messages_received" json:"messagesReceived"`
	ErrorCount       int64        `db:"error_count" json:"errorCount"`
	DeletedAt        *time.Time   `db:"deleted_at" json:"-"`
	UpdatedAt        time.Time    `db:"updated_at" json:"updatedAt"`
}

// UptimeSeconds is the age of the current connection attempt.
func (s *Session) UptimeSeconds(now time.Time) int64 {
	if s.StartedAt.IsZero() || s.State.IsTerminal() {
		return 0
	}
	return int64(now.Sub(s.StartedAt).Seconds())
}

func (s *Session) SecondsSinceLastActivity(now time.Time) int64 {
	if s.LastActivityAt.IsZero() {
		return 0
	}
	return int64(now.Sub(s.LastActivityAt).Seconds())
}

type CreateSessionParams struct {
	ID        string
	Name      string
	State     SessionState
	CreatedAt time.Time
}

type UpdateSessionStateParams struct {
	ID             string
	State          SessionState
	PhoneNumber    *string
	StartedAt      time.Time
	LastActivityAt time.Time
	ErrorCount     int64
}
