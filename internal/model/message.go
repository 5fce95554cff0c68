package model

import (
	"time"
)

type Message struct {
	ID          string           `db:"id" json:"id"`
	SessionID   string           `db:"session_id" json:"sessionId"`
	Direction   MessageDirection `db:"direction" json:"direction"`
	Peer        string           `db:"peer" json:"peer"`
	Content     string           `db:"content" json:"content"`
	MessageType string           `db:"message_type" json:"type"`
	CreatedAt   time.Time        `db:"created_at" json:"createdAt"`
}

type CreateMessageParams struct {
	SessionID   string
	Direction   MessageDirection
	Peer        string
	Content     string
	MessageType string
}
