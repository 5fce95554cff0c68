package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Willytecheira/nexus-wa-core-sub000/internal/model"
)

type MessageRepository interface {
	Create(ctx context.Context, params model.CreateMessageParams) (*model.Message, error)
	FindBySessionID(ctx context.Context, sessionID string, limit, offset int) ([]model.Message, error)
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

type messageRepo struct {
	db *sqlx.DB
}

func NewMessageRepository(db *sqlx.DB) MessageRepository {
	return &messageRepo{db: db}
}

func (r *messageRepo) Create(ctx context.Context, params model.CreateMessageParams) (*model.Message, error) {
	var msg model.Message
	err := r.db.GetContext(ctx, &msg, `
		INSERT INTO messages (session_id, direction, peer, content, message_type)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING *
	`, params.SessionID, params.Direction, params.Peer, params.Content, params.MessageType)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *messageRepo) FindBySessionID(ctx context.Context, sessionID string, limit, offset int) ([]model.Message, error) {
	var msgs []model.Message
	err := r.db.SelectContext(ctx, &msgs, `
		SELECT * FROM messages
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, sessionID, limit, offset)
	return msgs, err
}

func (r *messageRepo) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE created_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
