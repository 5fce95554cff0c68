package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Willytecheira/nexus-wa-core-sub000/internal/model"
)

type SessionRepository interface {
	FindLive(ctx context.Context) ([]model.Session, error)
	Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error)
	UpdateState(ctx context.Context, params model.UpdateSessionStateParams) error
	IncrementCounter(ctx context.Context, id string, counter model.Counter) error
	MarkDeleted(ctx context.Context, id string) error
}

type sessionRepo struct {
	db *sqlx.DB
}

func NewSessionRepository(db *sqlx.DB) SessionRepository {
	return &sessionRepo{db: db}
}

func (r *sessionRepo) FindLive(ctx context.Context) ([]model.Session, error) {
	var sessions []model.Session
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT * FROM sessions
		WHERE deleted_at IS NULL
		ORDER BY created_at ASC
	`)
	return sessions, err
}

func (r *sessionRepo) Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		INSERT INTO sessions (id, name, state, created_at, started_at, last_activity_at, updated_at)
		VALUES ($1, $2, $3, $4, $4, $4, $4)
		RETURNING *
	`, params.ID, params.Name, params.State, params.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepo) UpdateState(ctx context.Context, params model.UpdateSessionStateParams) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET
			state = $2,
			phone_number = $3,
			started_at = $4,
			last_activity_at = $5,
			error_count = GREATEST(error_count, $6),
			updated_at = $7
		WHERE id = $1 AND deleted_at IS NULL
	`, params.ID, params.State, params.PhoneNumber, params.StartedAt,
		params.LastActivityAt, params.ErrorCount, time.Now())
	return err
}

// IncrementCounter is a write-through bump of one monotonic counter.
func (r *sessionRepo) IncrementCounter(ctx context.Context, id string, counter model.Counter) error {
	var column string
	switch counter {
	case model.CounterMessagesSent, model.CounterMessagesReceived, model.CounterErrors:
		column = string(counter)
	default:
		return fmt.Errorf("unknown counter %q", counter)
	}

	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET
			`+column+` = `+column+` + 1,
			last_activity_at = $2,
			updated_at = $2
		WHERE id = $1
	`, id, time.Now())
	return err
}

func (r *sessionRepo) MarkDeleted(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET
			state = 'DELETED',
			deleted_at = $2,
			updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL
	`, id, time.Now())
	return err
}
