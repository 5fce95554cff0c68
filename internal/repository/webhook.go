package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/Willytecheira/nexus-wa-core-sub000/internal/model"
)

type WebhookConfigRepository interface {
	FindAll(ctx context.Context) ([]model.WebhookConfig, error)
	Upsert(ctx context.Context, params model.UpsertWebhookConfigParams) (*model.WebhookConfig, error)
	DeleteBySessionID(ctx context.Context, sessionID string) error
}

type webhookConfigRepo struct {
	db *sqlx.DB
}

func NewWebhookConfigRepository(db *sqlx.DB) WebhookConfigRepository {
	return &webhookConfigRepo{db: db}
}

func (r *webhookConfigRepo) FindAll(ctx context.Context) ([]model.WebhookConfig, error) {
	var cfgs []model.WebhookConfig
	err := r.db.SelectContext(ctx, &cfgs, `
		SELECT wc.* FROM webhook_configs wc
		JOIN sessions s ON s.id = wc.session_id
		WHERE s.deleted_at IS NULL
	`)
	return cfgs, err
}

func (r *webhookConfigRepo) Upsert(ctx context.Context, params model.UpsertWebhookConfigParams) (*model.WebhookConfig, error) {
	var cfg model.WebhookConfig
	err := r.db.GetContext(ctx, &cfg, `
		INSERT INTO webhook_configs (session_id, url, event_types, secret)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id) DO UPDATE SET
			url = EXCLUDED.url,
			event_types = EXCLUDED.event_types,
			secret = EXCLUDED.secret,
			updated_at = NOW()
		RETURNING *
	`, params.SessionID, params.URL, pq.StringArray(params.EventTypes), params.Secret)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (r *webhookConfigRepo) DeleteBySessionID(ctx context.Context, sessionID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM webhook_configs WHERE session_id = $1`, sessionID)
	return err
}

type WebhookEventRepository interface {
	FindByID(ctx context.Context, id string) (*model.WebhookEvent, error)
	FindBySessionID(ctx context.Context, sessionID string, limit, offset int) ([]model.WebhookEvent, error)
	CountBySessionID(ctx context.Context, sessionID string) (int, error)
	Create(ctx context.Context, params model.CreateWebhookEventParams) (*model.WebhookEvent, error)
	RecordAttempt(ctx context.Context, params model.RecordWebhookAttemptParams) error
	AbandonPending(ctx context.Context) (int64, error)
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

type webhookEventRepo struct {
	db *sqlx.DB
}

func NewWebhookEventRepository(db *sqlx.DB) WebhookEventRepository {
	return &webhookEventRepo{db: db}
}

// FindByID returns nil when no delivery has the id.
func (r *webhookEventRepo) FindByID(ctx context.Context, id string) (*model.WebhookEvent, error) {
	return getOptional[model.WebhookEvent](ctx, r.db, `SELECT * FROM webhook_events WHERE id = $1`, id)
}

func (r *webhookEventRepo) FindBySessionID(ctx context.Context, sessionID string, limit, offset int) ([]model.WebhookEvent, error) {
	var evts []model.WebhookEvent
	err := r.db.SelectContext(ctx, &evts, `
		SELECT * FROM webhook_events
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, sessionID, limit, offset)
	return evts, err
}

func (r *webhookEventRepo) CountBySessionID(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM webhook_events WHERE session_id = $1
	`, sessionID)
	return count, err
}

func (r *webhookEventRepo) Create(ctx context.Context, params model.CreateWebhookEventParams) (*model.WebhookEvent, error) {
	var evt model.WebhookEvent
	err := r.db.GetContext(ctx, &evt, `
		INSERT INTO webhook_events (session_id, event_type, target_url, payload)
		VALUES ($1, $2, $3, $4)
		RETURNING *
	`, params.SessionID, params.EventType, params.TargetURL, params.Payload)
	if err != nil {
		return nil, err
	}
	return &evt, nil
}

// RecordAttempt updates the chain's record in place. Terminal records are
// left alone so a late writer cannot resurrect them.
func (r *webhookEventRepo) RecordAttempt(ctx context.Context, params model.RecordWebhookAttemptParams) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE webhook_events SET
			status = $2,
			http_status = $3,
			retry_count = $4,
			error_message = $5,
			updated_at = $6
		WHERE id = $1 AND status = 'pending'
	`, params.ID, params.Status, params.HTTPStatus, params.RetryCount, params.ErrorMessage, time.Now())
	return err
}

func (r *webhookEventRepo) AbandonPending(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE webhook_events SET
			status = 'abandoned',
			error_message = COALESCE(error_message, 'abandoned on restart'),
			updated_at = $1
		WHERE status = 'pending'
	`, time.Now())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *webhookEventRepo) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM webhook_events
		WHERE created_at < $1 AND status <> 'pending'
	`, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
