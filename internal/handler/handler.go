package handler

import (
	"context"

	"github.com/Willytecheira/nexus-wa-core-sub000/internal/connector"
	"github.com/Willytecheira/nexus-wa-core-sub000/internal/model"
	"github.com/Willytecheira/nexus-wa-core-sub000/internal/service"
	"github.com/Willytecheira/nexus-wa-core-sub000/internal/sse"
)

// SessionManager is the registry surface the control plane drives.
type SessionManager interface {
	Create(ctx context.Context, name string) (*model.Session, error)
	Restart(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	Get(id string) (*model.Session, error)
	List() []model.Session
	SendMessage(ctx context.Context, id string, msg connector.OutboundMessage) error
	MaxSessions() int
}

type WebhookManager interface {
	Configure(ctx context.Context, sessionID string, params service.ConfigureWebhookParams) (*model.WebhookConfig, error)
	Remove(ctx context.Context, sessionID string) error
	Get(sessionID string) (*model.WebhookConfig, error)
	ListEvents(ctx context.Context, sessionID string, limit, offset int) ([]model.WebhookEvent, int, error)
	GetEvent(ctx context.Context, sessionID, eventID string) (*model.WebhookEvent, error)
	Test(ctx context.Context, sessionID string) error
}

type QRSource interface {
	Get(sessionID string) ([]byte, bool)
}

type MessageLog interface {
	FindBySessionID(ctx context.Context, sessionID string, limit, offset int) ([]model.Message, error)
}

type MetricsReader interface {
	Snapshot() service.MetricsSnapshot
}

type EventBroker interface {
	Subscribe(topic string) *sse.Client
	Unsubscribe(client *sse.Client)
}
