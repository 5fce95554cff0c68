package handler

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/Willytecheira/nexus-wa-core-sub000/internal/connector"
	"github.com/Willytecheira/nexus-wa-core-sub000/internal/model"
	"github.com/Willytecheira/nexus-wa-core-sub000/internal/service"
	"github.com/Willytecheira/nexus-wa-core-sub000/internal/sse"
)

type mockSessionManager struct {
	mock.Mock
}

func (m *mockSessionManager) Create(ctx context.Context, name string) (*model.Session, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Session), args.Error(1)
}

func (m *mockSessionManager) Restart(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockSessionManager) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockSessionManager) Get(id string) (*model.Session, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Session), args.Error(1)
}

func (m *mockSessionManager) List() []model.Session {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]model.Session)
}

func (m *mockSessionManager) SendMessage(ctx context.Context, id string, msg connector.OutboundMessage) error {
	return m.Called(ctx, id, msg).Error(0)
}

func (m *mockSessionManager) MaxSessions() int {
	return m.Called().Int(0)
}

type mockWebhookManager struct {
	mock.Mock
}

func (m *mockWebhookManager) Configure(ctx context.Context, sessionID string, params service.ConfigureWebhookParams) (*model.WebhookConfig, error) {
	args := m.Called(ctx, sessionID, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.WebhookConfig), args.Error(1)
}

func (m *mockWebhookManager) Remove(ctx context.Context, sessionID string) error {
	return m.Called(ctx, sessionID).Error(0)
}

func (m *mockWebhookManager) Get(sessionID string) (*model.WebhookConfig, error) {
	args := m.Called(sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.WebhookConfig), args.Error(1)
}

func (m *mockWebhookManager) ListEvents(ctx context.Context, sessionID string, limit, offset int) ([]model.WebhookEvent, int, error) {
	args := m.Called(ctx, sessionID, limit, offset)
	return args.Get(0).([]model.WebhookEvent), args.Int(1), args.Error(2)
}

func (m *mockWebhookManager) GetEvent(ctx context.Context, sessionID, eventID string) (*model.WebhookEvent, error) {
	args := m.Called(ctx, sessionID, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.WebhookEvent), args.Error(1)
}

func (m *mockWebhookManager) Test(ctx context.Context, sessionID string) error {
	return m.Called(ctx, sessionID).Error(0)
}

type mockMessageLog struct {
	mock.Mock
}

func (m *mockMessageLog) FindBySessionID(ctx context.Context, sessionID string, limit, offset int) ([]model.Message, error) {
	args := m.Called(ctx, sessionID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Message), args.Error(1)
}

type staticQR map[string][]byte

func (q staticQR) Get(sessionID string) ([]byte, bool) {
	code, ok := q[sessionID]
	return code, ok
}

type staticMetrics service.MetricsSnapshot

func (m staticMetrics) Snapshot() service.MetricsSnapshot {
	return service.MetricsSnapshot(m)
}

// fakeBroker hands out clients the test can push events into.
type fakeBroker struct {
	mu           sync.Mutex
	clients      []*sse.Client
	unsubscribed int
}

func (b *fakeBroker) Subscribe(topic string) *sse.Client {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := &sse.Client{Topic: topic, Events: make(chan sse.Event, 10), Done: make(chan struct{})}
	b.clients = append(b.clients, c)
	return c
}

func (b *fakeBroker) Unsubscribe(client *sse.Client) {
	b.mu.Lock()
	b.unsubscribed++
	b.mu.Unlock()
}

func (b *fakeBroker) client(i int) *sse.Client {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i >= len(b.clients) {
		return nil
	}
	return b.clients[i]
}

func (b *fakeBroker) unsubscribeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.unsubscribed
}
