package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Willytecheira/nexus-wa-core-sub000/internal/model"
	"github.com/Willytecheira/nexus-wa-core-sub000/internal/repository"
)

type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]model.Session
	updates  []model.UpdateSessionStateParams
}

var _ repository.SessionRepository = (*memSessionRepo)(nil)

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: make(map[string]model.Session)}
}

func (r *memSessionRepo) FindLive(ctx context.Context) ([]model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Session
	for _, s := range r.sessions {
		if s.DeletedAt == nil {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memSessionRepo) Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := model.Session{
		ID:             params.ID,
		Name:           params.Name,
		State:          params.State,
		CreatedAt:      params.CreatedAt,
		StartedAt:      params.CreatedAt,
		LastActivityAt: params.CreatedAt,
		UpdatedAt:      params.CreatedAt,
	}
	r.sessions[s.ID] = s
	return &s, nil
}

func (r *memSessionRepo) UpdateState(ctx context.Context, params model.UpdateSessionStateParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, params)
	s, ok := r.sessions[params.ID]
	if !ok || s.DeletedAt != nil {
		return nil
	}
	s.State = params.State
	s.PhoneNumber = params.PhoneNumber
	s.StartedAt = params.StartedAt
	s.LastActivityAt = params.LastActivityAt
	if params.ErrorCount > s.ErrorCount {
		s.ErrorCount = params.ErrorCount
	}
	r.sessions[params.ID] = s
	return nil
}

func (r *memSessionRepo) IncrementCounter(ctx context.Context, id string, counter model.Counter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return fmt.Errorf("session %s not found", id)
	}
	switch counter {
	case model.CounterMessagesSent:
		s.MessagesSent++
	case model.CounterMessagesReceived:
		s.MessagesReceived++
	case model.CounterErrors:
		s.ErrorCount++
	default:
		return fmt.Errorf("unknown counter %q", counter)
	}
	r.sessions[id] = s
	return nil
}

func (r *memSessionRepo) MarkDeleted(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil
	}
	now := time.Now()
	s.State = model.SessionStateDeleted
	s.DeletedAt = &now
	r.sessions[id] = s
	return nil
}

func (r *memSessionRepo) get(id string) model.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id]
}

type memWebhookConfigRepo struct {
	mu      sync.Mutex
	configs map[string]model.WebhookConfig
}

func newMemWebhookConfigRepo() *memWebhookConfigRepo {
	return &memWebhookConfigRepo{configs: make(map[string]model.WebhookConfig)}
}

func (r *memWebhookConfigRepo) FindAll(ctx context.Context) ([]model.WebhookConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.WebhookConfig, 0, len(r.configs))
	for _, cfg := range r.configs {
		out = append(out, cfg)
	}
	return out, nil
}

func (r *memWebhookConfigRepo) Upsert(ctx context.Context, params model.UpsertWebhookConfigParams) (*model.WebhookConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	cfg := model.WebhookConfig{
		SessionID:  params.SessionID,
		URL:        params.URL,
		EventTypes: params.EventTypes,
		Secret:     params.Secret,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if prev, ok := r.configs[params.SessionID]; ok {
		cfg.CreatedAt = prev.CreatedAt
	}
	r.configs[params.SessionID] = cfg
	return &cfg, nil
}

func (r *memWebhookConfigRepo) DeleteBySessionID(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.configs, sessionID)
	return nil
}

type memWebhookEventRepo struct {
	mu       sync.Mutex
	seq      int
	events   map[string]*model.WebhookEvent
	order    []string
	attempts map[string][]model.RecordWebhookAttemptParams
}

func newMemWebhookEventRepo() *memWebhookEventRepo {
	return &memWebhookEventRepo{
		events:   make(map[string]*model.WebhookEvent),
		attempts: make(map[string][]model.RecordWebhookAttemptParams),
	}
}

func (r *memWebhookEventRepo) FindByID(ctx context.Context, id string) (*model.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	evt, ok := r.events[id]
	if !ok {
		return nil, nil
	}
	cp := *evt
	return &cp, nil
}

func (r *memWebhookEventRepo) FindBySessionID(ctx context.Context, sessionID string, limit, offset int) ([]model.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.WebhookEvent
	for i := len(r.order) - 1; i >= 0; i-- {
		evt := r.events[r.order[i]]
		if evt.SessionID == sessionID {
			out = append(out, *evt)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memWebhookEventRepo) CountBySessionID(ctx context.Context, sessionID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, evt := range r.events {
		if evt.SessionID == sessionID {
			n++
		}
	}
	return n, nil
}

func (r *memWebhookEventRepo) Create(ctx context.Context, params model.CreateWebhookEventParams) (*model.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	now := time.Now()
	evt := &model.WebhookEvent{
		ID:        fmt.Sprintf("evt-%d", r.seq),
		SessionID: params.SessionID,
		EventType: params.EventType,
		TargetURL: params.TargetURL,
		Payload:   params.Payload,
		Status:    model.WebhookStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.events[evt.ID] = evt
	r.order = append(r.order, evt.ID)
	cp := *evt
	return &cp, nil
}

func (r *memWebhookEventRepo) RecordAttempt(ctx context.Context, params model.RecordWebhookAttemptParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	evt, ok := r.events[params.ID]
	if !ok || evt.Status != model.WebhookStatusPending {
		return nil
	}
	r.attempts[params.ID] = append(r.attempts[params.ID], params)
	status := params.HTTPStatus
	evt.Status = params.Status
	evt.HTTPStatus = &status
	evt.RetryCount = params.RetryCount
	evt.ErrorMessage = params.ErrorMessage
	evt.UpdatedAt = time.Now()
	return nil
}

func (r *memWebhookEventRepo) AbandonPending(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, evt := range r.events {
		if evt.Status == model.WebhookStatusPending {
			evt.Status = model.WebhookStatusAbandoned
			n++
		}
	}
	return n, nil
}

func (r *memWebhookEventRepo) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

// all returns every record, oldest first.
func (r *memWebhookEventRepo) all() []model.WebhookEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.WebhookEvent, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.events[id])
	}
	return out
}

func (r *memWebhookEventRepo) attemptsFor(id string) []model.RecordWebhookAttemptParams {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.RecordWebhookAttemptParams(nil), r.attempts[id]...)
}

type memMessageRepo struct {
	mu       sync.Mutex
	messages []model.CreateMessageParams
}

func (r *memMessageRepo) Create(ctx context.Context, params model.CreateMessageParams) (*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, params)
	return &model.Message{
		ID:          fmt.Sprintf("msg-%d", len(r.messages)),
		SessionID:   params.SessionID,
		Direction:   params.Direction,
		Peer:        params.Peer,
		Content:     params.Content,
		MessageType: params.MessageType,
		CreatedAt:   time.Now(),
	}, nil
}

func (r *memMessageRepo) FindBySessionID(ctx context.Context, sessionID string, limit, offset int) ([]model.Message, error) {
	return nil, nil
}

func (r *memMessageRepo) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func (r *memMessageRepo) all() []model.CreateMessageParams {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.CreateMessageParams(nil), r.messages...)
}

// recordingObserver keeps every notification it receives.
type recordingObserver struct {
	mu    sync.Mutex
	notes []Notification
}

func (o *recordingObserver) Notify(ctx context.Context, n Notification) {
	o.mu.Lock()
	o.notes = append(o.notes, n)
	o.mu.Unlock()
}

func (o *recordingObserver) kinds(sessionID string) []NotificationKind {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []NotificationKind
	for _, n := range o.notes {
		if n.Session.ID == sessionID {
			out = append(out, n.Kind)
		}
	}
	return out
}

func (o *recordingObserver) transitions(sessionID string) []model.SessionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []model.SessionState
	for _, n := range o.notes {
		if n.Session.ID == sessionID && n.Kind == NotifyTransition {
			out = append(out, n.To)
		}
	}
	return out
}

type recordingRemover struct {
	mu      sync.Mutex
	removed []string
}

func (r *recordingRemover) Remove(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	r.removed = append(r.removed, sessionID)
	r.mu.Unlock()
	return nil
}

func (r *recordingRemover) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.removed...)
}
