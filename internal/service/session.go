package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Willytecheira/nexus-wa-core-sub000/internal/connector"
	apperrors "github.com/Willytecheira/nexus-wa-core-sub000/internal/errors"
	"github.com/Willytecheira/nexus-wa-core-sub000/internal/model"
	"github.com/Willytecheira/nexus-wa-core-sub000/internal/qr"
	"github.com/Willytecheira/nexus-wa-core-sub000/internal/repository"
)

const (
	sessionPersistTimeout = 5 * time.Second
	maxSessionNameLength  = 100
	reasonAdapterStopped  = "adapter stopped"
)

// WebhookRemover drops a session's webhook configuration and cancels any
// deliveries still retrying for it.
type WebhookRemover interface {
	Remove(ctx context.Context, sessionID string) error
}

type SessionServiceOptions struct {
	MaxSessions    int
	DestroyTimeout time.Duration
}

// SessionService is the registry of live sessions. It owns one connector
// adapter per session and applies adapter events to the session state machine.
type SessionService struct {
	repo     repository.SessionRepository
	factory  connector.Factory
	qrStore  *qr.Store
	webhooks WebhookRemover
	opts     SessionServiceOptions

	// mu guards entries and reserved only. Each entry has its own lock.
	mu       sync.Mutex
	entries  map[string]*sessionEntry
	reserved int

	obsMu     sync.RWMutex
	observers []Observer

	wg  sync.WaitGroup
	now func() time.Time
}

type sessionEntry struct {
	mu         sync.Mutex
	session    model.Session
	adapter    connector.Adapter
	generation uint64
	cancel     context.CancelFunc
	deleted    bool
}

func NewSessionService(
	repo repository.SessionRepository,
	factory connector.Factory,
	qrStore *qr.Store,
	webhooks WebhookRemover,
	opts SessionServiceOptions,
) *SessionService {
	if opts.DestroyTimeout <= 0 {
		opts.DestroyTimeout = 10 * time.Second
	}
	return &SessionService{
		repo:     repo,
		factory:  factory,
		qrStore:  qrStore,
		webhooks: webhooks,
		opts:     opts,
		entries:  make(map[string]*sessionEntry),
		now:      time.Now,
	}
}

// AddObserver registers o for every future notification.
func (s *SessionService) AddObserver(o Observer) {
	s.obsMu.Lock()
	s.observers = append(s.observers, o)
	s.obsMu.Unlock()
}

func (s *SessionService) MaxSessions() int {
	return s.opts.MaxSessions
}

func (s *SessionService) Create(ctx context.Context, name string) (*model.Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.MissingRequired("name")
	}
	if len(name) > maxSessionNameLength {
		return nil, apperrors.InvalidInput("name", "must be at most 100 characters")
	}

	if err := s.reserve(); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	created, err := s.repo.Create(ctx, model.CreateSessionParams{
		ID:        id,
		Name:      name,
		State:     model.SessionStateInitializing,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		s.release()
		return nil, apperrors.Database(err)
	}

	adapter, adapterErr := s.factory.NewAdapter(id)

	e := &sessionEntry{session: *created}

	e.mu.Lock()
	s.mu.Lock()
	s.reserved--
	s.entries[id] = e
	s.mu.Unlock()
	var failure *Notification
	if adapterErr != nil {
		failure = s.failLocked(e, adapterErr)
	} else {
		s.startLocked(e, adapter, nil)
	}
	snapshot := e.session
	e.mu.Unlock()

	log.Info().
		Str("sessionId", id).
		Str("name", name).
		Msg("session created")

	if failure != nil {
		s.notify(*failure)
	}
	return &snapshot, nil
}

// reserve claims a slot under the ceiling. The slot is held until the session
// is registered or release is called.
func (s *SessionService) reserve() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries)+s.reserved >= s.opts.MaxSessions {
		return apperrors.CapacityExceeded(s.opts.MaxSessions)
	}
	s.reserved++
	return nil
}

func (s *SessionService) release() {
	s.mu.Lock()
	s.reserved--
	s.mu.Unlock()
}

func (s *SessionService) Restart(ctx context.Context, id string) error {
	e := s.lookup(id)
	if e == nil {
		return apperrors.NotFound("session")
	}

	adapter, adapterErr := s.factory.NewAdapter(id)

	e.mu.Lock()
	if e.deleted {
		e.mu.Unlock()
		if adapter != nil {
			s.destroyAsync(id, adapter)
		}
		return apperrors.NotFound("session")
	}

	from := e.session.State
	old := e.adapter
	now := s.now().UTC()
	e.session.PhoneNumber = nil
	e.session.StartedAt = now
	e.session.LastActivityAt = now
	s.qrStore.Clear(id)

	if adapterErr != nil {
		failure := s.failLocked(e, adapterErr)
		e.mu.Unlock()
		if old != nil {
			s.destroyAsync(id, old)
		}
		if failure != nil {
			s.notify(*failure)
		}
		return nil
	}

	e.session.State = model.SessionStateInitializing
	s.persistLocked(e)
	s.startLocked(e, adapter, old)
	snapshot := e.session
	e.mu.Unlock()

	log.Info().
		Str("sessionId", id).
		Str("from", string(from)).
		Msg("session restarted")

	s.notify(Notification{
		Kind:    NotifyTransition,
		Session: snapshot,
		From:    from,
		To:      model.SessionStateInitializing,
		Reason:  "restart",
	})
	return nil
}

func (s *SessionService) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	e, ok := s.entries[id]
	if ok {
		delete(s.entries, id)
	}
	s.mu.Unlock()
	if !ok {
		return apperrors.NotFound("session")
	}

	e.mu.Lock()
	from := e.session.State
	e.deleted = true
	e.generation++
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	adapter := e.adapter
	e.adapter = nil
	now := s.now().UTC()
	e.session.State = model.SessionStateDeleted
	e.session.DeletedAt = &now
	snapshot := e.session
	e.mu.Unlock()

	s.qrStore.Clear(id)

	if s.webhooks != nil {
		if err := s.webhooks.Remove(ctx, id); err != nil {
			log.Error().Err(err).Str("sessionId", id).Msg("failed to remove webhook for deleted session")
		}
	}

	if adapter != nil {
		s.destroyAsync(id, adapter)
	}

	log.Info().
		Str("sessionId", id).
		Str("from", string(from)).
		Msg("session deleted")

	s.notify(Notification{
		Kind:    NotifyDeleted,
		Session: snapshot,
		From:    from,
		To:      model.SessionStateDeleted,
	})

	if err := s.repo.MarkDeleted(ctx, id); err != nil {
		return apperrors.Database(err)
	}
	return nil
}

// Exists reports whether id is registered and not deleted.
func (s *SessionService) Exists(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[id]
	return ok
}

func (s *SessionService) Get(id string) (*model.Session, error) {
	e := s.lookup(id)
	if e == nil {
		return nil, apperrors.NotFound("session")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return nil, apperrors.NotFound("session")
	}
	snapshot := e.session
	return &snapshot, nil
}

// List returns every live session ordered by creation time.
func (s *SessionService) List() []model.Session {
	s.mu.Lock()
	entries := make([]*sessionEntry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	sessions := make([]model.Session, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.deleted {
			sessions = append(sessions, e.session)
		}
		e.mu.Unlock()
	}

	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions
}

func (s *SessionService) UptimeSeconds(id string) (int64, error) {
	session, err := s.Get(id)
	if err != nil {
		return 0, err
	}
	return session.UptimeSeconds(s.now()), nil
}

func (s *SessionService) SecondsSinceLastActivity(id string) (int64, error) {
	session, err := s.Get(id)
	if err != nil {
		return 0, err
	}
	return session.SecondsSinceLastActivity(s.now()), nil
}

// Increment bumps one counter in memory and in the store. The store is
// written first so memory never runs ahead of it.
func (s *SessionService) Increment(ctx context.Context, id string, counter model.Counter) error {
	e := s.lookup(id)
	if e == nil {
		return apperrors.NotFound("session")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return apperrors.NotFound("session")
	}

	if err := s.repo.IncrementCounter(ctx, id, counter); err != nil {
		return apperrors.Database(err)
	}

	switch counter {
	case model.CounterMessagesSent:
		e.session.MessagesSent++
	case model.CounterMessagesReceived:
		e.session.MessagesReceived++
	case model.CounterErrors:
		e.session.ErrorCount++
	}
	e.session.LastActivityAt = s.now().UTC()
	return nil
}

func (s *SessionService) SendMessage(ctx context.Context, id string, msg connector.OutboundMessage) error {
	msg.To = strings.TrimSpace(msg.To)
	if msg.To == "" {
		return apperrors.MissingRequired("to")
	}
	if msg.Body == "" {
		return apperrors.MissingRequired("body")
	}

	e := s.lookup(id)
	if e == nil {
		return apperrors.NotFound("session")
	}

	e.mu.Lock()
	if e.deleted {
		e.mu.Unlock()
		return apperrors.NotFound("session")
	}
	if e.session.State != model.SessionStateReady {
		state := e.session.State
		e.mu.Unlock()
		return apperrors.ConnectorFailure("session is " + string(state) + ", not READY")
	}
	adapter := e.adapter
	snapshot := e.session
	e.mu.Unlock()

	if err := adapter.Send(ctx, msg); err != nil {
		log.Warn().
			Err(err).
			Str("sessionId", id).
			Msg("connector send failed")
		s.notify(Notification{
			Kind:     NotifySendFailed,
			Session:  snapshot,
			From:     snapshot.State,
			To:       snapshot.State,
			Outbound: &msg,
			Reason:   err.Error(),
		})
		return apperrors.ConnectorFailure(err.Error()).WithCause(err)
	}

	s.notify(Notification{
		Kind:     NotifyMessageSent,
		Session:  snapshot,
		From:     snapshot.State,
		To:       snapshot.State,
		Outbound: &msg,
	})
	return nil
}

// Restore registers every non-deleted session from the store with a fresh
// adapter. Sessions beyond the ceiling are left dormant; a session whose
// adapter cannot be built is registered in ERROR.
func (s *SessionService) Restore(ctx context.Context) (int, error) {
	sessions, err := s.repo.FindLive(ctx)
	if err != nil {
		return 0, apperrors.Database(err)
	}

	restored := 0
	for _, session := range sessions {
		if err := s.reserve(); err != nil {
			log.Warn().
				Str("sessionId", session.ID).
				Int("maxSessions", s.opts.MaxSessions).
				Msg("session ceiling reached, not restoring")
			continue
		}

		adapter, adapterErr := s.factory.NewAdapter(session.ID)

		now := s.now().UTC()
		session.State = model.SessionStateInitializing
		session.PhoneNumber = nil
		session.StartedAt = now
		session.LastActivityAt = now

		e := &sessionEntry{session: session}
		e.mu.Lock()
		s.mu.Lock()
		s.reserved--
		s.entries[session.ID] = e
		s.mu.Unlock()
		var failure *Notification
		if adapterErr != nil {
			failure = s.failLocked(e, adapterErr)
		} else {
			s.persistLocked(e)
			s.startLocked(e, adapter, nil)
		}
		e.mu.Unlock()
		if failure != nil {
			s.notify(*failure)
		}
		restored++
	}

	log.Info().
		Int("restored", restored).
		Int("stored", len(sessions)).
		Msg("sessions restored")
	return restored, nil
}

// Close stops every adapter without deleting any session, then waits for
// background work to finish or ctx to expire.
func (s *SessionService) Close(ctx context.Context) error {
	s.mu.Lock()
	entries := make([]*sessionEntry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
		e.generation++
		if e.cancel != nil {
			e.cancel()
			e.cancel = nil
		}
		adapter := e.adapter
		e.adapter = nil
		id := e.session.ID
		e.mu.Unlock()

		if adapter != nil {
			s.destroyAsync(id, adapter)
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SessionService) lookup(id string) *sessionEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[id]
}

// startLocked installs adapter as the entry's current generation and starts
// connecting it in the background. previous, when set, is destroyed first.
// e.mu must be held.
func (s *SessionService) startLocked(e *sessionEntry, adapter connector.Adapter, previous connector.Adapter) {
	if e.cancel != nil {
		e.cancel()
	}
	e.generation++
	gen := e.generation
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.adapter = adapter
	id := e.session.ID

	connectDone := make(chan struct{})

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.pump(e, gen, adapter, connectDone)
	}()
	go func() {
		defer s.wg.Done()
		defer close(connectDone)

		if previous != nil {
			s.destroy(id, previous)
		}
		if ctx.Err() != nil {
			return
		}
		if err := adapter.Connect(ctx); err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			log.Warn().
				Err(err).
				Str("sessionId", id).
				Uint64("generation", gen).
				Msg("connector connect failed")
			s.apply(e, gen, connector.Event{Type: connector.EventAuthFailure, Reason: err.Error()})
		}
	}()
}

// pump applies one adapter generation's events in order. A stream that ends
// without a disconnected event is treated as a crash.
func (s *SessionService) pump(e *sessionEntry, gen uint64, adapter connector.Adapter, connectDone <-chan struct{}) {
	sawDisconnect := false
	for evt := range adapter.Events() {
		if evt.Type == connector.EventDisconnected {
			sawDisconnect = true
		}
		s.apply(e, gen, evt)
	}

	<-connectDone
	if !sawDisconnect {
		s.apply(e, gen, connector.Event{Type: connector.EventDisconnected, Reason: reasonAdapterStopped})
	}
}

// apply runs one event through the state machine. Events from a superseded
// generation are dropped.
func (s *SessionService) apply(e *sessionEntry, gen uint64, evt connector.Event) {
	e.mu.Lock()
	if e.deleted || e.generation != gen {
		id := e.session.ID
		current := e.generation
		e.mu.Unlock()
		log.Debug().
			Str("sessionId", id).
			Str("event", evt.Type.String()).
			Uint64("generation", gen).
			Uint64("currentGeneration", current).
			Msg("dropping stale connector event")
		return
	}

	id := e.session.ID
	now := s.now().UTC()

	if evt.Type == connector.EventMessage {
		if evt.Message == nil {
			e.mu.Unlock()
			return
		}
		e.session.LastActivityAt = now
		snapshot := e.session
		e.mu.Unlock()

		s.notify(Notification{
			Kind:    NotifyMessageReceived,
			Session: snapshot,
			From:    snapshot.State,
			To:      snapshot.State,
			Inbound: evt.Message,
		})
		return
	}

	from := e.session.State
	to, ok := nextSessionState(from, evt.Type)
	if !ok {
		e.mu.Unlock()
		log.Debug().
			Str("sessionId", id).
			Str("state", string(from)).
			Str("event", evt.Type.String()).
			Msg("ignoring connector event in current state")
		return
	}

	switch evt.Type {
	case connector.EventQR:
		s.qrStore.Put(id, evt.QR)
	case connector.EventReady:
		if evt.PhoneNumber != "" {
			phone := evt.PhoneNumber
			e.session.PhoneNumber = &phone
		}
	case connector.EventAuthFailure:
		e.session.ErrorCount++
	}
	if to != model.SessionStateQRPending {
		s.qrStore.Clear(id)
	}

	e.session.LastActivityAt = now
	if from == to {
		e.mu.Unlock()
		return
	}

	e.session.State = to
	s.persistLocked(e)
	snapshot := e.session
	e.mu.Unlock()

	logEvent := log.Info()
	if to == model.SessionStateError {
		logEvent = log.Warn()
	}
	logEvent.
		Str("sessionId", id).
		Str("from", string(from)).
		Str("to", string(to)).
		Str("reason", evt.Reason).
		Msg("session state changed")

	s.notify(Notification{
		Kind:    NotifyTransition,
		Session: snapshot,
		From:    from,
		To:      to,
		Reason:  evt.Reason,
	})
}

// persistLocked writes the entry's state row. Failures are logged; memory
// stays authoritative for the running process. e.mu must be held.
func (s *SessionService) persistLocked(e *sessionEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), sessionPersistTimeout)
	defer cancel()

	err := s.repo.UpdateState(ctx, model.UpdateSessionStateParams{
		ID:             e.session.ID,
		State:          e.session.State,
		PhoneNumber:    e.session.PhoneNumber,
		StartedAt:      e.session.StartedAt,
		LastActivityAt: e.session.LastActivityAt,
		ErrorCount:     e.session.ErrorCount,
	})
	if err != nil {
		log.Error().
			Err(err).
			Str("sessionId", e.session.ID).
			Str("state", string(e.session.State)).
			Msg("failed to persist session state")
	}
}

func (s *SessionService) destroy(id string, adapter connector.Adapter) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.DestroyTimeout)
	defer cancel()

	if err := adapter.Destroy(ctx); err != nil {
		log.Warn().Err(err).Str("sessionId", id).Msg("connector destroy failed")
	}
}

func (s *SessionService) destroyAsync(id string, adapter connector.Adapter) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.destroy(id, adapter)
	}()
}

// failLocked handles a connector that could not be built the way an
// auth_failure is handled: the entry loses its adapter, moves to ERROR and
// its error count goes up. The returned notification is nil when the entry
// was already in ERROR. e.mu must be held.
func (s *SessionService) failLocked(e *sessionEntry, cause error) *Notification {
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.generation++
	e.adapter = nil

	from := e.session.State
	e.session.State = model.SessionStateError
	e.session.ErrorCount++
	e.session.LastActivityAt = s.now().UTC()
	s.persistLocked(e)

	log.Warn().
		Err(cause).
		Str("sessionId", e.session.ID).
		Str("from", string(from)).
		Int64("errorCount", e.session.ErrorCount).
		Msg("connector adapter unavailable")

	if from == model.SessionStateError {
		return nil
	}
	return &Notification{
		Kind:    NotifyTransition,
		Session: e.session,
		From:    from,
		To:      model.SessionStateError,
		Reason:  cause.Error(),
	}
}

func (s *SessionService) notify(n Notification) {
	s.obsMu.RLock()
	observers := s.observers
	s.obsMu.RUnlock()

	ctx := context.Background()
	for _, o := range observers {
		o.Notify(ctx, n)
	}
}
