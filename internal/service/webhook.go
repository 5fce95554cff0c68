package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	apperrors "github.com/Willytecheira/nexus-wa-core-sub000/internal/errors"
	"github.com/Willytecheira/nexus-wa-core-sub000/internal/model"
	"github.com/Willytecheira/nexus-wa-core-sub000/internal/repository"
	"github.com/Willytecheira/nexus-wa-core-sub000/internal/util"
)

const (
	webhookRecordTimeout = 5 * time.Second
	webhookUserAgent     = "nexus-wa-core-webhook/1.0"
	maxErrorMessageLen   = 500
	// networkFailureStatus is logged as http_status when no response arrived.
	networkFailureStatus = 0
)

var errDeliveryCancelled = errors.New("delivery cancelled: webhook removed")

type WebhookServiceOptions struct {
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Secrets seals signing secrets at rest. Nil stores them as given.
	Secrets *util.SecretBox
}

type ConfigureWebhookParams struct {
	URL        string
	EventTypes []string
	Secret     *string
}

// WebhookService delivers session events to each session's configured HTTP
// endpoint. Every dispatch runs as an independent chain of attempts whose
// progress is written to webhook_events after each attempt.
type WebhookService struct {
	configRepo repository.WebhookConfigRepository
	eventRepo  repository.WebhookEventRepository
	client     *http.Client
	opts       WebhookServiceOptions

	mu       sync.RWMutex
	targets  map[string]*webhookTarget
	sessions SessionRegistry

	wg  sync.WaitGroup
	now func() time.Time

	attempts *prometheus.CounterVec
	chains   *prometheus.CounterVec
	latency  prometheus.Histogram
}

// SessionRegistry reports whether a session is still live.
type SessionRegistry interface {
	Exists(id string) bool
}

// webhookTarget is one session's active configuration. ctx is shared by every
// configuration the session has had and is cancelled only when the webhook is
// removed, which stops pending retries.
type webhookTarget struct {
	config model.WebhookConfig
	secret string
	ctx    context.Context
	cancel context.CancelFunc
}

func NewWebhookService(
	configRepo repository.WebhookConfigRepository,
	eventRepo repository.WebhookEventRepository,
	opts WebhookServiceOptions,
) *WebhookService {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = opts.InitialBackoff
	}

	return &WebhookService{
		configRepo: configRepo,
		eventRepo:  eventRepo,
		client:     &http.Client{Timeout: opts.Timeout},
		opts:       opts,
		targets:    make(map[string]*webhookTarget),
		now:        time.Now,
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "webhook",
			Name:      "attempts_total",
			Help:      "Webhook delivery attempts by event type and outcome.",
		}, []string{"event_type", "outcome"}),
		chains: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "webhook",
			Name:      "deliveries_total",
			Help:      "Webhook delivery chains by final status.",
		}, []string{"status"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "webhook",
			Name:      "attempt_duration_seconds",
			Help:      "Webhook attempt duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1.0, 3.0, 5.0, 10.0},
		}),
	}
}

// Load reads every stored configuration into memory.
func (s *WebhookService) Load(ctx context.Context) error {
	configs, err := s.configRepo.FindAll(ctx)
	if err != nil {
		return fmt.Errorf("load webhook configs: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cfg := range configs {
		secret, err := s.openSecret(cfg.SessionID, cfg.Secret)
		if err != nil {
			log.Error().Err(err).Str("sessionId", cfg.SessionID).Msg("failed to decrypt webhook secret, skipping config")
			continue
		}
		s.replaceLocked(cfg, secret)
	}

	log.Info().Int("count", len(s.targets)).Msg("webhook configs loaded")
	return nil
}

// AbandonPending closes out chains left pending by a previous process. Their
// retries are not resumed.
func (s *WebhookService) AbandonPending(ctx context.Context) (int64, error) {
	n, err := s.eventRepo.AbandonPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("abandon pending webhook events: %w", err)
	}
	if n > 0 {
		log.Warn().Int64("count", n).Msg("abandoned webhook deliveries from previous run")
	}
	return n, nil
}

func (s *WebhookService) Configure(ctx context.Context, sessionID string, params ConfigureWebhookParams) (*model.WebhookConfig, error) {
	if err := util.ValidateWebhookURL(params.URL); err != nil {
		return nil, apperrors.InvalidConfig(err.Error())
	}

	eventTypes, err := normalizeEventTypes(params.EventTypes)
	if err != nil {
		return nil, err
	}

	var secret string
	var stored *string
	if params.Secret != nil && *params.Secret != "" {
		secret = *params.Secret
		sealed, err := s.sealSecret(sessionID, secret)
		if err != nil {
			return nil, apperrors.Internal("failed to protect webhook secret").WithCause(err)
		}
		stored = &sealed
	}

	cfg, err := s.configRepo.Upsert(ctx, model.UpsertWebhookConfigParams{
		SessionID:  sessionID,
		URL:        params.URL,
		EventTypes: eventTypes,
		Secret:     stored,
	})
	if err != nil {
		return nil, apperrors.Database(err)
	}

	// Deletion drops the session from the registry before removing its
	// webhook, so a session seen live here is removed after this insert.
	s.mu.Lock()
	if s.sessions != nil && !s.sessions.Exists(sessionID) {
		s.mu.Unlock()
		if err := s.configRepo.DeleteBySessionID(ctx, sessionID); err != nil {
			log.Error().Err(err).Str("sessionId", sessionID).Msg("failed to discard webhook of deleted session")
		}
		return nil, apperrors.NotFound("session")
	}
	s.replaceLocked(*cfg, secret)
	s.mu.Unlock()

	log.Info().
		Str("sessionId", sessionID).
		Str("url", util.RedactURL(cfg.URL)).
		Strs("eventTypes", eventTypes).
		Bool("signed", secret != "").
		Msg("webhook configured")

	return cfg, nil
}

// TrackSessions makes Configure refuse sessions the registry no longer knows.
// Call it before serving requests.
func (s *WebhookService) TrackSessions(r SessionRegistry) {
	s.mu.Lock()
	s.sessions = r
	s.mu.Unlock()
}

func normalizeEventTypes(raw []string) ([]string, error) {
	if len(raw) == 0 {
		return nil, apperrors.InvalidConfig("at least one event type is required")
	}

	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, t := range raw {
		t = strings.TrimSpace(t)
		if !model.WebhookEventType(t).IsQualifying() {
			return nil, apperrors.InvalidConfig(fmt.Sprintf("unsupported event type %q", t))
		}
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out, nil
}

// replaceLocked installs cfg as the session's target. Chains already running
// finish against the configuration they were dispatched with.
func (s *WebhookService) replaceLocked(cfg model.WebhookConfig, secret string) {
	var ctx context.Context
	var cancel context.CancelFunc
	if old, ok := s.targets[cfg.SessionID]; ok {
		ctx, cancel = old.ctx, old.cancel
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	s.targets[cfg.SessionID] = &webhookTarget{
		config: cfg,
		secret: secret,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Remove drops the session's configuration. It is a no-op when none exists.
func (s *WebhookService) Remove(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	if target, ok := s.targets[sessionID]; ok {
		target.cancel()
		delete(s.targets, sessionID)
	}
	s.mu.Unlock()

	if err := s.configRepo.DeleteBySessionID(ctx, sessionID); err != nil {
		return apperrors.Database(err)
	}

	log.Info().Str("sessionId", sessionID).Msg("webhook removed")
	return nil
}

func (s *WebhookService) Get(sessionID string) (*model.WebhookConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	target, ok := s.targets[sessionID]
	if !ok {
		return nil, apperrors.NotFound("webhook")
	}
	cfg := target.config
	return &cfg, nil
}

func (s *WebhookService) ListEvents(ctx context.Context, sessionID string, limit, offset int) ([]model.WebhookEvent, int, error) {
	events, err := s.eventRepo.FindBySessionID(ctx, sessionID, limit, offset)
	if err != nil {
		return nil, 0, apperrors.Database(err)
	}
	total, err := s.eventRepo.CountBySessionID(ctx, sessionID)
	if err != nil {
		return nil, 0, apperrors.Database(err)
	}
	if events == nil {
		events = []model.WebhookEvent{}
	}
	return events, total, nil
}

// GetEvent returns one delivery record of the session.
func (s *WebhookService) GetEvent(ctx context.Context, sessionID, eventID string) (*model.WebhookEvent, error) {
	evt, err := s.eventRepo.FindByID(ctx, eventID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if evt == nil || evt.SessionID != sessionID {
		return nil, apperrors.NotFound("webhook event")
	}
	return evt, nil
}

// Dispatch starts a delivery chain when the session has a webhook subscribed
// to eventType. It never blocks on the network.
func (s *WebhookService) Dispatch(sessionID string, eventType model.WebhookEventType, data any) {
	s.mu.RLock()
	target, ok := s.targets[sessionID]
	s.mu.RUnlock()

	if !ok || !target.config.Subscribes(eventType) {
		return
	}
	s.start(target, eventType, data)
}

// Test sends a webhook.test event through the same chain as real events,
// regardless of the configured event filter.
func (s *WebhookService) Test(ctx context.Context, sessionID string) error {
	s.mu.RLock()
	target, ok := s.targets[sessionID]
	s.mu.RUnlock()

	if !ok {
		return apperrors.NotFound("webhook")
	}

	s.start(target, model.WebhookEventTest, map[string]any{
		"message": "This is a test webhook delivery",
	})
	return nil
}

// Wait blocks until every running chain has finished.
func (s *WebhookService) Wait() {
	s.wg.Wait()
}

// Close cancels pending retries and waits for in-flight attempts, bounded by ctx.
func (s *WebhookService) Close(ctx context.Context) error {
	s.mu.Lock()
	for _, target := range s.targets {
		target.cancel()
	}
	s.mu.Unlock()

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

func (s *WebhookService) start(target *webhookTarget, eventType model.WebhookEventType, data any) {
	payload := model.WebhookPayload{
		Event:     eventType,
		SessionID: target.config.SessionID,
		Timestamp: s.now().UTC().Format(time.RFC3339),
		Data:      data,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("eventType", string(eventType)).Msg("failed to marshal webhook payload")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.deliver(target, eventType, body)
	}()
}

type attemptResult struct {
	status  int
	err     error
	elapsed time.Duration
}

func (r attemptResult) ok() bool {
	return r.err == nil && r.status >= 200 && r.status < 300
}

func (r attemptResult) message() *string {
	var msg string
	switch {
	case r.err != nil:
		msg = r.err.Error()
	case !r.ok():
		msg = fmt.Sprintf("unexpected status %d", r.status)
	default:
		return nil
	}
	if len(msg) > maxErrorMessageLen {
		msg = msg[:maxErrorMessageLen]
	}
	return &msg
}

// deliver runs one chain: up to MaxAttempts posts with geometric backoff in
// between. The record is updated after every attempt.
func (s *WebhookService) deliver(target *webhookTarget, eventType model.WebhookEventType, body []byte) {
	sessionID := target.config.SessionID
	url := target.config.URL

	recordID := s.createRecord(sessionID, eventType, url, body)

	bo := s.newBackOff()
	var last attemptResult
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		last = s.post(url, target.secret, eventType, body)

		outcome := "failure"
		if last.ok() {
			outcome = "success"
		}
		s.attempts.WithLabelValues(string(eventType), outcome).Inc()
		s.latency.Observe(last.elapsed.Seconds())

		cancelled := target.ctx.Err() != nil
		status := model.WebhookStatusPending
		switch {
		case last.ok():
			status = model.WebhookStatusDelivered
		case attempt == s.opts.MaxAttempts || cancelled:
			status = model.WebhookStatusFailed
		}

		s.recordAttempt(recordID, status, last, attempt-1)

		logEvent := log.Debug()
		if !last.ok() {
			logEvent = log.Warn().Err(last.err)
		}
		logEvent.
			Str("sessionId", sessionID).
			Str("eventType", string(eventType)).
			Str("url", util.RedactURL(url)).
			Int("attempt", attempt).
			Int("status", last.status).
			Dur("elapsed", last.elapsed).
			Msg("webhook attempt finished")

		if status != model.WebhookStatusPending {
			s.finish(sessionID, eventType, status, attempt, last)
			return
		}

		timer := time.NewTimer(bo.NextBackOff())
		select {
		case <-timer.C:
		case <-target.ctx.Done():
			timer.Stop()
			last.err = errDeliveryCancelled
			s.recordAttempt(recordID, model.WebhookStatusFailed, last, attempt-1)
			s.finish(sessionID, eventType, model.WebhookStatusFailed, attempt, last)
			return
		}
	}
}

func (s *WebhookService) finish(sessionID string, eventType model.WebhookEventType, status model.WebhookEventStatus, attempts int, last attemptResult) {
	s.chains.WithLabelValues(string(status)).Inc()

	if status == model.WebhookStatusDelivered {
		log.Info().
			Str("sessionId", sessionID).
			Str("eventType", string(eventType)).
			Int("attempts", attempts).
			Msg("webhook delivered")
		return
	}

	cause := last.err
	if cause == nil {
		cause = fmt.Errorf("status %d", last.status)
	}
	log.Error().
		Err(apperrors.DeliveryFailure(attempts, cause)).
		Str("sessionId", sessionID).
		Str("eventType", string(eventType)).
		Msg("webhook delivery failed")
}

func (s *WebhookService) newBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.opts.InitialBackoff
	bo.MaxInterval = s.opts.MaxBackoff
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// post performs one attempt. The request is not bound to the chain's
// context, so an attempt already on the wire completes and is logged even if
// the configuration is removed meanwhile.
func (s *WebhookService) post(url, secret string, eventType model.WebhookEventType, body []byte) attemptResult {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.Timeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return attemptResult{status: networkFailureStatus, err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", webhookUserAgent)
	req.Header.Set("X-Webhook-Event", string(eventType))
	if secret != "" {
		req.Header.Set("X-Webhook-Signature", util.SignatureHeader(secret, body))
	}

	resp, err := s.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return attemptResult{status: networkFailureStatus, err: err, elapsed: elapsed}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return attemptResult{status: resp.StatusCode, elapsed: elapsed}
}

func (s *WebhookService) createRecord(sessionID string, eventType model.WebhookEventType, url string, body []byte) string {
	ctx, cancel := context.WithTimeout(context.Background(), webhookRecordTimeout)
	defer cancel()

	rec, err := s.eventRepo.Create(ctx, model.CreateWebhookEventParams{
		SessionID: sessionID,
		EventType: eventType,
		TargetURL: url,
		Payload:   body,
	})
	if err != nil {
		log.Error().Err(err).Str("sessionId", sessionID).Msg("failed to record webhook event")
		return ""
	}
	return rec.ID
}

func (s *WebhookService) recordAttempt(id string, status model.WebhookEventStatus, res attemptResult, retryCount int) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), webhookRecordTimeout)
	defer cancel()

	err := s.eventRepo.RecordAttempt(ctx, model.RecordWebhookAttemptParams{
		ID:           id,
		Status:       status,
		HTTPStatus:   res.status,
		RetryCount:   retryCount,
		ErrorMessage: res.message(),
	})
	if err != nil {
		log.Error().Err(err).Str("webhookEventId", id).Msg("failed to record webhook attempt")
	}
}

func (s *WebhookService) sealSecret(sessionID, secret string) (string, error) {
	if s.opts.Secrets == nil {
		return secret, nil
	}
	return s.opts.Secrets.Seal(sessionID, secret)
}

// openSecret accepts secrets stored before a key was configured as they are.
func (s *WebhookService) openSecret(sessionID string, stored *string) (string, error) {
	if stored == nil || *stored == "" {
		return "", nil
	}
	if !util.IsSealed(*stored) {
		return *stored, nil
	}
	if s.opts.Secrets == nil {
		return "", errors.New("secret is sealed but no ENCRYPTION_KEY is set")
	}
	return s.opts.Secrets.Open(sessionID, *stored)
}

// Notify turns session notifications into webhook events.
func (s *WebhookService) Notify(ctx context.Context, n Notification) {
	switch n.Kind {
	case NotifyTransition:
		switch n.To {
		case model.SessionStateReady:
			data := map[string]any{"state": n.To, "previousState": n.From}
			if n.Session.PhoneNumber != nil {
				data["phoneNumber"] = *n.Session.PhoneNumber
			}
			s.Dispatch(n.Session.ID, model.WebhookEventSessionReady, data)
		case model.SessionStateDisconnected:
			s.Dispatch(n.Session.ID, model.WebhookEventSessionDisconnected, map[string]any{
				"state":         n.To,
				"previousState": n.From,
				"reason":        n.Reason,
			})
		}
	case NotifyMessageReceived:
		if n.Inbound == nil {
			return
		}
		s.Dispatch(n.Session.ID, model.WebhookEventMessageReceived, map[string]any{
			"from":      n.Inbound.From,
			"body":      n.Inbound.Body,
			"type":      n.Inbound.Type,
			"timestamp": n.Inbound.Timestamp,
		})
	}
}

// Describe and Collect expose the delivery metrics.
func (s *WebhookService) Describe(ch chan<- *prometheus.Desc) {
	s.attempts.Describe(ch)
	s.chains.Describe(ch)
	s.latency.Describe(ch)
}

func (s *WebhookService) Collect(ch chan<- prometheus.Metric) {
	s.attempts.Collect(ch)
	s.chains.Collect(ch)
	s.latency.Collect(ch)
}
