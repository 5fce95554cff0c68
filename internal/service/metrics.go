package service

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/Willytecheira/nexus-wa-core-sub000/internal/model"
	"github.com/Willytecheira/nexus-wa-core-sub000/internal/repository"
)

const metricsNamespace = "nexus"

// SessionCounters is the registry view the metrics service reads and writes.
type SessionCounters interface {
	Increment(ctx context.Context, id string, counter model.Counter) error
	List() []model.Session
}

type SessionMetrics struct {
	ID                       string             `json:"id"`
	Name                     string             `json:"name"`
	State                    model.SessionState `json:"state"`
	MessagesSent             int64              `json:"messagesSent"`
	MessagesReceived         int64              `json:"messagesReceived"`
	ErrorCount               int64              `json:"errorCount"`
	UptimeSeconds            int64              `json:"uptimeSeconds"`
	SecondsSinceLastActivity int64              `json:"secondsSinceLastActivity"`
}

type MetricsSnapshot struct {
	TotalSessions  int              `json:"totalSessions"`
	ActiveSessions int              `json:"activeSessions"`
	TotalMessages  int64            `json:"totalMessages"`
	PerSession     []SessionMetrics `json:"perSession"`
	GeneratedAt    time.Time        `json:"generatedAt"`
}

// MetricsService records per-session counters and derives aggregate views
// from the registry on demand. It keeps no counters of its own apart from the
// Prometheus transition counter.
type MetricsService struct {
	sessions SessionCounters
	messages repository.MessageRepository
	now      func() time.Time

	transitions  *prometheus.CounterVec
	sessionsDesc *prometheus.Desc
	messagesDesc *prometheus.Desc
	errorsDesc   *prometheus.Desc
}

func NewMetricsService(sessions SessionCounters, messages repository.MessageRepository) *MetricsService {
	return &MetricsService{
		sessions: sessions,
		messages: messages,
		now:      time.Now,
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Session state transitions by target state.",
		}, []string{"to"}),
		sessionsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "", "sessions"),
			"Live sessions by state.",
			[]string{"state"}, nil,
		),
		messagesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "session", "messages_total"),
			"Messages across live sessions by direction.",
			[]string{"direction"}, nil,
		),
		errorsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "session", "errors_total"),
			"Errors across live sessions.",
			nil, nil,
		),
	}
}

func (m *MetricsService) RecordMessageSent(ctx context.Context, sessionID string) error {
	return m.sessions.Increment(ctx, sessionID, model.CounterMessagesSent)
}

func (m *MetricsService) RecordMessageReceived(ctx context.Context, sessionID string) error {
	return m.sessions.Increment(ctx, sessionID, model.CounterMessagesReceived)
}

func (m *MetricsService) RecordError(ctx context.Context, sessionID string) error {
	return m.sessions.Increment(ctx, sessionID, model.CounterErrors)
}

// Snapshot is computed from the registry at call time.
func (m *MetricsService) Snapshot() MetricsSnapshot {
	now := m.now()
	sessions := m.sessions.List()

	snap := MetricsSnapshot{
		TotalSessions: len(sessions),
		PerSession:    make([]SessionMetrics, 0, len(sessions)),
		GeneratedAt:   now.UTC(),
	}
	for i := range sessions {
		sess := &sessions[i]
		if sess.State == model.SessionStateReady {
			snap.ActiveSessions++
		}
		snap.TotalMessages += sess.MessagesSent + sess.MessagesReceived
		snap.PerSession = append(snap.PerSession, SessionMetrics{
			ID:                       sess.ID,
			Name:                     sess.Name,
			State:                    sess.State,
			MessagesSent:             sess.MessagesSent,
			MessagesReceived:         sess.MessagesReceived,
			ErrorCount:               sess.ErrorCount,
			UptimeSeconds:            sess.UptimeSeconds(now),
			SecondsSinceLastActivity: sess.SecondsSinceLastActivity(now),
		})
	}
	return snap
}

// Notify keeps counters and the message log in step with session activity.
func (m *MetricsService) Notify(ctx context.Context, n Notification) {
	id := n.Session.ID

	switch n.Kind {
	case NotifyTransition:
		m.transitions.WithLabelValues(string(n.To)).Inc()
	case NotifyMessageReceived:
		if err := m.RecordMessageReceived(ctx, id); err != nil {
			log.Error().Err(err).Str("sessionId", id).Msg("failed to record received message")
		}
		if n.Inbound != nil {
			m.logMessage(ctx, model.CreateMessageParams{
				SessionID:   id,
				Direction:   model.MessageDirectionInbound,
				Peer:        n.Inbound.From,
				Content:     n.Inbound.Body,
				MessageType: messageType(n.Inbound.Type),
			})
		}
	case NotifyMessageSent:
		if err := m.RecordMessageSent(ctx, id); err != nil {
			log.Error().Err(err).Str("sessionId", id).Msg("failed to record sent message")
		}
		if n.Outbound != nil {
			m.logMessage(ctx, model.CreateMessageParams{
				SessionID:   id,
				Direction:   model.MessageDirectionOutbound,
				Peer:        n.Outbound.To,
				Content:     n.Outbound.Body,
				MessageType: messageType(n.Outbound.Type),
			})
		}
	case NotifySendFailed:
		if err := m.RecordError(ctx, id); err != nil {
			log.Error().Err(err).Str("sessionId", id).Msg("failed to record send error")
		}
	}
}

func (m *MetricsService) logMessage(ctx context.Context, params model.CreateMessageParams) {
	if m.messages == nil {
		return
	}
	if _, err := m.messages.Create(ctx, params); err != nil {
		log.Error().Err(err).Str("sessionId", params.SessionID).Msg("failed to log message")
	}
}

func messageType(t string) string {
	if t == "" {
		return "text"
	}
	return t
}

func (m *MetricsService) Describe(ch chan<- *prometheus.Desc) {
	m.transitions.Describe(ch)
	ch <- m.sessionsDesc
	ch <- m.messagesDesc
	ch <- m.errorsDesc
}

// Collect reads the registry at scrape time.
func (m *MetricsService) Collect(ch chan<- prometheus.Metric) {
	m.transitions.Collect(ch)

	byState := make(map[model.SessionState]int, len(model.AllSessionStates))
	var sent, received, errs int64
	for _, sess := range m.sessions.List() {
		byState[sess.State]++
		sent += sess.MessagesSent
		received += sess.MessagesReceived
		errs += sess.ErrorCount
	}

	for _, state := range model.AllSessionStates {
		if state == model.SessionStateDeleted {
			continue
		}
		ch <- prometheus.MustNewConstMetric(m.sessionsDesc, prometheus.GaugeValue, float64(byState[state]), string(state))
	}
	ch <- prometheus.MustNewConstMetric(m.messagesDesc, prometheus.CounterValue, float64(sent), string(model.MessageDirectionOutbound))
	ch <- prometheus.MustNewConstMetric(m.messagesDesc, prometheus.CounterValue, float64(received), string(model.MessageDirectionInbound))
	ch <- prometheus.MustNewConstMetric(m.errorsDesc, prometheus.CounterValue, float64(errs))
}
