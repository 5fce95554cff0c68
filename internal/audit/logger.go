package audit

import (
	"context"
	"net"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventSessionCreate    EventType = "session_create"
	EventSessionRestart   EventType = "session_restart"
	EventSessionDelete    EventType = "session_delete"
	EventMessageSend      EventType = "message_send"
	EventWebhookConfigure EventType = "webhook_configure"
	EventWebhookRemove    EventType = "webhook_remove"
	EventWebhookTest      EventType = "webhook_test"
	EventAuthFailure      EventType = "auth_failure"
	EventRateLimited      EventType = "rate_limit_exceeded"
)

type Event struct {
	Type      EventType
	SessionID string
	IPAddress string
	UserAgent string
	RequestID string
	Details   map[string]any
}

// Log writes one operator audit line at info, tagged audit=operator.
func Log(ctx context.Context, event Event) {
	logger := log.With().
		Str("audit", "operator").
		Str("eventType", string(event.Type)).
		Time("timestamp", time.Now()).
		Logger()

	if event.SessionID != "" {
		logger = logger.With().Str("sessionId", event.SessionID).Logger()
	}
	if event.IPAddress != "" {
		logger = logger.With().Str("ip", event.IPAddress).Logger()
	}
	if event.UserAgent != "" {
		logger = logger.With().Str("userAgent", event.UserAgent).Logger()
	}
	if event.RequestID == "" {
		event.RequestID = chimiddleware.GetReqID(ctx)
	}
	if event.RequestID != "" {
		logger = logger.With().Str("requestId", event.RequestID).Logger()
	}

	logEvent := logger.Info()
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("operator audit event")
}

func addField(e *zerolog.Event, key string, value any) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case bool:
		return e.Bool(key, v)
	case []string:
		return e.Strs(key, v)
	default:
		return e.Interface(key, v)
	}
}

// LogFromRequest fills the client fields from r. RemoteAddr is trusted to
// have been rewritten by chi's RealIP.
func LogFromRequest(r *http.Request, event Event) {
	event.IPAddress = clientIP(r)
	event.UserAgent = r.UserAgent()
	Log(r.Context(), event)
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
