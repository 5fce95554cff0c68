package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Willytecheira/nexus-wa-core-sub000/internal/model"
	redisclient "github.com/Willytecheira/nexus-wa-core-sub000/internal/redis"
	"github.com/Willytecheira/nexus-wa-core-sub000/internal/sse"
)

type EventsHandler struct {
	broker   EventBroker
	sessions SessionManager
	now      func() time.Time
}

func NewEventsHandler(broker EventBroker, sessions SessionManager) *EventsHandler {
	return &EventsHandler{
		broker:   broker,
		sessions: sessions,
		now:      time.Now,
	}
}

// GET /v1/events?sessionId=
// Streams live session notifications. Without sessionId every session is
// streamed.
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")

	topic := redisclient.AllSessionsTopic
	var snapshot []model.Session
	if sessionID != "" {
		sess, err := h.sessions.Get(sessionID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		topic = sessionID
		snapshot = []model.Session{*sess}
	} else {
		snapshot = h.sessions.List()
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Streaming not supported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := h.broker.Subscribe(topic)
	defer h.broker.Unsubscribe(client)

	log.Info().
		Str("topic", topic).
		Msg("sse connection established")

	now := h.now()
	views := make([]sessionView, 0, len(snapshot))
	for _, sess := range snapshot {
		views = append(views, newSessionView(sess, false, now))
	}
	if err := h.sendEvent(w, flusher, "connected", map[string]any{
		"topic":    topic,
		"sessions": views,
	}); err != nil {
		return
	}

	ctx := r.Context()
	heartbeat := time.NewTicker(sse.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().
				Str("topic", topic).
				Msg("sse connection closed by client")
			return

		case <-client.Done:
			log.Info().
				Str("topic", topic).
				Msg("sse connection closed by broker")
			return

		case event := <-client.Events:
			if err := h.sendRawEvent(w, flusher, event); err != nil {
				log.Error().Err(err).Msg("failed to send event")
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				log.Debug().
					Str("topic", topic).
					Msg("heartbeat failed, closing connection")
				return
			}
			flusher.Flush()
		}
	}
}

func (h *EventsHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	return h.sendRawEvent(w, flusher, sse.Event{Type: eventType, Data: jsonData})
}

func (h *EventsHandler) sendRawEvent(w http.ResponseWriter, flusher http.Flusher, event sse.Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", event.Data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
