package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Willytecheira/nexus-wa-core-sub000/internal/audit"
	"github.com/Willytecheira/nexus-wa-core-sub000/internal/service"
	"github.com/Willytecheira/nexus-wa-core-sub000/internal/util"
)

type WebhookHandler struct {
	webhooks WebhookManager
	sessions SessionManager
}

func NewWebhookHandler(webhooks WebhookManager, sessions SessionManager) *WebhookHandler {
	return &WebhookHandler{
		webhooks: webhooks,
		sessions: sessions,
	}
}

// Routes is mounted at /v1/sessions/{id}/webhook.
func (h *WebhookHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Put("/", h.Configure)
	r.Get("/", h.Get)
	r.Delete("/", h.Remove)
	r.Get("/events", h.ListEvents)
	r.Get("/events/{eventId}", h.GetEvent)
	r.Post("/test", h.Test)

	return r
}

// sessionID resolves the id path parameter to a live session, writing the
// error response when there is none.
func (h *WebhookHandler) sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if _, err := h.sessions.Get(id); err != nil {
		writeError(w, r, err)
		return "", false
	}
	return id, true
}

// PUT /v1/sessions/{id}/webhook
func (h *WebhookHandler) Configure(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	var req struct {
		URL        string   `json:"url"`
		EventTypes []string `json:"eventTypes"`
		Secret     *string  `json:"secret"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	cfg, err := h.webhooks.Configure(r.Context(), id, service.ConfigureWebhookParams{
		URL:        req.URL,
		EventTypes: req.EventTypes,
		Secret:     req.Secret,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventWebhookConfigure,
		SessionID: id,
		Details: map[string]any{
			"url":        util.RedactURL(cfg.URL),
			"eventTypes": []string(cfg.EventTypes),
			"signed":     cfg.Secret != nil,
		},
	})

	writeJSON(w, http.StatusOK, cfg)
}

// GET /v1/sessions/{id}/webhook
func (h *WebhookHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	cfg, err := h.webhooks.Get(id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, cfg)
}

// DELETE /v1/sessions/{id}/webhook
func (h *WebhookHandler) Remove(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	if _, err := h.webhooks.Get(id); err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.webhooks.Remove(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{Type: audit.EventWebhookRemove, SessionID: id})

	w.WriteHeader(http.StatusNoContent)
}

// GET /v1/sessions/{id}/webhook/events?limit&offset
func (h *WebhookHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	page := ParsePagination(r)
	events, total, err := h.webhooks.ListEvents(r.Context(), id, page.Limit, page.Offset)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"total":  total,
		"limit":  page.Limit,
		"offset": page.Offset,
	})
}

// GET /v1/sessions/{id}/webhook/events/{eventId}
func (h *WebhookHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	evt, err := h.webhooks.GetEvent(r.Context(), id, chi.URLParam(r, "eventId"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, evt)
}

// POST /v1/sessions/{id}/webhook/test
func (h *WebhookHandler) Test(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	if err := h.webhooks.Test(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{Type: audit.EventWebhookTest, SessionID: id})

	writeJSON(w, http.StatusAccepted, map[string]string{
		"sessionId": id,
		"status":    "queued",
	})
}
