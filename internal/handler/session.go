package handler

import (
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Willytecheira/nexus-wa-core-sub000/internal/audit"
	"github.com/Willytecheira/nexus-wa-core-sub000/internal/connector"
	apperrors "github.com/Willytecheira/nexus-wa-core-sub000/internal/errors"
	"github.com/Willytecheira/nexus-wa-core-sub000/internal/model"
)

type SessionHandler struct {
	sessions      SessionManager
	qrCodes       QRSource
	messages      MessageLog
	webhookRoutes http.Handler
	createLimit   func(http.Handler) http.Handler
	now           func() time.Time
}

// NewSessionHandler wires the session routes. webhookRoutes is mounted at
// /{id}/webhook; createLimit guards session creation only. Both may be nil.
func NewSessionHandler(
	sessions SessionManager,
	qrCodes QRSource,
	messages MessageLog,
	webhookRoutes http.Handler,
	createLimit func(http.Handler) http.Handler,
) *SessionHandler {
	return &SessionHandler{
		sessions:      sessions,
		qrCodes:       qrCodes,
		messages:      messages,
		webhookRoutes: webhookRoutes,
		createLimit:   createLimit,
		now:           time.Now,
	}
}

// Routes is mounted at /v1/sessions.
func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	if h.createLimit != nil {
		r.With(h.createLimit).Post("/", h.Create)
	} else {
		r.Post("/", h.Create)
	}
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Delete("/{id}", h.Delete)
	r.Post("/{id}/restart", h.Restart)
	r.Get("/{id}/qr", h.QR)
	r.Post("/{id}/messages", h.SendMessage)
	r.Get("/{id}/messages", h.ListMessages)

	if h.webhookRoutes != nil {
		r.Mount("/{id}/webhook", h.webhookRoutes)
	}

	return r
}

// POST /v1/sessions
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	sess, err := h.sessions.Create(r.Context(), req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventSessionCreate,
		SessionID: sess.ID,
		Details:   map[string]any{"name": sess.Name},
	})

	writeJSON(w, http.StatusCreated, newSessionView(*sess, false, h.now()))
}

// GET /v1/sessions
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	sessions := h.sessions.List()

	views := make([]sessionView, 0, len(sessions))
	for _, sess := range sessions {
		_, hasQR := h.qrCodes.Get(sess.ID)
		views = append(views, newSessionView(sess, hasQR, now))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessions":    views,
		"total":       len(views),
		"maxSessions": h.sessions.MaxSessions(),
	})
}

// GET /v1/sessions/{id}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sess, err := h.sessions.Get(id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	_, hasQR := h.qrCodes.Get(id)
	writeJSON(w, http.StatusOK, newSessionView(*sess, hasQR, h.now()))
}

// POST /v1/sessions/{id}/restart
func (h *SessionHandler) Restart(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.sessions.Restart(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{Type: audit.EventSessionRestart, SessionID: id})

	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":     id,
		"status": "restarting",
	})
}

// DELETE /v1/sessions/{id}
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.sessions.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{Type: audit.EventSessionDelete, SessionID: id})

	w.WriteHeader(http.StatusNoContent)
}

// GET /v1/sessions/{id}/qr
// Serves the pairing image as PNG, or as a data URL with ?format=base64.
func (h *SessionHandler) QR(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := h.sessions.Get(id); err != nil {
		writeError(w, r, err)
		return
	}

	code, ok := h.qrCodes.Get(id)
	if !ok {
		writeError(w, r, apperrors.NotFound("QR code").WithDetails(map[string]string{
			"reason": "no pairing code is pending for this session",
		}))
		return
	}

	w.Header().Set("Cache-Control", "no-store")

	if r.URL.Query().Get("format") == "base64" {
		writeJSON(w, http.StatusOK, map[string]string{
			"sessionId": id,
			"qr":        "data:image/png;base64," + base64.StdEncoding.EncodeToString(code),
		})
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(code)
}

// POST /v1/sessions/{id}/messages
func (h *SessionHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		To   string `json:"to"`
		Body string `json:"body"`
		Type string `json:"type"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	msg := connector.OutboundMessage{
		To:   strings.TrimSpace(req.To),
		Body: req.Body,
		Type: strings.TrimSpace(req.Type),
	}
	if err := h.sessions.SendMessage(r.Context(), id, msg); err != nil {
		writeError(w, r, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventMessageSend,
		SessionID: id,
		Details:   map[string]any{"to": msg.To},
	})

	writeJSON(w, http.StatusAccepted, map[string]string{
		"sessionId": id,
		"to":        msg.To,
		"status":    "sent",
	})
}

// GET /v1/sessions/{id}/messages?limit&offset
func (h *SessionHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := h.sessions.Get(id); err != nil {
		writeError(w, r, err)
		return
	}

	page := ParsePagination(r)
	messages, err := h.messages.FindBySessionID(r.Context(), id, page.Limit, page.Offset)
	if err != nil {
		writeError(w, r, apperrors.Database(err))
		return
	}
	if messages == nil {
		messages = []model.Message{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"messages": messages,
		"limit":    page.Limit,
		"offset":   page.Offset,
	})
}
