package handler

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Willytecheira/nexus-wa-core-sub000/internal/connector"
	apperrors "github.com/Willytecheira/nexus-wa-core-sub000/internal/errors"
	"github.com/Willytecheira/nexus-wa-core-sub000/internal/model"
)

var testNow = time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)

type sessionRouter struct {
	router   chi.Router
	sessions *mockSessionManager
	webhooks *mockWebhookManager
	messages *mockMessageLog
	qr       staticQR
}

func newSessionRouter() *sessionRouter {
	sr := &sessionRouter{
		sessions: new(mockSessionManager),
		webhooks: new(mockWebhookManager),
		messages: new(mockMessageLog),
		qr:       staticQR{},
	}

	webhookHandler := NewWebhookHandler(sr.webhooks, sr.sessions)
	h := NewSessionHandler(sr.sessions, sr.qr, sr.messages, webhookHandler.Routes(), nil)
	h.now = func() time.Time { return testNow }

	r := chi.NewRouter()
	r.Mount("/v1/sessions", h.Routes())
	sr.router = r
	return sr
}

func (sr *sessionRouter) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	sr.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func testSession(id string) *model.Session {
	return &model.Session{
		ID:             id,
		Name:           "sales",
		State:          model.SessionStateQRPending,
		CreatedAt:      testNow.Add(-2 * time.Minute),
		StartedAt:      testNow.Add(-90 * time.Second),
		LastActivityAt: testNow.Add(-10 * time.Second),
	}
}

func TestSessionHandler_Create(t *testing.T) {
	t.Run("creates session", func(t *testing.T) {
		sr := newSessionRouter()
		created := testSession("s1")
		created.State = model.SessionStateInitializing
		sr.sessions.On("Create", mock.Anything, "sales").Return(created, nil)

		rec := sr.do(http.MethodPost, "/v1/sessions", `{"name":"sales"}`)

		assert.Equal(t, http.StatusCreated, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "s1", body["id"])
		assert.Equal(t, "INITIALIZING", body["state"])
		assert.Equal(t, float64(90), body["uptimeSeconds"])
		sr.sessions.AssertExpectations(t)
	})

	t.Run("capacity exceeded is a conflict", func(t *testing.T) {
		sr := newSessionRouter()
		sr.sessions.On("Create", mock.Anything, "sales").Return(nil, apperrors.CapacityExceeded(2))

		rec := sr.do(http.MethodPost, "/v1/sessions", `{"name":"sales"}`)

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "CAPACITY_EXCEEDED", decodeBody(t, rec)["code"])
	})

	t.Run("rejects malformed bodies", func(t *testing.T) {
		for _, body := range []string{`{"name":`, `{"nmae":"typo"}`, ""} {
			sr := newSessionRouter()
			rec := sr.do(http.MethodPost, "/v1/sessions", body)

			assert.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)
			sr.sessions.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		}
	})
}

func TestSessionHandler_List(t *testing.T) {
	sr := newSessionRouter()
	a, b := testSession("a"), testSession("b")
	b.State = model.SessionStateReady
	sr.sessions.On("List").Return([]model.Session{*a, *b})
	sr.sessions.On("MaxSessions").Return(5)
	sr.qr["a"] = []byte("png")

	rec := sr.do(http.MethodGet, "/v1/sessions", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(2), body["total"])
	assert.Equal(t, float64(5), body["maxSessions"])

	sessions := body["sessions"].([]any)
	require.Len(t, sessions, 2)
	assert.Equal(t, true, sessions[0].(map[string]any)["hasQr"])
	assert.Equal(t, false, sessions[1].(map[string]any)["hasQr"])
}

func TestSessionHandler_Get(t *testing.T) {
	t.Run("includes derived times", func(t *testing.T) {
		sr := newSessionRouter()
		sr.sessions.On("Get", "s1").Return(testSession("s1"), nil)

		rec := sr.do(http.MethodGet, "/v1/sessions/s1", "")

		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, float64(90), body["uptimeSeconds"])
		assert.Equal(t, float64(10), body["secondsSinceLastActivity"])
	})

	t.Run("unknown id", func(t *testing.T) {
		sr := newSessionRouter()
		sr.sessions.On("Get", "nope").Return(nil, apperrors.NotFound("session"))

		rec := sr.do(http.MethodGet, "/v1/sessions/nope", "")

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "NOT_FOUND", decodeBody(t, rec)["code"])
	})
}

func TestSessionHandler_RestartAndDelete(t *testing.T) {
	sr := newSessionRouter()
	sr.sessions.On("Restart", mock.Anything, "s1").Return(nil)
	sr.sessions.On("Delete", mock.Anything, "s1").Return(nil)
	sr.sessions.On("Delete", mock.Anything, "gone").Return(apperrors.NotFound("session"))

	assert.Equal(t, http.StatusAccepted, sr.do(http.MethodPost, "/v1/sessions/s1/restart", "").Code)
	assert.Equal(t, http.StatusNoContent, sr.do(http.MethodDelete, "/v1/sessions/s1", "").Code)
	assert.Equal(t, http.StatusNotFound, sr.do(http.MethodDelete, "/v1/sessions/gone", "").Code)
	sr.sessions.AssertExpectations(t)
}

func TestSessionHandler_QR(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}

	t.Run("serves png", func(t *testing.T) {
		sr := newSessionRouter()
		sr.sessions.On("Get", "s1").Return(testSession("s1"), nil)
		sr.qr["s1"] = png

		rec := sr.do(http.MethodGet, "/v1/sessions/s1/qr", "")

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
		assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
		assert.Equal(t, png, rec.Body.Bytes())
	})

	t.Run("serves data url", func(t *testing.T) {
		sr := newSessionRouter()
		sr.sessions.On("Get", "s1").Return(testSession("s1"), nil)
		sr.qr["s1"] = png

		rec := sr.do(http.MethodGet, "/v1/sessions/s1/qr?format=base64", "")

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "data:image/png;base64,"+base64.StdEncoding.EncodeToString(png), decodeBody(t, rec)["qr"])
	})

	t.Run("not available", func(t *testing.T) {
		sr := newSessionRouter()
		ready := testSession("s1")
		ready.State = model.SessionStateReady
		sr.sessions.On("Get", "s1").Return(ready, nil)

		rec := sr.do(http.MethodGet, "/v1/sessions/s1/qr", "")

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "NOT_FOUND", decodeBody(t, rec)["code"])
	})
}

func TestSessionHandler_SendMessage(t *testing.T) {
	t.Run("sends", func(t *testing.T) {
		sr := newSessionRouter()
		sr.sessions.On("SendMessage", mock.Anything, "s1", connector.OutboundMessage{To: "+15550001", Body: "hello"}).Return(nil)

		rec := sr.do(http.MethodPost, "/v1/sessions/s1/messages", `{"to":" +15550001 ","body":"hello"}`)

		assert.Equal(t, http.StatusAccepted, rec.Code)
		sr.sessions.AssertExpectations(t)
	})

	t.Run("passes the message type", func(t *testing.T) {
		sr := newSessionRouter()
		sr.sessions.On("SendMessage", mock.Anything, "s1",
			connector.OutboundMessage{To: "+15550001", Body: "https://cdn.example.com/a.png", Type: "image"}).Return(nil)

		rec := sr.do(http.MethodPost, "/v1/sessions/s1/messages", `{"to":"+15550001","body":"https://cdn.example.com/a.png","type":"image"}`)

		assert.Equal(t, http.StatusAccepted, rec.Code)
		sr.sessions.AssertExpectations(t)
	})

	t.Run("not ready is a connector failure", func(t *testing.T) {
		sr := newSessionRouter()
		sr.sessions.On("SendMessage", mock.Anything, "s1", mock.Anything).
			Return(apperrors.ConnectorFailure("session is not ready"))

		rec := sr.do(http.MethodPost, "/v1/sessions/s1/messages", `{"to":"+1","body":"x"}`)

		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, "CONNECTOR_FAILURE", decodeBody(t, rec)["code"])
	})
}

func TestSessionHandler_ListMessages(t *testing.T) {
	sr := newSessionRouter()
	sr.sessions.On("Get", "s1").Return(testSession("s1"), nil)
	sr.messages.On("FindBySessionID", mock.Anything, "s1", 10, 5).Return(nil, nil)

	rec := sr.do(http.MethodGet, "/v1/sessions/s1/messages?limit=10&offset=5", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, []any{}, body["messages"])
	assert.Equal(t, float64(10), body["limit"])
	sr.messages.AssertExpectations(t)
}
