package handler

import (
	"net/http"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Willytecheira/nexus-wa-core-sub000/internal/errors"
	"github.com/Willytecheira/nexus-wa-core-sub000/internal/model"
	"github.com/Willytecheira/nexus-wa-core-sub000/internal/service"
)

func testWebhookConfig() *model.WebhookConfig {
	secret := "sealed"
	return &model.WebhookConfig{
		SessionID:  "s1",
		URL:        "https://hooks.example.com/in",
		EventTypes: pq.StringArray{"session.ready", "message.received"},
		Secret:     &secret,
		CreatedAt:  testNow,
		UpdatedAt:  testNow,
	}
}

func TestWebhookHandler_Configure(t *testing.T) {
	t.Run("configures", func(t *testing.T) {
		sr := newSessionRouter()
		sr.sessions.On("Get", "s1").Return(testSession("s1"), nil)
		secret := "shh"
		sr.webhooks.On("Configure", mock.Anything, "s1", service.ConfigureWebhookParams{
			URL:        "https://hooks.example.com/in",
			EventTypes: []string{"session.ready", "message.received"},
			Secret:     &secret,
		}).Return(testWebhookConfig(), nil)

		rec := sr.do(http.MethodPut, "/v1/sessions/s1/webhook",
			`{"url":"https://hooks.example.com/in","eventTypes":["session.ready","message.received"],"secret":"shh"}`)

		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "https://hooks.example.com/in", body["url"])
		assert.NotContains(t, body, "secret")
		sr.webhooks.AssertExpectations(t)
	})

	t.Run("unknown session", func(t *testing.T) {
		sr := newSessionRouter()
		sr.sessions.On("Get", "nope").Return(nil, apperrors.NotFound("session"))

		rec := sr.do(http.MethodPut, "/v1/sessions/nope/webhook", `{"url":"https://x.example.com","eventTypes":["session.ready"]}`)

		assert.Equal(t, http.StatusNotFound, rec.Code)
		sr.webhooks.AssertNotCalled(t, "Configure", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("invalid config", func(t *testing.T) {
		sr := newSessionRouter()
		sr.sessions.On("Get", "s1").Return(testSession("s1"), nil)
		sr.webhooks.On("Configure", mock.Anything, "s1", mock.Anything).
			Return(nil, apperrors.InvalidConfig("unsupported event type \"chat.typing\""))

		rec := sr.do(http.MethodPut, "/v1/sessions/s1/webhook", `{"url":"https://x.example.com","eventTypes":["chat.typing"]}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_CONFIG", decodeBody(t, rec)["code"])
	})
}

func TestWebhookHandler_GetAndRemove(t *testing.T) {
	t.Run("get", func(t *testing.T) {
		sr := newSessionRouter()
		sr.sessions.On("Get", "s1").Return(testSession("s1"), nil)
		sr.webhooks.On("Get", "s1").Return(testWebhookConfig(), nil)

		rec := sr.do(http.MethodGet, "/v1/sessions/s1/webhook", "")

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []any{"session.ready", "message.received"}, decodeBody(t, rec)["eventTypes"])
	})

	t.Run("get without webhook", func(t *testing.T) {
		sr := newSessionRouter()
		sr.sessions.On("Get", "s1").Return(testSession("s1"), nil)
		sr.webhooks.On("Get", "s1").Return(nil, apperrors.NotFound("webhook"))

		assert.Equal(t, http.StatusNotFound, sr.do(http.MethodGet, "/v1/sessions/s1/webhook", "").Code)
	})

	t.Run("remove", func(t *testing.T) {
		sr := newSessionRouter()
		sr.sessions.On("Get", "s1").Return(testSession("s1"), nil)
		sr.webhooks.On("Get", "s1").Return(testWebhookConfig(), nil)
		sr.webhooks.On("Remove", mock.Anything, "s1").Return(nil)

		assert.Equal(t, http.StatusNoContent, sr.do(http.MethodDelete, "/v1/sessions/s1/webhook", "").Code)
		sr.webhooks.AssertExpectations(t)
	})

	t.Run("remove without webhook", func(t *testing.T) {
		sr := newSessionRouter()
		sr.sessions.On("Get", "s1").Return(testSession("s1"), nil)
		sr.webhooks.On("Get", "s1").Return(nil, apperrors.NotFound("webhook"))

		assert.Equal(t, http.StatusNotFound, sr.do(http.MethodDelete, "/v1/sessions/s1/webhook", "").Code)
		sr.webhooks.AssertNotCalled(t, "Remove", mock.Anything, mock.Anything)
	})
}

func TestWebhookHandler_ListEvents(t *testing.T) {
	sr := newSessionRouter()
	sr.sessions.On("Get", "s1").Return(testSession("s1"), nil)
	status := 503
	sr.webhooks.On("ListEvents", mock.Anything, "s1", DefaultLimit, 0).Return([]model.WebhookEvent{
		{ID: "e1", SessionID: "s1", EventType: model.WebhookEventSessionReady, Status: model.WebhookStatusFailed, HTTPStatus: &status, RetryCount: 2},
	}, 1, nil)

	rec := sr.do(http.MethodGet, "/v1/sessions/s1/webhook/events", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["total"])
	events := body["events"].([]any)
	require.Len(t, events, 1)
	evt := events[0].(map[string]any)
	assert.Equal(t, "failed", evt["status"])
	assert.Equal(t, float64(503), evt["httpStatus"])
	assert.Equal(t, float64(2), evt["retryCount"])
}

func TestWebhookHandler_GetEvent(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		sr := newSessionRouter()
		sr.sessions.On("Get", "s1").Return(testSession("s1"), nil)
		sr.webhooks.On("GetEvent", mock.Anything, "s1", "e1").Return(&model.WebhookEvent{
			ID: "e1", SessionID: "s1", EventType: model.WebhookEventSessionReady, Status: model.WebhookStatusDelivered,
		}, nil)

		rec := sr.do(http.MethodGet, "/v1/sessions/s1/webhook/events/e1", "")

		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "e1", body["id"])
		assert.Equal(t, "delivered", body["status"])
	})

	t.Run("missing", func(t *testing.T) {
		sr := newSessionRouter()
		sr.sessions.On("Get", "s1").Return(testSession("s1"), nil)
		sr.webhooks.On("GetEvent", mock.Anything, "s1", "nope").Return(nil, apperrors.NotFound("webhook event"))

		assert.Equal(t, http.StatusNotFound, sr.do(http.MethodGet, "/v1/sessions/s1/webhook/events/nope", "").Code)
	})
}

func TestWebhookHandler_Test(t *testing.T) {
	t.Run("queued", func(t *testing.T) {
		sr := newSessionRouter()
		sr.sessions.On("Get", "s1").Return(testSession("s1"), nil)
		sr.webhooks.On("Test", mock.Anything, "s1").Return(nil)

		rec := sr.do(http.MethodPost, "/v1/sessions/s1/webhook/test", "")

		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, "queued", decodeBody(t, rec)["status"])
	})

	t.Run("no webhook configured", func(t *testing.T) {
		sr := newSessionRouter()
		sr.sessions.On("Get", "s1").Return(testSession("s1"), nil)
		sr.webhooks.On("Test", mock.Anything, "s1").Return(apperrors.NotFound("webhook"))

		assert.Equal(t, http.StatusNotFound, sr.do(http.MethodPost, "/v1/sessions/s1/webhook/test", "").Code)
	})
}
