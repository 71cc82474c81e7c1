package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyac-dev/hyac/pkg/types"
)

func appWithWebhook(url, template string) *types.Application {
	return &types.Application{
		AppID: "abcdefgh",
		Notification: types.NotificationConfig{
			Webhook: types.WebhookNotification{Enabled: true, URL: url, Template: template},
		},
	}
}

// TestSendNoChannels tests that a fully disabled config is a no-op
func TestSendNoChannels(t *testing.T) {
	n := New()
	err := n.Send(context.Background(), &types.Application{AppID: "abcdefgh"}, "subject", "message")
	assert.NoError(t, err)
}

// TestSendWebhookDefaultPayload tests the default JSON body
func TestSendWebhookDefaultPayload(t *testing.T) {
	var received string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received = string(body)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
	}))
	defer srv.Close()

	n := New()
	err := n.Send(context.Background(), appWithWebhook(srv.URL, ""), "deploy", "it worked")
	require.NoError(t, err)
	assert.JSONEq(t, `{"subject":"deploy","message":"it worked"}`, received)
}

// TestSendWebhookTemplate tests placeholder substitution
func TestSendWebhookTemplate(t *testing.T) {
	var received string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received = string(body)
	}))
	defer srv.Close()

	template := `{"text":"{{subject}}: {{message}}"}`
	n := New()
	err := n.Send(context.Background(), appWithWebhook(srv.URL, template), "alert", "disk full")
	require.NoError(t, err)
	assert.Equal(t, `{"text":"alert: disk full"}`, received)
}

// TestSendWebhookServerError tests that a non-2xx answer is an error
func TestSendWebhookServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := New()
	err := n.Send(context.Background(), appWithWebhook(srv.URL, ""), "s", "m")
	assert.Error(t, err)
}

// TestSendWebhookMisconfigured tests the empty-url guard
func TestSendWebhookMisconfigured(t *testing.T) {
	n := New()
	err := n.Send(context.Background(), appWithWebhook("", ""), "s", "m")
	assert.Error(t, err)
}
