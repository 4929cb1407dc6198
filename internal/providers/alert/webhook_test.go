package alert

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/smallbiznis/storefront/internal/config"
	"github.com/smallbiznis/storefront/pkg/telemetry/correlation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookPostsAlert(t *testing.T) {
	var body webhookBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "req-9", r.Header.Get(correlation.HeaderCorrelationID))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := NewWebhook(srv.URL, time.Second)
	err := p.Notify(correlation.WithID(context.Background(), "req-9"), Alert{
		Kind:     "low_stock",
		Severity: SeverityWarning,
		Title:    "Low stock",
		Message:  "product 7 has 2 left",
		Fields:   map[string]string{"product_id": "7"},
	})
	require.NoError(t, err)
	assert.Equal(t, "[warning] Low stock: product 7 has 2 left", body.Text)
	assert.Equal(t, "7", body.Alert.Fields["product_id"])
}

func TestWebhookRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL, time.Second).Notify(context.Background(), Alert{Title: "x"})
	require.ErrorIs(t, err, ErrRejected)
}

func TestNewFromConfigWithoutURL(t *testing.T) {
	_, ok := NewFromConfig(config.Config{}).(*NoOpProvider)
	assert.True(t, ok)
}
