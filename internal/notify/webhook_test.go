package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/epiwatch/epiwatch/internal/models"
)

func testAlert() *models.Alert {
	return &models.Alert{
		AlertID:      "ALERT-20260820-ABCD1234",
		Ward:         "ward-7",
		Severity:     models.SeverityHigh,
		AnomalyScore: 0.82,
		Confidence:   0.9,
		Status:       models.AlertActive,
		CreatedAt:    time.Now().UTC(),
	}
}

func TestNotifyPostsAlertDocument(t *testing.T) {
	var received models.Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhook([]string{srv.URL}, 2*time.Second, zap.NewNop())
	require.NoError(t, n.Notify(context.Background(), testAlert()))

	assert.Equal(t, "ALERT-20260820-ABCD1234", received.AlertID)
	assert.Equal(t, models.SeverityHigh, received.Severity)
}

func TestNotifyPartialFailureIsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhook([]string{"http://127.0.0.1:1/unreachable", srv.URL}, time.Second, zap.NewNop())
	assert.NoError(t, n.Notify(context.Background(), testAlert()))
}

func TestNotifyAllFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewWebhook([]string{srv.URL}, time.Second, zap.NewNop())
	assert.Error(t, n.Notify(context.Background(), testAlert()))
}

func TestNotifyNoURLs(t *testing.T) {
	n := NewWebhook(nil, time.Second, zap.NewNop())
	assert.NoError(t, n.Notify(context.Background(), testAlert()))
}
