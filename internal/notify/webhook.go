// Package notify delivers finished alert documents to external
// channels. The service ships a webhook channel; formatting for email
// or SMS belongs to downstream consumers.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/epiwatch/epiwatch/internal/models"
)

// WebhookNotifier POSTs the complete alert document as JSON to each
// configured URL. Delivery is best-effort: one reachable endpoint
// counts as delivered.
type WebhookNotifier struct {
	urls   []string
	client *http.Client
	logger *zap.Logger
}

// NewWebhook builds a webhook notifier. timeout bounds each POST.
func NewWebhook(urls []string, timeout time.Duration, logger *zap.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		urls:   urls,
		client: &http.Client{Timeout: timeout},
		logger: logger.Named("webhook"),
	}
}

// Notify posts the alert to every endpoint. Returns an error only when
// no endpoint accepted it.
func (w *WebhookNotifier) Notify(ctx context.Context, alert *models.Alert) error {
	if len(w.urls) == 0 {
		return nil
	}

	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert %s: %w", alert.AlertID, err)
	}

	delivered := 0
	for _, url := range w.urls {
		if err := w.post(ctx, url, body); err != nil {
			w.logger.Warn("webhook delivery failed",
				zap.String("alert_id", alert.AlertID),
				zap.String("url", url),
				zap.Error(err))
			continue
		}
		delivered++
	}
	if delivered == 0 {
		return fmt.Errorf("alert %s: all %d webhook deliveries failed", alert.AlertID, len(w.urls))
	}
	return nil
}

func (w *WebhookNotifier) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
