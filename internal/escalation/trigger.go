package escalation

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/epiwatch/epiwatch/internal/metrics"
	"github.com/epiwatch/epiwatch/internal/models"
	"github.com/epiwatch/epiwatch/internal/store"
)

// Notifier delivers a finished alert document. Implementations must
// treat the alert as self-contained; no further lookups are available.
type Notifier interface {
	Notify(ctx context.Context, alert *models.Alert) error
}

// Trigger is the escalation orchestrator: it enforces the per-ward
// deduplication window, invokes the gate pipeline, persists alerts,
// and hands them to the notifiers.
type Trigger struct {
	escalator *Escalator
	alerts    store.AlertStore
	notifiers []Notifier
	dedup     time.Duration
	logger    *zap.Logger
}

// NewTrigger wires the escalation boundary. dedup is the window within
// which a ward gets at most one alert.
func NewTrigger(escalator *Escalator, alerts store.AlertStore, notifiers []Notifier, dedup time.Duration, logger *zap.Logger) *Trigger {
	return &Trigger{
		escalator: escalator,
		alerts:    alerts,
		notifiers: notifiers,
		dedup:     dedup,
		logger:    logger.Named("trigger"),
	}
}

// Process walks a detection run's results and escalates the flagged
// ones. Returns the alerts that were created. Failures suppress the
// individual anomaly and never abort the batch.
func (t *Trigger) Process(ctx context.Context, results []*models.AnomalyResult) []*models.Alert {
	var created []*models.Alert
	for _, res := range results {
		if !res.IsAnomaly {
			continue
		}
		alert := t.processOne(ctx, res)
		if alert != nil {
			created = append(created, alert)
		}
	}
	return created
}

func (t *Trigger) processOne(ctx context.Context, anomaly *models.AnomalyResult) *models.Alert {
	// Deduplication: at most one alert per ward per window.
	since := time.Now().UTC().Add(-t.dedup)
	existing, err := t.alerts.LatestAlertForWard(ctx, anomaly.Ward, since)
	if err != nil {
		t.suppressed(anomaly, suppress("error", "dedup lookup failed: "+err.Error()))
		return nil
	}
	if existing != nil {
		t.suppressed(anomaly, suppress("dedup", "alert "+existing.AlertID+" already active for ward"))
		return nil
	}

	alert, outcome := t.escalator.Escalate(ctx, anomaly)
	if !outcome.Proceed {
		t.suppressed(anomaly, outcome)
		return nil
	}

	if err := t.alerts.InsertAlert(ctx, alert); err != nil {
		t.suppressed(anomaly, suppress("error", "persist alert: "+err.Error()))
		return nil
	}

	metrics.AlertsCreated.WithLabelValues(string(alert.Severity)).Inc()
	t.logger.Info("alert created",
		zap.String("alert_id", alert.AlertID),
		zap.String("ward", alert.Ward),
		zap.String("severity", string(alert.Severity)),
		zap.Float64("anomaly_score", alert.AnomalyScore),
		zap.Float64("confidence", alert.Confidence))

	t.notify(ctx, alert)
	return alert
}

func (t *Trigger) notify(ctx context.Context, alert *models.Alert) {
	if len(t.notifiers) == 0 {
		return
	}
	delivered := false
	for _, n := range t.notifiers {
		if err := n.Notify(ctx, alert); err != nil {
			metrics.NotificationsSent.WithLabelValues("error").Inc()
			t.logger.Warn("notification failed",
				zap.String("alert_id", alert.AlertID),
				zap.Error(err))
			continue
		}
		metrics.NotificationsSent.WithLabelValues("ok").Inc()
		delivered = true
	}
	if !delivered {
		return
	}
	if err := t.alerts.MarkAlertNotified(ctx, alert.AlertID); err != nil {
		t.logger.Warn("mark notified failed",
			zap.String("alert_id", alert.AlertID),
			zap.Error(err))
		return
	}
	alert.Notified = true
}

func (t *Trigger) suppressed(anomaly *models.AnomalyResult, outcome Outcome) {
	metrics.EscalationsSuppressed.WithLabelValues(outcome.Gate).Inc()
	t.logger.Info("escalation suppressed",
		zap.String("ward", anomaly.Ward),
		zap.Time("date", anomaly.Date),
		zap.String("gate", outcome.Gate),
		zap.String("reason", outcome.Reason),
		zap.Float64("anomaly_score", anomaly.AnomalyScore))
}
