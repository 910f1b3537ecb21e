package escalation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/epiwatch/epiwatch/internal/models"
	"github.com/epiwatch/epiwatch/internal/store"
)

// Escalator runs a flagged anomaly through the gate sequence and, when
// every gate passes, builds the complete alert document. It does not
// persist or deliver the alert; that is the trigger's job.
type Escalator struct {
	events        store.EventStore
	aggregates    store.AggregateStore
	confidenceMin float64
	logger        *zap.Logger
}

// NewEscalator wires the gate sequence over the history store.
func NewEscalator(events store.EventStore, aggregates store.AggregateStore, confidenceMin float64, logger *zap.Logger) *Escalator {
	return &Escalator{
		events:        events,
		aggregates:    aggregates,
		confidenceMin: confidenceMin,
		logger:        logger.Named("escalation"),
	}
}

// Escalate evaluates one flagged anomaly. The returned alert is non-nil
// only when the outcome proceeds. Internal errors surface as a
// suppression with gate "error"; this stage never lets an exception
// produce an alert.
func (e *Escalator) Escalate(ctx context.Context, anomaly *models.AnomalyResult) (*models.Alert, Outcome) {
	alert, outcome, err := e.escalate(ctx, anomaly)
	if err != nil {
		e.logger.Error("escalation failed, suppressing",
			zap.String("ward", anomaly.Ward),
			zap.Time("date", anomaly.Date),
			zap.Error(err))
		return nil, suppress("error", err.Error())
	}
	return alert, outcome
}

func (e *Escalator) escalate(ctx context.Context, anomaly *models.AnomalyResult) (*models.Alert, Outcome, error) {
	// Gate 1: data integrity.
	integrity, err := checkIntegrity(ctx, e.events, e.aggregates, anomaly.Ward, anomaly.Date)
	if err != nil {
		return nil, Outcome{}, fmt.Errorf("integrity gate: %w", err)
	}
	if integrity.Status == IntegrityIssue {
		return nil, suppress("integrity", strings.Join(integrity.Issues, "; ")), nil
	}

	// Gate 2: cross-source verification.
	envRisk := e.environmentalRisk(ctx, anomaly)
	verification, err := verifyAcrossSources(ctx, e.events, anomaly.Ward, anomaly.Date, envRisk)
	if err != nil {
		return nil, Outcome{}, fmt.Errorf("verification gate: %w", err)
	}
	if !verification.Verified {
		return nil, suppress("verification",
			fmt.Sprintf("only %d of %d required correlation signals", len(verification.Signals), verifiedMinSignals)), nil
	}

	// Gate 2a: environmental risk level. Informational; never blocks.
	day := anomaly.Date.UTC().Truncate(24 * time.Hour)
	readings, err := e.events.EnvironmentReadings(ctx, anomaly.Ward, day, day.Add(24*time.Hour))
	if err != nil {
		return nil, Outcome{}, fmt.Errorf("environment gate: %w", err)
	}
	assessment := assessEnvironment(readings)

	// Gate 3: confidence.
	confidence := anomaly.Confidence + verification.Boost + riskBoost(assessment.Level)
	if confidence > 1 {
		confidence = 1
	}
	if confidence < e.confidenceMin {
		return nil, suppress("confidence",
			fmt.Sprintf("final confidence %.2f below %.2f", confidence, e.confidenceMin)), nil
	}

	// Gates passed: recommendation table, then the alert document.
	actions := recommend(anomaly.Severity, assessment.Level)

	alert := &models.Alert{
		AlertID:        newAlertID(anomaly.Date),
		AnomalyID:      anomaly.ID,
		Ward:           anomaly.Ward,
		Date:           anomaly.Date,
		Location:       anomaly.Location,
		Severity:       anomaly.Severity,
		AnomalyScore:   anomaly.AnomalyScore,
		BaseConfidence: anomaly.Confidence,
		Confidence:     confidence,
		Evidence: models.Evidence{
			Hospital:    verification.Hospital,
			Social:      verification.Social,
			Environment: verification.Environment,
			RiskDetail:  assessment,
			ModelScores: anomaly.Scores,
		},
		RecommendedActions: actions,
		Status:             models.AlertActive,
		CreatedAt:          time.Now().UTC(),
	}
	return alert, proceed(), nil
}

// environmentalRisk reads the day's blended risk from the aggregate.
// A missing aggregate is not fatal; verification then sees risk 0.
func (e *Escalator) environmentalRisk(ctx context.Context, anomaly *models.AnomalyResult) float64 {
	agg, err := e.aggregates.GetAggregate(ctx, anomaly.Ward, anomaly.Date)
	if err != nil {
		return 0
	}
	return agg.EnvironmentalRiskScore
}

// newAlertID builds ids like ALERT-20260820-5F3A9C21.
func newAlertID(date time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("ALERT-%s-%s", date.UTC().Format("20060102"), suffix)
}
