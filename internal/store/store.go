package store

import (
	"context"
	"errors"
	"time"

	"github.com/epiwatch/epiwatch/internal/models"
)

// ErrNotFound is returned by point lookups when no row matches.
var ErrNotFound = errors.New("store: not found")

// Store is the history store the pipeline reads and writes. It behaves
// like a document store keyed by composite keys: upsert for aggregates,
// append-only for anomaly results, unique-keyed insert for alerts. No
// relational joins are required by the core.
type Store interface {
	EventStore
	AggregateStore
	AnomalyStore
	AlertStore

	// Close releases database resources.
	Close() error

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
}

// EventStore holds the raw per-event records supplied by upstream
// ingestion. The pipeline treats them as immutable input.
type EventStore interface {
	InsertHospitalEvent(ctx context.Context, ev *models.HospitalEvent) error
	InsertSocialPost(ctx context.Context, post *models.SocialPost) error
	InsertEnvironmentReading(ctx context.Context, r *models.EnvironmentReading) error

	// DistinctWards returns the union of ward identifiers with any
	// activity in [from, to) across all three sources.
	DistinctWards(ctx context.Context, from, to time.Time) ([]string, error)

	// HospitalEvents returns a ward's hospital events in [from, to).
	HospitalEvents(ctx context.Context, ward string, from, to time.Time) ([]*models.HospitalEvent, error)

	// SocialPosts returns a ward's social mentions in [from, to).
	SocialPosts(ctx context.Context, ward string, from, to time.Time) ([]*models.SocialPost, error)

	// EnvironmentReadings returns a ward's sensor readings in [from, to).
	EnvironmentReadings(ctx context.Context, ward string, from, to time.Time) ([]*models.EnvironmentReading, error)

	// SourceCounts returns per-source record counts for a ward in
	// [from, to). The integrity gate uses these for completeness checks.
	SourceCounts(ctx context.Context, ward string, from, to time.Time) (hospital, social, environment int, err error)

	// MaxEventsPerHospital returns the highest number of hospital events
	// reported by a single hospital id for a ward in [from, to). Used to
	// spot suspected duplicate clustering.
	MaxEventsPerHospital(ctx context.Context, ward string, from, to time.Time) (int, error)
}

// AggregateStore persists daily per-ward rollups. Upsert semantics: at
// most one row per (ward, date).
type AggregateStore interface {
	// UpsertAggregate creates or overwrites the aggregate for its
	// (ward, date) key.
	UpsertAggregate(ctx context.Context, agg *models.DailyAggregate) error

	// GetAggregate fetches one aggregate; ErrNotFound when absent.
	GetAggregate(ctx context.Context, ward string, date time.Time) (*models.DailyAggregate, error)

	// AggregateRange returns a ward's aggregates with date in [from, to),
	// sorted ascending by date.
	AggregateRange(ctx context.Context, ward string, from, to time.Time) ([]*models.DailyAggregate, error)

	// AggregatesInWindow returns all wards' aggregates with date in
	// [from, to).
	AggregatesInWindow(ctx context.Context, from, to time.Time) ([]*models.DailyAggregate, error)
}

// AnomalyStore persists detection verdicts. Insert-only: reruns append.
type AnomalyStore interface {
	// AppendAnomaly stores a detection result, assigning an id when the
	// record has none.
	AppendAnomaly(ctx context.Context, rec *models.AnomalyResult) error

	// GetAnomaly retrieves a single result by id; ErrNotFound when absent.
	GetAnomaly(ctx context.Context, id string) (*models.AnomalyResult, error)

	// RecentAnomalies returns results detected at or after since, newest
	// first. With flaggedOnly, only rows with is_anomaly set.
	RecentAnomalies(ctx context.Context, since time.Time, flaggedOnly bool) ([]*models.AnomalyResult, error)
}

// AlertFilter narrows ListAlerts output. Zero values mean "any".
type AlertFilter struct {
	Ward   string
	Status models.AlertStatus
	Limit  int
}

// AlertStore persists emitted alerts.
type AlertStore interface {
	// InsertAlert stores a new alert; the alert id must be unique.
	InsertAlert(ctx context.Context, alert *models.Alert) error

	// GetAlert retrieves one alert by id; ErrNotFound when absent.
	GetAlert(ctx context.Context, alertID string) (*models.Alert, error)

	// LatestAlertForWard returns the ward's most recent alert created at
	// or after since, or (nil, nil) when there is none. This backs the
	// 12-hour deduplication window.
	LatestAlertForWard(ctx context.Context, ward string, since time.Time) (*models.Alert, error)

	// ListAlerts returns alerts matching the filter, newest first.
	ListAlerts(ctx context.Context, f AlertFilter) ([]*models.Alert, error)

	// UpdateAlertStatus transitions an alert's lifecycle state.
	UpdateAlertStatus(ctx context.Context, alertID string, status models.AlertStatus) error

	// MarkAlertNotified records that notifications went out for an alert.
	MarkAlertNotified(ctx context.Context, alertID string) error
}
