// Package aggregation collapses raw per-event records into one
// DailyAggregate per ward and day, including the environmental risk
// blend and rolling 7-day statistics the detectors consume.
package aggregation

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/epiwatch/epiwatch/internal/metrics"
	"github.com/epiwatch/epiwatch/internal/models"
	"github.com/epiwatch/epiwatch/internal/store"
)

const (
	// rollingWindowDays is the history window for the aggregate-level
	// rolling statistics.
	rollingWindowDays = 7
	// rollingMinPoints is the minimum history before rolling fields are
	// populated at all.
	rollingMinPoints = 3
	// changepointZ flags a changepoint when |z| exceeds it.
	changepointZ = 2.0
)

// Engine builds daily aggregates from the raw event store.
type Engine struct {
	events     store.EventStore
	aggregates store.AggregateStore
	logger     *zap.Logger
}

// NewEngine returns an aggregation engine over the given store.
func NewEngine(events store.EventStore, aggregates store.AggregateStore, logger *zap.Logger) *Engine {
	return &Engine{
		events:     events,
		aggregates: aggregates,
		logger:     logger.Named("aggregation"),
	}
}

// Run aggregates every active ward for every day in [from, to). A ward
// that fails is logged and skipped; other wards still complete. Returns
// the number of aggregates written.
func (e *Engine) Run(ctx context.Context, from, to time.Time) (int, error) {
	start := time.Now()
	defer func() {
		metrics.AggregationDuration.Observe(time.Since(start).Seconds())
	}()

	from = from.UTC().Truncate(24 * time.Hour)
	to = to.UTC().Truncate(24 * time.Hour)

	wards, err := e.events.DistinctWards(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("list active wards: %w", err)
	}

	written := 0
	for day := from; day.Before(to); day = day.Add(24 * time.Hour) {
		for _, ward := range wards {
			if err := ctx.Err(); err != nil {
				return written, err
			}
			agg, err := e.AggregateWard(ctx, ward, day)
			if err != nil {
				metrics.WardsSkipped.WithLabelValues("aggregation").Inc()
				e.logger.Warn("ward skipped",
					zap.String("ward", ward),
					zap.Time("date", day),
					zap.Error(err))
				continue
			}
			if agg == nil {
				continue // no activity for this ward on this day
			}
			written++
			metrics.WardsAggregated.Inc()
			e.logger.Debug("ward aggregated",
				zap.String("ward", ward),
				zap.Time("date", day),
				zap.Int("hospital_events", agg.TotalHospitalEvents),
				zap.Int("social_mentions", agg.TotalSocialMentions),
				zap.Float64("env_risk", agg.EnvironmentalRiskScore))
		}
	}
	return written, nil
}

// AggregateWard builds and upserts the aggregate for one ward and one
// UTC day. Returns (nil, nil) when the ward has no activity that day.
// Rerunning with identical raw data overwrites with identical values.
func (e *Engine) AggregateWard(ctx context.Context, ward string, day time.Time) (*models.DailyAggregate, error) {
	day = day.UTC().Truncate(24 * time.Hour)
	next := day.Add(24 * time.Hour)

	hospital, err := e.events.HospitalEvents(ctx, ward, day, next)
	if err != nil {
		return nil, fmt.Errorf("fetch hospital events: %w", err)
	}
	social, err := e.events.SocialPosts(ctx, ward, day, next)
	if err != nil {
		return nil, fmt.Errorf("fetch social posts: %w", err)
	}
	env, err := e.events.EnvironmentReadings(ctx, ward, day, next)
	if err != nil {
		return nil, fmt.Errorf("fetch environment readings: %w", err)
	}
	if len(hospital) == 0 && len(social) == 0 && len(env) == 0 {
		return nil, nil
	}

	agg := &models.DailyAggregate{
		Ward:                ward,
		Date:                day,
		SymptomCounts:       map[string]int{},
		SocialKeywordCounts: map[string]int{},
		UpdatedAt:           time.Now().UTC(),
	}

	for _, ev := range hospital {
		agg.TotalHospitalEvents++
		agg.TotalPatients += ev.PatientCount
		for _, sym := range ev.Symptoms {
			// Patient-weighted: a 5-patient fever report counts 5.
			agg.SymptomCounts[sym] += ev.PatientCount
		}
	}
	for _, post := range social {
		agg.TotalSocialMentions++
		for _, kw := range post.Keywords {
			agg.SocialKeywordCounts[kw]++
		}
	}

	agg.EnvironmentalRiskScore = environmentalRisk(env)
	agg.Location = resolveLocation(hospital, social, env)

	if err := e.attachRollingStats(ctx, agg); err != nil {
		return nil, fmt.Errorf("rolling stats: %w", err)
	}

	if err := e.aggregates.UpsertAggregate(ctx, agg); err != nil {
		return nil, fmt.Errorf("upsert aggregate: %w", err)
	}
	return agg, nil
}

// attachRollingStats computes the 7-day rolling mean/std and today's
// z-score against them. Fewer than 3 prior days leaves the rolling
// fields nil; a zero std leaves z nil.
func (e *Engine) attachRollingStats(ctx context.Context, agg *models.DailyAggregate) error {
	from := agg.Date.Add(-rollingWindowDays * 24 * time.Hour)
	history, err := e.aggregates.AggregateRange(ctx, agg.Ward, from, agg.Date)
	if err != nil {
		return err
	}
	if len(history) < rollingMinPoints {
		return nil
	}

	counts := make([]float64, len(history))
	for i, h := range history {
		counts[i] = h.CombinedCount()
	}
	mean, std := meanStd(counts)
	agg.RollingMean7d = &mean
	agg.RollingStd7d = &std

	if std == 0 {
		return nil
	}
	z := (agg.CombinedCount() - mean) / std
	agg.ZScore = &z
	agg.ChangepointDetected = math.Abs(z) > changepointZ
	return nil
}

// resolveLocation picks the aggregate coordinate from the first raw
// record that carries one, in hospital, social, environment priority
// order. nil means no source knew the location.
func resolveLocation(
	hospital []*models.HospitalEvent,
	social []*models.SocialPost,
	env []*models.EnvironmentReading,
) *models.GeoPoint {
	for _, ev := range hospital {
		if ev.Location != nil {
			p := *ev.Location
			return &p
		}
	}
	for _, post := range social {
		if post.Location != nil {
			p := *post.Location
			return &p
		}
	}
	for _, r := range env {
		if r.Location != nil {
			p := *r.Location
			return &p
		}
	}
	return nil
}

func meanStd(xs []float64) (mean, std float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var sq float64
	for _, x := range xs {
		d := x - mean
		sq += d * d
	}
	std = math.Sqrt(sq / float64(len(xs)))
	return mean, std
}
