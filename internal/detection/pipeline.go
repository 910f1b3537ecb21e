// Package detection orchestrates the statistical and learned scorers
// and the fusion stage over stored daily aggregates, producing one
// AnomalyResult per aggregate per run.
package detection

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/epiwatch/epiwatch/internal/detection/fusion"
	"github.com/epiwatch/epiwatch/internal/detection/learned"
	"github.com/epiwatch/epiwatch/internal/detection/statistical"
	"github.com/epiwatch/epiwatch/internal/metrics"
	"github.com/epiwatch/epiwatch/internal/models"
	"github.com/epiwatch/epiwatch/internal/store"
)

// historyWindowDays bounds the single history read all detectors share.
// 30 days covers the longest detector window.
const historyWindowDays = 30

// Pipeline scores aggregates and persists the verdicts.
type Pipeline struct {
	aggregates  store.AggregateStore
	anomalies   store.AnomalyStore
	autoencoder *learned.Autoencoder
	forest      learned.OutlierModel
	threshold   float64
	logger      *zap.Logger
}

// NewPipeline wires the detection stage. autoencoder may be unloaded
// and forest may be nil; the corresponding scores are then absent.
func NewPipeline(
	aggregates store.AggregateStore,
	anomalies store.AnomalyStore,
	autoencoder *learned.Autoencoder,
	forest learned.OutlierModel,
	threshold float64,
	logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		aggregates:  aggregates,
		anomalies:   anomalies,
		autoencoder: autoencoder,
		forest:      forest,
		threshold:   threshold,
		logger:      logger.Named("detection"),
	}
}

// Run scores every aggregate with a date in [from, to). A failing ward
// is logged and skipped; the rest of the run continues. Returns all
// persisted results, flagged or not.
func (p *Pipeline) Run(ctx context.Context, from, to time.Time) ([]*models.AnomalyResult, error) {
	start := time.Now()
	defer func() {
		metrics.DetectionDuration.Observe(time.Since(start).Seconds())
	}()

	aggs, err := p.aggregates.AggregatesInWindow(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("load aggregates: %w", err)
	}

	var results []*models.AnomalyResult
	for _, agg := range aggs {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := p.ScoreAggregate(ctx, agg)
		if err != nil {
			metrics.WardsSkipped.WithLabelValues("detection").Inc()
			p.logger.Warn("ward skipped",
				zap.String("ward", agg.Ward),
				zap.Time("date", agg.Date),
				zap.Error(err))
			continue
		}
		results = append(results, res)

		metrics.AggregatesScored.Inc()
		if res.IsAnomaly {
			metrics.AnomaliesDetected.WithLabelValues(string(res.Severity)).Inc()
			p.logger.Info("anomaly flagged",
				zap.String("ward", res.Ward),
				zap.Time("date", res.Date),
				zap.Float64("score", res.AnomalyScore),
				zap.Float64("confidence", res.Confidence),
				zap.String("severity", string(res.Severity)))
		} else {
			p.logger.Debug("no anomaly",
				zap.String("ward", res.Ward),
				zap.Time("date", res.Date),
				zap.Float64("score", res.AnomalyScore))
		}
	}
	return results, nil
}

// ScoreAggregate runs all six detectors against one aggregate and its
// trailing history, fuses them, and appends the result. Detectors fail
// open to absent scores; fusion and persistence fail closed.
func (p *Pipeline) ScoreAggregate(ctx context.Context, agg *models.DailyAggregate) (*models.AnomalyResult, error) {
	from := agg.Date.Add(-historyWindowDays * 24 * time.Hour)
	history, err := p.aggregates.AggregateRange(ctx, agg.Ward, from, agg.Date)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	counts := make([]float64, len(history))
	features := make([][]float64, len(history))
	for i, h := range history {
		counts[i] = h.CombinedCount()
		features[i] = h.FeatureVector()
	}
	current := agg.CombinedCount()
	point := agg.FeatureVector()

	// The reconstruction window ends at today's vector.
	window := append(append([][]float64{}, features...), point)

	scores := models.ComponentScores{
		ZScore:         statistical.ZScoreScore(agg.ZScore),
		CUSUM:          statistical.CUSUMScore(counts, current),
		EWMA:           statistical.EWMAScore(counts, current),
		Reconstruction: learned.ReconstructionScore(p.autoencoder, window),
		OutlierForest:  learned.ForestScore(p.forest, features, point),
		ForecastResid:  learned.ForecastResidualScore(counts, current),
	}

	res, err := fusion.Classify(agg, scores, p.threshold)
	if err != nil {
		return nil, err
	}
	if err := p.anomalies.AppendAnomaly(ctx, res); err != nil {
		return nil, fmt.Errorf("persist result: %w", err)
	}
	return res, nil
}
