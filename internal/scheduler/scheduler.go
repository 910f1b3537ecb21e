// Package scheduler drives full pipeline passes: aggregation, then
// detection, then escalation, on a fixed cadence or on demand. Runs
// are serialized; a pass never overlaps another.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/epiwatch/epiwatch/internal/aggregation"
	"github.com/epiwatch/epiwatch/internal/detection"
	"github.com/epiwatch/epiwatch/internal/escalation"
	"github.com/epiwatch/epiwatch/internal/models"
)

// ErrRunInProgress is returned when a manual trigger collides with an
// already-running pass.
var ErrRunInProgress = errors.New("pipeline run already in progress")

// RunSummary describes one completed pipeline pass.
type RunSummary struct {
	StartedAt         time.Time       `json:"started_at"`
	Duration          time.Duration   `json:"duration"`
	AggregatesWritten int             `json:"aggregates_written"`
	ResultsScored     int             `json:"results_scored"`
	AnomaliesFlagged  int             `json:"anomalies_flagged"`
	AlertsCreated     []*models.Alert `json:"alerts_created"`
}

// Runner executes one serialized pipeline pass over the trailing
// daysBack window ending today.
type Runner struct {
	aggregation *aggregation.Engine
	detection   *detection.Pipeline
	trigger     *escalation.Trigger
	daysBack    int
	logger      *zap.Logger

	mu sync.Mutex
}

// NewRunner wires the three pipeline stages.
func NewRunner(agg *aggregation.Engine, det *detection.Pipeline, trig *escalation.Trigger, daysBack int, logger *zap.Logger) *Runner {
	return &Runner{
		aggregation: agg,
		detection:   det,
		trigger:     trig,
		daysBack:    daysBack,
		logger:      logger.Named("pipeline"),
	}
}

// RunOnce executes a full pass. A second concurrent call fails fast
// with ErrRunInProgress rather than queueing.
func (r *Runner) RunOnce(ctx context.Context) (*RunSummary, error) {
	if !r.mu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer r.mu.Unlock()

	start := time.Now()
	to := start.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	from := to.Add(-time.Duration(r.daysBack) * 24 * time.Hour)

	r.logger.Info("pipeline run starting",
		zap.Time("from", from), zap.Time("to", to))

	written, err := r.aggregation.Run(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("aggregation: %w", err)
	}

	results, err := r.detection.Run(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("detection: %w", err)
	}

	alerts := r.trigger.Process(ctx, results)

	summary := &RunSummary{
		StartedAt:         start.UTC(),
		Duration:          time.Since(start),
		AggregatesWritten: written,
		ResultsScored:     len(results),
		AlertsCreated:     alerts,
	}
	for _, res := range results {
		if res.IsAnomaly {
			summary.AnomaliesFlagged++
		}
	}

	r.logger.Info("pipeline run finished",
		zap.Duration("duration", summary.Duration),
		zap.Int("aggregates", summary.AggregatesWritten),
		zap.Int("scored", summary.ResultsScored),
		zap.Int("flagged", summary.AnomaliesFlagged),
		zap.Int("alerts", len(summary.AlertsCreated)))
	return summary, nil
}

// Scheduler invokes the runner on a fixed interval.
type Scheduler struct {
	runner   *Runner
	interval time.Duration
	logger   *zap.Logger
}

// New builds the interval scheduler around a runner.
func New(runner *Runner, interval time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		runner:   runner,
		interval: interval,
		logger:   logger.Named("scheduler"),
	}
}

// Start runs the loop until ctx is cancelled. The first pass fires
// after one full interval; an immediate pass is the API's job.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			if _, err := s.runner.RunOnce(ctx); err != nil {
				if errors.Is(err, ErrRunInProgress) {
					s.logger.Warn("scheduled run skipped, previous run still active")
					continue
				}
				s.logger.Error("scheduled run failed", zap.Error(err))
			}
		}
	}
}
