// Package fusion combines the six component scores into one calibrated
// anomaly judgment: fused score, confidence, anomaly flag, severity.
//
// Unlike the scorers, this stage fails closed: a malformed input is an
// error, never a silently defaulted result.
package fusion

import (
	"fmt"
	"math"
	"time"

	"github.com/epiwatch/epiwatch/internal/models"
)

// Fixed fusion weights. They sum to exactly 1.0 when all six detectors
// report; a missing detector contributes 0 without renormalization, a
// deliberate conservative bias toward lower fused scores.
const (
	weightZScore         = 0.15
	weightCUSUM          = 0.15
	weightEWMA           = 0.10
	weightReconstruction = 0.25
	weightOutlierForest  = 0.20
	weightForecastResid  = 0.15
)

// Confidence shape.
const (
	// confidenceFloor applies when fewer than 3 detectors reported.
	confidenceFloor     = 0.5
	confidenceMinScores = 3
	// disagreementScale converts score std into a penalty; std at or
	// above it zeroes confidence.
	disagreementScale = 0.5
)

// Severity thresholds on score*confidence.
const (
	severityMediumAt   = 0.4
	severityHighAt     = 0.6
	severityCriticalAt = 0.8
)

// Classify fuses the component scores for one aggregate into an
// AnomalyResult. threshold is the fused-score cut for flagging.
func Classify(agg *models.DailyAggregate, scores models.ComponentScores, threshold float64) (*models.AnomalyResult, error) {
	if agg == nil {
		return nil, fmt.Errorf("fusion: nil aggregate")
	}
	if err := validate(scores); err != nil {
		return nil, err
	}

	fused := Fuse(scores)
	confidence := Confidence(scores)

	return &models.AnomalyResult{
		Ward:         agg.Ward,
		Date:         agg.Date,
		Location:     agg.Location,
		Scores:       scores,
		AnomalyScore: fused,
		Confidence:   confidence,
		IsAnomaly:    fused >= threshold,
		Severity:     SeverityFor(fused, confidence),
		DetectedAt:   time.Now().UTC(),
	}, nil
}

// Fuse computes the weighted sum of the component scores. Absent
// components count as exactly 0.0.
func Fuse(s models.ComponentScores) float64 {
	return value(s.ZScore)*weightZScore +
		value(s.CUSUM)*weightCUSUM +
		value(s.EWMA)*weightEWMA +
		value(s.Reconstruction)*weightReconstruction +
		value(s.OutlierForest)*weightOutlierForest +
		value(s.ForecastResid)*weightForecastResid
}

// Confidence measures detector agreement. Absent components are
// dropped from the mean here, not zeroed as in Fuse; the two
// treatments of absence differ on purpose. Fewer than 3 present
// scores pins confidence at the low-information floor.
func Confidence(s models.ComponentScores) float64 {
	present := s.Present()
	if len(present) < confidenceMinScores {
		return confidenceFloor
	}

	mean, std := meanStd(present)
	penalty := std / disagreementScale
	if penalty > 1 {
		penalty = 1
	}
	c := mean * (1 - penalty)
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// SeverityFor grades score*confidence into the four severity tiers.
func SeverityFor(score, confidence float64) models.Severity {
	v := score * confidence
	switch {
	case v < severityMediumAt:
		return models.SeverityLow
	case v < severityHighAt:
		return models.SeverityMedium
	case v < severityCriticalAt:
		return models.SeverityHigh
	default:
		return models.SeverityCritical
	}
}

func validate(s models.ComponentScores) error {
	named := map[string]*float64{
		"z_score":           s.ZScore,
		"cusum":             s.CUSUM,
		"ewma":              s.EWMA,
		"reconstruction":    s.Reconstruction,
		"outlier_forest":    s.OutlierForest,
		"forecast_residual": s.ForecastResid,
	}
	for name, p := range named {
		if p == nil {
			continue
		}
		if math.IsNaN(*p) || math.IsInf(*p, 0) || *p < 0 || *p > 1 {
			return fmt.Errorf("fusion: component %s = %v out of [0,1]", name, *p)
		}
	}
	return nil
}

func value(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func meanStd(xs []float64) (mean, std float64) {
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
