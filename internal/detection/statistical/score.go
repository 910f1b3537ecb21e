// Package statistical computes the three classical time-series anomaly
// scores (z-score squash, CUSUM, EWMA deviation) over a ward's combined
// event-count history.
//
// All scores are normalized to [0,1]. A score that cannot be computed
// (insufficient history, zero variance, missing input) is returned as
// nil rather than an error: individual detectors fail open.
package statistical

import "math"

const (
	// cusumWindowDays / ewmaWindowDays bound how much trailing history
	// each detector looks at.
	cusumWindowDays = 14
	ewmaWindowDays  = 14

	cusumMinPoints = 5
	ewmaMinPoints  = 3

	// cusumSlackFactor is the slack k as a fraction of std.
	cusumSlackFactor = 0.5
	// ewmaAlpha is the exponential smoothing factor, seeded at the
	// oldest value.
	ewmaAlpha = 0.3
)

// ZScoreScore squashes a precomputed rolling z-score into [0,1) with
// 1/(1+e^(-|z|/2)). A nil z means the aggregate had no rolling stats.
func ZScoreScore(z *float64) *float64 {
	if z == nil {
		return nil
	}
	s := sigmoid(math.Abs(*z) / 2)
	return &s
}

// CUSUMScore computes a one-sided upper CUSUM of current against the
// trailing history of combined counts (ascending, most recent last).
// The cumulative excess over mean+k is normalized by 3*std and clamped.
func CUSUMScore(history []float64, current float64) *float64 {
	window := tail(history, cusumWindowDays)
	if len(window) < cusumMinPoints {
		return nil
	}
	mean, std := meanStd(window)
	if std == 0 {
		return nil
	}
	k := cusumSlackFactor * std
	excess := current - mean - k
	if excess < 0 {
		excess = 0
	}
	s := clamp01(excess / (3 * std))
	return &s
}

// EWMAScore smooths the trailing history with alpha 0.3 and squashes
// the deviation of current from the smoothed baseline, in units of std.
func EWMAScore(history []float64, current float64) *float64 {
	window := tail(history, ewmaWindowDays)
	if len(window) < ewmaMinPoints {
		return nil
	}
	_, std := meanStd(window)
	if std == 0 {
		return nil
	}
	ewma := window[0]
	for _, x := range window[1:] {
		ewma = ewmaAlpha*x + (1-ewmaAlpha)*ewma
	}
	s := sigmoid(math.Abs(current-ewma) / std / 2)
	return &s
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func tail(xs []float64, n int) []float64 {
	if len(xs) <= n {
		return xs
	}
	return xs[len(xs)-n:]
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
