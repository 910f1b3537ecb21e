// Package learned computes the three model-based anomaly scores:
// autoencoder reconstruction error, outlier-forest score, and
// exponential-smoothing forecast residual.
//
// Same contract as the statistical package: scores are [0,1], and a
// score that cannot be computed is nil, never an error.
package learned

import "math"

const (
	forestMinPoints = 10

	forecastWindowDays = 30
	forecastMinPoints  = 14
	forecastAlpha      = 0.3
)

// ReconstructionScore scores the trailing window of feature vectors
// (oldest first) against the loaded autoencoder. Fewer than 7 rows or
// no loaded model yields nil.
func ReconstructionScore(model *Autoencoder, window [][]float64) *float64 {
	if model == nil || len(window) < sequenceLen {
		return nil
	}
	return model.Score(window[len(window)-sequenceLen:])
}

// ForestScore fits the outlier model on the trailing feature history
// (at most 30 days, supplied by the caller) and scores today's point.
// The raw -1..1 output maps to [0,1] via (1-raw)/2, higher meaning more
// anomalous. Fewer than 10 history points or a model error yields nil.
func ForestScore(model OutlierModel, history [][]float64, point []float64) *float64 {
	if model == nil || len(history) < forestMinPoints {
		return nil
	}
	raw, err := model.FitAndScore(history, point)
	if err != nil {
		return nil
	}
	s := (1 - raw) / 2
	if s < 0 {
		s = 0
	}
	if s > 1 {
		s = 1
	}
	return &s
}

// ForecastResidualScore forecasts today's combined count by exponential
// smoothing over the trailing history (ascending, most recent last) and
// scores the residual in units of 3*std. Fewer than 14 points or zero
// variance yields nil.
func ForecastResidualScore(history []float64, current float64) *float64 {
	if len(history) > forecastWindowDays {
		history = history[len(history)-forecastWindowDays:]
	}
	if len(history) < forecastMinPoints {
		return nil
	}

	_, std := meanStd(history)
	if std == 0 {
		return nil
	}

	forecast := history[0]
	for _, x := range history[1:] {
		forecast = forecastAlpha*x + (1-forecastAlpha)*forecast
	}

	s := math.Abs(current-forecast) / (3 * std)
	if s > 1 {
		s = 1
	}
	return &s
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
