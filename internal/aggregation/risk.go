package aggregation

import "github.com/epiwatch/epiwatch/internal/models"

// Environmental risk blend weights. Mosquito breeding index dominates,
// rainfall and humidity share the remainder.
const (
	mosquitoWeight = 0.4
	rainfallWeight = 0.3
	humidityWeight = 0.3

	// rainfallRefMM is the rainfall that saturates the rainfall term.
	rainfallRefMM = 50.0
	// Optimal mosquito breeding humidity band.
	humidityBandLow  = 60.0
	humidityBandHigh = 80.0
	humidityCenter   = 70.0
)

// environmentalRisk blends the day's sensor readings into a 0-10 risk
// score. No readings at all scores 0.
func environmentalRisk(readings []*models.EnvironmentReading) float64 {
	if len(readings) == 0 {
		return 0
	}

	var mosquito, rainfall, humidity float64
	for _, r := range readings {
		mosquito += r.MosquitoIndex
		rainfall += r.RainfallMM
		humidity += r.HumidityPct
	}
	n := float64(len(readings))
	mosquito /= n
	rainfall /= n
	humidity /= n

	// Mosquito index is already on a 0-10 scale.
	score := mosquito * mosquitoWeight

	rainNorm := rainfall / rainfallRefMM
	if rainNorm > 1 {
		rainNorm = 1
	}
	score += rainNorm * 10 * rainfallWeight

	score += humidityScore(humidity) * humidityWeight

	if score > 10 {
		score = 10
	}
	if score < 0 {
		score = 0
	}
	return score
}

// humidityScore peaks at 10 inside the 60-80% breeding band and decays
// linearly outside it, reaching 0 at 30 points from the 70% center.
func humidityScore(avg float64) float64 {
	if avg >= humidityBandLow && avg <= humidityBandHigh {
		return 10
	}
	dist := avg - humidityCenter
	if dist < 0 {
		dist = -dist
	}
	s := 10 - dist/3
	if s < 0 {
		return 0
	}
	return s
}
