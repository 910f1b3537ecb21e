package escalation

import "github.com/epiwatch/epiwatch/internal/models"

// Environmental risk gate point bands. This scale is independent of
// the aggregation engine's 0-10 blend: it grades discrete risk factors
// for human consumption rather than feeding a detector.
const (
	riskMediumAt   = 2.0
	riskHighAt     = 4.0
	riskCriticalAt = 6.0

	// highRiskBoost is added to the confidence boost when the assessed
	// level is high or critical. This gate never suppresses.
	highRiskBoost = 0.15
)

// assessEnvironment grades the day's sensor readings into a risk level
// with the contributing factors spelled out. No readings at all yields
// an unknown level and no boost.
func assessEnvironment(readings []*models.EnvironmentReading) models.EnvironmentalAssessment {
	if len(readings) == 0 {
		return models.EnvironmentalAssessment{
			Level:          models.RiskUnknown,
			Recommendation: "No environmental data available; continue routine monitoring.",
		}
	}

	var mosquito, rain, humidity, temp float64
	for _, r := range readings {
		mosquito += r.MosquitoIndex
		rain += r.RainfallMM
		humidity += r.HumidityPct
		temp += r.TemperatureC
	}
	n := float64(len(readings))
	mosquito /= n
	rain /= n
	humidity /= n
	temp /= n

	var score float64
	var factors []string

	switch {
	case mosquito > 7:
		score += 3
		factors = append(factors, "very high mosquito breeding index")
	case mosquito > 5:
		score += 2
		factors = append(factors, "elevated mosquito breeding index")
	}
	switch {
	case rain > 50:
		score += 2
		factors = append(factors, "heavy rainfall, standing water likely")
	case rain > 20:
		score += 1
		factors = append(factors, "moderate rainfall")
	}
	if humidity >= 60 && humidity <= 80 {
		score += 2
		factors = append(factors, "humidity in optimal breeding band")
	}
	if temp >= 25 && temp <= 30 {
		score += 1
		factors = append(factors, "temperature favorable for vectors")
	}
	if score > 10 {
		score = 10
	}

	level := models.RiskLow
	switch {
	case score >= riskCriticalAt:
		level = models.RiskCritical
	case score >= riskHighAt:
		level = models.RiskHigh
	case score >= riskMediumAt:
		level = models.RiskMedium
	}

	return models.EnvironmentalAssessment{
		Level:          level,
		Score:          score,
		Factors:        factors,
		Recommendation: riskRecommendation(level),
	}
}

func riskBoost(level models.RiskLevel) float64 {
	if level == models.RiskHigh || level == models.RiskCritical {
		return highRiskBoost
	}
	return 0
}

func riskRecommendation(level models.RiskLevel) string {
	switch level {
	case models.RiskCritical:
		return "Immediate vector control and public advisories recommended."
	case models.RiskHigh:
		return "Deploy vector control teams and intensify surveillance."
	case models.RiskMedium:
		return "Increase monitoring of breeding sites."
	default:
		return "Environmental conditions are unremarkable."
	}
}
