package aggregation

import (
	"math"
	"testing"

	"github.com/epiwatch/epiwatch/internal/models"
)

func reading(mosquito, rain, humidity, temp float64) *models.EnvironmentReading {
	return &models.EnvironmentReading{
		MosquitoIndex: mosquito,
		RainfallMM:    rain,
		HumidityPct:   humidity,
		TemperatureC:  temp,
	}
}

func TestEnvironmentalRiskNoReadings(t *testing.T) {
	if got := environmentalRisk(nil); got != 0 {
		t.Errorf("expected 0 for no readings, got %v", got)
	}
}

func TestEnvironmentalRiskBlend(t *testing.T) {
	// mosquito 5 -> 5*0.4 = 2.0
	// rainfall 25mm -> (25/50)*10*0.3 = 1.5
	// humidity 70 -> in band -> 10*0.3 = 3.0
	got := environmentalRisk([]*models.EnvironmentReading{reading(5, 25, 70, 28)})
	want := 6.5
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("risk = %v, want %v", got, want)
	}
}

func TestEnvironmentalRiskRainfallSaturates(t *testing.T) {
	// 200mm caps the rainfall term at (1.0)*10*0.3 = 3.0.
	low := environmentalRisk([]*models.EnvironmentReading{reading(0, 50, 0, 20)})
	high := environmentalRisk([]*models.EnvironmentReading{reading(0, 200, 0, 20)})
	if math.Abs(low-high) > 1e-9 {
		t.Errorf("rainfall term must saturate at 50mm: %v vs %v", low, high)
	}
}

func TestEnvironmentalRiskClampedToTen(t *testing.T) {
	got := environmentalRisk([]*models.EnvironmentReading{reading(10, 500, 70, 30)})
	if got > 10 {
		t.Errorf("risk must be clamped to 10, got %v", got)
	}
	// 10*0.4 + 10*0.3 + 10*0.3 = 10 exactly at full saturation.
	if math.Abs(got-10) > 1e-9 {
		t.Errorf("expected max risk 10, got %v", got)
	}
}

func TestEnvironmentalRiskAveragesReadings(t *testing.T) {
	// Two readings averaging to mosquito 5, rain 25, humidity 70.
	got := environmentalRisk([]*models.EnvironmentReading{
		reading(4, 20, 65, 26),
		reading(6, 30, 75, 30),
	})
	want := 6.5
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("risk = %v, want %v", got, want)
	}
}

func TestHumidityScoreDecay(t *testing.T) {
	cases := []struct {
		humidity float64
		want     float64
	}{
		{60, 10},  // band edge
		{80, 10},  // band edge
		{70, 10},  // center
		{40, 0},   // 30 below center
		{100, 0},  // 30 above center
		{55, 5},   // 15 below center: 10 - 15/3
		{85, 5},   // 15 above center
		{20, 0},   // far outside, clamped at 0
		{130, 0},  // far outside, clamped at 0
	}
	for _, c := range cases {
		if got := humidityScore(c.humidity); math.Abs(got-c.want) > 1e-9 {
			t.Errorf("humidityScore(%v) = %v, want %v", c.humidity, got, c.want)
		}
	}
}
