package models

// Package models defines the core data types shared by the epiwatch
// aggregation, detection, and escalation pipeline.

import (
	"time"
)

// Severity is the graded severity of an anomaly or alert.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// RiskLevel grades environmental risk independently of anomaly severity.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
	RiskUnknown  RiskLevel = "unknown"
)

// AlertStatus is the lifecycle state of an emitted alert. Transitions are
// driven by the external API only; the pipeline never mutates it after
// creation.
type AlertStatus string

const (
	AlertActive       AlertStatus = "active"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
)

// GeoPoint is a WGS84 coordinate. A nil *GeoPoint means the location is
// unknown; (0,0) is never used as a sentinel.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// HospitalEvent is a case report from one hospital: one or more symptoms
// observed across PatientCount patients.
type HospitalEvent struct {
	ID           string    `json:"id"`
	Ward         string    `json:"ward"`
	Location     *GeoPoint `json:"location,omitempty"`
	HospitalID   string    `json:"hospital_id"`
	Symptoms     []string  `json:"symptoms"`
	PatientCount int       `json:"patient_count"`
	Severity     string    `json:"severity,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// SocialPost is a pre-processed social media mention. Keyword extraction
// happens upstream; the pipeline only counts.
type SocialPost struct {
	ID        string    `json:"id"`
	Ward      string    `json:"ward"`
	Location  *GeoPoint `json:"location,omitempty"`
	Keywords  []string  `json:"keywords"`
	Sentiment float64   `json:"sentiment"`
	Timestamp time.Time `json:"timestamp"`
}

// EnvironmentReading is one sensor observation for a ward.
type EnvironmentReading struct {
	ID            string    `json:"id"`
	Ward          string    `json:"ward"`
	Location      *GeoPoint `json:"location,omitempty"`
	MosquitoIndex float64   `json:"mosquito_index"`
	RainfallMM    float64   `json:"rainfall_mm"`
	HumidityPct   float64   `json:"humidity_pct"`
	TemperatureC  float64   `json:"temperature_c"`
	Timestamp     time.Time `json:"timestamp"`
}

// DailyAggregate is the single-day rollup of all raw signals for one ward.
// At most one exists per (ward, date); the aggregation engine upserts.
// Rolling fields are nil until at least 3 prior days exist; ZScore is nil
// when the rolling std is zero.
type DailyAggregate struct {
	Ward                   string         `json:"ward"`
	Date                   time.Time      `json:"date"` // UTC midnight
	Location               *GeoPoint      `json:"location,omitempty"`
	SymptomCounts          map[string]int `json:"symptom_counts"`
	SocialKeywordCounts    map[string]int `json:"social_keyword_counts"`
	TotalHospitalEvents    int            `json:"total_hospital_events"`
	TotalSocialMentions    int            `json:"total_social_mentions"`
	TotalPatients          int            `json:"total_patients"`
	EnvironmentalRiskScore float64        `json:"environmental_risk_score"` // 0-10
	RollingMean7d          *float64       `json:"rolling_mean_7d,omitempty"`
	RollingStd7d           *float64       `json:"rolling_std_7d,omitempty"`
	ZScore                 *float64       `json:"z_score,omitempty"`
	ChangepointDetected    bool           `json:"changepoint_detected"`
	UpdatedAt              time.Time      `json:"updated_at"`
}

// CombinedCount is the event count both scorers operate on.
func (a *DailyAggregate) CombinedCount() float64 {
	return float64(a.TotalHospitalEvents + a.TotalSocialMentions)
}

// FeatureVector is the 5-feature representation consumed by the learned
// scorers: hospital count, social count, environmental risk, distinct
// symptoms, distinct keywords.
func (a *DailyAggregate) FeatureVector() []float64 {
	return []float64{
		float64(a.TotalHospitalEvents),
		float64(a.TotalSocialMentions),
		a.EnvironmentalRiskScore,
		float64(len(a.SymptomCounts)),
		float64(len(a.SocialKeywordCounts)),
	}
}

// ComponentScores holds the six detector outputs feeding fusion. A nil
// field means the detector could not compute (insufficient history,
// missing model, zero variance); its fusion-facing value is 0.0 while the
// confidence calculation drops it from the mean. The two treatments of
// absence differ on purpose.
type ComponentScores struct {
	ZScore         *float64 `json:"z_score"`
	CUSUM          *float64 `json:"cusum"`
	EWMA           *float64 `json:"ewma"`
	Reconstruction *float64 `json:"reconstruction"`
	OutlierForest  *float64 `json:"outlier_forest"`
	ForecastResid  *float64 `json:"forecast_residual"`
}

// Present returns the non-nil score values in declaration order.
func (c ComponentScores) Present() []float64 {
	var vals []float64
	for _, p := range []*float64{c.ZScore, c.CUSUM, c.EWMA, c.Reconstruction, c.OutlierForest, c.ForecastResid} {
		if p != nil {
			vals = append(vals, *p)
		}
	}
	return vals
}

// AnomalyResult is one detection verdict for one aggregate. Results are
// append-only: re-running detection writes a new row rather than
// replacing an old one.
type AnomalyResult struct {
	ID           string          `json:"id"`
	Ward         string          `json:"ward"`
	Date         time.Time       `json:"date"`
	Location     *GeoPoint       `json:"location,omitempty"`
	Scores       ComponentScores `json:"scores"`
	AnomalyScore float64         `json:"anomaly_score"` // fused, 0-1
	Confidence   float64         `json:"confidence"`    // 0-1
	IsAnomaly    bool            `json:"is_anomaly"`
	Severity     Severity        `json:"severity"`
	DetectedAt   time.Time       `json:"detected_at"`
}

// RecommendedAction is one entry in an alert's ordered action list.
type RecommendedAction struct {
	Category string `json:"category"` // medicine, equipment, staffing, preparedness
	Action   string `json:"action"`
	Priority string `json:"priority"` // medium, high, critical
	Target   string `json:"target"`   // hospital, pharmacy, clinic, public
	Details  string `json:"details,omitempty"`
}

// SourceEvidence summarizes what one raw source contributed on the alert
// date. It is a snapshot captured at escalation time, not a live view.
type SourceEvidence struct {
	HasData       bool           `json:"has_data"`
	TotalEvents   int            `json:"total_events,omitempty"`
	TotalMentions int            `json:"total_mentions,omitempty"`
	UniqueTerms   int            `json:"unique_terms,omitempty"`
	TopTerms      map[string]int `json:"top_terms,omitempty"`
	RiskScore     float64        `json:"risk_score,omitempty"`
	AvgRainfallMM float64        `json:"avg_rainfall_mm,omitempty"`
	DataPoints    int            `json:"data_points,omitempty"`
}

// EnvironmentalAssessment is the informational risk gate output attached
// to alert evidence.
type EnvironmentalAssessment struct {
	Level          RiskLevel `json:"level"`
	Score          float64   `json:"score"` // 0-10
	Factors        []string  `json:"factors"`
	Recommendation string    `json:"recommendation"`
}

// Evidence is the full per-source snapshot embedded in an alert.
type Evidence struct {
	Hospital    SourceEvidence          `json:"hospital"`
	Social      SourceEvidence          `json:"social"`
	Environment SourceEvidence          `json:"environment"`
	RiskDetail  EnvironmentalAssessment `json:"risk_assessment"`
	ModelScores ComponentScores         `json:"model_scores"`
}

// Alert is the pipeline's only externally visible output. It is
// self-contained: the notifier needs no further lookups.
type Alert struct {
	AlertID            string              `json:"alert_id"`
	AnomalyID          string              `json:"anomaly_id"`
	Ward               string              `json:"ward"`
	Date               time.Time           `json:"date"`
	Location           *GeoPoint           `json:"location,omitempty"`
	Severity           Severity            `json:"severity"`
	AnomalyScore       float64             `json:"anomaly_score"`
	BaseConfidence     float64             `json:"base_confidence"`
	Confidence         float64             `json:"confidence"` // post-escalation, >= base
	Evidence           Evidence            `json:"evidence"`
	RecommendedActions []RecommendedAction `json:"recommended_actions"`
	Status             AlertStatus         `json:"status"`
	Notified           bool                `json:"notified"`
	CreatedAt          time.Time           `json:"created_at"`
}
