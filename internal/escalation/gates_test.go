package escalation

import (
	"context"
	"math"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/epiwatch/epiwatch/internal/models"
	"github.com/epiwatch/epiwatch/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func day(s string) time.Time {
	t, err := time.ParseInLocation("2006-01-02", s, time.UTC)
	if err != nil {
		panic(err)
	}
	return t
}

// seedHealthyDay writes a full day of well-formed multi-source data:
// 10 hospital events spread over 3 hospitals, 20 social posts, 5
// environment readings, plus the matching aggregate.
func seedHealthyDay(t *testing.T, s store.Store, ward string, d time.Time, envRisk float64) {
	t.Helper()
	ctx := context.Background()

	hospitals := []string{"h1", "h2", "h3"}
	for i := 0; i < 10; i++ {
		ev := &models.HospitalEvent{
			Ward: ward, HospitalID: hospitals[i%3],
			Symptoms: []string{"fever", "chills"}, PatientCount: 2,
			Timestamp: d.Add(time.Duration(i+1) * time.Minute),
		}
		if err := s.InsertHospitalEvent(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 20; i++ {
		post := &models.SocialPost{
			Ward: ward, Keywords: []string{"fever", "sick"},
			Timestamp: d.Add(time.Duration(i+1) * time.Minute),
		}
		if err := s.InsertSocialPost(ctx, post); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 5; i++ {
		r := &models.EnvironmentReading{
			Ward: ward, MosquitoIndex: 8, RainfallMM: 60, HumidityPct: 70, TemperatureC: 27,
			Timestamp: d.Add(time.Duration(i+1) * time.Minute),
		}
		if err := s.InsertEnvironmentReading(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	agg := &models.DailyAggregate{
		Ward: ward, Date: d,
		SymptomCounts:          map[string]int{"fever": 20, "chills": 20},
		SocialKeywordCounts:    map[string]int{"fever": 20, "sick": 20},
		TotalHospitalEvents:    10,
		TotalSocialMentions:    20,
		TotalPatients:          20,
		EnvironmentalRiskScore: envRisk,
		UpdatedAt:              time.Now().UTC(),
	}
	if err := s.UpsertAggregate(ctx, agg); err != nil {
		t.Fatal(err)
	}
}

func flaggedAnomaly(ward string, d time.Time, score, confidence float64) *models.AnomalyResult {
	return &models.AnomalyResult{
		ID: "anom-1", Ward: ward, Date: d,
		AnomalyScore: score, Confidence: confidence,
		IsAnomaly: true, Severity: models.SeverityHigh,
		DetectedAt: time.Now().UTC(),
	}
}

// ─── Integrity gate ──────────────────────────────────────────────────────────

func TestIntegrityIssueOnLowCompleteness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	d := day("2026-08-20")

	// One hospital event only: completeness (0.1+0+0)/3 well below 0.5.
	ev := &models.HospitalEvent{
		Ward: "w", HospitalID: "h1", Symptoms: []string{"fever"},
		PatientCount: 1, Timestamp: d.Add(time.Hour),
	}
	if err := s.InsertHospitalEvent(ctx, ev); err != nil {
		t.Fatal(err)
	}

	report, err := checkIntegrity(ctx, s, s, "w", d)
	if err != nil {
		t.Fatalf("checkIntegrity: %v", err)
	}
	if report.Status != IntegrityIssue {
		t.Errorf("status = %s, want issue", report.Status)
	}
	if report.Completeness >= 0.5 {
		t.Errorf("completeness = %v, want < 0.5", report.Completeness)
	}
}

func TestIntegrityIssueOnDuplicateCluster(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	d := day("2026-08-20")
	seedHealthyDay(t, s, "w", d, 3)

	// Six more events from a single hospital pushes h1 over the limit.
	for i := 0; i < 6; i++ {
		ev := &models.HospitalEvent{
			Ward: "w", HospitalID: "h1", Symptoms: []string{"fever"},
			PatientCount: 1, Timestamp: d.Add(time.Duration(i+30) * time.Minute),
		}
		if err := s.InsertHospitalEvent(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}

	report, err := checkIntegrity(ctx, s, s, "w", d)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Duplicates {
		t.Error("expected duplicate cluster detected")
	}
	if report.Status != IntegrityIssue {
		t.Errorf("status = %s, want issue", report.Status)
	}
}

func TestIntegrityWarningOnHistoryGap(t *testing.T) {
	s := newTestStore(t)
	d := day("2026-08-20")
	seedHealthyDay(t, s, "w", d, 3)

	report, err := checkIntegrity(context.Background(), s, s, "w", d)
	if err != nil {
		t.Fatal(err)
	}
	// Full day of data but no prior aggregates: warning, not issue.
	if report.Status != IntegrityWarning {
		t.Errorf("status = %s, want warning", report.Status)
	}
	if math.Abs(report.Completeness-1.0) > 1e-9 {
		t.Errorf("completeness = %v, want 1.0", report.Completeness)
	}
}

// ─── Verification gate ───────────────────────────────────────────────────────

func TestVerificationTwoSignalsBoost(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	d := day("2026-08-20")

	// Hospital and social share "fever"; env risk 6.2 but no readings.
	ev := &models.HospitalEvent{
		Ward: "w", HospitalID: "h1", Symptoms: []string{"fever", "dengue"},
		PatientCount: 2, Timestamp: d.Add(time.Hour),
	}
	if err := s.InsertHospitalEvent(ctx, ev); err != nil {
		t.Fatal(err)
	}
	post := &models.SocialPost{
		Ward: "w", Keywords: []string{"fever", "sick"},
		Timestamp: d.Add(time.Hour),
	}
	if err := s.InsertSocialPost(ctx, post); err != nil {
		t.Fatal(err)
	}

	res, err := verifyAcrossSources(ctx, s, "w", d, 6.2)
	if err != nil {
		t.Fatalf("verifyAcrossSources: %v", err)
	}
	if len(res.Signals) != 2 {
		t.Fatalf("expected 2 signals, got %v", res.Signals)
	}
	if !res.Verified {
		t.Error("2 signals must verify")
	}
	if math.Abs(res.Boost-0.2) > 1e-9 {
		t.Errorf("boost = %v, want 0.2", res.Boost)
	}
	if res.Environment.HasData {
		t.Error("environment must report no data without readings")
	}
}

func TestVerificationUnverifiedSingleSignal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	d := day("2026-08-20")

	// Hospital only; no social corroboration, low env risk.
	ev := &models.HospitalEvent{
		Ward: "w", HospitalID: "h1", Symptoms: []string{"fever"},
		PatientCount: 2, Timestamp: d.Add(time.Hour),
	}
	if err := s.InsertHospitalEvent(ctx, ev); err != nil {
		t.Fatal(err)
	}

	res, err := verifyAcrossSources(ctx, s, "w", d, 3.0)
	if err != nil {
		t.Fatal(err)
	}
	if res.Verified {
		t.Errorf("expected unverified, got signals %v", res.Signals)
	}
}

func TestVerificationBoostCapped(t *testing.T) {
	s := newTestStore(t)
	d := day("2026-08-20")
	seedHealthyDay(t, s, "w", d, 6.2)

	res, err := verifyAcrossSources(context.Background(), s, "w", d, 6.2)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Signals) != 3 {
		t.Fatalf("expected all 3 signals, got %v", res.Signals)
	}
	if res.Boost != 0.3 {
		t.Errorf("boost = %v, want 0.3 cap", res.Boost)
	}
}

func TestVerificationVocabularyGating(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	d := day("2026-08-20")

	// Shared term "fatigue" is outside the disease vocabulary.
	ev := &models.HospitalEvent{
		Ward: "w", HospitalID: "h1", Symptoms: []string{"fatigue"},
		PatientCount: 1, Timestamp: d.Add(time.Hour),
	}
	if err := s.InsertHospitalEvent(ctx, ev); err != nil {
		t.Fatal(err)
	}
	post := &models.SocialPost{
		Ward: "w", Keywords: []string{"fatigue"},
		Timestamp: d.Add(time.Hour),
	}
	if err := s.InsertSocialPost(ctx, post); err != nil {
		t.Fatal(err)
	}

	res, err := verifyAcrossSources(ctx, s, "w", d, 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, sig := range res.Signals {
		if sig == "symptom/keyword overlap on disease vocabulary" {
			t.Error("out-of-vocabulary overlap must not signal")
		}
	}
}

// ─── Environmental risk gate ─────────────────────────────────────────────────

func TestAssessEnvironmentNoReadings(t *testing.T) {
	a := assessEnvironment(nil)
	if a.Level != models.RiskUnknown {
		t.Errorf("level = %s, want unknown", a.Level)
	}
	if riskBoost(a.Level) != 0 {
		t.Error("unknown level must not boost")
	}
}

func TestAssessEnvironmentBands(t *testing.T) {
	cases := []struct {
		name      string
		reading   models.EnvironmentReading
		wantLevel models.RiskLevel
		wantScore float64
	}{
		{
			name:      "calm",
			reading:   models.EnvironmentReading{MosquitoIndex: 2, RainfallMM: 5, HumidityPct: 40, TemperatureC: 18},
			wantLevel: models.RiskLow, wantScore: 0,
		},
		{
			name:      "moderate rain only",
			reading:   models.EnvironmentReading{MosquitoIndex: 3, RainfallMM: 30, HumidityPct: 50, TemperatureC: 20},
			wantLevel: models.RiskLow, wantScore: 1,
		},
		{
			name:      "elevated mosquito",
			reading:   models.EnvironmentReading{MosquitoIndex: 6, RainfallMM: 0, HumidityPct: 40, TemperatureC: 18},
			wantLevel: models.RiskMedium, wantScore: 2,
		},
		{
			name:      "monsoon",
			reading:   models.EnvironmentReading{MosquitoIndex: 6, RainfallMM: 30, HumidityPct: 70, TemperatureC: 22},
			wantLevel: models.RiskHigh, wantScore: 5,
		},
		{
			name:      "outbreak conditions",
			reading:   models.EnvironmentReading{MosquitoIndex: 8, RainfallMM: 60, HumidityPct: 70, TemperatureC: 27},
			wantLevel: models.RiskCritical, wantScore: 8,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			a := assessEnvironment([]*models.EnvironmentReading{&c.reading})
			if a.Level != c.wantLevel {
				t.Errorf("level = %s, want %s (factors %v)", a.Level, c.wantLevel, a.Factors)
			}
			if math.Abs(a.Score-c.wantScore) > 1e-9 {
				t.Errorf("score = %v, want %v", a.Score, c.wantScore)
			}
		})
	}
}

func TestRiskBoost(t *testing.T) {
	if riskBoost(models.RiskHigh) != 0.15 || riskBoost(models.RiskCritical) != 0.15 {
		t.Error("high and critical levels must boost 0.15")
	}
	if riskBoost(models.RiskLow) != 0 || riskBoost(models.RiskMedium) != 0 {
		t.Error("low and medium levels must not boost")
	}
}

// ─── Recommendations ─────────────────────────────────────────────────────────

func TestRecommendRuleTable(t *testing.T) {
	critical := recommend(models.SeverityCritical, models.RiskCritical)

	var categories []string
	for _, a := range critical {
		categories = append(categories, a.Category)
	}
	want := []string{"medicine", "staffing", "equipment", "preparedness", "preparedness", "preparedness"}
	if len(categories) != len(want) {
		t.Fatalf("got %d actions %v, want %d", len(categories), categories, len(want))
	}
	for i := range want {
		if categories[i] != want[i] {
			t.Errorf("action %d category = %s, want %s", i, categories[i], want[i])
		}
	}

	low := recommend(models.SeverityLow, models.RiskLow)
	if len(low) != 2 {
		t.Errorf("low/low must yield only the 2 baseline actions, got %d", len(low))
	}
}

func TestRecommendDeterministic(t *testing.T) {
	a := recommend(models.SeverityHigh, models.RiskHigh)
	b := recommend(models.SeverityHigh, models.RiskHigh)
	if len(a) != len(b) {
		t.Fatal("same inputs must yield same length")
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("action %d differs between calls", i)
		}
	}
}

// ─── Full gate sequence ──────────────────────────────────────────────────────

func TestEscalateShortCircuitsOnIntegrity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	d := day("2026-08-20")

	// Sparse day: completeness ~0.03 despite a 0.95 anomaly score.
	ev := &models.HospitalEvent{
		Ward: "w", HospitalID: "h1", Symptoms: []string{"fever"},
		PatientCount: 1, Timestamp: d.Add(time.Hour),
	}
	if err := s.InsertHospitalEvent(ctx, ev); err != nil {
		t.Fatal(err)
	}

	e := NewEscalator(s, s, 0.6, zap.NewNop())
	alert, outcome := e.Escalate(ctx, flaggedAnomaly("w", d, 0.95, 0.9))
	if alert != nil {
		t.Fatal("integrity issue must never produce an alert")
	}
	if outcome.Proceed || outcome.Gate != "integrity" {
		t.Errorf("outcome = %+v, want integrity suppression", outcome)
	}
}

func TestEscalateSuppressesUnverified(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	d := day("2026-08-20")

	// Healthy volume but no cross-source corroboration: hospital
	// symptoms and social keywords never share a vocabulary term, and
	// environmental risk stays low.
	for i := 0; i < 10; i++ {
		ev := &models.HospitalEvent{
			Ward: "w", HospitalID: []string{"h1", "h2", "h3"}[i%3],
			Symptoms: []string{"rash"}, PatientCount: 1,
			Timestamp: d.Add(time.Duration(i+1) * time.Minute),
		}
		if err := s.InsertHospitalEvent(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 20; i++ {
		post := &models.SocialPost{
			Ward: "w", Keywords: []string{"traffic"},
			Timestamp: d.Add(time.Duration(i+1) * time.Minute),
		}
		if err := s.InsertSocialPost(ctx, post); err != nil {
			t.Fatal(err)
		}
	}

	e := NewEscalator(s, s, 0.6, zap.NewNop())
	alert, outcome := e.Escalate(ctx, flaggedAnomaly("w", d, 0.8, 0.7))
	if alert != nil {
		t.Fatal("unverified anomaly must not produce an alert")
	}
	if outcome.Gate != "verification" {
		t.Errorf("outcome = %+v, want verification suppression", outcome)
	}
}

func TestEscalateConfidenceGate(t *testing.T) {
	s := newTestStore(t)
	d := day("2026-08-20")
	// Risk 3: verification gets the overlap + all-present signals
	// (boost 0.2) but the env gate assesses low risk, no extra boost.
	seedHealthyDayCalmWeather(t, s, "w", d)

	e := NewEscalator(s, s, 0.6, zap.NewNop())
	// Base 0.3 + 0.2 boost = 0.5 < 0.6.
	alert, outcome := e.Escalate(context.Background(), flaggedAnomaly("w", d, 0.8, 0.3))
	if alert != nil {
		t.Fatal("low-confidence anomaly must not produce an alert")
	}
	if outcome.Gate != "confidence" {
		t.Errorf("outcome = %+v, want confidence suppression", outcome)
	}
}

// seedHealthyDayCalmWeather is seedHealthyDay with unremarkable
// weather: full data volume but no environmental risk contribution.
func seedHealthyDayCalmWeather(t *testing.T, s store.Store, ward string, d time.Time) {
	t.Helper()
	ctx := context.Background()

	hospitals := []string{"h1", "h2", "h3"}
	for i := 0; i < 10; i++ {
		ev := &models.HospitalEvent{
			Ward: ward, HospitalID: hospitals[i%3],
			Symptoms: []string{"fever"}, PatientCount: 1,
			Timestamp: d.Add(time.Duration(i+1) * time.Minute),
		}
		if err := s.InsertHospitalEvent(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 20; i++ {
		post := &models.SocialPost{
			Ward: ward, Keywords: []string{"fever"},
			Timestamp: d.Add(time.Duration(i+1) * time.Minute),
		}
		if err := s.InsertSocialPost(ctx, post); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 5; i++ {
		r := &models.EnvironmentReading{
			Ward: ward, MosquitoIndex: 1, RainfallMM: 2, HumidityPct: 40, TemperatureC: 18,
			Timestamp: d.Add(time.Duration(i+1) * time.Minute),
		}
		if err := s.InsertEnvironmentReading(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	agg := &models.DailyAggregate{
		Ward: ward, Date: d,
		SymptomCounts:          map[string]int{"fever": 10},
		SocialKeywordCounts:    map[string]int{"fever": 20},
		TotalHospitalEvents:    10,
		TotalSocialMentions:    20,
		TotalPatients:          10,
		EnvironmentalRiskScore: 1.0,
		UpdatedAt:              time.Now().UTC(),
	}
	if err := s.UpsertAggregate(ctx, agg); err != nil {
		t.Fatal(err)
	}
}

func TestEscalateBuildsCompleteAlert(t *testing.T) {
	s := newTestStore(t)
	d := day("2026-08-20")
	seedHealthyDay(t, s, "w", d, 6.2)

	e := NewEscalator(s, s, 0.6, zap.NewNop())
	anomaly := flaggedAnomaly("w", d, 0.85, 0.5)
	alert, outcome := e.Escalate(context.Background(), anomaly)
	if !outcome.Proceed {
		t.Fatalf("expected alert, got suppression %+v", outcome)
	}

	// 3 verification signals cap the boost at 0.3; critical env risk
	// adds 0.15: 0.5 + 0.3 + 0.15 = 0.95.
	if math.Abs(alert.Confidence-0.95) > 1e-9 {
		t.Errorf("confidence = %v, want 0.95", alert.Confidence)
	}
	if alert.BaseConfidence != 0.5 {
		t.Errorf("base confidence = %v, want 0.5", alert.BaseConfidence)
	}
	if alert.Confidence < alert.BaseConfidence {
		t.Error("escalated confidence must not drop below base")
	}
	if alert.AlertID == "" || alert.AnomalyID != "anom-1" {
		t.Errorf("alert identity wrong: %+v", alert)
	}
	if !alert.Evidence.Hospital.HasData || !alert.Evidence.Social.HasData || !alert.Evidence.Environment.HasData {
		t.Errorf("evidence incomplete: %+v", alert.Evidence)
	}
	if alert.Evidence.RiskDetail.Level != models.RiskCritical {
		t.Errorf("risk level = %s, want critical", alert.Evidence.RiskDetail.Level)
	}
	if len(alert.RecommendedActions) == 0 {
		t.Error("expected recommended actions")
	}
	if alert.Status != models.AlertActive {
		t.Errorf("status = %s, want active", alert.Status)
	}
}

func TestNewAlertIDFormat(t *testing.T) {
	id := newAlertID(day("2026-08-20"))
	if len(id) != len("ALERT-20260820-XXXXXXXX") {
		t.Fatalf("unexpected id length: %s", id)
	}
	if id[:15] != "ALERT-20260820-" {
		t.Errorf("unexpected id prefix: %s", id)
	}
	if id == newAlertID(day("2026-08-20")) {
		t.Error("ids must be unique")
	}
}
