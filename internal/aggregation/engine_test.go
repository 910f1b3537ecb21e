package aggregation

import (
	"context"
	"math"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/epiwatch/epiwatch/internal/models"
	"github.com/epiwatch/epiwatch/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, store.Store) {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return NewEngine(s, s, zap.NewNop()), s
}

func day(s string) time.Time {
	t, err := time.ParseInLocation("2006-01-02", s, time.UTC)
	if err != nil {
		panic(err)
	}
	return t
}

func seedDay(t *testing.T, s store.Store, ward string, d time.Time, hospitalEvents, socialPosts int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < hospitalEvents; i++ {
		ev := &models.HospitalEvent{
			Ward: ward, HospitalID: "h1",
			Symptoms: []string{"fever"}, PatientCount: 2,
			Timestamp: d.Add(time.Duration(i+1) * time.Minute),
		}
		if err := s.InsertHospitalEvent(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < socialPosts; i++ {
		post := &models.SocialPost{
			Ward: ward, Keywords: []string{"sick"},
			Timestamp: d.Add(time.Duration(i+1) * time.Minute),
		}
		if err := s.InsertSocialPost(ctx, post); err != nil {
			t.Fatal(err)
		}
	}
}

func TestAggregateWardCounts(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	d := day("2026-08-20")

	ev := &models.HospitalEvent{
		Ward: "w", HospitalID: "h1",
		Symptoms: []string{"fever", "chills"}, PatientCount: 3,
		Timestamp: d.Add(time.Hour),
	}
	if err := s.InsertHospitalEvent(ctx, ev); err != nil {
		t.Fatal(err)
	}
	post := &models.SocialPost{
		Ward: "w", Keywords: []string{"fever", "dengue"},
		Timestamp: d.Add(2 * time.Hour),
	}
	if err := s.InsertSocialPost(ctx, post); err != nil {
		t.Fatal(err)
	}

	agg, err := e.AggregateWard(ctx, "w", d)
	if err != nil {
		t.Fatalf("AggregateWard: %v", err)
	}
	if agg.TotalHospitalEvents != 1 || agg.TotalSocialMentions != 1 || agg.TotalPatients != 3 {
		t.Errorf("totals wrong: %+v", agg)
	}
	// Symptom counts are patient-weighted.
	if agg.SymptomCounts["fever"] != 3 || agg.SymptomCounts["chills"] != 3 {
		t.Errorf("symptom counts wrong: %v", agg.SymptomCounts)
	}
	if agg.SocialKeywordCounts["dengue"] != 1 {
		t.Errorf("keyword counts wrong: %v", agg.SocialKeywordCounts)
	}
}

func TestAggregateWardNoActivity(t *testing.T) {
	e, _ := newTestEngine(t)

	agg, err := e.AggregateWard(context.Background(), "empty", day("2026-08-20"))
	if err != nil {
		t.Fatalf("AggregateWard: %v", err)
	}
	if agg != nil {
		t.Errorf("expected nil aggregate for inactive ward, got %+v", agg)
	}
}

func TestAggregateIdempotence(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	d := day("2026-08-20")
	seedDay(t, s, "w", d, 3, 2)

	first, err := e.AggregateWard(ctx, "w", d)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := e.AggregateWard(ctx, "w", d)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if first.TotalHospitalEvents != second.TotalHospitalEvents ||
		first.TotalSocialMentions != second.TotalSocialMentions ||
		first.TotalPatients != second.TotalPatients ||
		first.EnvironmentalRiskScore != second.EnvironmentalRiskScore {
		t.Errorf("reruns differ: %+v vs %+v", first, second)
	}

	rows, err := s.AggregateRange(ctx, "w", d, d.Add(24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 stored row after rerun, got %d", len(rows))
	}
}

func TestRollingStatsRequireThreePoints(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	// Two prior days only.
	for _, d := range []string{"2026-08-18", "2026-08-19"} {
		seedDay(t, s, "w", day(d), 2, 1)
		if _, err := e.AggregateWard(ctx, "w", day(d)); err != nil {
			t.Fatal(err)
		}
	}
	seedDay(t, s, "w", day("2026-08-20"), 5, 0)

	agg, err := e.AggregateWard(ctx, "w", day("2026-08-20"))
	if err != nil {
		t.Fatal(err)
	}
	if agg.RollingMean7d != nil || agg.RollingStd7d != nil || agg.ZScore != nil {
		t.Errorf("expected nil rolling fields with 2 prior days: %+v", agg)
	}
	if agg.ChangepointDetected {
		t.Error("changepoint must be false without rolling stats")
	}
}

func TestRollingStatsAndChangepoint(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	// Three prior days with combined counts 3, 4, 5.
	seedDay(t, s, "w", day("2026-08-17"), 2, 1)
	seedDay(t, s, "w", day("2026-08-18"), 3, 1)
	seedDay(t, s, "w", day("2026-08-19"), 4, 1)
	for _, d := range []string{"2026-08-17", "2026-08-18", "2026-08-19"} {
		if _, err := e.AggregateWard(ctx, "w", day(d)); err != nil {
			t.Fatal(err)
		}
	}

	// Today spikes to combined count 20.
	seedDay(t, s, "w", day("2026-08-20"), 15, 5)
	agg, err := e.AggregateWard(ctx, "w", day("2026-08-20"))
	if err != nil {
		t.Fatal(err)
	}

	if agg.RollingMean7d == nil || agg.RollingStd7d == nil || agg.ZScore == nil {
		t.Fatalf("expected rolling fields with 3 prior days: %+v", agg)
	}
	wantMean := 4.0
	if math.Abs(*agg.RollingMean7d-wantMean) > 1e-9 {
		t.Errorf("mean = %v, want %v", *agg.RollingMean7d, wantMean)
	}
	wantStd := math.Sqrt(2.0 / 3.0)
	if math.Abs(*agg.RollingStd7d-wantStd) > 1e-9 {
		t.Errorf("std = %v, want %v", *agg.RollingStd7d, wantStd)
	}
	wantZ := (20.0 - wantMean) / wantStd
	if math.Abs(*agg.ZScore-wantZ) > 1e-9 {
		t.Errorf("z = %v, want %v", *agg.ZScore, wantZ)
	}
	if !agg.ChangepointDetected {
		t.Errorf("expected changepoint at z = %.2f", *agg.ZScore)
	}
}

func TestZScoreNilWhenStdZero(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	// Three identical prior days: std = 0.
	for _, d := range []string{"2026-08-17", "2026-08-18", "2026-08-19"} {
		seedDay(t, s, "w", day(d), 2, 2)
		if _, err := e.AggregateWard(ctx, "w", day(d)); err != nil {
			t.Fatal(err)
		}
	}
	seedDay(t, s, "w", day("2026-08-20"), 9, 0)

	agg, err := e.AggregateWard(ctx, "w", day("2026-08-20"))
	if err != nil {
		t.Fatal(err)
	}
	if agg.RollingMean7d == nil || agg.RollingStd7d == nil {
		t.Fatal("expected rolling mean/std populated")
	}
	if *agg.RollingStd7d != 0 {
		t.Fatalf("expected zero std, got %v", *agg.RollingStd7d)
	}
	if agg.ZScore != nil {
		t.Errorf("z must be nil when std is zero, got %v", *agg.ZScore)
	}
	if agg.ChangepointDetected {
		t.Error("changepoint must be false when z is undefined")
	}
}

func TestLocationFallbackPriority(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	d := day("2026-08-20")

	hospitalLoc := &models.GeoPoint{Lat: 19.0, Lon: 72.8}
	socialLoc := &models.GeoPoint{Lat: 18.5, Lon: 73.8}

	if err := s.InsertSocialPost(ctx, &models.SocialPost{
		Ward: "w", Location: socialLoc, Keywords: []string{"sick"},
		Timestamp: d.Add(time.Hour),
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertHospitalEvent(ctx, &models.HospitalEvent{
		Ward: "w", Location: hospitalLoc, HospitalID: "h1",
		Symptoms: []string{"fever"}, PatientCount: 1,
		Timestamp: d.Add(2 * time.Hour),
	}); err != nil {
		t.Fatal(err)
	}

	agg, err := e.AggregateWard(ctx, "w", d)
	if err != nil {
		t.Fatal(err)
	}
	// Hospital wins over social even when the social record came first.
	if agg.Location == nil || agg.Location.Lat != 19.0 {
		t.Errorf("expected hospital location, got %+v", agg.Location)
	}
}

func TestLocationUnknownStaysNil(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	d := day("2026-08-20")
	seedDay(t, s, "w", d, 1, 1)

	agg, err := e.AggregateWard(ctx, "w", d)
	if err != nil {
		t.Fatal(err)
	}
	if agg.Location != nil {
		t.Errorf("expected nil location, got %+v", agg.Location)
	}
}

func TestRunSkipsNothingOnHealthyData(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	d := day("2026-08-20")
	seedDay(t, s, "a", d, 2, 1)
	seedDay(t, s, "b", d, 1, 3)

	n, err := e.Run(ctx, d, d.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 aggregates written, got %d", n)
	}

	if _, err := s.GetAggregate(ctx, "a", d); err != nil {
		t.Errorf("aggregate for a missing: %v", err)
	}
	if _, err := s.GetAggregate(ctx, "b", d); err != nil {
		t.Errorf("aggregate for b missing: %v", err)
	}
}
