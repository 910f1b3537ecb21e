package detection

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/epiwatch/epiwatch/internal/detection/learned"
	"github.com/epiwatch/epiwatch/internal/models"
	"github.com/epiwatch/epiwatch/internal/store"
)

func day(s string) time.Time {
	t, err := time.ParseInLocation("2006-01-02", s, time.UTC)
	if err != nil {
		panic(err)
	}
	return t
}

func newTestPipeline(t *testing.T) (*Pipeline, store.Store) {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	auto := learned.LoadAutoencoder("/nonexistent/model.json", zap.NewNop())
	p := NewPipeline(s, s, auto, learned.NewIsolationForest(42), 0.7, zap.NewNop())
	return p, s
}

func seedAggregate(t *testing.T, s store.Store, ward string, d time.Time, hospital, social int, z *float64) {
	t.Helper()
	agg := &models.DailyAggregate{
		Ward: ward, Date: d,
		SymptomCounts:       map[string]int{"fever": hospital},
		SocialKeywordCounts: map[string]int{"sick": social},
		TotalHospitalEvents: hospital,
		TotalSocialMentions: social,
		TotalPatients:       hospital * 2,
		ZScore:              z,
		UpdatedAt:           time.Now().UTC(),
	}
	if err := s.UpsertAggregate(context.Background(), agg); err != nil {
		t.Fatal(err)
	}
}

func TestScoreAggregateColdStart(t *testing.T) {
	p, s := newTestPipeline(t)
	ctx := context.Background()
	d := day("2026-08-20")
	seedAggregate(t, s, "w", d, 5, 3, nil)

	agg, err := s.GetAggregate(ctx, "w", d)
	if err != nil {
		t.Fatal(err)
	}
	res, err := p.ScoreAggregate(ctx, agg)
	if err != nil {
		t.Fatalf("ScoreAggregate: %v", err)
	}

	// No history, no rolling z, no model: every component is absent.
	if res.Scores.ZScore != nil || res.Scores.CUSUM != nil || res.Scores.EWMA != nil ||
		res.Scores.Reconstruction != nil || res.Scores.OutlierForest != nil ||
		res.Scores.ForecastResid != nil {
		t.Errorf("cold start must yield all-absent scores: %+v", res.Scores)
	}
	if res.AnomalyScore != 0 {
		t.Errorf("all-absent fused score = %v, want 0", res.AnomalyScore)
	}
	if res.Confidence != 0.5 {
		t.Errorf("cold start confidence = %v, want 0.5 floor", res.Confidence)
	}
	if res.IsAnomaly {
		t.Error("cold start must not flag")
	}
}

func TestScoreAggregatePersistsResult(t *testing.T) {
	p, s := newTestPipeline(t)
	ctx := context.Background()
	d := day("2026-08-20")
	seedAggregate(t, s, "w", d, 5, 3, nil)

	agg, err := s.GetAggregate(ctx, "w", d)
	if err != nil {
		t.Fatal(err)
	}
	res, err := p.ScoreAggregate(ctx, agg)
	if err != nil {
		t.Fatal(err)
	}
	if res.ID == "" {
		t.Fatal("expected persisted result id")
	}

	stored, err := s.GetAnomaly(ctx, res.ID)
	if err != nil {
		t.Fatalf("GetAnomaly: %v", err)
	}
	if stored.Ward != "w" || !stored.Date.Equal(d) {
		t.Errorf("stored result mismatch: %+v", stored)
	}
}

func TestScoreAggregateWithRichHistory(t *testing.T) {
	p, s := newTestPipeline(t)
	ctx := context.Background()

	// 20 prior days of stable counts, then a spike with a rolling z.
	start := day("2026-07-31")
	for i := 0; i < 20; i++ {
		seedAggregate(t, s, "w", start.Add(time.Duration(i)*24*time.Hour), 3+i%2, 2, nil)
	}
	d := day("2026-08-20")
	z := 4.5
	seedAggregate(t, s, "w", d, 40, 25, &z)

	agg, err := s.GetAggregate(ctx, "w", d)
	if err != nil {
		t.Fatal(err)
	}
	res, err := p.ScoreAggregate(ctx, agg)
	if err != nil {
		t.Fatal(err)
	}

	if res.Scores.ZScore == nil || res.Scores.CUSUM == nil || res.Scores.EWMA == nil {
		t.Errorf("statistical scores must be present with 20d history: %+v", res.Scores)
	}
	if res.Scores.OutlierForest == nil || res.Scores.ForecastResid == nil {
		t.Errorf("forest and residual must be present with 20d history: %+v", res.Scores)
	}
	// No model artifact: reconstruction stays absent.
	if res.Scores.Reconstruction != nil {
		t.Errorf("reconstruction must be absent without a model, got %v", *res.Scores.Reconstruction)
	}

	if *res.Scores.CUSUM != 1 {
		t.Errorf("extreme spike CUSUM = %v, want 1", *res.Scores.CUSUM)
	}
	if res.AnomalyScore < 0 || res.AnomalyScore > 1 {
		t.Errorf("fused score out of bounds: %v", res.AnomalyScore)
	}
}

func TestRunAppendsPerInvocation(t *testing.T) {
	p, s := newTestPipeline(t)
	ctx := context.Background()
	d := day("2026-08-20")
	seedAggregate(t, s, "w", d, 5, 3, nil)

	if _, err := p.Run(ctx, d, d.Add(24*time.Hour)); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Run(ctx, d, d.Add(24*time.Hour)); err != nil {
		t.Fatal(err)
	}

	all, err := s.RecentAnomalies(ctx, d.Add(-time.Hour), false)
	if err != nil {
		t.Fatal(err)
	}
	// Detection reruns append, they never upsert.
	if len(all) != 2 {
		t.Errorf("expected 2 appended results after 2 runs, got %d", len(all))
	}
}

func TestRunCoversMultipleWards(t *testing.T) {
	p, s := newTestPipeline(t)
	ctx := context.Background()
	d := day("2026-08-20")
	seedAggregate(t, s, "a", d, 5, 3, nil)
	seedAggregate(t, s, "b", d, 1, 1, nil)

	results, err := p.Run(ctx, d, d.Add(24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
}
