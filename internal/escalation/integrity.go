package escalation

import (
	"context"
	"fmt"
	"time"

	"github.com/epiwatch/epiwatch/internal/store"
)

// Expected per-day record baselines used by the completeness score.
const (
	baselineHospital    = 10.0
	baselineSocial      = 20.0
	baselineEnvironment = 5.0

	// completenessIssueAt marks the day's data as unusable.
	completenessIssueAt = 0.5
	// duplicateEventLimit is the most events one hospital id may report
	// in a day before the cluster is treated as suspected duplicates.
	duplicateEventLimit = 5
	// historyGapMinDays is the minimum aggregated days out of the last
	// 7 before a gap warning is raised.
	historyGapMinDays = 5
)

// IntegrityStatus grades the day's data quality.
type IntegrityStatus string

const (
	IntegrityOK      IntegrityStatus = "ok"
	IntegrityWarning IntegrityStatus = "warning"
	IntegrityIssue   IntegrityStatus = "issue"
)

// IntegrityReport is the data-integrity gate's full finding.
type IntegrityReport struct {
	Status       IntegrityStatus
	Completeness float64 // 0-1 weighted volume vs baselines
	Duplicates   bool
	Warnings     []string
	Issues       []string
}

// checkIntegrity evaluates the day's raw data quality for a ward. An
// "issue" status (completeness below 50% or suspected duplicates)
// means the day cannot support an alert.
func checkIntegrity(ctx context.Context, events store.EventStore, aggregates store.AggregateStore, ward string, date time.Time) (*IntegrityReport, error) {
	day := date.UTC().Truncate(24 * time.Hour)
	next := day.Add(24 * time.Hour)

	hospital, social, environment, err := events.SourceCounts(ctx, ward, day, next)
	if err != nil {
		return nil, fmt.Errorf("source counts: %w", err)
	}

	report := &IntegrityReport{Status: IntegrityOK}

	for _, src := range []struct {
		name  string
		count int
	}{
		{"hospital", hospital},
		{"social", social},
		{"environment", environment},
	} {
		if src.count == 0 {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("no %s data for %s on %s", src.name, ward, day.Format("2006-01-02")))
		}
	}

	// Historical gap: fewer than 5 of the last 7 days aggregated.
	history, err := aggregates.AggregateRange(ctx, ward, day.Add(-7*24*time.Hour), day)
	if err != nil {
		return nil, fmt.Errorf("aggregate history: %w", err)
	}
	if len(history) < historyGapMinDays {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("only %d of last 7 days aggregated for %s", len(history), ward))
	}

	maxPerHospital, err := events.MaxEventsPerHospital(ctx, ward, day, next)
	if err != nil {
		return nil, fmt.Errorf("duplicate check: %w", err)
	}
	if maxPerHospital > duplicateEventLimit {
		report.Duplicates = true
		report.Issues = append(report.Issues,
			fmt.Sprintf("%d events from a single hospital id, suspected duplicates", maxPerHospital))
	}

	report.Completeness = (ratio(hospital, baselineHospital) +
		ratio(social, baselineSocial) +
		ratio(environment, baselineEnvironment)) / 3
	if report.Completeness < completenessIssueAt {
		report.Issues = append(report.Issues,
			fmt.Sprintf("completeness %.2f below %.2f", report.Completeness, completenessIssueAt))
	}

	switch {
	case len(report.Issues) > 0:
		report.Status = IntegrityIssue
	case len(report.Warnings) > 0:
		report.Status = IntegrityWarning
	}
	return report, nil
}

func ratio(count int, baseline float64) float64 {
	r := float64(count) / baseline
	if r > 1 {
		return 1
	}
	return r
}
