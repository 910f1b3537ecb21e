package escalation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/epiwatch/epiwatch/internal/models"
	"github.com/epiwatch/epiwatch/internal/store"
)

// diseaseVocabulary is the fixed set of terms both hospital symptoms
// and social keywords are matched against during verification.
var diseaseVocabulary = map[string]bool{
	"fever":    true,
	"cough":    true,
	"dengue":   true,
	"malaria":  true,
	"flu":      true,
	"sick":     true,
	"illness":  true,
	"chills":   true,
	"headache": true,
}

const (
	// envRiskSignalAt is the environmental risk above which a hospital
	// surge counts as environmentally corroborated.
	envRiskSignalAt = 5.0
	// verifiedMinSignals correlation signals are required to verify.
	verifiedMinSignals = 2
	// boostPerSignal and boostCap shape the confidence boost.
	boostPerSignal = 0.1
	boostCap       = 0.3

	topTermLimit = 5
)

// VerificationResult is the cross-source verification gate's finding
// together with the per-source evidence snapshots it collected.
type VerificationResult struct {
	Verified bool
	Signals  []string
	Boost    float64

	Hospital    models.SourceEvidence
	Social      models.SourceEvidence
	Environment models.SourceEvidence
}

// verifyAcrossSources independently refetches all three sources for the
// ward/date and looks for corroborating signals: shared disease terms
// between hospital and social chatter, elevated environmental risk
// alongside hospital activity, and all three sources reporting at once.
func verifyAcrossSources(ctx context.Context, events store.EventStore, ward string, date time.Time, envRisk float64) (*VerificationResult, error) {
	day := date.UTC().Truncate(24 * time.Hour)
	next := day.Add(24 * time.Hour)

	hospital, err := events.HospitalEvents(ctx, ward, day, next)
	if err != nil {
		return nil, fmt.Errorf("fetch hospital evidence: %w", err)
	}
	social, err := events.SocialPosts(ctx, ward, day, next)
	if err != nil {
		return nil, fmt.Errorf("fetch social evidence: %w", err)
	}
	env, err := events.EnvironmentReadings(ctx, ward, day, next)
	if err != nil {
		return nil, fmt.Errorf("fetch environment evidence: %w", err)
	}

	res := &VerificationResult{}

	symptomCounts := map[string]int{}
	for _, ev := range hospital {
		for _, sym := range ev.Symptoms {
			symptomCounts[sym]++
		}
	}
	keywordCounts := map[string]int{}
	for _, post := range social {
		for _, kw := range post.Keywords {
			keywordCounts[kw]++
		}
	}

	res.Hospital = models.SourceEvidence{
		HasData:     len(hospital) > 0,
		TotalEvents: len(hospital),
		UniqueTerms: len(symptomCounts),
		TopTerms:    topTerms(symptomCounts),
	}
	res.Social = models.SourceEvidence{
		HasData:       len(social) > 0,
		TotalMentions: len(social),
		UniqueTerms:   len(keywordCounts),
		TopTerms:      topTerms(keywordCounts),
	}
	var rainTotal float64
	for _, r := range env {
		rainTotal += r.RainfallMM
	}
	res.Environment = models.SourceEvidence{
		HasData:    len(env) > 0,
		RiskScore:  envRisk,
		DataPoints: len(env),
	}
	if len(env) > 0 {
		res.Environment.AvgRainfallMM = rainTotal / float64(len(env))
	}

	// Signal 1: hospital and social chatter share a disease term.
	if sharesDiseaseTerm(symptomCounts, keywordCounts) {
		res.Signals = append(res.Signals, "symptom/keyword overlap on disease vocabulary")
	}
	// Signal 2: elevated environmental risk alongside hospital activity.
	if envRisk > envRiskSignalAt && res.Hospital.HasData {
		res.Signals = append(res.Signals,
			fmt.Sprintf("environmental risk %.1f with hospital activity", envRisk))
	}
	// Signal 3: all three sources reporting simultaneously.
	if res.Hospital.HasData && res.Social.HasData && res.Environment.HasData {
		res.Signals = append(res.Signals, "all three sources present")
	}

	res.Verified = len(res.Signals) >= verifiedMinSignals
	res.Boost = float64(len(res.Signals)) * boostPerSignal
	if res.Boost > boostCap {
		res.Boost = boostCap
	}
	return res, nil
}

// sharesDiseaseTerm reports whether at least one vocabulary term shows
// up in both the hospital symptoms and the social keywords.
func sharesDiseaseTerm(symptoms, keywords map[string]int) bool {
	for term := range symptoms {
		if diseaseVocabulary[term] && keywords[term] > 0 {
			return true
		}
	}
	return false
}

func topTerms(counts map[string]int) map[string]int {
	if len(counts) <= topTermLimit {
		return counts
	}
	type kv struct {
		term  string
		count int
	}
	sorted := make([]kv, 0, len(counts))
	for t, c := range counts {
		sorted = append(sorted, kv{t, c})
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].count != sorted[j].count {
			return sorted[i].count > sorted[j].count
		}
		return sorted[i].term < sorted[j].term
	})
	top := make(map[string]int, topTermLimit)
	for _, e := range sorted[:topTermLimit] {
		top[e.term] = e.count
	}
	return top
}
