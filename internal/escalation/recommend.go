package escalation

import "github.com/epiwatch/epiwatch/internal/models"

// recommend builds the ordered action list from the deterministic rule
// table keyed by severity and environmental risk level. Same inputs
// always yield the same list in the same order.
func recommend(severity models.Severity, risk models.RiskLevel) []models.RecommendedAction {
	var actions []models.RecommendedAction

	if severity == models.SeverityHigh || severity == models.SeverityCritical {
		actions = append(actions,
			models.RecommendedAction{
				Category: "medicine",
				Action:   "Stock antipyretics and ORS",
				Priority: "high",
				Target:   "pharmacy",
				Details:  "Anticipated demand surge for fever management supplies.",
			},
			models.RecommendedAction{
				Category: "staffing",
				Action:   "Alert on-call clinical staff",
				Priority: "high",
				Target:   "hospital",
				Details:  "Prepare for elevated patient intake over the next 48 hours.",
			},
		)
	}
	if severity == models.SeverityCritical {
		actions = append(actions, models.RecommendedAction{
			Category: "equipment",
			Action:   "Prepare additional beds and isolation capacity",
			Priority: "critical",
			Target:   "hospital",
		})
	}
	if risk == models.RiskHigh || risk == models.RiskCritical {
		actions = append(actions, models.RecommendedAction{
			Category: "preparedness",
			Action:   "Deploy vector control teams",
			Priority: "high",
			Target:   "public",
			Details:  "Environmental conditions favor vector breeding.",
		})
	}

	// Baseline surveillance reminders apply to every alert.
	actions = append(actions,
		models.RecommendedAction{
			Category: "preparedness",
			Action:   "Heighten pharmacy sales surveillance",
			Priority: "medium",
			Target:   "pharmacy",
		},
		models.RecommendedAction{
			Category: "preparedness",
			Action:   "Brief outpatient clinics on the anomaly pattern",
			Priority: "medium",
			Target:   "clinic",
		},
	)
	return actions
}
