// Package escalation turns a flagged anomaly into an actionable alert,
// or suppresses it. Gates run strictly in sequence and short-circuit;
// any internal error suppresses, because an erroneous alert is worse
// than a missed one here.
package escalation

// Outcome is the explicit result of one escalation gate: proceed, or
// suppress with a named gate and reason.
type Outcome struct {
	Proceed bool
	Gate    string // integrity | verification | confidence | dedup | error
	Reason  string
}

func proceed() Outcome {
	return Outcome{Proceed: true}
}

func suppress(gate, reason string) Outcome {
	return Outcome{Gate: gate, Reason: reason}
}
