package domain

import "time"

// AggregationPolicy decides when enough validator responses exist to settle
// a task. An empty Required set means "any validator that responds counts".
type AggregationPolicy struct {
	Required    []Address     `json:"required,omitempty"`
	Threshold   float64       `json:"threshold"`
	MinFraction float64       `json:"min_fraction"`
	Timeout     time.Duration `json:"timeout"`
}

// AggregationDecision is the settled verdict for a task. Forced is true when
// the decision was taken at timeout rather than on full response coverage.
type AggregationDecision struct {
	Pass      bool      `json:"pass"`
	Score     float64   `json:"score"`
	Responses int       `json:"responses"`
	Expected  int       `json:"expected"`
	Forced    bool      `json:"forced"`
	DecidedAt time.Time `json:"decided_at"`
}
