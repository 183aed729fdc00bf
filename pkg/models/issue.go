package models

// Issue is a single threshold violation found during analysis.
type Issue struct {
	Kind      Kind      `json:"type"`
	Entity    EntityRef `json:"entity"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Severity  Severity  `json:"severity"`
}
