package models

// Verdict classifies how strongly the validator's secondary check agrees
// with a raw backend result.
type Verdict string

const (
	VerdictAgree          Verdict = "agree"
	VerdictPartiallyAgree Verdict = "partially_agree"
	VerdictUncertain      Verdict = "uncertain"
	VerdictDisagree       Verdict = "disagree"
	// VerdictUnvalidated marks results returned after the daily evaluation
	// budget was exhausted; no secondary check was run.
	VerdictUnvalidated Verdict = "unvalidated"
)

// Severity grades an anomaly by how far the result deviates from
// expected bounds.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// EvaluationResult is the validator's verdict on one raw backend result.
type EvaluationResult struct {
	Verdict     Verdict  `json:"verdict"`
	Confidence  float64  `json:"confidence"`
	Anomaly     bool     `json:"anomaly"`
	Severity    Severity `json:"severity,omitempty"`
	Explanation string   `json:"explanation,omitempty"`
}
