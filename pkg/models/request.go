package models

import "encoding/json"

// PredictionRequest is a backend-agnostic prediction query.
// Construct it once and do not mutate it afterwards; the fingerprinter
// assumes request contents are stable for the lifetime of a call.
type PredictionRequest struct {
	// Symbols are the subject identifiers (ticker symbols) the query is about.
	Symbols []string `json:"symbols"`
	// QueryType is an optional client-supplied type tag (e.g. "payout_rating").
	// When empty the router classifies the request from Prompt and Params.
	QueryType string `json:"query_type,omitempty"`
	// Prompt carries the textual intent of the query, if any.
	Prompt string `json:"prompt,omitempty"`
	// Params are additional query parameters (horizon, currency, ...).
	Params map[string]string `json:"params,omitempty"`
}

// RawResult is the unvalidated output of a single backend call.
type RawResult struct {
	Value   float64         `json:"value"`
	Label   string          `json:"label,omitempty"`
	Text    string          `json:"text,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// PredictionResult is the gateway's response to one prediction request.
type PredictionResult struct {
	RequestID   string           `json:"request_id"`
	Fingerprint string           `json:"fingerprint"`
	QueryType   string           `json:"query_type"`
	Value       float64          `json:"value"`
	Label       string           `json:"label,omitempty"`
	Text        string           `json:"text,omitempty"`
	Backend     string           `json:"backend,omitempty"`
	// CacheTier names the tier the result was served from ("l1", "l2", "l3"),
	// or is empty when the result came from a live backend call.
	CacheTier  string           `json:"cache_tier,omitempty"`
	Evaluation EvaluationResult `json:"evaluation"`
	LatencyMs  int64            `json:"latency_ms"`
}
