package models

// RouteDecision records how the router classified a request and which
// backends it will try, in order.
type RouteDecision struct {
	QueryType string   `json:"query_type"`
	Backend   string   `json:"backend"`
	Fallbacks []string `json:"fallbacks,omitempty"`
	// Reason explains the classification for audit purposes
	// (e.g. `matched "chart analysis"` or `explicit query type tag`).
	Reason string `json:"reason"`
}

// Chain returns the primary backend followed by its fallbacks.
func (d RouteDecision) Chain() []string {
	chain := make([]string, 0, 1+len(d.Fallbacks))
	chain = append(chain, d.Backend)
	chain = append(chain, d.Fallbacks...)
	return chain
}
