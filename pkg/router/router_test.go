package router

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/predyx-ai/predyx/pkg/backend"
	"github.com/predyx-ai/predyx/pkg/config"
	"github.com/predyx-ai/predyx/pkg/models"
)

// fakeAdapter returns canned results or errors and counts invocations.
type fakeAdapter struct {
	id    string
	err   error
	value float64
	calls atomic.Int32
}

func (f *fakeAdapter) ID() string { return f.id }

func (f *fakeAdapter) Call(context.Context, models.PredictionRequest) (models.RawResult, error) {
	f.calls.Add(1)
	if f.err != nil {
		return models.RawResult{}, f.err
	}
	return models.RawResult{Value: f.value}, nil
}

func testRouterConfig() config.RouterConfig {
	return config.RouterConfig{
		FailureThreshold: 3,
		Cooldown:         time.Minute,
		Rules: []config.RuleConfig{
			{QueryType: "chart", Keywords: []string{"chart analysis"}, Backend: "vision", Fallbacks: []string{"llm"}},
			{QueryType: "scoring", Keywords: []string{"payout rating", "score"}, Backend: "scorer", Fallbacks: []string{"llm"}},
			{QueryType: "forecast", Keywords: []string{"forecast", "analysis"}, Backend: "quant", Fallbacks: []string{"llm"}},
			{QueryType: "lookup", Keywords: []string{"price"}, Backend: "fast"},
		},
		DefaultQueryType: "lookup",
	}
}

func testBackends() []backend.Config {
	return []backend.Config{
		{Name: "vision"}, {Name: "scorer"}, {Name: "quant"}, {Name: "fast"}, {Name: "llm"},
	}
}

func newTestRouter(t *testing.T, adapters ...backend.Adapter) *Router {
	t.Helper()
	registry := backend.Registry{}
	for _, a := range adapters {
		registry.Add(a)
	}
	r, err := New(testRouterConfig(), testBackends(), registry, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestResolveCompoundBeatsGeneric(t *testing.T) {
	r := newTestRouter(t)
	// "chart analysis" contains the generic keyword "analysis"; the more
	// specific rule must win.
	dec, err := r.Resolve(models.PredictionRequest{Prompt: "run a chart analysis on AAPL"})
	if err != nil {
		t.Fatal(err)
	}
	if dec.QueryType != "chart" || dec.Backend != "vision" {
		t.Errorf("compound intent shadowed by generic rule: %+v", dec)
	}
}

func TestResolveGenericKeyword(t *testing.T) {
	r := newTestRouter(t)
	dec, err := r.Resolve(models.PredictionRequest{Prompt: "give me an analysis of MSFT"})
	if err != nil {
		t.Fatal(err)
	}
	if dec.QueryType != "forecast" || dec.Backend != "quant" {
		t.Errorf("unexpected decision: %+v", dec)
	}
}

func TestResolveExplicitTag(t *testing.T) {
	r := newTestRouter(t)
	dec, err := r.Resolve(models.PredictionRequest{QueryType: "scoring", Prompt: "chart analysis please"})
	if err != nil {
		t.Fatal(err)
	}
	if dec.QueryType != "scoring" {
		t.Errorf("explicit tag should win over text classification: %+v", dec)
	}
	if dec.Reason != "explicit query type tag" {
		t.Errorf("unexpected reason: %s", dec.Reason)
	}
}

func TestResolveDefaultRule(t *testing.T) {
	r := newTestRouter(t)
	dec, err := r.Resolve(models.PredictionRequest{Prompt: "what about TSLA"})
	if err != nil {
		t.Fatal(err)
	}
	if dec.QueryType != "lookup" || dec.Reason != "default rule" {
		t.Errorf("expected default rule, got %+v", dec)
	}
}

func TestResolveNoRouteWithoutDefault(t *testing.T) {
	cfg := testRouterConfig()
	cfg.DefaultQueryType = ""
	r, err := New(cfg, testBackends(), backend.Registry{}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Resolve(models.PredictionRequest{Prompt: "what about TSLA"}); !errors.Is(err, ErrNoRoute) {
		t.Errorf("expected ErrNoRoute, got %v", err)
	}
}

func TestDispatchFallsBackOnRetryableError(t *testing.T) {
	primary := &fakeAdapter{id: "quant", err: backend.ErrUnavailable}
	fallback := &fakeAdapter{id: "llm", value: 42}
	r := newTestRouter(t, primary, fallback)

	dec := models.RouteDecision{QueryType: "forecast", Backend: "quant", Fallbacks: []string{"llm"}}
	raw, used, err := r.Dispatch(context.Background(), dec, models.PredictionRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if used != "llm" || raw.Value != 42 {
		t.Errorf("expected fallback result, got backend=%s value=%v", used, raw.Value)
	}
	if primary.calls.Load() != 1 {
		t.Errorf("primary should be tried once, got %d", primary.calls.Load())
	}
}

func TestDispatchNonRetryableStopsChain(t *testing.T) {
	wantErr := errors.New("malformed request")
	primary := &fakeAdapter{id: "quant", err: wantErr}
	fallback := &fakeAdapter{id: "llm", value: 42}
	r := newTestRouter(t, primary, fallback)

	dec := models.RouteDecision{Backend: "quant", Fallbacks: []string{"llm"}}
	_, _, err := r.Dispatch(context.Background(), dec, models.PredictionRequest{})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected the non-retryable error, got %v", err)
	}
	if fallback.calls.Load() != 0 {
		t.Error("non-retryable error must not advance to fallback")
	}
}

func TestDispatchAllExhausted(t *testing.T) {
	primary := &fakeAdapter{id: "quant", err: backend.ErrTimeout}
	fallback := &fakeAdapter{id: "llm", err: backend.ErrRateLimited}
	r := newTestRouter(t, primary, fallback)

	dec := models.RouteDecision{Backend: "quant", Fallbacks: []string{"llm"}}
	_, _, err := r.Dispatch(context.Background(), dec, models.PredictionRequest{})
	if !errors.Is(err, ErrAllBackendsExhausted) {
		t.Fatalf("expected ErrAllBackendsExhausted, got %v", err)
	}
	// The last backend's error context is preserved.
	if !errors.Is(err, backend.ErrRateLimited) {
		t.Errorf("expected wrapped last error, got %v", err)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	primary := &fakeAdapter{id: "quant", err: backend.ErrUnavailable}
	fallback := &fakeAdapter{id: "llm", value: 7}
	r := newTestRouter(t, primary, fallback)

	dec := models.RouteDecision{Backend: "quant", Fallbacks: []string{"llm"}}
	ctx := context.Background()

	// Threshold is 3: three requests each try (and fail on) the primary.
	for i := 0; i < 3; i++ {
		if _, used, err := r.Dispatch(ctx, dec, models.PredictionRequest{}); err != nil || used != "llm" {
			t.Fatalf("request %d: used=%s err=%v", i, used, err)
		}
	}
	if primary.calls.Load() != 3 {
		t.Fatalf("expected primary tried 3 times, got %d", primary.calls.Load())
	}
	if r.BreakerStates()["quant"] != "open" {
		t.Fatalf("expected quant breaker open, states: %v", r.BreakerStates())
	}

	// The 4th request must skip the primary entirely.
	if _, used, err := r.Dispatch(ctx, dec, models.PredictionRequest{}); err != nil || used != "llm" {
		t.Fatalf("4th request: used=%s err=%v", used, err)
	}
	if primary.calls.Load() != 3 {
		t.Errorf("open breaker should skip the failed backend, got %d calls", primary.calls.Load())
	}
}
