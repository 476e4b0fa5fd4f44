// Package router classifies prediction requests and dispatches them to
// backends with fallback ordering, circuit breaking and per-backend
// concurrency bounds.
package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/predyx-ai/predyx/pkg/backend"
	"github.com/predyx-ai/predyx/pkg/breaker"
	"github.com/predyx-ai/predyx/pkg/config"
	"github.com/predyx-ai/predyx/pkg/metrics"
	"github.com/predyx-ai/predyx/pkg/models"
)

// ErrAllBackendsExhausted is returned when every backend in a route's
// chain has failed or was skipped by its circuit breaker.
var ErrAllBackendsExhausted = errors.New("all backends exhausted")

// ErrNoRoute is returned when no rule matches a request and no default
// rule is configured.
var ErrNoRoute = errors.New("no routing rule matched")

const defaultMaxConcurrent = 16

// rule is a compiled classification rule.
type rule struct {
	queryType string
	keywords  []string
	backend   string
	fallbacks []string
	// specificity is the length of the rule's longest keyword phrase;
	// rules are evaluated most specific first so a compound intent is
	// never shadowed by a generic rule.
	specificity int
}

// Router resolves requests to backend chains and executes them.
type Router struct {
	rules       []rule
	byQueryType map[string]*rule
	defaultRule *rule

	registry backend.Registry
	breakers map[string]*breaker.Breaker
	sems     map[string]*semaphore.Weighted

	logger  *zap.Logger
	metrics *metrics.Metrics
}

// New compiles the routing rules and builds one circuit breaker and one
// concurrency semaphore per configured backend.
func New(cfg config.RouterConfig, backends []backend.Config, registry backend.Registry, logger *zap.Logger, m *metrics.Metrics) (*Router, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Router{
		byQueryType: make(map[string]*rule),
		registry:    registry,
		breakers:    make(map[string]*breaker.Breaker),
		sems:        make(map[string]*semaphore.Weighted),
		logger:      logger,
		metrics:     m,
	}

	for _, rc := range cfg.Rules {
		compiled := rule{
			queryType: strings.ToLower(rc.QueryType),
			backend:   rc.Backend,
			fallbacks: rc.Fallbacks,
		}
		for _, kw := range rc.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" {
				continue
			}
			compiled.keywords = append(compiled.keywords, kw)
			if len(kw) > compiled.specificity {
				compiled.specificity = len(kw)
			}
		}
		// Longest phrase first within the rule as well, so the audit
		// reason names the most specific match.
		sort.Slice(compiled.keywords, func(i, j int) bool {
			return len(compiled.keywords[i]) > len(compiled.keywords[j])
		})
		r.rules = append(r.rules, compiled)
	}

	sort.SliceStable(r.rules, func(i, j int) bool {
		return r.rules[i].specificity > r.rules[j].specificity
	})

	for i := range r.rules {
		ru := &r.rules[i]
		if _, dup := r.byQueryType[ru.queryType]; dup {
			return nil, fmt.Errorf("duplicate routing rule for query type %q", ru.queryType)
		}
		r.byQueryType[ru.queryType] = ru
	}

	if cfg.DefaultQueryType != "" {
		def, ok := r.byQueryType[strings.ToLower(cfg.DefaultQueryType)]
		if !ok {
			return nil, fmt.Errorf("default query type %q has no rule", cfg.DefaultQueryType)
		}
		r.defaultRule = def
	}

	threshold := cfg.FailureThreshold
	cooldown := cfg.Cooldown
	for _, bc := range backends {
		name := bc.Name
		r.breakers[name] = breaker.New(name, threshold, cooldown,
			breaker.WithStateChange(func(name string, from, to breaker.State) {
				logger.Info("circuit breaker state change",
					zap.String("backend", name),
					zap.Stringer("from", from),
					zap.Stringer("to", to))
				m.BreakerTransition(name, to.String())
			}))
		limit := bc.MaxConcurrent
		if limit <= 0 {
			limit = defaultMaxConcurrent
		}
		r.sems[name] = semaphore.NewWeighted(limit)
	}

	return r, nil
}

// Resolve classifies the request and returns the backend chain to try.
// An explicit query type tag on the request wins; otherwise rules are
// matched against the request text, most specific keyword first.
func (r *Router) Resolve(req models.PredictionRequest) (models.RouteDecision, error) {
	if tag := strings.ToLower(strings.TrimSpace(req.QueryType)); tag != "" {
		if ru, ok := r.byQueryType[tag]; ok {
			return decision(ru, "explicit query type tag"), nil
		}
	}

	text := classificationText(req)
	for i := range r.rules {
		ru := &r.rules[i]
		for _, kw := range ru.keywords {
			if strings.Contains(text, kw) {
				return decision(ru, fmt.Sprintf("matched %q", kw)), nil
			}
		}
	}

	if r.defaultRule != nil {
		return decision(r.defaultRule, "default rule"), nil
	}
	return models.RouteDecision{}, ErrNoRoute
}

// Dispatch walks the decision's backend chain. Backends with an open
// breaker are skipped without waiting; retryable failures advance to the
// next fallback without re-classifying. The chain's last error is wrapped
// in ErrAllBackendsExhausted when nothing succeeds.
func (r *Router) Dispatch(ctx context.Context, dec models.RouteDecision, req models.PredictionRequest) (models.RawResult, string, error) {
	var lastErr error

	for _, id := range dec.Chain() {
		adapter := r.registry.Get(id)
		if adapter == nil {
			r.logger.Warn("route references unregistered backend", zap.String("backend", id))
			continue
		}

		br := r.breakers[id]
		if br != nil {
			if err := br.Allow(); err != nil {
				r.metrics.BackendCall(id, "breaker_open")
				r.logger.Debug("skipping backend with open breaker", zap.String("backend", id))
				if lastErr == nil {
					lastErr = fmt.Errorf("%s: %w", id, err)
				}
				continue
			}
		}

		raw, err := r.callBounded(ctx, adapter, req)
		if err == nil {
			if br != nil {
				br.RecordSuccess()
			}
			r.metrics.BackendCall(id, "ok")
			return raw, id, nil
		}

		if br != nil {
			br.RecordFailure()
		}
		r.metrics.BackendCall(id, "error")

		if !backend.Retryable(err) {
			return models.RawResult{}, id, err
		}
		r.logger.Warn("backend failed, advancing to fallback",
			zap.String("backend", id),
			zap.Error(err))
		lastErr = err
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no usable backend in chain %v", dec.Chain())
	}
	return models.RawResult{}, "", fmt.Errorf("%w: %v", ErrAllBackendsExhausted, lastErr)
}

// callBounded runs the adapter under its backend's concurrency semaphore.
func (r *Router) callBounded(ctx context.Context, adapter backend.Adapter, req models.PredictionRequest) (models.RawResult, error) {
	sem := r.sems[adapter.ID()]
	if sem != nil {
		if err := sem.Acquire(ctx, 1); err != nil {
			return models.RawResult{}, fmt.Errorf("%w: %s: %v", backend.ErrUnavailable, adapter.ID(), err)
		}
		defer sem.Release(1)
	}
	return adapter.Call(ctx, req)
}

// BreakerStates reports each backend's breaker state, for diagnostics.
func (r *Router) BreakerStates() map[string]string {
	out := make(map[string]string, len(r.breakers))
	for name, br := range r.breakers {
		out[name] = br.State().String()
	}
	return out
}

func decision(ru *rule, reason string) models.RouteDecision {
	return models.RouteDecision{
		QueryType: ru.queryType,
		Backend:   ru.backend,
		Fallbacks: ru.fallbacks,
		Reason:    reason,
	}
}

func classificationText(req models.PredictionRequest) string {
	var sb strings.Builder
	sb.WriteString(req.Prompt)
	sb.WriteByte(' ')
	sb.WriteString(req.QueryType)
	for _, v := range req.Params {
		sb.WriteByte(' ')
		sb.WriteString(v)
	}
	return strings.ToLower(sb.String())
}
