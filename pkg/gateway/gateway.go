// Package gateway orchestrates one prediction request end to end:
// fingerprint, coalesce, cache lookup, backend dispatch, validation,
// write-through and audit.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/predyx-ai/predyx/pkg/coalesce"
	"github.com/predyx-ai/predyx/pkg/fingerprint"
	"github.com/predyx-ai/predyx/pkg/metrics"
	"github.com/predyx-ai/predyx/pkg/models"
	"github.com/predyx-ai/predyx/pkg/router"
)

// ErrInvalidRequest marks requests rejected before any backend work.
var ErrInvalidRequest = errors.New("invalid prediction request")

// Cache is the tiered cache surface the gateway needs.
type Cache interface {
	Get(ctx context.Context, key string) (models.CacheEntry, string, error)
	Put(ctx context.Context, key string, payload []byte)
}

// Router resolves and executes backend chains.
type Router interface {
	Resolve(req models.PredictionRequest) (models.RouteDecision, error)
	Dispatch(ctx context.Context, dec models.RouteDecision, req models.PredictionRequest) (models.RawResult, string, error)
}

// Evaluator runs the secondary validation check.
type Evaluator interface {
	Evaluate(ctx context.Context, req models.PredictionRequest, queryType string, raw models.RawResult) models.EvaluationResult
}

// HistoryRecorder feeds observed values back into the validator's
// cross-reference store.
type HistoryRecorder interface {
	Record(ctx context.Context, symbol, queryType string, value float64, at time.Time) error
}

// Auditor records one entry per gateway transaction.
type Auditor interface {
	Record(rec models.AuditRecord)
}

// Gateway is the prediction gateway entry point.
type Gateway struct {
	cache     Cache
	router    Router
	evaluator Evaluator
	history   HistoryRecorder
	auditor   Auditor
	logger    *zap.Logger
	metrics   *metrics.Metrics

	flights coalesce.Group[models.PredictionResult]
}

// New wires a Gateway. history and auditor may be nil.
func New(c Cache, r Router, e Evaluator, h HistoryRecorder, a Auditor, logger *zap.Logger, m *metrics.Metrics) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		cache:     c,
		router:    r,
		evaluator: e,
		history:   h,
		auditor:   a,
		logger:    logger,
		metrics:   m,
	}
}

// cachedResult is the payload stored in the cache tiers.
type cachedResult struct {
	QueryType  string                  `json:"query_type"`
	Value      float64                 `json:"value"`
	Label      string                  `json:"label,omitempty"`
	Text       string                  `json:"text,omitempty"`
	Backend    string                  `json:"backend"`
	Evaluation models.EvaluationResult `json:"evaluation"`
}

// Request serves one prediction. Concurrent requests with the same
// fingerprint share a single unit of work and receive the same result;
// the shared work writes exactly one audit record.
func (g *Gateway) Request(ctx context.Context, req models.PredictionRequest) (models.PredictionResult, error) {
	start := time.Now()

	fp, err := fingerprint.New(req)
	if err != nil {
		g.metrics.ObserveRequest("invalid_request", time.Since(start))
		return models.PredictionResult{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	result, joined, err := g.flights.Do(ctx, fp, func(pctx context.Context) (models.PredictionResult, error) {
		return g.produce(pctx, fp, req)
	})
	if joined {
		g.metrics.CoalesceJoined()
	} else {
		g.metrics.CoalesceLeader()
	}

	g.metrics.ObserveRequest(outcomeOf(err), time.Since(start))
	return result, err
}

// produce is the single unit of work behind a fingerprint: cache lookup,
// then the backend call chain on a miss. Every exit path writes exactly
// one audit record.
func (g *Gateway) produce(ctx context.Context, fp string, req models.PredictionRequest) (models.PredictionResult, error) {
	start := time.Now()
	requestID := uuid.NewString()

	if entry, tier, err := g.cache.Get(ctx, fp); err == nil {
		var cached cachedResult
		if uerr := json.Unmarshal(entry.Payload, &cached); uerr == nil {
			result := models.PredictionResult{
				RequestID:   requestID,
				Fingerprint: fp,
				QueryType:   cached.QueryType,
				Value:       cached.Value,
				Label:       cached.Label,
				Text:        cached.Text,
				Backend:     cached.Backend,
				CacheTier:   tier,
				Evaluation:  cached.Evaluation,
				LatencyMs:   time.Since(start).Milliseconds(),
			}
			g.audit(models.AuditRecord{
				RequestID:   requestID,
				Fingerprint: fp,
				QueryType:   cached.QueryType,
				CacheTier:   tier,
				Backend:     cached.Backend,
				Verdict:     cached.Evaluation.Verdict,
				Confidence:  cached.Evaluation.Confidence,
				Anomaly:     cached.Evaluation.Anomaly,
				Severity:    cached.Evaluation.Severity,
				Outcome:     "success",
				LatencyMs:   result.LatencyMs,
			})
			return result, nil
		}
		g.logger.Warn("corrupt cache payload, treating as miss",
			zap.String("fingerprint", fp),
			zap.String("tier", tier))
	}

	dec, err := g.router.Resolve(req)
	if err != nil {
		g.audit(models.AuditRecord{
			RequestID:   requestID,
			Fingerprint: fp,
			QueryType:   req.QueryType,
			CacheTier:   "miss",
			Outcome:     "no_route",
			LatencyMs:   time.Since(start).Milliseconds(),
		})
		return models.PredictionResult{}, err
	}

	raw, backendID, err := g.router.Dispatch(ctx, dec, req)
	if err != nil {
		g.audit(models.AuditRecord{
			RequestID:   requestID,
			Fingerprint: fp,
			QueryType:   dec.QueryType,
			CacheTier:   "miss",
			Backend:     backendID,
			RouteReason: dec.Reason,
			Outcome:     outcomeOf(err),
			LatencyMs:   time.Since(start).Milliseconds(),
		})
		return models.PredictionResult{}, err
	}

	eval := g.evaluator.Evaluate(ctx, req, dec.QueryType, raw)

	if g.history != nil {
		for _, symbol := range req.Symbols {
			if herr := g.history.Record(ctx, symbol, dec.QueryType, raw.Value, time.Now().UTC()); herr != nil {
				g.logger.Warn("history record failed", zap.String("symbol", symbol), zap.Error(herr))
			}
		}
	}

	payload, merr := json.Marshal(cachedResult{
		QueryType:  dec.QueryType,
		Value:      raw.Value,
		Label:      raw.Label,
		Text:       raw.Text,
		Backend:    backendID,
		Evaluation: eval,
	})
	if merr == nil {
		g.cache.Put(ctx, fp, payload)
	}

	result := models.PredictionResult{
		RequestID:   requestID,
		Fingerprint: fp,
		QueryType:   dec.QueryType,
		Value:       raw.Value,
		Label:       raw.Label,
		Text:        raw.Text,
		Backend:     backendID,
		Evaluation:  eval,
		LatencyMs:   time.Since(start).Milliseconds(),
	}
	g.audit(models.AuditRecord{
		RequestID:   requestID,
		Fingerprint: fp,
		QueryType:   dec.QueryType,
		CacheTier:   "miss",
		Backend:     backendID,
		RouteReason: dec.Reason,
		Verdict:     eval.Verdict,
		Confidence:  eval.Confidence,
		Anomaly:     eval.Anomaly,
		Severity:    eval.Severity,
		Outcome:     "success",
		LatencyMs:   result.LatencyMs,
	})
	return result, nil
}

// InFlight reports the number of coalesced units currently running.
func (g *Gateway) InFlight() int {
	return g.flights.InFlight()
}

func (g *Gateway) audit(rec models.AuditRecord) {
	if g.auditor == nil {
		return
	}
	g.auditor.Record(rec)
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, router.ErrAllBackendsExhausted):
		return "all_backends_exhausted"
	case errors.Is(err, router.ErrNoRoute):
		return "no_route"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline_exceeded"
	default:
		return "error"
	}
}
