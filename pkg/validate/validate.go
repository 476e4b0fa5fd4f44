// Package validate cross-checks raw backend predictions and assigns a
// confidence score and anomaly verdict.
package validate

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/predyx-ai/predyx/pkg/config"
	"github.com/predyx-ai/predyx/pkg/history"
	"github.com/predyx-ai/predyx/pkg/metrics"
	"github.com/predyx-ai/predyx/pkg/models"
)

// driftMedium and driftHigh are relative deviations from the recent
// historical mean at which the anomaly severity escalates.
const (
	driftMedium = 0.25
	driftHigh   = 0.75
)

// Evaluator runs secondary checks against raw backend results.
type Evaluator struct {
	cfg     config.ValidationConfig
	bounds  map[string]config.BoundsConfig
	source  history.Source
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu   sync.Mutex
	day  time.Time
	used int
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

// New creates an Evaluator. source may be nil, in which case the
// historical cross-reference check is skipped.
func New(cfg config.ValidationConfig, source history.Source, logger *zap.Logger, m *metrics.Metrics, opts ...Option) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	bounds := make(map[string]config.BoundsConfig, len(cfg.Bounds))
	for _, b := range cfg.Bounds {
		bounds[b.QueryType] = b
	}
	e := &Evaluator{
		cfg:     cfg,
		bounds:  bounds,
		source:  source,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate runs the secondary check for one raw result. It never blocks
// the response path: once the daily budget is spent, results come back
// flagged unvalidated instead of waiting for the next window.
func (e *Evaluator) Evaluate(ctx context.Context, req models.PredictionRequest, queryType string, raw models.RawResult) models.EvaluationResult {
	if !e.cfg.Enabled {
		return e.finish(models.EvaluationResult{
			Verdict:     models.VerdictUnvalidated,
			Explanation: "validation disabled",
		})
	}
	if !e.consumeBudget() {
		return e.finish(models.EvaluationResult{
			Verdict:     models.VerdictUnvalidated,
			Explanation: "daily evaluation budget exhausted",
		})
	}

	confidence := 0.95
	severity := models.Severity("")
	var notes []string

	if b, ok := e.bounds[queryType]; ok {
		switch {
		case raw.Value < b.HardMin || raw.Value > b.HardMax:
			e.metrics.Validation(string(models.VerdictDisagree))
			return models.EvaluationResult{
				Verdict:    models.VerdictDisagree,
				Confidence: 0.05,
				Anomaly:    true,
				Severity:   models.SeverityHigh,
				Explanation: fmt.Sprintf("value %.4g outside domain bounds [%.4g, %.4g]",
					raw.Value, b.HardMin, b.HardMax),
			}
		case raw.Value < b.SoftMin || raw.Value > b.SoftMax:
			confidence -= 0.35
			severity = models.SeverityMedium
			notes = append(notes, fmt.Sprintf("value %.4g outside expected range [%.4g, %.4g]",
				raw.Value, b.SoftMin, b.SoftMax))
		default:
			notes = append(notes, "within domain bounds")
		}
	}

	if drift, ok := e.historicalDrift(ctx, req, queryType, raw.Value); ok {
		switch {
		case drift > driftHigh:
			confidence -= 0.40
			severity = maxSeverity(severity, models.SeverityMedium)
			notes = append(notes, fmt.Sprintf("deviates %.0f%% from recent history", drift*100))
		case drift > driftMedium:
			confidence -= 0.20
			severity = maxSeverity(severity, models.SeverityLow)
			notes = append(notes, fmt.Sprintf("deviates %.0f%% from recent history", drift*100))
		default:
			notes = append(notes, "consistent with recent history")
		}
	}

	if confidence < 0 {
		confidence = 0
	}
	result := models.EvaluationResult{
		Verdict:     verdictFor(confidence),
		Confidence:  confidence,
		Anomaly:     severity != "",
		Severity:    severity,
		Explanation: strings.Join(notes, "; "),
	}
	return e.finish(result)
}

// BudgetRemaining reports how many secondary checks are left in the
// current UTC day; -1 means unlimited.
func (e *Evaluator) BudgetRemaining() int {
	if e.cfg.DailyBudget <= 0 {
		return -1
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rollDay()
	remaining := e.cfg.DailyBudget - e.used
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// consumeBudget reserves one check from today's budget, reporting false
// once the budget is spent.
func (e *Evaluator) consumeBudget() bool {
	if e.cfg.DailyBudget <= 0 {
		return true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rollDay()
	if e.used >= e.cfg.DailyBudget {
		return false
	}
	e.used++
	return true
}

// rollDay resets the counter when the UTC day changes. Caller holds e.mu.
func (e *Evaluator) rollDay() {
	now := e.now().UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if !day.Equal(e.day) {
		e.day = day
		e.used = 0
	}
}

// historicalDrift returns the relative deviation of value from the mean
// of recent observations for the request's first symbol. The second
// return is false when no history is available.
func (e *Evaluator) historicalDrift(ctx context.Context, req models.PredictionRequest, queryType string, value float64) (float64, bool) {
	if e.source == nil || len(req.Symbols) == 0 {
		return 0, false
	}
	since := e.now().Add(-e.cfg.HistoryWindow)
	obs, err := e.source.Recent(ctx, req.Symbols[0], queryType, since)
	if err != nil {
		e.logger.Warn("history lookup failed, skipping cross-reference",
			zap.String("symbol", req.Symbols[0]),
			zap.Error(err))
		return 0, false
	}
	if len(obs) == 0 {
		return 0, false
	}

	var sum float64
	for _, o := range obs {
		sum += o.Value
	}
	mean := sum / float64(len(obs))
	denom := math.Abs(mean)
	if denom < 1e-9 {
		denom = 1e-9
	}
	return math.Abs(value-mean) / denom, true
}

func (e *Evaluator) finish(r models.EvaluationResult) models.EvaluationResult {
	e.metrics.Validation(string(r.Verdict))
	return r
}

func verdictFor(confidence float64) models.Verdict {
	switch {
	case confidence >= 0.8:
		return models.VerdictAgree
	case confidence >= 0.55:
		return models.VerdictPartiallyAgree
	case confidence >= 0.3:
		return models.VerdictUncertain
	default:
		return models.VerdictDisagree
	}
}

func maxSeverity(a, b models.Severity) models.Severity {
	rank := map[models.Severity]int{"": 0, models.SeverityLow: 1, models.SeverityMedium: 2, models.SeverityHigh: 3}
	if rank[a] >= rank[b] {
		return a
	}
	return b
}
