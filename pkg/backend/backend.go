// Package backend defines the prediction backend contract and errors.
package backend

import (
	"context"
	"errors"

	"github.com/predyx-ai/predyx/pkg/models"
)

// Failure kinds a backend call can surface. All three trigger fallback
// routing; anything else is surfaced as-is.
var (
	ErrTimeout     = errors.New("backend timeout")
	ErrRateLimited = errors.New("backend rate limited")
	ErrUnavailable = errors.New("backend unavailable")
)

// Retryable reports whether an error should advance the router to the
// next fallback backend.
func Retryable(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrUnavailable)
}

// Adapter is a client for one prediction backend (an LLM provider or a
// fine-tuned model server). Call must honor ctx cancellation and return
// within the adapter's configured timeout.
type Adapter interface {
	ID() string
	Call(ctx context.Context, req models.PredictionRequest) (models.RawResult, error)
}

// Registry maps backend ids to adapters.
type Registry map[string]Adapter

// Add registers an adapter under its id.
func (r Registry) Add(a Adapter) {
	r[a.ID()] = a
}

// Get returns the adapter for id, or nil.
func (r Registry) Get(id string) Adapter {
	return r[id]
}
