package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/predyx-ai/predyx/pkg/models"
)

// Config describes one upstream prediction backend.
type Config struct {
	Name string `yaml:"name"`
	// Kind is "llm" or "model-server"; it controls only how the adapter
	// authenticates, the wire contract is the same JSON POST either way.
	Kind          string        `yaml:"kind"`
	URL           string        `yaml:"url"`
	APIKey        string        `yaml:"api_key"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxConcurrent int64         `yaml:"max_concurrent"`
}

// HTTPAdapter calls a backend over JSON-on-HTTP with a per-call timeout.
type HTTPAdapter struct {
	cfg    Config
	client *http.Client
}

// NewHTTP creates an adapter for the given backend.
func NewHTTP(cfg Config) *HTTPAdapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &HTTPAdapter{
		cfg:    cfg,
		client: &http.Client{},
	}
}

func (a *HTTPAdapter) ID() string { return a.cfg.Name }

// Call posts the request and maps transport and status failures onto the
// backend error taxonomy.
func (a *HTTPAdapter) Call(ctx context.Context, req models.PredictionRequest) (models.RawResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return models.RawResult{}, fmt.Errorf("encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return models.RawResult{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.cfg.APIKey != "" {
		switch a.cfg.Kind {
		case "llm":
			httpReq.Header.Set("x-api-key", a.cfg.APIKey)
		default:
			httpReq.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
		}
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return models.RawResult{}, fmt.Errorf("%w: %s after %s", ErrTimeout, a.cfg.Name, a.cfg.Timeout)
		}
		return models.RawResult{}, fmt.Errorf("%w: %s: %v", ErrUnavailable, a.cfg.Name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.RawResult{}, fmt.Errorf("%w: %s: read response: %v", ErrUnavailable, a.cfg.Name, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return models.RawResult{}, fmt.Errorf("%w: %s", ErrRateLimited, a.cfg.Name)
	case resp.StatusCode == http.StatusRequestTimeout:
		return models.RawResult{}, fmt.Errorf("%w: %s", ErrTimeout, a.cfg.Name)
	case resp.StatusCode >= 500:
		return models.RawResult{}, fmt.Errorf("%w: %s returned %d", ErrUnavailable, a.cfg.Name, resp.StatusCode)
	case resp.StatusCode >= 400:
		return models.RawResult{}, fmt.Errorf("backend %s rejected request: %d", a.cfg.Name, resp.StatusCode)
	}

	var raw models.RawResult
	if err := json.Unmarshal(respBody, &raw); err != nil {
		// Not the structured contract; keep the body for the validator.
		raw = models.RawResult{Text: string(respBody)}
	}
	if raw.Payload == nil {
		raw.Payload = respBody
	}
	return raw, nil
}
