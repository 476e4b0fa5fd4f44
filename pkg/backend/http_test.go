package backend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/predyx-ai/predyx/pkg/models"
)

func testRequest() models.PredictionRequest {
	return models.PredictionRequest{Symbols: []string{"AAPL"}, QueryType: "payout_rating"}
}

func TestCallSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing bearer auth, got %q", r.Header.Get("Authorization"))
		}
		w.Write([]byte(`{"value": 4.2, "label": "buy"}`))
	}))
	defer srv.Close()

	a := NewHTTP(Config{Name: "ml1", Kind: "model-server", URL: srv.URL, APIKey: "sk-test"})
	raw, err := a.Call(context.Background(), testRequest())
	if err != nil {
		t.Fatal(err)
	}
	if raw.Value != 4.2 || raw.Label != "buy" {
		t.Errorf("unexpected result: %+v", raw)
	}
}

func TestCallRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	a := NewHTTP(Config{Name: "llm1", URL: srv.URL})
	_, err := a.Call(context.Background(), testRequest())
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected ErrRateLimited, got %v", err)
	}
	if !Retryable(err) {
		t.Error("rate limit should be retryable")
	}
}

func TestCall5xxUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	a := NewHTTP(Config{Name: "ml1", URL: srv.URL})
	_, err := a.Call(context.Background(), testRequest())
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestCallTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	a := NewHTTP(Config{Name: "slow", URL: srv.URL, Timeout: 20 * time.Millisecond})
	_, err := a.Call(context.Background(), testRequest())
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}

func TestCall4xxNotRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	a := NewHTTP(Config{Name: "ml1", URL: srv.URL})
	_, err := a.Call(context.Background(), testRequest())
	if err == nil {
		t.Fatal("expected error")
	}
	if Retryable(err) {
		t.Error("client errors must not trigger fallback")
	}
}

func TestCallUnreachableHost(t *testing.T) {
	a := NewHTTP(Config{Name: "down", URL: "http://127.0.0.1:1", Timeout: time.Second})
	_, err := a.Call(context.Background(), testRequest())
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}
