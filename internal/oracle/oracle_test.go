package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPOracle_Invoke_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Error("expected test-key authorization")
		}

		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body["model"] != "test-model" {
			t.Errorf("expected model test-model, got %v", body["model"])
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"x\":1}"}}]}`))
	}))
	defer server.Close()

	o := NewHTTPOracle(server.URL, "test-key", "test-model", 5*time.Second)

	resp, err := o.Invoke(context.Background(), "sys", "user", Options{Temperature: 0.2, StructuredOutput: true, RequiredKeys: []string{"x"}})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if resp.Text != `{"x":1}` {
		t.Errorf("expected raw json text, got %q", resp.Text)
	}
	if resp.LatencyMs < 0 {
		t.Errorf("expected non-negative latency, got %d", resp.LatencyMs)
	}
}

func TestHTTPOracle_Invoke_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom"}}`))
	}))
	defer server.Close()

	o := NewHTTPOracle(server.URL, "", "m", 2*time.Second)
	_, err := o.Invoke(context.Background(), "", "user", Options{})
	if !errors.Is(err, ErrOracleUnavailable) {
		t.Fatalf("expected ErrOracleUnavailable, got %v", err)
	}
}

func TestHTTPOracle_Invoke_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"late"}}]}`))
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	o := NewHTTPOracle(server.URL, "", "m", time.Second)
	_, err := o.Invoke(ctx, "", "user", Options{})
	if !errors.Is(err, ErrOracleTimeout) {
		t.Fatalf("expected ErrOracleTimeout, got %v", err)
	}
}

func TestHTTPOracle_Invoke_EmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	o := NewHTTPOracle(server.URL, "", "m", time.Second)
	_, err := o.Invoke(context.Background(), "", "user", Options{})
	if !errors.Is(err, ErrOracleUnavailable) {
		t.Fatalf("expected ErrOracleUnavailable for empty choices, got %v", err)
	}
}

func TestHTTPOracle_Ping(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("expected /models path, got %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	o := NewHTTPOracle(server.URL, "", "m", time.Second)
	if err := o.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
}

func TestHTTPOracle_Ping_Unavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	o := NewHTTPOracle(server.URL, "", "m", time.Second)
	if err := o.Ping(context.Background()); !errors.Is(err, ErrOracleUnavailable) {
		t.Fatalf("expected ErrOracleUnavailable, got %v", err)
	}
}

func TestNew_NoProviderConfigured(t *testing.T) {
	_, err := New(context.Background(), "", "", "", "", time.Second)
	if err == nil {
		t.Fatal("expected error when no provider is configured")
	}
}

func TestNew_PrefersHTTPEndpointWhenNoGeminiKey(t *testing.T) {
	client, err := New(context.Background(), "http://example.invalid", "m", "", "key", time.Second)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, ok := client.(*HTTPOracle); !ok {
		t.Errorf("expected *HTTPOracle, got %T", client)
	}
}
