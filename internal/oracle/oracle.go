// Package oracle implements the single unreliable LLM invocation primitive
// that every higher-level component (MAKER voting, calibration, scoping)
// calls through. Oracle never retries and never interprets its own output
// — that is the guard's and the voter's job. Modeled as a capability
// interface with swappable concrete providers, the way an LLM client
// interface with multiple backend implementations typically is.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/http2"
	"google.golang.org/genai"

	"revai/internal/logging"
)

// Sentinel errors surfaced to callers.
var (
	// ErrOracleUnavailable means the oracle could not be reached at all
	// (connection refused, DNS failure, readiness probe failed).
	ErrOracleUnavailable = errors.New("oracle unavailable")
	// ErrOracleTimeout means the call exceeded its deadline.
	ErrOracleTimeout = errors.New("oracle timeout")
)

// Options configures one Invoke call: temperature, whether the provider
// should enforce structured output, and the keys a structured response
// must contain.
type Options struct {
	Temperature           float64
	StructuredOutput      bool
	RequiredKeys          []string
}

// Response is the result of one oracle call: the raw text and the measured
// latency.
type Response struct {
	Text      string
	LatencyMs int64
}

// Client is the oracle invocation contract every backend implements.
// Implementations must be safe for concurrent use by multiple workers.
type Client interface {
	// Invoke sends one system/user prompt pair and returns the raw model
	// text. It never parses or validates that text — see internal/guard.
	Invoke(ctx context.Context, systemPrompt, userPrompt string, opts Options) (Response, error)
	// Ping performs a cheap readiness probe, used by `revai doctor`.
	Ping(ctx context.Context) error
	// Name identifies the backend for logging and trace metadata.
	Name() string
}

func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrOracleTimeout, err)
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrOracleTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
}

// ---------------------------------------------------------------------------
// HTTPOracle: a generic {model, temperature, format, messages} POST
// endpoint, generalized from a provider-specific request/retry/rate-limit
// shape to a provider-agnostic one.
// ---------------------------------------------------------------------------

// HTTPOracle talks to a generic chat-completions-shaped HTTP endpoint.
type HTTPOracle struct {
	endpoint   string
	apiKey     string
	model      string
	httpClient *http.Client

	mu          sync.Mutex
	lastRequest time.Time
	minInterval time.Duration
}

// NewHTTPOracle builds an HTTPOracle. timeout bounds every individual
// call; endpoint is the base URL of the chat-completions-shaped API.
func NewHTTPOracle(endpoint, apiKey, model string, timeout time.Duration) *HTTPOracle {
	transport := &http.Transport{}
	// Tune for many small, short-lived bodies to many concurrent module
	// workers rather than few long-lived streaming connections.
	_ = http2.ConfigureTransport(transport)
	transport.MaxIdleConnsPerHost = 64
	transport.IdleConnTimeout = 90 * time.Second

	return &HTTPOracle{
		endpoint:    strings.TrimSuffix(endpoint, "/"),
		apiKey:      apiKey,
		model:       model,
		httpClient:  &http.Client{Timeout: timeout, Transport: transport},
		minInterval: 0,
	}
}

type httpMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type httpResponseFormat struct {
	Type string `json:"type"` // "json_object"
}

type httpRequest struct {
	Model          string              `json:"model"`
	Messages       []httpMessage       `json:"messages"`
	Temperature    float64             `json:"temperature"`
	MaxTokens      int                 `json:"max_tokens,omitempty"`
	ResponseFormat *httpResponseFormat `json:"response_format,omitempty"`
}

type httpChoice struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

type httpResponse struct {
	Choices []httpChoice `json:"choices"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Name implements Client.
func (o *HTTPOracle) Name() string { return "http:" + o.model }

// Invoke implements Client.
func (o *HTTPOracle) Invoke(ctx context.Context, systemPrompt, userPrompt string, opts Options) (Response, error) {
	log := logging.Get(logging.CategoryOracle)

	messages := make([]httpMessage, 0, 2)
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, httpMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, httpMessage{Role: "user", Content: userPrompt})

	reqBody := httpRequest{
		Model:       o.model,
		Messages:    messages,
		Temperature: opts.Temperature,
	}
	if opts.StructuredOutput {
		reqBody.ResponseFormat = &httpResponseFormat{Type: "json_object"}
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return Response{}, fmt.Errorf("oracle: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("oracle: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	start := time.Now()
	resp, err := o.httpClient.Do(req)
	latency := time.Since(start)
	if err != nil {
		log.Warn("http oracle call failed after %s: %v", latency, err)
		return Response{}, classifyErr(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, classifyErr(err)
	}

	if resp.StatusCode != http.StatusOK {
		return Response{}, fmt.Errorf("%w: status %d: %s", ErrOracleUnavailable, resp.StatusCode, string(body))
	}

	var parsed httpResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Response{}, fmt.Errorf("oracle: parse response: %w", err)
	}
	if parsed.Error != nil {
		return Response{}, fmt.Errorf("%w: %s", ErrOracleUnavailable, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return Response{}, fmt.Errorf("%w: no choices returned", ErrOracleUnavailable)
	}

	log.Debug("http oracle call completed in %s (%d tokens requested keys=%v)", latency, len(opts.RequiredKeys), opts.RequiredKeys)

	return Response{
		Text:      strings.TrimSpace(parsed.Choices[0].Message.Content),
		LatencyMs: latency.Milliseconds(),
	}, nil
}

// Ping implements Client's readiness probe as a lightweight GET against the
// endpoint's model-listing path.
func (o *HTTPOracle) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.endpoint+"/models", nil)
	if err != nil {
		return fmt.Errorf("oracle: build ping request: %w", err)
	}
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return classifyErr(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status %d", ErrOracleUnavailable, resp.StatusCode)
	}
	return nil
}

// ---------------------------------------------------------------------------
// GeminiOracle: backed by google.golang.org/genai, using ResponseMIMEType
// for structured output enforcement, generalized from an embeddings client
// construction pattern to text generation.
// ---------------------------------------------------------------------------

// GeminiOracle talks to the Gemini API via the genai SDK.
type GeminiOracle struct {
	client *genai.Client
	model  string
}

// NewGeminiOracle builds a GeminiOracle for the given model (e.g.
// "gemini-2.0-flash").
func NewGeminiOracle(ctx context.Context, apiKey, model string) (*GeminiOracle, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("oracle: gemini api key required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("oracle: create genai client: %w", err)
	}
	return &GeminiOracle{client: client, model: model}, nil
}

// Name implements Client.
func (o *GeminiOracle) Name() string { return "gemini:" + o.model }

// Invoke implements Client.
func (o *GeminiOracle) Invoke(ctx context.Context, systemPrompt, userPrompt string, opts Options) (Response, error) {
	log := logging.Get(logging.CategoryOracle)

	contents := []*genai.Content{genai.NewContentFromText(userPrompt, genai.RoleUser)}

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(opts.Temperature)),
	}
	if strings.TrimSpace(systemPrompt) != "" {
		cfg.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}
	if opts.StructuredOutput {
		cfg.ResponseMIMEType = "application/json"
	}

	start := time.Now()
	result, err := o.client.Models.GenerateContent(ctx, o.model, contents, cfg)
	latency := time.Since(start)
	if err != nil {
		log.Warn("gemini oracle call failed after %s: %v", latency, err)
		return Response{}, classifyErr(err)
	}

	text := result.Text()
	if strings.TrimSpace(text) == "" {
		return Response{}, fmt.Errorf("%w: empty gemini response", ErrOracleUnavailable)
	}

	log.Debug("gemini oracle call completed in %s", latency)

	return Response{Text: strings.TrimSpace(text), LatencyMs: latency.Milliseconds()}, nil
}

// Ping implements Client's readiness probe via Models.List.
func (o *GeminiOracle) Ping(ctx context.Context) error {
	pager := o.client.Models.List(ctx, &genai.ListModelsConfig{PageSize: 1})
	if pager == nil {
		return fmt.Errorf("%w: model listing unavailable", ErrOracleUnavailable)
	}
	if _, err := pager.Page(ctx); err != nil {
		return classifyErr(err)
	}
	return nil
}
