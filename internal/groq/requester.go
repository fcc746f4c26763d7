// Package groq implements llm.Completer against Groq's OpenAI-compatible
// chat completions API.
package groq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mnemic/groqnode/pkg/llm"
	"go.uber.org/zap"
)

const (
	chatPath   = "/openai/v1/chat/completions"
	modelsPath = "/openai/v1/models"
)

// Compile-time interface guards.
var (
	_ llm.Completer      = (*Requester)(nil)
	_ llm.HealthReporter = (*Requester)(nil)
)

// Requester sends chat completions with bounded retries.
//
// Retry policy: 429, 5xx, timeouts and network faults are retried until the
// request's attempt budget is spent. Any other 4xx is terminal because the
// same payload will be rejected again. Waits grow exponentially from
// RetryDelay, are capped at MaxRetryDelay, and a 429 Retry-After header
// takes precedence when it is longer.
type Requester struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	cfg        Config
	logger     *zap.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// New creates a Requester. An empty API key is rejected.
func New(cfg Config, logger *zap.Logger) (*Requester, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("groq: api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	return &Requester{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		logger:     logger,
		sleep:      sleepCtx,
	}, nil
}

// Send performs the completion, retrying per the Requester's policy. It never
// returns an error: failures are reported with Success=false.
func (r *Requester) Send(ctx context.Context, req llm.Request) llm.Result {
	maxAttempts := req.MaxRetries
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	body, err := json.Marshal(newChatRequest(req))
	if err != nil {
		resultsTotal.WithLabelValues("failed").Inc()
		return failure(fmt.Errorf("marshal chat request: %w", err), 0)
	}

	r.logger.Debug("sending completion request",
		zap.String("model", req.Model),
		zap.Int("messages", len(req.Messages)),
		zap.Int("max_attempts", maxAttempts),
		zap.Bool("json_mode", req.JSONMode),
	)

	var lastErr error
	attempts := 0
	for attempts < maxAttempts {
		if attempts > 0 {
			// Cancelled while waiting: report the last real attempt.
			if err := r.sleep(ctx, r.backoff(attempts, lastErr)); err != nil {
				break
			}
		}
		attempts++

		start := time.Now()
		resp, status, err := r.post(ctx, body)
		attemptDuration.Observe(time.Since(start).Seconds())
		attemptsTotal.WithLabelValues(strconv.Itoa(status)).Inc()

		if err == nil {
			var content string
			if len(resp.Choices) > 0 {
				content = resp.Choices[0].Message.Content
			}
			resultsTotal.WithLabelValues("success").Inc()
			r.logger.Debug("completion succeeded",
				zap.String("model", resp.Model),
				zap.Int("attempt", attempts),
				zap.Int("total_tokens", resp.Usage.TotalTokens),
			)
			return llm.Result{
				Text:       content,
				Success:    true,
				StatusCode: strconv.Itoa(status),
				Attempts:   attempts,
				Usage: llm.Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				},
			}
		}

		lastErr = err
		retryable := llm.IsRetryable(err)
		r.logger.Warn("completion attempt failed",
			zap.Int("attempt", attempts),
			zap.Int("max_attempts", maxAttempts),
			zap.Int("status", status),
			zap.Bool("retryable", retryable),
			zap.Error(err),
		)
		if !retryable || ctx.Err() != nil {
			break
		}
	}

	resultsTotal.WithLabelValues("failed").Inc()
	return failure(lastErr, attempts)
}

// Heartbeat checks whether the API is reachable with the configured key.
func (r *Requester) Heartbeat(ctx context.Context) error {
	_, err := r.ListModels(ctx)
	return err
}

// ListModels returns the model IDs served to this key.
func (r *Requester) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+modelsPath, http.NoBody)
	if err != nil {
		return nil, mapError(err)
	}
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, mapError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, mapError(parseStatusError(resp))
	}

	var result listResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode list response: %w", err)
	}

	ids := make([]string, len(result.Data))
	for i := range result.Data {
		ids[i] = result.Data[i].ID
	}
	return ids, nil
}

// post sends one attempt. The returned status is 0 when no response arrived.
func (r *Requester) post(ctx context.Context, body []byte) (*chatResponse, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+chatPath, bytes.NewReader(body))
	if err != nil {
		return nil, 0, mapError(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, 0, mapError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.StatusCode, mapError(parseStatusError(resp))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, resp.StatusCode, llm.NewProviderError(llm.ErrCodeServerError, resp.StatusCode, "malformed completion response", err)
	}
	return &out, resp.StatusCode, nil
}

// backoff returns the wait before retry number n (1-based).
func (r *Requester) backoff(n int, lastErr error) time.Duration {
	d := r.cfg.RetryDelay
	for i := 1; i < n; i++ {
		d *= 2
		if r.cfg.MaxRetryDelay > 0 && d >= r.cfg.MaxRetryDelay {
			break
		}
	}
	if ra := retryAfterOf(lastErr); ra > d {
		d = ra
	}
	if r.cfg.MaxRetryDelay > 0 && d > r.cfg.MaxRetryDelay {
		d = r.cfg.MaxRetryDelay
	}
	return d
}

func failure(err error, attempts int) llm.Result {
	msg := "request failed"
	if err != nil {
		msg = err.Error()
	}
	return llm.Result{
		Text:       "Error: " + msg,
		Success:    false,
		StatusCode: strconv.Itoa(llm.StatusCodeOf(err)),
		Attempts:   attempts,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// --- Groq REST API types (internal) ---

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens"`
	TopP           float64         `json:"top_p"`
	Seed           int64           `json:"seed"`
	Stop           string          `json:"stop,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type listResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

func newChatRequest(req llm.Request) chatRequest {
	msgs := make([]chatMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = chatMessage{Role: m.Role, Content: m.Content}
	}
	out := chatRequest{
		Model:       req.Model,
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		TopP:        req.TopP,
		Seed:        req.Seed,
		Stop:        req.Stop,
	}
	if req.JSONMode {
		out.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	return out
}
