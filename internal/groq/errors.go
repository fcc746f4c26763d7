package groq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mnemic/groqnode/pkg/llm"
)

// statusError represents a non-2xx HTTP response from the API.
type statusError struct {
	StatusCode int
	Type       string
	Code       string
	Message    string
	RetryAfter time.Duration
}

func (e *statusError) Error() string {
	return fmt.Sprintf("groq: %d %s: %s", e.StatusCode, e.Type, e.Message)
}

// mapError translates API and network errors into typed llm.ProviderError values.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var pe *llm.ProviderError
	if errors.As(err, &pe) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return llm.NewProviderError(llm.ErrCodeTimeout, 0, "request timed out or cancelled", err)
	}

	var se *statusError
	if errors.As(err, &se) {
		lower := strings.ToLower(se.Message)
		code := llm.ErrCodeInvalidRequest
		switch {
		case se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden:
			code = llm.ErrCodeAuthentication
		case se.StatusCode == http.StatusTooManyRequests:
			code = llm.ErrCodeRateLimit
		case se.StatusCode == http.StatusNotFound && strings.Contains(lower, "model"):
			code = llm.ErrCodeModelNotFound
		case se.Code == "context_length_exceeded" || strings.Contains(lower, "context length"):
			code = llm.ErrCodeContextLength
		case se.StatusCode >= http.StatusInternalServerError:
			code = llm.ErrCodeServerError
		}
		return llm.NewProviderError(code, se.StatusCode, se.Message, err)
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return llm.NewProviderError(llm.ErrCodeTimeout, 0, "request timed out", err)
	}

	return llm.NewProviderError(llm.ErrCodeUnreachable, 0, "groq server unreachable", err)
}

// parseStatusError reads an error response body. The body is capped to
// avoid unbounded reads from a misbehaving proxy.
func parseStatusError(resp *http.Response) *statusError {
	se := &statusError{
		StatusCode: resp.StatusCode,
		Message:    resp.Status,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return se
	}

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &errResp); err != nil {
		return se
	}

	if errResp.Error.Message != "" {
		se.Message = errResp.Error.Message
	}
	se.Type = errResp.Error.Type
	se.Code = errResp.Error.Code
	return se
}

// parseRetryAfter accepts the delay-seconds form of Retry-After.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

func retryAfterOf(err error) time.Duration {
	var se *statusError
	if errors.As(err, &se) {
		return se.RetryAfter
	}
	return 0
}
