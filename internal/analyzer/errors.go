package analyzer

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sells-group/reviewbench/internal/model"
	"github.com/sells-group/reviewbench/internal/resilience"
	"github.com/sells-group/reviewbench/pkg/anthropic"
)

// CallError carries the failure classification for one analyzer call.
// Every error leaving this package is a CallError so callers never have to
// re-derive the taxonomy from wrapped causes.
type CallError struct {
	Kind model.FailureKind
	Err  error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("analyzer: %s: %v", e.Kind, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// NewCallError wraps err with an explicit failure kind.
func NewCallError(kind model.FailureKind, err error) *CallError {
	return &CallError{Kind: kind, Err: err}
}

// KindOf maps an error to its failure kind. Errors that were never
// classified default to transport, the retryable catch-all.
func KindOf(err error) model.FailureKind {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return classify(err)
}

// classify derives a failure kind from a raw client error.
func classify(err error) model.FailureKind {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return model.FailureTimeout
	case errors.Is(err, context.Canceled):
		// Only the run-level deadline cancels the parent context.
		return model.FailureRunTimeout
	case errors.Is(err, resilience.ErrCircuitOpen):
		return model.FailureRateLimited
	}
	switch code := anthropic.StatusCode(err); {
	case code == http.StatusTooManyRequests:
		return model.FailureRateLimited
	case code == http.StatusRequestTimeout:
		return model.FailureTimeout
	case code >= 500:
		return model.FailureTransport
	case code >= 400:
		// Client-side request errors will not succeed on retry.
		return model.FailureInvalidResponse
	}
	return model.FailureTransport
}

// Retryable reports whether a failure kind may succeed on a later attempt.
// Timeouts already consumed their full per-call budget and invalid
// responses are deterministic, so neither is retried.
func Retryable(kind model.FailureKind) bool {
	return kind == model.FailureRateLimited || kind == model.FailureTransport
}
