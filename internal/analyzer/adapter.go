package analyzer

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/sells-group/reviewbench/internal/model"
	"github.com/sells-group/reviewbench/internal/resilience"
)

// AdapterConfig tunes the resilience chain around analyzer calls.
type AdapterConfig struct {
	// RequestsPerSecond is the sustained call rate shared by all workers.
	RequestsPerSecond float64
	// Burst is the limiter's bucket size.
	Burst int
	// CallTimeout bounds each individual analyzer call.
	CallTimeout time.Duration
	// Retry governs re-attempts for rate_limited and transport failures.
	Retry resilience.RetryConfig
	// Breaker trips when the upstream service fails repeatedly.
	Breaker resilience.CircuitBreakerConfig
}

// DefaultAdapterConfig returns the adapter settings used for real runs.
func DefaultAdapterConfig() AdapterConfig {
	return AdapterConfig{
		RequestsPerSecond: 2,
		Burst:             4,
		CallTimeout:       120 * time.Second,
		Retry:             resilience.DefaultRetryConfig(),
		Breaker:           resilience.DefaultCircuitBreakerConfig(),
	}
}

// Adapter wraps an Analyzer with the full resilience chain: a shared rate
// limiter, a circuit breaker, a per-call timeout, and bounded retries.
// The limiter is the only coordination point every worker touches; its
// Wait queues waiters fairly, so no worker can be starved by the others.
type Adapter struct {
	inner   Analyzer
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
	timeout time.Duration
	retry   resilience.RetryConfig
}

// NewAdapter wraps inner with the configured resilience chain.
func NewAdapter(inner Analyzer, cfg AdapterConfig) *Adapter {
	retry := cfg.Retry
	retry.ShouldRetry = func(err error) bool {
		return Retryable(KindOf(err))
	}
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("anthropic", "analyze")
	}

	breaker := cfg.Breaker
	if breaker.ShouldTrip == nil {
		// Only upstream faults count against the breaker; a malformed
		// response or an exhausted deadline says nothing about service
		// availability for the next call.
		breaker.ShouldTrip = func(err error) bool {
			kind := KindOf(err)
			return kind == model.FailureTransport || kind == model.FailureRateLimited
		}
	}

	return &Adapter{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		breaker: resilience.NewCircuitBreaker(breaker),
		timeout: cfg.CallTimeout,
		retry:   retry,
	}
}

// Analyze runs one analyzer call through the resilience chain and folds
// the result into an Outcome. It never panics and never returns an
// unclassified failure; every error path maps to a failure kind.
//
// Each attempt acquires its own rate-limiter token, so retries queue
// behind other workers instead of jumping the shared budget.
func (a *Adapter) Analyze(ctx context.Context, sample string, cfg model.VariantConfig) model.Outcome {
	findings, err := resilience.DoVal(ctx, a.retry, func(ctx context.Context) ([]model.Finding, error) {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, NewCallError(classify(err), err)
		}
		if err := a.breaker.Allow(); err != nil {
			return nil, NewCallError(model.FailureRateLimited, err)
		}

		callCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()

		findings, err := a.inner.Analyze(callCtx, sample, cfg)
		a.breaker.Record(err)
		if err != nil {
			return nil, err
		}
		return findings, nil
	})
	if err != nil {
		return model.Outcome{Failure: &model.Failure{
			Kind:    KindOf(err),
			Message: err.Error(),
		}}
	}
	return model.Outcome{Findings: findings}
}

// BreakerState exposes the circuit state for status reporting.
func (a *Adapter) BreakerState() resilience.CircuitState {
	return a.breaker.State()
}
