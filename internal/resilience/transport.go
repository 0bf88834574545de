package resilience

import (
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// =============================================================================
// Resilient Transport
// =============================================================================

// Transport is an http.RoundTripper that retries transient failures and
// trips a circuit breaker when the upstream keeps failing.
type Transport struct {
	base           http.RoundTripper
	retryConfig    RetryConfig
	circuitBreaker *CircuitBreaker

	totalRequests   int64
	successRequests int64
	failedRequests  int64
	retriedRequests int64
}

// TransportConfig configures a Transport.
type TransportConfig struct {
	// Base is the underlying round tripper (http.DefaultTransport when nil)
	Base                 http.RoundTripper
	RetryConfig          RetryConfig
	CircuitBreakerConfig CircuitBreakerConfig
}

// NewTransport creates a resilient round tripper.
func NewTransport(cfg TransportConfig) *Transport {
	base := cfg.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{
		base:           base,
		retryConfig:    cfg.RetryConfig,
		circuitBreaker: NewCircuitBreaker(cfg.CircuitBreakerConfig),
	}
}

// HTTPError is returned when retries are exhausted on a retryable status.
type HTTPError struct {
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// RoundTrip executes the request with retry and circuit breaker. Requests with
// a body are only retried when GetBody is set.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	atomic.AddInt64(&t.totalRequests, 1)

	if err := t.circuitBreaker.Allow(); err != nil {
		atomic.AddInt64(&t.failedRequests, 1)
		return nil, err
	}

	var lastErr error
	var resp *http.Response

	for attempt := 0; attempt <= t.retryConfig.MaxRetries; attempt++ {
		if attempt > 0 {
			if req.Body != nil && req.GetBody == nil {
				break
			}
			atomic.AddInt64(&t.retriedRequests, 1)

			timer := time.NewTimer(t.retryConfig.Backoff(attempt))
			select {
			case <-req.Context().Done():
				timer.Stop()
				atomic.AddInt64(&t.failedRequests, 1)
				return nil, req.Context().Err()
			case <-timer.C:
			}

			next := req.Clone(req.Context())
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("rewind request body: %w", err)
				}
				next.Body = body
			}
			req = next
		}

		resp, lastErr = t.base.RoundTrip(req)
		if lastErr != nil {
			if IsRetryableNetError(lastErr) {
				continue
			}
			t.circuitBreaker.RecordFailure(lastErr)
			atomic.AddInt64(&t.failedRequests, 1)
			return nil, lastErr
		}

		if t.retryConfig.IsRetryableStatus(resp.StatusCode) && attempt < t.retryConfig.MaxRetries {
			lastErr = &HTTPError{StatusCode: resp.StatusCode}
			resp.Body.Close()
			continue
		}
		if resp.StatusCode >= 500 {
			// Hand the final 5xx to the caller but count it against the breaker.
			t.circuitBreaker.RecordFailure(&HTTPError{StatusCode: resp.StatusCode})
			atomic.AddInt64(&t.failedRequests, 1)
			return resp, nil
		}

		t.circuitBreaker.RecordSuccess()
		atomic.AddInt64(&t.successRequests, 1)
		return resp, nil
	}

	t.circuitBreaker.RecordFailure(lastErr)
	atomic.AddInt64(&t.failedRequests, 1)
	return nil, lastErr
}

// Metrics returns request counters.
func (t *Transport) Metrics() map[string]int64 {
	return map[string]int64{
		"total_requests":   atomic.LoadInt64(&t.totalRequests),
		"success_requests": atomic.LoadInt64(&t.successRequests),
		"failed_requests":  atomic.LoadInt64(&t.failedRequests),
		"retried_requests": atomic.LoadInt64(&t.retriedRequests),
	}
}

// CircuitState returns the current circuit breaker state.
func (t *Transport) CircuitState() CircuitState {
	return t.circuitBreaker.State()
}
