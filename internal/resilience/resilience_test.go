package resilience

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func fastRetry(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:           maxRetries,
		InitialBackoff:       time.Millisecond,
		MaxBackoff:           5 * time.Millisecond,
		BackoffMultiplier:    2.0,
		RetryableStatusCodes: []int{http.StatusServiceUnavailable},
	}
}

// =============================================================================
// Retry Tests
// =============================================================================

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()

	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.MaxRetries)
	}
	if cfg.InitialBackoff != 100*time.Millisecond {
		t.Errorf("InitialBackoff = %v, want 100ms", cfg.InitialBackoff)
	}
	if !cfg.IsRetryableStatus(http.StatusTooManyRequests) {
		t.Error("429 should be retryable")
	}
	if cfg.IsRetryableStatus(http.StatusBadRequest) {
		t.Error("400 should not be retryable")
	}
}

func TestStreamRetryConfig_Schedule(t *testing.T) {
	cfg := StreamRetryConfig()

	if cfg.MaxRetries+1 != 3 {
		t.Errorf("attempts = %d, want 3", cfg.MaxRetries+1)
	}
	if got := cfg.Backoff(1); got != time.Second {
		t.Errorf("Backoff(1) = %v, want 1s", got)
	}
	if got := cfg.Backoff(2); got != 2*time.Second {
		t.Errorf("Backoff(2) = %v, want 2s", got)
	}
}

func TestBackoff_CappedAtMax(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: time.Second, MaxBackoff: 3 * time.Second, BackoffMultiplier: 10}
	if got := cfg.Backoff(4); got != 3*time.Second {
		t.Errorf("Backoff(4) = %v, want 3s", got)
	}
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	var calls int
	err := Retry(context.Background(), fastRetry(3), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	var calls int
	err := Retry(context.Background(), fastRetry(2), func(ctx context.Context) error {
		calls++
		return errors.New("still failing")
	})

	if err == nil || err.Error() != "still failing" {
		t.Errorf("Retry() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetry_PermanentStops(t *testing.T) {
	sentinel := errors.New("bad request")
	var calls int
	err := Retry(context.Background(), fastRetry(5), func(ctx context.Context) error {
		calls++
		return Permanent(sentinel)
	})

	if !errors.Is(err, sentinel) {
		t.Errorf("Retry() error = %v, want sentinel", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastRetry(5)
	cfg.InitialBackoff = time.Hour
	cfg.MaxBackoff = time.Hour

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := Retry(ctx, cfg, func(ctx context.Context) error {
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Retry() error = %v, want context.Canceled", err)
	}
}

// =============================================================================
// CircuitBreaker Tests
// =============================================================================

func TestCircuitBreaker_OpenOnFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, SuccessThreshold: 2, Timeout: time.Minute})

	for i := 0; i < 3; i++ {
		cb.RecordFailure(errors.New("test error"))
	}

	if cb.State() != CircuitOpen {
		t.Errorf("State() = %v, want %v", cb.State(), CircuitOpen)
	}
	if err := cb.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Allow() error = %v, want ErrCircuitOpen", err)
	}
	if cb.LastError() == nil || cb.LastError().Error() != "test error" {
		t.Errorf("LastError() = %v", cb.LastError())
	}
}

func TestCircuitBreaker_HalfOpenThenClose(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, SuccessThreshold: 2, Timeout: time.Minute})
	now := time.Now()
	cb.now = func() time.Time { return now }

	cb.RecordFailure(errors.New("error 1"))
	cb.RecordFailure(errors.New("error 2"))

	now = now.Add(2 * time.Minute)
	if err := cb.Allow(); err != nil {
		t.Fatalf("Allow() error after timeout: %v", err)
	}
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("State() = %v, want %v", cb.State(), CircuitHalfOpen)
	}

	cb.RecordSuccess()
	cb.RecordSuccess()
	if cb.State() != CircuitClosed {
		t.Errorf("State() = %v, want %v", cb.State(), CircuitClosed)
	}
}

func TestCircuitBreaker_ReopenFromHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, SuccessThreshold: 2, Timeout: time.Minute})
	now := time.Now()
	cb.now = func() time.Time { return now }

	cb.RecordFailure(errors.New("error 1"))
	cb.RecordFailure(errors.New("error 2"))
	now = now.Add(2 * time.Minute)
	cb.Allow()

	cb.RecordFailure(errors.New("error in half-open"))

	if cb.State() != CircuitOpen {
		t.Errorf("State() = %v, want %v", cb.State(), CircuitOpen)
	}
}

func TestCircuitState_String(t *testing.T) {
	tests := map[CircuitState]string{
		CircuitClosed:    "closed",
		CircuitOpen:      "open",
		CircuitHalfOpen:  "half-open",
		CircuitState(99): "unknown",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	var mu sync.Mutex
	var transitions []string
	done := make(chan struct{}, 1)

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		Timeout:          time.Minute,
		OnStateChange: func(from, to CircuitState) {
			mu.Lock()
			transitions = append(transitions, from.String()+"->"+to.String())
			mu.Unlock()
			done <- struct{}{}
		},
	})

	cb.RecordFailure(errors.New("boom"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("OnStateChange not called")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 1 || transitions[0] != "closed->open" {
		t.Errorf("transitions = %v", transitions)
	}
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = cb.Allow()
			if i%2 == 0 {
				cb.RecordSuccess()
			} else {
				cb.RecordFailure(errors.New("x"))
			}
			_ = cb.State()
		}(i)
	}
	wg.Wait()
}

// =============================================================================
// Transport Tests
// =============================================================================

func TestTransport_RetryOnServerError(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	transport := NewTransport(TransportConfig{RetryConfig: fastRetry(3), CircuitBreakerConfig: DefaultCircuitBreakerConfig()})
	client := &http.Client{Transport: transport}

	resp, err := client.Get(server.URL)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if got := transport.Metrics()["retried_requests"]; got != 2 {
		t.Errorf("retried_requests = %d, want 2", got)
	}
}

func TestTransport_RewindsBody(t *testing.T) {
	var attempts int32
	var bodies []string
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(b))
		mu.Unlock()
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := &http.Client{Transport: NewTransport(TransportConfig{RetryConfig: fastRetry(2)})}

	resp, err := client.Post(server.URL, "application/json", strings.NewReader(`{"id":"abc"}`))
	if err != nil {
		t.Fatalf("Post() error: %v", err)
	}
	resp.Body.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 2 || bodies[1] != `{"id":"abc"}` {
		t.Errorf("bodies = %q", bodies)
	}
}

func TestTransport_CircuitOpen(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	transport := NewTransport(TransportConfig{
		RetryConfig:          fastRetry(0),
		CircuitBreakerConfig: CircuitBreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Minute},
	})
	client := &http.Client{Transport: transport}

	for i := 0; i < 2; i++ {
		resp, err := client.Get(server.URL)
		if err == nil {
			resp.Body.Close()
		}
	}

	_, err := client.Get(server.URL)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Get() error = %v, want ErrCircuitOpen", err)
	}
	if transport.CircuitState() != CircuitOpen {
		t.Errorf("CircuitState() = %v, want open", transport.CircuitState())
	}
}

func TestTransport_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := &http.Client{Transport: NewTransport(TransportConfig{RetryConfig: DefaultRetryConfig()})}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	if _, err := client.Do(req); err == nil {
		t.Error("Do() should error on context cancellation")
	}
}

func TestHTTPError_Error(t *testing.T) {
	err := &HTTPError{StatusCode: http.StatusBadGateway}
	if !strings.Contains(err.Error(), "502") {
		t.Errorf("Error() = %q", err.Error())
	}
}
