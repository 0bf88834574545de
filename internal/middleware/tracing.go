package middleware

import (
	"net/http"
	"time"

	"github.com/omniplex-ai/omniplex/internal/logging"
)

const maxTraceIDLength = 128

// quietPaths are polled by probes and scrapers and not worth a log line.
var quietPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// TracingMiddleware assigns each request a trace ID, echoes it back and
// logs the outcome.
type TracingMiddleware struct {
	logger *logging.Logger
}

func NewTracingMiddleware(logger *logging.Logger) *TracingMiddleware {
	return &TracingMiddleware{logger: logger}
}

// Handler must wrap every other middleware so Recovery and the metrics
// middleware see the status-capturing writer.
func (m *TracingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := incomingTraceID(r)
		ctx := logging.WithTraceID(r.Context(), traceID)
		w.Header().Set("X-Trace-ID", traceID)

		rw := wrapResponseWriter(w)
		start := time.Now()
		next.ServeHTTP(rw, r.WithContext(ctx))

		if quietPaths[r.URL.Path] && rw.statusCode < http.StatusInternalServerError {
			return
		}
		m.logger.LogRequest(ctx, r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}

// incomingTraceID reuses a caller-supplied ID (X-Trace-ID, then the
// X-Request-ID edge proxies set) or mints a new one.
func incomingTraceID(r *http.Request) string {
	for _, h := range []string{"X-Trace-ID", "X-Request-ID"} {
		if id := r.Header.Get(h); id != "" && len(id) <= maxTraceIDLength {
			return id
		}
	}
	return logging.NewTraceID()
}
