package middleware

import (
	"net/http"
	"runtime/debug"

	internalhttputil "github.com/omniplex-ai/omniplex/internal/httputil"
	"github.com/omniplex-ai/omniplex/internal/logging"
)

// Recovery converts handler panics into 500 responses.
func Recovery(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.WithContext(r.Context()).WithFields(map[string]interface{}{
					"panic": rec,
					"stack": string(debug.Stack()),
					"path":  r.URL.Path,
				}).Error("handler panic")

				rw, ok := w.(*responseWriter)
				if ok && rw.written {
					return
				}
				internalhttputil.InternalError(w, "Internal Server Error")
			}()
			next.ServeHTTP(w, r)
		})
	}
}
