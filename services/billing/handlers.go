package billing

import (
	"io"
	"net/http"
	"strings"

	"github.com/omniplex-ai/omniplex/internal/httputil"
)

const maxWebhookBytes = 64 << 10

func (s *Service) handleCheckout(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	url, err := s.Checkout(r.Context(), userID, requestOrigin(r))
	if err != nil {
		s.logger.WithContext(r.Context()).WithError(err).Error("stripe checkout failed")
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Service) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		httputil.BadRequest(w, "Invalid request body")
		return
	}
	if err := s.HandleEvent(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		s.logger.WithContext(r.Context()).WithError(err).Warn("stripe webhook rejected")
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// requestOrigin is the browser origin of r, falling back to the forwarded
// scheme and host.
func requestOrigin(r *http.Request) string {
	if origin := r.Header.Get("Origin"); origin != "" && origin != "null" {
		return strings.TrimSuffix(origin, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.TrimSpace(strings.Split(proto, ",")[0])
	}
	host := r.Host
	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
		host = strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	return scheme + "://" + host
}
