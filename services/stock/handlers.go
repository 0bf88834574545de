package stock

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/omniplex-ai/omniplex/internal/httputil"
)

// RegisterRoutes mounts the stock endpoint.
func (s *Service) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/stock", s.handleStock).Methods(http.MethodGet)
}

func (s *Service) handleStock(w http.ResponseWriter, r *http.Request) {
	symbol := strings.TrimSpace(r.URL.Query().Get("symbol"))
	if symbol == "" {
		httputil.BadRequest(w, "Symbol is required")
		return
	}

	quote, err := s.Lookup(r.Context(), symbol)
	if err != nil {
		s.logger.WithContext(r.Context()).WithError(err).WithField("symbol", symbol).Warn("stock lookup failed")
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, quote)
}
