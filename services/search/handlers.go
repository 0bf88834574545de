package search

import (
	"net/http"

	"github.com/omniplex-ai/omniplex/internal/httputil"
)

func (s *Service) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		httputil.BadRequest(w, `Missing or invalid "q" parameter in the URL.`)
		return
	}

	resp, err := s.Search(r.Context(), query)
	if err != nil {
		s.logger.WithContext(r.Context()).WithError(err).Warn("search failed")
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}
