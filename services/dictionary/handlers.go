package dictionary

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/omniplex-ai/omniplex/internal/httputil"
)

// RegisterRoutes mounts the dictionary endpoint.
func (s *Service) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/dictionary", s.handleDefine).Methods(http.MethodGet)
}

func (s *Service) handleDefine(w http.ResponseWriter, r *http.Request) {
	word := r.URL.Query().Get("word")
	if word == "" {
		httputil.BadRequest(w, "Word is required")
		return
	}

	entry, err := s.Define(r.Context(), word)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entry)
}
