package weather

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/omniplex-ai/omniplex/internal/httputil"
)

// RegisterRoutes mounts the weather endpoint.
func (s *Service) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/weather", s.handleWeather).Methods(http.MethodGet)
}

func (s *Service) handleWeather(w http.ResponseWriter, r *http.Request) {
	city := r.URL.Query().Get("city")
	if city == "" {
		httputil.BadRequest(w, `Query parameter "city" is required and must be a string.`)
		return
	}
	unit := r.URL.Query().Get("unit")
	if unit != "" && unit != UnitCelsius && unit != UnitFahrenheit {
		httputil.BadRequest(w, `Query parameter "unit" must be celsius or fahrenheit.`)
		return
	}

	report, err := s.Lookup(r.Context(), city, unit)
	if err != nil {
		s.logger.WithContext(r.Context()).WithError(err).WithField("city", city).Warn("weather lookup failed")
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}
