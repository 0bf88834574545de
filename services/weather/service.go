// Package weather serves current conditions and a short forecast from
// OpenWeatherMap.
package weather

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/omniplex-ai/omniplex/internal/config"
	svcerrors "github.com/omniplex-ai/omniplex/internal/errors"
	"github.com/omniplex-ai/omniplex/internal/httputil"
	"github.com/omniplex-ai/omniplex/internal/logging"
)

const (
	maxForecastHours = 5
	// dailySlots is one day of 3-hour forecast slots.
	dailySlots = 8

	UnitCelsius    = "celsius"
	UnitFahrenheit = "fahrenheit"
)

// Current is the current conditions block.
type Current struct {
	Temperature int    `json:"temperature"`
	Weather     string `json:"weather"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

// Hour is one forecast slot.
type Hour struct {
	Time        string `json:"time"`
	Temperature int    `json:"temperature"`
	Weather     string `json:"weather"`
	Icon        string `json:"icon"`
}

// Daily holds the extremes over the next day.
type Daily struct {
	MaxTemp int `json:"maxTemp"`
	MinTemp int `json:"minTemp"`
}

// Report is the /api/weather response.
type Report struct {
	City    string  `json:"city"`
	Current Current `json:"current"`
	Hourly  []Hour  `json:"hourly"`
	Daily   Daily   `json:"daily"`
}

// Service handles /api/weather.
type Service struct {
	client     *httputil.Client
	weatherURL string
	geocodeURL string
	apiKey     string
	logger     *logging.Logger
}

// New creates the weather service.
func New(cfg config.ProvidersConfig, logger *logging.Logger) *Service {
	return &Service{
		client:     httputil.NewClient(httputil.ClientConfig{Name: "openweathermap", Timeout: cfg.Timeout}),
		weatherURL: cfg.WeatherURL,
		geocodeURL: cfg.GeocodeURL,
		apiKey:     cfg.WeatherAPIKey,
		logger:     logger,
	}
}

// Lookup geocodes city and fetches its current weather and forecast.
func (s *Service) Lookup(ctx context.Context, city, unit string) (*Report, error) {
	if s.apiKey == "" {
		return nil, svcerrors.NotConfigured("OpenWeatherMap API key is not configured.")
	}

	geo, err := s.fetch(ctx, s.geocodeURL, url.Values{"q": {city}, "limit": {"1"}})
	if err != nil {
		return nil, err
	}
	place := geo.Get("0")
	if !place.Exists() {
		return nil, svcerrors.NotFound("City not found.")
	}

	coords := url.Values{
		"lat":   {place.Get("lat").String()},
		"lon":   {place.Get("lon").String()},
		"units": {"metric"},
	}

	var current, forecast gjson.Result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		current, err = s.fetch(gctx, s.weatherURL+"/weather", coords)
		return err
	})
	g.Go(func() error {
		var err error
		forecast, err = s.fetch(gctx, s.weatherURL+"/forecast", coords)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return buildReport(place.Get("name").String(), current, forecast, converter(unit)), nil
}

func (s *Service) fetch(ctx context.Context, base string, params url.Values) (gjson.Result, error) {
	params.Set("appid", s.apiKey)
	body, _, err := s.client.GetBytes(ctx, base+"?"+params.Encode())
	if err != nil {
		return gjson.Result{}, svcerrors.Internal("Internal Server Error", err)
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, svcerrors.Internal("Internal Server Error", fmt.Errorf("invalid JSON from %s", s.client.Name()))
	}
	return gjson.ParseBytes(body), nil
}

func buildReport(city string, current, forecast gjson.Result, temp func(float64) int) *Report {
	report := &Report{
		City: city,
		Current: Current{
			Temperature: temp(current.Get("main.temp").Float()),
			Weather:     current.Get("weather.0.main").String(),
			Description: current.Get("weather.0.description").String(),
			Icon:        current.Get("weather.0.icon").String(),
		},
		Hourly: []Hour{},
	}

	offset := time.Duration(forecast.Get("city.timezone").Int()) * time.Second
	slots := forecast.Get("list").Array()
	for i, slot := range slots {
		if i == maxForecastHours {
			break
		}
		at := time.Unix(slot.Get("dt").Int(), 0).UTC().Add(offset)
		report.Hourly = append(report.Hourly, Hour{
			Time:        formatHour(at.Hour()),
			Temperature: temp(slot.Get("main.temp").Float()),
			Weather:     slot.Get("weather.0.main").String(),
			Icon:        slot.Get("weather.0.icon").String(),
		})
	}

	if len(slots) > 0 {
		maxTemp, minTemp := math.Inf(-1), math.Inf(1)
		for i, slot := range slots {
			if i == dailySlots {
				break
			}
			maxTemp = math.Max(maxTemp, slot.Get("main.temp_max").Float())
			minTemp = math.Min(minTemp, slot.Get("main.temp_min").Float())
		}
		report.Daily = Daily{MaxTemp: temp(maxTemp), MinTemp: temp(minTemp)}
	}
	return report
}

// formatHour renders a 24h hour as "3 PM".
func formatHour(hour int) string {
	suffix := "AM"
	if hour >= 12 {
		suffix = "PM"
	}
	h := hour % 12
	if h == 0 {
		h = 12
	}
	return fmt.Sprintf("%d %s", h, suffix)
}

// converter returns a rounding function from Celsius into unit. Halves
// round up, so -2.5 becomes -2.
func converter(unit string) func(float64) int {
	if unit == UnitFahrenheit {
		return func(c float64) int { return roundHalfUp(c*9/5 + 32) }
	}
	return roundHalfUp
}

func roundHalfUp(x float64) int {
	return int(math.Floor(x + 0.5))
}
