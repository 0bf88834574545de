// Package stock assembles a quote card from Finnhub and a daily price
// series from Alpha Vantage.
package stock

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/omniplex-ai/omniplex/internal/cache"
	"github.com/omniplex-ai/omniplex/internal/config"
	svcerrors "github.com/omniplex-ai/omniplex/internal/errors"
	"github.com/omniplex-ai/omniplex/internal/httputil"
	"github.com/omniplex-ai/omniplex/internal/logging"
)

// cacheTTL keeps quotes briefly so repeated renders of a chat stay cheap.
const cacheTTL = time.Minute

// Change is the move since the previous close.
type Change struct {
	Amount     float64 `json:"amount"`
	Percentage float64 `json:"percentage"`
}

// ChartPoint is one daily close.
type ChartPoint struct {
	Timestamp string  `json:"timestamp"`
	Price     float64 `json:"price"`
}

// Quote is the /api/stock response.
type Quote struct {
	CompanyName   string       `json:"companyName"`
	Ticker        string       `json:"ticker"`
	Exchange      string       `json:"exchange"`
	CurrentPrice  float64      `json:"currentPrice"`
	Change        Change       `json:"change"`
	ChartData     []ChartPoint `json:"chartData"`
	Open          float64      `json:"open"`
	High          float64      `json:"high"`
	Low           float64      `json:"low"`
	PreviousClose float64      `json:"previousClose"`
	MarketCap     *float64     `json:"marketCap"`
	PERatio       *float64     `json:"peRatio"`
	DividendYield string       `json:"dividendYield"`
	High52Week    *float64     `json:"high52Week"`
	Low52Week     *float64     `json:"low52Week"`
}

// Service handles /api/stock.
type Service struct {
	finnhub    *httputil.Client
	alpha      *httputil.Client
	finnhubURL string
	finnhubKey string
	alphaURL   string
	alphaKey   string
	cache      cache.Cache
	logger     *logging.Logger
}

// New creates the stock service. c may be nil to disable caching.
func New(cfg config.ProvidersConfig, c cache.Cache, logger *logging.Logger) *Service {
	s := &Service{
		finnhub:    httputil.NewClient(httputil.ClientConfig{Name: "finnhub", Timeout: cfg.Timeout}),
		alpha:      httputil.NewClient(httputil.ClientConfig{Name: "alphavantage", Timeout: cfg.Timeout}),
		finnhubURL: strings.TrimSuffix(cfg.FinnhubURL, "/"),
		finnhubKey: cfg.FinnhubAPIKey,
		alphaURL:   cfg.AlphaVantageURL,
		alphaKey:   cfg.AlphaVantageAPIKey,
		logger:     logger,
	}
	if c != nil {
		s.cache = cache.Named(c, "stock")
	}
	return s
}

// Lookup returns the quote card for symbol.
func (s *Service) Lookup(ctx context.Context, symbol string) (*Quote, error) {
	if s.finnhubKey == "" {
		return nil, svcerrors.NotConfigured("Stock API key is not configured.")
	}

	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if s.cache != nil {
		var cached Quote
		if ok, err := cache.GetJSON(ctx, s.cache, symbol, &cached); err == nil && ok {
			return &cached, nil
		}
	}

	var quote, profile, metrics gjson.Result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		quote, err = s.getJSON(gctx, s.finnhub, s.finnhubURL+"/quote", url.Values{"symbol": {symbol}, "token": {s.finnhubKey}})
		return err
	})
	g.Go(func() error {
		var err error
		profile, err = s.getJSON(gctx, s.finnhub, s.finnhubURL+"/stock/profile2", url.Values{"symbol": {symbol}, "token": {s.finnhubKey}})
		return err
	})
	g.Go(func() error {
		var err error
		metrics, err = s.getJSON(gctx, s.finnhub, s.finnhubURL+"/stock/metric", url.Values{"symbol": {symbol}, "metric": {"all"}, "token": {s.finnhubKey}})
		return err
	})

	// The daily series is optional and must not cancel the group.
	seriesCh := make(chan gjson.Result, 1)
	go func() {
		if s.alphaKey == "" {
			seriesCh <- gjson.Result{}
			return
		}
		series, err := s.getJSON(ctx, s.alpha, s.alphaURL, url.Values{"function": {"TIME_SERIES_DAILY"}, "symbol": {symbol}, "apikey": {s.alphaKey}})
		if err != nil {
			s.logger.WithContext(ctx).WithError(err).WithField("symbol", symbol).Debug("daily series unavailable")
		}
		seriesCh <- series
	}()

	if err := g.Wait(); err != nil {
		<-seriesCh
		return nil, svcerrors.Upstream(0, "Data not available", err)
	}
	series := <-seriesCh

	result := buildQuote(symbol, quote, profile, metrics.Get("metric"), series.Get("Time Series (Daily)"))
	if s.cache != nil {
		if err := cache.SetJSON(ctx, s.cache, symbol, result, cacheTTL); err != nil {
			s.logger.WithContext(ctx).WithError(err).Debug("stock cache write failed")
		}
	}
	return result, nil
}

func (s *Service) getJSON(ctx context.Context, client *httputil.Client, base string, params url.Values) (gjson.Result, error) {
	body, _, err := client.GetBytes(ctx, base+"?"+params.Encode())
	if err != nil {
		return gjson.Result{}, err
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("invalid JSON from %s", client.Name())
	}
	return gjson.ParseBytes(body), nil
}

func buildQuote(symbol string, quote, profile, metric, daily gjson.Result) *Quote {
	current := quote.Get("c").Float()
	prevClose := quote.Get("pc").Float()
	changeAmt := current - prevClose
	changePct := 0.0
	if prevClose != 0 {
		changePct = changeAmt / prevClose * 100
	}

	q := &Quote{
		CompanyName:   profile.Get("name").String(),
		Ticker:        symbol,
		Exchange:      profile.Get("exchange").String(),
		CurrentPrice:  current,
		Change:        Change{Amount: round2(changeAmt), Percentage: round2(changePct)},
		ChartData:     chartData(daily),
		Open:          quote.Get("o").Float(),
		High:          quote.Get("h").Float(),
		Low:           quote.Get("l").Float(),
		PreviousClose: prevClose,
		MarketCap:     optional(metric.Get("marketCapitalization")),
		PERatio:       optional(metric.Get("peBasicExclExtraTTM")),
		DividendYield: "N/A",
		High52Week:    optional(metric.Get("52WeekHigh")),
		Low52Week:     optional(metric.Get("52WeekLow")),
	}
	if q.CompanyName == "" {
		q.CompanyName = symbol
	}
	if q.Exchange == "" {
		q.Exchange = "N/A"
	}
	if y := metric.Get("dividendYieldIndicatedAnnual").Float(); y != 0 {
		q.DividendYield = fmt.Sprintf("%.2f%%", y*100)
	}
	return q
}

// chartData converts the Alpha Vantage daily map into ascending points.
func chartData(daily gjson.Result) []ChartPoint {
	points := []ChartPoint{}
	daily.ForEach(func(date, bar gjson.Result) bool {
		day, err := time.Parse("2006-01-02", date.String())
		if err != nil {
			return true
		}
		points = append(points, ChartPoint{
			Timestamp: day.UTC().Format("2006-01-02T15:04:05.000Z"),
			Price:     bar.Get("4\\. close").Float(),
		})
		return true
	})
	sort.Slice(points, func(i, j int) bool { return points[i].Timestamp < points[j].Timestamp })
	return points
}

func optional(v gjson.Result) *float64 {
	if v.Type != gjson.Number {
		return nil
	}
	f := v.Float()
	return &f
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
