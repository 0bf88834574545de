// Package scrape fetches web pages and reduces them to text for the model.
package scrape

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/omniplex-ai/omniplex/internal/cache"
	"github.com/omniplex-ai/omniplex/internal/config"
	"github.com/omniplex-ai/omniplex/internal/httputil"
	"github.com/omniplex-ai/omniplex/internal/logging"
)

const (
	FormatText     = "text"
	FormatMarkdown = "markdown"

	// MaxURLs bounds one scrape request.
	MaxURLs      = 10
	maxPageBytes = 5 << 20
	cacheTTL     = time.Hour
)

// Page is the extracted content of one URL. Text is empty when the fetch
// failed.
type Page struct {
	URL  string
	Text string
}

// Service handles /api/scrape.
type Service struct {
	client   *httputil.Client
	maxChars int
	cache    cache.Cache
	logger   *logging.Logger
}

// New creates the scrape service. c may be nil to disable caching.
func New(cfg config.ProvidersConfig, c cache.Cache, logger *logging.Logger) *Service {
	maxChars := cfg.ScrapeMaxChars
	if maxChars <= 0 {
		maxChars = 5000
	}
	s := &Service{
		client: httputil.NewClient(httputil.ClientConfig{
			Name:                 "scrape",
			Timeout:              cfg.Timeout,
			MaxBodyBytes:         maxPageBytes,
			BlockPrivateNetworks: !cfg.AllowPrivateFetch,
		}),
		maxChars: maxChars,
		logger:   logger,
	}
	if c != nil {
		s.cache = cache.Named(c, "scrape")
	}
	return s
}

// RegisterRoutes mounts the scrape endpoint.
func (s *Service) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/scrape", s.handleScrape).Methods(http.MethodPost)
}

// Scrape fetches every URL concurrently and returns pages in input order.
func (s *Service) Scrape(ctx context.Context, urls []string, format string) []Page {
	pages := make([]Page, len(urls))
	var wg sync.WaitGroup
	for i, u := range urls {
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			pages[i] = Page{URL: u, Text: s.page(ctx, u, format)}
		}(i, u)
	}
	wg.Wait()
	return pages
}

func (s *Service) page(ctx context.Context, pageURL, format string) string {
	key := format + ":" + pageURL
	if s.cache != nil {
		if v, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			return string(v)
		}
	}

	parsed, err := url.Parse(pageURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return ""
	}

	body, _, err := s.client.GetBytes(ctx, pageURL)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("url", pageURL).Debug("scrape fetch failed")
		return ""
	}

	var text string
	if format == FormatMarkdown {
		text = ExtractMarkdown(body, pageURL, s.maxChars)
	} else {
		text = ExtractText(body, s.maxChars)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, []byte(text), cacheTTL); err != nil {
			s.logger.WithContext(ctx).WithError(err).Debug("scrape cache write failed")
		}
	}
	return text
}

// Render joins pages in the "<url>\nWebsite Data:\n<text>" layout.
func Render(pages []Page) string {
	parts := make([]string, len(pages))
	for i, p := range pages {
		parts[i] = p.URL + "\nWebsite Data:\n" + p.Text
	}
	return strings.Join(parts, "\n\n")
}

// ParseURLs splits a comma-separated list, dropping blanks.
func ParseURLs(raw string) []string {
	var urls []string
	for _, u := range strings.Split(raw, ",") {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

func (s *Service) handleScrape(w http.ResponseWriter, r *http.Request) {
	urls := ParseURLs(r.URL.Query().Get("urls"))
	if len(urls) == 0 {
		httputil.BadRequest(w, "Please provide valid URLs as a comma-separated list.")
		return
	}
	if len(urls) > MaxURLs {
		httputil.BadRequest(w, "Too many URLs; at most 10 are allowed.")
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = FormatText
	}
	if format != FormatText && format != FormatMarkdown {
		httputil.BadRequest(w, `Query parameter "format" must be text or markdown.`)
		return
	}

	output := Render(s.Scrape(r.Context(), urls, format))
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(output))
}
