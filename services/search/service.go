// Package search proxies web search through SerpAPI's Bing engine.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/PaesslerAG/jsonpath"
	"github.com/gorilla/mux"

	"github.com/omniplex-ai/omniplex/internal/config"
	svcerrors "github.com/omniplex-ai/omniplex/internal/errors"
	"github.com/omniplex-ai/omniplex/internal/httputil"
	"github.com/omniplex-ai/omniplex/internal/logging"
)

const (
	// maxResults bounds the digest returned next to the raw payload.
	maxResults   = 10
	maxBodyBytes = 4 << 20
)

// Result is one organic result in the digest.
type Result struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// Response is the body of a successful search.
type Response struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
	Results []Result    `json:"results"`
}

// Service handles /api/search.
type Service struct {
	client  *httputil.Client
	baseURL string
	apiKey  string
	logger  *logging.Logger
}

// New creates the search service.
func New(cfg config.ProvidersConfig, logger *logging.Logger) *Service {
	return &Service{
		client: httputil.NewClient(httputil.ClientConfig{
			Name:         "serpapi",
			Timeout:      cfg.Timeout,
			MaxBodyBytes: maxBodyBytes,
		}),
		baseURL: cfg.SearchURL,
		apiKey:  cfg.SearchAPIKey,
		logger:  logger,
	}
}

// RegisterRoutes mounts the search endpoint.
func (s *Service) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/search", s.handleSearch).Methods(http.MethodGet)
}

// Search runs query and returns the raw payload with its digest.
func (s *Service) Search(ctx context.Context, query string) (*Response, error) {
	if s.apiKey == "" {
		return nil, svcerrors.NotConfigured("Search API key is not configured on the server.")
	}

	params := url.Values{}
	params.Set("engine", "bing")
	params.Set("q", query)
	params.Set("cc", "US")
	params.Set("api_key", s.apiKey)

	body, _, err := s.client.GetBytes(ctx, s.baseURL+"?"+params.Encode())
	if err != nil {
		if status := httputil.StatusCode(err); status != 0 {
			return nil, svcerrors.Upstream(status, fmt.Sprintf("Search API error. Status code: %d", status), err)
		}
		return nil, svcerrors.Internal("Internal Server Error. Failed to fetch search results.", err)
	}

	var data interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, svcerrors.Internal("Internal Server Error. Failed to fetch search results.", err)
	}

	return &Response{
		Message: "Search results fetched successfully.",
		Data:    data,
		Results: digest(data),
	}, nil
}

// digest pulls title, link and snippet out of organic_results.
func digest(data interface{}) []Result {
	results := []Result{}
	raw, err := jsonpath.Get("$.organic_results", data)
	if err != nil {
		return results
	}
	items, ok := raw.([]interface{})
	if !ok {
		return results
	}
	for _, item := range items {
		if len(results) == maxResults {
			break
		}
		r := Result{
			Title:   field(item, "$.title"),
			Link:    field(item, "$.link"),
			Snippet: field(item, "$.snippet"),
		}
		if r.Link == "" {
			continue
		}
		results = append(results, r)
	}
	return results
}

func field(item interface{}, path string) string {
	v, err := jsonpath.Get(path, item)
	if err != nil {
		return ""
	}
	s, _ := v.(string)
	return s
}
