// Package favicon proxies a site's /favicon.ico.
package favicon

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/mux"

	"github.com/omniplex-ai/omniplex/internal/config"
	svcerrors "github.com/omniplex-ai/omniplex/internal/errors"
	"github.com/omniplex-ai/omniplex/internal/httputil"
	"github.com/omniplex-ai/omniplex/internal/logging"
)

const (
	defaultContentType = "image/x-icon"
	maxIconBytes       = 1 << 20
)

var errBadURL = errors.New("url must be absolute http(s)")

// Icon is a fetched favicon.
type Icon struct {
	Data        []byte
	ContentType string
}

// Service handles /api/favicon.
type Service struct {
	client *httputil.Client
	logger *logging.Logger
}

// New creates the favicon service.
func New(cfg config.ProvidersConfig, logger *logging.Logger) *Service {
	timeout := cfg.FaviconTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &Service{
		client: httputil.NewClient(httputil.ClientConfig{
			Name:                 "favicon",
			Timeout:              timeout,
			MaxBodyBytes:         maxIconBytes,
			BlockPrivateNetworks: !cfg.AllowPrivateFetch,
		}),
		logger: logger,
	}
}

// RegisterRoutes mounts the favicon endpoint.
func (s *Service) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/favicon", s.handleFavicon).Methods(http.MethodGet)
}

// IconURL resolves /favicon.ico against site.
func IconURL(site string) (string, error) {
	u, err := url.Parse(site)
	if err != nil {
		return "", err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", errBadURL
	}
	return u.ResolveReference(&url.URL{Path: "/favicon.ico"}).String(), nil
}

// Fetch downloads the favicon of site.
func (s *Service) Fetch(ctx context.Context, site string) (*Icon, error) {
	iconURL, err := IconURL(site)
	if err != nil {
		return nil, svcerrors.BadRequest("URL must be a string")
	}
	data, header, err := s.client.GetBytes(ctx, iconURL)
	if err != nil {
		return nil, svcerrors.Internal("Failed to fetch favicon", err)
	}
	contentType := header.Get("Content-Type")
	if contentType == "" {
		contentType = defaultContentType
	}
	return &Icon{Data: data, ContentType: contentType}, nil
}

func (s *Service) handleFavicon(w http.ResponseWriter, r *http.Request) {
	site := r.URL.Query().Get("url")
	if site == "" {
		httputil.BadRequest(w, "URL must be a string")
		return
	}

	icon, err := s.Fetch(r.Context(), site)
	if err != nil {
		s.logger.WithContext(r.Context()).WithError(err).WithField("url", site).Debug("favicon fetch failed")
		httputil.WriteError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", icon.ContentType)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	w.Write(icon.Data)
}
