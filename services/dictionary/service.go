// Package dictionary looks words up in the Free Dictionary API.
package dictionary

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/omniplex-ai/omniplex/internal/cache"
	"github.com/omniplex-ai/omniplex/internal/config"
	svcerrors "github.com/omniplex-ai/omniplex/internal/errors"
	"github.com/omniplex-ai/omniplex/internal/httputil"
	"github.com/omniplex-ai/omniplex/internal/logging"
)

const cacheTTL = 24 * time.Hour

// Definition is one sense of a word.
type Definition struct {
	Definition string  `json:"definition"`
	Example    *string `json:"example"`
}

// Meaning groups definitions by part of speech.
type Meaning struct {
	PartOfSpeech string       `json:"partOfSpeech"`
	Definitions  []Definition `json:"definitions"`
}

// Entry is the /api/dictionary response.
type Entry struct {
	Word      string          `json:"word"`
	Phonetic  string          `json:"phonetic,omitempty"`
	Phonetics json.RawMessage `json:"phonetics,omitempty"`
	Origin    *string         `json:"origin"`
	Meanings  []Meaning       `json:"meanings"`
}

// Service handles /api/dictionary.
type Service struct {
	client  *httputil.Client
	baseURL string
	cache   cache.Cache
	logger  *logging.Logger
}

// New creates the dictionary service. c may be nil to disable caching.
func New(cfg config.ProvidersConfig, c cache.Cache, logger *logging.Logger) *Service {
	s := &Service{
		client:  httputil.NewClient(httputil.ClientConfig{Name: "dictionaryapi", Timeout: cfg.Timeout}),
		baseURL: strings.TrimSuffix(cfg.DictionaryURL, "/"),
		logger:  logger,
	}
	if c != nil {
		s.cache = cache.Named(c, "dictionary")
	}
	return s
}

// Define returns the first entry for word.
func (s *Service) Define(ctx context.Context, word string) (*Entry, error) {
	key := strings.ToLower(word)
	if s.cache != nil {
		var cached Entry
		if ok, err := cache.GetJSON(ctx, s.cache, key, &cached); err == nil && ok {
			return &cached, nil
		}
	}

	var entries []Entry
	if err := s.client.GetJSON(ctx, s.baseURL+"/"+url.PathEscape(word), &entries); err != nil {
		if status := httputil.StatusCode(err); status != 0 {
			return nil, svcerrors.Upstream(status, "Failed to fetch definitions", err)
		}
		return nil, svcerrors.Internal("An error occurred while fetching definitions", err)
	}
	if len(entries) == 0 {
		return nil, svcerrors.NotFound("Word not found")
	}

	entry := entries[0]
	if entry.Origin != nil && *entry.Origin == "" {
		entry.Origin = nil
	}
	if entry.Meanings == nil {
		entry.Meanings = []Meaning{}
	}

	if s.cache != nil {
		if err := cache.SetJSON(ctx, s.cache, key, entry, cacheTTL); err != nil {
			s.logger.WithContext(ctx).WithError(err).Debug("dictionary cache write failed")
		}
	}
	return &entry, nil
}
