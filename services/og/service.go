// Package og renders share cards and Open Graph metadata for chat threads.
package og

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/omniplex-ai/omniplex/internal/app/domain/chat"
	"github.com/omniplex-ai/omniplex/internal/app/storage"
	"github.com/omniplex-ai/omniplex/internal/cache"
	"github.com/omniplex-ai/omniplex/internal/httputil"
	"github.com/omniplex-ai/omniplex/internal/logging"
)

const (
	cacheTTL    = time.Hour
	description = "Search online with the power of AI. Try now!"
	siteTitle   = "Omniplex - Web Search AI"
)

// DefaultCard is shown for unknown threads.
var DefaultCard = Card{Title: "Omniplex", Subtitle: description}

// Service handles /api/og and /chat/{id}/meta.
type Service struct {
	store     storage.Store
	cache     cache.Cache
	publicURL string
	logger    *logging.Logger

	facesOnce sync.Once
	faces     *faces
	facesErr  error
}

// New creates the OG service. c may be nil.
func New(store storage.Store, c cache.Cache, publicURL string, logger *logging.Logger) *Service {
	s := &Service{
		store:     store,
		publicURL: strings.TrimSuffix(publicURL, "/"),
		logger:    logger,
	}
	if c != nil {
		s.cache = cache.Named(c, "og")
	}
	return s
}

func (s *Service) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/og", s.handleImage).Methods(http.MethodGet)
	router.HandleFunc("/chat/{id}/meta", s.handleMeta).Methods(http.MethodGet)
}

// CardFor builds the card for thread id, or DefaultCard when the id is
// malformed or the thread does not exist.
func (s *Service) CardFor(ctx context.Context, id string) (Card, bool, error) {
	if len(id) != chat.ThreadIDLength {
		return DefaultCard, false, nil
	}
	entry, err := s.store.GetIndex(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return DefaultCard, false, nil
	}
	if err != nil {
		return Card{}, false, fmt.Errorf("get index: %w", err)
	}
	thread, err := s.store.GetThread(ctx, entry.UserID, id)
	if errors.Is(err, storage.ErrNotFound) {
		return DefaultCard, false, nil
	}
	if err != nil {
		return Card{}, false, fmt.Errorf("get thread: %w", err)
	}

	title := thread.Title()
	if title == "" {
		title = "Untitled Conversation"
	}
	return Card{
		Title:    CutString(title, maxTitleRunes),
		Subtitle: Subtitle(thread.CreatedAt, thread.WordCount()),
	}, true, nil
}

// Render draws card as a 1200x630 PNG.
func (s *Service) Render(card Card) ([]byte, error) {
	s.facesOnce.Do(func() {
		s.faces, s.facesErr = loadFaces()
	})
	if s.facesErr != nil {
		return nil, s.facesErr
	}
	return s.faces.render(card)
}

func (s *Service) image(ctx context.Context, id string) ([]byte, error) {
	if s.cache != nil && len(id) == chat.ThreadIDLength {
		if v, ok, err := s.cache.Get(ctx, id); err == nil && ok {
			return v, nil
		}
	}

	card, found, err := s.CardFor(ctx, id)
	if err != nil {
		return nil, err
	}
	img, err := s.Render(card)
	if err != nil {
		return nil, err
	}
	if found && s.cache != nil {
		if err := s.cache.Set(ctx, id, img, cacheTTL); err != nil {
			s.logger.WithContext(ctx).WithError(err).Debug("og cache write failed")
		}
	}
	return img, nil
}

func (s *Service) handleImage(w http.ResponseWriter, r *http.Request) {
	img, err := s.image(r.Context(), r.URL.Query().Get("id"))
	if err != nil {
		s.logger.WithContext(r.Context()).WithError(err).Error("og image generation failed")
		httputil.InternalError(w, "Failed to generate the image")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	w.Write(img)
}

// Image is one Open Graph image entry.
type Image struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Alt    string `json:"alt"`
}

type OpenGraph struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	URL         string  `json:"url"`
	Type        string  `json:"type"`
	Images      []Image `json:"images"`
}

type Twitter struct {
	Card        string   `json:"card"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Images      []string `json:"images"`
}

// Metadata describes a chat page for link previews.
type Metadata struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	OpenGraph   OpenGraph `json:"openGraph"`
	Twitter     Twitter   `json:"twitter"`
}

// MetadataFor returns the preview metadata of the chat page for id.
func (s *Service) MetadataFor(id string) Metadata {
	imageURL := s.publicURL + "/api/og?id=" + id
	return Metadata{
		Title:       "Chat with Omniplex",
		Description: description,
		OpenGraph: OpenGraph{
			Title:       siteTitle,
			Description: description,
			URL:         s.publicURL + "/chat/" + id,
			Type:        "website",
			Images:      []Image{{URL: imageURL, Width: Width, Height: Height, Alt: "Omniplex Chat Session"}},
		},
		Twitter: Twitter{
			Card:        "summary_large_image",
			Title:       siteTitle,
			Description: description,
			Images:      []string{imageURL},
		},
	}
}

func (s *Service) handleMeta(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, s.MetadataFor(mux.Vars(r)["id"]))
}
