// Package threads owns the chat thread lifecycle: creation, sharing,
// forking, and the streamed answers that fill each chat.
package threads

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/omniplex-ai/omniplex/internal/app/domain/chat"
	"github.com/omniplex-ai/omniplex/internal/app/storage"
	"github.com/omniplex-ai/omniplex/internal/config"
	svcerrors "github.com/omniplex-ai/omniplex/internal/errors"
	"github.com/omniplex-ai/omniplex/internal/live"
	"github.com/omniplex-ai/omniplex/internal/llm"
	"github.com/omniplex-ai/omniplex/internal/logging"
)

const (
	defaultListLimit = 50
	maxListLimit     = 100
	idAttempts       = 3
	saveTimeout      = 10 * time.Second
)

// Completer streams a chat completion. *llm.Client satisfies it.
type Completer interface {
	Stream(ctx context.Context, req llm.CompletionRequest, onDelta llm.DeltaFunc) (string, error)
}

// Middleware wraps a handler, e.g. with authentication.
type Middleware func(http.Handler) http.Handler

// Service handles /api/threads.
type Service struct {
	store    storage.Store
	llm      Completer
	hub      *live.Hub
	cfg      config.LLMConfig
	inflight *inflight
	logger   *logging.Logger
	now      func() time.Time
}

// New creates the thread service. completer may be nil, in which case
// answer and rewrite report "not configured".
func New(store storage.Store, completer Completer, hub *live.Hub, cfg config.LLMConfig, logger *logging.Logger) *Service {
	if hub == nil {
		hub = live.NewHub(logger, nil)
	}
	if cfg.ImageModel == "" {
		cfg.ImageModel = llm.ImageModel
	}
	return &Service{
		store:    store,
		llm:      completer,
		hub:      hub,
		cfg:      cfg,
		inflight: newInflight(),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// RegisterRoutes mounts the thread endpoints. requireAuth guards owner
// operations; optionalAuth is used where shared threads may be read
// anonymously.
func (s *Service) RegisterRoutes(router *mux.Router, requireAuth, optionalAuth Middleware) {
	handle := func(path string, mw Middleware, h http.HandlerFunc, methods ...string) {
		router.Handle(path, mw(h)).Methods(methods...)
	}

	handle("/api/threads", requireAuth, s.handleList, http.MethodGet)
	handle("/api/threads", requireAuth, s.handleCreate, http.MethodPost)
	handle("/api/threads/{id}", optionalAuth, s.handleGet, http.MethodGet)
	handle("/api/threads/{id}", requireAuth, s.handleDelete, http.MethodDelete)
	handle("/api/threads/{id}/share", requireAuth, s.handleShare, http.MethodPost)
	handle("/api/threads/{id}/fork", requireAuth, s.handleFork, http.MethodPost)
	handle("/api/threads/{id}/chats", requireAuth, s.handleAddChat, http.MethodPost)
	handle("/api/threads/{id}/answer", requireAuth, s.handleAnswer, http.MethodPost)
	handle("/api/threads/{id}/rewrite", requireAuth, s.handleRewrite, http.MethodPost)
	handle("/api/threads/{id}/cancel", requireAuth, s.handleCancel, http.MethodPost)
	handle("/api/threads/{id}/live", optionalAuth, s.handleLive, http.MethodGet)
}

// Create starts a thread for userID with its first chat.
func (s *Service) Create(ctx context.Context, userID string, first chat.Chat) (chat.Thread, error) {
	first.CreatedAt = s.now()
	thread := chat.Thread{
		UserID:    userID,
		Chats:     []chat.Chat{first},
		CreatedAt: first.CreatedAt,
		Messages: []chat.Message{
			{Role: chat.RoleSystem, Content: llm.SystemPrompt},
			{Role: chat.RoleUser, Content: first.Question},
		},
	}
	return s.insert(ctx, thread)
}

// insert stores thread under a fresh ID and indexes it.
func (s *Service) insert(ctx context.Context, thread chat.Thread) (chat.Thread, error) {
	for attempt := 0; attempt < idAttempts; attempt++ {
		id, err := gonanoid.New(chat.ThreadIDLength)
		if err != nil {
			return chat.Thread{}, fmt.Errorf("generate thread id: %w", err)
		}
		thread.ID = id

		created, err := s.store.CreateThread(ctx, thread)
		if errors.Is(err, storage.ErrAlreadyExists) {
			continue
		}
		if err != nil {
			return chat.Thread{}, fmt.Errorf("create thread: %w", err)
		}

		if err := s.store.PutIndex(ctx, chat.IndexEntry{ThreadID: id, UserID: thread.UserID, CreatedAt: created.CreatedAt}); err != nil {
			return chat.Thread{}, fmt.Errorf("index thread: %w", err)
		}
		return created, nil
	}
	return chat.Thread{}, svcerrors.Internal("Internal Server Error", errors.New("thread id collisions exhausted"))
}

// Read resolves id through the index and returns the thread if viewerID may
// see it: owners always, everyone else only when the thread is shared.
func (s *Service) Read(ctx context.Context, viewerID, id string) (chat.Thread, error) {
	entry, err := s.store.GetIndex(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return chat.Thread{}, svcerrors.NotFound("Thread not found")
	}
	if err != nil {
		return chat.Thread{}, fmt.Errorf("get index: %w", err)
	}

	thread, err := s.store.GetThread(ctx, entry.UserID, id)
	if errors.Is(err, storage.ErrNotFound) {
		return chat.Thread{}, svcerrors.NotFound("Thread not found")
	}
	if err != nil {
		return chat.Thread{}, fmt.Errorf("get thread: %w", err)
	}

	if thread.UserID != viewerID && !thread.Shared {
		return chat.Thread{}, svcerrors.NotFound("Thread not found")
	}
	return thread, nil
}

// owned loads a thread the caller owns.
func (s *Service) owned(ctx context.Context, userID, id string) (chat.Thread, error) {
	thread, err := s.store.GetThread(ctx, userID, id)
	if errors.Is(err, storage.ErrNotFound) {
		return chat.Thread{}, svcerrors.NotFound("Thread not found")
	}
	if err != nil {
		return chat.Thread{}, fmt.Errorf("get thread: %w", err)
	}
	return thread, nil
}

// Fork copies a readable thread into userID's history under a new ID.
func (s *Service) Fork(ctx context.Context, userID, id string) (chat.Thread, error) {
	src, err := s.Read(ctx, userID, id)
	if err != nil {
		return chat.Thread{}, err
	}
	fork := src.Clone()
	fork.UserID = userID
	fork.Shared = false
	fork.CreatedAt = s.now()
	return s.insert(ctx, fork)
}

// AddChat appends a question to an owned thread.
func (s *Service) AddChat(ctx context.Context, userID, id string, c chat.Chat) (chat.Thread, error) {
	if s.inflight.busy(id) {
		return chat.Thread{}, svcerrors.Conflict("An answer is already in progress for this thread.")
	}
	thread, err := s.owned(ctx, userID, id)
	if err != nil {
		return chat.Thread{}, err
	}
	c.CreatedAt = s.now()
	thread.Chats = append(thread.Chats, c)
	thread.Messages = append(thread.Messages, chat.Message{Role: chat.RoleUser, Content: c.Question})
	updated, err := s.store.UpdateThread(ctx, thread)
	if err != nil {
		return chat.Thread{}, fmt.Errorf("update thread: %w", err)
	}
	return updated, nil
}

// Delete removes an owned thread and its index entry.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	err := s.store.DeleteThread(ctx, userID, id)
	if errors.Is(err, storage.ErrNotFound) {
		return svcerrors.NotFound("Thread not found")
	}
	if err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	s.inflight.cancel(id)
	if err := s.store.DeleteIndex(ctx, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("delete index: %w", err)
	}
	return nil
}

// settings overlays the request's settings on the configured defaults.
func (s *Service) settings(override *config.AISettings) config.AISettings {
	out := s.cfg.Defaults
	if override == nil {
		return out
	}
	if override.Model != "" {
		out.Model = override.Model
	}
	if override.Temperature != 0 {
		out.Temperature = override.Temperature
	}
	if override.MaxLength > 0 {
		out.MaxLength = override.MaxLength
	}
	if override.TopP != 0 {
		out.TopP = override.TopP
	}
	if override.Frequency != 0 {
		out.Frequency = override.Frequency
	}
	if override.Presence != 0 {
		out.Presence = override.Presence
	}
	if override.CustomPrompt != "" {
		out.CustomPrompt = override.CustomPrompt
	}
	return out
}

func (s *Service) completion(mode string, settings config.AISettings, messages []chat.Message) llm.CompletionRequest {
	model := settings.Model
	if mode == chat.ModeImage {
		model = s.cfg.ImageModel
	}
	return llm.CompletionRequest{
		Messages:         messages,
		Model:            model,
		Temperature:      settings.Temperature,
		MaxTokens:        settings.MaxLength,
		TopP:             settings.TopP,
		FrequencyPenalty: settings.Frequency,
		PresencePenalty:  settings.Presence,
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}
