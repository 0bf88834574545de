// Package tools exposes the LLM gateway: tool routing for a question and a
// raw streamed completion.
package tools

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/omniplex-ai/omniplex/internal/app/domain/chat"
	svcerrors "github.com/omniplex-ai/omniplex/internal/errors"
	"github.com/omniplex-ai/omniplex/internal/llm"
	"github.com/omniplex-ai/omniplex/internal/logging"
)

const notConfigured = "OpenAI API key is not configured."

// Service handles /api/tools, /api/mode and /api/chat. llm may be nil, in
// which case every route answers "not configured".
type Service struct {
	llm    *llm.Client
	logger *logging.Logger
}

func New(client *llm.Client, logger *logging.Logger) *Service {
	return &Service{llm: client, logger: logger}
}

// RegisterRoutes mounts the gateway endpoints.
func (s *Service) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/tools", s.handleTools).Methods(http.MethodPost)
	router.HandleFunc("/api/mode", s.handleMode).Methods(http.MethodPost)
	router.HandleFunc("/api/chat", s.handleChat).Methods(http.MethodPost)
}

// Route picks the tool for messages.
func (s *Service) Route(ctx context.Context, messages []chat.Message) (llm.Route, error) {
	if s.llm == nil {
		return llm.Route{}, svcerrors.NotConfigured(notConfigured)
	}
	route, err := s.llm.Route(ctx, messages)
	if err != nil {
		return llm.Route{}, vendorError(err, "Failed to process the input.")
	}
	return route, nil
}

// vendorError keeps the vendor's status and message for API errors.
func vendorError(err error, fallback string) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	status := llm.StatusCode(err)
	if status == 0 {
		return svcerrors.Internal(fallback, err)
	}
	return svcerrors.Upstream(status, llm.ErrorMessage(err, fallback), err)
}
