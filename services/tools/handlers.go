package tools

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/omniplex-ai/omniplex/internal/app/domain/chat"
	svcerrors "github.com/omniplex-ai/omniplex/internal/errors"
	"github.com/omniplex-ai/omniplex/internal/httputil"
	"github.com/omniplex-ai/omniplex/internal/llm"
)

const maxBodyBytes = 1 << 20

func (s *Service) handleTools(w http.ResponseWriter, r *http.Request) {
	if s.llm == nil {
		httputil.WriteError(w, r, svcerrors.NotConfigured(notConfigured))
		return
	}

	var messages []chat.Message
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil || json.Unmarshal(body, &messages) != nil {
		httputil.BadRequest(w, "Invalid request body format.")
		return
	}

	s.writeRoute(w, r, messages)
}

type modeRequest struct {
	Text string `json:"text"`
}

func (s *Service) handleMode(w http.ResponseWriter, r *http.Request) {
	if s.llm == nil {
		httputil.WriteError(w, r, svcerrors.NotConfigured(notConfigured))
		return
	}

	var req modeRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		httputil.BadRequest(w, "Text is required")
		return
	}

	s.writeRoute(w, r, llm.RoutingMessages(req.Text))
}

func (s *Service) writeRoute(w http.ResponseWriter, r *http.Request, messages []chat.Message) {
	route, err := s.Route(r.Context(), messages)
	if err != nil {
		s.logger.WithContext(r.Context()).WithError(err).Error("tool routing failed")
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, route)
}

func (s *Service) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.llm == nil {
		httputil.WriteError(w, r, svcerrors.NotConfigured(notConfigured))
		return
	}

	var req llm.CompletionRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if len(req.Messages) == 0 {
		httputil.BadRequest(w, "Messages are required")
		return
	}
	if req.Model == "" {
		httputil.BadRequest(w, "Model is required")
		return
	}

	flusher, _ := w.(http.Flusher)
	started := false
	_, err := s.llm.Stream(r.Context(), req, func(delta string) error {
		if !started {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("Cache-Control", "no-cache")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if _, err := io.WriteString(w, delta); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	})
	if err == nil {
		if !started {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusOK)
		}
		return
	}

	log := s.logger.WithContext(r.Context()).WithError(err)
	if r.Context().Err() != nil {
		log.Info("chat stream canceled by client")
		return
	}
	log.Error("chat stream failed")
	if !started {
		httputil.WriteError(w, r, vendorError(err, "Failed to generate a response."))
	}
}
