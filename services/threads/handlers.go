package threads

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/omniplex-ai/omniplex/internal/app/domain/chat"
	"github.com/omniplex-ai/omniplex/internal/config"
	svcerrors "github.com/omniplex-ai/omniplex/internal/errors"
	"github.com/omniplex-ai/omniplex/internal/httputil"
	"github.com/omniplex-ai/omniplex/internal/live"
	"github.com/omniplex-ai/omniplex/internal/llm"
	"github.com/omniplex-ai/omniplex/internal/logging"
)

// chatRequest is the body of create and add-chat.
type chatRequest struct {
	Question string `json:"question"`
	Mode     string `json:"mode"`
	Arg      string `json:"arg"`
}

func (req chatRequest) toChat() (chat.Chat, bool) {
	c := chat.Chat{Question: strings.TrimSpace(req.Question), Mode: req.Mode, Arg: req.Arg}
	if c.Mode == "" {
		c.Mode = chat.ModeChat
	}
	return c, c.Question != "" && chat.ValidMode(c.Mode)
}

type shareRequest struct {
	Shared bool `json:"shared"`
}

type answerRequest struct {
	Data     string             `json:"data,omitempty"`
	Settings *config.AISettings `json:"settings,omitempty"`
}

// threadView is a thread as returned to a viewer.
type threadView struct {
	chat.Thread
	IsOwner bool `json:"isOwner"`
}

func (s *Service) fail(w http.ResponseWriter, r *http.Request, err error, msg string) {
	if svcerrors.GetServiceError(err) == nil {
		s.logger.WithContext(r.Context()).WithError(err).Error(msg)
	}
	httputil.WriteError(w, r, err)
}

func (s *Service) handleCreate(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	var req chatRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	first, valid := req.toChat()
	if !valid {
		httputil.BadRequest(w, "A question and a valid mode are required.")
		return
	}

	thread, err := s.Create(r.Context(), userID, first)
	if err != nil {
		s.fail(w, r, err, "create thread failed")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, threadView{Thread: thread, IsOwner: true})
}

func (s *Service) handleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			httputil.BadRequest(w, `Query parameter "limit" must be a positive integer.`)
			return
		}
		limit = min(n, maxListLimit)
	}

	list, err := s.store.ListThreads(r.Context(), userID, limit)
	if err != nil {
		s.fail(w, r, err, "list threads failed")
		return
	}
	if list == nil {
		list = []chat.Thread{}
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (s *Service) handleGet(w http.ResponseWriter, r *http.Request) {
	viewerID := logging.GetUserID(r.Context())
	thread, err := s.Read(r.Context(), viewerID, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err, "read thread failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, threadView{Thread: thread, IsOwner: thread.UserID == viewerID})
}

func (s *Service) handleDelete(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	if err := s.Delete(r.Context(), userID, mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err, "delete thread failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleShare(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	var req shareRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	id := mux.Vars(r)["id"]
	if err := s.store.SetShared(r.Context(), userID, id, req.Shared); err != nil {
		s.fail(w, r, storeError(err), "share thread failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"id": id, "shared": req.Shared})
}

func (s *Service) handleFork(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	fork, err := s.Fork(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err, "fork thread failed")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]string{"id": fork.ID})
}

func (s *Service) handleAddChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	var req chatRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	c, valid := req.toChat()
	if !valid {
		httputil.BadRequest(w, "A question and a valid mode are required.")
		return
	}

	thread, err := s.AddChat(r.Context(), userID, mux.Vars(r)["id"], c)
	if err != nil {
		s.fail(w, r, err, "add chat failed")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, threadView{Thread: thread, IsOwner: true})
}

// decodeAnswer checks ownership and reads the request settings shared by
// answer and rewrite.
func (s *Service) decodeAnswer(w http.ResponseWriter, r *http.Request) (string, answerRequest, bool) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return "", answerRequest{}, false
	}
	if s.llm == nil {
		httputil.WriteError(w, r, svcerrors.NotConfigured("OpenAI API key is not configured."))
		return "", answerRequest{}, false
	}
	var req answerRequest
	if r.ContentLength != 0 && !httputil.DecodeJSON(w, r, &req) {
		return "", answerRequest{}, false
	}
	if _, err := s.owned(r.Context(), userID, mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err, "load thread failed")
		return "", answerRequest{}, false
	}
	return userID, req, true
}

func (s *Service) handleAnswer(w http.ResponseWriter, r *http.Request) {
	userID, req, ok := s.decodeAnswer(w, r)
	if !ok {
		return
	}
	settings := s.settings(req.Settings)
	s.streamAnswer(w, r, userID, mux.Vars(r)["id"], func(thread chat.Thread) (llm.CompletionRequest, string) {
		last := thread.LastChat()
		if last == nil {
			return llm.CompletionRequest{}, "Thread has no question to answer."
		}
		if last.Answer != "" {
			return llm.CompletionRequest{}, "This question is already answered. Use rewrite for a new answer."
		}
		messages := llm.InitialMessages(thread, req.Data, settings.CustomPrompt)
		return s.completion(last.Mode, settings, messages), ""
	}, appendAnswer)
}

func (s *Service) handleRewrite(w http.ResponseWriter, r *http.Request) {
	userID, req, ok := s.decodeAnswer(w, r)
	if !ok {
		return
	}
	settings := s.settings(req.Settings)
	s.streamAnswer(w, r, userID, mux.Vars(r)["id"], func(thread chat.Thread) (llm.CompletionRequest, string) {
		last := thread.LastChat()
		if last == nil || last.Answer == "" {
			return llm.CompletionRequest{}, "There is no answer to rewrite."
		}
		messages := llm.RewriteMessages(thread, settings.CustomPrompt)
		return s.completion(last.Mode, settings, messages), ""
	}, replaceAnswer)
}

func (s *Service) handleCancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	if _, err := s.owned(r.Context(), userID, id); err != nil {
		s.fail(w, r, err, "load thread failed")
		return
	}
	if !s.inflight.cancel(id) {
		httputil.NotFound(w, "No answer is in progress for this thread.")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleLive(w http.ResponseWriter, r *http.Request) {
	thread, err := s.Read(r.Context(), logging.GetUserID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err, "read thread failed")
		return
	}

	s.hub.ServeWS(w, r, thread.ID, func() *live.Event {
		current, ok := s.inflight.get(thread.ID)
		if !ok {
			return nil
		}
		index, text := current.snapshot()
		if index < 0 {
			return nil
		}
		return &live.Event{Type: live.EventDelta, ChatIndex: index, Answer: text}
	})
}

func storeError(err error) error {
	if svcerrors.GetServiceError(err) != nil {
		return err
	}
	if isNotFound(err) {
		return svcerrors.NotFound("Thread not found")
	}
	return err
}
