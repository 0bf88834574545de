package threads

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/omniplex-ai/omniplex/internal/app/domain/chat"
	svcerrors "github.com/omniplex-ai/omniplex/internal/errors"
	"github.com/omniplex-ai/omniplex/internal/httputil"
	"github.com/omniplex-ai/omniplex/internal/live"
	"github.com/omniplex-ai/omniplex/internal/llm"
)

const answerFailed = "Something went wrong. Please try again later."

// applyFunc stores a finished (or partial) answer into the thread.
type applyFunc func(thread *chat.Thread, answer string)

// appendAnswer sets the last chat's answer and logs it as a new assistant
// turn.
func appendAnswer(thread *chat.Thread, answer string) {
	thread.LastChat().Answer = answer
	thread.Messages = append(thread.Messages, chat.Message{Role: chat.RoleAssistant, Content: answer})
}

// replaceAnswer overwrites the last chat's answer and the last assistant
// turn.
func replaceAnswer(thread *chat.Thread, answer string) {
	thread.LastChat().Answer = answer
	if i := thread.LastIndexOf(chat.RoleAssistant); i >= 0 {
		thread.Messages[i].Content = answer
		return
	}
	thread.Messages = append(thread.Messages, chat.Message{Role: chat.RoleAssistant, Content: answer})
}

// planFunc builds the completion for a freshly loaded thread. A non-empty
// conflict message rejects the request with 409.
type planFunc func(thread chat.Thread) (req llm.CompletionRequest, conflict string)

// streamAnswer reserves the thread, reloads it, and streams a completion for
// its last chat to w and to live viewers, then persists the result with
// apply. A canceled run keeps its partial answer.
func (s *Service) streamAnswer(w http.ResponseWriter, r *http.Request, userID, id string, plan planFunc, apply applyFunc) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	current, ok := s.inflight.start(id, cancel)
	if !ok {
		httputil.WriteError(w, r, svcerrors.Conflict("An answer is already in progress for this thread."))
		return
	}
	defer s.inflight.finish(id, current)

	thread, err := s.owned(ctx, userID, id)
	if err != nil {
		s.fail(w, r, err, "load thread failed")
		return
	}
	req, conflict := plan(thread)
	if conflict != "" {
		httputil.Conflict(w, conflict)
		return
	}
	chatIndex := len(thread.Chats) - 1
	current.setChat(chatIndex)

	log := s.logger.WithContext(ctx).WithField("thread_id", thread.ID).WithField("model", req.Model)
	flusher, _ := w.(http.Flusher)
	started := false
	begin := func() {
		if started {
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
		started = true
	}

	var writeErr error
	answer, err := s.llm.Stream(ctx, req, func(delta string) error {
		text := current.append(delta)
		s.hub.Publish(thread.ID, live.Event{Type: live.EventDelta, ChatIndex: chatIndex, Answer: text})

		begin()
		if _, writeErr = io.WriteString(w, delta); writeErr != nil {
			return writeErr
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	})

	canceled := ctx.Err() != nil || writeErr != nil || errors.Is(err, context.Canceled)
	if err != nil && !canceled {
		log.WithError(err).Error("answer stream failed")
		s.hub.Publish(thread.ID, live.Event{Type: live.EventError, ChatIndex: chatIndex, Answer: answer, Error: answerFailed})
		if answer != "" {
			s.save(r.Context(), thread, answer, apply)
		}
		if !started {
			httputil.WriteError(w, r, svcerrors.Upstream(http.StatusBadGateway, answerFailed, err))
		}
		return
	}
	if canceled {
		log.Info("answer canceled, keeping partial answer")
	}

	if answer != "" || !canceled {
		s.save(r.Context(), thread, answer, apply)
	}
	s.hub.Publish(thread.ID, live.Event{Type: live.EventDone, ChatIndex: chatIndex, Answer: answer})
	begin()
}

func (s *Service) save(ctx context.Context, thread chat.Thread, answer string, apply applyFunc) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()

	apply(&thread, answer)
	if _, err := s.store.UpdateThread(ctx, thread); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("thread_id", thread.ID).Error("failed to save answer")
	}
}
