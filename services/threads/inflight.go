package threads

import (
	"context"
	"strings"
	"sync"
)

// run is one in-flight answer.
type run struct {
	cancel context.CancelFunc

	mu        sync.Mutex
	chatIndex int
	answer    strings.Builder
}

// setChat records which chat the run answers once the thread is loaded.
func (r *run) setChat(i int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chatIndex = i
}

// snapshot returns the chat index and the text so far. The index is -1
// until the thread has been loaded.
func (r *run) snapshot() (int, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chatIndex, r.answer.String()
}

func (r *run) append(delta string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answer.WriteString(delta)
	return r.answer.String()
}

// inflight allows at most one running answer per thread.
type inflight struct {
	mu   sync.Mutex
	runs map[string]*run
}

func newInflight() *inflight {
	return &inflight{runs: make(map[string]*run)}
}

// start reserves threadID for a run. It returns false when one is already
// running. Callers load the thread after reserving so no chat added in
// between is overwritten.
func (f *inflight) start(threadID string, cancel context.CancelFunc) (*run, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, busy := f.runs[threadID]; busy {
		return nil, false
	}
	r := &run{chatIndex: -1, cancel: cancel}
	f.runs[threadID] = r
	return r, true
}

func (f *inflight) finish(threadID string, r *run) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.runs[threadID] == r {
		delete(f.runs, threadID)
	}
}

func (f *inflight) get(threadID string) (*run, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[threadID]
	return r, ok
}

// cancel aborts the run for threadID and reports whether there was one.
func (f *inflight) cancel(threadID string) bool {
	r, ok := f.get(threadID)
	if ok {
		r.cancel()
	}
	return ok
}

func (f *inflight) busy(threadID string) bool {
	_, ok := f.get(threadID)
	return ok
}
