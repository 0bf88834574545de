package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/omniplex-ai/omniplex/internal/app/domain/chat"
	"github.com/omniplex-ai/omniplex/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu       sync.RWMutex
	threads  map[string]chat.Thread
	index    map[string]chat.IndexEntry
	profiles map[string]chat.Profile
	now      func() time.Time
}

var _ storage.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		threads:  make(map[string]chat.Thread),
		index:    make(map[string]chat.IndexEntry),
		profiles: make(map[string]chat.Profile),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ThreadStore implementation --------------------------------------------------

func (s *Store) CreateThread(_ context.Context, thread chat.Thread) (chat.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.threads[thread.ID]; exists {
		return chat.Thread{}, storage.ErrAlreadyExists
	}
	now := s.now()
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = now
	}
	thread.UpdatedAt = now
	s.threads[thread.ID] = thread.Clone()
	return thread.Clone(), nil
}

func (s *Store) GetThread(_ context.Context, userID, id string) (chat.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	thread, ok := s.threads[id]
	if !ok || thread.UserID != userID {
		return chat.Thread{}, storage.ErrNotFound
	}
	return thread.Clone(), nil
}

func (s *Store) UpdateThread(_ context.Context, thread chat.Thread) (chat.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.threads[thread.ID]
	if !ok || existing.UserID != thread.UserID {
		return chat.Thread{}, storage.ErrNotFound
	}
	existing.Chats = thread.Chats
	existing.Messages = thread.Messages
	existing.UpdatedAt = s.now()
	s.threads[thread.ID] = existing.Clone()
	return existing.Clone(), nil
}

func (s *Store) SetShared(_ context.Context, userID, id string, shared bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	thread, ok := s.threads[id]
	if !ok || thread.UserID != userID {
		return storage.ErrNotFound
	}
	thread.Shared = shared
	thread.UpdatedAt = s.now()
	s.threads[id] = thread
	return nil
}

func (s *Store) ListThreads(_ context.Context, userID string, limit int) ([]chat.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []chat.Thread
	for _, thread := range s.threads {
		if thread.UserID == userID {
			result = append(result, thread.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) DeleteThread(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	thread, ok := s.threads[id]
	if !ok || thread.UserID != userID {
		return storage.ErrNotFound
	}
	delete(s.threads, id)
	return nil
}

// IndexStore implementation ---------------------------------------------------

func (s *Store) GetIndex(_ context.Context, threadID string) (chat.IndexEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.index[threadID]
	if !ok {
		return chat.IndexEntry{}, storage.ErrNotFound
	}
	return entry, nil
}

func (s *Store) PutIndex(_ context.Context, entry chat.IndexEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	s.index[entry.ThreadID] = entry
	return nil
}

func (s *Store) DeleteIndex(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.index, threadID)
	return nil
}

// ProfileStore implementation -------------------------------------------------

func (s *Store) GetProfile(_ context.Context, userID string) (chat.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	profile, ok := s.profiles[userID]
	if !ok {
		return chat.Profile{}, storage.ErrNotFound
	}
	return profile, nil
}

func (s *Store) GetProfileByCustomer(_ context.Context, customerID string) (chat.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if customerID == "" {
		return chat.Profile{}, storage.ErrNotFound
	}
	for _, profile := range s.profiles {
		if profile.StripeCustomerID == customerID {
			return profile, nil
		}
	}
	return chat.Profile{}, storage.ErrNotFound
}

func (s *Store) UpsertProfile(_ context.Context, profile chat.Profile) (chat.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.profiles[profile.UserID]; ok {
		// Subscription fields are only written through SetPro.
		profile.IsPro = existing.IsPro
		profile.StripeCustomerID = existing.StripeCustomerID
	}
	profile.UpdatedAt = s.now()
	s.profiles[profile.UserID] = profile
	return profile, nil
}

func (s *Store) SetPro(_ context.Context, userID string, isPro bool, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile := s.profiles[userID]
	profile.UserID = userID
	profile.IsPro = isPro
	if customerID != "" {
		profile.StripeCustomerID = customerID
	}
	profile.UpdatedAt = s.now()
	s.profiles[userID] = profile
	return nil
}

func (s *Store) DeleteUserData(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, thread := range s.threads {
		if thread.UserID == userID {
			delete(s.threads, id)
		}
	}
	for id, entry := range s.index {
		if entry.UserID == userID {
			delete(s.index, id)
		}
	}
	delete(s.profiles, userID)
	return nil
}

// HealthCheck always succeeds.
func (s *Store) HealthCheck(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }
