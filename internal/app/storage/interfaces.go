// Package storage defines the persistence contracts for threads, the share
// index and user profiles.
package storage

import (
	"context"
	"errors"

	"github.com/omniplex-ai/omniplex/internal/app/domain/chat"
)

var (
	// ErrNotFound is returned when a record does not exist or is not owned
	// by the requested user.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when creating a record whose ID is taken.
	ErrAlreadyExists = errors.New("already exists")
)

// ThreadStore persists chat threads under their owner.
type ThreadStore interface {
	CreateThread(ctx context.Context, thread chat.Thread) (chat.Thread, error)
	GetThread(ctx context.Context, userID, id string) (chat.Thread, error)
	// UpdateThread replaces the chats and messages of an existing thread.
	UpdateThread(ctx context.Context, thread chat.Thread) (chat.Thread, error)
	SetShared(ctx context.Context, userID, id string, shared bool) error
	// ListThreads returns the user's threads, newest first.
	ListThreads(ctx context.Context, userID string, limit int) ([]chat.Thread, error)
	DeleteThread(ctx context.Context, userID, id string) error
}

// IndexStore resolves thread IDs to owners.
type IndexStore interface {
	GetIndex(ctx context.Context, threadID string) (chat.IndexEntry, error)
	PutIndex(ctx context.Context, entry chat.IndexEntry) error
	DeleteIndex(ctx context.Context, threadID string) error
}

// ProfileStore persists account profiles.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (chat.Profile, error)
	GetProfileByCustomer(ctx context.Context, customerID string) (chat.Profile, error)
	UpsertProfile(ctx context.Context, profile chat.Profile) (chat.Profile, error)
	// SetPro updates the subscription flag, creating the profile if needed.
	// An empty customerID leaves the stored one untouched.
	SetPro(ctx context.Context, userID string, isPro bool, customerID string) error
	// DeleteUserData removes the user's threads, index entries and profile.
	DeleteUserData(ctx context.Context, userID string) error
}

// Store is the full persistence surface used by the services.
type Store interface {
	ThreadStore
	IndexStore
	ProfileStore
	HealthCheck(ctx context.Context) error
	Close() error
}
