// Package storagetest holds behaviour tests every storage.Store must pass.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/omniplex-ai/omniplex/internal/app/domain/chat"
	"github.com/omniplex-ai/omniplex/internal/app/storage"
)

// Run exercises store against the storage contract. IDs are prefixed so the
// suite can run against a shared database.
func Run(t *testing.T, store storage.Store, prefix string) {
	ctx := context.Background()
	owner := prefix + "owner"
	other := prefix + "other"

	t.Run("thread lifecycle", func(t *testing.T) {
		created, err := store.CreateThread(ctx, chat.Thread{
			ID:       prefix + "t1",
			UserID:   owner,
			Chats:    []chat.Chat{{Question: "What is Go?", Mode: chat.ModeChat}},
			Messages: []chat.Message{{Role: chat.RoleSystem, Content: "sys"}, {Role: chat.RoleUser, Content: "What is Go?"}},
		})
		if err != nil {
			t.Fatalf("CreateThread: %v", err)
		}
		if created.CreatedAt.IsZero() {
			t.Error("CreatedAt not set")
		}

		if _, err := store.CreateThread(ctx, chat.Thread{ID: prefix + "t1", UserID: owner}); !errors.Is(err, storage.ErrAlreadyExists) {
			t.Errorf("duplicate CreateThread error = %v, want ErrAlreadyExists", err)
		}

		got, err := store.GetThread(ctx, owner, prefix+"t1")
		if err != nil {
			t.Fatalf("GetThread: %v", err)
		}
		if len(got.Chats) != 1 || got.Chats[0].Question != "What is Go?" || len(got.Messages) != 2 {
			t.Errorf("GetThread returned %+v", got)
		}

		if _, err := store.GetThread(ctx, other, prefix+"t1"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("GetThread by non-owner error = %v, want ErrNotFound", err)
		}

		got.Chats[0].Answer = "A language."
		got.Messages = append(got.Messages, chat.Message{Role: chat.RoleAssistant, Content: "A language."})
		if _, err := store.UpdateThread(ctx, got); err != nil {
			t.Fatalf("UpdateThread: %v", err)
		}
		got, _ = store.GetThread(ctx, owner, prefix+"t1")
		if got.Chats[0].Answer != "A language." || len(got.Messages) != 3 {
			t.Errorf("update not persisted: %+v", got)
		}

		if err := store.SetShared(ctx, owner, prefix+"t1", true); err != nil {
			t.Fatalf("SetShared: %v", err)
		}
		got, _ = store.GetThread(ctx, owner, prefix+"t1")
		if !got.Shared {
			t.Error("Shared not persisted")
		}
		if err := store.SetShared(ctx, other, prefix+"t1", false); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("SetShared by non-owner error = %v", err)
		}
	})

	t.Run("list newest first", func(t *testing.T) {
		base := time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)
		for i, id := range []string{"l1", "l2", "l3"} {
			_, err := store.CreateThread(ctx, chat.Thread{
				ID:        prefix + id,
				UserID:    prefix + "lister",
				CreatedAt: base.Add(time.Duration(i) * time.Minute),
			})
			if err != nil {
				t.Fatalf("CreateThread(%s): %v", id, err)
			}
		}

		list, err := store.ListThreads(ctx, prefix+"lister", 2)
		if err != nil {
			t.Fatalf("ListThreads: %v", err)
		}
		if len(list) != 2 || list[0].ID != prefix+"l3" || list[1].ID != prefix+"l2" {
			t.Errorf("ListThreads order = %v", ids(list))
		}
	})

	t.Run("index", func(t *testing.T) {
		if _, err := store.GetIndex(ctx, prefix+"missing"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("GetIndex(missing) error = %v", err)
		}
		if err := store.PutIndex(ctx, chat.IndexEntry{ThreadID: prefix + "t1", UserID: owner}); err != nil {
			t.Fatalf("PutIndex: %v", err)
		}
		entry, err := store.GetIndex(ctx, prefix+"t1")
		if err != nil || entry.UserID != owner {
			t.Errorf("GetIndex = %+v, %v", entry, err)
		}
		if err := store.DeleteIndex(ctx, prefix+"t1"); err != nil {
			t.Fatalf("DeleteIndex: %v", err)
		}
		if _, err := store.GetIndex(ctx, prefix+"t1"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("GetIndex after delete error = %v", err)
		}
	})

	t.Run("profiles", func(t *testing.T) {
		user := prefix + "payer"
		if _, err := store.GetProfile(ctx, user); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("GetProfile(missing) error = %v", err)
		}
		if _, err := store.UpsertProfile(ctx, chat.Profile{UserID: user, Name: "Ada", Email: "ada@example.com"}); err != nil {
			t.Fatalf("UpsertProfile: %v", err)
		}
		if err := store.SetPro(ctx, user, true, prefix+"cus_1"); err != nil {
			t.Fatalf("SetPro: %v", err)
		}

		// A later profile refresh must not clear the subscription.
		if _, err := store.UpsertProfile(ctx, chat.Profile{UserID: user, Name: "Ada L."}); err != nil {
			t.Fatalf("UpsertProfile: %v", err)
		}
		p, err := store.GetProfile(ctx, user)
		if err != nil {
			t.Fatalf("GetProfile: %v", err)
		}
		if !p.IsPro || p.Name != "Ada L." {
			t.Errorf("profile = %+v", p)
		}

		byCustomer, err := store.GetProfileByCustomer(ctx, prefix+"cus_1")
		if err != nil || byCustomer.UserID != user {
			t.Errorf("GetProfileByCustomer = %+v, %v", byCustomer, err)
		}

		if err := store.SetPro(ctx, user, false, ""); err != nil {
			t.Fatalf("SetPro(false): %v", err)
		}
		p, _ = store.GetProfile(ctx, user)
		if p.IsPro {
			t.Error("IsPro still set")
		}
	})

	t.Run("delete user data", func(t *testing.T) {
		user := prefix + "leaver"
		store.CreateThread(ctx, chat.Thread{ID: prefix + "d1", UserID: user})
		store.PutIndex(ctx, chat.IndexEntry{ThreadID: prefix + "d1", UserID: user})
		store.SetPro(ctx, user, true, "")

		if err := store.DeleteUserData(ctx, user); err != nil {
			t.Fatalf("DeleteUserData: %v", err)
		}
		if _, err := store.GetThread(ctx, user, prefix+"d1"); !errors.Is(err, storage.ErrNotFound) {
			t.Error("thread survived DeleteUserData")
		}
		if _, err := store.GetIndex(ctx, prefix+"d1"); !errors.Is(err, storage.ErrNotFound) {
			t.Error("index entry survived DeleteUserData")
		}
		if _, err := store.GetProfile(ctx, user); !errors.Is(err, storage.ErrNotFound) {
			t.Error("profile survived DeleteUserData")
		}
	})

	t.Run("delete thread", func(t *testing.T) {
		if err := store.DeleteThread(ctx, other, prefix+"t1"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("DeleteThread by non-owner error = %v", err)
		}
		if err := store.DeleteThread(ctx, owner, prefix+"t1"); err != nil {
			t.Fatalf("DeleteThread: %v", err)
		}
		if _, err := store.GetThread(ctx, owner, prefix+"t1"); !errors.Is(err, storage.ErrNotFound) {
			t.Error("thread survived DeleteThread")
		}
	})

	if err := store.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck: %v", err)
	}
}

func ids(threads []chat.Thread) []string {
	out := make([]string, len(threads))
	for i, t := range threads {
		out[i] = t.ID
	}
	return out
}
