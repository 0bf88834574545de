package memory

import (
	"context"
	"testing"

	"github.com/omniplex-ai/omniplex/internal/app/domain/chat"
	"github.com/omniplex-ai/omniplex/internal/app/storage/storagetest"
)

func TestStoreContract(t *testing.T) {
	storagetest.Run(t, New(), "")
}

func TestStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := New()

	created, _ := s.CreateThread(ctx, chat.Thread{ID: "abc", UserID: "u", Chats: []chat.Chat{{Question: "q"}}})
	created.Chats[0].Question = "mutated"

	got, _ := s.GetThread(ctx, "u", "abc")
	if got.Chats[0].Question != "q" {
		t.Errorf("store shares memory with caller: %q", got.Chats[0].Question)
	}
}
