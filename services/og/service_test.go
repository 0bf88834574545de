package og

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omniplex-ai/omniplex/internal/app/domain/chat"
	"github.com/omniplex-ai/omniplex/internal/app/storage/memory"
	"github.com/omniplex-ai/omniplex/internal/cache"
	"github.com/omniplex-ai/omniplex/internal/logging"
)

func newService(t *testing.T) (*Service, *memory.Store, *mux.Router) {
	t.Helper()
	store := memory.New()
	mem, err := cache.NewMemory(8)
	require.NoError(t, err)
	svc := New(store, mem, "https://omniplex.example/", logging.NewDiscard())
	router := mux.NewRouter()
	svc.RegisterRoutes(router)
	return svc, store, router
}

func seed(t *testing.T, store *memory.Store, id string, chats []chat.Chat) {
	t.Helper()
	ctx := context.Background()
	_, err := store.CreateThread(ctx, chat.Thread{
		ID:        id,
		UserID:    "alice",
		Chats:     chats,
		CreatedAt: time.Date(2024, time.March, 5, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.NoError(t, store.PutIndex(ctx, chat.IndexEntry{ThreadID: id, UserID: "alice"}))
}

func TestCutString(t *testing.T) {
	assert.Equal(t, "short", CutString("short", 64))
	assert.Equal(t, "abc...", CutString("abcdef", 3))
}

func TestReadingMinutes(t *testing.T) {
	assert.Equal(t, 1, ReadingMinutes(0))
	assert.Equal(t, 1, ReadingMinutes(200))
	assert.Equal(t, 2, ReadingMinutes(201))
}

func TestCardFor(t *testing.T) {
	svc, store, _ := newService(t)
	question := strings.Repeat("why ", 20)
	seed(t, store, "abcdefghij", []chat.Chat{
		{Question: question, Answer: strings.Repeat("word ", 300)},
	})

	card, found, err := svc.CardFor(context.Background(), "abcdefghij")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, CutString(question, 64), card.Title)
	assert.Equal(t, "March 5, 2024 — 2 min read", card.Subtitle)

	for _, id := range []string{"", "short", "missing123"} {
		card, found, err = svc.CardFor(context.Background(), id)
		require.NoError(t, err)
		assert.False(t, found)
		assert.Equal(t, DefaultCard, card)
	}
}

func TestImageHandler(t *testing.T) {
	_, store, router := newService(t)
	seed(t, store, "abcdefghij", []chat.Chat{{Question: "What is the capital of France?", Answer: "Paris."}})

	for _, target := range []string{"/api/og?id=abcdefghij", "/api/og"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		require.Equal(t, http.StatusOK, rec.Code, target)
		assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
		assert.Equal(t, "public, max-age=3600", rec.Header().Get("Cache-Control"))

		img, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
		require.NoError(t, err)
		assert.Equal(t, Width, img.Bounds().Dx())
		assert.Equal(t, Height, img.Bounds().Dy())
	}
}

func TestMetaHandler(t *testing.T) {
	_, _, router := newService(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chat/abcdefghij/meta", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var meta Metadata
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &meta))
	assert.Equal(t, "https://omniplex.example/chat/abcdefghij", meta.OpenGraph.URL)
	require.Len(t, meta.OpenGraph.Images, 1)
	assert.Equal(t, "https://omniplex.example/api/og?id=abcdefghij", meta.OpenGraph.Images[0].URL)
	assert.Equal(t, "summary_large_image", meta.Twitter.Card)
}
