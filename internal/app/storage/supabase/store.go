// Package supabase implements the storage interfaces over a Supabase
// project's PostgREST API. It expects the tables created by the postgres
// migrations.
package supabase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/omniplex-ai/omniplex/internal/app/domain/chat"
	"github.com/omniplex-ai/omniplex/internal/app/storage"
	"github.com/omniplex-ai/omniplex/supabase/client"
)

const (
	tableThreads  = "chat_threads"
	tableIndex    = "chat_index"
	tableProfiles = "profiles"

	uniqueViolation = "23505"
)

// Store implements storage.Store using the Supabase REST API.
type Store struct {
	client *client.Client
	now    func() time.Time
}

var _ storage.Store = (*Store)(nil)

// New creates a Store on top of an existing client.
func New(c *client.Client) *Store {
	return &Store{client: c, now: func() time.Time { return time.Now().UTC() }}
}

// Open builds a client for url using the service-role key.
func Open(url, serviceKey string) (*Store, error) {
	c, err := client.New(client.Config{URL: url, APIKey: serviceKey})
	if err != nil {
		return nil, fmt.Errorf("supabase client: %w", err)
	}
	return New(c), nil
}

type threadRow struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Chats     []chat.Chat    `json:"chats"`
	Messages  []chat.Message `json:"messages"`
	Shared    bool           `json:"shared"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func toRow(t chat.Thread) threadRow {
	row := threadRow(t)
	if row.Chats == nil {
		row.Chats = []chat.Chat{}
	}
	if row.Messages == nil {
		row.Messages = []chat.Message{}
	}
	return row
}

type indexRow struct {
	ThreadID  string    `json:"thread_id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

type profileRow struct {
	UserID           string    `json:"user_id"`
	Name             string    `json:"name"`
	Email            string    `json:"email"`
	ProfilePic       string    `json:"profile_pic"`
	IsPro            bool      `json:"is_pro"`
	StripeCustomerID string    `json:"stripe_customer_id"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// rows decodes a successful list response.
func rows[T any](resp *client.Response, err error, op string) ([]T, error) {
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := resp.Error(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var out []T
	if err := resp.JSON(&out); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", op, err)
	}
	return out, nil
}

// single decodes a Single() response, mapping "no rows" to ErrNotFound.
func single[T any](resp *client.Response, err error, op string) (T, error) {
	var out T
	if err != nil {
		return out, fmt.Errorf("%s: %w", op, err)
	}
	if resp.NoRows() {
		return out, storage.ErrNotFound
	}
	if err := resp.Error(); err != nil {
		return out, fmt.Errorf("%s: %w", op, err)
	}
	if err := resp.JSON(&out); err != nil {
		return out, fmt.Errorf("%s: decode: %w", op, err)
	}
	return out, nil
}

// --- ThreadStore ------------------------------------------------------------

func (s *Store) CreateThread(ctx context.Context, thread chat.Thread) (chat.Thread, error) {
	now := s.now()
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = now
	}
	thread.UpdatedAt = now

	resp, err := s.client.From(tableThreads).ExecuteInsert(ctx, toRow(thread))
	if err != nil {
		return chat.Thread{}, fmt.Errorf("insert thread: %w", err)
	}
	if err := resp.Error(); err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) && (apiErr.Code == uniqueViolation || apiErr.StatusCode == http.StatusConflict) {
			return chat.Thread{}, storage.ErrAlreadyExists
		}
		return chat.Thread{}, fmt.Errorf("insert thread: %w", err)
	}
	return thread, nil
}

func (s *Store) GetThread(ctx context.Context, userID, id string) (chat.Thread, error) {
	resp, err := s.client.From(tableThreads).
		Select("*").
		Eq("id", id).
		Eq("user_id", userID).
		Single().
		Execute(ctx)
	row, err := single[threadRow](resp, err, "get thread")
	if err != nil {
		return chat.Thread{}, err
	}
	return chat.Thread(row), nil
}

func (s *Store) UpdateThread(ctx context.Context, thread chat.Thread) (chat.Thread, error) {
	row := toRow(thread)
	patch := map[string]interface{}{
		"chats":      row.Chats,
		"messages":   row.Messages,
		"updated_at": s.now(),
	}
	resp, err := s.client.From(tableThreads).
		Eq("id", thread.ID).
		Eq("user_id", thread.UserID).
		ExecuteUpdate(ctx, patch)
	updated, err := rows[threadRow](resp, err, "update thread")
	if err != nil {
		return chat.Thread{}, err
	}
	if len(updated) == 0 {
		return chat.Thread{}, storage.ErrNotFound
	}
	return chat.Thread(updated[0]), nil
}

func (s *Store) SetShared(ctx context.Context, userID, id string, shared bool) error {
	resp, err := s.client.From(tableThreads).
		Eq("id", id).
		Eq("user_id", userID).
		ExecuteUpdate(ctx, map[string]interface{}{"shared": shared, "updated_at": s.now()})
	updated, err := rows[threadRow](resp, err, "set shared")
	if err != nil {
		return err
	}
	if len(updated) == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) ListThreads(ctx context.Context, userID string, limit int) ([]chat.Thread, error) {
	if limit <= 0 {
		limit = 100
	}
	resp, err := s.client.From(tableThreads).
		Select("*").
		Eq("user_id", userID).
		Order("created_at", false).
		Order("id", false).
		Limit(limit).
		Execute(ctx)
	list, err := rows[threadRow](resp, err, "list threads")
	if err != nil {
		return nil, err
	}
	out := make([]chat.Thread, len(list))
	for i, row := range list {
		out[i] = chat.Thread(row)
	}
	return out, nil
}

func (s *Store) DeleteThread(ctx context.Context, userID, id string) error {
	resp, err := s.client.From(tableThreads).
		Eq("id", id).
		Eq("user_id", userID).
		ExecuteDelete(ctx)
	deleted, err := rows[threadRow](resp, err, "delete thread")
	if err != nil {
		return err
	}
	if len(deleted) == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// --- IndexStore -------------------------------------------------------------

func (s *Store) GetIndex(ctx context.Context, threadID string) (chat.IndexEntry, error) {
	resp, err := s.client.From(tableIndex).
		Select("*").
		Eq("thread_id", threadID).
		Single().
		Execute(ctx)
	row, err := single[indexRow](resp, err, "get index")
	if err != nil {
		return chat.IndexEntry{}, err
	}
	return chat.IndexEntry(row), nil
}

func (s *Store) PutIndex(ctx context.Context, entry chat.IndexEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	resp, err := s.client.From(tableIndex).
		Upsert("thread_id").
		ExecuteInsert(ctx, indexRow(entry))
	_, err = rows[indexRow](resp, err, "put index")
	return err
}

func (s *Store) DeleteIndex(ctx context.Context, threadID string) error {
	resp, err := s.client.From(tableIndex).Eq("thread_id", threadID).ExecuteDelete(ctx)
	_, err = rows[indexRow](resp, err, "delete index")
	return err
}

// --- ProfileStore -----------------------------------------------------------

func (s *Store) GetProfile(ctx context.Context, userID string) (chat.Profile, error) {
	resp, err := s.client.From(tableProfiles).
		Select("*").
		Eq("user_id", userID).
		Single().
		Execute(ctx)
	row, err := single[profileRow](resp, err, "get profile")
	if err != nil {
		return chat.Profile{}, err
	}
	return chat.Profile(row), nil
}

func (s *Store) GetProfileByCustomer(ctx context.Context, customerID string) (chat.Profile, error) {
	if customerID == "" {
		return chat.Profile{}, storage.ErrNotFound
	}
	resp, err := s.client.From(tableProfiles).
		Select("*").
		Eq("stripe_customer_id", customerID).
		Limit(1).
		Execute(ctx)
	list, err := rows[profileRow](resp, err, "get profile by customer")
	if err != nil {
		return chat.Profile{}, err
	}
	if len(list) == 0 {
		return chat.Profile{}, storage.ErrNotFound
	}
	return chat.Profile(list[0]), nil
}

// UpsertProfile merges only the identity columns, so PostgREST leaves the
// subscription columns of an existing row alone.
func (s *Store) UpsertProfile(ctx context.Context, profile chat.Profile) (chat.Profile, error) {
	payload := map[string]interface{}{
		"user_id":     profile.UserID,
		"name":        profile.Name,
		"email":       profile.Email,
		"profile_pic": profile.ProfilePic,
		"updated_at":  s.now(),
	}
	resp, err := s.client.From(tableProfiles).Upsert("user_id").ExecuteInsert(ctx, payload)
	list, err := rows[profileRow](resp, err, "upsert profile")
	if err != nil {
		return chat.Profile{}, err
	}
	if len(list) == 0 {
		return chat.Profile{}, fmt.Errorf("upsert profile: empty response")
	}
	return chat.Profile(list[0]), nil
}

func (s *Store) SetPro(ctx context.Context, userID string, isPro bool, customerID string) error {
	payload := map[string]interface{}{
		"user_id":    userID,
		"is_pro":     isPro,
		"updated_at": s.now(),
	}
	if customerID != "" {
		payload["stripe_customer_id"] = customerID
	}
	resp, err := s.client.From(tableProfiles).Upsert("user_id").ExecuteInsert(ctx, payload)
	_, err = rows[profileRow](resp, err, "set pro")
	return err
}

// DeleteUserData removes rows table by table. PostgREST has no multi-table
// transaction, so a failure part way leaves the remaining tables intact and
// the call can be retried.
func (s *Store) DeleteUserData(ctx context.Context, userID string) error {
	for _, table := range []string{tableIndex, tableThreads, tableProfiles} {
		resp, err := s.client.From(table).Eq("user_id", userID).ExecuteDelete(ctx)
		if err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
		if err := resp.Error(); err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}
	return nil
}

// HealthCheck verifies the REST endpoint answers.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx)
}

// Close is a no-op; the client holds no persistent connections of its own.
func (s *Store) Close() error {
	return nil
}
