package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"

	"github.com/omniplex-ai/omniplex/internal/app/domain/chat"
	"github.com/omniplex-ai/omniplex/internal/app/storage"
)

const uniqueViolation = "23505"

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

var _ storage.Store = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Open connects to dsn with lib/pq and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return New(db), nil
}

// DB exposes the handle for migrations.
func (s *Store) DB() *sql.DB {
	return s.db.DB
}

type threadRow struct {
	ID        string         `db:"id"`
	UserID    string         `db:"user_id"`
	Chats     types.JSONText `db:"chats"`
	Messages  types.JSONText `db:"messages"`
	Shared    bool           `db:"shared"`
	CreatedAt time.Time      `db:"created_at"`
	UpdatedAt time.Time      `db:"updated_at"`
}

func (r threadRow) toThread() (chat.Thread, error) {
	t := chat.Thread{
		ID:        r.ID,
		UserID:    r.UserID,
		Shared:    r.Shared,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if err := r.Chats.Unmarshal(&t.Chats); err != nil {
		return chat.Thread{}, fmt.Errorf("decode chats for %s: %w", r.ID, err)
	}
	if err := r.Messages.Unmarshal(&t.Messages); err != nil {
		return chat.Thread{}, fmt.Errorf("decode messages for %s: %w", r.ID, err)
	}
	return t, nil
}

func encodeJSON(v interface{}) (types.JSONText, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(raw) == "null" {
		raw = []byte("[]")
	}
	return types.JSONText(raw), nil
}

const threadColumns = `id, user_id, chats, messages, shared, created_at, updated_at`

// --- ThreadStore ------------------------------------------------------------

func (s *Store) CreateThread(ctx context.Context, thread chat.Thread) (chat.Thread, error) {
	now := s.now()
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = now
	}
	thread.UpdatedAt = now

	chats, err := encodeJSON(thread.Chats)
	if err != nil {
		return chat.Thread{}, err
	}
	messages, err := encodeJSON(thread.Messages)
	if err != nil {
		return chat.Thread{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chat_threads (`+threadColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, thread.ID, thread.UserID, chats, messages, thread.Shared, thread.CreatedAt, thread.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return chat.Thread{}, storage.ErrAlreadyExists
		}
		return chat.Thread{}, fmt.Errorf("insert thread: %w", err)
	}
	return thread, nil
}

func (s *Store) GetThread(ctx context.Context, userID, id string) (chat.Thread, error) {
	var row threadRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+threadColumns+`
		FROM chat_threads
		WHERE id = $1 AND user_id = $2
	`, id, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Thread{}, storage.ErrNotFound
	}
	if err != nil {
		return chat.Thread{}, fmt.Errorf("get thread: %w", err)
	}
	return row.toThread()
}

func (s *Store) UpdateThread(ctx context.Context, thread chat.Thread) (chat.Thread, error) {
	chats, err := encodeJSON(thread.Chats)
	if err != nil {
		return chat.Thread{}, err
	}
	messages, err := encodeJSON(thread.Messages)
	if err != nil {
		return chat.Thread{}, err
	}

	var row threadRow
	err = s.db.GetContext(ctx, &row, `
		UPDATE chat_threads
		SET chats = $3, messages = $4, updated_at = $5
		WHERE id = $1 AND user_id = $2
		RETURNING `+threadColumns, thread.ID, thread.UserID, chats, messages, s.now())
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Thread{}, storage.ErrNotFound
	}
	if err != nil {
		return chat.Thread{}, fmt.Errorf("update thread: %w", err)
	}
	return row.toThread()
}

func (s *Store) SetShared(ctx context.Context, userID, id string, shared bool) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE chat_threads SET shared = $3, updated_at = $4
		WHERE id = $1 AND user_id = $2
	`, id, userID, shared, s.now())
	if err != nil {
		return fmt.Errorf("set shared: %w", err)
	}
	return requireRow(result)
}

func (s *Store) ListThreads(ctx context.Context, userID string, limit int) ([]chat.Thread, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []threadRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+threadColumns+`
		FROM chat_threads
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}

	result := make([]chat.Thread, 0, len(rows))
	for _, row := range rows {
		t, err := row.toThread()
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, nil
}

func (s *Store) DeleteThread(ctx context.Context, userID, id string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM chat_threads WHERE id = $1 AND user_id = $2
	`, id, userID)
	if err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	return requireRow(result)
}

// --- IndexStore -------------------------------------------------------------

func (s *Store) GetIndex(ctx context.Context, threadID string) (chat.IndexEntry, error) {
	var entry chat.IndexEntry
	err := s.db.QueryRowxContext(ctx, `
		SELECT thread_id, user_id, created_at FROM chat_index WHERE thread_id = $1
	`, threadID).Scan(&entry.ThreadID, &entry.UserID, &entry.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.IndexEntry{}, storage.ErrNotFound
	}
	if err != nil {
		return chat.IndexEntry{}, fmt.Errorf("get index: %w", err)
	}
	return entry, nil
}

func (s *Store) PutIndex(ctx context.Context, entry chat.IndexEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_index (thread_id, user_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (thread_id) DO UPDATE SET user_id = EXCLUDED.user_id
	`, entry.ThreadID, entry.UserID, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("put index: %w", err)
	}
	return nil
}

func (s *Store) DeleteIndex(ctx context.Context, threadID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chat_index WHERE thread_id = $1`, threadID); err != nil {
		return fmt.Errorf("delete index: %w", err)
	}
	return nil
}

// --- ProfileStore -----------------------------------------------------------

type profileRow struct {
	UserID           string    `db:"user_id"`
	Name             string    `db:"name"`
	Email            string    `db:"email"`
	ProfilePic       string    `db:"profile_pic"`
	IsPro            bool      `db:"is_pro"`
	StripeCustomerID string    `db:"stripe_customer_id"`
	UpdatedAt        time.Time `db:"updated_at"`
}

func (r profileRow) toProfile() chat.Profile {
	return chat.Profile(r)
}

const profileColumns = `user_id, name, email, profile_pic, is_pro, stripe_customer_id, updated_at`

func (s *Store) getProfileWhere(ctx context.Context, where string, arg interface{}) (chat.Profile, error) {
	var row profileRow
	err := s.db.GetContext(ctx, &row, `SELECT `+profileColumns+` FROM profiles WHERE `+where+` = $1`, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Profile{}, storage.ErrNotFound
	}
	if err != nil {
		return chat.Profile{}, fmt.Errorf("get profile: %w", err)
	}
	return row.toProfile(), nil
}

func (s *Store) GetProfile(ctx context.Context, userID string) (chat.Profile, error) {
	return s.getProfileWhere(ctx, "user_id", userID)
}

func (s *Store) GetProfileByCustomer(ctx context.Context, customerID string) (chat.Profile, error) {
	if customerID == "" {
		return chat.Profile{}, storage.ErrNotFound
	}
	return s.getProfileWhere(ctx, "stripe_customer_id", customerID)
}

func (s *Store) UpsertProfile(ctx context.Context, profile chat.Profile) (chat.Profile, error) {
	row := profileRow{
		UserID:     profile.UserID,
		Name:       profile.Name,
		Email:      profile.Email,
		ProfilePic: profile.ProfilePic,
		UpdatedAt:  s.now(),
	}
	var out profileRow
	query, args, err := s.db.BindNamed(`
		INSERT INTO profiles (user_id, name, email, profile_pic, updated_at)
		VALUES (:user_id, :name, :email, :profile_pic, :updated_at)
		ON CONFLICT (user_id) DO UPDATE
		SET name = EXCLUDED.name, email = EXCLUDED.email,
		    profile_pic = EXCLUDED.profile_pic, updated_at = EXCLUDED.updated_at
		RETURNING `+profileColumns, row)
	if err != nil {
		return chat.Profile{}, fmt.Errorf("bind profile: %w", err)
	}
	if err := s.db.GetContext(ctx, &out, query, args...); err != nil {
		return chat.Profile{}, fmt.Errorf("upsert profile: %w", err)
	}
	return out.toProfile(), nil
}

func (s *Store) SetPro(ctx context.Context, userID string, isPro bool, customerID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (user_id, is_pro, stripe_customer_id, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET is_pro = EXCLUDED.is_pro,
		    stripe_customer_id = CASE WHEN EXCLUDED.stripe_customer_id = ''
		        THEN profiles.stripe_customer_id ELSE EXCLUDED.stripe_customer_id END,
		    updated_at = EXCLUDED.updated_at
	`, userID, isPro, customerID, s.now())
	if err != nil {
		return fmt.Errorf("set pro: %w", err)
	}
	return nil
}

func (s *Store) DeleteUserData(ctx context.Context, userID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM chat_index WHERE user_id = $1`,
		`DELETE FROM chat_threads WHERE user_id = $1`,
		`DELETE FROM profiles WHERE user_id = $1`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, userID); err != nil {
			return fmt.Errorf("delete user data: %w", err)
		}
	}
	return tx.Commit()
}

// HealthCheck pings the database.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func requireRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}
