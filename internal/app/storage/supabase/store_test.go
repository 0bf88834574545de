package supabase

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omniplex-ai/omniplex/internal/app/storage"
	"github.com/omniplex-ai/omniplex/internal/app/storage/storagetest"
	"github.com/omniplex-ai/omniplex/supabase/client"
)

// fakePostgREST understands the subset of PostgREST the store uses: eq
// filters, order, limit, single-object reads, inserts, merge upserts,
// patches and deletes returning representation.
type fakePostgREST struct {
	mu     sync.Mutex
	tables map[string][]map[string]interface{}
	keys   map[string]string
}

func newFakePostgREST() *fakePostgREST {
	return &fakePostgREST{
		tables: map[string][]map[string]interface{}{},
		keys: map[string]string{
			tableThreads:  "id",
			tableIndex:    "thread_id",
			tableProfiles: "user_id",
		},
	}
}

func (f *fakePostgREST) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	table := strings.TrimPrefix(r.URL.Path, "/rest/v1/")
	if table == "" {
		w.WriteHeader(http.StatusOK)
		return
	}
	key, ok := f.keys[table]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"code": "42P01", "message": "relation does not exist"})
		return
	}

	query := r.URL.Query()
	matches := func(row map[string]interface{}) bool {
		for col, vals := range query {
			switch col {
			case "select", "order", "limit", "on_conflict":
				continue
			}
			for _, v := range vals {
				want := strings.TrimPrefix(v, "eq.")
				if toString(row[col]) != want {
					return false
				}
			}
		}
		return true
	}

	switch r.Method {
	case http.MethodGet:
		var out []map[string]interface{}
		for _, row := range f.tables[table] {
			if matches(row) {
				out = append(out, row)
			}
		}
		sortRows(out, query.Get("order"))
		if n, err := strconv.Atoi(query.Get("limit")); err == nil && n < len(out) {
			out = out[:n]
		}
		if r.Header.Get("Accept") == "application/vnd.pgrst.object+json" {
			if len(out) != 1 {
				writeJSON(w, http.StatusNotAcceptable, map[string]string{"code": "PGRST116"})
				return
			}
			writeJSON(w, http.StatusOK, out[0])
			return
		}
		writeJSON(w, http.StatusOK, nonNil(out))

	case http.MethodPost:
		var row map[string]interface{}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &row); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
			return
		}
		upsert := strings.Contains(r.Header.Get("Prefer"), "merge-duplicates")
		for _, existing := range f.tables[table] {
			if toString(existing[key]) == toString(row[key]) {
				if !upsert {
					writeJSON(w, http.StatusConflict, map[string]string{"code": "23505", "message": "duplicate key"})
					return
				}
				for k, v := range row {
					existing[k] = v
				}
				writeJSON(w, http.StatusOK, []map[string]interface{}{existing})
				return
			}
		}
		f.tables[table] = append(f.tables[table], row)
		writeJSON(w, http.StatusCreated, []map[string]interface{}{row})

	case http.MethodPatch:
		var patch map[string]interface{}
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &patch)
		var out []map[string]interface{}
		for _, row := range f.tables[table] {
			if matches(row) {
				for k, v := range patch {
					row[k] = v
				}
				out = append(out, row)
			}
		}
		writeJSON(w, http.StatusOK, nonNil(out))

	case http.MethodDelete:
		var kept, out []map[string]interface{}
		for _, row := range f.tables[table] {
			if matches(row) {
				out = append(out, row)
			} else {
				kept = append(kept, row)
			}
		}
		f.tables[table] = kept
		writeJSON(w, http.StatusOK, nonNil(out))
	}
}

func sortRows(rows []map[string]interface{}, order string) {
	if order == "" {
		return
	}
	specs := strings.Split(order, ",")
	sort.SliceStable(rows, func(i, j int) bool {
		for _, spec := range specs {
			col, dir, _ := strings.Cut(spec, ".")
			a, b := toString(rows[i][col]), toString(rows[j][col])
			if ta, err := time.Parse(time.RFC3339Nano, a); err == nil {
				if tb, err := time.Parse(time.RFC3339Nano, b); err == nil {
					if ta.Equal(tb) {
						continue
					}
					return ta.After(tb) == (dir == "desc")
				}
			}
			if a == b {
				continue
			}
			return (a > b) == (dir == "desc")
		}
		return false
	})
}

func toString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	default:
		raw, _ := json.Marshal(val)
		return string(raw)
	}
}

func nonNil(rows []map[string]interface{}) []map[string]interface{} {
	if rows == nil {
		return []map[string]interface{}{}
	}
	return rows
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func newTestStore(t *testing.T, handler http.Handler) *Store {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := client.New(client.Config{URL: server.URL, APIKey: "service-role", DisableResilience: true})
	require.NoError(t, err)
	return New(c)
}

func TestStoreContract(t *testing.T) {
	storagetest.Run(t, newTestStore(t, newFakePostgREST()), "")
}

func TestSetPro_OmitsEmptyCustomer(t *testing.T) {
	var payload map[string]interface{}
	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/profiles", r.URL.Path)
		assert.Equal(t, "user_id", r.URL.Query().Get("on_conflict"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &payload))
		writeJSON(w, http.StatusCreated, []interface{}{payload})
	}))

	require.NoError(t, store.SetPro(context.Background(), "u1", true, ""))
	assert.Equal(t, true, payload["is_pro"])
	_, hasCustomer := payload["stripe_customer_id"]
	assert.False(t, hasCustomer)
}

func TestUpstreamErrorIsWrapped(t *testing.T) {
	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "boom"})
	}))

	_, err := store.GetThread(context.Background(), "u1", "t1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, storage.ErrNotFound)

	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
}
