package scrape

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omniplex-ai/omniplex/internal/cache"
	"github.com/omniplex-ai/omniplex/internal/config"
	"github.com/omniplex-ai/omniplex/internal/logging"
)

const article = `<!doctype html>
<html><head><title>T</title><style>body{color:red}</style></head>
<body>
  <script>var tracking = true;</script>
  <h1>Hello   World</h1>
  <p>Go is <b>fun</b>.<!-- hidden --></p>
  <a href="/docs">Read the docs</a>
</body></html>`

func TestExtractText(t *testing.T) {
	assert.Equal(t, "Hello World Go is fun . Read the docs", ExtractText([]byte(article), 5000))
	assert.Equal(t, "Hello", ExtractText([]byte(article), 5))
	assert.Equal(t, "", ExtractText([]byte("just text"), 100))
}

func TestExtractText_TruncatesRunes(t *testing.T) {
	page := "<html><body>" + strings.Repeat("é", 10) + "</body></html>"
	assert.Equal(t, strings.Repeat("é", 4), ExtractText([]byte(page), 4))
}

func TestExtractMarkdown(t *testing.T) {
	out := ExtractMarkdown([]byte(article), "https://example.com/post", 5000)
	assert.Contains(t, out, "# Hello World")
	assert.Contains(t, out, "**fun**")
	assert.Contains(t, out, "[Read the docs](https://example.com/docs)")
	assert.NotContains(t, out, "tracking")
}

func TestParseURLs(t *testing.T) {
	assert.Equal(t, []string{"https://a.com", "https://b.com"}, ParseURLs(" https://a.com, ,https://b.com ,"))
	assert.Empty(t, ParseURLs(" , "))
}

func TestScrapeHandler(t *testing.T) {
	var hits int32
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(article))
	}))
	defer site.Close()

	mem, err := cache.NewMemory(16)
	require.NoError(t, err)
	svc := New(config.ProvidersConfig{Timeout: time.Second, ScrapeMaxChars: 11, AllowPrivateFetch: true}, mem, logging.NewDiscard())
	router := mux.NewRouter()
	svc.RegisterRoutes(router)

	target := "/api/scrape?urls=" + site.URL + "/post," + site.URL + "/missing"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, target, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t,
		site.URL+"/post\nWebsite Data:\nHello World\n\n"+site.URL+"/missing\nWebsite Data:\n",
		rec.Body.String())

	// The successful page is served from cache the second time.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/scrape?urls="+site.URL+"/post", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestScrapeHandler_Validation(t *testing.T) {
	svc := New(config.ProvidersConfig{}, nil, logging.NewDiscard())
	router := mux.NewRouter()
	svc.RegisterRoutes(router)

	for _, target := range []string{
		"/api/scrape",
		"/api/scrape?urls=,,",
		"/api/scrape?urls=" + strings.Repeat("https://a.com,", 11),
		"/api/scrape?urls=https://a.com&format=pdf",
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, target, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestScrape_RefusesPrivateAddresses(t *testing.T) {
	var hits int32
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte(article))
	}))
	defer site.Close()

	svc := New(config.ProvidersConfig{Timeout: time.Second}, nil, logging.NewDiscard())
	pages := svc.Scrape(context.Background(), []string{site.URL + "/post"}, FormatText)

	require.Len(t, pages, 1)
	assert.Empty(t, pages[0].Text)
	assert.Zero(t, atomic.LoadInt32(&hits))
}
