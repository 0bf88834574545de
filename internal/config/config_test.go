package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "omniplex.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// chdir moves into dir for the test so a stray .env is not picked up.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "gpt-3.5-turbo-0125", cfg.LLM.ToolModel)
	assert.Equal(t, "gpt-4o", cfg.LLM.ImageModel)
	assert.Equal(t, 5*time.Second, cfg.Providers.FaviconTimeout)
	assert.Equal(t, 5000, cfg.Providers.ScrapeMaxChars)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Store.Backend)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	path := writeConfig(t, `
server:
  port: 9090
  allowed_origins: ["https://omniplex.ai"]
services:
  billing:
    enabled: false
llm:
  defaults:
    model: gpt-4o-mini
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"https://omniplex.ai"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Defaults.Model)
	// untouched nested defaults survive
	assert.Equal(t, "gpt-3.5-turbo-0125", cfg.LLM.ToolModel)
	assert.False(t, cfg.ServiceEnabled("billing"))
	assert.True(t, cfg.ServiceEnabled("search"))
	assert.True(t, cfg.ServiceEnabled("unknown"))
}

func TestLoad_EnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("PORT", "7070")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "redis", cfg.Cache.Backend)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("FINNHUB_API_KEY=fh-from-dotenv\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("FINNHUB_API_KEY") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "fh-from-dotenv", cfg.Providers.FinnhubAPIKey)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, true},
		{"supabase without key", func(c *Config) { c.Store.Backend = "supabase"; c.Store.SupabaseURL = "https://x.supabase.co" }, true},
		{"postgres with dsn", func(c *Config) { c.Store.Backend = "postgres"; c.Store.DatabaseURL = "postgres://localhost/omniplex" }, false},
		{"unknown store", func(c *Config) { c.Store.Backend = "firestore" }, true},
		{"redis without addr", func(c *Config) { c.Cache.Backend = "redis" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
