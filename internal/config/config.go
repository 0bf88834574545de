// Package config loads the Omniplex server configuration from YAML, an
// optional .env file and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where Load looks when no path is given.
var DefaultPath = filepath.Join("config", "omniplex.yaml")

// Config is the full server configuration.
type Config struct {
	Server    ServerConfig                `yaml:"server"`
	Log       LogConfig                   `yaml:"log"`
	Auth      AuthConfig                  `yaml:"auth"`
	Services  map[string]*ServiceSettings `yaml:"services"`
	Providers ProvidersConfig             `yaml:"providers"`
	LLM       LLMConfig                   `yaml:"llm"`
	Store     StoreConfig                 `yaml:"store"`
	Cache     CacheConfig                 `yaml:"cache"`
	Billing   BillingConfig               `yaml:"billing"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	PublicURL       string        `yaml:"public_url"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	RateLimit       int           `yaml:"rate_limit"`
	RateBurst       int           `yaml:"rate_burst"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// MaintenanceSchedule is a cron spec for limiter and cache housekeeping.
	MaintenanceSchedule string `yaml:"maintenance_schedule"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AuthConfig selects how bearer tokens are verified. JWTPublicKey (PEM, RS256)
// wins over JWTSecret (HS256) when both are set.
type AuthConfig struct {
	JWTSecret    string `yaml:"jwt_secret"`
	JWTPublicKey string `yaml:"jwt_public_key"`
}

// ServiceSettings toggles a route group.
type ServiceSettings struct {
	Enabled     bool   `yaml:"enabled"`
	Description string `yaml:"description"`
}

type ProvidersConfig struct {
	SearchAPIKey       string        `yaml:"search_api_key"`
	SearchURL          string        `yaml:"search_url"`
	FinnhubAPIKey      string        `yaml:"finnhub_api_key"`
	FinnhubURL         string        `yaml:"finnhub_url"`
	AlphaVantageAPIKey string        `yaml:"alpha_vantage_api_key"`
	AlphaVantageURL    string        `yaml:"alpha_vantage_url"`
	WeatherAPIKey      string        `yaml:"weather_api_key"`
	WeatherURL         string        `yaml:"weather_url"`
	GeocodeURL         string        `yaml:"geocode_url"`
	DictionaryURL      string        `yaml:"dictionary_url"`
	Timeout            time.Duration `yaml:"timeout"`
	FaviconTimeout     time.Duration `yaml:"favicon_timeout"`
	ScrapeMaxChars     int           `yaml:"scrape_max_chars"`
	// AllowPrivateFetch lets favicon and scrape reach loopback and private
	// addresses. Local development only.
	AllowPrivateFetch bool `yaml:"allow_private_fetch"`
}

type LLMConfig struct {
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	ToolModel string `yaml:"tool_model"`
	// ImageModel answers chats whose mode is "image".
	ImageModel string     `yaml:"image_model"`
	Defaults   AISettings `yaml:"defaults"`
}

// AISettings are the per-request generation settings a client may send.
type AISettings struct {
	Model        string  `yaml:"model" json:"model"`
	Temperature  float32 `yaml:"temperature" json:"temperature"`
	MaxLength    int     `yaml:"max_length" json:"maxLength"`
	TopP         float32 `yaml:"top_p" json:"topP"`
	Frequency    float32 `yaml:"frequency" json:"frequency"`
	Presence     float32 `yaml:"presence" json:"presence"`
	CustomPrompt string  `yaml:"custom_prompt" json:"customPrompt"`
}

type StoreConfig struct {
	// Backend is one of memory, supabase or postgres.
	Backend     string `yaml:"backend"`
	SupabaseURL string `yaml:"supabase_url"`
	SupabaseKey string `yaml:"supabase_key"`
	DatabaseURL string `yaml:"database_url"`
}

type CacheConfig struct {
	// Backend is memory or redis.
	Backend       string        `yaml:"backend"`
	Size          int           `yaml:"size"`
	TTL           time.Duration `yaml:"ttl"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
}

type BillingConfig struct {
	StripeSecretKey     string `yaml:"stripe_secret_key"`
	StripeWebhookSecret string `yaml:"stripe_webhook_secret"`
	StripePriceID       string `yaml:"stripe_price_id"`
	// StripeAPIURL points the client at another API host, e.g. stripe-mock.
	StripeAPIURL string `yaml:"stripe_api_url"`
}

// envOverrides lists the variables that override file values when set.
type envOverrides struct {
	Port           int    `env:"PORT"`
	PublicURL      string `env:"PUBLIC_URL"`
	AllowedOrigins string `env:"ALLOWED_ORIGINS"`
	LogLevel       string `env:"LOG_LEVEL"`
	LogFormat      string `env:"LOG_FORMAT"`

	JWTSecret    string `env:"AUTH_JWT_SECRET"`
	JWTPublicKey string `env:"AUTH_JWT_PUBLIC_KEY"`

	OpenAIKey       string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL   string `env:"OPENAI_BASE_URL"`
	SearchKey       string `env:"BING_API_KEY"`
	FinnhubKey      string `env:"FINNHUB_API_KEY"`
	AlphaVantageKey string `env:"ALPHA_VANTAGE_API_KEY"`
	WeatherKey      string `env:"OPENWEATHERMAP_API_KEY"`

	StoreBackend string `env:"STORE_BACKEND"`
	SupabaseURL  string `env:"SUPABASE_URL"`
	SupabaseKey  string `env:"SUPABASE_SERVICE_KEY"`
	DatabaseURL  string `env:"DATABASE_URL"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	StripeSecretKey     string `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
	StripePriceID       string `env:"STRIPE_PRICE_ID"`
}

// Default returns a configuration that runs locally with in-memory storage.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:                8080,
			PublicURL:           "http://localhost:3000",
			AllowedOrigins:      []string{"http://localhost:3000"},
			RateLimit:           10,
			RateBurst:           20,
			ReadTimeout:         15 * time.Second,
			IdleTimeout:         60 * time.Second,
			ShutdownTimeout:     30 * time.Second,
			MaintenanceSchedule: "@every 5m",
		},
		Log: LogConfig{Level: "info", Format: "text"},
		Services: map[string]*ServiceSettings{
			"search":     {Enabled: true, Description: "Web search proxy"},
			"weather":    {Enabled: true, Description: "Current weather and forecast"},
			"stock":      {Enabled: true, Description: "Stock quote and chart"},
			"dictionary": {Enabled: true, Description: "Word definitions"},
			"favicon":    {Enabled: true, Description: "Site favicon proxy"},
			"scrape":     {Enabled: true, Description: "Page text extraction"},
			"tools":      {Enabled: true, Description: "Tool routing and chat streaming"},
			"threads":    {Enabled: true, Description: "Chat thread lifecycle"},
			"og":         {Enabled: true, Description: "Share card rendering"},
			"billing":    {Enabled: true, Description: "Subscription checkout and webhook"},
			"profile":    {Enabled: true, Description: "Account profile"},
		},
		Providers: ProvidersConfig{
			SearchURL:       "https://serpapi.com/search.json",
			FinnhubURL:      "https://finnhub.io/api/v1",
			AlphaVantageURL: "https://www.alphavantage.co/query",
			WeatherURL:      "https://api.openweathermap.org/data/2.5",
			GeocodeURL:      "https://api.openweathermap.org/geo/1.0/direct",
			DictionaryURL:   "https://api.dictionaryapi.dev/api/v2/entries/en",
			Timeout:         15 * time.Second,
			FaviconTimeout:  5 * time.Second,
			ScrapeMaxChars:  5000,
		},
		LLM: LLMConfig{
			ToolModel:  "gpt-3.5-turbo-0125",
			ImageModel: "gpt-4o",
			Defaults: AISettings{
				Model:       "gpt-3.5-turbo",
				Temperature: 0.7,
				MaxLength:   512,
				TopP:        1,
			},
		},
		Store: StoreConfig{Backend: "memory"},
		Cache: CacheConfig{Backend: "memory", Size: 1024, TTL: time.Hour},
	}
}

// Load reads the YAML file at path (DefaultPath when empty) over Default(),
// then applies .env and environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	// .env is optional; real environment variables take precedence.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envdecode.Decode(&env); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("failed to decode environment: %w", err)
	}

	if env.Port != 0 {
		c.Server.Port = env.Port
	}
	if env.AllowedOrigins != "" {
		c.Server.AllowedOrigins = splitList(env.AllowedOrigins)
	}
	setString(&c.Server.PublicURL, env.PublicURL)
	setString(&c.Log.Level, env.LogLevel)
	setString(&c.Log.Format, env.LogFormat)
	setString(&c.Auth.JWTSecret, env.JWTSecret)
	setString(&c.Auth.JWTPublicKey, env.JWTPublicKey)
	setString(&c.LLM.APIKey, env.OpenAIKey)
	setString(&c.LLM.BaseURL, env.OpenAIBaseURL)
	setString(&c.Providers.SearchAPIKey, env.SearchKey)
	setString(&c.Providers.FinnhubAPIKey, env.FinnhubKey)
	setString(&c.Providers.AlphaVantageAPIKey, env.AlphaVantageKey)
	setString(&c.Providers.WeatherAPIKey, env.WeatherKey)
	setString(&c.Store.Backend, env.StoreBackend)
	setString(&c.Store.SupabaseURL, env.SupabaseURL)
	setString(&c.Store.SupabaseKey, env.SupabaseKey)
	setString(&c.Store.DatabaseURL, env.DatabaseURL)
	setString(&c.Cache.RedisPassword, env.RedisPassword)
	if env.RedisAddr != "" {
		c.Cache.RedisAddr = env.RedisAddr
		c.Cache.Backend = "redis"
	}
	setString(&c.Billing.StripeSecretKey, env.StripeSecretKey)
	setString(&c.Billing.StripeWebhookSecret, env.StripeWebhookSecret)
	setString(&c.Billing.StripePriceID, env.StripePriceID)
	return nil
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	switch c.Store.Backend {
	case "memory":
	case "supabase":
		if c.Store.SupabaseURL == "" || c.Store.SupabaseKey == "" {
			return fmt.Errorf("store.backend supabase requires SUPABASE_URL and SUPABASE_SERVICE_KEY")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("store.backend postgres requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("unknown store.backend %q", c.Store.Backend)
	}
	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("cache.backend redis requires REDIS_ADDR")
		}
	default:
		return fmt.Errorf("unknown cache.backend %q", c.Cache.Backend)
	}
	return nil
}

// ServiceEnabled reports whether the named route group is on. Unknown names
// default to enabled.
func (c *Config) ServiceEnabled(name string) bool {
	s, ok := c.Services[name]
	if !ok || s == nil {
		return true
	}
	return s.Enabled
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
