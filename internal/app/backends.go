package app

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/omniplex-ai/omniplex/internal/app/storage"
	"github.com/omniplex-ai/omniplex/internal/app/storage/memory"
	"github.com/omniplex-ai/omniplex/internal/app/storage/postgres"
	"github.com/omniplex-ai/omniplex/internal/app/storage/supabase"
	"github.com/omniplex-ai/omniplex/internal/cache"
	"github.com/omniplex-ai/omniplex/internal/config"
)

// pruner is a cache with housekeeping.
type pruner interface {
	Prune(ctx context.Context) (int, error)
}

// OpenStore connects the configured storage backend.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (storage.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return memory.New(), nil
	case "supabase":
		store, err := supabase.Open(cfg.SupabaseURL, cfg.SupabaseKey)
		if err != nil {
			return nil, fmt.Errorf("open supabase store: %w", err)
		}
		return store, nil
	case "postgres":
		store, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// CacheCloser is a response cache that owns a connection.
type CacheCloser interface {
	cache.Cache
	Close() error
}

// OpenCache builds the configured response cache.
func OpenCache(ctx context.Context, cfg config.CacheConfig) (CacheCloser, error) {
	switch cfg.Backend {
	case "", "memory":
		size := cfg.Size
		if size <= 0 {
			size = 1024
		}
		return cache.NewMemory(size)
	case "redis":
		c, err := cache.NewRedis(ctx, cache.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, fmt.Errorf("open redis cache: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// authKey returns the token verification key: an RSA public key when a PEM
// is configured, otherwise the HMAC secret. nil means no token verifies.
func authKey(cfg config.AuthConfig) (interface{}, error) {
	if cfg.JWTPublicKey != "" {
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cfg.JWTPublicKey))
		if err != nil {
			return nil, fmt.Errorf("parse auth public key: %w", err)
		}
		return key, nil
	}
	if cfg.JWTSecret != "" {
		return []byte(cfg.JWTSecret), nil
	}
	return nil, nil
}
