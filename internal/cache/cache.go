// Package cache provides the response cache shared by the provider proxies.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/omniplex-ai/omniplex/internal/metrics"
)

// Cache stores opaque values with a TTL.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Prune drops expired entries and returns how many were removed.
	Prune(ctx context.Context) (int, error)
	Close() error
}

// Named prefixes keys with name and records hit/miss metrics under it.
func Named(c Cache, name string) Cache {
	return &named{Cache: c, name: name}
}

type named struct {
	Cache
	name string
}

func (n *named) key(k string) string { return n.name + ":" + k }

func (n *named) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, ok, err := n.Cache.Get(ctx, n.key(key))
	if err == nil {
		metrics.RecordCacheLookup(n.name, ok)
	}
	return v, ok, err
}

func (n *named) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return n.Cache.Set(ctx, n.key(key), value, ttl)
}

func (n *named) Delete(ctx context.Context, key string) error {
	return n.Cache.Delete(ctx, n.key(key))
}

// GetJSON decodes a cached JSON value into v.
func GetJSON(ctx context.Context, c Cache, key string, v interface{}) (bool, error) {
	raw, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return true, nil
}

// SetJSON stores v as JSON.
func SetJSON(ctx context.Context, c Cache, key string, v interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return c.Set(ctx, key, raw, ttl)
}
