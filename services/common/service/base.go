// Package service provides the shared health and info plumbing for the
// HTTP services.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/omniplex-ai/omniplex/internal/logging"
)

const healthCheckTimeout = 5 * time.Second

// Dependency is a backing system whose health gates the service.
type Dependency interface {
	HealthCheck(ctx context.Context) error
}

// HealthChecker is implemented by services that report an aggregated status.
type HealthChecker interface {
	HealthStatus() string
}

// BaseConfig contains shared configuration for all services.
type BaseConfig struct {
	Name    string
	Version string
	Logger  *logging.Logger
	// Store is probed by /health; nil means no backing store.
	Store Dependency
	// RequiredSettings maps setting names to their values. Any empty value
	// reports the service as degraded.
	RequiredSettings map[string]string
}

// BaseService carries identity, health tracking and the /info statistics
// provider shared by the services.
type BaseService struct {
	name    string
	version string
	logger  *logging.Logger
	store   Dependency

	statsFn func() map[string]any

	required map[string]string

	healthMu        sync.RWMutex
	storeHealthy    bool
	missing         []string
	lastHealthCheck time.Time
	startTime       time.Time
}

// NewBase constructs a BaseService from shared config.
func NewBase(cfg BaseConfig) *BaseService {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return &BaseService{
		name:         cfg.Name,
		version:      cfg.Version,
		logger:       logger,
		store:        cfg.Store,
		required:     cfg.RequiredSettings,
		storeHealthy: cfg.Store == nil,
		startTime:    time.Now(),
	}
}

// Name returns the service name.
func (b *BaseService) Name() string { return b.name }

// Version returns the service version.
func (b *BaseService) Version() string { return b.version }

// Logger returns the service logger.
func (b *BaseService) Logger() *logging.Logger { return b.logger }

// WithStats sets a statistics provider function for the /info endpoint.
func (b *BaseService) WithStats(fn func() map[string]any) *BaseService {
	b.statsFn = fn
	return b
}

// Stats returns the provider's statistics, or nil.
func (b *BaseService) Stats() map[string]any {
	if b.statsFn == nil {
		return nil
	}
	return b.statsFn()
}

// CheckHealth refreshes the cached health state by probing the store and
// the required settings.
func (b *BaseService) CheckHealth(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	storeHealthy := true
	if b.store != nil {
		if err := b.store.HealthCheck(ctx); err != nil {
			storeHealthy = false
			b.logger.WithContext(ctx).WithError(err).Warn("store health check failed")
		}
	}

	var missing []string
	for name, value := range b.required {
		if value == "" {
			missing = append(missing, name)
		}
	}

	b.healthMu.Lock()
	b.storeHealthy = storeHealthy
	b.missing = missing
	b.lastHealthCheck = time.Now()
	b.healthMu.Unlock()
}

// HealthStatus probes dependencies and returns "healthy", "degraded" or
// "unhealthy".
func (b *BaseService) HealthStatus() string {
	b.CheckHealth(context.Background())
	b.healthMu.RLock()
	defer b.healthMu.RUnlock()
	return b.healthStatusLocked()
}

// HealthDetails returns a map describing the most recent health state.
func (b *BaseService) HealthDetails() map[string]any {
	b.healthMu.RLock()
	defer b.healthMu.RUnlock()

	details := map[string]any{
		"store_connected": b.storeHealthy,
		"uptime":          time.Since(b.startTime).Round(time.Second).String(),
	}
	if len(b.missing) > 0 {
		details["missing_settings"] = len(b.missing)
	}
	if !b.lastHealthCheck.IsZero() {
		details["last_check"] = b.lastHealthCheck.Format(time.RFC3339)
	} else {
		details["last_check"] = ""
	}
	return details
}

func (b *BaseService) healthStatusLocked() string {
	if !b.storeHealthy {
		return "unhealthy"
	}
	if len(b.missing) > 0 {
		return "degraded"
	}
	return "healthy"
}

var _ HealthChecker = (*BaseService)(nil)
