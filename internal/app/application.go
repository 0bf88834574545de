package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/robfig/cron/v3"

	"github.com/omniplex-ai/omniplex/internal/app/storage"
	"github.com/omniplex-ai/omniplex/internal/config"
	"github.com/omniplex-ai/omniplex/internal/live"
	"github.com/omniplex-ai/omniplex/internal/llm"
	"github.com/omniplex-ai/omniplex/internal/logging"
	"github.com/omniplex-ai/omniplex/internal/metrics"
	"github.com/omniplex-ai/omniplex/internal/middleware"
	"github.com/omniplex-ai/omniplex/services/billing"
	"github.com/omniplex-ai/omniplex/services/common/service"
	"github.com/omniplex-ai/omniplex/services/dictionary"
	"github.com/omniplex-ai/omniplex/services/favicon"
	"github.com/omniplex-ai/omniplex/services/og"
	"github.com/omniplex-ai/omniplex/services/profile"
	"github.com/omniplex-ai/omniplex/services/scrape"
	"github.com/omniplex-ai/omniplex/services/search"
	"github.com/omniplex-ai/omniplex/services/stock"
	"github.com/omniplex-ai/omniplex/services/threads"
	"github.com/omniplex-ai/omniplex/services/tools"
	"github.com/omniplex-ai/omniplex/services/weather"
)

const serviceName = "omniplex"

// Options overrides dependencies New would otherwise build from config.
type Options struct {
	Store   storage.Store
	Cache   CacheCloser
	Logger  *logging.Logger
	Version string
}

// Application ties the services together and manages their lifecycle.
type Application struct {
	cfg     *config.Config
	log     *logging.Logger
	store   storage.Store
	cache   CacheCloser
	limiter *middleware.RateLimiter
	base    *service.BaseService
	hub     *live.Hub
	handler http.Handler
	cron    *cron.Cron
}

// New builds a fully wired application.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Application, error) {
	log := opts.Logger
	if log == nil {
		log = logging.New(logging.Config{Service: serviceName, Level: cfg.Log.Level, Format: cfg.Log.Format})
	}

	store := opts.Store
	if store == nil {
		var err error
		if store, err = OpenStore(ctx, cfg.Store); err != nil {
			return nil, err
		}
	}
	respCache := opts.Cache
	if respCache == nil {
		var err error
		if respCache, err = OpenCache(ctx, cfg.Cache); err != nil {
			store.Close()
			return nil, err
		}
	}

	key, err := authKey(cfg.Auth)
	if err != nil {
		store.Close()
		respCache.Close()
		return nil, err
	}
	if key == nil {
		log.Warn("no auth key configured; authenticated routes will reject every request")
	}

	a := &Application{
		cfg:     cfg,
		log:     log,
		store:   store,
		cache:   respCache,
		limiter: middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst, log),
	}
	a.base = service.NewBase(service.BaseConfig{
		Name:    serviceName,
		Version: opts.Version,
		Logger:  log,
		Store:   store,
		RequiredSettings: map[string]string{
			"OPENAI_API_KEY": cfg.LLM.APIKey,
		},
	}).WithStats(a.stats)

	cors := middleware.NewCORSMiddleware(cfg.Server.AllowedOrigins)
	a.hub = live.NewHub(log, func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || cors.AllowsOrigin(origin)
	})

	auth := middleware.NewAuthMiddleware(key, log, nil)
	router := mux.NewRouter()
	router.Use(middleware.MetricsMiddleware(serviceName), auth.Identify, a.limiter.Handler)
	a.base.RegisterStandardRoutes(router)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	a.registerServices(router, auth)

	tracing := middleware.NewTracingMiddleware(log)
	a.handler = tracing.Handler(middleware.Recovery(log)(cors.Handler(router)))

	a.cron = cron.New()
	if _, err := a.cron.AddFunc(cfg.Server.MaintenanceSchedule, func() { a.Maintain(context.Background()) }); err != nil {
		store.Close()
		respCache.Close()
		return nil, fmt.Errorf("invalid maintenance schedule %q: %w", cfg.Server.MaintenanceSchedule, err)
	}
	return a, nil
}

func (a *Application) registerServices(router *mux.Router, auth *middleware.AuthMiddleware) {
	cfg := a.cfg
	enabled := func(name string) bool {
		if !cfg.ServiceEnabled(name) {
			a.log.WithField("service", name).Info("service disabled")
			return false
		}
		return true
	}

	if enabled("search") {
		search.New(cfg.Providers, a.log).RegisterRoutes(router)
	}
	if enabled("weather") {
		weather.New(cfg.Providers, a.log).RegisterRoutes(router)
	}
	if enabled("stock") {
		stock.New(cfg.Providers, a.cache, a.log).RegisterRoutes(router)
	}
	if enabled("dictionary") {
		dictionary.New(cfg.Providers, a.cache, a.log).RegisterRoutes(router)
	}
	if enabled("favicon") {
		favicon.New(cfg.Providers, a.log).RegisterRoutes(router)
	}
	if enabled("scrape") {
		scrape.New(cfg.Providers, a.cache, a.log).RegisterRoutes(router)
	}

	client := llm.New(llm.Config{APIKey: cfg.LLM.APIKey, BaseURL: cfg.LLM.BaseURL, ToolModel: cfg.LLM.ToolModel}, a.log)
	if enabled("tools") {
		tools.New(client, a.log).RegisterRoutes(router)
	}
	if enabled("threads") {
		var completer threads.Completer
		if client != nil {
			completer = client
		}
		threads.New(a.store, completer, a.hub, cfg.LLM, a.log).RegisterRoutes(router, auth.Handler, auth.Optional)
	}
	if enabled("og") {
		og.New(a.store, a.cache, cfg.Server.PublicURL, a.log).RegisterRoutes(router)
	}
	if enabled("billing") {
		billing.New(cfg.Billing, a.store, a.log).RegisterRoutes(router, auth.Handler)
	}
	if enabled("profile") {
		profile.New(a.store, a.log).RegisterRoutes(router, auth.Handler)
	}
}

// Handler returns the root HTTP handler.
func (a *Application) Handler() http.Handler {
	return a.handler
}

// Maintain drops idle rate limiters, prunes expired cache entries and
// refreshes the health snapshot.
func (a *Application) Maintain(ctx context.Context) {
	removed := a.limiter.Cleanup()
	pruned := 0
	if p, ok := a.cache.(pruner); ok {
		n, err := p.Prune(ctx)
		if err != nil {
			a.log.WithError(err).Warn("cache prune failed")
		}
		pruned = n
	}
	a.log.WithFields(map[string]interface{}{
		"limiters_removed": removed,
		"cache_pruned":     pruned,
		"health":           a.base.HealthStatus(),
	}).Debug("maintenance complete")
}

func (a *Application) stats() map[string]any {
	return map[string]any{
		"store_backend":     a.cfg.Store.Backend,
		"cache_backend":     a.cfg.Cache.Backend,
		"rate_limiter_keys": a.limiter.Size(),
	}
}

// Run serves HTTP until ctx is canceled, then shuts down gracefully.
func (a *Application) Run(ctx context.Context) error {
	a.base.CheckHealth(ctx)
	a.cron.Start()
	defer a.cron.Stop()

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(a.cfg.Server.Port),
		Handler:           a.handler,
		ReadHeaderTimeout: a.cfg.Server.ReadTimeout,
		IdleTimeout:       a.cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.WithField("addr", server.Addr).Info("omniplex listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	a.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (a *Application) shutdownTimeout() time.Duration {
	if a.cfg.Server.ShutdownTimeout > 0 {
		return a.cfg.Server.ShutdownTimeout
	}
	return 30 * time.Second
}

// Close releases the store and cache.
func (a *Application) Close() error {
	return errors.Join(a.store.Close(), a.cache.Close())
}
