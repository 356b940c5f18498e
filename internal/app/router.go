// Package app assembles the HTTP surface of the insurance service.
package app

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	migrate "github.com/golang-migrate/migrate/v4"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-insurance/internal/common"
	"github.com/noah-isme/backend-insurance/internal/config"
	"github.com/noah-isme/backend-insurance/internal/health"
	"github.com/noah-isme/backend-insurance/internal/insurance"
	"github.com/noah-isme/backend-insurance/internal/obs"
	"github.com/noah-isme/backend-insurance/internal/ratelimit"
	"github.com/noah-isme/backend-insurance/internal/security"
	"github.com/noah-isme/backend-insurance/internal/surcharge"
)

// Dependencies enumerates what the router needs. Optional collaborators are
// disabled when nil.
type Dependencies struct {
	Config     *config.Config
	Logger     zerolog.Logger
	Insurance  *insurance.Service
	Surcharges *surcharge.Service
	Health     health.Checker

	// Redis backs idempotency keys on surcharge uploads.
	Redis   *redis.Client
	Limiter ratelimit.Allower

	HTTPMetrics    *obs.HTTPMetrics
	MetricsHandler http.Handler
	Tracing        bool
	// Debug is mounted under /debug/pprof.
	Debug http.Handler

	HealthStoreTimeout time.Duration
	HealthRedisTimeout time.Duration
}

// NewRouter builds the chi router with the full middleware chain.
func NewRouter(d Dependencies) (http.Handler, error) {
	if d.Config == nil {
		return nil, errors.New("app: config is required")
	}
	if d.Insurance == nil || d.Surcharges == nil {
		return nil, errors.New("app: insurance and surcharge services are required")
	}
	cfg := d.Config

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if d.Tracing {
		r.Use(obs.TracingMiddleware)
	}
	r.Use(obs.HTTPObs{Metrics: d.HTTPMetrics}.Middleware)
	r.Use(obs.RequestLogger{Logger: d.Logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(cfg),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Idempotency-Key", "X-Request-Id"},
		ExposedHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		MaxAge:         300,
	}))
	r.Use(security.Headers{Enable: cfg.SecurityHeaders, EnableHSTS: cfg.EnableHSTS}.Middleware)

	if d.MetricsHandler != nil {
		r.Handle("/metrics", d.MetricsHandler)
	}
	if d.Debug != nil {
		r.Mount("/debug/pprof", d.Debug)
	}

	healthHandler := health.Handler{
		Checker:      d.Health,
		StoreTimeout: d.HealthStoreTimeout,
		RedisTimeout: d.HealthRedisTimeout,
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	insuranceHandler := &insurance.Handler{Svc: d.Insurance}
	surchargeHandler := &surcharge.Handler{Svc: d.Surcharges}

	var uploadMiddlewares []func(http.Handler) http.Handler
	if d.Redis != nil {
		uploadMiddlewares = append(uploadMiddlewares, common.Idem{R: d.Redis, TTL: cfg.IdempotencyTTL, Prefix: "insurance:idem:"}.Middleware)
	}

	r.Route("/api", func(api chi.Router) {
		api.Use(security.BodyLimit{Max: cfg.BodyLimitBytes}.Middleware)
		if d.Limiter != nil {
			logger := d.Logger
			api.Use(ratelimit.Handler{
				Limiter: d.Limiter,
				Config: ratelimit.Config{
					Key:    ratelimit.ClientKey("api:"),
					Window: cfg.RateLimitWindow,
					Max:    cfg.RateLimitMax,
				},
				OnError: func(err error) { logger.Warn().Err(err).Msg("rate limiter unavailable") },
			}.Middleware)
		}
		api.Route("/insurance", insuranceHandler.Routes)
		api.Route("/surcharge", func(s chi.Router) {
			surchargeHandler.Routes(s, uploadMiddlewares...)
		})
	})

	return r, nil
}

// RunMigrations applies all pending migrations.
func RunMigrations(m *migrate.Migrate) error {
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}
