package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/backend-insurance/internal/app"
	"github.com/noah-isme/backend-insurance/internal/catalog"
	"github.com/noah-isme/backend-insurance/internal/config"
	"github.com/noah-isme/backend-insurance/internal/db"
	"github.com/noah-isme/backend-insurance/internal/events"
	"github.com/noah-isme/backend-insurance/internal/health"
	"github.com/noah-isme/backend-insurance/internal/insurance"
	"github.com/noah-isme/backend-insurance/internal/lock"
	"github.com/noah-isme/backend-insurance/internal/obs"
	"github.com/noah-isme/backend-insurance/internal/pricing"
	"github.com/noah-isme/backend-insurance/internal/ratelimit"
	"github.com/noah-isme/backend-insurance/internal/repo"
	"github.com/noah-isme/backend-insurance/internal/resilience"
	"github.com/noah-isme/backend-insurance/internal/surcharge"
)

type surchargeStore interface {
	surcharge.Store
	app.Pinger
}

func main() {
	cfg := config.MustLoad()

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "insurance")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "insurance-api",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio: envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0),
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startupCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metricsEnabled {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	if err := redisClient.Ping(startupCtx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	store, closeStore, err := openStore(startupCtx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("open surcharge store")
	}
	defer closeStore()

	bus := &events.Bus{Notifiers: []events.Notifier{events.LogNotifier{Logger: logger}}}
	if len(cfg.KafkaBrokers) > 0 {
		kafka := events.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaTopicPrefix)
		bus.Notifiers = []events.Notifier{kafka}
		defer func() {
			if err := kafka.Close(); err != nil {
				logger.Error().Err(err).Msg("close kafka writer")
			}
		}()
	}

	surchargeSvc, err := surcharge.NewService(surcharge.ServiceConfig{
		Store:   store,
		Locker:  lock.Locker{R: redisClient, Prefix: "insurance:lock:", MaxWait: cfg.UploadLockTTL},
		LockTTL: cfg.UploadLockTTL,
		Events:  bus,
		Logger:  logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise surcharge service")
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxConnsPerHost = cfg.CatalogMaxConns
	transport.MaxIdleConnsPerHost = cfg.CatalogMaxConns
	outbound := &http.Client{Transport: otelhttp.NewTransport(transport)}

	catalogHTTP := upstreamClient(cfg, "catalog", outbound, logger)
	catalogClient, err := catalog.NewClient(catalog.ClientConfig{
		BaseURL: cfg.CatalogBaseURL,
		HTTP:    catalogHTTP,
		Cache:   catalog.NewCache(redisClient, cfg.CatalogCacheTTL),
		Logger:  logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise catalog client")
	}

	var surchargeSource pricing.SurchargeSource = surchargeSvc
	if cfg.SurchargeSource == config.SurchargeSourceRemote {
		remote, err := surcharge.NewRemoteClient(cfg.SurchargeAPIURL, upstreamClient(cfg, "surcharge", outbound, logger))
		if err != nil {
			logger.Fatal().Err(err).Msg("initialise remote surcharge client")
		}
		surchargeSource = remote
	}

	engine := pricing.NewEngine(rulesFrom(cfg.Pricing), surchargeSource, logger)
	insuranceSvc, err := insurance.NewService(insurance.Config{
		Engine:         engine,
		Catalog:        catalogClient,
		MaxConcurrency: cfg.CartMaxConcurrency,
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise insurance service")
	}

	limiter, err := newLimiter(cfg, redisClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise rate limiter")
	}

	deps := app.Dependencies{
		Config:             cfg,
		Logger:             logger,
		Insurance:          insuranceSvc,
		Surcharges:         surchargeSvc,
		Health:             app.Readiness{Store: store, Redis: redisClient},
		Redis:              redisClient,
		Limiter:            limiter,
		Tracing:            tracingEnabled,
		HealthStoreTimeout: envDurationMillis("HEALTH_READY_STORE_TIMEOUT_MS", 500),
		HealthRedisTimeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
	}
	if metricsEnabled {
		deps.HTTPMetrics = obs.NewHTTPMetrics(metricsNamespace, obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", "")), nil)
		deps.MetricsHandler = promhttp.Handler()
	}
	if envBool("OBS_ENABLE_PPROF", false) {
		user := envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", "")
		pass := envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")
		deps.Debug = protectPprof(newPprofMux(), user, pass)
	}

	router, err := app.NewRouter(deps)
	if err != nil {
		logger.Fatal().Err(err).Msg("build router")
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		health.SetReady(false)
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), envDurationMillis("SHUTDOWN_TIMEOUT_MS", 15000))
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Str("store", cfg.StoreDriver).Str("surcharge_source", cfg.SurchargeSource).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
}

func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (surchargeStore, func(), error) {
	switch cfg.StoreDriver {
	case config.StoreDriverMongo:
		client, err := repo.ConnectMongo(ctx, cfg.MongoURI, 10*time.Second)
		if err != nil {
			return nil, nil, err
		}
		store := repo.NewMongoSurcharges(client, cfg.MongoDatabase)
		return store, func() {
			if err := store.Close(context.Background()); err != nil {
				logger.Error().Err(err).Msg("close mongo")
			}
		}, nil
	case config.StoreDriverDynamo:
		client, err := repo.NewDynamoClient(ctx, cfg.DynamoRegion, cfg.DynamoEndpoint)
		if err != nil {
			return nil, nil, err
		}
		return repo.DynamoSurcharges{Client: client, Table: cfg.DynamoTable}, func() {}, nil
	default:
		if cfg.AutoMigrate {
			m, err := db.NewMigrator(cfg.DatabaseURL)
			if err != nil {
				return nil, nil, err
			}
			if err := app.RunMigrations(m); err != nil {
				return nil, nil, fmt.Errorf("run migrations: %w", err)
			}
			if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
				logger.Warn().AnErr("source", srcErr).AnErr("db", dbErr).Msg("close migrator")
			}
			logger.Info().Msg("migrations applied")
		}
		pool, err := repo.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ping database: %w", err)
		}
		return repo.PostgresSurcharges{DB: pool}, pool.Close, nil
	}
}

func upstreamClient(cfg *config.Config, target string, client *http.Client, logger zerolog.Logger) resilience.HTTPClient {
	breaker := resilience.NewBreaker(cfg.CircuitMinRequests, cfg.CircuitFailureRatio, cfg.CircuitOpenFor).
		WithTarget(target).
		WithLogger(logger)
	return resilience.HTTPClient{
		Target:      target,
		Client:      client,
		Breaker:     breaker,
		BaseBackoff: cfg.RetryBaseBackoff,
		MaxAttempts: cfg.RetryMaxAttempts,
		Jitter:      float64(cfg.RetryJitterPercent) / 100,
		Timeout:     cfg.CatalogTimeout,
	}
}

func newLimiter(cfg *config.Config, rdb *redis.Client) (ratelimit.Allower, error) {
	if cfg.RateLimitMax <= 0 {
		return nil, nil
	}
	switch cfg.RateLimitStrategy {
	case "fixed":
		return ratelimit.NewRedisFixedWindow(rdb, "insurance:rl:")
	case "sliding", "":
		return ratelimit.SlidingWindow{Client: rdb, Prefix: "insurance:rl:"}, nil
	default:
		return nil, fmt.Errorf("unsupported RATE_LIMIT_STRATEGY %q", cfg.RateLimitStrategy)
	}
}

func rulesFrom(p config.PricingConfig) pricing.Rules {
	rules := pricing.DefaultRules()
	rules.MinimumInsuredPrice = p.MinimumInsuredPrice
	rules.HighValueThreshold = p.HighValueThreshold
	rules.LowRangeValue = p.LowRangeValue
	rules.MidRangeValue = p.MidRangeValue
	rules.HighRangeValue = p.HighRangeValue
	rules.ElectronicsAddOn = p.ElectronicsAddOn
	rules.CameraAddOn = p.CameraAddOn
	rules.CartCameraSurcharge = p.CartCameraSurcharge
	return rules
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
