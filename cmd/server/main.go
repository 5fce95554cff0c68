package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Willytecheira/nexus-wa-core-sub000/internal/config"
	"github.com/Willytecheira/nexus-wa-core-sub000/internal/connector"
	"github.com/Willytecheira/nexus-wa-core-sub000/internal/database"
	"github.com/Willytecheira/nexus-wa-core-sub000/internal/handler"
	"github.com/Willytecheira/nexus-wa-core-sub000/internal/jobs"
	"github.com/Willytecheira/nexus-wa-core-sub000/internal/middleware"
	"github.com/Willytecheira/nexus-wa-core-sub000/internal/qr"
	"github.com/Willytecheira/nexus-wa-core-sub000/internal/redis"
	"github.com/Willytecheira/nexus-wa-core-sub000/internal/repository"
	"github.com/Willytecheira/nexus-wa-core-sub000/internal/service"
	"github.com/Willytecheira/nexus-wa-core-sub000/internal/sse"
	"github.com/Willytecheira/nexus-wa-core-sub000/internal/util"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	setLogLevel(cfg.LogLevel)

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	if cfg.RunMigrations {
		if err := db.Migrate(); err != nil {
			log.Fatal().Err(err).Msg("failed to run migrations")
		}
	}

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	sessionRepo := repository.NewSessionRepository(db.DB)
	webhookConfigRepo := repository.NewWebhookConfigRepository(db.DB)
	webhookEventRepo := repository.NewWebhookEventRepository(db.DB)
	messageRepo := repository.NewMessageRepository(db.DB)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var secrets *util.SecretBox
	if cfg.EncryptionKey != "" {
		if secrets, err = util.NewSecretBox(cfg.EncryptionKey); err != nil {
			log.Fatal().Err(err).Msg("invalid encryption key")
		}
	}

	webhookService := service.NewWebhookService(webhookConfigRepo, webhookEventRepo, service.WebhookServiceOptions{
		Timeout:        cfg.WebhookTimeout,
		MaxAttempts:    cfg.WebhookMaxAttempts,
		InitialBackoff: cfg.WebhookInitialBackoff,
		MaxBackoff:     cfg.WebhookMaxBackoff,
		Secrets:        secrets,
	})
	if _, err := webhookService.AbandonPending(rootCtx); err != nil {
		log.Error().Err(err).Msg("failed to abandon pending webhook deliveries")
	}
	if err := webhookService.Load(rootCtx); err != nil {
		log.Fatal().Err(err).Msg("failed to load webhook configurations")
	}

	qrStore := qr.NewStore()
	sessionService := service.NewSessionService(
		sessionRepo,
		connector.NewBridgeFactory(cfg.ConnectorURL),
		qrStore,
		webhookService,
		service.SessionServiceOptions{
			MaxSessions:    cfg.MaxSessions,
			DestroyTimeout: cfg.ConnectorDestroyTimeout,
		},
	)
	webhookService.TrackSessions(sessionService)
	metricsService := service.NewMetricsService(sessionService, messageRepo)

	broker := sse.NewBroker(redisClient)
	defer broker.Close()

	sessionService.AddObserver(metricsService)
	sessionService.AddObserver(webhookService)
	sessionService.AddObserver(broker)

	if _, err := sessionService.Restore(rootCtx); err != nil {
		log.Error().Err(err).Msg("failed to restore sessions")
	}

	rateLimiter := service.NewRateLimiter(redisClient.Client)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metricsService,
		webhookService,
		rateLimiter,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "nexus",
			Subsystem: "qr",
			Name:      "pending",
			Help:      "Sessions holding an unscanned pairing code.",
		}, func() float64 { return float64(qrStore.Len()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "nexus",
			Subsystem: "sse",
			Name:      "clients",
			Help:      "Connected event stream clients.",
		}, func() float64 { return float64(broker.TotalClients()) }),
	)
	httpMetrics := middleware.NewHTTPMetrics(reg)

	apiRateLimit := middleware.NewIPRateLimitMiddleware(rateLimiter, config.DefaultRateLimitPerMin, config.DefaultRateLimitWindow, "api")
	createRateLimit := middleware.NewIPRateLimitMiddleware(rateLimiter, config.SessionCreateLimit, config.SessionCreateWindow, "session-create")
	apiKeyMiddleware := middleware.NewAPIKeyMiddleware(cfg.APIKeyHash)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)

	if cfg.APIKeyHash == "" {
		log.Warn().Msg("API_KEY_HASH is empty: control surface is unauthenticated (generate one with ./cmd/keygen)")
	}

	webhookHandler := handler.NewWebhookHandler(webhookService, sessionService)
	sessionHandler := handler.NewSessionHandler(
		sessionService, qrStore, messageRepo, webhookHandler.Routes(), createRateLimit.Handler,
	)
	eventsHandler := handler.NewEventsHandler(broker, sessionService)
	metricsHandler := handler.NewMetricsHandler(metricsService)
	healthHandler := handler.NewHealthHandler(map[string]handler.HealthCheck{
		"database": db.Ping,
		"redis": func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		},
	})

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(httpMetrics.Handler)
	r.Use(chimiddleware.Recoverer)
	r.Use(bodyLimitMiddleware.Handler)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/dashboard/", http.StatusFound)
	})
	r.Method(http.MethodGet, "/health", healthHandler)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	r.Route("/v1", func(r chi.Router) {
		r.Use(apiKeyMiddleware.Handler)
		r.Use(apiRateLimit.Handler)

		// Long-lived stream: no request timeout.
		r.Method(http.MethodGet, "/events", eventsHandler)

		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
			r.Mount("/sessions", sessionHandler.Routes())
			r.Method(http.MethodGet, "/metrics", metricsHandler)
		})
	})

	r.Route("/dashboard", func(r chi.Router) {
		r.Use(securityHeadersMiddleware.Handler)
		r.Handle("/*", handler.StaticFileServer(cfg.DashboardDir, "/dashboard"))
	})

	cleanupJob := jobs.NewCleanupJob(webhookEventRepo, messageRepo, cfg.EventRetention(), config.CleanupJobInterval)

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	g, gctx := errgroup.WithContext(rootCtx)

	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return cleanupJob.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server forced to shutdown")
		}
		if err := sessionService.Close(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("failed to close sessions")
		}
		if err := webhookService.Close(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("failed to drain webhook deliveries")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server exited with error")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
