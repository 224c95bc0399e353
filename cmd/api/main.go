package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"loyalty-ledger/internal/cache"
	"loyalty-ledger/internal/config"
	"loyalty-ledger/internal/database"
	"loyalty-ledger/internal/events"
	"loyalty-ledger/internal/features"
	"loyalty-ledger/internal/handler"
	"loyalty-ledger/internal/logging"
	"loyalty-ledger/internal/metrics"
	"loyalty-ledger/internal/middleware"
	"loyalty-ledger/internal/notify"
	"loyalty-ledger/internal/service"
	"loyalty-ledger/internal/storage"
	"loyalty-ledger/internal/storage/local"
	"loyalty-ledger/internal/storage/remote"
	"loyalty-ledger/internal/tracing"
)

var version = "dev"

func main() {
	configFile := flag.String("config", "", "Path to a JSON, TOML or YAML config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, logCloser := logging.Setup(logging.Config{
		Service:    tracing.DefaultServiceName,
		Env:        cfg.Tracing.Environment,
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer logCloser.Close()

	tracer, err := tracing.InitTracing(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: tracing.DefaultServiceName,
		Environment: cfg.Tracing.Environment,
		Version:     version,
	})
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}

	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer closeStore()

	reportCache := openCache(cfg, logger)
	flags := features.Defaults(cfg.Features.ReportCache, cfg.Features.Notifications, cfg.Features.ConsistencyCheck)

	bus := events.NewManager(true, logger)
	notify.Subscribe(bus, notify.Gate(openNotifier(cfg, logger), func() bool {
		return flags.IsEnabled(features.FeatureNotifications)
	}), logger)

	svc := service.NewService(store, service.Options{
		Events:   bus,
		Cache:    reportCache,
		CacheTTL: time.Duration(cfg.Cache.TTLSeconds) * time.Second,
		Features: flags,
		Metrics:  metrics.Ledger(),
		Tracer:   tracer,
		Logger:   logger,
	})
	if err := svc.Load(context.Background()); err != nil {
		log.Fatalf("Failed to load ledger: %v", err)
	}

	h := handler.NewHandlerWithOptions(svc, handler.NewHandlerOptions{
		MaxBodySize: cfg.Security.MaxRequestBodySize,
		Logger:      logger,
	})

	// Setup router
	r := chi.NewRouter()

	// Middleware (order matters)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(middleware.TracingMiddleware(tracing.DefaultServiceName))

	if cfg.RateLimit.Enabled {
		rateLimiter := middleware.NewRateLimiter(middleware.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		}, logger)
		defer rateLimiter.Stop()
		r.Use(rateLimiter.Middleware)
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	auth := middleware.NewAuthenticator(middleware.AuthConfig{
		Enabled:    cfg.Auth.Enabled,
		HMACSecret: cfg.Auth.HMACSecret,
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
		ClockSkew:  30 * time.Second,
	}, logger)

	h.Routes(r, auth.Middleware)
	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("error closing server", "error", err)
		}
		bus.Shutdown()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Error("error flushing traces", "error", err)
		}
	}()

	logger.Info("starting server",
		"addr", addr,
		"tls", cfg.Server.EnableTLS,
		"storage", cfg.Storage.Mode,
		"rate_limit", cfg.RateLimit.Enabled,
		"auth", cfg.Auth.Enabled,
	)

	if cfg.Server.EnableTLS {
		err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
	} else {
		err = server.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server failed: %v", err)
	}
}

// openStore builds the backend selected by the storage mode.
func openStore(cfg *config.Config, logger *slog.Logger) (storage.Store, func(), error) {
	switch cfg.Storage.Mode {
	case config.StorageSQLite:
		db, err := database.NewDB(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return db, func() { db.Close() }, nil
	case config.StorageGitHub:
		rc := cfg.Storage.Remote
		s, err := remote.New(remote.Config{
			Owner:      rc.Owner,
			Repo:       rc.Repo,
			Branch:     rc.Branch,
			Token:      rc.Token,
			Dir:        rc.Dir,
			RawBaseURL: rc.RawBaseURL,
			APIBaseURL: rc.APIBaseURL,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	default:
		s, err := local.New(cfg.Storage.Dir, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	}
}

// openCache prefers redis and falls back to process memory.
func openCache(cfg *config.Config, logger *slog.Logger) cache.Cache {
	if !cfg.Cache.Enabled {
		return nil
	}
	if cfg.Cache.RedisAddr != "" {
		rc, err := cache.NewRedisCache(cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
		if err == nil {
			return rc
		}
		logger.Warn("redis unavailable, using in-memory report cache", "addr", cfg.Cache.RedisAddr, "error", err)
	}
	return cache.NewInMemoryCache()
}

func openNotifier(cfg *config.Config, logger *slog.Logger) notify.Notifier {
	if !cfg.Notify.Enabled {
		return notify.NewLogNotifier(logger)
	}
	n, err := notify.NewBotNotifier(notify.BotConfig{
		BaseURL: cfg.Notify.BotBaseURL,
		Token:   cfg.Notify.BotToken,
		ChatID:  cfg.Notify.ChatID,
	})
	if err != nil {
		logger.Warn("bot notifier disabled", "error", err)
		return notify.NewLogNotifier(logger)
	}
	return n
}
