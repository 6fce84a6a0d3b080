// Command server runs the TravelMundo credit service: the REST API, the
// Hotmart webhook endpoint, and Prometheus metrics, over a configurable
// storage backend.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	firestoreapi "cloud.google.com/go/firestore"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"

	"github.com/travelmundo/credits/pkg/api"
	"github.com/travelmundo/credits/pkg/config"
	"github.com/travelmundo/credits/pkg/credits"
	zerologadapter "github.com/travelmundo/credits/pkg/credits/logger/zerolog"
	prommetrics "github.com/travelmundo/credits/pkg/credits/metrics/prometheus"
	"github.com/travelmundo/credits/pkg/hotmart"
	firestorestorage "github.com/travelmundo/credits/storage/firestore"
	"github.com/travelmundo/credits/storage/memory"
	"github.com/travelmundo/credits/storage/postgres"
	redisstorage "github.com/travelmundo/credits/storage/redis"
)

var version = "dev"

func main() {
	logger := newLogger(os.Getenv("LOG_LEVEL"))

	if err := run(logger); err != nil {
		logger.Fatal().Err(err).Msg("server exited")
	}
}

func run(logger zerolog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storage, cleanup, err := buildStorage(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to build storage: %w", err)
	}
	defer cleanup()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	service, err := credits.NewService(storage, credits.Config{
		MaxDevices: cfg.MaxDevices,
		Logger:     zerologadapter.NewLogger(logger),
		Metrics:    prommetrics.NewMetrics(registry, "travelmundo"),
	})
	if err != nil {
		return fmt.Errorf("failed to create credit service: %w", err)
	}

	handler, err := api.NewHandler(api.Config{
		Service: service,
		Logger:  zerologadapter.NewLogger(logger),
	})
	if err != nil {
		return fmt.Errorf("failed to create API handler: %w", err)
	}

	provider, err := hotmart.NewProvider(hotmart.Config{
		Service: service,
		Secret:  cfg.HotmartSecret,
		Logger:  zerologadapter.NewLogger(logger),
	})
	if err != nil {
		return fmt.Errorf("failed to create hotmart provider: %w", err)
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))

	r.Mount("/", handler.Routes())
	r.Method(http.MethodPost, "/webhook/hotmart", provider.WebhookHandler())
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/version", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"version":%q}`, version)
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().
			Int("port", cfg.Port).
			Str("datastore", string(cfg.Datastore)).
			Str("version", version).
			Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// buildStorage wires the configured backend and returns a cleanup func for
// whatever connections it opened
func buildStorage(ctx context.Context, cfg *config.Config) (credits.Storage, func(), error) {
	noop := func() {}

	switch cfg.Datastore {
	case config.DatastoreMemory:
		return memory.New(), noop, nil

	case config.DatastoreFirestore:
		var opts []option.ClientOption
		if len(cfg.FirebaseCredentials) > 0 {
			opts = append(opts, option.WithCredentialsJSON(cfg.FirebaseCredentials))
		}
		client, err := firestoreapi.NewClient(ctx, cfg.FirestoreProject, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create firestore client: %w", err)
		}
		storage, err := firestorestorage.New(client, firestorestorage.Config{})
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return storage, func() { _ = client.Close() }, nil

	case config.DatastoreRedis:
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		storage, err := redisstorage.New(client, redisstorage.DefaultConfig())
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return storage, func() { _ = client.Close() }, nil

	case config.DatastorePostgres:
		pgConfig := postgres.DefaultConfig()
		pgConfig.ConnectionString = cfg.PostgresDSN
		storage, err := postgres.New(ctx, pgConfig)
		if err != nil {
			return nil, nil, err
		}
		if err := storage.EnsureSchema(ctx); err != nil {
			storage.Close()
			return nil, nil, err
		}
		return storage, storage.Close, nil
	}

	return nil, nil, fmt.Errorf("unknown datastore %q", cfg.Datastore)
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}
