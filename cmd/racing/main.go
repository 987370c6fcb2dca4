package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/AJM432/racing/internal/api"
	"github.com/AJM432/racing/internal/racing"
	"github.com/AJM432/racing/pkg/config"
	"github.com/AJM432/racing/pkg/events"
	"github.com/AJM432/racing/pkg/imagestore"
	"github.com/AJM432/racing/pkg/keylock"
	"github.com/AJM432/racing/pkg/leaderboard"
	"github.com/AJM432/racing/pkg/logger"
	"github.com/AJM432/racing/pkg/racetrack"
	"github.com/AJM432/racing/pkg/repository"
	"github.com/AJM432/racing/pkg/server"
)

// rateLimitClients bounds the number of per-client limiters kept in memory
const rateLimitClients = 10000

func main() {
	configPath := flag.String("config", "", "optional config file")
	flag.Parse()

	// 1. Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	l, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Environment,
		ServiceName: cfg.ServiceName,
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer l.Sync()

	l.Info("racing service initializing",
		zap.String("env", cfg.Environment),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("images", cfg.Images.Backend),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Initialize repository
	repo, err := openRepository(ctx, cfg, l)
	if err != nil {
		l.Error("failed to open repository", err, zap.String("backend", cfg.Storage.Backend))
		os.Exit(1)
	}
	defer repo.Close()

	// 4. Initialize image storage
	backend, closeImages, err := openImages(cfg)
	if err != nil {
		l.Error("failed to open image storage", err, zap.String("backend", cfg.Images.Backend))
		os.Exit(1)
	}
	defer closeImages()

	// 5. Initialize event publishing
	var publisher events.Publisher = events.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = events.NewKafkaPublisher(events.KafkaConfig{
			Brokers:   cfg.Kafka.Brokers,
			Topic:     cfg.Kafka.Topic,
			BatchSize: cfg.Events.BatchSize,
		})
	} else {
		l.Info("no kafka brokers configured, events will be discarded")
	}
	dispatcher := events.NewDispatcher(l.Named("events"), publisher,
		cfg.Events.WorkerCount, cfg.Events.BatchSize, cfg.Events.FlushInterval)
	dispatcher.Start(context.Background())

	// 6. Create service
	locks := keylock.New()
	store := racetrack.NewStore(imagestore.New(backend), repo, locks, l.Named("racetracks"))
	engine := leaderboard.NewEngine(store, repo, locks, l.Named("leaderboard"))
	svc := racing.NewService(l, store, engine, repo, dispatcher)

	if err := svc.Start(ctx); err != nil {
		l.Error("racing service failed to start", err)
		os.Exit(1)
	}

	// 7. Start observability server
	obsServer := server.New(cfg.HTTP.ObservabilityAddr, l, map[string]server.Pinger{"repository": svc})
	go func() {
		if err := obsServer.Start(); err != nil {
			l.Error("observability server failed", err)
		}
	}()

	// 8. Start API server
	limiter, err := api.NewRateLimiter(cfg.HTTP.RateLimit, cfg.HTTP.RateBurst, rateLimitClients)
	if err != nil {
		l.Error("failed to create rate limiter", err)
		os.Exit(1)
	}
	apiServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.NewHandler(svc, l.Named("api")).Router(limiter),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}
	go func() {
		l.Info("racing service starting", zap.String("addr", cfg.HTTP.Addr))
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("api server failed", err)
			stop()
		}
	}()

	<-ctx.Done()
	l.Info("racing service stopping")

	// API first, then drain events
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		l.Error("api server shutdown failed", err)
	}
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		l.Error("event dispatcher shutdown failed", err)
	}
	obsServer.Shutdown(shutdownCtx)
}

func openRepository(ctx context.Context, cfg *config.AppConfig, l *logger.Logger) (repository.Repository, error) {
	rl := l.Named("repository")
	switch cfg.Storage.Backend {
	case config.BackendBadger:
		return repository.OpenBadger(cfg.Badger.Path, rl)
	case config.BackendPostgres:
		return repository.NewPostgres(ctx, repository.PostgresConfig{
			URI:      cfg.Postgres.URI,
			MinConns: int32(cfg.Postgres.MinConns),
			MaxConns: int32(cfg.Postgres.MaxConns),
		}, rl)
	case config.BackendMongo:
		return repository.NewMongo(ctx, repository.MongoConfig{
			URI:            cfg.MongoDB.URI,
			Database:       cfg.MongoDB.Database,
			ConnectTimeout: cfg.MongoDB.ConnectTimeout,
		}, rl)
	default:
		return repository.Nop{}, nil
	}
}

func openImages(cfg *config.AppConfig) (imagestore.Backend, func() error, error) {
	var (
		backend imagestore.Backend
		closer  = func() error { return nil }
	)

	switch cfg.Images.Backend {
	case config.ImagesRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			DB:       cfg.Redis.DB,
			Password: cfg.Redis.Password,
		})
		backend = imagestore.NewRedisStore(client, cfg.Redis.KeyPrefix)
		closer = client.Close
	default:
		fs, err := imagestore.NewFileStore(cfg.Images.Dir)
		if err != nil {
			return nil, nil, err
		}
		backend = fs
	}

	if cfg.Images.CacheSize <= 0 {
		return backend, closer, nil
	}
	cached, err := imagestore.NewCached(backend, cfg.Images.CacheSize)
	if err != nil {
		closer()
		return nil, nil, err
	}
	return cached, closer, nil
}
