package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/franckalain/glowscan/internal/auth"
	"github.com/franckalain/glowscan/internal/chat"
	"github.com/franckalain/glowscan/internal/config"
	"github.com/franckalain/glowscan/internal/kv"
	"github.com/franckalain/glowscan/internal/logging"
	"github.com/franckalain/glowscan/internal/metrics"
	"github.com/franckalain/glowscan/internal/photo"
	"github.com/franckalain/glowscan/internal/remote"
	"github.com/franckalain/glowscan/internal/remote/diskstore"
	"github.com/franckalain/glowscan/internal/remote/gcsstore"
	"github.com/franckalain/glowscan/internal/remote/pgstore"
	"github.com/franckalain/glowscan/internal/remote/sqlstore"
	"github.com/franckalain/glowscan/internal/scancache"
	"github.com/franckalain/glowscan/internal/server"
	"github.com/franckalain/glowscan/internal/skincare"
	"github.com/franckalain/glowscan/internal/upload"
)

func main() {
	configPath := flag.String("config", config.GetConfigPath(), "path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load configuration:", err)
		os.Exit(1)
	}

	log := logging.Setup(cfg.Server.Debug, cfg.Server.JSONLogs)
	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("glowscan stopped")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.NewRegistry()

	// Device storage
	backend, closeBackend, err := openBackend(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer closeBackend()

	store := kv.New(backend,
		kv.WithLogger(logging.Component(log, "kv")),
		kv.WithEvictionHook(func(n int) {
			reg.Inc(context.Background(), metrics.KVQuotaEvictions, nil, int64(n))
		}),
	)

	// Remote backend
	rows, closeRows, err := openRows(ctx, cfg.Remote)
	if err != nil {
		return err
	}
	defer closeRows()

	objects, objectsHandler, closeObjects, err := openObjects(ctx, cfg.Remote)
	if err != nil {
		return err
	}
	defer closeObjects()

	client := remote.NewClient(objects, rows, logging.Component(log, "remote"))
	sessions := auth.NewTokenSessions(store, cfg.Auth.JWTSecret, logging.Component(log, "auth"))

	cache := scancache.New(store, scancache.WithLogger(logging.Component(log, "scancache")))
	pipeline := upload.New(cache, sessions, client, photo.NewLoader(&http.Client{Timeout: 30 * time.Second}),
		upload.WithLogger(logging.Component(log, "upload")),
		upload.WithMetrics(reg),
		upload.WithGuardTTL(cfg.Upload.GuardTTL()),
	)

	svc := skincare.NewService(skincare.Deps{
		Cache:      cache,
		Reconciler: scancache.NewReconciler(cache, client, logging.Component(log, "sync")),
		Pipeline:   pipeline,
		Sessions:   sessions,
		Analysis:   client,
		Store:      store,
		Metrics:    reg,
		Log:        logging.Component(log, "skincare"),
	})
	if err := svc.Load(ctx); err != nil {
		return fmt.Errorf("load state: %w", err)
	}

	opts := []server.Option{
		server.WithSessions(sessions),
		server.WithMetrics(reg),
		server.WithRateLimit(cfg.Server.RateLimit, cfg.Server.RateBurst),
		server.WithLogger(logging.Component(log, "server")),
	}
	if objectsHandler != nil {
		opts = append(opts, server.WithObjects(objectsHandler))
	}
	if cfg.Chat.Type != "" {
		completer, err := chat.NewCompleter(ctx, chat.Config{
			Type:            cfg.Chat.Type,
			ProjectID:       cfg.Chat.ProjectID,
			Location:        cfg.Chat.Location,
			CredentialsFile: cfg.Chat.CredentialsFile,
			APIKey:          cfg.Chat.APIKey,
			BaseURL:         cfg.Chat.BaseURL,
			Model:           cfg.Chat.Model,
		})
		if err != nil {
			return fmt.Errorf("create chat completer: %w", err)
		}
		if c, ok := completer.(io.Closer); ok {
			defer c.Close()
		}
		opts = append(opts, server.WithChat(chat.NewService(store, completer,
			chat.WithLogger(logging.Component(log, "chat")),
			chat.WithMetrics(reg),
		)))
	}

	srv := server.New(svc, opts...)
	err = srv.Start(ctx, cfg.Server.Port)

	log.Info().Msg("waiting for uploads in flight")
	pipeline.Wait()
	return err
}

func openBackend(ctx context.Context, cfg config.StorageConfig) (kv.Backend, func(), error) {
	var (
		backend kv.Backend
		closer  = func() {}
	)
	switch cfg.Type {
	case "sqlite":
		b, err := kv.NewSQLiteBackend(cfg.Path, cfg.QuotaBytes)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite storage: %w", err)
		}
		backend, closer = b, func() { b.Close() }
	case "bolt":
		b, err := kv.OpenBolt(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open bolt storage: %w", err)
		}
		backend, closer = b, func() { b.Close() }
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("connect redis storage: %w", err)
		}
		backend, closer = kv.NewRedisBackend(rdb, cfg.RedisPrefix), func() { rdb.Close() }
	case "memory":
		backend = kv.NewMemoryBackend(int(cfg.QuotaBytes))
	default:
		return nil, nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}

	if cfg.LRUEntries > 0 {
		cached, err := kv.NewLRUBackend(backend, cfg.LRUEntries)
		if err != nil {
			closer()
			return nil, nil, err
		}
		backend = cached
	}
	return backend, closer, nil
}

func openRows(ctx context.Context, cfg config.RemoteConfig) (remote.ScanRows, func(), error) {
	switch cfg.Rows {
	case "postgres":
		s, err := pgstore.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		s, err := sqlstore.New(cfg.DatabasePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open remote database: %w", err)
		}
		return s, func() { s.Close() }, nil
	}
}

// openObjects returns the object store and, for disk storage, the handler
// serving its public URLs
func openObjects(ctx context.Context, cfg config.RemoteConfig) (remote.ObjectStore, http.Handler, func(), error) {
	switch cfg.Objects {
	case "gcs":
		s, err := gcsstore.New(ctx, gcsstore.Config{Bucket: cfg.Bucket, CredentialsFile: cfg.CredentialsFile})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open gcs bucket: %w", err)
		}
		return s, nil, func() { s.Close() }, nil
	default:
		s, err := diskstore.New(cfg.ObjectsDir, cfg.PublicBaseURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open object dir: %w", err)
		}
		return s, s.Handler(), func() {}, nil
	}
}
