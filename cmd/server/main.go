package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"collabhub/internal/api"
	"collabhub/internal/auth"
	"collabhub/internal/config"
	"collabhub/internal/notify"
	"collabhub/internal/routers"
	"collabhub/internal/session"
	"collabhub/internal/store"
	"collabhub/internal/utils"
)

const shutdownTimeout = 30 * time.Second

var (
	listenAndServe = func(srv *http.Server) error { return srv.ListenAndServe() }
	exitFunc       = defaultExit
	exit           = os.Exit
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx); err != nil {
		exitFunc(err)
	}
}

func defaultExit(err error) {
	log.Printf("collabhub: %v", err)
	exit(1)
}

func run(ctx context.Context) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	logger := utils.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	var rdb *redis.Client
	if cfg.CacheEnabled || cfg.Notifier == config.NotifierRedis {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
	}

	docs, err := buildStore(cfg, rdb, logger)
	if err != nil {
		return err
	}
	notifier, closeNotifier := buildNotifier(cfg, rdb, logger)
	defer closeNotifier()

	registry := session.NewRegistry(session.Options{
		Store:        docs,
		Notifier:     notifier,
		SaveDebounce: cfg.SaveDebounce,
		Log:          logger,
	})
	checkpoints := session.NewCheckpointer(registry, cfg.CheckpointSchedule, logger)
	if err := checkpoints.Start(); err != nil {
		return err
	}
	defer checkpoints.Stop()

	handlers := api.NewHandlers(logger, registry, buildAuthorizer(cfg), cfg)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           routers.New(logger, handlers, cfg.CORSAllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("collabhub listening", "addr", srv.Addr, "store", cfg.Store, "auth", cfg.AuthMode, "notifier", cfg.Notifier)
	errCh := make(chan error, 1)
	go func() { errCh <- listenAndServe(srv) }()

	select {
	case err = <-errCh:
	case <-ctx.Done():
		logger.Info("collabhub shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err = srv.Shutdown(shutdownCtx)
	}
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}

	if n := registry.CloseAll("server shutting down"); n > 0 {
		logger.Info("disconnected sessions", "count", n)
	}
	if failed := registry.FlushAll(context.Background(), "shutdown"); failed > 0 {
		logger.Warn("unsaved rooms at shutdown", "failed", failed)
	}
	return err
}

func buildStore(cfg *config.Config, rdb *redis.Client, logger *utils.Logger) (store.Store, error) {
	var docs store.Store
	switch cfg.Store {
	case config.StoreSQL:
		sqlStore, err := store.OpenSQLStore(cfg.DatabaseDriver, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := sqlStore.Migrate(); err != nil {
			return nil, fmt.Errorf("migrate documents table: %w", err)
		}
		docs = sqlStore
	default:
		docs = store.NewHTTPStore(cfg.DocumentServiceURL, cfg.FetchTimeout, cfg.SaveTimeout)
	}
	if cfg.CacheEnabled {
		docs = store.NewCachedStore(docs, rdb, cfg.CacheTTL, logger)
	}
	return docs, nil
}

func buildAuthorizer(cfg *config.Config) auth.Authorizer {
	switch cfg.AuthMode {
	case config.AuthJWT:
		return auth.NewJWTAuthorizer(cfg.JWTSecret)
	case config.AuthHTTP:
		return auth.NewHTTPAuthorizer(cfg.AuthServiceURL, cfg.AuthTimeout)
	default:
		return auth.PermitAll{}
	}
}

// buildNotifier returns the configured notifier and a func that drains it.
func buildNotifier(cfg *config.Config, rdb *redis.Client, logger *utils.Logger) (notify.Notifier, func()) {
	var sink notify.Sink
	switch cfg.Notifier {
	case config.NotifierHTTP:
		sink = notify.NewHTTPSink(cfg.MessageBrokerURL)
	case config.NotifierRedis:
		sink = notify.NewRedisSink(rdb, cfg.EventsChannel)
	default:
		return notify.Nop{}, func() {}
	}
	async := notify.NewAsync(sink, cfg.NotifyQueue, cfg.PublishTimeout, logger)
	return async, async.Close
}
