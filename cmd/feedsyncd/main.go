package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/getsentry/sentry-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/feedsync/config"
	"github.com/d60-Lab/feedsync/internal/api/handler"
	"github.com/d60-Lab/feedsync/internal/api/router"
	"github.com/d60-Lab/feedsync/internal/cache"
	"github.com/d60-Lab/feedsync/internal/changefeed"
	"github.com/d60-Lab/feedsync/internal/repository"
	"github.com/d60-Lab/feedsync/pkg/database"
	"github.com/d60-Lab/feedsync/pkg/logger"
	"github.com/d60-Lab/feedsync/pkg/tracing"
)

const version = "0.1.0"

const usage = `feedsyncd: remote authority for the feed sync engine.

Serves table reads and writes over HTTP, streams committed changes over
websockets and answers follower/following list queries.

Usage:
    feedsyncd [--config=<path>] [--migrate]
    feedsyncd -h | --help
    feedsyncd --version

Options:
    -h --help          Show this screen.
    --version          Show version.
    --config=<path>    Config file or directory [default: ./config].
    --migrate          Create or update tables, then exit.`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	path, _ := opts.String("--config")
	migrateOnly, _ := opts.Bool("--migrate")

	if err := run(path, migrateOnly); err != nil {
		fmt.Fprintln(os.Stderr, "feedsyncd:", err)
		os.Exit(1)
	}
}

func run(path string, migrateOnly bool) error {
	cfg, err := config.LoadFile(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	ctx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.Sentry.DSN, Environment: cfg.Sentry.Environment}); err != nil {
			return fmt.Errorf("init sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	db, err := database.InitDB(cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := repository.Migrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if migrateOnly {
		logger.Info("migration done", zap.String("driver", cfg.Database.Driver))
		return nil
	}

	var (
		broker changefeed.Broker
		rdb    *redis.Client
	)
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		broker = changefeed.NewRedisBroker(rdb, changefeed.DefaultBuffer)
	} else {
		broker = changefeed.NewMemoryBroker(changefeed.DefaultBuffer)
	}

	store := repository.NewTableStore(db, broker)
	relations := cache.NewRelationCache(db, rdb, cfg.Cache.TTL)
	relay := changefeed.NewRelay(repository.NewOutboxRepository(db), broker,
		cfg.Relay.ClaimLimit, cfg.Relay.PollInterval, relations.OnChange)
	stopRelay := relay.Start()

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router.Setup(handler.NewHandler(store, relations), cfg.Server.Mode, cfg.Tracing.ServiceName),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("feedsyncd listening", zap.String("addr", srv.Addr), zap.Bool("redis", rdb != nil))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			_ = stopRelay(context.Background())
			return err
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	return stopRelay(shutdownCtx)
}
