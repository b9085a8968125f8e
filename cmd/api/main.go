package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/SirClappington/orderbots/internal/api"
	"github.com/SirClappington/orderbots/internal/config"
	"github.com/SirClappington/orderbots/internal/engine"
	"github.com/SirClappington/orderbots/internal/logging"
	"github.com/SirClappington/orderbots/internal/queue"
	"github.com/SirClappington/orderbots/internal/storage"
)

func main() {
	cfg := config.Load()
	logger := logging.NewLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Error("orderbots api stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID := uuid.NewString()
	logger = logger.With(zap.String("run_id", runID), zap.String("env", cfg.AppEnv))

	eng := engine.New(
		engine.WithProcessDuration(cfg.ProcessDuration),
		engine.WithLogger(logger),
	)
	defer eng.Close()
	for i := 0; i < cfg.InitialWorkers; i++ {
		eng.AddWorker()
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.RedisEnabled() {
		rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return errors.Wrap(err, "ping redis")
		}
		q := queue.New(rdb, runID, cfg.RedisEventCap)
		events := eng.Stream(gctx, cfg.EventBuffer)
		g.Go(func() error { return q.Relay(gctx, events, logger) })
	}

	if cfg.PostgresEnabled() {
		if err := storage.Migrate(cfg.PostgresDSN, logger); err != nil {
			return err
		}
		db, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return errors.Wrap(err, "connect postgres")
		}
		defer db.Close()
		store := storage.New(db)
		events := eng.Stream(gctx, cfg.EventBuffer)
		g.Go(func() error { return store.Journal(gctx, runID, events, logger) })
	}

	srv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           api.New(eng, logger, api.WithSettleTimeout(cfg.SettleTimeout)),
		ReadHeaderTimeout: 10 * time.Second,
		// Event streams end with the run instead of holding Shutdown open.
		BaseContext: func(net.Listener) context.Context { return gctx },
	}

	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.APIAddr), zap.Duration("process_duration", cfg.ProcessDuration))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "serve http")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
