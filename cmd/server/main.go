package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kaputi/kaputi-backend/internal/cards"
	"github.com/kaputi/kaputi-backend/internal/config"
	"github.com/kaputi/kaputi-backend/internal/cues"
	"github.com/kaputi/kaputi-backend/internal/httpapi"
	"github.com/kaputi/kaputi-backend/internal/leaderboard"
	"github.com/kaputi/kaputi-backend/internal/logging"
	"github.com/kaputi/kaputi-backend/internal/registry"
	"github.com/kaputi/kaputi-backend/internal/session"
	"github.com/kaputi/kaputi-backend/internal/storage"
	"github.com/kaputi/kaputi-backend/internal/ws"
)

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.Environment)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	os.Exit(exitCode(logger, run(cfg, logger)))
}

// exitCode logs err and flushes the logger; os.Exit skips deferred calls.
func exitCode(logger *zap.Logger, err error) int {
	defer logger.Sync()
	if err != nil {
		logger.Error("server stopped", zap.Error(err))
		return 1
	}
	return 0
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var board leaderboard.Board = &leaderboard.Memory{}
	if cfg.DatabaseURL != "" {
		db, err := storage.Postgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		gs, err := leaderboard.NewGormSink(db)
		if err != nil {
			return err
		}
		board = gs
		logger.Info("leaderboard: postgres")
	} else {
		logger.Info("leaderboard: in-memory (DATABASE_URL not set)")
	}

	var dispatcher cues.Dispatcher = cues.Nop{}
	if cfg.RedisURL != "" {
		rdb, err := storage.Redis(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		pub := cues.NewRedisPublisher(rdb, logger)
		defer pub.Wait()
		dispatcher = pub
		logger.Info("audio cues: redis", zap.String("channel", cues.Channel))
	}

	reg := registry.New(ctx, registry.Options{
		Rules: cfg.Rules,
		Session: session.Options{
			Cards:       cards.Default(),
			Cues:        dispatcher,
			Leaderboard: board,
		},
		Grace:         cfg.RoomGrace,
		SweepInterval: cfg.SweepInterval,
		Logger:        logger,
	})

	// Build the router *with* the registry injected
	handler := httpapi.SetupRoutes(reg, httpapi.Options{
		PublicURL:   cfg.PublicURL,
		Logger:      logger,
		WS:          ws.Options{OriginPatterns: originPatterns(cfg)},
		Leaderboard: board,
	})
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", srv.Addr), zap.String("env", cfg.Environment))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		reg.Shutdown()
		return err
	})
	return g.Wait()
}

// originPatterns lets the front-end host open websockets; development allows any localhost port.
func originPatterns(cfg *config.Config) []string {
	patterns := []string{hostOf(cfg.PublicURL)}
	if cfg.Environment == "development" {
		patterns = append(patterns, "localhost:*", "127.0.0.1:*")
	}
	return patterns
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Host
}
