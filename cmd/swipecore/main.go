// Command swipecore serves the client core of one user over local HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/pegaoupassa/swipe-core/api"
	"github.com/pegaoupassa/swipe-core/api/validator"
	"github.com/pegaoupassa/swipe-core/app"
	"github.com/pegaoupassa/swipe-core/auth"
	"github.com/pegaoupassa/swipe-core/config"
	"github.com/pegaoupassa/swipe-core/localstore"
	"github.com/pegaoupassa/swipe-core/media"
	"github.com/pegaoupassa/swipe-core/postgres"
	"github.com/pegaoupassa/swipe-core/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Could not load configuration", "error", err.Error())
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel.Level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Exiting", "error", err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	pg, err := postgres.Connect(ctx, cfg.PostgresDSN, logger)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pg.Close()
	if cfg.CreateSchema {
		if err := pg.CreateSchema(ctx); err != nil {
			return err
		}
	}

	backend := app.Backend{
		Profiles:  pg,
		Swipes:    pg,
		Quotas:    pg,
		Matches:   pg,
		Messages:  pg,
		Reactions: pg,
	}

	if cfg.RedisAddr != "" {
		rds, err := redis.Connect(ctx, cfg.RedisAddr, logger)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rds.Close()
		pg.PublishTo(rds)
		backend.Realtime = rds
		backend.Presence = rds
	} else {
		logger.Warn("No Redis address, chats run without realtime updates or presence")
	}

	if cfg.S3PublicURL != "" {
		store, err := media.New(ctx, media.Config{
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			PublicURL: cfg.S3PublicURL,
		})
		if err != nil {
			return fmt.Errorf("media store: %w", err)
		}
		backend.Media = store
	}

	local, err := localstore.Open(ctx, cfg.SQLitePath)
	if err != nil {
		return fmt.Errorf("open local store: %w", err)
	}
	defer local.Close()
	backend.Intents = local

	if cfg.Location.Set {
		backend.Locator = fixedLocator{api.Location{
			Latitude:  cfg.Location.Latitude,
			Longitude: cfg.Location.Longitude,
		}}
	}

	core := app.New(app.Config{
		UserID:               cfg.UserID,
		Backend:              backend,
		DailyLikes:           cfg.DailyLikes,
		SwipeThreshold:       cfg.SwipeThreshold,
		FeedBatchSize:        cfg.FeedBatchSize,
		FeedLowWatermark:     cfg.FeedLowWatermark,
		LocateTimeout:        cfg.LocateTimeout,
		IcebreakerDelay:      cfg.IcebreakerDelay,
		TypingIdle:           cfg.TypingIdle,
		NotificationRetry:    cfg.NotificationRetry,
		RestoreCardOnFailure: cfg.RestoreCard,
		Logger:               logger,
	})
	if err := core.Start(ctx); err != nil {
		return fmt.Errorf("start core: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := core.Close(closeCtx); err != nil {
			logger.Warn("Could not close core cleanly", "error", err.Error())
		}
	}()

	var handler http.Handler = &api.API{
		Logger: logger,
		Core:   core,
		Val:    validator.New(),
	}
	if cfg.JWTSecret != "" {
		handler = &auth.Middleware{
			Logger:   logger,
			Verifier: auth.NewVerifier(cfg.JWTSecret),
			UserID:   cfg.UserID,
			Next:     handler,
		}
	} else {
		logger.Warn("No JWT secret, requests are not authenticated")
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("/", handler)

	srv := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: cors.New(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
		}).Handler(mux),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("Listening", "addr", cfg.ListenAddr, "user_id", cfg.UserID)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// fixedLocator reports a configured location.
type fixedLocator struct {
	loc api.Location
}

func (l fixedLocator) Locate(context.Context) (api.Location, error) {
	return l.loc, nil
}
