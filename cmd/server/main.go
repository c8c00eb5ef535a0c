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

	"github.com/spf13/pflag"

	"zchat/internal/attachment"
	"zchat/internal/config"
	"zchat/internal/domain"
	"zchat/internal/httpserver"
	"zchat/internal/pubsub"
	"zchat/internal/pubsub/redisrelay"
	"zchat/internal/security"
	"zchat/internal/service"
	"zchat/internal/store/memory"
	"zchat/internal/store/postgres"
	"zchat/internal/store/sqlite"
	"zchat/internal/ws"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to a YAML config file (environment only when empty)")
	pflag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "zchat: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	bus := pubsub.NewBus(logger, pubsub.Options{BufferSize: cfg.Bus.SubscriberBuffer})
	defer bus.Close()

	var events pubsub.Publisher = bus
	if cfg.Redis.URL != "" {
		relay, err := redisrelay.Dial(ctx, bus, logger, redisrelay.Options{URL: cfg.Redis.URL, Channel: cfg.Redis.Channel})
		if err != nil {
			return err
		}
		defer relay.Close()
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("redis relay stopped", slog.String("error", err.Error()))
			}
		}()
		events = relay
		logger.Info("redis relay enabled", slog.String("channel", cfg.Redis.Channel))
	}

	tokens := security.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	hasher := security.NewPasswordHasher(cfg.Auth.BcryptCost)
	locks := service.NewConversationLocks()

	authSvc := service.NewAuthService(store.Users(), tokens, hasher)
	convSvc := service.NewConversationService(store, events, locks, logger)
	msgSvc := service.NewMessageService(store, events, locks, logger)

	deps := httpserver.Deps{
		Auth:           authSvc,
		Users:          service.NewUserService(store.Users()),
		Conversations:  convSvc,
		Messages:       msgSvc,
		MaxUploadBytes: cfg.Attachments.MaxBytes,
		CORSOrigins:    cfg.CORSOrigins,
		Logger:         logger,
	}
	switch cfg.Attachments.Driver {
	case config.AttachmentsS3:
		s3cfg := cfg.Attachments.S3
		deps.Attachments = attachment.NewS3(attachment.S3Config{
			Endpoint:        s3cfg.Endpoint,
			AccessKeyID:     s3cfg.AccessKeyID,
			SecretAccessKey: s3cfg.SecretAccessKey,
			Bucket:          s3cfg.Bucket,
			Region:          s3cfg.Region,
			PublicURL:       s3cfg.PublicURL,
		})
	default:
		disk, err := attachment.NewDisk(cfg.Attachments.UploadDir, "/api/uploads")
		if err != nil {
			return err
		}
		deps.Attachments = disk
		deps.Disk = disk
	}

	hub := ws.NewHub()
	deps.Gateway = ws.NewGateway(bus, authSvc, store.Participants(), hub, cfg.CORSOrigins, logger)

	srv := &http.Server{
		Addr:        cfg.Server.Address(),
		Handler:     httpserver.NewRouter(deps),
		ReadTimeout: cfg.Server.ReadTimeout,
		// No WriteTimeout: websocket sessions are long-lived.
		IdleTimeout: cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			slog.String("addr", srv.Addr),
			slog.String("store", cfg.Store.Driver),
			slog.String("attachments", cfg.Attachments.Driver),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	hub.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", slog.String("error", err.Error()))
	}
	return nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.Debug {
		opts.Level = slog.LevelDebug
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts)).With(slog.String("app", cfg.AppName), slog.String("env", cfg.Env))
}

func openStore(ctx context.Context, cfg config.Store) (domain.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return memory.New(), nil
	case config.DriverPostgres:
		pool, err := postgres.Open(ctx, cfg.PostgresDSN, postgres.PoolConfig{MaxConns: cfg.MaxConns, MinConns: cfg.MinConns})
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		return postgres.NewStore(pool), nil
	default:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := sqlite.Migrate(db); err != nil {
			_ = db.Close()
			return nil, err
		}
		return sqlite.NewStore(db), nil
	}
}
