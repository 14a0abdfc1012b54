package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"authgate/internal/cache"
	"authgate/internal/config"
	"authgate/internal/database"
	"authgate/internal/handlers"
	"authgate/internal/log"
	"authgate/internal/repository"
	"authgate/internal/security"
	"authgate/internal/server"
	"authgate/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment, cfg.Log.Level)

	ctx := context.Background()

	var (
		store  repository.Store
		dbPool *pgxpool.Pool
		pinger handlers.Pinger
	)
	switch cfg.Database.Driver {
	case config.DriverMemory:
		logger.Warn().Msg("using in-memory store; data is lost on restart")
		store = repository.NewMemoryStore()
	default:
		dbPool, err = database.Open(ctx, cfg.Postgres, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect postgres")
		}
		store = repository.NewPostgresStore(dbPool)
		pinger = dbPool
	}

	var (
		redisClient *redis.Client
		cacheClient redis.Cmdable
		limiter     service.AttemptLimiter = cache.NoopLimiter{}
	)
	if throttle := cfg.Security.LoginThrottle; throttle.Enabled {
		redisClient, err = cache.NewRedisClient(ctx, cfg.Redis, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect redis")
		}
		cacheClient = redisClient
		limiter = cache.NewLoginLimiter(redisClient, throttle.MaxAttempts, throttle.Window)
	}

	hasher, err := security.NewHasher(cfg.Security.BcryptCost)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid password hasher settings")
	}

	keys, err := security.NewKeySet(cfg.Security.JWTKeyID, cfg.Security.JWTSecret, cfg.Security.JWTRetiredSecrets)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid signing keys")
	}
	tokens, err := security.NewTokenService(security.TokenConfig{
		Keys:       keys,
		Issuer:     cfg.Security.Issuer,
		AccessTTL:  cfg.Security.JWTAccessTTL,
		RefreshTTL: cfg.Security.JWTRefreshTTL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid token settings")
	}

	if err := database.Seed(ctx, store, hasher, cfg.Bootstrap, logger); err != nil {
		logger.Fatal().Err(err).Msg("failed to seed roles")
	}

	defaultRole, selfAssignable, err := cfg.Registration.Roles()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid registration policy")
	}

	authService := service.NewAuthService(store, hasher, tokens, limiter, service.RegistrationPolicy{
		DefaultRole:    defaultRole,
		SelfAssignable: selfAssignable,
	}, logger)
	userService := service.NewUserService(store, hasher, logger)

	handlerSet := handlers.NewHandlerSet(logger, cfg, authService, userService, pinger, cacheClient)
	httpServer := server.NewHTTPServer(cfg, logger, handlerSet)

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdown(logger, httpServer, dbPool, redisClient)
}

func waitForShutdown(logger zerolog.Logger, srv *server.HTTPServer, db *pgxpool.Pool, redisClient *redis.Client) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	if db != nil {
		db.Close()
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("redis close error")
		}
	}

	logger.Info().Msg("server exited cleanly")
}
