package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ganapathi9191/vegie9/services/account-service/internal/config"
	"github.com/ganapathi9191/vegie9/services/account-service/internal/handler"
	"github.com/ganapathi9191/vegie9/services/account-service/internal/ratelimit"
	"github.com/ganapathi9191/vegie9/services/account-service/internal/repository"
	"github.com/ganapathi9191/vegie9/services/account-service/internal/router"
	"github.com/ganapathi9191/vegie9/services/account-service/internal/usecase"
	"github.com/ganapathi9191/vegie9/shared/auth"
	"github.com/ganapathi9191/vegie9/shared/database"
	"github.com/ganapathi9191/vegie9/shared/events"
	"github.com/ganapathi9191/vegie9/shared/mailer"
	"github.com/ganapathi9191/vegie9/shared/middleware"
	"github.com/ganapathi9191/vegie9/shared/push"
	"github.com/ganapathi9191/vegie9/shared/security"
	"github.com/ganapathi9191/vegie9/shared/utilities"
	"github.com/ganapathi9191/vegie9/shared/validation"
)

const (
	heartbeatInterval = 30 * time.Second
	limiterCleanup    = time.Minute
	limiterIdle       = 5 * time.Minute
)

func main() {
	// A missing .env file is fine; the environment may already be set.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		bootstrap := zerolog.New(os.Stderr).With().Timestamp().Logger()
		bootstrap.Fatal().Err(err).Msg("failed to load account service config")
	}

	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	accountRepo, closeStore := openStore(ctx, &logger, cfg)
	otpLimiter, closeLimiter := newOTPLimiter(ctx, &logger, cfg)
	publisher := newPublisher(&logger, cfg)

	hasher, err := security.NewPasswordHasher(cfg.Hasher, cfg.BcryptCost)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create password hasher")
	}

	var otpSender usecase.OTPSender
	if cfg.SMTP.Enabled() {
		m, err := mailer.NewMailer(cfg.SMTP, cfg.OTP.TTL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create mailer")
		}
		otpSender = m
	}

	validator, err := validation.New()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create validator")
	}

	jwtAuth := auth.NewJWTAuthenticator(cfg.Token.Secret, cfg.Token.Issuer, cfg.Token.AccessExpiresIn)

	accountUsecase := usecase.NewAccountUsecase(
		&logger,
		accountRepo,
		security.NewRandomCodeGenerator(),
		hasher,
		otpLimiter,
		jwtAuth,
		otpSender,
		publisher,
		cfg.OTP.TTL,
	)
	profileUsecase := usecase.NewProfileUsecase(&logger, accountRepo)

	accountHandler := handler.NewAccountHTTPHandler(
		&logger,
		accountUsecase,
		profileUsecase,
		validator,
		accountRepo,
		handler.Options{
			ReturnOTP:    cfg.OTP.ReturnToClient,
			ExposeErrors: !cfg.IsProduction(),
		},
	)

	hub := push.NewHub(&logger, cfg.CORSAllowedOrigins)
	go hub.Heartbeat(ctx, heartbeatInterval)

	rateLimiter := middleware.NewClientRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	go rateLimiter.RunCleanup(ctx, limiterCleanup, limiterIdle)

	httpServer := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: router.NewRouter(router.Params{
			Logger:            &logger,
			Handler:           accountHandler,
			Push:              hub,
			JWTAuth:           jwtAuth,
			RequireAuth:       cfg.RequireAuth,
			TrustProxyHeaders: cfg.TrustProxyHeaders,
			RateLimiter:       rateLimiter,
			CORSOrigins:       cfg.CORSAllowedOrigins,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 2)

	var healthServer *utilities.HealthServer
	if cfg.GRPCHealthAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCHealthAddr)
		if err != nil {
			logger.Fatal().Err(err).Str("addr", cfg.GRPCHealthAddr).Msg("failed to listen for gRPC health")
		}
		healthServer = utilities.NewHealthServer(&logger)
		go func() {
			if err := healthServer.Serve(lis); err != nil {
				serverErr <- err
			}
		}()
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Str("env", cfg.AppEnv).Msg("account service listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down account service")
	case err := <-serverErr:
		logger.Error().Err(err).Msg("server failed, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if healthServer != nil {
		healthServer.SetServing(false)
	}

	hub.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shut down HTTP server")
	}
	if healthServer != nil {
		healthServer.Stop(shutdownCtx)
	}

	if err := publisher.Close(); err != nil {
		logger.Error().Err(err).Msg("failed to close event publisher")
	}
	closeLimiter()
	closeStore(shutdownCtx)

	logger.Info().Msg("account service stopped")
}

func newLogger(cfg *config.AccountServiceConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.AppEnv == config.EnvDevelopment {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stdout)
	}

	return logger.Level(level).With().Timestamp().Str("service", "account-service").Logger()
}

func openStore(
	ctx context.Context,
	logger *zerolog.Logger,
	cfg *config.AccountServiceConfig,
) (repository.AccountRepository, func(context.Context)) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		logger.Warn().Msg("using in-memory account store; data is lost on restart")
		return repository.NewMemoryAccountRepository(), func(context.Context) {}
	}

	mongoDB, err := database.ConnectMongo(ctx, logger, cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to MongoDB")
	}

	repo := repository.NewAccountMongoRepository(ctx, logger, mongoDB.Database())

	return repo, func(ctx context.Context) {
		if err := mongoDB.Close(ctx); err != nil {
			logger.Error().Err(err).Msg("failed to disconnect from MongoDB")
		}
	}
}

func newOTPLimiter(
	ctx context.Context,
	logger *zerolog.Logger,
	cfg *config.AccountServiceConfig,
) (ratelimit.OTPLimiter, func()) {
	if cfg.Redis.Addr == "" {
		limiter := ratelimit.NewMemoryOTPLimiter(cfg.OTP.MaxAttempts, cfg.OTP.AttemptWindow)
		go limiter.RunCleanup(ctx, limiterCleanup)
		return limiter, func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("failed to connect to Redis")
	}
	logger.Info().Str("addr", cfg.Redis.Addr).Msg("connected to Redis")

	return ratelimit.NewRedisOTPLimiter(client, cfg.OTP.MaxAttempts, cfg.OTP.AttemptWindow), func() {
		if err := client.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close Redis client")
		}
	}
}

func newPublisher(logger *zerolog.Logger, cfg *config.AccountServiceConfig) events.Publisher {
	if len(cfg.Kafka.Brokers) == 0 {
		return events.NopPublisher{}
	}

	logger.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("publishing account events to Kafka")
	return events.NewKafkaPublisher(logger, cfg.Kafka.Brokers, cfg.Kafka.Topic)
}
