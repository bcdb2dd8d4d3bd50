package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/saathi/saathi-core/internal/agent"
	"github.com/saathi/saathi-core/internal/classifier"
	"github.com/saathi/saathi-core/internal/config"
	"github.com/saathi/saathi-core/internal/conversation"
	"github.com/saathi/saathi-core/internal/gateway"
	httpserver "github.com/saathi/saathi-core/internal/http"
	"github.com/saathi/saathi-core/internal/http/handlers"
	"github.com/saathi/saathi-core/internal/queue"
	"github.com/saathi/saathi-core/internal/ratelimit"
	"github.com/saathi/saathi-core/internal/repository"
	"github.com/saathi/saathi-core/internal/worker"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := config.LoadDotEnv(".env", ".env.local"); err != nil {
		logger.Warn("loading .env files failed", zap.Error(err))
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient := setupRedis(ctx, cfg, logger)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	jobQueue := setupQueue(ctx, cfg, redisClient, logger)
	archive, archiveCloser := setupArchive(ctx, cfg, logger)
	defer archiveCloser()

	limiter := ratelimit.New(
		setupRateStore(redisClient),
		ratelimit.Config{Window: cfg.RateWindow, MaxRequests: cfg.RateMaxRequests},
		logger,
	)

	conversationStore := setupConversationStore(cfg, redisClient)
	tracker := conversation.NewTracker(conversationStore, nil, logger)

	classifierClient := classifier.NewClient(classifier.Config{
		BaseURL: cfg.ClassifierURL,
		Timeout: cfg.ClassifierTimeout,
	}, logger)
	if !classifierClient.Available() {
		logger.Warn("CLASSIFIER_URL not configured, every message will classify as unknown")
	}

	var responder agent.Responder = agent.NewStaticResponder()
	if cfg.AgentURL != "" {
		responder = agent.NewHTTPResponder(agent.Config{
			BaseURL: cfg.AgentURL,
			Timeout: cfg.AgentTimeout,
		})
		logger.Info("agent service configured", zap.String("url", cfg.AgentURL))
	} else {
		logger.Warn("AGENT_URL not configured, using canned replies")
	}

	pipeline := worker.NewPipeline(
		jobQueue, limiter, tracker, classifierClient, responder, nil, archive,
		worker.Config{Concurrency: cfg.WorkerConcurrency},
		logger,
	)

	var gatewayStatus handlers.GatewayStatus
	if cfg.GatewayURL != "" {
		connection := gateway.NewConnection(gateway.Config{
			URL:              cfg.GatewayURL,
			Token:            cfg.GatewayToken,
			ReconnectCeiling: cfg.ReconnectCeiling,
			ReconnectDelay:   cfg.ReconnectDelay,
		}, gateway.NewCredentialStore(cfg.GatewayCredentialsPath), pipeline.HandleInbound, logger)
		pipeline.SetSender(connection)
		gatewayStatus = connection
		defer func() { _ = connection.Close() }()

		if err := connection.Connect(ctx); err != nil {
			logger.Warn("initial gateway connect failed, reconnect loop takes over", zap.Error(err))
		}
	} else {
		logger.Warn("GATEWAY_URL not configured, no messages will arrive")
	}

	if cfg.WorkerEnabled {
		pipeline.Start(ctx)
	} else {
		logger.Info("pipeline workers disabled by configuration")
	}

	api := handlers.NewAPI(archive, conversationStore, limiter, gatewayStatus, cfg.WebhookVerifyToken)
	handler := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            api,
		Logger:         logger,
		AuthToken:      cfg.AuthToken,
		RateLimitRPS:   cfg.OpsRateLimitRPS,
		RateLimitBurst: cfg.OpsRateLimitBurst,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("operator api listening", zap.String("port", cfg.Port))
		errChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func setupRedis(ctx context.Context, cfg config.Config, logger *zap.Logger) *redis.Client {
	if cfg.RedisAddr == "" {
		logger.Warn("REDIS_ADDR not configured, using in-process fallbacks")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unreachable, using in-process fallbacks", zap.Error(err))
		_ = client.Close()
		return nil
	}

	logger.Info("redis connected", zap.String("addr", cfg.RedisAddr))
	return client
}

func setupQueue(ctx context.Context, cfg config.Config, client *redis.Client, logger *zap.Logger) queue.Queue {
	queueCfg := queue.Config{
		MaxAttempts: cfg.QueueMaxAttempts,
		BackoffBase: cfg.QueueBackoffBase,
	}
	if client == nil {
		return queue.NewLocalQueue(queueCfg, logger)
	}

	redisQueue, err := queue.NewRedisQueue(ctx, client, queueCfg, logger)
	if err != nil {
		logger.Warn("redis queue init failed, fallback to local queue", zap.Error(err))
		return queue.NewLocalQueue(queueCfg, logger)
	}
	logger.Info("redis queue initialized")
	return redisQueue
}

func setupArchive(ctx context.Context, cfg config.Config, logger *zap.Logger) (repository.Archive, func()) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not configured, job outcomes kept in memory")
		return repository.NewMemoryArchive(), func() {}
	}

	pgArchive, err := repository.NewPostgresArchive(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Warn("postgres archive init failed, fallback to memory", zap.Error(err))
		return repository.NewMemoryArchive(), func() {}
	}
	logger.Info("postgres archive initialized")
	return pgArchive, pgArchive.Close
}

func setupRateStore(client *redis.Client) ratelimit.Store {
	if client == nil {
		return ratelimit.NewMemoryStore()
	}
	return ratelimit.NewRedisStore(client)
}

func setupConversationStore(cfg config.Config, client *redis.Client) conversation.Store {
	if client == nil {
		return conversation.NewMemoryStore(cfg.ConversationTTL)
	}
	return conversation.NewRedisStore(client, cfg.ConversationTTL)
}
