package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aescanero/dago-chat-router/internal/bus"
	"github.com/aescanero/dago-chat-router/internal/config"
	"github.com/aescanero/dago-chat-router/internal/dlq"
	"github.com/aescanero/dago-chat-router/internal/eval/cel"
	"github.com/aescanero/dago-chat-router/internal/eval/logic"
	"github.com/aescanero/dago-chat-router/internal/eval/template"
	"github.com/aescanero/dago-chat-router/internal/metrics"
	"github.com/aescanero/dago-chat-router/internal/router"
	"github.com/aescanero/dago-chat-router/internal/rules"
	"github.com/aescanero/dago-chat-router/internal/slip"
	"github.com/aescanero/dago-chat-router/internal/store/natskv"
	"github.com/aescanero/dago-chat-router/internal/store/redisstate"
	"github.com/aescanero/dago-chat-router/internal/worker"
)

var (
	// Version is set at build time
	Version = "dev"
	// BuildTime is set at build time
	BuildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := initLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting router worker",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("worker_id", cfg.WorkerID),
	)

	// Log configuration (without sensitive data)
	logger.Info("configuration loaded", zap.String("config", cfg.String()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	// Test Redis connection
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	logger.Info("connected to redis", zap.String("addr", cfg.RedisAddr))

	// Connect to NATS for the rule store
	nc, err := nats.Connect(cfg.NATSURL,
		nats.Name("dago-chat-router-"+cfg.WorkerID),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		logger.Fatal("failed to connect to nats", zap.Error(err))
	}
	defer nc.Close()
	logger.Info("connected to nats", zap.String("url", cfg.NATSURL))

	js, err := jetstream.New(nc)
	if err != nil {
		logger.Fatal("failed to create jetstream context", zap.Error(err))
	}
	ruleStore, err := natskv.Open(ctx, js, cfg.RulesBucket, logger)
	if err != nil {
		logger.Fatal("failed to open rule store", zap.Error(err))
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// Expression evaluator
	var evalOpts []logic.Option
	if cfg.CELEnabled {
		evalOpts = append(evalOpts, logic.WithCEL(cel.NewEvaluator()))
	}
	evaluator := logic.NewEvaluator(evalOpts...)

	// Rule cache
	cache := rules.NewCache(cfg.RulesCollection, logger,
		rules.WithEvaluator(evaluator),
		rules.WithRefreshHook(m.SetActiveRules),
	)
	if err := cache.Start(ctx, ruleStore); err != nil {
		logger.Fatal("failed to start rule cache", zap.Error(err))
	}

	// Routing
	engine := router.NewEngine(evaluator, logger,
		router.WithStateStore(redisstate.New(redisClient, cfg.CandidateTTL, logger)),
		router.WithDeadLetterTopic(cfg.DeadLetterTopic),
		router.WithEgressTopic(cfg.EgressTopic),
		router.WithTemplates(template.NewEngine()),
	)
	logger.Info("router initialized")

	publisher := bus.NewPublisher(redisClient, logger, bus.WithMaxLen(cfg.StreamMaxLen))
	advancer := slip.NewAdvancer(publisher, logger,
		slip.WithSource(cfg.WorkerID),
		slip.WithEgressTopic(cfg.EgressTopic),
		slip.WithDeadLetter(cfg.DeadLetterTopic, dlq.Builder),
		slip.WithGuard(slip.NewGuard(cfg.IdempotencySize, cfg.IdempotencyTTL)),
	)

	consumer := bus.NewConsumer(redisClient, bus.ConsumerConfig{
		Stream:   cfg.IngressStream,
		Group:    cfg.ConsumerGroup,
		Consumer: cfg.WorkerID,
		Block:    cfg.BlockTime,
	}, logger)

	// Initialize worker
	w := worker.NewWorker(worker.Settings{
		WorkerID:        cfg.WorkerID,
		DeadLetterTopic: cfg.DeadLetterTopic,
		EvalConfig:      cfg.EvalConfig(),
	}, worker.Deps{
		Source:    consumer,
		Rules:     cache,
		Engine:    engine,
		Advancer:  advancer,
		Publisher: publisher,
		Metrics:   m,
	}, logger)

	// Start worker
	if err := w.Start(ctx); err != nil {
		logger.Fatal("failed to start worker", zap.Error(err))
	}

	// Start health server
	checks := map[string]worker.Pinger{
		"redis": worker.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}),
		"nats": worker.PingFunc(func(context.Context) error {
			if !nc.IsConnected() {
				return fmt.Errorf("nats status %s", nc.Status())
			}
			return nil
		}),
	}
	healthServer := worker.NewHealthServer(cfg.HealthPort, checks, cache.Started, registry, logger)
	if err := healthServer.Start(); err != nil {
		logger.Fatal("failed to start health server", zap.Error(err))
	}

	logger.Info("router worker running, press Ctrl+C to stop")
	<-ctx.Done()

	logger.Info("shutdown signal received, stopping worker")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Stop health server
	if err := healthServer.Stop(); err != nil {
		logger.Error("failed to stop health server", zap.Error(err))
	}

	// Stop worker
	done := make(chan struct{})
	go func() {
		if err := w.Stop(); err != nil {
			logger.Error("failed to stop worker", zap.Error(err))
		}
		cache.Stop()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("worker stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout exceeded, forcing exit")
	}

	// Close Redis connection
	if err := redisClient.Close(); err != nil {
		logger.Error("failed to close redis connection", zap.Error(err))
	}
}

// initLogger initializes the logger
func initLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	return config.Build()
}
