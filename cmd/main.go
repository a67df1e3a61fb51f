package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/crawlpilot/beercrawl/config"
	"github.com/crawlpilot/beercrawl/internal/api"
	"github.com/crawlpilot/beercrawl/internal/bot"
	"github.com/crawlpilot/beercrawl/internal/handlers"
	"github.com/crawlpilot/beercrawl/internal/middlewares"
	"github.com/crawlpilot/beercrawl/internal/repositories"
	"github.com/crawlpilot/beercrawl/internal/services"
	"github.com/crawlpilot/beercrawl/internal/storage"
	"github.com/crawlpilot/beercrawl/pkg/kafka"
	"github.com/crawlpilot/beercrawl/pkg/logger"
	"github.com/crawlpilot/beercrawl/pkg/whatsapp"
	"github.com/crawlpilot/beercrawl/utils/ratelimit"
)

func main() {
	configPath := "./config.toml"
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		configPath = p
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	appLogger, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer appLogger.Close()
	zlog := appLogger.Logger

	// Postgres
	dsn := storage.BuildDSN(cfg.Postgres.Host, cfg.Postgres.Port, cfg.Postgres.User, cfg.Postgres.Password, cfg.Postgres.DBName)
	db, err := storage.InitPostgres(dsn, cfg.Postgres.MaxIdleConns, cfg.Postgres.MaxOpenConns)
	if err != nil {
		zlog.Fatal("failed to init postgres", zap.Error(err))
	}
	if err := storage.Migrate(db); err != nil {
		zlog.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := storage.InitRedis(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize, cfg.Redis.MinIdleConns)
	if err != nil {
		zlog.Fatal("failed to init redis", zap.Error(err))
	}

	// Repositories and services
	userRepo := repositories.NewUserRepository(db)
	barRepo := repositories.NewBarRepository(db)
	groupRepo := repositories.NewGroupRepository(db)
	sessionRepo := repositories.NewSessionRepository(db)

	matcher := services.NewMatcherService(userRepo, groupRepo, cfg.Crawl, zlog)
	crawl := services.NewCrawlService(groupRepo, sessionRepo, cfg.Crawl, zlog)
	responses := services.NewResponseService(rdb, zlog)

	// Task queue
	producer, err := kafka.NewProducer(&cfg.Kafka)
	if err != nil {
		zlog.Fatal("failed to init kafka producer", zap.Error(err))
	}
	defer producer.Close()
	enqueuer := bot.NewEnqueuer(producer)

	// Bot pipeline
	waClient := whatsapp.NewClient(cfg.WhatsApp, zlog)
	states := bot.NewStateStore(rdb, cfg.Bot, zlog)
	deduper := bot.NewDeduper(rdb, cfg.Bot, zlog)
	limiter := ratelimit.NewWindowLimiter(rdb, zlog, true)
	processor := bot.NewProcessor(matcher, crawl, responses, states, enqueuer, waClient, rdb, cfg.Bot, cfg.Crawl, zlog)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	consumer, err := kafka.NewConsumer(&cfg.Kafka, []string{cfg.Kafka.Topics.Tasks}, func(ctx context.Context, message *sarama.ConsumerMessage) error {
		var env bot.TaskEnvelope
		if err := json.Unmarshal(message.Value, &env); err != nil {
			zlog.Warn("dropping undecodable task", zap.Error(err))
			return nil
		}
		return processor.Handle(ctx, &env)
	}, zlog)
	if err != nil {
		zlog.Fatal("failed to init kafka consumer", zap.Error(err))
	}
	if err := consumer.Start(ctx); err != nil {
		zlog.Fatal("failed to start kafka consumer", zap.Error(err))
	}
	defer consumer.Stop()

	// Sweeper
	sweeper := bot.NewSweeper(crawl, enqueuer, cfg.Crawl, zlog)
	go sweeper.Run(ctx)

	// HTTP surface
	tokens := middlewares.NewTokenManager(cfg.Admin.JWTSecret, cfg.Admin.TokenTTLHours)
	crawlHandler := handlers.NewCrawlHandler(matcher, crawl, zlog)
	barHandler := handlers.NewBarHandler(barRepo, zlog)
	webhookHandler := handlers.NewWebhookHandler(deduper, limiter, enqueuer, responses, cfg.Bot, cfg.WhatsApp.VerifyToken, zlog)
	adminHandler := handlers.NewAdminHandler(responses, tokens, cfg.Admin, zlog)
	healthHandler := handlers.NewHealthHandler(db, rdb)

	engine := api.NewEngine(cfg.Server.Mode, appLogger)
	api.RegisterRoutes(engine, crawlHandler, barHandler, webhookHandler, adminHandler, healthHandler, tokens)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zlog.Info("server listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zlog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error("server shutdown failed", zap.Error(err))
	}
}
