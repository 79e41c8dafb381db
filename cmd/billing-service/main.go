package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Dhoini/humanizer-billing/internal/api/rest"
	"github.com/Dhoini/humanizer-billing/internal/app"
	"github.com/Dhoini/humanizer-billing/internal/config"
	"github.com/Dhoini/humanizer-billing/internal/db"
	billinggrpc "github.com/Dhoini/humanizer-billing/internal/grpc"
	"github.com/Dhoini/humanizer-billing/internal/http/routes"
	"github.com/Dhoini/humanizer-billing/internal/kafka"
	"github.com/Dhoini/humanizer-billing/internal/metrics"
	"github.com/Dhoini/humanizer-billing/internal/plans"
	"github.com/Dhoini/humanizer-billing/internal/repository"
	"github.com/Dhoini/humanizer-billing/internal/services"
	"github.com/Dhoini/humanizer-billing/internal/stripe"
	"github.com/Dhoini/humanizer-billing/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const startupTimeout = 30 * time.Second

func main() {
	configDir := os.Getenv("CONFIG_DIR")
	if configDir == "" {
		configDir = "."
	}

	cfg, err := config.LoadConfig(configDir)
	if err != nil {
		logger.New(logger.INFO).Fatalw("Failed to load configuration", "error", err)
	}

	log := initLogger(cfg)
	defer func() { _ = log.Sync() }()

	log.Infow("Billing service starting up", "env", cfg.App.Env)

	if err := cfg.Validate(); err != nil {
		log.Fatalw("Invalid configuration", "error", err)
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	catalog, err := plans.NewCatalog(cfg.Plans)
	if err != nil {
		log.Fatalw("Invalid plan table", "error", err)
	}
	for _, p := range catalog.All() {
		if p.Name != plans.Free && p.PriceID == "" {
			log.Warnw("Paid plan has no Stripe price ID, checkout for it is disabled", "plan", p.Name)
		}
	}

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), startupTimeout)
	defer cancelStartup()

	registry := prometheus.NewRegistry()
	billingMetrics := metrics.NewBillingMetrics(registry)
	systemMetrics := metrics.NewSystemMetrics(registry, log)
	systemMetrics.StartRecording(15 * time.Second)
	defer systemMetrics.Stop()

	// --- Хранилище подписок ---
	var subscriptionRepo repository.SubscriptionRepository
	switch cfg.Database.Driver {
	case "memory":
		log.Warnw("Using in-memory subscription store, data is lost on restart")
		subscriptionRepo = repository.NewInMemorySubscriptionRepository(log)
	default:
		dbClient, err := db.NewDBClient(startupCtx, cfg.Database.DSN, db.Options{
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		}, log)
		if err != nil {
			log.Fatalw("Failed to connect to database", "error", err)
		}
		defer func() {
			if err := dbClient.Close(); err != nil {
				log.Errorw("Error closing database connection", "error", err)
			}
		}()
		if cfg.Database.Migrate {
			if err := dbClient.Migrate(startupCtx); err != nil {
				log.Fatalw("Failed to apply schema", "error", err)
			}
		}
		subscriptionRepo = repository.NewPostgresSubscriptionRepository(dbClient.DB(), log)
	}

	var cachePinger repository.Pinger
	if cfg.Redis.Enabled {
		redisCache, err := repository.NewRedisCacheRepository(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTL, log)
		if err != nil {
			log.Warnw("Failed to initialize Redis cache, continuing without caching", "error", err)
		} else {
			defer func() {
				if err := redisCache.Close(); err != nil {
					log.Errorw("Error closing Redis connection", "error", err)
				}
			}()
			subscriptionRepo = repository.NewCachedSubscriptionRepository(subscriptionRepo, redisCache, log)
			cachePinger = redisCache
			log.Infow("Using cached subscription repository")
		}
	}
	store, _ := subscriptionRepo.(repository.Pinger)

	// --- Stripe ---
	stripeClient := stripe.NewBreakerClient(
		stripe.NewStripeClient(stripe.Options{
			APIKey:          cfg.Stripe.APIKey,
			Timeout:         cfg.Stripe.Timeout,
			SuccessURL:      cfg.Stripe.SuccessURL,
			CancelURL:       cfg.Stripe.CancelURL,
			PortalReturnURL: cfg.Stripe.PortalReturnURL,
		}, log),
		stripe.BreakerSettings{
			MaxFailures: cfg.Stripe.Breaker.MaxFailures,
			OpenTimeout: cfg.Stripe.Breaker.OpenTimeout,
			OnStateChange: func(_, to string) {
				billingMetrics.SetBreakerState(to)
			},
		},
		log,
	)

	// --- Kafka ---
	var producer kafka.Producer
	if cfg.Kafka.Enabled {
		topic := kafka.SubscriptionTopic(cfg.Kafka.Topic, cfg.Kafka.Partitions, cfg.Kafka.ReplicationFactor)
		if err := kafka.EnsureTopics(startupCtx, cfg.Kafka.Brokers, []kafka.TopicConfig{topic}, log); err != nil {
			log.Warnw("Failed to ensure Kafka topics, relying on broker auto-creation", "error", err)
		}
		p, err := kafka.NewKafkaProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		if err != nil {
			log.Errorw("Failed to initialize Kafka producer, continuing without event publishing", "error", err)
		} else {
			producer = p
			defer func() {
				if err := producer.Close(); err != nil {
					log.Errorw("Error closing Kafka producer", "error", err)
				}
			}()
		}
	}

	// --- Сервисы ---
	retry := services.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.Stripe.MaxRetries

	billingService := services.NewBillingService(subscriptionRepo, stripeClient, catalog, billingMetrics, retry, log)
	usageService := services.NewUsageService(subscriptionRepo, catalog, billingMetrics, log)
	webhookService := services.NewWebhookService(subscriptionRepo, stripeClient, catalog, producer, billingMetrics, log)
	defer webhookService.Wait()

	application, err := app.NewApp(cfg, app.Services{
		Billing:  billingService,
		Usage:    usageService,
		Webhooks: webhookService,
		Store:    store,
		Cache:    cachePinger,
	}, log)
	if err != nil {
		log.Fatalw("Failed to initialize application", "error", err)
	}

	router := gin.New()
	routes.SetupRoutes(router, application, registry, log)

	httpServer := rest.NewServer(router, rest.ServerOptions{
		Port:         cfg.App.Port,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}, log)

	serverErrors := make(chan error, 2)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	var grpcServer *billinggrpc.Server
	if cfg.GRPC.Enabled {
		grpcServer = billinggrpc.NewServer(store, 0, log)
		go func() {
			serverErrors <- grpcServer.Start(cfg.GRPC.Port)
		}()
	}

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Infow("Shutdown signal received", "signal", sig.String())
	case err := <-serverErrors:
		if err != nil {
			log.Errorw("Server stopped unexpectedly", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Errorw("HTTP server shutdown error", "error", err)
	} else {
		log.Infow("HTTP server gracefully stopped")
	}

	if grpcServer != nil {
		grpcServer.Stop()
		log.Infow("gRPC server gracefully stopped")
	}

	log.Infow("Cleanup finished. Goodbye!")
}

// initLogger выбирает формат по окружению: JSON в production, консоль локально.
func initLogger(cfg *config.Config) *logger.Logger {
	level := logger.ParseLevel(cfg.App.LogLevel)
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		level = logger.ParseLevel(env)
	}
	if cfg.IsProduction() {
		return logger.New(level)
	}
	return logger.NewDevelopment(level)
}
