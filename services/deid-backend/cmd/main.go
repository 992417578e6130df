package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"DeIDPlatform/pkg/config"
	"DeIDPlatform/pkg/database"
	"DeIDPlatform/pkg/health"
	"DeIDPlatform/pkg/httpclient"
	"DeIDPlatform/pkg/logger"
	"DeIDPlatform/pkg/metrics"
	pkg_rabbitmq "DeIDPlatform/pkg/rabbitmq"
	"DeIDPlatform/pkg/ratelimit"
	pkg_redis "DeIDPlatform/pkg/redis"

	"DeIDPlatform/services/deid-backend/internal/cache"
	"DeIDPlatform/services/deid-backend/internal/chain"
	"DeIDPlatform/services/deid-backend/internal/client"
	httpHandler "DeIDPlatform/services/deid-backend/internal/handler/http"
	"DeIDPlatform/services/deid-backend/internal/middleware"
	"DeIDPlatform/services/deid-backend/internal/producer"
	"DeIDPlatform/services/deid-backend/internal/repository/postgres"
	redisstore "DeIDPlatform/services/deid-backend/internal/repository/redis"
	"DeIDPlatform/services/deid-backend/internal/service"
	"DeIDPlatform/services/deid-backend/internal/signer"
)

const (
	serviceName = "deid-backend"
	version     = "1.0.0"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	// Инициализация конфигурации
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Инициализация логгера
	appLogger, err := logger.NewLogger(cfg.Environment, cfg.Logger.Level, serviceName)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() {
		if err := appLogger.Sync(); err != nil {
			log.Printf("Error syncing logger: %v", err)
		}
	}()

	appLogger.Info("Starting DeID backend", logger.String("environment", cfg.Environment))

	ctx := context.Background()

	// Ключ валидатора проверяется до подключения к зависимостям
	validatorSigner, err := signer.NewSigner(cfg.Signer.PrivateKey, appLogger)
	if err != nil {
		appLogger.Error("Invalid validator key", logger.Error(err))
		os.Exit(1)
	}

	// Метрики и трейсинг
	appMetrics := metrics.NewMetrics(serviceName)
	shutdownTracer := metrics.InitializeOpenTelemetry(serviceName, version)
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			appLogger.Warn("Failed to shutdown tracer provider", logger.Error(err))
		}
	}()

	// Инициализация Redis
	redisConfig := pkg_redis.NewConfig()
	redisConfig.Addr = cfg.Redis.Addr
	redisConfig.Password = cfg.Redis.Password
	redisConfig.DB = cfg.Redis.DB
	redisConfig.PoolSize = cfg.Redis.PoolSize
	redisConfig.MinIdleConn = cfg.Redis.MinIdleConn
	redisConfig.MaxRetries = cfg.Redis.MaxRetries
	redisConfig.RetryInterval = config.Duration(cfg.Redis.RetryInterval, time.Second)

	redisClient, err := pkg_redis.Connect(ctx, redisConfig)
	if err != nil {
		appLogger.Error("Failed to connect to Redis", logger.Error(err))
		os.Exit(1)
	}
	defer redisClient.Close()

	// Инициализация PostgreSQL и миграции
	dbConfig := database.NewConfig()
	dbConfig.Host = cfg.Database.Host
	dbConfig.Port = cfg.Database.Port
	dbConfig.User = cfg.Database.User
	dbConfig.Password = cfg.Database.Password
	dbConfig.Database = cfg.Database.Name
	dbConfig.SSLMode = cfg.Database.SSLMode

	db, err := database.Connect(ctx, dbConfig)
	if err != nil {
		appLogger.Error("Failed to connect to PostgreSQL", logger.Error(err))
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(ctx, postgres.Migrations(), appLogger); err != nil {
		appLogger.Error("Failed to apply migrations", logger.Error(err))
		os.Exit(1)
	}

	// События валидаций публикуются только при включенном RabbitMQ
	var events producer.EventPublisher = producer.NoopEventPublisher{}
	healthChecker := health.NewSimpleHealthChecker(version)
	healthChecker.AddCheck("redis", redisClient.HealthCheck)
	healthChecker.AddCheck("postgres", db.HealthCheck)

	if cfg.RabbitMQ.Enabled {
		rabbitmqConfig := pkg_rabbitmq.NewConfig()
		rabbitmqConfig.URL = cfg.RabbitMQ.URL
		rabbitmqConfig.Exchange = cfg.RabbitMQ.Exchange
		rabbitmqConfig.RoutingKey = cfg.RabbitMQ.RoutingKey

		rabbitmqConn, err := pkg_rabbitmq.Connect(ctx, rabbitmqConfig)
		if err != nil {
			appLogger.Error("Failed to connect to RabbitMQ", logger.Error(err))
			os.Exit(1)
		}
		defer rabbitmqConn.Close()

		events = producer.NewRabbitEventPublisher(pkg_rabbitmq.NewProducer(rabbitmqConn, rabbitmqConfig), cfg.RabbitMQ.RoutingKey, appLogger)
		healthChecker.AddCheck("rabbitmq", rabbitmqConn.HealthCheck)
	}

	// Внешние сервисы. Обновление сессии не идемпотентно и не повторяется.
	decodeClient := client.NewDecodeClient(client.Config{
		AuthServiceURL:  cfg.Decode.AuthServiceURL(),
		BackendURL:      cfg.Decode.BackendURL,
		UserAgent:       cfg.Decode.UserAgent,
		ValidateTimeout: config.Duration(cfg.Decode.ValidateTimeout, 5*time.Second),
		RefreshTimeout:  config.Duration(cfg.Decode.RefreshTimeout, 7*time.Second),
		ProfileTimeout:  config.Duration(cfg.Decode.ProfileTimeout, 10*time.Second),
	}, httpclient.NewClient(), appLogger)

	balanceChecker := chain.NewBalanceChecker(
		httpclient.NewRetryClient(appLogger),
		cfg.Chain.Networks,
		config.Duration(cfg.Chain.RPCTimeout, 10*time.Second),
		appLogger,
	)
	defer balanceChecker.Close()

	// Хранилища
	sessionStore := redisstore.NewSessionStore(redisClient.Client, cfg.Session.KeyPrefix,
		redisstore.WithRotationTTL(config.Duration(cfg.Session.RotationTTL, 30*time.Second)))
	taskRepo := postgres.NewTaskRepository(db.Pool)
	validationRepo := postgres.NewValidationRepository(db.Pool)

	// Сервисы
	guard := service.NewGuard(
		sessionStore,
		cache.NewPrincipalCache(config.Duration(cfg.Session.CacheTTL, 5*time.Minute),
			cache.WithCapacity(cfg.Session.CacheCapacity)),
		decodeClient,
		service.GuardConfig{RefreshLockTTL: config.Duration(cfg.Session.RefreshLockTTL, 10*time.Second)},
		appMetrics,
		appLogger,
	)
	sessionService := service.NewSessionService(sessionStore, decodeClient, guard, appLogger)
	taskService := service.NewTaskValidationService(service.TaskValidationDeps{
		Profiles:    decodeClient,
		Tasks:       taskRepo,
		Validations: validationRepo,
		Balances:    balanceChecker,
		Signer:      validatorSigner,
		Events:      events,
		Metrics:     appMetrics,
		Logger:      appLogger,
	}, cfg.Tasks.ValidationPolicy)
	metadataService := service.NewMetadataService(validatorSigner, appMetrics, appLogger)
	catalogService := service.NewTaskService(taskRepo, balanceChecker, appLogger)
	profileService := service.NewProfileService(decodeClient, appLogger)

	cookies := middleware.NewCookieWriter(middleware.CookieConfig{
		Name:     cfg.Session.CookieName,
		Domain:   cfg.ResolveCookieDomain(),
		Path:     cfg.Cookie.Path,
		SameSite: cfg.Cookie.SameSite,
		Secure:   cfg.Cookie.Secure,
		HTTPOnly: cfg.Cookie.HTTPOnly,
	})

	handler := httpHandler.NewHandler(httpHandler.Deps{
		Guard:         guard,
		Sessions:      sessionService,
		Tasks:         taskService,
		Catalog:       catalogService,
		Profiles:      profileService,
		Metadata:      metadataService,
		Cookies:       cookies,
		RateLimiter:   ratelimit.NewRedisRateLimiter(redisClient.Client),
		TaskRateLimit: cfg.Tasks.RateLimit,
		Health:        healthChecker,
		Metrics:       appMetrics.GetHandler(),
		Logger:        appLogger,
	})

	// Цепочка middleware: recovery → logging → metrics → CORS → rate limit → маршруты
	var root http.Handler = handler
	root = middleware.RateLimitMiddleware(ratelimit.NewRedisRateLimiter(redisClient.Client),
		cfg.RateLimiting.RequestsPerMinute, time.Minute, middleware.IPKey, appLogger)(root)
	root = middleware.CORSMiddleware(cfg.CORS.AllowedOrigins, appLogger)(root)
	root = appMetrics.Middleware(root)
	root = middleware.LoggingMiddleware(appLogger)(root)
	root = middleware.RecoveryMiddleware(appLogger)(root)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Канал для сигналов ОС
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		appLogger.Info("Starting HTTP server", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case sig := <-sigChan:
		appLogger.Info("Received shutdown signal", logger.String("signal", sig.String()))
	case err := <-serverErr:
		appLogger.Error("HTTP server failed", logger.Error(err))
	}

	appLogger.Info("Shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Duration(cfg.Server.ShutdownTimeout, 30*time.Second))
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown", logger.Error(err))
	}

	appLogger.Info("DeID backend stopped")
}
