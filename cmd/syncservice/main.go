// Сервис синхронизации с торговой платформой: принимает webhook,
// ведёт журнал доставок, трансформирует payload в канонические события
// и публикует их через transactional outbox в Kafka. Отдельные воркеры
// выполняют повторную обработку, диспетчеризацию outbox и push-синхронизацию.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"example.com/commerce-sync/internal/handler"
	"example.com/commerce-sync/internal/middleware"
	"example.com/commerce-sync/internal/outbox"
	"example.com/commerce-sync/internal/platform"
	syncq "example.com/commerce-sync/internal/sync"
	"example.com/commerce-sync/internal/webhook"
	"example.com/commerce-sync/pkg/config"
	"example.com/commerce-sync/pkg/db"
	"example.com/commerce-sync/pkg/healthcheck"
	"example.com/commerce-sync/pkg/jwt"
	"example.com/commerce-sync/pkg/kafka"
	"example.com/commerce-sync/pkg/logger"
	"example.com/commerce-sync/pkg/metrics"
	"example.com/commerce-sync/pkg/tracing"
)

func main() {
	// Загружаем конфигурацию
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("Ошибка загрузки конфигурации")
	}

	// Инициализируем логгер
	logger.Init(logger.Config{
		Level:  cfg.App.LogLevel,
		Pretty: cfg.App.LogPretty,
	})

	logger.Info().
		Str("service", cfg.App.Name).
		Str("env", cfg.App.Env).
		Msg("Запуск сервиса синхронизации")

	// === Observability: Metrics + Tracing ===

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Addr(), cfg.App.Name)
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.Error().Err(err).Msg("Ошибка Metrics Server")
			}
		}()
	}

	shutdownTracing, err := tracing.InitTracer(tracing.Config{
		ServiceName:    cfg.App.Name,
		JaegerEndpoint: cfg.Jaeger.OTLPEndpoint(),
		Enabled:        cfg.Jaeger.Enabled,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Не удалось инициализировать tracing")
	}

	// === Инициализация зависимостей ===

	gormDB, err := db.ConnectMySQL(cfg.MySQL, cfg.IsDevelopment())
	if err != nil {
		logger.Fatal().Err(err).Msg("Ошибка подключения к MySQL")
	}
	logger.Info().Msg("Подключение к MySQL установлено")

	redisClient := db.ConnectRedis(cfg.Redis)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("Ошибка закрытия Redis")
		}
	}()

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		cancelPing()
		logger.Fatal().Err(err).Msg("Не удалось подключиться к Redis")
	}
	cancelPing()
	logger.Info().Str("addr", cfg.Redis.Addr()).Msg("Подключено к Redis")

	producer, err := kafka.NewProducer(kafka.Config{Brokers: cfg.Kafka.Brokers})
	if err != nil {
		logger.Fatal().Err(err).Msg("Ошибка создания Kafka producer")
	}
	defer func() {
		if err := producer.Close(); err != nil {
			logger.Error().Err(err).Msg("Ошибка закрытия Kafka producer")
		}
	}()

	// === Слои приложения ===

	ledgerRepo := webhook.NewLedgerRepository(gormDB)
	outboxRepo := outbox.NewRepository(gormDB)
	syncRepo := syncq.NewRepository(gormDB)

	transformer := webhook.NewTransformer()
	intake := webhook.NewIntake(ledgerRepo, transformer, webhook.IntakeConfig{
		Secret:          cfg.Webhook.Secret,
		StrictSignature: cfg.Webhook.StrictSignature,
		MaxRetries:      cfg.Webhook.MaxRetries,
		RetryBaseDelay:  cfg.Webhook.RetryBaseDelay,
		PublishTo:       cfg.Kafka.EventsTopic,
	})

	deadLetters := webhook.NewDeadLetterService(ledgerRepo)

	platformClient := platform.NewClient(platform.Config{
		BaseURL: cfg.Platform.BaseURL,
		APIKey:  cfg.Platform.APIKey,
		Timeout: cfg.Platform.Timeout,
	})

	// === Фоновые воркеры ===

	scheduler := webhook.NewRetryScheduler(ledgerRepo, intake, webhook.SchedulerConfig{
		Interval:    cfg.Scheduler.Interval,
		BatchSize:   cfg.Scheduler.BatchSize,
		Concurrency: cfg.Scheduler.Concurrency,
	})

	outboxWorker := outbox.NewWorker(outboxRepo, producer, outbox.WorkerConfig{
		PollInterval:     cfg.Outbox.PollInterval,
		BatchSize:        cfg.Outbox.BatchSize,
		MaxAttempts:      cfg.Outbox.MaxAttempts,
		RetryBaseDelay:   5 * time.Second,
		CleanupRetention: cfg.Outbox.CleanupRetention,
	})

	eventPublisher := outbox.NewPublisher(gormDB, outboxRepo, cfg.Kafka.EventsTopic)
	syncWorker := syncq.NewWorker(syncRepo, platformClient, syncq.WorkerConfig{
		Interval:    cfg.Sync.Interval,
		BatchSize:   cfg.Sync.BatchSize,
		MaxAttempts: cfg.Sync.MaxAttempts,
	}).WithEventPublisher(eventPublisher)

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	wg.Add(3)
	go func() {
		defer wg.Done()
		scheduler.Run(workerCtx)
	}()
	go func() {
		defer wg.Done()
		outboxWorker.Run(workerCtx)
	}()
	go func() {
		defer wg.Done()
		syncWorker.Run(workerCtx)
	}()

	// === Middleware и роутер ===

	rateLimitMW := middleware.NewRateLimitMiddleware(middleware.RateLimitConfig{
		Redis:  redisClient,
		Limit:  cfg.Webhook.RateLimit,
		Window: cfg.Webhook.RateLimitWindow,
	})

	// Операторский API доступен только при настроенном публичном ключе
	var authMW *middleware.AuthMiddleware
	if cfg.JWT.PublicKeyPath != "" {
		jwtManager, err := jwt.NewManager(jwt.Config{
			PublicKeyPath: cfg.JWT.PublicKeyPath,
			Issuer:        cfg.JWT.Issuer,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("Ошибка инициализации JWT")
		}
		jwtManager.SetBlacklist(jwt.NewBlacklist(redisClient))
		authMW = middleware.NewAuthMiddleware(jwtManager)
	} else {
		logger.Warn().Msg("JWT_PUBLIC_KEY_PATH не задан, операторский API без аутентификации")
	}

	readiness := healthcheck.Composite(
		func(ctx context.Context) error { return healthcheck.CheckMySQL(ctx, gormDB) },
		func(ctx context.Context) error { return healthcheck.CheckRedis(ctx, redisClient) },
	)

	router := handler.NewRouter(handler.RouterConfig{
		WebhookHandler: handler.NewWebhookHandler(intake),
		AdminHandler:   handler.NewAdminHandler(deadLetters, syncRepo),
		AuthMW:         authMW,
		RateLimitMW:    rateLimitMW,
		ReadinessCheck: readiness,
		Debug:          cfg.IsDevelopment(),
	})

	// === HTTP сервер ===

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      router.Engine(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTP.Addr()).Msg("HTTP сервер запущен")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Ошибка HTTP сервера")
		}
	}()

	// === Graceful Shutdown ===

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Получен сигнал завершения, останавливаем сервис...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Ошибка при остановке HTTP сервера")
	}

	// Останавливаем воркеры; запущенные обработки дорабатывают до конца
	stopWorkers()
	wg.Wait()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Ошибка остановки Metrics Server")
		}
	}

	if shutdownTracing != nil {
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Ошибка остановки Tracing")
		}
	}

	if sqlDB, err := gormDB.DB(); err == nil && sqlDB != nil {
		if err := sqlDB.Close(); err != nil {
			logger.Error().Err(err).Msg("Ошибка закрытия MySQL")
		}
	}

	logger.Info().Msg("Сервис синхронизации остановлен")
}
