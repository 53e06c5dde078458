package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/freelance-contracts/internal/config"
	"github.com/ignatzorin/freelance-contracts/internal/db"
	"github.com/ignatzorin/freelance-contracts/internal/gateway"
	httpHandlers "github.com/ignatzorin/freelance-contracts/internal/http/handlers"
	httpRouter "github.com/ignatzorin/freelance-contracts/internal/http/router"
	"github.com/ignatzorin/freelance-contracts/internal/logger"
	"github.com/ignatzorin/freelance-contracts/internal/repository"
	"github.com/ignatzorin/freelance-contracts/internal/service"
	"github.com/ignatzorin/freelance-contracts/internal/storage"
	"github.com/ignatzorin/freelance-contracts/internal/ws"
)

func main() {
	// Готовим контекст для graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: ошибка загрузки конфигурации: %v", err)
	}

	// Инициализация логгера
	logLevel := "info"
	if cfg.Env == "development" {
		logLevel = "debug"
		logger.Init(logLevel)
		logger.SetTextFormatter()
	} else {
		logger.Init(logLevel)
	}

	// Подключение к базе и миграции.
	dbConn, err := db.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("main: ошибка подключения к базе: %v", err)
	}
	defer safeClose(dbConn)

	if err := db.RunMigrations(ctx, dbConn, cfg.MigrationsPath); err != nil {
		log.Fatalf("main: ошибка миграций: %v", err)
	}

	// Инициализируем вспомогательные сервисы.
	tokenManager := service.NewTokenManager(cfg.JWTSecret, cfg.RefreshSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)

	deliverableStorage, err := storage.NewDeliverableStorage(cfg.DeliverableStoragePath, cfg.MaxUploadSizeMB)
	if err != nil {
		log.Fatalf("main: не удалось подготовить файловое хранилище: %v", err)
	}

	gatewayClient := gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewayAPIKey)

	// Репозитории.
	userRepo := repository.NewUserRepository(dbConn)
	contractRepo := repository.NewContractRepository(dbConn)
	paymentRepo := repository.NewPaymentRepository(dbConn)
	paymentMethodRepo := repository.NewPaymentMethodRepository(dbConn)
	notificationRepo := repository.NewNotificationRepository(dbConn)
	deliverableRepo := repository.NewDeliverableRepository(dbConn)

	// Сервисы.
	authService := service.NewAuthService(userRepo, tokenManager)
	notificationService := service.NewNotificationService(notificationRepo)
	contractService := service.NewContractService(contractRepo, notificationService)
	paymentService := service.NewPaymentService(contractRepo, paymentRepo, paymentMethodRepo, gatewayClient, notificationService, service.PaymentPolicy{
		FeePercent:   cfg.PlatformFeePercent,
		RetryLimit:   cfg.PaymentRetryLimit,
		RetryBackoff: cfg.PaymentRetryBackoff,
	})
	webhookService := service.NewWebhookService(cfg.GatewayWebhookSecret, paymentService)
	deliverableService := service.NewDeliverableService(deliverableRepo, contractRepo, deliverableStorage)

	// Вебсокеты.
	hub := ws.NewHub()
	go hub.Run()
	notificationService.SetBroadcaster(hub)

	// HTTP хэндлеры.
	authHandler := httpHandlers.NewAuthHandler(authService)
	contractHandler := httpHandlers.NewContractHandler(contractService)
	paymentHandler := httpHandlers.NewPaymentHandler(paymentService)
	webhookHandler := httpHandlers.NewWebhookHandler(webhookService)
	notificationHandler := httpHandlers.NewNotificationHandler(notificationService)
	deliverableHandler := httpHandlers.NewDeliverableHandler(deliverableService)
	wsHandler := httpHandlers.NewWSHandler(hub, tokenManager)
	healthHandler := httpHandlers.NewHealthHandler(dbConn)

	// Роутер.
	engine := httpRouter.SetupRouter(cfg, authHandler, contractHandler, paymentHandler, webhookHandler, notificationHandler, deliverableHandler, wsHandler, healthHandler, tokenManager)

	server := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: engine,
	}

	// Завершаем сервер при получении сигнала.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("main: ошибка остановки http сервера: %v", err)
		}
	}()

	log.Printf("main: HTTP сервер запущен на порту %s", cfg.HTTPPort)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("main: сервер завершился с ошибкой: %v", err)
	}
}

// safeClose закрывает соединение с базой.
func safeClose(db *sqlx.DB) {
	if err := db.Close(); err != nil {
		log.Printf("main: ошибка закрытия базы: %v", err)
	}
}
