package router

import (
	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/freelance-contracts/internal/config"
	"github.com/ignatzorin/freelance-contracts/internal/http/handlers"
	"github.com/ignatzorin/freelance-contracts/internal/http/middleware"
	"github.com/ignatzorin/freelance-contracts/internal/service"
)

func SetupRouter(
	cfg *config.Config,
	authHandler *handlers.AuthHandler,
	contractHandler *handlers.ContractHandler,
	paymentHandler *handlers.PaymentHandler,
	webhookHandler *handlers.WebhookHandler,
	notificationHandler *handlers.NotificationHandler,
	deliverableHandler *handlers.DeliverableHandler,
	wsHandler *handlers.WSHandler,
	healthHandler *handlers.HealthHandler,
	tokenManager *service.TokenManager,
) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	r.GET("/health", healthHandler.Health)

	api := r.Group("/api")

	authGroup := api.Group("/auth")
	authRateLimit := middleware.RateLimitMiddleware(5, cfg.RateLimitPeriod)
	authGroup.Use(authRateLimit)
	{
		authGroup.POST("/register", authHandler.Register)
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/refresh", authHandler.Refresh)
	}

	// Вебхуки шлюза аутентифицируются подписью, не JWT. Лимит выше
	// пользовательского: шлюз шлёт события пачками.
	webhookRateLimit := middleware.RateLimitMiddleware(120, cfg.RateLimitPeriod)
	api.POST("/webhooks/gateway", webhookRateLimit, webhookHandler.Handle)

	api.GET("/ws", wsHandler.Handle)

	// Защищённые маршруты
	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(tokenManager))
	{
		protected.GET("/auth/me", authHandler.Me)

		protected.POST("/contracts", contractHandler.CreateContract)
		protected.GET("/contracts", contractHandler.ListContracts)
		protected.GET("/contracts/:id", middleware.UUIDValidator("id"), contractHandler.GetContract)
		protected.POST("/contracts/:id/cancel", middleware.UUIDValidator("id"), contractHandler.CancelContract)
		protected.POST("/contracts/:id/dispute", middleware.UUIDValidator("id"), contractHandler.DisputeContract)

		protected.POST("/contracts/:id/milestones/:milestoneId/start", middleware.UUIDValidator("id"), middleware.UUIDValidator("milestoneId"), contractHandler.StartMilestone)
		protected.POST("/contracts/:id/milestones/:milestoneId/submit", middleware.UUIDValidator("id"), middleware.UUIDValidator("milestoneId"), contractHandler.SubmitMilestone)
		protected.POST("/contracts/:id/milestones/:milestoneId/approve", middleware.UUIDValidator("id"), middleware.UUIDValidator("milestoneId"), paymentHandler.ApproveMilestone)
		protected.POST("/contracts/:id/milestones/:milestoneId/reject", middleware.UUIDValidator("id"), middleware.UUIDValidator("milestoneId"), contractHandler.RejectMilestone)

		protected.POST("/contracts/:id/milestones/:milestoneId/deliverables", middleware.UUIDValidator("id"), middleware.UUIDValidator("milestoneId"), deliverableHandler.Upload)
		protected.GET("/contracts/:id/milestones/:milestoneId/deliverables", middleware.UUIDValidator("id"), middleware.UUIDValidator("milestoneId"), deliverableHandler.List)
		protected.GET("/contracts/:id/deliverables/:deliverableId/file", middleware.UUIDValidator("id"), middleware.UUIDValidator("deliverableId"), deliverableHandler.Download)

		protected.GET("/contracts/:id/payments", middleware.UUIDValidator("id"), paymentHandler.ListContractPayments)
		protected.GET("/payments/:id", middleware.UUIDValidator("id"), paymentHandler.GetPayment)
		protected.POST("/payments/:id/retry", middleware.UUIDValidator("id"), paymentHandler.RetryPayment)

		protected.POST("/payment-methods/setup-intent", paymentHandler.CreateSetupIntent)
		protected.POST("/payment-methods/confirm", paymentHandler.ConfirmSetupIntent)
		protected.GET("/payment-methods", paymentHandler.ListPaymentMethods)
		protected.DELETE("/payment-methods/:id", middleware.UUIDValidator("id"), paymentHandler.DeletePaymentMethod)

		protected.GET("/notifications", notificationHandler.ListNotifications)
		protected.GET("/notifications/unread/count", notificationHandler.CountUnread)
		protected.PUT("/notifications/:id/read", middleware.UUIDValidator("id"), notificationHandler.MarkAsRead)
		protected.PUT("/notifications/read-all", notificationHandler.MarkAllAsRead)
	}

	return r
}
