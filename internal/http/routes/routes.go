package routes

import (
	"github.com/Dhoini/humanizer-billing/internal/app"
	"github.com/Dhoini/humanizer-billing/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes настраивает все маршруты API для Gin роутера
func SetupRoutes(router *gin.Engine, app *app.App, registry *prometheus.Registry, log *logger.Logger) {
	router.Use(app.LoggerMiddleware)
	router.Use(gin.Recovery())
	router.Use(app.CORSMiddleware)

	api := router.Group("/api/v1")
	{
		// Публичные маршруты (без аутентификации)
		api.POST("/webhooks/stripe", app.WebhookHandler.HandleStripeWebhook)
		api.GET("/health", app.HealthHandler.HealthCheck)
		api.GET("/plans", app.BillingHandler.ListPlans)
		api.POST("/checkout-sessions", app.AuthMiddleware.OptionalAuth(), app.BillingHandler.CreateCheckoutSession)

		// Защищенные маршруты (требуют аутентификации)
		auth := api.Group("")
		auth.Use(app.AuthMiddleware.RequireAuth())
		{
			auth.POST("/portal-sessions", app.BillingHandler.CreatePortalSession)
			auth.GET("/subscription", app.BillingHandler.GetSubscription)
			auth.POST("/usage/check", app.UsageHandler.Check)
		}
	}

	router.GET("/health", app.HealthHandler.HealthCheck)

	if registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})))
	}

	log.Infow("API routes successfully configured")
}
