package app

import (
	"fmt"

	"github.com/Dhoini/humanizer-billing/internal/config"
	"github.com/Dhoini/humanizer-billing/internal/http/handlers"
	"github.com/Dhoini/humanizer-billing/internal/middleware"
	"github.com/Dhoini/humanizer-billing/internal/repository"
	"github.com/Dhoini/humanizer-billing/internal/services"
	"github.com/Dhoini/humanizer-billing/pkg/logger"

	"github.com/gin-gonic/gin"
)

// App представляет собой контейнер для всех компонентов HTTP слоя
type App struct {
	Config           *config.Config
	BillingHandler   *handlers.BillingHandler
	UsageHandler     *handlers.UsageHandler
	WebhookHandler   *handlers.WebhookHandler
	HealthHandler    *handlers.HealthHandler
	AuthMiddleware   *middleware.JWTMiddleware
	LoggerMiddleware gin.HandlerFunc
	CORSMiddleware   gin.HandlerFunc
	Logger           *logger.Logger
}

// Services сервисы, из которых собирается App.
type Services struct {
	Billing  *services.BillingService
	Usage    *services.UsageService
	Webhooks *services.WebhookService
	Store    repository.Pinger
	Cache    repository.Pinger // nil, если Redis выключен
}

// NewApp создает и инициализирует новый экземпляр приложения
func NewApp(cfg *config.Config, svc Services, log *logger.Logger) (*App, error) {
	webhookHandler, err := handlers.NewWebhookHandler(svc.Webhooks, handlers.WebhookOptions{
		Secret:    cfg.Stripe.WebhookSecret,
		Tolerance: cfg.Stripe.WebhookTolerance,
		MaxBytes:  cfg.HTTP.WebhookMaxBytes,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize webhook handler: %w", err)
	}

	corsMiddleware, err := middleware.NewCORS(cfg.HTTP.AllowedOrigins)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize CORS middleware: %w", err)
	}

	validator := &middleware.SupabaseTokenValidator{Secret: []byte(cfg.Auth.JWTSecret)}

	return &App{
		Config:           cfg,
		BillingHandler:   handlers.NewBillingHandler(svc.Billing, log),
		UsageHandler:     handlers.NewUsageHandler(svc.Usage, log),
		WebhookHandler:   webhookHandler,
		HealthHandler:    handlers.NewHealthHandler(svc.Store, svc.Cache, log),
		AuthMiddleware:   middleware.NewJWTMiddleware(validator, cfg.Auth.CookieName, log),
		LoggerMiddleware: middleware.RequestLogger(log),
		CORSMiddleware:   corsMiddleware,
		Logger:           log,
	}, nil
}
