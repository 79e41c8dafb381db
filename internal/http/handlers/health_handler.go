package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/Dhoini/humanizer-billing/internal/repository"
	"github.com/Dhoini/humanizer-billing/pkg/logger"

	"github.com/gin-gonic/gin"
)

const healthPingTimeout = 2 * time.Second

type HealthHandler struct {
	store repository.Pinger
	cache repository.Pinger
	log   *logger.Logger
}

// NewHealthHandler cache может быть nil, если Redis не настроен.
func NewHealthHandler(store, cache repository.Pinger, log *logger.Logger) *HealthHandler {
	return &HealthHandler{store: store, cache: cache, log: log}
}

// HealthCheck обработчик для проверки работоспособности сервиса.
// Недоступное хранилище дает 503, недоступный кеш только DEGRADED с кодом 200.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthPingTimeout)
	defer cancel()

	body := gin.H{"time": time.Now().Format(time.RFC3339)}
	status, code := "OK", http.StatusOK

	if h.store != nil {
		body["store"] = "up"
		if err := h.store.PingContext(ctx); err != nil {
			h.log.Warnw("Health check: subscription store unreachable", "error", err)
			body["store"] = "down"
			status, code = "DEGRADED", http.StatusServiceUnavailable
		}
	}
	if h.cache != nil {
		body["cache"] = "up"
		if err := h.cache.PingContext(ctx); err != nil {
			h.log.Warnw("Health check: subscription cache unreachable", "error", err)
			body["cache"] = "down"
			status = "DEGRADED"
		}
	}

	body["status"] = status
	c.JSON(code, body)
}
