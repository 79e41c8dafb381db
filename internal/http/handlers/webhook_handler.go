package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/Dhoini/humanizer-billing/internal/services"
	"github.com/Dhoini/humanizer-billing/internal/stripe"
	"github.com/Dhoini/humanizer-billing/pkg/logger"
	"github.com/Dhoini/humanizer-billing/pkg/res"

	"github.com/gin-gonic/gin"
	stripego "github.com/stripe/stripe-go/v78"
)

// DefaultWebhookMaxBytes ограничение на размер тела вебхука (Stripe рекомендует ~65kb)
const DefaultWebhookMaxBytes = int64(65536)

// EventHandler обрабатывает проверенное событие Stripe.
type EventHandler interface {
	HandleEvent(ctx context.Context, event stripego.Event) (services.Outcome, error)
}

// WebhookHandler обрабатывает входящие вебхуки от Stripe.
type WebhookHandler struct {
	events    EventHandler
	secret    string
	tolerance time.Duration
	maxBytes  int64
	log       *logger.Logger
}

// WebhookOptions параметры проверки вебхука.
type WebhookOptions struct {
	Secret    string
	Tolerance time.Duration
	MaxBytes  int64
}

// NewWebhookHandler создает новый экземпляр WebhookHandler.
func NewWebhookHandler(events EventHandler, opts WebhookOptions, log *logger.Logger) (*WebhookHandler, error) {
	if opts.Secret == "" {
		log.Errorw("Stripe webhook secret is not configured")
		return nil, errors.New("stripe webhook secret is not configured")
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultWebhookMaxBytes
	}
	return &WebhookHandler{
		events:    events,
		secret:    opts.Secret,
		tolerance: opts.Tolerance,
		maxBytes:  opts.MaxBytes,
		log:       log,
	}, nil
}

// HandleStripeWebhook обрабатывает POST /webhooks/stripe. Тело читается
// один раз и целиком, подпись проверяется до любого разбора события.
func (h *WebhookHandler) HandleStripeWebhook(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes)
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.log.Warnw("Webhook body exceeds limit", "limit", h.maxBytes)
			res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Request body too large"}, http.StatusBadRequest)
		} else {
			h.log.Errorw("Failed to read webhook request body", "error", err)
			res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Cannot read request body"}, http.StatusBadRequest)
		}
		c.Abort()
		return
	}

	event, err := stripe.ParseWebhook(payload, c.GetHeader(stripe.SignatureHeader), h.secret, h.tolerance)
	if err != nil {
		h.log.Warnw("Webhook signature verification failed", "error", err)
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Webhook signature verification failed"}, http.StatusBadRequest)
		c.Abort()
		return
	}

	h.log.Infow("Received verified Stripe event", "eventID", event.ID, "eventType", event.Type)

	outcome, err := h.events.HandleEvent(c.Request.Context(), event)
	if err != nil {
		if errors.Is(err, services.ErrMalformedEvent) {
			res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Malformed event payload", Details: err.Error()}, http.StatusBadRequest)
			c.Abort()
			return
		}
		h.log.Errorw("Error processing webhook event", "error", err, "eventID", event.ID, "eventType", event.Type)
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Internal server error processing webhook"}, http.StatusInternalServerError)
		c.Abort()
		return
	}

	h.log.Infow("Webhook event processed", "eventID", event.ID, "eventType", event.Type, "outcome", outcome)
	res.JsonResponse(c.Writer, gin.H{"received": true}, http.StatusOK)
}
