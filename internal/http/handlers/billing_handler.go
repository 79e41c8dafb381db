package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/Dhoini/humanizer-billing/internal/middleware"
	"github.com/Dhoini/humanizer-billing/internal/plans"
	"github.com/Dhoini/humanizer-billing/internal/services"
	"github.com/Dhoini/humanizer-billing/internal/stripe"
	"github.com/Dhoini/humanizer-billing/pkg/logger"
	"github.com/Dhoini/humanizer-billing/pkg/req"
	"github.com/Dhoini/humanizer-billing/pkg/res"

	"github.com/gin-gonic/gin"
)

// BillingService операции биллинга, нужные HTTP слою.
type BillingService interface {
	CreateCheckoutSession(ctx context.Context, in services.CheckoutInput) (*stripe.Session, error)
	CreatePortalSession(ctx context.Context, userID string) (*stripe.Session, error)
	GetSubscription(ctx context.Context, userID string) (*services.SubscriptionView, error)
	Plans() []plans.Plan
}

// BillingHandler обрабатывает checkout, портал и чтение подписки.
type BillingHandler struct {
	service BillingService
	log     *logger.Logger
}

func NewBillingHandler(service BillingService, log *logger.Logger) *BillingHandler {
	return &BillingHandler{
		service: service,
		log:     log,
	}
}

// --- DTO ---
type CheckoutRequest struct {
	PriceID       string `json:"priceId" validate:"required"`
	UserID        string `json:"userId" validate:"required"`
	CustomerEmail string `json:"customerEmail" validate:"omitempty,email"`
}

type PortalResponse struct {
	URL string `json:"url"`
}

// CreateCheckoutSession обрабатывает POST /checkout-sessions.
// Если запрос пришел с токеном, subject токена должен совпадать с userId.
func (h *BillingHandler) CreateCheckoutSession(c *gin.Context) {
	body, err := req.HandleBody[CheckoutRequest](c.Writer, c.Request, h.log)
	if err != nil {
		c.Abort()
		return
	}

	if tokenUserID, ok := middleware.UserID(c); ok && tokenUserID != body.UserID {
		h.log.Warnw("Checkout userId does not match token subject", "tokenUserID", tokenUserID, "userID", body.UserID)
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "userId does not match the authenticated user"}, http.StatusForbidden)
		c.Abort()
		return
	}

	email := body.CustomerEmail
	if email == "" {
		email = middleware.UserEmail(c)
	}

	session, err := h.service.CreateCheckoutSession(c.Request.Context(), services.CheckoutInput{
		UserID:  body.UserID,
		Email:   email,
		PriceID: body.PriceID,
	})
	if err != nil {
		h.writeServiceError(c, "Failed to create checkout session", err)
		return
	}

	res.JsonResponse(c.Writer, session, http.StatusOK)
}

// CreatePortalSession обрабатывает POST /portal-sessions (только с аутентификацией).
func (h *BillingHandler) CreatePortalSession(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Unauthorized"}, http.StatusUnauthorized)
		c.Abort()
		return
	}

	session, err := h.service.CreatePortalSession(c.Request.Context(), userID)
	if err != nil {
		h.writeServiceError(c, "Failed to create portal session", err)
		return
	}

	res.JsonResponse(c.Writer, PortalResponse{URL: session.URL}, http.StatusOK)
}

// GetSubscription обрабатывает GET /subscription.
func (h *BillingHandler) GetSubscription(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Unauthorized"}, http.StatusUnauthorized)
		c.Abort()
		return
	}

	view, err := h.service.GetSubscription(c.Request.Context(), userID)
	if err != nil {
		h.writeServiceError(c, "Failed to load subscription", err)
		return
	}
	res.JsonResponse(c.Writer, view, http.StatusOK)
}

// ListPlans обрабатывает GET /plans.
func (h *BillingHandler) ListPlans(c *gin.Context) {
	res.JsonResponse(c.Writer, gin.H{"plans": h.service.Plans()}, http.StatusOK)
}

// writeServiceError сопоставляет ошибки сервиса с HTTP-статусами.
func (h *BillingHandler) writeServiceError(c *gin.Context, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrInvalidInput), errors.Is(err, services.ErrUnknownPrice):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrNoSubscription):
		status = http.StatusBadRequest
		message = "No billing subscription for user"
	case errors.Is(err, services.ErrAlreadySubscribed):
		status = http.StatusConflict
		message = "Subscription already active, use the billing portal to change plan"
	}

	res.JsonErrorResponse(c.Writer, res.ErrorResponse{Error: message, Details: err.Error()}, status, h.log)
	c.Abort()
}
