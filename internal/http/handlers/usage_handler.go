package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/Dhoini/humanizer-billing/internal/middleware"
	"github.com/Dhoini/humanizer-billing/internal/plans"
	"github.com/Dhoini/humanizer-billing/pkg/logger"
	"github.com/Dhoini/humanizer-billing/pkg/req"
	"github.com/Dhoini/humanizer-billing/pkg/res"

	"github.com/gin-gonic/gin"
)

type UsageChecker interface {
	Check(ctx context.Context, userID string, usedWords int, text string) (plans.UsageReport, error)
}

type UsageHandler struct {
	usage UsageChecker
	log   *logger.Logger
}

func NewUsageHandler(usage UsageChecker, log *logger.Logger) *UsageHandler {
	return &UsageHandler{usage: usage, log: log}
}

type UsageCheckRequest struct {
	Text      string `json:"text"`
	UsedWords int    `json:"usedWords" validate:"gte=0"`
}

type UsageCheckResponse struct {
	Allowed bool              `json:"allowed"`
	Reason  string            `json:"reason,omitempty"`
	Report  plans.UsageReport `json:"report"`
}

// Check обрабатывает POST /usage/check. Превышение лимита отдается как 422 с отчетом.
func (h *UsageHandler) Check(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Unauthorized"}, http.StatusUnauthorized)
		c.Abort()
		return
	}

	body, err := req.HandleBody[UsageCheckRequest](c.Writer, c.Request, h.log)
	if err != nil {
		c.Abort()
		return
	}

	report, err := h.usage.Check(c.Request.Context(), userID, body.UsedWords, body.Text)
	switch {
	case err == nil:
		res.JsonResponse(c.Writer, UsageCheckResponse{Allowed: true, Report: report}, http.StatusOK)
	case errors.Is(err, plans.ErrRequestTooLarge), errors.Is(err, plans.ErrQuotaExceeded):
		res.JsonResponse(c.Writer, UsageCheckResponse{Allowed: false, Reason: err.Error(), Report: report}, http.StatusUnprocessableEntity)
	default:
		h.log.Errorw("Usage check failed", "error", err, "userID", userID)
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Failed to check usage"}, http.StatusInternalServerError)
		c.Abort()
	}
}
