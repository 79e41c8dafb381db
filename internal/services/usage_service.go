package services

import (
	"context"
	"errors"
	"time"

	"github.com/Dhoini/humanizer-billing/internal/metrics"
	"github.com/Dhoini/humanizer-billing/internal/plans"
	"github.com/Dhoini/humanizer-billing/internal/repository"
	"github.com/Dhoini/humanizer-billing/pkg/logger"
)

// UsageService рекомендательная проверка лимитов слов по плану пользователя.
type UsageService struct {
	repo    repository.SubscriptionRepository
	catalog *plans.Catalog
	metrics metrics.BillingMetrics
	log     *logger.Logger
}

func NewUsageService(repo repository.SubscriptionRepository, catalog *plans.Catalog, m metrics.BillingMetrics, log *logger.Logger) *UsageService {
	if m == nil {
		m = metrics.NopBillingMetrics{}
	}
	return &UsageService{repo: repo, catalog: catalog, metrics: m, log: log}
}

// Check возвращает отчет и plans.ErrRequestTooLarge или plans.ErrQuotaExceeded
// при превышении. Пользователь без записи проверяется по лимитам free,
// отмененная или истекшая подписка тоже.
func (s *UsageService) Check(ctx context.Context, userID string, usedWords int, text string) (plans.UsageReport, error) {
	if userID == "" {
		return plans.UsageReport{}, ErrInvalidInput
	}

	plan := plans.Free
	sub, err := s.repo.GetByUserID(ctx, userID)
	switch {
	case err == nil:
		plan = sub.EffectivePlan(time.Now())
	case errors.Is(err, repository.ErrNotFound):
	default:
		s.log.Errorw("Failed to load subscription for usage check", "error", err, "userID", userID)
		return plans.UsageReport{}, ErrPersistence
	}

	report, err := s.catalog.CheckUsage(plan, usedWords, text)
	switch {
	case errors.Is(err, plans.ErrRequestTooLarge):
		s.metrics.IncUsageCheck(string(report.Plan), "too_large")
	case errors.Is(err, plans.ErrQuotaExceeded):
		s.metrics.IncUsageCheck(string(report.Plan), "quota_exceeded")
	default:
		s.metrics.IncUsageCheck(string(report.Plan), "ok")
	}
	if err != nil {
		s.log.Debugw("Usage check rejected", "userID", userID, "plan", report.Plan, "reason", err)
	}
	return report, err
}
