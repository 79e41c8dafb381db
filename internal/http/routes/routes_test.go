package routes_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Dhoini/humanizer-billing/internal/app"
	"github.com/Dhoini/humanizer-billing/internal/config"
	"github.com/Dhoini/humanizer-billing/internal/http/routes"
	"github.com/Dhoini/humanizer-billing/internal/metrics"
	"github.com/Dhoini/humanizer-billing/internal/plans"
	"github.com/Dhoini/humanizer-billing/internal/repository"
	"github.com/Dhoini/humanizer-billing/internal/services"
	"github.com/Dhoini/humanizer-billing/internal/stripe"
	"github.com/Dhoini/humanizer-billing/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const jwtSecret = "routes-test-secret-routes-test-secret"

// countingStripe считает обращения к провайдеру.
type countingStripe struct {
	calls int
}

func (s *countingStripe) CreateCustomer(context.Context, string, string) (string, error) {
	s.calls++
	return "cus_1", nil
}

func (s *countingStripe) CreateCheckoutSession(context.Context, stripe.CheckoutSessionInput) (*stripe.Session, error) {
	s.calls++
	return &stripe.Session{ID: "cs_1", URL: "https://checkout.stripe.test/cs_1"}, nil
}

func (s *countingStripe) CreatePortalSession(context.Context, string) (*stripe.Session, error) {
	s.calls++
	return &stripe.Session{URL: "https://billing.stripe.test/p/1"}, nil
}

func (s *countingStripe) GetSubscription(context.Context, string) (*stripe.SubscriptionObject, error) {
	s.calls++
	return nil, assert.AnError
}

func newTestRouter(t *testing.T) (*gin.Engine, *countingStripe) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.NewNop()

	catalog, err := plans.NewCatalog([]plans.Plan{
		{Name: plans.Free, MonthlyWords: 500, MaxWordsPerRequest: 100},
		{Name: plans.Pro, Price: 29.99, PriceID: "price_pro", MonthlyWords: 60000, MaxWordsPerRequest: 1500},
	})
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Stripe.WebhookSecret = "whsec_routes"
	cfg.HTTP.WebhookMaxBytes = 65536
	cfg.Auth.JWTSecret = jwtSecret

	registry := prometheus.NewRegistry()
	m := metrics.NewBillingMetrics(registry)
	repo := repository.NewInMemorySubscriptionRepository(log)
	sc := &countingStripe{}

	a, err := app.NewApp(cfg, app.Services{
		Billing:  services.NewBillingService(repo, sc, catalog, m, services.DefaultRetryPolicy(), log),
		Usage:    services.NewUsageService(repo, catalog, m, log),
		Webhooks: services.NewWebhookService(repo, sc, catalog, nil, m, log),
		Store:    repo,
	}, log)
	require.NoError(t, err)

	r := gin.New()
	routes.SetupRoutes(r, a, registry, log)
	return r, sc
}

func bearer(t *testing.T, subject string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return "Bearer " + token
}

func serve(r http.Handler, method, path, body, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestPortalWithoutTokenNeverReachesProvider(t *testing.T) {
	r, sc := newTestRouter(t)

	w := serve(r, http.MethodPost, "/api/v1/portal-sessions", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = serve(r, http.MethodPost, "/api/v1/portal-sessions", "", "Bearer expired.or.garbage")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	assert.Zero(t, sc.calls)
}

func TestCheckoutThenPortal(t *testing.T) {
	r, sc := newTestRouter(t)

	w := serve(r, http.MethodPost, "/api/v1/portal-sessions", "", bearer(t, "user-1"))
	assert.Equal(t, http.StatusBadRequest, w.Code, "no customer yet")

	w = serve(r, http.MethodPost, "/api/v1/checkout-sessions", `{"priceId":"price_pro","userId":"user-1"}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"sessionId":"cs_1"`)

	w = serve(r, http.MethodPost, "/api/v1/portal-sessions", "", bearer(t, "user-1"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"url":"https://billing.stripe.test/p/1"}`, w.Body.String())

	w = serve(r, http.MethodGet, "/api/v1/subscription", "", bearer(t, "user-1"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"stripe_customer_id":"cus_1"`)

	assert.Equal(t, 3, sc.calls)
}

func TestCheckoutForAnotherUserIsForbidden(t *testing.T) {
	r, sc := newTestRouter(t)

	w := serve(r, http.MethodPost, "/api/v1/checkout-sessions", `{"priceId":"price_pro","userId":"user-1"}`, bearer(t, "user-2"))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Zero(t, sc.calls)
}

func TestPublicEndpoints(t *testing.T) {
	r, _ := newTestRouter(t)

	w := serve(r, http.MethodGet, "/api/v1/plans", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"price_pro"`)

	w = serve(r, http.MethodGet, "/api/v1/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(r, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "billing_stripe_breaker_state")

	w = serve(r, http.MethodPost, "/api/v1/webhooks/stripe", `{}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUsageCheckRoute(t *testing.T) {
	r, _ := newTestRouter(t)

	w := serve(r, http.MethodPost, "/api/v1/usage/check", `{"text":"a few words","usedWords":10}`, bearer(t, "user-1"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"remaining_words":487`)

	w = serve(r, http.MethodPost, "/api/v1/usage/check", `{"text":"a"}`, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
