package stripe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Dhoini/humanizer-billing/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	method         string
	path           string
	idempotencyKey string
	form           map[string]string
}

type fakeStripeAPI struct {
	mu       sync.Mutex
	requests []recordedRequest
	status   int
	body     string
}

func (f *fakeStripeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	form := make(map[string]string, len(r.PostForm))
	for k := range r.PostForm {
		form[k] = r.PostForm.Get(k)
	}

	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{
		method:         r.Method,
		path:           r.URL.Path,
		idempotencyKey: r.Header.Get("Idempotency-Key"),
		form:           form,
	})
	status, body := f.status, f.body
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func newTestClient(t *testing.T, api *fakeStripeAPI) Client {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	return NewStripeClient(Options{
		APIKey:          "sk_test_123",
		Timeout:         2 * time.Second,
		SuccessURL:      "https://app.test/success",
		CancelURL:       "https://app.test/cancel",
		PortalReturnURL: "https://app.test/account",
		BackendURL:      srv.URL,
	}, logger.NewNop())
}

func TestCreateCustomer_SendsMetadataAndIdempotencyKey(t *testing.T) {
	api := &fakeStripeAPI{status: http.StatusOK, body: `{"id":"cus_123","object":"customer"}`}
	c := newTestClient(t, api)

	id, err := c.CreateCustomer(context.Background(), "user-1", "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, "cus_123", id)

	require.Len(t, api.requests, 1)
	req := api.requests[0]
	assert.Equal(t, http.MethodPost, req.method)
	assert.Equal(t, "/v1/customers", req.path)
	assert.Equal(t, "user-1", req.form["metadata[user_id]"])
	assert.Equal(t, "user@example.com", req.form["email"])
	assert.Equal(t, IdempotencyKey("create-customer", "user-1"), req.idempotencyKey)
}

func TestIdempotencyKeyIsDeterministic(t *testing.T) {
	assert.Equal(t, IdempotencyKey("create-customer", "u1"), IdempotencyKey("create-customer", "u1"))
	assert.NotEqual(t, IdempotencyKey("create-customer", "u1"), IdempotencyKey("create-customer", "u2"))
}

func TestCreateCheckoutSession_Params(t *testing.T) {
	api := &fakeStripeAPI{status: http.StatusOK, body: `{"id":"cs_1","object":"checkout.session","url":"https://checkout.stripe.test/cs_1"}`}
	c := newTestClient(t, api)

	s, err := c.CreateCheckoutSession(context.Background(), CheckoutSessionInput{
		UserID: "user-1", CustomerID: "cus_1", PriceID: "price_pro",
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_1", s.ID)
	assert.Equal(t, "https://checkout.stripe.test/cs_1", s.URL)

	form := api.requests[0].form
	assert.Equal(t, "/v1/checkout/sessions", api.requests[0].path)
	assert.Equal(t, "subscription", form["mode"])
	assert.Equal(t, "cus_1", form["customer"])
	assert.Equal(t, "user-1", form["client_reference_id"])
	assert.Equal(t, "price_pro", form["line_items[0][price]"])
	assert.Equal(t, "price_pro", form["metadata[price_id]"])
	assert.Equal(t, "user-1", form["subscription_data[metadata][user_id]"])
	assert.Equal(t, "https://app.test/success", form["success_url"])
}

func TestCreatePortalSession(t *testing.T) {
	api := &fakeStripeAPI{status: http.StatusOK, body: `{"id":"bps_1","object":"billing_portal.session","url":"https://billing.stripe.test/p/1"}`}
	c := newTestClient(t, api)

	s, err := c.CreatePortalSession(context.Background(), "cus_1")
	require.NoError(t, err)
	assert.Equal(t, "https://billing.stripe.test/p/1", s.URL)
	assert.Equal(t, "https://app.test/account", api.requests[0].form["return_url"])
}

func TestGetSubscription(t *testing.T) {
	api := &fakeStripeAPI{status: http.StatusOK, body: `{
		"id": "sub_1", "object": "subscription", "customer": "cus_1", "status": "active",
		"cancel_at_period_end": true, "current_period_end": 1767225600,
		"items": {"object": "list", "data": [{"id": "si_1", "object": "subscription_item", "price": {"id": "price_pro", "object": "price"}}]}
	}`}
	c := newTestClient(t, api)

	sub, err := c.GetSubscription(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.Equal(t, "/v1/subscriptions/sub_1", api.requests[0].path)
	assert.Equal(t, "cus_1", sub.CustomerID())
	assert.Equal(t, "price_pro", sub.PriceID())
	require.NotNil(t, sub.EffectiveCancelAt())
	assert.Equal(t, int64(1767225600), sub.EffectiveCancelAt().Unix())
}

func TestProviderErrorsAreClassified(t *testing.T) {
	api := &fakeStripeAPI{status: http.StatusServiceUnavailable, body: `{"error":{"type":"api_error","message":"try later"}}`}
	c := newTestClient(t, api)

	_, err := c.CreatePortalSession(context.Background(), "cus_1")
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.Len(t, api.requests, 1)

	api.status = http.StatusBadRequest
	api.body = `{"error":{"type":"invalid_request_error","message":"No such customer"}}`
	_, err = c.CreatePortalSession(context.Background(), "cus_missing")
	require.Error(t, err)
	assert.False(t, IsRetryable(err))
}
