package stripe

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/stripe/stripe-go/v78"
)

var (
	// ErrInvalidSignature подпись вебхука отсутствует, испорчена или устарела
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrMalformedObject data.object события не разбирается
	ErrMalformedObject = errors.New("malformed event object")

	// ErrProviderUnavailable circuit breaker открыт, вызовы Stripe временно не выполняются
	ErrProviderUnavailable = errors.New("billing provider unavailable")
)

// IsRetryable сообщает, имеет ли смысл повторить вызов Stripe:
// сетевые ошибки, 429 и 5xx кроме 501.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrProviderUnavailable) {
		return false
	}

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if string(stripeErr.Type) == "api_connection_error" {
			return true
		}
		switch code := stripeErr.HTTPStatusCode; {
		case code == http.StatusTooManyRequests:
			return true
		case code == http.StatusNotImplemented:
			return false
		case code >= 500:
			return true
		}
		return false
	}

	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded)
}
