package services

import "errors"

// --- Ошибки сервисного слоя. Хендлеры сопоставляют их с HTTP-статусами через errors.Is ---
var (
	ErrInvalidInput   = errors.New("invalid input data")
	ErrUnknownPrice   = errors.New("price does not belong to a paid plan")
	ErrNoSubscription = errors.New("no billing customer for user")
	ErrPersistence    = errors.New("subscription store failure")
	ErrProvider       = errors.New("billing provider failure")
	ErrMalformedEvent = errors.New("malformed webhook event")

	// ErrAlreadySubscribed план меняется через портал, а не второй подпиской
	ErrAlreadySubscribed = errors.New("user already has an active subscription")
)
