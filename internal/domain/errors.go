package domain

import "errors"

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")

	// ErrStoreUnavailable marks failures to reach the durable retry store.
	ErrStoreUnavailable = errors.New("retry store unavailable")

	// ErrNotificationLost is returned when delivery failed and the retry record
	// could not be persisted, so no redelivery will happen.
	ErrNotificationLost = errors.New("notification lost: delivery failed and retry could not be queued")
)
