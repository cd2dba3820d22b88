package service

import "errors"

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")

	// ErrNonRetryable marks failures a retry cannot fix; queue handlers ack them instead of
	// redelivering.
	ErrNonRetryable = errors.New("non-retryable error")
)
