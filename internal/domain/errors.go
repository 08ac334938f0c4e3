package domain

import "errors"

var (
	// ErrQueueUnavailable means the job was not enqueued. Callers treat it as
	// a handled outcome, not a failure of their own operation.
	ErrQueueUnavailable = errors.New("job queue unavailable")

	ErrUnknownQueue        = errors.New("unknown queue")
	ErrNotFound            = errors.New("not found")
	ErrInvalidEvent        = errors.New("invalid event")
	ErrUnknownEventType    = errors.New("unknown event type")
	ErrInsufficientCredits = errors.New("insufficient credits")
)
