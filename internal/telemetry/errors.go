package telemetry

import "errors"

var (
	// ErrInvalidPayload is returned when an ingest body cannot be coerced.
	// Nothing is persisted when it is returned.
	ErrInvalidPayload = errors.New("telemetry: invalid payload")
)
