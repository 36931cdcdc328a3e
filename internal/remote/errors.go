package remote

import (
	"errors"
	"fmt"
)

var (
	// ErrRemoteUnreachable is returned when the upstream could not be reached
	// or did not answer within the timeout.
	ErrRemoteUnreachable = errors.New("remote: upstream unreachable")

	// ErrInvalidJSON is returned when the upstream body is not valid JSON.
	ErrInvalidJSON = errors.New("remote: invalid JSON from upstream")

	// ErrNoData is returned when the upstream has no value for a sensor.
	ErrNoData = errors.New("remote: no data")

	// ErrDisabled is returned by a nil or unconfigured client.
	ErrDisabled = errors.New("remote: proxy not configured")
)

// UpstreamError carries a non-200 upstream answer for pass-through.
type UpstreamError struct {
	StatusCode int
	Body       []byte
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("remote: upstream status %d", e.StatusCode)
}

// Error kinds reported to API callers.
const (
	KindUnreachable = "remote_unreachable"
	KindInvalidJSON = "invalid_json"
	KindUpstream    = "remote_error"
	KindNoData      = "no_data"
)

// Kind maps an error from this package to its API error kind.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrRemoteUnreachable):
		return KindUnreachable
	case errors.Is(err, ErrInvalidJSON):
		return KindInvalidJSON
	case errors.Is(err, ErrNoData):
		return KindNoData
	default:
		return KindUpstream
	}
}
