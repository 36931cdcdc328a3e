// Package remote proxies dashboard requests to a remote telemetry API.
//
// It is used when this deployment is a thin client and the system of record
// lives elsewhere. Calls are single attempts with a fixed timeout and no
// retry. Upstream failures are classified so the HTTP layer can report them:
//
//	ErrRemoteUnreachable  transport failure or timeout (remote_unreachable)
//	ErrInvalidJSON        upstream body is not JSON (invalid_json)
//	*UpstreamError        non-200 answer, passed through (remote_error)
//	ErrNoData             sensor has no value (no_data)
package remote
