// Package api implements the HTTP API and WebSocket server of the bridge.
//
// This package provides:
//   - telemetry ingest and reading endpoints used by firmware and the dashboard
//   - the control endpoints polled by firmware (GET /api/control)
//   - read-only registry endpoints (devices, homes, summary)
//   - a WebSocket hub broadcasting telemetry.ingested and control.updated
//   - Prometheus exposition on /metrics
//
// # Modes
//
// In local mode telemetry and control are served from this process. When a
// remote client is configured the dashboard endpoints are proxied to another
// deployment instead; registry, summary and system endpoints stay local.
//
// # Errors
//
// Failures are reported as {"error": <kind>, "detail": ...}. Non-200 upstream
// answers in remote mode are relayed unchanged.
package api
