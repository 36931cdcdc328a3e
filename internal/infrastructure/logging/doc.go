// Package logging provides structured logging for the bridge.
//
// It wraps log/slog with JSON or text output, default service/version
// fields and optional size-based file rotation.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, file
//	  file:
//	    path: "./logs/smarthome.log"
//	    max_size: 10     # megabytes
//	    max_backups: 3
//	    max_age: 28      # days
//
// Never log the remote API token or MQTT credentials.
package logging
