// Package telemetry ingests sensor payloads from devices.
//
// A payload is coerced by ParsePayload, then Service.Ingest provisions the
// device through the registry, stores one Reading per sensor value
// (TEMPERATURE in C, HUMIDITY in %, MOTION as 1/0 with unit "bool") and the
// derived device state in one transaction, and replaces the device's entry
// in the LatestCache.
//
// Latest values are served from the cache and fall back to the newest stored
// readings after a restart. The cache is process-local.
package telemetry
