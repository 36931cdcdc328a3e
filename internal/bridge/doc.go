// Package bridge carries device traffic over MQTT.
//
// Devices that cannot poll HTTP publish ingest payloads on
// smarthome/telemetry/<device>; the bridge feeds them to the telemetry
// service exactly like POST /api. Control updates are published retained on
// smarthome/control/<device> with the same array shape as GET /api/control,
// and every ingest is echoed as a snapshot on smarthome/state/<device>.
package bridge
