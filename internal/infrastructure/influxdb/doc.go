// Package influxdb mirrors telemetry into InfluxDB v2.
//
// SQLite remains the system of record; this mirror exists for long-range
// dashboards. Every reading becomes a "readings" point tagged with device,
// measure and unit, and every state change a "device_state" point. Writes
// are batched and non-blocking, so failures are reported asynchronously via
// SetOnError.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // mirror off
//	}
//	client.WriteReading("esp32-1", "TEMPERATURE", "C", 21.5, time.Now())
package influxdb
