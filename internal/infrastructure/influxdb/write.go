package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the bridge.
const (
	MeasurementReadings = "readings"
	MeasurementState    = "device_state"
)

// ReadingPoint builds the point for one sensor reading: tags device, measure
// and unit, field value.
func ReadingPoint(device, measure, unit string, value float64, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementReadings,
		map[string]string{
			"device":  device,
			"measure": measure,
			"unit":    unit,
		},
		map[string]any{"value": value},
		at,
	)
}

// StatePoint builds the point for a device state change.
func StatePoint(device, state string, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementState,
		map[string]string{"device": device},
		map[string]any{"state": state},
		at,
	)
}

// WriteReading queues a reading. Errors surface through SetOnError.
func (c *Client) WriteReading(device, measure, unit string, value float64, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(ReadingPoint(device, measure, unit, value, at))
}

// WriteState queues a device state change.
func (c *Client) WriteState(device, state string, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(StatePoint(device, state, at))
}
