package telemetry

import (
	"time"

	"github.com/nerrad567/smarthome-bridge/internal/device"
)

// MeasureType identifies what a reading measures.
type MeasureType string

// Measure types.
const (
	MeasureTemperature MeasureType = "TEMPERATURE"
	MeasureHumidity    MeasureType = "HUMIDITY"
	MeasureMotion      MeasureType = "MOTION"
)

// Fixed units per measure.
const (
	UnitCelsius = "C"
	UnitPercent = "%"
	UnitBool    = "bool"
)

// Unit returns the unit readings of m are stored with.
func (m MeasureType) Unit() string {
	switch m {
	case MeasureTemperature:
		return UnitCelsius
	case MeasureHumidity:
		return UnitPercent
	case MeasureMotion:
		return UnitBool
	default:
		return ""
	}
}

// Reading is one immutable sensor sample.
type Reading struct {
	ID        int64       `json:"id"`
	DeviceID  int64       `json:"device_id"`
	Device    string      `json:"device"`
	HomeID    int64       `json:"home_id"`
	Measure   MeasureType `json:"measure"`
	Value     float64     `json:"value"`
	Unit      string      `json:"unit"`
	Timestamp time.Time   `json:"timestamp"`
}

// Metrics is the sensor subset of a payload or snapshot. Absent values are
// omitted from JSON; motion is reported as a boolean.
type Metrics struct {
	Temp   *float64 `json:"temp,omitempty"`
	Hum    *float64 `json:"hum,omitempty"`
	Motion *bool    `json:"motion,omitempty"`
}

// Empty reports whether no metric is set.
func (m Metrics) Empty() bool {
	return m.Temp == nil && m.Hum == nil && m.Motion == nil
}

// Snapshot is the most recent ingest of one device.
type Snapshot struct {
	Device    string        `json:"device"`
	Timestamp time.Time     `json:"timestamp"`
	Metrics   Metrics       `json:"metrics"`
	Motion    *bool         `json:"motion"`
	DoorOpen  *bool         `json:"door_open"`
	DoorAngle *float64      `json:"door_angle"`
	LED1      *bool         `json:"led1"`
	LED2      *bool         `json:"led2"`
	State     *device.State `json:"state,omitempty"`
}

// IngestResult is returned to the caller of Ingest.
type IngestResult struct {
	Status  string  `json:"status"`
	Device  string  `json:"device"`
	Metrics Metrics `json:"metrics"`
}

// Where a Latest value came from.
const (
	SourceCache = "cache"
	SourceStore = "store"
	SourceNone  = "none"
)

// NoDataMessage accompanies a Latest for a device that never reported.
const NoDataMessage = "no data"

// Latest is the most recent known telemetry of a device.
type Latest struct {
	Device    string     `json:"device"`
	Metrics   Metrics    `json:"metrics"`
	Timestamp *time.Time `json:"timestamp"`
	DoorOpen  *bool      `json:"door_open,omitempty"`
	DoorAngle *float64   `json:"door_angle,omitempty"`
	LED1      *bool      `json:"led1,omitempty"`
	LED2      *bool      `json:"led2,omitempty"`
	Source    string     `json:"source"`
	Message   string     `json:"message,omitempty"`
}

// HomeRef identifies a home in a Summary.
type HomeRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Counts are the totals reported by a Summary.
type Counts struct {
	Homes    int `json:"homes"`
	Devices  int `json:"devices"`
	Readings int `json:"readings"`
}

// LastReading is the newest reading of the summarised home.
type LastReading struct {
	Device    string      `json:"device"`
	Measure   MeasureType `json:"measure"`
	Value     float64     `json:"value"`
	Timestamp time.Time   `json:"timestamp"`
}

// Summary is the dashboard overview of the first home.
type Summary struct {
	Home      *HomeRef     `json:"home"`
	Counts    Counts       `json:"counts"`
	Last      *LastReading `json:"last"`
	Timestamp time.Time    `json:"timestamp"`
}
