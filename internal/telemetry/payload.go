package telemetry

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/nerrad567/smarthome-bridge/internal/device"
)

// Payload is a decoded ingest body. Nil fields were absent or null.
type Payload struct {
	Device    string
	Temp      *float64
	Hum       *float64
	Motion    *bool
	DoorOpen  *bool
	DoorAngle *float64
	LED1      *bool
	LED2      *bool
}

// ParsePayload decodes and coerces an ingest body.
//
// temp, hum and door_angle accept numbers or numeric strings; motion accepts
// booleans or numbers (non-zero is true); door_open, led1 and led2 must be
// booleans. Any other type fails the whole payload with ErrInvalidPayload.
func ParsePayload(data []byte) (Payload, error) {
	if !gjson.ValidBytes(data) {
		return Payload{}, fmt.Errorf("%w: malformed JSON", ErrInvalidPayload)
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return Payload{}, fmt.Errorf("%w: body must be a JSON object", ErrInvalidPayload)
	}

	var p Payload
	var err error

	switch dev := root.Get("device"); dev.Type {
	case gjson.Null:
	case gjson.String:
		p.Device = strings.TrimSpace(dev.Str)
	default:
		return Payload{}, fmt.Errorf("%w: device must be a string", ErrInvalidPayload)
	}

	if p.Temp, err = floatField(root, "temp"); err != nil {
		return Payload{}, err
	}
	if p.Hum, err = floatField(root, "hum"); err != nil {
		return Payload{}, err
	}
	if p.DoorAngle, err = floatField(root, "door_angle"); err != nil {
		return Payload{}, err
	}
	if p.Motion, err = motionField(root); err != nil {
		return Payload{}, err
	}
	if p.DoorOpen, err = boolField(root, "door_open"); err != nil {
		return Payload{}, err
	}
	if p.LED1, err = boolField(root, "led1"); err != nil {
		return Payload{}, err
	}
	if p.LED2, err = boolField(root, "led2"); err != nil {
		return Payload{}, err
	}

	return p, nil
}

func floatField(root gjson.Result, key string) (*float64, error) {
	r := root.Get(key)

	var f float64
	switch r.Type {
	case gjson.Null:
		return nil, nil
	case gjson.Number:
		f = r.Num
	case gjson.String:
		v, err := strconv.ParseFloat(strings.TrimSpace(r.Str), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s %q is not a number", ErrInvalidPayload, key, r.Str)
		}
		f = v
	default:
		return nil, fmt.Errorf("%w: %s must be a number", ErrInvalidPayload, key)
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("%w: %s must be finite", ErrInvalidPayload, key)
	}
	return &f, nil
}

func motionField(root gjson.Result) (*bool, error) {
	r := root.Get("motion")
	switch r.Type {
	case gjson.Null:
		return nil, nil
	case gjson.True, gjson.False:
		b := r.Bool()
		return &b, nil
	case gjson.Number:
		b := r.Num != 0
		return &b, nil
	default:
		return nil, fmt.Errorf("%w: motion must be a boolean or number", ErrInvalidPayload)
	}
}

func boolField(root gjson.Result, key string) (*bool, error) {
	r := root.Get(key)
	switch r.Type {
	case gjson.Null:
		return nil, nil
	case gjson.True, gjson.False:
		b := r.Bool()
		return &b, nil
	default:
		return nil, fmt.Errorf("%w: %s must be a boolean", ErrInvalidPayload, key)
	}
}

// Metrics returns the sensor subset of the payload.
func (p Payload) Metrics() Metrics {
	return Metrics{Temp: p.Temp, Hum: p.Hum, Motion: p.Motion}
}

// readings builds one reading per present sensor value, all stamped at.
func (p Payload) readings(dev *device.Device, at time.Time) []Reading {
	var out []Reading
	add := func(m MeasureType, v float64) {
		out = append(out, Reading{
			DeviceID:  dev.ID,
			Device:    dev.Name,
			HomeID:    dev.HomeID,
			Measure:   m,
			Value:     v,
			Unit:      m.Unit(),
			Timestamp: at,
		})
	}

	if p.Temp != nil {
		add(MeasureTemperature, *p.Temp)
	}
	if p.Hum != nil {
		add(MeasureHumidity, *p.Hum)
	}
	if p.Motion != nil {
		v := 0.0
		if *p.Motion {
			v = 1.0
		}
		add(MeasureMotion, v)
	}
	return out
}

// DeriveState infers the device state from actuator flags in a payload.
//
// Precedence: a door flag decides OPEN/CLOSED; otherwise any LED on means
// ON; otherwise both LEDs reported off means OFF. Returns nil when the
// payload says nothing about state.
func DeriveState(p Payload) *device.State {
	if p.DoorOpen != nil {
		if *p.DoorOpen {
			return device.StateOpen.Ptr()
		}
		return device.StateClosed.Ptr()
	}

	led1On := p.LED1 != nil && *p.LED1
	led2On := p.LED2 != nil && *p.LED2
	if led1On || led2On {
		return device.StateOn.Ptr()
	}
	if p.LED1 != nil && p.LED2 != nil {
		return device.StateOff.Ptr()
	}
	return nil
}
