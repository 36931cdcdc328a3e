package control

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/smarthome-bridge/internal/device"
)

// Control names understood by the firmware, in wire order.
const (
	LED1      = "led1"
	LED2      = "led2"
	DoorOpen  = "door_open"
	DoorAngle = "door_angle"
)

var (
	// ErrInvalidValue is returned when a known control receives a value of the wrong type.
	ErrInvalidValue = errors.New("control: invalid value")

	// ErrInvalidDevice is returned for a device name that is empty or cannot
	// be used as an MQTT topic level.
	ErrInvalidDevice = errors.New("control: invalid device")
)

// Entry is one desired actuator setting.
type Entry struct {
	Control string `json:"control"`
	Value   any    `json:"value"`
}

// State is the full desired state of one device.
type State struct {
	Device    string    `json:"device"`
	Controls  []Entry   `json:"controls"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Defaults returns the initial control list for a device.
func Defaults() []Entry {
	return []Entry{
		{Control: LED1, Value: false},
		{Control: LED2, Value: false},
		{Control: DoorOpen, Value: false},
		{Control: DoorAngle, Value: float64(0)},
	}
}

// Queue holds the desired actuator state per device in memory.
// Writers replace values under a lock; concurrent writes to the same device
// resolve last-write-wins. Nothing is persisted or expired.
type Queue struct {
	mu     sync.RWMutex
	states map[string]*State
	now    func() time.Time
}

// NewQueue creates an empty control queue.
func NewQueue() *Queue {
	return &Queue{
		states: make(map[string]*State),
		now:    time.Now,
	}
}

// Set merges the recognised keys of payload into the device's control list
// and returns the full resulting state. Unknown keys are ignored. If any
// recognised key has the wrong type nothing is applied.
func (q *Queue) Set(name string, payload map[string]any) (State, error) {
	if err := device.ValidateName(name); err != nil {
		return State{}, fmt.Errorf("%w: %w", ErrInvalidDevice, err)
	}

	updates := make(map[string]any, len(payload))
	for key, raw := range payload {
		value, known, err := normalise(key, raw)
		if err != nil {
			return State{}, err
		}
		if known {
			updates[key] = value
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	st, ok := q.states[name]
	if !ok {
		st = &State{Device: name, Controls: Defaults()}
		q.states[name] = st
	}
	for i := range st.Controls {
		if v, ok := updates[st.Controls[i].Control]; ok {
			st.Controls[i].Value = v
		}
	}
	st.UpdatedAt = q.now().UTC()

	return st.copy(), nil
}

// Get returns the device's control list in wire order, or an empty list if
// the device has never been commanded.
func (q *Queue) Get(device string) []Entry {
	q.mu.RLock()
	defer q.mu.RUnlock()

	st, ok := q.states[device]
	if !ok {
		return []Entry{}
	}
	return append([]Entry(nil), st.Controls...)
}

// Devices lists every device that has received a command, sorted by name.
func (q *Queue) Devices() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()

	names := make([]string, 0, len(q.states))
	for name := range q.states {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *State) copy() State {
	return State{
		Device:    s.Device,
		Controls:  append([]Entry(nil), s.Controls...),
		UpdatedAt: s.UpdatedAt,
	}
}

// normalise checks the JSON-decoded value of a known control.
// known is false for keys the firmware does not understand.
func normalise(key string, raw any) (value any, known bool, err error) {
	switch key {
	case LED1, LED2, DoorOpen:
		b, ok := raw.(bool)
		if !ok {
			return nil, true, fmt.Errorf("%w: %s must be a boolean", ErrInvalidValue, key)
		}
		return b, true, nil
	case DoorAngle:
		f, ok := toFloat(raw)
		if !ok {
			return nil, true, fmt.Errorf("%w: %s must be a number", ErrInvalidValue, key)
		}
		return f, true, nil
	default:
		return nil, false, nil
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case interface{ Float64() (float64, error) }: // json.Number
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
