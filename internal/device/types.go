package device

import "time"

// DeviceType classifies what a device can do.
type DeviceType string

// Device types.
const (
	TypeSensor   DeviceType = "SENSOR"
	TypeActuator DeviceType = "ACTUATOR"
	TypeHybrid   DeviceType = "HYBRID"
)

// AllDeviceTypes returns every valid device type.
func AllDeviceTypes() []DeviceType {
	return []DeviceType{TypeSensor, TypeActuator, TypeHybrid}
}

// State is the last state a device reported or was inferred to be in.
type State string

// Device states.
const (
	StateOn      State = "ON"
	StateOff     State = "OFF"
	StateOpen    State = "OPEN"
	StateClosed  State = "CLOSED"
	StateActing  State = "ACTING"
	StateReading State = "READING"
	StateError   State = "ERROR"
)

// AllStates returns every valid device state.
func AllStates() []State {
	return []State{StateOn, StateOff, StateOpen, StateClosed, StateActing, StateReading, StateError}
}

// Ptr returns a pointer to a copy of s.
func (s State) Ptr() *State {
	return &s
}

// Home is the top of the device graph.
type Home struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	Address     *string   `json:"address"`
	Timezone    string    `json:"timezone"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Device is a sensor and/or actuator identified by its unique name.
type Device struct {
	ID           int64      `json:"id"`
	HomeID       int64      `json:"home_id"`
	ControllerID int64      `json:"controller_id"`
	Name         string     `json:"name"`
	Description  string     `json:"description"`
	Type         DeviceType `json:"type"`
	Pin          int        `json:"pin"`
	Model        string     `json:"model"`
	HTTPPath     *string    `json:"http_path,omitempty"`
	State        *State     `json:"state"`
	Active       bool       `json:"active"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// DeepCopy returns an independent copy of the device.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}
	cp := *d
	if d.HTTPPath != nil {
		p := *d.HTTPPath
		cp.HTTPPath = &p
	}
	if d.State != nil {
		s := *d.State
		cp.State = &s
	}
	return &cp
}

// Spec describes a device to create.
type Spec struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Type        DeviceType `json:"type"`
	Pin         int        `json:"pin"`
	Model       string     `json:"model"`
	HTTPPath    *string    `json:"http_path,omitempty"`
	State       *State     `json:"state,omitempty"`
}

// HomeSpec describes a home to create.
type HomeSpec struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	Address     *string `json:"address,omitempty"`
	Timezone    string  `json:"timezone"`
}

// Provisioning holds the home and gateway used when a device is created
// without an explicit home or controller.
type Provisioning struct {
	HomeName           string
	HomeTimezone       string
	GatewayHardwareID  string
	GatewayName        string
	GatewayDescription string
	DeviceDescription  string
}

// DefaultProvisioning returns the built-in auto-provisioning values.
func DefaultProvisioning() Provisioning {
	return Provisioning{
		HomeName:           "Demo Home",
		HomeTimezone:       "UTC",
		GatewayHardwareID:  "esp32-gw",
		GatewayName:        "ESP32 Gateway",
		GatewayDescription: "Auto-registered",
		DeviceDescription:  "IoT device",
	}
}

// autoSpec is the device created on first contact.
func (p Provisioning) autoSpec(name string) Spec {
	return Spec{
		Name:        name,
		Description: p.DeviceDescription,
		Type:        TypeHybrid,
		Model:       name,
	}
}
