package device

import "errors"

// Domain errors for the device package.
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device name does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when registering a name that is already taken.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrHomeNotFound is returned when no home has been created yet.
	ErrHomeNotFound = errors.New("device: home not found")

	// ErrInvalidHome is returned when a home creation request fails validation.
	ErrInvalidHome = errors.New("device: invalid home")

	// ErrInvalidDevice is returned when a creation request fails validation.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrInvalidName is returned when a device name is empty, padded, too long
	// or contains an MQTT topic separator or wildcard.
	ErrInvalidName = errors.New("device: invalid name")

	// ErrInvalidDeviceType is returned when a device type is not recognised.
	ErrInvalidDeviceType = errors.New("device: invalid type")

	// ErrInvalidState is returned when a state value is not recognised.
	ErrInvalidState = errors.New("device: invalid state")
)
