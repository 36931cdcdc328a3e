package device

import (
	"fmt"
	"slices"
	"strings"
	"time"
	_ "time/tzdata" // timezone checks must not depend on the host zoneinfo
)

const maxNameLength = 255

// reservedNameChars cannot appear in a device name: the name becomes the
// last level of the device's MQTT topics.
const reservedNameChars = "/+#"

// ValidateName checks that a device name is usable as a unique key and as an
// MQTT topic level.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	}
	if strings.TrimSpace(name) != name {
		return fmt.Errorf("%w: name has leading or trailing whitespace", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	if strings.ContainsAny(name, reservedNameChars) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: name must not contain '/', '+', '#' or NUL", ErrInvalidName)
	}
	return nil
}

// ValidateHomeSpec checks a normalised home creation request.
func ValidateHomeSpec(s HomeSpec) error {
	if s.Name == "" || len(s.Name) > maxNameLength {
		return fmt.Errorf("%w: name must be 1 to %d characters", ErrInvalidHome, maxNameLength)
	}
	if _, err := time.LoadLocation(s.Timezone); err != nil {
		return fmt.Errorf("%w: unknown timezone %q", ErrInvalidHome, s.Timezone)
	}
	return nil
}

// ValidateDeviceType checks that t is one of the known device types.
func ValidateDeviceType(t DeviceType) error {
	if !slices.Contains(AllDeviceTypes(), t) {
		return fmt.Errorf("%w: %q", ErrInvalidDeviceType, t)
	}
	return nil
}

// ParseState converts a case-insensitive string into a State.
func ParseState(s string) (State, error) {
	st := State(strings.ToUpper(strings.TrimSpace(s)))
	if !slices.Contains(AllStates(), st) {
		return "", fmt.Errorf("%w: %q", ErrInvalidState, s)
	}
	return st, nil
}

// ValidateSpec checks a creation request.
func ValidateSpec(s Spec) error {
	if err := ValidateName(s.Name); err != nil {
		return err
	}
	if err := ValidateDeviceType(s.Type); err != nil {
		return err
	}
	if s.State != nil {
		if _, err := ParseState(string(*s.State)); err != nil {
			return err
		}
	}
	if s.Pin < 0 {
		return fmt.Errorf("%w: pin must not be negative", ErrInvalidDevice)
	}
	return nil
}
