package broadcast

import (
	"errors"
	"fmt"

	"github.com/nerrad567/studio-core/internal/device"
)

var (
	// ErrUnknownType is returned for a device type that does not exist.
	ErrUnknownType = errors.New("broadcast: unknown device type")

	// ErrEmptyMethod is returned for a command without a method name.
	ErrEmptyMethod = errors.New("broadcast: command method is required")
)

// Command is an inbound request from a client.
type Command struct {
	Method string `json:"method"`
	Args   []any  `json:"args"`
}

// Execute runs cmd on the device of type t named name, or on every device
// of the type when name is device.Wildcard. It reports whether any device
// accepted the command; rejection by the adapter is not an error.
func Execute(registry *device.Registry, t device.Type, name string, cmd Command) (bool, error) {
	if !t.Valid() {
		return false, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	if cmd.Method == "" {
		return false, ErrEmptyMethod
	}

	if name == device.Wildcard {
		return registry.Dispatch(string(t), device.Wildcard, cmd.Method, cmd.Args...), nil
	}

	d, err := Lookup(registry, t, name)
	if err != nil {
		return false, err
	}
	return device.Invoke(d, cmd.Method, cmd.Args...), nil
}

// Lookup returns the device of type t with the given display name.
func Lookup(registry *device.Registry, t device.Type, name string) (device.Device, error) {
	d, err := registry.ByName(name)
	if err != nil {
		return nil, fmt.Errorf("%s %q: %w", t, name, err)
	}
	if d.Type() != t {
		return nil, fmt.Errorf("%s %q: %w", t, name, device.ErrDeviceNotFound)
	}
	return d, nil
}
