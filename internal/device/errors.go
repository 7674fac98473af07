package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // stale name from an operator, ignore
//	}
var (
	// ErrDeviceNotFound is returned when no device has the requested name.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrAmbiguousName is returned when more than one registered device
	// shares the requested name. Neither device is reachable by name.
	ErrAmbiguousName = errors.New("device: ambiguous name")

	// ErrInvalidMAC is returned when a Wake-on-LAN address fails validation.
	ErrInvalidMAC = errors.New("device: invalid MAC address")

	// ErrWOLUnsupported is returned when a wake is requested for a device
	// without a valid Wake-on-LAN address.
	ErrWOLUnsupported = errors.New("device: wake-on-lan not supported")
)
