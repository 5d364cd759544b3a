package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrConnectorNotFound is returned when a connector ID does not exist.
	ErrConnectorNotFound = errors.New("connector: not found")

	// ErrConnectorExists is returned when creating a connector with an ID that already exists.
	ErrConnectorExists = errors.New("connector: already exists")

	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when a device ID or identifier is already in use.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrPropertyNotFound is returned when a property does not exist.
	ErrPropertyNotFound = errors.New("device: property not found")

	// ErrPropertyExists is returned when a property identifier is already used on a device.
	ErrPropertyExists = errors.New("device: property already exists")

	// ErrInvalidName is returned when a name is empty or too long.
	ErrInvalidName = errors.New("device: invalid name")

	// ErrInvalidAddress is returned when a bus address is out of range.
	ErrInvalidAddress = errors.New("device: invalid address")

	// ErrInvalidInterface is returned when a serial interface path is empty.
	ErrInvalidInterface = errors.New("device: invalid interface")

	// ErrInvalidBaudRate is returned when a baud rate is not positive.
	ErrInvalidBaudRate = errors.New("device: invalid baud rate")

	// ErrInvalidProtocol is returned when a protocol value is not recognised.
	ErrInvalidProtocol = errors.New("device: invalid protocol")

	// ErrInvalidIdentifier is returned when a device or property identifier is malformed.
	ErrInvalidIdentifier = errors.New("device: invalid identifier")

	// ErrInvalidRegister is returned when a property register kind is not recognised.
	ErrInvalidRegister = errors.New("device: invalid register kind")
)
