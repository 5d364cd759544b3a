package bus

import "errors"

// Domain errors for the bus package.
var (
	// ErrInvalidPacket is returned when a received payload cannot be parsed.
	ErrInvalidPacket = errors.New("bus: invalid packet")

	// ErrUnknownDevice is returned when a packet references a device
	// that is not registered at the sender address.
	ErrUnknownDevice = errors.New("bus: unknown device")

	// ErrUnknownRegister is returned when a packet references a register
	// that is not registered for the device.
	ErrUnknownRegister = errors.New("bus: unknown register")

	// ErrUnsupportedDataType is returned when a data type has no
	// representation on the requested side.
	ErrUnsupportedDataType = errors.New("bus: unsupported data type")
)
