package connector

import "errors"

// Domain errors for the connector package.
var (
	// ErrDeviceNotFound is returned when a device record is not registered.
	ErrDeviceNotFound = errors.New("connector: device not found")

	// ErrRegisterNotFound is returned when a register record is not registered.
	ErrRegisterNotFound = errors.New("connector: register not found")

	// ErrConnectorStopped is returned when a runtime operation is requested
	// while the connector is stopped.
	ErrConnectorStopped = errors.New("connector: connector is stopped")

	// ErrUnsupportedClient is returned by the client factory for client
	// types it cannot build.
	ErrUnsupportedClient = errors.New("connector: unsupported client type")

	// ErrClientFailed is returned by Run when a bus client lost its
	// interface.
	ErrClientFailed = errors.New("connector: bus client failed")

	// ErrRegisterNotSettable is returned when writing to a read-only register.
	ErrRegisterNotSettable = errors.New("connector: register is not settable")

	// ErrInvalidValue is returned when a value cannot be written to a register.
	ErrInvalidValue = errors.New("connector: invalid register value")

	// ErrInvalidPropertyIdentifier is returned when a stored property
	// identifier does not have the name_N form.
	ErrInvalidPropertyIdentifier = errors.New("connector: invalid property identifier")
)
