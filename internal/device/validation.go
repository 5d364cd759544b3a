package device

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Validation constants.
const (
	maxNameLength       = 100
	maxIdentifierLength = 50

	// Bus addresses 1-253 belong to devices, 254 is the default master
	// address and 255 marks an unassigned device.
	minBusAddress = 1
	maxBusAddress = 254
)

var propertyIdentifierRegex = regexp.MustCompile(`^[a-zA-Z_]+_[0-9]+$`)

// ValidateConnector checks that a connector is valid for persistence.
func ValidateConnector(c *Connector) error {
	if c == nil {
		return fmt.Errorf("%w: connector is nil", ErrInvalidName)
	}
	if err := ValidateName(c.Name); err != nil {
		return err
	}
	if c.Address != nil && (*c.Address < minBusAddress || *c.Address > maxBusAddress) {
		return fmt.Errorf("%w: %d (must be %d-%d)", ErrInvalidAddress, *c.Address, minBusAddress, maxBusAddress)
	}
	if c.Interface != nil && strings.TrimSpace(*c.Interface) == "" {
		return ErrInvalidInterface
	}
	if c.BaudRate != nil && *c.BaudRate <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidBaudRate, *c.BaudRate)
	}
	if c.Protocol != nil && !c.Protocol.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidProtocol, *c.Protocol)
	}
	return nil
}

// ValidateDevice checks that a device is valid for persistence.
func ValidateDevice(d *Device) error {
	if d == nil {
		return fmt.Errorf("%w: device is nil", ErrInvalidIdentifier)
	}
	if d.ConnectorID == "" {
		return fmt.Errorf("%w: connector id is required", ErrInvalidIdentifier)
	}
	identifier := strings.TrimSpace(d.Identifier)
	if identifier == "" || len(identifier) > maxIdentifierLength {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, d.Identifier)
	}
	return ValidateName(d.Name)
}

// ValidateProperty checks that a property is valid for persistence.
func ValidateProperty(p *Property) error {
	if p == nil {
		return fmt.Errorf("%w: property is nil", ErrInvalidIdentifier)
	}
	if p.DeviceID == "" {
		return fmt.Errorf("%w: device id is required", ErrInvalidIdentifier)
	}
	if !propertyIdentifierRegex.MatchString(p.Identifier) {
		return fmt.Errorf("%w: %q (expected name_N)", ErrInvalidIdentifier, p.Identifier)
	}
	if !p.Register.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidRegister, p.Register)
	}
	return nil
}

// ValidateName checks that a name is non-empty and within length limits.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// PropertyIdentifier builds the identifier of the property for a register
// of kind at address.
func PropertyIdentifier(kind RegisterKind, address int) string {
	return fmt.Sprintf("%s_%d", kind, address+1)
}

// GenerateID generates a new unique identifier.
func GenerateID() string {
	return uuid.New().String()
}
