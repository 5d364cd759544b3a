package device

import (
	"encoding/json"
	"time"
)

// Type discriminators of the FB-BUS connector and device entities.
const (
	ConnectorType = "fb-bus"
	DeviceType    = "fb-bus"
)

// Connector configuration defaults.
const (
	DefaultAddress   = 254
	DefaultInterface = "/dev/ttyAMA0"
	DefaultBaudRate  = 38400
	DefaultProtocol  = ProtocolV1
)

// Protocol is the bus protocol version spoken by a connector.
type Protocol string

// Known protocol versions.
const (
	ProtocolV1 Protocol = "v1"
)

// AllProtocols returns every known protocol version.
func AllProtocols() []Protocol {
	return []Protocol{ProtocolV1}
}

// IsValid reports whether p is a known protocol version.
func (p Protocol) IsValid() bool {
	for _, known := range AllProtocols() {
		if p == known {
			return true
		}
	}
	return false
}

// Connector is a configured FB-BUS communication channel.
// This matches the connectors table in migrations/20261018_120000_initial_schema.up.sql.
//
// The bus configuration fields are optional. An unset field reads back as
// its default through the getter of the same name.
type Connector struct {
	// Identity
	ID   string `json:"id"`
	Type string `json:"type"`

	// Generic connector attributes
	Name    string  `json:"name"`
	Comment *string `json:"comment,omitempty"`
	Enabled bool    `json:"enabled"`

	// Bus configuration
	Address   *int      `json:"address,omitempty"`
	Interface *string   `json:"interface,omitempty"`
	BaudRate  *int      `json:"baud_rate,omitempty"`
	Protocol  *Protocol `json:"protocol,omitempty"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GetAddress returns the master address on the bus.
func (c *Connector) GetAddress() int {
	if c.Address == nil {
		return DefaultAddress
	}
	return *c.Address
}

// GetInterface returns the serial interface path.
func (c *Connector) GetInterface() string {
	if c.Interface == nil || *c.Interface == "" {
		return DefaultInterface
	}
	return *c.Interface
}

// GetBaudRate returns the serial baud rate.
func (c *Connector) GetBaudRate() int {
	if c.BaudRate == nil {
		return DefaultBaudRate
	}
	return *c.BaudRate
}

// GetProtocol returns the bus protocol version.
func (c *Connector) GetProtocol() Protocol {
	if c.Protocol == nil {
		return DefaultProtocol
	}
	return *c.Protocol
}

// DeepCopy creates an independent copy of the Connector.
func (c *Connector) DeepCopy() *Connector {
	if c == nil {
		return nil
	}
	cpy := *c
	cpy.Comment = copyPtr(c.Comment)
	cpy.Address = copyPtr(c.Address)
	cpy.Interface = copyPtr(c.Interface)
	cpy.BaudRate = copyPtr(c.BaudRate)
	cpy.Protocol = copyPtr(c.Protocol)
	return &cpy
}

// State is the host-side connection state of a device.
type State string

// Device states.
const (
	StateUnknown      State = "unknown"
	StateRunning      State = "running"
	StateStopped      State = "stopped"
	StateInit         State = "init"
	StateAlert        State = "alert"
	StateDisconnected State = "disconnected"
)

// Device is a managed endpoint on the bus.
// Identifier holds the device serial number.
type Device struct {
	// Identity
	ID          string `json:"id"`
	ConnectorID string `json:"connector_id"`
	Type        string `json:"type"`
	Identifier  string `json:"identifier"`
	Name        string `json:"name"`
	Enabled     bool   `json:"enabled"`

	// Bus addressing
	Address         int `json:"address"`
	MaxPacketLength int `json:"max_packet_length"`

	// Hardware and firmware information
	HardwareManufacturer string `json:"hardware_manufacturer"`
	HardwareModel        string `json:"hardware_model"`
	HardwareVersion      string `json:"hardware_version"`
	FirmwareManufacturer string `json:"firmware_manufacturer"`
	FirmwareVersion      string `json:"firmware_version"`

	// Current state
	State          State      `json:"state"`
	StateUpdatedAt *time.Time `json:"state_updated_at,omitempty"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeepCopy creates an independent copy of the Device.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}
	cpy := *d
	cpy.StateUpdatedAt = copyPtr(d.StateUpdatedAt)
	return &cpy
}

// RegisterKind classifies a device property by the register it maps to.
type RegisterKind string

// Register kinds.
const (
	RegisterInput     RegisterKind = "input"
	RegisterOutput    RegisterKind = "output"
	RegisterAttribute RegisterKind = "attribute"
	RegisterSetting   RegisterKind = "setting"
)

// IsValid reports whether k is a known register kind.
func (k RegisterKind) IsValid() bool {
	switch k {
	case RegisterInput, RegisterOutput, RegisterAttribute, RegisterSetting:
		return true
	}
	return false
}

// Property is one register of a device as seen by the host.
// Identifier has the form name_N where N is the register address plus one.
type Property struct {
	ID         string       `json:"id"`
	DeviceID   string       `json:"device_id"`
	Identifier string       `json:"identifier"`
	Name       *string      `json:"name,omitempty"`
	Register   RegisterKind `json:"register"`
	DataType   string       `json:"data_type"`
	Settable   bool         `json:"settable"`
	Queryable  bool         `json:"queryable"`

	// Values are stored in gateway representation.
	ActualValue   any `json:"actual_value"`
	ExpectedValue any `json:"expected_value"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeepCopy creates an independent copy of the Property. Values are scalars
// and are shared.
func (p *Property) DeepCopy() *Property {
	if p == nil {
		return nil
	}
	cpy := *p
	cpy.Name = copyPtr(p.Name)
	return &cpy
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// marshalValue encodes a property value for storage. Nil is stored as NULL.
func marshalValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func unmarshalValue(s *string) (any, error) {
	if s == nil {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal([]byte(*s), &v); err != nil {
		return nil, err
	}
	return v, nil
}
