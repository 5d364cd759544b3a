package bus

import "github.com/google/uuid"

// Entity is a parsed packet received from a device.
type Entity interface {
	// Source returns the client the packet arrived on and the sender address.
	Source() (clientID uuid.UUID, address int)
}

// Header identifies the sender of a packet.
type Header struct {
	ClientID      uuid.UUID
	DeviceAddress int
}

// Source implements Entity.
func (h Header) Source() (uuid.UUID, int) {
	return h.ClientID, h.DeviceAddress
}

// DeviceStateEntity carries a device state from READ_STATE, WRITE_STATE,
// REPORT_STATE or PONG replies.
type DeviceStateEntity struct {
	Header
	Packet Packet
	State  ConnectionState
}

// RegisterValue is one decoded register value.
type RegisterValue struct {
	Address int
	Value   Value
}

// SingleRegisterEntity carries one register value from READ, WRITE or
// REPORT single register replies.
type SingleRegisterEntity struct {
	Header
	Packet       Packet
	RegisterType RegisterType
	Register     RegisterValue
}

// MultipleRegistersEntity carries consecutive register values from READ or
// WRITE multiple registers replies.
type MultipleRegistersEntity struct {
	Header
	Packet       Packet
	RegisterType RegisterType
	Registers    []RegisterValue
}

// WriteKeyEntity confirms that a pub/sub key was stored in a register.
type WriteKeyEntity struct {
	Header
	RegisterType    RegisterType
	RegisterAddress int
}

// BroadcastEntity carries a register value published under a pub/sub key.
type BroadcastEntity struct {
	Header
	Key      string
	DataType DataType
	Value    Value
}

// DeviceSearchEntity is a device's reply to a discovery broadcast.
type DeviceSearchEntity struct {
	Header
	MaxPacketLength int
	SerialNumber    string

	HardwareVersion      string
	HardwareModel        string
	HardwareManufacturer string
	FirmwareVersion      string
	FirmwareManufacturer string

	InputRegistersSize     int
	OutputRegistersSize    int
	AttributeRegistersSize int
	SettingRegistersSize   int

	PubSubPubSupport       bool
	PubSubSubSupport       bool
	PubSubMaxSubscriptions int
	PubSubMaxConditions    int
	PubSubMaxActions       int
}

// WriteAddressEntity confirms that a device accepted a new address.
type WriteAddressEntity struct {
	Header
	SerialNumber string
}

// RegisterStructureEntity describes one register during pairing.
// Name, Settable and Queryable are only carried by attribute and setting
// registers.
type RegisterStructureEntity struct {
	Header
	RegisterType    RegisterType
	RegisterAddress int
	DataType        DataType
	Settable        bool
	Queryable       bool
	Name            string
}

// PairingFinishedEntity reports the state a device entered after pairing.
type PairingFinishedEntity struct {
	Header
	State ConnectionState
}
