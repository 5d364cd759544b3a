package bus

import "fmt"

// ProtocolVersion identifies the API version carried in byte 0 of every packet.
type ProtocolVersion byte

// Supported protocol versions.
const (
	ProtocolV1 ProtocolVersion = 0x01
)

// String returns the configuration name of the protocol version.
func (v ProtocolVersion) String() string {
	if v == ProtocolV1 {
		return "v1"
	}
	return "unknown"
}

// ParseProtocolVersion converts a configuration name into a protocol version.
func ParseProtocolVersion(s string) (ProtocolVersion, error) {
	if s == "v1" {
		return ProtocolV1, nil
	}
	return 0, fmt.Errorf("unknown protocol version %q", s)
}

// Packet is the packet identifier carried in byte 1.
type Packet byte

// Packet identifiers.
const (
	PacketPing      Packet = 0x01
	PacketPong      Packet = 0x02
	PacketException Packet = 0x03
	PacketDiscover  Packet = 0x04

	PacketReadSingleRegister     Packet = 0x21
	PacketReadMultipleRegisters  Packet = 0x22
	PacketWriteSingleRegister    Packet = 0x23
	PacketWriteMultipleRegisters Packet = 0x24
	PacketReportSingleRegister   Packet = 0x25

	PacketReadState   Packet = 0x31
	PacketWriteState  Packet = 0x32
	PacketReportState Packet = 0x33

	PacketPubSubReadRegisterKey        Packet = 0x41
	PacketPubSubWriteRegisterKey       Packet = 0x42
	PacketPubSubBroadcastRegisterValue Packet = 0x43
	PacketPubSubSubscribe              Packet = 0x44
	PacketPubSubUnsubscribe            Packet = 0x45
)

var packetNames = map[Packet]string{
	PacketPing:                         "FB_PACKET_PING",
	PacketPong:                         "FB_PACKET_PONG",
	PacketException:                    "FB_PACKET_EXCEPTION",
	PacketDiscover:                     "FB_PACKET_DISCOVER",
	PacketReadSingleRegister:           "FB_PACKET_READ_SINGLE_REGISTER",
	PacketReadMultipleRegisters:        "FB_PACKET_READ_MULTIPLE_REGISTERS",
	PacketWriteSingleRegister:          "FB_PACKET_WRITE_SINGLE_REGISTER",
	PacketWriteMultipleRegisters:       "FB_PACKET_WRITE_MULTIPLE_REGISTERS",
	PacketReportSingleRegister:         "FB_PACKET_REPORT_SINGLE_REGISTER",
	PacketReadState:                    "FB_PACKET_READ_STATE",
	PacketWriteState:                   "FB_PACKET_WRITE_STATE",
	PacketReportState:                  "FB_PACKET_REPORT_STATE",
	PacketPubSubReadRegisterKey:        "FB_PACKET_PUB_SUB_READ_REGISTER_KEY",
	PacketPubSubWriteRegisterKey:       "FB_PACKET_PUB_SUB_WRITE_REGISTER_KEY",
	PacketPubSubBroadcastRegisterValue: "FB_PACKET_PUB_SUB_BROADCAST_REGISTER_VALUE",
	PacketPubSubSubscribe:              "FB_PACKET_PUB_SUB_SUBSCRIBE",
	PacketPubSubUnsubscribe:            "FB_PACKET_PUB_SUB_UNSUBSCRIBE",
}

// String returns the packet name, or "UNKNOWN".
func (p Packet) String() string {
	if name, ok := packetNames[p]; ok {
		return name
	}
	return "UNKNOWN"
}

// IsValid reports whether p is a known packet identifier.
func (p Packet) IsValid() bool {
	_, ok := packetNames[p]
	return ok
}

// Packet content bytes.
const (
	Terminator byte = 0x00
	DataSpace  byte = 0x20
)

// ConnectionState is the device state as reported on the bus.
type ConnectionState byte

// Device states.
const (
	StateUnknown           ConnectionState = 0xFF
	StateRunning           ConnectionState = 0x01
	StateStopped           ConnectionState = 0x02
	StatePairing           ConnectionState = 0x03
	StateError             ConnectionState = 0x0A
	StateStoppedByOperator ConnectionState = 0x0B
)

// IsValid reports whether s is a known device state.
func (s ConnectionState) IsValid() bool {
	switch s {
	case StateUnknown, StateRunning, StateStopped, StatePairing, StateError, StateStoppedByOperator:
		return true
	}
	return false
}

// String returns the bus name of the state.
func (s ConnectionState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StatePairing:
		return "pairing"
	case StateError:
		return "error"
	case StateStoppedByOperator:
		return "stopped_by_operator"
	}
	return "unknown"
}

// Gateway returns the host-side name of the state.
func (s ConnectionState) Gateway() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StatePairing:
		return "init"
	case StateError:
		return "alert"
	default:
		return "unknown"
	}
}

// ConnectionStateFromGateway converts a host-side state into a device state.
// Only running and stopped can be requested from a device.
func ConnectionStateFromGateway(s string) (ConnectionState, bool) {
	switch s {
	case "running":
		return StateRunning, true
	case "stopped":
		return StateStopped, true
	}
	return 0, false
}

// DataType is the register data type as declared by the device.
type DataType byte

// Register data types.
const (
	DataTypeUnknown  DataType = 0xFF
	DataTypeUint8    DataType = 0x01
	DataTypeUint16   DataType = 0x02
	DataTypeUint32   DataType = 0x03
	DataTypeInt8     DataType = 0x04
	DataTypeInt16    DataType = 0x05
	DataTypeInt32    DataType = 0x06
	DataTypeFloat32  DataType = 0x07
	DataTypeBoolean  DataType = 0x08
	DataTypeTime     DataType = 0x09
	DataTypeDate     DataType = 0x0A
	DataTypeDatetime DataType = 0x0B
	DataTypeString   DataType = 0x0C
	DataTypeButton   DataType = 0x0D
	DataTypeSwitch   DataType = 0x0E
)

// IsValid reports whether d is a known data type.
func (d DataType) IsValid() bool {
	return d == DataTypeUnknown || (d >= DataTypeUint8 && d <= DataTypeSwitch)
}

// Size returns the number of value bytes the data type occupies on the bus.
func (d DataType) Size() int {
	switch d {
	case DataTypeUint8, DataTypeInt8:
		return 1
	case DataTypeUint16, DataTypeInt16, DataTypeBoolean:
		return 2
	case DataTypeUint32, DataTypeInt32, DataTypeFloat32:
		return 4
	}
	return 0
}

// IsValueSupported reports whether register values of this type can be
// exchanged through read, write and report packets.
func (d DataType) IsValueSupported() bool {
	switch d {
	case DataTypeUint8, DataTypeUint16, DataTypeUint32,
		DataTypeInt8, DataTypeInt16, DataTypeInt32,
		DataTypeFloat32, DataTypeBoolean,
		DataTypeTime, DataTypeDate, DataTypeDatetime, DataTypeString:
		return true
	}
	return false
}

var gatewayDataTypes = map[DataType]string{
	DataTypeInt8:    "char",
	DataTypeUint8:   "uchar",
	DataTypeInt16:   "short",
	DataTypeUint16:  "ushort",
	DataTypeInt32:   "int",
	DataTypeUint32:  "uint",
	DataTypeFloat32: "float",
	DataTypeBoolean: "boolean",
	DataTypeString:  "string",
	DataTypeButton:  "button",
	DataTypeSwitch:  "switch",
}

// Gateway returns the host-side data type name.
func (d DataType) Gateway() (string, error) {
	if name, ok := gatewayDataTypes[d]; ok {
		return name, nil
	}
	return "", fmt.Errorf("%w: 0x%02X", ErrUnsupportedDataType, byte(d))
}

// DataTypeFromGateway converts a host-side data type name into a data type.
func DataTypeFromGateway(name string) (DataType, bool) {
	for dt, n := range gatewayDataTypes {
		if n == name {
			return dt, true
		}
	}
	return DataTypeUnknown, false
}

// String returns a readable name for logging.
func (d DataType) String() string {
	if name, ok := gatewayDataTypes[d]; ok {
		return name
	}
	switch d {
	case DataTypeTime:
		return "time"
	case DataTypeDate:
		return "date"
	case DataTypeDatetime:
		return "datetime"
	}
	return "unknown"
}

// RegisterType is the kind of register slot on a device.
type RegisterType byte

// Register types.
const (
	RegisterTypeInput     RegisterType = 0x01
	RegisterTypeOutput    RegisterType = 0x02
	RegisterTypeAttribute RegisterType = 0x03
	RegisterTypeSetting   RegisterType = 0x04
)

// RegisterTypes lists every register type in bus order.
var RegisterTypes = []RegisterType{
	RegisterTypeInput,
	RegisterTypeOutput,
	RegisterTypeAttribute,
	RegisterTypeSetting,
}

// IsValid reports whether t is a known register type.
func (t RegisterType) IsValid() bool {
	return t >= RegisterTypeInput && t <= RegisterTypeSetting
}

// String returns the property kind name of the register type.
func (t RegisterType) String() string {
	switch t {
	case RegisterTypeInput:
		return "input"
	case RegisterTypeOutput:
		return "output"
	case RegisterTypeAttribute:
		return "attribute"
	case RegisterTypeSetting:
		return "setting"
	}
	return "unknown"
}

// ParseRegisterType converts a property kind name into a register type.
func ParseRegisterType(s string) (RegisterType, bool) {
	for _, t := range RegisterTypes {
		if t.String() == s {
			return t, true
		}
	}
	return 0, false
}

// PairingCommand is the sub-command carried in byte 2 of a DISCOVER packet.
type PairingCommand byte

// Pairing commands and their responses.
const (
	PairingCmdSearch                   PairingCommand = 0x01
	PairingCmdWriteAddress             PairingCommand = 0x03
	PairingCmdProvideRegisterStructure PairingCommand = 0x05
	PairingCmdPairingFinished          PairingCommand = 0x07

	PairingRespSearch                   PairingCommand = 0x51
	PairingRespWriteAddress             PairingCommand = 0x53
	PairingRespProvideRegisterStructure PairingCommand = 0x55
	PairingRespPairingFinished          PairingCommand = 0x57
)

// ButtonPayload is the value of a BUTTON register.
type ButtonPayload byte

// Button events.
const (
	ButtonNone          ButtonPayload = 0
	ButtonPress         ButtonPayload = 1
	ButtonRelease       ButtonPayload = 2
	ButtonClick         ButtonPayload = 3
	ButtonDoubleClick   ButtonPayload = 4
	ButtonTripleClick   ButtonPayload = 5
	ButtonLongClick     ButtonPayload = 6
	ButtonLongLongClick ButtonPayload = 7
)

var buttonGateway = map[ButtonPayload]string{
	ButtonPress:         "btn_pressed",
	ButtonRelease:       "btn_released",
	ButtonClick:         "btn_clicked",
	ButtonDoubleClick:   "btn_double_clicked",
	ButtonTripleClick:   "btn_triple_clicked",
	ButtonLongClick:     "btn_long_clicked",
	ButtonLongLongClick: "btn_extra_long_clicked",
}

// IsValid reports whether b is a known button event.
func (b ButtonPayload) IsValid() bool {
	return b <= ButtonLongLongClick
}

// Gateway returns the host-side event name. ButtonNone has no name.
func (b ButtonPayload) Gateway() string {
	return buttonGateway[b]
}

// SwitchPayload is the value of a SWITCH register.
type SwitchPayload byte

// Switch events.
const (
	SwitchOff    SwitchPayload = 0
	SwitchOn     SwitchPayload = 1
	SwitchToggle SwitchPayload = 2
)

var switchGateway = map[SwitchPayload]string{
	SwitchOff:    "sw_off",
	SwitchOn:     "sw_on",
	SwitchToggle: "sw_toggle",
}

// IsValid reports whether s is a known switch event.
func (s SwitchPayload) IsValid() bool {
	return s <= SwitchToggle
}

// Gateway returns the host-side event name.
func (s SwitchPayload) Gateway() string {
	return switchGateway[s]
}

// KeyState tracks whether a register's pub/sub key is written to the device.
type KeyState byte

// Pub/sub key states.
const (
	KeyStateNo      KeyState = 0
	KeyStateYes     KeyState = 1
	KeyStateWaiting KeyState = 2
)

// ClientType names a transport implementation.
type ClientType string

// Client types.
const (
	ClientTypePJON   ClientType = "pjon"
	ClientTypeSerial ClientType = "serial"
)
