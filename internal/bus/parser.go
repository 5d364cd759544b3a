package bus

import (
	"fmt"

	"github.com/google/uuid"
)

// RegisterLookup resolves the registry data the parser needs to decode
// register values.
type RegisterLookup interface {
	// DeviceIDByAddress returns the id of the device at address on clientID.
	DeviceIDByAddress(clientID uuid.UUID, address int) (uuid.UUID, bool)

	// RegisterDataType returns the data type of a device register.
	RegisterDataType(deviceID uuid.UUID, registerType RegisterType, address int) (DataType, bool)
}

// Validate reports whether payload carries protocol V1 and a known packet.
func Validate(payload []byte) bool {
	return len(payload) >= 2 &&
		ProtocolVersion(payload[0]) == ProtocolV1 &&
		Packet(payload[1]).IsValid()
}

// Parser decodes API v1 payloads into entities.
type Parser struct {
	lookup RegisterLookup
}

// NewParser creates a Parser resolving registers through lookup.
func NewParser(lookup RegisterLookup) *Parser {
	return &Parser{lookup: lookup}
}

// Parse decodes a payload received from address on clientID.
//
// Parameters:
//   - payload: the raw packet content, starting with the protocol version
//   - address: the sender address, or a negative value when unknown
//   - clientID: the client the payload arrived on
//
// Returns:
//   - Entity: one of the *Entity types in this package
//   - error: wrapping ErrInvalidPacket when the payload cannot be decoded
func (p *Parser) Parse(payload []byte, address int, clientID uuid.UUID) (Entity, error) {
	if !Validate(payload) {
		return nil, fmt.Errorf("%w: unsupported protocol or packet", ErrInvalidPacket)
	}
	if address < 0 {
		return nil, fmt.Errorf("%w: sender address is required", ErrInvalidPacket)
	}

	h := Header{ClientID: clientID, DeviceAddress: address}
	packet := Packet(payload[1])

	switch packet {
	case PacketReadSingleRegister, PacketWriteSingleRegister, PacketReportSingleRegister:
		return p.parseSingleRegister(h, packet, payload)

	case PacketReadMultipleRegisters, PacketWriteMultipleRegisters:
		return p.parseMultipleRegisters(h, packet, payload)

	case PacketReadState, PacketWriteState, PacketReportState:
		return parseDeviceState(h, packet, payload)

	case PacketPubSubWriteRegisterKey:
		return parseWriteKey(h, payload)

	case PacketPubSubBroadcastRegisterValue:
		return parseBroadcast(h, payload)

	case PacketPong:
		if len(payload) != 2 {
			return nil, lengthError(2, len(payload))
		}
		return &DeviceStateEntity{Header: h, Packet: PacketPong, State: StateUnknown}, nil

	case PacketDiscover:
		return parsePairing(h, payload)
	}

	return nil, fmt.Errorf("%w: packet %s is not handled", ErrInvalidPacket, packet)
}

// parseSingleRegister decodes
//
//	0 version, 1 packet, 2 register type, 3-4 register address, 5-8 data
func (p *Parser) parseSingleRegister(h Header, packet Packet, payload []byte) (Entity, error) {
	if len(payload) != 9 {
		return nil, lengthError(9, len(payload))
	}

	deviceID, ok := p.lookup.DeviceIDByAddress(h.ClientID, h.DeviceAddress)
	if !ok {
		return nil, fmt.Errorf("%w: %w at address %d", ErrInvalidPacket, ErrUnknownDevice, h.DeviceAddress)
	}

	registerType := RegisterType(payload[2])
	if !registerType.IsValid() {
		return nil, fmt.Errorf("%w: unknown register type %d", ErrInvalidPacket, payload[2])
	}
	registerAddress := int(payload[3])<<8 | int(payload[4])

	value, err := p.registerValue(deviceID, registerType, registerAddress, payload[5:])
	if err != nil {
		return nil, err
	}

	return &SingleRegisterEntity{
		Header:       h,
		Packet:       packet,
		RegisterType: registerType,
		Register:     RegisterValue{Address: registerAddress, Value: value},
	}, nil
}

// parseMultipleRegisters decodes
//
//	0 version, 1 packet, 2 register type, 3-4 start address, 5 count, 6-n data
func (p *Parser) parseMultipleRegisters(h Header, packet Packet, payload []byte) (Entity, error) {
	if len(payload) < 10 {
		return nil, minLengthError(10, len(payload))
	}

	deviceID, ok := p.lookup.DeviceIDByAddress(h.ClientID, h.DeviceAddress)
	if !ok {
		return nil, fmt.Errorf("%w: %w at address %d", ErrInvalidPacket, ErrUnknownDevice, h.DeviceAddress)
	}

	registerType := RegisterType(payload[2])
	if !registerType.IsValid() {
		return nil, fmt.Errorf("%w: unknown register type %d", ErrInvalidPacket, payload[2])
	}
	registerAddress := int(payload[3])<<8 | int(payload[4])
	count := int(payload[5])

	values := make([]RegisterValue, 0, count)
	for pos := 6; pos+3 < len(payload) && len(values) < count; pos += 4 {
		value, err := p.registerValue(deviceID, registerType, registerAddress, payload[pos:pos+4])
		if err != nil {
			return nil, err
		}
		values = append(values, RegisterValue{Address: registerAddress, Value: value})
		registerAddress++
	}

	return &MultipleRegistersEntity{
		Header:       h,
		Packet:       packet,
		RegisterType: registerType,
		Registers:    values,
	}, nil
}

func (p *Parser) registerValue(deviceID uuid.UUID, registerType RegisterType, address int, data []byte) (Value, error) {
	dataType, ok := p.lookup.RegisterDataType(deviceID, registerType, address)
	if !ok {
		return nil, fmt.Errorf("%w: %w %s:%d", ErrInvalidPacket, ErrUnknownRegister, registerType, address)
	}
	if !dataType.IsValueSupported() {
		return nil, fmt.Errorf("%w: %w %s", ErrInvalidPacket, ErrUnsupportedDataType, dataType)
	}
	return ValueFromBytes(dataType, data), nil
}

// parseDeviceState decodes
//
//	0 version, 1 packet, 2 device state
func parseDeviceState(h Header, packet Packet, payload []byte) (Entity, error) {
	if len(payload) != 3 {
		return nil, lengthError(3, len(payload))
	}

	state := ConnectionState(payload[2])
	if !state.IsValid() {
		return nil, fmt.Errorf("%w: unknown device state %d", ErrInvalidPacket, payload[2])
	}

	return &DeviceStateEntity{Header: h, Packet: packet, State: state}, nil
}

// parseWriteKey decodes
//
//	0 version, 1 packet, 2 register type, 3-4 register address
func parseWriteKey(h Header, payload []byte) (Entity, error) {
	if len(payload) != 5 {
		return nil, lengthError(5, len(payload))
	}

	registerType := RegisterType(payload[2])
	if !registerType.IsValid() {
		return nil, fmt.Errorf("%w: unknown register type %d", ErrInvalidPacket, payload[2])
	}

	return &WriteKeyEntity{
		Header:          h,
		RegisterType:    registerType,
		RegisterAddress: int(payload[3])<<8 | int(payload[4]),
	}, nil
}

// parseBroadcast decodes
//
//	0 version, 1 packet, 2 key length, 3-n key, n+1 data type, n+2-m value
func parseBroadcast(h Header, payload []byte) (Entity, error) {
	if len(payload) < 6 {
		return nil, minLengthError(6, len(payload))
	}

	keyLength := int(payload[2])
	if keyLength+4 > len(payload) {
		return nil, fmt.Errorf("%w: key length %d exceeds payload", ErrInvalidPacket, keyLength)
	}
	key := ExtractText(payload, 3, keyLength)

	dataType := DataType(payload[keyLength+3])
	if !dataType.IsValid() {
		return nil, fmt.Errorf("%w: unknown data type %d", ErrInvalidPacket, payload[keyLength+3])
	}
	if !dataType.IsValueSupported() {
		return nil, fmt.Errorf("%w: %w %s", ErrInvalidPacket, ErrUnsupportedDataType, dataType)
	}

	return &BroadcastEntity{
		Header:   h,
		Key:      key,
		DataType: dataType,
		Value:    ValueFromBytes(dataType, payload[keyLength+4:]),
	}, nil
}

func parsePairing(h Header, payload []byte) (Entity, error) {
	if len(payload) < 3 {
		return nil, minLengthError(3, len(payload))
	}

	switch PairingCommand(payload[2]) {
	case PairingRespSearch:
		return parseSearchReply(h, payload)
	case PairingRespWriteAddress:
		return parseWriteAddressReply(h, payload)
	case PairingRespProvideRegisterStructure:
		return parseRegisterStructureReply(h, payload)
	case PairingRespPairingFinished:
		return parsePairingFinishedReply(h, payload)
	}

	return nil, fmt.Errorf("%w: unknown pairing response 0x%02X", ErrInvalidPacket, payload[2])
}

// parseSearchReply decodes
//
//	0 version, 1 packet, 2 response, 3 current address, 4 max packet length,
//	serial number, hardware version, model and manufacturer, firmware
//	version and manufacturer (each length prefixed), input, output,
//	attribute and setting register counts, pub support (2 bytes), sub
//	support (2 bytes), max subscriptions, max conditions, max actions
func parseSearchReply(h Header, payload []byte) (Entity, error) {
	if len(payload) < 22 {
		return nil, minLengthError(22, len(payload))
	}

	if int(payload[3]) != h.DeviceAddress {
		return nil, fmt.Errorf("%w: address mismatch %d vs %d", ErrInvalidPacket, h.DeviceAddress, payload[3])
	}

	r := &reader{buf: payload, pos: 4}
	e := &DeviceSearchEntity{Header: h}

	e.MaxPacketLength = r.next()
	e.SerialNumber = r.text()
	e.HardwareVersion = r.text()
	e.HardwareModel = r.text()
	e.HardwareManufacturer = r.text()
	e.FirmwareVersion = r.text()
	e.FirmwareManufacturer = r.text()
	e.InputRegistersSize = r.next()
	e.OutputRegistersSize = r.next()
	e.AttributeRegistersSize = r.next()
	e.SettingRegistersSize = r.next()
	e.PubSubPubSupport = r.flag()
	e.PubSubSubSupport = r.flag()
	e.PubSubMaxSubscriptions = r.next()
	e.PubSubMaxConditions = r.next()
	e.PubSubMaxActions = r.next()

	if r.overrun {
		return nil, fmt.Errorf("%w: truncated search reply", ErrInvalidPacket)
	}
	return e, nil
}

// parseWriteAddressReply decodes
//
//	0 version, 1 packet, 2 response, 3 serial number length, 4-n serial number
func parseWriteAddressReply(h Header, payload []byte) (Entity, error) {
	if len(payload) < 5 {
		return nil, minLengthError(5, len(payload))
	}

	r := &reader{buf: payload, pos: 3}
	sn := r.text()
	if r.overrun {
		return nil, fmt.Errorf("%w: truncated write address reply", ErrInvalidPacket)
	}

	return &WriteAddressEntity{Header: h, SerialNumber: sn}, nil
}

// parseRegisterStructureReply decodes
//
//	0 version, 1 packet, 2 response, 3 register type, 4-5 register address,
//	6 data type, then for attributes: 7-8 settable, 9-10 queryable, name;
//	for settings: name
func parseRegisterStructureReply(h Header, payload []byte) (Entity, error) {
	if len(payload) < 7 {
		return nil, minLengthError(7, len(payload))
	}

	registerType := RegisterType(payload[3])
	if !registerType.IsValid() {
		return nil, fmt.Errorf("%w: unknown register type %d", ErrInvalidPacket, payload[3])
	}
	dataType := DataType(payload[6])
	if !dataType.IsValid() {
		return nil, fmt.Errorf("%w: unknown data type %d", ErrInvalidPacket, payload[6])
	}

	e := &RegisterStructureEntity{
		Header:          h,
		RegisterType:    registerType,
		RegisterAddress: int(payload[4])<<8 | int(payload[5]),
		DataType:        dataType,
	}

	r := &reader{buf: payload, pos: 7}
	switch registerType {
	case RegisterTypeAttribute:
		e.Settable = r.flag()
		e.Queryable = r.flag()
		e.Name = r.text()
	case RegisterTypeSetting:
		e.Name = r.text()
	}
	if r.overrun {
		return nil, fmt.Errorf("%w: truncated register structure reply", ErrInvalidPacket)
	}

	return e, nil
}

// parsePairingFinishedReply decodes
//
//	0 version, 1 packet, 2 response, 3 device state
func parsePairingFinishedReply(h Header, payload []byte) (Entity, error) {
	if len(payload) != 4 {
		return nil, lengthError(4, len(payload))
	}

	state := ConnectionState(payload[3])
	if !state.IsValid() {
		return nil, fmt.Errorf("%w: unknown device state %d", ErrInvalidPacket, payload[3])
	}

	return &PairingFinishedEntity{Header: h, State: state}, nil
}

func lengthError(expected, actual int) error {
	return fmt.Errorf("%w: expected length %d, got %d", ErrInvalidPacket, expected, actual)
}

func minLengthError(expected, actual int) error {
	return fmt.Errorf("%w: expected length at least %d, got %d", ErrInvalidPacket, expected, actual)
}

// reader walks a payload and records reads past its end instead of panicking.
type reader struct {
	buf     []byte
	pos     int
	overrun bool
}

func (r *reader) next() int {
	if r.pos >= len(r.buf) {
		r.overrun = true
		return 0
	}
	b := r.buf[r.pos]
	r.pos++
	return int(b)
}

// flag reads a two byte big-endian boolean encoded as 0xFF00.
func (r *reader) flag() bool {
	hi := r.next()
	lo := r.next()
	return hi<<8|lo == 0xFF00
}

// text reads a length prefixed string.
func (r *reader) text() string {
	n := r.next()
	if r.pos+n > len(r.buf) {
		r.overrun = true
		return ""
	}
	s := ExtractText(r.buf, r.pos, n)
	r.pos += n
	return s
}
