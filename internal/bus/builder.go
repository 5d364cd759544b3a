package bus

// Builders for outgoing API v1 payloads. Every payload starts with the
// protocol version followed by the packet identifier.

// BuildPing builds a PING request.
func BuildPing() []byte {
	return []byte{byte(ProtocolV1), byte(PacketPing)}
}

// BuildDiscovery builds a DISCOVER search broadcast.
func BuildDiscovery() []byte {
	return []byte{byte(ProtocolV1), byte(PacketDiscover)}
}

// BuildReadSingleRegister builds a request for the value of one register.
func BuildReadSingleRegister(registerType RegisterType, address int) []byte {
	return []byte{
		byte(ProtocolV1),
		byte(PacketReadSingleRegister),
		byte(registerType),
		byte(address >> 8),
		byte(address & 0xFF),
	}
}

// BuildReadMultipleRegisters builds a request for count consecutive
// registers starting at start.
func BuildReadMultipleRegisters(registerType RegisterType, start, count int) []byte {
	return []byte{
		byte(ProtocolV1),
		byte(PacketReadMultipleRegisters),
		byte(registerType),
		byte(start >> 8),
		byte(start & 0xFF),
		byte(count >> 8),
		byte(count & 0xFF),
	}
}

// BuildReadRegisterStructure builds a pairing request for the structure of
// one register. A non-empty serialNumber is appended so that a device
// without an assigned address can recognise a broadcast meant for it.
func BuildReadRegisterStructure(registerType RegisterType, address int, serialNumber string) []byte {
	out := []byte{
		byte(ProtocolV1),
		byte(PacketDiscover),
		byte(PairingCmdProvideRegisterStructure),
		byte(registerType),
		byte(address >> 8),
		byte(address & 0xFF),
	}
	return appendSerialNumber(out, serialNumber)
}

// BuildWriteSingleRegister builds a write request for one register. It
// returns nil when value cannot be encoded for dataType.
func BuildWriteSingleRegister(
	registerType RegisterType,
	address int,
	dataType DataType,
	value Value,
	serialNumber string,
) []byte {
	data := ValueToBytes(dataType, value)
	if data == nil {
		return nil
	}

	out := []byte{
		byte(ProtocolV1),
		byte(PacketWriteSingleRegister),
		byte(registerType),
		byte(address >> 8),
		byte(address & 0xFF),
	}
	out = append(out, data...)
	return appendSerialNumber(out, serialNumber)
}

// BuildWriteRegisterKey builds a pub/sub request storing key in a register.
func BuildWriteRegisterKey(registerType RegisterType, address int, key string) []byte {
	out := []byte{
		byte(ProtocolV1),
		byte(PacketPubSubWriteRegisterKey),
		byte(registerType),
		byte(address >> 8),
		byte(address & 0xFF),
		byte(len(key)),
	}
	return append(out, key...)
}

// BuildReadState builds a device state request.
func BuildReadState() []byte {
	return []byte{byte(ProtocolV1), byte(PacketReadState)}
}

// BuildWriteState builds a device state change request.
func BuildWriteState(state ConnectionState) []byte {
	return []byte{byte(ProtocolV1), byte(PacketWriteState), byte(state)}
}

func appendSerialNumber(out []byte, serialNumber string) []byte {
	if serialNumber == "" {
		return out
	}
	out = append(out, byte(len(serialNumber)))
	return append(out, serialNumber...)
}
