// Package bus implements API v1 of the FastyBird BUS protocol.
//
// The package is transport agnostic. It converts between raw packet
// payloads and typed entities, and between device register values and
// their byte and gateway representations.
//
// # Packet layout
//
// Every payload starts with the protocol version and the packet identifier:
//
//	┌─────────┬─────────┬──────────────────────────────┐
//	│ version │ packet  │ packet specific content ...  │
//	│  0x01   │  0x21   │                              │
//	└─────────┴─────────┴──────────────────────────────┘
//
// Register addresses are encoded big-endian, register values little-endian
// in four bytes.
//
// # Usage
//
//	payload := bus.BuildReadSingleRegister(bus.RegisterTypeInput, 3)
//	...
//	entity, err := parser.Parse(payload, senderAddress, clientID)
//	if errors.Is(err, bus.ErrInvalidPacket) {
//	    // log and drop
//	}
package bus
