// Package pjon implements the PJON framing used by FastyBird BUS devices
// over a UART, and a transport that queues outgoing frames and delivers
// received payloads.
//
// Frame layout before escaping:
//
//	START | receiver | header | length | header crc | sender | payload ... | crc | END
//
// The length byte counts every byte between START and END, unescaped. The
// sender is present when the header carries HeaderTxInfo. Frames up to 15
// bytes end with a CRC8, longer frames set HeaderCRC32 and end with a big
// endian CRC32.
package pjon
