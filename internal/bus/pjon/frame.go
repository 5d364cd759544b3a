package pjon

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Framing bytes.
const (
	FrameStart byte = 0x95
	FrameEnd   byte = 0xEA
	FrameEsc   byte = 0xBB
)

// Header bits.
const (
	// HeaderTxInfo marks frames that carry the sender id.
	HeaderTxInfo byte = 0x02

	// HeaderAckRequest asks the receiver for a synchronous acknowledgement.
	HeaderAckRequest byte = 0x04

	// HeaderCRC32 marks frames closed by a 4 byte CRC32 instead of CRC8.
	HeaderCRC32 byte = 0x20
)

// supportedHeader lists the header bits a frame may carry. Shared mode,
// extended length, ports, packet ids and MAC addresses are not used on the
// bus.
const supportedHeader = HeaderTxInfo | HeaderAckRequest | HeaderCRC32

// BroadcastID is the receiver id addressing every device on the bus.
const BroadcastID byte = 0

// headerLength is receiver, header, length and header crc.
const headerLength = 4

// frameOverhead is the header, sender and a CRC8.
const frameOverhead = headerLength + 2

// crc8Limit is the longest frame that may be closed by a CRC8. Longer
// frames carry a CRC32.
const crc8Limit = 15

// maxFrameLength is the largest body the length byte can describe.
const maxFrameLength = 255

// Framing errors.
var (
	// ErrFrameTooLong is returned when a payload does not fit in one frame.
	ErrFrameTooLong = errors.New("pjon: frame too long")

	// ErrFrameCorrupted is returned when a frame fails length or CRC checks.
	ErrFrameCorrupted = errors.New("pjon: frame corrupted")

	// ErrFrameUnsupported is returned for frames using header features the
	// bus does not use.
	ErrFrameUnsupported = errors.New("pjon: unsupported frame header")
)

// Frame is a decoded PJON frame.
type Frame struct {
	Receiver byte
	Sender   byte
	Payload  []byte
}

// Encode builds an escaped frame carrying payload from sender to receiver.
// Frames longer than 15 bytes are closed by a CRC32.
func Encode(receiver, sender byte, payload []byte) ([]byte, error) {
	header := HeaderTxInfo
	length := frameOverhead + len(payload)
	if length > crc8Limit {
		header |= HeaderCRC32
		length += 3
	}
	if length > maxFrameLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLong, length)
	}

	body := make([]byte, 0, length)
	body = append(body, receiver, header, byte(length))
	body = append(body, CRC8(body))
	body = append(body, sender)
	body = append(body, payload...)
	if header&HeaderCRC32 != 0 {
		body = binary.BigEndian.AppendUint32(body, CRC32(body))
	} else {
		body = append(body, CRC8(body))
	}

	out := make([]byte, 0, length+8)
	out = append(out, FrameStart)
	for _, b := range body {
		if b == FrameStart || b == FrameEnd || b == FrameEsc {
			out = append(out, FrameEsc, b^FrameEsc)
			continue
		}
		out = append(out, b)
	}
	return append(out, FrameEnd), nil
}

// decodeBody validates an unescaped frame body.
func decodeBody(body []byte) (Frame, error) {
	if len(body) < headerLength {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrFrameCorrupted, len(body))
	}
	if int(body[2]) != len(body) {
		return Frame{}, fmt.Errorf("%w: length %d, received %d", ErrFrameCorrupted, body[2], len(body))
	}
	if CRC8(body[0:3]) != body[3] {
		return Frame{}, fmt.Errorf("%w: header crc", ErrFrameCorrupted)
	}

	header := body[1]
	if header&^supportedHeader != 0 {
		return Frame{}, fmt.Errorf("%w: 0x%02X", ErrFrameUnsupported, header)
	}

	crcLength := 1
	if header&HeaderCRC32 != 0 {
		crcLength = 4
	} else if len(body) > crc8Limit {
		return Frame{}, fmt.Errorf("%w: crc8 on a %d byte frame", ErrFrameCorrupted, len(body))
	}

	start := headerLength
	var sender byte
	if header&HeaderTxInfo != 0 {
		start++
	}
	if len(body) < start+crcLength {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrFrameCorrupted, len(body))
	}
	if header&HeaderTxInfo != 0 {
		sender = body[headerLength]
	}

	end := len(body) - crcLength
	if crcLength == 4 {
		if CRC32(body[:end]) != binary.BigEndian.Uint32(body[end:]) {
			return Frame{}, fmt.Errorf("%w: crc32", ErrFrameCorrupted)
		}
	} else if CRC8(body[:end]) != body[end] {
		return Frame{}, fmt.Errorf("%w: crc", ErrFrameCorrupted)
	}

	payload := make([]byte, end-start)
	copy(payload, body[start:end])

	return Frame{Receiver: body[0], Sender: sender, Payload: payload}, nil
}

// Decoder reassembles frames from a byte stream.
type Decoder struct {
	buf     []byte
	inFrame bool
	escaped bool
}

// Feed consumes one byte from the stream. It returns a frame and nil once
// an END byte completes a frame, or a non-nil error when the completed
// frame is corrupted. ok is false while a frame is still incomplete.
func (d *Decoder) Feed(b byte) (frame Frame, ok bool, err error) {
	switch {
	case b == FrameStart:
		d.buf = d.buf[:0]
		d.inFrame = true
		d.escaped = false
		return Frame{}, false, nil

	case !d.inFrame:
		return Frame{}, false, nil

	case b == FrameEnd:
		d.inFrame = false
		frame, err := decodeBody(d.buf)
		d.buf = d.buf[:0]
		if err != nil {
			return Frame{}, true, err
		}
		return frame, true, nil

	case b == FrameEsc:
		d.escaped = true
		return Frame{}, false, nil
	}

	if d.escaped {
		b ^= FrameEsc
		d.escaped = false
	}
	if len(d.buf) >= maxFrameLength {
		d.inFrame = false
		d.buf = d.buf[:0]
		return Frame{}, true, fmt.Errorf("%w: missing end byte", ErrFrameCorrupted)
	}
	d.buf = append(d.buf, b)
	return Frame{}, false, nil
}
