package pjon

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCRC8(t *testing.T) {
	if got := CRC8(nil); got != 0 {
		t.Errorf("CRC8(nil) = 0x%02X, want 0", got)
	}

	data := []byte{0x05, 0x02, 0x09}
	a := CRC8(data)
	data[1] = 0x03
	if b := CRC8(data); a == b {
		t.Errorf("CRC8 did not change for modified data: 0x%02X", a)
	}
}

func TestCRC32(t *testing.T) {
	if got := CRC32([]byte("123456789")); got != 0xCBF43926 {
		t.Errorf("CRC32(123456789) = 0x%08X, want 0xCBF43926", got)
	}
}

func TestEncodeVectors(t *testing.T) {
	tests := []struct {
		name     string
		receiver byte
		sender   byte
		payload  []byte
		want     []byte
	}{
		{
			name:     "short frame closed by crc8",
			receiver: 5,
			sender:   254,
			payload:  []byte{0x01, 0x31},
			want:     []byte{0x05, 0x02, 0x08, 0xB2, 0xFE, 0x01, 0x31, 0x5D},
		},
		{
			name:     "long frame closed by crc32",
			receiver: 254,
			sender:   5,
			payload:  append([]byte{0x01, 0x51}, "SN-12345"...),
			want: []byte{
				0xFE, 0x22, 0x13, 0x72, 0x05,
				0x01, 0x51, 0x53, 0x4E, 0x2D, 0x31, 0x32, 0x33, 0x34, 0x35,
				0x1D, 0x09, 0xEB, 0x2E,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := Encode(tt.receiver, tt.sender, tt.payload)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			want := append(append([]byte{FrameStart}, tt.want...), FrameEnd)
			if diff := cmp.Diff(want, raw); diff != "" {
				t.Errorf("Encode() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// closeFrame appends the header crc position and the trailing crc8 to a
// hand-built body and wraps it in start and end bytes.
func closeFrame(body []byte) []byte {
	body[3] = CRC8(body[0:3])
	body = append(body, CRC8(body))
	return append(append([]byte{FrameStart}, body...), FrameEnd)
}

func feedAll(dec *Decoder, raw []byte) (Frame, error) {
	var frame Frame
	var err error
	for _, b := range raw {
		if f, ok, ferr := dec.Feed(b); ok {
			frame, err = f, ferr
		}
	}
	return frame, err
}

func TestDecodeHeaderVariants(t *testing.T) {
	long := make([]byte, 20)
	long[0], long[1], long[2] = 254, HeaderTxInfo, 21

	tests := []struct {
		name    string
		raw     []byte
		want    Frame
		wantErr error
	}{
		{
			name: "without sender",
			raw:  closeFrame([]byte{5, 0x00, 7, 0, 0x01, 0x31}),
			want: Frame{Receiver: 5, Payload: []byte{0x01, 0x31}},
		},
		{
			name: "ack request",
			raw:  closeFrame([]byte{5, HeaderTxInfo | HeaderAckRequest, 8, 0, 9, 0x01, 0x31}),
			want: Frame{Receiver: 5, Sender: 9, Payload: []byte{0x01, 0x31}},
		},
		{
			name:    "long frame closed by crc8",
			raw:     closeFrame(long),
			wantErr: ErrFrameCorrupted,
		},
		{
			name:    "extended length",
			raw:     closeFrame([]byte{5, HeaderTxInfo | 0x40, 8, 0, 9, 0x01, 0x31}),
			wantErr: ErrFrameUnsupported,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var dec Decoder
			got, err := feedAll(&dec, tt.raw)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Feed() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Feed() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("decoded frame mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeLongFrame(t *testing.T) {
	payload := []byte{0x01, 0x51}
	payload = append(payload, bytes.Repeat([]byte{FrameStart, FrameEnd, FrameEsc, 0x20}, 8)...)

	raw, err := Encode(254, 5, payload)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	var dec Decoder
	got, err := feedAll(&dec, raw)
	if err != nil {
		t.Fatalf("Feed() error = %v", err)
	}
	if diff := cmp.Diff(Frame{Receiver: 254, Sender: 5, Payload: payload}, got); diff != "" {
		t.Errorf("decoded frame mismatch (-want +got):\n%s", diff)
	}

	// A damaged checksum byte is detected.
	raw[len(raw)-2] ^= 0x01
	if _, err := feedAll(&dec, raw); !errors.Is(err, ErrFrameCorrupted) {
		t.Errorf("Feed() error = %v, want ErrFrameCorrupted", err)
	}
}

func TestEncodeDecode(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"empty", nil},
		{"plain", []byte{0x01, 0x31}},
		{"special bytes", []byte{FrameStart, FrameEnd, FrameEsc, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := Encode(7, 254, tt.payload)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if raw[0] != FrameStart || raw[len(raw)-1] != FrameEnd {
				t.Fatalf("Encode() = %v, missing start or end", raw)
			}
			if bytes.Contains(raw[1:len(raw)-1], []byte{FrameEnd}) {
				t.Fatalf("Encode() = %v, unescaped end byte inside frame", raw)
			}

			var dec Decoder
			var got Frame
			completed := false
			for _, b := range raw {
				f, ok, err := dec.Feed(b)
				if err != nil {
					t.Fatalf("Feed() error = %v", err)
				}
				if ok {
					got = f
					completed = true
				}
			}
			if !completed {
				t.Fatal("Decoder did not complete the frame")
			}

			want := Frame{Receiver: 7, Sender: 254, Payload: tt.payload}
			if want.Payload == nil {
				want.Payload = []byte{}
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("decoded frame mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEncode_TooLong(t *testing.T) {
	_, err := Encode(1, 2, make([]byte, 250))
	if !errors.Is(err, ErrFrameTooLong) {
		t.Errorf("Encode() error = %v, want ErrFrameTooLong", err)
	}
}

func TestDecoder_CorruptedFrame(t *testing.T) {
	raw, err := Encode(1, 2, []byte{0x10, 0x11})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	raw[len(raw)-3] ^= 0x01

	var dec Decoder
	var gotErr error
	for _, b := range raw {
		if _, ok, err := dec.Feed(b); ok {
			gotErr = err
		}
	}
	if !errors.Is(gotErr, ErrFrameCorrupted) {
		t.Errorf("Feed() error = %v, want ErrFrameCorrupted", gotErr)
	}
}

func TestDecoder_IgnoresNoiseAndRestarts(t *testing.T) {
	raw, err := Encode(1, 2, []byte{0x42})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	stream := append([]byte{0x00, 0x13, FrameStart, 0x01}, raw...)

	var dec Decoder
	frames := 0
	for _, b := range stream {
		f, ok, err := dec.Feed(b)
		if err != nil {
			t.Fatalf("Feed() error = %v", err)
		}
		if ok {
			frames++
			if !bytes.Equal(f.Payload, []byte{0x42}) {
				t.Errorf("payload = %v, want [0x42]", f.Payload)
			}
		}
	}
	if frames != 1 {
		t.Errorf("decoded %d frames, want 1", frames)
	}
}

func TestPortOptions_Normalize(t *testing.T) {
	opts, err := PortOptions{}.Normalize()
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	want := PortOptions{BaudRate: 38400, DataBits: 8, StopBits: 1, Parity: "N"}
	if opts != want {
		t.Errorf("Normalize() = %+v, want %+v", opts, want)
	}

	if _, err := (PortOptions{DataBits: 9}).Normalize(); err == nil {
		t.Error("Normalize() with 9 data bits should fail")
	}
	if _, err := (PortOptions{Parity: "mark"}).Normalize(); err == nil {
		t.Error("Normalize() with mark parity should fail")
	}

	mode, err := PortOptions{BaudRate: 9600, Parity: "even", StopBits: 2}.SerialMode()
	if err != nil {
		t.Fatalf("SerialMode() error = %v", err)
	}
	if mode.BaudRate != 9600 {
		t.Errorf("SerialMode().BaudRate = %d, want 9600", mode.BaudRate)
	}
}
