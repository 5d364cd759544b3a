package bus

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
)

type registerKey struct {
	registerType RegisterType
	address      int
}

type mockLookup struct {
	deviceID  uuid.UUID
	address   int
	dataTypes map[registerKey]DataType
}

func (m *mockLookup) DeviceIDByAddress(_ uuid.UUID, address int) (uuid.UUID, bool) {
	if address != m.address {
		return uuid.Nil, false
	}
	return m.deviceID, true
}

func (m *mockLookup) RegisterDataType(_ uuid.UUID, registerType RegisterType, address int) (DataType, bool) {
	dt, ok := m.dataTypes[registerKey{registerType, address}]
	return dt, ok
}

func newTestParser() (*Parser, uuid.UUID) {
	clientID := uuid.New()
	lookup := &mockLookup{
		deviceID: uuid.New(),
		address:  5,
		dataTypes: map[registerKey]DataType{
			{RegisterTypeInput, 0}:  DataTypeUint8,
			{RegisterTypeInput, 1}:  DataTypeFloat32,
			{RegisterTypeOutput, 0}: DataTypeBoolean,
			{RegisterTypeOutput, 1}: DataTypeButton,
		},
	}
	return NewParser(lookup), clientID
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    bool
	}{
		{"valid", []byte{0x01, 0x33, 0x01}, true},
		{"wrong version", []byte{0x02, 0x33, 0x01}, false},
		{"unknown packet", []byte{0x01, 0x99}, false},
		{"too short", []byte{0x01}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Validate(tt.payload); got != tt.want {
				t.Errorf("Validate(%v) = %v, want %v", tt.payload, got, tt.want)
			}
		})
	}
}

func TestParse_SingleRegister(t *testing.T) {
	p, clientID := newTestParser()

	payload := []byte{0x01, byte(PacketReadSingleRegister), 0x01, 0x00, 0x00, 0x2A, 0x00, 0x00, 0x00}
	entity, err := p.Parse(payload, 5, clientID)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	want := &SingleRegisterEntity{
		Header:       Header{ClientID: clientID, DeviceAddress: 5},
		Packet:       PacketReadSingleRegister,
		RegisterType: RegisterTypeInput,
		Register:     RegisterValue{Address: 0, Value: uint32(42)},
	}
	if diff := cmp.Diff(want, entity); diff != "" {
		t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_MultipleRegisters(t *testing.T) {
	p, clientID := newTestParser()

	payload := []byte{
		0x01, byte(PacketReadMultipleRegisters), 0x01, 0x00, 0x00, 0x02,
		0x07, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x20, 0x41,
	}
	entity, err := p.Parse(payload, 5, clientID)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	got, ok := entity.(*MultipleRegistersEntity)
	if !ok {
		t.Fatalf("Parse() = %T, want *MultipleRegistersEntity", entity)
	}
	want := []RegisterValue{
		{Address: 0, Value: uint32(7)},
		{Address: 1, Value: float32(10)},
	}
	if diff := cmp.Diff(want, got.Registers); diff != "" {
		t.Errorf("Registers mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_MultipleRegistersStopsAtCount(t *testing.T) {
	p, clientID := newTestParser()

	payload := []byte{
		0x01, byte(PacketReadMultipleRegisters), 0x01, 0x00, 0x00, 0x01,
		0x07, 0x00, 0x00, 0x00,
		0xFF, 0xFF, 0xFF, 0xFF,
	}
	entity, err := p.Parse(payload, 5, clientID)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if n := len(entity.(*MultipleRegistersEntity).Registers); n != 1 {
		t.Errorf("len(Registers) = %d, want 1", n)
	}
}

func TestParse_Errors(t *testing.T) {
	p, clientID := newTestParser()

	tests := []struct {
		name    string
		payload []byte
		address int
		wantErr error
	}{
		{
			name:    "invalid packet",
			payload: []byte{0x01, 0x99},
			address: 5,
		},
		{
			name:    "missing address",
			payload: []byte{0x01, byte(PacketPong)},
			address: -1,
		},
		{
			name:    "single register wrong length",
			payload: []byte{0x01, byte(PacketReadSingleRegister), 0x01, 0x00, 0x00, 0x01},
			address: 5,
		},
		{
			name:    "single register unknown device",
			payload: []byte{0x01, byte(PacketReadSingleRegister), 0x01, 0x00, 0x00, 0x01, 0, 0, 0},
			address: 9,
			wantErr: ErrUnknownDevice,
		},
		{
			name:    "single register unknown register",
			payload: []byte{0x01, byte(PacketReadSingleRegister), 0x01, 0x00, 0x09, 0x01, 0, 0, 0},
			address: 5,
			wantErr: ErrUnknownRegister,
		},
		{
			name:    "single register unsupported data type",
			payload: []byte{0x01, byte(PacketReadSingleRegister), 0x02, 0x00, 0x01, 0x01, 0, 0, 0},
			address: 5,
			wantErr: ErrUnsupportedDataType,
		},
		{
			name: "multiple registers missing register",
			payload: []byte{
				0x01, byte(PacketReadMultipleRegisters), 0x01, 0x00, 0x01, 0x02,
				0x00, 0x00, 0x20, 0x41,
				0x01, 0x00, 0x00, 0x00,
			},
			address: 5,
			wantErr: ErrUnknownRegister,
		},
		{
			name:    "state invalid",
			payload: []byte{0x01, byte(PacketReportState), 0x44},
			address: 5,
		},
		{
			name:    "pong wrong length",
			payload: []byte{0x01, byte(PacketPong), 0x00},
			address: 5,
		},
		{
			name:    "write key wrong length",
			payload: []byte{0x01, byte(PacketPubSubWriteRegisterKey), 0x01, 0x00},
			address: 5,
		},
		{
			name:    "unhandled packet",
			payload: []byte{0x01, byte(PacketPing)},
			address: 5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Parse(tt.payload, tt.address, clientID)
			if !errors.Is(err, ErrInvalidPacket) {
				t.Fatalf("Parse() error = %v, want ErrInvalidPacket", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Parse() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParse_DeviceState(t *testing.T) {
	p, clientID := newTestParser()

	tests := []struct {
		name    string
		payload []byte
		want    *DeviceStateEntity
	}{
		{
			name:    "report state",
			payload: []byte{0x01, byte(PacketReportState), byte(StateRunning)},
			want: &DeviceStateEntity{
				Header: Header{ClientID: clientID, DeviceAddress: 7},
				Packet: PacketReportState,
				State:  StateRunning,
			},
		},
		{
			name:    "pong",
			payload: []byte{0x01, byte(PacketPong)},
			want: &DeviceStateEntity{
				Header: Header{ClientID: clientID, DeviceAddress: 7},
				Packet: PacketPong,
				State:  StateUnknown,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.Parse(tt.payload, 7, clientID)
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParse_PubSub(t *testing.T) {
	p, clientID := newTestParser()

	entity, err := p.Parse([]byte{0x01, byte(PacketPubSubWriteRegisterKey), 0x02, 0x00, 0x03}, 5, clientID)
	if err != nil {
		t.Fatalf("Parse(write key) error = %v", err)
	}
	wk, ok := entity.(*WriteKeyEntity)
	if !ok || wk.RegisterType != RegisterTypeOutput || wk.RegisterAddress != 3 {
		t.Errorf("Parse(write key) = %#v", entity)
	}

	payload := []byte{0x01, byte(PacketPubSubBroadcastRegisterValue), 0x03, 'k', 'e', 'y', byte(DataTypeUint8), 0x09, 0, 0, 0}
	entity, err = p.Parse(payload, 5, clientID)
	if err != nil {
		t.Fatalf("Parse(broadcast) error = %v", err)
	}
	want := &BroadcastEntity{
		Header:   Header{ClientID: clientID, DeviceAddress: 5},
		Key:      "key",
		DataType: DataTypeUint8,
		Value:    uint32(9),
	}
	if diff := cmp.Diff(want, entity); diff != "" {
		t.Errorf("Parse(broadcast) mismatch (-want +got):\n%s", diff)
	}

	payload = []byte{0x01, byte(PacketPubSubBroadcastRegisterValue), 0x01, 'k', byte(DataTypeSwitch), 0x01}
	if _, err := p.Parse(payload, 5, clientID); !errors.Is(err, ErrUnsupportedDataType) {
		t.Errorf("Parse(broadcast switch) error = %v, want ErrUnsupportedDataType", err)
	}
}

func lengthPrefixed(s string) []byte {
	return append([]byte{byte(len(s))}, s...)
}

func searchReply(address byte) []byte {
	out := []byte{0x01, byte(PacketDiscover), byte(PairingRespSearch), address, 80}
	out = append(out, lengthPrefixed("sn-0001")...)
	out = append(out, lengthPrefixed("1.0")...)
	out = append(out, lengthPrefixed("gen1")...)
	out = append(out, lengthPrefixed("fastybird")...)
	out = append(out, lengthPrefixed("0.9")...)
	out = append(out, lengthPrefixed("fastybird")...)
	out = append(out, 2, 3, 4, 1)
	out = append(out, 0xFF, 0x00, 0x00, 0x00)
	out = append(out, 5, 6, 7)
	return out
}

func TestParse_SearchReply(t *testing.T) {
	p, clientID := newTestParser()

	entity, err := p.Parse(searchReply(255), 255, clientID)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	want := &DeviceSearchEntity{
		Header:                 Header{ClientID: clientID, DeviceAddress: 255},
		MaxPacketLength:        80,
		SerialNumber:           "sn-0001",
		HardwareVersion:        "1.0",
		HardwareModel:          "gen1",
		HardwareManufacturer:   "fastybird",
		FirmwareVersion:        "0.9",
		FirmwareManufacturer:   "fastybird",
		InputRegistersSize:     2,
		OutputRegistersSize:    3,
		AttributeRegistersSize: 4,
		SettingRegistersSize:   1,
		PubSubPubSupport:       true,
		PubSubSubSupport:       false,
		PubSubMaxSubscriptions: 5,
		PubSubMaxConditions:    6,
		PubSubMaxActions:       7,
	}
	if diff := cmp.Diff(want, entity); diff != "" {
		t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_SearchReplyErrors(t *testing.T) {
	p, clientID := newTestParser()

	if _, err := p.Parse(searchReply(255), 10, clientID); !errors.Is(err, ErrInvalidPacket) {
		t.Errorf("address mismatch error = %v, want ErrInvalidPacket", err)
	}

	truncated := searchReply(255)
	truncated = truncated[:len(truncated)-2]
	if _, err := p.Parse(truncated, 255, clientID); !errors.Is(err, ErrInvalidPacket) {
		t.Errorf("truncated error = %v, want ErrInvalidPacket", err)
	}
}

func TestParse_PairingReplies(t *testing.T) {
	p, clientID := newTestParser()
	h := Header{ClientID: clientID, DeviceAddress: 5}

	attribute := []byte{0x01, 0x04, 0x55, byte(RegisterTypeAttribute), 0x00, 0x01, byte(DataTypeUint8), 0xFF, 0x00, 0x00, 0x00}
	attribute = append(attribute, lengthPrefixed("address")...)

	setting := []byte{0x01, 0x04, 0x55, byte(RegisterTypeSetting), 0x00, 0x02, byte(DataTypeUint16)}
	setting = append(setting, lengthPrefixed("delay")...)

	writeAddress := []byte{0x01, 0x04, 0x53}
	writeAddress = append(writeAddress, lengthPrefixed("sn-0001")...)

	tests := []struct {
		name    string
		payload []byte
		want    Entity
	}{
		{
			name:    "write address",
			payload: writeAddress,
			want:    &WriteAddressEntity{Header: h, SerialNumber: "sn-0001"},
		},
		{
			name:    "input register structure",
			payload: []byte{0x01, 0x04, 0x55, byte(RegisterTypeInput), 0x00, 0x03, byte(DataTypeFloat32)},
			want: &RegisterStructureEntity{
				Header:          h,
				RegisterType:    RegisterTypeInput,
				RegisterAddress: 3,
				DataType:        DataTypeFloat32,
			},
		},
		{
			name:    "attribute register structure",
			payload: attribute,
			want: &RegisterStructureEntity{
				Header:          h,
				RegisterType:    RegisterTypeAttribute,
				RegisterAddress: 1,
				DataType:        DataTypeUint8,
				Settable:        true,
				Queryable:       false,
				Name:            "address",
			},
		},
		{
			name:    "setting register structure",
			payload: setting,
			want: &RegisterStructureEntity{
				Header:          h,
				RegisterType:    RegisterTypeSetting,
				RegisterAddress: 2,
				DataType:        DataTypeUint16,
				Name:            "delay",
			},
		},
		{
			name:    "pairing finished",
			payload: []byte{0x01, 0x04, 0x57, byte(StateRunning)},
			want:    &PairingFinishedEntity{Header: h, State: StateRunning},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.Parse(tt.payload, 5, clientID)
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParse_PairingErrors(t *testing.T) {
	p, clientID := newTestParser()

	payloads := map[string][]byte{
		"unknown response":       {0x01, 0x04, 0x99},
		"short structure":        {0x01, 0x04, 0x55, 0x01, 0x00},
		"truncated attribute":    {0x01, 0x04, 0x55, byte(RegisterTypeAttribute), 0x00, 0x01, byte(DataTypeUint8), 0xFF},
		"finished wrong length":  {0x01, 0x04, 0x57, 0x01, 0x00},
		"finished invalid state": {0x01, 0x04, 0x57, 0x44},
	}

	for name, payload := range payloads {
		t.Run(name, func(t *testing.T) {
			if _, err := p.Parse(payload, 5, clientID); !errors.Is(err, ErrInvalidPacket) {
				t.Errorf("Parse() error = %v, want ErrInvalidPacket", err)
			}
		})
	}
}
