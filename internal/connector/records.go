package connector

import (
	"time"

	"github.com/google/uuid"

	"github.com/fastybird/fb-bus-connector/internal/bus"
)

// DefaultSamplingTime is the interval between register reads of a running device.
const DefaultSamplingTime = 10 * time.Second

// DeviceRecord is the runtime state of one device on a bus client.
//
// Records are values. Registries hand out copies and apply changes through
// their own methods.
type DeviceRecord struct {
	ClientID uuid.UUID
	ID       uuid.UUID

	Address         int
	SerialNumber    string
	MaxPacketLength int
	Enabled         bool
	Ready           bool

	HardwareManufacturer string
	HardwareModel        string
	HardwareVersion      string
	FirmwareManufacturer string
	FirmwareVersion      string

	PubSubPubSupport       bool
	PubSubSubSupport       bool
	PubSubMaxSubscriptions int
	PubSubMaxConditions    int
	PubSubMaxActions       int

	State bus.ConnectionState

	// Communication tracking. A zero WaitingForPacket means no reply is expected.
	WaitingForPacket bus.Packet
	LastPacketTime   time.Time
	Attempts         int

	// Register reading pointer. A zero ReadingType means no pointer is set.
	SamplingTime    time.Duration
	LastReadingTime time.Time
	ReadingAddress  int
	ReadingType     bus.RegisterType

	LostTime time.Time
}

// IsLost reports whether communication with the device was lost.
func (d DeviceRecord) IsLost() bool {
	return !d.LostTime.IsZero()
}

// IsRunning reports whether the device is in the running state.
func (d DeviceRecord) IsRunning() bool {
	return d.State == bus.StateRunning
}

// IsUnknown reports whether the device state is unknown.
func (d DeviceRecord) IsUnknown() bool {
	return d.State == bus.StateUnknown
}

func (d *DeviceRecord) applyDefaults() {
	if d.State == 0 {
		d.State = bus.StateUnknown
	}
	if d.SamplingTime <= 0 {
		d.SamplingTime = DefaultSamplingTime
	}
}

func (d *DeviceRecord) setWaitingForPacket(packet bus.Packet, now time.Time) {
	d.WaitingForPacket = packet
	if packet != 0 {
		d.LastPacketTime = now
		d.Attempts++
	}
}

func (d *DeviceRecord) setState(state bus.ConnectionState, now time.Time) {
	if state == bus.StateRunning {
		d.resetReadingRegister(true, now)
		d.LostTime = time.Time{}
	}
	if state == bus.StateUnknown {
		if d.State != bus.StateUnknown {
			d.LostTime = now
		}
		d.resetCommunication()
	}
	d.State = state
}

func (d *DeviceRecord) resetCommunication() {
	d.WaitingForPacket = 0
	d.Attempts = 0
}

// resetReadingRegister clears the reading pointer. With resetTimestamp the
// next reading is due immediately, otherwise after a full sampling period.
func (d *DeviceRecord) resetReadingRegister(resetTimestamp bool, now time.Time) {
	if resetTimestamp {
		d.LastReadingTime = time.Time{}
	} else {
		d.LastReadingTime = now
	}
	d.ReadingAddress = 0
	d.ReadingType = 0
}

// RegisterRecord is the runtime state of one device register.
type RegisterRecord struct {
	DeviceID uuid.UUID
	ID       uuid.UUID

	Address   int
	Type      bus.RegisterType
	DataType  bus.DataType
	Settable  bool
	Queryable bool

	// Name is only carried by attribute and setting registers.
	Name string

	// Key identifies the register in pub/sub broadcasts.
	Key      string
	KeyState bus.KeyState

	Ready bool

	ActualValue     bus.Value
	ExpectedValue   bus.Value
	ExpectedPending time.Time
	WaitingForData  bool
}

// NewInputRegister returns an input register record. Inputs are read-only.
func NewInputRegister(deviceID, id uuid.UUID, address int, dataType bus.DataType) RegisterRecord {
	return RegisterRecord{
		DeviceID:  deviceID,
		ID:        id,
		Address:   address,
		Type:      bus.RegisterTypeInput,
		DataType:  dataType,
		Settable:  false,
		Queryable: true,
	}
}

// NewOutputRegister returns an output register record.
func NewOutputRegister(deviceID, id uuid.UUID, address int, dataType bus.DataType) RegisterRecord {
	return RegisterRecord{
		DeviceID:  deviceID,
		ID:        id,
		Address:   address,
		Type:      bus.RegisterTypeOutput,
		DataType:  dataType,
		Settable:  true,
		Queryable: true,
	}
}

// NewAttributeRegister returns an attribute register record with explicit
// access flags.
func NewAttributeRegister(
	deviceID, id uuid.UUID,
	address int,
	dataType bus.DataType,
	name string,
	settable, queryable bool,
) RegisterRecord {
	return RegisterRecord{
		DeviceID:  deviceID,
		ID:        id,
		Address:   address,
		Type:      bus.RegisterTypeAttribute,
		DataType:  dataType,
		Name:      name,
		Settable:  settable,
		Queryable: queryable,
	}
}

// NewSettingRegister returns a setting register record.
func NewSettingRegister(deviceID, id uuid.UUID, address int, dataType bus.DataType, name string) RegisterRecord {
	return RegisterRecord{
		DeviceID:  deviceID,
		ID:        id,
		Address:   address,
		Type:      bus.RegisterTypeSetting,
		DataType:  dataType,
		Name:      name,
		Settable:  true,
		Queryable: true,
	}
}

// NewRegister returns a register record of the given type with the access
// flags that type implies. Attribute flags are taken from the arguments.
func NewRegister(
	deviceID, id uuid.UUID,
	registerType bus.RegisterType,
	address int,
	dataType bus.DataType,
	name string,
	settable, queryable bool,
) RegisterRecord {
	switch registerType {
	case bus.RegisterTypeInput:
		return NewInputRegister(deviceID, id, address, dataType)
	case bus.RegisterTypeOutput:
		return NewOutputRegister(deviceID, id, address, dataType)
	case bus.RegisterTypeSetting:
		return NewSettingRegister(deviceID, id, address, dataType, name)
	default:
		return NewAttributeRegister(deviceID, id, address, dataType, name, settable, queryable)
	}
}

// registerKey derives the pub/sub key of a register from its id.
func registerKey(id uuid.UUID) string {
	return id.String()[:8]
}

func (r *RegisterRecord) applyDefaults() {
	if r.Key == "" {
		r.Key = registerKey(r.ID)
	}
}

func (r *RegisterRecord) setActualValue(value bus.Value) {
	r.ActualValue = value
	if r.ExpectedValue != nil && bus.ValuesEqual(value, r.ExpectedValue) {
		r.ExpectedValue = nil
		r.ExpectedPending = time.Time{}
	}
}

func (r *RegisterRecord) setExpectedValue(value bus.Value) {
	r.ExpectedValue = value
	r.ExpectedPending = time.Time{}
}
