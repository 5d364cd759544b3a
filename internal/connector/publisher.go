package connector

import (
	"time"

	"github.com/google/uuid"

	"github.com/fastybird/fb-bus-connector/internal/bus"
)

// Publisher timing and retry limits.
const (
	// MaxTransmitAttempts is the number of unanswered packets after which a
	// device is marked as lost.
	MaxTransmitAttempts = 5

	// PingDelay is the interval between pings of a lost device.
	PingDelay = 15 * time.Second

	// PacketResponseDelay is how long a reply is awaited before the next
	// packet is sent to the same device.
	PacketResponseDelay = 500 * time.Millisecond

	// PacketResponseWaitingTime is how long the bus stays quiet after a
	// request expecting a reply.
	PacketResponseWaitingTime = 500 * time.Millisecond

	// ReadStateWaitingTime is how long the bus stays quiet after a state request.
	ReadStateWaitingTime = time.Second

	// DefaultMaxPacketLength is used for devices that did not report a usable
	// maximum packet length.
	DefaultMaxPacketLength = 80
)

// Publisher drives the request side of the protocol: state polling, pub/sub
// key writing, register reading and register writing.
//
// A Publisher is driven by the connector loop and is not safe for concurrent
// use.
type Publisher struct {
	devices   *DevicesRegistry
	registers *RegistersRegistry
	client    Transporter

	processed map[uuid.UUID]bool

	logger Logger
	now    func() time.Time
}

// NewPublisher creates a publisher sending through client.
func NewPublisher(devices *DevicesRegistry, registers *RegistersRegistry, client Transporter, logger Logger) *Publisher {
	return &Publisher{
		devices:   devices,
		registers: registers,
		client:    client,
		processed: make(map[uuid.UUID]bool),
		logger:    loggerOrNoop(logger),
		now:       time.Now,
	}
}

// Loop offers every enabled and ready device to Handle once. A device that
// was handled is skipped until every eligible device has been handled.
func (p *Publisher) Loop() {
	var eligible []DeviceRecord
	for _, d := range p.devices.GetAll() {
		if d.Enabled && d.Ready {
			eligible = append(eligible, d)
		}
	}

	done := 0
	for _, d := range eligible {
		if p.processed[d.ID] {
			done++
		}
	}
	if done >= len(eligible) {
		clear(p.processed)
	}

	for _, d := range eligible {
		if p.processed[d.ID] {
			continue
		}
		if p.Handle(d) {
			p.processed[d.ID] = true
		}
	}
}

// Handle runs one step of the communication with a device. It reports
// whether the device was handled in this step.
func (p *Publisher) Handle(d DeviceRecord) bool {
	now := p.now()

	if d.Attempts >= MaxTransmitAttempts {
		if d.IsLost() {
			p.logger.Info("device is still lost", "device_id", d.ID.String(), "address", d.Address)
			p.logErr(p.devices.ResetCommunication(d.ID))
		} else {
			p.logger.Info("device is lost", "device_id", d.ID.String(), "address", d.Address)
			p.logErr(p.devices.SetDeviceIsLost(d.ID))
		}
		return true
	}

	if d.IsLost() {
		if now.Sub(d.LastPacketTime) >= PingDelay {
			p.sendPing(d)
		}
		return true
	}

	if d.WaitingForPacket != 0 && now.Sub(d.LastPacketTime) < PacketResponseDelay {
		return false
	}

	if d.IsUnknown() {
		p.sendReadState(d)
		return true
	}

	if !d.IsRunning() {
		return false
	}

	if d.PubSubPubSupport && p.writeRegisterKey(d) {
		return true
	}

	if now.Sub(d.LastReadingTime) >= d.SamplingTime && p.readRegisters(d) {
		return true
	}

	return p.writeRegisters(d)
}

func (p *Publisher) sendPing(d DeviceRecord) {
	ok := p.client.Send(d.Address, bus.BuildPing(), PacketResponseWaitingTime, d.ClientID)
	p.validateResult(d, ok, bus.PacketPong)
}

func (p *Publisher) sendReadState(d DeviceRecord) {
	ok := p.client.Send(d.Address, bus.BuildReadState(), ReadStateWaitingTime, d.ClientID)
	p.validateResult(d, ok, bus.PacketReadState)
}

func (p *Publisher) writeRegisterKey(d DeviceRecord) bool {
	for _, reg := range p.registers.GetAllForDevice(d.ID) {
		if reg.Key == "" || reg.KeyState != bus.KeyStateNo || reg.WaitingForData {
			continue
		}

		payload := bus.BuildWriteRegisterKey(reg.Type, reg.Address, reg.Key)
		ok := p.client.Send(d.Address, payload, PacketResponseWaitingTime, d.ClientID)
		p.validateResult(d, ok, bus.PacketPubSubWriteRegisterKey)

		if ok {
			p.logErr(p.registers.SetWaitingForData(reg.ID, true))
		}
		return true
	}
	return false
}

func (p *Publisher) readRegisters(d DeviceRecord) bool {
	registerType, start := d.ReadingType, d.ReadingAddress
	if registerType == 0 {
		registerType = p.firstReadableType(d.ID)
		start = 0
	}
	if registerType == 0 {
		p.logErr(p.devices.ResetReadingRegister(d.ID, false))
		return false
	}

	size := p.registers.Count(d.ID, registerType)
	length := readLength(maxReadableRegisters(d), start, size)
	if length <= 0 {
		p.advanceReadingPointer(d, registerType)
		return false
	}

	payload := bus.BuildReadMultipleRegisters(registerType, start, length)
	ok := p.client.Send(d.Address, payload, PacketResponseWaitingTime, d.ClientID)
	p.validateResult(d, ok, bus.PacketReadMultipleRegisters)

	if ok {
		next := start + length
		if next >= size {
			p.advanceReadingPointer(d, registerType)
		} else {
			p.logErr(p.devices.SetReadingRegister(d.ID, next, registerType))
		}
	}
	return true
}

// firstReadableType returns the first register type with registers that
// read multiple registers supports, or zero.
func (p *Publisher) firstReadableType(deviceID uuid.UUID) bus.RegisterType {
	for _, t := range []bus.RegisterType{bus.RegisterTypeInput, bus.RegisterTypeOutput} {
		if p.registers.Count(deviceID, t) > 0 {
			return t
		}
	}
	return 0
}

func (p *Publisher) advanceReadingPointer(d DeviceRecord, current bus.RegisterType) {
	if current == bus.RegisterTypeInput && p.registers.Count(d.ID, bus.RegisterTypeOutput) > 0 {
		p.logErr(p.devices.SetReadingRegister(d.ID, 0, bus.RegisterTypeOutput))
		return
	}
	p.logErr(p.devices.ResetReadingRegister(d.ID, false))
}

func (p *Publisher) writeRegisters(d DeviceRecord) bool {
	types := []bus.RegisterType{bus.RegisterTypeOutput, bus.RegisterTypeAttribute, bus.RegisterTypeSetting}

	for _, reg := range p.registers.GetAllForDevice(d.ID, types...) {
		if reg.ExpectedValue == nil || !reg.ExpectedPending.IsZero() {
			continue
		}

		var payload []byte
		if bus.IsWritableValue(reg.ExpectedValue) {
			payload = bus.BuildWriteSingleRegister(reg.Type, reg.Address, reg.DataType, reg.ExpectedValue, "")
		}
		if payload == nil {
			p.logger.Error("value could not be written into register",
				"device_id", d.ID.String(),
				"register_type", reg.Type.String(),
				"register_address", reg.Address,
				"data_type", reg.DataType.String())
			p.logErr(p.registers.SetExpectedValue(reg.ID, nil))
			continue
		}

		ok := p.client.Send(d.Address, payload, PacketResponseWaitingTime, d.ClientID)
		p.validateResult(d, ok, bus.PacketWriteSingleRegister)

		if ok {
			p.logErr(p.registers.SetExpectedPending(reg.ID, p.now()))
			return true
		}
	}
	return false
}

// validateResult records the reply expected for a sent packet. A packet the
// client did not accept leaves nothing to wait for.
func (p *Publisher) validateResult(d DeviceRecord, ok bool, packet bus.Packet) {
	if !ok {
		p.logErr(p.devices.SetWaitingForPacket(d.ID, 0))
		return
	}
	p.logErr(p.devices.SetWaitingForPacket(d.ID, packet))
}

func (p *Publisher) logErr(_ any, err error) {
	if err != nil {
		p.logger.Error("registry update failed", "error", err)
	}
}

// maxReadableRegisters is the number of 4 byte register values that fit in
// one reply, e.g. 24 byte packets carry 4 registers.
func maxReadableRegisters(d DeviceRecord) int {
	length := d.MaxPacketLength
	if length <= 8 {
		length = DefaultMaxPacketLength
	}
	return (length - 8) / 4
}

// readLength returns how many registers to read from start.
func readLength(maxCount, start, size int) int {
	if start+maxCount >= size {
		if start == 0 {
			return size
		}
		return size - start
	}
	return maxCount
}
