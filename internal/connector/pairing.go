package connector

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fastybird/fb-bus-connector/internal/bus"
)

// Pairing limits and delays.
const (
	MaxDiscoveryAttempts = 5
	MaxDeviceAttempts    = 5
	MaxTotalAttempts     = 100

	DiscoveryBroadcastDelay = 2 * time.Second
	MaxPairingDelay         = 5 * time.Second
	BroadcastWaitingDelay   = 2 * time.Second

	// AddressNotAssigned is the address reported by devices that were never paired.
	AddressNotAssigned = 255
)

// Well-known attribute register names.
const (
	AttributeAddress = "address"
	AttributeState   = "state"
)

type discoveredDevice struct {
	ClientID        uuid.UUID
	ID              uuid.UUID
	Address         int
	MaxPacketLength int
	SerialNumber    string

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

	InputRegistersSize     int
	OutputRegistersSize    int
	AttributeRegistersSize int
	SettingRegistersSize   int
}

func (d discoveredDevice) registersSize(t bus.RegisterType) int {
	switch t {
	case bus.RegisterTypeInput:
		return d.InputRegistersSize
	case bus.RegisterTypeOutput:
		return d.OutputRegistersSize
	case bus.RegisterTypeAttribute:
		return d.AttributeRegistersSize
	case bus.RegisterTypeSetting:
		return d.SettingRegistersSize
	}
	return 0
}

type discoveredRegister struct {
	ID        uuid.UUID
	Type      bus.RegisterType
	Address   int
	DataType  bus.DataType
	Name      string
	Settable  bool
	Queryable bool
}

// Pairing discovers devices on the bus and configures them.
//
// Discovery broadcasts a search request a few times, collects the replies
// and then walks the discovered devices one by one: every register
// structure is requested, the device gets an address or is switched to the
// running state, and its records are created.
//
// All methods are safe for concurrent use.
type Pairing struct {
	mu sync.Mutex

	enabled           bool
	discovered        []discoveredDevice
	device            *discoveredDevice
	registers         []discoveredRegister
	lastRequest       time.Time
	waitingForReply   bool
	discoveryAttempts int
	deviceAttempts    int
	totalAttempts     int
	discoveryFinished bool

	devices         *DevicesRegistry
	registersRecord *RegistersRegistry
	client          Transporter

	logger Logger
	now    func() time.Time
}

// NewPairing creates a disabled pairing handler.
func NewPairing(devices *DevicesRegistry, registers *RegistersRegistry, client Transporter, logger Logger) *Pairing {
	return &Pairing{
		devices:         devices,
		registersRecord: registers,
		client:          client,
		logger:          loggerOrNoop(logger),
		now:             time.Now,
	}
}

// Enable resets the pairing state and broadcasts the first search request.
func (p *Pairing) Enable() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.enabled = true
	p.resetPointers()
	p.logger.Debug("pairing mode is activated")

	p.broadcastDiscovery()
}

// Disable stops pairing and drops any collected devices.
func (p *Pairing) Disable() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disable()
}

// IsEnabled reports whether pairing is running.
func (p *Pairing) IsEnabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

// Handle runs one pairing step.
func (p *Pairing) Handle() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.enabled {
		return
	}

	if p.totalAttempts >= MaxTotalAttempts {
		p.logger.Info("maximum pairing attempts reached, disabling pairing")
		p.disable()
		return
	}

	now := p.now()

	if !p.discoveryFinished {
		if p.discoveryAttempts < MaxDiscoveryAttempts {
			if p.lastRequest.IsZero() || now.Sub(p.lastRequest) >= DiscoveryBroadcastDelay {
				p.broadcastDiscovery()
			}
			return
		}

		p.discoveryFinished = true
		p.processNextDevice()
		return
	}

	if p.device == nil {
		return
	}

	if p.deviceAttempts >= MaxDeviceAttempts || now.Sub(p.lastRequest) >= MaxPairingDelay {
		p.logger.Warn("pairing could not be finished, moving to next device",
			"serial_number", p.device.SerialNumber)
		p.processNextDevice()
		return
	}

	if p.waitingForReply && now.Sub(p.lastRequest) < p.replyDelay() {
		return
	}
	p.waitingForReply = false

	for _, reg := range p.registers {
		if reg.DataType == bus.DataTypeUnknown {
			p.requestRegisterStructure(reg)
			return
		}
	}

	p.finalize()
}

// AppendDevice collects a search reply. Devices are deduplicated by serial
// number and keep the id of an already known device.
func (p *Pairing) AppendDevice(e *bus.DeviceSearchEntity) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.enabled {
		p.logger.Debug("ignoring search reply, pairing is not active", "serial_number", e.SerialNumber)
		return
	}

	for _, d := range p.discovered {
		if d.SerialNumber == e.SerialNumber {
			return
		}
	}

	id := uuid.New()
	if existing, ok := p.devices.GetBySerialNumber(e.SerialNumber); ok {
		id = existing.ID
	}

	p.discovered = append(p.discovered, discoveredDevice{
		ClientID:               e.ClientID,
		ID:                     id,
		Address:                e.DeviceAddress,
		MaxPacketLength:        e.MaxPacketLength,
		SerialNumber:           e.SerialNumber,
		HardwareManufacturer:   e.HardwareManufacturer,
		HardwareModel:          e.HardwareModel,
		HardwareVersion:        e.HardwareVersion,
		FirmwareManufacturer:   e.FirmwareManufacturer,
		FirmwareVersion:        e.FirmwareVersion,
		PubSubPubSupport:       e.PubSubPubSupport,
		PubSubSubSupport:       e.PubSubSubSupport,
		PubSubMaxSubscriptions: e.PubSubMaxSubscriptions,
		PubSubMaxConditions:    e.PubSubMaxConditions,
		PubSubMaxActions:       e.PubSubMaxActions,
		InputRegistersSize:     e.InputRegistersSize,
		OutputRegistersSize:    e.OutputRegistersSize,
		AttributeRegistersSize: e.AttributeRegistersSize,
		SettingRegistersSize:   e.SettingRegistersSize,
	})

	p.logger.Debug("discovered device",
		"serial_number", e.SerialNumber,
		"address", e.DeviceAddress,
		"hardware_model", e.HardwareModel,
		"firmware_version", e.FirmwareVersion)
}

// AppendRegister applies a register structure reply to the device being paired.
func (p *Pairing) AppendRegister(e *bus.RegisterStructureEntity) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.waitingForReply = false

	if p.device == nil {
		return
	}

	for i, reg := range p.registers {
		if reg.Type != e.RegisterType || reg.Address != e.RegisterAddress {
			continue
		}

		reg.DataType = e.DataType
		switch e.RegisterType {
		case bus.RegisterTypeAttribute:
			reg.Name = e.Name
			reg.Settable = e.Settable
			reg.Queryable = e.Queryable
		case bus.RegisterTypeSetting:
			reg.Name = e.Name
		}
		p.registers[i] = reg
		p.deviceAttempts = 0

		p.logger.Debug("configured register",
			"serial_number", p.device.SerialNumber,
			"register_type", e.RegisterType.String(),
			"register_address", e.RegisterAddress,
			"data_type", e.DataType.String())
		return
	}

	p.logger.Warn("register could not be found for pairing device",
		"serial_number", p.device.SerialNumber,
		"register_type", e.RegisterType.String(),
		"register_address", e.RegisterAddress)
}

// ConfirmAddress applies a write address reply: the device with the
// reported serial number now answers from the sender address.
func (p *Pairing) ConfirmAddress(e *bus.WriteAddressEntity) {
	d, ok := p.devices.GetBySerialNumber(e.SerialNumber)
	if !ok {
		p.logger.Warn("address confirmed by unknown device", "serial_number", e.SerialNumber)
		return
	}

	if d.Address != e.DeviceAddress {
		if _, err := p.devices.SetAddress(d.ID, e.DeviceAddress); err != nil {
			p.logger.Error("device address could not be updated", "error", err)
			return
		}
	}

	p.logger.Info("device address confirmed", "serial_number", e.SerialNumber, "address", e.DeviceAddress)
}

// Finished applies a pairing finished reply by moving the device into the
// reported state.
func (p *Pairing) Finished(e *bus.PairingFinishedEntity) {
	d, ok := p.devices.GetByAddress(e.ClientID, e.DeviceAddress)
	if !ok {
		p.logger.Warn("pairing finished by unknown device", "address", e.DeviceAddress)
		return
	}

	if _, err := p.devices.SetState(d.ID, e.State); err != nil {
		p.logger.Error("device state could not be updated", "error", err)
	}
}

func (p *Pairing) disable() {
	p.enabled = false
	p.resetPointers()
	p.logger.Debug("pairing mode is deactivated")
}

func (p *Pairing) resetPointers() {
	p.discovered = nil
	p.device = nil
	p.registers = nil
	p.lastRequest = time.Time{}
	p.waitingForReply = false
	p.discoveryAttempts = 0
	p.deviceAttempts = 0
	p.totalAttempts = 0
	p.discoveryFinished = false
}

func (p *Pairing) broadcastDiscovery() {
	p.discoveryAttempts++
	p.totalAttempts++
	p.lastRequest = p.now()

	p.logger.Debug("broadcasting device search", "attempt", p.discoveryAttempts)
	p.client.Broadcast(bus.BuildDiscovery(), BroadcastWaitingDelay, uuid.Nil)
}

// processNextDevice takes the next discovered device that can be paired and
// prepares its register placeholders. Pairing is disabled when none is left.
func (p *Pairing) processNextDevice() {
	for {
		p.deviceAttempts = 0
		p.totalAttempts = 0
		p.device = nil
		p.registers = nil
		p.waitingForReply = false

		if len(p.discovered) == 0 {
			p.logger.Info("no device left for pairing, disabling pairing")
			p.disable()
			return
		}

		next := p.discovered[0]
		p.discovered = p.discovered[1:]

		if p.acceptDevice(next) {
			p.device = &next
			break
		}
	}

	for _, t := range bus.RegisterTypes {
		p.configureRegisters(t)
	}
	p.lastRequest = p.now()

	p.logger.Debug("device prepared for pairing",
		"serial_number", p.device.SerialNumber,
		"address", p.device.Address,
		"inputs", p.device.InputRegistersSize,
		"outputs", p.device.OutputRegistersSize,
		"attributes", p.device.AttributeRegistersSize,
		"settings", p.device.SettingRegistersSize)
}

func (p *Pairing) acceptDevice(d discoveredDevice) bool {
	existing, known := p.devices.GetBySerialNumber(d.SerialNumber)

	if !known {
		if d.Address != AddressNotAssigned {
			if _, taken := p.devices.GetByAddress(d.ClientID, d.Address); taken {
				p.logger.Warn("device address is assigned to other device",
					"serial_number", d.SerialNumber,
					"address", d.Address)
				return false
			}
		}
		return true
	}

	if holder, taken := p.devices.GetByAddress(d.ClientID, d.Address); taken && holder.SerialNumber != d.SerialNumber {
		p.logger.Warn("device address is assigned to other device",
			"serial_number", d.SerialNumber,
			"address", d.Address)
		return false
	}

	if _, err := p.devices.SetState(existing.ID, bus.StatePairing); err != nil {
		p.logger.Error("device state could not be updated", "error", err)
	}
	return true
}

func (p *Pairing) configureRegisters(t bus.RegisterType) {
	for address := 0; address < p.device.registersSize(t); address++ {
		id := uuid.New()
		if existing, ok := p.registersRecord.GetByAddress(p.device.ID, t, address); ok {
			id = existing.ID
		}
		p.registers = append(p.registers, discoveredRegister{
			ID:       id,
			Type:     t,
			Address:  address,
			DataType: bus.DataTypeUnknown,
		})
	}
}

func (p *Pairing) replyDelay() time.Duration {
	if p.device.Address == AddressNotAssigned {
		return BroadcastWaitingDelay
	}
	return PacketResponseWaitingTime
}

func (p *Pairing) requestRegisterStructure(reg discoveredRegister) {
	p.deviceAttempts++
	p.totalAttempts++
	p.waitingForReply = true
	p.lastRequest = p.now()

	if p.device.Address == AddressNotAssigned {
		payload := bus.BuildReadRegisterStructure(reg.Type, reg.Address, p.device.SerialNumber)
		p.client.Broadcast(payload, BroadcastWaitingDelay, p.device.ClientID)
		return
	}

	payload := bus.BuildReadRegisterStructure(reg.Type, reg.Address, "")
	if !p.client.Send(p.device.Address, payload, PacketResponseWaitingTime, p.device.ClientID) {
		p.waitingForReply = false
	}
}

func (p *Pairing) finalize() {
	if p.device.Address == AddressNotAssigned {
		p.writeNewAddress()
	} else {
		p.writeRunningState()
	}
	p.processNextDevice()
}

func (p *Pairing) attribute(name string) (discoveredRegister, bool) {
	for _, reg := range p.registers {
		if reg.Type == bus.RegisterTypeAttribute && reg.Name == name {
			return reg, true
		}
	}
	return discoveredRegister{}, false
}

func (p *Pairing) writeNewAddress() {
	reg, ok := p.attribute(AttributeAddress)
	if !ok {
		p.logger.Warn("address attribute is missing, pairing could not be finished",
			"serial_number", p.device.SerialNumber)
		return
	}

	address, ok := p.devices.FindFreeAddress(p.device.ClientID)
	if !ok {
		p.logger.Warn("no free bus address left, pairing could not be finished",
			"serial_number", p.device.SerialNumber)
		return
	}

	payload := bus.BuildWriteSingleRegister(
		reg.Type, reg.Address, reg.DataType,
		bus.TransformForDevice(reg.DataType, address),
		p.device.SerialNumber,
	)
	if payload == nil {
		p.logger.Warn("device address could not be encoded, pairing could not be finished",
			"serial_number", p.device.SerialNumber,
			"data_type", reg.DataType.String())
		return
	}

	p.device.Address = address
	p.persistDevice()

	p.client.Broadcast(payload, BroadcastWaitingDelay, p.device.ClientID)
}

func (p *Pairing) writeRunningState() {
	reg, ok := p.attribute(AttributeState)
	if !ok {
		p.logger.Warn("state attribute is missing, pairing could not be finished",
			"serial_number", p.device.SerialNumber)
		return
	}

	payload := bus.BuildWriteSingleRegister(
		reg.Type, reg.Address, reg.DataType,
		bus.TransformForDevice(reg.DataType, int(bus.StateRunning)),
		"",
	)
	if payload == nil {
		p.logger.Warn("device state could not be encoded, pairing could not be finished",
			"serial_number", p.device.SerialNumber,
			"data_type", reg.DataType.String())
		return
	}

	p.persistDevice()

	if !p.client.Send(p.device.Address, payload, PacketResponseWaitingTime, p.device.ClientID) {
		p.logger.Warn("device state could not be written, it has to be changed manually",
			"serial_number", p.device.SerialNumber)
	}
}

// persistDevice creates the device and register records and enables the
// device for communication.
func (p *Pairing) persistDevice() {
	d := p.device

	p.devices.Create(DeviceRecord{
		ClientID:               d.ClientID,
		ID:                     d.ID,
		Address:                d.Address,
		SerialNumber:           d.SerialNumber,
		MaxPacketLength:        d.MaxPacketLength,
		Enabled:                false,
		Ready:                  true,
		HardwareManufacturer:   d.HardwareManufacturer,
		HardwareModel:          d.HardwareModel,
		HardwareVersion:        d.HardwareVersion,
		FirmwareManufacturer:   d.FirmwareManufacturer,
		FirmwareVersion:        d.FirmwareVersion,
		PubSubPubSupport:       d.PubSubPubSupport,
		PubSubSubSupport:       d.PubSubSubSupport,
		PubSubMaxSubscriptions: d.PubSubMaxSubscriptions,
		PubSubMaxConditions:    d.PubSubMaxConditions,
		PubSubMaxActions:       d.PubSubMaxActions,
	})

	p.registersRecord.Reset(d.ID, 0)
	for _, reg := range p.registers {
		record := NewRegister(d.ID, reg.ID, reg.Type, reg.Address, reg.DataType, reg.Name, reg.Settable, reg.Queryable)
		record.Ready = true
		p.registersRecord.Create(record)
	}

	if _, err := p.devices.Enable(d.ID); err != nil {
		p.logger.Error("paired device could not be enabled", "error", err)
		return
	}
	if _, err := p.devices.SetState(d.ID, bus.StateUnknown); err != nil {
		p.logger.Error("paired device state could not be updated", "error", err)
		return
	}

	p.logger.Info("device paired",
		"device_id", d.ID.String(),
		"serial_number", d.SerialNumber,
		"address", d.Address)
}
