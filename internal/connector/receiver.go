package connector

import (
	"github.com/google/uuid"

	"github.com/fastybird/fb-bus-connector/internal/bus"
)

// ReceiverQueueCapacity is the number of parsed entities that can wait for
// handling.
const ReceiverQueueCapacity = 1000

// Receiver parses bus payloads and applies them to the registries.
//
// OnMessage may be called from any goroutine. Handle is called from the
// connector loop.
type Receiver struct {
	parser *bus.Parser
	queue  chan bus.Entity

	devices   *DevicesRegistry
	registers *RegistersRegistry
	pairing   *Pairing

	logger Logger
}

// NewReceiver creates a receiver dispatching into the registries and pairing.
func NewReceiver(devices *DevicesRegistry, registers *RegistersRegistry, pairing *Pairing, logger Logger) *Receiver {
	return &Receiver{
		parser:    bus.NewParser(NewRegisterLookup(devices, registers)),
		queue:     make(chan bus.Entity, ReceiverQueueCapacity),
		devices:   devices,
		registers: registers,
		pairing:   pairing,
		logger:    loggerOrNoop(logger),
	}
}

// OnMessage implements MessageSink.
func (r *Receiver) OnMessage(payload []byte, address int, clientID uuid.UUID) {
	if !bus.Validate(payload) {
		r.logger.Warn("received message is not valid FB BUS v1 message",
			"client_id", clientID.String(),
			"address", address)
		return
	}

	entity, err := r.parser.Parse(payload, address, clientID)
	if err != nil {
		r.logger.Error("received message could not be parsed",
			"client_id", clientID.String(),
			"address", address,
			"error", err)
		return
	}

	select {
	case r.queue <- entity:
	default:
		r.logger.Warn("receiver queue is full, dropping message",
			"client_id", clientID.String(),
			"address", address)
	}
}

// Handle pops one entity and applies it. It reports whether an entity was
// handled.
func (r *Receiver) Handle() bool {
	select {
	case entity := <-r.queue:
		r.receive(entity)
		return true
	default:
		return false
	}
}

// IsEmpty reports whether no entity is queued.
func (r *Receiver) IsEmpty() bool {
	return len(r.queue) == 0
}

func (r *Receiver) receive(entity bus.Entity) {
	switch e := entity.(type) {
	case *bus.DeviceStateEntity:
		r.receiveDeviceState(e)

	case *bus.SingleRegisterEntity, *bus.MultipleRegistersEntity,
		*bus.WriteKeyEntity, *bus.BroadcastEntity:
		r.receiveRegisters(entity)

	case *bus.DeviceSearchEntity:
		r.pairing.AppendDevice(e)

	case *bus.WriteAddressEntity:
		r.pairing.ConfirmAddress(e)

	case *bus.RegisterStructureEntity:
		r.pairing.AppendRegister(e)

	case *bus.PairingFinishedEntity:
		r.pairing.Finished(e)

	default:
		r.logger.Warn("received entity is not handled")
	}
}

func (r *Receiver) deviceForEntity(entity bus.Entity) (DeviceRecord, bool) {
	clientID, address := entity.Source()
	d, ok := r.devices.GetByAddress(clientID, address)
	if !ok {
		r.logger.Error("message is for unknown device",
			"client_id", clientID.String(),
			"address", address)
	}
	return d, ok
}

func (r *Receiver) receiveDeviceState(e *bus.DeviceStateEntity) {
	d, ok := r.deviceForEntity(e)
	if !ok {
		return
	}

	if e.Packet == bus.PacketPong {
		if d.IsLost() {
			r.logger.Info("lost device replied to ping", "device_id", d.ID.String(), "address", d.Address)
		}
		r.logErr(r.devices.SetDeviceIsFound(d.ID))
		return
	}

	r.logErr(r.devices.SetState(d.ID, e.State))
	r.logErr(r.devices.ResetCommunication(d.ID))
}

func (r *Receiver) receiveRegisters(entity bus.Entity) {
	d, ok := r.deviceForEntity(entity)
	if !ok {
		return
	}

	switch e := entity.(type) {
	case *bus.SingleRegisterEntity:
		r.writeValue(d, e.RegisterType, e.Register)
		if e.Packet == bus.PacketReportSingleRegister {
			r.logErr(r.devices.ResetReadingRegister(d.ID, false))
		} else {
			r.logErr(r.devices.ResetCommunication(d.ID))
		}

	case *bus.MultipleRegistersEntity:
		for _, value := range e.Registers {
			r.writeValue(d, e.RegisterType, value)
		}
		r.logErr(r.devices.ResetCommunication(d.ID))

	case *bus.WriteKeyEntity:
		reg, ok := r.registers.GetByAddress(d.ID, e.RegisterType, e.RegisterAddress)
		if !ok {
			r.logger.Error("message is for unknown register",
				"device_id", d.ID.String(),
				"register_type", e.RegisterType.String(),
				"register_address", e.RegisterAddress)
			return
		}
		r.logErr(r.registers.SetPubSubKeyState(reg.ID, bus.KeyStateYes))
		r.logErr(r.registers.SetWaitingForData(reg.ID, false))
		r.logErr(r.devices.ResetCommunication(d.ID))

	case *bus.BroadcastEntity:
		reg, ok := r.registers.GetByKey(e.Key)
		if !ok {
			r.logger.Error("message is for unknown register key", "key", e.Key)
			return
		}
		if e.Value != nil {
			r.logErr(r.registers.SetActualValue(reg.ID, e.Value))
		}
		r.logErr(r.devices.ResetReadingRegister(d.ID, false))
	}
}

func (r *Receiver) writeValue(d DeviceRecord, registerType bus.RegisterType, value bus.RegisterValue) {
	reg, ok := r.registers.GetByAddress(d.ID, registerType, value.Address)
	if !ok {
		r.logger.Error("message is for unknown register",
			"device_id", d.ID.String(),
			"register_type", registerType.String(),
			"register_address", value.Address)
		return
	}
	if value.Value == nil {
		return
	}
	r.logErr(r.registers.SetActualValue(reg.ID, value.Value))
}

func (r *Receiver) logErr(_ any, err error) {
	if err != nil {
		r.logger.Error("registry update failed", "error", err)
	}
}
