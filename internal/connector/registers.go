package connector

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fastybird/fb-bus-connector/internal/bus"
)

// RegistersRegistry holds the runtime records of every device register.
//
// All methods are safe for concurrent use. Lookups return copies.
type RegistersRegistry struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*RegisterRecord

	events EventPropagator
}

// NewRegistersRegistry creates an empty registry propagating to events.
func NewRegistersRegistry(events EventPropagator) *RegistersRegistry {
	return &RegistersRegistry{
		items:  make(map[uuid.UUID]*RegisterRecord),
		events: events,
	}
}

// GetAllForDevice returns the registers of a device ordered by type and
// address. When types are given only registers of those types are returned.
func (r *RegistersRegistry) GetAllForDevice(deviceID uuid.UUID, types ...bus.RegisterType) []RegisterRecord {
	r.mu.RLock()
	var out []RegisterRecord
	for _, reg := range r.items {
		if reg.DeviceID == deviceID && matchesType(reg.Type, types) {
			out = append(out, *reg)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Address < out[j].Address
	})
	return out
}

// Count returns the number of registers of one type on a device.
func (r *RegistersRegistry) Count(deviceID uuid.UUID, registerType bus.RegisterType) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, reg := range r.items {
		if reg.DeviceID == deviceID && reg.Type == registerType {
			n++
		}
	}
	return n
}

// GetByID returns the register with the given id.
func (r *RegistersRegistry) GetByID(id uuid.UUID) (RegisterRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.items[id]
	if !ok {
		return RegisterRecord{}, false
	}
	return *reg, true
}

// GetByAddress returns the register of a device by type and address.
func (r *RegistersRegistry) GetByAddress(deviceID uuid.UUID, registerType bus.RegisterType, address int) (RegisterRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, reg := range r.items {
		if reg.DeviceID == deviceID && reg.Type == registerType && reg.Address == address {
			return *reg, true
		}
	}
	return RegisterRecord{}, false
}

// GetByKey returns the register published under a pub/sub key.
func (r *RegistersRegistry) GetByKey(key string) (RegisterRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, reg := range r.items {
		if reg.Key == key {
			return *reg, true
		}
	}
	return RegisterRecord{}, false
}

// Initialize stores a record loaded from the entity store. Nothing is
// propagated.
func (r *RegistersRegistry) Initialize(record RegisterRecord) RegisterRecord {
	record.applyDefaults()

	r.mu.Lock()
	stored := record
	r.items[record.ID] = &stored
	r.mu.Unlock()

	return record
}

// Create stores a new or replacement record and propagates it.
func (r *RegistersRegistry) Create(record RegisterRecord) RegisterRecord {
	record = r.Initialize(record)
	r.events.Propagate(RegisterRecordEvent{Record: record})
	return record
}

// Remove deletes a register record.
func (r *RegistersRegistry) Remove(id uuid.UUID) {
	r.mu.Lock()
	delete(r.items, id)
	r.mu.Unlock()
}

// Reset removes registers matching deviceID and registerType. A nil device
// id or a zero type matches any.
func (r *RegistersRegistry) Reset(deviceID uuid.UUID, registerType bus.RegisterType) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, reg := range r.items {
		if deviceID != uuid.Nil && reg.DeviceID != deviceID {
			continue
		}
		if registerType != 0 && reg.Type != registerType {
			continue
		}
		delete(r.items, id)
	}
}

// SetReady marks whether the register is ready for communication.
func (r *RegistersRegistry) SetReady(id uuid.UUID, ready bool) (RegisterRecord, error) {
	return r.update(id, func(reg *RegisterRecord) { reg.Ready = ready })
}

// SetPubSubKeyState records whether the register key is stored in the device.
func (r *RegistersRegistry) SetPubSubKeyState(id uuid.UUID, state bus.KeyState) (RegisterRecord, error) {
	return r.update(id, func(reg *RegisterRecord) { reg.KeyState = state })
}

// SetActualValue stores a value received from the device and propagates it.
// A value equal to the expected value clears the expectation.
func (r *RegistersRegistry) SetActualValue(id uuid.UUID, value bus.Value) (RegisterRecord, error) {
	reg, err := r.update(id, func(reg *RegisterRecord) { reg.setActualValue(value) })
	if err != nil {
		return reg, err
	}

	r.events.Propagate(valueEvent(reg))
	return reg, nil
}

// SetExpectedValue stores a value to be written to the device.
func (r *RegistersRegistry) SetExpectedValue(id uuid.UUID, value bus.Value) (RegisterRecord, error) {
	return r.update(id, func(reg *RegisterRecord) { reg.setExpectedValue(value) })
}

// SetExpectedPending stamps the time the expected value was sent.
func (r *RegistersRegistry) SetExpectedPending(id uuid.UUID, at time.Time) (RegisterRecord, error) {
	return r.update(id, func(reg *RegisterRecord) { reg.ExpectedPending = at })
}

// SetWaitingForData records whether a reply to a key write is expected.
func (r *RegistersRegistry) SetWaitingForData(id uuid.UUID, waiting bool) (RegisterRecord, error) {
	return r.update(id, func(reg *RegisterRecord) { reg.WaitingForData = waiting })
}

func (r *RegistersRegistry) update(id uuid.UUID, fn func(*RegisterRecord)) (RegisterRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.items[id]
	if !ok {
		return RegisterRecord{}, fmt.Errorf("%w: %s", ErrRegisterNotFound, id)
	}
	fn(reg)
	return *reg, nil
}

func valueEvent(reg RegisterRecord) RegisterActualValueEvent {
	return RegisterActualValueEvent{
		Device:        reg.DeviceID,
		Register:      reg.ID,
		RegisterType:  reg.Type,
		Address:       reg.Address,
		DataType:      reg.DataType,
		ActualValue:   bus.TransformForGateway(reg.DataType, reg.ActualValue),
		ExpectedValue: bus.TransformForGateway(reg.DataType, reg.ExpectedValue),
	}
}

func matchesType(t bus.RegisterType, types []bus.RegisterType) bool {
	if len(types) == 0 {
		return true
	}
	for _, want := range types {
		if t == want {
			return true
		}
	}
	return false
}

// registryLookup resolves parser lookups against the registries.
type registryLookup struct {
	devices   *DevicesRegistry
	registers *RegistersRegistry
}

// NewRegisterLookup returns a bus.RegisterLookup backed by the registries.
func NewRegisterLookup(devices *DevicesRegistry, registers *RegistersRegistry) bus.RegisterLookup {
	return registryLookup{devices: devices, registers: registers}
}

func (l registryLookup) DeviceIDByAddress(clientID uuid.UUID, address int) (uuid.UUID, bool) {
	d, ok := l.devices.GetByAddress(clientID, address)
	if !ok {
		return uuid.Nil, false
	}
	return d.ID, true
}

func (l registryLookup) RegisterDataType(deviceID uuid.UUID, registerType bus.RegisterType, address int) (bus.DataType, bool) {
	reg, ok := l.registers.GetByAddress(deviceID, registerType, address)
	if !ok {
		return bus.DataTypeUnknown, false
	}
	return reg.DataType, true
}
