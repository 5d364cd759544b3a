package connector

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fastybird/fb-bus-connector/internal/bus"
)

// Bus address limits.
const (
	// MaxAddress is the first address that cannot be assigned to a device.
	MaxAddress = 253
)

// DevicesRegistry holds the runtime records of every known device.
//
// All methods are safe for concurrent use. Lookups return copies.
type DevicesRegistry struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*DeviceRecord

	events EventPropagator
	now    func() time.Time
}

// NewDevicesRegistry creates an empty registry propagating to events.
func NewDevicesRegistry(events EventPropagator) *DevicesRegistry {
	return &DevicesRegistry{
		items:  make(map[uuid.UUID]*DeviceRecord),
		events: events,
		now:    time.Now,
	}
}

// GetByID returns the device with the given id.
func (r *DevicesRegistry) GetByID(id uuid.UUID) (DeviceRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.items[id]
	if !ok {
		return DeviceRecord{}, false
	}
	return *d, true
}

// GetByAddress returns the device at address on the given client.
func (r *DevicesRegistry) GetByAddress(clientID uuid.UUID, address int) (DeviceRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, d := range r.items {
		if d.ClientID == clientID && d.Address == address {
			return *d, true
		}
	}
	return DeviceRecord{}, false
}

// GetBySerialNumber returns the device with the given serial number.
func (r *DevicesRegistry) GetBySerialNumber(serialNumber string) (DeviceRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, d := range r.items {
		if d.SerialNumber == serialNumber {
			return *d, true
		}
	}
	return DeviceRecord{}, false
}

// GetAll returns every device ordered by client and address.
func (r *DevicesRegistry) GetAll() []DeviceRecord {
	r.mu.RLock()
	out := make([]DeviceRecord, 0, len(r.items))
	for _, d := range r.items {
		out = append(out, *d)
	}
	r.mu.RUnlock()

	sortDevices(out)
	return out
}

// GetAllForClient returns the devices of one client ordered by address.
func (r *DevicesRegistry) GetAllForClient(clientID uuid.UUID) []DeviceRecord {
	r.mu.RLock()
	var out []DeviceRecord
	for _, d := range r.items {
		if d.ClientID == clientID {
			out = append(out, *d)
		}
	}
	r.mu.RUnlock()

	sortDevices(out)
	return out
}

// Len returns the number of registered devices.
func (r *DevicesRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Initialize stores a record loaded from the entity store. Nothing is
// propagated.
func (r *DevicesRegistry) Initialize(record DeviceRecord) DeviceRecord {
	record.applyDefaults()

	r.mu.Lock()
	stored := record
	r.items[record.ID] = &stored
	r.mu.Unlock()

	return record
}

// Create stores a new or replacement record and propagates it.
func (r *DevicesRegistry) Create(record DeviceRecord) DeviceRecord {
	record = r.Initialize(record)
	r.events.Propagate(DeviceRecordEvent{Record: record})
	return record
}

// Remove deletes a device record.
func (r *DevicesRegistry) Remove(id uuid.UUID) {
	r.mu.Lock()
	delete(r.items, id)
	r.mu.Unlock()
}

// Reset removes the devices of clientID, or every device when clientID is
// uuid.Nil. It returns the ids of the removed devices.
func (r *DevicesRegistry) Reset(clientID uuid.UUID) []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []uuid.UUID
	for id, d := range r.items {
		if clientID == uuid.Nil || d.ClientID == clientID {
			removed = append(removed, id)
			delete(r.items, id)
		}
	}
	return removed
}

// SetReady marks whether the device is ready for communication.
func (r *DevicesRegistry) SetReady(id uuid.UUID, ready bool) (DeviceRecord, error) {
	return r.update(id, func(d *DeviceRecord) { d.Ready = ready })
}

// Enable enables the device and propagates its state.
func (r *DevicesRegistry) Enable(id uuid.UUID) (DeviceRecord, error) {
	return r.updateState(id, func(d *DeviceRecord) { d.Enabled = true })
}

// Disable disables the device and propagates its state.
func (r *DevicesRegistry) Disable(id uuid.UUID) (DeviceRecord, error) {
	return r.updateState(id, func(d *DeviceRecord) { d.Enabled = false })
}

// SetState changes the device state and propagates it.
func (r *DevicesRegistry) SetState(id uuid.UUID, state bus.ConnectionState) (DeviceRecord, error) {
	now := r.now()
	return r.updateState(id, func(d *DeviceRecord) { d.setState(state, now) })
}

// SetDeviceIsLost marks the device as lost.
func (r *DevicesRegistry) SetDeviceIsLost(id uuid.UUID) (DeviceRecord, error) {
	return r.SetState(id, bus.StateUnknown)
}

// SetDeviceIsFound clears the lost mark of a device that answered a ping.
// The state stays unknown so that it is read again.
func (r *DevicesRegistry) SetDeviceIsFound(id uuid.UUID) (DeviceRecord, error) {
	return r.update(id, func(d *DeviceRecord) {
		d.LostTime = time.Time{}
		d.resetCommunication()
	})
}

// ResetCommunication clears the expected reply and the attempts counter.
func (r *DevicesRegistry) ResetCommunication(id uuid.UUID) (DeviceRecord, error) {
	return r.update(id, func(d *DeviceRecord) { d.resetCommunication() })
}

// SetWaitingForPacket records the reply expected from the device. A zero
// packet clears it.
func (r *DevicesRegistry) SetWaitingForPacket(id uuid.UUID, packet bus.Packet) (DeviceRecord, error) {
	now := r.now()
	return r.update(id, func(d *DeviceRecord) { d.setWaitingForPacket(packet, now) })
}

// SetReadingRegister moves the reading pointer.
func (r *DevicesRegistry) SetReadingRegister(id uuid.UUID, address int, registerType bus.RegisterType) (DeviceRecord, error) {
	return r.update(id, func(d *DeviceRecord) {
		d.ReadingAddress = address
		d.ReadingType = registerType
	})
}

// ResetReadingRegister clears the reading pointer. With resetTimestamp the
// next reading is due immediately.
func (r *DevicesRegistry) ResetReadingRegister(id uuid.UUID, resetTimestamp bool) (DeviceRecord, error) {
	now := r.now()
	return r.update(id, func(d *DeviceRecord) { d.resetReadingRegister(resetTimestamp, now) })
}

// SetAddress changes the bus address of a device and propagates the record.
func (r *DevicesRegistry) SetAddress(id uuid.UUID, address int) (DeviceRecord, error) {
	d, err := r.update(id, func(d *DeviceRecord) { d.Address = address })
	if err != nil {
		return d, err
	}
	r.events.Propagate(DeviceRecordEvent{Record: d})
	return d, nil
}

// FindFreeAddress returns the lowest address in 1..MaxAddress-1 that no
// device of clientID uses.
func (r *DevicesRegistry) FindFreeAddress(clientID uuid.UUID) (int, bool) {
	r.mu.RLock()
	used := make(map[int]bool, len(r.items))
	for _, d := range r.items {
		if d.ClientID == clientID {
			used[d.Address] = true
		}
	}
	r.mu.RUnlock()

	for address := 1; address < MaxAddress; address++ {
		if !used[address] {
			return address, true
		}
	}
	return 0, false
}

func (r *DevicesRegistry) update(id uuid.UUID, fn func(*DeviceRecord)) (DeviceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.items[id]
	if !ok {
		return DeviceRecord{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	fn(d)
	return *d, nil
}

func (r *DevicesRegistry) updateState(id uuid.UUID, fn func(*DeviceRecord)) (DeviceRecord, error) {
	d, err := r.update(id, fn)
	if err != nil {
		return d, err
	}
	r.events.Propagate(DeviceStateEvent{Record: d})
	return d, nil
}

func sortDevices(devices []DeviceRecord) {
	sort.Slice(devices, func(i, j int) bool {
		if devices[i].ClientID != devices[j].ClientID {
			return devices[i].ClientID.String() < devices[j].ClientID.String()
		}
		return devices[i].Address < devices[j].Address
	})
}
