package connector

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/fastybird/fb-bus-connector/internal/bus"
	"github.com/fastybird/fb-bus-connector/internal/device"
)

// fakeStore is an in-memory EntityStore.
type fakeStore struct {
	mu         sync.Mutex
	devices    map[string]device.Device
	properties map[string]device.Property
	states     map[string]device.State

	listErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		devices:    make(map[string]device.Device),
		properties: make(map[string]device.Property),
		states:     make(map[string]device.State),
	}
}

func (s *fakeStore) GetDevice(_ context.Context, id string) (*device.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	if !ok {
		return nil, device.ErrDeviceNotFound
	}
	return &d, nil
}

func (s *fakeStore) ListDevices(_ context.Context, connectorID string) ([]device.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []device.Device
	for _, d := range s.devices {
		if d.ConnectorID == connectorID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

func (s *fakeStore) SaveDevice(_ context.Context, d *device.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[d.ID] = *d
	return nil
}

func (s *fakeStore) SetDeviceState(_ context.Context, id string, state device.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	if !ok {
		return device.ErrDeviceNotFound
	}
	d.State = state
	s.devices[id] = d
	s.states[id] = state
	return nil
}

func (s *fakeStore) ListProperties(_ context.Context, deviceID string) ([]device.Property, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []device.Property
	for _, p := range s.properties {
		if p.DeviceID == deviceID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out, nil
}

func (s *fakeStore) SaveProperty(_ context.Context, p *device.Property) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.properties[p.ID] = *p
	return nil
}

func (s *fakeStore) SetPropertyValues(_ context.Context, id string, actual, expected any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.properties[id]
	if !ok {
		return device.ErrPropertyNotFound
	}
	p.ActualValue = actual
	p.ExpectedValue = expected
	s.properties[id] = p
	return nil
}

func (s *fakeStore) device(id uuid.UUID) (device.Device, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id.String()]
	return d, ok
}

func (s *fakeStore) property(id uuid.UUID) (device.Property, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.properties[id.String()]
	return p, ok
}

func TestStoreConsumerDeviceRecord(t *testing.T) {
	store := newFakeStore()
	consumer := NewStoreConsumer("conn-1", store, nil)
	ctx := context.Background()

	record := DeviceRecord{ID: uuid.New(), SerialNumber: "SN-1", Address: 2, Enabled: true, State: bus.StateRunning}
	if err := consumer.Consume(ctx, DeviceRecordEvent{Record: record}); err != nil {
		t.Fatalf("Consume() error = %v", err)
	}

	stored, ok := store.device(record.ID)
	if !ok {
		t.Fatal("device not saved")
	}
	if stored.ConnectorID != "conn-1" || stored.Address != 2 || stored.State != device.StateRunning {
		t.Errorf("stored device = %+v", stored)
	}

	// A renamed device keeps its name on the next save.
	stored.Name = "Kitchen"
	store.SaveDevice(ctx, &stored) //nolint:errcheck // fake store

	record.Address = 9
	if err := consumer.Consume(ctx, DeviceRecordEvent{Record: record}); err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	stored, _ = store.device(record.ID)
	if stored.Name != "Kitchen" || stored.Address != 9 {
		t.Errorf("Name/Address = %q/%d, want Kitchen/9", stored.Name, stored.Address)
	}
}

func TestStoreConsumerDeviceState(t *testing.T) {
	store := newFakeStore()
	consumer := NewStoreConsumer("conn-1", store, nil)
	ctx := context.Background()

	// A state change never creates a device.
	record := DeviceRecord{ID: uuid.New(), SerialNumber: "SN-5", State: bus.StateStopped}
	if err := consumer.Consume(ctx, DeviceStateEvent{Record: record}); err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	if stored, ok := store.device(record.ID); ok {
		t.Fatalf("device saved on state change: %+v", stored)
	}

	if err := consumer.Consume(ctx, DeviceRecordEvent{Record: record}); err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	record.State = bus.StateError
	if err := consumer.Consume(ctx, DeviceStateEvent{Record: record}); err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	if got := store.states[record.ID.String()]; got != device.StateAlert {
		t.Errorf("state = %q, want alert", got)
	}
}

func TestStoreConsumerRegisters(t *testing.T) {
	store := newFakeStore()
	consumer := NewStoreConsumer("conn-1", store, nil)
	ctx := context.Background()

	reg := NewOutputRegister(uuid.New(), uuid.New(), 0, bus.DataTypeUint16)
	if err := consumer.Consume(ctx, RegisterRecordEvent{Record: reg}); err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	p, ok := store.property(reg.ID)
	if !ok || p.Identifier != "output_1" || p.DataType != "ushort" {
		t.Fatalf("stored property = %+v", p)
	}

	err := consumer.Consume(ctx, RegisterActualValueEvent{
		Device:        reg.DeviceID,
		Register:      reg.ID,
		ActualValue:   uint32(10),
		ExpectedValue: uint32(20),
	})
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	p, _ = store.property(reg.ID)
	if p.ActualValue != uint32(10) || p.ExpectedValue != uint32(20) {
		t.Errorf("values = %v/%v, want 10/20", p.ActualValue, p.ExpectedValue)
	}
}

func TestStoreConsumerSkipsUnstorable(t *testing.T) {
	store := newFakeStore()
	consumer := NewStoreConsumer("conn-1", store, nil)
	ctx := context.Background()

	dateReg := NewInputRegister(uuid.New(), uuid.New(), 0, bus.DataTypeDate)
	if err := consumer.Consume(ctx, RegisterRecordEvent{Record: dateReg}); err != nil {
		t.Errorf("Consume() error = %v, want nil for date register", err)
	}
	if _, ok := store.property(dateReg.ID); ok {
		t.Error("date register should not be stored")
	}

	err := consumer.Consume(ctx, RegisterActualValueEvent{Register: uuid.New(), ActualValue: true})
	if err != nil {
		t.Errorf("Consume() error = %v, want nil for unknown property", err)
	}
}

type failingStore struct {
	*fakeStore
	err error
}

func (s failingStore) GetDevice(context.Context, string) (*device.Device, error) {
	return nil, s.err
}

func TestStoreConsumerPropagatesErrors(t *testing.T) {
	storeErr := errors.New("database is locked")
	consumer := NewStoreConsumer("conn-1", failingStore{fakeStore: newFakeStore(), err: storeErr}, nil)

	err := consumer.Consume(context.Background(), DeviceRecordEvent{Record: DeviceRecord{ID: uuid.New()}})
	if !errors.Is(err, storeErr) {
		t.Errorf("error = %v, want %v", err, storeErr)
	}
}
