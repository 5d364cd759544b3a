package connector

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fastybird/fb-bus-connector/internal/bus"
)

type receiverFixture struct {
	devices   *DevicesRegistry
	registers *RegistersRegistry
	receiver  *Receiver
	clientID  uuid.UUID
	device    DeviceRecord
}

func newReceiverFixture() *receiverFixture {
	events := &eventRecorder{}
	devices := NewDevicesRegistry(events)
	registers := NewRegistersRegistry(events)
	pairing := NewPairing(devices, registers, &fakeTransporter{}, nil)

	clientID := uuid.New()
	d := devices.Initialize(DeviceRecord{ClientID: clientID, ID: uuid.New(), Address: 5, Enabled: true, Ready: true})

	return &receiverFixture{
		devices:   devices,
		registers: registers,
		receiver:  NewReceiver(devices, registers, pairing, nil),
		clientID:  clientID,
		device:    d,
	}
}

func (f *receiverFixture) receive(t *testing.T, payload []byte) {
	t.Helper()
	f.receiver.OnMessage(payload, f.device.Address, f.clientID)
	f.receiver.Handle()
}

func (f *receiverFixture) current() DeviceRecord {
	d, _ := f.devices.GetByID(f.device.ID)
	return d
}

func TestReceiverDeviceState(t *testing.T) {
	f := newReceiverFixture()
	f.devices.SetWaitingForPacket(f.device.ID, bus.PacketReadState)

	f.receive(t, []byte{0x01, byte(bus.PacketReportState), byte(bus.StateRunning)})

	d := f.current()
	if !d.IsRunning() {
		t.Errorf("state = %v, want running", d.State)
	}
	if d.WaitingForPacket != 0 || d.Attempts != 0 {
		t.Errorf("communication not reset: %+v", d)
	}
}

func TestReceiverPongClearsLost(t *testing.T) {
	f := newReceiverFixture()
	f.devices.SetState(f.device.ID, bus.StateRunning)
	f.devices.SetDeviceIsLost(f.device.ID)
	f.devices.SetWaitingForPacket(f.device.ID, bus.PacketPing)
	if !f.current().IsLost() {
		t.Fatal("device should be lost")
	}

	f.receive(t, []byte{0x01, byte(bus.PacketPong)})

	d := f.current()
	if d.IsLost() {
		t.Error("device is still lost")
	}
	if !d.IsUnknown() {
		t.Errorf("state = %v, want unknown", d.State)
	}
	if d.WaitingForPacket != 0 || d.Attempts != 0 {
		t.Errorf("communication not reset: %+v", d)
	}
}

func TestReceiverSingleRegisterReport(t *testing.T) {
	f := newReceiverFixture()
	reg := f.registers.Initialize(NewInputRegister(f.device.ID, uuid.New(), 1, bus.DataTypeUint8))
	f.devices.ResetReadingRegister(f.device.ID, true)

	f.receive(t, []byte{0x01, byte(bus.PacketReportSingleRegister), byte(bus.RegisterTypeInput), 0x00, 0x01, 0x2A, 0x00, 0x00, 0x00})

	got, _ := f.registers.GetByID(reg.ID)
	if got.ActualValue != uint32(42) {
		t.Errorf("actual value = %v, want 42", got.ActualValue)
	}
	if f.current().LastReadingTime.IsZero() {
		t.Error("report should restart the sampling period")
	}
}

func TestReceiverMultipleRegisters(t *testing.T) {
	f := newReceiverFixture()
	first := f.registers.Initialize(NewOutputRegister(f.device.ID, uuid.New(), 0, bus.DataTypeBoolean))
	second := f.registers.Initialize(NewOutputRegister(f.device.ID, uuid.New(), 1, bus.DataTypeBoolean))
	f.devices.SetWaitingForPacket(f.device.ID, bus.PacketReadMultipleRegisters)

	f.receive(t, []byte{
		0x01, byte(bus.PacketReadMultipleRegisters), byte(bus.RegisterTypeOutput), 0x00, 0x00, 0x02,
		0x00, 0xFF, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
	})

	if got, _ := f.registers.GetByID(first.ID); got.ActualValue != true {
		t.Errorf("first = %v, want true", got.ActualValue)
	}
	if got, _ := f.registers.GetByID(second.ID); got.ActualValue != false {
		t.Errorf("second = %v, want false", got.ActualValue)
	}
	if f.current().Attempts != 0 {
		t.Error("communication not reset")
	}
}

func TestReceiverWriteKeyReply(t *testing.T) {
	f := newReceiverFixture()
	reg := f.registers.Initialize(NewInputRegister(f.device.ID, uuid.New(), 0, bus.DataTypeUint8))
	f.registers.SetWaitingForData(reg.ID, true)

	f.receive(t, []byte{0x01, byte(bus.PacketPubSubWriteRegisterKey), byte(bus.RegisterTypeInput), 0x00, 0x00})

	got, _ := f.registers.GetByID(reg.ID)
	if got.KeyState != bus.KeyStateYes || got.WaitingForData {
		t.Errorf("register = %+v", got)
	}
}

func TestReceiverBroadcast(t *testing.T) {
	f := newReceiverFixture()
	reg := f.registers.Initialize(NewInputRegister(f.device.ID, uuid.New(), 0, bus.DataTypeUint8))

	payload := []byte{0x01, byte(bus.PacketPubSubBroadcastRegisterValue), byte(len(reg.Key))}
	payload = append(payload, reg.Key...)
	payload = append(payload, byte(bus.DataTypeUint8), 0x07, 0x00, 0x00, 0x00)
	f.receive(t, payload)

	if got, _ := f.registers.GetByID(reg.ID); got.ActualValue != uint32(7) {
		t.Errorf("actual value = %v, want 7", got.ActualValue)
	}
}

func TestReceiverDropsInvalidMessages(t *testing.T) {
	f := newReceiverFixture()

	tests := []struct {
		name    string
		payload []byte
		address int
	}{
		{"wrong version", []byte{0x02, byte(bus.PacketPong)}, 5},
		{"unknown packet", []byte{0x01, 0x7F}, 5},
		{"unknown device", []byte{0x01, byte(bus.PacketReportSingleRegister), 0x01, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00}, 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.receiver.OnMessage(tt.payload, tt.address, f.clientID)
			if !f.receiver.IsEmpty() {
				t.Error("invalid message was queued")
			}
		})
	}
}

func TestReceiverPairingFinished(t *testing.T) {
	f := newReceiverFixture()

	f.receive(t, []byte{0x01, byte(bus.PacketDiscover), byte(bus.PairingRespPairingFinished), byte(bus.StateRunning)})

	if !f.current().IsRunning() {
		t.Errorf("state = %v, want running", f.current().State)
	}
}

func TestReceiverWriteAddressReply(t *testing.T) {
	f := newReceiverFixture()
	d := f.devices.Initialize(DeviceRecord{ClientID: f.clientID, ID: uuid.New(), Address: 7, SerialNumber: "SN-7"})

	payload := []byte{0x01, byte(bus.PacketDiscover), byte(bus.PairingRespWriteAddress), 4}
	payload = append(payload, "SN-7"...)
	f.receiver.OnMessage(payload, 8, f.clientID)
	f.receiver.Handle()

	got, _ := f.devices.GetByID(d.ID)
	if got.Address != 8 {
		t.Errorf("address = %d, want 8", got.Address)
	}
}

func TestReceiverQueueCapacity(t *testing.T) {
	f := newReceiverFixture()
	for i := 0; i < ReceiverQueueCapacity+3; i++ {
		f.receiver.OnMessage([]byte{0x01, byte(bus.PacketPong)}, 5, f.clientID)
	}
	n := 0
	deadline := time.Now().Add(time.Second)
	for f.receiver.Handle() && time.Now().Before(deadline) {
		n++
	}
	if n != ReceiverQueueCapacity {
		t.Errorf("handled = %d, want %d", n, ReceiverQueueCapacity)
	}
}
