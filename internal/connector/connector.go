package connector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/fastybird/fb-bus-connector/internal/bus"
	"github.com/fastybird/fb-bus-connector/internal/device"
)

// DefaultLoopInterval is the pause between two connector loop iterations.
const DefaultLoopInterval = 5 * time.Millisecond

// Settings configures the bus client of a connector.
type Settings struct {
	// ID identifies the connector. It is also the id of its bus client.
	ID uuid.UUID

	ClientType bus.ClientType
	Address    int
	Interface  string
	BaudRate   int
	Protocol   bus.ProtocolVersion
}

// DefaultSettings returns the settings of an unconfigured connector.
func DefaultSettings() Settings {
	return Settings{
		ClientType: bus.ClientTypePJON,
		Address:    device.DefaultAddress,
		Interface:  device.DefaultInterface,
		BaudRate:   device.DefaultBaudRate,
		Protocol:   bus.ProtocolV1,
	}
}

// SettingsFromConnector builds settings from a stored connector. Unset
// fields fall back to the defaults.
func SettingsFromConnector(c *device.Connector) (Settings, error) {
	id, err := uuid.Parse(c.ID)
	if err != nil {
		return Settings{}, fmt.Errorf("parsing connector id %q: %w", c.ID, err)
	}

	protocol, err := bus.ParseProtocolVersion(string(c.GetProtocol()))
	if err != nil {
		return Settings{}, err
	}

	s := DefaultSettings()
	s.ID = id
	s.Address = c.GetAddress()
	s.Interface = c.GetInterface()
	s.BaudRate = c.GetBaudRate()
	s.Protocol = protocol
	return s, nil
}

// EntityStore is the persistent side of the connector. It is implemented by
// device.Registry.
type EntityStore interface {
	GetDevice(ctx context.Context, id string) (*device.Device, error)
	ListDevices(ctx context.Context, connectorID string) ([]device.Device, error)
	SaveDevice(ctx context.Context, d *device.Device) error
	SetDeviceState(ctx context.Context, id string, state device.State) error
	ListProperties(ctx context.Context, deviceID string) ([]device.Property, error)
	SaveProperty(ctx context.Context, p *device.Property) error
	SetPropertyValues(ctx context.Context, id string, actual, expected any) error
}

// Options configures a Connector.
type Options struct {
	Settings Settings
	Store    EntityStore
	Logger   Logger

	// OpenPort opens the serial interface. Nil uses the system serial port.
	OpenPort PortOpener

	// Now overrides the clock of the registries, publisher and pairing.
	Now func() time.Time
}

// Connector runs the FB BUS protocol for one bus client.
//
// Lifecycle: New, Initialize, Start, then Run (or Handle in a loop) until
// the context ends, then Stop.
type Connector struct {
	settings Settings
	store    EntityStore

	events    *Events
	devices   *DevicesRegistry
	registers *RegistersRegistry
	clients   *ClientProxy
	factory   *ClientFactory
	receiver  *Receiver
	publisher *Publisher
	pairing   *Pairing

	// handleMu serialises loop iterations.
	handleMu sync.Mutex
	pending  int

	failures chan error

	stopped atomic.Bool
	logger  Logger
}

// New builds a stopped connector. The store consumer is registered so that
// every registry change is persisted.
func New(opts Options) *Connector {
	logger := loggerOrNoop(opts.Logger)

	events := NewEvents(logger)
	devices := NewDevicesRegistry(events)
	registers := NewRegistersRegistry(events)
	clients := NewClientProxy(logger)
	pairing := NewPairing(devices, registers, clients, logger)
	receiver := NewReceiver(devices, registers, pairing, logger)
	publisher := NewPublisher(devices, registers, clients, logger)

	if opts.Now != nil {
		devices.now = opts.Now
		publisher.now = opts.Now
		pairing.now = opts.Now
	}

	c := &Connector{
		settings:  opts.Settings,
		store:     opts.Store,
		events:    events,
		devices:   devices,
		registers: registers,
		clients:   clients,
		factory:   NewClientFactory(clients, receiver, opts.OpenPort, logger),
		receiver:  receiver,
		publisher: publisher,
		pairing:   pairing,
		failures:  make(chan error, 1),
		logger:    logger,
	}
	c.stopped.Store(true)
	c.factory.SetFailureHandler(c.clientFailed)

	if opts.Store != nil {
		consumer := NewStoreConsumer(opts.Settings.ID.String(), opts.Store, logger)
		consumer.devices = devices
		events.Register(consumer)
	}
	return c
}

// ID returns the connector id.
func (c *Connector) ID() uuid.UUID {
	return c.settings.ID
}

// RegisterConsumer adds an event consumer.
func (c *Connector) RegisterConsumer(consumer Consumer) {
	c.events.Register(consumer)
}

// Initialize configures the bus client and loads the devices and their
// registers from the store. The client reader runs until ctx is cancelled.
func (c *Connector) Initialize(ctx context.Context) error {
	c.clients.Reset()
	if _, err := c.factory.Create(ctx, ClientOptions{
		ID:        c.settings.ID,
		Type:      c.settings.ClientType,
		Address:   c.settings.Address,
		Interface: c.settings.Interface,
		BaudRate:  c.settings.BaudRate,
		Protocol:  c.settings.Protocol,
	}); err != nil {
		return fmt.Errorf("creating bus client: %w", err)
	}

	c.devices.Reset(uuid.Nil)
	c.registers.Reset(uuid.Nil, 0)

	if c.store == nil {
		return nil
	}

	devices, err := c.store.ListDevices(ctx, c.settings.ID.String())
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	for _, d := range devices {
		record, err := deviceRecordFromEntity(c.settings.ID, d)
		if err != nil {
			c.logger.Warn("stored device skipped", "device_id", d.ID, "error", err)
			continue
		}
		c.devices.Initialize(record)

		if err := c.loadRegisters(ctx, record.ID); err != nil {
			return err
		}
	}

	c.logger.Info("connector initialized",
		"connector_id", c.settings.ID.String(),
		"devices", c.devices.Len())
	return nil
}

func (c *Connector) loadRegisters(ctx context.Context, deviceID uuid.UUID) error {
	properties, err := c.store.ListProperties(ctx, deviceID.String())
	if err != nil {
		return fmt.Errorf("loading properties of %s: %w", deviceID, err)
	}

	for _, p := range properties {
		record, err := registerRecordFromProperty(deviceID, p)
		if err != nil {
			c.logger.Warn("stored property skipped",
				"device_id", deviceID.String(),
				"property", p.Identifier,
				"error", err)
			continue
		}
		c.registers.Initialize(record)
	}
	return nil
}

// Start marks every device as UNKNOWN so its state is read first and
// enables the loop.
func (c *Connector) Start() {
	for _, d := range c.devices.GetAll() {
		if _, err := c.devices.SetState(d.ID, bus.StateUnknown); err != nil {
			c.logger.Error("device state could not be reset", "device_id", d.ID.String(), "error", err)
		}
	}

	c.stopped.Store(false)
	c.logger.Info("connector started", "connector_id", c.settings.ID.String())
}

// Stop disables the loop and pairing, closes the bus clients and marks every
// device disconnected in the store.
func (c *Connector) Stop(ctx context.Context) {
	c.stopped.Store(true)
	c.pairing.Disable()
	c.clients.Reset()

	if c.store != nil {
		for _, d := range c.devices.GetAll() {
			err := c.store.SetDeviceState(ctx, d.ID.String(), device.StateDisconnected)
			if err != nil && !errors.Is(err, device.ErrDeviceNotFound) {
				c.logger.Error("device state could not be stored", "device_id", d.ID.String(), "error", err)
			}
		}
	}

	c.logger.Info("connector stopped", "connector_id", c.settings.ID.String())
}

// IsStopped reports whether the connector loop is disabled.
func (c *Connector) IsStopped() bool {
	return c.stopped.Load()
}

// Handle runs one loop iteration: received packets, then pairing or the
// publisher, then the bus client, then one event.
func (c *Connector) Handle(ctx context.Context) {
	c.handleMu.Lock()
	defer c.handleMu.Unlock()

	c.receiver.Handle()

	if !c.stopped.Load() {
		if c.pairing.IsEnabled() {
			c.pairing.Handle()
		} else if c.pending == 0 {
			c.publisher.Loop()
		}
	}

	c.pending = c.clients.Handle()
	c.events.Handle(ctx)
}

// Run calls Handle every interval until ctx is cancelled or a bus client
// fails. Queued events are dispatched before it returns. A failed client is
// reported as an error wrapping ErrClientFailed.
func (c *Connector) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultLoopInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.drain()
			return nil
		case err := <-c.failures:
			c.drain()
			return err
		case <-ticker.C:
			c.Handle(ctx)
		}
	}
}

func (c *Connector) clientFailed(clientID uuid.UUID, err error) {
	c.logger.Error("bus client failed", "client_id", clientID.String(), "error", err)
	select {
	case c.failures <- fmt.Errorf("%w: %s: %w", ErrClientFailed, clientID, err):
	default:
	}
}

func (c *Connector) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for c.receiver.Handle() {
	}
	for c.events.Handle(ctx) {
	}
}

// WriteProperty stores value as the expected value of a register. The
// publisher writes it to the device.
func (c *Connector) WriteProperty(registerID uuid.UUID, value any) error {
	if c.stopped.Load() {
		return ErrConnectorStopped
	}

	reg, ok := c.registers.GetByID(registerID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrRegisterNotFound, registerID)
	}
	if !reg.Settable {
		return fmt.Errorf("%w: %s", ErrRegisterNotSettable, registerID)
	}

	expected := bus.TransformForDevice(reg.DataType, value)
	if expected == nil {
		return fmt.Errorf("%w: %v for %s", ErrInvalidValue, value, reg.DataType)
	}

	reg, err := c.registers.SetExpectedValue(registerID, expected)
	if err != nil {
		return err
	}
	c.events.Propagate(valueEvent(reg))

	c.logger.Debug("expected value stored",
		"device_id", reg.DeviceID.String(),
		"register_type", reg.Type.String(),
		"register_address", reg.Address)
	return nil
}

// DiscoverDevices starts pairing.
func (c *Connector) DiscoverDevices() error {
	if c.stopped.Load() {
		return ErrConnectorStopped
	}
	c.pairing.Enable()
	return nil
}

// IsPairing reports whether pairing is running.
func (c *Connector) IsPairing() bool {
	return c.pairing.IsEnabled()
}

// RemoveDevice forgets a device and its registers. The store is not changed.
func (c *Connector) RemoveDevice(id uuid.UUID) {
	c.devices.Remove(id)
	c.registers.Reset(id, 0)
}

// ResetDevices forgets every device and register.
func (c *Connector) ResetDevices() {
	c.devices.Reset(uuid.Nil)
	c.registers.Reset(uuid.Nil, 0)
}

// RemoveProperty forgets a register. The store is not changed.
func (c *Connector) RemoveProperty(id uuid.UUID) {
	c.registers.Remove(id)
}

// Devices returns every device record.
func (c *Connector) Devices() []DeviceRecord {
	return c.devices.GetAll()
}

// Device returns one device record.
func (c *Connector) Device(id uuid.UUID) (DeviceRecord, bool) {
	return c.devices.GetByID(id)
}

// Registers returns the registers of a device.
func (c *Connector) Registers(deviceID uuid.UUID) []RegisterRecord {
	return c.registers.GetAllForDevice(deviceID)
}

// Register returns one register record.
func (c *Connector) Register(id uuid.UUID) (RegisterRecord, bool) {
	return c.registers.GetByID(id)
}

// PendingEvents returns the number of queued events.
func (c *Connector) PendingEvents() int {
	return c.events.Len()
}
