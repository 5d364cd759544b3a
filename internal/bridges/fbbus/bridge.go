package fbbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fastybird/fb-bus-connector/internal/connector"
	"github.com/fastybird/fb-bus-connector/internal/device"
	"github.com/fastybird/fb-bus-connector/internal/infrastructure/mqtt"
)

// Bridge operation constants.
const (
	// outboxCapacity is the number of MQTT messages waiting to be published.
	outboxCapacity = 256

	// connectorAddress is the topic address used for connector level
	// commands and acknowledgments.
	connectorAddress = "connector"
)

// Logger is the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

func loggerOrNoop(l Logger) Logger {
	if l == nil {
		return noopLogger{}
	}
	return l
}

// MQTTClient is the interface for MQTT operations. It is implemented by
// mqtt.Client.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// Connector is the runtime the bridge drives. It is implemented by
// connector.Connector.
type Connector interface {
	HealthSource
	WriteProperty(registerID uuid.UUID, value any) error
	DiscoverDevices() error
}

type outMessage struct {
	topic    string
	payload  []byte
	retained bool
}

// Bridge connects the connector to MQTT. Commands received on the command
// topic are applied to the connector. Connector events are published as
// retained device state.
//
// Bridge implements connector.Consumer. All methods are safe for concurrent
// use.
type Bridge struct {
	id        string
	qos       byte
	mqtt      MQTTClient
	connector Connector
	health    *HealthReporter

	// Last published state per device
	stateCache   map[string]*StateMessage
	stateCacheMu sync.Mutex

	outbox chan outMessage

	// Shutdown coordination
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger Logger
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// ID identifies the bridge in health messages.
	ID      string
	Version string

	MQTTClient MQTTClient
	Connector  Connector
	Logger     Logger

	// QoS applies to commands, state and acknowledgements. Health is
	// always published with QoS 1.
	QoS byte

	// HealthInterval defaults to DefaultHealthInterval.
	HealthInterval time.Duration
}

// NewBridge creates a bridge. Call Start to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Connector == nil {
		return nil, fmt.Errorf("connector is required")
	}

	logger := loggerOrNoop(opts.Logger)

	b := &Bridge{
		id:         opts.ID,
		qos:        opts.QoS,
		mqtt:       opts.MQTTClient,
		connector:  opts.Connector,
		stateCache: make(map[string]*StateMessage),
		outbox:     make(chan outMessage, outboxCapacity),
		done:       make(chan struct{}),
		logger:     logger,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  opts.ID,
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTTClient,
		Source:    opts.Connector,
		Logger:    logger,
	})

	return b, nil
}

// Start subscribes to commands and starts the publisher and health loops.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logger.Error("failed to publish starting status", "error", err)
	}

	commandTopic := CommandSubscribeTopic()
	if err := b.mqtt.Subscribe(commandTopic, b.qos, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logger.Info("subscribed to commands", "topic", commandTopic)

	b.wg.Add(1)
	go b.publishLoop(ctx)

	b.health.Start(ctx)

	b.logger.Info("bridge started", "bridge_id", b.id)
	return nil
}

// Stop drops the command subscription, publishes the queued messages and
// stops the publisher and health loops. The state cache is cleared.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		if b.mqtt.IsConnected() {
			if err := b.mqtt.Unsubscribe(CommandSubscribeTopic()); err != nil {
				b.logger.Warn("failed to unsubscribe from commands", "error", err)
			}
		}
		close(b.done)
		b.wg.Wait()
		b.flushOutbox()
		b.health.Stop()
		b.clearStateCache()
		b.logger.Info("bridge stopped")
	})
}

// PublishHealth publishes the current health status. It is called after a
// broker reconnect replaces the retained status with the will.
func (b *Bridge) PublishHealth() error {
	return b.health.PublishNow()
}

// Consume implements connector.Consumer.
func (b *Bridge) Consume(_ context.Context, event connector.Event) error {
	switch e := event.(type) {
	case connector.DeviceRecordEvent:
		b.updateDevice(e.Record)
		b.publishDiscovery(e.Record)

	case connector.DeviceStateEvent:
		b.updateDevice(e.Record)

	case connector.RegisterActualValueEvent:
		b.updateProperty(e)
	}
	return nil
}

func (b *Bridge) updateDevice(record connector.DeviceRecord) {
	id := record.ID.String()

	b.stateCacheMu.Lock()
	state := b.cachedState(id)
	state.Timestamp = time.Now().UTC()
	state.Address = record.Address
	state.SerialNumber = record.SerialNumber
	state.State = record.State.Gateway()
	payload, err := json.Marshal(state)
	b.stateCacheMu.Unlock()

	if err != nil {
		b.logger.Error("failed to marshal state", "error", err)
		return
	}
	b.enqueue(StateTopic(id), payload, true)
}

func (b *Bridge) updateProperty(e connector.RegisterActualValueEvent) {
	id := e.Device.String()
	identifier := device.PropertyIdentifier(device.RegisterKind(e.RegisterType.String()), e.Address)

	b.stateCacheMu.Lock()
	state := b.cachedState(id)
	state.Timestamp = time.Now().UTC()
	state.Properties[identifier] = PropertyState{
		ID:            e.Register.String(),
		ActualValue:   e.ActualValue,
		ExpectedValue: e.ExpectedValue,
	}
	payload, err := json.Marshal(state)
	b.stateCacheMu.Unlock()

	if err != nil {
		b.logger.Error("failed to marshal state", "error", err)
		return
	}
	b.enqueue(StateTopic(id), payload, true)
}

// cachedState returns the cached state of a device. Callers hold stateCacheMu.
func (b *Bridge) cachedState(deviceID string) *StateMessage {
	state, ok := b.stateCache[deviceID]
	if !ok {
		state = &StateMessage{
			DeviceID:   deviceID,
			Protocol:   Protocol,
			State:      "unknown",
			Properties: make(map[string]PropertyState),
		}
		b.stateCache[deviceID] = state
	}
	return state
}

// clearStateCache forgets every published state.
func (b *Bridge) clearStateCache() {
	b.stateCacheMu.Lock()
	b.stateCache = make(map[string]*StateMessage)
	b.stateCacheMu.Unlock()
}

func (b *Bridge) publishDiscovery(record connector.DeviceRecord) {
	payload, err := json.Marshal(DiscoveryMessage{
		Timestamp:            time.Now().UTC(),
		DeviceID:             record.ID.String(),
		SerialNumber:         record.SerialNumber,
		Address:              record.Address,
		HardwareManufacturer: record.HardwareManufacturer,
		HardwareModel:        record.HardwareModel,
		HardwareVersion:      record.HardwareVersion,
		FirmwareManufacturer: record.FirmwareManufacturer,
		FirmwareVersion:      record.FirmwareVersion,
	})
	if err != nil {
		b.logger.Error("failed to marshal discovery", "error", err)
		return
	}
	b.enqueue(DiscoveryTopic(), payload, false)
}

func (b *Bridge) enqueue(topic string, payload []byte, retained bool) {
	select {
	case b.outbox <- outMessage{topic: topic, payload: payload, retained: retained}:
	default:
		b.logger.Warn("MQTT outbox is full, dropping message", "topic", topic)
	}
}

func (b *Bridge) publishLoop(ctx context.Context) {
	defer b.wg.Done()

	for {
		select {
		case <-ctx.Done():
			b.flushOutbox()
			return
		case <-b.done:
			b.flushOutbox()
			return
		case msg := <-b.outbox:
			b.publish(msg)
		}
	}
}

// flushOutbox publishes the queued messages without waiting for new ones.
func (b *Bridge) flushOutbox() {
	for {
		select {
		case msg := <-b.outbox:
			b.publish(msg)
		default:
			return
		}
	}
}

func (b *Bridge) publish(msg outMessage) {
	if err := b.mqtt.Publish(msg.topic, msg.payload, b.qos, msg.retained); err != nil {
		b.logger.Error("failed to publish", "topic", msg.topic, "error", err)
	}
}

// handleMQTTMessage routes incoming MQTT messages.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) error {
	route, err := mqtt.ParseTopic(topic)
	if err != nil {
		return err
	}
	if route.Category != mqtt.CategoryCommand || route.ConnectorType != Protocol || route.Address == "" {
		return fmt.Errorf("unexpected topic %s", topic)
	}

	b.handleCommand(route.Address, payload)
	return nil
}

// handleCommand applies a command. The device id in the payload takes
// precedence over the topic address.
func (b *Bridge) handleCommand(address string, payload []byte) {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logger.Error("failed to parse command", "error", err)
		return
	}
	if cmd.DeviceID == "" && address != connectorAddress {
		cmd.DeviceID = address
	}

	b.logger.Info("received command",
		"command_id", cmd.ID,
		"device_id", cmd.DeviceID,
		"command", cmd.Command)

	switch cmd.Command {
	case CommandWriteProperty:
		b.executeWriteProperty(cmd)
	case CommandDiscover:
		b.executeDiscover(cmd)
	default:
		b.publishAckError(cmd, ErrCodeInvalidCommand, fmt.Sprintf("unknown command %q", cmd.Command))
	}
}

func (b *Bridge) executeWriteProperty(cmd CommandMessage) {
	registerID, err := uuid.Parse(cmd.PropertyID)
	if err != nil {
		b.publishAckError(cmd, ErrCodeInvalidParameters, fmt.Sprintf("invalid property id %q", cmd.PropertyID))
		return
	}

	if err := b.connector.WriteProperty(registerID, cmd.Value); err != nil {
		b.publishAckError(cmd, errorCode(err), err.Error())
		return
	}
	b.publishAck(cmd, AckAccepted)
}

func (b *Bridge) executeDiscover(cmd CommandMessage) {
	if err := b.connector.DiscoverDevices(); err != nil {
		b.publishAckError(cmd, errorCode(err), err.Error())
		return
	}
	b.publishAck(cmd, AckAccepted)
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, connector.ErrConnectorStopped):
		return ErrCodeConnectorStopped
	case errors.Is(err, connector.ErrRegisterNotFound), errors.Is(err, connector.ErrDeviceNotFound):
		return ErrCodeNotConfigured
	case errors.Is(err, connector.ErrInvalidValue), errors.Is(err, connector.ErrRegisterNotSettable):
		return ErrCodeInvalidParameters
	}
	return ErrCodeBridgeError
}

func ackAddress(cmd CommandMessage) string {
	if cmd.DeviceID == "" {
		return connectorAddress
	}
	return cmd.DeviceID
}

func (b *Bridge) publishAck(cmd CommandMessage, status AckStatus) {
	payload, err := json.Marshal(NewAckMessage(cmd, status))
	if err != nil {
		b.logger.Error("failed to marshal ack", "error", err)
		return
	}
	b.enqueue(AckTopic(ackAddress(cmd)), payload, false)
}

func (b *Bridge) publishAckError(cmd CommandMessage, code, message string) {
	payload, err := json.Marshal(NewAckError(cmd, code, message))
	if err != nil {
		b.logger.Error("failed to marshal ack error", "error", err)
		return
	}
	b.enqueue(AckTopic(ackAddress(cmd)), payload, false)

	b.logger.Warn("command failed", "command_id", cmd.ID, "code", code, "message", message)
}
