package fbbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fastybird/fb-bus-connector/internal/infrastructure/mqtt"
)

// Protocol is the connector type used in MQTT topics and messages.
const Protocol = "fb-bus"

// Command names accepted on the command topic.
const (
	CommandWriteProperty = "write_property"
	CommandDiscover      = "discover"
)

// CommandMessage is sent to the connector to change a register or start
// pairing.
// Topic: fbbus/command/fb-bus/{device_id}
type CommandMessage struct {
	// ID uniquely identifies this command for correlation with acknowledgments.
	ID string `json:"id"`

	// Timestamp is when the command was issued (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// DeviceID is the target device. Empty for discover.
	DeviceID string `json:"device_id,omitempty"`

	// Command is write_property or discover.
	Command string `json:"command"`

	// PropertyID is the register written by write_property.
	PropertyID string `json:"property_id,omitempty"`

	// Value is the gateway representation of the value to write.
	Value any `json:"value,omitempty"`

	// Source indicates where the command originated.
	Source string `json:"source,omitempty"`
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was accepted by the connector.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"
)

// AckMessage acknowledges a command.
// Topic: fbbus/ack/fb-bus/{device_id}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id,omitempty"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	// Code is the error code (e.g., "DEVICE_UNREACHABLE", "INVALID_COMMAND").
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeConnectorStopped  = "CONNECTOR_STOPPED"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// StateMessage carries the last known state of a device and the values of
// its registers.
// Topic: fbbus/state/fb-bus/{device_id}
// QoS: 1, Retained: Yes
type StateMessage struct {
	DeviceID     string    `json:"device_id"`
	Timestamp    time.Time `json:"timestamp"`
	Protocol     string    `json:"protocol"`
	Address      int       `json:"address"`
	SerialNumber string    `json:"serial_number,omitempty"`

	// State is the host-side connection state (running, stopped, init,
	// alert, unknown).
	State string `json:"state"`

	// Properties maps property identifiers (input_1, output_2, ...) to
	// their values.
	Properties map[string]PropertyState `json:"properties,omitempty"`
}

// PropertyState is the value pair of one register.
type PropertyState struct {
	ID            string `json:"id"`
	ActualValue   any    `json:"actual_value"`
	ExpectedValue any    `json:"expected_value,omitempty"`
}

// DiscoveryMessage announces a device created or updated by pairing.
// Topic: fbbus/discovery/fb-bus
type DiscoveryMessage struct {
	Timestamp            time.Time `json:"timestamp"`
	DeviceID             string    `json:"device_id"`
	SerialNumber         string    `json:"serial_number"`
	Address              int       `json:"address"`
	HardwareManufacturer string    `json:"hardware_manufacturer,omitempty"`
	HardwareModel        string    `json:"hardware_model,omitempty"`
	HardwareVersion      string    `json:"hardware_version,omitempty"`
	FirmwareManufacturer string    `json:"firmware_manufacturer,omitempty"`
	FirmwareVersion      string    `json:"firmware_version,omitempty"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the connector is operating normally.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the connector is operating with issues.
	HealthDegraded HealthStatus = "degraded"

	// HealthOffline indicates the bridge is not connected (from LWT).
	HealthOffline HealthStatus = "offline"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports the operational status of the connector.
// Topic: fbbus/health/fb-bus
// QoS: 1, Retained: Yes
// Interval: Every 30 seconds
type HealthMessage struct {
	Bridge        string       `json:"bridge"`
	Timestamp     time.Time    `json:"timestamp"`
	Status        HealthStatus `json:"status"`
	Version       string       `json:"version"`
	UptimeSeconds int64        `json:"uptime_seconds"`

	// Statistics contains device counters.
	Statistics *BridgeStatistics `json:"statistics,omitempty"`

	// Reason explains the status (especially for offline/degraded).
	Reason string `json:"reason,omitempty"`
}

// BridgeStatistics contains operational metrics.
type BridgeStatistics struct {
	DevicesManaged int  `json:"devices_managed"`
	DevicesRunning int  `json:"devices_running"`
	DevicesLost    int  `json:"devices_lost"`
	PendingEvents  int  `json:"pending_events"`
	Pairing        bool `json:"pairing"`
	Stopped        bool `json:"stopped"`
}

// UnmarshalJSON unmarshals a CommandMessage from JSON. A missing timestamp
// is accepted.
func (m *CommandMessage) UnmarshalJSON(data []byte) error {
	type Alias CommandMessage
	aux := &struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias: (*Alias)(m),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return fmt.Errorf("unmarshal command message: %w", err)
	}
	if aux.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, aux.Timestamp)
		if err != nil {
			return fmt.Errorf("parse timestamp: %w", err)
		}
		m.Timestamp = t
	}
	return nil
}

// NewAckMessage creates an acknowledgment message for a command.
func NewAckMessage(cmd CommandMessage, status AckStatus) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Status:    status,
		Protocol:  Protocol,
	}
}

// NewAckError creates an acknowledgment with error details.
func NewAckError(cmd CommandMessage, code, message string) AckMessage {
	ack := NewAckMessage(cmd, AckFailed)
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// NewLWTMessage creates a Last Will and Testament message for MQTT.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// CommandTopic returns the MQTT topic for commands to a device.
func CommandTopic(deviceID string) string {
	return mqtt.Topic(mqtt.CategoryCommand, Protocol, deviceID)
}

// CommandSubscribeTopic returns the subscription pattern for all commands.
func CommandSubscribeTopic() string {
	return mqtt.Wildcard(mqtt.CategoryCommand, Protocol)
}

// AckTopic returns the MQTT topic for command acknowledgments.
func AckTopic(deviceID string) string {
	return mqtt.Topic(mqtt.CategoryAck, Protocol, deviceID)
}

// StateTopic returns the MQTT topic for device state.
func StateTopic(deviceID string) string {
	return mqtt.Topic(mqtt.CategoryState, Protocol, deviceID)
}

// HealthTopic returns the MQTT topic for health status. It doubles as the
// will topic of the MQTT connection.
func HealthTopic() string {
	return mqtt.Topic(mqtt.CategoryHealth, Protocol)
}

// DiscoveryTopic returns the MQTT topic announcing paired devices.
func DiscoveryTopic() string {
	return mqtt.Topic(mqtt.CategoryDiscovery, Protocol)
}

// WillPayload returns the offline health message the broker publishes when
// the connector disappears without a clean disconnect.
func WillPayload(bridgeID string) ([]byte, error) {
	return json.Marshal(NewLWTMessage(bridgeID))
}
