package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/fastybird/fb-bus-connector/internal/bus"
	"github.com/fastybird/fb-bus-connector/internal/connector"
	"github.com/fastybird/fb-bus-connector/internal/device"
	"github.com/fastybird/fb-bus-connector/internal/infrastructure/config"
	"github.com/fastybird/fb-bus-connector/internal/infrastructure/logging"
)

// Websocket frame types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// Event channels a client can subscribe to.
const (
	ChannelDeviceUpdated       = "device.updated"
	ChannelDeviceStateChanged  = "device.state_changed"
	ChannelPropertyCreated     = "property.created"
	ChannelPropertyValueChange = "property.value_changed"
)

var knownChannels = map[string]bool{
	ChannelDeviceUpdated:       true,
	ChannelDeviceStateChanged:  true,
	ChannelPropertyCreated:     true,
	ChannelPropertyValueChange: true,
}

// WSMessage is the envelope of every frame in both directions.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload carries the channels of subscribe and unsubscribe
// frames.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// DeviceEventPayload is broadcast on the device channels.
type DeviceEventPayload struct {
	DeviceID     string `json:"device_id"`
	SerialNumber string `json:"serial_number"`
	Address      int    `json:"address"`
	State        string `json:"state"`
	Enabled      bool   `json:"enabled"`
	Lost         bool   `json:"lost"`
}

// PropertyEventPayload is broadcast on the property channels.
type PropertyEventPayload struct {
	DeviceID      string `json:"device_id"`
	PropertyID    string `json:"property_id"`
	Identifier    string `json:"identifier"`
	DataType      string `json:"data_type"`
	ActualValue   any    `json:"actual_value"`
	ExpectedValue any    `json:"expected_value"`
}

func newFrame(msgType, id string, payload any) WSMessage {
	return WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}
}

// Hub fans connector events out to websocket clients. It implements
// connector.Consumer.
type Hub struct {
	keepalive keepalive
	logger    *logging.Logger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

// NewHub creates a hub with no clients.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		keepalive: newKeepalive(cfg),
		logger:    logger,
		clients:   make(map[*wsClient]struct{}),
	}
}

// Run blocks until ctx is cancelled and then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
}

// Consume implements connector.Consumer. It never blocks; clients with a
// full buffer miss the event.
func (h *Hub) Consume(_ context.Context, event connector.Event) error {
	switch e := event.(type) {
	case connector.DeviceRecordEvent:
		h.Broadcast(ChannelDeviceUpdated, devicePayload(e.Record))
	case connector.DeviceStateEvent:
		h.Broadcast(ChannelDeviceStateChanged, devicePayload(e.Record))
	case connector.RegisterRecordEvent:
		r := e.Record
		h.Broadcast(ChannelPropertyCreated, PropertyEventPayload{
			DeviceID:      r.DeviceID.String(),
			PropertyID:    r.ID.String(),
			Identifier:    device.PropertyIdentifier(device.RegisterKind(r.Type.String()), r.Address),
			DataType:      r.DataType.String(),
			ActualValue:   bus.TransformForGateway(r.DataType, r.ActualValue),
			ExpectedValue: bus.TransformForGateway(r.DataType, r.ExpectedValue),
		})
	case connector.RegisterActualValueEvent:
		h.Broadcast(ChannelPropertyValueChange, PropertyEventPayload{
			DeviceID:      e.Device.String(),
			PropertyID:    e.Register.String(),
			Identifier:    device.PropertyIdentifier(device.RegisterKind(e.RegisterType.String()), e.Address),
			DataType:      e.DataType.String(),
			ActualValue:   e.ActualValue,
			ExpectedValue: e.ExpectedValue,
		})
	}
	return nil
}

func devicePayload(record connector.DeviceRecord) DeviceEventPayload {
	return DeviceEventPayload{
		DeviceID:     record.ID.String(),
		SerialNumber: record.SerialNumber,
		Address:      record.Address,
		State:        record.State.Gateway(),
		Enabled:      record.Enabled,
		Lost:         record.IsLost(),
	}
}

// Broadcast delivers an event frame to the clients subscribed to channel.
func (h *Hub) Broadcast(channel string, payload any) {
	frame := newFrame(WSTypeEvent, "", payload)
	frame.EventType = channel

	data, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error("encoding websocket event failed", "channel", channel, "error", err)
		return
	}

	for _, c := range h.snapshot() {
		if c.subscribed(channel) {
			c.enqueue(data)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) snapshot() []*wsClient {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

func (h *Hub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	c.close()
	h.logger.Debug("websocket client disconnected", "clients", n)
}
