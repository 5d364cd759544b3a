package fbbus

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fastybird/fb-bus-connector/internal/bus"
	"github.com/fastybird/fb-bus-connector/internal/connector"
)

// mockPublisher implements HealthPublisher for testing.
type mockPublisher struct {
	mu        sync.Mutex
	connected bool
	messages  []publishedMessage
}

type publishedMessage struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

func newMockPublisher(connected bool) *mockPublisher {
	return &mockPublisher{connected: connected}
}

func (m *mockPublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, publishedMessage{
		topic:    topic,
		payload:  payload,
		qos:      qos,
		retained: retained,
	})
	return nil
}

func (m *mockPublisher) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockPublisher) getMessages() []publishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]publishedMessage, len(m.messages))
	copy(result, m.messages)
	return result
}

func lastHealth(t *testing.T, pub *mockPublisher) HealthMessage {
	t.Helper()
	msgs := pub.getMessages()
	if len(msgs) == 0 {
		t.Fatal("no health message published")
	}
	var msg HealthMessage
	if err := json.Unmarshal(msgs[len(msgs)-1].payload, &msg); err != nil {
		t.Fatalf("unmarshal health: %v", err)
	}
	return msg
}

func TestHealthReporterDefaults(t *testing.T) {
	h := NewHealthReporter(HealthReporterConfig{BridgeID: "fb-bus"})
	if h.interval != DefaultHealthInterval {
		t.Errorf("interval = %v, want %v", h.interval, DefaultHealthInterval)
	}
	if err := h.PublishNow(); err != nil {
		t.Errorf("PublishNow() without publisher error: %v", err)
	}
}

func TestHealthReporterStatus(t *testing.T) {
	running := connector.DeviceRecord{ID: uuid.New(), State: bus.StateRunning}
	lost := connector.DeviceRecord{ID: uuid.New(), State: bus.StateUnknown, LostTime: time.Now()}

	tests := []struct {
		name       string
		connected  bool
		source     *MockConnector
		wantStatus HealthStatus
		wantReason string
	}{
		{
			name:       "mqtt disconnected",
			connected:  false,
			source:     &MockConnector{},
			wantStatus: HealthDegraded,
			wantReason: "MQTT disconnected",
		},
		{
			name:       "connector stopped",
			connected:  true,
			source:     &MockConnector{stopped: true},
			wantStatus: HealthDegraded,
			wantReason: "connector stopped",
		},
		{
			name:       "all devices lost",
			connected:  true,
			source:     &MockConnector{devices: []connector.DeviceRecord{lost}},
			wantStatus: HealthDegraded,
			wantReason: "all devices lost",
		},
		{
			name:       "some devices lost",
			connected:  true,
			source:     &MockConnector{devices: []connector.DeviceRecord{running, lost}},
			wantStatus: HealthHealthy,
		},
		{
			name:       "no devices",
			connected:  true,
			source:     &MockConnector{},
			wantStatus: HealthHealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := newMockPublisher(tt.connected)
			h := NewHealthReporter(HealthReporterConfig{
				BridgeID:  "fb-bus",
				Publisher: pub,
				Source:    tt.source,
			})

			if err := h.PublishNow(); err != nil {
				t.Fatalf("PublishNow() error: %v", err)
			}

			msg := lastHealth(t, pub)
			if msg.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", msg.Status, tt.wantStatus)
			}
			if msg.Reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", msg.Reason, tt.wantReason)
			}
		})
	}
}

func TestHealthReporterStatistics(t *testing.T) {
	pub := newMockPublisher(true)
	source := &MockConnector{
		devices: []connector.DeviceRecord{
			{ID: uuid.New(), State: bus.StateRunning},
			{ID: uuid.New(), State: bus.StateRunning},
			{ID: uuid.New(), State: bus.StateUnknown, LostTime: time.Now()},
		},
		pending: 4,
		pairing: true,
	}
	h := NewHealthReporter(HealthReporterConfig{
		BridgeID:  "fb-bus",
		Version:   "1.2.3",
		Publisher: pub,
		Source:    source,
	})

	if err := h.PublishNow(); err != nil {
		t.Fatalf("PublishNow() error: %v", err)
	}

	msgs := pub.getMessages()
	if msgs[0].topic != "fbbus/health/fb-bus" || !msgs[0].retained || msgs[0].qos != 1 {
		t.Errorf("message = %+v", msgs[0])
	}

	msg := lastHealth(t, pub)
	if msg.Version != "1.2.3" {
		t.Errorf("version = %s", msg.Version)
	}
	want := BridgeStatistics{
		DevicesManaged: 3,
		DevicesRunning: 2,
		DevicesLost:    1,
		PendingEvents:  4,
		Pairing:        true,
	}
	if msg.Statistics == nil || *msg.Statistics != want {
		t.Errorf("statistics = %+v, want %+v", msg.Statistics, want)
	}
}

func TestHealthReporterStartStop(t *testing.T) {
	pub := newMockPublisher(true)
	h := NewHealthReporter(HealthReporterConfig{
		BridgeID:  "fb-bus",
		Interval:  10 * time.Millisecond,
		Publisher: pub,
		Source:    &MockConnector{},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Start(ctx)

	time.Sleep(50 * time.Millisecond)
	h.Stop()
	h.Stop()

	msgs := pub.getMessages()
	if len(msgs) < 2 {
		t.Fatalf("messages = %d, want at least 2", len(msgs))
	}
	if msg := lastHealth(t, pub); msg.Status != HealthStopping {
		t.Errorf("last status = %s, want %s", msg.Status, HealthStopping)
	}
}

func TestWillPayload(t *testing.T) {
	payload, err := WillPayload("fb-bus")
	if err != nil {
		t.Fatalf("WillPayload() error: %v", err)
	}

	var msg HealthMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("unmarshal LWT: %v", err)
	}
	if msg.Status != HealthOffline || msg.Bridge != "fb-bus" {
		t.Errorf("LWT = %+v", msg)
	}
}
