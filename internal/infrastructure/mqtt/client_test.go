package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/fastybird/fb-bus-connector/internal/infrastructure/config"
)

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "fbbus-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

type logEntry struct {
	level string
	msg   string
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) add(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level, msg})
}

func (l *recordingLogger) Debug(msg string, _ ...any) { l.add("debug", msg) }
func (l *recordingLogger) Info(msg string, _ ...any)  { l.add("info", msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.add("warn", msg) }
func (l *recordingLogger) Error(msg string, _ ...any) { l.add("error", msg) }

func (l *recordingLogger) levels() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e.level)
	}
	return out
}

// fakeMessage implements pahomqtt.Message.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func TestTopic(t *testing.T) {
	tests := []struct {
		got  string
		want string
	}{
		{Topic(CategoryState, "fb-bus", "dev-1"), "fbbus/state/fb-bus/dev-1"},
		{Topic(CategoryCommand, "fb-bus", "connector"), "fbbus/command/fb-bus/connector"},
		{Topic(CategoryAck, "fb-bus", "dev-1"), "fbbus/ack/fb-bus/dev-1"},
		{Topic(CategoryHealth, "fb-bus"), "fbbus/health/fb-bus"},
		{Topic(CategoryDiscovery, "fb-bus"), "fbbus/discovery/fb-bus"},
		{Wildcard(CategoryCommand, "fb-bus"), "fbbus/command/fb-bus/+"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func TestParseTopic(t *testing.T) {
	tests := []struct {
		topic   string
		want    Route
		wantErr bool
	}{
		{topic: "fbbus/command/fb-bus/dev-1", want: Route{CategoryCommand, "fb-bus", "dev-1"}},
		{topic: "fbbus/health/fb-bus", want: Route{Category: CategoryHealth, ConnectorType: "fb-bus"}},
		{topic: "fbbus/command", wantErr: true},
		{topic: "fbbus/command/fb-bus/dev-1/extra", wantErr: true},
		{topic: "other/command/fb-bus/dev-1", wantErr: true},
		{topic: "fbbus/command/fb-bus/+", wantErr: true},
		{topic: "fbbus//fb-bus/dev-1", wantErr: true},
		{topic: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			got, err := ParseTopic(tt.topic)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTopic) {
					t.Errorf("ParseTopic() error = %v, want ErrInvalidTopic", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTopic() error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("route mismatch (-want +got):\n%s", diff)
			}
			if got.String() != tt.topic {
				t.Errorf("String() = %q, want %q", got.String(), tt.topic)
			}
		})
	}
}

func TestPahoOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.MQTTAuthConfig{Username: "connector", Password: "secret"}

	opts, err := pahoOptions(cfg, newSettings([]Option{
		WithWill("fbbus/health/fb-bus", []byte(`{"status":"offline"}`)),
		WithConnectTimeout(2 * time.Second),
	}))
	if err != nil {
		t.Fatalf("pahoOptions() error: %v", err)
	}

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("servers = %v", opts.Servers)
	}
	if opts.ClientID != "fbbus-test" || opts.Username != "connector" || opts.Password != "secret" {
		t.Errorf("identity = %q %q %q", opts.ClientID, opts.Username, opts.Password)
	}
	if !opts.CleanSession || !opts.AutoReconnect || !opts.ConnectRetry {
		t.Error("expected clean session with automatic reconnect")
	}
	if opts.ConnectRetryInterval != time.Second || opts.MaxReconnectInterval != 5*time.Second {
		t.Errorf("reconnect intervals = %v / %v", opts.ConnectRetryInterval, opts.MaxReconnectInterval)
	}
	if opts.ConnectTimeout != 2*time.Second {
		t.Errorf("connect timeout = %v", opts.ConnectTimeout)
	}
	if !opts.WillEnabled || opts.WillTopic != "fbbus/health/fb-bus" || !opts.WillRetained || opts.WillQos != 1 {
		t.Errorf("will = %v %q qos=%d retained=%v", opts.WillEnabled, opts.WillTopic, opts.WillQos, opts.WillRetained)
	}
	if string(opts.WillPayload) != `{"status":"offline"}` {
		t.Errorf("will payload = %s", opts.WillPayload)
	}
}

func TestPahoOptions_TLSWithoutWill(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883

	opts, err := pahoOptions(cfg, newSettings(nil))
	if err != nil {
		t.Fatalf("pahoOptions() error: %v", err)
	}
	if opts.Servers[0].String() != "ssl://127.0.0.1:8883" {
		t.Errorf("server = %s", opts.Servers[0])
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion == 0 {
		t.Error("TLS config with a minimum version expected")
	}
	if opts.WillEnabled {
		t.Error("no will was requested")
	}
	if opts.Username != "" {
		t.Errorf("username = %q, want none", opts.Username)
	}
}

func TestPahoOptions_InvalidWill(t *testing.T) {
	_, err := pahoOptions(testConfig(), newSettings([]Option{WithWill("", []byte("x"))}))
	if !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("error = %v, want ErrInvalidTopic", err)
	}
}

func TestNewSettings_NilLogger(t *testing.T) {
	s := newSettings([]Option{WithLogger(nil), WithConnectTimeout(-1)})
	if s.logger == nil {
		t.Error("nil logger must fall back to a no-op logger")
	}
	if s.connectTimeout != connectTimeout {
		t.Errorf("connect timeout = %v, want default", s.connectTimeout)
	}
}

func TestDeliver(t *testing.T) {
	logger := &recordingLogger{}
	c := &Client{logger: logger, subscriptions: make(map[string]subscription)}

	var got []string
	ok := c.deliver(func(topic string, payload []byte) error {
		got = append(got, topic+"="+string(payload))
		return nil
	})
	failing := c.deliver(func(string, []byte) error { return fmt.Errorf("bad command") })
	panicking := c.deliver(func(string, []byte) error { panic("boom") })

	ok(nil, fakeMessage{"fbbus/command/fb-bus/dev-1", []byte("{}")})
	failing(nil, fakeMessage{"fbbus/command/fb-bus/dev-1", nil})
	panicking(nil, fakeMessage{"fbbus/command/fb-bus/dev-1", nil})

	if diff := cmp.Diff([]string{"fbbus/command/fb-bus/dev-1={}"}, got); diff != "" {
		t.Errorf("delivered (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"warn", "error"}, logger.levels()); diff != "" {
		t.Errorf("log levels (-want +got):\n%s", diff)
	}
}

func TestDisconnectedClient(t *testing.T) {
	c := &Client{logger: noopLogger{}, subscriptions: make(map[string]subscription)}
	handler := func(string, []byte) error { return nil }

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"publish empty topic", c.Publish("", nil, 1, false), ErrInvalidTopic},
		{"publish bad qos", c.Publish("fbbus/state/fb-bus/x", nil, 3, false), ErrInvalidQoS},
		{"publish oversized", c.Publish("fbbus/state/fb-bus/x", make([]byte, MaxPayloadSize+1), 1, false), ErrPayloadTooLarge},
		{"publish", c.Publish("fbbus/state/fb-bus/x", []byte("{}"), 1, true), ErrNotConnected},
		{"subscribe nil handler", c.Subscribe("fbbus/command/fb-bus/+", 1, nil), ErrSubscribeFailed},
		{"subscribe bad qos", c.Subscribe("fbbus/command/fb-bus/+", 5, handler), ErrInvalidQoS},
		{"subscribe", c.Subscribe("fbbus/command/fb-bus/+", 1, handler), ErrNotConnected},
		{"unsubscribe empty", c.Unsubscribe(""), ErrInvalidTopic},
		{"unsubscribe", c.Unsubscribe("fbbus/command/fb-bus/+"), ErrNotConnected},
		{"health", c.HealthCheck(context.Background()), ErrNotConnected},
	}
	for _, tt := range tests {
		if !errors.Is(tt.err, tt.want) {
			t.Errorf("%s: error = %v, want %v", tt.name, tt.err, tt.want)
		}
	}

	if n := len(c.Subscribed()); n != 0 {
		t.Errorf("Subscribed() = %d topics, want 0", n)
	}
}

func TestHealthCheck_Cancelled(t *testing.T) {
	c := &Client{logger: noopLogger{}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.HealthCheck(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() error = %v, want context.Canceled", err)
	}
}

func TestCloseNil(t *testing.T) {
	var c *Client
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil client error: %v", err)
	}
	if err := (&Client{}).Close(); err != nil {
		t.Errorf("Close() without connection error: %v", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 19999

	start := time.Now()
	_, err := Connect(cfg, WithConnectTimeout(300*time.Millisecond))
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("Connect() error = %v, want ErrConnectionFailed", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Connect() took %v", elapsed)
	}
}

func TestConnect_InvalidWill(t *testing.T) {
	_, err := Connect(testConfig(), WithWill("", nil))
	if !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Connect() error = %v, want ErrInvalidTopic", err)
	}
}
