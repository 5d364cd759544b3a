package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/fastybird/fb-bus-connector/internal/infrastructure/config"
)

const (
	connectTimeout    = 10 * time.Second
	operationTimeout  = 5 * time.Second
	disconnectQuiesce = 1000 // milliseconds
	keepAlive         = 60 * time.Second
	maxQoS            = 2

	// MaxPayloadSize bounds outgoing payloads.
	MaxPayloadSize = 1 << 20
)

// Will is the message the broker publishes on behalf of a client that
// disappears without disconnecting.
type Will struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// Option customises Connect.
type Option func(*settings)

type settings struct {
	will           *Will
	logger         Logger
	connectTimeout time.Duration
}

// WithWill registers a retained QoS 1 will on topic.
func WithWill(topic string, payload []byte) Option {
	return func(s *settings) {
		s.will = &Will{Topic: topic, Payload: payload, QoS: 1, Retained: true}
	}
}

// WithLogger routes connection and handler diagnostics to l.
func WithLogger(l Logger) Option {
	return func(s *settings) {
		s.logger = l
	}
}

// WithConnectTimeout bounds the initial connection attempt.
func WithConnectTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.connectTimeout = d
		}
	}
}

func newSettings(opts []Option) settings {
	s := settings{
		logger:         noopLogger{},
		connectTimeout: connectTimeout,
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.logger == nil {
		s.logger = noopLogger{}
	}
	return s
}

func brokerURL(b config.MQTTBrokerConfig) string {
	scheme := "tcp"
	if b.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, b.Host, b.Port)
}

// pahoOptions translates the service configuration. Sessions are clean and
// reconnection backs off between the configured delays.
func pahoOptions(cfg config.MQTTConfig, s settings) (*pahomqtt.ClientOptions, error) {
	opts := pahomqtt.NewClientOptions().
		AddBroker(brokerURL(cfg.Broker)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetConnectTimeout(s.connectTimeout).
		SetKeepAlive(keepAlive)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	if w := s.will; w != nil {
		if w.Topic == "" {
			return nil, fmt.Errorf("will: %w", ErrInvalidTopic)
		}
		if w.QoS > maxQoS {
			return nil, fmt.Errorf("will: %w", ErrInvalidQoS)
		}
		opts.SetBinaryWill(w.Topic, w.Payload, w.QoS, w.Retained)
	}

	return opts, nil
}
