package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config is the service configuration. Values come from built-in defaults,
// then the YAML file, then FBBUS_* environment variables.
type Config struct {
	Connector ConnectorConfig `yaml:"connector"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ConnectorConfig describes the bus connector run by the service.
//
// The bus fields seed the connector entity the first time it is created.
// Once stored, the entity is authoritative and is changed through the API.
type ConnectorConfig struct {
	// ID is the connector entity id. When empty the first stored FB-BUS
	// connector is used, or a new one is created.
	ID   string `yaml:"id"`
	Name string `yaml:"name"`

	Address   int    `yaml:"address"`
	Interface string `yaml:"interface"`
	BaudRate  int    `yaml:"baud_rate"`
	Protocol  string `yaml:"protocol"`

	// LoopInterval is the pause between two connector loop iterations.
	LoopInterval time.Duration `yaml:"loop_interval"`

	// PairingOnStart starts device discovery right after startup.
	PairingOnStart bool `yaml:"pairing_on_start"`

	// HealthInterval is how often health is published over MQTT and the
	// infrastructure is checked.
	HealthInterval time.Duration `yaml:"health_interval"`
}

type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"` // seconds
}

type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig bounds the reconnect backoff, in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// ReadTimeout also bounds reading request headers.
func (a APIConfig) ReadTimeout() time.Duration {
	return time.Duration(a.Timeouts.Read) * time.Second
}

func (a APIConfig) WriteTimeout() time.Duration {
	return time.Duration(a.Timeouts.Write) * time.Second
}

func (a APIConfig) IdleTimeout() time.Duration {
	return time.Duration(a.Timeouts.Idle) * time.Second
}

type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig holds HTTP server timeouts in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig lists what browsers may send. An empty origin list allows
// same-origin requests only.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

type WebSocketConfig struct {
	// Path is mounted below /api/v1.
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"` // seconds
	PongTimeout    int    `yaml:"pong_timeout"`  // seconds
}

// InfluxDBConfig enables the register value history.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"` // seconds
}

type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig is used when Output is "file" or "both".
type FileLoggingConfig struct {
	Path string `yaml:"path"`
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Connector: ConnectorConfig{
			Name:           "FB BUS",
			Address:        254,
			Interface:      "/dev/ttyAMA0",
			BaudRate:       38400,
			Protocol:       "v1",
			LoopInterval:   5 * time.Millisecond,
			HealthInterval: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Path:        "./data/fbbus.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{Host: "localhost", Port: 1883, ClientID: "fb-bus-connector"},
			QoS:    1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host:     "0.0.0.0",
			Port:     8080,
			Timeouts: APITimeoutConfig{Read: 30, Write: 30, Idle: 60},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			Bucket:        "fbbus",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

// envOverride maps one FBBUS_* variable onto a field. Values that do not
// parse are ignored.
type envOverride struct {
	name  string
	apply func(cfg *Config, value string)
}

func stringVar(name string, field func(*Config) *string) envOverride {
	return envOverride{name, func(cfg *Config, v string) { *field(cfg) = v }}
}

func intVar(name string, field func(*Config) *int) envOverride {
	return envOverride{name, func(cfg *Config, v string) {
		if n, err := strconv.Atoi(v); err == nil {
			*field(cfg) = n
		}
	}}
}

func boolVar(name string, field func(*Config) *bool) envOverride {
	return envOverride{name, func(cfg *Config, v string) {
		if b, err := strconv.ParseBool(v); err == nil {
			*field(cfg) = b
		}
	}}
}

var envOverrides = []envOverride{
	stringVar("FBBUS_CONNECTOR_ID", func(c *Config) *string { return &c.Connector.ID }),
	stringVar("FBBUS_CONNECTOR_INTERFACE", func(c *Config) *string { return &c.Connector.Interface }),
	intVar("FBBUS_CONNECTOR_BAUD_RATE", func(c *Config) *int { return &c.Connector.BaudRate }),
	intVar("FBBUS_CONNECTOR_ADDRESS", func(c *Config) *int { return &c.Connector.Address }),
	boolVar("FBBUS_CONNECTOR_PAIRING_ON_START", func(c *Config) *bool { return &c.Connector.PairingOnStart }),
	stringVar("FBBUS_DATABASE_PATH", func(c *Config) *string { return &c.Database.Path }),
	stringVar("FBBUS_MQTT_HOST", func(c *Config) *string { return &c.MQTT.Broker.Host }),
	intVar("FBBUS_MQTT_PORT", func(c *Config) *int { return &c.MQTT.Broker.Port }),
	stringVar("FBBUS_MQTT_USERNAME", func(c *Config) *string { return &c.MQTT.Auth.Username }),
	stringVar("FBBUS_MQTT_PASSWORD", func(c *Config) *string { return &c.MQTT.Auth.Password }),
	stringVar("FBBUS_API_HOST", func(c *Config) *string { return &c.API.Host }),
	intVar("FBBUS_API_PORT", func(c *Config) *int { return &c.API.Port }),
	boolVar("FBBUS_INFLUXDB_ENABLED", func(c *Config) *bool { return &c.InfluxDB.Enabled }),
	stringVar("FBBUS_INFLUXDB_URL", func(c *Config) *string { return &c.InfluxDB.URL }),
	stringVar("FBBUS_INFLUXDB_TOKEN", func(c *Config) *string { return &c.InfluxDB.Token }),
	stringVar("FBBUS_LOG_LEVEL", func(c *Config) *string { return &c.Logging.Level }),
}

func applyEnvOverrides(cfg *Config) {
	for _, o := range envOverrides {
		if v := os.Getenv(o.name); v != "" {
			o.apply(cfg, v)
		}
	}
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var problems []string
	problems = append(problems, c.Connector.problems()...)

	if c.Database.Path == "" {
		problems = append(problems, "database.path is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		problems = append(problems, "mqtt.qos must be 0, 1, or 2")
	}
	if c.API.Port < 1 || c.API.Port > 65535 {
		problems = append(problems, "api.port must be between 1 and 65535")
	}
	if c.API.TLS.Enabled && (c.API.TLS.CertFile == "" || c.API.TLS.KeyFile == "") {
		problems = append(problems, "api.tls needs cert_file and key_file")
	}
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		problems = append(problems, "influxdb.url is required when influxdb is enabled")
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c ConnectorConfig) problems() []string {
	var p []string
	if c.ID != "" {
		if _, err := uuid.Parse(c.ID); err != nil {
			p = append(p, "connector.id must be a UUID")
		}
	}
	if c.Address < 1 || c.Address > 254 {
		p = append(p, "connector.address must be between 1 and 254")
	}
	if strings.TrimSpace(c.Interface) == "" {
		p = append(p, "connector.interface is required")
	}
	if c.BaudRate <= 0 {
		p = append(p, "connector.baud_rate must be positive")
	}
	if c.Protocol != "v1" {
		p = append(p, "connector.protocol must be v1")
	}
	if c.LoopInterval < 0 {
		p = append(p, "connector.loop_interval must not be negative")
	}
	return p
}
