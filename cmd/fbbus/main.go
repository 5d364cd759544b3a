// FB BUS connector
//
// This is the main entry point of the FB BUS connector service. The service
// drives devices on an FB BUS serial line and exposes them over:
//   - a JSON:API REST interface with a websocket event stream
//   - MQTT state, command and health topics
//   - optional InfluxDB history of register values and device states
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	_ "github.com/fastybird/fb-bus-connector/migrations"

	"github.com/fastybird/fb-bus-connector/internal/api"
	"github.com/fastybird/fb-bus-connector/internal/bridges/fbbus"
	"github.com/fastybird/fb-bus-connector/internal/connector"
	"github.com/fastybird/fb-bus-connector/internal/device"
	"github.com/fastybird/fb-bus-connector/internal/extension"
	"github.com/fastybird/fb-bus-connector/internal/infrastructure/config"
	"github.com/fastybird/fb-bus-connector/internal/infrastructure/database"
	"github.com/fastybird/fb-bus-connector/internal/infrastructure/influxdb"
	"github.com/fastybird/fb-bus-connector/internal/infrastructure/logging"
	"github.com/fastybird/fb-bus-connector/internal/infrastructure/mqtt"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

const (
	// Default configuration file path
	defaultConfigPath = "configs/config.yaml"

	// shutdownTimeout bounds the time spent marking devices disconnected.
	shutdownTimeout = 10 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
// It returns nil on a clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting FB BUS connector",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log, err = logging.Open(cfg.Logging, version)
	if err != nil {
		return fmt.Errorf("opening log output: %w", err)
	}
	defer log.Close()
	log.Info("configuration loaded",
		"path", configPath,
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	registry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	registry.SetLogger(log.Component("registry"))
	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}

	extensions := extension.NewRegistry()
	if regErr := extensions.Register(extension.FBBus()); regErr != nil {
		return fmt.Errorf("registering connector types: %w", regErr)
	}
	descriptor, err := extensions.Lookup(device.ConnectorType)
	if err != nil {
		return err
	}

	entity, err := resolveConnector(ctx, registry, descriptor, cfg.Connector)
	if err != nil {
		return fmt.Errorf("resolving connector: %w", err)
	}
	log.Info("connector resolved",
		"connector_id", entity.ID,
		"name", entity.Name,
		"interface", entity.GetInterface(),
		"baud_rate", entity.GetBaudRate(),
		"devices", registry.GetDeviceCount(),
	)

	will, err := fbbus.WillPayload(entity.ID)
	if err != nil {
		return fmt.Errorf("building MQTT will: %w", err)
	}
	mqttClient, err := mqtt.Connect(cfg.MQTT,
		mqtt.WithLogger(log.Component("mqtt")),
		mqtt.WithWill(fbbus.HealthTopic(), will),
	)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB, influxdb.WithDefaultTag("connector_id", entity.ID))
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	conn, err := descriptor.Runtime(gctx, entity, extension.RuntimeDeps{
		Store:  registry,
		Logger: log.Component("connector"),
	})
	if err != nil {
		return fmt.Errorf("starting connector runtime: %w", err)
	}

	if influxClient != nil {
		conn.RegisterConsumer(connector.NewHistoryConsumer(influxClient))
	}

	bridge, err := fbbus.NewBridge(fbbus.BridgeOptions{
		ID:             entity.ID,
		Version:        version,
		MQTTClient:     mqttClient,
		Connector:      conn,
		Logger:         log.Component("bridge"),
		HealthInterval: cfg.Connector.HealthInterval,
		QoS:            byte(cfg.MQTT.QoS),
	})
	if err != nil {
		return fmt.Errorf("creating MQTT bridge: %w", err)
	}
	conn.RegisterConsumer(bridge)

	// The broker publishes the will on every unclean disconnect, so the
	// retained health status is restored after each reconnect.
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
		if err := bridge.PublishHealth(); err != nil {
			log.Warn("failed to republish health", "error", err)
		}
	})

	runtimes := api.NewRuntimes()
	runtimes.Set(entity.ID, conn)
	apiServer, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Logger:     log.Component("api"),
		Registry:   registry,
		Extensions: extensions,
		Runtimes:   runtimes,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	conn.RegisterConsumer(apiServer.Hub())

	if err := bridge.Start(gctx); err != nil {
		return fmt.Errorf("starting MQTT bridge: %w", err)
	}
	defer bridge.Stop()

	if err := apiServer.Start(gctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	conn.Start()
	if cfg.Connector.PairingOnStart {
		if err := conn.DiscoverDevices(); err != nil {
			log.Warn("device discovery could not start", "error", err)
		}
	}

	g.Go(func() error {
		return conn.Run(gctx, cfg.Connector.LoopInterval)
	})
	g.Go(func() error {
		watchHealth(gctx, cfg.Connector.HealthInterval, log, db, mqttClient, influxClient)
		return nil
	})

	log.Info("initialisation complete, waiting for shutdown signal")
	runErr := g.Wait()

	log.Info("shutting down")
	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	conn.Stop(stopCtx)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("connector loop: %w", runErr)
	}

	log.Info("FB BUS connector stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses FBBUS_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("FBBUS_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// resolveConnector returns the connector entity the service runs. A
// configured id selects that connector, otherwise the first stored connector
// of the descriptor's type is used. When none exists one is created from the
// configuration. Stored connectors are never overwritten by the file.
func resolveConnector(ctx context.Context, registry *device.Registry, d extension.Descriptor, cfg config.ConnectorConfig) (*device.Connector, error) {
	if cfg.ID != "" {
		c, err := registry.GetConnector(ctx, cfg.ID)
		switch {
		case err == nil:
			if c.Type != d.Type {
				return nil, fmt.Errorf("connector %s has type %q, want %q", c.ID, c.Type, d.Type)
			}
			return c, nil
		case !errors.Is(err, device.ErrConnectorNotFound):
			return nil, err
		}
	} else {
		connectors, err := registry.ListConnectors(ctx)
		if err != nil {
			return nil, err
		}
		for i := range connectors {
			if connectors[i].Type == d.Type {
				return &connectors[i], nil
			}
		}
	}

	c := d.NewConnector()
	c.ID = cfg.ID
	c.Name = cfg.Name
	if strings.TrimSpace(c.Name) == "" {
		c.Name = "FB BUS"
	}
	if cfg.Address != 0 {
		c.Address = &cfg.Address
	}
	if cfg.Interface != "" {
		c.Interface = &cfg.Interface
	}
	if cfg.BaudRate != 0 {
		c.BaudRate = &cfg.BaudRate
	}
	if cfg.Protocol != "" {
		p := device.Protocol(cfg.Protocol)
		c.Protocol = &p
	}

	if err := registry.CreateConnector(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// healthCheck verifies all infrastructure connections are healthy.
// influxClient may be nil when InfluxDB is disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

// watchHealth repeats healthCheck every interval until ctx is cancelled and
// logs failures and recoveries.
func watchHealth(ctx context.Context, interval time.Duration, log *logging.Logger, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) {
	if interval <= 0 {
		interval = fbbus.DefaultHealthInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	healthy := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := healthCheck(ctx, db, mqttClient, influxClient)
			switch {
			case err != nil && ctx.Err() == nil:
				log.Warn("health check failed", "error", err)
				healthy = false
			case err == nil && !healthy:
				log.Info("health restored")
				healthy = true
			}
		}
	}
}
