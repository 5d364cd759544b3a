package device

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry provides connector, device and property management with caching
// and thread safety. It wraps a Repository and adds an in-memory device cache
// for fast lookups.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by cache-invalidating CRUD operations. Connectors and properties are read
// through to the repository.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]*Device // Cached devices by ID
	cacheMu sync.RWMutex       // Protects cache
	logger  Logger
}

// NewRegistry creates a new device registry.
// The repository is used for persistence; the registry adds caching.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Device),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads the devices of every connector into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	connectors, err := r.repo.ListConnectors(ctx)
	if err != nil {
		return fmt.Errorf("loading connectors: %w", err)
	}

	cache := make(map[string]*Device)
	for _, c := range connectors {
		devices, err := r.repo.ListDevices(ctx, c.ID)
		if err != nil {
			return fmt.Errorf("loading devices of connector %s: %w", c.ID, err)
		}
		for i := range devices {
			cache[devices[i].ID] = devices[i].DeepCopy()
		}
	}

	r.cacheMu.Lock()
	r.cache = cache
	r.cacheMu.Unlock()

	r.logger.Info("device cache refreshed", "connectors", len(connectors), "devices", len(cache))
	return nil
}

// GetConnector retrieves a connector by ID.
func (r *Registry) GetConnector(ctx context.Context, id string) (*Connector, error) {
	return r.repo.GetConnector(ctx, id)
}

// ListConnectors retrieves all connectors.
func (r *Registry) ListConnectors(ctx context.Context) ([]Connector, error) {
	return r.repo.ListConnectors(ctx)
}

// CreateConnector validates and persists a new connector, generating its ID
// when empty.
func (r *Registry) CreateConnector(ctx context.Context, c *Connector) error {
	if c.ID == "" {
		c.ID = GenerateID()
	}
	if err := ValidateConnector(c); err != nil {
		return err
	}
	if err := r.repo.CreateConnector(ctx, c); err != nil {
		return err
	}
	r.logger.Info("connector created", "id", c.ID, "name", c.Name)
	return nil
}

// UpdateConnector validates and persists changes to a connector.
func (r *Registry) UpdateConnector(ctx context.Context, c *Connector) error {
	if err := ValidateConnector(c); err != nil {
		return err
	}
	if err := r.repo.UpdateConnector(ctx, c); err != nil {
		return err
	}
	r.logger.Info("connector updated", "id", c.ID, "name", c.Name)
	return nil
}

// GetDevice retrieves a device by ID.
// Returns ErrDeviceNotFound if the device does not exist.
// The returned device is a deep copy; callers can safely modify it.
func (r *Registry) GetDevice(ctx context.Context, id string) (*Device, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()

	if ok {
		return cached.DeepCopy(), nil
	}

	// Fall back to repository (might be a new device not yet cached)
	d, err := r.repo.GetDevice(ctx, id)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.cache[id] = d.DeepCopy()
	r.cacheMu.Unlock()

	return d, nil
}

// ListDevices retrieves the devices of a connector ordered by identifier.
// The returned devices are deep copies; callers can safely modify them.
func (r *Registry) ListDevices(ctx context.Context, connectorID string) ([]Device, error) {
	r.cacheMu.RLock()
	var devices []Device
	for _, d := range r.cache {
		if d.ConnectorID == connectorID {
			devices = append(devices, *d.DeepCopy())
		}
	}
	r.cacheMu.RUnlock()

	if len(devices) > 0 {
		sort.Slice(devices, func(i, j int) bool { return devices[i].Identifier < devices[j].Identifier })
		return devices, nil
	}

	return r.repo.ListDevices(ctx, connectorID)
}

// SaveDevice validates and persists a device, generating its ID when empty.
func (r *Registry) SaveDevice(ctx context.Context, d *Device) error {
	if d.ID == "" {
		d.ID = GenerateID()
	}
	if d.Name == "" {
		d.Name = d.Identifier
	}
	if err := ValidateDevice(d); err != nil {
		return err
	}
	if err := r.repo.SaveDevice(ctx, d); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[d.ID] = d.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("device saved", "id", d.ID, "identifier", d.Identifier)
	return nil
}

// DeleteDevice removes a device and its properties.
func (r *Registry) DeleteDevice(ctx context.Context, id string) error {
	if err := r.repo.DeleteDevice(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Info("device deleted", "id", id)
	return nil
}

// SetDeviceState updates the connection state of a device.
// This is optimised for frequent updates from the bus.
func (r *Registry) SetDeviceState(ctx context.Context, id string, state State) error {
	if err := r.repo.UpdateDeviceState(ctx, id, state); err != nil {
		return err
	}

	r.cacheMu.Lock()
	if cached, ok := r.cache[id]; ok {
		updated := cached.DeepCopy()
		updated.State = state
		now := time.Now().UTC()
		updated.StateUpdatedAt = &now
		r.cache[id] = updated
	}
	r.cacheMu.Unlock()

	r.logger.Debug("device state updated", "id", id, "state", state)
	return nil
}

// ListProperties retrieves the properties of a device.
func (r *Registry) ListProperties(ctx context.Context, deviceID string) ([]Property, error) {
	return r.repo.ListProperties(ctx, deviceID)
}

// GetProperty retrieves a property by ID.
func (r *Registry) GetProperty(ctx context.Context, id string) (*Property, error) {
	return r.repo.GetProperty(ctx, id)
}

// SaveProperty validates and persists a property, generating its ID when empty.
func (r *Registry) SaveProperty(ctx context.Context, p *Property) error {
	if p.ID == "" {
		p.ID = GenerateID()
	}
	if err := ValidateProperty(p); err != nil {
		return err
	}
	return r.repo.SaveProperty(ctx, p)
}

// DeleteProperty removes a property.
func (r *Registry) DeleteProperty(ctx context.Context, id string) error {
	return r.repo.DeleteProperty(ctx, id)
}

// SetPropertyValues stores the actual and expected values of a property.
func (r *Registry) SetPropertyValues(ctx context.Context, id string, actual, expected any) error {
	return r.repo.UpdatePropertyValues(ctx, id, actual, expected)
}

// GetDeviceCount returns the number of cached devices.
func (r *Registry) GetDeviceCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

// Stats returns registry statistics for monitoring.
type Stats struct {
	TotalDevices int
	ByState      map[State]int
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	stats := Stats{
		TotalDevices: len(r.cache),
		ByState:      make(map[State]int),
	}
	for _, d := range r.cache {
		stats.ByState[d.State]++
	}
	return stats
}
