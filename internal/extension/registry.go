package extension

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/fastybird/fb-bus-connector/internal/connector"
	"github.com/fastybird/fb-bus-connector/internal/device"
)

// Hydrator applies inbound JSON:API attributes to a connector entity.
// Absent attributes leave the entity unchanged. Errors are HydrationError
// values, joined when more than one attribute is invalid.
type Hydrator interface {
	HydrateConnector(attributes map[string]json.RawMessage, c *device.Connector) error
}

// Schema renders entities as JSON:API attributes.
type Schema interface {
	ConnectorAttributes(c *device.Connector) map[string]any
	DeviceAttributes(d *device.Device) map[string]any
}

// RuntimeDeps are the services a runtime factory may use.
type RuntimeDeps struct {
	Store    connector.EntityStore
	Logger   connector.Logger
	OpenPort connector.PortOpener
}

// RuntimeFactory builds an initialized connector runtime from a stored
// connector. The bus reader runs until ctx is cancelled.
type RuntimeFactory func(ctx context.Context, c *device.Connector, deps RuntimeDeps) (*connector.Connector, error)

// Descriptor describes one connector type.
type Descriptor struct {
	// Type is the discriminator stored on connector entities.
	Type string

	// DeviceType is the discriminator stored on device entities.
	DeviceType string

	// ConnectorResource and DeviceResource are the JSON:API resource types.
	ConnectorResource string
	DeviceResource    string

	// NewConnector returns an empty connector entity of this type.
	NewConnector func() *device.Connector

	Hydrator Hydrator
	Schema   Schema
	Runtime  RuntimeFactory
}

func (d Descriptor) validate() error {
	switch {
	case d.Type == "":
		return fmt.Errorf("%w: type is required", ErrInvalidDescriptor)
	case d.ConnectorResource == "" || d.DeviceResource == "":
		return fmt.Errorf("%w: %s: resource types are required", ErrInvalidDescriptor, d.Type)
	case d.NewConnector == nil || d.Hydrator == nil || d.Schema == nil:
		return fmt.Errorf("%w: %s: entity factory, hydrator and schema are required", ErrInvalidDescriptor, d.Type)
	}
	return nil
}

// Registry holds the registered connector types.
type Registry struct {
	mu    sync.RWMutex
	types map[string]Descriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]Descriptor)}
}

// Register adds a connector type. Type names must be unique.
func (r *Registry) Register(d Descriptor) error {
	if err := d.validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.types[d.Type]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateType, d.Type)
	}
	for _, other := range r.types {
		if other.ConnectorResource == d.ConnectorResource {
			return fmt.Errorf("%w: resource %s", ErrDuplicateType, d.ConnectorResource)
		}
	}
	r.types[d.Type] = d
	return nil
}

// Lookup returns the descriptor of a connector type.
func (r *Registry) Lookup(typeName string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.types[typeName]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrUnknownType, typeName)
	}
	return d, nil
}

// LookupResource returns the descriptor whose connector resource type is
// resourceType.
func (r *Registry) LookupResource(resourceType string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, d := range r.types {
		if d.ConnectorResource == resourceType {
			return d, nil
		}
	}
	return Descriptor{}, fmt.Errorf("%w: resource %s", ErrUnknownType, resourceType)
}

// Types returns the registered type names in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
