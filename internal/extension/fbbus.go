package extension

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/fastybird/fb-bus-connector/internal/connector"
	"github.com/fastybird/fb-bus-connector/internal/device"
)

// JSON:API resource types of the FB-BUS connector.
const (
	FBBusConnectorResource = "fb-bus-connector"
	FBBusDeviceResource    = "fb-bus-device"
)

const attributesPointer = "/data/attributes/"

// FBBus returns the descriptor of the FB-BUS connector type.
func FBBus() Descriptor {
	return Descriptor{
		Type:              device.ConnectorType,
		DeviceType:        device.DeviceType,
		ConnectorResource: FBBusConnectorResource,
		DeviceResource:    FBBusDeviceResource,
		NewConnector: func() *device.Connector {
			return &device.Connector{Type: device.ConnectorType, Enabled: true}
		},
		Hydrator: FBBusHydrator{},
		Schema:   FBBusSchema{},
		Runtime:  newFBBusRuntime,
	}
}

func newFBBusRuntime(ctx context.Context, c *device.Connector, deps RuntimeDeps) (*connector.Connector, error) {
	settings, err := connector.SettingsFromConnector(c)
	if err != nil {
		return nil, err
	}

	conn := connector.New(connector.Options{
		Settings: settings,
		Store:    deps.Store,
		Logger:   deps.Logger,
		OpenPort: deps.OpenPort,
	})
	if err := conn.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initializing connector %s: %w", c.ID, err)
	}
	return conn, nil
}

// FBBusHydrator applies connector attributes.
//
//	address, baud_rate  integer or integer string, null resets to default
//	interface           non-empty string, null resets to default
//	protocol            one of the known protocol versions
//	name                non-empty string
//	comment             string or null
//	enabled             boolean
type FBBusHydrator struct{}

// HydrateConnector implements Hydrator.
func (FBBusHydrator) HydrateConnector(attributes map[string]json.RawMessage, c *device.Connector) error {
	var errs []error

	for name, raw := range attributes {
		if err := hydrateAttribute(name, raw, c); err != nil {
			errs = append(errs, &HydrationError{Pointer: attributesPointer + name, Detail: err.Error()})
		}
	}
	return errors.Join(errs...)
}

func hydrateAttribute(name string, raw json.RawMessage, c *device.Connector) error {
	value, err := decodeScalar(raw)
	if err != nil {
		return err
	}

	switch name {
	case "address":
		n, err := integerValue(value, 1, 254)
		if err != nil {
			return err
		}
		c.Address = n

	case "baud_rate":
		n, err := integerValue(value, 1, math.MaxInt32)
		if err != nil {
			return err
		}
		c.BaudRate = n

	case "interface":
		if value == nil {
			c.Interface = nil
			return nil
		}
		s, ok := value.(string)
		if !ok || strings.TrimSpace(s) == "" {
			return errors.New("must be a non-empty string")
		}
		c.Interface = &s

	case "protocol":
		if value == nil {
			c.Protocol = nil
			return nil
		}
		s, _ := value.(string)
		p := device.Protocol(s)
		if !p.IsValid() {
			return fmt.Errorf("must be one of %v", device.AllProtocols())
		}
		c.Protocol = &p

	case "name":
		s, ok := value.(string)
		if !ok || strings.TrimSpace(s) == "" {
			return errors.New("must be a non-empty string")
		}
		c.Name = s

	case "comment":
		if value == nil {
			c.Comment = nil
			return nil
		}
		s, ok := value.(string)
		if !ok {
			return errors.New("must be a string or null")
		}
		c.Comment = &s

	case "enabled":
		b, ok := value.(bool)
		if !ok {
			return errors.New("must be a boolean")
		}
		c.Enabled = b
	}
	return nil
}

// decodeScalar decodes a JSON value, rejecting objects and arrays. Numbers
// are returned as json.Number.
func decodeScalar(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, errors.New("must be a valid JSON value")
	}
	switch value.(type) {
	case map[string]any, []any:
		return nil, errors.New("must be a scalar value")
	}
	return value, nil
}

// integerValue coerces a scalar into an integer within [lo, hi]. Null
// returns nil.
func integerValue(value any, lo, hi int64) (*int, error) {
	var n int64

	switch v := value.(type) {
	case nil:
		return nil, nil
	case json.Number:
		var err error
		n, err = v.Int64()
		if err != nil {
			f, ferr := v.Float64()
			if ferr != nil || f != math.Trunc(f) || f < float64(lo) || f > float64(hi) {
				return nil, errors.New("must be an integer")
			}
			n = int64(f)
		}
	case string:
		var err error
		n, err = strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil, errors.New("must be an integer")
		}
	default:
		return nil, errors.New("must be an integer")
	}

	if n < lo || n > hi {
		return nil, fmt.Errorf("must be between %d and %d", lo, hi)
	}
	i := int(n)
	return &i, nil
}

// FBBusSchema renders FB-BUS connectors and devices. Connector bus fields
// are always present with defaults applied.
type FBBusSchema struct{}

// ConnectorAttributes implements Schema.
func (FBBusSchema) ConnectorAttributes(c *device.Connector) map[string]any {
	var comment any
	if c.Comment != nil {
		comment = *c.Comment
	}
	return map[string]any{
		"name":      c.Name,
		"comment":   comment,
		"enabled":   c.Enabled,
		"address":   c.GetAddress(),
		"interface": c.GetInterface(),
		"baud_rate": c.GetBaudRate(),
		"protocol":  string(c.GetProtocol()),
	}
}

// DeviceAttributes implements Schema.
func (FBBusSchema) DeviceAttributes(d *device.Device) map[string]any {
	return map[string]any{
		"identifier":            d.Identifier,
		"name":                  d.Name,
		"enabled":               d.Enabled,
		"hardware_manufacturer": d.HardwareManufacturer,
		"hardware_model":        d.HardwareModel,
		"hardware_version":      d.HardwareVersion,
		"firmware_manufacturer": d.FirmwareManufacturer,
		"firmware_version":      d.FirmwareVersion,
		"state":                 string(d.State),
	}
}
