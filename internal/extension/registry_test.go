package extension

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRegistryRegisterAndLookup(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(FBBus()); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	d, err := reg.Lookup("fb-bus")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if d.ConnectorResource != FBBusConnectorResource || d.DeviceResource != FBBusDeviceResource {
		t.Errorf("resources = %s/%s", d.ConnectorResource, d.DeviceResource)
	}

	byResource, err := reg.LookupResource(FBBusConnectorResource)
	if err != nil || byResource.Type != "fb-bus" {
		t.Errorf("LookupResource() = %q, %v", byResource.Type, err)
	}

	if diff := cmp.Diff([]string{"fb-bus"}, reg.Types()); diff != "" {
		t.Errorf("Types() mismatch (-want +got):\n%s", diff)
	}
}

func TestRegistryErrors(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(FBBus()); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if err := reg.Register(FBBus()); !errors.Is(err, ErrDuplicateType) {
		t.Errorf("duplicate Register() error = %v, want ErrDuplicateType", err)
	}

	other := FBBus()
	other.Type = "fb-bus-2"
	if err := reg.Register(other); !errors.Is(err, ErrDuplicateType) {
		t.Errorf("Register() with taken resource error = %v, want ErrDuplicateType", err)
	}

	if _, err := reg.Lookup("modbus"); !errors.Is(err, ErrUnknownType) {
		t.Errorf("Lookup() error = %v, want ErrUnknownType", err)
	}
	if _, err := reg.LookupResource("modbus-connector"); !errors.Is(err, ErrUnknownType) {
		t.Errorf("LookupResource() error = %v, want ErrUnknownType", err)
	}
}

func TestRegistryRejectsIncompleteDescriptor(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Descriptor)
	}{
		{"no type", func(d *Descriptor) { d.Type = "" }},
		{"no resource", func(d *Descriptor) { d.DeviceResource = "" }},
		{"no hydrator", func(d *Descriptor) { d.Hydrator = nil }},
		{"no schema", func(d *Descriptor) { d.Schema = nil }},
		{"no entity factory", func(d *Descriptor) { d.NewConnector = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := FBBus()
			tt.modify(&d)
			if err := NewRegistry().Register(d); !errors.Is(err, ErrInvalidDescriptor) {
				t.Errorf("Register() error = %v, want ErrInvalidDescriptor", err)
			}
		})
	}
}
