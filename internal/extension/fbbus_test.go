package extension

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/fastybird/fb-bus-connector/internal/bus/pjon"
	"github.com/fastybird/fb-bus-connector/internal/device"
)

func attrs(t *testing.T, s string) map[string]json.RawMessage {
	t.Helper()
	var m map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		t.Fatalf("invalid test attributes: %v", err)
	}
	return m
}

func intPtr(v int) *int { return &v }

func TestHydrateConnector(t *testing.T) {
	c := FBBus().NewConnector()

	err := FBBusHydrator{}.HydrateConnector(attrs(t, `{
		"name": "Ground floor",
		"comment": "main bus",
		"enabled": false,
		"address": "200",
		"baud_rate": 115200,
		"interface": "/dev/ttyUSB0",
		"protocol": "v1"
	}`), c)
	if err != nil {
		t.Fatalf("HydrateConnector() error = %v", err)
	}

	if c.Name != "Ground floor" || c.Enabled {
		t.Errorf("Name/Enabled = %q/%v", c.Name, c.Enabled)
	}
	if c.Comment == nil || *c.Comment != "main bus" {
		t.Errorf("Comment = %v", c.Comment)
	}
	if diff := cmp.Diff(intPtr(200), c.Address); diff != "" {
		t.Errorf("Address mismatch (-want +got):\n%s", diff)
	}
	if c.GetBaudRate() != 115200 || c.GetInterface() != "/dev/ttyUSB0" {
		t.Errorf("BaudRate/Interface = %d/%s", c.GetBaudRate(), c.GetInterface())
	}
	if c.Type != device.ConnectorType {
		t.Errorf("Type = %q, want %q", c.Type, device.ConnectorType)
	}
}

func TestHydrateConnectorPartial(t *testing.T) {
	address := 10
	comment := "keep me"
	c := &device.Connector{Name: "Bus", Address: &address, Comment: &comment}

	err := FBBusHydrator{}.HydrateConnector(attrs(t, `{"baud_rate": 9600.0, "address": null}`), c)
	if err != nil {
		t.Fatalf("HydrateConnector() error = %v", err)
	}
	if c.Address != nil || c.GetAddress() != device.DefaultAddress {
		t.Errorf("null address should reset to default, got %v", c.Address)
	}
	if c.GetBaudRate() != 9600 {
		t.Errorf("BaudRate = %d, want 9600", c.GetBaudRate())
	}
	if c.Name != "Bus" || c.Comment == nil || *c.Comment != "keep me" {
		t.Error("absent attributes changed")
	}
}

func TestHydrateConnectorErrors(t *testing.T) {
	tests := []struct {
		name         string
		attributes   string
		wantPointers []string
	}{
		{"address not integer", `{"address": "abc"}`, []string{"/data/attributes/address"}},
		{"address fraction", `{"address": 1.5}`, []string{"/data/attributes/address"}},
		{"baud rate object", `{"baud_rate": {"value": 1}}`, []string{"/data/attributes/baud_rate"}},
		{"baud rate boolean", `{"baud_rate": true}`, []string{"/data/attributes/baud_rate"}},
		{"address above the bus range", `{"address": 255}`, []string{"/data/attributes/address"}},
		{"address zero", `{"address": "0"}`, []string{"/data/attributes/address"}},
		{"address beyond int64", `{"address": 1e20}`, []string{"/data/attributes/address"}},
		{"baud rate beyond int32", `{"baud_rate": 4294967296}`, []string{"/data/attributes/baud_rate"}},
		{"baud rate negative", `{"baud_rate": -9600}`, []string{"/data/attributes/baud_rate"}},
		{"empty interface", `{"interface": "  "}`, []string{"/data/attributes/interface"}},
		{"unknown protocol", `{"protocol": "v2"}`, []string{"/data/attributes/protocol"}},
		{"empty name", `{"name": ""}`, []string{"/data/attributes/name"}},
		{"comment number", `{"comment": 5}`, []string{"/data/attributes/comment"}},
		{"enabled string", `{"enabled": "yes"}`, []string{"/data/attributes/enabled"}},
		{
			"several",
			`{"address": [], "protocol": 1, "name": "ok"}`,
			[]string{"/data/attributes/address", "/data/attributes/protocol"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := FBBusHydrator{}.HydrateConnector(attrs(t, tt.attributes), &device.Connector{})
			if err == nil {
				t.Fatal("expected error")
			}

			var pointers []string
			for _, he := range HydrationErrors(err) {
				pointers = append(pointers, he.Pointer)
			}
			sort.Strings(pointers)
			if diff := cmp.Diff(tt.wantPointers, pointers); diff != "" {
				t.Errorf("pointers mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestHydrationErrorsWrapped(t *testing.T) {
	he := &HydrationError{Pointer: "/data/attributes/name", Detail: "must be a non-empty string"}
	wrapped := errors.Join(errors.New("unrelated"), he)

	got := HydrationErrors(wrapped)
	if len(got) != 1 || got[0] != he {
		t.Errorf("HydrationErrors() = %v, want [%v]", got, he)
	}
	if HydrationErrors(nil) != nil {
		t.Error("HydrationErrors(nil) should be nil")
	}
}

func TestSchemaConnectorDefaults(t *testing.T) {
	got := FBBusSchema{}.ConnectorAttributes(&device.Connector{Name: "Bus", Enabled: true})
	want := map[string]any{
		"name":      "Bus",
		"comment":   nil,
		"enabled":   true,
		"address":   254,
		"interface": "/dev/ttyAMA0",
		"baud_rate": 38400,
		"protocol":  "v1",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("attributes mismatch (-want +got):\n%s", diff)
	}
}

func TestSchemaDevice(t *testing.T) {
	got := FBBusSchema{}.DeviceAttributes(&device.Device{
		Identifier:    "SN-9",
		Name:          "Relay board",
		Enabled:       true,
		HardwareModel: "fb-8ch",
		State:         device.StateRunning,
	})
	if got["identifier"] != "SN-9" || got["hardware_model"] != "fb-8ch" || got["state"] != "running" {
		t.Errorf("attributes = %v", got)
	}
	if len(got) != 9 {
		t.Errorf("attribute count = %d, want 9", len(got))
	}
}

func TestRuntimeFactory(t *testing.T) {
	opened := ""
	deps := RuntimeDeps{
		OpenPort: func(path string, _ pjon.PortOptions) (pjon.Port, error) {
			opened = path
			return nil, errors.New("port busy")
		},
	}

	iface := "/dev/ttyS1"
	c := &device.Connector{ID: "5f7a8a64-9fb0-4c1f-8f0e-56f4f2a1c0d1", Type: device.ConnectorType, Name: "Bus", Interface: &iface}
	if _, err := FBBus().Runtime(context.Background(), c, deps); err == nil {
		t.Fatal("expected error when the port cannot be opened")
	}
	if opened != "/dev/ttyS1" {
		t.Errorf("opened %q, want /dev/ttyS1", opened)
	}

	if _, err := FBBus().Runtime(context.Background(), &device.Connector{ID: "bad"}, deps); err == nil {
		t.Error("expected error for malformed connector id")
	}
}
