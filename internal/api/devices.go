package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fastybird/fb-bus-connector/internal/connector"
	"github.com/fastybird/fb-bus-connector/internal/device"
	"github.com/fastybird/fb-bus-connector/internal/extension"
)

// expectedValuePointer is the attribute written by PUT .../properties/{property}.
const expectedValuePointer = "/data/attributes/expected_value"

// deviceWithDescriptor loads a device and the descriptor of its connector.
// Failures are written to w.
func (s *Server) deviceWithDescriptor(w http.ResponseWriter, r *http.Request) (*device.Device, extension.Descriptor, bool) {
	id := chi.URLParam(r, "id")

	dev, err := s.registry.GetDevice(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
		} else {
			s.logger.Error("failed to load device", "id", id, "error", err)
			writeInternalError(w, "failed to load device")
		}
		return nil, extension.Descriptor{}, false
	}

	c, err := s.registry.GetConnector(r.Context(), dev.ConnectorID)
	if err != nil {
		s.logger.Error("failed to load device connector", "id", id, "connector_id", dev.ConnectorID, "error", err)
		writeInternalError(w, "failed to load device connector")
		return nil, extension.Descriptor{}, false
	}
	d, err := s.extensions.Lookup(c.Type)
	if err != nil {
		writeInternalError(w, "connector type is not registered")
		return nil, extension.Descriptor{}, false
	}
	return dev, d, true
}

// handleGetDevice returns a device with its properties included.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, d, ok := s.deviceWithDescriptor(w, r)
	if !ok {
		return
	}

	properties, err := s.registry.ListProperties(r.Context(), dev.ID)
	if err != nil {
		s.logger.Error("failed to list properties", "device_id", dev.ID, "error", err)
		writeInternalError(w, "failed to list properties")
		return
	}

	included := make([]Resource, 0, len(properties))
	for _, p := range properties {
		included = append(included, propertyResource(p))
	}

	writeDocument(w, http.StatusOK, Document{
		Data:     deviceResource(d, dev, properties),
		Included: included,
	})
}

// handleDeleteDevice removes a device from the runtime of its connector and
// then from the store. The runtime goes first so it stops reporting the
// device before the stored entity disappears.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	dev, _, ok := s.deviceWithDescriptor(w, r)
	if !ok {
		return
	}

	if rt, ok := s.runtimes.Get(dev.ConnectorID); ok {
		if id, err := uuid.Parse(dev.ID); err == nil {
			rt.RemoveDevice(id)
		}
	}

	if err := s.registry.DeleteDevice(r.Context(), dev.ID); err != nil {
		s.logger.Error("failed to delete device", "id", dev.ID, "error", err)
		writeEntityError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleWriteProperty stores a new expected value for a property. The
// property is addressed by id or identifier (output_1). The connector
// writes the value to the device on its next publish cycle.
//
//	PUT /api/v1/devices/{id}/properties/output_1
//	{"data": {"type": "fb-bus-property", "attributes": {"expected_value": true}}}
func (s *Server) handleWriteProperty(w http.ResponseWriter, r *http.Request) {
	dev, _, ok := s.deviceWithDescriptor(w, r)
	if !ok {
		return
	}

	data, ok := decodeDocument(w, r)
	if !ok {
		return
	}
	if data.Type != PropertyResource {
		writeError(w, http.StatusConflict, ErrCodeConflict, "resource type must be "+PropertyResource)
		return
	}
	raw, present := data.Attributes["expected_value"]
	if !present {
		writeValidationError(w, expectedValuePointer, "expected_value is required")
		return
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil || value == nil {
		writeValidationError(w, expectedValuePointer, "expected_value must be a scalar")
		return
	}
	switch value.(type) {
	case map[string]any, []any:
		writeValidationError(w, expectedValuePointer, "expected_value must be a scalar")
		return
	}

	prop, ok := s.findProperty(w, r, dev.ID, chi.URLParam(r, "property"))
	if !ok {
		return
	}
	if data.ID != "" && data.ID != prop.ID {
		writeError(w, http.StatusConflict, ErrCodeConflict, "resource id does not match the property")
		return
	}

	rt, ok := s.runtimes.Get(dev.ConnectorID)
	if !ok {
		writeError(w, http.StatusConflict, ErrCodeConflict, "connector is not running")
		return
	}
	registerID, err := uuid.Parse(prop.ID)
	if err != nil {
		writeNotFound(w, "property is not a bus register")
		return
	}
	if err := rt.WriteProperty(registerID, value); err != nil {
		writeRuntimeError(w, err)
		return
	}

	prop.ExpectedValue = value
	writeDocument(w, http.StatusAccepted, Document{Data: propertyResource(*prop)})
}

func (s *Server) findProperty(w http.ResponseWriter, r *http.Request, deviceID, key string) (*device.Property, bool) {
	properties, err := s.registry.ListProperties(r.Context(), deviceID)
	if err != nil {
		s.logger.Error("failed to list properties", "device_id", deviceID, "error", err)
		writeInternalError(w, "failed to list properties")
		return nil, false
	}
	for i := range properties {
		if properties[i].ID == key || properties[i].Identifier == key {
			return &properties[i], true
		}
	}
	writeNotFound(w, "property not found")
	return nil, false
}

// writeRuntimeError writes the response of a rejected runtime operation.
func writeRuntimeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, connector.ErrConnectorStopped):
		writeError(w, http.StatusConflict, ErrCodeConflict, "connector is stopped")
	case errors.Is(err, connector.ErrRegisterNotFound), errors.Is(err, connector.ErrDeviceNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, connector.ErrRegisterNotSettable), errors.Is(err, connector.ErrInvalidValue):
		writeValidationError(w, expectedValuePointer, err.Error())
	default:
		writeInternalError(w, "connector error")
	}
}
