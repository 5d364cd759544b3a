package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fastybird/fb-bus-connector/internal/device"
	"github.com/fastybird/fb-bus-connector/internal/extension"
)

// connectorWithDescriptor loads a connector and the descriptor of its type.
// Failures are written to w.
func (s *Server) connectorWithDescriptor(w http.ResponseWriter, r *http.Request) (*device.Connector, extension.Descriptor, bool) {
	id := chi.URLParam(r, "id")

	c, err := s.registry.GetConnector(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrConnectorNotFound) {
			writeNotFound(w, "connector not found")
		} else {
			s.logger.Error("failed to load connector", "id", id, "error", err)
			writeInternalError(w, "failed to load connector")
		}
		return nil, extension.Descriptor{}, false
	}

	d, err := s.extensions.Lookup(c.Type)
	if err != nil {
		s.logger.Error("connector has an unregistered type", "id", id, "type", c.Type)
		writeInternalError(w, "connector type is not registered")
		return nil, extension.Descriptor{}, false
	}
	return c, d, true
}

// handleListConnectors returns every connector of a registered type.
func (s *Server) handleListConnectors(w http.ResponseWriter, r *http.Request) {
	connectors, err := s.registry.ListConnectors(r.Context())
	if err != nil {
		s.logger.Error("failed to list connectors", "error", err)
		writeInternalError(w, "failed to list connectors")
		return
	}

	resources := make([]Resource, 0, len(connectors))
	for i := range connectors {
		d, err := s.extensions.Lookup(connectors[i].Type)
		if err != nil {
			s.logger.Warn("skipping connector of unregistered type", "id", connectors[i].ID, "type", connectors[i].Type)
			continue
		}
		resources = append(resources, connectorResource(d, &connectors[i]))
	}

	writeDocument(w, http.StatusOK, Document{
		Data:  resources,
		Links: &Links{Self: basePath + "/connectors"},
	})
}

func (s *Server) handleGetConnector(w http.ResponseWriter, r *http.Request) {
	c, d, ok := s.connectorWithDescriptor(w, r)
	if !ok {
		return
	}
	writeDocument(w, http.StatusOK, Document{Data: connectorResource(d, c)})
}

// handleCreateConnector creates a connector of the type named by the
// resource type of the request. Absent attributes take their defaults.
func (s *Server) handleCreateConnector(w http.ResponseWriter, r *http.Request) {
	data, ok := decodeDocument(w, r)
	if !ok {
		return
	}

	d, err := s.extensions.LookupResource(data.Type)
	if err != nil {
		writeError(w, http.StatusConflict, ErrCodeConflict, "unsupported resource type "+data.Type)
		return
	}

	if data.ID != "" {
		if _, err := uuid.Parse(data.ID); err != nil {
			writeValidationError(w, "/data/id", "client-generated id must be a UUID")
			return
		}
	}

	c := d.NewConnector()
	c.ID = data.ID
	if err := d.Hydrator.HydrateConnector(data.Attributes, c); err != nil {
		writeHydrationErrors(w, err)
		return
	}

	if err := s.registry.CreateConnector(r.Context(), c); err != nil {
		if !isValidationError(err) {
			s.logger.Error("failed to create connector", "error", err)
		}
		writeEntityError(w, err)
		return
	}

	w.Header().Set("Location", connectorLink(c.ID))
	writeDocument(w, http.StatusCreated, Document{Data: connectorResource(d, c)})
}

// handleUpdateConnector applies the given attributes to a stored connector.
// Bus settings take effect when the connector runtime is restarted.
func (s *Server) handleUpdateConnector(w http.ResponseWriter, r *http.Request) {
	c, d, ok := s.connectorWithDescriptor(w, r)
	if !ok {
		return
	}

	data, ok := decodeDocument(w, r)
	if !ok {
		return
	}
	if data.Type != d.ConnectorResource {
		writeError(w, http.StatusConflict, ErrCodeConflict, "resource type must be "+d.ConnectorResource)
		return
	}
	if data.ID != "" && data.ID != c.ID {
		writeError(w, http.StatusConflict, ErrCodeConflict, "resource id does not match the URL")
		return
	}

	updated := c.DeepCopy()
	if err := d.Hydrator.HydrateConnector(data.Attributes, updated); err != nil {
		writeHydrationErrors(w, err)
		return
	}

	if err := s.registry.UpdateConnector(r.Context(), updated); err != nil {
		if !isValidationError(err) {
			s.logger.Error("failed to update connector", "id", c.ID, "error", err)
		}
		writeEntityError(w, err)
		return
	}

	writeDocument(w, http.StatusOK, Document{Data: connectorResource(d, updated)})
}

func (s *Server) handleListConnectorDevices(w http.ResponseWriter, r *http.Request) {
	c, d, ok := s.connectorWithDescriptor(w, r)
	if !ok {
		return
	}

	devices, err := s.registry.ListDevices(r.Context(), c.ID)
	if err != nil {
		s.logger.Error("failed to list devices", "connector_id", c.ID, "error", err)
		writeInternalError(w, "failed to list devices")
		return
	}

	resources := make([]Resource, 0, len(devices))
	for i := range devices {
		properties, err := s.registry.ListProperties(r.Context(), devices[i].ID)
		if err != nil {
			s.logger.Error("failed to list properties", "device_id", devices[i].ID, "error", err)
			writeInternalError(w, "failed to list properties")
			return
		}
		resources = append(resources, deviceResource(d, &devices[i], properties))
	}

	writeDocument(w, http.StatusOK, Document{
		Data:  resources,
		Links: &Links{Self: connectorLink(c.ID) + "/devices"},
	})
}

// handleDiscover starts pairing on the connector runtime.
func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	c, _, ok := s.connectorWithDescriptor(w, r)
	if !ok {
		return
	}

	rt, ok := s.runtimes.Get(c.ID)
	if !ok {
		writeError(w, http.StatusConflict, ErrCodeConflict, "connector is not running")
		return
	}
	if err := rt.DiscoverDevices(); err != nil {
		writeRuntimeError(w, err)
		return
	}

	s.logger.Info("device discovery started", "connector_id", c.ID)
	writeDocument(w, http.StatusAccepted, Document{
		Data: nil,
		Meta: map[string]any{"pairing": true},
	})
}

func isValidationError(err error) bool {
	for _, m := range entityErrorPointers {
		if errors.Is(err, m.err) {
			return true
		}
	}
	return false
}
