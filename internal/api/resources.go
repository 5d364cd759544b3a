package api

import (
	"github.com/fastybird/fb-bus-connector/internal/device"
	"github.com/fastybird/fb-bus-connector/internal/extension"
)

// PropertyResource is the JSON:API resource type of device properties.
const PropertyResource = "fb-bus-property"

// Resource is a JSON:API resource object.
type Resource struct {
	Type          string                  `json:"type"`
	ID            string                  `json:"id"`
	Attributes    map[string]any          `json:"attributes"`
	Relationships map[string]Relationship `json:"relationships,omitempty"`
	Links         Links                   `json:"links"`
}

// Relationship is a JSON:API relationship object.
type Relationship struct {
	Data  any   `json:"data,omitempty"`
	Links Links `json:"links,omitempty"`
}

// Identifier is a JSON:API resource identifier object.
type Identifier struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Links holds JSON:API links.
type Links struct {
	Self    string `json:"self,omitempty"`
	Related string `json:"related,omitempty"`
}

// Document is the top-level document of a successful response.
type Document struct {
	Data     any        `json:"data"`
	Included []Resource `json:"included,omitempty"`
	Links    *Links     `json:"links,omitempty"`
	Meta     any        `json:"meta,omitempty"`
}

func connectorLink(id string) string {
	return basePath + "/connectors/" + id
}

func deviceLink(id string) string {
	return basePath + "/devices/" + id
}

func propertyLink(deviceID, identifier string) string {
	return deviceLink(deviceID) + "/properties/" + identifier
}

func connectorResource(d extension.Descriptor, c *device.Connector) Resource {
	return Resource{
		Type:       d.ConnectorResource,
		ID:         c.ID,
		Attributes: d.Schema.ConnectorAttributes(c),
		Relationships: map[string]Relationship{
			"devices": {Links: Links{Related: connectorLink(c.ID) + "/devices"}},
		},
		Links: Links{Self: connectorLink(c.ID)},
	}
}

func deviceResource(d extension.Descriptor, dev *device.Device, properties []device.Property) Resource {
	ids := make([]Identifier, 0, len(properties))
	for _, p := range properties {
		ids = append(ids, Identifier{Type: PropertyResource, ID: p.ID})
	}

	return Resource{
		Type:       d.DeviceResource,
		ID:         dev.ID,
		Attributes: d.Schema.DeviceAttributes(dev),
		Relationships: map[string]Relationship{
			"connector": {
				Data:  Identifier{Type: d.ConnectorResource, ID: dev.ConnectorID},
				Links: Links{Related: connectorLink(dev.ConnectorID)},
			},
			"properties": {Data: ids},
		},
		Links: Links{Self: deviceLink(dev.ID)},
	}
}

func propertyResource(p device.Property) Resource {
	var name any
	if p.Name != nil {
		name = *p.Name
	}
	return Resource{
		Type: PropertyResource,
		ID:   p.ID,
		Attributes: map[string]any{
			"identifier":     p.Identifier,
			"name":           name,
			"register":       string(p.Register),
			"data_type":      p.DataType,
			"settable":       p.Settable,
			"queryable":      p.Queryable,
			"actual_value":   p.ActualValue,
			"expected_value": p.ExpectedValue,
		},
		Links: Links{Self: propertyLink(p.DeviceID, p.Identifier)},
	}
}
