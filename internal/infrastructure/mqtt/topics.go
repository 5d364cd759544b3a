package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root segment of every topic the connector uses.
const TopicPrefix = "fbbus"

// Category is the second topic segment and names the message flow.
type Category string

const (
	CategoryState     Category = "state"
	CategoryCommand   Category = "command"
	CategoryAck       Category = "ack"
	CategoryHealth    Category = "health"
	CategoryDiscovery Category = "discovery"
)

// Route is a parsed connector topic of the form
// fbbus/{category}/{connector_type}[/{address}].
type Route struct {
	Category      Category
	ConnectorType string
	Address       string
}

// String renders the route back into a topic.
func (r Route) String() string {
	if r.Address == "" {
		return fmt.Sprintf("%s/%s/%s", TopicPrefix, r.Category, r.ConnectorType)
	}
	return fmt.Sprintf("%s/%s/%s/%s", TopicPrefix, r.Category, r.ConnectorType, r.Address)
}

// Topic builds a topic for a connector type. The address is optional;
// health and discovery topics carry none.
//
//	mqtt.Topic(mqtt.CategoryState, "fb-bus", deviceID)
//	// fbbus/state/fb-bus/4c0a3f0e-...
func Topic(category Category, connectorType string, address ...string) string {
	r := Route{Category: category, ConnectorType: connectorType}
	if len(address) > 0 {
		r.Address = address[0]
	}
	return r.String()
}

// Wildcard matches every address of a category for one connector type.
func Wildcard(category Category, connectorType string) string {
	return Topic(category, connectorType, "+")
}

// ParseTopic splits a received topic into its route.
func ParseTopic(topic string) (Route, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || len(parts) > 4 || parts[0] != TopicPrefix {
		return Route{}, fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	for _, p := range parts[1:] {
		if p == "" || p == "+" || p == "#" {
			return Route{}, fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
		}
	}

	r := Route{Category: Category(parts[1]), ConnectorType: parts[2]}
	if len(parts) == 4 {
		r.Address = parts[3]
	}
	return r, nil
}
