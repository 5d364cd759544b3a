// Package fbbus exposes the FB BUS connector over MQTT.
//
// The bridge sits between the connector runtime and the MQTT broker:
//
//	┌─────────────────┐   MQTT   ┌─────────────────┐   events   ┌───────────┐
//	│   Home / Cloud  │◄────────►│  FB BUS Bridge  │◄──────────►│ Connector │◄──► FB BUS
//	└─────────────────┘          └─────────────────┘            └───────────┘
//
// # Topics
//
//   - fbbus/command/fb-bus/{device_id}  commands (write_property, discover)
//   - fbbus/ack/fb-bus/{device_id}      command acknowledgments
//   - fbbus/state/fb-bus/{device_id}    retained device state and property values
//   - fbbus/discovery/fb-bus            devices created by pairing
//   - fbbus/health/fb-bus               retained health status, also the LWT
//
// Connector level commands such as discover use "connector" as the address.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package fbbus
