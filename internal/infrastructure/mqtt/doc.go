// Package mqtt connects the FB BUS connector to an MQTT broker.
//
// Topics follow fbbus/{category}/{connector_type}[/{address}]. The connector
// publishes retained device state and health, acknowledgements and
// discovery announcements, and consumes commands from
// fbbus/command/fb-bus/+.
//
// The client reconnects on its own and restores every subscription made
// through it. A will registered with WithWill is published by the broker
// when the connection drops without a clean Close:
//
//	client, err := mqtt.Connect(cfg.MQTT,
//	    mqtt.WithLogger(log),
//	    mqtt.WithWill(mqtt.Topic(mqtt.CategoryHealth, "fb-bus"), offline),
//	)
package mqtt
