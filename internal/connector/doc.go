// Package connector runs the FB BUS protocol for one bus client.
//
// A Connector owns the in-memory device and register registries, the bus
// client proxy and the three protocol workers:
//
//	Receiver   parses received payloads and updates the registries
//	Publisher  reads states and registers and writes expected values
//	Pairing    searches the bus and configures new devices
//
// Every registry change is propagated as an Event. Events are queued and
// dispatched one per loop iteration to the registered consumers. The
// StoreConsumer persists them through device.Registry and the
// HistoryConsumer writes values to InfluxDB.
//
// # Loop
//
// Run calls Handle on a fixed interval. One iteration handles one received
// packet, then one pairing step or one publisher round, then writes at most
// one frame per bus client, then dispatches one event. The publisher is
// skipped while frames are still queued on a client.
//
// # Thread Safety
//
// Registries, the event queue and the client proxy are safe for concurrent
// use. WriteProperty and DiscoverDevices may be called from API and MQTT
// handlers while Run is active.
package connector
