// Package device provides the entity layer of the FB BUS connector.
//
// It persists the connectors the host has configured, the devices paired on
// each bus and the properties (one per device register) those devices
// expose. The protocol engine in package connector reads from and writes to
// this layer; the REST API serves it.
//
// # Architecture
//
//	┌─────────────────────────────────────────────────────────────────────┐
//	│                          Entity layer                               │
//	│                                                                     │
//	│  ┌──────────────────┐    ┌──────────────────┐    ┌────────────────┐ │
//	│  │     Registry     │    │    Repository    │    │   Validation   │ │
//	│  │   (registry.go)  │───▶│  (repository.go) │    │(validation.go) │ │
//	│  │                  │    │                  │    │                │ │
//	│  │ • device cache   │    │ • SQLite queries │    │ • bus address  │ │
//	│  │ • connector CRUD │    │ • JSON values    │    │ • identifiers  │ │
//	│  └──────────────────┘    └──────────────────┘    └────────────────┘ │
//	└───────────│───────────────────────│─────────────────────────────────┘
//	            ▼                       ▼
//	┌──────────────────────┐   ┌──────────────────────────────────────┐
//	│  connector / REST    │   │  SQLite: connectors, devices,        │
//	│                      │   │  properties                          │
//	└──────────────────────┘   └──────────────────────────────────────┘
//
// # Key Types
//
//   - Connector: a configured bus. Unset bus settings read back as defaults
//     (address 254, /dev/ttyAMA0, 38400 baud, protocol v1).
//   - Device: a paired bus device. Identifier holds its serial number.
//   - Property: one device register, identified as name_N where N is the
//     register address plus one.
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db)
//	registry := device.NewRegistry(repo)
//	registry.SetLogger(log)
//
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
//	devices, _ := registry.ListDevices(ctx, connectorID)
//	registry.SetDeviceState(ctx, devices[0].ID, device.StateRunning)
//
// # Thread Safety
//
// The Registry is safe for concurrent use. The device cache is protected by
// a read-write mutex. The Repository implementation must also be thread-safe.
//
// # Related Documentation
//
//   - migrations/20261018_120000_initial_schema.up.sql: database schema
package device
