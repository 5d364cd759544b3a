// Package api implements the JSON:API HTTP surface and the WebSocket event
// stream of the FB BUS connector.
//
// This package provides:
//   - Connector endpoints (list, read, create, update, start pairing)
//   - Device endpoints (read, delete, write a property's expected value)
//   - A WebSocket hub fed by connector events
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// Resource attributes are produced and consumed by the schema and hydrator
// registered for each connector type in the extension registry, so the
// handlers stay independent of the FB-BUS specifics.
//
// # Graceful Degradation
//
// The server runs without a connector runtime: reads work, while property
// writes and discovery answer 409 Conflict.
package api
