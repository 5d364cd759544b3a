// Package influxdb keeps the history of FB BUS register values and device
// states.
//
// Two measurements are written:
//
//	register_values  tags device_id, register_id, register_type, data_type
//	                 fields address and one of value, state or text
//	device_states    tag device_id, field state
//
// Writes are batched and never block the connector loop. Failed batches are
// reported through the SetOnError callback.
package influxdb
