package influxdb

import (
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

const (
	MeasurementRegisterValues = "register_values"
	MeasurementDeviceStates   = "device_states"
)

// RegisterValue is one actual value sample of a device register.
type RegisterValue struct {
	DeviceID     string
	RegisterID   string
	RegisterType string
	Address      int
	DataType     string
	Value        any
}

// WriteRegisterValue queues a register sample. Numbers land in the float
// field "value", booleans in "state" and strings in "text". Nil and
// unsupported values are skipped.
func (c *Client) WriteRegisterValue(v RegisterValue) {
	if !c.IsConnected() {
		return
	}

	field, value, ok := fieldFor(v.Value)
	if !ok {
		return
	}

	p := write.NewPointWithMeasurement(MeasurementRegisterValues).
		AddTag("device_id", v.DeviceID).
		AddTag("register_id", v.RegisterID).
		AddTag("register_type", v.RegisterType).
		AddTag("data_type", v.DataType).
		AddField("address", v.Address).
		AddField(field, value).
		SetTime(c.now())

	c.writer.WritePoint(p)
}

// WriteDeviceState queues a device state change.
func (c *Client) WriteDeviceState(deviceID string, state string) {
	if !c.IsConnected() {
		return
	}

	p := write.NewPointWithMeasurement(MeasurementDeviceStates).
		AddTag("device_id", deviceID).
		AddField("state", state).
		SetTime(c.now())

	c.writer.WritePoint(p)
}

func fieldFor(v any) (string, any, bool) {
	switch n := v.(type) {
	case bool:
		return "state", n, true
	case string:
		return "text", n, true
	case float32:
		return "value", float64(n), true
	case float64:
		return "value", n, true
	case int:
		return "value", float64(n), true
	case int8:
		return "value", float64(n), true
	case int16:
		return "value", float64(n), true
	case int32:
		return "value", float64(n), true
	case int64:
		return "value", float64(n), true
	case uint8:
		return "value", float64(n), true
	case uint16:
		return "value", float64(n), true
	case uint32:
		return "value", float64(n), true
	case uint64:
		return "value", float64(n), true
	}
	return "", nil, false
}
