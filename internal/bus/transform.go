package bus

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Text layouts used by date and time registers.
const (
	DateLayout     = "2006-01-02"
	TimeLayout     = "15:04:05-0700"
	DatetimeLayout = "2006-01-02T15:04:05-0700"
)

// Value is a register value in device representation. The dynamic type is
// one of uint32, int32, float32, bool, string, time.Time, ButtonPayload or
// SwitchPayload. A nil Value means the value is unknown.
type Value any

// ValueFromBytes decodes register data received from a device.
// Numeric types consume the first four bytes little-endian. It returns nil
// when the data is too short or does not describe a valid value.
func ValueFromBytes(dataType DataType, data []byte) Value {
	switch dataType {
	case DataTypeUint8, DataTypeUint16, DataTypeUint32:
		if len(data) < 4 {
			return nil
		}
		return binary.LittleEndian.Uint32(data[0:4])

	case DataTypeInt8, DataTypeInt16, DataTypeInt32:
		if len(data) < 4 {
			return nil
		}
		return int32(binary.LittleEndian.Uint32(data[0:4])) //nolint:gosec // two's complement reinterpretation

	case DataTypeFloat32:
		if len(data) < 4 {
			return nil
		}
		return math.Float32frombits(binary.LittleEndian.Uint32(data[0:4]))

	case DataTypeBoolean:
		if len(data) < 4 {
			return nil
		}
		return binary.LittleEndian.Uint32(data[0:4]) == 0xFF00

	case DataTypeButton:
		if len(data) < 4 {
			return nil
		}
		v := binary.LittleEndian.Uint32(data[0:4])
		if v > uint32(ButtonLongLongClick) {
			return nil
		}
		return ButtonPayload(v)

	case DataTypeSwitch:
		if len(data) < 4 {
			return nil
		}
		v := binary.LittleEndian.Uint32(data[0:4])
		if v > uint32(SwitchToggle) {
			return nil
		}
		return SwitchPayload(v)

	case DataTypeString:
		return ExtractText(data, 0, -1)

	case DataTypeDate:
		return parseTime(DateLayout, ExtractText(data, 0, -1))

	case DataTypeTime:
		return parseTime(TimeLayout, ExtractText(data, 0, -1))

	case DataTypeDatetime:
		return parseTime(DatetimeLayout, ExtractText(data, 0, -1))
	}

	return nil
}

// ValueToBytes encodes a value for transmission to a device.
// It returns nil when the value cannot be represented by the data type.
func ValueToBytes(dataType DataType, value Value) []byte {
	if value == nil {
		return nil
	}

	switch dataType {
	case DataTypeUint8, DataTypeUint16, DataTypeUint32, DataTypeButton, DataTypeSwitch:
		n, ok := toInt64(value)
		if !ok {
			return nil
		}
		return binary.LittleEndian.AppendUint32(nil, uint32(n)) //nolint:gosec // wire truncation to 32 bits

	case DataTypeInt8, DataTypeInt16, DataTypeInt32:
		n, ok := toInt64(value)
		if !ok {
			return nil
		}
		return binary.LittleEndian.AppendUint32(nil, uint32(int32(n))) //nolint:gosec // wire truncation to 32 bits

	case DataTypeFloat32:
		f, ok := toFloat64(value)
		if !ok {
			return nil
		}
		return binary.LittleEndian.AppendUint32(nil, math.Float32bits(float32(f)))

	case DataTypeBoolean:
		var raw uint32
		if toBool(value) {
			raw = 0xFF00
		}
		return binary.LittleEndian.AppendUint32(nil, raw)

	case DataTypeString:
		return []byte(fmt.Sprint(value))

	case DataTypeDate:
		return formatTime(DateLayout, value)

	case DataTypeTime:
		return formatTime(TimeLayout, value)

	case DataTypeDatetime:
		return formatTime(DatetimeLayout, value)
	}

	return nil
}

// TransformForDevice coerces a value received from the gateway into the
// device representation of dataType. Numbers may arrive as any Go numeric
// type or as text. Button and switch values accept either the numeric code
// or the gateway event name. It returns nil when the value cannot be coerced.
func TransformForDevice(dataType DataType, value any) Value {
	if value == nil {
		return nil
	}

	switch dataType {
	case DataTypeFloat32:
		f, ok := toFloat64(value)
		if !ok {
			return nil
		}
		return float32(f)

	case DataTypeUint8, DataTypeUint16, DataTypeUint32:
		n, ok := toInt64(value)
		if !ok || n < 0 || n > math.MaxUint32 {
			return nil
		}
		return uint32(n)

	case DataTypeInt8, DataTypeInt16, DataTypeInt32:
		n, ok := toInt64(value)
		if !ok || n < math.MinInt32 || n > math.MaxInt32 {
			return nil
		}
		return int32(n)

	case DataTypeBoolean:
		return toBool(value)

	case DataTypeString:
		if s, ok := value.(string); ok {
			return s
		}
		return fmt.Sprint(value)

	case DataTypeDate:
		return coerceTime(DateLayout, value)

	case DataTypeTime:
		return coerceTime(TimeLayout, value)

	case DataTypeDatetime:
		return coerceTime(DatetimeLayout, value)

	case DataTypeButton:
		if s, ok := value.(string); ok {
			for b, name := range buttonGateway {
				if name == s {
					return b
				}
			}
		}
		n, ok := toInt64(value)
		if !ok || n < 0 || n > int64(ButtonLongLongClick) {
			return nil
		}
		return ButtonPayload(n)

	case DataTypeSwitch:
		if s, ok := value.(string); ok {
			for sw, name := range switchGateway {
				if name == s {
					return sw
				}
			}
		}
		n, ok := toInt64(value)
		if !ok || n < 0 || n > int64(SwitchToggle) {
			return nil
		}
		return SwitchPayload(n)
	}

	return nil
}

// TransformForGateway converts a device value into the representation
// published to the host: button and switch events become their event
// names, dates become formatted text, everything else is passed through.
func TransformForGateway(dataType DataType, value Value) any {
	switch v := value.(type) {
	case nil:
		return nil
	case ButtonPayload:
		if name := v.Gateway(); name != "" {
			return name
		}
		return nil
	case SwitchPayload:
		return v.Gateway()
	case time.Time:
		switch dataType {
		case DataTypeDate:
			return v.Format(DateLayout)
		case DataTypeTime:
			return v.Format(TimeLayout)
		default:
			return v.Format(DatetimeLayout)
		}
	}
	return value
}

// ValuesEqual reports whether two device values are the same.
func ValuesEqual(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	return a == b
}

// IsWritableValue reports whether value is numeric or boolean and can be
// sent with a write register packet.
func IsWritableValue(value Value) bool {
	switch value.(type) {
	case uint32, int32, float32, bool:
		return true
	}
	return false
}

// ExtractText collects characters from payload starting at start until a
// DataSpace byte is found or length characters have been read. A negative
// length reads to the end of the payload.
func ExtractText(payload []byte, start, length int) string {
	if start < 0 || start >= len(payload) {
		return ""
	}

	var b strings.Builder
	for i := start; i < len(payload); i++ {
		if payload[i] == DataSpace {
			break
		}
		if length >= 0 && b.Len() >= length {
			break
		}
		b.WriteByte(payload[i])
	}
	return b.String()
}

// FindSpace returns the index of the first DataSpace byte, or -1.
func FindSpace(payload []byte) int {
	for i, c := range payload {
		if c == DataSpace {
			return i
		}
	}
	return -1
}

func parseTime(layout, s string) Value {
	t, err := time.Parse(layout, s)
	if err != nil {
		return nil
	}
	return t
}

func coerceTime(layout string, value any) Value {
	if t, ok := value.(time.Time); ok {
		return t
	}
	return parseTime(layout, fmt.Sprint(value))
}

func formatTime(layout string, value Value) []byte {
	if t, ok := value.(time.Time); ok {
		return []byte(t.Format(layout))
	}
	t, err := time.Parse(layout, fmt.Sprint(value))
	if err != nil {
		return nil
	}
	return []byte(t.Format(layout))
}

func toInt64(value any) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint:
		return int64(v), true //nolint:gosec // register values fit in 32 bits
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		return int64(v), true //nolint:gosec // register values fit in 32 bits
	case float32:
		return int64(v), true
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int64(v), true
	case ButtonPayload:
		return int64(v), true
	case SwitchPayload:
		return int64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

func toFloat64(value any) (float64, bool) {
	switch v := value.(type) {
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	n, ok := toInt64(value)
	return float64(n), ok
}

func toBool(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return v != ""
		}
		return b
	}
	if f, ok := toFloat64(value); ok {
		return f != 0
	}
	return false
}
