package bus

import (
	"bytes"
	"testing"
	"time"
)

func TestValueFromBytes(t *testing.T) {
	tests := []struct {
		name     string
		dataType DataType
		data     []byte
		want     Value
	}{
		{"uint8", DataTypeUint8, []byte{0x2A, 0, 0, 0}, uint32(42)},
		{"uint32", DataTypeUint32, []byte{0x01, 0x02, 0x03, 0x04}, uint32(0x04030201)},
		{"int16 negative", DataTypeInt16, []byte{0xFF, 0xFF, 0xFF, 0xFF}, int32(-1)},
		{"float32", DataTypeFloat32, []byte{0x00, 0x00, 0x20, 0x41}, float32(10)},
		{"boolean true", DataTypeBoolean, []byte{0x00, 0xFF, 0, 0}, true},
		{"boolean false", DataTypeBoolean, []byte{0x01, 0, 0, 0}, false},
		{"button", DataTypeButton, []byte{0x03, 0, 0, 0}, ButtonClick},
		{"button invalid", DataTypeButton, []byte{0x09, 0, 0, 0}, nil},
		{"switch", DataTypeSwitch, []byte{0x02, 0, 0, 0}, SwitchToggle},
		{"switch invalid", DataTypeSwitch, []byte{0x03, 0, 0, 0}, nil},
		{"string stops at space", DataTypeString, []byte("abc def"), "abc"},
		{"short numeric", DataTypeUint8, []byte{0x01}, nil},
		{"invalid date", DataTypeDate, []byte("2021-13-45"), nil},
		{"unknown type", DataTypeUnknown, []byte{1, 2, 3, 4}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValueFromBytes(tt.dataType, tt.data)
			if !ValuesEqual(got, tt.want) {
				t.Errorf("ValueFromBytes(%s, %v) = %#v, want %#v", tt.dataType, tt.data, got, tt.want)
			}
		})
	}
}

func TestValueFromBytes_Date(t *testing.T) {
	got := ValueFromBytes(DataTypeDate, []byte("2021-06-15"))
	want := time.Date(2021, 6, 15, 0, 0, 0, 0, time.UTC)
	if !ValuesEqual(got, want) {
		t.Errorf("ValueFromBytes(date) = %v, want %v", got, want)
	}
}

func TestValueToBytes(t *testing.T) {
	tests := []struct {
		name     string
		dataType DataType
		value    Value
		want     []byte
	}{
		{"uint8", DataTypeUint8, uint32(42), []byte{0x2A, 0, 0, 0}},
		{"int32 negative", DataTypeInt32, int32(-2), []byte{0xFE, 0xFF, 0xFF, 0xFF}},
		{"float32", DataTypeFloat32, float32(10), []byte{0x00, 0x00, 0x20, 0x41}},
		{"boolean true", DataTypeBoolean, true, []byte{0x00, 0xFF, 0, 0}},
		{"boolean false", DataTypeBoolean, false, []byte{0, 0, 0, 0}},
		{"switch", DataTypeSwitch, SwitchOn, []byte{0x01, 0, 0, 0}},
		{"string", DataTypeString, "on", []byte("on")},
		{"date from text", DataTypeDate, "2021-06-15", []byte("2021-06-15")},
		{"invalid date", DataTypeDate, "yesterday", nil},
		{"nil", DataTypeUint8, nil, nil},
		{"unknown type", DataTypeUnknown, uint32(1), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValueToBytes(tt.dataType, tt.value)
			if !bytes.Equal(got, tt.want) {
				t.Errorf("ValueToBytes(%s, %v) = %v, want %v", tt.dataType, tt.value, got, tt.want)
			}
		})
	}
}

func TestValueRoundTrip(t *testing.T) {
	values := map[DataType]Value{
		DataTypeUint16:  uint32(65535),
		DataTypeInt8:    int32(-100),
		DataTypeFloat32: float32(21.5),
		DataTypeBoolean: true,
		DataTypeButton:  ButtonLongClick,
	}

	for dt, v := range values {
		got := ValueFromBytes(dt, ValueToBytes(dt, v))
		if !ValuesEqual(got, v) {
			t.Errorf("round trip %s: got %#v, want %#v", dt, got, v)
		}
	}
}

func TestTransformForDevice(t *testing.T) {
	tests := []struct {
		name     string
		dataType DataType
		value    any
		want     Value
	}{
		{"nil", DataTypeUint8, nil, nil},
		{"float from json number", DataTypeFloat32, float64(21.5), float32(21.5)},
		{"float from text", DataTypeFloat32, "3.5", float32(3.5)},
		{"uint from json number", DataTypeUint16, float64(10), uint32(10)},
		{"uint from text", DataTypeUint8, "7", uint32(7)},
		{"uint negative", DataTypeUint8, float64(-1), nil},
		{"uint fractional", DataTypeUint8, float64(1.5), nil},
		{"int negative", DataTypeInt16, float64(-5), int32(-5)},
		{"bool", DataTypeBoolean, true, true},
		{"bool from number", DataTypeBoolean, float64(0), false},
		{"string from number", DataTypeString, 12, "12"},
		{"button code", DataTypeButton, float64(3), ButtonClick},
		{"button name", DataTypeButton, "btn_double_clicked", ButtonDoubleClick},
		{"button invalid", DataTypeButton, float64(12), nil},
		{"switch name", DataTypeSwitch, "sw_on", SwitchOn},
		{"switch code", DataTypeSwitch, "2", SwitchToggle},
		{"invalid time", DataTypeTime, "noon", nil},
		{"unknown type", DataTypeUnknown, 1, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TransformForDevice(tt.dataType, tt.value)
			if !ValuesEqual(got, tt.want) {
				t.Errorf("TransformForDevice(%s, %#v) = %#v, want %#v", tt.dataType, tt.value, got, tt.want)
			}
		})
	}
}

func TestTransformForDevice_Time(t *testing.T) {
	got := TransformForDevice(DataTypeTime, "10:30:00+0200")
	tm, ok := got.(time.Time)
	if !ok {
		t.Fatalf("TransformForDevice(time) = %#v, want time.Time", got)
	}
	if tm.Hour() != 10 || tm.Minute() != 30 {
		t.Errorf("TransformForDevice(time) = %v, want 10:30", tm)
	}
}

func TestTransformForGateway(t *testing.T) {
	date := time.Date(2021, 6, 15, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		dataType DataType
		value    Value
		want     any
	}{
		{"nil", DataTypeUint8, nil, nil},
		{"number passes through", DataTypeUint8, uint32(5), uint32(5)},
		{"button", DataTypeButton, ButtonPress, "btn_pressed"},
		{"button none", DataTypeButton, ButtonNone, nil},
		{"switch", DataTypeSwitch, SwitchOff, "sw_off"},
		{"date", DataTypeDate, date, "2021-06-15"},
		{"datetime", DataTypeDatetime, date, "2021-06-15T00:00:00+0000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TransformForGateway(tt.dataType, tt.value)
			if got != tt.want {
				t.Errorf("TransformForGateway(%s, %#v) = %#v, want %#v", tt.dataType, tt.value, got, tt.want)
			}
		})
	}
}

func TestExtractText(t *testing.T) {
	payload := []byte{0x01, 'a', 'b', 'c', DataSpace, 'd'}

	tests := []struct {
		name   string
		start  int
		length int
		want   string
	}{
		{"until space", 1, -1, "abc"},
		{"limited length", 1, 2, "ab"},
		{"zero length", 1, 0, ""},
		{"start past end", 10, -1, ""},
		{"after space", 5, -1, "d"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractText(payload, tt.start, tt.length); got != tt.want {
				t.Errorf("ExtractText(%d, %d) = %q, want %q", tt.start, tt.length, got, tt.want)
			}
		})
	}
}

func TestFindSpace(t *testing.T) {
	if got := FindSpace([]byte("ab cd")); got != 2 {
		t.Errorf("FindSpace() = %d, want 2", got)
	}
	if got := FindSpace([]byte("abcd")); got != -1 {
		t.Errorf("FindSpace() = %d, want -1", got)
	}
}

func TestIsWritableValue(t *testing.T) {
	for _, v := range []Value{uint32(1), int32(-1), float32(1.5), true} {
		if !IsWritableValue(v) {
			t.Errorf("IsWritableValue(%#v) = false, want true", v)
		}
	}
	for _, v := range []Value{nil, "text", ButtonClick, time.Now()} {
		if IsWritableValue(v) {
			t.Errorf("IsWritableValue(%#v) = true, want false", v)
		}
	}
}
