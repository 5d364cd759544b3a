package connector

import (
	"context"

	"github.com/fastybird/fb-bus-connector/internal/infrastructure/influxdb"
)

// ValueWriter records time series. It is implemented by influxdb.Client.
type ValueWriter interface {
	WriteRegisterValue(v influxdb.RegisterValue)
	WriteDeviceState(deviceID string, state string)
}

// HistoryConsumer writes register values and device states to a time
// series store.
type HistoryConsumer struct {
	writer ValueWriter
}

// NewHistoryConsumer creates a consumer writing to w.
func NewHistoryConsumer(w ValueWriter) *HistoryConsumer {
	return &HistoryConsumer{writer: w}
}

// Consume implements Consumer.
func (h *HistoryConsumer) Consume(_ context.Context, event Event) error {
	switch e := event.(type) {
	case RegisterActualValueEvent:
		if e.ActualValue == nil {
			return nil
		}
		dataType, err := e.DataType.Gateway()
		if err != nil {
			dataType = e.DataType.String()
		}
		h.writer.WriteRegisterValue(influxdb.RegisterValue{
			DeviceID:     e.Device.String(),
			RegisterID:   e.Register.String(),
			RegisterType: e.RegisterType.String(),
			Address:      e.Address,
			DataType:     dataType,
			Value:        e.ActualValue,
		})

	case DeviceStateEvent:
		h.writer.WriteDeviceState(e.Record.ID.String(), e.Record.State.Gateway())
	}
	return nil
}
