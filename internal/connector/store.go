package connector

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/fastybird/fb-bus-connector/internal/device"
)

// deviceLookup reports whether the runtime still knows a device.
type deviceLookup interface {
	GetByID(id uuid.UUID) (DeviceRecord, bool)
}

// StoreConsumer persists registry events into the entity store.
type StoreConsumer struct {
	connectorID string
	store       EntityStore
	logger      Logger

	// devices drops device events queued before the device was removed.
	devices deviceLookup
}

// NewStoreConsumer creates a consumer writing devices of connectorID.
func NewStoreConsumer(connectorID string, store EntityStore, logger Logger) *StoreConsumer {
	return &StoreConsumer{
		connectorID: connectorID,
		store:       store,
		logger:      loggerOrNoop(logger),
	}
}

// Consume implements Consumer.
func (s *StoreConsumer) Consume(ctx context.Context, event Event) error {
	switch e := event.(type) {
	case DeviceRecordEvent:
		if s.removed(e.Record.ID) {
			return nil
		}
		return s.saveDevice(ctx, e.Record)

	case DeviceStateEvent:
		if s.removed(e.Record.ID) {
			return nil
		}
		err := s.store.SetDeviceState(ctx, e.Record.ID.String(), device.State(e.Record.State.Gateway()))
		if errors.Is(err, device.ErrDeviceNotFound) {
			s.logger.Debug("state of unknown device skipped", "device_id", e.Record.ID.String())
			return nil
		}
		return err

	case RegisterRecordEvent:
		p, err := propertyEntityFromRecord(e.Record)
		if err != nil {
			s.logger.Debug("register is not stored",
				"device_id", e.Record.DeviceID.String(),
				"register_type", e.Record.Type.String(),
				"register_address", e.Record.Address,
				"error", err)
			return nil
		}
		if err := s.store.SaveProperty(ctx, &p); err != nil {
			return fmt.Errorf("saving property %s: %w", p.Identifier, err)
		}
		return nil

	case RegisterActualValueEvent:
		err := s.store.SetPropertyValues(ctx, e.Register.String(), e.ActualValue, e.ExpectedValue)
		if errors.Is(err, device.ErrPropertyNotFound) {
			s.logger.Debug("value of unknown property skipped", "property_id", e.Register.String())
			return nil
		}
		return err
	}
	return nil
}

func (s *StoreConsumer) removed(id uuid.UUID) bool {
	if s.devices == nil {
		return false
	}
	if _, ok := s.devices.GetByID(id); ok {
		return false
	}
	s.logger.Debug("event of removed device skipped", "device_id", id.String())
	return true
}

func (s *StoreConsumer) saveDevice(ctx context.Context, record DeviceRecord) error {
	existing, err := s.store.GetDevice(ctx, record.ID.String())
	if err != nil && !errors.Is(err, device.ErrDeviceNotFound) {
		return err
	}

	d := deviceEntityFromRecord(s.connectorID, record, existing)
	if err := s.store.SaveDevice(ctx, &d); err != nil {
		return fmt.Errorf("saving device %s: %w", record.SerialNumber, err)
	}
	return nil
}
