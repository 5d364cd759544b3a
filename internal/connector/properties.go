package connector

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/google/uuid"

	"github.com/fastybird/fb-bus-connector/internal/bus"
	"github.com/fastybird/fb-bus-connector/internal/device"
)

var propertyIdentifierRegex = regexp.MustCompile(`^([a-zA-Z_]+)_([0-9]+)$`)

// ParsePropertyIdentifier splits a property identifier of the form name_N
// and returns the name and the register address N-1.
func ParsePropertyIdentifier(identifier string) (string, int, error) {
	m := propertyIdentifierRegex.FindStringSubmatch(identifier)
	if m == nil {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidPropertyIdentifier, identifier)
	}

	n, err := strconv.Atoi(m[2])
	if err != nil || n <= 0 {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidPropertyIdentifier, identifier)
	}
	return m[1], n - 1, nil
}

func registerKind(t bus.RegisterType) device.RegisterKind {
	return device.RegisterKind(t.String())
}

// deviceRecordFromEntity converts a stored device into a runtime record on
// the given client.
func deviceRecordFromEntity(clientID uuid.UUID, d device.Device) (DeviceRecord, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return DeviceRecord{}, fmt.Errorf("parsing device id %q: %w", d.ID, err)
	}

	return DeviceRecord{
		ClientID:             clientID,
		ID:                   id,
		Address:              d.Address,
		SerialNumber:         d.Identifier,
		MaxPacketLength:      d.MaxPacketLength,
		Enabled:              d.Enabled,
		Ready:                true,
		HardwareManufacturer: d.HardwareManufacturer,
		HardwareModel:        d.HardwareModel,
		HardwareVersion:      d.HardwareVersion,
		FirmwareManufacturer: d.FirmwareManufacturer,
		FirmwareVersion:      d.FirmwareVersion,
		State:                bus.StateUnknown,
	}, nil
}

// registerRecordFromProperty converts a stored property into a runtime
// register record.
func registerRecordFromProperty(deviceID uuid.UUID, p device.Property) (RegisterRecord, error) {
	id, err := uuid.Parse(p.ID)
	if err != nil {
		return RegisterRecord{}, fmt.Errorf("parsing property id %q: %w", p.ID, err)
	}

	_, address, err := ParsePropertyIdentifier(p.Identifier)
	if err != nil {
		return RegisterRecord{}, err
	}

	registerType, ok := bus.ParseRegisterType(string(p.Register))
	if !ok {
		return RegisterRecord{}, fmt.Errorf("%w: register %q", ErrInvalidPropertyIdentifier, p.Register)
	}

	dataType, ok := bus.DataTypeFromGateway(p.DataType)
	if !ok {
		dataType = bus.DataTypeUnknown
	}

	name := ""
	if p.Name != nil {
		name = *p.Name
	}

	record := NewRegister(deviceID, id, registerType, address, dataType, name, p.Settable, p.Queryable)
	record.Ready = true
	record.ActualValue = bus.TransformForDevice(dataType, p.ActualValue)
	record.ExpectedValue = bus.TransformForDevice(dataType, p.ExpectedValue)
	return record, nil
}

// deviceEntityFromRecord builds the stored form of a device record. Name and
// timestamps come from existing when the device is already stored.
func deviceEntityFromRecord(connectorID string, record DeviceRecord, existing *device.Device) device.Device {
	d := device.Device{
		ID:                   record.ID.String(),
		ConnectorID:          connectorID,
		Type:                 device.DeviceType,
		Identifier:           record.SerialNumber,
		Name:                 record.SerialNumber,
		Enabled:              record.Enabled,
		Address:              record.Address,
		MaxPacketLength:      record.MaxPacketLength,
		HardwareManufacturer: record.HardwareManufacturer,
		HardwareModel:        record.HardwareModel,
		HardwareVersion:      record.HardwareVersion,
		FirmwareManufacturer: record.FirmwareManufacturer,
		FirmwareVersion:      record.FirmwareVersion,
		State:                device.State(record.State.Gateway()),
	}
	if existing != nil {
		d.Name = existing.Name
		d.CreatedAt = existing.CreatedAt
		d.StateUpdatedAt = existing.StateUpdatedAt
	}
	return d
}

// propertyEntityFromRecord builds the stored form of a register record.
func propertyEntityFromRecord(record RegisterRecord) (device.Property, error) {
	dataType, err := record.DataType.Gateway()
	if err != nil {
		return device.Property{}, err
	}

	p := device.Property{
		ID:            record.ID.String(),
		DeviceID:      record.DeviceID.String(),
		Identifier:    device.PropertyIdentifier(registerKind(record.Type), record.Address),
		Register:      registerKind(record.Type),
		DataType:      dataType,
		Settable:      record.Settable,
		Queryable:     record.Queryable,
		ActualValue:   bus.TransformForGateway(record.DataType, record.ActualValue),
		ExpectedValue: bus.TransformForGateway(record.DataType, record.ExpectedValue),
	}
	if record.Name != "" {
		name := record.Name
		p.Name = &name
	}
	return p, nil
}
