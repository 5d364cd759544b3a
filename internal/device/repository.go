package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for connector, device and property
// persistence. This abstraction allows for different implementations
// (SQLite, mock, etc.) and enables unit testing without database dependencies.
type Repository interface {
	// GetConnector retrieves a connector by ID.
	// Returns ErrConnectorNotFound if the connector does not exist.
	GetConnector(ctx context.Context, id string) (*Connector, error)

	// ListConnectors retrieves all connectors.
	ListConnectors(ctx context.Context) ([]Connector, error)

	// CreateConnector inserts a new connector.
	// Returns ErrConnectorExists if the ID is already in use.
	CreateConnector(ctx context.Context, c *Connector) error

	// UpdateConnector modifies an existing connector.
	// Returns ErrConnectorNotFound if the connector does not exist.
	UpdateConnector(ctx context.Context, c *Connector) error

	// GetDevice retrieves a device by ID.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetDevice(ctx context.Context, id string) (*Device, error)

	// ListDevices retrieves all devices of a connector.
	ListDevices(ctx context.Context, connectorID string) ([]Device, error)

	// SaveDevice inserts a device or updates it when the ID exists.
	SaveDevice(ctx context.Context, d *Device) error

	// DeleteDevice removes a device and its properties.
	// Returns ErrDeviceNotFound if the device does not exist.
	DeleteDevice(ctx context.Context, id string) error

	// UpdateDeviceState updates only the state of a device.
	UpdateDeviceState(ctx context.Context, id string, state State) error

	// ListProperties retrieves all properties of a device.
	ListProperties(ctx context.Context, deviceID string) ([]Property, error)

	// GetProperty retrieves a property by ID.
	// Returns ErrPropertyNotFound if the property does not exist.
	GetProperty(ctx context.Context, id string) (*Property, error)

	// SaveProperty inserts a property or updates it when the ID exists.
	SaveProperty(ctx context.Context, p *Property) error

	// DeleteProperty removes a property.
	DeleteProperty(ctx context.Context, id string) error

	// UpdatePropertyValues stores the actual and expected values of a property.
	UpdatePropertyValues(ctx context.Context, id string, actual, expected any) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const connectorColumns = `id, type, name, comment, enabled, address, interface, baud_rate, protocol, created_at, updated_at`

// GetConnector retrieves a connector by ID.
func (r *SQLiteRepository) GetConnector(ctx context.Context, id string) (*Connector, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+connectorColumns+` FROM connectors WHERE id = ?`, id)
	c, err := scanConnector(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConnectorNotFound
		}
		return nil, fmt.Errorf("querying connector by id: %w", err)
	}
	return c, nil
}

// ListConnectors retrieves all connectors ordered by name.
func (r *SQLiteRepository) ListConnectors(ctx context.Context) ([]Connector, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+connectorColumns+` FROM connectors ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying connectors: %w", err)
	}
	defer rows.Close()

	var connectors []Connector
	for rows.Next() {
		c, err := scanConnector(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning connector: %w", err)
		}
		connectors = append(connectors, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating connectors: %w", err)
	}
	return connectors, nil
}

// CreateConnector inserts a new connector.
func (r *SQLiteRepository) CreateConnector(ctx context.Context, c *Connector) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.Type == "" {
		c.Type = ConnectorType
	}

	query := `
		INSERT INTO connectors (` + connectorColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		c.ID,
		c.Type,
		c.Name,
		nullableString(c.Comment),
		boolToInt(c.Enabled),
		nullableInt(c.Address),
		nullableString(c.Interface),
		nullableInt(c.BaudRate),
		nullableProtocol(c.Protocol),
		c.CreatedAt.Format(time.RFC3339),
		c.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrConnectorExists
		}
		return fmt.Errorf("inserting connector: %w", err)
	}
	return nil
}

// UpdateConnector modifies an existing connector.
func (r *SQLiteRepository) UpdateConnector(ctx context.Context, c *Connector) error {
	c.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE connectors SET
			name = ?, comment = ?, enabled = ?, address = ?, interface = ?,
			baud_rate = ?, protocol = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		c.Name,
		nullableString(c.Comment),
		boolToInt(c.Enabled),
		nullableInt(c.Address),
		nullableString(c.Interface),
		nullableInt(c.BaudRate),
		nullableProtocol(c.Protocol),
		c.UpdatedAt.Format(time.RFC3339),
		c.ID,
	)
	if err != nil {
		return fmt.Errorf("updating connector: %w", err)
	}
	return requireAffected(result, ErrConnectorNotFound)
}

const deviceColumns = `id, connector_id, type, identifier, name, enabled, address, max_packet_length,
	hardware_manufacturer, hardware_model, hardware_version, firmware_manufacturer, firmware_version,
	state, state_updated_at, created_at, updated_at`

// GetDevice retrieves a device by ID.
func (r *SQLiteRepository) GetDevice(ctx context.Context, id string) (*Device, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = ?`, id)
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return d, nil
}

// ListDevices retrieves all devices of a connector ordered by identifier.
func (r *SQLiteRepository) ListDevices(ctx context.Context, connectorID string) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE connector_id = ? ORDER BY identifier`, connectorID)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// SaveDevice inserts a device or updates it when the ID exists.
func (r *SQLiteRepository) SaveDevice(ctx context.Context, d *Device) error {
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	if d.Type == "" {
		d.Type = DeviceType
	}
	if d.State == "" {
		d.State = StateUnknown
	}

	query := `
		INSERT INTO devices (` + deviceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			identifier = excluded.identifier,
			name = excluded.name,
			enabled = excluded.enabled,
			address = excluded.address,
			max_packet_length = excluded.max_packet_length,
			hardware_manufacturer = excluded.hardware_manufacturer,
			hardware_model = excluded.hardware_model,
			hardware_version = excluded.hardware_version,
			firmware_manufacturer = excluded.firmware_manufacturer,
			firmware_version = excluded.firmware_version,
			state = excluded.state,
			state_updated_at = excluded.state_updated_at,
			updated_at = excluded.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		d.ID,
		d.ConnectorID,
		d.Type,
		d.Identifier,
		d.Name,
		boolToInt(d.Enabled),
		d.Address,
		d.MaxPacketLength,
		d.HardwareManufacturer,
		d.HardwareModel,
		d.HardwareVersion,
		d.FirmwareManufacturer,
		d.FirmwareVersion,
		string(d.State),
		nullableTime(d.StateUpdatedAt),
		d.CreatedAt.Format(time.RFC3339),
		d.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		if isForeignKeyError(err) {
			return ErrConnectorNotFound
		}
		return fmt.Errorf("saving device: %w", err)
	}
	return nil
}

// DeleteDevice removes a device. Properties are removed by cascade.
func (r *SQLiteRepository) DeleteDevice(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return requireAffected(result, ErrDeviceNotFound)
}

// UpdateDeviceState updates only the state of a device.
func (r *SQLiteRepository) UpdateDeviceState(ctx context.Context, id string, state State) error {
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx,
		`UPDATE devices SET state = ?, state_updated_at = ?, updated_at = ? WHERE id = ?`,
		string(state), now, now, id)
	if err != nil {
		return fmt.Errorf("updating device state: %w", err)
	}
	return requireAffected(result, ErrDeviceNotFound)
}

const propertyColumns = `id, device_id, identifier, name, register, data_type, settable, queryable,
	actual_value, expected_value, created_at, updated_at`

// ListProperties retrieves all properties of a device ordered by identifier.
func (r *SQLiteRepository) ListProperties(ctx context.Context, deviceID string) ([]Property, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+propertyColumns+` FROM properties WHERE device_id = ? ORDER BY register, identifier`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("querying properties: %w", err)
	}
	defer rows.Close()

	var properties []Property
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning property: %w", err)
		}
		properties = append(properties, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating properties: %w", err)
	}
	return properties, nil
}

// GetProperty retrieves a property by ID.
func (r *SQLiteRepository) GetProperty(ctx context.Context, id string) (*Property, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+propertyColumns+` FROM properties WHERE id = ?`, id)
	p, err := scanProperty(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPropertyNotFound
		}
		return nil, fmt.Errorf("querying property by id: %w", err)
	}
	return p, nil
}

// SaveProperty inserts a property or updates its structure when the ID
// exists. Stored values are left untouched on update.
func (r *SQLiteRepository) SaveProperty(ctx context.Context, p *Property) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	actual, err := marshalValue(p.ActualValue)
	if err != nil {
		return fmt.Errorf("marshalling actual value: %w", err)
	}
	expected, err := marshalValue(p.ExpectedValue)
	if err != nil {
		return fmt.Errorf("marshalling expected value: %w", err)
	}

	query := `
		INSERT INTO properties (` + propertyColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			identifier = excluded.identifier,
			name = excluded.name,
			register = excluded.register,
			data_type = excluded.data_type,
			settable = excluded.settable,
			queryable = excluded.queryable,
			updated_at = excluded.updated_at`

	_, err = r.db.ExecContext(ctx, query,
		p.ID,
		p.DeviceID,
		p.Identifier,
		nullableString(p.Name),
		string(p.Register),
		p.DataType,
		boolToInt(p.Settable),
		boolToInt(p.Queryable),
		actual,
		expected,
		p.CreatedAt.Format(time.RFC3339),
		p.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrPropertyExists
		}
		if isForeignKeyError(err) {
			return ErrDeviceNotFound
		}
		return fmt.Errorf("saving property: %w", err)
	}
	return nil
}

// DeleteProperty removes a property.
func (r *SQLiteRepository) DeleteProperty(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM properties WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting property: %w", err)
	}
	return requireAffected(result, ErrPropertyNotFound)
}

// UpdatePropertyValues stores the actual and expected values of a property.
func (r *SQLiteRepository) UpdatePropertyValues(ctx context.Context, id string, actual, expected any) error {
	actualJSON, err := marshalValue(actual)
	if err != nil {
		return fmt.Errorf("marshalling actual value: %w", err)
	}
	expectedJSON, err := marshalValue(expected)
	if err != nil {
		return fmt.Errorf("marshalling expected value: %w", err)
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE properties SET actual_value = ?, expected_value = ?, updated_at = ? WHERE id = ?`,
		actualJSON, expectedJSON, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("updating property values: %w", err)
	}
	return requireAffected(result, ErrPropertyNotFound)
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanConnector(scanner rowScanner) (*Connector, error) {
	var c Connector
	var comment, iface, protocol sql.NullString
	var address, baudRate sql.NullInt64
	var enabled int
	var createdAt, updatedAt string

	err := scanner.Scan(
		&c.ID,
		&c.Type,
		&c.Name,
		&comment,
		&enabled,
		&address,
		&iface,
		&baudRate,
		&protocol,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Enabled = enabled != 0
	if comment.Valid {
		c.Comment = &comment.String
	}
	if address.Valid {
		v := int(address.Int64)
		c.Address = &v
	}
	if iface.Valid {
		c.Interface = &iface.String
	}
	if baudRate.Valid {
		v := int(baudRate.Int64)
		c.BaudRate = &v
	}
	if protocol.Valid {
		p := Protocol(protocol.String)
		c.Protocol = &p
	}

	if c.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if c.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &c, nil
}

func scanDevice(scanner rowScanner) (*Device, error) {
	var d Device
	var enabled int
	var state string
	var stateUpdatedAt sql.NullString
	var createdAt, updatedAt string

	err := scanner.Scan(
		&d.ID,
		&d.ConnectorID,
		&d.Type,
		&d.Identifier,
		&d.Name,
		&enabled,
		&d.Address,
		&d.MaxPacketLength,
		&d.HardwareManufacturer,
		&d.HardwareModel,
		&d.HardwareVersion,
		&d.FirmwareManufacturer,
		&d.FirmwareVersion,
		&state,
		&stateUpdatedAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Enabled = enabled != 0
	d.State = State(state)
	if stateUpdatedAt.Valid {
		if t, err := time.Parse(time.RFC3339, stateUpdatedAt.String); err == nil {
			d.StateUpdatedAt = &t
		}
	}

	if d.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if d.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &d, nil
}

func scanProperty(scanner rowScanner) (*Property, error) {
	var p Property
	var name, actual, expected sql.NullString
	var register string
	var settable, queryable int
	var createdAt, updatedAt string

	err := scanner.Scan(
		&p.ID,
		&p.DeviceID,
		&p.Identifier,
		&name,
		&register,
		&p.DataType,
		&settable,
		&queryable,
		&actual,
		&expected,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Register = RegisterKind(register)
	p.Settable = settable != 0
	p.Queryable = queryable != 0
	if name.Valid {
		p.Name = &name.String
	}
	if actual.Valid {
		if p.ActualValue, err = unmarshalValue(&actual.String); err != nil {
			return nil, fmt.Errorf("unmarshalling actual value: %w", err)
		}
	}
	if expected.Valid {
		if p.ExpectedValue, err = unmarshalValue(&expected.String); err != nil {
			return nil, fmt.Errorf("unmarshalling expected value: %w", err)
		}
	}

	if p.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if p.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &p, nil
}

func requireAffected(result sql.Result, notFound error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return notFound
	}
	return nil
}

// nullableString returns a sql.NullString for optional string pointers.
func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullableInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullableProtocol(p *Protocol) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*p), Valid: true}
}

// nullableTime returns a sql.NullString for optional time pointers (as RFC3339 strings).
func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}

func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
