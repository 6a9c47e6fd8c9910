package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/nerrad567/nsm-core/internal/nsm"
)

// Record is the persisted inventory entry of a device.
type Record struct {
	UUID         string
	Name         string
	EID          uint8
	Identity     nsm.DeviceIdentity
	MessageTypes nsm.Bitmap
	Commands     map[nsm.MessageType]nsm.Bitmap
	LastSeen     time.Time
}

// Repository defines the interface for device inventory persistence.
// This abstraction allows the registry to run without a database in tests.
type Repository interface {
	// Get retrieves a record by UUID.
	// Returns ErrDeviceNotFound if the device is not stored.
	Get(ctx context.Context, uuid string) (*Record, error)

	// List retrieves all records ordered by UUID.
	List(ctx context.Context) ([]Record, error)

	// Upsert inserts or replaces a record.
	Upsert(ctx context.Context, rec Record) error

	// Delete removes a record.
	// Returns ErrDeviceNotFound if the device is not stored.
	Delete(ctx context.Context, uuid string) error
}

// commandEntrySize is one message type byte followed by its bitmap.
const commandEntrySize = 1 + nsm.BitmapSize

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open, migrated SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectDevice = `
	SELECT uuid, name, eid, device_type, instance, message_types, commands, last_seen
	FROM nsm_devices`

// Get retrieves a record by UUID.
func (r *SQLiteRepository) Get(ctx context.Context, uuid string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, selectDevice+" WHERE uuid = ?", uuid)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by uuid: %w", err)
	}
	return rec, nil
}

// List retrieves all records ordered by UUID.
func (r *SQLiteRepository) List(ctx context.Context) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, selectDevice+" ORDER BY uuid")
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return out, nil
}

// Upsert inserts or replaces a record.
func (r *SQLiteRepository) Upsert(ctx context.Context, rec Record) error {
	if rec.UUID == "" {
		return ErrInvalidUUID
	}
	var lastSeen any
	if !rec.LastSeen.IsZero() {
		lastSeen = rec.LastSeen.UTC().Format(time.RFC3339Nano)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO nsm_devices (uuid, name, eid, device_type, instance, message_types, commands, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uuid) DO UPDATE SET
			name = excluded.name,
			eid = excluded.eid,
			device_type = excluded.device_type,
			instance = excluded.instance,
			message_types = excluded.message_types,
			commands = excluded.commands,
			last_seen = excluded.last_seen,
			updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')`,
		rec.UUID,
		rec.Name,
		int(rec.EID),
		int(rec.Identity.Identification),
		int(rec.Identity.Instance),
		rec.MessageTypes[:],
		encodeCommands(rec.Commands),
		lastSeen,
	)
	if err != nil {
		return fmt.Errorf("upserting device: %w", err)
	}
	return nil
}

// Delete removes a record.
func (r *SQLiteRepository) Delete(ctx context.Context, uuid string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM nsm_devices WHERE uuid = ?", uuid)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*Record, error) {
	var (
		rec        Record
		eid        int
		devType    int
		instance   int
		msgTypes   []byte
		commands   []byte
		lastSeenNS sql.NullString
	)
	if err := s.Scan(&rec.UUID, &rec.Name, &eid, &devType, &instance, &msgTypes, &commands, &lastSeenNS); err != nil {
		return nil, err
	}
	rec.EID = uint8(eid)                                            //nolint:gosec // stored from uint8
	rec.Identity.Identification = nsm.DeviceIdentification(devType) //nolint:gosec // stored from uint8
	rec.Identity.Instance = uint8(instance)                         //nolint:gosec // stored from uint8
	copy(rec.MessageTypes[:], msgTypes)

	cmds, err := decodeCommands(commands)
	if err != nil {
		return nil, err
	}
	rec.Commands = cmds

	if lastSeenNS.Valid {
		t, err := time.Parse(time.RFC3339Nano, lastSeenNS.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_seen: %w", err)
		}
		rec.LastSeen = t
	}
	return &rec, nil
}

// encodeCommands flattens the capability matrix into type-prefixed bitmaps
// ordered by message type.
func encodeCommands(m map[nsm.MessageType]nsm.Bitmap) []byte {
	types := make([]int, 0, len(m))
	for t := range m {
		types = append(types, int(t))
	}
	sort.Ints(types)

	out := make([]byte, 0, len(m)*commandEntrySize)
	for _, t := range types {
		b := m[nsm.MessageType(t)] //nolint:gosec // keys are uint8
		out = append(out, byte(t))
		out = append(out, b[:]...)
	}
	return out
}

func decodeCommands(data []byte) (map[nsm.MessageType]nsm.Bitmap, error) {
	if len(data)%commandEntrySize != 0 {
		return nil, fmt.Errorf("%w: commands blob of %d bytes", nsm.ErrLength, len(data))
	}
	m := make(map[nsm.MessageType]nsm.Bitmap, len(data)/commandEntrySize)
	for off := 0; off < len(data); off += commandEntrySize {
		var b nsm.Bitmap
		copy(b[:], data[off+1:off+commandEntrySize])
		m[nsm.MessageType(data[off])] = b
	}
	return m, nil
}
