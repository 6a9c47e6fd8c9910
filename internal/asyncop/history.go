package asyncop

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// historyDecMode decodes stored values into JSON-friendly maps.
var historyDecMode = func() cbor.DecMode {
	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}()

// SQLiteHistory stores terminal records in the async_operations table.
// Values are CBOR encoded.
type SQLiteHistory struct {
	db *sql.DB
}

// NewSQLiteHistory creates a history over an open, migrated database.
func NewSQLiteHistory(db *sql.DB) *SQLiteHistory {
	return &SQLiteHistory{db: db}
}

// Save inserts or replaces rec.
func (h *SQLiteHistory) Save(ctx context.Context, rec Record) error {
	var value []byte
	if rec.Value != nil {
		b, err := cbor.Marshal(rec.Value)
		if err != nil {
			return fmt.Errorf("encoding operation value: %w", err)
		}
		value = b
	}
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO async_operations (id, device_uuid, kind, status, value, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			value = excluded.value,
			error = excluded.error,
			finished_at = excluded.finished_at`,
		rec.ID,
		rec.Device,
		rec.Kind,
		string(rec.Status),
		value,
		rec.Error,
		rec.StartedAt.UTC().Format(time.RFC3339Nano),
		rec.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("saving operation: %w", err)
	}
	return nil
}

// List returns up to limit records for a device, newest first.
func (h *SQLiteHistory) List(ctx context.Context, device string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultCapacity
	}
	rows, err := h.db.QueryContext(ctx, `
		SELECT id, device_uuid, kind, status, value, error, started_at, finished_at
		FROM async_operations
		WHERE device_uuid = ?
		ORDER BY finished_at DESC
		LIMIT ?`, device, limit)
	if err != nil {
		return nil, fmt.Errorf("querying operations: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec               Record
			status            string
			value             []byte
			started, finished string
		)
		if err := rows.Scan(&rec.ID, &rec.Device, &rec.Kind, &status, &value, &rec.Error, &started, &finished); err != nil {
			return nil, fmt.Errorf("scanning operation: %w", err)
		}
		rec.Status = Status(status)
		if len(value) > 0 {
			if err := historyDecMode.Unmarshal(value, &rec.Value); err != nil {
				return nil, fmt.Errorf("decoding operation value: %w", err)
			}
		}
		if rec.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("parsing started_at: %w", err)
		}
		if rec.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
			return nil, fmt.Errorf("parsing finished_at: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating operations: %w", err)
	}
	return out, nil
}
