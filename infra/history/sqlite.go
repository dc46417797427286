package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists records to a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at path and ensures schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	schema := `CREATE TABLE IF NOT EXISTS state_history (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        ts INTEGER NOT NULL,
        unique_id TEXT NOT NULL,
        entity_id TEXT NOT NULL,
        device_mac TEXT NOT NULL,
        state TEXT NOT NULL,
        attributes TEXT
    );
    CREATE INDEX IF NOT EXISTS state_history_uid_ts ON state_history (unique_id, ts);`
	if _, err := db.Exec(schema); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("close db: %v (schema err: %w)", cerr, err)
		}
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Append writes the record to the database.
func (s *SQLiteStore) Append(ctx context.Context, rec Record) error {
	attrs, err := json.Marshal(rec.Attributes)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO state_history (ts, unique_id, entity_id, device_mac, state, attributes) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.Timestamp.UnixNano(), rec.UniqueID, rec.EntityID, rec.DeviceMAC, rec.State, string(attrs))
	return err
}

// Query returns records matching q.
func (s *SQLiteStore) Query(ctx context.Context, q Query) ([]Record, error) {
	var args []any
	query := `SELECT ts, unique_id, entity_id, device_mac, state, attributes FROM state_history WHERE 1=1`
	if q.UniqueID != "" {
		query += ` AND unique_id = ?`
		args = append(args, q.UniqueID)
	}
	if q.EntityID != "" {
		query += ` AND entity_id = ?`
		args = append(args, q.EntityID)
	}
	if !q.Start.IsZero() {
		query += ` AND ts >= ?`
		args = append(args, q.Start.UnixNano())
	}
	if !q.End.IsZero() {
		query += ` AND ts <= ?`
		args = append(args, q.End.UnixNano())
	}
	query += ` ORDER BY ts, id`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []Record
	for rows.Next() {
		var (
			r     Record
			ts    int64
			attrs sql.NullString
		)
		if err := rows.Scan(&ts, &r.UniqueID, &r.EntityID, &r.DeviceMAC, &r.State, &attrs); err != nil {
			return nil, err
		}
		r.Timestamp = time.Unix(0, ts)
		if attrs.Valid && attrs.String != "" && attrs.String != "null" {
			if err := json.Unmarshal([]byte(attrs.String), &r.Attributes); err != nil {
				return nil, fmt.Errorf("unmarshal attributes: %w", err)
			}
		}
		res = append(res, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }
