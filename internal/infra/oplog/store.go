// Package oplog keeps the append-only operation log and the instrument
// health samples in a SQLite database separate from the entity store, so
// auditing and monitoring survive entity deletion and can grow without
// bloating the main database file.
package oplog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"emhub/internal/core"
)

// DefaultLogsFile is the database file name used under the data root.
const DefaultLogsFile = "emhub-logs.sqlite"

// Store appends operations and health samples. It implements
// core.OperationLogger.
type Store struct {
	db   *sql.DB
	path string
}

const createOperationsTable = `CREATE TABLE IF NOT EXISTS operations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER,
	type TEXT NOT NULL,
	name TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	args TEXT NOT NULL,
	kwargs TEXT NOT NULL
)`

const createHealthTable = `CREATE TABLE IF NOT EXISTS health (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	resource_id INTEGER NOT NULL,
	timestamp TEXT NOT NULL,
	status TEXT NOT NULL,
	payload TEXT NOT NULL
)`

// Open opens (or creates) the log database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open log database: %w", err)
	}
	for _, stmt := range []string{createOperationsTable, createHealthTable} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create log table: %w", err)
		}
	}
	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Append inserts one operation. Rows are never updated or deleted.
func (s *Store) Append(ctx context.Context, op core.Operation) error {
	args, err := json.Marshal(op.Args)
	if err != nil {
		return fmt.Errorf("encode operation args: %w", err)
	}
	kwargs, err := json.Marshal(op.Kwargs)
	if err != nil {
		return fmt.Errorf("encode operation kwargs: %w", err)
	}
	ts := op.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	var userID any
	if op.UserID != nil {
		userID = *op.UserID
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO operations (user_id, type, name, timestamp, args, kwargs) VALUES (?, ?, ?, ?, ?, ?)`,
		userID, op.Type, op.Name, ts.UTC().Format(time.RFC3339Nano), string(args), string(kwargs))
	if err != nil {
		return fmt.Errorf("append operation: %w", err)
	}
	return nil
}

// OperationFilter narrows an Operations query. Zero fields do not filter.
type OperationFilter struct {
	Name  string
	Since time.Time
	Limit int
}

// Operations lists appended operations in insertion order.
func (s *Store) Operations(ctx context.Context, filter OperationFilter) ([]core.Operation, error) {
	query := `SELECT id, user_id, type, name, timestamp, args, kwargs FROM operations WHERE 1=1`
	var args []any
	if filter.Name != "" {
		query += ` AND name = ?`
		args = append(args, filter.Name)
	}
	if !filter.Since.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, filter.Since.UTC().Format(time.RFC3339Nano))
	}
	query += ` ORDER BY id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read operations: %w", err)
	}
	defer rows.Close()

	var out []core.Operation
	for rows.Next() {
		var (
			op        core.Operation
			userID    sql.NullInt64
			ts        string
			rawArgs   string
			rawKwargs string
		)
		if err := rows.Scan(&op.ID, &userID, &op.Type, &op.Name, &ts, &rawArgs, &rawKwargs); err != nil {
			return nil, fmt.Errorf("scan operation row: %w", err)
		}
		if userID.Valid {
			id := int(userID.Int64)
			op.UserID = &id
		}
		if op.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parse operation timestamp: %w", err)
		}
		if err := json.Unmarshal([]byte(rawArgs), &op.Args); err != nil {
			return nil, fmt.Errorf("decode operation args: %w", err)
		}
		if err := json.Unmarshal([]byte(rawKwargs), &op.Kwargs); err != nil {
			return nil, fmt.Errorf("decode operation kwargs: %w", err)
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

// HealthSample is one instrument health reading.
type HealthSample struct {
	ID         int            `json:"id"`
	ResourceID int            `json:"resource_id"`
	Timestamp  time.Time      `json:"timestamp"`
	Status     string         `json:"status"`
	Payload    map[string]any `json:"payload"`
}

// AppendHealth inserts one health sample. Rows are never updated or deleted.
func (s *Store) AppendHealth(ctx context.Context, sample HealthSample) error {
	payload, err := json.Marshal(sample.Payload)
	if err != nil {
		return fmt.Errorf("encode health payload: %w", err)
	}
	ts := sample.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO health (resource_id, timestamp, status, payload) VALUES (?, ?, ?, ?)`,
		sample.ResourceID, ts.UTC().Format(time.RFC3339Nano), sample.Status, string(payload))
	if err != nil {
		return fmt.Errorf("append health sample: %w", err)
	}
	return nil
}

// HealthSamples lists the samples of a resource since the given time, in
// insertion order. A zero since returns the full history.
func (s *Store) HealthSamples(ctx context.Context, resourceID int, since time.Time) ([]HealthSample, error) {
	query := `SELECT id, resource_id, timestamp, status, payload FROM health WHERE resource_id = ?`
	args := []any{resourceID}
	if !since.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, since.UTC().Format(time.RFC3339Nano))
	}
	query += ` ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read health samples: %w", err)
	}
	defer rows.Close()

	var out []HealthSample
	for rows.Next() {
		var (
			sample  HealthSample
			ts      string
			payload string
		)
		if err := rows.Scan(&sample.ID, &sample.ResourceID, &ts, &sample.Status, &payload); err != nil {
			return nil, fmt.Errorf("scan health row: %w", err)
		}
		if sample.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parse health timestamp: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &sample.Payload); err != nil {
			return nil, fmt.Errorf("decode health payload: %w", err)
		}
		out = append(out, sample)
	}
	return out, rows.Err()
}
