// Package sqlite persists the in-memory store as JSON buckets inside a
// SQLite database file. Every committed transaction rewrites the affected
// snapshot, which keeps the file consistent without a relational schema.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	_ "modernc.org/sqlite"

	"emhub/internal/infra/persistence/memory"
	"emhub/pkg/domain"
)

// Store wraps the memory store with snapshot durability in a SQLite file.
type Store struct {
	*memory.Store
	db   *sql.DB
	path string
	echo io.Writer
	mu   sync.Mutex
}

const createStateTable = `CREATE TABLE IF NOT EXISTS state (
	bucket TEXT PRIMARY KEY,
	payload BLOB NOT NULL
)`

const upsertBucket = `INSERT INTO state (bucket, payload) VALUES (?, ?)
ON CONFLICT(bucket) DO UPDATE SET payload = excluded.payload`

// Open opens (or creates) the database at path and loads the stored
// snapshot. A nil engine disables rule evaluation.
func Open(path string, engine *domain.RulesEngine) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if _, err := db.Exec(createStateTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create state table: %w", err)
	}
	s := &Store{Store: memory.NewStore(engine), db: db, path: path}
	if err := s.load(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// SetEcho directs a short trace of every persisted statement to w. Used when
// EMHUB_SQL_ECHO is enabled.
func (s *Store) SetEcho(w io.Writer) {
	s.mu.Lock()
	s.echo = w
	s.mu.Unlock()
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

func (s *Store) load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return fmt.Errorf("read state: %w", err)
	}
	defer rows.Close()

	var snap memory.Snapshot
	loaded := false
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return fmt.Errorf("scan state row: %w", err)
		}
		dst, ok := memory.BucketTarget(&snap, bucket)
		if !ok {
			// Unknown buckets are preserved by ignoring them on load; the
			// next persist rewrites only known ones.
			continue
		}
		if err := json.Unmarshal(payload, dst); err != nil {
			return fmt.Errorf("decode bucket %q: %w", bucket, err)
		}
		loaded = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate state rows: %w", err)
	}
	if !loaded {
		return nil
	}
	return s.Store.ImportState(ctx, snap)
}

func (s *Store) persist(ctx context.Context) error {
	snap, err := s.Store.ExportState(ctx)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin persist: %w", err)
	}
	defer tx.Rollback()
	for _, bucket := range memory.BucketNames {
		src, _ := memory.BucketTarget(&snap, bucket)
		payload, err := json.Marshal(src)
		if err != nil {
			return fmt.Errorf("encode bucket %q: %w", bucket, err)
		}
		if s.echo != nil {
			fmt.Fprintf(s.echo, "sqlite: upsert bucket %s (%d bytes)\n", bucket, len(payload))
		}
		if _, err := tx.ExecContext(ctx, upsertBucket, bucket, payload); err != nil {
			return fmt.Errorf("write bucket %q: %w", bucket, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit persist: %w", err)
	}
	return nil
}

// RunInTransaction applies fn through the memory store and persists the
// resulting snapshot.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.Store.RunInTransaction(ctx, fn); err != nil {
		return err
	}
	return s.persist(ctx)
}

// ImportState replaces the full state and persists it.
func (s *Store) ImportState(ctx context.Context, snap memory.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.Store.ImportState(ctx, snap); err != nil {
		return err
	}
	return s.persist(ctx)
}

// Close flushes nothing (commits persist eagerly) and closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
