// Package postgres persists the in-memory store as JSON buckets in a
// PostgreSQL table, mirroring the sqlite backend for deployments that share
// one database server across services.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"

	"emhub/internal/infra/persistence/memory"
	"emhub/pkg/domain"
)

// Store wraps the memory store with snapshot durability in PostgreSQL.
type Store struct {
	*memory.Store
	db *sql.DB
	mu sync.Mutex
}

const createStateTable = `CREATE TABLE IF NOT EXISTS emhub_state (
	bucket TEXT PRIMARY KEY,
	payload JSONB NOT NULL
)`

const upsertBucket = `INSERT INTO emhub_state (bucket, payload) VALUES ($1, $2)
ON CONFLICT (bucket) DO UPDATE SET payload = EXCLUDED.payload`

// Open connects with a pgx DSN, prepares the state table and loads the
// stored snapshot.
func Open(ctx context.Context, dsn string, engine *domain.RulesEngine) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, createStateTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create state table: %w", err)
	}
	s := &Store{Store: memory.NewStore(engine), db: db}
	if err := s.load(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT bucket, payload FROM emhub_state`)
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

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }
