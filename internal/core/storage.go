package core

import (
	"context"
	"fmt"
	"os"

	"emhub/internal/infra/persistence/memory"
	"emhub/internal/infra/persistence/postgres"
	"emhub/internal/infra/persistence/sqlite"
	"emhub/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// DefaultSQLitePath is used when EMHUB_SQLITE_PATH is unset.
const DefaultSQLitePath = "./emhub.sqlite"

// OpenPersistentStore selects a backend using environment variables.
// Defaults to sqlite when unset.
//
//	EMHUB_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	EMHUB_SQLITE_PATH: path to sqlite file (default ./emhub.sqlite)
//	EMHUB_POSTGRES_DSN: postgres DSN when driver=postgres
//	EMHUB_SQL_ECHO: any non-empty value traces persisted statements to stderr
func OpenPersistentStore(ctx context.Context, engine *domain.RulesEngine) (domain.PersistentStore, error) {
	driver := os.Getenv("EMHUB_STORAGE_DRIVER")
	if driver == "" {
		driver = string(StorageSQLite)
	}
	switch StorageDriver(driver) {
	case StorageMemory:
		return memory.NewStore(engine), nil
	case StorageSQLite:
		path := os.Getenv("EMHUB_SQLITE_PATH")
		if path == "" {
			path = DefaultSQLitePath
		}
		store, err := sqlite.Open(path, engine)
		if err != nil {
			return nil, err
		}
		if os.Getenv("EMHUB_SQL_ECHO") != "" {
			store.SetEcho(os.Stderr)
		}
		return store, nil
	case StoragePostgres:
		return postgres.Open(ctx, os.Getenv("EMHUB_POSTGRES_DSN"), engine)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
