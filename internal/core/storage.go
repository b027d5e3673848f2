package core

import (
	"fmt"
	"os"

	"entitygraph/internal/registry"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// OpenPersistentRegistry selects a backend using environment variables.
// Defaults to the in-memory registry when unset.
//
//	ENTITYGRAPH_STORAGE_DRIVER: memory|sqlite|postgres (default memory)
//	ENTITYGRAPH_SQLITE_PATH: path to sqlite file (default ./entitygraph.db)
//	ENTITYGRAPH_POSTGRES_DSN: postgres DSN when driver=postgres
func OpenPersistentRegistry(engine *RulesEngine) (PersistentRegistry, error) {
	driver := os.Getenv("ENTITYGRAPH_STORAGE_DRIVER")
	if driver == "" {
		driver = string(StorageMemory)
	}
	switch StorageDriver(driver) {
	case StorageMemory:
		return registry.New(engine), nil
	case StorageSQLite:
		path := os.Getenv("ENTITYGRAPH_SQLITE_PATH")
		return NewSQLiteStore(path, engine)
	case StoragePostgres:
		dsn := os.Getenv("ENTITYGRAPH_POSTGRES_DSN")
		ps, err := NewPostgresStore(dsn, engine)
		if err != nil {
			return nil, err
		}
		return ps, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
