package core

import (
	"fmt"
	"os"

	"studiocore/internal/infra/persistence/memory"
	"studiocore/internal/infra/persistence/postgres"
	"studiocore/internal/infra/persistence/sqlite"
)

// StorageDriver identifies a session snapshot backend.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// OpenSessionStore selects a snapshot backend using environment variables.
//
//	STUDIO_STORAGE_DRIVER: memory|sqlite|postgres (default memory)
//	STUDIO_SQLITE_PATH: path to sqlite file (default ./studio.db)
//	STUDIO_POSTGRES_DSN: postgres DSN when driver=postgres
func OpenSessionStore() (SessionStore, error) {
	driver := os.Getenv("STUDIO_STORAGE_DRIVER")
	if driver == "" {
		driver = string(StorageMemory)
	}
	switch StorageDriver(driver) {
	case StorageMemory:
		return memory.NewStore(), nil
	case StorageSQLite:
		store, err := sqlite.NewStore(os.Getenv("STUDIO_SQLITE_PATH"))
		if err != nil {
			return nil, err
		}
		return store, nil
	case StoragePostgres:
		store, err := postgres.NewStore(os.Getenv("STUDIO_POSTGRES_DSN"))
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
