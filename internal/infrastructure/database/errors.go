package database

import "errors"

var (
	// ErrNoPath is returned by Open when no database path is configured.
	ErrNoPath = errors.New("database: path is required")

	// ErrUnhealthy is returned by HealthCheck when the health query fails.
	ErrUnhealthy = errors.New("database: health check failed")

	// ErrNoDownMigration is returned by MigrateDown when the latest applied
	// migration has no down script.
	ErrNoDownMigration = errors.New("database: migration has no down script")

	// ErrMigrationMissing is returned by MigrateDown when the latest applied
	// version is not present in the migration filesystem.
	ErrMigrationMissing = errors.New("database: applied migration not found")
)
