// Package database provides SQLite connectivity for the Gray Logic poller.
//
// The poller keeps very little on disk: the moniker directory that maps
// driver monikers to the hosts serving them. This package owns the
// connection and the schema migrations; the directory package owns the
// queries.
//
// Security Considerations:
//   - All queries use parameterised statements
//   - Database file permissions are set to 0600
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    log.Fatal(err)
//	}
//
// Migration Strategy:
//
// Migrations are additive-only. New columns must be NULLABLE or have
// DEFAULT values, and each .up.sql should ship with a .down.sql.
package database
