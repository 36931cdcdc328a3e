// Package database provides SQLite connectivity for the bridge.
//
// This package manages:
//   - the connection, with WAL mode and a busy timeout
//   - embedded, versioned schema migrations (schema_migrations table)
//   - a WithTx helper and the Querier interface shared by repositories
//
// All timestamp columns are stored as fixed-width UTC text (TimeLayout), so
// ORDER BY on them is chronological.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
package database
