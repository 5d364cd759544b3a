// Package database provides the SQLite store of the FB BUS connector.
//
// The store holds the connector entity, the devices found on the bus and
// their properties (registers). It manages:
//   - The connection, with WAL mode so API reads do not wait for writes
//   - Schema migrations embedded in the binary
//   - Transactions through InTx
//
// The database file is created with 0600 permissions. All queries use
// parameterised statements.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migrations are registered by importing the migrations package. Files are
// named YYYYMMDD_HHMMSS_description.up.sql with an optional .down.sql. New
// columns must be nullable or have a default.
package database
