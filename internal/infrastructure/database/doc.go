// Package database provides the SQLite connection behind the fsanet
// actuator inventory.
//
// Open configures the connection (WAL mode, busy timeout, foreign keys,
// single connection) and Migrate applies versioned SQL files from any
// fs.FS, normally the embedded migrations package:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS, "."); err != nil {
//	    return err
//	}
//
// Path ":memory:" opens a private in-memory database, which tests use.
package database
