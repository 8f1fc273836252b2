// Package database provides SQLite connectivity for the Autelis bridge.
//
// It owns the connection (WAL mode, busy timeout, single writer) and the
// schema migrations. The bridge stores node state history here; the
// appliance itself remains the source of truth for current state.
//
// Usage:
//
//	db, err := database.Open(database.Config{
//	    Path:        cfg.Database.Path,
//	    WALMode:     cfg.Database.WALMode,
//	    BusyTimeout: cfg.Database.BusyTimeout,
//	})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are additive. New columns must be NULLABLE or have DEFAULT
// values, and each .up.sql should ship with a .down.sql.
package database
