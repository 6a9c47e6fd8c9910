// Package database owns the nsmd SQLite file: device inventory
// (nsm_devices) and async operation history (async_operations).
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
//	devices := device.NewSQLiteRepository(db.DB)
//	history := asyncop.NewSQLiteHistory(db.DB)
//
// Migrations are additive: new columns are NULLABLE or carry a DEFAULT,
// and every .up.sql has a matching .down.sql. All queries are
// parameterised and the file is created 0600.
package database
