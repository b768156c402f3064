package engine

import (
	"context"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	_ "modernc.org/sqlite"          // Pure Go SQLite driver
)

// Local driver names accepted by OpenLocal.
const (
	DriverSQLite3 = "sqlite3" // github.com/mattn/go-sqlite3 (cgo)
	DriverSQLite  = "sqlite"  // modernc.org/sqlite (pure Go)
)

// localPragmas are applied to every local connection.
var localPragmas = []string{
	"PRAGMA busy_timeout = 5000",
	"PRAGMA foreign_keys = ON",
}

// OpenLocal opens the SQLite database at path (":memory:" for a private
// in-memory database) using driverName, which defaults to DriverSQLite3.
func OpenLocal(ctx context.Context, driverName, path string) (Conn, error) {
	c, err := openLocal(ctx, driverName, path)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func openLocal(ctx context.Context, driverName, path string) (*sqlConn, error) {
	if path == "" {
		return nil, fmt.Errorf("local database path is required")
	}
	switch driverName {
	case "":
		driverName = DriverSQLite3
	case DriverSQLite3, DriverSQLite:
	default:
		return nil, fmt.Errorf("unknown local driver %q", driverName)
	}

	c, err := connect(ctx, driverName, path, SQLite)
	if err != nil {
		return nil, err
	}
	for _, pragma := range localPragmas {
		if _, err := c.conn.ExecContext(ctx, pragma); err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return c, nil
}
