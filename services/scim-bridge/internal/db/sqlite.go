package db

import (
	"fmt"
	"log/slog"
	"runtime"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// sqlitePragmas are applied to every pooled connection: WAL so readers
// never block the single writer, and a busy timeout so concurrent writers
// queue instead of failing with SQLITE_BUSY.
var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=FULL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA foreign_keys=ON",
	"PRAGMA temp_store=MEMORY",
}

// OpenSQLite opens a pool of SQLite connections on path. The file is
// created if it does not exist; its parent directory must exist.
// poolSize <= 0 picks max(NumCPU, 4).
func OpenSQLite(path string, poolSize int, logger *slog.Logger) (*sqlitex.Pool, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path not configured")
	}
	if poolSize <= 0 {
		poolSize = max(runtime.NumCPU(), 4)
	}

	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareSQLiteConn,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %s: %w", path, err)
	}

	if logger != nil {
		logger.Info("sqlite pool opened", "path", path, "pool_size", poolSize)
	}
	return pool, nil
}

func prepareSQLiteConn(conn *sqlite.Conn) error {
	for _, pragma := range sqlitePragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return nil
}
