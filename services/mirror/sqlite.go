package mirror

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS uploads (
	url TEXT PRIMARY KEY,
	mtime INTEGER NOT NULL,
	updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);
`

// sqliteStore keeps the ledger in a local SQLite file, the default for
// single-host runs. WAL mode lets workers read while one writes.
type sqliteStore struct {
	pool *sqlitex.Pool
}

func openSQLiteStore(ctx context.Context, path string) (*sqliteStore, error) {
	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PrepareConn: func(conn *sqlite.Conn) error {
			pragmas := []string{
				"PRAGMA journal_mode=WAL",
				"PRAGMA synchronous=NORMAL",
				"PRAGMA busy_timeout=5000",
			}
			for _, pragma := range pragmas {
				if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
					return fmt.Errorf("%s: %w", pragma, err)
				}
			}
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	conn, err := pool.Take(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("take sqlite conn: %w", err)
	}
	err = sqlitex.ExecuteScript(conn, sqliteSchema, nil)
	pool.Put(conn)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("create uploads table: %w", err)
	}

	return &sqliteStore{pool: pool}, nil
}

func (s *sqliteStore) Get(ctx context.Context, url string) (int64, bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, false, err
	}
	defer s.pool.Put(conn)

	var (
		mtime int64
		found bool
	)
	err = sqlitex.Execute(conn, `SELECT mtime FROM uploads WHERE url = ?`, &sqlitex.ExecOptions{
		Args: []any{url},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			mtime = stmt.ColumnInt64(0)
			found = true
			return nil
		},
	})
	if err != nil {
		return 0, false, err
	}
	return mtime, found, nil
}

func (s *sqliteStore) Put(ctx context.Context, url string, mtime int64) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	return sqlitex.Execute(conn, `INSERT INTO uploads (url, mtime) VALUES (?, ?)
		ON CONFLICT (url) DO UPDATE SET
			mtime = excluded.mtime,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')`, &sqlitex.ExecOptions{
		Args: []any{url, mtime},
	})
}

func (s *sqliteStore) Count(ctx context.Context) (int64, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	var count int64
	err = sqlitex.Execute(conn, `SELECT count(*) FROM uploads`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			count = stmt.ColumnInt64(0)
			return nil
		},
	})
	return count, err
}

func (s *sqliteStore) Close() error {
	return s.pool.Close()
}
