package mirror

import (
	"context"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgxpool"

	"mvnmirror/pkg/db"
)

// postgresStore keeps the ledger in a shared Postgres database so several
// mirror hosts can cooperate on one namespace.
type postgresStore struct {
	pool *pgxpool.Pool
}

func openPostgresStore(ctx context.Context, dsn string) (*postgresStore, error) {
	pool, err := db.Open(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate uploads ledger: %w", err)
	}
	return &postgresStore{pool: pool}, nil
}

func (s *postgresStore) Get(ctx context.Context, url string) (int64, bool, error) {
	var mtime int64
	err := db.Get(ctx, s.pool, &mtime, `SELECT mtime FROM uploads WHERE url = $1`, url)
	if err != nil {
		if pgxscan.NotFound(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return mtime, true, nil
}

func (s *postgresStore) Put(ctx context.Context, url string, mtime int64) error {
	_, err := db.Exec(ctx, s.pool, `INSERT INTO uploads (url, mtime, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (url) DO UPDATE SET
			mtime = EXCLUDED.mtime,
			updated_at = now()`, url, mtime)
	return err
}

func (s *postgresStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := db.Get(ctx, s.pool, &count, `SELECT count(*) FROM uploads`)
	return count, err
}

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}
