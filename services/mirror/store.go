package mirror

import (
	"context"
	"strings"
)

// Store is the durable idempotency ledger: remote target URL mapped to the
// local modification time recorded after a confirmed delivery. Records are
// upsert-only and never deleted by a sync. Every operation is a single
// atomic statement; callers never hold a store transaction across network
// calls.
type Store interface {
	// Get returns the recorded mtime for url; ok is false when no record
	// exists.
	Get(ctx context.Context, url string) (mtime int64, ok bool, err error)
	// Put upserts the record for url. Last write wins.
	Put(ctx context.Context, url string, mtime int64) error
	// Count returns the number of recorded URLs.
	Count(ctx context.Context) (int64, error)
	Close() error
}

// OpenStore selects the ledger backend from its location: postgres DSNs open
// the shared Postgres ledger, anything else is a local SQLite file path. A
// failure here is fatal to the run; nothing is scanned against a ledger that
// could not be opened.
func OpenStore(ctx context.Context, location string) (Store, error) {
	if strings.HasPrefix(location, "postgres://") || strings.HasPrefix(location, "postgresql://") {
		return openPostgresStore(ctx, location)
	}
	return openSQLiteStore(ctx, location)
}
