package fpcache

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SQLiteBackend stores cache snapshots in a kv table. Expired rows are
// treated as misses and lazily deleted on read.
type SQLiteBackend struct {
	db *sql.DB
	ns string
}

// NewSQLiteBackend creates a backend over db, scoping all rows to the
// given namespace so multiple caches can share one table.
func NewSQLiteBackend(db *sql.DB, namespace string) *SQLiteBackend {
	return &SQLiteBackend{db: db, ns: namespace}
}

// EnsureTable creates the kv table if it doesn't exist.
func (b *SQLiteBackend) EnsureTable(ctx context.Context) error {
	_, err := b.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS fpcache_kv (
			ns         TEXT NOT NULL,
			key        TEXT NOT NULL,
			value      BLOB NOT NULL,
			expires_at INTEGER,
			PRIMARY KEY (ns, key)
		)`)
	return err
}

// Set stores value under key. ttl <= 0 means no expiry.
func (b *SQLiteBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt *int64
	if ttl > 0 {
		e := time.Now().Add(ttl).UnixMilli()
		expiresAt = &e
	}
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO fpcache_kv (ns, key, value, expires_at) VALUES (?,?,?,?)
		ON CONFLICT (ns, key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		b.ns, key, value, expiresAt,
	)
	return err
}

// Get returns the value for key, or ok=false on miss or expiry.
func (b *SQLiteBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	var expiresAt sql.NullInt64
	err := b.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM fpcache_kv WHERE ns = ? AND key = ?`,
		b.ns, key,
	).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if expiresAt.Valid && expiresAt.Int64 < time.Now().UnixMilli() {
		b.db.ExecContext(ctx, `DELETE FROM fpcache_kv WHERE ns = ? AND key = ?`, b.ns, key)
		return nil, false, nil
	}
	return value, true, nil
}

// InvalidateAll deletes every entry in the namespace and returns the count.
func (b *SQLiteBackend) InvalidateAll(ctx context.Context) (int64, error) {
	res, err := b.db.ExecContext(ctx, `DELETE FROM fpcache_kv WHERE ns = ?`, b.ns)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
