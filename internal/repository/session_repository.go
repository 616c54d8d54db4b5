// Package repository holds the SQL-backed stores.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/bus-seat-reservation/internal/session"
)

// SessionRepo stores session blobs in MySQL (table session_entries).  It
// implements session.Store.  Rows past expires_at read as missing and are
// removed by PurgeExpired.
type SessionRepo struct {
	DB  *sqlx.DB
	TTL time.Duration // 0 means rows never expire
}

func NewSessionRepo(db *sqlx.DB, ttl time.Duration) *SessionRepo {
	return &SessionRepo{DB: db, TTL: ttl}
}

var _ session.Store = (*SessionRepo)(nil)

type sessionRow struct {
	Payload   []byte       `db:"payload"`
	ExpiresAt sql.NullTime `db:"expires_at"`
}

// Get returns the payload for key or session.ErrNotFound.
func (r *SessionRepo) Get(ctx context.Context, key string) ([]byte, error) {
	var row sessionRow
	err := r.DB.GetContext(ctx, &row,
		"SELECT payload, expires_at FROM session_entries WHERE session_key=? LIMIT 1", key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if row.ExpiresAt.Valid && time.Now().UTC().After(row.ExpiresAt.Time) {
		return nil, session.ErrNotFound
	}
	return row.Payload, nil
}

// Set upserts the payload and renews the expiry.
func (r *SessionRepo) Set(ctx context.Context, key string, value []byte) error {
	now := time.Now().UTC()
	var exp sql.NullTime
	if r.TTL > 0 {
		exp = sql.NullTime{Time: now.Add(r.TTL), Valid: true}
	}
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO session_entries (session_key, payload, expires_at, updated_at) VALUES (?,?,?,?)
		 ON DUPLICATE KEY UPDATE payload=VALUES(payload), expires_at=VALUES(expires_at), updated_at=VALUES(updated_at)`,
		key, value, exp, now)
	return err
}

// Delete removes key.  Deleting a missing key is not an error.
func (r *SessionRepo) Delete(ctx context.Context, key string) error {
	_, err := r.DB.ExecContext(ctx, "DELETE FROM session_entries WHERE session_key=?", key)
	return err
}

// PurgeExpired deletes expired rows and returns how many went.
func (r *SessionRepo) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		"DELETE FROM session_entries WHERE expires_at IS NOT NULL AND expires_at < ?", time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
