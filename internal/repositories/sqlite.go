package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/activitycal/backend/internal/auth"
	"github.com/activitycal/backend/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS credentials (
    identity_token TEXT PRIMARY KEY,
    access_token TEXT NOT NULL,
    refresh_token TEXT NOT NULL,
    expires_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS access_metadata (
    identity_token TEXT PRIMARY KEY,
    last_request_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS access_metadata_last_request_idx ON access_metadata (last_request_at);
`

// SQLiteCredentialStore persists credentials to a single-file SQLite database.
// Access instants are stored as unix microseconds.
type SQLiteCredentialStore struct {
	db *sql.DB
}

// NewSQLiteCredentialStore creates the schema if needed and returns the store.
func NewSQLiteCredentialStore(ctx context.Context, conn *sql.DB) (*SQLiteCredentialStore, error) {
	if _, err := conn.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, storageError("init sqlite schema", err)
	}
	return &SQLiteCredentialStore{db: conn}, nil
}

// Put inserts or replaces the credential record for cred.IdentityToken.
func (s *SQLiteCredentialStore) Put(ctx context.Context, cred models.Credential) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO credentials (identity_token, access_token, refresh_token, expires_at)
        VALUES (?, ?, ?, ?)
        ON CONFLICT (identity_token)
        DO UPDATE SET access_token = excluded.access_token,
                      refresh_token = excluded.refresh_token,
                      expires_at = excluded.expires_at
    `, cred.IdentityToken, cred.AccessSecret, cred.RefreshSecret, cred.ExpiresAt.Unix())
	if err != nil {
		return storageError("upsert credentials", err)
	}
	return nil
}

// Get loads the credential record for token.
func (s *SQLiteCredentialStore) Get(ctx context.Context, token string) (models.Credential, bool, error) {
	var (
		cred      models.Credential
		expiresAt int64
	)
	err := s.db.QueryRowContext(ctx, `
        SELECT identity_token, access_token, refresh_token, expires_at
        FROM credentials
        WHERE identity_token = ?
    `, token).Scan(&cred.IdentityToken, &cred.AccessSecret, &cred.RefreshSecret, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Credential{}, false, nil
		}
		return models.Credential{}, false, storageError("select credentials", err)
	}

	cred.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	return cred, true, nil
}

// RecordAccess upserts the last request instant for token.
func (s *SQLiteCredentialStore) RecordAccess(ctx context.Context, token string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO access_metadata (identity_token, last_request_at)
        VALUES (?, ?)
        ON CONFLICT (identity_token)
        DO UPDATE SET last_request_at = excluded.last_request_at
    `, token, at.UTC().UnixMicro())
	if err != nil {
		return storageError("upsert access metadata", err)
	}
	return nil
}

// LastAccess returns the last request instant for token or auth.NeverAccessed.
func (s *SQLiteCredentialStore) LastAccess(ctx context.Context, token string) (time.Time, error) {
	var micros int64
	err := s.db.QueryRowContext(ctx, `
        SELECT last_request_at
        FROM access_metadata
        WHERE identity_token = ?
    `, token).Scan(&micros)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.NeverAccessed, nil
		}
		return time.Time{}, storageError("select access metadata", err)
	}
	return time.UnixMicro(micros).UTC(), nil
}

// DeleteInactive removes identities that have not requested a feed since cutoff.
func (s *SQLiteCredentialStore) DeleteInactive(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageError("begin prune transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
        DELETE FROM credentials
        WHERE identity_token NOT IN (
            SELECT identity_token FROM access_metadata WHERE last_request_at >= ?
        )
    `, cutoff.UTC().UnixMicro())
	if err != nil {
		return 0, storageError("delete inactive credentials", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, storageError("count deleted credentials", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM access_metadata WHERE last_request_at < ?`, cutoff.UTC().UnixMicro()); err != nil {
		return 0, storageError("delete inactive access metadata", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, storageError("commit prune transaction", err)
	}
	return removed, nil
}

var (
	_ auth.CredentialStore = (*SQLiteCredentialStore)(nil)
	_ auth.Pruner          = (*SQLiteCredentialStore)(nil)
)
