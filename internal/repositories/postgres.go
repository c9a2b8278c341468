package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/activitycal/backend/internal/auth"
	"github.com/activitycal/backend/internal/db"
	"github.com/activitycal/backend/internal/models"
)

// PostgresCredentialStore persists credentials and access metadata to PostgreSQL.
type PostgresCredentialStore struct {
	pool db.Pool
}

// NewPostgresCredentialStore constructs a credential store backed by PostgreSQL.
func NewPostgresCredentialStore(pool db.Pool) *PostgresCredentialStore {
	return &PostgresCredentialStore{pool: pool}
}

// Put inserts or replaces the credential record for cred.IdentityToken.
func (s *PostgresCredentialStore) Put(ctx context.Context, cred models.Credential) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return storageError("acquire connection", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO credentials (identity_token, access_token, refresh_token, expires_at, updated_at)
        VALUES ($1, $2, $3, $4, NOW())
        ON CONFLICT (identity_token)
        DO UPDATE SET access_token = EXCLUDED.access_token,
                      refresh_token = EXCLUDED.refresh_token,
                      expires_at = EXCLUDED.expires_at,
                      updated_at = EXCLUDED.updated_at
    `, cred.IdentityToken, cred.AccessSecret, cred.RefreshSecret, cred.ExpiresAt.Unix())
	if err != nil {
		return storageError("upsert credentials", err)
	}

	return nil
}

// Get loads the credential record for token.
func (s *PostgresCredentialStore) Get(ctx context.Context, token string) (models.Credential, bool, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return models.Credential{}, false, storageError("acquire connection", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT identity_token, access_token, refresh_token, expires_at
        FROM credentials
        WHERE identity_token = $1
    `, token)

	var (
		cred      models.Credential
		expiresAt int64
	)
	if err := row.Scan(&cred.IdentityToken, &cred.AccessSecret, &cred.RefreshSecret, &expiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Credential{}, false, nil
		}
		return models.Credential{}, false, storageError("select credentials", err)
	}

	cred.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	return cred, true, nil
}

// RecordAccess upserts the last request instant for token.
func (s *PostgresCredentialStore) RecordAccess(ctx context.Context, token string, at time.Time) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return storageError("acquire connection", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO access_metadata (identity_token, last_request_at)
        VALUES ($1, $2)
        ON CONFLICT (identity_token)
        DO UPDATE SET last_request_at = EXCLUDED.last_request_at
    `, token, at.UTC())
	if err != nil {
		return storageError("upsert access metadata", err)
	}

	return nil
}

// LastAccess returns the last request instant for token or auth.NeverAccessed.
func (s *PostgresCredentialStore) LastAccess(ctx context.Context, token string) (time.Time, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return time.Time{}, storageError("acquire connection", err)
	}
	defer conn.Release()

	var at time.Time
	err = conn.QueryRow(ctx, `
        SELECT last_request_at
        FROM access_metadata
        WHERE identity_token = $1
    `, token).Scan(&at)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return auth.NeverAccessed, nil
		}
		return time.Time{}, storageError("select access metadata", err)
	}

	return at.UTC(), nil
}

// DeleteInactive removes credentials and access metadata for identities that
// have not requested a feed since cutoff, returning the number of credential
// records deleted.
func (s *PostgresCredentialStore) DeleteInactive(ctx context.Context, cutoff time.Time) (int64, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return 0, storageError("acquire connection", err)
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return 0, storageError("begin prune transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
        DELETE FROM credentials
        WHERE identity_token NOT IN (
            SELECT identity_token FROM access_metadata WHERE last_request_at >= $1
        )
    `, cutoff.UTC())
	if err != nil {
		return 0, storageError("delete inactive credentials", err)
	}

	if _, err := tx.Exec(ctx, `
        DELETE FROM access_metadata
        WHERE last_request_at < $1
    `, cutoff.UTC()); err != nil {
		return 0, storageError("delete inactive access metadata", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, storageError("commit prune transaction", err)
	}

	return tag.RowsAffected(), nil
}

var (
	_ auth.CredentialStore = (*PostgresCredentialStore)(nil)
	_ auth.Pruner          = (*PostgresCredentialStore)(nil)
)
