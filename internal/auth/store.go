package auth

import (
	"context"
	"time"

	"github.com/activitycal/backend/internal/models"
)

// NeverAccessed is returned by LastAccess for identity tokens without an access
// record. Callers must treat it as "never requested", not as a real timestamp.
var NeverAccessed = time.Unix(0, 0).UTC()

// CredentialStore persists credentials and access metadata keyed by identity token.
// Implementations upsert atomically per key and wrap I/O failures in ErrStorage.
type CredentialStore interface {
	// Put inserts or fully replaces the credential record for cred.IdentityToken.
	Put(ctx context.Context, cred models.Credential) error
	// Get loads the credential record. found is false when none exists.
	Get(ctx context.Context, token string) (cred models.Credential, found bool, err error)
	// RecordAccess upserts the last request instant for token.
	RecordAccess(ctx context.Context, token string, at time.Time) error
	// LastAccess returns the last request instant or NeverAccessed.
	LastAccess(ctx context.Context, token string) (time.Time, error)
}

// Pruner removes identities that have not requested a feed since cutoff.
type Pruner interface {
	DeleteInactive(ctx context.Context, cutoff time.Time) (int64, error)
}
