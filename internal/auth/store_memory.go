package auth

import (
	"context"
	"sync"
	"time"

	"github.com/activitycal/backend/internal/models"
)

// NewInMemoryStore returns a CredentialStore backed by in-memory maps.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		credentials: make(map[string]models.Credential),
		access:      make(map[string]time.Time),
	}
}

// InMemoryStore implements CredentialStore for tests and local development.
type InMemoryStore struct {
	mu          sync.RWMutex
	credentials map[string]models.Credential
	access      map[string]time.Time
}

// Put stores the credential record, replacing any previous one.
func (s *InMemoryStore) Put(_ context.Context, cred models.Credential) error {
	s.mu.Lock()
	s.credentials[cred.IdentityToken] = cred
	s.mu.Unlock()
	return nil
}

// Get retrieves the credential record for token.
func (s *InMemoryStore) Get(_ context.Context, token string) (models.Credential, bool, error) {
	s.mu.RLock()
	cred, ok := s.credentials[token]
	s.mu.RUnlock()
	return cred, ok, nil
}

// RecordAccess stores the last request instant for token.
func (s *InMemoryStore) RecordAccess(_ context.Context, token string, at time.Time) error {
	s.mu.Lock()
	s.access[token] = at.UTC()
	s.mu.Unlock()
	return nil
}

// LastAccess returns the last request instant or NeverAccessed.
func (s *InMemoryStore) LastAccess(_ context.Context, token string) (time.Time, error) {
	s.mu.RLock()
	at, ok := s.access[token]
	s.mu.RUnlock()
	if !ok {
		return NeverAccessed, nil
	}
	return at, nil
}

// DeleteInactive removes identities whose last access is before cutoff. Identities
// without any access record are treated as never accessed.
func (s *InMemoryStore) DeleteInactive(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for token := range s.credentials {
		at, ok := s.access[token]
		if ok && !at.Before(cutoff) {
			continue
		}
		delete(s.credentials, token)
		delete(s.access, token)
		removed++
	}
	for token, at := range s.access {
		if at.Before(cutoff) {
			delete(s.access, token)
		}
	}
	return removed, nil
}

// Has reports whether credentials exist for token. Useful for tests.
func (s *InMemoryStore) Has(token string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.credentials[token]
	return ok
}

var (
	_ CredentialStore = (*InMemoryStore)(nil)
	_ Pruner          = (*InMemoryStore)(nil)
)
