package auth

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/activitycal/backend/internal/logging"
	"github.com/activitycal/backend/internal/models"
)

const sealedPrefix = "x1:"

// SealedStore encrypts access and refresh secrets before handing records to the
// wrapped store. The identity token is bound to each ciphertext as associated data,
// so secrets copied between rows fail to open.
type SealedStore struct {
	base CredentialStore
	aead cipher.AEAD
}

// NewSealedStore wraps base with XChaCha20-Poly1305 using a 32 byte key.
func NewSealedStore(base CredentialStore, key []byte) (*SealedStore, error) {
	if base == nil {
		return nil, errors.New("auth: sealed store requires a base store")
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("auth: init sealed store: %w", err)
	}
	return &SealedStore{base: base, aead: aead}, nil
}

// Put encrypts both secrets and stores the record.
func (s *SealedStore) Put(ctx context.Context, cred models.Credential) error {
	access, err := s.seal(cred.IdentityToken, cred.AccessSecret)
	if err != nil {
		return err
	}
	refresh, err := s.seal(cred.IdentityToken, cred.RefreshSecret)
	if err != nil {
		return err
	}
	cred.AccessSecret = access
	cred.RefreshSecret = refresh
	return s.base.Put(ctx, cred)
}

// Get loads and decrypts the record for token.
func (s *SealedStore) Get(ctx context.Context, token string) (models.Credential, bool, error) {
	cred, found, err := s.base.Get(ctx, token)
	if err != nil || !found {
		return models.Credential{}, found, err
	}
	if cred.AccessSecret, err = s.open(token, cred.AccessSecret); err != nil {
		return models.Credential{}, false, err
	}
	if cred.RefreshSecret, err = s.open(token, cred.RefreshSecret); err != nil {
		return models.Credential{}, false, err
	}
	return cred, true, nil
}

// RecordAccess delegates to the wrapped store.
func (s *SealedStore) RecordAccess(ctx context.Context, token string, at time.Time) error {
	return s.base.RecordAccess(ctx, token, at)
}

// LastAccess delegates to the wrapped store.
func (s *SealedStore) LastAccess(ctx context.Context, token string) (time.Time, error) {
	return s.base.LastAccess(ctx, token)
}

// DeleteInactive delegates to the wrapped store when it supports pruning.
func (s *SealedStore) DeleteInactive(ctx context.Context, cutoff time.Time) (int64, error) {
	pruner, ok := s.base.(Pruner)
	if !ok {
		return 0, errors.New("auth: wrapped store does not support pruning")
	}
	return pruner.DeleteInactive(ctx, cutoff)
}

func (s *SealedStore) seal(token, plaintext string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), []byte(token))
	return sealedPrefix + base64.RawStdEncoding.EncodeToString(sealed), nil
}

func (s *SealedStore) open(token, value string) (string, error) {
	encoded, ok := strings.CutPrefix(value, sealedPrefix)
	if !ok {
		return "", fmt.Errorf("%w: secret for %s is not sealed", ErrStorage, logging.Redact(token))
	}
	raw, err := base64.RawStdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: decode sealed secret: %v", ErrStorage, err)
	}
	if len(raw) < s.aead.NonceSize() {
		return "", fmt.Errorf("%w: sealed secret too short", ErrStorage)
	}
	nonce, ciphertext := raw[:s.aead.NonceSize()], raw[s.aead.NonceSize():]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, []byte(token))
	if err != nil {
		return "", fmt.Errorf("%w: open sealed secret: %v", ErrStorage, err)
	}
	return string(plaintext), nil
}

var (
	_ CredentialStore = (*SealedStore)(nil)
	_ Pruner          = (*SealedStore)(nil)
)
