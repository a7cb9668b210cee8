// Package vault wraps an untrusted kv.Backend so values rest as
// AES-256-GCM ciphertext. One 256-bit key is derived per store from a
// process secret with PBKDF2-HMAC-SHA256; every write uses a fresh 96-bit
// IV and persists an {iv, cipherText} envelope.
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"github.com/nospoilers/backend/internal/apperr"
	"github.com/nospoilers/backend/internal/kv"
	"github.com/nospoilers/backend/internal/metrics"
)

const (
	kdfIterations = 150000
	kdfSalt       = "nospoilers.vault.v1" // domain separation, never rotated
	ivSize        = 12
	keySize       = 32
)

// ErrNotFound reports a key with no stored value.
var ErrNotFound = errors.New("vault: not found")

type envelope struct {
	IV         string `json:"iv"`
	CipherText string `json:"cipherText"`
}

// Store encrypts JSON-serialized values into a kv.Backend.
type Store struct {
	aead    cipher.AEAD
	backend kv.Backend
	metrics *metrics.Metrics
}

// New derives the key and constructs the AEAD. Fails with
// apperr.ErrCryptoUnavailable when the secret is empty or the primitive
// cannot be built. A nil metrics is allowed.
func New(secret string, backend kv.Backend, m *metrics.Metrics) (*Store, error) {
	if secret == "" {
		return nil, apperr.ErrCryptoUnavailable
	}

	key := pbkdf2.Key([]byte(secret), []byte(kdfSalt), kdfIterations, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, apperr.ErrCryptoUnavailable
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, apperr.ErrCryptoUnavailable
	}

	return &Store{aead: aead, backend: backend, metrics: m}, nil
}

// Put JSON-encodes value, seals it under a fresh IV, and persists the
// envelope at key.
func (s *Store) Put(ctx context.Context, key string, value interface{}) error {
	start := time.Now()
	defer func() { s.metrics.ObserveVaultOp("put", time.Since(start).Seconds()) }()

	plain, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("vault marshal %s: %w", key, err)
	}

	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return apperr.ErrCryptoUnavailable
	}

	sealed := s.aead.Seal(nil, iv, plain, nil)
	raw, err := json.Marshal(envelope{
		IV:         base64.StdEncoding.EncodeToString(iv),
		CipherText: base64.StdEncoding.EncodeToString(sealed),
	})
	if err != nil {
		return fmt.Errorf("vault envelope %s: %w", key, err)
	}

	return s.backend.Put(ctx, key, raw)
}

// Get loads the envelope at key and decrypts into dest. A missing key is
// ErrNotFound; a malformed envelope or failed GCM open is
// apperr.ErrTampered.
func (s *Store) Get(ctx context.Context, key string, dest interface{}) error {
	start := time.Now()
	defer func() { s.metrics.ObserveVaultOp("get", time.Since(start).Seconds()) }()

	raw, err := s.backend.Get(ctx, key)
	if errors.Is(err, kv.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("vault load %s: %w", key, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return apperr.ErrTampered
	}
	iv, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil || len(iv) != ivSize {
		return apperr.ErrTampered
	}
	sealed, err := base64.StdEncoding.DecodeString(env.CipherText)
	if err != nil {
		return apperr.ErrTampered
	}

	plain, err := s.aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return apperr.ErrTampered
	}

	if err := json.Unmarshal(plain, dest); err != nil {
		return fmt.Errorf("vault decode %s: %w", key, err)
	}
	return nil
}

// Delete removes the envelope at key. Deleting a missing key is a no-op.
func (s *Store) Delete(ctx context.Context, key string) error {
	start := time.Now()
	defer func() { s.metrics.ObserveVaultOp("delete", time.Since(start).Seconds()) }()

	return s.backend.Delete(ctx, key)
}

// Ping proxies the backend health check.
func (s *Store) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

// Close releases the backend connection.
func (s *Store) Close() error {
	return s.backend.Close()
}
