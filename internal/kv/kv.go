// Package kv defines the untrusted byte stores the encrypted vault writes
// through, plus the concrete backends: in-memory, Redis, Postgres, and
// Supabase. Backends only ever see ciphertext envelopes.
package kv

import (
	"context"
	"errors"
)

// ErrKeyNotFound is returned by Get for keys that were never written or
// have been deleted.
var ErrKeyNotFound = errors.New("kv: key not found")

// Backend is a serially-consistent-per-key byte store.
type Backend interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}
