// Package store is the agent's local key-value persistence: host session,
// subscription snapshot and per-filter event lists. Values are whole-value
// replacements; a write fully supersedes the previous value for its key.
package store

import (
	"context"
	"errors"
)

// ErrNotFound é retornado quando a chave não existe.
var ErrNotFound = errors.New("key_not_found")

// Store is a minimal key-value contract satisfied by the sqlite file store,
// the redis store and the in-memory store used in tests.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}
