// Package kv is a small string key-value store for data that lives outside
// the synced record tables, such as the appointment bundle.
//
// Two backends are provided: a table in the local SQLite store and a Redis
// server. Both satisfy Store.
package kv

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("key not found")

// Store is a string key-value store.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}
