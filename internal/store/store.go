// Package store persists the trader's private position records across
// sessions. The chain holds only truncated commitments and locked amounts;
// everything needed to close a position (margin, entry price, size, trader
// secret) exists solely in this cache. Implementations include in-memory
// (tests, default), Redis, and PostgreSQL.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no position is cached under a commitment.
var ErrNotFound = errors.New("position not found")

// Store is the durable key-value cache of private position records, keyed
// by truncated commitment. Callers treat it as single-writer per session;
// no cross-session locking is provided.
type Store interface {
	// List returns all cached positions.
	List(ctx context.Context) ([]Position, error)

	// Get retrieves the position stored under a commitment key.
	Get(ctx context.Context, key string) (*Position, error)

	// Put stores a position under its commitment key.
	Put(ctx context.Context, p *Position) error

	// Delete removes a position. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}
