package memory

import (
	"context"
	"errors"
)

// ErrNoSnapshot indicates a store has never been written to.
var ErrNoSnapshot = errors.New("memory: no snapshot found")

// Store persists the full memory snapshot. Implementations replace the whole
// document on every Save; the core serializes writes, so stores only need to
// make each individual Save atomic.
type Store interface {
	// Load returns the most recent snapshot, or ErrNoSnapshot if nothing has
	// been saved yet.
	Load(ctx context.Context) (*Snapshot, error)

	// Save persists the snapshot, replacing any previous one.
	Save(ctx context.Context, snapshot *Snapshot) error
}
