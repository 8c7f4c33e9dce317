package storage

import (
	"context"
	"errors"

	"mercator-hq/costgate/pkg/limits/budget"
)

// Store is a durable backend for budgets and usage records.
type Store interface {
	budget.Repository
	budget.Ledger

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the backend.
	// The backend should not be used after calling Close.
	Close() error
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)

// errClosed is returned by a backend after Close.
var errClosed = errors.New("storage closed")
