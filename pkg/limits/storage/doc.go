// Package storage provides durable persistence for budget definitions and the
// usage ledger.
//
// # Overview
//
// Two backends implement both budget.Repository and budget.Ledger:
//
//   - Memory: in-memory storage for tests and ephemeral deployments
//   - SQLite: file-based persistence with WAL and periodic checkpoints
//
// Live counters (period totals, rate windows, circuit states) are not stored
// here; they belong to the shared counter store.
//
// # Usage
//
//	store, err := storage.NewSQLiteStore("/var/lib/costgate/budgets.db")
//	registry, err := budget.NewRegistry(budget.RegistryConfig{Repository: store})
//	tracker, err := budget.NewTracker(budget.TrackerConfig{
//	    Registry: registry,
//	    Ledger:   store,
//	    Counters: counters,
//	})
//
// # Thread Safety
//
// All backends are thread-safe. Usage appends are idempotent on the record id.
package storage
