// Package auditlog keeps a tamper-evident record of registration outcomes.
//
// Entries form a hash chain starting from a genesis entry whose Hash equals
// GenesisHash. Each entry stores the hash of its predecessor, so Verify
// detects any edited or removed row.
//
// MemoryLedger serves tests and single-process deployments; PostgresLedger is
// the durable implementation.
package auditlog

import "context"

// Ledger is the append-only audit log.
type Ledger interface {
	// Append chains a new entry for ev onto the tip of the log.
	Append(ctx context.Context, ev Event) (*Entry, error)

	// Get returns the entry at the given zero-based index.
	Get(ctx context.Context, index int) (*Entry, error)

	// Len returns the number of entries including genesis.
	Len(ctx context.Context) (int, error)

	// Verify walks the chain and returns nil if it is intact.
	Verify(ctx context.Context) error

	// Root returns the hash of the most recent entry.
	Root(ctx context.Context) (string, error)
}
