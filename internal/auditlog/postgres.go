package auditlog

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// advisoryLockKey serialises concurrent appends across registrar instances.
const advisoryLockKey = int64(2_024_311_907)

const entryColumns = `idx, timestamp, operation, action, node_name, certname, actor, success, message, prev_hash, hash`

// PostgresLedger persists the audit chain to the audit_ledger table.
type PostgresLedger struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgres creates a PostgresLedger backed by pool.
func NewPostgres(pool *pgxpool.Pool, logger *zap.Logger) *PostgresLedger {
	return &PostgresLedger{pool: pool, logger: logger}
}

// Append implements Ledger. The tail read and insert run in one transaction
// holding a transaction-scoped advisory lock.
func (l *PostgresLedger) Append(ctx context.Context, ev Event) (*Entry, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	var prevIdx int
	var prevHash string
	if err := tx.QueryRow(ctx,
		"SELECT idx, hash FROM audit_ledger ORDER BY idx DESC LIMIT 1",
	).Scan(&prevIdx, &prevHash); err != nil {
		return nil, fmt.Errorf("read ledger tail: %w", err)
	}

	entry := &Entry{
		Index:     prevIdx + 1,
		Timestamp: time.Now().UTC().Truncate(time.Microsecond), // timestamptz precision
		Event:     ev,
		PrevHash:  prevHash,
	}
	entry.Hash = hashEntry(entry)

	if _, err := tx.Exec(ctx,
		`INSERT INTO audit_ledger (`+entryColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entry.Index, entry.Timestamp, entry.Operation, entry.Action,
		entry.NodeName, entry.Certname, entry.Actor, entry.Success,
		entry.Message, entry.PrevHash, entry.Hash,
	); err != nil {
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit ledger tx: %w", err)
	}

	l.logger.Debug("audit entry appended",
		zap.Int("idx", entry.Index),
		zap.String("operation", entry.Operation),
		zap.String("node", entry.NodeName),
	)
	return entry, nil
}

// Get implements Ledger.
func (l *PostgresLedger) Get(ctx context.Context, index int) (*Entry, error) {
	rows, err := l.pool.Query(ctx, `SELECT `+entryColumns+` FROM audit_ledger WHERE idx = $1`, index)
	if err != nil {
		return nil, fmt.Errorf("get ledger entry %d: %w", index, err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("get ledger entry %d: %w", index, pgx.ErrNoRows)
	}
	return scanEntry(rows)
}

// Len implements Ledger.
func (l *PostgresLedger) Len(ctx context.Context) (int, error) {
	var n int
	if err := l.pool.QueryRow(ctx, "SELECT COUNT(*) FROM audit_ledger").Scan(&n); err != nil {
		return 0, fmt.Errorf("count ledger entries: %w", err)
	}
	return n, nil
}

// Verify implements Ledger. O(n) in ledger length.
func (l *PostgresLedger) Verify(ctx context.Context) error {
	rows, err := l.pool.Query(ctx, `SELECT `+entryColumns+` FROM audit_ledger ORDER BY idx ASC`)
	if err != nil {
		return fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var prev *Entry
	for rows.Next() {
		curr, err := scanEntry(rows)
		if err != nil {
			return err
		}
		if err := verifyChain(prev, curr); err != nil {
			return err
		}
		prev = curr
	}
	return rows.Err()
}

// Root implements Ledger.
func (l *PostgresLedger) Root(ctx context.Context) (string, error) {
	var hash string
	if err := l.pool.QueryRow(ctx,
		"SELECT hash FROM audit_ledger ORDER BY idx DESC LIMIT 1",
	).Scan(&hash); err != nil {
		return "", fmt.Errorf("get ledger root: %w", err)
	}
	return hash, nil
}

func scanEntry(rows pgx.Rows) (*Entry, error) {
	e := &Entry{}
	if err := rows.Scan(
		&e.Index, &e.Timestamp, &e.Operation, &e.Action,
		&e.NodeName, &e.Certname, &e.Actor, &e.Success,
		&e.Message, &e.PrevHash, &e.Hash,
	); err != nil {
		return nil, fmt.Errorf("scan ledger row: %w", err)
	}
	return e, nil
}
