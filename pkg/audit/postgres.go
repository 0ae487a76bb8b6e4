package audit

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/veritas-run/core/pkg/contracts"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS audit_events (
	execution_id TEXT NOT NULL,
	sequence     BIGINT NOT NULL,
	record       TEXT NOT NULL,
	prev_hash    TEXT NOT NULL,
	this_hash    TEXT NOT NULL,
	UNIQUE(execution_id, sequence)
);

CREATE TABLE IF NOT EXISTS audit_finalizations (
	execution_id TEXT PRIMARY KEY,
	finalized_at TIMESTAMPTZ NOT NULL
);
`

// PostgresAuditWriter is a durable AuditWriter for hosts that run one
// shared Postgres instance across multiple Executor processes. Combine
// it with DistributedLock when those processes may write to the same
// execution id concurrently.
type PostgresAuditWriter struct {
	*sqlAuditWriter
}

// OpenPostgresAuditWriter opens (and if necessary creates) the audit
// schema against connStr, then returns a writer bound to executionID.
func OpenPostgresAuditWriter(connStr string, executionID string) (*PostgresAuditWriter, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, &contracts.ConfigError{Reason: fmt.Sprintf("opening postgres audit store: %v", err)}
	}
	if _, err := db.Exec(postgresSchema); err != nil {
		return nil, &contracts.ConfigError{Reason: fmt.Sprintf("creating postgres audit schema: %v", err)}
	}

	inner, err := newSQLAuditWriter(db, executionID, func(n int) string { return fmt.Sprintf("$%d", n) })
	if err != nil {
		return nil, err
	}
	return &PostgresAuditWriter{sqlAuditWriter: inner}, nil
}

var _ contracts.AuditWriter = (*PostgresAuditWriter)(nil)
