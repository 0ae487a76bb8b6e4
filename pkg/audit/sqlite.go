package audit

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/veritas-run/core/pkg/contracts"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS audit_events (
	execution_id TEXT NOT NULL,
	sequence     INTEGER NOT NULL,
	record       TEXT NOT NULL,
	prev_hash    TEXT NOT NULL,
	this_hash    TEXT NOT NULL,
	UNIQUE(execution_id, sequence)
);

CREATE TABLE IF NOT EXISTS audit_finalizations (
	execution_id TEXT PRIMARY KEY,
	finalized_at TIMESTAMP NOT NULL
);
`

// SQLiteAuditWriter is a durable AuditWriter backed by a modernc.org/sqlite
// database. It satisfies the same contracts.AuditWriter interface as
// InMemoryAuditWriter and implements the identical hash-chain
// construction; only persistence mechanics differ.
type SQLiteAuditWriter struct {
	*sqlAuditWriter
}

// OpenSQLiteAuditWriter opens (and if necessary creates) the audit
// schema in dsn, then returns a writer bound to executionID.
func OpenSQLiteAuditWriter(dsn string, executionID string) (*SQLiteAuditWriter, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &contracts.ConfigError{Reason: fmt.Sprintf("opening sqlite audit store: %v", err)}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, &contracts.ConfigError{Reason: fmt.Sprintf("creating sqlite audit schema: %v", err)}
	}

	inner, err := newSQLAuditWriter(db, executionID, func(n int) string { return "?" })
	if err != nil {
		return nil, err
	}
	return &SQLiteAuditWriter{sqlAuditWriter: inner}, nil
}

var _ contracts.AuditWriter = (*SQLiteAuditWriter)(nil)
