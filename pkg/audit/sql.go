package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/veritas-run/core/pkg/contracts"
)

// sqlAuditWriter is the shared implementation behind SQLiteAuditWriter
// and PostgresAuditWriter. Both drivers speak database/sql, so the
// chain logic, locking, and row mapping live here once; only schema
// placeholder syntax and the open step differ between the two backends.
type sqlAuditWriter struct {
	mu           sync.Mutex
	db           *sql.DB
	executionID  string
	sequence     uint64
	lastHash     string
	placeholder  func(n int) string
	finalizeOnce sync.Once
}

func newSQLAuditWriter(db *sql.DB, executionID string, placeholder func(n int) string) (*sqlAuditWriter, error) {
	w := &sqlAuditWriter{
		db:          db,
		executionID: executionID,
		placeholder: placeholder,
	}
	if err := w.loadChainHead(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *sqlAuditWriter) loadChainHead() error {
	row := w.db.QueryRow(
		fmt.Sprintf(`SELECT sequence, this_hash FROM audit_events WHERE execution_id = %s ORDER BY sequence DESC LIMIT 1`, w.placeholder(1)),
		w.executionID,
	)
	var seq uint64
	var hash string
	switch err := row.Scan(&seq, &hash); err {
	case nil:
		w.sequence = seq + 1
		w.lastHash = hash
	case sql.ErrNoRows:
		w.sequence = 0
		w.lastHash = contracts.GenesisHash
	default:
		return &contracts.AuditWriteError{Reason: fmt.Sprintf("loading chain head: %v", err)}
	}
	return nil
}

func (w *sqlAuditWriter) Write(record contracts.StepRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	// Re-read the head so rows appended by another process (serialized
	// through DistributedLock) are chained onto rather than collided with.
	if err := w.loadChainHead(); err != nil {
		return err
	}

	seq := w.sequence
	prevHash := w.lastHash

	thisHash, err := hashEvent(w.executionID, seq, record, prevHash)
	if err != nil {
		return &contracts.AuditWriteError{Reason: err.Error()}
	}

	recordJSON, err := json.Marshal(record)
	if err != nil {
		return &contracts.AuditWriteError{Reason: err.Error()}
	}

	query := fmt.Sprintf(
		`INSERT INTO audit_events (execution_id, sequence, record, prev_hash, this_hash) VALUES (%s, %s, %s, %s, %s)`,
		w.placeholder(1), w.placeholder(2), w.placeholder(3), w.placeholder(4), w.placeholder(5),
	)
	if _, err := w.db.Exec(query, w.executionID, seq, string(recordJSON), prevHash, thisHash); err != nil {
		return &contracts.AuditWriteError{Reason: fmt.Sprintf("inserting audit event: %v", err)}
	}

	w.sequence++
	w.lastHash = thisHash
	return nil
}

func (w *sqlAuditWriter) Finalize() error {
	var ferr error
	w.finalizeOnce.Do(func() {
		query := fmt.Sprintf(
			`INSERT INTO audit_finalizations (execution_id, finalized_at) VALUES (%s, %s)`,
			w.placeholder(1), w.placeholder(2),
		)
		if _, err := w.db.Exec(query, w.executionID, time.Now().UTC()); err != nil {
			ferr = &contracts.AuditWriteError{Reason: fmt.Sprintf("finalizing chain: %v", err)}
		}
	})
	return ferr
}

func (w *sqlAuditWriter) Events() []contracts.AuditEvent {
	events, err := w.loadEvents()
	if err != nil {
		return nil
	}
	return events
}

func (w *sqlAuditWriter) loadEvents() ([]contracts.AuditEvent, error) {
	query := fmt.Sprintf(
		`SELECT sequence, record, prev_hash, this_hash FROM audit_events WHERE execution_id = %s ORDER BY sequence ASC`,
		w.placeholder(1),
	)
	rows, err := w.db.Query(query, w.executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []contracts.AuditEvent
	for rows.Next() {
		var seq uint64
		var recordJSON, prevHash, thisHash string
		if err := rows.Scan(&seq, &recordJSON, &prevHash, &thisHash); err != nil {
			return nil, err
		}
		var record contracts.StepRecord
		if err := json.Unmarshal([]byte(recordJSON), &record); err != nil {
			return nil, err
		}
		events = append(events, contracts.AuditEvent{
			Sequence:    seq,
			ExecutionId: w.executionID,
			Record:      record,
			PrevHash:    prevHash,
			ThisHash:    thisHash,
		})
	}
	return events, rows.Err()
}

func (w *sqlAuditWriter) VerifyIntegrity() bool {
	events, err := w.loadEvents()
	if err != nil {
		return false
	}
	return verifyChain(w.executionID, events)
}

func (w *sqlAuditWriter) Export() contracts.AuditLog {
	events, err := w.loadEvents()
	if err != nil {
		events = nil
	}
	terminal := ""
	if len(events) > 0 {
		terminal = events[len(events)-1].ThisHash
	}

	var finalizedAt *time.Time
	query := fmt.Sprintf(`SELECT finalized_at FROM audit_finalizations WHERE execution_id = %s`, w.placeholder(1))
	row := w.db.QueryRow(query, w.executionID)
	var t time.Time
	if err := row.Scan(&t); err == nil {
		finalizedAt = &t
	}

	return contracts.AuditLog{
		ExecutionId:  w.executionID,
		Events:       events,
		FinalizedAt:  finalizedAt,
		TerminalHash: terminal,
	}
}
