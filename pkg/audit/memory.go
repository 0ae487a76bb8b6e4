package audit

import (
	"log/slog"
	"sync"
	"time"

	"github.com/veritas-run/core/pkg/contracts"
)

// InMemoryAuditWriter is the reference AuditWriter: a process-local,
// mutex-guarded chain with no external dependency. It is the default
// backend for executions that do not need durability across restarts.
type InMemoryAuditWriter struct {
	mu           sync.RWMutex
	executionID  string
	events       []contracts.AuditEvent
	sequence     uint64
	lastHash     string
	finalizedAt  *time.Time
	finalizeOnce sync.Once
	logger       *slog.Logger
}

// NewInMemoryAuditWriter creates a writer for one execution, seeded with
// the genesis hash.
func NewInMemoryAuditWriter(executionID string) *InMemoryAuditWriter {
	return &InMemoryAuditWriter{
		executionID: executionID,
		lastHash:    contracts.GenesisHash,
		logger:      slog.Default().With("component", "audit", "execution_id", executionID),
	}
}

// Write appends record to the chain. The entire read of lastHash,
// computation of the new hash, append, and advance of lastHash happens
// under one exclusive lock so concurrent writers can never interleave a
// hash computation with another writer's append.
func (w *InMemoryAuditWriter) Write(record contracts.StepRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	seq := w.sequence
	prevHash := w.lastHash

	thisHash, err := hashEvent(w.executionID, seq, record, prevHash)
	if err != nil {
		return &contracts.AuditWriteError{Reason: err.Error()}
	}

	w.events = append(w.events, contracts.AuditEvent{
		Sequence:    seq,
		ExecutionId: w.executionID,
		Record:      record,
		PrevHash:    prevHash,
		ThisHash:    thisHash,
	})
	w.sequence++
	w.lastHash = thisHash

	w.logger.Debug("audit event appended", "sequence", seq, "step", record.Step)
	return nil
}

// Finalize marks the chain complete. Idempotent: a second call is a
// no-op.
func (w *InMemoryAuditWriter) Finalize() error {
	w.finalizeOnce.Do(func() {
		w.mu.Lock()
		now := time.Now().UTC()
		w.finalizedAt = &now
		count := len(w.events)
		terminal := w.lastHash
		w.mu.Unlock()
		w.logger.Info("audit chain finalized", "event_count", count, "terminal_hash", terminal)
	})
	return nil
}

// Events returns a copy of every event written so far, in sequence order.
func (w *InMemoryAuditWriter) Events() []contracts.AuditEvent {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]contracts.AuditEvent, len(w.events))
	copy(out, w.events)
	return out
}

// VerifyIntegrity recomputes the entire chain from the genesis hash.
func (w *InMemoryAuditWriter) VerifyIntegrity() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return verifyChain(w.executionID, w.events)
}

// Export returns a snapshot of the chain for a third party.
func (w *InMemoryAuditWriter) Export() contracts.AuditLog {
	w.mu.RLock()
	defer w.mu.RUnlock()

	terminal := ""
	if len(w.events) > 0 {
		terminal = w.events[len(w.events)-1].ThisHash
	}

	events := make([]contracts.AuditEvent, len(w.events))
	copy(events, w.events)

	return contracts.AuditLog{
		ExecutionId:  w.executionID,
		Events:       events,
		FinalizedAt:  w.finalizedAt,
		TerminalHash: terminal,
	}
}
