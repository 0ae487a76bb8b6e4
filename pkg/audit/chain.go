// Package audit implements the hash-chained, append-only audit log and its
// pluggable persistence backends.
//
// Every AuditWriter shares the same chain construction: the hash of event
// N commits to the execution id, the dense sequence number, the previous
// event's hash, and the canonical JSON of the step record being appended.
// Backends differ only in where events end up stored.
package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"

	"github.com/veritas-run/core/pkg/contracts"
)

// canonicalRecordBytes serializes record the same way it is committed to
// the chain hash: StepRecord.MarshalJSON fixes the field order (step,
// input, verdict, output, timestamp), matching the field-declaration
// order serde_json::to_vec produces for the original_source Rust struct.
// HTML escaping is disabled so a `<`, `>`, or `&` byte in an agent's
// input or output hashes the same way it does on the Rust side.
func canonicalRecordBytes(record contracts.StepRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(record); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// hashEvent computes the hash for one audit event. The input bytes are,
// in order: the execution id as UTF-8, the sequence number as 8-byte
// little-endian, the previous hash as UTF-8 (64 ASCII hex characters),
// and the canonical JSON of record. Changing the order or encoding of
// any of these breaks every previously-computed chain.
func hashEvent(executionID string, sequence uint64, record contracts.StepRecord, prevHash string) (string, error) {
	canonical, err := canonicalRecordBytes(record)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	h.Write([]byte(executionID))

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], sequence)
	h.Write(seqBuf[:])

	h.Write([]byte(prevHash))
	h.Write(canonical)

	return hex.EncodeToString(h.Sum(nil)), nil
}

// verifyChain recomputes every hash in events and confirms each entry's
// PrevHash matches the running expected hash, starting from the genesis
// hash. It returns false on the first mismatch; an empty chain verifies
// as true.
func verifyChain(executionID string, events []contracts.AuditEvent) bool {
	expectedPrev := contracts.GenesisHash
	for _, ev := range events {
		if ev.PrevHash != expectedPrev {
			return false
		}
		recomputed, err := hashEvent(executionID, ev.Sequence, ev.Record, ev.PrevHash)
		if err != nil || recomputed != ev.ThisHash {
			return false
		}
		expectedPrev = ev.ThisHash
	}
	return true
}
