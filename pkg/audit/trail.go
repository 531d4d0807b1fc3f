// Package audit keeps the immutable record of what the enforcement engine
// decided and why: a hash-chained, append-only trail per contract, plus
// canonical export for external compliance tooling.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gowebpki/jcs"
)

// EntryKind categorizes trail entries.
type EntryKind string

const (
	KindTransition  EntryKind = "TRANSITION"
	KindConsumption EntryKind = "CONSUMPTION"
	KindViolation   EntryKind = "VIOLATION"
)

// Entry is an immutable, hash-chained trail record.
type Entry struct {
	Sequence    uint64         `json:"sequence"`
	Kind        EntryKind      `json:"kind"`
	ContentHash string         `json:"content_hash"`
	PrevHash    string         `json:"prev_hash"`
	Timestamp   time.Time      `json:"timestamp"`
	Data        map[string]any `json:"data"`
}

// Trail is the append-only audit log for one contract. Entries are
// hash-chained to their predecessor; nothing is ever mutated or removed.
type Trail struct {
	mu         sync.RWMutex
	contractID string
	entries    []Entry
	headHash   string
	clock      func() time.Time
}

// NewTrail creates an empty trail for a contract.
func NewTrail(contractID string) *Trail {
	return &Trail{
		contractID: contractID,
		headHash:   "genesis",
		clock:      time.Now,
	}
}

// WithClock overrides the clock for testing.
func (t *Trail) WithClock(clock func() time.Time) *Trail {
	t.clock = clock
	return t
}

// ContractID returns the owning contract's id.
func (t *Trail) ContractID() string { return t.contractID }

// Append adds an entry and returns its sequence number. The content hash is
// computed over the RFC 8785 canonical form so verification is independent of
// map iteration order.
func (t *Trail) Append(kind EntryKind, data map[string]any) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	seq := uint64(len(t.entries)) + 1
	contentHash, err := entryHash(seq, kind, data, t.headHash)
	if err != nil {
		return 0, err
	}

	t.entries = append(t.entries, Entry{
		Sequence:    seq,
		Kind:        kind,
		ContentHash: contentHash,
		PrevHash:    t.headHash,
		Timestamp:   t.clock(),
		Data:        data,
	})
	t.headHash = contentHash
	return seq, nil
}

// Head returns the current head hash.
func (t *Trail) Head() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.headHash
}

// Length returns the number of entries.
func (t *Trail) Length() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Entries returns a copy of the trail.
func (t *Trail) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Verify walks the chain and recomputes every content hash. Returns false
// with a description of the first break found.
func (t *Trail) Verify() (bool, string) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	prevHash := "genesis"
	for i, e := range t.entries {
		if e.PrevHash != prevHash {
			return false, fmt.Sprintf("chain broken at entry %d: expected prev %s, got %s", i+1, prevHash, e.PrevHash)
		}
		computed, err := entryHash(e.Sequence, e.Kind, e.Data, e.PrevHash)
		if err != nil {
			return false, fmt.Sprintf("failed to hash entry %d: %v", i+1, err)
		}
		if computed != e.ContentHash {
			return false, fmt.Sprintf("hash mismatch at entry %d", i+1)
		}
		prevHash = e.ContentHash
	}
	return true, "chain verified"
}

func entryHash(seq uint64, kind EntryKind, data map[string]any, prevHash string) (string, error) {
	hashInput := struct {
		Seq  uint64         `json:"seq"`
		Kind EntryKind      `json:"kind"`
		Data map[string]any `json:"data"`
		Prev string         `json:"prev"`
	}{seq, kind, data, prevHash}

	raw, err := json.Marshal(hashInput)
	if err != nil {
		return "", fmt.Errorf("audit: failed to marshal entry: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("audit: canonicalization failed: %w", err)
	}
	h := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(h[:]), nil
}
