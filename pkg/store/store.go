// Package store persists contract snapshots (final state, usage counters,
// and violation records) for replay and compliance queries. Backends:
// in-memory, SQLite, and Postgres.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/covenant-labs/covenant/core/pkg/ledger"
)

var (
	// ErrNotFound is returned when no record exists for the contract id.
	ErrNotFound = errors.New("store: contract record not found")
	// ErrEmptyContractID is returned when a record has no contract id.
	ErrEmptyContractID = errors.New("store: contract_id must not be empty")
)

// Record is one persisted contract snapshot. Saved on every state change by
// callers that want durability; the latest write wins.
type Record struct {
	ContractID    string             `json:"contract_id"`
	Name          string             `json:"name"`
	Version       string             `json:"version"`
	State         string             `json:"state"`
	HasViolations bool               `json:"has_violations"`
	Usage         ledger.Usage       `json:"usage"`
	Violations    []ledger.Violation `json:"violations,omitempty"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// Validate checks required fields.
func (r *Record) Validate() error {
	if r.ContractID == "" {
		return ErrEmptyContractID
	}
	return nil
}

// Store is the persistence interface for contract snapshots.
type Store interface {
	// Save upserts a record keyed by contract id.
	Save(ctx context.Context, rec *Record) error

	// Get retrieves the latest snapshot for a contract.
	Get(ctx context.Context, contractID string) (*Record, error)

	// List returns up to limit records, most recently updated first.
	List(ctx context.Context, limit int) ([]*Record, error)
}
