package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore implements Store on PostgreSQL. The caller owns the *sql.DB
// (driver registration included; see cmd/covenant for the lib/pq import).
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open connection pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS contract_records (
	contract_id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	version TEXT NOT NULL,
	state TEXT NOT NULL,
	has_violations BOOLEAN NOT NULL DEFAULT FALSE,
	usage JSONB NOT NULL,
	violations JSONB,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_contract_records_updated ON contract_records(updated_at);
`

// Init creates the necessary tables.
func (s *PostgresStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, postgresSchema)
	return err
}

func (s *PostgresStore) Save(ctx context.Context, rec *Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	usageJSON, violationsJSON, err := marshalRecord(rec)
	if err != nil {
		return err
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO contract_records (contract_id, name, version, state, has_violations, usage, violations, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (contract_id) DO UPDATE SET
			name = EXCLUDED.name,
			version = EXCLUDED.version,
			state = EXCLUDED.state,
			has_violations = EXCLUDED.has_violations,
			usage = EXCLUDED.usage,
			violations = EXCLUDED.violations,
			updated_at = EXCLUDED.updated_at
	`, rec.ContractID, rec.Name, rec.Version, rec.State, rec.HasViolations, usageJSON, violationsJSON, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: failed to save record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, contractID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT contract_id, name, version, state, has_violations, usage, violations, updated_at
		FROM contract_records WHERE contract_id = $1
	`, contractID)
	return scanRecord(row)
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT contract_id, name, version, state, has_violations, usage, violations, updated_at
		FROM contract_records ORDER BY updated_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
