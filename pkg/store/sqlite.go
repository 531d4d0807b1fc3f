package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on an embedded SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps db and runs migrations.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS contract_records (
		contract_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		version TEXT NOT NULL,
		state TEXT NOT NULL,
		has_violations INTEGER NOT NULL DEFAULT 0,
		usage JSON NOT NULL,
		violations JSON,
		updated_at DATETIME NOT NULL
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteStore) Save(ctx context.Context, rec *Record) error {
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(contract_id) DO UPDATE SET
			name = excluded.name,
			version = excluded.version,
			state = excluded.state,
			has_violations = excluded.has_violations,
			usage = excluded.usage,
			violations = excluded.violations,
			updated_at = excluded.updated_at
	`, rec.ContractID, rec.Name, rec.Version, rec.State, rec.HasViolations, usageJSON, violationsJSON, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: failed to save record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, contractID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT contract_id, name, version, state, has_violations, usage, violations, updated_at
		FROM contract_records WHERE contract_id = ?
	`, contractID)
	return scanRecord(row)
}

func (s *SQLiteStore) List(ctx context.Context, limit int) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT contract_id, name, version, state, has_violations, usage, violations, updated_at
		FROM contract_records ORDER BY updated_at DESC LIMIT ?
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

type rowScanner interface {
	Scan(dest ...any) error
}

func marshalRecord(rec *Record) (usageJSON, violationsJSON []byte, err error) {
	usageJSON, err = json.Marshal(rec.Usage)
	if err != nil {
		return nil, nil, fmt.Errorf("store: failed to marshal usage: %w", err)
	}
	if rec.Violations != nil {
		violationsJSON, err = json.Marshal(rec.Violations)
		if err != nil {
			return nil, nil, fmt.Errorf("store: failed to marshal violations: %w", err)
		}
	}
	return usageJSON, violationsJSON, nil
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var usageJSON []byte
	var violationsJSON []byte
	err := row.Scan(&rec.ContractID, &rec.Name, &rec.Version, &rec.State,
		&rec.HasViolations, &usageJSON, &violationsJSON, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan failed: %w", err)
	}
	if err := json.Unmarshal(usageJSON, &rec.Usage); err != nil {
		return nil, fmt.Errorf("store: failed to unmarshal usage: %w", err)
	}
	if len(violationsJSON) > 0 {
		if err := json.Unmarshal(violationsJSON, &rec.Violations); err != nil {
			return nil, fmt.Errorf("store: failed to unmarshal violations: %w", err)
		}
	}
	if rec.Usage.Counters == nil {
		rec.Usage.Counters = map[string]int64{}
	}
	return &rec, nil
}
