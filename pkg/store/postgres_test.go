package store

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covenant-labs/covenant/core/pkg/ledger"
)

func TestPostgresStore_Save(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresStore(db)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO contract_records")).
		WithArgs("c-1", "research-task", "1.0.0", "FULFILLED", false,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = s.Save(ctx, &Record{
		ContractID: "c-1",
		Name:       "research-task",
		Version:    "1.0.0",
		State:      "FULFILLED",
		Usage: ledger.Usage{
			Counters:  map[string]int64{ledger.DimTokens: 700},
			StartedAt: time.Now().UTC(),
		},
		UpdatedAt: time.Now().UTC(),
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveRejectsEmptyID(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresStore(db)
	err = s.Save(context.Background(), &Record{Name: "nameless"})
	assert.ErrorIs(t, err, ErrEmptyContractID)
}

func TestPostgresStore_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresStore(db)
	ctx := context.Background()

	usage, err := json.Marshal(ledger.Usage{Counters: map[string]int64{ledger.DimTokens: 1100}})
	require.NoError(t, err)
	violations, err := json.Marshal([]ledger.Violation{{
		ID: "v-1", Dimension: ledger.DimTokens, Budgeted: 1000, Actual: 1100,
	}})
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{
		"contract_id", "name", "version", "state", "has_violations", "usage", "violations", "updated_at",
	}).AddRow("c-1", "research-task", "1.1.0", "VIOLATED", true, usage, violations, time.Now())

	mock.ExpectQuery(regexp.QuoteMeta("SELECT contract_id, name, version, state, has_violations, usage, violations, updated_at")).
		WithArgs("c-1").
		WillReturnRows(rows)

	rec, err := s.Get(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, "c-1", rec.ContractID)
	assert.Equal(t, "VIOLATED", rec.State)
	assert.True(t, rec.HasViolations)
	assert.Equal(t, int64(1100), rec.Usage.Counters[ledger.DimTokens])
	require.Len(t, rec.Violations, 1)
	assert.Equal(t, int64(1000), rec.Violations[0].Budgeted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresStore(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT contract_id")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{
			"contract_id", "name", "version", "state", "has_violations", "usage", "violations", "updated_at",
		}))

	_, err = s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_List(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresStore(db)

	usage, err := json.Marshal(ledger.Usage{Counters: map[string]int64{}})
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{
		"contract_id", "name", "version", "state", "has_violations", "usage", "violations", "updated_at",
	}).
		AddRow("c-2", "later", "1.0.0", "ACTIVE", false, usage, nil, time.Now()).
		AddRow("c-1", "earlier", "1.0.0", "FULFILLED", false, usage, nil, time.Now().Add(-time.Hour))

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY updated_at DESC LIMIT $1")).
		WithArgs(10).
		WillReturnRows(rows)

	records, err := s.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "c-2", records[0].ContractID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
