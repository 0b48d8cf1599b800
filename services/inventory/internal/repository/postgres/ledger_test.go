package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/database"
	apperrors "github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/errors"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/inventory/internal/domain"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

var ledgerColumns = []string{
	"product_id", "available", "reserved", "total", "version", "created_at", "updated_at",
}

var testTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func sampleLedger() *domain.StockLedgerEntry {
	return &domain.StockLedgerEntry{
		ProductID: "prod-1",
		Available: 15,
		Reserved:  5,
		Total:     20,
		Version:   3,
		CreatedAt: testTime,
		UpdatedAt: testTime,
	}
}

// ---------------------------------------------------------------------------
// Get
// ---------------------------------------------------------------------------

func TestLedgerRepository_Get_Success(t *testing.T) {
	mock := newMock(t)
	repo := NewLedgerRepository(mock)

	e := sampleLedger()
	mock.ExpectQuery("SELECT .+ FROM stock_ledger WHERE product_id").
		WithArgs("prod-1").
		WillReturnRows(pgxmock.NewRows(ledgerColumns).
			AddRow(e.ProductID, e.Available, e.Reserved, e.Total, e.Version, e.CreatedAt, e.UpdatedAt))

	got, err := repo.Get(context.Background(), "prod-1")
	require.NoError(t, err)
	assert.Equal(t, e, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepository_Get_NotFound(t *testing.T) {
	mock := newMock(t)
	repo := NewLedgerRepository(mock)

	mock.ExpectQuery("SELECT .+ FROM stock_ledger").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepository_Get_DBError(t *testing.T) {
	mock := newMock(t)
	repo := NewLedgerRepository(mock)

	mock.ExpectQuery("SELECT .+ FROM stock_ledger").
		WithArgs("prod-1").
		WillReturnError(errors.New("connection reset"))

	_, err := repo.Get(context.Background(), "prod-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, apperrors.ErrNotFound)
	assert.Contains(t, err.Error(), "connection reset")
}

// ---------------------------------------------------------------------------
// Create
// ---------------------------------------------------------------------------

func TestLedgerRepository_Create_Success(t *testing.T) {
	mock := newMock(t)
	repo := NewLedgerRepository(mock)

	e := sampleLedger()
	mock.ExpectExec("INSERT INTO stock_ledger").
		WithArgs(e.ProductID, e.Available, e.Reserved, e.Total, e.Version, e.CreatedAt, e.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Create(context.Background(), e))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepository_Create_Duplicate(t *testing.T) {
	mock := newMock(t)
	repo := NewLedgerRepository(mock)

	e := sampleLedger()
	mock.ExpectExec("INSERT INTO stock_ledger").
		WithArgs(e.ProductID, e.Available, e.Reserved, e.Total, e.Version, e.CreatedAt, e.UpdatedAt).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := repo.Create(context.Background(), e)
	assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)
}

// ---------------------------------------------------------------------------
// UpdateIfVersion
// ---------------------------------------------------------------------------

func TestLedgerRepository_UpdateIfVersion_Applied(t *testing.T) {
	mock := newMock(t)
	repo := NewLedgerRepository(mock)

	e := sampleLedger()
	mock.ExpectExec("UPDATE stock_ledger .+ WHERE product_id = \\$1 AND version = \\$6").
		WithArgs(e.ProductID, e.Available, e.Reserved, e.Total, e.UpdatedAt, int64(3)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	ok, err := repo.UpdateIfVersion(context.Background(), e, 3)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(4), e.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepository_UpdateIfVersion_StaleVersion(t *testing.T) {
	mock := newMock(t)
	repo := NewLedgerRepository(mock)

	e := sampleLedger()
	mock.ExpectExec("UPDATE stock_ledger").
		WithArgs(e.ProductID, e.Available, e.Reserved, e.Total, e.UpdatedAt, int64(3)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := repo.UpdateIfVersion(context.Background(), e, 3)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(3), e.Version, "version untouched on mismatch")
}

func TestLedgerRepository_UpdateIfVersion_DBError(t *testing.T) {
	mock := newMock(t)
	repo := NewLedgerRepository(mock)

	e := sampleLedger()
	mock.ExpectExec("UPDATE stock_ledger").
		WithArgs(e.ProductID, e.Available, e.Reserved, e.Total, e.UpdatedAt, int64(3)).
		WillReturnError(errors.New("deadlock detected"))

	ok, err := repo.UpdateIfVersion(context.Background(), e, 3)
	require.Error(t, err)
	assert.False(t, ok)
}
