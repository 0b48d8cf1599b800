package postgres

import (
	"context"
	"errors"
	"testing"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/inventory/internal/domain"
)

var historyColumns = []string{
	"id", "inventory_id", "change_type", "quantity", "before_quantity", "after_quantity", "reason", "reference_id", "created_at",
}

func sampleHistory() *domain.StockHistoryEntry {
	return &domain.StockHistoryEntry{
		ID:             "hist-1",
		InventoryID:    "prod-1",
		ChangeType:     domain.ChangeReserve,
		Quantity:       5,
		BeforeQuantity: 20,
		AfterQuantity:  15,
		Reason:         "stock reserved",
		ReferenceID:    "order-1",
		CreatedAt:      testTime,
	}
}

func TestHistoryRepository_Insert(t *testing.T) {
	mock := newMock(t)
	repo := NewHistoryRepository(mock)

	h := sampleHistory()
	mock.ExpectExec("INSERT INTO stock_history .+ ON CONFLICT \\(id\\) DO NOTHING").
		WithArgs(h.ID, h.InventoryID, h.ChangeType, h.Quantity, h.BeforeQuantity, h.AfterQuantity, h.Reason, h.ReferenceID, h.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Insert(context.Background(), h))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryRepository_Insert_Error(t *testing.T) {
	mock := newMock(t)
	repo := NewHistoryRepository(mock)

	h := sampleHistory()
	mock.ExpectExec("INSERT INTO stock_history").
		WithArgs(h.ID, h.InventoryID, h.ChangeType, h.Quantity, h.BeforeQuantity, h.AfterQuantity, h.Reason, h.ReferenceID, h.CreatedAt).
		WillReturnError(errors.New("disk full"))

	assert.ErrorContains(t, repo.Insert(context.Background(), h), "insert stock history")
}

func TestHistoryRepository_ListByProduct(t *testing.T) {
	mock := newMock(t)
	repo := NewHistoryRepository(mock)

	h := sampleHistory()
	mock.ExpectQuery("SELECT .+ FROM stock_history\\s+WHERE inventory_id = \\$1").
		WithArgs("prod-1", 20).
		WillReturnRows(pgxmock.NewRows(historyColumns).
			AddRow(h.ID, h.InventoryID, string(h.ChangeType), h.Quantity, h.BeforeQuantity, h.AfterQuantity, h.Reason, h.ReferenceID, h.CreatedAt))

	got, err := repo.ListByProduct(context.Background(), "prod-1", 20)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, *h, got[0])
}
