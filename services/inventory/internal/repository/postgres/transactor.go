package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/database"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/inventory/internal/repository"
)

// Transactor binds the ledger, reservation and settlement repositories to one
// pgx transaction.
type Transactor struct {
	db database.TxStarter
}

func NewTransactor(db database.TxStarter) *Transactor {
	return &Transactor{db: db}
}

func (t *Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context, s repository.Stores) error) error {
	return database.WithTx(ctx, t.db, func(tx pgx.Tx) error {
		return fn(ctx, repository.Stores{
			Ledger:       NewLedgerRepository(tx),
			Reservations: NewReservationRepository(tx),
			Settlements:  NewSettlementRepository(tx),
		})
	})
}
