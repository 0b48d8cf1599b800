package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/inventory/internal/domain"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/inventory/internal/repository"
)

const (
	defaultHistoryAttempts = 3
	defaultHistoryBackoff  = 100 * time.Millisecond
	defaultHistoryLimit    = 50
	maxHistoryLimit        = 500
)

// HistoryRecorder writes stock history after the ledger change has committed.
// A failed write is retried and then logged; it never fails the caller.
type HistoryRecorder struct {
	repo     repository.HistoryRepository
	logger   *slog.Logger
	attempts int
	backoff  time.Duration
	now      func() time.Time
}

// NewHistoryRecorder creates a recorder with 3 attempts and linear backoff.
func NewHistoryRecorder(repo repository.HistoryRepository, logger *slog.Logger) *HistoryRecorder {
	return &HistoryRecorder{
		repo:     repo,
		logger:   logger,
		attempts: defaultHistoryAttempts,
		backoff:  defaultHistoryBackoff,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Record appends the entry for one applied mutation. It runs detached from
// ctx cancellation since the ledger change it describes is already durable.
func (h *HistoryRecorder) Record(ctx context.Context, productID string, m domain.Mutation, referenceID string) {
	ctx = context.WithoutCancel(ctx)
	entry := &domain.StockHistoryEntry{
		ID:             uuid.New().String(),
		InventoryID:    productID,
		ChangeType:     m.ChangeType,
		Quantity:       m.Quantity,
		BeforeQuantity: m.Before,
		AfterQuantity:  m.After,
		Reason:         m.Reason,
		ReferenceID:    referenceID,
		CreatedAt:      h.now(),
	}

	var err error
	for attempt := 1; attempt <= h.attempts; attempt++ {
		if err = h.repo.Insert(ctx, entry); err == nil {
			return
		}
		if attempt < h.attempts {
			time.Sleep(time.Duration(attempt) * h.backoff)
		}
	}

	historyWriteFailures.Inc()
	h.logger.ErrorContext(ctx, "failed to record stock history",
		slog.String("product_id", productID),
		slog.String("change_type", string(m.ChangeType)),
		slog.Int("quantity", m.Quantity),
		slog.String("reference_id", referenceID),
		slog.String("error", err.Error()),
	)
}

// List returns the newest history entries of a product.
func (h *HistoryRecorder) List(ctx context.Context, productID string, limit int) ([]domain.StockHistoryEntry, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	limit = min(limit, maxHistoryLimit)
	return h.repo.ListByProduct(ctx, productID, limit)
}
