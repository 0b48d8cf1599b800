package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/database"
)

// Repository persists outbox rows in the outbox_events table. Construct it
// over a pgx.Tx to write rows inside a business transaction, or over the pool
// for the relay.
type Repository struct {
	db database.DBTX
}

func NewRepository(db database.DBTX) *Repository {
	return &Repository{db: db}
}

// Save inserts e.
func (r *Repository) Save(ctx context.Context, e *Event) error {
	query := `
		INSERT INTO outbox_events (id, aggregate_type, aggregate_id, event_type, topic, partition_key, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.Exec(ctx, query,
		e.ID, e.AggregateType, e.AggregateID, e.EventType, e.Topic, e.PartitionKey, e.Payload, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save outbox event %s: %w", e.EventType, err)
	}
	return nil
}

// SaveAll inserts events in order.
func (r *Repository) SaveAll(ctx context.Context, events []*Event) error {
	for _, e := range events {
		if err := r.Save(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// FindUnpublished returns up to limit unpublished rows with fewer than
// maxRetries failures, oldest first.
func (r *Repository) FindUnpublished(ctx context.Context, limit, maxRetries int) ([]Event, error) {
	query := `
		SELECT id, aggregate_type, aggregate_id, event_type, topic, partition_key, payload, created_at, retry_count, last_error
		FROM outbox_events
		WHERE published_at IS NULL AND retry_count < $1
		ORDER BY created_at, id
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, maxRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("find unpublished outbox events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(
			&e.ID, &e.AggregateType, &e.AggregateID, &e.EventType, &e.Topic,
			&e.PartitionKey, &e.Payload, &e.CreatedAt, &e.RetryCount, &e.LastError,
		); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox events: %w", err)
	}
	return out, nil
}

// MarkPublished stamps the row as delivered.
func (r *Repository) MarkPublished(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE outbox_events SET published_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("mark outbox event %s published: %w", id, err)
	}
	return nil
}

// IncrementRetry records a failed publish attempt.
func (r *Repository) IncrementRetry(ctx context.Context, id, lastError string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE outbox_events SET retry_count = retry_count + 1, last_error = $2 WHERE id = $1`,
		id, lastError,
	)
	if err != nil {
		return fmt.Errorf("increment outbox retry %s: %w", id, err)
	}
	return nil
}

// CountStuck counts unpublished rows that reached maxRetries.
func (r *Repository) CountStuck(ctx context.Context, maxRetries int) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM outbox_events WHERE published_at IS NULL AND retry_count >= $1`,
		maxRetries,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count stuck outbox events: %w", err)
	}
	return n, nil
}

// DeletePublishedBefore purges rows published before cutoff.
func (r *Repository) DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM outbox_events WHERE published_at IS NOT NULL AND published_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("purge outbox events: %w", err)
	}
	return tag.RowsAffected(), nil
}
