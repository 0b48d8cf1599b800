package database

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/errors"
)

const tracerName = "github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/database"

// Query outcomes. A missing row is an ordinary answer for lookups and does
// not mark the span as failed; a lost optimistic race does not either.
const (
	OutcomeOK        = "ok"
	OutcomeNoRows    = "no_rows"
	OutcomeConflict  = "conflict"
	OutcomeDuplicate = "duplicate"
	OutcomeError     = "error"
)

var queryDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Duration of traced database operations.",
		Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	},
	[]string{"operation", "outcome"},
)

type slowQueryConfig struct {
	threshold time.Duration
	logger    *slog.Logger
}

var slowQueries atomic.Pointer[slowQueryConfig]

// SetSlowQueryLogging logs operations slower than threshold as warnings. A
// zero threshold or nil logger disables it.
func SetSlowQueryLogging(threshold time.Duration, logger *slog.Logger) {
	slowQueries.Store(&slowQueryConfig{threshold: threshold, logger: logger})
}

// Outcome classifies the error returned by a database operation.
func Outcome(err error) string {
	var pgErr *pgconn.PgError
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, pgx.ErrNoRows):
		return OutcomeNoRows
	case IsUniqueViolation(err):
		return OutcomeDuplicate
	case errors.As(err, &pgErr) && pgErr.Code == "40001":
		return OutcomeConflict
	case errors.Is(err, apperrors.ErrVersionConflict):
		return OutcomeConflict
	default:
		return OutcomeError
	}
}

// TraceQuery starts a client span for a database operation and returns the
// function that ends it:
//
//	ctx, end := database.TraceQuery(ctx, "ReserveStock", reserveSQL)
//	defer func() { end(err) }()
//
// The end function also observes db_query_duration_seconds and reports slow
// operations when SetSlowQueryLogging is on.
func TraceQuery(ctx context.Context, operation, statement string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "db."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", operation),
			attribute.String("db.statement", statement),
		),
	)

	return ctx, func(err error) {
		elapsed := time.Since(start)
		outcome := Outcome(err)
		span.SetAttributes(attribute.String("db.outcome", outcome))
		if outcome == OutcomeError || outcome == OutcomeDuplicate {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		queryDuration.WithLabelValues(operation, outcome).Observe(elapsed.Seconds())

		cfg := slowQueries.Load()
		if cfg == nil || cfg.threshold <= 0 || cfg.logger == nil || elapsed < cfg.threshold {
			return
		}
		attrs := []any{
			slog.String("operation", operation),
			slog.String("statement", statement),
			slog.Duration("duration", elapsed),
			slog.String("outcome", outcome),
		}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		cfg.logger.WarnContext(ctx, "slow query detected", attrs...)
	}
}
