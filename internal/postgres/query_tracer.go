package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pewsoft/subscriptions/internal/logger"
	"github.com/pewsoft/subscriptions/internal/metrics"
	"github.com/pewsoft/subscriptions/internal/types"
)

const slowQueryThreshold = 250 * time.Millisecond

// TracedQuerier logs and times every statement sent through a Querier
type TracedQuerier struct {
	Querier
	logger *logger.Logger
	txID   string
}

func NewTracedQuerier(q Querier, logger *logger.Logger, txID string) *TracedQuerier {
	return &TracedQuerier{
		Querier: q,
		logger:  logger,
		txID:    txID,
	}
}

// trace starts timing a statement; call the returned func with its error.
// sql.ErrNoRows counts as success since repositories map it to not found.
func (tq *TracedQuerier) trace(ctx context.Context, op, query string) func(error) {
	start := time.Now()
	return func(err error) {
		elapsed := time.Since(start)
		outcome := metrics.OutcomeSuccess
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			outcome = metrics.OutcomeFailure
		}
		metrics.DBQueryDuration.WithLabelValues(op, outcome).Observe(elapsed.Seconds())

		fields := []interface{}{
			"operation", op,
			"duration_ms", elapsed.Milliseconds(),
			"query", query,
		}
		if tq.txID != "" {
			fields = append(fields, "tx_id", tq.txID)
		}
		if tenantID := types.GetTenantID(ctx); tenantID != "" {
			fields = append(fields, "tenant_id", tenantID)
		}

		switch {
		case outcome == metrics.OutcomeFailure:
			tq.logger.Errorw("database query failed", append(fields, "error", err)...)
		case elapsed > slowQueryThreshold:
			tq.logger.Warnw("slow database query", fields...)
		default:
			tq.logger.Debugw("database query completed", fields...)
		}
	}
}

func (tq *TracedQuerier) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	done := tq.trace(ctx, "exec", query)
	result, err := tq.Querier.ExecContext(ctx, query, args...)
	done(err)
	return result, err
}

func (tq *TracedQuerier) NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error) {
	done := tq.trace(ctx, "named_exec", query)
	result, err := tq.Querier.NamedExecContext(ctx, query, arg)
	done(err)
	return result, err
}

func (tq *TracedQuerier) QueryxContext(ctx context.Context, query string, args ...interface{}) (*sqlx.Rows, error) {
	done := tq.trace(ctx, "query", query)
	rows, err := tq.Querier.QueryxContext(ctx, query, args...)
	done(err)
	return rows, err
}

func (tq *TracedQuerier) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	done := tq.trace(ctx, "get", query)
	err := tq.Querier.GetContext(ctx, dest, query, args...)
	done(err)
	return err
}

func (tq *TracedQuerier) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	done := tq.trace(ctx, "select", query)
	err := tq.Querier.SelectContext(ctx, dest, query, args...)
	done(err)
	return err
}
