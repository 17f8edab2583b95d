package postgres

import (
	"context"

	"github.com/pewsoft/subscriptions/internal/logger"
	sentryService "github.com/pewsoft/subscriptions/internal/sentry"
	"github.com/pewsoft/subscriptions/internal/types"
)

// SentryClient reports each outermost transaction as a sentry span
type SentryClient struct {
	client IClient
	sentry *sentryService.Service
	logger *logger.Logger
}

// NewClient returns the transaction boundary used by services
func NewClient(db *DB, sentry *sentryService.Service, logger *logger.Logger) IClient {
	return &SentryClient{
		client: db,
		sentry: sentry,
		logger: logger,
	}
}

func (c *SentryClient) WithTx(ctx context.Context, fn func(context.Context) error) error {
	// savepoints are already covered by the outer span
	if _, nested := GetTx(ctx); nested {
		return c.client.WithTx(ctx, fn)
	}

	span, spanCtx := c.sentry.StartDBSpan(ctx, "postgres.transaction", map[string]interface{}{
		"tenant_id":  types.GetTenantID(ctx),
		"actor_type": string(types.GetActorType(ctx)),
		"request_id": types.GetRequestID(ctx),
	})
	if span == nil {
		return c.client.WithTx(ctx, fn)
	}
	defer span.Finish()

	err := c.client.WithTx(spanCtx, fn)
	if err != nil {
		span.SetData("error", err.Error())
	}
	return err
}
