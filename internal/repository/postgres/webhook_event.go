package postgres

import (
	"context"
	"time"

	"github.com/pewsoft/subscriptions/internal/domain/webhookevent"
	ierr "github.com/pewsoft/subscriptions/internal/errors"
	"github.com/pewsoft/subscriptions/internal/logger"
	"github.com/pewsoft/subscriptions/internal/postgres"
	"github.com/pewsoft/subscriptions/internal/types"
)

type webhookEventRepository struct {
	db  *postgres.DB
	log *logger.Logger
}

func NewWebhookEventRepository(db *postgres.DB, log *logger.Logger) webhookevent.Repository {
	return &webhookEventRepository{db: db, log: log}
}

func (r *webhookEventRepository) MarkProcessed(ctx context.Context, event *webhookevent.ProcessedEvent) (bool, error) {
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO processed_webhook_events (provider, event_id, event_type, tenant_id, received_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (provider, event_id) DO NOTHING`

	result, err := r.db.GetQuerier(ctx).ExecContext(ctx, query,
		event.Provider, event.EventID, event.EventType, event.TenantID, event.ReceivedAt)
	if err != nil {
		return false, ierr.WithError(err).
			WithHint("Failed to record webhook event").
			WithReportableDetails(map[string]any{
				"provider": event.Provider,
				"event_id": event.EventID,
			}).
			Mark(ierr.ErrDatabase)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, ierr.WithError(err).WithHint("Failed to record webhook event").Mark(ierr.ErrDatabase)
	}
	return rows == 1, nil
}

func (r *webhookEventRepository) Exists(ctx context.Context, provider types.PaymentProvider, eventID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM processed_webhook_events WHERE provider = $1 AND event_id = $2)`
	if err := r.db.GetQuerier(ctx).GetContext(ctx, &exists, query, provider, eventID); err != nil {
		return false, ierr.WithError(err).
			WithHint("Failed to look up webhook event").
			Mark(ierr.ErrDatabase)
	}
	return exists, nil
}
