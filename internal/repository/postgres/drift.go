package postgres

import (
	"context"

	"github.com/pewsoft/subscriptions/internal/domain/drift"
	ierr "github.com/pewsoft/subscriptions/internal/errors"
	"github.com/pewsoft/subscriptions/internal/logger"
	"github.com/pewsoft/subscriptions/internal/postgres"
	"github.com/pewsoft/subscriptions/internal/types"
)

const defaultDriftLimit = 500

type driftRepository struct {
	db  *postgres.DB
	log *logger.Logger
}

func NewDriftRepository(db *postgres.DB, log *logger.Logger) drift.Repository {
	return &driftRepository{db: db, log: log}
}

func (r *driftRepository) IntentsWithoutDonation(ctx context.Context, filter drift.Filter) ([]*drift.IntentWithoutDonation, error) {
	query := `
		SELECT pi.id AS payment_intent_id, pi.tenant_id, pi.provider, pi.provider_ref,
			pi.amount_minor, pi.currency, pi.created_at
		FROM payment_intents pi
		WHERE pi.status = $1
			AND ($2 = '' OR pi.tenant_id = $2)
			AND NOT EXISTS (
				SELECT 1 FROM donations d
				WHERE (d.payment_intent_id = pi.id OR d.id = pi.donation_id)
					AND d.status = $3
			)
		ORDER BY pi.created_at DESC
		LIMIT $4`

	var rows []*drift.IntentWithoutDonation
	if err := r.db.GetQuerier(ctx).SelectContext(ctx, &rows, query,
		types.PaymentIntentStatusSucceeded, filter.TenantID, types.DonationStatusCompleted, limitOrDefault(filter.Limit)); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to load payment intents without donations").
			Mark(ierr.ErrDatabase)
	}
	return rows, nil
}

func (r *driftRepository) DonationsWithoutIntent(ctx context.Context, filter drift.Filter) ([]*drift.DonationWithoutIntent, error) {
	query := `
		SELECT d.id AS donation_id, d.tenant_id, d.payment_intent_id, d.amount_minor, d.currency, d.created_at
		FROM donations d
		WHERE d.status = $1
			AND ($2 = '' OR d.tenant_id = $2)
			AND NOT EXISTS (
				SELECT 1 FROM payment_intents pi
				WHERE (pi.id = d.payment_intent_id OR pi.donation_id = d.id)
					AND pi.status = $3
			)
		ORDER BY d.created_at DESC
		LIMIT $4`

	var rows []*drift.DonationWithoutIntent
	if err := r.db.GetQuerier(ctx).SelectContext(ctx, &rows, query,
		types.DonationStatusCompleted, filter.TenantID, types.PaymentIntentStatusSucceeded, limitOrDefault(filter.Limit)); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to load donations without payment intents").
			Mark(ierr.ErrDatabase)
	}
	return rows, nil
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return defaultDriftLimit
	}
	return limit
}
