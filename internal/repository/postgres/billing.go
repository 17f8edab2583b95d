package postgres

import (
	"context"

	"github.com/pewsoft/subscriptions/internal/domain/billing"
	ierr "github.com/pewsoft/subscriptions/internal/errors"
	"github.com/pewsoft/subscriptions/internal/logger"
	"github.com/pewsoft/subscriptions/internal/postgres"
	"github.com/pewsoft/subscriptions/internal/types"
)

type billingRepository struct {
	db  *postgres.DB
	log *logger.Logger
}

func NewBillingRepository(db *postgres.DB, log *logger.Logger) billing.Repository {
	return &billingRepository{db: db, log: log}
}

// upsert runs an INSERT ... ON CONFLICT ... RETURNING (xmax = 0); xmax is zero only for
// freshly inserted tuples.
func (r *billingRepository) upsert(ctx context.Context, kind types.MirrorKind, query string, arg interface{}) (bool, error) {
	span := StartRepositorySpan(ctx, "billing", "upsert_"+string(kind), nil)
	defer FinishSpan(span)

	q := r.db.GetQuerier(ctx)
	named, args, err := bindNamed(q, query, arg)
	if err != nil {
		return false, ierr.WithError(err).WithHintf("Failed to sync %s", kind).Mark(ierr.ErrDatabase)
	}

	var created bool
	if err := q.GetContext(ctx, &created, named, args...); err != nil {
		SetSpanError(span, err)
		return false, ierr.WithError(err).
			WithHintf("Failed to sync %s", kind).
			Mark(ierr.ErrDatabase)
	}
	return created, nil
}

func (r *billingRepository) UpsertInvoice(ctx context.Context, inv *billing.Invoice) (bool, error) {
	query := `
		INSERT INTO invoices (
			id, tenant_id, provider, provider_ref, subscription_id, amount_minor, amount_paid_minor,
			currency, status, period_start, period_end, paid_at, created_at, updated_at, created_by, updated_by
		) VALUES (
			:id, :tenant_id, :provider, :provider_ref, :subscription_id, :amount_minor, :amount_paid_minor,
			:currency, :status, :period_start, :period_end, :paid_at, :created_at, :updated_at, :created_by, :updated_by
		)
		ON CONFLICT (provider, provider_ref) DO UPDATE SET
			subscription_id = COALESCE(EXCLUDED.subscription_id, invoices.subscription_id),
			amount_minor = EXCLUDED.amount_minor,
			amount_paid_minor = EXCLUDED.amount_paid_minor,
			status = EXCLUDED.status,
			period_start = COALESCE(EXCLUDED.period_start, invoices.period_start),
			period_end = COALESCE(EXCLUDED.period_end, invoices.period_end),
			paid_at = COALESCE(EXCLUDED.paid_at, invoices.paid_at),
			updated_at = EXCLUDED.updated_at,
			updated_by = EXCLUDED.updated_by
		RETURNING (xmax = 0) AS created`
	return r.upsert(ctx, types.MirrorKindInvoice, query, inv)
}

func (r *billingRepository) UpsertPayout(ctx context.Context, p *billing.Payout) (bool, error) {
	query := `
		INSERT INTO payouts (
			id, tenant_id, provider, provider_ref, amount_minor, currency, status, arrival_date,
			created_at, updated_at, created_by, updated_by
		) VALUES (
			:id, :tenant_id, :provider, :provider_ref, :amount_minor, :currency, :status, :arrival_date,
			:created_at, :updated_at, :created_by, :updated_by
		)
		ON CONFLICT (provider, provider_ref) DO UPDATE SET
			amount_minor = EXCLUDED.amount_minor,
			status = EXCLUDED.status,
			arrival_date = COALESCE(EXCLUDED.arrival_date, payouts.arrival_date),
			updated_at = EXCLUDED.updated_at,
			updated_by = EXCLUDED.updated_by
		RETURNING (xmax = 0) AS created`
	return r.upsert(ctx, types.MirrorKindPayout, query, p)
}

func (r *billingRepository) UpsertRefund(ctx context.Context, ref *billing.Refund) (bool, error) {
	query := `
		INSERT INTO refunds (
			id, tenant_id, provider, provider_ref, payment_ref, amount_minor, currency, status, reason,
			created_at, updated_at, created_by, updated_by
		) VALUES (
			:id, :tenant_id, :provider, :provider_ref, :payment_ref, :amount_minor, :currency, :status, :reason,
			:created_at, :updated_at, :created_by, :updated_by
		)
		ON CONFLICT (provider, provider_ref) DO UPDATE SET
			amount_minor = EXCLUDED.amount_minor,
			status = EXCLUDED.status,
			reason = EXCLUDED.reason,
			updated_at = EXCLUDED.updated_at,
			updated_by = EXCLUDED.updated_by
		RETURNING (xmax = 0) AS created`
	return r.upsert(ctx, types.MirrorKindRefund, query, ref)
}

func (r *billingRepository) UpsertDispute(ctx context.Context, d *billing.Dispute) (bool, error) {
	query := `
		INSERT INTO disputes (
			id, tenant_id, provider, provider_ref, payment_ref, amount_minor, currency, status, reason,
			evidence_due_by, created_at, updated_at, created_by, updated_by
		) VALUES (
			:id, :tenant_id, :provider, :provider_ref, :payment_ref, :amount_minor, :currency, :status, :reason,
			:evidence_due_by, :created_at, :updated_at, :created_by, :updated_by
		)
		ON CONFLICT (provider, provider_ref) DO UPDATE SET
			amount_minor = EXCLUDED.amount_minor,
			status = EXCLUDED.status,
			reason = EXCLUDED.reason,
			evidence_due_by = COALESCE(EXCLUDED.evidence_due_by, disputes.evidence_due_by),
			updated_at = EXCLUDED.updated_at,
			updated_by = EXCLUDED.updated_by
		RETURNING (xmax = 0) AS created`
	return r.upsert(ctx, types.MirrorKindDispute, query, d)
}

func (r *billingRepository) GetInvoiceByRef(ctx context.Context, provider types.PaymentProvider, ref string) (*billing.Invoice, error) {
	var inv billing.Invoice
	query := `
		SELECT id, tenant_id, provider, provider_ref, subscription_id, amount_minor, amount_paid_minor,
			currency, status, period_start, period_end, paid_at, created_at, updated_at, created_by, updated_by
		FROM invoices
		WHERE provider = $1 AND provider_ref = $2`
	if err := r.db.GetQuerier(ctx).GetContext(ctx, &inv, query, provider, ref); err != nil {
		if isNoRows(err) {
			return nil, ierr.WithError(err).
				WithHintf("Invoice %s was not found", ref).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get invoice").
			Mark(ierr.ErrDatabase)
	}
	return &inv, nil
}
