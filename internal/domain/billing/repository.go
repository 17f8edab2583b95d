package billing

import (
	"context"

	"github.com/pewsoft/subscriptions/internal/types"
)

// Repository upserts provider mirrors keyed by (provider, provider_ref). Re-applying the
// same object only refreshes its mutable fields; created reports whether a row was inserted.
type Repository interface {
	UpsertInvoice(ctx context.Context, invoice *Invoice) (created bool, err error)
	UpsertPayout(ctx context.Context, payout *Payout) (created bool, err error)
	UpsertRefund(ctx context.Context, refund *Refund) (created bool, err error)
	UpsertDispute(ctx context.Context, dispute *Dispute) (created bool, err error)

	GetInvoiceByRef(ctx context.Context, provider types.PaymentProvider, ref string) (*Invoice, error)
}
