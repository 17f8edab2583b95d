package testutil

import (
	"context"
	"fmt"

	"github.com/pewsoft/subscriptions/internal/domain/billing"
	ierr "github.com/pewsoft/subscriptions/internal/errors"
	"github.com/pewsoft/subscriptions/internal/types"
)

// InMemoryBillingStore implements billing.Repository keyed by (provider, provider_ref)
type InMemoryBillingStore struct {
	invoices *InMemoryStore[*billing.Invoice]
	payouts  *InMemoryStore[*billing.Payout]
	refunds  *InMemoryStore[*billing.Refund]
	disputes *InMemoryStore[*billing.Dispute]
}

func NewInMemoryBillingStore() *InMemoryBillingStore {
	return &InMemoryBillingStore{
		invoices: NewInMemoryStore[*billing.Invoice](),
		payouts:  NewInMemoryStore[*billing.Payout](),
		refunds:  NewInMemoryStore[*billing.Refund](),
		disputes: NewInMemoryStore[*billing.Dispute](),
	}
}

func mirrorKey(provider types.PaymentProvider, ref string) string {
	return fmt.Sprintf("%s/%s", provider, ref)
}

// upsertMirror keeps the first stored id, like ON CONFLICT DO UPDATE
func upsertMirror[T any](ctx context.Context, store *InMemoryStore[T], key string, item T, keepID func(existing, item T)) (bool, error) {
	if existing, err := store.Get(ctx, key); err == nil {
		keepID(existing, item)
		return false, store.Update(ctx, key, item)
	}
	return true, store.Create(ctx, key, item)
}

func (s *InMemoryBillingStore) UpsertInvoice(ctx context.Context, inv *billing.Invoice) (bool, error) {
	c := *inv
	return upsertMirror(ctx, s.invoices, mirrorKey(inv.Provider, inv.ProviderRef), &c, func(existing, item *billing.Invoice) {
		item.ID = existing.ID
		if item.SubscriptionID == nil {
			item.SubscriptionID = existing.SubscriptionID
		}
	})
}

func (s *InMemoryBillingStore) UpsertPayout(ctx context.Context, p *billing.Payout) (bool, error) {
	c := *p
	return upsertMirror(ctx, s.payouts, mirrorKey(p.Provider, p.ProviderRef), &c, func(existing, item *billing.Payout) {
		item.ID = existing.ID
	})
}

func (s *InMemoryBillingStore) UpsertRefund(ctx context.Context, r *billing.Refund) (bool, error) {
	c := *r
	return upsertMirror(ctx, s.refunds, mirrorKey(r.Provider, r.ProviderRef), &c, func(existing, item *billing.Refund) {
		item.ID = existing.ID
	})
}

func (s *InMemoryBillingStore) UpsertDispute(ctx context.Context, d *billing.Dispute) (bool, error) {
	c := *d
	return upsertMirror(ctx, s.disputes, mirrorKey(d.Provider, d.ProviderRef), &c, func(existing, item *billing.Dispute) {
		item.ID = existing.ID
	})
}

func (s *InMemoryBillingStore) GetInvoiceByRef(ctx context.Context, provider types.PaymentProvider, ref string) (*billing.Invoice, error) {
	inv, err := s.invoices.Get(ctx, mirrorKey(provider, ref))
	if err != nil {
		return nil, ierr.WithError(err).
			WithHintf("Invoice %s not found", ref).
			Mark(ierr.ErrNotFound)
	}
	c := *inv
	return &c, nil
}

func (s *InMemoryBillingStore) Invoices() []*billing.Invoice {
	items, _ := s.invoices.List(context.Background(), nil, nil, nil)
	return items
}

func (s *InMemoryBillingStore) Refunds() []*billing.Refund {
	items, _ := s.refunds.List(context.Background(), nil, nil, nil)
	return items
}

func (s *InMemoryBillingStore) Disputes() []*billing.Dispute {
	items, _ := s.disputes.List(context.Background(), nil, nil, nil)
	return items
}

func (s *InMemoryBillingStore) Payouts() []*billing.Payout {
	items, _ := s.payouts.List(context.Background(), nil, nil, nil)
	return items
}

func (s *InMemoryBillingStore) Clear() {
	s.invoices.Clear()
	s.payouts.Clear()
	s.refunds.Clear()
	s.disputes.Clear()
}
