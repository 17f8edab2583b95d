package testutil

import (
	"context"

	"github.com/pewsoft/subscriptions/internal/domain/drift"
)

// InMemoryDriftStore implements drift.Repository over fixed rows
type InMemoryDriftStore struct {
	Intents   []*drift.IntentWithoutDonation
	Donations []*drift.DonationWithoutIntent
}

func NewInMemoryDriftStore() *InMemoryDriftStore {
	return &InMemoryDriftStore{}
}

func (s *InMemoryDriftStore) IntentsWithoutDonation(ctx context.Context, filter drift.Filter) ([]*drift.IntentWithoutDonation, error) {
	var out []*drift.IntentWithoutDonation
	for _, row := range s.Intents {
		if filter.TenantID != "" && row.TenantID != filter.TenantID {
			continue
		}
		out = append(out, row)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *InMemoryDriftStore) DonationsWithoutIntent(ctx context.Context, filter drift.Filter) ([]*drift.DonationWithoutIntent, error) {
	var out []*drift.DonationWithoutIntent
	for _, row := range s.Donations {
		if filter.TenantID != "" && row.TenantID != filter.TenantID {
			continue
		}
		out = append(out, row)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *InMemoryDriftStore) Clear() {
	s.Intents = nil
	s.Donations = nil
}
