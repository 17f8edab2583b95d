package testutil

import (
	"context"
	"fmt"

	"github.com/pewsoft/subscriptions/internal/domain/entitlement"
)

// InMemoryOverrideStore implements entitlement.OverrideRepository
type InMemoryOverrideStore struct {
	*InMemoryStore[*entitlement.Override]
}

func NewInMemoryOverrideStore() *InMemoryOverrideStore {
	return &InMemoryOverrideStore{
		InMemoryStore: NewInMemoryStore[*entitlement.Override](),
	}
}

func overrideKey(tenantID, key string) string {
	return tenantID + "/" + key
}

func (s *InMemoryOverrideStore) Upsert(ctx context.Context, o *entitlement.Override) error {
	if o == nil {
		return fmt.Errorf("override cannot be nil")
	}
	c := *o
	id := overrideKey(o.TenantID, o.Key)
	if existing, err := s.InMemoryStore.Get(ctx, id); err == nil {
		c.ID = existing.ID
		c.CreatedAt = existing.CreatedAt
		return s.InMemoryStore.Update(ctx, id, &c)
	}
	return s.InMemoryStore.Create(ctx, id, &c)
}

func (s *InMemoryOverrideStore) Delete(ctx context.Context, tenantID, key string) error {
	return s.InMemoryStore.Delete(ctx, overrideKey(tenantID, key))
}

func (s *InMemoryOverrideStore) ListByTenant(ctx context.Context, tenantID string) ([]*entitlement.Override, error) {
	return s.InMemoryStore.List(ctx, tenantID, func(_ context.Context, o *entitlement.Override, filter interface{}) bool {
		return o.TenantID == filter.(string)
	}, func(i, j *entitlement.Override) bool {
		return i.Key < j.Key
	})
}
