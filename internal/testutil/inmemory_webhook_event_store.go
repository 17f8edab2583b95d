package testutil

import (
	"context"
	"fmt"

	"github.com/pewsoft/subscriptions/internal/domain/webhookevent"
	"github.com/pewsoft/subscriptions/internal/types"
)

// InMemoryWebhookEventStore implements webhookevent.Repository
type InMemoryWebhookEventStore struct {
	*InMemoryStore[*webhookevent.ProcessedEvent]
}

func NewInMemoryWebhookEventStore() *InMemoryWebhookEventStore {
	return &InMemoryWebhookEventStore{
		InMemoryStore: NewInMemoryStore[*webhookevent.ProcessedEvent](),
	}
}

func eventKey(provider types.PaymentProvider, eventID string) string {
	return fmt.Sprintf("%s/%s", provider, eventID)
}

func (s *InMemoryWebhookEventStore) MarkProcessed(ctx context.Context, event *webhookevent.ProcessedEvent) (bool, error) {
	key := eventKey(event.Provider, event.EventID)
	if _, err := s.InMemoryStore.Get(ctx, key); err == nil {
		return false, nil
	}
	c := *event
	return true, s.InMemoryStore.Create(ctx, key, &c)
}

func (s *InMemoryWebhookEventStore) Exists(ctx context.Context, provider types.PaymentProvider, eventID string) (bool, error) {
	_, err := s.InMemoryStore.Get(ctx, eventKey(provider, eventID))
	return err == nil, nil
}
