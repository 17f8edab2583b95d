package subscription

import (
	"context"

	"github.com/pewsoft/subscriptions/internal/types"
)

// Repository defines the interface for tenant subscription persistence
type Repository interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)

	// GetCurrent returns the most recently started live subscription of the tenant
	GetCurrent(ctx context.Context, tenantID string) (*Subscription, error)
	// GetCurrentForUpdate is GetCurrent holding a row lock until the surrounding transaction ends
	GetCurrentForUpdate(ctx context.Context, tenantID string) (*Subscription, error)
	// GetForUpdate locks a subscription by id until the surrounding transaction ends
	GetForUpdate(ctx context.Context, id string) (*Subscription, error)
	// GetByProviderRef finds the newest row carrying the provider subscription id
	GetByProviderRef(ctx context.Context, provider types.PaymentProvider, subscriptionRef string) (*Subscription, error)

	// HasHistory reports whether the tenant ever had a subscription row
	HasHistory(ctx context.Context, tenantID string) (bool, error)

	List(ctx context.Context, filter *types.SubscriptionFilter) ([]*Subscription, error)
	Count(ctx context.Context, filter *types.SubscriptionFilter) (int, error)

	// Update persists sub if its version is unchanged and increments the version
	Update(ctx context.Context, sub *Subscription) error
}
