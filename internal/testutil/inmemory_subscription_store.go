package testutil

import (
	"context"
	"fmt"
	"time"

	"github.com/pewsoft/subscriptions/internal/domain/subscription"
	ierr "github.com/pewsoft/subscriptions/internal/errors"
	"github.com/pewsoft/subscriptions/internal/types"
	"github.com/samber/lo"
)

// InMemorySubscriptionStore implements subscription.Repository. Rows are copied on the way
// in and out so callers cannot mutate stored state without Update.
type InMemorySubscriptionStore struct {
	*InMemoryStore[*subscription.Subscription]
}

func NewInMemorySubscriptionStore() *InMemorySubscriptionStore {
	return &InMemorySubscriptionStore{
		InMemoryStore: NewInMemoryStore[*subscription.Subscription](),
	}
}

func copySubscription(sub *subscription.Subscription) *subscription.Subscription {
	if sub == nil {
		return nil
	}
	c := *sub
	if sub.ProviderMetadata != nil {
		refs := *sub.ProviderMetadata
		c.ProviderMetadata = &refs
	}
	c.Plan = nil
	return &c
}

func subscriptionFilterFn(ctx context.Context, sub *subscription.Subscription, filter interface{}) bool {
	if sub == nil {
		return false
	}
	f, ok := filter.(*types.SubscriptionFilter)
	if !ok || f == nil {
		return true
	}

	if f.TenantID != "" && sub.TenantID != f.TenantID {
		return false
	}
	if len(f.Statuses) > 0 && !lo.Contains(f.Statuses, sub.Status) {
		return false
	}
	if len(f.Providers) > 0 && !lo.Contains(f.Providers, sub.Provider) {
		return false
	}
	if f.ProviderCustomerRef != "" && lo.FromPtr(sub.ProviderCustomerID) != f.ProviderCustomerRef {
		return false
	}
	if f.ExcludeManualProviders && sub.Provider == types.PaymentProviderManual {
		return false
	}
	if f.PastDueBefore != nil && (sub.PastDueSince == nil || !sub.PastDueSince.Before(*f.PastDueBefore)) {
		return false
	}
	if f.ReminderDue != nil && !reminderDue(sub, f.ReminderDue) {
		return false
	}
	if !notAfter(sub.TrialEndsAt, f.TrialEndsBefore) ||
		!notAfter(sub.CurrentPeriodEnd, f.PeriodEndsBefore) {
		return false
	}
	if f.PendingChangeDueBefore != nil && (sub.PendingPlanCode == nil || !notAfter(sub.PendingEffectiveAt, f.PendingChangeDueBefore)) {
		return false
	}
	if f.CancelAtPeriodEnd != nil && sub.CancelAtPeriodEnd != *f.CancelAtPeriodEnd {
		return false
	}
	if f.MissingProviderRefs && sub.ProviderSubscriptionID != nil && sub.ProviderCustomerID != nil && sub.ProviderMetadata != nil {
		return false
	}
	return true
}

func reminderDue(sub *subscription.Subscription, w *types.ReminderWindow) bool {
	last := sub.LastReminderSentAt
	if last == nil {
		return true
	}
	if !last.Before(w.DayStart) {
		return false
	}
	return sub.PastDueSince == nil || last.Before(sub.PastDueSince.Add(time.Duration(w.GraceDays)*24*time.Hour))
}

// notAfter reports whether value is set and at or before bound; a nil bound matches anything
func notAfter(value, bound *time.Time) bool {
	if bound == nil {
		return true
	}
	return value != nil && !value.After(*bound)
}

func subscriptionSortFn(filter *types.SubscriptionFilter) SortFunc[*subscription.Subscription] {
	key := func(sub *subscription.Subscription) time.Time {
		switch filter.GetSort() {
		case "starts_at":
			return sub.StartsAt
		case "past_due_since":
			return lo.FromPtr(sub.PastDueSince)
		case "current_period_end":
			return lo.FromPtr(sub.CurrentPeriodEnd)
		case "updated_at":
			return sub.UpdatedAt
		default:
			return sub.CreatedAt
		}
	}
	desc := filter.GetOrder() == "desc"
	return func(i, j *subscription.Subscription) bool {
		a, b := key(i), key(j)
		if a.Equal(b) {
			return i.ID < j.ID
		}
		if desc {
			return a.After(b)
		}
		return a.Before(b)
	}
}

func (s *InMemorySubscriptionStore) Create(ctx context.Context, sub *subscription.Subscription) error {
	if sub == nil {
		return fmt.Errorf("subscription cannot be nil")
	}
	if sub.Status.IsLive() {
		if _, err := s.GetCurrent(ctx, sub.TenantID); err == nil {
			return ierr.NewError("tenant already has a live subscription").
				WithHint("The subscription changed while processing your request").
				Mark(ierr.ErrVersionConflict)
		}
	}
	if sub.Version == 0 {
		sub.Version = 1
	}
	return s.InMemoryStore.Create(ctx, sub.ID, copySubscription(sub))
}

func (s *InMemorySubscriptionStore) Get(ctx context.Context, id string) (*subscription.Subscription, error) {
	sub, err := s.InMemoryStore.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return copySubscription(sub), nil
}

func (s *InMemorySubscriptionStore) GetForUpdate(ctx context.Context, id string) (*subscription.Subscription, error) {
	return s.Get(ctx, id)
}

func (s *InMemorySubscriptionStore) GetCurrent(ctx context.Context, tenantID string) (*subscription.Subscription, error) {
	filter := types.NewNoLimitSubscriptionFilter()
	filter.TenantID = tenantID
	filter.Statuses = types.LiveSubscriptionStatuses
	filter.Sort = lo.ToPtr("starts_at")
	filter.Order = lo.ToPtr("desc")

	subs, err := s.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, ierr.NewError("subscription not found").
			WithHintf("Tenant %s has no live subscription", tenantID).
			Mark(ierr.ErrNotFound)
	}
	return subs[0], nil
}

func (s *InMemorySubscriptionStore) GetCurrentForUpdate(ctx context.Context, tenantID string) (*subscription.Subscription, error) {
	return s.GetCurrent(ctx, tenantID)
}

func (s *InMemorySubscriptionStore) GetByProviderRef(ctx context.Context, provider types.PaymentProvider, subscriptionRef string) (*subscription.Subscription, error) {
	filter := types.NewNoLimitSubscriptionFilter()
	filter.Providers = []types.PaymentProvider{provider}
	filter.Sort = lo.ToPtr("starts_at")
	filter.Order = lo.ToPtr("desc")

	subs, err := s.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	sub, ok := lo.Find(subs, func(sub *subscription.Subscription) bool {
		return lo.FromPtr(sub.ProviderSubscriptionID) == subscriptionRef
	})
	if !ok {
		return nil, ierr.NewError("subscription not found").
			WithHintf("No %s subscription %s", provider, subscriptionRef).
			Mark(ierr.ErrNotFound)
	}
	return sub, nil
}

func (s *InMemorySubscriptionStore) HasHistory(ctx context.Context, tenantID string) (bool, error) {
	filter := types.NewNoLimitSubscriptionFilter()
	filter.TenantID = tenantID
	count, err := s.Count(ctx, filter)
	return count > 0, err
}

func (s *InMemorySubscriptionStore) List(ctx context.Context, filter *types.SubscriptionFilter) ([]*subscription.Subscription, error) {
	if filter == nil {
		filter = types.NewSubscriptionFilter()
	}
	subs, err := s.InMemoryStore.List(ctx, filter, subscriptionFilterFn, subscriptionSortFn(filter))
	if err != nil {
		return nil, err
	}
	return lo.Map(subs, func(sub *subscription.Subscription, _ int) *subscription.Subscription {
		return copySubscription(sub)
	}), nil
}

func (s *InMemorySubscriptionStore) Count(ctx context.Context, filter *types.SubscriptionFilter) (int, error) {
	return s.InMemoryStore.Count(ctx, filter, subscriptionFilterFn)
}

func (s *InMemorySubscriptionStore) Update(ctx context.Context, sub *subscription.Subscription) error {
	if sub == nil {
		return fmt.Errorf("subscription cannot be nil")
	}
	stored, err := s.InMemoryStore.Get(ctx, sub.ID)
	if err != nil {
		return err
	}
	if stored.Version != sub.Version {
		return ierr.NewError("subscription version conflict").
			WithHint("The subscription changed while processing your request").
			WithReportableDetails(map[string]any{
				"subscription_id": sub.ID,
				"version":         sub.Version,
			}).
			Mark(ierr.ErrVersionConflict)
	}
	sub.Version++
	return s.InMemoryStore.Update(ctx, sub.ID, copySubscription(sub))
}
