package entitlement

import (
	"github.com/pewsoft/subscriptions/internal/domain/plan"
	"github.com/pewsoft/subscriptions/internal/domain/subscription"
	"github.com/pewsoft/subscriptions/internal/types"
)

// ResolveInput is everything resolution depends on, loaded fresh per request
type ResolveInput struct {
	TenantID string
	// Current is the live subscription, nil if none
	Current *subscription.Subscription
	// Plan is Current's plan with features
	Plan *plan.Plan
	// HasHistory is true when the tenant had any subscription row
	HasHistory bool
	Overrides  []*Override
	// DenyList is disabled for tenants that never subscribed
	DenyList []string
}

// Resolve computes the entitlement snapshot. Unknown keys stay enabled: a feature
// missing from the plan seed must not lock a tenant out.
func Resolve(in ResolveInput) *Snapshot {
	snap := &Snapshot{
		TenantID: in.TenantID,
		Features: make(map[string]Entitlement),
	}

	switch {
	case in.Current != nil && in.Plan != nil:
		snap.Source = types.EntitlementSourcePlan
		snap.SubscriptionID = in.Current.ID
		snap.PlanCode = in.Plan.Code
		snap.Status = in.Current.Status
		for _, f := range in.Plan.Features {
			snap.Features[f.Key] = Entitlement{
				Key:     f.Key,
				Enabled: f.Enabled,
				Limit:   f.Limit,
			}
		}
	case in.HasHistory:
		snap.Source = types.EntitlementSourceInactiveSubscription
	default:
		snap.Source = types.EntitlementSourceNoSubscription
		snap.denied = make(map[string]struct{}, len(in.DenyList))
		for _, key := range in.DenyList {
			snap.denied[key] = struct{}{}
			snap.Features[key] = Entitlement{Key: key, Enabled: false}
		}
	}

	for _, o := range in.Overrides {
		snap.Features[o.Key] = Entitlement{
			Key:     o.Key,
			Enabled: o.Enabled,
			Limit:   o.Limit,
		}
		delete(snap.denied, o.Key)
	}

	for key, e := range snap.Features {
		e.Access = classify(snap.Source, e.Enabled)
		if _, denied := snap.denied[key]; denied {
			e.Access = types.AccessModeLocked
		}
		snap.Features[key] = e
	}

	return snap
}
