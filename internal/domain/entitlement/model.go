package entitlement

import (
	"github.com/pewsoft/subscriptions/internal/types"
)

// Entitlement is the resolved value of one feature key
type Entitlement struct {
	Key     string           `json:"key"`
	Enabled bool             `json:"enabled"`
	Limit   *int             `json:"limit,omitempty"`
	Access  types.AccessMode `json:"access"`
}

// Snapshot is the entitlement map of a tenant computed for a single request
type Snapshot struct {
	TenantID       string                   `json:"tenant_id"`
	Source         types.EntitlementSource  `json:"source"`
	SubscriptionID string                   `json:"subscription_id,omitempty"`
	PlanCode       string                   `json:"plan_code,omitempty"`
	Status         types.SubscriptionStatus `json:"status,omitempty"`
	Features       map[string]Entitlement   `json:"features"`

	denied map[string]struct{}
}

// Get returns the entitlement for key. Keys absent from the snapshot are enabled unless
// deny-listed for tenants that never subscribed.
func (s *Snapshot) Get(key string) Entitlement {
	if e, ok := s.Features[key]; ok {
		return e
	}
	if _, denied := s.denied[key]; denied {
		return Entitlement{Key: key, Enabled: false, Access: types.AccessModeLocked}
	}
	return Entitlement{Key: key, Enabled: true, Access: s.defaultAccess()}
}

// IsEnabled is shorthand for Get(key).Enabled
func (s *Snapshot) IsEnabled(key string) bool {
	return s.Get(key).Enabled
}

func (s *Snapshot) defaultAccess() types.AccessMode {
	if s.Source == types.EntitlementSourceInactiveSubscription {
		return types.AccessModeReadOnly
	}
	return types.AccessModeEnabled
}

// classify maps a resolved value to its gate decision
func classify(source types.EntitlementSource, enabled bool) types.AccessMode {
	switch {
	case source == types.EntitlementSourceInactiveSubscription:
		return types.AccessModeReadOnly
	case source == types.EntitlementSourcePlan && !enabled:
		return types.AccessModeLocked
	default:
		return types.AccessModeEnabled
	}
}
