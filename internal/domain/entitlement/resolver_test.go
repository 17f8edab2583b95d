package entitlement

import (
	"testing"

	"github.com/pewsoft/subscriptions/internal/domain/plan"
	"github.com/pewsoft/subscriptions/internal/domain/subscription"
	"github.com/pewsoft/subscriptions/internal/types"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func proPlan() *plan.Plan {
	return &plan.Plan{
		ID:   "plan_pro",
		Code: "pro",
		Features: []*plan.Feature{
			{Key: "custom_domain", Enabled: true},
			{Key: "seats", Enabled: true, Limit: lo.ToPtr(10)},
			{Key: "sso", Enabled: false},
		},
	}
}

func TestResolveFromPlan(t *testing.T) {
	sub := &subscription.Subscription{ID: "tsub_1", Status: types.SubscriptionStatusPastDue}
	snap := Resolve(ResolveInput{
		TenantID:   "t1",
		Current:    sub,
		Plan:       proPlan(),
		HasHistory: true,
	})

	assert.Equal(t, types.EntitlementSourcePlan, snap.Source)
	assert.Equal(t, "tsub_1", snap.SubscriptionID)
	assert.Equal(t, "pro", snap.PlanCode)
	assert.Equal(t, types.SubscriptionStatusPastDue, snap.Status)

	domain := snap.Get("custom_domain")
	assert.True(t, domain.Enabled)
	assert.Equal(t, types.AccessModeEnabled, domain.Access)

	seats := snap.Get("seats")
	require.NotNil(t, seats.Limit)
	assert.Equal(t, 10, *seats.Limit)

	sso := snap.Get("sso")
	assert.False(t, sso.Enabled)
	assert.Equal(t, types.AccessModeLocked, sso.Access)

	unknown := snap.Get("brand_new_feature")
	assert.True(t, unknown.Enabled)
	assert.Equal(t, types.AccessModeEnabled, unknown.Access)
}

func TestResolveInactiveSubscriptionIsReadOnly(t *testing.T) {
	snap := Resolve(ResolveInput{
		TenantID:   "t1",
		HasHistory: true,
		DenyList:   []string{"sso"},
	})

	assert.Equal(t, types.EntitlementSourceInactiveSubscription, snap.Source)
	assert.Empty(t, snap.SubscriptionID)

	e := snap.Get("custom_domain")
	assert.True(t, e.Enabled)
	assert.Equal(t, types.AccessModeReadOnly, e.Access)

	// the deny list only applies to tenants that never subscribed
	assert.True(t, snap.IsEnabled("sso"))
}

func TestResolveNoSubscriptionFailsOpenExceptDenyList(t *testing.T) {
	snap := Resolve(ResolveInput{
		TenantID: "t1",
		DenyList: []string{"sso", "audit_export"},
	})

	assert.Equal(t, types.EntitlementSourceNoSubscription, snap.Source)
	assert.True(t, snap.IsEnabled("custom_domain"))
	assert.Equal(t, types.AccessModeEnabled, snap.Get("custom_domain").Access)

	sso := snap.Get("sso")
	assert.False(t, sso.Enabled)
	assert.Equal(t, types.AccessModeLocked, sso.Access)
	assert.Contains(t, snap.Features, "audit_export")
}

func TestResolveOverridesWin(t *testing.T) {
	t.Run("override on a plan feature", func(t *testing.T) {
		snap := Resolve(ResolveInput{
			TenantID: "t1",
			Current:  &subscription.Subscription{ID: "tsub_1", Status: types.SubscriptionStatusActive},
			Plan:     proPlan(),
			Overrides: []*Override{
				{TenantID: "t1", Key: "sso", Enabled: true},
				{TenantID: "t1", Key: "seats", Enabled: true, Limit: lo.ToPtr(25)},
				{TenantID: "t1", Key: "custom_domain", Enabled: false},
			},
		})

		assert.True(t, snap.IsEnabled("sso"))
		assert.Equal(t, 25, *snap.Get("seats").Limit)
		assert.False(t, snap.IsEnabled("custom_domain"))
		assert.Equal(t, types.AccessModeLocked, snap.Get("custom_domain").Access)
	})

	t.Run("override lifts the deny list", func(t *testing.T) {
		snap := Resolve(ResolveInput{
			TenantID:  "t1",
			DenyList:  []string{"sso"},
			Overrides: []*Override{{TenantID: "t1", Key: "sso", Enabled: true}},
		})

		sso := snap.Get("sso")
		assert.True(t, sso.Enabled)
		assert.Equal(t, types.AccessModeEnabled, sso.Access)
	})

	t.Run("override on an inactive tenant stays read only", func(t *testing.T) {
		snap := Resolve(ResolveInput{
			TenantID:   "t1",
			HasHistory: true,
			Overrides:  []*Override{{TenantID: "t1", Key: "sso", Enabled: true}},
		})

		assert.True(t, snap.IsEnabled("sso"))
		assert.Equal(t, types.AccessModeReadOnly, snap.Get("sso").Access)
	})
}

func TestOverrideValidate(t *testing.T) {
	assert.Error(t, (&Override{Key: "sso"}).Validate())
	assert.Error(t, (&Override{TenantID: "t1", Key: "seats", Limit: lo.ToPtr(-1)}).Validate())
	assert.NoError(t, (&Override{TenantID: "t1", Key: "seats", Limit: lo.ToPtr(0)}).Validate())
}
