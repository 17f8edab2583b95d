package service

import (
	"testing"

	"github.com/pewsoft/subscriptions/internal/api/dto"
	"github.com/pewsoft/subscriptions/internal/domain/subscription"
	ierr "github.com/pewsoft/subscriptions/internal/errors"
	"github.com/pewsoft/subscriptions/internal/testutil"
	"github.com/pewsoft/subscriptions/internal/types"
	"github.com/samber/lo"
	"github.com/stretchr/testify/suite"
)

type EntitlementServiceSuite struct {
	testutil.BaseServiceTestSuite
	service EntitlementService
}

func TestEntitlementService(t *testing.T) {
	suite.Run(t, new(EntitlementServiceSuite))
}

func (s *EntitlementServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.service = NewEntitlementService(newTestServiceParams(&s.BaseServiceTestSuite))
}

func (s *EntitlementServiceSuite) TestLiveSubscriptionUsesPlanFeatures() {
	p := s.CreatePlan("pro", 4900,
		testutil.NewFeature("custom_domain", true, nil),
		testutil.NewFeature("seats", true, lo.ToPtr(10)),
		testutil.NewFeature("sso", false, nil),
	)
	sub := s.CreateSubscription("tenant-a", p, types.SubscriptionStatusPastDue, types.PaymentProviderManual)

	resp, err := s.service.GetEntitlements(s.GetContext(), "tenant-a")
	s.Require().NoError(err)
	s.Equal(types.EntitlementSourcePlan, resp.Source)
	s.Equal(sub.ID, resp.SubscriptionID)
	s.Equal("pro", resp.PlanCode)
	s.Equal(types.SubscriptionStatusPastDue, resp.Status)
	s.Len(resp.Features, 3)

	check, err := s.service.CheckFeature(s.GetContext(), "tenant-a", "sso")
	s.Require().NoError(err)
	s.False(check.Enabled)
	s.Equal(types.AccessModeLocked, check.Access)

	check, err = s.service.CheckFeature(s.GetContext(), "tenant-a", "seats")
	s.Require().NoError(err)
	s.True(check.Enabled)
	s.Equal(10, *check.Limit)

	check, err = s.service.CheckFeature(s.GetContext(), "tenant-a", "not_seeded")
	s.Require().NoError(err)
	s.True(check.Enabled)
}

func (s *EntitlementServiceSuite) TestCanceledTenantIsReadOnly() {
	p := s.CreatePlan("pro", 4900, testutil.NewFeature("sso", true, nil))
	s.CreateSubscription("tenant-a", p, types.SubscriptionStatusCanceled, types.PaymentProviderManual,
		func(sub *subscription.Subscription) { sub.EndedAt = lo.ToPtr(s.GetNow()) })

	resp, err := s.service.GetEntitlements(s.GetContext(), "tenant-a")
	s.Require().NoError(err)
	s.Equal(types.EntitlementSourceInactiveSubscription, resp.Source)
	s.Empty(resp.SubscriptionID)

	check, err := s.service.CheckFeature(s.GetContext(), "tenant-a", "sso")
	s.Require().NoError(err)
	s.True(check.Enabled)
	s.Equal(types.AccessModeReadOnly, check.Access)
}

func (s *EntitlementServiceSuite) TestNeverSubscribedFailsOpenExceptDenyList() {
	check, err := s.service.CheckFeature(s.GetContext(), "tenant-new", "custom_domain")
	s.Require().NoError(err)
	s.True(check.Enabled)
	s.Equal(types.EntitlementSourceNoSubscription, check.Source)

	// sso is deny-listed in the suite config
	check, err = s.service.CheckFeature(s.GetContext(), "tenant-new", "sso")
	s.Require().NoError(err)
	s.False(check.Enabled)
	s.Equal(types.AccessModeLocked, check.Access)
}

func (s *EntitlementServiceSuite) TestPlanChangeIsVisibleOnNextRead() {
	starter := s.CreatePlan("starter", 900, testutil.NewFeature("sso", false, nil))
	pro := s.CreatePlan("pro", 4900, testutil.NewFeature("sso", true, nil))
	sub := s.CreateSubscription("tenant-a", starter, types.SubscriptionStatusActive, types.PaymentProviderManual)

	check, err := s.service.CheckFeature(s.GetContext(), "tenant-a", "sso")
	s.Require().NoError(err)
	s.False(check.Enabled)

	stored, err := s.GetStores().SubscriptionRepo.Get(s.GetContext(), sub.ID)
	s.Require().NoError(err)
	stored.PlanID = pro.ID
	s.Require().NoError(s.GetStores().SubscriptionRepo.Update(s.GetContext(), stored))

	check, err = s.service.CheckFeature(s.GetContext(), "tenant-a", "sso")
	s.Require().NoError(err)
	s.True(check.Enabled)
}

func (s *EntitlementServiceSuite) TestMissingPlanKeepsAccess() {
	p := s.CreatePlan("pro", 4900)
	s.CreateSubscription("tenant-a", p, types.SubscriptionStatusActive, types.PaymentProviderManual,
		func(sub *subscription.Subscription) { sub.PlanID = "plan_deleted" })

	check, err := s.service.CheckFeature(s.GetContext(), "tenant-a", "sso")
	s.Require().NoError(err)
	s.True(check.Enabled)
	s.Equal(types.EntitlementSourcePlan, check.Source)
}

func (s *EntitlementServiceSuite) TestOverrides() {
	p := s.CreatePlan("starter", 900, testutil.NewFeature("sso", false, nil))
	s.CreateSubscription("tenant-a", p, types.SubscriptionStatusActive, types.PaymentProviderManual)

	resp, err := s.service.SetOverride(s.GetContext(), "tenant-a", "sso", dto.SetEntitlementOverrideRequest{
		Enabled: true,
		Reason:  "enterprise pilot",
	})
	s.Require().NoError(err)
	s.Equal("tenant-a", resp.TenantID)

	check, err := s.service.CheckFeature(s.GetContext(), "tenant-a", "sso")
	s.Require().NoError(err)
	s.True(check.Enabled)

	// a second set replaces the first
	_, err = s.service.SetOverride(s.GetContext(), "tenant-a", "sso", dto.SetEntitlementOverrideRequest{
		Enabled: true,
		Limit:   lo.ToPtr(3),
	})
	s.Require().NoError(err)
	overrides, err := s.GetStores().OverrideRepo.ListByTenant(s.GetContext(), "tenant-a")
	s.Require().NoError(err)
	s.Require().Len(overrides, 1)
	s.Equal(3, *overrides[0].Limit)

	s.Require().NoError(s.service.DeleteOverride(s.GetContext(), "tenant-a", "sso"))
	check, err = s.service.CheckFeature(s.GetContext(), "tenant-a", "sso")
	s.Require().NoError(err)
	s.False(check.Enabled)

	err = s.service.DeleteOverride(s.GetContext(), "tenant-a", "sso")
	s.True(ierr.IsNotFound(err))

	s.Len(s.GetStores().AuditRepo.ByAction(types.AuditActionEntitlementOverrideSet), 2)
	s.Len(s.GetStores().AuditRepo.ByAction(types.AuditActionEntitlementOverrideDelete), 1)
}

func (s *EntitlementServiceSuite) TestValidation() {
	_, err := s.service.CheckFeature(s.GetContext(), "tenant-a", "")
	s.True(ierr.IsValidation(err))

	_, err = s.service.GetEntitlements(s.GetContext(), "")
	s.True(ierr.IsValidation(err))

	_, err = s.service.SetOverride(s.GetContext(), "tenant-a", "seats", dto.SetEntitlementOverrideRequest{
		Enabled: true,
		Limit:   lo.ToPtr(-1),
	})
	s.True(ierr.IsValidation(err))
}
