package service

import (
	"testing"

	"github.com/pewsoft/subscriptions/internal/api/dto"
	"github.com/pewsoft/subscriptions/internal/cache"
	ierr "github.com/pewsoft/subscriptions/internal/errors"
	"github.com/pewsoft/subscriptions/internal/testutil"
	"github.com/pewsoft/subscriptions/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

type PlanServiceSuite struct {
	testutil.BaseServiceTestSuite
	service PlanService
}

func TestPlanService(t *testing.T) {
	suite.Run(t, new(PlanServiceSuite))
}

func (s *PlanServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.service = NewPlanService(newTestServiceParams(&s.BaseServiceTestSuite))
}

func proPlanRequest() dto.UpsertPlanRequest {
	return dto.UpsertPlanRequest{
		Name:       "Pro",
		Currency:   "usd",
		Interval:   types.BillingIntervalMonthly,
		PriceMinor: 4900,
		TrialDays:  lo.ToPtr(14),
		Metadata: types.Metadata{
			types.PlanMetadataStripePriceID: "price_pro",
		},
		Features: []dto.PlanFeatureRequest{
			{Key: "custom_domain", Enabled: true},
			{Key: "seats", Enabled: true, Limit: lo.ToPtr(10)},
		},
	}
}

func (s *PlanServiceSuite) TestUpsertPlanCreates() {
	resp, err := s.service.UpsertPlan(s.GetContext(), "pro", proPlanRequest())
	s.Require().NoError(err)

	s.NotEmpty(resp.ID)
	s.Equal("pro", resp.Code)
	s.Equal("USD", resp.Currency)
	s.True(resp.IsActive)
	s.Equal(14, resp.TrialDays)
	s.True(decimal.NewFromFloat(49).Equal(resp.Price))
	s.Equal("price_pro", resp.ProviderPriceRef(types.PaymentProviderStripe))
	s.Len(resp.Features, 2)
	s.Equal(0, resp.AssignmentCount)

	logs := s.GetStores().AuditRepo.ByAction(types.AuditActionPlanUpserted)
	s.Require().Len(logs, 1)
	s.Equal(resp.ID, logs[0].EntityID)
	s.Equal(true, logs[0].Metadata["created"])
}

func (s *PlanServiceSuite) TestUpsertPlanUpdatesInPlace() {
	created, err := s.service.UpsertPlan(s.GetContext(), "pro", proPlanRequest())
	s.Require().NoError(err)

	req := proPlanRequest()
	req.PriceMinor = 5900
	req.Features = []dto.PlanFeatureRequest{{Key: "sso", Enabled: true}}
	updated, err := s.service.UpsertPlan(s.GetContext(), "pro", req)
	s.Require().NoError(err)

	s.Equal(created.ID, updated.ID)
	s.Equal(int64(5900), updated.PriceMinor)
	s.Require().Len(updated.Features, 1)
	s.Equal("sso", updated.Features[0].Key)

	plans, err := s.GetStores().PlanRepo.List(s.GetContext(), types.NewPlanFilter())
	s.Require().NoError(err)
	s.Len(plans, 1)
}

func (s *PlanServiceSuite) TestUpsertPlanDefaultIsExclusive() {
	first := proPlanRequest()
	first.IsDefault = true
	_, err := s.service.UpsertPlan(s.GetContext(), "starter", first)
	s.Require().NoError(err)

	second := proPlanRequest()
	second.IsDefault = true
	_, err = s.service.UpsertPlan(s.GetContext(), "pro", second)
	s.Require().NoError(err)

	starter, err := s.service.GetPlanByCode(s.GetContext(), "starter")
	s.Require().NoError(err)
	s.False(starter.IsDefault)

	pro, err := s.service.GetPlanByCode(s.GetContext(), "pro")
	s.Require().NoError(err)
	s.True(pro.IsDefault)
}

func (s *PlanServiceSuite) TestUpsertPlanPromotesExistingPlanToDefault() {
	starter := proPlanRequest()
	starter.IsDefault = true
	_, err := s.service.UpsertPlan(s.GetContext(), "starter", starter)
	s.Require().NoError(err)
	_, err = s.service.UpsertPlan(s.GetContext(), "pro", proPlanRequest())
	s.Require().NoError(err)

	promoted := proPlanRequest()
	promoted.IsDefault = true
	resp, err := s.service.UpsertPlan(s.GetContext(), "pro", promoted)
	s.Require().NoError(err)
	s.True(resp.IsDefault)

	old, err := s.service.GetPlanByCode(s.GetContext(), "starter")
	s.Require().NoError(err)
	s.False(old.IsDefault)

	// a write that skips demotion is rejected like the unique index would
	p, err := s.GetStores().PlanRepo.GetByCode(s.GetContext(), "starter")
	s.Require().NoError(err)
	p.IsDefault = true
	err = s.GetStores().PlanRepo.Update(s.GetContext(), p)
	s.True(ierr.IsVersionConflict(err))
}

func (s *PlanServiceSuite) TestUpsertPlanValidation() {
	tests := []struct {
		name string
		code string
		req  func() dto.UpsertPlanRequest
	}{
		{"invalid code", "Pro Plan", proPlanRequest},
		{"missing name", "pro", func() dto.UpsertPlanRequest {
			r := proPlanRequest()
			r.Name = ""
			return r
		}},
		{"bad interval", "pro", func() dto.UpsertPlanRequest {
			r := proPlanRequest()
			r.Interval = "WEEKLY"
			return r
		}},
		{"duplicate feature", "pro", func() dto.UpsertPlanRequest {
			r := proPlanRequest()
			r.Features = append(r.Features, dto.PlanFeatureRequest{Key: "seats"})
			return r
		}},
		{"negative limit", "pro", func() dto.UpsertPlanRequest {
			r := proPlanRequest()
			r.Features[1].Limit = lo.ToPtr(-1)
			return r
		}},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, err := s.service.UpsertPlan(s.GetContext(), tt.code, tt.req())
			s.Error(err)
			s.True(ierr.IsValidation(err))
		})
	}

	plans, err := s.GetStores().PlanRepo.List(s.GetContext(), types.NewPlanFilter())
	s.Require().NoError(err)
	s.Empty(plans)
}

func (s *PlanServiceSuite) TestGetPlanByCodeCountsAssignments() {
	p := s.CreatePlan("pro", 4900, testutil.NewFeature("sso", true, nil))
	s.CreateSubscription("tenant-a", p, types.SubscriptionStatusActive, types.PaymentProviderManual)
	s.CreateSubscription("tenant-b", p, types.SubscriptionStatusTrialing, types.PaymentProviderManual)

	resp, err := s.service.GetPlanByCode(s.GetContext(), "pro")
	s.Require().NoError(err)
	s.Equal(2, resp.AssignmentCount)
	s.Len(resp.Features, 1)

	_, err = s.service.GetPlanByCode(s.GetContext(), "missing")
	s.True(ierr.IsNotFound(err))
}

func (s *PlanServiceSuite) TestListPlans() {
	s.CreatePlan("starter", 900)
	s.CreatePlan("pro", 4900)

	req := proPlanRequest()
	req.IsActive = lo.ToPtr(false)
	_, err := s.service.UpsertPlan(s.GetContext(), "legacy", req)
	s.Require().NoError(err)

	active, err := s.service.ListPlans(s.GetContext(), false)
	s.Require().NoError(err)
	s.Len(active.Items, 2)
	s.Equal(2, active.Pagination.Total)
	s.Equal("starter", active.Items[0].Code)
	s.Equal("pro", active.Items[1].Code)

	all, err := s.service.ListPlans(s.GetContext(), true)
	s.Require().NoError(err)
	s.Len(all.Items, 3)
}

func (s *PlanServiceSuite) TestListPlansCountsFreshWithCache() {
	cfg := *s.GetConfig()
	cfg.Cache.Enabled = true
	params := newTestServiceParams(&s.BaseServiceTestSuite)
	params.Config = &cfg
	params.Cache = cache.NewInMemoryCache(&cfg, s.GetLogger())
	plans := NewPlanService(params)
	subs := NewSubscriptionService(params)

	s.CreatePlan("pro", 4900)

	before, err := plans.ListPlans(s.GetContext(), false)
	s.Require().NoError(err)
	s.Require().Len(before.Items, 1)
	s.Equal(0, before.Items[0].AssignmentCount)

	_, err = subs.AssignPlan(s.GetContext(), "tenant-a", dto.AssignPlanRequest{PlanCode: "pro"})
	s.Require().NoError(err)

	after, err := plans.ListPlans(s.GetContext(), false)
	s.Require().NoError(err)
	s.Require().Len(after.Items, 1)
	s.Equal(1, after.Items[0].AssignmentCount)
	s.Equal(0, before.Items[0].AssignmentCount)
}
