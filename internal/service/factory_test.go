package service

import (
	"github.com/pewsoft/subscriptions/internal/testutil"
)

// newTestServiceParams wires the in-memory stores and fake providers of the base suite
func newTestServiceParams(s *testutil.BaseServiceTestSuite) ServiceParams {
	stores := s.GetStores()
	return NewServiceParams(
		s.GetLogger(),
		s.GetConfig(),
		s.GetDB(),
		s.GetCache(),
		s.GetSentry(),
		stores.PlanRepo,
		stores.SubscriptionRepo,
		stores.OverrideRepo,
		stores.BillingRepo,
		stores.WebhookEventRepo,
		stores.AuditRepo,
		stores.DriftRepo,
		s.GetIntegrations(),
		s.GetReminderPublisher(),
	)
}
