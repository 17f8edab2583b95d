package service

import (
	"net/http"
	"testing"
	"time"

	"github.com/pewsoft/subscriptions/internal/api/dto"
	"github.com/pewsoft/subscriptions/internal/domain/billing"
	"github.com/pewsoft/subscriptions/internal/domain/drift"
	"github.com/pewsoft/subscriptions/internal/domain/plan"
	"github.com/pewsoft/subscriptions/internal/domain/subscription"
	ierr "github.com/pewsoft/subscriptions/internal/errors"
	"github.com/pewsoft/subscriptions/internal/integration/base"
	"github.com/pewsoft/subscriptions/internal/testutil"
	"github.com/pewsoft/subscriptions/internal/types"
	"github.com/samber/lo"
	"github.com/stretchr/testify/suite"
)

type ReconciliationServiceSuite struct {
	testutil.BaseServiceTestSuite
	service ReconciliationService
	starter *plan.Plan
	pro     *plan.Plan
}

func TestReconciliationService(t *testing.T) {
	suite.Run(t, new(ReconciliationServiceSuite))
}

func (s *ReconciliationServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.service = NewReconciliationService(newTestServiceParams(&s.BaseServiceTestSuite))
	s.starter = s.CreatePlan("starter", 900, testutil.NewFeature("sso", false, nil))
	s.pro = s.CreatePlan("pro", 4900, testutil.NewFeature("sso", true, nil))
}

// deliver scripts event on the fake Stripe provider and runs it through the webhook path
func (s *ReconciliationServiceSuite) deliver(event *base.Event) (*dto.WebhookResponse, error) {
	event.Provider = types.PaymentProviderStripe
	s.GetStripe().Event = event
	return s.service.HandleWebhook(s.GetContext(), types.PaymentProviderStripe, []byte("{}"), http.Header{})
}

func (s *ReconciliationServiceSuite) mustDeliver(event *base.Event) *dto.WebhookResponse {
	resp, err := s.deliver(event)
	s.Require().NoError(err)
	return resp
}

// outcome returns the outcome recorded on the webhook audit row of eventID
func (s *ReconciliationServiceSuite) outcome(eventID string) string {
	for _, l := range s.GetStores().AuditRepo.ByAction(types.AuditActionWebhookProcessed) {
		if l.EntityID == eventID {
			outcome, _ := l.Metadata["outcome"].(string)
			return outcome
		}
	}
	s.Failf("missing webhook audit", "event %s", eventID)
	return ""
}

func (s *ReconciliationServiceSuite) reload(id string) *subscription.Subscription {
	sub, err := s.GetStores().SubscriptionRepo.Get(s.GetContext(), id)
	s.Require().NoError(err)
	return sub
}

func (s *ReconciliationServiceSuite) current(tenantID string) *subscription.Subscription {
	sub, err := s.GetStores().SubscriptionRepo.GetCurrent(s.GetContext(), tenantID)
	s.Require().NoError(err)
	return sub
}

func stripeRemote(tenantID, planCode string, status types.SubscriptionStatus) *base.RemoteSubscription {
	return &base.RemoteSubscription{
		Refs: subscription.ProviderRefs{
			Provider:        types.PaymentProviderStripe,
			CustomerRef:     "cus_" + tenantID,
			SubscriptionRef: "sub_" + tenantID,
		},
		TenantID: tenantID,
		PlanCode: planCode,
		Status:   status,
	}
}

func (s *ReconciliationServiceSuite) TestCheckoutCreatesSubscription() {
	old := s.CreateSubscription("tenant-a", s.starter, types.SubscriptionStatusActive, types.PaymentProviderManual)

	periodEnd := s.GetNow().AddDate(0, 1, 0)
	remote := stripeRemote("tenant-a", "pro", "")
	remote.CurrentPeriodEnd = &periodEnd

	resp := s.mustDeliver(&base.Event{
		ID:           "evt_checkout",
		Type:         "checkout.session.completed",
		Kind:         types.ProviderEventCheckoutCompleted,
		TenantID:     "tenant-a",
		Subscription: remote,
	})
	s.Equal("evt_checkout", resp.EventID)
	s.False(resp.Duplicate)
	s.Equal(outcomeCreated, s.outcome("evt_checkout"))

	sub := s.current("tenant-a")
	s.Equal(s.pro.ID, sub.PlanID)
	s.Equal(types.SubscriptionStatusActive, sub.Status)
	s.Equal(types.PaymentProviderStripe, sub.Provider)
	s.Equal("sub_tenant-a", sub.SubscriptionRef())
	s.Equal("cus_tenant-a", sub.CustomerRef())
	s.True(periodEnd.Equal(*sub.CurrentPeriodEnd))

	s.Equal(types.SubscriptionStatusCanceled, s.reload(old.ID).Status)

	created := s.GetStores().AuditRepo.ByAction(types.AuditActionSubscriptionCreated)
	s.Require().Len(created, 1)
	s.Equal(old.ID, created[0].Metadata["replaced_subscription_id"])
	s.Equal(types.ActorTypeWebhook, created[0].ActorType)

	// no provider fetch when the event already carries the period
	s.Equal(0, s.GetStripe().CallCount(testutil.OpGetSubscription))
	s.Equal(1, s.GetDB().(*testutil.MockPostgresClient).Transactions())
}

func (s *ReconciliationServiceSuite) TestCheckoutFetchesMissingPeriod() {
	periodEnd := s.GetNow().AddDate(0, 0, 14)
	s.GetStripe().Remote["sub_tenant-a"] = &base.RemoteSubscription{
		Refs: subscription.ProviderRefs{
			Provider:        types.PaymentProviderStripe,
			SubscriptionRef: "sub_tenant-a",
			PriceRef:        "price_pro",
		},
		Status:           types.SubscriptionStatusTrialing,
		TrialEndsAt:      &periodEnd,
		CurrentPeriodEnd: &periodEnd,
	}

	s.mustDeliver(&base.Event{
		ID:           "evt_checkout",
		Kind:         types.ProviderEventCheckoutCompleted,
		Subscription: stripeRemote("tenant-a", "pro", ""),
	})

	s.Equal(1, s.GetStripe().CallCount(testutil.OpGetSubscription))
	sub := s.current("tenant-a")
	s.Equal(types.SubscriptionStatusTrialing, sub.Status)
	s.Equal("cus_tenant-a", sub.CustomerRef())
	s.True(periodEnd.Equal(*sub.CurrentPeriodEnd))
	s.True(periodEnd.Equal(*sub.TrialEndsAt))
}

func (s *ReconciliationServiceSuite) TestCheckoutFetchFailureKeepsEvent() {
	s.GetStripe().FailWith(testutil.OpGetSubscription, ierr.NewError("boom").Mark(ierr.ErrProvider))

	s.mustDeliver(&base.Event{
		ID:           "evt_checkout",
		Kind:         types.ProviderEventCheckoutCompleted,
		Subscription: stripeRemote("tenant-a", "pro", ""),
	})

	s.Equal(outcomeCreated, s.outcome("evt_checkout"))
	s.Equal(s.pro.ID, s.current("tenant-a").PlanID)
}

func (s *ReconciliationServiceSuite) TestCheckoutOutcomes() {
	s.Run("no tenant", func() {
		s.mustDeliver(&base.Event{
			ID:           "evt_no_tenant",
			Kind:         types.ProviderEventCheckoutCompleted,
			Subscription: stripeRemote("", "pro", types.SubscriptionStatusActive),
		})
		s.Equal(outcomeUnresolvedTenant, s.outcome("evt_no_tenant"))
	})

	s.Run("unknown plan", func() {
		remote := stripeRemote("tenant-b", "enterprise", types.SubscriptionStatusActive)
		remote.Refs.PriceRef = "price_enterprise"
		s.mustDeliver(&base.Event{
			ID:           "evt_unknown_plan",
			Kind:         types.ProviderEventCheckoutCompleted,
			Subscription: remote,
		})
		s.Equal(outcomeUnknownPlan, s.outcome("evt_unknown_plan"))
		_, err := s.GetStores().SubscriptionRepo.GetCurrent(s.GetContext(), "tenant-b")
		s.True(ierr.IsNotFound(err))
	})

	s.Run("plan from price ref", func() {
		remote := stripeRemote("tenant-c", "", types.SubscriptionStatusActive)
		remote.Refs.PriceRef = "price_starter"
		s.mustDeliver(&base.Event{
			ID:           "evt_price_ref",
			Kind:         types.ProviderEventSubscriptionUpdated,
			Subscription: remote,
		})
		s.Equal(outcomeCreated, s.outcome("evt_price_ref"))
		s.Equal(s.starter.ID, s.current("tenant-c").PlanID)
	})

	s.Run("not live", func() {
		s.mustDeliver(&base.Event{
			ID:           "evt_not_live",
			Kind:         types.ProviderEventSubscriptionUpdated,
			Subscription: stripeRemote("tenant-d", "pro", types.SubscriptionStatusExpired),
		})
		s.Equal(outcomeNotLive, s.outcome("evt_not_live"))
		has, err := s.GetStores().SubscriptionRepo.HasHistory(s.GetContext(), "tenant-d")
		s.Require().NoError(err)
		s.False(has)
	})
}

func (s *ReconciliationServiceSuite) TestUpdateBeforeCheckoutConverges() {
	s.mustDeliver(&base.Event{
		ID:           "evt_updated",
		Kind:         types.ProviderEventSubscriptionUpdated,
		Subscription: stripeRemote("tenant-a", "pro", types.SubscriptionStatusActive),
	})
	s.Equal(outcomeCreated, s.outcome("evt_updated"))
	first := s.current("tenant-a")

	s.mustDeliver(&base.Event{
		ID:           "evt_checkout",
		Kind:         types.ProviderEventCheckoutCompleted,
		Subscription: stripeRemote("tenant-a", "pro", types.SubscriptionStatusActive),
	})
	s.Equal(outcomeApplied, s.outcome("evt_checkout"))

	filter := types.NewSubscriptionFilter()
	filter.TenantID = "tenant-a"
	subs, err := s.GetStores().SubscriptionRepo.List(s.GetContext(), filter)
	s.Require().NoError(err)
	s.Require().Len(subs, 1)
	s.Equal(first.ID, subs[0].ID)
}

func (s *ReconciliationServiceSuite) TestDuplicateEventIsNotReapplied() {
	sub := s.CreateSubscription("tenant-a", s.starter, types.SubscriptionStatusActive, types.PaymentProviderStripe,
		testutil.WithProviderRefs("cus_tenant-a", "sub_tenant-a"))

	event := &base.Event{
		ID:           "evt_failed",
		Kind:         types.ProviderEventPaymentFailed,
		TenantID:     "tenant-a",
		Subscription: stripeRemote("tenant-a", "", ""),
	}
	resp := s.mustDeliver(event)
	s.False(resp.Duplicate)
	afterFirst := s.reload(sub.ID)
	s.Equal(types.SubscriptionStatusPastDue, afterFirst.Status)

	resp = s.mustDeliver(event)
	s.True(resp.Duplicate)
	s.Equal(afterFirst.Version, s.reload(sub.ID).Version)
	s.Len(s.GetStores().AuditRepo.ByAction(types.AuditActionWebhookProcessed), 1)
	s.Len(s.GetStores().AuditRepo.ByAction(types.AuditActionSubscriptionTransitioned), 1)
}

func (s *ReconciliationServiceSuite) TestIgnoredEventLeavesNoTrace() {
	resp := s.mustDeliver(&base.Event{
		ID:   "evt_ignored",
		Type: "customer.created",
		Kind: types.ProviderEventIgnored,
	})
	s.Equal(types.ProviderEventIgnored, resp.Kind)
	s.Empty(s.GetStores().AuditRepo.ByAction(types.AuditActionWebhookProcessed))

	seen, err := s.GetStores().WebhookEventRepo.Exists(s.GetContext(), types.PaymentProviderStripe, "evt_ignored")
	s.Require().NoError(err)
	s.False(seen)
}

func (s *ReconciliationServiceSuite) TestRejectedWebhook() {
	s.GetStripe().Event = nil
	_, err := s.service.HandleWebhook(s.GetContext(), types.PaymentProviderStripe, []byte("{}"), http.Header{})
	s.True(ierr.IsValidation(err))

	_, err = s.service.HandleWebhook(s.GetContext(), types.PaymentProvider("ADYEN"), []byte("{}"), http.Header{})
	s.Error(err)
}

func (s *ReconciliationServiceSuite) TestUpdateSwitchesPlanAndClearsPendingChange() {
	sub := s.CreateSubscription("tenant-a", s.starter, types.SubscriptionStatusActive, types.PaymentProviderStripe,
		testutil.WithProviderRefs("cus_tenant-a", "sub_tenant-a"),
		func(sub *subscription.Subscription) {
			sub.SchedulePlanChange("pro", *sub.CurrentPeriodEnd)
		})

	remote := stripeRemote("tenant-a", "", types.SubscriptionStatusActive)
	remote.Refs.PriceRef = "price_pro"
	remote.CancelAtPeriodEnd = true
	s.mustDeliver(&base.Event{
		ID:           "evt_updated",
		Kind:         types.ProviderEventSubscriptionUpdated,
		Subscription: remote,
	})

	updated := s.reload(sub.ID)
	s.Equal(outcomeApplied, s.outcome("evt_updated"))
	s.Equal(s.pro.ID, updated.PlanID)
	s.False(updated.HasPendingChange())
	s.True(updated.CancelAtPeriodEnd)
	s.Equal("price_pro", updated.ProviderMetadata.PriceRef)
	s.Equal(types.SubscriptionStatusActive, updated.Status)
}

func (s *ReconciliationServiceSuite) TestUpdateDrivesTransition() {
	sub := s.CreateSubscription("tenant-a", s.starter, types.SubscriptionStatusActive, types.PaymentProviderStripe,
		testutil.WithProviderRefs("cus_tenant-a", "sub_tenant-a"))

	remote := stripeRemote("tenant-a", "", types.SubscriptionStatusPastDue)
	remote.RawStatus = "past_due"
	s.mustDeliver(&base.Event{
		ID:           "evt_past_due",
		Kind:         types.ProviderEventSubscriptionUpdated,
		Subscription: remote,
	})

	updated := s.reload(sub.ID)
	s.Equal(types.SubscriptionStatusPastDue, updated.Status)
	s.NotNil(updated.PastDueSince)

	logs := s.GetStores().AuditRepo.ByAction(types.AuditActionSubscriptionTransitioned)
	s.Require().Len(logs, 1)
	s.Equal(reasonProviderSync, logs[0].Reason)
	s.Equal("evt_past_due", logs[0].Metadata["event_id"])
	s.Equal("past_due", logs[0].Metadata["provider_status"])

	s.mustDeliver(&base.Event{
		ID:           "evt_canceled",
		Kind:         types.ProviderEventSubscriptionCanceled,
		Subscription: stripeRemote("tenant-a", "", types.SubscriptionStatusActive),
	})
	updated = s.reload(sub.ID)
	s.Equal(types.SubscriptionStatusCanceled, updated.Status)
	s.NotNil(updated.EndedAt)
}

func (s *ReconciliationServiceSuite) TestIllegalProviderTransitionKeepsStatus() {
	sub := s.CreateSubscription("tenant-a", s.starter, types.SubscriptionStatusPaused, types.PaymentProviderStripe,
		testutil.WithProviderRefs("cus_tenant-a", "sub_tenant-a"))

	periodEnd := s.GetNow().AddDate(0, 2, 0)
	remote := stripeRemote("tenant-a", "", types.SubscriptionStatusPastDue)
	remote.CurrentPeriodEnd = &periodEnd
	s.mustDeliver(&base.Event{
		ID:           "evt_past_due",
		Kind:         types.ProviderEventSubscriptionUpdated,
		Subscription: remote,
	})

	updated := s.reload(sub.ID)
	s.Equal(outcomeIllegalTransition, s.outcome("evt_past_due"))
	s.Equal(types.SubscriptionStatusPaused, updated.Status)
	s.True(periodEnd.Equal(*updated.CurrentPeriodEnd))
	s.Empty(s.GetStores().AuditRepo.ByAction(types.AuditActionSubscriptionTransitioned))
}

func (s *ReconciliationServiceSuite) TestClosedRowIsNotReopened() {
	sub := s.CreateSubscription("tenant-a", s.starter, types.SubscriptionStatusCanceled, types.PaymentProviderStripe,
		testutil.WithProviderRefs("cus_tenant-a", "sub_tenant-a"),
		func(sub *subscription.Subscription) { sub.EndedAt = lo.ToPtr(s.GetNow()) })

	s.mustDeliver(&base.Event{
		ID:           "evt_updated",
		Kind:         types.ProviderEventSubscriptionUpdated,
		Subscription: stripeRemote("tenant-a", "", types.SubscriptionStatusActive),
	})

	s.Equal(outcomeTerminalRow, s.outcome("evt_updated"))
	s.Equal(types.SubscriptionStatusCanceled, s.reload(sub.ID).Status)
}

func (s *ReconciliationServiceSuite) TestCancelForUnknownSubscription() {
	s.mustDeliver(&base.Event{
		ID:           "evt_canceled",
		Kind:         types.ProviderEventSubscriptionCanceled,
		Subscription: stripeRemote("tenant-a", "pro", ""),
	})

	s.Equal(outcomeNotFound, s.outcome("evt_canceled"))
	has, err := s.GetStores().SubscriptionRepo.HasHistory(s.GetContext(), "tenant-a")
	s.Require().NoError(err)
	s.False(has)
}

func (s *ReconciliationServiceSuite) TestUnlinkedRowIsAdoptedByTenant() {
	sub := s.CreateSubscription("tenant-a", s.starter, types.SubscriptionStatusTrialing, types.PaymentProviderStripe)

	s.mustDeliver(&base.Event{
		ID:           "evt_updated",
		Kind:         types.ProviderEventSubscriptionUpdated,
		Subscription: stripeRemote("tenant-a", "", types.SubscriptionStatusActive),
	})

	updated := s.reload(sub.ID)
	s.Equal(types.SubscriptionStatusActive, updated.Status)
	s.Equal("sub_tenant-a", updated.SubscriptionRef())
	s.Equal("cus_tenant-a", updated.CustomerRef())
}

func (s *ReconciliationServiceSuite) TestPaymentEvents() {
	sub := s.CreateSubscription("tenant-a", s.starter, types.SubscriptionStatusActive, types.PaymentProviderStripe,
		testutil.WithProviderRefs("cus_tenant-a", "sub_tenant-a"))

	s.mustDeliver(&base.Event{
		ID:           "evt_failed",
		Kind:         types.ProviderEventPaymentFailed,
		Subscription: stripeRemote("tenant-a", "", ""),
		Invoice: &billing.Invoice{
			Provider:    types.PaymentProviderStripe,
			ProviderRef: "in_1",
			AmountMinor: 900,
			Currency:    "USD",
			Status:      "open",
		},
	})
	s.Equal(types.SubscriptionStatusPastDue, s.reload(sub.ID).Status)

	s.mustDeliver(&base.Event{
		ID:           "evt_paid",
		Kind:         types.ProviderEventPaymentSucceeded,
		Subscription: stripeRemote("tenant-a", "", ""),
		Invoice: &billing.Invoice{
			Provider:        types.PaymentProviderStripe,
			ProviderRef:     "in_1",
			AmountMinor:     900,
			AmountPaidMinor: 900,
			Currency:        "USD",
			Status:          "paid",
		},
	})
	updated := s.reload(sub.ID)
	s.Equal(types.SubscriptionStatusActive, updated.Status)
	s.Nil(updated.PastDueSince)
	s.Equal(outcomeApplied, s.outcome("evt_paid"))

	invoices := s.GetStores().BillingRepo.Invoices()
	s.Require().Len(invoices, 1)
	s.Equal("tenant-a", invoices[0].TenantID)
	s.Equal(sub.ID, lo.FromPtr(invoices[0].SubscriptionID))
	s.Equal("paid", invoices[0].Status)
	s.Equal(int64(900), invoices[0].AmountPaidMinor)
}

func (s *ReconciliationServiceSuite) TestPaymentForClosedRowOnlyMirrors() {
	s.CreateSubscription("tenant-a", s.starter, types.SubscriptionStatusExpired, types.PaymentProviderStripe,
		testutil.WithProviderRefs("cus_tenant-a", "sub_tenant-a"))

	s.mustDeliver(&base.Event{
		ID:           "evt_paid",
		Kind:         types.ProviderEventPaymentSucceeded,
		Subscription: stripeRemote("tenant-a", "", ""),
		Invoice: &billing.Invoice{
			Provider:    types.PaymentProviderStripe,
			ProviderRef: "in_late",
			Status:      "paid",
		},
	})

	s.Equal(outcomeTerminalRow, s.outcome("evt_paid"))
	s.Len(s.GetStores().BillingRepo.Invoices(), 1)
}

func (s *ReconciliationServiceSuite) TestMirrors() {
	s.mustDeliver(&base.Event{
		ID:   "evt_invoice",
		Kind: types.ProviderEventInvoiceSynced,
		Invoice: &billing.Invoice{
			TenantID:    "tenant-a",
			Provider:    types.PaymentProviderStripe,
			ProviderRef: "in_9",
			AmountMinor: 4900,
			Status:      "paid",
		},
	})
	s.Equal(outcomeMirrored, s.outcome("evt_invoice"))

	s.mustDeliver(&base.Event{
		ID:   "evt_refund",
		Kind: types.ProviderEventRefundSynced,
		Refund: &billing.Refund{
			Provider:    types.PaymentProviderStripe,
			ProviderRef: "re_1",
			PaymentRef:  "in_9",
			AmountMinor: 4900,
			Status:      "succeeded",
		},
	})
	refunds := s.GetStores().BillingRepo.Refunds()
	s.Require().Len(refunds, 1)
	s.Equal("tenant-a", refunds[0].TenantID)

	s.mustDeliver(&base.Event{
		ID:   "evt_dispute",
		Kind: types.ProviderEventDisputeSynced,
		Dispute: &billing.Dispute{
			Provider:    types.PaymentProviderStripe,
			ProviderRef: "dp_1",
			PaymentRef:  "in_unknown",
		},
	})
	s.Equal(outcomeUnresolvedTenant, s.outcome("evt_dispute"))
	s.Empty(s.GetStores().BillingRepo.Disputes())

	s.mustDeliver(&base.Event{
		ID:   "evt_payout",
		Kind: types.ProviderEventPayoutSynced,
		Payout: &billing.Payout{
			TenantID:    "tenant-a",
			Provider:    types.PaymentProviderStripe,
			ProviderRef: "po_1",
			AmountMinor: 10000,
			Status:      "paid",
		},
	})
	s.Len(s.GetStores().BillingRepo.Payouts(), 1)
}

func (s *ReconciliationServiceSuite) TestBackfillMetadata() {
	nested := s.CreateSubscription("tenant-a", s.starter, types.SubscriptionStatusActive, types.PaymentProviderStripe,
		func(sub *subscription.Subscription) {
			sub.RawProviderPayload = types.JSONMap{
				"id":       "sub_123",
				"customer": map[string]interface{}{"id": "cus_123"},
			}
		})
	flat := s.CreateSubscription("tenant-b", s.starter, types.SubscriptionStatusActive, types.PaymentProviderPaystack,
		func(sub *subscription.Subscription) {
			sub.RawProviderPayload = types.JSONMap{
				"subscription_code": "SUB_abc",
				"customer_code":     "CUS_abc",
				"email_token":       "tok_abc",
			}
		})
	empty := s.CreateSubscription("tenant-c", s.starter, types.SubscriptionStatusActive, types.PaymentProviderStripe,
		func(sub *subscription.Subscription) {
			sub.RawProviderPayload = types.JSONMap{"object": "subscription"}
		})
	s.CreateSubscription("tenant-d", s.starter, types.SubscriptionStatusActive, types.PaymentProviderManual)

	dry, err := s.service.BackfillMetadata(s.GetContext(), dto.BackfillRequest{DryRun: true})
	s.Require().NoError(err)
	s.True(dry.DryRun)
	s.Equal(3, dry.Scanned)
	s.Equal(2, dry.Updated)
	s.Equal(1, dry.Skipped)
	s.Empty(s.reload(nested.ID).SubscriptionRef())

	resp, err := s.service.BackfillMetadata(s.GetContext(), dto.BackfillRequest{})
	s.Require().NoError(err)
	s.Equal(2, resp.Updated)
	s.Equal(1, resp.Skipped)
	s.Zero(resp.Failed)

	updated := s.reload(nested.ID)
	s.Equal("sub_123", updated.SubscriptionRef())
	s.Equal("cus_123", updated.CustomerRef())

	updated = s.reload(flat.ID)
	s.Equal("SUB_abc", updated.SubscriptionRef())
	s.Equal("tok_abc", updated.ProviderMetadata.EmailToken)

	s.Empty(s.reload(empty.ID).SubscriptionRef())
	s.Len(s.GetStores().AuditRepo.ByAction(types.AuditActionMetadataBackfilled), 2)

	_, err = s.service.BackfillMetadata(s.GetContext(), dto.BackfillRequest{Limit: 5000})
	s.True(ierr.IsValidation(err))
}

func (s *ReconciliationServiceSuite) TestBackfillMetadataSkipsUnchangedRows() {
	// the payload only carries the customer, so the subscription ref stays missing
	partial := s.CreateSubscription("tenant-a", s.starter, types.SubscriptionStatusActive, types.PaymentProviderStripe,
		func(sub *subscription.Subscription) {
			sub.RawProviderPayload = types.JSONMap{"customer": "cus_only"}
		})

	resp, err := s.service.BackfillMetadata(s.GetContext(), dto.BackfillRequest{})
	s.Require().NoError(err)
	s.Equal(1, resp.Scanned)
	s.Equal(1, resp.Updated)
	s.Equal("cus_only", s.reload(partial.ID).CustomerRef())

	for _, dryRun := range []bool{true, false} {
		resp, err = s.service.BackfillMetadata(s.GetContext(), dto.BackfillRequest{DryRun: dryRun})
		s.Require().NoError(err)
		s.Equal(1, resp.Scanned)
		s.Zero(resp.Updated)
		s.Equal(1, resp.Skipped)
	}

	s.Empty(s.reload(partial.ID).SubscriptionRef())
	s.Len(s.GetStores().AuditRepo.ByAction(types.AuditActionMetadataBackfilled), 1)
}

func (s *ReconciliationServiceSuite) TestGetDrift() {
	resp, err := s.service.GetDrift(s.GetContext(), dto.DriftRequest{})
	s.Require().NoError(err)
	s.NotNil(resp.IntentsWithoutDonation)
	s.NotNil(resp.DonationsWithoutIntent)
	s.Empty(resp.IntentsWithoutDonation)

	store := s.GetStores().DriftRepo
	store.Intents = []*drift.IntentWithoutDonation{
		{PaymentIntentID: "pi_1", TenantID: "tenant-a", CreatedAt: s.GetNow()},
		{PaymentIntentID: "pi_2", TenantID: "tenant-b", CreatedAt: s.GetNow()},
	}
	store.Donations = []*drift.DonationWithoutIntent{
		{DonationID: "don_1", TenantID: "tenant-a", CreatedAt: s.GetNow()},
	}

	resp, err = s.service.GetDrift(s.GetContext(), dto.DriftRequest{TenantID: "tenant-a"})
	s.Require().NoError(err)
	s.Require().Len(resp.IntentsWithoutDonation, 1)
	s.Equal("pi_1", resp.IntentsWithoutDonation[0].PaymentIntentID)
	s.Len(resp.DonationsWithoutIntent, 1)

	resp, err = s.service.GetDrift(s.GetContext(), dto.DriftRequest{Limit: 1})
	s.Require().NoError(err)
	s.Len(resp.IntentsWithoutDonation, 1)
}

func (s *ReconciliationServiceSuite) TestPullSync() {
	drifted := s.CreateSubscription("tenant-a", s.starter, types.SubscriptionStatusActive, types.PaymentProviderStripe,
		testutil.WithProviderRefs("cus_tenant-a", "sub_tenant-a"))
	inSync := s.CreateSubscription("tenant-b", s.starter, types.SubscriptionStatusActive, types.PaymentProviderStripe,
		testutil.WithProviderRefs("cus_tenant-b", "sub_tenant-b"))
	s.CreateSubscription("tenant-c", s.starter, types.SubscriptionStatusActive, types.PaymentProviderStripe,
		testutil.WithProviderRefs("cus_tenant-c", "sub_tenant-c"))
	// not scanned: other provider, unlinked and closed rows
	s.CreateSubscription("tenant-d", s.starter, types.SubscriptionStatusActive, types.PaymentProviderPaystack,
		testutil.WithProviderRefs("CUS_d", "SUB_d"))
	s.CreateSubscription("tenant-e", s.starter, types.SubscriptionStatusActive, types.PaymentProviderStripe)
	s.CreateSubscription("tenant-f", s.starter, types.SubscriptionStatusCanceled, types.PaymentProviderStripe,
		testutil.WithProviderRefs("cus_tenant-f", "sub_tenant-f"))

	s.GetStripe().Remote["sub_tenant-a"] = stripeRemote("tenant-a", "", types.SubscriptionStatusPastDue)
	s.GetStripe().Remote["sub_tenant-b"] = stripeRemote("tenant-b", "", types.SubscriptionStatusActive)

	resp, err := s.service.PullSync(s.GetContext(), types.PaymentProviderStripe, dto.PullSyncRequest{})
	s.Require().NoError(err)
	s.Equal(types.PaymentProviderStripe, resp.Provider)
	s.Equal(3, resp.Scanned)
	s.Equal(1, resp.Updated)
	s.Equal(1, resp.Unchanged)
	s.Equal(1, resp.Failed)

	// the missing subscription is not retried
	s.Equal(3, s.GetStripe().CallCount(testutil.OpGetSubscription))

	s.Equal(types.SubscriptionStatusPastDue, s.reload(drifted.ID).Status)
	s.Equal(types.SubscriptionStatusActive, s.reload(inSync.ID).Status)

	_, err = s.service.PullSync(s.GetContext(), types.PaymentProvider("ADYEN"), dto.PullSyncRequest{})
	s.True(ierr.IsValidation(err))
}

func (s *ReconciliationServiceSuite) TestPullSyncAppliesPeriodChange() {
	sub := s.CreateSubscription("tenant-a", s.starter, types.SubscriptionStatusActive, types.PaymentProviderStripe,
		testutil.WithProviderRefs("cus_tenant-a", "sub_tenant-a"))

	periodEnd := sub.CurrentPeriodEnd.Add(24 * time.Hour)
	remote := stripeRemote("tenant-a", "", types.SubscriptionStatusActive)
	remote.CurrentPeriodEnd = &periodEnd
	s.GetStripe().Remote["sub_tenant-a"] = remote

	resp, err := s.service.PullSync(s.GetContext(), types.PaymentProviderStripe, dto.PullSyncRequest{})
	s.Require().NoError(err)
	s.Equal(1, resp.Updated)
	s.True(periodEnd.Equal(*s.reload(sub.ID).CurrentPeriodEnd))
}
