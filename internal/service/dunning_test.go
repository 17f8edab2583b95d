package service

import (
	"errors"
	"testing"
	"time"

	"github.com/pewsoft/subscriptions/internal/api/dto"
	"github.com/pewsoft/subscriptions/internal/domain/plan"
	"github.com/pewsoft/subscriptions/internal/domain/subscription"
	ierr "github.com/pewsoft/subscriptions/internal/errors"
	"github.com/pewsoft/subscriptions/internal/testutil"
	"github.com/pewsoft/subscriptions/internal/types"
	"github.com/samber/lo"
	"github.com/stretchr/testify/suite"
)

type DunningServiceSuite struct {
	testutil.BaseServiceTestSuite
	service DunningService
	starter *plan.Plan
	pro     *plan.Plan
}

func TestDunningService(t *testing.T) {
	suite.Run(t, new(DunningServiceSuite))
}

func (s *DunningServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.service = NewDunningService(newTestServiceParams(&s.BaseServiceTestSuite))
	s.starter = s.CreatePlan("starter", 900)
	s.pro = s.CreatePlan("pro", 4900)
}

func (s *DunningServiceSuite) reload(id string) *subscription.Subscription {
	sub, err := s.GetStores().SubscriptionRepo.Get(s.GetContext(), id)
	s.Require().NoError(err)
	return sub
}

// pastDue creates a PAST_DUE row that entered dunning the given time ago
func (s *DunningServiceSuite) pastDue(tenantID string, ago time.Duration, mutate ...func(*subscription.Subscription)) *subscription.Subscription {
	since := s.GetNow().Add(-ago)
	mutate = append([]func(*subscription.Subscription){
		func(sub *subscription.Subscription) {
			sub.PastDueSince = lo.ToPtr(since)
			sub.EverPaid = true
		},
	}, mutate...)
	return s.CreateSubscription(tenantID, s.starter, types.SubscriptionStatusPastDue, types.PaymentProviderManual, mutate...)
}

func (s *DunningServiceSuite) TestPreview() {
	now := s.GetNow()
	old := s.pastDue("tenant-c", 10*day, func(sub *subscription.Subscription) {
		sub.LastReminderSentAt = lo.ToPtr(now.Add(-day))
	})
	due := s.pastDue("tenant-a", 5*day)
	s.pastDue("tenant-b", day)
	s.CreateSubscription("tenant-d", s.starter, types.SubscriptionStatusActive, types.PaymentProviderManual)

	resp, err := s.service.Preview(s.GetContext(), dto.DunningRequest{}, now)
	s.Require().NoError(err)
	s.Equal(3, resp.GraceDays)
	s.Require().Equal(2, resp.Total)
	s.Equal(old.ID, resp.Targets[0].SubscriptionID)
	s.True(resp.Targets[0].AlreadyReminded)
	s.Equal(10, resp.Targets[0].DaysPastDue)
	s.Equal(due.ID, resp.Targets[1].SubscriptionID)
	s.False(resp.Targets[1].AlreadyReminded)
	s.Equal(5, resp.Targets[1].DaysPastDue)

	resp, err = s.service.Preview(s.GetContext(), dto.DunningRequest{GraceDays: lo.ToPtr(0)}, now)
	s.Require().NoError(err)
	s.Equal(3, resp.Total)

	s.Empty(s.GetReminderPublisher().Reminders())
	s.Nil(s.reload(due.ID).LastReminderSentAt)
}

func (s *DunningServiceSuite) TestRunQueuesOneReminderPerWindow() {
	now := s.GetNow()
	sub := s.pastDue("tenant-a", 5*day)
	s.pastDue("tenant-b", 12*time.Hour)

	resp, err := s.service.Run(s.GetContext(), dto.DunningRequest{}, now)
	s.Require().NoError(err)
	s.Equal(1, resp.Scanned)
	s.Equal(1, resp.Queued)
	s.Zero(resp.Skipped)
	s.Require().Len(resp.Targets, 1)

	reminders := s.GetReminderPublisher().Reminders()
	s.Require().Len(reminders, 1)
	s.Equal(sub.ID, reminders[0].SubscriptionID)
	s.Equal("tenant-a", reminders[0].TenantID)
	s.Equal(5, reminders[0].DaysPastDue)
	s.NotEmpty(reminders[0].IdempotencyKey)

	updated := s.reload(sub.ID)
	s.Require().NotNil(updated.LastReminderSentAt)
	s.True(now.Equal(*updated.LastReminderSentAt))

	logs := s.GetStores().AuditRepo.ByAction(types.AuditActionReminderQueued)
	s.Require().Len(logs, 1)
	s.Equal(types.ActorTypeSystem, logs[0].ActorType)

	// same day
	resp, err = s.service.Run(s.GetContext(), dto.DunningRequest{}, now.Add(time.Minute))
	s.Require().NoError(err)
	s.Zero(resp.Scanned)
	s.Zero(resp.Queued)

	// later days of the same past due window; tenant-b is still inside its grace days
	resp, err = s.service.Run(s.GetContext(), dto.DunningRequest{}, now.Add(2*day))
	s.Require().NoError(err)
	s.Zero(resp.Scanned)
	s.Zero(resp.Queued)
	s.Len(s.GetReminderPublisher().Reminders(), 1)
}

func (s *DunningServiceSuite) TestGraceDaysBoundaryIsExclusive() {
	now := s.GetNow()
	edge := s.pastDue("tenant-a", 3*day)
	over := s.pastDue("tenant-b", 3*day+time.Minute)

	resp, err := s.service.Preview(s.GetContext(), dto.DunningRequest{}, now)
	s.Require().NoError(err)
	s.Require().Equal(1, resp.Total)
	s.Equal(over.ID, resp.Targets[0].SubscriptionID)

	run, err := s.service.Run(s.GetContext(), dto.DunningRequest{}, now)
	s.Require().NoError(err)
	s.Equal(1, run.Queued)
	s.Nil(s.reload(edge.ID).LastReminderSentAt)
	s.NotNil(s.reload(over.ID).LastReminderSentAt)
}

func (s *DunningServiceSuite) TestRunLimitSkipsRemindedRows() {
	now := s.GetNow()
	reminded := s.pastDue("tenant-old", 10*day, func(sub *subscription.Subscription) {
		sub.LastReminderSentAt = lo.ToPtr(now.Add(-day))
	})
	fresh := s.pastDue("tenant-new", 5*day)

	for i := 0; i < 3; i++ {
		resp, err := s.service.Run(s.GetContext(), dto.DunningRequest{Limit: 1}, now.Add(time.Duration(i)*time.Minute))
		s.Require().NoError(err)
		if i == 0 {
			s.Equal(1, resp.Scanned)
			s.Equal(1, resp.Queued)
			s.Equal(fresh.ID, resp.Targets[0].SubscriptionID)
			continue
		}
		s.Zero(resp.Queued)
	}

	s.NotNil(s.reload(fresh.ID).LastReminderSentAt)
	s.True(now.Add(-day).Equal(*s.reload(reminded.ID).LastReminderSentAt))
	s.Len(s.GetReminderPublisher().Reminders(), 1)

	// the preview still lists both
	preview, err := s.service.Preview(s.GetContext(), dto.DunningRequest{}, now)
	s.Require().NoError(err)
	s.Equal(2, preview.Total)
}

func (s *DunningServiceSuite) TestRunRemindsAgainAfterNewWindow() {
	now := s.GetNow()
	// reminded during an earlier past due window
	sub := s.pastDue("tenant-a", 4*day, func(sub *subscription.Subscription) {
		sub.LastReminderSentAt = lo.ToPtr(now.Add(-30 * day))
	})

	resp, err := s.service.Run(s.GetContext(), dto.DunningRequest{}, now)
	s.Require().NoError(err)
	s.Equal(1, resp.Queued)
	s.True(now.Equal(*s.reload(sub.ID).LastReminderSentAt))
}

func (s *DunningServiceSuite) TestRunDryRun() {
	sub := s.pastDue("tenant-a", 5*day)

	resp, err := s.service.Run(s.GetContext(), dto.DunningRequest{DryRun: true}, s.GetNow())
	s.Require().NoError(err)
	s.True(resp.DryRun)
	s.Equal(1, resp.Queued)

	s.Empty(s.GetReminderPublisher().Reminders())
	s.Nil(s.reload(sub.ID).LastReminderSentAt)
	s.Empty(s.GetStores().AuditRepo.ByAction(types.AuditActionReminderQueued))
}

func (s *DunningServiceSuite) TestRunPublishFailureKeepsStamp() {
	sub := s.pastDue("tenant-a", 5*day)
	s.GetReminderPublisher().Err = errors.New("broker down")

	resp, err := s.service.Run(s.GetContext(), dto.DunningRequest{}, s.GetNow())
	s.Require().NoError(err)
	s.Equal(1, resp.Queued)
	s.NotNil(s.reload(sub.ID).LastReminderSentAt)
}

func (s *DunningServiceSuite) TestRequestValidation() {
	_, err := s.service.Preview(s.GetContext(), dto.DunningRequest{GraceDays: lo.ToPtr(-1)}, s.GetNow())
	s.True(ierr.IsValidation(err))

	_, err = s.service.Run(s.GetContext(), dto.DunningRequest{Limit: 1001}, s.GetNow())
	s.True(ierr.IsValidation(err))
}

func (s *DunningServiceSuite) TestSweepExpiresTrials() {
	now := s.GetNow()
	trialing := func(tenantID string, provider types.PaymentProvider, endsAgo time.Duration, everPaid bool) *subscription.Subscription {
		return s.CreateSubscription(tenantID, s.starter, types.SubscriptionStatusTrialing, provider,
			func(sub *subscription.Subscription) {
				sub.TrialEndsAt = lo.ToPtr(now.Add(-endsAgo))
				sub.EverPaid = everPaid
			})
	}
	manual := trialing("tenant-a", types.PaymentProviderManual, time.Hour, false)
	managed := trialing("tenant-b", types.PaymentProviderStripe, day, false)
	paid := trialing("tenant-c", types.PaymentProviderManual, time.Hour, true)
	running := trialing("tenant-d", types.PaymentProviderManual, -day, false)

	resp, err := s.service.RunSweep(s.GetContext(), now)
	s.Require().NoError(err)
	s.Equal(1, resp.TrialsExpired)
	s.Zero(resp.Failed)

	expired := s.reload(manual.ID)
	s.Equal(types.SubscriptionStatusExpired, expired.Status)
	s.NotNil(expired.EndedAt)
	s.Equal(types.SubscriptionStatusTrialing, s.reload(managed.ID).Status)
	s.Equal(types.SubscriptionStatusTrialing, s.reload(paid.ID).Status)
	s.Equal(types.SubscriptionStatusTrialing, s.reload(running.ID).Status)

	// provider managed trials expire once the grace window has passed too
	resp, err = s.service.RunSweep(s.GetContext(), now.Add(3*day))
	s.Require().NoError(err)
	s.Equal(2, resp.TrialsExpired)
	s.Equal(types.SubscriptionStatusExpired, s.reload(managed.ID).Status)

	logs := s.GetStores().AuditRepo.ByAction(types.AuditActionSubscriptionTransitioned)
	s.Len(logs, 3)
	s.Equal(reasonTrialExpired, logs[0].Reason)
}

func (s *DunningServiceSuite) TestSweepExpiresGrace() {
	// grace 3 days plus final window 14 days
	paid := s.pastDue("tenant-a", 20*day)
	unpaid := s.pastDue("tenant-b", 18*day, func(sub *subscription.Subscription) { sub.EverPaid = false })
	recent := s.pastDue("tenant-c", 10*day)

	resp, err := s.service.RunSweep(s.GetContext(), s.GetNow())
	s.Require().NoError(err)
	s.Equal(2, resp.GraceExpired)

	canceled := s.reload(paid.ID)
	s.Equal(types.SubscriptionStatusCanceled, canceled.Status)
	s.NotNil(canceled.CanceledAt)
	s.Equal(types.SubscriptionStatusExpired, s.reload(unpaid.ID).Status)
	s.Equal(types.SubscriptionStatusPastDue, s.reload(recent.ID).Status)
}

func (s *DunningServiceSuite) TestSweepAppliesPendingChanges() {
	now := s.GetNow()
	effectiveAt := now.Add(-time.Minute)
	scheduled := func(code string) func(*subscription.Subscription) {
		return func(sub *subscription.Subscription) {
			sub.SchedulePlanChange(code, effectiveAt)
		}
	}

	manual := s.CreateSubscription("tenant-a", s.starter, types.SubscriptionStatusActive, types.PaymentProviderManual,
		scheduled("pro"))
	linked := s.CreateSubscription("tenant-b", s.starter, types.SubscriptionStatusActive, types.PaymentProviderStripe,
		testutil.WithProviderRefs("cus_b", "sub_b"), scheduled("pro"))
	later := s.CreateSubscription("tenant-c", s.starter, types.SubscriptionStatusActive, types.PaymentProviderManual,
		func(sub *subscription.Subscription) { sub.SchedulePlanChange("pro", now.Add(day)) })

	resp, err := s.service.RunSweep(s.GetContext(), now)
	s.Require().NoError(err)
	s.Equal(2, resp.PlanChangesApplied)
	s.Zero(resp.Failed)

	updated := s.reload(manual.ID)
	s.Equal(s.pro.ID, updated.PlanID)
	s.False(updated.HasPendingChange())
	s.True(effectiveAt.Equal(*updated.CurrentPeriodStart))
	s.True(s.pro.PeriodEnd(effectiveAt).Equal(*updated.CurrentPeriodEnd))

	updated = s.reload(linked.ID)
	s.Equal(s.pro.ID, updated.PlanID)
	s.Equal("price_pro", updated.ProviderMetadata.PriceRef)
	change := s.GetStripe().LastChange
	s.Require().NotNil(change)
	s.False(change.Prorate)
	s.Equal("price_pro", change.PriceRef)
	s.Equal("sub_b", change.Refs.SubscriptionRef)
	s.NotEmpty(change.IdempotencyKey)

	s.True(s.reload(later.ID).HasPendingChange())
	s.Len(s.GetStores().AuditRepo.ByAction(types.AuditActionPlanChanged), 2)
}

func (s *DunningServiceSuite) TestSweepPendingChangeFailures() {
	now := s.GetNow()
	legacy := s.CreatePlan("legacy", 500)
	legacy.IsActive = false
	s.Require().NoError(s.GetStores().PlanRepo.Update(s.GetContext(), legacy))

	inactive := s.CreateSubscription("tenant-a", s.starter, types.SubscriptionStatusActive, types.PaymentProviderManual,
		func(sub *subscription.Subscription) { sub.SchedulePlanChange("legacy", now.Add(-time.Minute)) })
	linked := s.CreateSubscription("tenant-b", s.starter, types.SubscriptionStatusActive, types.PaymentProviderStripe,
		testutil.WithProviderRefs("cus_b", "sub_b"),
		func(sub *subscription.Subscription) { sub.SchedulePlanChange("pro", now.Add(-time.Minute)) })
	s.GetStripe().FailWith(testutil.OpChangePlan, ierr.NewError("card declined").Mark(ierr.ErrProvider))

	resp, err := s.service.RunSweep(s.GetContext(), now)
	s.Require().NoError(err)
	s.Zero(resp.PlanChangesApplied)
	s.Equal(2, resp.Failed)

	s.True(s.reload(inactive.ID).HasPendingChange())
	updated := s.reload(linked.ID)
	s.True(updated.HasPendingChange())
	s.Equal(s.starter.ID, updated.PlanID)
}

func (s *DunningServiceSuite) TestSweepEndsScheduledCancellations() {
	now := s.GetNow()
	ended := func(sub *subscription.Subscription) {
		sub.CancelAtPeriodEnd = true
		sub.CurrentPeriodEnd = lo.ToPtr(now.Add(-time.Hour))
	}

	active := s.CreateSubscription("tenant-a", s.starter, types.SubscriptionStatusActive, types.PaymentProviderManual, ended)
	paused := s.CreateSubscription("tenant-b", s.starter, types.SubscriptionStatusPaused, types.PaymentProviderManual, ended)
	running := s.CreateSubscription("tenant-c", s.starter, types.SubscriptionStatusActive, types.PaymentProviderManual,
		func(sub *subscription.Subscription) { sub.CancelAtPeriodEnd = true })
	renewing := s.CreateSubscription("tenant-d", s.starter, types.SubscriptionStatusActive, types.PaymentProviderManual,
		func(sub *subscription.Subscription) { sub.CurrentPeriodEnd = lo.ToPtr(now.Add(-time.Hour)) })

	resp, err := s.service.RunSweep(s.GetContext(), now)
	s.Require().NoError(err)
	s.Equal(2, resp.CancellationsApplied)

	for _, id := range []string{active.ID, paused.ID} {
		sub := s.reload(id)
		s.Equal(types.SubscriptionStatusCanceled, sub.Status)
		s.False(sub.CancelAtPeriodEnd)
		s.NotNil(sub.EndedAt)
	}
	s.Equal(types.SubscriptionStatusActive, s.reload(running.ID).Status)
	s.Equal(types.SubscriptionStatusActive, s.reload(renewing.ID).Status)

	// a second sweep finds nothing left to do
	resp, err = s.service.RunSweep(s.GetContext(), now)
	s.Require().NoError(err)
	s.Zero(resp.CancellationsApplied)
	s.Zero(resp.TrialsExpired)
	s.Zero(resp.GraceExpired)
	s.Zero(resp.PlanChangesApplied)
}
