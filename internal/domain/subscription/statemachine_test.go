package subscription

import (
	"testing"
	"time"

	ierr "github.com/pewsoft/subscriptions/internal/errors"
	"github.com/pewsoft/subscriptions/internal/types"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextStatus(t *testing.T) {
	tests := []struct {
		name    string
		from    types.SubscriptionStatus
		event   Event
		want    types.SubscriptionStatus
		wantErr func(error) bool
	}{
		{"trial converts on payment", types.SubscriptionStatusTrialing, EventPaymentSucceeded, types.SubscriptionStatusActive, nil},
		{"trial payment failure goes past due", types.SubscriptionStatusTrialing, EventPaymentFailed, types.SubscriptionStatusPastDue, nil},
		{"trial expires", types.SubscriptionStatusTrialing, EventTrialExpired, types.SubscriptionStatusExpired, nil},
		{"trial can be canceled", types.SubscriptionStatusTrialing, EventCancel, types.SubscriptionStatusCanceled, nil},
		{"active renews in place", types.SubscriptionStatusActive, EventPaymentSucceeded, types.SubscriptionStatusActive, nil},
		{"active goes past due", types.SubscriptionStatusActive, EventPaymentFailed, types.SubscriptionStatusPastDue, nil},
		{"active pauses", types.SubscriptionStatusActive, EventPause, types.SubscriptionStatusPaused, nil},
		{"active period ends", types.SubscriptionStatusActive, EventPeriodEnded, types.SubscriptionStatusCanceled, nil},
		{"past due recovers", types.SubscriptionStatusPastDue, EventPaymentSucceeded, types.SubscriptionStatusActive, nil},
		{"past due grace lapses", types.SubscriptionStatusPastDue, EventGraceExpired, types.SubscriptionStatusCanceled, nil},
		{"past due never paid expires", types.SubscriptionStatusPastDue, EventTrialExpired, types.SubscriptionStatusExpired, nil},
		{"paused resumes", types.SubscriptionStatusPaused, EventUnpause, types.SubscriptionStatusActive, nil},
		{"paused payment resumes", types.SubscriptionStatusPaused, EventPaymentSucceeded, types.SubscriptionStatusActive, nil},
		{"active cannot expire a trial", types.SubscriptionStatusActive, EventTrialExpired, types.SubscriptionStatusActive, ierr.IsInvalidOperation},
		{"active cannot unpause", types.SubscriptionStatusActive, EventUnpause, types.SubscriptionStatusActive, ierr.IsInvalidOperation},
		{"trial cannot pause", types.SubscriptionStatusTrialing, EventPause, types.SubscriptionStatusTrialing, ierr.IsInvalidOperation},
		{"paused cannot fail payment", types.SubscriptionStatusPaused, EventPaymentFailed, types.SubscriptionStatusPaused, ierr.IsInvalidOperation},
		{"canceled is terminal", types.SubscriptionStatusCanceled, EventActivate, types.SubscriptionStatusCanceled, ierr.IsVersionConflict},
		{"expired is terminal", types.SubscriptionStatusExpired, EventPaymentSucceeded, types.SubscriptionStatusExpired, ierr.IsVersionConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextStatus(tt.from, tt.event)
			assert.Equal(t, tt.want, got)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, tt.wantErr(err), "unexpected error kind: %v", err)
				assert.False(t, CanTransition(tt.from, tt.event))
				return
			}
			require.NoError(t, err)
			assert.True(t, CanTransition(tt.from, tt.event))
		})
	}
}

func TestTerminalStatusesRejectEveryEvent(t *testing.T) {
	events := []Event{
		EventActivate, EventPaymentSucceeded, EventPaymentFailed, EventTrialExpired,
		EventGraceExpired, EventCancel, EventPeriodEnded, EventPause, EventUnpause,
	}
	for _, status := range []types.SubscriptionStatus{types.SubscriptionStatusCanceled, types.SubscriptionStatusExpired} {
		for _, event := range events {
			_, err := NextStatus(status, event)
			assert.True(t, ierr.IsVersionConflict(err), "%s/%s", status, event)
		}
	}
}

func TestApply(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("payment failure stamps past due once", func(t *testing.T) {
		sub := &Subscription{Status: types.SubscriptionStatusActive}
		from, err := sub.Apply(EventPaymentFailed, now)
		require.NoError(t, err)
		assert.Equal(t, types.SubscriptionStatusActive, from)
		assert.Equal(t, types.SubscriptionStatusPastDue, sub.Status)
		require.NotNil(t, sub.PastDueSince)
		assert.Equal(t, now, *sub.PastDueSince)

		later := now.Add(48 * time.Hour)
		_, err = sub.Apply(EventPaymentFailed, later)
		require.NoError(t, err)
		assert.Equal(t, now, *sub.PastDueSince)
	})

	t.Run("recovery clears dunning state", func(t *testing.T) {
		sub := &Subscription{
			Status:             types.SubscriptionStatusPastDue,
			PastDueSince:       lo.ToPtr(now.Add(-96 * time.Hour)),
			LastReminderSentAt: lo.ToPtr(now.Add(-time.Hour)),
		}
		_, err := sub.Apply(EventPaymentSucceeded, now)
		require.NoError(t, err)
		assert.Equal(t, types.SubscriptionStatusActive, sub.Status)
		assert.Nil(t, sub.PastDueSince)
		assert.Nil(t, sub.LastReminderSentAt)
		assert.True(t, sub.EverPaid)
	})

	t.Run("cancel closes the row", func(t *testing.T) {
		sub := &Subscription{Status: types.SubscriptionStatusActive, CancelAtPeriodEnd: true}
		sub.SchedulePlanChange("pro", now.AddDate(0, 1, 0))

		_, err := sub.Apply(EventCancel, now)
		require.NoError(t, err)
		assert.Equal(t, types.SubscriptionStatusCanceled, sub.Status)
		assert.Equal(t, now, *sub.CanceledAt)
		assert.Equal(t, now, *sub.EndedAt)
		assert.False(t, sub.CancelAtPeriodEnd)
		assert.False(t, sub.HasPendingChange())
	})

	t.Run("trial expiry ends without cancel stamp", func(t *testing.T) {
		sub := &Subscription{Status: types.SubscriptionStatusTrialing}
		_, err := sub.Apply(EventTrialExpired, now)
		require.NoError(t, err)
		assert.Equal(t, types.SubscriptionStatusExpired, sub.Status)
		assert.Nil(t, sub.CanceledAt)
		assert.Equal(t, now, *sub.EndedAt)
		assert.False(t, sub.EverPaid)
	})

	t.Run("illegal event leaves the row untouched", func(t *testing.T) {
		sub := &Subscription{Status: types.SubscriptionStatusCanceled, EndedAt: lo.ToPtr(now)}
		from, err := sub.Apply(EventActivate, now.Add(time.Hour))
		require.Error(t, err)
		assert.Equal(t, types.SubscriptionStatusCanceled, from)
		assert.Equal(t, types.SubscriptionStatusCanceled, sub.Status)
		assert.Equal(t, now, *sub.EndedAt)
	})
}

func TestPendingChange(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	sub := &Subscription{Status: types.SubscriptionStatusActive}
	assert.False(t, sub.HasPendingChange())
	assert.False(t, sub.PendingChangeDue(now))

	sub.SchedulePlanChange("starter", now.Add(24*time.Hour))
	assert.True(t, sub.HasPendingChange())
	assert.Equal(t, types.PlanChangeEffectiveNextCycle, *sub.PendingMode)
	assert.False(t, sub.PendingChangeDue(now))
	assert.True(t, sub.PendingChangeDue(now.Add(24*time.Hour)))

	sub.ClearPendingChange()
	assert.False(t, sub.HasPendingChange())
	assert.Nil(t, sub.PendingEffectiveAt)
}

func TestSetProviderRefs(t *testing.T) {
	sub := &Subscription{Provider: types.PaymentProviderStripe}
	assert.Empty(t, sub.SubscriptionRef())
	assert.True(t, sub.IsProviderManaged())

	sub.SetProviderRefs(ProviderRefs{CustomerRef: "cus_1"})
	sub.SetProviderRefs(ProviderRefs{SubscriptionRef: "sub_1", PriceRef: "price_pro"})

	assert.Equal(t, "cus_1", sub.CustomerRef())
	assert.Equal(t, "sub_1", sub.SubscriptionRef())
	require.NotNil(t, sub.ProviderMetadata)
	assert.Equal(t, types.PaymentProviderStripe, sub.ProviderMetadata.Provider)
	assert.Equal(t, "price_pro", sub.ProviderMetadata.PriceRef)
	assert.True(t, sub.ProviderMetadata.IsComplete())

	manual := &Subscription{Provider: types.PaymentProviderManual}
	assert.False(t, manual.IsProviderManaged())
}
