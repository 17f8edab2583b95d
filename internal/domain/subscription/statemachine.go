package subscription

import (
	"time"

	ierr "github.com/pewsoft/subscriptions/internal/errors"
	"github.com/pewsoft/subscriptions/internal/types"
)

// Event drives a subscription status transition
type Event string

const (
	EventActivate         Event = "activate"
	EventPaymentSucceeded Event = "payment_succeeded"
	EventPaymentFailed    Event = "payment_failed"
	// EventTrialExpired closes a subscription that never produced a payment
	EventTrialExpired Event = "trial_expired"
	// EventGraceExpired closes a paid subscription whose dunning window lapsed
	EventGraceExpired Event = "grace_expired"
	EventCancel       Event = "cancel"
	EventPeriodEnded  Event = "period_ended"
	EventPause        Event = "pause"
	EventUnpause      Event = "unpause"
)

var transitions = map[types.SubscriptionStatus]map[Event]types.SubscriptionStatus{
	types.SubscriptionStatusTrialing: {
		EventActivate:         types.SubscriptionStatusActive,
		EventPaymentSucceeded: types.SubscriptionStatusActive,
		EventPaymentFailed:    types.SubscriptionStatusPastDue,
		EventTrialExpired:     types.SubscriptionStatusExpired,
		EventCancel:           types.SubscriptionStatusCanceled,
		EventPeriodEnded:      types.SubscriptionStatusCanceled,
	},
	types.SubscriptionStatusActive: {
		EventActivate:         types.SubscriptionStatusActive,
		EventPaymentSucceeded: types.SubscriptionStatusActive,
		EventPaymentFailed:    types.SubscriptionStatusPastDue,
		EventCancel:           types.SubscriptionStatusCanceled,
		EventPeriodEnded:      types.SubscriptionStatusCanceled,
		EventPause:            types.SubscriptionStatusPaused,
	},
	types.SubscriptionStatusPastDue: {
		EventActivate:         types.SubscriptionStatusActive,
		EventPaymentSucceeded: types.SubscriptionStatusActive,
		EventPaymentFailed:    types.SubscriptionStatusPastDue,
		EventTrialExpired:     types.SubscriptionStatusExpired,
		EventGraceExpired:     types.SubscriptionStatusCanceled,
		EventCancel:           types.SubscriptionStatusCanceled,
		EventPeriodEnded:      types.SubscriptionStatusCanceled,
		EventPause:            types.SubscriptionStatusPaused,
	},
	types.SubscriptionStatusPaused: {
		EventUnpause:          types.SubscriptionStatusActive,
		EventPaymentSucceeded: types.SubscriptionStatusActive,
		EventCancel:           types.SubscriptionStatusCanceled,
	},
}

// NextStatus returns the status reached from `from` on event. Terminal statuses reject
// every event with a version conflict; an event that is not legal from a live status is
// an invalid operation.
func NextStatus(from types.SubscriptionStatus, event Event) (types.SubscriptionStatus, error) {
	if from.IsTerminal() {
		return from, ierr.NewErrorf("subscription is %s", from).
			WithHintf("This subscription is already %s. Start a new subscription instead.", from).
			WithReportableDetails(map[string]any{
				"status": from,
				"event":  event,
			}).
			Mark(ierr.ErrVersionConflict)
	}

	next, ok := transitions[from][event]
	if !ok {
		return from, ierr.NewErrorf("cannot apply %s to a %s subscription", event, from).
			WithHintf("A %s subscription cannot be moved by %q", from, event).
			WithReportableDetails(map[string]any{
				"status": from,
				"event":  event,
			}).
			Mark(ierr.ErrInvalidOperation)
	}
	return next, nil
}

// CanTransition reports whether event is legal from the given status
func CanTransition(from types.SubscriptionStatus, event Event) bool {
	_, err := NextStatus(from, event)
	return err == nil
}

// Apply moves the subscription through event, updating the bookkeeping fields tied to
// the status. It returns the previous status.
func (s *Subscription) Apply(event Event, now time.Time) (types.SubscriptionStatus, error) {
	from := s.Status
	next, err := NextStatus(from, event)
	if err != nil {
		return from, err
	}

	if event == EventPaymentSucceeded {
		s.EverPaid = true
	}

	switch next {
	case types.SubscriptionStatusPastDue:
		if s.PastDueSince == nil {
			s.PastDueSince = &now
		}
	case types.SubscriptionStatusActive:
		s.PastDueSince = nil
		s.LastReminderSentAt = nil
	case types.SubscriptionStatusCanceled:
		s.CanceledAt = &now
		s.EndedAt = &now
		s.CancelAtPeriodEnd = false
		s.ClearPendingChange()
	case types.SubscriptionStatusExpired:
		s.EndedAt = &now
		s.CancelAtPeriodEnd = false
		s.ClearPendingChange()
	}

	s.Status = next
	return from, nil
}
