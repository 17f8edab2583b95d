package types

import (
	"time"

	ierr "github.com/pewsoft/subscriptions/internal/errors"
	"github.com/samber/lo"
)

// SubscriptionStatus is the lifecycle status of a tenant subscription
type SubscriptionStatus string

const (
	SubscriptionStatusTrialing SubscriptionStatus = "TRIALING"
	SubscriptionStatusActive   SubscriptionStatus = "ACTIVE"
	SubscriptionStatusPastDue  SubscriptionStatus = "PAST_DUE"
	SubscriptionStatusPaused   SubscriptionStatus = "PAUSED"
	SubscriptionStatusCanceled SubscriptionStatus = "CANCELED"
	SubscriptionStatusExpired  SubscriptionStatus = "EXPIRED"
)

// LiveSubscriptionStatuses are the statuses a tenant may hold at most one row in
var LiveSubscriptionStatuses = []SubscriptionStatus{
	SubscriptionStatusTrialing,
	SubscriptionStatusActive,
	SubscriptionStatusPastDue,
	SubscriptionStatusPaused,
}

func (s SubscriptionStatus) String() string {
	return string(s)
}

func (s SubscriptionStatus) IsLive() bool {
	return lo.Contains(LiveSubscriptionStatuses, s)
}

func (s SubscriptionStatus) IsTerminal() bool {
	return s == SubscriptionStatusCanceled || s == SubscriptionStatusExpired
}

func (s SubscriptionStatus) Validate() error {
	allowed := []SubscriptionStatus{
		SubscriptionStatusTrialing,
		SubscriptionStatusActive,
		SubscriptionStatusPastDue,
		SubscriptionStatusPaused,
		SubscriptionStatusCanceled,
		SubscriptionStatusExpired,
	}
	if !lo.Contains(allowed, s) {
		return ierr.NewError("invalid subscription status").
			WithHint("Invalid subscription status").
			WithReportableDetails(map[string]any{
				"status":         s,
				"allowed_status": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// PlanChangeEffective controls when a plan change takes effect
type PlanChangeEffective string

const (
	PlanChangeEffectiveImmediate PlanChangeEffective = "IMMEDIATE"
	PlanChangeEffectiveNextCycle PlanChangeEffective = "NEXT_CYCLE"
)

func (e PlanChangeEffective) Validate() error {
	allowed := []PlanChangeEffective{
		PlanChangeEffectiveImmediate,
		PlanChangeEffectiveNextCycle,
	}
	if !lo.Contains(allowed, e) {
		return ierr.NewError("invalid plan change effective mode").
			WithHint("Effective must be IMMEDIATE or NEXT_CYCLE").
			WithReportableDetails(map[string]any{
				"effective":      e,
				"allowed_values": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// SubscriptionFilter selects subscription rows for sweeps and admin listings
type SubscriptionFilter struct {
	*QueryFilter

	TenantID  string               `json:"tenant_id,omitempty" form:"tenant_id"`
	Statuses  []SubscriptionStatus `json:"statuses,omitempty" form:"statuses"`
	Providers []PaymentProvider    `json:"providers,omitempty" form:"providers"`

	// ProviderCustomerRef matches rows linked to the provider customer
	ProviderCustomerRef string `json:"provider_customer_ref,omitempty"`

	// PastDueBefore matches rows whose past_due_since is strictly before the given time
	PastDueBefore *time.Time `json:"past_due_before,omitempty"`
	// ReminderDue drops rows already reminded today or since their grace window opened
	ReminderDue *ReminderWindow `json:"reminder_due,omitempty"`
	// TrialEndsBefore matches rows whose trial_ends_at is at or before the given time
	TrialEndsBefore *time.Time `json:"trial_ends_before,omitempty"`
	// PeriodEndsBefore matches rows whose current_period_end is at or before the given time
	PeriodEndsBefore *time.Time `json:"period_ends_before,omitempty"`
	// PendingChangeDueBefore matches rows with a scheduled change effective at or before the given time
	PendingChangeDueBefore *time.Time `json:"pending_change_due_before,omitempty"`

	CancelAtPeriodEnd      *bool `json:"cancel_at_period_end,omitempty"`
	MissingProviderRefs    bool  `json:"missing_provider_refs,omitempty"`
	ExcludeManualProviders bool  `json:"exclude_manual_providers,omitempty"`
}

// ReminderWindow is the per row reminder window: a row may be reminded once per UTC day
// and once per past due window, which opens GraceDays after past_due_since
type ReminderWindow struct {
	DayStart  time.Time `json:"day_start"`
	GraceDays int       `json:"grace_days"`
}

func NewSubscriptionFilter() *SubscriptionFilter {
	return &SubscriptionFilter{
		QueryFilter: NewDefaultQueryFilter(),
	}
}

func NewNoLimitSubscriptionFilter() *SubscriptionFilter {
	return &SubscriptionFilter{
		QueryFilter: NewNoLimitQueryFilter(),
	}
}

func (f *SubscriptionFilter) Validate() error {
	if f.QueryFilter != nil {
		if err := f.QueryFilter.Validate(); err != nil {
			return err
		}
	}
	for _, status := range f.Statuses {
		if err := status.Validate(); err != nil {
			return err
		}
	}
	for _, provider := range f.Providers {
		if err := provider.Validate(); err != nil {
			return err
		}
	}
	return nil
}
