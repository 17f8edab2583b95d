package subscription

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pewsoft/subscriptions/internal/domain/plan"
	"github.com/pewsoft/subscriptions/internal/types"
)

// Subscription is a tenant's subscription row. History is kept as separate rows:
// a CANCELED or EXPIRED row is never moved back to a live status.
type Subscription struct {
	ID                 string                   `db:"id" json:"id"`
	TenantID           string                   `db:"tenant_id" json:"tenant_id"`
	PlanID             string                   `db:"plan_id" json:"plan_id"`
	Status             types.SubscriptionStatus `db:"status" json:"status"`
	Provider           types.PaymentProvider    `db:"provider" json:"provider"`
	StartsAt           time.Time                `db:"starts_at" json:"starts_at"`
	TrialEndsAt        *time.Time               `db:"trial_ends_at" json:"trial_ends_at,omitempty"`
	CurrentPeriodStart *time.Time               `db:"current_period_start" json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time               `db:"current_period_end" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd  bool                     `db:"cancel_at_period_end" json:"cancel_at_period_end"`
	CanceledAt         *time.Time               `db:"canceled_at" json:"canceled_at,omitempty"`
	EndedAt            *time.Time               `db:"ended_at" json:"ended_at,omitempty"`
	SeatCount          *int                     `db:"seat_count" json:"seat_count,omitempty"`

	ProviderCustomerID     *string       `db:"provider_customer_id" json:"provider_customer_id,omitempty"`
	ProviderSubscriptionID *string       `db:"provider_subscription_id" json:"provider_subscription_id,omitempty"`
	ProviderMetadata       *ProviderRefs `db:"provider_metadata" json:"provider_metadata,omitempty"`
	RawProviderPayload     types.JSONMap `db:"raw_provider_payload" json:"-"`

	PendingPlanCode    *string                    `db:"pending_plan_code" json:"pending_plan_code,omitempty"`
	PendingEffectiveAt *time.Time                 `db:"pending_effective_at" json:"pending_effective_at,omitempty"`
	PendingMode        *types.PlanChangeEffective `db:"pending_mode" json:"pending_mode,omitempty"`

	PastDueSince       *time.Time `db:"past_due_since" json:"past_due_since,omitempty"`
	LastReminderSentAt *time.Time `db:"last_reminder_sent_at" json:"last_reminder_sent_at,omitempty"`
	EverPaid           bool       `db:"ever_paid" json:"ever_paid"`
	Version            int        `db:"version" json:"version"`

	// Plan is populated by services that need it, it is not a column
	Plan *plan.Plan `db:"-" json:"plan,omitempty"`

	types.BaseModel
}

// ProviderRefs is the provider-agnostic shape both providers' identifiers are normalized into
type ProviderRefs struct {
	Provider        types.PaymentProvider `json:"provider"`
	CustomerRef     string                `json:"customer_ref,omitempty"`
	SubscriptionRef string                `json:"subscription_ref,omitempty"`
	PriceRef        string                `json:"price_ref,omitempty"`
	// EmailToken is Paystack's per-subscription token required to enable/disable it
	EmailToken string `json:"email_token,omitempty"`
}

// Scan implements the sql.Scanner interface for ProviderRefs
func (r *ProviderRefs) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("failed to unmarshal provider metadata: %v", value)
	}
	return json.Unmarshal(bytes, r)
}

// Value implements the driver.Valuer interface for ProviderRefs
func (r *ProviderRefs) Value() (driver.Value, error) {
	if r == nil {
		return nil, nil
	}
	return json.Marshal(r)
}

// IsComplete reports whether the refs identify a provider subscription
func (r *ProviderRefs) IsComplete() bool {
	return r != nil && r.SubscriptionRef != "" && r.CustomerRef != ""
}

// SetProviderRefs writes refs into both the normalized metadata and the indexed columns
func (s *Subscription) SetProviderRefs(refs ProviderRefs) {
	current := ProviderRefs{Provider: s.Provider}
	if s.ProviderMetadata != nil {
		current = *s.ProviderMetadata
	}
	if refs.Provider != "" {
		current.Provider = refs.Provider
	}
	if refs.CustomerRef != "" {
		current.CustomerRef = refs.CustomerRef
	}
	if refs.SubscriptionRef != "" {
		current.SubscriptionRef = refs.SubscriptionRef
	}
	if refs.PriceRef != "" {
		current.PriceRef = refs.PriceRef
	}
	if refs.EmailToken != "" {
		current.EmailToken = refs.EmailToken
	}
	s.ProviderMetadata = &current
	if current.CustomerRef != "" {
		s.ProviderCustomerID = &current.CustomerRef
	}
	if current.SubscriptionRef != "" {
		s.ProviderSubscriptionID = &current.SubscriptionRef
	}
}

// SubscriptionRef returns the provider subscription id, empty for manual rows
func (s *Subscription) SubscriptionRef() string {
	if s.ProviderSubscriptionID != nil {
		return *s.ProviderSubscriptionID
	}
	if s.ProviderMetadata != nil {
		return s.ProviderMetadata.SubscriptionRef
	}
	return ""
}

// CustomerRef returns the provider customer id, empty for manual rows
func (s *Subscription) CustomerRef() string {
	if s.ProviderCustomerID != nil {
		return *s.ProviderCustomerID
	}
	if s.ProviderMetadata != nil {
		return s.ProviderMetadata.CustomerRef
	}
	return ""
}

// HasPendingChange reports whether a NEXT_CYCLE change is scheduled
func (s *Subscription) HasPendingChange() bool {
	return s.PendingPlanCode != nil && *s.PendingPlanCode != ""
}

// PendingChangeDue reports whether the scheduled change should be applied at now
func (s *Subscription) PendingChangeDue(now time.Time) bool {
	return s.HasPendingChange() && s.PendingEffectiveAt != nil && !now.Before(*s.PendingEffectiveAt)
}

// SchedulePlanChange records a change applied at the end of the current period
func (s *Subscription) SchedulePlanChange(planCode string, effectiveAt time.Time) {
	mode := types.PlanChangeEffectiveNextCycle
	s.PendingPlanCode = &planCode
	s.PendingEffectiveAt = &effectiveAt
	s.PendingMode = &mode
}

// ClearPendingChange drops any scheduled change
func (s *Subscription) ClearPendingChange() {
	s.PendingPlanCode = nil
	s.PendingEffectiveAt = nil
	s.PendingMode = nil
}

// IsProviderManaged reports whether status changes come from an external billing provider
func (s *Subscription) IsProviderManaged() bool {
	return s.Provider != types.PaymentProviderManual && s.Provider != ""
}
