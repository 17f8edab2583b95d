package types

import (
	"regexp"

	ierr "github.com/pewsoft/subscriptions/internal/errors"
	"github.com/samber/lo"
)

// BillingInterval is how often a plan renews
type BillingInterval string

const (
	BillingIntervalMonthly BillingInterval = "MONTHLY"
	BillingIntervalYearly  BillingInterval = "YEARLY"
	BillingIntervalCustom  BillingInterval = "CUSTOM"
)

func (b BillingInterval) Validate() error {
	allowed := []BillingInterval{
		BillingIntervalMonthly,
		BillingIntervalYearly,
		BillingIntervalCustom,
	}
	if !lo.Contains(allowed, b) {
		return ierr.NewError("invalid billing interval").
			WithHint("Interval must be MONTHLY, YEARLY or CUSTOM").
			WithReportableDetails(map[string]any{
				"interval":       b,
				"allowed_values": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// Well known plan metadata keys
const (
	PlanMetadataTrialDays        = "trial_days"
	PlanMetadataStripePriceID    = "stripe_price_id"
	PlanMetadataPaystackPlanCode = "paystack_plan_code"
	PlanMetadataIntervalDays     = "interval_days"
)

var planCodePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// ValidatePlanCode checks the code format used as the stable plan identifier
func ValidatePlanCode(code string) error {
	if !planCodePattern.MatchString(code) {
		return ierr.NewError("invalid plan code").
			WithHintf("Plan code %q must be lowercase letters, digits, '-' or '_'", code).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// PlanFilter selects plans from the catalog
type PlanFilter struct {
	*QueryFilter

	Codes           []string `json:"codes,omitempty" form:"codes"`
	IncludeInactive bool     `json:"include_inactive,omitempty" form:"include_inactive"`
}

func NewPlanFilter() *PlanFilter {
	return &PlanFilter{QueryFilter: NewNoLimitQueryFilter()}
}
