package plan

import (
	"strconv"
	"time"

	ierr "github.com/pewsoft/subscriptions/internal/errors"
	"github.com/pewsoft/subscriptions/internal/types"
	"github.com/samber/lo"
)

const defaultCustomIntervalDays = 30

// Plan is a catalog entry tenants subscribe to
type Plan struct {
	ID          string                `db:"id" json:"id"`
	Code        string                `db:"code" json:"code"`
	Name        string                `db:"name" json:"name"`
	Description string                `db:"description" json:"description"`
	Currency    string                `db:"currency" json:"currency"`
	Interval    types.BillingInterval `db:"interval" json:"interval"`
	PriceMinor  int64                 `db:"price_minor" json:"price_minor"`
	IsActive    bool                  `db:"is_active" json:"is_active"`
	IsDefault   bool                  `db:"is_default" json:"is_default"`
	Metadata    types.Metadata        `db:"metadata" json:"metadata"`

	// Features and AssignmentCount are loaded alongside the plan, never stored on the row
	Features        []*Feature `db:"-" json:"features"`
	AssignmentCount int        `db:"-" json:"assignment_count"`

	types.BaseModel
}

// Feature is a named boolean/limit switch granted by a plan
type Feature struct {
	ID      string `db:"id" json:"id"`
	PlanID  string `db:"plan_id" json:"plan_id"`
	Key     string `db:"key" json:"key"`
	Enabled bool   `db:"enabled" json:"enabled"`
	// Limit is nil for unlimited
	Limit *int `db:"limit_value" json:"limit,omitempty"`

	types.BaseModel
}

// TrialDays reads the trial length from metadata, zero when absent or malformed
func (p *Plan) TrialDays() int {
	if p == nil || p.Metadata == nil {
		return 0
	}
	days, err := strconv.Atoi(p.Metadata[types.PlanMetadataTrialDays])
	if err != nil || days < 0 {
		return 0
	}
	return days
}

// PeriodEnd returns the end of the billing period starting at from
func (p *Plan) PeriodEnd(from time.Time) time.Time {
	switch p.Interval {
	case types.BillingIntervalYearly:
		return from.AddDate(1, 0, 0)
	case types.BillingIntervalCustom:
		days, err := strconv.Atoi(p.Metadata[types.PlanMetadataIntervalDays])
		if err != nil || days <= 0 {
			days = defaultCustomIntervalDays
		}
		return from.AddDate(0, 0, days)
	default:
		return from.AddDate(0, 1, 0)
	}
}

// ProviderPriceRef returns the provider-side price/plan reference stored in metadata
func (p *Plan) ProviderPriceRef(provider types.PaymentProvider) string {
	switch provider {
	case types.PaymentProviderStripe:
		return p.Metadata[types.PlanMetadataStripePriceID]
	case types.PaymentProviderPaystack:
		return p.Metadata[types.PlanMetadataPaystackPlanCode]
	}
	return ""
}

// Feature returns the feature with the given key
func (p *Plan) Feature(key string) (*Feature, bool) {
	return lo.Find(p.Features, func(f *Feature) bool {
		return f.Key == key
	})
}

// IsUpgradeFrom reports whether p is strictly more expensive than current
func (p *Plan) IsUpgradeFrom(current *Plan) bool {
	return current != nil && p.PriceMinor > current.PriceMinor
}

// Validate checks the plan fields and the feature list
func (p *Plan) Validate() error {
	if err := types.ValidatePlanCode(p.Code); err != nil {
		return err
	}
	if p.Name == "" {
		return ierr.NewError("plan name is required").
			WithHint("Please provide a plan name").
			Mark(ierr.ErrValidation)
	}
	if len(p.Currency) != 3 {
		return ierr.NewError("invalid currency").
			WithHint("Currency must be a three letter ISO code").
			WithReportableDetails(map[string]any{
				"currency": p.Currency,
			}).
			Mark(ierr.ErrValidation)
	}
	if err := p.Interval.Validate(); err != nil {
		return err
	}
	if p.PriceMinor < 0 {
		return ierr.NewError("negative price").
			WithHint("Price cannot be negative").
			WithReportableDetails(map[string]any{
				"price_minor": p.PriceMinor,
			}).
			Mark(ierr.ErrValidation)
	}
	if raw, ok := p.Metadata[types.PlanMetadataTrialDays]; ok {
		if days, err := strconv.Atoi(raw); err != nil || days < 0 {
			return ierr.NewError("invalid trial days").
				WithHint("trial_days must be a non-negative integer").
				WithReportableDetails(map[string]any{
					"trial_days": raw,
				}).
				Mark(ierr.ErrValidation)
		}
	}
	return ValidateFeatures(p.Features)
}

// ValidateFeatures rejects empty keys, duplicate keys and negative limits
func ValidateFeatures(features []*Feature) error {
	seen := make(map[string]struct{}, len(features))
	for _, f := range features {
		if f.Key == "" {
			return ierr.NewError("feature key is required").
				WithHint("Every feature needs a key").
				Mark(ierr.ErrValidation)
		}
		if _, ok := seen[f.Key]; ok {
			return ierr.NewError("duplicate feature key").
				WithHintf("Feature %q is listed more than once", f.Key).
				WithReportableDetails(map[string]any{
					"key": f.Key,
				}).
				Mark(ierr.ErrValidation)
		}
		seen[f.Key] = struct{}{}
		if f.Limit != nil && *f.Limit < 0 {
			return ierr.NewError("negative feature limit").
				WithHintf("Limit for %q cannot be negative", f.Key).
				WithReportableDetails(map[string]any{
					"key":   f.Key,
					"limit": *f.Limit,
				}).
				Mark(ierr.ErrValidation)
		}
	}
	return nil
}
