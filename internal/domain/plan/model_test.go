package plan

import (
	"testing"
	"time"

	ierr "github.com/pewsoft/subscriptions/internal/errors"
	"github.com/pewsoft/subscriptions/internal/types"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
)

func TestPlanPeriodEnd(t *testing.T) {
	from := time.Date(2026, 1, 31, 10, 0, 0, 0, time.UTC)

	monthly := &Plan{Interval: types.BillingIntervalMonthly}
	assert.Equal(t, from.AddDate(0, 1, 0), monthly.PeriodEnd(from))

	yearly := &Plan{Interval: types.BillingIntervalYearly}
	assert.Equal(t, time.Date(2027, 1, 31, 10, 0, 0, 0, time.UTC), yearly.PeriodEnd(from))

	custom := &Plan{Interval: types.BillingIntervalCustom, Metadata: types.Metadata{types.PlanMetadataIntervalDays: "14"}}
	assert.Equal(t, from.AddDate(0, 0, 14), custom.PeriodEnd(from))

	customDefault := &Plan{Interval: types.BillingIntervalCustom}
	assert.Equal(t, from.AddDate(0, 0, 30), customDefault.PeriodEnd(from))
}

func TestPlanTrialDays(t *testing.T) {
	assert.Equal(t, 0, (*Plan)(nil).TrialDays())
	assert.Equal(t, 0, (&Plan{}).TrialDays())
	assert.Equal(t, 14, (&Plan{Metadata: types.Metadata{types.PlanMetadataTrialDays: "14"}}).TrialDays())
	assert.Equal(t, 0, (&Plan{Metadata: types.Metadata{types.PlanMetadataTrialDays: "soon"}}).TrialDays())
	assert.Equal(t, 0, (&Plan{Metadata: types.Metadata{types.PlanMetadataTrialDays: "-3"}}).TrialDays())
}

func TestPlanProviderPriceRef(t *testing.T) {
	p := &Plan{Metadata: types.Metadata{
		types.PlanMetadataStripePriceID:    "price_pro",
		types.PlanMetadataPaystackPlanCode: "PLN_pro",
	}}
	assert.Equal(t, "price_pro", p.ProviderPriceRef(types.PaymentProviderStripe))
	assert.Equal(t, "PLN_pro", p.ProviderPriceRef(types.PaymentProviderPaystack))
	assert.Empty(t, p.ProviderPriceRef(types.PaymentProviderManual))
}

func TestPlanIsUpgradeFrom(t *testing.T) {
	starter := &Plan{PriceMinor: 1000}
	pro := &Plan{PriceMinor: 5000}
	same := &Plan{PriceMinor: 5000}

	assert.True(t, pro.IsUpgradeFrom(starter))
	assert.False(t, starter.IsUpgradeFrom(pro))
	assert.False(t, same.IsUpgradeFrom(pro))
	assert.False(t, pro.IsUpgradeFrom(nil))
}

func TestPlanValidate(t *testing.T) {
	valid := func() *Plan {
		return &Plan{
			Code:     "pro",
			Name:     "Pro",
			Currency: "USD",
			Interval: types.BillingIntervalMonthly,
			Features: []*Feature{{Key: "seats", Enabled: true, Limit: lo.ToPtr(5)}},
		}
	}

	assert.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(p *Plan)
	}{
		{"bad code", func(p *Plan) { p.Code = "Pro Plan" }},
		{"missing name", func(p *Plan) { p.Name = "" }},
		{"bad currency", func(p *Plan) { p.Currency = "US" }},
		{"bad interval", func(p *Plan) { p.Interval = "WEEKLY" }},
		{"negative price", func(p *Plan) { p.PriceMinor = -1 }},
		{"bad trial days", func(p *Plan) { p.Metadata = types.Metadata{types.PlanMetadataTrialDays: "x"} }},
		{"empty feature key", func(p *Plan) { p.Features = append(p.Features, &Feature{}) }},
		{"duplicate feature key", func(p *Plan) { p.Features = append(p.Features, &Feature{Key: "seats"}) }},
		{"negative limit", func(p *Plan) { p.Features[0].Limit = lo.ToPtr(-1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid()
			tt.mutate(p)
			err := p.Validate()
			assert.Error(t, err)
			assert.True(t, ierr.IsValidation(err))
		})
	}
}

func TestPlanFeatureLookup(t *testing.T) {
	p := &Plan{Features: []*Feature{{Key: "sso", Enabled: true}}}
	f, ok := p.Feature("sso")
	assert.True(t, ok)
	assert.True(t, f.Enabled)

	_, ok = p.Feature("missing")
	assert.False(t, ok)
}
