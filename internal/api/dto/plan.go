package dto

import (
	"context"
	"strconv"
	"strings"

	"github.com/pewsoft/subscriptions/internal/domain/plan"
	ierr "github.com/pewsoft/subscriptions/internal/errors"
	"github.com/pewsoft/subscriptions/internal/types"
	"github.com/pewsoft/subscriptions/internal/validator"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// UpsertPlanRequest creates the plan with the path code, or updates it if the code exists
type UpsertPlanRequest struct {
	Name        string                `json:"name" validate:"required"`
	Description string                `json:"description"`
	Currency    string                `json:"currency" validate:"required,len=3"`
	Interval    types.BillingInterval `json:"interval" validate:"required"`
	PriceMinor  int64                 `json:"price_minor" validate:"min=0"`
	IsActive    *bool                 `json:"is_active,omitempty"`
	IsDefault   bool                  `json:"is_default"`
	TrialDays   *int                  `json:"trial_days,omitempty" validate:"omitempty,min=0"`
	Metadata    types.Metadata        `json:"metadata,omitempty"`
	Features    []PlanFeatureRequest  `json:"features" validate:"dive"`
}

type PlanFeatureRequest struct {
	Key     string `json:"key" validate:"required"`
	Enabled bool   `json:"enabled"`
	Limit   *int   `json:"limit,omitempty" validate:"omitempty,min=0"`
}

func (r *UpsertPlanRequest) Validate() error {
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}
	if err := r.Interval.Validate(); err != nil {
		return err
	}

	keys := lo.Map(r.Features, func(f PlanFeatureRequest, _ int) string { return f.Key })
	if dup := lo.FindDuplicates(keys); len(dup) > 0 {
		return ierr.NewError("duplicate feature key").
			WithHintf("Feature %q is listed more than once", dup[0]).
			WithReportableDetails(map[string]any{
				"keys": dup,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// ToPlan builds the plan for code. The id is assigned by the service.
func (r *UpsertPlanRequest) ToPlan(ctx context.Context, code string) *plan.Plan {
	metadata := make(types.Metadata, len(r.Metadata)+1)
	for k, v := range r.Metadata {
		metadata[k] = v
	}
	if r.TrialDays != nil {
		metadata[types.PlanMetadataTrialDays] = strconv.Itoa(*r.TrialDays)
	}

	p := &plan.Plan{
		Code:        code,
		Name:        r.Name,
		Description: r.Description,
		Currency:    strings.ToUpper(r.Currency),
		Interval:    r.Interval,
		PriceMinor:  r.PriceMinor,
		IsActive:    lo.FromPtrOr(r.IsActive, true),
		IsDefault:   r.IsDefault,
		Metadata:    metadata,
		BaseModel:   types.GetDefaultBaseModel(ctx),
	}

	p.Features = lo.Map(r.Features, func(f PlanFeatureRequest, _ int) *plan.Feature {
		return &plan.Feature{
			Key:       f.Key,
			Enabled:   f.Enabled,
			Limit:     f.Limit,
			BaseModel: types.GetDefaultBaseModel(ctx),
		}
	})
	return p
}

type PlanResponse struct {
	*plan.Plan
	Price     decimal.Decimal `json:"price"`
	TrialDays int             `json:"trial_days"`
}

func NewPlanResponse(p *plan.Plan) *PlanResponse {
	if p.Features == nil {
		p.Features = []*plan.Feature{}
	}
	return &PlanResponse{
		Plan:      p,
		Price:     MinorToMajor(p.PriceMinor, p.Currency),
		TrialDays: p.TrialDays(),
	}
}

type ListPlansResponse = types.ListResponse[*PlanResponse]
