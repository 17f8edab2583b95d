package dto

import (
	"time"

	"github.com/pewsoft/subscriptions/internal/domain/subscription"
	ierr "github.com/pewsoft/subscriptions/internal/errors"
	"github.com/pewsoft/subscriptions/internal/types"
	"github.com/pewsoft/subscriptions/internal/validator"
)

// AssignPlanRequest is the admin action that puts a tenant on a plan
type AssignPlanRequest struct {
	PlanCode  string                   `json:"plan_code" validate:"required,plancode"`
	Status    types.SubscriptionStatus `json:"status,omitempty"`
	Provider  types.PaymentProvider    `json:"provider,omitempty"`
	SeatCount *int                     `json:"seat_count,omitempty" validate:"omitempty,min=1"`
	Reason    string                   `json:"reason,omitempty"`
	// CurrentPeriodEnd overrides the period derived from the plan interval
	CurrentPeriodEnd *time.Time `json:"current_period_end,omitempty"`
}

func (r *AssignPlanRequest) Validate() error {
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}
	if r.Provider == "" {
		r.Provider = types.PaymentProviderManual
	}
	if err := r.Provider.Validate(); err != nil {
		return err
	}
	if r.Status != "" {
		if err := r.Status.Validate(); err != nil {
			return err
		}
		if !r.Status.IsLive() {
			return ierr.NewError("assigned status must be live").
				WithHint("A plan can only be assigned as TRIALING, ACTIVE, PAST_DUE or PAUSED").
				WithReportableDetails(map[string]any{
					"status": r.Status,
				}).
				Mark(ierr.ErrValidation)
		}
	}
	return nil
}

type ChangePlanRequest struct {
	PlanCode  string                    `json:"plan_code" validate:"required,plancode"`
	Effective types.PlanChangeEffective `json:"effective" validate:"required"`
}

func (r *ChangePlanRequest) Validate() error {
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}
	return r.Effective.Validate()
}

type CancelSubscriptionRequest struct {
	AtPeriodEnd bool   `json:"at_period_end"`
	Reason      string `json:"reason,omitempty"`
}

type CheckoutRequest struct {
	PlanCode      string                `json:"plan_code" validate:"required,plancode"`
	Provider      types.PaymentProvider `json:"provider" validate:"required"`
	CustomerEmail string                `json:"customer_email,omitempty" validate:"omitempty,email"`
}

func (r *CheckoutRequest) Validate() error {
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}
	return r.Provider.Validate()
}

type CheckoutResponse struct {
	Provider  types.PaymentProvider `json:"provider"`
	URL       string                `json:"url"`
	Reference string                `json:"reference,omitempty"`
}

type PortalRequest struct {
	ReturnURL string `json:"return_url,omitempty" validate:"omitempty,url"`
}

type PortalResponse struct {
	URL string `json:"url"`
}

type SubscriptionResponse struct {
	*subscription.Subscription
	Plan *PlanResponse `json:"plan,omitempty"`
}

func NewSubscriptionResponse(sub *subscription.Subscription) *SubscriptionResponse {
	resp := &SubscriptionResponse{Subscription: sub}
	if sub.Plan != nil {
		resp.Plan = NewPlanResponse(sub.Plan)
	}
	return resp
}

// CurrentSubscriptionResponse carries a nil subscription when the tenant has no live row
type CurrentSubscriptionResponse struct {
	Subscription *SubscriptionResponse `json:"subscription"`
}

type ChangePlanResponse struct {
	Subscription *SubscriptionResponse     `json:"subscription"`
	Effective    types.PlanChangeEffective `json:"effective"`
	// Applied is false when the change was only scheduled
	Applied     bool       `json:"applied"`
	EffectiveAt *time.Time `json:"effective_at,omitempty"`
}
