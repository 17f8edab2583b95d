package paystack

import (
	"context"
	"net/url"
	"strings"

	"github.com/pewsoft/subscriptions/internal/domain/subscription"
	ierr "github.com/pewsoft/subscriptions/internal/errors"
	"github.com/pewsoft/subscriptions/internal/integration/base"
	"github.com/pewsoft/subscriptions/internal/types"
)

// CreateCheckout initializes a transaction against the Paystack plan. Paying it creates the
// Paystack subscription; the tenant is carried in the transaction metadata.
func (c *Client) CreateCheckout(ctx context.Context, req *base.CheckoutRequest) (*base.CheckoutSession, error) {
	if req.PriceRef == "" {
		return nil, ierr.NewError("plan has no paystack plan code").
			WithHintf("Plan %s cannot be purchased with Paystack", req.PlanCode).
			WithReportableDetails(map[string]any{
				"plan_code": req.PlanCode,
			}).
			Mark(ierr.ErrValidation)
	}
	if req.CustomerEmail == "" {
		return nil, ierr.NewError("missing customer email").
			WithHint("An email address is required to pay with Paystack").
			Mark(ierr.ErrValidation)
	}

	body := &initializeTransactionRequest{
		Email:       req.CustomerEmail,
		Amount:      req.AmountMinor,
		Plan:        req.PriceRef,
		CallbackURL: c.cfg.CallbackURL,
		Metadata: metadata{
			base.MetadataTenantID: req.TenantID,
			base.MetadataPlanCode: req.PlanCode,
			base.MetadataCheckout: "true",
		},
	}

	var resp initializeTransactionResponse
	if err := c.post(ctx, "transaction.initialize", "/transaction/initialize", body, &resp); err != nil {
		return nil, err
	}

	c.logger.Infow("initialized paystack checkout",
		"reference", resp.Reference,
		"tenant_id", req.TenantID,
		"plan_code", req.PlanCode,
	)

	return &base.CheckoutSession{
		URL:       resp.AuthorizationURL,
		Reference: resp.Reference,
	}, nil
}

func (c *Client) CreatePortalSession(ctx context.Context, req *base.PortalRequest) (*base.PortalSession, error) {
	return nil, ierr.NewError("paystack has no billing portal").
		WithHint("Billing portal is not available for Paystack subscriptions").
		Mark(ierr.ErrInvalidOperation)
}

func (c *Client) GetSubscription(ctx context.Context, refs subscription.ProviderRefs) (*base.RemoteSubscription, error) {
	if refs.SubscriptionRef == "" {
		return nil, ierr.NewError("missing paystack subscription code").
			WithHint("No Paystack subscription is linked to this subscription").
			Mark(ierr.ErrInvalidOperation)
	}

	var data subscriptionData
	if err := c.get(ctx, "subscription.fetch", "/subscription/"+url.PathEscape(refs.SubscriptionRef), &data); err != nil {
		return nil, err
	}
	return toRemoteSubscription(&data), nil
}

// ChangeSubscriptionPlan creates a subscription on the new plan for the same customer and
// disables the old one. Paystack cannot move an existing subscription between plans.
func (c *Client) ChangeSubscriptionPlan(ctx context.Context, req *base.ChangePlanRequest) (*base.RemoteSubscription, error) {
	if req.Prorate {
		return nil, ierr.NewError("paystack does not prorate plan changes").
			WithHint("Paystack plan changes take effect at the next billing cycle").
			Mark(ierr.ErrInvalidOperation)
	}
	if req.Refs.CustomerRef == "" || req.PriceRef == "" {
		return nil, ierr.NewError("missing paystack customer or plan code").
			WithHint("The Paystack subscription cannot be changed").
			WithReportableDetails(map[string]any{
				"customer_ref": req.Refs.CustomerRef,
				"price_ref":    req.PriceRef,
			}).
			Mark(ierr.ErrInvalidOperation)
	}

	var created createSubscriptionResponse
	body := &createSubscriptionRequest{
		Customer: req.Refs.CustomerRef,
		Plan:     req.PriceRef,
	}
	if err := c.post(ctx, "subscription.create", "/subscription", body, &created); err != nil {
		return nil, err
	}

	if req.Refs.SubscriptionRef != "" {
		if err := c.disable(ctx, req.Refs); err != nil {
			c.logger.Errorw("failed to disable replaced paystack subscription",
				"error", err,
				"subscription_ref", req.Refs.SubscriptionRef,
				"replacement_ref", created.SubscriptionCode,
			)
			return nil, err
		}
	}

	status, cancelAtPeriodEnd := mapSubscriptionStatus(created.Status)
	return &base.RemoteSubscription{
		Refs: subscription.ProviderRefs{
			Provider:        types.PaymentProviderPaystack,
			CustomerRef:     req.Refs.CustomerRef,
			SubscriptionRef: created.SubscriptionCode,
			PriceRef:        req.PriceRef,
			EmailToken:      created.EmailToken,
		},
		RawStatus:         created.Status,
		Status:            status,
		CurrentPeriodEnd:  created.NextPaymentDate,
		CancelAtPeriodEnd: cancelAtPeriodEnd,
	}, nil
}

// CancelSubscription disables renewal. Paystack has no immediate cancellation with refund, so
// both modes stop future charges and the local row decides when access ends.
func (c *Client) CancelSubscription(ctx context.Context, req *base.CancelRequest) error {
	return c.disable(ctx, req.Refs)
}

func (c *Client) ResumeSubscription(ctx context.Context, req *base.ResumeRequest) error {
	if err := validateToggle(req.Refs); err != nil {
		return err
	}
	body := &toggleSubscriptionRequest{
		Code:  req.Refs.SubscriptionRef,
		Token: req.Refs.EmailToken,
	}
	return c.post(ctx, "subscription.enable", "/subscription/enable", body, nil)
}

func (c *Client) disable(ctx context.Context, refs subscription.ProviderRefs) error {
	if err := validateToggle(refs); err != nil {
		return err
	}
	body := &toggleSubscriptionRequest{
		Code:  refs.SubscriptionRef,
		Token: refs.EmailToken,
	}
	return c.post(ctx, "subscription.disable", "/subscription/disable", body, nil)
}

func validateToggle(refs subscription.ProviderRefs) error {
	if refs.SubscriptionRef == "" || refs.EmailToken == "" {
		return ierr.NewError("missing paystack subscription code or email token").
			WithHint("The Paystack subscription is not fully linked yet").
			WithReportableDetails(map[string]any{
				"subscription_ref": refs.SubscriptionRef,
				"has_email_token":  refs.EmailToken != "",
			}).
			Mark(ierr.ErrInvalidOperation)
	}
	return nil
}

func toRemoteSubscription(data *subscriptionData) *base.RemoteSubscription {
	status, cancelAtPeriodEnd := mapSubscriptionStatus(data.Status)
	return &base.RemoteSubscription{
		Refs: subscription.ProviderRefs{
			Provider:        types.PaymentProviderPaystack,
			CustomerRef:     data.Customer.CustomerCode,
			SubscriptionRef: data.SubscriptionCode,
			PriceRef:        data.Plan.PlanCode,
			EmailToken:      data.EmailToken,
		},
		TenantID:          data.Customer.Metadata.String(base.MetadataTenantID),
		RawStatus:         data.Status,
		Status:            status,
		CurrentPeriodEnd:  data.NextPaymentDate,
		CancelAtPeriodEnd: cancelAtPeriodEnd,
	}
}

// mapSubscriptionStatus also reports whether the subscription will not renew
func mapSubscriptionStatus(status string) (types.SubscriptionStatus, bool) {
	switch strings.ToLower(status) {
	case "active":
		return types.SubscriptionStatusActive, false
	case "non-renewing":
		return types.SubscriptionStatusActive, true
	case "attention":
		return types.SubscriptionStatusPastDue, false
	case "completed", "cancelled", "canceled", "complete":
		return types.SubscriptionStatusCanceled, false
	default:
		return "", false
	}
}
