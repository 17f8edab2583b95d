package stripe

import (
	"context"

	"github.com/pewsoft/subscriptions/internal/domain/subscription"
	ierr "github.com/pewsoft/subscriptions/internal/errors"
	"github.com/pewsoft/subscriptions/internal/integration/base"
	"github.com/pewsoft/subscriptions/internal/types"
	"github.com/stripe/stripe-go/v82"
)

// CreateCheckout opens a hosted checkout session in subscription mode. The tenant and plan are
// written into both the session and subscription metadata so every later event can be routed.
func (c *Client) CreateCheckout(ctx context.Context, req *base.CheckoutRequest) (*base.CheckoutSession, error) {
	if req.PriceRef == "" {
		return nil, ierr.NewError("plan has no stripe price").
			WithHintf("Plan %s cannot be purchased with Stripe", req.PlanCode).
			WithReportableDetails(map[string]any{
				"plan_code": req.PlanCode,
			}).
			Mark(ierr.ErrValidation)
	}

	metadata := map[string]string{
		base.MetadataTenantID: req.TenantID,
		base.MetadataPlanCode: req.PlanCode,
		base.MetadataCheckout: "true",
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode: stripe.String("subscription"),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				Price:    stripe.String(req.PriceRef),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(c.cfg.SuccessURL),
		CancelURL:         stripe.String(c.cfg.CancelURL),
		ClientReferenceID: stripe.String(req.TenantID),
		Metadata:          metadata,
		SubscriptionData: &stripe.CheckoutSessionCreateSubscriptionDataParams{
			Metadata: metadata,
		},
	}
	if req.TrialDays > 0 {
		params.SubscriptionData.TrialPeriodDays = stripe.Int64(int64(req.TrialDays))
	}
	if req.CustomerRef != "" {
		params.Customer = stripe.String(req.CustomerRef)
	} else if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	var session *stripe.CheckoutSession
	err := c.call(ctx, "checkout.create", func(ctx context.Context) error {
		var err error
		session, err = c.client.V1CheckoutSessions.Create(ctx, params)
		return err
	})
	if err != nil {
		return nil, err
	}

	c.logger.Infow("created stripe checkout session",
		"session_id", session.ID,
		"tenant_id", req.TenantID,
		"plan_code", req.PlanCode,
	)

	return &base.CheckoutSession{
		URL:       session.URL,
		Reference: session.ID,
	}, nil
}

func (c *Client) CreatePortalSession(ctx context.Context, req *base.PortalRequest) (*base.PortalSession, error) {
	if req.CustomerRef == "" {
		return nil, ierr.NewError("missing stripe customer").
			WithHint("No Stripe customer is linked to this subscription").
			Mark(ierr.ErrInvalidOperation)
	}

	returnURL := req.ReturnURL
	if returnURL == "" {
		returnURL = c.cfg.PortalReturnURL
	}

	params := &stripe.BillingPortalSessionCreateParams{
		Customer:  stripe.String(req.CustomerRef),
		ReturnURL: stripe.String(returnURL),
	}

	var session *stripe.BillingPortalSession
	err := c.call(ctx, "portal.create", func(ctx context.Context) error {
		var err error
		session, err = c.client.V1BillingPortalSessions.Create(ctx, params)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &base.PortalSession{URL: session.URL}, nil
}

func (c *Client) GetSubscription(ctx context.Context, refs subscription.ProviderRefs) (*base.RemoteSubscription, error) {
	sub, err := c.fetchSubscription(ctx, refs.SubscriptionRef)
	if err != nil {
		return nil, err
	}
	return toRemoteSubscription(sub), nil
}

// ChangeSubscriptionPlan swaps the price of the subscription's only item
func (c *Client) ChangeSubscriptionPlan(ctx context.Context, req *base.ChangePlanRequest) (*base.RemoteSubscription, error) {
	sub, err := c.fetchSubscription(ctx, req.Refs.SubscriptionRef)
	if err != nil {
		return nil, err
	}
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return nil, ierr.NewError("stripe subscription has no items").
			WithHint("The Stripe subscription cannot be changed").
			WithReportableDetails(map[string]any{
				"subscription_ref": req.Refs.SubscriptionRef,
			}).
			Mark(ierr.ErrProvider)
	}

	proration := "none"
	if req.Prorate {
		proration = "always_invoice"
	}

	params := &stripe.SubscriptionUpdateParams{
		Items: []*stripe.SubscriptionUpdateItemParams{
			{
				ID:    stripe.String(sub.Items.Data[0].ID),
				Price: stripe.String(req.PriceRef),
			},
		},
		ProrationBehavior: stripe.String(proration),
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	var updated *stripe.Subscription
	err = c.call(ctx, "subscription.change_plan", func(ctx context.Context) error {
		var err error
		updated, err = c.client.V1Subscriptions.Update(ctx, sub.ID, params)
		return err
	})
	if err != nil {
		return nil, err
	}

	return toRemoteSubscription(updated), nil
}

func (c *Client) CancelSubscription(ctx context.Context, req *base.CancelRequest) error {
	if req.AtPeriodEnd {
		return c.setCancelAtPeriodEnd(ctx, req.Refs.SubscriptionRef, true, req.IdempotencyKey)
	}

	params := &stripe.SubscriptionCancelParams{}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	return c.call(ctx, "subscription.cancel", func(ctx context.Context) error {
		_, err := c.client.V1Subscriptions.Cancel(ctx, req.Refs.SubscriptionRef, params)
		return err
	})
}

// ResumeSubscription clears a scheduled cancellation and resumes paused collection
func (c *Client) ResumeSubscription(ctx context.Context, req *base.ResumeRequest) error {
	params := &stripe.SubscriptionUpdateParams{
		CancelAtPeriodEnd: stripe.Bool(false),
	}
	// an empty value unsets pause_collection
	params.AddExtra("pause_collection", "")
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	return c.call(ctx, "subscription.resume", func(ctx context.Context) error {
		_, err := c.client.V1Subscriptions.Update(ctx, req.Refs.SubscriptionRef, params)
		return err
	})
}

func (c *Client) setCancelAtPeriodEnd(ctx context.Context, subscriptionRef string, flag bool, idempotencyKey string) error {
	params := &stripe.SubscriptionUpdateParams{
		CancelAtPeriodEnd: stripe.Bool(flag),
	}
	if idempotencyKey != "" {
		params.SetIdempotencyKey(idempotencyKey)
	}
	return c.call(ctx, "subscription.update", func(ctx context.Context) error {
		_, err := c.client.V1Subscriptions.Update(ctx, subscriptionRef, params)
		return err
	})
}

func (c *Client) fetchSubscription(ctx context.Context, subscriptionRef string) (*stripe.Subscription, error) {
	if subscriptionRef == "" {
		return nil, ierr.NewError("missing stripe subscription reference").
			WithHint("No Stripe subscription is linked to this subscription").
			Mark(ierr.ErrInvalidOperation)
	}

	var sub *stripe.Subscription
	err := c.call(ctx, "subscription.retrieve", func(ctx context.Context) error {
		var err error
		sub, err = c.client.V1Subscriptions.Retrieve(ctx, subscriptionRef, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func toRemoteSubscription(sub *stripe.Subscription) *base.RemoteSubscription {
	remote := &base.RemoteSubscription{
		Refs: subscription.ProviderRefs{
			Provider:        types.PaymentProviderStripe,
			SubscriptionRef: sub.ID,
		},
		RawStatus:         string(sub.Status),
		Status:            mapSubscriptionStatus(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		TrialEndsAt:       unixTime(sub.TrialEnd),
	}
	if sub.Customer != nil {
		remote.Refs.CustomerRef = sub.Customer.ID
	}
	if sub.Metadata != nil {
		remote.TenantID = sub.Metadata[base.MetadataTenantID]
		remote.PlanCode = sub.Metadata[base.MetadataPlanCode]
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if item.Price != nil {
			remote.Refs.PriceRef = item.Price.ID
		}
		remote.CurrentPeriodStart = unixTime(item.CurrentPeriodStart)
		remote.CurrentPeriodEnd = unixTime(item.CurrentPeriodEnd)
	}
	// paused collection keeps the stripe status active
	if sub.PauseCollection != nil && remote.Status == types.SubscriptionStatusActive {
		remote.Status = types.SubscriptionStatusPaused
	}
	return remote
}

func mapSubscriptionStatus(status stripe.SubscriptionStatus) types.SubscriptionStatus {
	switch status {
	case "trialing":
		return types.SubscriptionStatusTrialing
	case "active":
		return types.SubscriptionStatusActive
	case "past_due", "unpaid":
		return types.SubscriptionStatusPastDue
	case "paused":
		return types.SubscriptionStatusPaused
	case "canceled":
		return types.SubscriptionStatusCanceled
	case "incomplete_expired":
		return types.SubscriptionStatusExpired
	default:
		return ""
	}
}
