package manual

import (
	"context"
	"net/http"

	"github.com/pewsoft/subscriptions/internal/domain/subscription"
	ierr "github.com/pewsoft/subscriptions/internal/errors"
	"github.com/pewsoft/subscriptions/internal/integration/base"
	"github.com/pewsoft/subscriptions/internal/logger"
	"github.com/pewsoft/subscriptions/internal/types"
)

// Client backs subscriptions assigned by an administrator. There is nothing external to call,
// so mutations succeed locally and purchase flows are refused.
type Client struct {
	logger *logger.Logger
}

var _ base.Provider = (*Client)(nil)

func NewClient(logger *logger.Logger) *Client {
	return &Client{logger: logger}
}

func (c *Client) Name() types.PaymentProvider {
	return types.PaymentProviderManual
}

func (c *Client) Capabilities() base.Capabilities {
	return base.Capabilities{}
}

func (c *Client) CreateCheckout(ctx context.Context, req *base.CheckoutRequest) (*base.CheckoutSession, error) {
	return nil, ierr.NewError("manual plans have no checkout").
		WithHint("Manual plans are assigned by an administrator").
		Mark(ierr.ErrInvalidOperation)
}

func (c *Client) CreatePortalSession(ctx context.Context, req *base.PortalRequest) (*base.PortalSession, error) {
	return nil, ierr.NewError("manual plans have no billing portal").
		WithHint("Billing portal is not available for manually assigned plans").
		Mark(ierr.ErrInvalidOperation)
}

func (c *Client) GetSubscription(ctx context.Context, refs subscription.ProviderRefs) (*base.RemoteSubscription, error) {
	return nil, ierr.NewError("manual subscriptions have no provider view").
		WithHint("Manual subscriptions cannot be synced").
		Mark(ierr.ErrInvalidOperation)
}

func (c *Client) ChangeSubscriptionPlan(ctx context.Context, req *base.ChangePlanRequest) (*base.RemoteSubscription, error) {
	c.logger.Debugw("manual plan change needs no provider call", "price_ref", req.PriceRef)
	return nil, nil
}

func (c *Client) CancelSubscription(ctx context.Context, req *base.CancelRequest) error {
	return nil
}

func (c *Client) ResumeSubscription(ctx context.Context, req *base.ResumeRequest) error {
	return nil
}

func (c *Client) ParseWebhook(ctx context.Context, payload []byte, headers http.Header) (*base.Event, error) {
	return nil, ierr.NewError("manual provider has no webhooks").
		WithHint("Unknown webhook provider").
		Mark(ierr.ErrValidation)
}
