package stripe

import (
	"context"
	"time"

	"github.com/pewsoft/subscriptions/internal/config"
	ierr "github.com/pewsoft/subscriptions/internal/errors"
	"github.com/pewsoft/subscriptions/internal/integration/base"
	"github.com/pewsoft/subscriptions/internal/logger"
	"github.com/pewsoft/subscriptions/internal/sentry"
	"github.com/pewsoft/subscriptions/internal/types"
	"github.com/stripe/stripe-go/v82"
)

// Client is the Stripe implementation of base.Provider
type Client struct {
	client *stripe.Client
	cfg    config.StripeConfig
	sentry *sentry.Service
	logger *logger.Logger
}

var _ base.Provider = (*Client)(nil)

// NewClient creates a new Stripe client
func NewClient(cfg *config.Configuration, sentry *sentry.Service, logger *logger.Logger) *Client {
	return &Client{
		client: stripe.NewClient(cfg.Stripe.SecretKey, nil),
		cfg:    cfg.Stripe,
		sentry: sentry,
		logger: logger,
	}
}

func (c *Client) Name() types.PaymentProvider {
	return types.PaymentProviderStripe
}

func (c *Client) Capabilities() base.Capabilities {
	return base.Capabilities{
		ImmediateProration: true,
		BillingPortal:      true,
		HostedCheckout:     true,
	}
}

// call bounds an outbound request by the configured timeout and records a provider span
func (c *Client) call(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	if c.cfg.SecretKey == "" {
		return ierr.NewError("stripe is not configured").
			WithHint("Stripe billing is not available").
			Mark(ierr.ErrInvalidOperation)
	}

	span, ctx := c.sentry.StartProviderSpan(ctx, "stripe", operation)
	defer func() {
		if span != nil {
			span.Finish()
		}
	}()

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	if err := fn(ctx); err != nil {
		c.logger.Errorw("stripe request failed",
			"operation", operation,
			"error", err,
		)
		return ierr.WithError(err).
			WithHint("The payment provider could not complete the request").
			WithReportableDetails(map[string]any{
				"provider":  "stripe",
				"operation": operation,
			}).
			Mark(ierr.ErrProvider)
	}
	return nil
}

func unixTime(v int64) *time.Time {
	if v == 0 {
		return nil
	}
	t := time.Unix(v, 0).UTC()
	return &t
}
